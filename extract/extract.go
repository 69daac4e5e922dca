// Package extract provides path-query extraction over decoded values.
//
// The rule engine depends only on the Extractor interface. JSONPath is the
// default implementation, backed by github.com/ohler55/ojg/jp. Compiled
// expressions are cached because the same rule tree is evaluated against
// every incoming message.
package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ohler55/ojg/jp"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/value"
)

// SelfPath is the reserved path meaning "the input itself".
const SelfPath = "@"

// PathPrefix may precede a path expression and is stripped before evaluation.
const PathPrefix = "json_path:"

// Extractor returns the values matched by path inside data. No match is an
// empty result, not an error. A malformed path is an error.
type Extractor interface {
	Extract(data any, path string) ([]any, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(data any, path string) ([]any, error)

// Extract calls f(data, path).
func (f ExtractorFunc) Extract(data any, path string) ([]any, error) {
	return f(data, path)
}

// JSONPath evaluates JSONPath expressions.
type JSONPath struct {
	mu    sync.RWMutex
	cache map[string]jp.Expr
}

// NewJSONPath returns a JSONPath extractor with an empty expression cache.
func NewJSONPath() *JSONPath {
	return &JSONPath{cache: make(map[string]jp.Expr)}
}

// Default is the shared JSONPath extractor.
var Default = NewJSONPath()

// Extract evaluates path against data.
//
// Nil data and empty containers yield no values. A string input is returned
// unchanged whatever the path, so rules can be applied directly to a scalar
// payload. When the result holds a single list, that list is returned in its
// place.
func (j *JSONPath) Extract(data any, path string) ([]any, error) {
	path = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(path), PathPrefix))

	if value.IsEmpty(data) {
		return nil, nil
	}
	if s, ok := data.(string); ok {
		return []any{s}, nil
	}

	var matches []any
	if path == SelfPath || path == "$" {
		matches = []any{data}
	} else {
		expr, err := j.compile(path)
		if err != nil {
			return nil, err
		}
		matches = expr.Get(data)
	}

	if len(matches) == 1 {
		if list, ok := matches[0].([]any); ok {
			return list, nil
		}
	}
	return matches, nil
}

func (j *JSONPath) compile(path string) (jp.Expr, error) {
	j.mu.RLock()
	expr, ok := j.cache[path]
	j.mu.RUnlock()
	if ok {
		return expr, nil
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%q: %w", path, err), "JSONPath", "Extract", "parse path")
	}

	j.mu.Lock()
	j.cache[path] = expr
	j.mu.Unlock()
	return expr, nil
}
