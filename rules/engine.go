package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/extract"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/record"
	"github.com/c360/datacollector/value"
)

// Option flags controlling the shape of a rule's final value.
const (
	OptNoArrayWithOneLiteral = "_no_array_with_one_literal"
	OptNoArrayWithOneElement = "_no_array_with_one_element"
)

// Engine evaluates rule sets against decoded input.
type Engine struct {
	extractor extract.Extractor
	logger    *slog.Logger
	metrics   *engineMetrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithExtractor replaces the JSONPath extractor.
func WithExtractor(x extract.Extractor) EngineOption {
	return func(e *Engine) {
		if x != nil {
			e.extractor = x
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables evaluation metrics. A nil registry leaves them off.
func WithMetrics(registry *metric.MetricsRegistry) EngineOption {
	return func(e *Engine) {
		e.metrics = newEngineMetrics(registry, e.logger)
	}
}

// NewEngine returns an engine using extract.Default unless overridden.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		extractor: extract.Default,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Run evaluates set with the default engine.
func Run(ctx context.Context, set Set, input any, out *record.Record, options map[string]any) (*record.Record, error) {
	return defaultEngine.Run(ctx, set, input, out, options)
}

// Run evaluates every entry of set against input and writes the results into
// out, which is created when nil. Entries yielding nil or an empty list are
// not written. The first failing entry aborts the run with a
// *errors.RuleEvaluationError; entries written before it stay in out.
func (e *Engine) Run(ctx context.Context, set Set, input any, out *record.Record, options map[string]any) (*record.Record, error) {
	start := time.Now()
	if out == nil {
		out = record.New()
	}
	input = value.Normalize(input)

	var err error
	defer func() { e.metrics.observe(start, err) }()

	for _, entry := range set {
		if err = ctx.Err(); err != nil {
			return out, &errors.RuleEvaluationError{Key: entry.Key, Err: err}
		}

		var result any
		result, err = e.evaluate(ctx, entry.Rule, input, options)
		if err != nil {
			e.logger.Debug("rule evaluation failed", "key", entry.Key, "error", err)
			err = &errors.RuleEvaluationError{Key: entry.Key, Err: err}
			return out, err
		}
		if suppressed(result) {
			continue
		}
		out.Set(entry.Key, result)
	}
	return out, nil
}

func suppressed(v any) bool {
	if v == nil {
		return true
	}
	list, ok := v.([]any)
	return ok && len(list) == 0
}

func (e *Engine) evaluate(ctx context.Context, r Rule, input any, options map[string]any) (any, error) {
	switch rule := r.(type) {
	case List:
		return e.evaluateList(ctx, rule, input, options)
	case Text:
		values, err := e.applyPayload(ctx, value.Normalize(rule.Literal), rule.Payload, options)
		if err != nil {
			return nil, err
		}
		return collapse(values, options), nil
	case *Text:
		return e.evaluate(ctx, *rule, input, options)
	case Filter:
		selected, err := e.filter(input, rule.Path)
		if err != nil || selected == nil {
			return nil, err
		}
		values, err := e.applyPayload(ctx, selected, rule.Payload, options)
		if err != nil {
			return nil, err
		}
		return collapse(values, options), nil
	case *Filter:
		return e.evaluate(ctx, *rule, input, options)
	case nil:
		return nil, fmt.Errorf("empty rule")
	default:
		return nil, fmt.Errorf("unsupported rule type %T", r)
	}
}

func (e *Engine) evaluateList(ctx context.Context, list List, input any, options map[string]any) (any, error) {
	var results []any
	for _, sub := range list {
		v, err := e.evaluate(ctx, sub, input, options)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	merged := make([]any, 0, len(results))
	for _, r := range results {
		merged = append(merged, value.AsList(r)...)
	}
	return merged, nil
}

// filter returns the values selected by path, or nil when the input holds
// nothing to select from.
func (e *Engine) filter(input any, path string) (any, error) {
	if value.IsEmpty(input) {
		return nil, nil
	}
	p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(path), extract.PathPrefix))
	if p == extract.SelfPath || p == "$" {
		return input, nil
	}
	matches, err := e.extractor.Extract(input, p)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []any{}
	}
	return matches, nil
}

// applyPayload runs payload over values and returns the resulting list,
// flattened one level and without nils.
func (e *Engine) applyPayload(ctx context.Context, values any, payload Payload, options map[string]any) ([]any, error) {
	if values == nil {
		return nil, nil
	}
	in := value.AsList(values)

	var out []any
	switch p := payload.(type) {
	case nil:
		out = in
	case Lookup:
		out = lookup(p, in)
	case Suffix:
		out = make([]any, 0, len(in))
		for _, v := range in {
			out = append(out, suffix(v, string(p)))
		}
	case *Callable:
		var err error
		out, err = call(ctx, p, in, options)
		if err != nil {
			return nil, err
		}
	case Sequence:
		out = in
		for _, stage := range p {
			next, err := e.applyPayload(ctx, out, stage, options)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, nil
			}
			out = next
		}
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
	return value.Compact(value.Flatten1(value.Compact(out))), nil
}

func lookup(table Lookup, in []any) []any {
	out := make([]any, 0, len(in))
	for _, v := range in {
		if !value.IsScalar(v) || v == nil {
			continue
		}
		if hit, ok := table[value.String(v)]; ok {
			out = append(out, value.Normalize(hit))
		}
	}
	return out
}

func suffix(v any, s string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t + s
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = suffix(item, s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = suffix(item, s)
		}
		return out
	default:
		return value.String(t) + s
	}
}

func call(ctx context.Context, c *Callable, in []any, options map[string]any) (out []any, err error) {
	if c == nil || c.Fn == nil {
		return nil, fmt.Errorf("%s has no function", c)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s: %w", c, errors.Recover(r))
		}
	}()

	var opts map[string]any
	if c.NeedsOptions {
		opts = callableOptions(options)
	}

	if c.Batch {
		r, err := c.Fn(ctx, in, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		return value.AsList(value.Normalize(r)), nil
	}

	out = make([]any, 0, len(in))
	for _, v := range in {
		r, err := c.Fn(ctx, v, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		out = append(out, value.Normalize(r))
	}
	return out, nil
}

// callableOptions drops the engine's own "_" prefixed flags.
func callableOptions(options map[string]any) map[string]any {
	out := make(map[string]any, len(options))
	for k, v := range options {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// collapse unwraps singleton lists as requested by the shape flags.
func collapse(values []any, options map[string]any) any {
	if values == nil {
		return nil
	}
	var result any = values
	if flag(options, OptNoArrayWithOneLiteral) {
		if list, ok := result.([]any); ok && len(list) == 1 && !value.IsContainer(list[0]) {
			result = list[0]
		}
	}
	if flag(options, OptNoArrayWithOneElement) {
		if list, ok := result.([]any); ok && len(list) == 1 {
			result = list[0]
		}
	}
	return result
}

// flag reads a boolean option under its "_" prefixed name or its bare alias.
func flag(options map[string]any, name string) bool {
	for _, key := range []string{name, strings.TrimPrefix(name, "_")} {
		switch v := options[key].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if strings.EqualFold(v, "true") {
				return true
			}
		}
	}
	return false
}
