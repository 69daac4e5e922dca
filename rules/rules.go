package rules

import (
	"context"
	"fmt"
)

// Rule is one node of a rule tree: Text, Filter or List.
type Rule interface {
	rule()
}

// Text emits Literal without extracting anything from the input. A list
// literal is treated as several literals.
type Text struct {
	Literal any
	Payload Payload
}

// Filter extracts the values matched by Path and applies Payload to them.
// The path "@" selects the input itself.
type Filter struct {
	Path    string
	Payload Payload
}

// List evaluates every sub-rule against the same input and merges their
// results under one output key.
type List []Rule

func (Text) rule()   {}
func (Filter) rule() {}
func (List) rule()   {}

// Entry binds an output key to a rule.
type Entry struct {
	Key  string
	Rule Rule
}

// Set is an ordered rule tree. Entries are evaluated in slice order.
type Set []Entry

// Add returns s with key bound to r appended.
func (s Set) Add(key string, r Rule) Set {
	return append(s, Entry{Key: key, Rule: r})
}

// Keys returns the output keys in evaluation order.
func (s Set) Keys() []string {
	keys := make([]string, len(s))
	for i, e := range s {
		keys[i] = e.Key
	}
	return keys
}

// Payload transforms extracted values. A nil Payload is the identity.
type Payload interface {
	payload()
}

// Lookup substitutes each scalar by its entry in the table. Scalars are
// matched by their text form; values without an entry are dropped.
type Lookup map[string]any

// Suffix appends its text to every terminal scalar, recursing through lists
// and maps. Non-string scalars are converted to text first.
type Suffix string

// Sequence applies payloads left to right, each consuming the previous
// stage's output.
type Sequence []Payload

func (Lookup) payload()    {}
func (Suffix) payload()    {}
func (Sequence) payload()  {}
func (*Callable) payload() {}

// CallFunc is the signature every callable is reduced to. opts is nil for
// callables that do not take options.
type CallFunc func(ctx context.Context, v any, opts map[string]any) (any, error)

// Callable is a user-supplied transform. Its calling convention is fixed
// when it is constructed:
//
//   - NeedsOptions: the rule options (without "_" prefixed keys) are passed
//   - Batch: invoked once with the whole value list instead of per element
type Callable struct {
	Name         string
	NeedsOptions bool
	Batch        bool
	Fn           CallFunc
}

// Func1 wraps a per-element transform that takes only the value.
func Func1(name string, fn func(v any) (any, error)) *Callable {
	return &Callable{
		Name: name,
		Fn: func(_ context.Context, v any, _ map[string]any) (any, error) {
			return fn(v)
		},
	}
}

// Func2 wraps a per-element transform that also receives the rule options.
func Func2(name string, fn func(v any, opts map[string]any) (any, error)) *Callable {
	return &Callable{
		Name:         name,
		NeedsOptions: true,
		Fn: func(_ context.Context, v any, opts map[string]any) (any, error) {
			return fn(v, opts)
		},
	}
}

// BatchFunc wraps a transform invoked once with the full value list.
func BatchFunc(name string, fn func(values []any, opts map[string]any) (any, error)) *Callable {
	return &Callable{
		Name:         name,
		NeedsOptions: true,
		Batch:        true,
		Fn: func(_ context.Context, v any, opts map[string]any) (any, error) {
			list, _ := v.([]any)
			return fn(list, opts)
		},
	}
}

func (c *Callable) String() string {
	if c == nil || c.Name == "" {
		return "callable"
	}
	return fmt.Sprintf("callable(%s)", c.Name)
}

// Funcs is a registry of named callables referenced from rule files.
type Funcs map[string]*Callable
