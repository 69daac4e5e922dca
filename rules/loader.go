package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/value"
)

// Compiler builds a callable from inline source, for example a JavaScript
// function or a CEL expression.
type Compiler func(name, source string) (*Callable, error)

// Loader parses rule files. Document key order becomes evaluation order.
type Loader struct {
	funcs     Funcs
	compilers map[string]Compiler
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFuncs makes Go callables available to rule files as {func: name}.
func WithFuncs(funcs Funcs) LoaderOption {
	return func(l *Loader) {
		for name, fn := range funcs {
			l.funcs[name] = fn
		}
	}
}

// WithCompiler registers a compiler for payloads of the form {kind: source}.
func WithCompiler(kind string, c Compiler) LoaderOption {
	return func(l *Loader) {
		l.compilers[kind] = c
	}
}

// NewLoader returns a loader with the given callables and compilers.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		funcs:     make(Funcs),
		compilers: make(map[string]Compiler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile parses the rule file at path with funcs available.
func LoadFile(path string, funcs Funcs) (Set, error) {
	return NewLoader(WithFuncs(funcs)).LoadFile(path)
}

// Parse parses a YAML or JSON rule document with funcs available.
func Parse(data []byte, funcs Funcs) (Set, error) {
	return NewLoader(WithFuncs(funcs)).Parse(data)
}

// LoadFile reads and parses the rule file at path.
func (l *Loader) LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read rule file")
	}
	set, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse parses a rule document. The top level must be a mapping of output
// key to rule.
func (l *Loader) Parse(data []byte) (Set, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Parse", "decode rule document")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return Set{}, nil
	}
	return l.ParseNode(doc.Content[0])
}

// ParseNode parses a decoded rule mapping, such as a rules block embedded in
// a larger configuration file.
func (l *Loader) ParseNode(node *yaml.Node) (Set, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, nodeError(node, "rule document must be a mapping")
	}

	set := make(Set, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		r, err := l.rule(node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("rule '%s': %w", key, err)
		}
		set = set.Add(key, r)
	}
	return set, nil
}

func (l *Loader) rule(node *yaml.Node) (Rule, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return l.rule(node.Alias)
	case yaml.ScalarNode:
		return Filter{Path: node.Value}, nil
	case yaml.SequenceNode:
		list := make(List, 0, len(node.Content))
		for _, item := range node.Content {
			r, err := l.rule(item)
			if err != nil {
				return nil, err
			}
			list = append(list, r)
		}
		return list, nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return nil, nodeError(node, "rule mapping must have exactly one entry")
		}
		key, body := node.Content[0].Value, node.Content[1]
		if key == "text" {
			return l.text(body)
		}
		payload, err := l.payload(body)
		if err != nil {
			return nil, err
		}
		return Filter{Path: key, Payload: payload}, nil
	default:
		return nil, nodeError(node, "unsupported rule node")
	}
}

// text splits a text body into literals (strings) and a payload (the rest).
func (l *Loader) text(node *yaml.Node) (Rule, error) {
	if node.Kind != yaml.SequenceNode {
		lit, err := decodeNode(node)
		if err != nil {
			return nil, err
		}
		return Text{Literal: lit}, nil
	}

	var literals []any
	var stages Sequence
	for _, item := range node.Content {
		if item.Kind == yaml.ScalarNode && item.Tag == "!!str" {
			literals = append(literals, item.Value)
			continue
		}
		p, err := l.payload(item)
		if err != nil {
			return nil, err
		}
		if p != nil {
			stages = append(stages, p)
		}
	}
	return Text{Literal: literals, Payload: single(stages)}, nil
}

func (l *Loader) payload(node *yaml.Node) (Payload, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return l.payload(node.Alias)
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" || node.Value == "@" {
			return nil, nil
		}
		fn, ok := l.funcs[node.Value]
		if !ok {
			return nil, nodeError(node, fmt.Sprintf("unknown function %q", node.Value))
		}
		return fn, nil
	case yaml.SequenceNode:
		stages := make(Sequence, 0, len(node.Content))
		for _, item := range node.Content {
			p, err := l.payload(item)
			if err != nil {
				return nil, err
			}
			if p != nil {
				stages = append(stages, p)
			}
		}
		return single(stages), nil
	case yaml.MappingNode:
		return l.mappingPayload(node)
	default:
		return nil, nodeError(node, "unsupported payload node")
	}
}

func (l *Loader) mappingPayload(node *yaml.Node) (Payload, error) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "suffix" {
			return Suffix(node.Content[i+1].Value), nil
		}
	}

	if len(node.Content) == 2 {
		kind, body := node.Content[0].Value, node.Content[1]
		if kind == "func" {
			fn, ok := l.funcs[body.Value]
			if !ok {
				return nil, nodeError(body, fmt.Sprintf("unknown function %q", body.Value))
			}
			return fn, nil
		}
		if compile, ok := l.compilers[kind]; ok {
			c, err := compile(fmt.Sprintf("%s@%d", kind, body.Line), body.Value)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "Parse", "compile "+kind)
			}
			return c, nil
		}
	}

	v, err := decodeNode(node)
	if err != nil {
		return nil, err
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, nodeError(node, "lookup table must be a mapping")
	}
	return Lookup(table), nil
}

func single(stages Sequence) Payload {
	switch len(stages) {
	case 0:
		return nil
	case 1:
		return stages[0]
	default:
		return stages
	}
}

func decodeNode(node *yaml.Node) (any, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return value.Normalize(v), nil
}

func nodeError(node *yaml.Node, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("line %d: %s", node.Line, msg), "Loader", "Parse", "parse rule")
}
