package input

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/c360/datacollector/errors"
)

// xmlNode collects one element while the token stream is walked.
type xmlNode struct {
	name   string
	fields map[string]any
	text   strings.Builder
}

func (n *xmlNode) add(key string, v any) {
	existing, ok := n.fields[key]
	if !ok {
		n.fields[key] = v
		return
	}
	if list, isList := existing.([]any); isList {
		n.fields[key] = append(list, v)
		return
	}
	n.fields[key] = []any{existing, v}
}

// value collapses a leaf without attributes to its text.
func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	if len(n.fields) == 0 {
		if text == "" {
			return nil
		}
		return text
	}
	if text != "" {
		n.fields["#text"] = text
	}
	return n.fields
}

// DecodeXML converts an XML document into nested maps. The root element
// becomes the single top-level key. Namespace prefixes are dropped,
// attributes are stored as _name, mixed text as #text and repeated children
// as lists.
func DecodeXML(data []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var stack []*xmlNode
	var root map[string]any

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "DecodeXML", "read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, fields: make(map[string]any)}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				n.add("_"+attr.Name.Local, attr.Value)
			}
			stack = append(stack, n)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = map[string]any{n.name: n.value()}
				continue
			}
			stack[len(stack)-1].add(n.name, n.value())
		}
	}

	if root == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no root element", errors.ErrParsingFailed), "input", "DecodeXML", "find root")
	}
	return root, nil
}
