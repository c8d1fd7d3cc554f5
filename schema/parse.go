package schema

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AsResponseError unwraps err into a *ResponseError when possible.
func AsResponseError(err error) (*ResponseError, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Parse extracts the schema's XML element from raw model output and
// returns the validated value. Models routinely surround the payload with
// commentary or markdown fences; everything outside the first matching
// element is ignored. Any failure is a *ResponseError carrying raw
// unmodified.
func (s *Schema) Parse(raw string) (Value, error) {
	segment, ok := extractElement(raw, s.Name)
	if !ok {
		return nil, s.fail(raw, fmt.Sprintf("no <%s> element found in output", s.Name))
	}

	var root xmlNode
	if err := xml.Unmarshal([]byte(segment), &root); err != nil {
		return nil, s.fail(raw, "malformed XML: "+err.Error())
	}

	value, err := s.decode(&root)
	if err != nil {
		return nil, s.fail(raw, err.Error())
	}
	return value, nil
}

func (s *Schema) fail(raw, message string) *ResponseError {
	return &ResponseError{SchemaName: s.Name, Raw: raw, Message: message}
}

// extractElement returns the first <name>...</name> span in raw,
// tolerating attributes on the opening tag.
func extractElement(raw, name string) (string, bool) {
	start := strings.Index(raw, "<"+name+">")
	if start < 0 {
		start = strings.Index(raw, "<"+name+" ")
	}
	if start < 0 {
		return "", false
	}
	closing := "</" + name + ">"
	end := strings.Index(raw[start:], closing)
	if end < 0 {
		return "", false
	}
	return raw[start : start+end+len(closing)], true
}

type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func (n *xmlNode) children(name string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

func (s *Schema) decode(node *xmlNode) (Value, error) {
	out := Value{}
	for i := range s.Fields {
		f := &s.Fields[i]
		matches := node.children(f.Name)
		if len(matches) == 0 {
			if f.Optional {
				continue
			}
			return nil, fmt.Errorf("missing required field %q", f.Name)
		}
		child := matches[0]

		if f.Kind == List {
			if f.Elem == nil {
				return nil, fmt.Errorf("field %q: list field has no element schema", f.Name)
			}
			items := []Value{}
			for _, itemNode := range child.children(f.Elem.Name) {
				item, err := f.Elem.decode(itemNode)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", f.Name, err)
				}
				items = append(items, item)
			}
			if len(items) == 0 && !f.Optional {
				return nil, fmt.Errorf("field %q: list has no <%s> items", f.Name, f.Elem.Name)
			}
			out[f.Name] = items
			continue
		}

		text := strings.TrimSpace(child.Content)
		if text == "" {
			if f.Optional {
				continue
			}
			return nil, fmt.Errorf("empty value for required field %q", f.Name)
		}
		value, err := f.decodeScalar(text)
		if err != nil {
			return nil, err
		}
		out[f.Name] = value
	}
	return out, nil
}

func (f *Field) decodeScalar(text string) (any, error) {
	switch f.Kind {
	case String:
		return text, nil
	case Int:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %q is not an integer", f.Name, text)
		}
		if err := f.checkBounds(float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case Float:
		x, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %q is not a number", f.Name, text)
		}
		if err := f.checkBounds(x); err != nil {
			return nil, err
		}
		return x, nil
	case Bool:
		switch strings.ToLower(text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("field %q: %q is not a boolean", f.Name, text)
	case Enum:
		for _, v := range f.Enum {
			if strings.EqualFold(v, text) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("field %q: %q is not one of %s", f.Name, text, strings.Join(f.Enum, "|"))
	}
	return nil, fmt.Errorf("field %q: unsupported kind", f.Name)
}

func (f *Field) checkBounds(v float64) error {
	if f.Ge != nil && v < *f.Ge {
		return fmt.Errorf("field %q: %v is below the minimum of %v", f.Name, v, *f.Ge)
	}
	if f.Le != nil && v > *f.Le {
		return fmt.Errorf("field %q: %v is above the maximum of %v", f.Name, v, *f.Le)
	}
	return nil
}
