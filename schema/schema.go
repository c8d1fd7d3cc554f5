// Package schema describes structured response shapes for model output.
//
// A Schema is a named set of typed fields. It renders itself as an XML
// instruction block to embed in a prompt, and parses raw model output back
// into a validated value. The field grammar is deliberately closed:
// string, int, float, bool, enum and list-of-nested-schema, with optional
// flags and numeric ge/le bounds.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the semantic type of a field.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	Enum
	List
)

var kindNames = map[Kind]string{
	String: "string",
	Int:    "int",
	Float:  "float",
	Bool:   "bool",
	Enum:   "enum",
	List:   "list",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its name so schemas survive the wire.
func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("schema: unknown kind %d", int(k))
	}
	return json.Marshal(name)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("schema: unknown kind %q", name)
}

// Field is one typed slot in a schema.
type Field struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Ge          *float64 `json:"ge,omitempty"`
	Le          *float64 `json:"le,omitempty"`

	// Elem is the element schema for List fields. Its Name is the XML
	// element name of each list item.
	Elem *Schema `json:"elem,omitempty"`
}

// Schema is a named set of fields. Name doubles as the root XML element
// name the model is asked to produce.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Value is a parsed, validated structured response. Scalar fields map to
// string, int64, float64 or bool; list fields map to []Value.
type Value = map[string]any

// ResponseError reports output that failed schema parsing or validation.
// Raw carries the vendor output unmodified so a caller can diagnose or
// re-prompt.
type ResponseError struct {
	SchemaName string
	Raw        string
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("structured response for %s: %s", e.SchemaName, e.Message)
}

// Instructions renders the schema as an XML instruction block suitable
// for embedding in a prompt. Parse accepts output that follows it.
func (s *Schema) Instructions() string {
	var b strings.Builder
	b.WriteString("Reply only with the following XML structure, replacing each element's text with a value matching its description and declared type. Do not add other elements or attributes.\n\n")
	s.renderSkeleton(&b, 0)
	return b.String()
}

func (s *Schema) renderSkeleton(b *strings.Builder, depth int) {
	indent := strings.Repeat("    ", depth)
	fmt.Fprintf(b, "%s<%s>\n", indent, s.Name)
	for _, f := range s.Fields {
		f.renderSkeleton(b, depth+1)
	}
	fmt.Fprintf(b, "%s</%s>\n", indent, s.Name)
}

func (f *Field) renderSkeleton(b *strings.Builder, depth int) {
	indent := strings.Repeat("    ", depth)
	attrs := fmt.Sprintf(` type="%s"`, f.Kind)
	if f.Kind == Enum {
		attrs += fmt.Sprintf(` values="%s"`, strings.Join(f.Enum, "|"))
	}
	if f.Ge != nil {
		attrs += fmt.Sprintf(` ge="%s"`, formatBound(*f.Ge))
	}
	if f.Le != nil {
		attrs += fmt.Sprintf(` le="%s"`, formatBound(*f.Le))
	}
	if f.Optional {
		attrs += ` optional="true"`
	}

	if f.Kind == List && f.Elem != nil {
		fmt.Fprintf(b, "%s<%s%s>\n", indent, f.Name, attrs)
		f.Elem.renderSkeleton(b, depth+1)
		fmt.Fprintf(b, "%s</%s>\n", indent, f.Name)
		return
	}
	fmt.Fprintf(b, "%s<%s%s>%s</%s>\n", indent, f.Name, attrs, f.Description, f.Name)
}

func formatBound(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
}
