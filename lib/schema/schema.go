package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind is the declared type of a schema node.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// IsScalar reports whether the kind is a primitive type.
func (k Kind) IsScalar() bool {
	return k != KindArray && k != KindRecord
}

// parseKind accepts the primitive names together with their common aliases.
func parseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "string":
		return KindString, nil
	case "int", "long", "integer":
		return KindInt, nil
	case "float", "double", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "bytes":
		return KindBytes, nil
	case "array":
		return KindArray, nil
	case "record":
		return KindRecord, nil
	default:
		return 0, fmt.Errorf("schema: unknown type %q", s)
	}
}

// --------------------------------------------------------------------------
// Type tree
// --------------------------------------------------------------------------

// Type is a node of the schema tree.
type Type struct {
	Kind   Kind
	Name   string  // record name (optional)
	Items  *Type   // element type of an array
	Fields []Field // fields of a record, in wire order
}

// Field is a named member of a record.
type Field struct {
	Name string
	Type *Type
}

// Primitive returns a new scalar type.
func Primitive(k Kind) *Type {
	return &Type{Kind: k}
}

// ArrayOf returns a new array type.
func ArrayOf(items *Type) *Type {
	return &Type{Kind: KindArray, Items: items}
}

// Record returns a new record type.
func Record(name string, fields ...Field) *Type {
	return &Type{Kind: KindRecord, Name: name, Fields: fields}
}

// Field returns the field with the given name, or nil.
func (t *Type) Field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the type tree.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := &Type{
		Kind:  t.Kind,
		Name:  t.Name,
		Items: t.Items.Clone(),
	}
	if t.Fields != nil {
		c.Fields = make([]Field, len(t.Fields))
		for i, f := range t.Fields {
			c.Fields[i] = Field{Name: f.Name, Type: f.Type.Clone()}
		}
	}
	return c
}

// Validate checks the structural consistency of the tree.
func (t *Type) Validate() error {
	if t == nil {
		return fmt.Errorf("schema: missing type")
	}
	switch t.Kind {
	case KindArray:
		if t.Items == nil {
			return fmt.Errorf("schema: array without items")
		}
		return t.Items.Validate()
	case KindRecord:
		seen := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			if f.Name == "" {
				return fmt.Errorf("schema: record %q has a field without name", t.Name)
			}
			if seen[f.Name] {
				return fmt.Errorf("schema: record %q declares field %q twice", t.Name, f.Name)
			}
			seen[f.Name] = true
			if err := f.Type.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	default:
		if !t.Kind.IsScalar() {
			return fmt.Errorf("schema: unknown kind %d", t.Kind)
		}
		return nil
	}
}

// --------------------------------------------------------------------------
// JSON representation
// --------------------------------------------------------------------------

// The JSON form follows the Avro conventions: primitives are plain strings
// ("string", "int", ...), composites are objects
// {"type":"array","items":...} and {"type":"record","name":...,"fields":[...]}.

type jsonType struct {
	Type   string      `json:"type"`
	Name   string      `json:"name,omitempty"`
	Items  *Type       `json:"items,omitempty"`
	Fields []jsonField `json:"fields,omitempty"`
}

type jsonField struct {
	Name string `json:"name"`
	Type *Type  `json:"type"`
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Type) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		k, err := parseKind(name)
		if err != nil {
			return err
		}
		if !k.IsScalar() {
			return fmt.Errorf("schema: %s must be declared as an object", name)
		}
		*t = Type{Kind: k}
		return nil
	}

	var raw jsonType
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	k, err := parseKind(raw.Type)
	if err != nil {
		return err
	}

	*t = Type{Kind: k, Name: raw.Name, Items: raw.Items}
	for _, f := range raw.Fields {
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: f.Type})
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (t *Type) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindArray:
		return json.Marshal(jsonType{Type: "array", Items: t.Items})
	case KindRecord:
		raw := jsonType{Type: "record", Name: t.Name, Fields: []jsonField{}}
		for _, f := range t.Fields {
			raw.Fields = append(raw.Fields, jsonField{Name: f.Name, Type: f.Type})
		}
		return json.Marshal(raw)
	default:
		return json.Marshal(t.Kind.String())
	}
}

// Parse reads a schema from its JSON form. The root must be a record.
func Parse(data []byte) (*Type, error) {
	var t Type
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if t.Kind != KindRecord {
		return nil, fmt.Errorf("schema: root must be a record, got %s", t.Kind)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadFile reads a JSON schema file.
func LoadFile(path string) (*Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema load failed (%s): %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema parse failed (%s): %w", path, err)
	}
	return t, nil
}
