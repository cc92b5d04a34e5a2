package message

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ValentinKolb/dFrag/lib/schema"
)

// --------------------------------------------------------------------------
// Node tree
// --------------------------------------------------------------------------

// Node is a value of a structured message: a Scalar, a List or an Object.
type Node interface {
	isNode()
}

// Scalar holds one of string, int64, float64, bool or []byte.
type Scalar struct {
	Value any
}

// List is an ordered sequence of nodes.
type List []Node

// Object maps field names to nodes. Absent fields are not present in the map.
type Object map[string]Node

func (Scalar) isNode() {}
func (List) isNode()   {}
func (Object) isNode() {}

// String creates a string scalar.
func String(s string) Scalar { return Scalar{Value: s} }

// Int creates an int scalar.
func Int(i int64) Scalar { return Scalar{Value: i} }

// Float creates a float scalar.
func Float(f float64) Scalar { return Scalar{Value: f} }

// Bool creates a bool scalar.
func Bool(b bool) Scalar { return Scalar{Value: b} }

// Bytes creates a bytes scalar.
func Bytes(b []byte) Scalar { return Scalar{Value: b} }

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch v := n.(type) {
	case nil:
		return nil
	case Scalar:
		if b, ok := v.Value.([]byte); ok {
			return Scalar{Value: bytes.Clone(b)}
		}
		return v
	case List:
		if v == nil {
			return List(nil)
		}
		out := make(List, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case Object:
		if v == nil {
			return Object(nil)
		}
		out := make(Object, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	default:
		panic(fmt.Sprintf("message: unknown node type %T", n))
	}
}

// Equal reports whether a and b hold the same values. Nil and empty
// lists are considered equal.
func Equal(a, b Node) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Scalar:
		bv, ok := b.(Scalar)
		if !ok {
			return false
		}
		if ab, ok := av.Value.([]byte); ok {
			bb, ok := bv.Value.([]byte)
			return ok && bytes.Equal(ab, bb)
		}
		return av.Value == bv.Value
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			other, ok := bv[k]
			if !ok || !Equal(e, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Native conversion
// --------------------------------------------------------------------------

// FromNative converts a value built from maps, slices and primitives (as
// produced by encoding/json) into a node tree shaped by t.
//
// Numbers may be given as any Go integer or float type or json.Number.
// Bytes may be given as []byte or as a base64 string. Nil values of
// record fields are treated as absent, unknown record fields are an error.
func FromNative(v any, t *schema.Type) (Node, error) {
	return fromNative(v, t, "$")
}

func fromNative(v any, t *schema.Type, at string) (Node, error) {
	switch t.Kind {
	case schema.KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected object, got %T", at, v)
		}
		obj := make(Object, len(m))
		for name, raw := range m {
			f := t.Field(name)
			if f == nil {
				return nil, fmt.Errorf("%s: unknown field %q", at, name)
			}
			if raw == nil {
				continue
			}
			n, err := fromNative(raw, f.Type, at+"."+name)
			if err != nil {
				return nil, err
			}
			obj[name] = n
		}
		return obj, nil

	case schema.KindArray:
		s, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected array, got %T", at, v)
		}
		list := make(List, len(s))
		for i, raw := range s {
			n, err := fromNative(raw, t.Items, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		return list, nil

	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", at, v)
		}
		return String(s), nil

	case schema.KindInt:
		i, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		return Int(i), nil

	case schema.KindFloat:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		return Float(f), nil

	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool, got %T", at, v)
		}
		return Bool(b), nil

	case schema.KindBytes:
		switch b := v.(type) {
		case []byte:
			return Bytes(bytes.Clone(b)), nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid base64: %w", at, err)
			}
			return Bytes(raw), nil
		default:
			return nil, fmt.Errorf("%s: expected bytes, got %T", at, v)
		}

	default:
		return nil, fmt.Errorf("%s: unsupported kind %s", at, t.Kind)
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		i, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %T", v)
		}
		return float64(i), nil
	}
}

// ToNative converts a node tree back into maps, slices and primitives.
func ToNative(n Node) any {
	switch v := n.(type) {
	case Scalar:
		return v.Value
	case List:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ToNative(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = ToNative(e)
		}
		return out
	default:
		return nil
	}
}

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// DecodeJSON parses a JSON document into a node tree shaped by t.
func DecodeJSON(data []byte, t *schema.Type) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("message: invalid json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("message: trailing data after json document")
	}
	return FromNative(v, t)
}

// EncodeJSON renders a node tree as JSON. Bytes are base64 encoded.
func EncodeJSON(n Node) ([]byte, error) {
	return json.Marshal(ToNative(n))
}
