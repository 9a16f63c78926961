package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ValueType tags the variant held by a Value.
type ValueType string

// Value variants.
const (
	TypeNull   ValueType = "null"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "string"
	TypeBool   ValueType = "bool"
	TypeBinary ValueType = "binary"
)

// Value is a tagged command parameter value. The zero Value is null.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	b   bool
	raw []byte
}

// Int returns an integer value.
func Int(v int64) Value { return Value{typ: TypeInt, i: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{typ: TypeString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{typ: TypeBool, b: v} }

// Binary returns a binary value. The slice is copied.
func Binary(v []byte) Value {
	return Value{typ: TypeBinary, raw: append([]byte(nil), v...)}
}

// Null returns the null value.
func Null() Value { return Value{typ: TypeNull} }

// Type returns the variant tag.
func (v Value) Type() ValueType {
	if v.typ == "" {
		return TypeNull
	}
	return v.typ
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.Type() == TypeNull }

// AsInt returns the value as an integer. Floats with no fractional part
// convert; other variants report false.
func (v Value) AsInt() (int64, bool) {
	switch v.Type() {
	case TypeInt:
		return v.i, true
	case TypeFloat:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return int64(v.f), true
		}
	}
	return 0, false
}

// AsFloat returns numeric values as float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.Type() {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.s, v.Type() == TypeString }

// AsBool returns the boolean variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.Type() == TypeBool }

// AsBinary returns the binary variant.
func (v Value) AsBinary() ([]byte, bool) { return v.raw, v.Type() == TypeBinary }

// Interface returns the plain Go value: int64, float64, string, bool,
// []byte or nil.
func (v Value) Interface() any {
	switch v.Type() {
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeBool:
		return v.b
	case TypeBinary:
		return v.raw
	default:
		return nil
	}
}

// Equal reports whether two values have the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.Type() != o.Type() {
		return false
	}
	switch v.Type() {
	case TypeBinary:
		return bytes.Equal(v.raw, o.raw)
	default:
		return v.Interface() == o.Interface()
	}
}

func (v Value) String() string {
	switch v.Type() {
	case TypeNull:
		return "null"
	case TypeBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.raw))
	case TypeString:
		return fmt.Sprintf("%q", v.s)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// ValueOf converts a plain Go value into a Value. JSON numbers without a
// fractional part become integers.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint16:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", t)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case []byte:
		return Binary(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported parameter type %T", x)
	}
}

// Param is one named parameter.
type Param struct {
	Name  string
	Value Value
}

// wireParam is the JSON form of a Param.
type wireParam struct {
	Name  string          `json:"name"`
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes {"name":..,"type":..,"value":..}.
func (p Param) MarshalJSON() ([]byte, error) {
	w := wireParam{Name: p.Name, Type: p.Value.Type()}
	if !p.Value.IsNull() {
		raw, err := json.Marshal(p.Value.Interface())
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", p.Name, err)
		}
		w.Value = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form. An omitted type is inferred
// from the JSON value.
func (p *Param) UnmarshalJSON(data []byte) error {
	var w wireParam
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	v, err := decodeTagged(w.Type, w.Value)
	if err != nil {
		return fmt.Errorf("param %q: %w", w.Name, err)
	}
	p.Name = w.Name
	p.Value = v
	return nil
}

func decodeTagged(typ ValueType, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if typ != "" && typ != TypeNull {
			return Value{}, fmt.Errorf("missing value for type %s", typ)
		}
		return Null(), nil
	}

	switch typ {
	case "":
		return decodeInferred(raw)
	case TypeInt:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, fmt.Errorf("expected int: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("expected int, got %s", n)
		}
		return Int(i), nil
	case TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, fmt.Errorf("expected float: %w", err)
		}
		return Float(f), nil
	case TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("expected string: %w", err)
		}
		return String(s), nil
	case TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("expected bool: %w", err)
		}
		return Bool(b), nil
	case TypeBinary:
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("expected base64 binary: %w", err)
		}
		return Binary(b), nil
	case TypeNull:
		return Value{}, fmt.Errorf("null type carries a value")
	default:
		return Value{}, fmt.Errorf("unknown type %q", typ)
	}
}

func decodeInferred(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, err
	}
	return ValueOf(x)
}

// Parameters is an ordered set of uniquely named parameters.
//
// JSON uses an array of tagged params. A plain JSON object is also
// accepted on decode; its key order is preserved and value types are
// inferred.
type Parameters []Param

// Get returns the value of the named parameter.
func (ps Parameters) Get(name string) (Value, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the named parameter in place or appends it.
func (ps Parameters) Set(name string, v Value) Parameters {
	for i := range ps {
		if ps[i].Name == name {
			ps[i].Value = v
			return ps
		}
	}
	return append(ps, Param{Name: name, Value: v})
}

// Names returns the parameter names in order.
func (ps Parameters) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Map returns the parameters as plain Go values. Order is lost.
func (ps Parameters) Map() map[string]any {
	m := make(map[string]any, len(ps))
	for _, p := range ps {
		m[p.Name] = p.Value.Interface()
	}
	return m
}

// Clone returns a deep copy.
func (ps Parameters) Clone() Parameters {
	if ps == nil {
		return nil
	}
	out := make(Parameters, len(ps))
	for i, p := range ps {
		out[i] = Param{Name: p.Name, Value: p.Value}
		if b, ok := p.Value.AsBinary(); ok {
			out[i].Value = Binary(b)
		}
	}
	return out
}

// UnmarshalJSON accepts either the tagged array form or a plain object.
func (ps *Parameters) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*ps = nil
		return nil
	}

	if trimmed[0] == '[' {
		var list []Param
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*ps = list
		return nil
	}

	if trimmed[0] != '{' {
		return fmt.Errorf("parameters must be an array or object")
	}
	return ps.decodeObject(trimmed)
}

// decodeObject walks the object token by token so key order survives.
func (ps *Parameters) decodeObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	}

	var out Parameters
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("parameter name must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		v, err := decodeInferred(raw)
		if err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		out = append(out, Param{Name: name, Value: v})
	}
	*ps = out
	return nil
}
