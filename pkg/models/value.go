// Package models defines the core domain models for workflow orchestration.
package models

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the variants of Value.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindList   ValueKind = "list"
	KindMap    ValueKind = "map"
)

// Value is the tagged value type carried by workflow variables, step
// configuration, step inputs/outputs and audit metadata. Keeping the set of
// variants closed lets condition evaluation and serialization stay total
// instead of type-asserting on arbitrary payloads.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Number(n float64) Value       { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value    { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag. The zero Value is null.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}

	return v.kind
}

func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string payload and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.Kind() == KindString }

// AsNumber returns the numeric payload and whether the value is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.Kind() == KindNumber }

// AsBool returns the boolean payload and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.Kind() == KindBool }

// AsList returns the list payload and whether the value is a list.
func (v Value) AsList() ([]Value, bool) { return v.list, v.Kind() == KindList }

// AsMap returns the map payload and whether the value is a map.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.Kind() == KindMap }

// Equal reports deep equality of two values, including kind.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}

	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}

		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}

		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}

		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}

		return true
	}

	return false
}

// Clone returns a deep copy, so snapshots cannot alias live state.
func (v Value) Clone() Value {
	switch v.Kind() {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}

		return Value{kind: KindList, list: items}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}

		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// Render returns a human-readable form for logs and audit metadata.
func (v Value) Render() string {
	switch v.Kind() {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return string(v.kind)
		}

		return string(raw)
	}
}

// MarshalJSON encodes the value as plain JSON (no kind envelope), so stored
// documents and published events stay readable by external consumers.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	}

	return nil, fmt.Errorf("unknown value kind %q", v.kind)
}

// UnmarshalJSON decodes plain JSON into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}

	*v = decoded

	return nil
}

// FromAny converts a decoded JSON payload (map[string]any shape) into a
// Value. It is the boundary between collaborator payloads and the typed
// world; unsupported Go types are rejected rather than guessed at.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("unsupported numeric value %q: %w", t.String(), err)
		}

		return Number(f), nil
	case []any:
		items := make([]Value, len(t))

		for i, item := range t {
			value, err := FromAny(item)
			if err != nil {
				return Null(), err
			}

			items[i] = value
		}

		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))

		for k, item := range t {
			value, err := FromAny(item)
			if err != nil {
				return Null(), err
			}

			m[k] = value
		}

		return Map(m), nil
	case Value:
		return t, nil
	}

	return Null(), fmt.Errorf("unsupported value type %T", raw)
}

// MapFromAny converts a whole payload map, failing on the first bad entry.
func MapFromAny(raw map[string]any) (map[string]Value, error) {
	values := make(map[string]Value, len(raw))

	for k, item := range raw {
		value, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}

		values[k] = value
	}

	return values, nil
}

// ToAny lowers a Value back to plain Go types for schema validation and
// plugin boundaries.
func (v Value) ToAny() any {
	switch v.Kind() {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.ToAny()
		}

		return items
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.ToAny()
		}

		return m
	}

	return nil
}

// MapToAny lowers a value map to plain Go types.
func MapToAny(values map[string]Value) map[string]any {
	raw := make(map[string]any, len(values))
	for k, v := range values {
		raw[k] = v.ToAny()
	}

	return raw
}

// CloneMap deep-copies a value map.
func CloneMap(values map[string]Value) map[string]Value {
	if values == nil {
		return nil
	}

	cloned := make(map[string]Value, len(values))
	for k, v := range values {
		cloned[k] = v.Clone()
	}

	return cloned
}
