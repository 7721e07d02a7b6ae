package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindInts
	KindFloats
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindInts:
		return "[]int"
	case KindFloats:
		return "[]float"
	case KindStrings:
		return "[]string"
	default:
		return "invalid"
	}
}

// IsArray reports whether values of this kind hold more than one element.
func (k Kind) IsArray() bool {
	return k == KindInts || k == KindFloats || k == KindStrings
}

// Value is a scalar-or-array metadata value. The zero Value is invalid.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	ints    []int64
	floats  []float64
	strings []string
}

func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func Ints(v ...int64) Value  { return Value{kind: KindInts, ints: append([]int64(nil), v...)} }
func Floats(v ...float64) Value {
	return Value{kind: KindFloats, floats: append([]float64(nil), v...)}
}
func Strings(v ...string) Value {
	return Value{kind: KindStrings, strings: append([]string(nil), v...)}
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v was created by one of the constructors.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Len returns 1 for scalars and the element count for arrays.
func (v Value) Len() int {
	switch v.kind {
	case KindInvalid:
		return 0
	case KindInts:
		return len(v.ints)
	case KindFloats:
		return len(v.floats)
	case KindStrings:
		return len(v.strings)
	default:
		return 1
	}
}

// Index returns element i of an array as a scalar Value. For scalars index 0
// returns the value itself.
func (v Value) Index(i int) (Value, error) {
	if i < 0 || i >= v.Len() {
		return Value{}, fmt.Errorf("index %d out of range for %s of length %d", i, v.kind, v.Len())
	}
	switch v.kind {
	case KindInts:
		return Int(v.ints[i]), nil
	case KindFloats:
		return Float(v.floats[i]), nil
	case KindStrings:
		return String(v.strings[i]), nil
	default:
		return v, nil
	}
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// AsInt returns the integer payload. Floats with no fractional part convert.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// AsFloat returns the numeric payload as float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.s, true
	}
	return "", false
}

// AsInts returns a copy of an integer array.
func (v Value) AsInts() ([]int64, bool) {
	if v.kind == KindInts {
		return append([]int64(nil), v.ints...), true
	}
	return nil, false
}

// AsFloats returns a copy of a numeric array as float64.
func (v Value) AsFloats() ([]float64, bool) {
	switch v.kind {
	case KindFloats:
		return append([]float64(nil), v.floats...), true
	case KindInts:
		out := make([]float64, len(v.ints))
		for i, n := range v.ints {
			out[i] = float64(n)
		}
		return out, true
	}
	return nil, false
}

// AsStrings returns a copy of a string array.
func (v Value) AsStrings() ([]string, bool) {
	if v.kind == KindStrings {
		return append([]string(nil), v.strings...), true
	}
	return nil, false
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindInts:
		return equalSlices(v.ints, o.ints)
	case KindFloats:
		return equalSlices(v.floats, o.floats)
	case KindStrings:
		return equalSlices(v.strings, o.strings)
	}
	return true
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the value for logs and labels.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindInts:
		parts := make([]string, len(v.ints))
		for i, n := range v.ints {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindFloats:
		parts := make([]string, len(v.floats))
		for i, f := range v.floats {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindStrings:
		return "[" + strings.Join(v.strings, " ") + "]"
	default:
		return "<invalid>"
	}
}

// FromAny converts a decoded YAML/JSON value into a Value. Integer and float
// slices must be homogeneous; mixed numeric slices become float arrays.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []int64:
		return Ints(t...), nil
	case []float64:
		return Floats(t...), nil
	case []string:
		return Strings(t...), nil
	case []any:
		return fromSlice(t)
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", x)
	}
}

func fromSlice(items []any) (Value, error) {
	if len(items) == 0 {
		return Floats(), nil
	}

	allInts, allNumbers, allStrings := true, true, true
	for _, item := range items {
		switch item.(type) {
		case int, int32, int64, uint:
			allStrings = false
		case float32, float64:
			allInts, allStrings = false, false
		case string:
			allInts, allNumbers = false, false
		default:
			return Value{}, fmt.Errorf("unsupported metadata array element type %T", item)
		}
	}

	switch {
	case allStrings:
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = item.(string)
		}
		return Strings(out...), nil

	case allInts:
		out := make([]int64, len(items))
		for i, item := range items {
			v, _ := FromAny(item)
			out[i], _ = v.AsInt()
		}
		return Ints(out...), nil

	case allNumbers:
		out := make([]float64, len(items))
		for i, item := range items {
			v, _ := FromAny(item)
			out[i], _ = v.AsFloat()
		}
		return Floats(out...), nil
	}
	return Value{}, fmt.Errorf("metadata arrays must not mix strings and numbers")
}
