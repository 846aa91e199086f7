package store

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// ValueKind is the closed set of user-data shapes.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindDict
	KindList
)

// Label returns the persisted data_type label.
func (k ValueKind) Label() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDict:
		return "dict"
	case KindList:
		return "list"
	default:
		return ""
	}
}

func (k ValueKind) String() string {
	if l := k.Label(); l != "" {
		return l
	}
	return fmt.Sprintf("ValueKind(%d)", int(k))
}

// ParseKind maps a data_type label to its kind.
func ParseKind(label string) (ValueKind, error) {
	switch label {
	case "string", "str":
		return KindString, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "bool":
		return KindBool, nil
	case "dict":
		return KindDict, nil
	case "list":
		return KindList, nil
	default:
		return 0, vaulterr.Errorf(vaulterr.KindInvalidInput, "store.parse_kind", "unknown data type %q", label)
	}
}

// Value is a user-data value. The zero Value is invalid.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	dict map[string]any
	list []any
}

// String, Int, Float, Bool, Dict and List construct values of each kind.
func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Dict(m map[string]any) Value { return Value{kind: KindDict, dict: m} }

func List(l []any) Value { return Value{kind: KindList, list: l} }

// Kind returns the value's kind.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string of a string value.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Int returns the integer of an int value.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Float returns the number of a float value.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// Bool returns the boolean of a bool value.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Dict returns the mapping of a dict value.
func (v Value) Dict() (map[string]any, bool) { return v.dict, v.kind == KindDict }

// List returns the elements of a list value.
func (v Value) List() ([]any, bool) { return v.list, v.kind == KindList }

// Interface returns the value as a plain Go value: string, int64, float64,
// bool, map[string]any or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDict:
		return v.dict
	case KindList:
		return v.list
	default:
		return nil
	}
}

// ValueOf infers the kind of x from its runtime type.
func ValueOf(x any) (Value, error) {
	const op = "store.value_of"
	switch t := x.(type) {
	case nil:
		return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "nil value")
	case Value:
		if t.kind == 0 {
			return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "zero Value")
		}
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, vaulterr.New(vaulterr.KindInvalidInput, op, err)
		}
		return Float(f), nil
	case []byte:
		return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "raw bytes are not a user-data value")
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "map keys must be strings, got %s", rv.Type().Key())
		}
		var m map[string]any
		if err := viaJSON(x, &m); err != nil {
			return Value{}, vaulterr.New(vaulterr.KindInvalidInput, op, err)
		}
		return Dict(m), nil
	case reflect.Slice, reflect.Array:
		var l []any
		if err := viaJSON(x, &l); err != nil {
			return Value{}, vaulterr.New(vaulterr.KindInvalidInput, op, err)
		}
		return List(l), nil
	default:
		return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "unsupported value type %T", x)
	}
}

// Coerce converts x to kind k, parsing strings where needed. Values that
// cannot represent k are InvalidInput.
func Coerce(x any, k ValueKind) (Value, error) {
	const op = "store.coerce"
	v, err := ValueOf(x)
	if err != nil {
		return Value{}, err
	}
	if v.kind == k {
		return v, nil
	}

	fail := func() (Value, error) {
		return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "cannot store %s value as %s", v.kind, k)
	}

	switch k {
	case KindString:
		s, err := v.text()
		if err != nil {
			return Value{}, vaulterr.New(vaulterr.KindInvalidInput, op, err)
		}
		return String(s), nil
	case KindInt:
		switch v.kind {
		case KindFloat:
			if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f < math.MaxInt64 {
				return Int(int64(v.f)), nil
			}
		case KindString:
			if i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
				return Int(i), nil
			}
		}
	case KindFloat:
		switch v.kind {
		case KindInt:
			return Float(float64(v.i)), nil
		case KindString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
				return Float(f), nil
			}
		}
	case KindBool:
		if v.kind == KindString {
			if b, err := strconv.ParseBool(strings.TrimSpace(v.s)); err == nil {
				return Bool(b), nil
			}
		}
	case KindDict:
		if v.kind == KindString {
			if d, err := decodeKind(KindDict, v.s); err == nil {
				return d, nil
			}
		}
	case KindList:
		if v.kind == KindString {
			if l, err := decodeKind(KindList, v.s); err == nil {
				return l, nil
			}
		}
	default:
		return Value{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "unknown kind %d", int(k))
	}
	return fail()
}

// text renders v as the string it is persisted as.
func (v Value) text() (string, error) {
	switch v.kind {
	case KindString:
		return v.s, nil
	case KindInt:
		return strconv.FormatInt(v.i, 10), nil
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), nil
	case KindBool:
		return strconv.FormatBool(v.b), nil
	case KindDict:
		m := v.dict
		if m == nil {
			m = map[string]any{}
		}
		b, err := json.Marshal(m)
		return string(b), err
	case KindList:
		l := v.list
		if l == nil {
			l = []any{}
		}
		b, err := json.Marshal(l)
		return string(b), err
	default:
		return "", fmt.Errorf("store: invalid value")
	}
}

// payload is the codec payload persisted for v.
func (v Value) payload() (codec.Payload, error) {
	if v.kind == KindDict {
		return codec.Record(v.dict), nil
	}
	s, err := v.text()
	if err != nil {
		return codec.Payload{}, err
	}
	return codec.Text(s), nil
}

// valueFromPayload reconstructs a value of kind k from a decoded payload.
func valueFromPayload(k ValueKind, p codec.Payload) (Value, error) {
	if k == KindDict && p.Kind == codec.KindRecord {
		return Dict(p.Record), nil
	}
	if p.Kind != codec.KindText {
		return Value{}, fmt.Errorf("store: %s value decoded as %s", k, p.Kind)
	}
	return decodeKind(k, p.Text)
}

func decodeKind(k ValueKind, s string) (Value, error) {
	switch k {
	case KindString:
		return String(s), nil
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("store: malformed int value: %w", err)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("store: malformed float value: %w", err)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("store: malformed bool value: %w", err)
		}
		return Bool(b), nil
	case KindDict:
		parsed, err := codec.DecodeJSON([]byte(s))
		m, ok := parsed.(map[string]any)
		if err != nil || !ok {
			return Value{}, fmt.Errorf("store: malformed dict value")
		}
		return Dict(m), nil
	case KindList:
		parsed, err := codec.DecodeJSON([]byte(s))
		l, ok := parsed.([]any)
		if err != nil || !ok {
			return Value{}, fmt.Errorf("store: malformed list value")
		}
		return List(l), nil
	default:
		return Value{}, fmt.Errorf("store: unknown kind %d", int(k))
	}
}

// viaJSON normalises maps and slices of arbitrary element types into the
// plain shapes DecodeJSON produces.
func viaJSON(x any, out any) error {
	b, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("store: value is not serializable: %w", err)
	}
	parsed, err := codec.DecodeJSON(b)
	if err != nil {
		return err
	}
	switch o := out.(type) {
	case *map[string]any:
		m, ok := parsed.(map[string]any)
		if !ok {
			if parsed == nil {
				*o = map[string]any{}
				return nil
			}
			return fmt.Errorf("store: value is not a mapping")
		}
		*o = m
	case *[]any:
		l, ok := parsed.([]any)
		if !ok {
			if parsed == nil {
				*o = []any{}
				return nil
			}
			return fmt.Errorf("store: value is not a list")
		}
		*o = l
	}
	return nil
}
