package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrUnsupportedValue = errors.New("unsupported attribute value")

type AttributeError struct {
	Attribute string
	Err       error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("attribute %q: %v", e.Attribute, e.Err)
}

func (e *AttributeError) Unwrap() error {
	return e.Err
}

type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "invalid"
	}
}

// Value is an attribute value supplied by a caller. The zero Value is
// invalid and behaves like an absent attribute.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	ts   time.Time
}

// StringValue wraps s.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue wraps n. Its text is the shortest decimal form of n.
func NumberValue(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func TimeValue(t time.Time) Value {
	return Value{kind: KindTime, ts: t.UTC()}
}

// NewValue converts the Go types a decoder or caller is likely to produce.
func NewValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		if v.kind == KindInvalid {
			return Value{}, ErrUnsupportedValue
		}
		return v, nil
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case time.Time:
		return TimeValue(v), nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		if _, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return integerValue(n, v.String()), nil
		}
		return NumberValue(n), nil
	case float64:
		return numberValue(v)
	case float32:
		return numberValue(float64(v))
	case int:
		return NumberValue(float64(v)), nil
	case int8:
		return NumberValue(float64(v)), nil
	case int16:
		return NumberValue(float64(v)), nil
	case int32:
		return NumberValue(float64(v)), nil
	case int64:
		return integerValue(float64(v), strconv.FormatInt(v, 10)), nil
	case uint:
		return NumberValue(float64(v)), nil
	case uint8:
		return NumberValue(float64(v)), nil
	case uint16:
		return NumberValue(float64(v)), nil
	case uint32:
		return NumberValue(float64(v)), nil
	case uint64:
		return integerValue(float64(v), strconv.FormatUint(v, 10)), nil
	case fmt.Stringer:
		return StringValue(v.String()), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

// integerValue keeps the exact digits of integers beyond 2^53, which
// float64 cannot hold.
func integerValue(n float64, text string) Value {
	return Value{kind: KindNumber, num: n, str: text}
}

func numberValue(n float64) (Value, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	return NumberValue(n), nil
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsValid() bool {
	return v.kind != KindInvalid
}

// String is the textual form every comparator works on.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.str != "" {
			return v.str
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindTime:
		return v.ts
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return []byte("null"), nil
	}
	if v.kind == KindNumber && v.str != "" {
		return []byte(v.str), nil
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON accepts strings, numbers and booleans. Objects, arrays and
// null are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("%w: null", ErrUnsupportedValue)
	}
	switch raw.(type) {
	case map[string]any, []any:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, jsonKind(raw))
	}

	parsed, err := NewValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func jsonKind(raw any) string {
	if _, ok := raw.([]any); ok {
		return "array"
	}
	return "object"
}
