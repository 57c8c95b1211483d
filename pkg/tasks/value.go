package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Type tags understood by the engine.
const (
	TypeString  = "String"
	TypeInteger = "Integer"
	TypeLong    = "Long"
	TypeShort   = "Short"
	TypeDouble  = "Double"
	TypeBoolean = "Boolean"
	TypeNull    = "Null"
	TypeDate    = "Date"
	TypeJSON    = "Json"
	TypeObject  = "Object"
)

// TypedValue is a variable value together with the engine type tag that
// describes it. Value is one of string, int64, float64, bool or nil.
type TypedValue struct {
	Value     any            `json:"value"`
	Type      string         `json:"type"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

// Of wraps v and derives its type tag from the concrete Go type. Integer
// kinds are widened to int64 and floats to float64 so the tag always matches
// the stored value. Anything else, nil included, is tagged Object.
func Of(v any) TypedValue {
	switch x := v.(type) {
	case TypedValue:
		return x
	case string:
		return TypedValue{Value: x, Type: TypeString}
	case bool:
		return TypedValue{Value: x, Type: TypeBoolean}
	case int8:
		return TypedValue{Value: int64(x), Type: TypeInteger}
	case int16:
		return TypedValue{Value: int64(x), Type: TypeInteger}
	case int32:
		return TypedValue{Value: int64(x), Type: TypeInteger}
	case uint8:
		return TypedValue{Value: int64(x), Type: TypeInteger}
	case uint16:
		return TypedValue{Value: int64(x), Type: TypeInteger}
	case int:
		return TypedValue{Value: int64(x), Type: TypeLong}
	case int64:
		return TypedValue{Value: x, Type: TypeLong}
	case uint32:
		return TypedValue{Value: int64(x), Type: TypeLong}
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return TypedValue{Value: int64(x), Type: TypeLong}
		}
	case uint64:
		if x <= math.MaxInt64 {
			return TypedValue{Value: int64(x), Type: TypeLong}
		}
	case float32:
		return TypedValue{Value: float64(x), Type: TypeDouble}
	case float64:
		return TypedValue{Value: x, Type: TypeDouble}
	case decimal.Decimal:
		// The engine has no decimal type. Up to 15 significant digits the
		// nearest float64 encodes back to the same digits, so amounts rounded
		// to cents arrive unchanged.
		return TypedValue{Value: x.InexactFloat64(), Type: TypeDouble}
	}
	return TypedValue{Value: v, Type: TypeObject}
}

// UnmarshalJSON decodes the engine representation {value, type, valueInfo},
// converting value according to the declared type.
func (tv *TypedValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value     json.RawMessage `json:"value"`
		Type      string          `json:"type"`
		ValueInfo map[string]any  `json:"valueInfo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tv.Type = raw.Type
	tv.ValueInfo = raw.ValueInfo
	tv.Value = nil

	if len(raw.Value) == 0 || bytes.Equal(raw.Value, []byte("null")) {
		return nil
	}

	switch raw.Type {
	case TypeString, TypeDate, TypeJSON, "Xml":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		tv.Value = s
	case TypeInteger, TypeLong, TypeShort:
		var n json.Number
		if err := json.Unmarshal(raw.Value, &n); err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		i, err := n.Int64()
		if err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		tv.Value = i
	case TypeDouble:
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		tv.Value = f
	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		tv.Value = b
	case TypeNull:
	default:
		var v any
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return fmt.Errorf("variable of type %s: %w", raw.Type, err)
		}
		tv.Value = v
	}
	return nil
}

// Variables maps variable names to typed values.
type Variables map[string]TypedValue

// NewVariables converts plain Go values with Of.
func NewVariables(values map[string]any) Variables {
	vars := make(Variables, len(values))
	for k, v := range values {
		vars[k] = Of(v)
	}
	return vars
}

// Set stores Of(v) under name and returns the map for chaining.
func (vs Variables) Set(name string, v any) Variables {
	vs[name] = Of(v)
	return vs
}
