package utils

import "math"

// NullFloat mirrors sql.NullFloat64 for values that may be legitimately
// absent from a sensor reading. A missing value is never coerced to
// zero: callers that need a zero default must say so explicitly.
type NullFloat struct {
	Value float64
	Valid bool
}

// Float returns v as a NullFloat, marking NaN/Inf as invalid.
func Float(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Value: v, Valid: true}
}

// FloatPtr converts a nullable pointer (the pattern meteo.go uses for
// optional JSON fields) into a NullFloat.
func FloatPtr(v *float64) NullFloat {
	if v == nil {
		return NullFloat{}
	}
	return Float(*v)
}

// Or returns the wrapped value, or fallback if the value is absent.
func (n NullFloat) Or(fallback float64) float64 {
	if !n.Valid {
		return fallback
	}
	return n.Value
}

// CoerceFloat parses values that arrive from loosely-typed sources
// (JSON numbers decoded as any, Modbus scratch registers) into a
// NullFloat, treating non-numeric input as absent rather than zero.
func CoerceFloat(v any) NullFloat {
	switch t := v.(type) {
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Float(float64(t))
	case int32:
		return Float(float64(t))
	case int64:
		return Float(float64(t))
	case *float64:
		return FloatPtr(t)
	default:
		return NullFloat{}
	}
}
