package utils

import (
	"math"
	"testing"
)

func TestFloat_ValidValue(t *testing.T) {
	n := Float(42.5)
	if !n.Valid || n.Value != 42.5 {
		t.Errorf("Float(42.5) = %+v, want valid 42.5", n)
	}
}

func TestFloat_NaNAndInfAreInvalid(t *testing.T) {
	if Float(math.NaN()).Valid {
		t.Error("expected Float(NaN) to be invalid")
	}
	if Float(math.Inf(1)).Valid {
		t.Error("expected Float(+Inf) to be invalid")
	}
	if Float(math.Inf(-1)).Valid {
		t.Error("expected Float(-Inf) to be invalid")
	}
}

func TestFloatPtr_NilIsInvalid(t *testing.T) {
	if FloatPtr(nil).Valid {
		t.Error("expected FloatPtr(nil) to be invalid")
	}
	v := 7.0
	n := FloatPtr(&v)
	if !n.Valid || n.Value != 7.0 {
		t.Errorf("FloatPtr(&7.0) = %+v, want valid 7.0", n)
	}
}

func TestOr_ReturnsFallbackWhenInvalid(t *testing.T) {
	var n NullFloat
	if got := n.Or(99); got != 99 {
		t.Errorf("Or(99) on an invalid NullFloat = %v, want 99", got)
	}
	n = Float(5)
	if got := n.Or(99); got != 5 {
		t.Errorf("Or(99) on a valid NullFloat(5) = %v, want 5", got)
	}
}

func TestCoerceFloat_NumericTypes(t *testing.T) {
	cases := []any{float64(1), float32(2), int(3), int32(4), int64(5)}
	for _, c := range cases {
		n := CoerceFloat(c)
		if !n.Valid {
			t.Errorf("CoerceFloat(%v) (%T) expected valid, got invalid", c, c)
		}
	}
}

func TestCoerceFloat_NonNumericIsInvalid(t *testing.T) {
	if CoerceFloat("not a number").Valid {
		t.Error("expected CoerceFloat(string) to be invalid")
	}
	if CoerceFloat(nil).Valid {
		t.Error("expected CoerceFloat(nil) to be invalid")
	}
}

func TestCoerceFloat_FloatPointer(t *testing.T) {
	v := 3.5
	n := CoerceFloat(&v)
	if !n.Valid || n.Value != 3.5 {
		t.Errorf("CoerceFloat(*float64) = %+v, want valid 3.5", n)
	}
}
