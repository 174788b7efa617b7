package tariff

import "testing"

func TestPercentiles_Basic(t *testing.T) {
	points := make([]PricePoint, 0, 10)
	for i := 1; i <= 10; i++ {
		points = append(points, PricePoint{FinalPricePLN: float64(i) * 0.1})
	}
	pc := NewPercentiles(points)

	if got := pc.Mean(); got < 0.549 || got > 0.551 {
		t.Errorf("Mean() = %v, want ~0.55", got)
	}
	if got := pc.Median(); got < 0.49 || got > 0.61 {
		t.Errorf("Median() = %v, want within [0.49,0.61]", got)
	}
}

func TestPercentiles_EmptySet(t *testing.T) {
	pc := NewPercentiles(nil)
	if got := pc.Mean(); got != 0 {
		t.Errorf("Mean() on empty set = %v, want 0", got)
	}
	if got := pc.Percentile(50); got != 0 {
		t.Errorf("Percentile(50) on empty set = %v, want 0", got)
	}
	if got := pc.CurrentPercentile(1.0); got != 0 {
		t.Errorf("CurrentPercentile on empty set = %v, want 0", got)
	}
}

func TestPercentiles_CurrentPercentile(t *testing.T) {
	points := make([]PricePoint, 0, 10)
	for i := 1; i <= 10; i++ {
		points = append(points, PricePoint{FinalPricePLN: float64(i) * 0.1})
	}
	pc := NewPercentiles(points)

	if got := pc.CurrentPercentile(0.1); got != 10 {
		t.Errorf("CurrentPercentile(0.1) = %v, want 10", got)
	}
	if got := pc.CurrentPercentile(1.0); got != 100 {
		t.Errorf("CurrentPercentile(1.0) = %v, want 100", got)
	}
	if got := pc.CurrentPercentile(0.0); got != 1 {
		t.Errorf("CurrentPercentile(0.0) (below minimum) = %v, want clamped to 1", got)
	}
}

func TestPercentiles_Bounds(t *testing.T) {
	points := []PricePoint{{FinalPricePLN: 0.2}, {FinalPricePLN: 0.4}, {FinalPricePLN: 0.6}}
	pc := NewPercentiles(points)

	if got := pc.Percentile(-5); got != 0.2 {
		t.Errorf("Percentile(-5) = %v, want min 0.2", got)
	}
	if got := pc.Percentile(150); got != 0.6 {
		t.Errorf("Percentile(150) = %v, want max 0.6", got)
	}
}
