package decision

import (
	"testing"

	"github.com/sitewatt/energy-optimizer/tariff"
)

func percentiles(prices ...float64) *tariff.Percentiles {
	points := make([]tariff.PricePoint, len(prices))
	for i, p := range prices {
		points[i] = tariff.PricePoint{FinalPricePLN: p}
	}
	return tariff.NewPercentiles(points)
}

func TestAggressiveEngine_NoCategoriesNeverApplies(t *testing.T) {
	e := NewAggressiveEngine(AggressiveConfig{})
	_, applies := e.TargetSOC(percentiles(0.1, 0.5, 0.9), 0.1)
	if applies {
		t.Error("expected no override with zero categories configured")
	}
}

func TestAggressiveEngine_AboveThresholdDoesNotApply(t *testing.T) {
	e := NewAggressiveEngine(AggressiveConfig{
		PriceThresholdPercent: 20,
		Categories:            []AggressiveCategory{{PercentileMax: 20, TargetSOCPct: 100}},
	})
	pc := percentiles(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0)
	_, applies := e.TargetSOC(pc, 0.9) // 90th percentile, well above the 20% threshold
	if applies {
		t.Error("expected no override above the price threshold percentile")
	}
}

func TestAggressiveEngine_CheapestCategoryWins(t *testing.T) {
	e := NewAggressiveEngine(AggressiveConfig{
		PriceThresholdPercent: 50,
		Categories: []AggressiveCategory{
			{PercentileMax: 10, TargetSOCPct: 100},
			{PercentileMax: 30, TargetSOCPct: 90},
			{PercentileMax: 50, TargetSOCPct: 80},
		},
	})
	pc := percentiles(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0)

	target, applies := e.TargetSOC(pc, 0.1) // lowest price => lowest percentile
	if !applies || target != 100 {
		t.Errorf("expected cheapest category (target 100), got target=%v applies=%v", target, applies)
	}
}

func TestAggressiveEngine_MidCategory(t *testing.T) {
	e := NewAggressiveEngine(AggressiveConfig{
		PriceThresholdPercent: 50,
		Categories: []AggressiveCategory{
			{PercentileMax: 10, TargetSOCPct: 100},
			{PercentileMax: 30, TargetSOCPct: 90},
			{PercentileMax: 50, TargetSOCPct: 80},
		},
	})
	pc := percentiles(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0)

	target, applies := e.TargetSOC(pc, 0.3)
	if !applies || target != 90 {
		t.Errorf("expected mid category (target 90), got target=%v applies=%v", target, applies)
	}
}

func TestApply_RaisesOnlyChargeCandidates(t *testing.T) {
	if target, did := Apply(ChargeGrid, 70, 90, true); !did || target != 90 {
		t.Errorf("expected raise to 90 for charge_grid, got target=%v did=%v", target, did)
	}
	if target, did := Apply(ChargeGrid, 95, 90, true); did || target != 95 {
		t.Errorf("expected no raise when aggressive target is lower, got target=%v did=%v", target, did)
	}
	if _, did := Apply(Wait, 0, 90, true); did {
		t.Error("expected Apply to never raise a wait decision's target")
	}
	if _, did := Apply(ChargeGrid, 70, 90, false); did {
		t.Error("expected Apply to no-op when applies is false")
	}
}
