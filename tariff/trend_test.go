package tariff

import "testing"

func TestAnalyzeTrend_TooFewPoints(t *testing.T) {
	if got := AnalyzeTrend(nil).Trend; got != TrendStable {
		t.Errorf("AnalyzeTrend(nil) = %v, want stable", got)
	}
	if got := AnalyzeTrend([]PricePoint{{FinalPricePLN: 0.5}}).Trend; got != TrendStable {
		t.Errorf("AnalyzeTrend(1 point) = %v, want stable", got)
	}
}

func TestAnalyzeTrend_Increasing(t *testing.T) {
	points := []PricePoint{
		{FinalPricePLN: 0.3}, {FinalPricePLN: 0.5}, {FinalPricePLN: 0.7}, {FinalPricePLN: 0.9},
	}
	ta := AnalyzeTrend(points)
	if ta.Trend != TrendIncreasing {
		t.Errorf("Trend = %v, want increasing", ta.Trend)
	}
	if ta.MinPricePLN != 0.3 || ta.MaxPricePLN != 0.9 {
		t.Errorf("min/max = %v/%v, want 0.3/0.9", ta.MinPricePLN, ta.MaxPricePLN)
	}
	if diff := ta.PriceRangePLN - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("PriceRangePLN = %v, want 0.6", ta.PriceRangePLN)
	}
}

func TestAnalyzeTrend_Decreasing(t *testing.T) {
	points := []PricePoint{
		{FinalPricePLN: 0.9}, {FinalPricePLN: 0.7}, {FinalPricePLN: 0.5}, {FinalPricePLN: 0.3},
	}
	if got := AnalyzeTrend(points).Trend; got != TrendDecreasing {
		t.Errorf("Trend = %v, want decreasing", got)
	}
}

func TestAnalyzeTrend_StableWithVolatility(t *testing.T) {
	points := []PricePoint{
		{FinalPricePLN: 0.50}, {FinalPricePLN: 0.51}, {FinalPricePLN: 0.49}, {FinalPricePLN: 0.50},
	}
	ta := AnalyzeTrend(points)
	if ta.Trend != TrendStable {
		t.Errorf("Trend = %v, want stable", ta.Trend)
	}
	if ta.Volatility <= 0 {
		t.Errorf("Volatility = %v, want > 0 for varying prices", ta.Volatility)
	}
}
