package tariff

import "math"

// Trend is the direction of a simple linear-regression fit over a
// price horizon (the supplemented price-volatility feature). It is not
// a decision input and is not part of the coordinator's status report.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// TrendAnalysis mirrors the original analyzer's analyze_price_trends:
// slope-based direction plus coefficient-of-variation volatility.
type TrendAnalysis struct {
	Trend         Trend
	Slope         float64
	Volatility    float64 // percent, stddev/mean
	MeanPricePLN  float64
	MinPricePLN   float64
	MaxPricePLN   float64
	PriceRangePLN float64
}

// AnalyzeTrend computes slope and volatility over the given points'
// final prices, in chronological order.
func AnalyzeTrend(points []PricePoint) TrendAnalysis {
	n := len(points)
	if n < 2 {
		return TrendAnalysis{Trend: TrendStable}
	}

	prices := make([]float64, n)
	var sumY float64
	for i, p := range points {
		prices[i] = p.FinalPricePLN
		sumY += p.FinalPricePLN
	}

	var sumX, sumXY, sumX2 float64
	for i, y := range prices {
		x := float64(i)
		sumX += x
		sumXY += x * y
		sumX2 += x * x
	}
	nf := float64(n)
	denom := nf*sumX2 - sumX*sumX
	var slope float64
	if denom != 0 {
		slope = (nf*sumXY - sumX*sumY) / denom
	}

	trend := TrendStable
	switch {
	case slope > 0.1:
		trend = TrendIncreasing
	case slope < -0.1:
		trend = TrendDecreasing
	}

	mean := sumY / nf
	var variance float64
	for _, y := range prices {
		variance += (y - mean) * (y - mean)
	}
	variance /= nf
	volatility := 0.0
	if mean > 0 {
		volatility = math.Sqrt(variance) / mean * 100
	}

	min, max := prices[0], prices[0]
	for _, y := range prices {
		if y < min {
			min = y
		}
		if y > max {
			max = y
		}
	}

	return TrendAnalysis{
		Trend: trend, Slope: math.Abs(slope), Volatility: volatility,
		MeanPricePLN: mean, MinPricePLN: min, MaxPricePLN: max, PriceRangePLN: max - min,
	}
}
