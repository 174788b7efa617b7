package tariff

import "sort"

// Percentiles provides percentile/mean/median/rank queries over a
// fixed horizon of final prices (typically the next 24h), per §4.4.
type Percentiles struct {
	sorted []float64
	sum    float64
}

// NewPercentiles builds a Percentiles view from a set of points.
func NewPercentiles(points []PricePoint) *Percentiles {
	prices := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		prices[i] = p.FinalPricePLN
		sum += p.FinalPricePLN
	}
	sort.Float64s(prices)
	return &Percentiles{sorted: prices, sum: sum}
}

// Percentile returns the price at percentile p (1-100): the sorted
// price at index floor(p/100*(n-1)), without interpolation.
func (pc *Percentiles) Percentile(p float64) float64 {
	if len(pc.sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return pc.sorted[0]
	}
	if p >= 100 {
		return pc.sorted[len(pc.sorted)-1]
	}
	idx := int(p / 100 * float64(len(pc.sorted)-1))
	return pc.sorted[idx]
}

// Median returns the 50th percentile.
func (pc *Percentiles) Median() float64 { return pc.Percentile(50) }

// Mean returns the arithmetic mean of all prices in the horizon.
func (pc *Percentiles) Mean() float64 {
	if len(pc.sorted) == 0 {
		return 0
	}
	return pc.sum / float64(len(pc.sorted))
}

// CurrentPercentile returns the count-based rank of price within the
// horizon, as an integer percent 1-100.
func (pc *Percentiles) CurrentPercentile(price float64) int {
	if len(pc.sorted) == 0 {
		return 0
	}
	count := 0
	for _, v := range pc.sorted {
		if v <= price {
			count++
		}
	}
	pct := count * 100 / len(pc.sorted)
	if pct < 1 {
		pct = 1
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}
