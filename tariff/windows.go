package tariff

import (
	"sort"
	"time"
)

// Window is a maximal run of consecutive price points at or beyond a
// band threshold, with derived savings/duration metrics (§4.4).
type Window struct {
	Start            time.Time
	End              time.Time
	DurationH        float64
	AvgPricePLN      float64
	MinPricePLN      float64
	MaxPricePLN      float64
	Band             Band
	SavingsPotential float64
}

var bandOrder = map[Band]int{
	BandSuperCheap:    0,
	BandVeryCheap:     1,
	BandCheap:         2,
	BandModerate:      3,
	BandExpensive:     4,
	BandVeryExpensive: 5,
}

// categoryWeight mirrors the original analyzer's savings-potential
// weighting: cheaper categories are worth proportionally more when
// selecting a charging window, and (mirrored) pricier categories are
// worth more for a selling window.
func categoryWeight(b Band, forSelling bool) float64 {
	weights := map[Band]float64{
		BandSuperCheap: 1.5, BandVeryCheap: 1.2, BandCheap: 1.0,
		BandModerate: 1.0, BandExpensive: 1.2, BandVeryExpensive: 1.5,
	}
	w := weights[b]
	if forSelling {
		// invert: expensive/very_expensive bands are the valuable ones
		// for a sell window, so their weight should dominate instead.
		switch b {
		case BandVeryExpensive:
			return 1.5
		case BandExpensive:
			return 1.2
		case BandSuperCheap, BandVeryCheap:
			return 0.5
		}
	}
	return w
}

// FindChargeWindows returns maximal runs of points whose band is at or
// below lowBand. Two runs are merged when the gap between them is
// <= maxGap and the points where they meet share the same band; runs
// shorter than minDurationH are discarded. referencePrice anchors
// savings_potential.
func FindChargeWindows(points []PricePoint, lowBand Band, minDurationH float64, maxGap time.Duration, referencePrice float64) []Window {
	return findWindows(points, func(b Band) bool { return bandOrder[b] <= bandOrder[lowBand] }, minDurationH, maxGap, referencePrice, false)
}

// FindSellWindows returns maximal runs of points whose band is at or
// above highBand — the selling-engine counterpart to FindChargeWindows.
func FindSellWindows(points []PricePoint, highBand Band, minDurationH float64, maxGap time.Duration, referencePrice float64) []Window {
	return findWindows(points, func(b Band) bool { return bandOrder[b] >= bandOrder[highBand] }, minDurationH, maxGap, referencePrice, true)
}

func findWindows(points []PricePoint, inBand func(Band) bool, minDurationH float64, maxGap time.Duration, referencePrice float64, forSelling bool) []Window {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var runs [][]PricePoint
	var current []PricePoint
	for _, p := range sorted {
		if !inBand(p.Band) {
			if len(current) > 0 {
				runs = append(runs, current)
				current = nil
			}
			continue
		}
		if len(current) > 0 {
			gap := p.Start.Sub(current[len(current)-1].End)
			if gap > maxGap {
				runs = append(runs, current)
				current = nil
			}
		}
		current = append(current, p)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}

	// merge adjacent runs separated by a gap <= maxGap of the same band
	runs = mergeRuns(runs, maxGap)

	var windows []Window
	for _, run := range runs {
		w := buildWindow(run, forSelling, referencePrice)
		if w.DurationH >= minDurationH {
			windows = append(windows, w)
		}
	}
	return windows
}

func mergeRuns(runs [][]PricePoint, maxGap time.Duration) [][]PricePoint {
	if len(runs) < 2 {
		return runs
	}
	merged := [][]PricePoint{runs[0]}
	for _, run := range runs[1:] {
		last := merged[len(merged)-1]
		gap := run[0].Start.Sub(last[len(last)-1].End)
		sameBand := last[len(last)-1].Band == run[0].Band
		if gap <= maxGap && sameBand {
			merged[len(merged)-1] = append(last, run...)
		} else {
			merged = append(merged, run)
		}
	}
	return merged
}

func buildWindow(run []PricePoint, forSelling bool, referencePrice float64) Window {
	var sum, min, max float64
	min = run[0].FinalPricePLN
	max = run[0].FinalPricePLN
	for _, p := range run {
		sum += p.FinalPricePLN
		if p.FinalPricePLN < min {
			min = p.FinalPricePLN
		}
		if p.FinalPricePLN > max {
			max = p.FinalPricePLN
		}
	}
	avg := sum / float64(len(run))
	start := run[0].Start
	end := run[len(run)-1].End
	durationH := end.Sub(start).Hours()

	band := dominantBand(run)
	durationWeight := durationH / 2.0
	if durationWeight > 1.0 {
		durationWeight = 1.0
	}

	var savingsPerUnit float64
	if forSelling {
		savingsPerUnit = avg - referencePrice
	} else {
		savingsPerUnit = referencePrice - avg
	}
	if savingsPerUnit < 0 {
		savingsPerUnit = 0
	}
	savings := savingsPerUnit * durationWeight * categoryWeight(band, forSelling)

	return Window{
		Start: start, End: end, DurationH: durationH,
		AvgPricePLN: avg, MinPricePLN: min, MaxPricePLN: max,
		Band: band, SavingsPotential: savings,
	}
}

func dominantBand(run []PricePoint) Band {
	counts := map[Band]int{}
	for _, p := range run {
		counts[p.Band]++
	}
	var best Band
	bestCount := -1
	for b, c := range counts {
		if c > bestCount {
			best = b
			bestCount = c
		}
	}
	return best
}

// SortForCharging orders windows by savings_potential desc, then
// start asc (§4.4 tie-breaking).
func SortForCharging(windows []Window) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].SavingsPotential != windows[j].SavingsPotential {
			return windows[i].SavingsPotential > windows[j].SavingsPotential
		}
		return windows[i].Start.Before(windows[j].Start)
	})
}

// SortForSelling orders windows by avg_price desc, then start asc.
func SortForSelling(windows []Window) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].AvgPricePLN != windows[j].AvgPricePLN {
			return windows[i].AvgPricePLN > windows[j].AvgPricePLN
		}
		return windows[i].Start.Before(windows[j].Start)
	})
}
