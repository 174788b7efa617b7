// Package tariff implements C5: final retail price composition, band
// classification, window detection and percentile analysis over a
// sequence of market price points.
package tariff

import (
	"fmt"
	"time"

	"github.com/sitewatt/energy-optimizer/config"
	"github.com/sitewatt/energy-optimizer/forecast"
)

// Band is the coarse price classification used by the decision and
// selling engines.
type Band string

const (
	BandSuperCheap    Band = "super_cheap"
	BandVeryCheap     Band = "very_cheap"
	BandCheap         Band = "cheap"
	BandModerate      Band = "moderate"
	BandExpensive     Band = "expensive"
	BandVeryExpensive Band = "very_expensive"
)

// PricePoint is one interval's market price plus the computed final
// retail price and band.
type PricePoint struct {
	Start          time.Time
	End            time.Time
	MarketPriceMWh float64
	FinalPricePLN  float64 // PLN/kWh
	Band           Band
}

// ErrMissingPeakLabel is returned at startup when the G14-dynamic
// profile is configured but no peak-label feed is available (§4.4:
// "missing it is a fatal configuration error detected at startup").
var ErrMissingPeakLabel = fmt.Errorf("tariff: g14dynamic profile requires a peak-label feed")

// Tariff composes market prices into final retail prices per the
// configured profile, and is the single source of truth for "current
// price": the coordinator calls FinalPrice and passes the result to the
// decision and selling engines, which never recompute the tariff.
type Tariff struct {
	cfg        config.ElectricityTariffConfig
	peakLabels *forecast.PeakLabelSource // nil unless tariff_type == g14dynamic
}

// New validates the tariff profile against its prerequisites and
// returns a ready-to-use Tariff.
func New(cfg config.ElectricityTariffConfig, peakLabels *forecast.PeakLabelSource) (*Tariff, error) {
	switch cfg.TariffType {
	case "flat", "g12w":
		// no external feed required
	case "g14dynamic":
		if peakLabels == nil || !peakLabels.Available() {
			return nil, ErrMissingPeakLabel
		}
	default:
		return nil, fmt.Errorf("tariff: unknown tariff_type %q", cfg.TariffType)
	}
	return &Tariff{cfg: cfg, peakLabels: peakLabels}, nil
}

// tariffComponent returns the distribution/tax component to add to
// the market price at time t, per the configured profile.
func (t *Tariff) tariffComponent(at time.Time) float64 {
	switch t.cfg.TariffType {
	case "g12w":
		hour := at.Hour()
		if hourInNightWindow(hour, t.cfg.G12WNightStartHour, t.cfg.G12WNightEndHour) {
			return t.cfg.G12WNightComponent
		}
		return t.cfg.G12WDayComponent
	case "g14dynamic":
		switch t.peakLabels.At(at) {
		case forecast.PeakRequiredReduction:
			return t.cfg.G14RequiredReduction
		case forecast.PeakRecommendedSaving:
			return t.cfg.G14RecommendedSaving
		case forecast.PeakRecommendedUse:
			return t.cfg.G14RecommendedUse
		default:
			return t.cfg.SCComponentPLNKWh
		}
	default: // "flat"
		return t.cfg.SCComponentPLNKWh
	}
}

func hourInNightWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end // wraps past midnight
}

// FinalPrice computes the retail PLN/kWh price at time t from a
// market price in PLN/MWh. This is the one place the system computes
// "current price"; callers must not duplicate this arithmetic.
func (t *Tariff) FinalPrice(at time.Time, marketPricePLNMWh float64) float64 {
	return marketPricePLNMWh/1000.0 + t.tariffComponent(at)
}

// Classify maps a final PLN/kWh price onto a Band using the
// configured, strictly monotonic thresholds.
func (t *Tariff) Classify(finalPricePLN float64) Band {
	b := t.cfg.BandThresholds
	switch {
	case finalPricePLN <= b.SuperCheap:
		return BandSuperCheap
	case finalPricePLN <= b.VeryCheap:
		return BandVeryCheap
	case finalPricePLN <= b.Cheap:
		return BandCheap
	case finalPricePLN <= b.Moderate:
		return BandModerate
	case finalPricePLN <= b.Expensive:
		return BandExpensive
	default:
		return BandVeryExpensive
	}
}

// Compose turns a sequence of market price points into final,
// band-classified PricePoints.
func (t *Tariff) Compose(points []forecast.PricePoint) []PricePoint {
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		final := t.FinalPrice(p.Start, p.MarketPriceMWh)
		out = append(out, PricePoint{
			Start:          p.Start,
			End:            p.End,
			MarketPriceMWh: p.MarketPriceMWh,
			FinalPricePLN:  final,
			Band:           t.Classify(final),
		})
	}
	return out
}
