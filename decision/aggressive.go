package decision

import "github.com/sitewatt/energy-optimizer/tariff"

// AggressiveCategory pairs a percentile ceiling with the target SoC to
// charge to when the current price falls within it — the cheaper the
// percentile band, the more aggressively the battery is topped up.
type AggressiveCategory struct {
	PercentileMax float64
	TargetSOCPct  float64
}

// AggressiveConfig parameterizes the cheapest-price override.
type AggressiveConfig struct {
	PriceThresholdPercent float64 // only engages below this percentile
	Categories            []AggressiveCategory
}

// AggressiveEngine implements the cheapest-price aggressive-charging
// override: when the current price sits in an unusually cheap
// percentile of the horizon, charge past the hybrid engine's ordinary
// target, trading a deeper cycle for a price too good to leave on the
// table. It is consulted after the ordinary engines, not instead of
// them — it can only raise a charge decision's target SoC, never
// originate one on its own.
type AggressiveEngine struct {
	cfg AggressiveConfig
}

// NewAggressiveEngine builds the override engine.
func NewAggressiveEngine(cfg AggressiveConfig) *AggressiveEngine {
	return &AggressiveEngine{cfg: cfg}
}

// TargetSOC returns the aggressive target SoC for the current price's
// percentile rank, and whether the override applies at all. Categories
// are consulted in the order given; the first whose PercentileMax is
// at or above the current percentile wins.
func (e *AggressiveEngine) TargetSOC(pc *tariff.Percentiles, currentPricePLN float64) (targetSOCPct float64, applies bool) {
	if len(e.cfg.Categories) == 0 {
		return 0, false
	}
	percentile := float64(pc.CurrentPercentile(currentPricePLN))
	if percentile > e.cfg.PriceThresholdPercent {
		return 0, false
	}
	for _, cat := range e.cfg.Categories {
		if percentile <= cat.PercentileMax {
			return cat.TargetSOCPct, true
		}
	}
	return 0, false
}

// Apply raises a charge candidate's target SoC to the aggressive
// override's target when it applies and is higher than the candidate
// already planned, leaving a stop/wait/sell decision untouched.
func Apply(candidateKind ChargeKind, candidateTargetSOC float64, aggressiveTargetSOC float64, applies bool) (float64, bool) {
	if !applies {
		return candidateTargetSOC, false
	}
	switch candidateKind {
	case ChargeGrid, ChargePV, ChargeHybrid:
		if aggressiveTargetSOC > candidateTargetSOC {
			return aggressiveTargetSOC, true
		}
	}
	return candidateTargetSOC, false
}
