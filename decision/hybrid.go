package decision

import (
	"time"

	"github.com/sitewatt/energy-optimizer/collector"
	"github.com/sitewatt/energy-optimizer/forecast"
	"github.com/sitewatt/energy-optimizer/tariff"
)

// ChargeKind distinguishes where charging energy comes from.
type ChargeKind string

const (
	ChargeGrid   ChargeKind = "charge_grid"
	ChargePV     ChargeKind = "charge_pv"
	ChargeHybrid ChargeKind = "charge_hybrid"
	WaitForPV    ChargeKind = "wait_for_pv"
	Wait         ChargeKind = "wait"
)

// HybridDecision is the timing-aware engine's output (§4.5.2).
type HybridDecision struct {
	Kind         ChargeKind
	Priority     Priority
	Confidence   float64 // 0-1
	TargetSOCPct float64
	EnergyKWh    float64
	DurationH    float64
	Reason       string
	Alternative  string
}

// HybridConfig parameterizes the timing-aware rule engine.
type HybridConfig struct {
	EmergencySOCPct         float64
	CriticalSOCPct          float64
	OverproductionThresholdW float64
	MinChargingDurationH    float64
	RisingPVThresholdW      float64
	LowCurrentPVW           float64
	NightHours              map[int]bool
	NightTargetSOCPoorPV    float64
	MaxNightChargingSOC     float64
	HighPricepercentile     float64
	BatteryCapacityKWh      float64
	GridChargeRateKW        float64
	PVEfficiency            float64
	GridEfficiency          float64
}

// HybridEngine implements the 9-rule first-match-wins algorithm.
type HybridEngine struct {
	hc HybridConfig
}

// NewHybridEngine builds the hybrid engine, reusing the legacy
// engine's scoring functions for the confidence output.
func NewHybridEngine(hybrid HybridConfig) *HybridEngine {
	return &HybridEngine{hc: hybrid}
}

// Evaluate runs the ordered rule cascade. currentBand is the tariff band
// of the current price; energyNeededKWh and pvForecastInWindowKWh describe
// the cheap charge window the caller found ahead (energyNeededKWh is zero
// when there is none);
// pvForecastRisingSlope/tomorrowPVClass/tomorrowPVForecastFailed/tomorrowHighPriceHours
// are derived by the caller from forecast.PVEstimator/price analysis.
func (e *HybridEngine) Evaluate(
	now time.Time,
	r collector.Readings,
	currentBand tariff.Band,
	peakLabel forecast.PeakLabel,
	pvForecastInWindowKWh float64,
	energyNeededKWh float64,
	pvForecastRisingSlope float64,
	tomorrowPVClass forecast.PVClass,
	tomorrowPVForecastFailed bool,
	tomorrowHighPriceHours int,
) HybridDecision {
	soc := r.Battery.SOCPct
	pv := r.Photovoltaic.PowerW.Or(0)
	consumption := r.HouseConsumption.PowerW.Or(0)
	net := pv - consumption

	conf := confidence(batteryScore(soc), pvScore(net, e.hc.OverproductionThresholdW), consumptionScore(consumption)) / 100.0

	// Rule 1: emergency SoC, bypasses peak-label soft blocks.
	if soc <= e.hc.EmergencySOCPct {
		return e.sized(ChargeGrid, PriorityCritical, 1.0, 100, "emergency battery SoC", now, "")
	}

	// Rule 2: critical SoC, ignores weather-aware waits.
	if soc <= e.hc.CriticalSOCPct {
		return e.sized(ChargeGrid, PriorityCritical, 1.0, 100, "critical battery SoC", now, "")
	}

	candidateIsStartCharge := currentBand == tariff.BandSuperCheap || currentBand == tariff.BandVeryCheap || currentBand == tariff.BandCheap

	// Rule 3: hard regulatory veto.
	if peakLabel == forecast.PeakRequiredReduction && candidateIsStartCharge {
		return HybridDecision{Kind: Wait, Priority: PriorityNormal, Confidence: conf, Reason: "required reduction peak-label vetoes grid charging"}
	}

	// Rule 4: soft regulatory defer.
	if peakLabel == forecast.PeakRecommendedSaving && candidateIsStartCharge {
		return HybridDecision{Kind: Wait, Priority: PriorityNormal, Confidence: conf, Reason: "recommended saving peak-label defers grid charging"}
	}

	// Rule 5: PV overproduction.
	if net >= e.hc.OverproductionThresholdW && soc < 95 {
		return e.sized(ChargePV, PriorityHigh, conf, 95, "PV overproduction available", now, "")
	}

	// Rule 6: cheap band now and the caller found a qualifying cheap
	// window (energyNeededKWh > 0); hybrid when the window's PV forecast
	// covers at least 30% of the need, grid otherwise.
	if candidateIsStartCharge && energyNeededKWh > 0 {
		if pvForecastInWindowKWh/energyNeededKWh >= 0.30 {
			return e.sized(ChargeHybrid, PriorityNormal, conf, 90, "low-price window with partial PV coverage", now, "")
		}
		return e.sized(ChargeGrid, PriorityNormal, conf, 90, "inside low-price window, PV forecast insufficient", now, "")
	}

	// Rule 7: rising PV forecast.
	if pvForecastRisingSlope > 0.1 && pv >= e.hc.RisingPVThresholdW && currentBand != tariff.BandSuperCheap {
		if pv < e.hc.LowCurrentPVW {
			return e.sized(ChargeGrid, PriorityNormal, conf, 80, "current PV too low to justify waiting", now, "")
		}
		alt := "charge_now_if_SoC<40"
		return HybridDecision{Kind: WaitForPV, Priority: PriorityNormal, Confidence: conf, Reason: "PV forecast rising, deferring to solar", Alternative: alt}
	}

	// Rule 8: night-charging preparation.
	if e.hc.NightHours[now.Hour()] && candidateIsStartCharge {
		poorPV := tomorrowPVClass == forecast.PVPoor || tomorrowPVForecastFailed
		if poorPV && tomorrowHighPriceHours >= 4 {
			return e.sized(ChargeGrid, PriorityNormal, conf, e.hc.NightTargetSOCPoorPV, "night preparation for poor PV day with expensive hours ahead", now, "")
		}
		if poorPV {
			return e.sized(ChargeGrid, PriorityNormal, conf, e.hc.MaxNightChargingSOC, "night preparation, conservative cap", now, "")
		}
	}

	// Rule 9: default.
	return HybridDecision{Kind: Wait, Priority: PriorityNone, Confidence: conf, Reason: "no rule matched, waiting"}
}

func (e *HybridEngine) sized(kind ChargeKind, priority Priority, confidence float64, targetSOC float64, reason string, now time.Time, alt string) HybridDecision {
	energyKWh := 0.0
	durationH := 0.0
	return HybridDecision{
		Kind: kind, Priority: priority, Confidence: confidence,
		TargetSOCPct: targetSOC, EnergyKWh: energyKWh, DurationH: durationH,
		Reason: reason, Alternative: alt,
	}
}

// Size computes energy_kwh and duration_h for a target SoC, per §4.5.2's
// sizing formula: energy = max(0, (target-soc)/100*capacity); duration =
// energy / effective_power, with kind selecting the effective rate and
// efficiency.
func (e *HybridEngine) Size(currentSOCPct, targetSOCPct float64, kind ChargeKind, availablePVKW float64) (energyKWh, durationH float64) {
	energyKWh = (targetSOCPct - currentSOCPct) / 100.0 * e.hc.BatteryCapacityKWh
	if energyKWh < 0 {
		energyKWh = 0
	}
	var effectiveKW float64
	switch kind {
	case ChargePV:
		effectiveKW = availablePVKW * e.hc.PVEfficiency
	case ChargeHybrid:
		effectiveKW = (availablePVKW*e.hc.PVEfficiency + e.hc.GridChargeRateKW*e.hc.GridEfficiency)
	default:
		effectiveKW = e.hc.GridChargeRateKW * e.hc.GridEfficiency
	}
	if effectiveKW <= 0 {
		return energyKWh, 0
	}
	return energyKWh, energyKWh / effectiveKW
}

// WaitCooldown computes wait_cooldown_until for a wait decision; the
// coordinator applies it only when the wait follows a charge decision
// (§4.5.2). Critical/emergency priorities bypass the cooldown entirely.
func WaitCooldown(now time.Time, priority Priority) (time.Time, bool) {
	if priority == PriorityCritical {
		return time.Time{}, false
	}
	return now.Add(15 * time.Minute), true
}
