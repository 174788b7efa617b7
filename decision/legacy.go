// Package decision implements C6: the legacy weighted-scoring engine
// and the timing-aware hybrid engine, selectable by config.
package decision

import (
	"math"

	"github.com/sitewatt/energy-optimizer/collector"
)

// Action is the decision engine's recommended charging action.
type Action string

const (
	ActionNone            Action = "none"
	ActionStartCharging   Action = "start_charging"
	ActionContinueCharging Action = "continue_charging"
	ActionStopCharging    Action = "stop_charging"
)

// Priority classifies how urgently a decision should be acted on.
type Priority string

const (
	PriorityNone     Priority = "none"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Decision is the legacy engine's output.
type Decision struct {
	Action     Action
	Priority   Priority
	Confidence float64 // 0-100
	Reason     string
	Scores     ScoreBreakdown
}

// ScoreBreakdown exposes the four component scores for persistence
// and status reporting.
type ScoreBreakdown struct {
	Price       float64
	Battery     float64
	PV          float64
	Consumption float64
	Total       float64
}

// LegacyConfig parameterizes the weighted-scoring engine.
type LegacyConfig struct {
	OverproductionThresholdW float64
	CriticalSOCPct           float64
}

// LegacyEngine computes the four-factor weighted score (§4.5.1).
type LegacyEngine struct {
	cfg LegacyConfig
}

// NewLegacyEngine builds a legacy scoring engine.
func NewLegacyEngine(cfg LegacyConfig) *LegacyEngine {
	return &LegacyEngine{cfg: cfg}
}

func priceScore(finalPricePLNKWh float64) float64 {
	switch {
	case finalPricePLNKWh <= 0.20:
		return 100
	case finalPricePLNKWh <= 0.40:
		return 80
	case finalPricePLNKWh <= 0.60:
		return 40
	default:
		return 0
	}
}

func batteryScore(socPct float64) float64 {
	switch {
	case socPct <= 20:
		return 100
	case socPct <= 40:
		return 80
	case socPct <= 70:
		return 40
	case socPct <= 90:
		return 10
	default:
		return 0
	}
}

func pvScore(netPowerW, overproductionThresholdW float64) float64 {
	switch {
	case netPowerW > overproductionThresholdW:
		return 0
	case netPowerW < 0:
		deficit := -netPowerW
		switch {
		case deficit >= 2000:
			return 100
		case deficit >= 1000:
			return 80
		default:
			return 60
		}
	default:
		if netPowerW >= overproductionThresholdW*0.5 {
			return 10
		}
		return 30
	}
}

func consumptionScore(consumptionPowerW float64) float64 {
	switch {
	case consumptionPowerW >= 3000:
		return 100
	case consumptionPowerW >= 1000:
		return 60
	case consumptionPowerW >= 100:
		return 30
	default:
		return 0
	}
}

func confidence(scores ...float64) float64 {
	if len(scores) < 2 {
		return 100
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores) - 1) // sample variance, matches statistics.variance
	c := 100 - variance/10
	return math.Max(0, math.Min(100, c))
}

// Evaluate computes the weighted score and resulting action for one
// tick, given the current reading and final retail price.
func (e *LegacyEngine) Evaluate(r collector.Readings, finalPricePLNKWh float64, isCharging bool) Decision {
	netPower := r.Photovoltaic.PowerW.Or(0) - r.HouseConsumption.PowerW.Or(0)

	scores := ScoreBreakdown{
		Price:       priceScore(finalPricePLNKWh),
		Battery:     batteryScore(r.Battery.SOCPct),
		PV:          pvScore(netPower, e.cfg.OverproductionThresholdW),
		Consumption: consumptionScore(r.HouseConsumption.PowerW.Or(0)),
	}
	scores.Total = 0.40*scores.Price + 0.25*scores.Battery + 0.20*scores.PV + 0.15*scores.Consumption

	conf := confidence(scores.Price, scores.Battery, scores.PV, scores.Consumption)

	// Critical SoC overrides everything else.
	if r.Battery.SOCPct <= e.cfg.CriticalSOCPct {
		return Decision{Action: ActionStartCharging, Priority: PriorityCritical, Confidence: 100, Reason: "battery SoC at or below critical threshold", Scores: scores}
	}

	// PV overproduction vetoes any grid-driven charging regardless of score.
	if netPower > e.cfg.OverproductionThresholdW {
		if isCharging {
			return Decision{Action: ActionStopCharging, Priority: PriorityHigh, Confidence: conf, Reason: "PV overproduction, stopping grid charging", Scores: scores}
		}
		return Decision{Action: ActionNone, Priority: PriorityNone, Confidence: conf, Reason: "PV overproduction, no grid charging needed", Scores: scores}
	}

	if netPower < -1000 && r.Battery.SOCPct <= 40 && !isCharging {
		return Decision{Action: ActionStartCharging, Priority: PriorityHigh, Confidence: conf, Reason: "significant PV deficit with low battery", Scores: scores}
	}

	switch {
	case scores.Total >= 70:
		if isCharging {
			return Decision{Action: ActionContinueCharging, Priority: PriorityNormal, Confidence: conf, Reason: "weighted score favors charging", Scores: scores}
		}
		return Decision{Action: ActionStartCharging, Priority: PriorityNormal, Confidence: conf, Reason: "weighted score favors charging", Scores: scores}
	case scores.Total <= 30 && isCharging:
		return Decision{Action: ActionStopCharging, Priority: PriorityNormal, Confidence: conf, Reason: "weighted score no longer favors charging", Scores: scores}
	case scores.Total > 30 && scores.Total < 70 && isCharging:
		return Decision{Action: ActionContinueCharging, Priority: PriorityNormal, Confidence: conf, Reason: "weighted score in neutral band, continuing", Scores: scores}
	default:
		return Decision{Action: ActionNone, Priority: PriorityNone, Confidence: conf, Reason: "weighted score in neutral band", Scores: scores}
	}
}
