package selling

// FloorConfig mirrors config.DynamicSOCThresholds.
type FloorConfig struct {
	CheapFloor               float64
	PremiumFloor             float64
	SuperPremiumFloor        float64
	SuperPremiumThresholdPLN float64
	AbsoluteSafetyFloor      float64
	RechargeOpportunityRatio float64
}

// MinimumSOC computes the minimum SoC at which selling is allowed for
// the given price, whether the site is currently inside a peak-label
// hour, and whether the forecast contains a recharge opportunity
// (some future point at or below ratio*currentPrice). Price-tier
// discounts off the cheap-tier floor only apply during a peak-label
// hour: outside peak hours the site is never in "premium" pricing
// regardless of the raw PLN price. The absolute safety floor is
// never crossed regardless of the other inputs.
func MinimumSOC(cfg FloorConfig, currentPricePLN float64, inPeakHour bool, forecastHasRechargeOpportunity bool) float64 {
	floor := cfg.CheapFloor

	if inPeakHour {
		if currentPricePLN >= cfg.SuperPremiumThresholdPLN && forecastHasRechargeOpportunity {
			floor = cfg.SuperPremiumFloor
		} else {
			floor = cfg.PremiumFloor
		}
	}

	if floor < cfg.AbsoluteSafetyFloor {
		floor = cfg.AbsoluteSafetyFloor
	}
	return floor
}

// HasRechargeOpportunity reports whether any forecast point within the
// lookahead falls to or below ratio*currentPrice, the signal that
// cheap grid recharge will be available if the battery is drawn down.
func HasRechargeOpportunity(currentPricePLN float64, forecastPricesPLN []float64, ratio float64) bool {
	threshold := currentPricePLN * ratio
	for _, p := range forecastPricesPLN {
		if p <= threshold {
			return true
		}
	}
	return false
}
