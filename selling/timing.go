// Package selling implements C7: the battery-selling timing engine.
// It mirrors the decision engine's shape (rule cascade, confidence,
// reasoning string) but answers a different question: given the
// current price and a forecast, should the site sell stored energy
// now, wait for a better price, or hold no opportunity at all.
package selling

import (
	"math"
	"sort"
	"time"

	"github.com/sitewatt/energy-optimizer/tariff"
)

// Trend is the direction of the short lookahead price trend.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)

// TimingDecision is the selling engine's recommended action.
type TimingDecision string

const (
	SellNow        TimingDecision = "sell_now"
	WaitForPeak    TimingDecision = "wait_for_peak"
	WaitForHigher  TimingDecision = "wait_for_higher"
	NoOpportunity  TimingDecision = "no_opportunity"
)

// PriceAnalysis summarizes where the current price sits within the
// lookahead horizon.
type PriceAnalysis struct {
	CurrentPrice      float64
	MinPrice          float64
	MaxPrice          float64
	AvgPrice          float64
	MedianPrice       float64
	Percentile25th    float64
	Percentile75th    float64
	Percentile90th    float64
	CurrentPercentile float64 // 0-100
	IsHighPrice       bool    // top 25%
	IsPeakPrice       bool    // top 10%
}

// PeakInfo describes the best upcoming price within the wait window.
type PeakInfo struct {
	PeakTime            time.Time
	PeakPrice           float64
	TimeToPeakHours     float64
	PriceIncreasePercent float64
	Confidence          float64
}

// Window is a contiguous run of forecast points at or above the
// selling threshold price.
type Window struct {
	Start      time.Time
	End        time.Time
	DurationH  float64
	AvgPrice   float64
	PeakPrice  float64
	Confidence float64
	Priority   int // 1 = highest
}

// Recommendation is the timing engine's output for one evaluation.
type Recommendation struct {
	Decision          TimingDecision
	Confidence        float64
	Reason            string
	SellTime          time.Time
	ExpectedPricePLN  float64
	OpportunityCostPLN float64
	Peak              *PeakInfo
	Windows           []Window
	WaitHours         float64
	RiskLevel         string // low | medium | high
}

// Config parameterizes the timing engine, mirroring
// config.BatterySellingConfig.SmartTiming plus battery capacity.
type Config struct {
	TrendWindowHours          float64
	MaxWaitTimeHours          float64
	MinPeakDifferencePercent  float64
	NearPeakThresholdPercent  float64
	SignificantOpportunityPLN float64
	MarginalOpportunityPLN    float64
	RisingThreshold           float64
	FallingThreshold          float64
	BatteryCapacityKWh        float64
	ForecastLookaheadHours    float64
	MaxSessionsPerDay         int
}

// Engine evaluates selling timing from a price forecast.
type Engine struct {
	cfg Config
}

// NewEngine builds a selling timing engine.
func NewEngine(cfg Config) *Engine {
	if cfg.RisingThreshold == 0 {
		cfg.RisingThreshold = 0.02
	}
	if cfg.FallingThreshold == 0 {
		cfg.FallingThreshold = -0.02
	}
	if cfg.MarginalOpportunityPLN == 0 {
		cfg.MarginalOpportunityPLN = cfg.SignificantOpportunityPLN / 4
	}
	return &Engine{cfg: cfg}
}

// Evaluate runs the full timing analysis for a sale considered at
// `now`, given the current final price, the forecast horizon
// (chronologically ordered), available SoC above the safety margin,
// and the forecast's confidence (1.0 for a fresh ENTSO-E fetch,
// degraded when stale).
func (e *Engine) Evaluate(now time.Time, currentPricePLN float64, forecast []tariff.PricePoint, availableEnergyKWh float64, forecastConfidence float64) Recommendation {
	if len(forecast) == 0 || forecastConfidence < 0.6 {
		return e.immediateSell(now, currentPricePLN, "forecast unavailable or low confidence")
	}

	analysis := e.analyzePriceContext(currentPricePLN, forecast)
	peak := e.detectPeak(now, currentPricePLN, forecast)
	trend := e.analyzeTrend(now, forecast)
	oppCost := e.opportunityCost(currentPricePLN, peak, availableEnergyKWh)
	windows := e.identifyWindows(now, forecast)

	return e.decide(now, currentPricePLN, analysis, peak, trend, oppCost, windows, forecastConfidence)
}

func (e *Engine) analyzePriceContext(currentPrice float64, forecast []tariff.PricePoint) PriceAnalysis {
	prices := make([]float64, 0, len(forecast)+1)
	prices = append(prices, currentPrice)
	for _, p := range forecast {
		if p.FinalPricePLN > 0 {
			prices = append(prices, p.FinalPricePLN)
		}
	}
	if len(prices) < 2 {
		return PriceAnalysis{CurrentPrice: currentPrice, MinPrice: currentPrice, MaxPrice: currentPrice, AvgPrice: currentPrice, MedianPrice: currentPrice, Percentile25th: currentPrice, Percentile75th: currentPrice, Percentile90th: currentPrice, CurrentPercentile: 50}
	}

	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	var sum float64
	for _, p := range prices {
		sum += p
	}
	avg := sum / float64(len(prices))
	median := percentileOf(sorted, 50)

	rank := 0
	for _, p := range prices {
		if p <= currentPrice {
			rank++
		}
	}
	currentPercentile := float64(rank) / float64(len(prices)) * 100

	p75 := sorted[int(float64(len(sorted))*0.75)]
	p90 := sorted[int(float64(len(sorted))*0.90)]

	return PriceAnalysis{
		CurrentPrice: currentPrice, MinPrice: sorted[0], MaxPrice: sorted[len(sorted)-1],
		AvgPrice: avg, MedianPrice: median,
		Percentile25th: sorted[int(float64(len(sorted))*0.25)], Percentile75th: p75, Percentile90th: p90,
		CurrentPercentile: currentPercentile,
		IsHighPrice:       currentPrice >= p75,
		IsPeakPrice:       currentPrice >= p90,
	}
}

func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (e *Engine) detectPeak(now time.Time, currentPrice float64, forecast []tariff.PricePoint) *PeakInfo {
	maxWait := now.Add(time.Duration(e.cfg.MaxWaitTimeHours * float64(time.Hour)))

	peakPrice := currentPrice
	peakTime := now
	for _, p := range forecast {
		if p.Start.After(maxWait) {
			continue
		}
		if p.FinalPricePLN > peakPrice {
			peakPrice = p.FinalPricePLN
			peakTime = p.Start
		}
	}
	if peakPrice <= currentPrice {
		return nil
	}

	timeToPeak := peakTime.Sub(now).Hours()
	increasePercent := (peakPrice - currentPrice) / currentPrice * 100
	if increasePercent < e.cfg.MinPeakDifferencePercent {
		return nil
	}

	confidence := math.Min(1.0, increasePercent/30.0)
	if timeToPeak > e.cfg.MaxWaitTimeHours*0.75 {
		confidence *= 0.8
	}

	return &PeakInfo{PeakTime: peakTime, PeakPrice: peakPrice, TimeToPeakHours: timeToPeak, PriceIncreasePercent: increasePercent, Confidence: confidence}
}

func (e *Engine) analyzeTrend(now time.Time, forecast []tariff.PricePoint) Trend {
	if len(forecast) < 3 {
		return TrendUnknown
	}
	windowEnd := now.Add(time.Duration(e.cfg.TrendWindowHours * float64(time.Hour)))

	var prices []float64
	for _, p := range forecast {
		if p.Start.After(windowEnd) {
			continue
		}
		if p.FinalPricePLN > 0 {
			prices = append(prices, p.FinalPricePLN)
		}
	}
	if len(prices) < 3 {
		return TrendUnknown
	}

	n := float64(len(prices))
	var sumX, sumY float64
	for i, y := range prices {
		sumX += float64(i)
		sumY += y
	}
	xMean := sumX / n
	yMean := sumY / n

	var num, den float64
	for i, y := range prices {
		x := float64(i)
		num += (x - xMean) * (y - yMean)
		den += (x - xMean) * (x - xMean)
	}
	if den == 0 {
		return TrendStable
	}
	slope := num / den
	normalized := 0.0
	if yMean > 0 {
		normalized = slope / yMean
	}

	switch {
	case normalized > e.cfg.RisingThreshold:
		return TrendRising
	case normalized < e.cfg.FallingThreshold:
		return TrendFalling
	default:
		return TrendStable
	}
}

func (e *Engine) opportunityCost(currentPrice float64, peak *PeakInfo, availableEnergyKWh float64) float64 {
	if peak == nil || availableEnergyKWh <= 0 {
		return 0
	}
	currentRevenue := availableEnergyKWh * currentPrice
	peakRevenue := availableEnergyKWh * peak.PeakPrice
	cost := peakRevenue - currentRevenue
	if cost < 0 {
		return 0
	}
	return cost
}

func (e *Engine) identifyWindows(now time.Time, forecast []tariff.PricePoint) []Window {
	lookahead := now.Add(time.Duration(e.cfg.ForecastLookaheadHours * float64(time.Hour)))

	var prices []float64
	for _, p := range forecast {
		if p.FinalPricePLN > 0 {
			prices = append(prices, p.FinalPricePLN)
		}
	}
	if len(prices) < 4 {
		return nil
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	threshold := sorted[int(float64(len(sorted))*0.75)]
	globalPeak := sorted[len(sorted)-1]

	var windows []Window
	var windowStart time.Time
	var windowPrices []float64
	inWindow := false

	flush := func(end time.Time) {
		if !inWindow || len(windowPrices) == 0 {
			return
		}
		duration := end.Sub(windowStart).Hours()
		if duration >= 0.5 {
			var sum float64
			peak := windowPrices[0]
			for _, v := range windowPrices {
				sum += v
				if v > peak {
					peak = v
				}
			}
			priority := 2
			if peak >= globalPeak*0.95 {
				priority = 1
			}
			windows = append(windows, Window{
				Start: windowStart, End: end, DurationH: duration,
				AvgPrice: sum / float64(len(windowPrices)), PeakPrice: peak,
				Confidence: 0.8, Priority: priority,
			})
		}
		inWindow = false
		windowPrices = nil
	}

	for _, p := range forecast {
		if p.Start.After(lookahead) {
			continue
		}
		if p.FinalPricePLN >= threshold {
			if !inWindow {
				windowStart = p.Start
				inWindow = true
			}
			windowPrices = append(windowPrices, p.FinalPricePLN)
		} else {
			flush(p.Start)
		}
	}
	flush(lookahead)

	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Priority != windows[j].Priority {
			return windows[i].Priority < windows[j].Priority
		}
		return windows[i].PeakPrice > windows[j].PeakPrice
	})
	if e.cfg.MaxSessionsPerDay > 0 && len(windows) > e.cfg.MaxSessionsPerDay {
		windows = windows[:e.cfg.MaxSessionsPerDay]
	}
	return windows
}

func (e *Engine) decide(now time.Time, currentPrice float64, analysis PriceAnalysis, peak *PeakInfo, trend Trend, oppCost float64, windows []Window, forecastConfidence float64) Recommendation {
	// Rule 1: current price at/near peak (top 10%).
	if analysis.IsPeakPrice {
		nearPeak := analysis.MaxPrice * (e.cfg.NearPeakThresholdPercent / 100)
		if currentPrice >= nearPeak {
			return Recommendation{
				Decision: SellNow, Confidence: 0.95,
				Reason:           "current price is at peak, top 10% of lookahead window",
				SellTime:         now, ExpectedPricePLN: currentPrice,
				Windows: windows, RiskLevel: "low",
			}
		}
	}

	// Rule 2: falling trend, no meaningful peak ahead.
	if trend == TrendFalling && (peak == nil || peak.PriceIncreasePercent < 5) {
		return Recommendation{
			Decision: SellNow, Confidence: 0.85,
			Reason:   "price is falling with no significant peak ahead",
			SellTime: now, ExpectedPricePLN: currentPrice,
			Peak: peak, Windows: windows, RiskLevel: "medium",
		}
	}

	// Rule 3: significant opportunity cost, wait for the peak.
	if peak != nil && oppCost >= e.cfg.SignificantOpportunityPLN {
		risk := "medium"
		if peak.TimeToPeakHours < 2 {
			risk = "low"
		}
		return Recommendation{
			Decision: WaitForPeak, Confidence: peak.Confidence * forecastConfidence,
			Reason:              "significant price increase expected before selling",
			SellTime:            peak.PeakTime, ExpectedPricePLN: peak.PeakPrice,
			OpportunityCostPLN: oppCost, Peak: peak, Windows: windows,
			WaitHours: peak.TimeToPeakHours, RiskLevel: risk,
		}
	}

	// Rule 4: current price high (top 25%) and near peak threshold.
	if analysis.IsHighPrice {
		nearPeak := analysis.MaxPrice * (e.cfg.NearPeakThresholdPercent / 100)
		if currentPrice >= nearPeak {
			return Recommendation{
				Decision: SellNow, Confidence: 0.80,
				Reason:   "current price is high, top 25% and near the forecast peak",
				SellTime: now, ExpectedPricePLN: currentPrice,
				OpportunityCostPLN: oppCost, Peak: peak, Windows: windows, RiskLevel: "low",
			}
		}
	}

	// Rule 5: moderate opportunity within the wait window.
	if peak != nil && peak.TimeToPeakHours <= e.cfg.MaxWaitTimeHours {
		return Recommendation{
			Decision: WaitForHigher, Confidence: peak.Confidence * forecastConfidence * 0.8,
			Reason:              "moderate price improvement expected within the wait window",
			SellTime:            peak.PeakTime, ExpectedPricePLN: peak.PeakPrice,
			OpportunityCostPLN: oppCost, Peak: peak, Windows: windows,
			WaitHours: peak.TimeToPeakHours, RiskLevel: "medium",
		}
	}

	// Rule 6: price below the high threshold, no opportunity.
	if !analysis.IsHighPrice {
		return Recommendation{
			Decision: NoOpportunity, Confidence: 0.90,
			Reason:   "current price below the high-price threshold",
			Peak:     peak, Windows: windows, RiskLevel: "high",
		}
	}

	// Rule 7: default, conservative capture.
	return Recommendation{
		Decision: SellNow, Confidence: 0.70,
		Reason:              "no strong signal to wait, capturing current price",
		SellTime:            now, ExpectedPricePLN: currentPrice,
		OpportunityCostPLN: oppCost, Peak: peak, Windows: windows, RiskLevel: "medium",
	}
}

func (e *Engine) immediateSell(now time.Time, currentPrice float64, reason string) Recommendation {
	return Recommendation{
		Decision: SellNow, Confidence: 0.5, Reason: reason,
		SellTime: now, ExpectedPricePLN: currentPrice, RiskLevel: "medium",
	}
}

// ShouldCancelWaiting checks the cancel conditions for an in-progress
// wait_for_peak/wait_for_higher recommendation.
func (e *Engine) ShouldCancelWaiting(now time.Time, socPct float64, waitingSince time.Time, consumptionW float64, currentPricePLN float64, original Recommendation) (bool, string) {
	if socPct < 70 {
		return true, "battery SoC dropped below the waiting safety band"
	}
	if now.Sub(waitingSince).Hours() >= e.cfg.MaxWaitTimeHours {
		return true, "maximum wait time reached"
	}
	if consumptionW > 3000 {
		return true, "house consumption spiked, battery needed locally"
	}
	if original.Peak != nil && currentPricePLN > original.Peak.PeakPrice*1.05 {
		return true, "realized price unexpectedly exceeded the forecast peak"
	}
	return false, "continue waiting"
}
