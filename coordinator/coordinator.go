// Package coordinator implements C9: the master control loop that
// ticks the clock, invoking the collector, safety supervisor,
// decision engine and selling engine in order, and issuing the
// resulting inverter command.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/collector"
	"github.com/sitewatt/energy-optimizer/config"
	"github.com/sitewatt/energy-optimizer/decision"
	"github.com/sitewatt/energy-optimizer/forecast"
	"github.com/sitewatt/energy-optimizer/inverter"
	"github.com/sitewatt/energy-optimizer/safety"
	"github.com/sitewatt/energy-optimizer/selling"
	"github.com/sitewatt/energy-optimizer/storage"
	"github.com/sitewatt/energy-optimizer/tariff"
)

// State is the coordinator's coarse lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateMonitoring    State = "monitoring"
	StateCharging      State = "charging"
	StateSelling       State = "selling"
	StateOptimizing    State = "optimizing"
	StateError         State = "error"
	StateMaintenance   State = "maintenance"
)

// CoordinatorState is the durable form of the lifecycle, persisted via
// storage.State each transition.
type CoordinatorState struct {
	State             State
	Since             time.Time
	LastTick          time.Time
	LastDecisionAt    time.Time
	WaitCooldownUntil *time.Time
}

// Status is the read-only snapshot exposed to operators (§6).
type Status struct {
	Coordinator          CoordinatorState
	Latest               collector.Readings
	HasLatest            bool
	LastDecision         string
	LastSellingDecision  string
	ActiveSellingSession *storage.Session
}

// Coordinator wires C1-C8 behind the single control loop described in
// §4.7: collect -> persist -> safety -> decision cadence gate ->
// decision+selling -> command -> persist -> status.
type Coordinator struct {
	cfg    *config.Config
	port   inverter.Port
	store  storage.Storage
	logger *log.Logger

	collector *collector.Collector
	safety    *safety.Supervisor

	tariff        *tariff.Tariff
	priceSource   *forecast.PriceSource
	weatherSource *forecast.WeatherSource
	pvEstimator   *forecast.PVEstimator
	peakLabels    *forecast.PeakLabelSource

	legacy     *decision.LegacyEngine
	hybrid     *decision.HybridEngine
	aggressive *decision.AggressiveEngine
	sell       *selling.Engine
	sessions   *selling.Manager

	mu       sync.RWMutex
	state    CoordinatorState
	lastDec  string
	lastSell string

	stopChan  chan struct{}
	isRunning bool
}

// New assembles a coordinator from a validated config, a connected-or-
// connectable inverter port, and a storage backend.
func New(cfg *config.Config, port inverter.Port, store storage.Storage, logger *log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.Default()
	}

	peakLabels := forecast.NewPeakLabelSource(cfg.Forecast.PeakLabelURL, time.Duration(cfg.Forecast.PeakLabelCacheMinutes)*time.Minute)
	if cfg.PSEPeakHours.Enabled {
		_ = peakLabels.Ensure()
	}

	tf, err := tariff.New(cfg.ElectricityTariff, peakLabels)
	if err != nil {
		return nil, fmt.Errorf("coordinator: tariff setup: %w", err)
	}

	priceSource := forecast.NewPriceSource(cfg.Forecast.PriceAPIURL, cfg.Forecast.WeatherUserAgent, time.Duration(cfg.Forecast.PriceCacheMinutes)*time.Minute)
	weatherSource := forecast.NewWeatherSource(cfg.Forecast.WeatherUserAgent, cfg.Site.Latitude, cfg.Site.Longitude, time.Duration(cfg.Forecast.WeatherCacheMinutes)*time.Minute)
	pvEstimator := &forecast.PVEstimator{Latitude: cfg.Site.Latitude, Longitude: cfg.Site.Longitude, PeakPowerW: cfg.Site.PVCapacityKWp * 1000}

	safetyCfg := safety.Config{
		BatteryTempMinC:    cfg.BatteryManagement.TemperatureThresholds.ChargingMin,
		BatteryTempMaxC:    cfg.BatteryManagement.TemperatureThresholds.ChargingMax,
		BatteryTempWarnC:   cfg.BatteryManagement.TemperatureThresholds.Warning,
		BatteryVoltageMinV: cfg.BatteryManagement.VoltageRange.Min,
		BatteryVoltageMaxV: cfg.BatteryManagement.VoltageRange.Max,
		GridVoltageMinV:    195,
		GridVoltageMaxV:    253,
		GridMaxPowerW:      0, // no site-wide grid power cap configured
		BatterySOCMinPct:   0,
		BatterySOCMaxPct:   100,
		VDE2510_50Compliance: cfg.BatteryManagement.VDE2510_50Compliance,
		BMSIntegration:       cfg.BatteryManagement.BMSIntegration,
		RecoveryTicks:        3,
	}
	sup := safety.New(safetyCfg, port)

	legacyCfg := decision.LegacyConfig{
		OverproductionThresholdW: cfg.PVConsumptionAnalysis.PVOverproductionThresholdW,
		CriticalSOCPct:           cfg.BatteryManagement.SOCThresholds.Critical,
	}
	legacy := decision.NewLegacyEngine(legacyCfg)

	nightHours := map[int]bool{}
	for _, h := range cfg.PVConsumptionAnalysis.NightHours {
		nightHours[h] = true
	}
	hybridCfg := decision.HybridConfig{
		EmergencySOCPct:          cfg.BatteryManagement.SOCThresholds.Critical / 2,
		CriticalSOCPct:           cfg.BatteryManagement.SOCThresholds.Critical,
		OverproductionThresholdW: cfg.PVConsumptionAnalysis.PVOverproductionThresholdW,
		MinChargingDurationH:     0.25,
		RisingPVThresholdW:       500,
		LowCurrentPVW:            200,
		NightHours:               nightHours,
		NightTargetSOCPoorPV:     cfg.PVConsumptionAnalysis.NightChargingTargetSOCPoorPV,
		MaxNightChargingSOC:      cfg.PVConsumptionAnalysis.MaxNightChargingSOC,
		HighPricepercentile:      cfg.PVConsumptionAnalysis.HighPriceThresholdPercentile * 100,
		BatteryCapacityKWh:       cfg.BatteryManagement.CapacityKWh,
		GridChargeRateKW:         5,
		PVEfficiency:             0.95,
		GridEfficiency:           0.97,
	}
	hybrid := decision.NewHybridEngine(hybridCfg)

	aggressive := decision.NewAggressiveEngine(decision.AggressiveConfig{
		PriceThresholdPercent: cfg.Coordinator.CheapestPriceAggressive.PriceThresholdPercent,
		Categories:            convertCategories(cfg.Coordinator.CheapestPriceAggressive.Categories),
	})

	sellEngine := selling.NewEngine(selling.Config{
		TrendWindowHours:          float64(cfg.BatterySelling.SmartTiming.TrendWindowHours),
		MaxWaitTimeHours:          cfg.BatterySelling.SmartTiming.MaxWaitTimeHours,
		MinPeakDifferencePercent:  cfg.BatterySelling.SmartTiming.MinPeakDifferencePercent,
		NearPeakThresholdPercent:  cfg.BatterySelling.SmartTiming.NearPeakThresholdPercent,
		SignificantOpportunityPLN: cfg.BatterySelling.SmartTiming.SignificantOpportunityPLN,
		BatteryCapacityKWh:        cfg.BatteryManagement.CapacityKWh,
		ForecastLookaheadHours:    6,
		MaxSessionsPerDay:         3,
	})
	sessions := selling.NewManager(selling.SessionConfig{
		MaxSessionsPerDay:     3,
		MinSessionGapHours:    1,
		ReserveBatteryPercent: cfg.BatterySelling.SafetyMarginSOC,
	})

	col := collector.New(port, store, logger, cfg.Coordinator.DataRetentionDays*24, cfg.Coordinator.PersistEveryNTicks)

	return &Coordinator{
		cfg: cfg, port: port, store: store, logger: logger,
		collector: col, safety: sup,
		tariff: tf, priceSource: priceSource, weatherSource: weatherSource, pvEstimator: pvEstimator, peakLabels: peakLabels,
		legacy: legacy, hybrid: hybrid, aggressive: aggressive, sell: sellEngine, sessions: sessions,
		state:    CoordinatorState{State: StateInitializing, Since: time.Now()},
		stopChan: make(chan struct{}),
	}, nil
}

func convertCategories(cats []config.AggressiveChargingCategory) []decision.AggressiveCategory {
	out := make([]decision.AggressiveCategory, len(cats))
	for i, c := range cats {
		out[i] = decision.AggressiveCategory{PercentileMax: c.PercentileMax, TargetSOCPct: c.TargetSOC}
	}
	return out
}

// ErrFatalSafetyAtBoot is returned by Run when the first reading taken
// right after connect already trips a fatal safety condition, so the
// caller can exit distinctly from an unreachable-inverter failure.
var ErrFatalSafetyAtBoot = errors.New("coordinator: fatal safety condition at boot")

// Run starts the control loop and blocks until ctx is cancelled or
// Stop is called. It connects the inverter and takes one safety
// reading before entering the loop; a connect failure is the caller's
// cue to exit with the inverter-unreachable code, a fatal boot-time
// safety reading with the fatal-safety-at-boot code.
func (c *Coordinator) Run(ctx context.Context) error {
	connectCfg := inverter.ConnectConfig{
		Address:    c.cfg.Inverter.IPAddress,
		Port:       c.cfg.Inverter.Port,
		Timeout:    time.Duration(c.cfg.Inverter.TimeoutS) * time.Second,
		Retries:    c.cfg.Inverter.Retries,
		RetryDelay: time.Duration(c.cfg.Inverter.RetryDelayS * float64(time.Second)),
	}
	if err := c.port.Connect(ctx, connectCfg); err != nil {
		return fmt.Errorf("coordinator: inverter connect: %w", err)
	}

	bootCtx, bootCancel := context.WithTimeout(ctx, 15*time.Second)
	defer bootCancel()
	r, err := c.collector.Tick(bootCtx)
	if err != nil {
		return fmt.Errorf("coordinator: boot reading: %w", err)
	}
	if report := c.safety.Evaluate(bootCtx, r); report.Fatal {
		for _, issue := range report.Issues {
			c.logger.Printf("coordinator: SAFETY FATAL at boot: %s", issue.Message)
		}
		return ErrFatalSafetyAtBoot
	}

	c.mu.Lock()
	c.isRunning = true
	c.stopChan = make(chan struct{})
	c.transition(StateMonitoring)
	c.mu.Unlock()
	c.persistState(ctx)

	ticker := time.NewTicker(c.cfg.Coordinator.SamplingInterval)
	defer ticker.Stop()

	c.logger.Printf("coordinator: started, sampling every %v, deciding every %dm", c.cfg.Coordinator.SamplingInterval, c.cfg.Coordinator.DecisionIntervalMinutes)

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-ctx.Done():
			c.shutdown(context.Background())
			return ctx.Err()
		case <-c.stopChan:
			c.shutdown(context.Background())
			return nil
		}
	}
}

// Stop requests a graceful shutdown of the control loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isRunning {
		return
	}
	c.isRunning = false
	close(c.stopChan)
}

func (c *Coordinator) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	r, err := c.collector.Tick(tickCtx)
	if err != nil {
		c.logger.Printf("coordinator: collector tick failed: %v", err)
		return
	}

	c.mu.Lock()
	c.state.LastTick = time.Now()
	c.mu.Unlock()

	report := c.safety.Evaluate(tickCtx, r)
	if report.Fatal {
		c.mu.Lock()
		c.transition(StateError)
		c.mu.Unlock()
		for _, issue := range report.Issues {
			c.logger.Printf("coordinator: SAFETY FATAL: %s", issue.Message)
		}
		c.persistState(ctx)
		return
	}
	if report.Recovered {
		c.mu.Lock()
		c.transition(StateMonitoring)
		c.mu.Unlock()
		c.logger.Printf("coordinator: safety recovered, resuming normal operation")
	}

	if !c.shouldDecide() {
		c.persistState(ctx)
		return
	}

	c.decide(tickCtx, r)
	c.persistState(ctx)
}

func (c *Coordinator) shouldDecide() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.State == StateError {
		return false
	}
	if c.state.WaitCooldownUntil != nil && time.Now().Before(*c.state.WaitCooldownUntil) {
		return false
	}
	if c.state.LastDecisionAt.IsZero() {
		return true
	}
	return time.Since(c.state.LastDecisionAt) >= time.Duration(c.cfg.Coordinator.DecisionIntervalMinutes)*time.Minute
}

// decide runs C6 then C7 (selling takes precedence only when safety
// allows and the charging decision is not critical, per §4.7 step 4b)
// and dispatches the resulting inverter command.
func (c *Coordinator) decide(ctx context.Context, r collector.Readings) {
	now := time.Now()

	if err := c.priceSource.Refresh(ctx); err != nil {
		c.logger.Printf("coordinator: price refresh failed, using cached/degraded data: %v", err)
	}
	marketPoints, err := c.priceSource.Points(ctx, now, now.Add(24*time.Hour))
	if err != nil || len(marketPoints) == 0 {
		c.logger.Printf("coordinator: no price forecast available, skipping decision: %v", err)
		return
	}
	points := c.tariff.Compose(marketPoints)

	marketNow, found, priceErr := c.priceSource.PriceAt(ctx, now)
	if priceErr != nil || !found {
		c.logger.Printf("coordinator: no current price, skipping decision: %v", priceErr)
		return
	}
	currentPrice := c.tariff.FinalPrice(now, marketNow)
	currentBand := c.tariff.Classify(currentPrice)

	isCharging := r.Battery.Charging

	var chargeKind decision.ChargeKind
	var chargePriority decision.Priority
	var chargeTargetSOC float64
	var chargeReason string
	var chargeConfidence float64

	if c.cfg.Coordinator.DecisionMode == "hybrid" {
		hd := c.evaluateHybrid(now, r, currentBand, points)
		chargeKind, chargePriority, chargeTargetSOC, chargeReason, chargeConfidence = hd.Kind, hd.Priority, hd.TargetSOCPct, hd.Reason, hd.Confidence

		pc := tariff.NewPercentiles(points)
		if target, applies := c.aggressive.TargetSOC(pc, currentPrice); applies && c.cfg.Coordinator.CheapestPriceAggressive.Enabled {
			if raised, did := decision.Apply(chargeKind, chargeTargetSOC, target, applies); did {
				chargeTargetSOC = raised
				chargeReason = chargeReason + "; raised by cheapest-price aggressive override"
			}
		}

		if hd.Kind == decision.Wait || hd.Kind == decision.WaitForPV {
			until, ok := decision.WaitCooldown(now, hd.Priority)
			c.mu.Lock()
			if ok && c.state.State == StateCharging {
				c.state.WaitCooldownUntil = &until
			}
			c.mu.Unlock()
		}
	} else {
		ld := c.legacy.Evaluate(r, currentPrice, isCharging)
		chargeKind = legacyActionToKind(ld.Action)
		chargePriority = ld.Priority
		chargeReason = ld.Reason
		chargeConfidence = ld.Confidence / 100.0
		if ld.Action == decision.ActionStartCharging || ld.Action == decision.ActionContinueCharging {
			chargeTargetSOC = 90
		}
	}

	c.mu.Lock()
	c.lastDec = fmt.Sprintf("%s (priority=%s, target_soc=%.0f%%, confidence=%.2f): %s", chargeKind, chargePriority, chargeTargetSOC, chargeConfidence, chargeReason)
	c.state.LastDecisionAt = now
	c.mu.Unlock()

	_ = c.store.SaveDecision(ctx, storage.Decision{
		Timestamp: now, Kind: "charging", Action: string(chargeKind),
		TargetSOCPct: chargeTargetSOC, Priority: string(chargePriority), Confidence: chargeConfidence, ReasonText: chargeReason,
	})

	// Selling takes precedence only if safety allows and this isn't a
	// critical charge (§4.7 step 4b).
	if c.cfg.BatterySelling.Enabled && chargePriority != decision.PriorityCritical {
		c.decideSelling(ctx, now, r, currentPrice, points)
	}

	c.dispatchCharge(ctx, chargeKind, chargePriority, chargeTargetSOC, isCharging)
}

func (c *Coordinator) evaluateHybrid(now time.Time, r collector.Readings, currentBand tariff.Band, points []tariff.PricePoint) decision.HybridDecision {
	peakLabel := forecast.PeakNormal
	if c.peakLabels.Available() {
		peakLabel = c.peakLabels.At(now)
	}

	windows := tariff.FindChargeWindows(points, tariff.BandCheap, 0.25, 30*time.Minute, c.currentPointPrice(points, now))
	var pvInWindowKWh, energyNeededKWh float64
	if len(windows) > 0 {
		energyNeededKWh = (90 - r.Battery.SOCPct) / 100 * c.cfg.BatteryManagement.CapacityKWh
	}

	var risingSlope float64
	var tomorrowClass forecast.PVClass = forecast.PVFair
	tomorrowFailed := false
	if c.cfg.WeatherIntegration.Enabled {
		if wf, err := c.weatherSource.Forecast(); err == nil {
			_, tomorrowClass = c.pvEstimator.EstimateDay(wf, now.Add(24*time.Hour), r.Photovoltaic.PowerW.Or(0))
			est := c.pvEstimator.EstimateAt(wf, now.Add(time.Hour), r.Photovoltaic.PowerW.Or(0))
			if r.Photovoltaic.PowerW.Or(0) > 0 {
				risingSlope = (est.PowerW - r.Photovoltaic.PowerW.Or(0)) / r.Photovoltaic.PowerW.Or(0)
			}
			if len(windows) > 0 {
				mid := windows[0].Start.Add(windows[0].End.Sub(windows[0].Start) / 2)
				windowEst := c.pvEstimator.EstimateAt(wf, mid, r.Photovoltaic.PowerW.Or(0))
				pvInWindowKWh = windowEst.PowerW / 1000 * windows[0].DurationH
			}
		} else {
			tomorrowFailed = c.cfg.PVConsumptionAnalysis.AssumePoorPVOnAPIFailure
		}
	}

	tomorrowHighPriceHours := 0
	for _, p := range points {
		if p.Start.After(now.Add(24*time.Hour)) {
			continue
		}
		if p.Start.After(now) && (p.Band == tariff.BandExpensive || p.Band == tariff.BandVeryExpensive) {
			tomorrowHighPriceHours++
		}
	}

	return c.hybrid.Evaluate(now, r, currentBand, peakLabel, pvInWindowKWh, energyNeededKWh, risingSlope, tomorrowClass, tomorrowFailed, tomorrowHighPriceHours)
}

func (c *Coordinator) currentPointPrice(points []tariff.PricePoint, now time.Time) float64 {
	for _, p := range points {
		if !now.Before(p.Start) && now.Before(p.End) {
			return p.FinalPricePLN
		}
	}
	if len(points) > 0 {
		return points[0].FinalPricePLN
	}
	return 0
}

func (c *Coordinator) decideSelling(ctx context.Context, now time.Time, r collector.Readings, currentPrice float64, points []tariff.PricePoint) {
	inPeak := false
	for _, h := range c.cfg.BatterySelling.PeakHours {
		if h == now.Hour() {
			inPeak = true
		}
	}

	var forecastPrices []float64
	for _, p := range points {
		forecastPrices = append(forecastPrices, p.FinalPricePLN)
	}
	rechargeOpp := selling.HasRechargeOpportunity(currentPrice, forecastPrices, c.cfg.BatterySelling.DynamicSOCThresholds.RechargeOpportunityRatio)

	floorCfg := selling.FloorConfig{
		CheapFloor: c.cfg.BatterySelling.DynamicSOCThresholds.CheapFloor,
		PremiumFloor: c.cfg.BatterySelling.DynamicSOCThresholds.PremiumFloor,
		SuperPremiumFloor: c.cfg.BatterySelling.DynamicSOCThresholds.SuperPremiumFloor,
		SuperPremiumThresholdPLN: c.cfg.BatterySelling.DynamicSOCThresholds.SuperPremiumThresholdPLN,
		AbsoluteSafetyFloor: c.cfg.BatterySelling.DynamicSOCThresholds.AbsoluteSafetyFloor,
		RechargeOpportunityRatio: c.cfg.BatterySelling.DynamicSOCThresholds.RechargeOpportunityRatio,
	}
	minSOC := selling.MinimumSOC(floorCfg, currentPrice, inPeak, rechargeOpp)

	if r.Battery.SOCPct < minSOC {
		return
	}
	if currentPrice < c.cfg.BatterySelling.MinSellingPricePLN {
		return
	}

	available := selling.AvailableEnergyKWh(r.Battery.SOCPct, minSOC, c.cfg.BatterySelling.SafetyMarginSOC, c.cfg.BatteryManagement.CapacityKWh)
	if available <= 0 {
		return
	}

	rec := c.sell.Evaluate(now, currentPrice, points, available, 1.0)

	c.mu.Lock()
	c.lastSell = fmt.Sprintf("%s (confidence=%.2f): %s", rec.Decision, rec.Confidence, rec.Reason)
	c.mu.Unlock()

	_ = c.store.SaveDecision(ctx, storage.Decision{
		Timestamp: now, Kind: "selling", Action: string(rec.Decision),
		Confidence: rec.Confidence, ReasonText: rec.Reason, EstimatedSavingsPLN: rec.OpportunityCostPLN,
	})

	if rec.Decision == selling.SellNow {
		if ok, _ := c.sessions.CanStart(now); ok {
			session := c.sessions.Start(now, available, available*currentPrice)
			_ = c.store.SaveSession(ctx, session)
			_ = c.port.SetExportLimit(ctx, c.cfg.BatteryManagement.CapacityKWh*1000)
			c.mu.Lock()
			c.transition(StateSelling)
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) dispatchCharge(ctx context.Context, kind decision.ChargeKind, priority decision.Priority, targetSOC float64, wasCharging bool) {
	switch kind {
	case decision.ChargeGrid, decision.ChargePV, decision.ChargeHybrid:
		powerPct := 100.0
		if err := c.port.StartCharging(ctx, powerPct, targetSOC); err != nil {
			c.logger.Printf("coordinator: StartCharging failed: %v", err)
			return
		}
		c.mu.Lock()
		c.transition(StateCharging)
		c.mu.Unlock()
	default:
		if wasCharging {
			if err := c.port.StopCharging(ctx); err != nil {
				c.logger.Printf("coordinator: StopCharging failed: %v", err)
				return
			}
		}
		c.mu.Lock()
		if c.state.State == StateCharging {
			c.transition(StateMonitoring)
		}
		c.mu.Unlock()
	}
}

func legacyActionToKind(a decision.Action) decision.ChargeKind {
	switch a {
	case decision.ActionStartCharging, decision.ActionContinueCharging:
		return decision.ChargeGrid
	default:
		return decision.Wait
	}
}

// transition must be called with c.mu held.
func (c *Coordinator) transition(s State) {
	if c.state.State == s {
		return
	}
	c.state.State = s
	c.state.Since = time.Now()
}

// persistState writes the current in-memory CoordinatorState to
// durable storage. Best-effort: a write failure is logged, not fatal,
// since the in-memory state remains authoritative for the running process.
func (c *Coordinator) persistState(ctx context.Context) {
	c.mu.RLock()
	s := c.state
	c.mu.RUnlock()

	err := c.store.SaveState(ctx, storage.State{
		Timestamp:         time.Now(),
		State:             string(s.State),
		Since:             s.Since,
		LastTick:          s.LastTick,
		LastDecisionAt:    s.LastDecisionAt,
		WaitCooldownUntil: s.WaitCooldownUntil,
	})
	if err != nil {
		c.logger.Printf("coordinator: failed to persist state: %v", err)
	}
}

func (c *Coordinator) shutdown(ctx context.Context) {
	c.logger.Printf("coordinator: shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, ok := c.sessions.Active(); ok {
		if err := c.port.SetExportLimit(shutdownCtx, 0); err != nil {
			c.logger.Printf("coordinator: failed to reset export limit on shutdown: %v", err)
		}
		if session, aborted := c.sessions.Abort(time.Now(), "coordinator shutdown", 0, 0); aborted {
			_ = c.store.SaveSession(shutdownCtx, session)
		}
	}
	if r, ok := c.collector.Latest(); ok && r.Battery.Charging {
		if err := c.port.StopCharging(shutdownCtx); err != nil {
			c.logger.Printf("coordinator: failed to stop charging on shutdown: %v", err)
		}
	}

	_ = c.port.Disconnect()
	c.logger.Printf("coordinator: shutdown complete")
}

// GetStatus returns a read-only snapshot for the status surface.
func (c *Coordinator) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	latest, hasLatest := c.collector.Latest()
	var activeSell *storage.Session
	if s, ok := c.sessions.Active(); ok {
		activeSell = &s
	}

	return Status{
		Coordinator:          c.state,
		Latest:               latest,
		HasLatest:            hasLatest,
		LastDecision:         c.lastDec,
		LastSellingDecision:  c.lastSell,
		ActiveSellingSession: activeSell,
	}
}

// IsRunning reports whether the control loop is active.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}
