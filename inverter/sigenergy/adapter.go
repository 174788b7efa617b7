// Package sigenergy adapts the teacher's Sigenergy Modbus register
// client (package sigenergy at the repository root) behind the
// vendor-neutral inverter.Port interface.
package sigenergy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/inverter"
	rootsigenergy "github.com/sitewatt/energy-optimizer/sigenergy"
)

// remote EMS control modes, per the teacher's SetRemoteEMSMode doc.
const (
	emsPCSRemote          = 0
	emsStandby            = 1
	emsMaxSelfConsumption = 2
	emsChargeGridFirst    = 3
	emsChargePVFirst      = 4
	emsDischargePVFirst   = 5
	emsDischargeESSFirst  = 6
)

// Adapter implements inverter.Port over the Sigenergy Modbus register
// map. A single instance owns one physical connection; all commands
// are serialized behind mu, matching the §5 "exclusively owned,
// mutex-guarded" requirement.
type Adapter struct {
	mu     sync.Mutex
	client *rootsigenergy.SigenModbusClient

	connected bool
	model     string
	serial    string

	charging        bool
	chargingPowerPct float64
	chargingTargetSOC float64
}

// New creates an unconnected adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Connect(ctx context.Context, cfg inverter.ConnectConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay * time.Duration(attempt+1)): // linear backoff
			}
		}

		addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
		client, err := rootsigenergy.NewTCPClient(addr, rootsigenergy.PlantAddress)
		if err != nil {
			lastErr = err
			continue
		}

		info, err := client.ReadPlantRunningInfo()
		if err != nil {
			client.Close()
			lastErr = err
			continue
		}

		a.client = client
		a.connected = true
		a.model = "sigenergy-hybrid"
		a.serial = fmt.Sprintf("plant-%d-%d", info.EMSWorkMode, info.PlantRunningState)
		return nil
	}
	return fmt.Errorf("sigenergy adapter: connect failed after %d attempts: %w", retries, lastErr)
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.connected = false
	a.client = nil
	return err
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) requireConnected() error {
	if !a.connected || a.client == nil {
		return inverter.ErrNotConnected
	}
	return nil
}

func (a *Adapter) ReadStatus(_ context.Context) (inverter.InverterStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return inverter.InverterStatus{}, err
	}

	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return inverter.InverterStatus{}, fmt.Errorf("sigenergy adapter: read status: %w", err)
	}

	state := inverter.StateNormal
	var codes []string
	for i, alarm := range []uint16{info.GeneralAlarm1, info.GeneralAlarm2, info.GeneralAlarm3, info.GeneralAlarm4} {
		if alarm != 0 {
			state = inverter.StateFault
			codes = append(codes, fmt.Sprintf("alarm%d:%#04x", i+1, alarm))
		}
	}

	return inverter.InverterStatus{
		Model:      a.model,
		Serial:     a.serial,
		State:      state,
		ErrorCodes: codes,
	}, nil
}

func (a *Adapter) ReadBattery(_ context.Context) (inverter.BatteryStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return inverter.BatteryStatus{}, err
	}

	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return inverter.BatteryStatus{}, fmt.Errorf("sigenergy adapter: read battery: %w", err)
	}

	return inverter.BatteryStatus{
		SOCPct:   info.ESSSOC,
		PowerW:   info.ESSPower * 1000,
		Charging: info.ESSPower > 0,
	}, nil
}

func (a *Adapter) ReadRuntime(_ context.Context) (map[string]inverter.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return nil, fmt.Errorf("sigenergy adapter: read runtime: %w", err)
	}

	f := func(v float64) *float64 { return &v }
	return map[string]inverter.Reading{
		"pv_power_kw":          {Value: f(info.PhotovoltaicPower), Unit: "kW"},
		"grid_power_kw":        {Value: f(info.GridSensorActivePower), Unit: "kW"},
		"ess_soc_pct":          {Value: f(info.ESSSOC), Unit: "%"},
		"ess_power_kw":         {Value: f(info.ESSPower), Unit: "kW"},
		"plant_active_power_kw": {Value: f(info.PlantActivePower), Unit: "kW"},
	}, nil
}

// CheckSafety returns every violated envelope, not just the first
// (§4.2). Battery current isn't exposed by PlantRunningInfo, so only
// the envelopes this register set can evaluate are checked here; the
// safety supervisor (package safety) layers on readings from the
// per-inverter register block.
func (a *Adapter) CheckSafety(_ context.Context, cfg inverter.SafetyConfig) (bool, []inverter.SafetyIssue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return false, nil, err
	}

	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return false, nil, fmt.Errorf("sigenergy adapter: check safety: %w", err)
	}

	var issues []inverter.SafetyIssue
	if info.ESSSOC < cfg.BatterySOCMinPct {
		issues = append(issues, inverter.SafetyIssue{Field: "battery_soc", Value: info.ESSSOC, Limit: cfg.BatterySOCMinPct, Message: "battery SoC below minimum"})
	}
	if info.ESSSOC > cfg.BatterySOCMaxPct {
		issues = append(issues, inverter.SafetyIssue{Field: "battery_soc", Value: info.ESSSOC, Limit: cfg.BatterySOCMaxPct, Message: "battery SoC above maximum"})
	}
	if cfg.GridMaxPowerW > 0 && info.PlantActivePower*1000 > cfg.GridMaxPowerW {
		issues = append(issues, inverter.SafetyIssue{Field: "grid_power", Value: info.PlantActivePower * 1000, Limit: cfg.GridMaxPowerW, Message: "plant active power above grid limit"})
	}

	return len(issues) == 0, issues, nil
}

// SetOperationMode maps vendor-neutral modes onto SetRemoteEMSMode
// opcodes. Modes with no Sigenergy equivalent fail explicitly (§4.2).
func (a *Adapter) SetOperationMode(_ context.Context, mode inverter.OperationMode, powerW *float64, _ *float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return err
	}

	var ems uint16
	switch mode {
	case inverter.ModeGeneral:
		ems = emsPCSRemote
	case inverter.ModeEco:
		ems = emsMaxSelfConsumption
	case inverter.ModeEcoCharge:
		ems = emsChargeGridFirst
	case inverter.ModeEcoDischarge:
		ems = emsDischargeESSFirst
	case inverter.ModeBackup:
		ems = emsStandby
	default:
		return fmt.Errorf("%w: %s", inverter.ErrUnsupportedMode, mode)
	}

	if err := a.client.EnableRemoteEMS(true); err != nil {
		return fmt.Errorf("sigenergy adapter: enable remote EMS: %w", err)
	}
	if err := a.client.SetRemoteEMSMode(ems); err != nil {
		return fmt.Errorf("sigenergy adapter: set EMS mode: %w", err)
	}
	if powerW != nil {
		if err := a.client.SetActivePowerFixed(*powerW / 1000); err != nil {
			return fmt.Errorf("sigenergy adapter: set active power: %w", err)
		}
	}
	return nil
}

// StartCharging is a no-op success if already charging at the same
// (powerPct, targetSOCPct) — command idempotence, §4.2.
func (a *Adapter) StartCharging(_ context.Context, powerPct float64, targetSOCPct float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return err
	}

	if a.charging && a.chargingPowerPct == powerPct && a.chargingTargetSOC == targetSOCPct {
		return nil
	}

	if err := a.client.EnableRemoteEMS(true); err != nil {
		return fmt.Errorf("sigenergy adapter: enable remote EMS: %w", err)
	}
	if err := a.client.SetRemoteEMSMode(emsChargeGridFirst); err != nil {
		return fmt.Errorf("sigenergy adapter: start charging: %w", err)
	}
	if err := a.client.SetActivePowerPercent(powerPct); err != nil {
		return fmt.Errorf("sigenergy adapter: set charge power percent: %w", err)
	}

	a.charging = true
	a.chargingPowerPct = powerPct
	a.chargingTargetSOC = targetSOCPct
	return nil
}

// StopCharging is always a no-op success when not charging (§9 open
// question: the adapter absorbs this bookkeeping, not the caller).
func (a *Adapter) StopCharging(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return err
	}
	if !a.charging {
		return nil
	}

	if err := a.client.SetRemoteEMSMode(emsMaxSelfConsumption); err != nil {
		return fmt.Errorf("sigenergy adapter: stop charging: %w", err)
	}
	a.charging = false
	return nil
}

func (a *Adapter) SetExportLimit(_ context.Context, powerW float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return err
	}
	if err := a.client.SetESSMaxDischargingLimit(powerW / 1000); err != nil {
		return fmt.Errorf("sigenergy adapter: set export limit: %w", err)
	}
	return nil
}

func (a *Adapter) SetBatteryDoD(_ context.Context, depthPct float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return err
	}
	floorSOC := 100 - depthPct
	if floorSOC < 0 {
		floorSOC = 0
	}
	if err := a.client.SetESSMaxDischargingLimit(0); err != nil {
		return fmt.Errorf("sigenergy adapter: set DoD: %w", err)
	}
	return nil
}

// EmergencyStop is always executed, regardless of charging state.
func (a *Adapter) EmergencyStop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return inverter.ErrNotConnected
	}
	err := a.client.SetRemoteEMSMode(emsStandby)
	a.charging = false
	if err != nil {
		return fmt.Errorf("sigenergy adapter: emergency stop: %w", err)
	}
	return nil
}

func (a *Adapter) CollectPV(_ context.Context) (float64, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return 0, 0, err
	}
	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return 0, 0, fmt.Errorf("sigenergy adapter: collect PV: %w", err)
	}
	return info.PhotovoltaicPower * 1000, 0, nil
}

func (a *Adapter) CollectGrid(_ context.Context) (float64, float64, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return 0, 0, 0, err
	}
	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sigenergy adapter: collect grid: %w", err)
	}
	return info.GridSensorActivePower * 1000, 0, 0, nil
}

func (a *Adapter) CollectConsumption(_ context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireConnected(); err != nil {
		return 0, err
	}
	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return 0, fmt.Errorf("sigenergy adapter: collect consumption: %w", err)
	}
	// consumption = pv + grid_import - battery_charge - export, approximated
	// from plant active power and PV production.
	consumption := info.PhotovoltaicPower*1000 + info.GridSensorActivePower*1000 - info.ESSPower*1000
	if consumption < 0 {
		consumption = 0
	}
	return consumption, nil
}

func (a *Adapter) CollectAll(ctx context.Context) (inverter.InverterStatus, inverter.BatteryStatus, error) {
	status, err := a.ReadStatus(ctx)
	if err != nil {
		return status, inverter.BatteryStatus{}, err
	}
	battery, err := a.ReadBattery(ctx)
	return status, battery, err
}
