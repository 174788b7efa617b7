// Package storage defines the uniform persistence contract (C1):
// snapshots, coordinator state, decisions and sessions, backed by a
// file store, an embedded-SQL store, or a composite of both.
package storage

import (
	"context"
	"time"
)

// Snapshot is the durable form of collector.Readings; storage does not
// import collector (leaves-first dependency order) so it carries its
// own copy of the fields it persists, tagged for JSON (the SQL store
// keeps the same JSON as each row's payload).
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	BatterySOCPct    float64   `json:"battery_soc_pct"`
	BatteryVoltageV  float64   `json:"battery_voltage_v"`
	BatteryCurrentA  float64   `json:"battery_current_a"`
	BatteryPowerW    float64   `json:"battery_power_w"`
	BatteryTempC     float64   `json:"battery_temp_c"`
	BatteryCharging  bool      `json:"battery_charging"`
	PVPowerW         float64   `json:"pv_power_w"`
	PVDailyEnergyWh  float64   `json:"pv_daily_energy_wh"`
	GridPowerW       float64   `json:"grid_power_w"`
	GridVoltageV     float64   `json:"grid_voltage_v"`
	GridFreqHz       float64   `json:"grid_freq_hz"`
	GridDailyImportWh float64  `json:"grid_daily_import_wh"`
	GridDailyExportWh float64  `json:"grid_daily_export_wh"`
	ConsumptionPowerW float64  `json:"consumption_power_w"`
	ConsumptionDailyEnergyWh float64 `json:"consumption_daily_energy_wh"`
	InverterModel    string    `json:"inverter_model"`
	InverterSerial   string    `json:"inverter_serial"`
	InverterState    string    `json:"inverter_state"`
}

// State is the durable form of a CoordinatorState transition.
type State struct {
	Timestamp         time.Time `json:"timestamp"`
	State             string    `json:"state"`
	Since             time.Time `json:"since"`
	LastTick          time.Time `json:"last_tick"`
	LastDecisionAt    time.Time `json:"last_decision_at"`
	WaitCooldownUntil *time.Time `json:"wait_cooldown_until,omitempty"`
}

// Decision is the durable form of a decision/selling decision record.
type Decision struct {
	Timestamp         time.Time      `json:"timestamp"`
	Kind              string         `json:"kind"` // "charging" | "selling"
	Action            string         `json:"action"`
	TargetSOCPct      float64        `json:"target_soc_pct"`
	PowerW            float64        `json:"power_w"`
	DurationH         float64        `json:"duration_h"`
	EnergyKWh         float64        `json:"energy_kwh"`
	EstimatedCostPLN  float64        `json:"estimated_cost_pln"`
	EstimatedSavingsPLN float64      `json:"estimated_savings_pln"`
	Priority          string         `json:"priority"`
	Confidence        float64        `json:"confidence"`
	ReasonText        string         `json:"reason_text"`
	ScoringBreakdown  map[string]any `json:"scoring_breakdown,omitempty"`
}

// Session is the durable form of a ChargingSession or SellingSession.
type Session struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"` // "charging" | "selling"
	Start              time.Time  `json:"start"`
	End                *time.Time `json:"end,omitempty"`
	PlannedEnergyKWh   float64    `json:"planned_energy_kwh"`
	DeliveredEnergyKWh float64    `json:"delivered_energy_kwh"`
	PlannedCostPLN     float64    `json:"planned_cost_pln"`
	RealizedCostPLN    float64    `json:"realized_cost_pln"`
	Status             string     `json:"status"` // planned|active|completed|aborted
	AbortReason        string     `json:"abort_reason,omitempty"`
}

// Storage is the C1 contract. All operations are safe under concurrent
// callers from the collector, the selling engine and the coordinator.
type Storage interface {
	SaveSnapshot(ctx context.Context, snapshots []Snapshot) error
	QuerySnapshots(ctx context.Context, start, end time.Time) ([]Snapshot, error)

	SaveState(ctx context.Context, s State) error
	QueryStateLatest(ctx context.Context, limit int) ([]State, error)

	SaveDecision(ctx context.Context, d Decision) error
	QueryDecisions(ctx context.Context, start, end time.Time) ([]Decision, error)

	SaveSession(ctx context.Context, s Session) error
	QuerySessions(ctx context.Context, start, end time.Time) ([]Session, error)

	// HealthCheck reports whether the primary backend is reachable; a
	// total failure degrades but never stops the coordinator (§4.1).
	HealthCheck(ctx context.Context) error

	Close() error
}
