// Package inverter defines the vendor-neutral inverter command surface
// (C2): connect lifecycle, runtime reads, operation-mode and charge
// commands, safety checks. One concrete adapter (sigenergy) implements
// it over Modbus.
package inverter

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by any command issued before a
// successful Connect.
var ErrNotConnected = errors.New("inverter: not connected")

// ErrUnsupportedMode is returned when the adapter has no opcode for a
// requested OperationMode.
var ErrUnsupportedMode = errors.New("inverter: unsupported operation mode")

// OperationMode is the vendor-neutral mode enumeration; adapters map
// these onto vendor-specific opcodes.
type OperationMode string

const (
	ModeGeneral      OperationMode = "general"
	ModeOffGrid      OperationMode = "off_grid"
	ModeBackup       OperationMode = "backup"
	ModeEco          OperationMode = "eco"
	ModeEcoCharge    OperationMode = "eco_charge"
	ModeEcoDischarge OperationMode = "eco_discharge"
)

// InverterState is the coarse fault/health state of the unit.
type InverterState string

const (
	StateNormal  InverterState = "normal"
	StateFault   InverterState = "fault"
	StateUnknown InverterState = "unknown"
)

// InverterStatus is the result of ReadStatus.
type InverterStatus struct {
	Model      string
	Serial     string
	State      InverterState
	ErrorCodes []string
}

// BatteryStatus is the result of ReadBattery.
type BatteryStatus struct {
	SOCPct    float64
	VoltageV  float64
	CurrentA  float64 // signed: negative = charging
	PowerW    float64 // signed
	TempC     float64
	Charging  bool
}

// Reading is one runtime sensor reading; Value is nil when the sensor
// did not report (robust numeric parsing, spec §4.3).
type Reading struct {
	Value *float64
	Unit  string
}

// SafetyConfig enumerates the envelope CheckSafety evaluates, sourced
// from config.BatteryManagementConfig + config.CoordinatorConfig.
type SafetyConfig struct {
	BatteryTempMinC    float64
	BatteryTempMaxC    float64
	BatteryTempWarnC   float64
	BatteryVoltageMinV float64
	BatteryVoltageMaxV float64
	BatteryCurrentMaxA float64
	GridVoltageMinV    float64
	GridVoltageMaxV    float64
	GridMaxPowerW      float64
	BatterySOCMinPct   float64
	BatterySOCMaxPct   float64
}

// SafetyIssue is one violated envelope, returned alongside all others
// (§4.2: the full list, not first-fail).
type SafetyIssue struct {
	Field    string
	Value    float64
	Limit    float64
	Message  string
}

// ConnectConfig parameterizes Connect: address, retry budget.
type ConnectConfig struct {
	Address    string
	Port       int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Port is the C2 capability set. Implementations must serialize
// concurrent callers internally (§5: the inverter connection is
// exclusively owned and mutex-guarded).
type Port interface {
	Connect(ctx context.Context, cfg ConnectConfig) error
	Disconnect() error
	IsConnected() bool

	ReadStatus(ctx context.Context) (InverterStatus, error)
	ReadBattery(ctx context.Context) (BatteryStatus, error)
	ReadRuntime(ctx context.Context) (map[string]Reading, error)
	CheckSafety(ctx context.Context, cfg SafetyConfig) (ok bool, issues []SafetyIssue, err error)

	SetOperationMode(ctx context.Context, mode OperationMode, powerW *float64, minSOCPct *float64) error
	StartCharging(ctx context.Context, powerPct float64, targetSOCPct float64) error
	StopCharging(ctx context.Context) error
	SetExportLimit(ctx context.Context, powerW float64) error
	SetBatteryDoD(ctx context.Context, depthPct float64) error
	EmergencyStop(ctx context.Context) error

	CollectPV(ctx context.Context) (powerW float64, dailyEnergyWh float64, err error)
	CollectGrid(ctx context.Context) (powerW float64, voltageV float64, freqHz float64, err error)
	CollectConsumption(ctx context.Context) (powerW float64, err error)
	CollectAll(ctx context.Context) (InverterStatus, BatteryStatus, error)
}
