// Package safety implements C8: the supervisor that evaluates every
// tick's snapshot against the safety envelope and the VDE-2510-50 /
// GoodWe-Lynx-D style compliance tightening, before any command is
// allowed to reach the inverter.
package safety

import (
	"context"
	"fmt"

	"github.com/sitewatt/energy-optimizer/collector"
	"github.com/sitewatt/energy-optimizer/inverter"
)

// Severity distinguishes a hard stop from an advisory.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Issue is one envelope violation or compliance warning.
type Issue struct {
	Field    string
	Value    float64
	Limit    float64
	Severity Severity
	Message  string
}

// Report is the supervisor's verdict for one tick.
type Report struct {
	Fatal    bool
	Issues   []Issue
	Recovered bool // true the tick recovery completes (N green ticks)
}

// Config carries the envelope plus the compliance profile. It mirrors
// config.BatteryManagementConfig, config.CoordinatorConfig's
// EmergencyStopConditions, and the VDE/GoodWe tightening knobs.
type Config struct {
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

	// VDE2510_50Compliance tightens the above to the stricter
	// stationary-storage profile when true (SPEC_FULL.md §13):
	// GoodWe-Lynx-D-style LFP limits of 320-480V / 0-53°C.
	VDE2510_50Compliance bool
	BMSIntegration       bool

	RecoveryTicks int // consecutive green ticks required to clear error state
}

// effective applies the VDE/GoodWe tightening on top of the
// configured envelope, never loosening it.
func (c Config) effective() Config {
	if !c.VDE2510_50Compliance {
		return c
	}
	tighten := func(curMin, curMax, lynxMin, lynxMax float64) (float64, float64) {
		min, max := curMin, curMax
		if lynxMin > min {
			min = lynxMin
		}
		if lynxMax < max || max == 0 {
			max = lynxMax
		}
		return min, max
	}
	c.BatteryVoltageMinV, c.BatteryVoltageMaxV = tighten(c.BatteryVoltageMinV, c.BatteryVoltageMaxV, 320, 480)
	c.BatteryTempMinC, c.BatteryTempMaxC = tighten(c.BatteryTempMinC, c.BatteryTempMaxC, 0, 53)
	return c
}

// Supervisor evaluates readings against the envelope and tracks the
// emergency/recovery state machine.
type Supervisor struct {
	cfg        Config
	port       inverter.Port
	inError    bool
	greenTicks int
}

// New builds a safety supervisor bound to the inverter port it will
// command on a fatal breach.
func New(cfg Config, port inverter.Port) *Supervisor {
	return &Supervisor{cfg: cfg.effective(), port: port}
}

// Evaluate checks one tick's readings, issuing EmergencyStop through
// the inverter port if any fatal envelope is breached, and reporting
// recovery once enough consecutive clean ticks have passed.
func (s *Supervisor) Evaluate(ctx context.Context, r collector.Readings) Report {
	issues := s.checkEnvelope(r)
	issues = append(issues, s.checkCompliance(r)...)

	fatal := false
	for _, i := range issues {
		if i.Severity == SeverityFatal {
			fatal = true
			break
		}
	}

	report := Report{Fatal: fatal, Issues: issues}

	if fatal {
		s.greenTicks = 0
		if !s.inError {
			s.inError = true
		}
		if s.port != nil {
			_ = s.port.EmergencyStop(ctx)
		}
		return report
	}

	if s.inError {
		s.greenTicks++
		if s.greenTicks >= s.recoveryTicks() {
			s.inError = false
			s.greenTicks = 0
			report.Recovered = true
		}
	}

	return report
}

func (s *Supervisor) recoveryTicks() int {
	if s.cfg.RecoveryTicks <= 0 {
		return 3
	}
	return s.cfg.RecoveryTicks
}

// InError reports whether the supervisor currently considers the site
// to be in the fatal error state (CoordinatorState should mirror this).
func (s *Supervisor) InError() bool { return s.inError }

func (s *Supervisor) checkEnvelope(r collector.Readings) []Issue {
	var issues []Issue
	b := r.Battery

	if b.TempC < s.cfg.BatteryTempMinC || b.TempC > s.cfg.BatteryTempMaxC {
		issues = append(issues, Issue{
			Field: "battery_temp_c", Value: b.TempC, Limit: limitFor(b.TempC, s.cfg.BatteryTempMinC, s.cfg.BatteryTempMaxC),
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("battery temperature %.1f°C outside [%.1f, %.1f]", b.TempC, s.cfg.BatteryTempMinC, s.cfg.BatteryTempMaxC),
		})
	} else if s.cfg.BatteryTempWarnC > 0 && b.TempC > s.cfg.BatteryTempWarnC {
		issues = append(issues, Issue{
			Field: "battery_temp_c", Value: b.TempC, Limit: s.cfg.BatteryTempWarnC,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("battery temperature %.1f°C approaching limit %.1f°C", b.TempC, s.cfg.BatteryTempMaxC),
		})
	}

	if b.VoltageV < s.cfg.BatteryVoltageMinV || b.VoltageV > s.cfg.BatteryVoltageMaxV {
		issues = append(issues, Issue{
			Field: "battery_voltage_v", Value: b.VoltageV, Limit: limitFor(b.VoltageV, s.cfg.BatteryVoltageMinV, s.cfg.BatteryVoltageMaxV),
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("battery voltage %.1fV outside [%.1f, %.1f]", b.VoltageV, s.cfg.BatteryVoltageMinV, s.cfg.BatteryVoltageMaxV),
		})
	}

	if s.cfg.BatteryCurrentMaxA > 0 {
		absCurrent := b.CurrentA
		if absCurrent < 0 {
			absCurrent = -absCurrent
		}
		if absCurrent > s.cfg.BatteryCurrentMaxA {
			issues = append(issues, Issue{
				Field: "battery_current_a", Value: absCurrent, Limit: s.cfg.BatteryCurrentMaxA,
				Severity: SeverityFatal,
				Message:  fmt.Sprintf("battery current %.1fA exceeds max %.1fA", absCurrent, s.cfg.BatteryCurrentMaxA),
			})
		}
	}

	if b.SOCPct < s.cfg.BatterySOCMinPct || b.SOCPct > s.cfg.BatterySOCMaxPct {
		issues = append(issues, Issue{
			Field: "battery_soc_pct", Value: b.SOCPct, Limit: limitFor(b.SOCPct, s.cfg.BatterySOCMinPct, s.cfg.BatterySOCMaxPct),
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("battery SoC %.1f%% outside [%.1f, %.1f]", b.SOCPct, s.cfg.BatterySOCMinPct, s.cfg.BatterySOCMaxPct),
		})
	}

	if gv := r.Grid.VoltageV.Or(0); gv > 0 && s.cfg.GridVoltageMaxV > 0 {
		if gv < s.cfg.GridVoltageMinV || gv > s.cfg.GridVoltageMaxV {
			issues = append(issues, Issue{
				Field: "grid_voltage_v", Value: gv, Limit: limitFor(gv, s.cfg.GridVoltageMinV, s.cfg.GridVoltageMaxV),
				Severity: SeverityFatal,
				Message:  fmt.Sprintf("grid voltage %.1fV outside [%.1f, %.1f]", gv, s.cfg.GridVoltageMinV, s.cfg.GridVoltageMaxV),
			})
		}
	}

	if s.cfg.GridMaxPowerW > 0 {
		gp := r.Grid.PowerW.Or(0)
		if gp < 0 {
			gp = -gp
		}
		if gp > s.cfg.GridMaxPowerW {
			issues = append(issues, Issue{
				Field: "grid_power_w", Value: gp, Limit: s.cfg.GridMaxPowerW,
				Severity: SeverityFatal,
				Message:  fmt.Sprintf("grid power %.0fW exceeds max %.0fW", gp, s.cfg.GridMaxPowerW),
			})
		}
	}

	if r.System.State == inverter.StateFault {
		issues = append(issues, Issue{
			Field: "inverter_state", Severity: SeverityFatal,
			Message: fmt.Sprintf("inverter reports fault state: %v", r.System.ErrorCodes),
		})
	}

	return issues
}

// checkCompliance evaluates the advisory battery-chemistry/BMS
// compliance checks that never stop operation on their own, only
// attach a warning (the LFP check in the original is non-fatal).
func (s *Supervisor) checkCompliance(r collector.Readings) []Issue {
	var issues []Issue
	if s.cfg.VDE2510_50Compliance && !s.cfg.BMSIntegration {
		issues = append(issues, Issue{
			Field: "bms_integration", Severity: SeverityWarning,
			Message: "VDE-2510-50 compliance requested without BMS integration enabled",
		})
	}
	return issues
}

func limitFor(value, min, max float64) float64 {
	if value < min {
		return min
	}
	return max
}
