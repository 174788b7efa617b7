package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Inverter.IPAddress = "192.168.1.50"
	return cfg
}

func TestValidate_DefaultPlusIPAddressPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a valid config, got: %v", err)
	}
}

func TestValidate_MissingVendor(t *testing.T) {
	cfg := validConfig()
	cfg.Inverter.Vendor = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a missing inverter vendor")
	}
}

func TestValidate_MissingIPAddressUnlessMock(t *testing.T) {
	cfg := validConfig()
	cfg.Inverter.IPAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a missing IP address on a real vendor")
	}

	cfg.Inverter.Vendor = "mock"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected the mock vendor to skip the IP address requirement, got: %v", err)
	}
}

func TestValidate_NonPositiveBatteryCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.BatteryManagement.CapacityKWh = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a non-positive battery capacity")
	}
}

func TestValidate_NonPositiveDecisionInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Coordinator.DecisionIntervalMinutes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a non-positive decision interval")
	}
}

func TestValidate_BandThresholdsMustBeStrictlyMonotonic(t *testing.T) {
	cfg := validConfig()
	cfg.ElectricityTariff.BandThresholds.Cheap = cfg.ElectricityTariff.BandThresholds.Moderate
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for non-monotonic band thresholds")
	}
}

func TestValidate_UnknownTariffType(t *testing.T) {
	cfg := validConfig()
	cfg.ElectricityTariff.TariffType = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized tariff type")
	}
}

func TestValidate_G14DynamicRequiresPeakHoursFeed(t *testing.T) {
	cfg := validConfig()
	cfg.ElectricityTariff.TariffType = "g14dynamic"
	cfg.PSEPeakHours.Enabled = false
	if err := cfg.Validate(); err == nil {
		t.Error("expected g14dynamic to require pse_peak_hours.enabled")
	}

	cfg.PSEPeakHours.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected g14dynamic with peak hours enabled to pass, got: %v", err)
	}
}

func TestValidate_UnknownStorageMode(t *testing.T) {
	cfg := validConfig()
	cfg.DataStorage.Mode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized storage mode")
	}
}

func TestValidate_SafetyFloorOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.BatterySelling.DynamicSOCThresholds.AbsoluteSafetyFloor = 150
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an out-of-range absolute safety floor")
	}
}

func TestDynamicFloorHardMinimum(t *testing.T) {
	cfg := validConfig()
	cfg.BatterySelling.DynamicSOCThresholds.AbsoluteSafetyFloor = 42
	if got := cfg.DynamicFloorHardMinimum(); got != 42 {
		t.Errorf("DynamicFloorHardMinimum() = %v, want 42", got)
	}
}

func writeYAML(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad_BootstrapsLocalFromBaseline(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, filepath.Join(dir, "baseline.yaml"), `
inverter:
  vendor: sigenergy
  ip_address: 10.0.0.5
battery_management:
  capacity_kwh: 15
coordinator:
  decision_interval_minutes: 10
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Inverter.IPAddress != "10.0.0.5" {
		t.Errorf("Inverter.IPAddress = %q, want 10.0.0.5", cfg.Inverter.IPAddress)
	}
	if _, err := os.Stat(filepath.Join(dir, "local.yaml")); err != nil {
		t.Error("expected local.yaml to be bootstrapped from baseline.yaml")
	}
}

func TestLoad_LocalOverridesBaseline(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, filepath.Join(dir, "baseline.yaml"), `
inverter:
  vendor: sigenergy
  ip_address: 10.0.0.5
battery_management:
  capacity_kwh: 15
coordinator:
  decision_interval_minutes: 10
`)
	writeYAML(t, filepath.Join(dir, "local.yaml"), `
inverter:
  vendor: sigenergy
  ip_address: 10.0.0.99
battery_management:
  capacity_kwh: 15
coordinator:
  decision_interval_minutes: 10
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Inverter.IPAddress != "10.0.0.99" {
		t.Errorf("Inverter.IPAddress = %q, want local.yaml's override 10.0.0.99", cfg.Inverter.IPAddress)
	}
}

func TestLoad_OverrideLayerWinsOverLocal(t *testing.T) {
	dir := t.TempDir()
	base := `
inverter:
  vendor: sigenergy
  ip_address: 10.0.0.5
battery_management:
  capacity_kwh: 15
coordinator:
  decision_interval_minutes: 10
`
	writeYAML(t, filepath.Join(dir, "baseline.yaml"), base)
	writeYAML(t, filepath.Join(dir, "local.yaml"), base)
	writeYAML(t, filepath.Join(dir, "override.yaml"), `
coordinator:
  decision_interval_minutes: 30
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Coordinator.DecisionIntervalMinutes != 30 {
		t.Errorf("DecisionIntervalMinutes = %d, want override.yaml's 30", cfg.Coordinator.DecisionIntervalMinutes)
	}
}

func TestLoad_InvalidMergedConfigFails(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, filepath.Join(dir, "baseline.yaml"), `
inverter:
  vendor: sigenergy
  ip_address: 10.0.0.5
battery_management:
  capacity_kwh: 0
coordinator:
  decision_interval_minutes: 10
`)

	if _, err := Load(dir); err == nil {
		t.Error("expected Load() to surface a validation error for an invalid merged config")
	}
}

func TestDeepMerge_NestedMapsMergeScalarsReplace(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "base",
	}
	override := map[string]any{
		"a": map[string]any{"y": 99},
		"b": "override",
	}
	merged := deepMerge(base, override)

	am, ok := merged["a"].(map[string]any)
	if !ok {
		t.Fatal("expected merged[\"a\"] to remain a nested map")
	}
	if am["x"] != 1 {
		t.Errorf("expected untouched nested key x=1 to survive the merge, got %v", am["x"])
	}
	if am["y"] != 99 {
		t.Errorf("expected nested key y to be overridden to 99, got %v", am["y"])
	}
	if merged["b"] != "override" {
		t.Errorf("expected scalar b to be replaced outright, got %v", merged["b"])
	}
}
