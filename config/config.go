// Package config implements the layered configuration system: a
// committed baseline, a hardware-specific local layer, and an optional
// operator override, deep-merged in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully merged, validated configuration for one site.
type Config struct {
	Site                 SiteConfig                  `yaml:"site"`
	Forecast             ForecastConfig              `yaml:"forecast"`
	Inverter             InverterConfig             `yaml:"inverter"`
	BatteryManagement    BatteryManagementConfig     `yaml:"battery_management"`
	Coordinator          CoordinatorConfig           `yaml:"coordinator"`
	ElectricityTariff    ElectricityTariffConfig     `yaml:"electricity_tariff"`
	PSEPeakHours         FeatureToggle               `yaml:"pse_peak_hours"`
	PSEPriceForecast     FeatureToggle               `yaml:"pse_price_forecast"`
	WeatherIntegration   FeatureToggle               `yaml:"weather_integration"`
	PVConsumptionAnalysis PVConsumptionAnalysisConfig `yaml:"pv_consumption_analysis"`
	BatterySelling       BatterySellingConfig        `yaml:"battery_selling"`
	DataStorage          DataStorageConfig           `yaml:"data_storage"`
	WebServer            WebServerConfig             `yaml:"web_server"`
}

// SiteConfig locates the installation for sun-position and PV-yield
// estimation.
type SiteConfig struct {
	Latitude      float64 `yaml:"latitude"`
	Longitude     float64 `yaml:"longitude"`
	PVCapacityKWp float64 `yaml:"pv_capacity_kwp"`
}

// ForecastConfig points C4's clients at their upstream feeds.
type ForecastConfig struct {
	PriceAPIURL          string        `yaml:"price_api_url"`
	PeakLabelURL         string        `yaml:"peak_label_url"`
	WeatherUserAgent     string        `yaml:"weather_user_agent"`
	PriceCacheMinutes    int           `yaml:"price_cache_minutes"`
	WeatherCacheMinutes  int           `yaml:"weather_cache_minutes"`
	PeakLabelCacheMinutes int          `yaml:"peak_label_cache_minutes"`
}

type InverterConfig struct {
	Vendor         string        `yaml:"vendor"`
	IPAddress      string        `yaml:"ip_address"`
	Port           int           `yaml:"port"`
	TimeoutS       int           `yaml:"timeout_s"`
	Retries        int           `yaml:"retries"`
	RetryDelayS    float64       `yaml:"retry_delay_s"`
	VendorSpecific VendorSpecific `yaml:"vendor_specific"`
}

type VendorSpecific struct {
	Family   string `yaml:"family"`
	CommAddr int    `yaml:"comm_addr"`
}

type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type TemperatureThresholds struct {
	ChargingMin float64 `yaml:"charging_min"`
	ChargingMax float64 `yaml:"charging_max"`
	Warning     float64 `yaml:"warning"`
}

type BatteryManagementConfig struct {
	CapacityKWh             float64               `yaml:"capacity_kwh"`
	BatteryType             string                `yaml:"battery_type"`
	VoltageRange            Range                 `yaml:"voltage_range"`
	TemperatureThresholds   TemperatureThresholds `yaml:"temperature_thresholds"`
	BMSIntegration          bool                  `yaml:"bms_integration"`
	VDE2510_50Compliance    bool                  `yaml:"vde_2510_50_compliance"`
	AutoRebootUndervoltage  bool                  `yaml:"auto_reboot_undervoltage"`
	SOCThresholds           SOCThresholds         `yaml:"soc_thresholds"`
}

type SOCThresholds struct {
	Critical float64 `yaml:"critical"`
	Low      float64 `yaml:"low"`
}

type AggressiveChargingCategory struct {
	PercentileMax float64 `yaml:"percentile_max"`
	TargetSOC     float64 `yaml:"target_soc"`
}

type AggressiveChargingConfig struct {
	Enabled             bool                         `yaml:"enabled"`
	PriceThresholdPercent float64                    `yaml:"price_threshold_percent"`
	Categories          []AggressiveChargingCategory `yaml:"categories"`
}

type EmergencyStopConditions struct {
	BatteryVoltageMin float64 `yaml:"battery_voltage_min"`
	BatteryVoltageMax float64 `yaml:"battery_voltage_max"`
	BatteryTempMax    float64 `yaml:"battery_temp_max"`
}

type CoordinatorConfig struct {
	DecisionIntervalMinutes    int                      `yaml:"decision_interval_minutes"`
	HealthCheckIntervalMinutes int                      `yaml:"health_check_interval_minutes"`
	DataRetentionDays          int                      `yaml:"data_retention_days"`
	EmergencyStopConditions    EmergencyStopConditions  `yaml:"emergency_stop_conditions"`
	CheapestPriceAggressive    AggressiveChargingConfig `yaml:"cheapest_price_aggressive_charging"`
	DecisionMode               string                   `yaml:"decision_mode"` // "legacy" | "hybrid"
	SamplingInterval           time.Duration            `yaml:"-"`
	SamplingIntervalSeconds    int                      `yaml:"sampling_interval_seconds"`
	PersistEveryNTicks         int                      `yaml:"persist_every_n_ticks"`
}

type ElectricityTariffConfig struct {
	TariffType           string  `yaml:"tariff_type"` // flat | g12w | g14dynamic
	SCComponentPLNKWh    float64 `yaml:"sc_component_pln_kwh"`
	G12WDayComponent     float64 `yaml:"g12w_day_component_pln_kwh"`
	G12WNightComponent   float64 `yaml:"g12w_night_component_pln_kwh"`
	G12WNightStartHour   int     `yaml:"g12w_night_start_hour"`
	G12WNightEndHour     int     `yaml:"g12w_night_end_hour"`
	G14RequiredReduction float64 `yaml:"g14_required_reduction_component_pln_kwh"`
	G14RecommendedSaving float64 `yaml:"g14_recommended_saving_component_pln_kwh"`
	G14RecommendedUse    float64 `yaml:"g14_recommended_use_component_pln_kwh"`
	BandThresholds       BandThresholds `yaml:"band_thresholds"`
}

// BandThresholds must be strictly monotonic: super_cheap < very_cheap <
// cheap < moderate < expensive < very_expensive.
type BandThresholds struct {
	SuperCheap    float64 `yaml:"super_cheap"`
	VeryCheap     float64 `yaml:"very_cheap"`
	Cheap         float64 `yaml:"cheap"`
	Moderate      float64 `yaml:"moderate"`
	Expensive     float64 `yaml:"expensive"`
	VeryExpensive float64 `yaml:"very_expensive"`
}

type FeatureToggle struct {
	Enabled bool `yaml:"enabled"`
}

type PVConsumptionAnalysisConfig struct {
	NightChargingEnabled          bool    `yaml:"night_charging_enabled"`
	NightHours                   []int   `yaml:"night_hours"`
	HighPriceThresholdPercentile  float64 `yaml:"high_price_threshold_percentile"`
	PoorPVThresholdKWhPerHour     float64 `yaml:"poor_pv_threshold_kwh_per_hour"`
	MinNightChargingSOC           float64 `yaml:"min_night_charging_soc"`
	MaxNightChargingSOC           float64 `yaml:"max_night_charging_soc"`
	NightChargingTargetSOCPoorPV  float64 `yaml:"night_charging_target_soc_poor_pv"`
	AssumePoorPVOnAPIFailure      bool    `yaml:"assume_poor_pv_on_api_failure"`
	PVOverproductionThresholdW    float64 `yaml:"pv_overproduction_threshold_w"`
}

type DynamicSOCThresholds struct {
	CheapFloor         float64 `yaml:"cheap_floor"`
	PremiumFloor       float64 `yaml:"premium_floor"`
	SuperPremiumFloor  float64 `yaml:"super_premium_floor"`
	SuperPremiumThresholdPLN float64 `yaml:"super_premium_threshold_pln"`
	AbsoluteSafetyFloor float64 `yaml:"absolute_safety_floor"`
	RechargeOpportunityRatio float64 `yaml:"recharge_opportunity_ratio"`
}

type SmartTimingConfig struct {
	TrendWindowHours           int     `yaml:"trend_window_h"`
	MaxWaitTimeHours           float64 `yaml:"max_wait_time_h"`
	MinPeakDifferencePercent   float64 `yaml:"min_peak_difference_percent"`
	NearPeakThresholdPercent   float64 `yaml:"near_peak_threshold_percent"`
	SignificantOpportunityPLN  float64 `yaml:"significant_opportunity_pln"`
	HighPriceCancelConsumptionW float64 `yaml:"high_price_cancel_consumption_w"`
}

type BatterySellingConfig struct {
	Enabled            bool                 `yaml:"enabled"`
	MinBatterySOC      float64              `yaml:"min_battery_soc"`
	SafetyMarginSOC    float64              `yaml:"safety_margin_soc"`
	PeakHours          []int                `yaml:"peak_hours"`
	MinSellingPricePLN float64              `yaml:"min_selling_price_pln"`
	SmartTiming        SmartTimingConfig    `yaml:"smart_timing"`
	DynamicSOCThresholds DynamicSOCThresholds `yaml:"dynamic_soc_thresholds"`
}

type FileStorageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"base_path"`
}

type DatabaseStorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Driver    string `yaml:"driver"` // "sqlite" | "postgres"
	Path      string `yaml:"path"`
	PoolSize  int    `yaml:"pool_size"`
	BatchSize int    `yaml:"batch_size"`
}

type DataStorageConfig struct {
	Mode            string                `yaml:"mode"` // file | database | composite
	File            FileStorageConfig     `yaml:"file"`
	Database        DatabaseStorageConfig `yaml:"database"`
	EnableFallback  bool                  `yaml:"enable_fallback"`
}

type WebServerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	LogDirectory string `yaml:"log_directory"`
}

// DefaultConfig mirrors the teacher's DefaultConfig: a complete,
// self-consistent baseline suitable for bootstrapping config/local.yaml.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Latitude:      52.2297,
			Longitude:     21.0122,
			PVCapacityKWp: 10.0,
		},
		Forecast: ForecastConfig{
			PriceAPIURL:           "https://web-api.tp.entsoe.eu/api",
			PeakLabelURL:          "https://www.pse.pl/api/peak-hours",
			WeatherUserAgent:      "sitewatt-energy-optimizer/1.0",
			PriceCacheMinutes:     60,
			WeatherCacheMinutes:   120,
			PeakLabelCacheMinutes: 60,
		},
		Inverter: InverterConfig{
			Vendor:      "sigenergy",
			Port:        502,
			TimeoutS:    5,
			Retries:     3,
			RetryDelayS: 2,
			VendorSpecific: VendorSpecific{
				Family:   "hybrid",
				CommAddr: 247,
			},
		},
		BatteryManagement: BatteryManagementConfig{
			CapacityKWh: 20.0,
			BatteryType: "lfp",
			VoltageRange: Range{Min: 40, Max: 58},
			TemperatureThresholds: TemperatureThresholds{
				ChargingMin: 0,
				ChargingMax: 50,
				Warning:     45,
			},
			SOCThresholds: SOCThresholds{Critical: 20, Low: 40},
		},
		Coordinator: CoordinatorConfig{
			DecisionIntervalMinutes:    15,
			HealthCheckIntervalMinutes: 5,
			DataRetentionDays:          90,
			EmergencyStopConditions: EmergencyStopConditions{
				BatteryVoltageMin: 38,
				BatteryVoltageMax: 60,
				BatteryTempMax:    55,
			},
			DecisionMode:            "hybrid",
			SamplingIntervalSeconds: 20,
			PersistEveryNTicks:      15,
		},
		ElectricityTariff: ElectricityTariffConfig{
			TariffType:        "flat",
			SCComponentPLNKWh: 0.0892,
			BandThresholds: BandThresholds{
				SuperCheap:    0.20,
				VeryCheap:     0.35,
				Cheap:         0.50,
				Moderate:      0.70,
				Expensive:     0.90,
				VeryExpensive: 1.10,
			},
		},
		PSEPeakHours:       FeatureToggle{Enabled: false},
		PSEPriceForecast:   FeatureToggle{Enabled: true},
		WeatherIntegration: FeatureToggle{Enabled: true},
		PVConsumptionAnalysis: PVConsumptionAnalysisConfig{
			NightChargingEnabled:         true,
			NightHours:                   []int{22, 23, 0, 1, 2, 3, 4, 5},
			HighPriceThresholdPercentile: 0.75,
			PoorPVThresholdKWhPerHour:    0.3,
			MinNightChargingSOC:          40,
			MaxNightChargingSOC:          80,
			NightChargingTargetSOCPoorPV: 100,
			AssumePoorPVOnAPIFailure:     true,
			PVOverproductionThresholdW:   500,
		},
		BatterySelling: BatterySellingConfig{
			Enabled:            false,
			MinBatterySOC:      50,
			SafetyMarginSOC:    5,
			MinSellingPricePLN: 0.5,
			SmartTiming: SmartTimingConfig{
				TrendWindowHours:          6,
				MaxWaitTimeHours:          4,
				MinPeakDifferencePercent:  15,
				NearPeakThresholdPercent:  90,
				SignificantOpportunityPLN: 2.0,
			},
			DynamicSOCThresholds: DynamicSOCThresholds{
				CheapFloor:               80,
				PremiumFloor:             60,
				SuperPremiumFloor:        50,
				SuperPremiumThresholdPLN: 1.2,
				AbsoluteSafetyFloor:      50,
				RechargeOpportunityRatio: 0.7,
			},
		},
		DataStorage: DataStorageConfig{
			Mode:           "file",
			File:           FileStorageConfig{Enabled: true, BasePath: "out"},
			Database:       DatabaseStorageConfig{Driver: "sqlite", Path: "data/energy.db", PoolSize: 5, BatchSize: 100},
			EnableFallback: true,
		},
		WebServer: WebServerConfig{
			Enabled:      false,
			Host:         "0.0.0.0",
			Port:         8080,
			LogDirectory: "out/logs",
		},
	}
}

// Load reads baseline.yaml, local.yaml and override.yaml from dir,
// deep-merges them in that order (later wins on scalar conflicts), and
// validates the result. If local.yaml is absent, it is bootstrapped as
// a byte-for-byte copy of baseline.yaml.
func Load(dir string) (*Config, error) {
	baselinePath := filepath.Join(dir, "baseline.yaml")
	localPath := filepath.Join(dir, "local.yaml")
	overridePath := filepath.Join(dir, "override.yaml")

	baseline, err := readYAMLMap(baselinePath)
	if err != nil {
		return nil, fmt.Errorf("config: reading baseline %s: %w", baselinePath, err)
	}

	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		if err := copyFile(baselinePath, localPath); err != nil {
			return nil, fmt.Errorf("config: bootstrapping local layer: %w", err)
		}
	}

	local, err := readYAMLMap(localPath)
	if err != nil {
		return nil, fmt.Errorf("config: reading local %s: %w", localPath, err)
	}

	merged := deepMerge(baseline, local)

	if _, err := os.Stat(overridePath); err == nil {
		override, err := readYAMLMap(overridePath)
		if err != nil {
			return nil, fmt.Errorf("config: reading override %s: %w", overridePath, err)
		}
		merged = deepMerge(merged, override)
	}

	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshaling merged layers: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(out, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding merged config: %w", err)
	}
	cfg.Coordinator.SamplingInterval = time.Duration(cfg.Coordinator.SamplingIntervalSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func readYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// deepMerge merges override into base, recursing into nested maps and
// replacing scalars (including slices) outright. base is not mutated.
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		if bv, ok := out[k]; ok {
			bm, bok := bv.(map[string]any)
			om, ook := ov.(map[string]any)
			if bok && ook {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}

// Validate enumerates the per-field checks the coordinator requires at
// boot; a non-nil error here is a configuration error per spec §7,
// causing the CLI to exit with code 1.
func (c *Config) Validate() error {
	if c.Inverter.Vendor == "" {
		return fmt.Errorf("inverter.vendor is required")
	}
	if c.Inverter.IPAddress == "" && c.Inverter.Vendor != "mock" {
		return fmt.Errorf("inverter.ip_address is required")
	}
	if c.BatteryManagement.CapacityKWh <= 0 {
		return fmt.Errorf("battery_management.capacity_kwh must be > 0")
	}
	if c.Coordinator.DecisionIntervalMinutes <= 0 {
		return fmt.Errorf("coordinator.decision_interval_minutes must be > 0")
	}
	bt := c.ElectricityTariff.BandThresholds
	if !(bt.SuperCheap < bt.VeryCheap && bt.VeryCheap < bt.Cheap && bt.Cheap < bt.Moderate && bt.Moderate < bt.Expensive && bt.Expensive < bt.VeryExpensive) {
		return fmt.Errorf("electricity_tariff.band_thresholds must be strictly monotonic (super_cheap < very_cheap < cheap < moderate < expensive < very_expensive)")
	}
	switch c.ElectricityTariff.TariffType {
	case "flat", "g12w", "g14dynamic":
	default:
		return fmt.Errorf("electricity_tariff.tariff_type must be one of flat, g12w, g14dynamic, got %q", c.ElectricityTariff.TariffType)
	}
	if c.ElectricityTariff.TariffType == "g14dynamic" && !c.PSEPeakHours.Enabled {
		return fmt.Errorf("electricity_tariff.tariff_type=g14dynamic requires pse_peak_hours.enabled=true (peak-label feed is mandatory for this profile)")
	}
	switch c.DataStorage.Mode {
	case "file", "database", "composite":
	default:
		return fmt.Errorf("data_storage.mode must be one of file, database, composite, got %q", c.DataStorage.Mode)
	}
	if df := c.DynamicFloorHardMinimum(); df < 0 || df > 100 {
		return fmt.Errorf("battery_selling.dynamic_soc_thresholds.absolute_safety_floor must be in [0,100]")
	}
	return nil
}

// DynamicFloorHardMinimum is the absolute safety floor selling may never cross.
func (c *Config) DynamicFloorHardMinimum() float64 {
	return c.BatterySelling.DynamicSOCThresholds.AbsoluteSafetyFloor
}
