// Package main provides the site energy optimizer's entry point and CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitewatt/energy-optimizer/config"
	"github.com/sitewatt/energy-optimizer/coordinator"
	"github.com/sitewatt/energy-optimizer/inverter"
	"github.com/sitewatt/energy-optimizer/inverter/sigenergy"
	"github.com/sitewatt/energy-optimizer/storage"
)

// Exit codes (spec.md §6).
const (
	exitOK                  = 0
	exitConfigError         = 1
	exitFatalSafetyAtBoot   = 2
	exitInverterUnreachable = 3
)

func main() {
	var (
		configDir = flag.String("config", "./config", "Configuration directory path")
		status    = flag.Bool("status", false, "Show current plant status and exit")
		dryRun    = flag.Bool("dry-run", false, "Evaluate decisions without issuing inverter commands")
		help      = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		os.Exit(exitOK)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid configuration:", err)
		os.Exit(exitConfigError)
	}

	logger := log.New(os.Stdout, "[sitewatt] ", log.LstdFlags)

	store, err := storage.New(cfg.DataStorage, logger)
	if err != nil {
		fmt.Println("Error initializing storage:", err)
		os.Exit(exitConfigError)
	}

	var port inverter.Port = sigenergy.New()

	if *status {
		showStatus(cfg, port, logger)
		return
	}

	if *dryRun {
		logger.Printf("dry-run mode: decisions will be logged but not sent to the inverter")
		port = &dryRunPort{Port: port, logger: logger}
	}

	coord, err := coordinator.New(cfg, port, store, logger)
	if err != nil {
		fmt.Println("Error assembling coordinator:", err)
		os.Exit(exitConfigError)
	}

	logger.Printf("starting site energy optimizer")
	logger.Printf("  inverter: %s @ %s:%d", cfg.Inverter.Vendor, cfg.Inverter.IPAddress, cfg.Inverter.Port)
	logger.Printf("  decision mode: %s, interval: %dm", cfg.Coordinator.DecisionMode, cfg.Coordinator.DecisionIntervalMinutes)
	logger.Printf("  tariff: %s", cfg.ElectricityTariff.TariffType)
	if cfg.BatterySelling.Enabled {
		logger.Printf("  selling: enabled, min price %.2f PLN/kWh", cfg.BatterySelling.MinSellingPricePLN)
	}

	var statusServer *coordinator.StatusServer
	if cfg.WebServer.Enabled {
		statusServer = coordinator.NewStatusServer(coord, cfg.WebServer.Port, cfg.Site.Latitude, cfg.Site.Longitude)
		if err := statusServer.Start(); err != nil {
			logger.Printf("status server failed to start: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- coord.Run(ctx)
	}()

	select {
	case <-sigChan:
		logger.Printf("shutdown signal received, stopping...")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Printf("coordinator stopped: %v", err)
			if statusServer != nil {
				_ = statusServer.Stop(context.Background())
			}
			if errors.Is(err, coordinator.ErrFatalSafetyAtBoot) {
				os.Exit(exitFatalSafetyAtBoot)
			}
			os.Exit(exitInverterUnreachable)
		}
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = statusServer.Stop(shutdownCtx)
	}

	logger.Printf("stopped")
}

// showStatus connects briefly and prints a snapshot of the plant
// state, adapted from the vendor-info pretty-printer into a
// Reading-based summary.
func showStatus(cfg *config.Config, port inverter.Port, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Inverter.TimeoutS)*time.Second)
	defer cancel()

	connectCfg := inverter.ConnectConfig{
		Address:    cfg.Inverter.IPAddress,
		Port:       cfg.Inverter.Port,
		Timeout:    time.Duration(cfg.Inverter.TimeoutS) * time.Second,
		Retries:    cfg.Inverter.Retries,
		RetryDelay: time.Duration(cfg.Inverter.RetryDelayS * float64(time.Second)),
	}
	if err := port.Connect(ctx, connectCfg); err != nil {
		fmt.Println("Error connecting to inverter:", err)
		os.Exit(exitInverterUnreachable)
	}
	defer port.Disconnect()

	status, err := port.ReadStatus(ctx)
	if err != nil {
		fmt.Println("Error reading status:", err)
		os.Exit(exitInverterUnreachable)
	}
	battery, err := port.ReadBattery(ctx)
	if err != nil {
		fmt.Println("Error reading battery:", err)
		os.Exit(exitInverterUnreachable)
	}
	pvPowerW, pvDailyWh, _ := port.CollectPV(ctx)
	gridPowerW, gridVoltageV, gridFreqHz, _ := port.CollectGrid(ctx)
	consumptionW, _ := port.CollectConsumption(ctx)

	fmt.Println("========================================")
	fmt.Println("PLANT STATUS")
	fmt.Println("========================================")
	fmt.Printf("Inverter:    %s (serial %s), state=%s\n", status.Model, status.Serial, status.State)
	fmt.Printf("Battery:     %.1f%% SoC, %.1fV, %.1fA, %.1f°C, charging=%t\n",
		battery.SOCPct, battery.VoltageV, battery.CurrentA, battery.TempC, battery.Charging)
	fmt.Printf("PV:          %.0fW (today %.0fWh)\n", pvPowerW, pvDailyWh)
	fmt.Printf("Grid:        %.0fW, %.1fV, %.2fHz\n", gridPowerW, gridVoltageV, gridFreqHz)
	fmt.Printf("Consumption: %.0fW\n", consumptionW)
	fmt.Println("========================================")
	logger.Printf("status check complete")
}

// dryRunPort wraps a real inverter.Port, logging every write command
// instead of forwarding it. Reads pass through unchanged.
type dryRunPort struct {
	inverter.Port
	logger *log.Logger
}

func (p *dryRunPort) StartCharging(ctx context.Context, powerPct, targetSOCPct float64) error {
	p.logger.Printf("[dry-run] would StartCharging(powerPct=%.0f, targetSOC=%.0f%%)", powerPct, targetSOCPct)
	return nil
}

func (p *dryRunPort) StopCharging(ctx context.Context) error {
	p.logger.Printf("[dry-run] would StopCharging()")
	return nil
}

func (p *dryRunPort) SetExportLimit(ctx context.Context, powerW float64) error {
	p.logger.Printf("[dry-run] would SetExportLimit(%.0fW)", powerW)
	return nil
}

func (p *dryRunPort) SetBatteryDoD(ctx context.Context, depthPct float64) error {
	p.logger.Printf("[dry-run] would SetBatteryDoD(%.0f%%)", depthPct)
	return nil
}

func (p *dryRunPort) SetOperationMode(ctx context.Context, mode inverter.OperationMode, powerW *float64, minSOCPct *float64) error {
	p.logger.Printf("[dry-run] would SetOperationMode(%s)", mode)
	return nil
}

func (p *dryRunPort) EmergencyStop(ctx context.Context) error {
	p.logger.Printf("[dry-run] would EmergencyStop()")
	return nil
}

func showHelp() {
	fmt.Println("sitewatt - site-local energy optimizer for PV+battery installations")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Coordinates battery charging and selling against a dynamic day-ahead")
	fmt.Println("  electricity market, PV and weather forecasts, and a site safety envelope.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sitewatt [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with the default config directory")
	fmt.Println("  sitewatt")
	fmt.Println()
	fmt.Println("  # Point at a different config directory")
	fmt.Println("  sitewatt -config=/etc/sitewatt")
	fmt.Println()
	fmt.Println("  # Show current plant status and exit")
	fmt.Println("  sitewatt -status")
	fmt.Println()
	fmt.Println("  # Evaluate decisions without commanding the inverter")
	fmt.Println("  sitewatt -dry-run")
}
