package sigenergy

import (
	"context"
	"errors"
	"testing"

	"github.com/sitewatt/energy-optimizer/inverter"
)

// These tests exercise the adapter's pre-connect guard: every command
// must fail with inverter.ErrNotConnected before Connect succeeds,
// since none of them may safely touch a nil Modbus client.

func TestAdapter_NotConnectedByDefault(t *testing.T) {
	a := New()
	if a.IsConnected() {
		t.Error("expected a freshly built adapter to report not connected")
	}
}

func TestAdapter_CommandsFailBeforeConnect(t *testing.T) {
	a := New()
	ctx := context.Background()

	if _, err := a.ReadStatus(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("ReadStatus() = %v, want ErrNotConnected", err)
	}
	if _, err := a.ReadBattery(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("ReadBattery() = %v, want ErrNotConnected", err)
	}
	if _, err := a.ReadRuntime(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("ReadRuntime() = %v, want ErrNotConnected", err)
	}
	if _, _, err := a.CheckSafety(ctx, inverter.SafetyConfig{}); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("CheckSafety() = %v, want ErrNotConnected", err)
	}
	if err := a.SetOperationMode(ctx, inverter.ModeEco, nil, nil); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("SetOperationMode() = %v, want ErrNotConnected", err)
	}
	if err := a.StartCharging(ctx, 50, 80); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("StartCharging() = %v, want ErrNotConnected", err)
	}
	if err := a.StopCharging(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("StopCharging() = %v, want ErrNotConnected", err)
	}
	if err := a.SetExportLimit(ctx, 1000); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("SetExportLimit() = %v, want ErrNotConnected", err)
	}
	if err := a.SetBatteryDoD(ctx, 80); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("SetBatteryDoD() = %v, want ErrNotConnected", err)
	}
	if err := a.EmergencyStop(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("EmergencyStop() = %v, want ErrNotConnected", err)
	}
	if _, _, err := a.CollectPV(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("CollectPV() = %v, want ErrNotConnected", err)
	}
	if _, _, _, err := a.CollectGrid(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("CollectGrid() = %v, want ErrNotConnected", err)
	}
	if _, err := a.CollectConsumption(ctx); !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("CollectConsumption() = %v, want ErrNotConnected", err)
	}
}

func TestAdapter_DisconnectWithoutConnectIsNoop(t *testing.T) {
	a := New()
	if err := a.Disconnect(); err != nil {
		t.Errorf("Disconnect() on an unconnected adapter = %v, want nil", err)
	}
}

func TestAdapter_SetOperationMode_UnsupportedModeFails(t *testing.T) {
	a := New()
	// Unsupported mode is checked after the connected guard, so this
	// only exercises the not-connected path — ModeOffGrid has no
	// Sigenergy EMS opcode regardless (see SetOperationMode's switch).
	err := a.SetOperationMode(context.Background(), inverter.ModeOffGrid, nil, nil)
	if !errors.Is(err, inverter.ErrNotConnected) {
		t.Errorf("SetOperationMode(ModeOffGrid) without connection = %v, want ErrNotConnected", err)
	}
}
