package coordinator

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/sitewatt/energy-optimizer/config"
	"github.com/sitewatt/energy-optimizer/inverter"
	"github.com/sitewatt/energy-optimizer/storage"
)

// fakePort is a scripted inverter.Port covering the fields the
// coordinator's boot and tick paths read.
type fakePort struct {
	connectErr error
	stopped    bool

	status  inverter.InverterStatus
	battery inverter.BatteryStatus

	pvW, pvDailyWh       float64
	gridW, gridV, gridHz float64
	consW                float64
}

func (f *fakePort) Connect(ctx context.Context, cfg inverter.ConnectConfig) error { return f.connectErr }
func (f *fakePort) Disconnect() error                                            { return nil }
func (f *fakePort) IsConnected() bool                                            { return f.connectErr == nil }
func (f *fakePort) ReadStatus(ctx context.Context) (inverter.InverterStatus, error) {
	return f.status, nil
}
func (f *fakePort) ReadBattery(ctx context.Context) (inverter.BatteryStatus, error) {
	return f.battery, nil
}
func (f *fakePort) ReadRuntime(ctx context.Context) (map[string]inverter.Reading, error) {
	return nil, nil
}
func (f *fakePort) CheckSafety(ctx context.Context, cfg inverter.SafetyConfig) (bool, []inverter.SafetyIssue, error) {
	return true, nil, nil
}
func (f *fakePort) SetOperationMode(ctx context.Context, mode inverter.OperationMode, powerW *float64, minSOCPct *float64) error {
	return nil
}
func (f *fakePort) StartCharging(ctx context.Context, powerPct float64, targetSOCPct float64) error {
	return nil
}
func (f *fakePort) StopCharging(ctx context.Context) error                    { return nil }
func (f *fakePort) SetExportLimit(ctx context.Context, powerW float64) error  { return nil }
func (f *fakePort) SetBatteryDoD(ctx context.Context, depthPct float64) error { return nil }
func (f *fakePort) EmergencyStop(ctx context.Context) error                  { f.stopped = true; return nil }
func (f *fakePort) CollectPV(ctx context.Context) (float64, float64, error) {
	return f.pvW, f.pvDailyWh, nil
}
func (f *fakePort) CollectGrid(ctx context.Context) (float64, float64, float64, error) {
	return f.gridW, f.gridV, f.gridHz, nil
}
func (f *fakePort) CollectConsumption(ctx context.Context) (float64, error) { return f.consW, nil }
func (f *fakePort) CollectAll(ctx context.Context) (inverter.InverterStatus, inverter.BatteryStatus, error) {
	return f.status, f.battery, nil
}

// fakeStore is a minimal in-memory storage.Storage that records saved
// states so tests can assert persistState was called.
type fakeStore struct {
	states []storage.State
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, snaps []storage.Snapshot) error { return nil }
func (s *fakeStore) QuerySnapshots(ctx context.Context, start, end time.Time) ([]storage.Snapshot, error) {
	return nil, nil
}
func (s *fakeStore) SaveState(ctx context.Context, st storage.State) error {
	s.states = append(s.states, st)
	return nil
}
func (s *fakeStore) QueryStateLatest(ctx context.Context, limit int) ([]storage.State, error) {
	return nil, nil
}
func (s *fakeStore) SaveDecision(ctx context.Context, d storage.Decision) error { return nil }
func (s *fakeStore) QueryDecisions(ctx context.Context, start, end time.Time) ([]storage.Decision, error) {
	return nil, nil
}
func (s *fakeStore) SaveSession(ctx context.Context, sess storage.Session) error { return nil }
func (s *fakeStore) QuerySessions(ctx context.Context, start, end time.Time) ([]storage.Session, error) {
	return nil, nil
}
func (s *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                          { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Inverter.IPAddress = "10.0.0.5"
	cfg.Coordinator.SamplingInterval = 10 * time.Millisecond
	return cfg
}

func nominalBattery() inverter.BatteryStatus {
	return inverter.BatteryStatus{SOCPct: 60, VoltageV: 50, CurrentA: 10, TempC: 25}
}

func TestNew_BuildsCoordinatorFromValidConfig(t *testing.T) {
	port := &fakePort{battery: nominalBattery()}
	store := &fakeStore{}

	c, err := New(testConfig(), port, store, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if c.IsRunning() {
		t.Error("expected a freshly built coordinator to not be running")
	}
	status := c.GetStatus()
	if status.Coordinator.State != StateInitializing {
		t.Errorf("initial state = %v, want %v", status.Coordinator.State, StateInitializing)
	}
}

func TestCoordinator_StopWithoutRunIsNoop(t *testing.T) {
	port := &fakePort{battery: nominalBattery()}
	c, err := New(testConfig(), port, &fakeStore{}, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	c.Stop()
	if c.IsRunning() {
		t.Error("expected Stop() on a non-running coordinator to be a no-op")
	}
}

func TestCoordinator_ShouldDecide(t *testing.T) {
	cfg := testConfig()
	cfg.Coordinator.DecisionIntervalMinutes = 15
	c, err := New(cfg, &fakePort{battery: nominalBattery()}, &fakeStore{}, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if !c.shouldDecide() {
		t.Error("expected shouldDecide() to be true before any decision has been made")
	}

	c.mu.Lock()
	c.state.LastDecisionAt = time.Now()
	c.mu.Unlock()
	if c.shouldDecide() {
		t.Error("expected shouldDecide() to be false immediately after a decision")
	}

	c.mu.Lock()
	c.state.LastDecisionAt = time.Now().Add(-20 * time.Minute)
	c.mu.Unlock()
	if !c.shouldDecide() {
		t.Error("expected shouldDecide() to be true once the decision interval has elapsed")
	}

	c.mu.Lock()
	c.state.State = StateError
	c.mu.Unlock()
	if c.shouldDecide() {
		t.Error("expected shouldDecide() to be false while in StateError")
	}

	c.mu.Lock()
	c.state.State = StateMonitoring
	until := time.Now().Add(time.Hour)
	c.state.WaitCooldownUntil = &until
	c.mu.Unlock()
	if c.shouldDecide() {
		t.Error("expected shouldDecide() to be false during an active wait cooldown")
	}
}

func TestCoordinator_TickUpdatesLastTickAndPersistsState(t *testing.T) {
	port := &fakePort{battery: nominalBattery(), pvW: 1000, consW: 500}
	store := &fakeStore{}
	c, err := New(testConfig(), port, store, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	c.tick(context.Background())

	status := c.GetStatus()
	if status.Coordinator.LastTick.IsZero() {
		t.Error("expected tick() to stamp LastTick")
	}
	if len(store.states) == 0 {
		t.Error("expected tick() to persist at least one coordinator state")
	}
}

func TestCoordinator_TickSafetyFatalTransitionsToErrorAndStops(t *testing.T) {
	port := &fakePort{battery: inverter.BatteryStatus{SOCPct: 60, VoltageV: 50, TempC: 200}}
	store := &fakeStore{}
	c, err := New(testConfig(), port, store, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	c.tick(context.Background())

	status := c.GetStatus()
	if status.Coordinator.State != StateError {
		t.Errorf("state after a fatal-temperature tick = %v, want %v", status.Coordinator.State, StateError)
	}
	if !port.stopped {
		t.Error("expected a fatal safety reading to trigger EmergencyStop on the port")
	}
}

func TestRun_FatalSafetyAtBootReturnsSentinel(t *testing.T) {
	port := &fakePort{battery: inverter.BatteryStatus{SOCPct: 60, VoltageV: 50, TempC: 200}}
	c, err := New(testConfig(), port, &fakeStore{}, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = c.Run(context.Background())
	if !errors.Is(err, ErrFatalSafetyAtBoot) {
		t.Errorf("Run() = %v, want ErrFatalSafetyAtBoot", err)
	}
	if c.IsRunning() {
		t.Error("expected Run() to not mark the coordinator running when it fails at boot")
	}
}

func TestRun_ConnectFailurePropagates(t *testing.T) {
	wantErr := errors.New("dial tcp: connection refused")
	port := &fakePort{connectErr: wantErr, battery: nominalBattery()}
	c, err := New(testConfig(), port, &fakeStore{}, log.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = c.Run(context.Background())
	if err == nil || !errors.Is(err, wantErr) {
		t.Errorf("Run() = %v, want an error wrapping %v", err, wantErr)
	}
}
