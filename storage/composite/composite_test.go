package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitewatt/energy-optimizer/storage"
)

// fakeBackend is a minimal storage.Storage whose write/read behavior is
// scriptable via errors and a snapshot slice, used to exercise
// primary/secondary fan-out and fallback.
type fakeBackend struct {
	name string

	saveErr  error
	queryErr error
	snaps    []storage.Snapshot

	closed bool
}

func (b *fakeBackend) SaveSnapshot(ctx context.Context, snaps []storage.Snapshot) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	b.snaps = append(b.snaps, snaps...)
	return nil
}
func (b *fakeBackend) QuerySnapshots(ctx context.Context, start, end time.Time) ([]storage.Snapshot, error) {
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return b.snaps, nil
}
func (b *fakeBackend) SaveState(ctx context.Context, s storage.State) error { return b.saveErr }
func (b *fakeBackend) QueryStateLatest(ctx context.Context, limit int) ([]storage.State, error) {
	return nil, b.queryErr
}
func (b *fakeBackend) SaveDecision(ctx context.Context, d storage.Decision) error { return b.saveErr }
func (b *fakeBackend) QueryDecisions(ctx context.Context, start, end time.Time) ([]storage.Decision, error) {
	return nil, b.queryErr
}
func (b *fakeBackend) SaveSession(ctx context.Context, s storage.Session) error { return b.saveErr }
func (b *fakeBackend) QuerySessions(ctx context.Context, start, end time.Time) ([]storage.Session, error) {
	return nil, b.queryErr
}
func (b *fakeBackend) HealthCheck(ctx context.Context) error { return b.queryErr }
func (b *fakeBackend) Close() error                          { b.closed = true; return nil }

func TestSaveSnapshot_SucceedsWhenPrimarySucceeds(t *testing.T) {
	primary := &fakeBackend{}
	secondary := &fakeBackend{}
	s := New(primary, []storage.Storage{secondary}, false, nil)

	snap := []storage.Snapshot{{BatterySOCPct: 42}}
	if err := s.SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	if len(primary.snaps) != 1 || len(secondary.snaps) != 1 {
		t.Error("expected the write fanned out to both primary and secondary")
	}
}

func TestSaveSnapshot_FailsWhenPrimaryFailsAndFallbackDisabled(t *testing.T) {
	primary := &fakeBackend{saveErr: errors.New("primary down")}
	secondary := &fakeBackend{}
	s := New(primary, []storage.Storage{secondary}, false, nil)

	err := s.SaveSnapshot(context.Background(), []storage.Snapshot{{}})
	if err == nil {
		t.Fatal("expected an error when the primary fails and fallback is disabled")
	}
}

func TestSaveSnapshot_SucceedsOnFallbackWhenEnabled(t *testing.T) {
	primary := &fakeBackend{saveErr: errors.New("primary down")}
	secondary := &fakeBackend{}
	s := New(primary, []storage.Storage{secondary}, true, nil)

	if err := s.SaveSnapshot(context.Background(), []storage.Snapshot{{}}); err != nil {
		t.Errorf("SaveSnapshot() with fallback enabled and a healthy secondary = %v, want nil", err)
	}
}

func TestQuerySnapshots_FallsBackWhenPrimaryEmpty(t *testing.T) {
	primary := &fakeBackend{}
	secondary := &fakeBackend{snaps: []storage.Snapshot{{BatterySOCPct: 77}}}
	s := New(primary, []storage.Storage{secondary}, true, nil)

	rows, err := s.QuerySnapshots(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("QuerySnapshots() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].BatterySOCPct != 77 {
		t.Errorf("expected the fallback secondary's rows, got %+v", rows)
	}
}

func TestQuerySnapshots_DoesNotFallBackWhenDisabled(t *testing.T) {
	primary := &fakeBackend{queryErr: errors.New("primary unreachable")}
	secondary := &fakeBackend{snaps: []storage.Snapshot{{BatterySOCPct: 77}}}
	s := New(primary, []storage.Storage{secondary}, false, nil)

	_, err := s.QuerySnapshots(context.Background(), time.Time{}, time.Time{})
	if err == nil {
		t.Error("expected the primary's error to surface when fallback is disabled")
	}
}

func TestHealthCheck_ReflectsPrimaryOnly(t *testing.T) {
	primary := &fakeBackend{queryErr: errors.New("primary unhealthy")}
	secondary := &fakeBackend{}
	s := New(primary, []storage.Storage{secondary}, true, nil)

	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("expected HealthCheck() to reflect the primary's health regardless of secondaries")
	}
}

func TestClose_ClosesPrimaryAndAllSecondaries(t *testing.T) {
	primary := &fakeBackend{}
	secondary := &fakeBackend{}
	s := New(primary, []storage.Storage{secondary}, false, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !primary.closed || !secondary.closed {
		t.Error("expected Close() to close both the primary and the secondary")
	}
}
