package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitewatt/energy-optimizer/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open("sqlite", dsn, 1)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesAndHealthChecks(t *testing.T) {
	s := openTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() on a freshly migrated store = %v, want nil", err)
	}
}

func TestSnapshot_SaveAndQueryRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	err := s.SaveSnapshot(ctx, []storage.Snapshot{
		{Timestamp: t1, BatterySOCPct: 40},
		{Timestamp: t2, BatterySOCPct: 65},
	})
	if err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	rows, err := s.QuerySnapshots(ctx, t1, t2)
	if err != nil {
		t.Fatalf("QuerySnapshots() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(rows))
	}
	if rows[0].BatterySOCPct != 40 || rows[1].BatterySOCPct != 65 {
		t.Errorf("expected ascending timestamp order, got %v then %v", rows[0].BatterySOCPct, rows[1].BatterySOCPct)
	}
}

func TestSnapshot_UpsertOverwritesSameTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	if err := s.SaveSnapshot(ctx, []storage.Snapshot{{Timestamp: ts, BatterySOCPct: 10}}); err != nil {
		t.Fatalf("first SaveSnapshot() failed: %v", err)
	}
	if err := s.SaveSnapshot(ctx, []storage.Snapshot{{Timestamp: ts, BatterySOCPct: 99}}); err != nil {
		t.Fatalf("second SaveSnapshot() failed: %v", err)
	}

	rows, err := s.QuerySnapshots(ctx, ts, ts)
	if err != nil {
		t.Fatalf("QuerySnapshots() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].BatterySOCPct != 99 {
		t.Fatalf("expected a single row upserted to 99, got %+v", rows)
	}
}

func TestState_QueryLatestOrdersChronologically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		st := storage.State{Timestamp: base.Add(time.Duration(i) * time.Minute), State: "monitoring"}
		if err := s.SaveState(ctx, st); err != nil {
			t.Fatalf("SaveState() failed: %v", err)
		}
	}

	rows, err := s.QueryStateLatest(ctx, 2)
	if err != nil {
		t.Fatalf("QueryStateLatest() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows with limit=2, got %d", len(rows))
	}
	if !rows[len(rows)-1].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("expected the most recent state last, got %v", rows[len(rows)-1].Timestamp)
	}
}

func TestSession_SaveSeparatesChargingAndSellingTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	charging := storage.Session{ID: "c1", Kind: "charging", Start: start, Status: "active"}
	selling := storage.Session{ID: "s1", Kind: "selling", Start: start, Status: "active"}
	if err := s.SaveSession(ctx, charging); err != nil {
		t.Fatalf("SaveSession(charging) failed: %v", err)
	}
	if err := s.SaveSession(ctx, selling); err != nil {
		t.Fatalf("SaveSession(selling) failed: %v", err)
	}

	rows, err := s.QuerySessions(ctx, start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("QuerySessions() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both sessions across the two tables, got %d", len(rows))
	}
	ids := map[string]bool{rows[0].ID: true, rows[1].ID: true}
	if !ids["c1"] || !ids["s1"] {
		t.Errorf("expected both c1 and s1, got %+v", rows)
	}
}

func TestDecision_SaveAndQueryRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)

	d := storage.Decision{Timestamp: ts, Kind: "selling", Action: "sell_now", Confidence: 0.8}
	if err := s.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision() failed: %v", err)
	}

	rows, err := s.QueryDecisions(ctx, ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryDecisions() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Action != "sell_now" {
		t.Fatalf("expected the saved decision back, got %+v", rows)
	}
}
