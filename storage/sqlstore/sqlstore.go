// Package sqlstore implements the storage.Storage contract over
// database/sql, normalized tables, transactional writes and a
// connection pool, matching spec.md §4.1's embedded-SQL backend. The
// default driver is modernc.org/sqlite (pure Go, no cgo); lib/pq is
// also registered so an operator can point data_storage.database.driver
// at a real Postgres instance instead.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sitewatt/energy-optimizer/storage"
)

// Store wraps a database/sql pool with the spec's normalized schema:
// energy_data, system_state, coordinator_decisions, charging_sessions,
// selling_sessions — each indexed on timestamp.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (and migrates) a SQL store. driver is "sqlite" or
// "postgres"; dsn is the driver-specific connection string (a file path
// for sqlite).
func Open(driver, dsn string, poolSize int) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS energy_data (
			timestamp TIMESTAMP PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_energy_data_ts ON energy_data(timestamp)`,
		`CREATE TABLE IF NOT EXISTS system_state (
			timestamp TIMESTAMP PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_state_ts ON system_state(timestamp)`,
		`CREATE TABLE IF NOT EXISTS coordinator_decisions (
			timestamp TIMESTAMP PRIMARY KEY,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON coordinator_decisions(timestamp)`,
		`CREATE TABLE IF NOT EXISTS charging_sessions (
			id TEXT PRIMARY KEY,
			start_time TIMESTAMP NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_charging_sessions_ts ON charging_sessions(start_time)`,
		`CREATE TABLE IF NOT EXISTS selling_sessions (
			id TEXT PRIMARY KEY,
			start_time TIMESTAMP NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_selling_sessions_ts ON selling_sessions(start_time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, table, pkCol string, pk any, extraCols []string, extraVals []any, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cols := append([]string{pkCol}, extraCols...)
	cols = append(cols, "payload")
	placeholders := make([]string, len(cols))
	vals := append([]any{pk}, extraVals...)
	vals = append(vals, string(data))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET payload = EXCLUDED.payload",
		table, join(cols, ", "), join(placeholders, ", "), pkCol,
	)
	if _, err := tx.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return tx.Commit()
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshots []storage.Snapshot) error {
	for _, sn := range snapshots {
		if err := s.upsert(ctx, "energy_data", "timestamp", sn.Timestamp, nil, nil, sn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) QuerySnapshots(ctx context.Context, start, end time.Time) ([]storage.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM energy_data WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query energy_data: %w", err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return out, err
		}
		var sn storage.Snapshot
		if err := json.Unmarshal([]byte(payload), &sn); err != nil {
			return out, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *Store) SaveState(ctx context.Context, st storage.State) error {
	return s.upsert(ctx, "system_state", "timestamp", st.Timestamp, nil, nil, st)
}

func (s *Store) QueryStateLatest(ctx context.Context, limit int) ([]storage.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM system_state ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system_state: %w", err)
	}
	defer rows.Close()

	var out []storage.State
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return out, err
		}
		var st storage.State
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return out, err
		}
		out = append(out, st)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *Store) SaveDecision(ctx context.Context, d storage.Decision) error {
	return s.upsert(ctx, "coordinator_decisions", "timestamp", d.Timestamp, []string{"kind"}, []any{d.Kind}, d)
}

func (s *Store) QueryDecisions(ctx context.Context, start, end time.Time) ([]storage.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM coordinator_decisions WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query coordinator_decisions: %w", err)
	}
	defer rows.Close()

	var out []storage.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return out, err
		}
		var d storage.Decision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SaveSession(ctx context.Context, sess storage.Session) error {
	table := "charging_sessions"
	if sess.Kind == "selling" {
		table = "selling_sessions"
	}
	return s.upsert(ctx, table, "id", sess.ID, []string{"start_time"}, []any{sess.Start}, sess)
}

func (s *Store) QuerySessions(ctx context.Context, start, end time.Time) ([]storage.Session, error) {
	var out []storage.Session
	for _, table := range []string{"charging_sessions", "selling_sessions"} {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE start_time >= $1 AND start_time <= $2 ORDER BY start_time ASC`, table), start, end)
		if err != nil {
			return out, fmt.Errorf("query %s: %w", table, err)
		}
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return out, err
			}
			var sess storage.Session
			if err := json.Unmarshal([]byte(payload), &sess); err != nil {
				continue
			}
			out = append(out, sess)
		}
		rows.Close()
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
