// Package file implements the storage.Storage contract on top of
// per-kind, per-calendar-day JSON files, matching the on-disk layout
// spec.md §6 names for file mode.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/storage"
)

// Store is a crash-safe, append/replace JSON file store. Snapshots and
// coordinator state are append kinds (newline-delimited JSON); each
// decision gets its own file and sessions use one file per start day,
// both written with full-file replace semantics (temp+rename).
type Store struct {
	basePath string
	mu       sync.Mutex
}

// New creates a file store rooted at basePath (created if absent).
func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(basePath, "energy_data"), 0o755); err != nil {
		return nil, fmt.Errorf("file storage: creating base dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) dailyPath(kind string, day time.Time) string {
	return filepath.Join(s.basePath, "energy_data", fmt.Sprintf("%s_%s.json", kind, day.UTC().Format("2006-01-02")))
}

func (s *Store) replacePath(kind string, day time.Time) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s_%s.json", kind, day.UTC().Format("20060102")))
}

// appendJSONLines appends one JSON object per record to the daily file
// for record's day, creating it if absent.
func (s *Store) appendJSONLines(path string, records ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file storage: opening %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("file storage: encoding record: %w", err)
		}
	}
	return w.Flush()
}

// writeReplace writes a JSON array, crash-safely (temp file + rename).
func (s *Store) writeReplace(path string, records any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: marshaling: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file storage: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file storage: renaming temp file: %w", err)
	}
	return nil
}

func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var v T
		if err := dec.Decode(&v); err != nil {
			return out, fmt.Errorf("file storage: decoding record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snapshots []storage.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	byDay := map[string][]storage.Snapshot{}
	for _, sn := range snapshots {
		key := sn.Timestamp.UTC().Format("2006-01-02")
		byDay[key] = append(byDay[key], sn)
	}
	for key, group := range byDay {
		day, _ := time.Parse("2006-01-02", key)
		records := make([]any, len(group))
		for i, g := range group {
			records[i] = g
		}
		if err := s.appendJSONLines(s.dailyPath("energy_data", day), records...); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) QuerySnapshots(_ context.Context, start, end time.Time) ([]storage.Snapshot, error) {
	var out []storage.Snapshot
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.Add(24 * time.Hour) {
		rows, err := readJSONLines[storage.Snapshot](s.dailyPath("energy_data", d))
		if err != nil {
			return out, err
		}
		for _, r := range rows {
			if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) SaveState(_ context.Context, st storage.State) error {
	path := s.replacePath("coordinator_state", st.Timestamp)
	return s.appendJSONLines(path, st)
}

func (s *Store) QueryStateLatest(_ context.Context, limit int) ([]storage.State, error) {
	// coordinator_state files are named by day; scan the last few days
	// until limit records are collected.
	var out []storage.State
	for d := time.Now().UTC(); len(out) < limit && d.After(time.Now().UTC().AddDate(0, 0, -7)); d = d.Add(-24 * time.Hour) {
		rows, err := readJSONLines[storage.State](s.replacePath("coordinator_state", d))
		if err != nil {
			return out, err
		}
		out = append(rows, out...)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) SaveDecision(_ context.Context, d storage.Decision) error {
	name := "charging_decision"
	if d.Kind == "selling" {
		name = "battery_selling_decision"
	}
	path := filepath.Join(s.basePath, "energy_data", fmt.Sprintf("%s_%s.json", name, d.Timestamp.UTC().Format("20060102_150405")))
	return s.writeReplace(path, d)
}

func (s *Store) QueryDecisions(_ context.Context, start, end time.Time) ([]storage.Decision, error) {
	pattern := filepath.Join(s.basePath, "energy_data", "*decision_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var out []storage.Decision
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		var d storage.Decision
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		if !d.Timestamp.Before(start) && !d.Timestamp.After(end) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) SaveSession(_ context.Context, sess storage.Session) error {
	path := filepath.Join(s.basePath, fmt.Sprintf("charging_schedule_%s.json", sess.Start.UTC().Format("2006-01-02")))
	return s.writeReplace(path, sess)
}

func (s *Store) QuerySessions(_ context.Context, start, end time.Time) ([]storage.Session, error) {
	var out []storage.Session
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.Add(24 * time.Hour) {
		path := filepath.Join(s.basePath, fmt.Sprintf("charging_schedule_%s.json", d.Format("2006-01-02")))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		var sess storage.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	_, err := os.Stat(s.basePath)
	return err
}

func (s *Store) Close() error { return nil }
