// Package composite implements the storage.Storage contract by
// fanning writes out to a primary and zero or more secondaries, and
// reading from the primary with ordered fallback — a durability aid,
// not a replicator (spec.md §4.1).
package composite

import (
	"context"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/storage"
)

// Store is the composite backend. Success rule: primary succeeded, or
// (EnableFallback and any secondary succeeded).
type Store struct {
	Primary        storage.Storage
	Secondaries    []storage.Storage
	EnableFallback bool
	Logger         Logger
}

// Logger is the minimal logging surface composite needs; satisfied by
// *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// New builds a composite store. logger may be nil.
func New(primary storage.Storage, secondaries []storage.Storage, enableFallback bool, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{Primary: primary, Secondaries: secondaries, EnableFallback: enableFallback, Logger: logger}
}

func (s *Store) writeToAll(write func(storage.Storage) error) error {
	type result struct {
		err error
	}

	n := 1 + len(s.Secondaries)
	results := make([]result, n)

	var wg sync.WaitGroup
	wg.Add(n)
	go func() {
		defer wg.Done()
		results[0].err = write(s.Primary)
	}()
	for i, sec := range s.Secondaries {
		i, sec := i, sec
		go func() {
			defer wg.Done()
			results[i+1].err = write(sec)
		}()
	}
	wg.Wait()

	if results[0].err == nil {
		return nil
	}

	if s.EnableFallback {
		for i := 1; i < n; i++ {
			if results[i].err == nil {
				s.Logger.Printf("composite storage: primary write failed (%v), secondary succeeded", results[0].err)
				return nil
			}
		}
	}

	return results[0].err
}

func (s *Store) readWithFallback(read func(storage.Storage) (bool, error)) error {
	ok, err := read(s.Primary)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		s.Logger.Printf("composite storage: primary read failed: %v", err)
	}

	if !s.EnableFallback {
		return err
	}

	for _, sec := range s.Secondaries {
		ok, serr := read(sec)
		if serr == nil && ok {
			s.Logger.Printf("composite storage: fallback read succeeded from secondary")
			return nil
		}
	}
	return err
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshots []storage.Snapshot) error {
	return s.writeToAll(func(b storage.Storage) error { return b.SaveSnapshot(ctx, snapshots) })
}

func (s *Store) QuerySnapshots(ctx context.Context, start, end time.Time) ([]storage.Snapshot, error) {
	var out []storage.Snapshot
	err := s.readWithFallback(func(b storage.Storage) (bool, error) {
		rows, err := b.QuerySnapshots(ctx, start, end)
		out = rows
		return len(rows) > 0, err
	})
	return out, err
}

func (s *Store) SaveState(ctx context.Context, st storage.State) error {
	return s.writeToAll(func(b storage.Storage) error { return b.SaveState(ctx, st) })
}

func (s *Store) QueryStateLatest(ctx context.Context, limit int) ([]storage.State, error) {
	var out []storage.State
	err := s.readWithFallback(func(b storage.Storage) (bool, error) {
		rows, err := b.QueryStateLatest(ctx, limit)
		out = rows
		return len(rows) > 0, err
	})
	return out, err
}

func (s *Store) SaveDecision(ctx context.Context, d storage.Decision) error {
	return s.writeToAll(func(b storage.Storage) error { return b.SaveDecision(ctx, d) })
}

func (s *Store) QueryDecisions(ctx context.Context, start, end time.Time) ([]storage.Decision, error) {
	var out []storage.Decision
	err := s.readWithFallback(func(b storage.Storage) (bool, error) {
		rows, err := b.QueryDecisions(ctx, start, end)
		out = rows
		return len(rows) > 0, err
	})
	return out, err
}

func (s *Store) SaveSession(ctx context.Context, sess storage.Session) error {
	return s.writeToAll(func(b storage.Storage) error { return b.SaveSession(ctx, sess) })
}

func (s *Store) QuerySessions(ctx context.Context, start, end time.Time) ([]storage.Session, error) {
	var out []storage.Session
	err := s.readWithFallback(func(b storage.Storage) (bool, error) {
		rows, err := b.QuerySessions(ctx, start, end)
		out = rows
		return len(rows) > 0, err
	})
	return out, err
}

// HealthCheck reports the primary's health, per spec.md §4.1.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.Primary.HealthCheck(ctx)
}

func (s *Store) Close() error {
	err := s.Primary.Close()
	for _, sec := range s.Secondaries {
		if serr := sec.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
