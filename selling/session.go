package selling

import (
	"fmt"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/storage"
)

// SessionConfig bounds multi-session selling per day.
type SessionConfig struct {
	MaxSessionsPerDay int
	MinSessionGapHours float64
	ReserveBatteryPercent float64
}

// Manager tracks the currently active selling session (if any) and the
// day's completed-session count, enforcing the at-most-one-active
// and max-sessions-per-day invariants.
type Manager struct {
	cfg SessionConfig

	mu             sync.Mutex
	active         *storage.Session
	lastEnd        time.Time
	completedToday int
	today          time.Time
}

// NewManager builds a session manager.
func NewManager(cfg SessionConfig) *Manager {
	return &Manager{cfg: cfg}
}

// CanStart reports whether a new selling session may begin at `now`,
// given the day's completed count and the minimum gap since the last
// session ended.
func (m *Manager) CanStart(now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay(now)

	if m.active != nil {
		return false, "a selling session is already active"
	}
	if m.cfg.MaxSessionsPerDay > 0 && m.completedToday >= m.cfg.MaxSessionsPerDay {
		return false, fmt.Sprintf("max selling sessions per day reached (%d)", m.cfg.MaxSessionsPerDay)
	}
	if !m.lastEnd.IsZero() && now.Sub(m.lastEnd).Hours() < m.cfg.MinSessionGapHours {
		return false, "minimum gap since last selling session not yet elapsed"
	}
	return true, ""
}

// Start opens a new session and marks it active.
func (m *Manager) Start(now time.Time, plannedEnergyKWh, plannedCostPLN float64) storage.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := storage.Session{
		ID:               fmt.Sprintf("sell-%d", now.UnixNano()),
		Kind:             "selling",
		Start:            now,
		PlannedEnergyKWh: plannedEnergyKWh,
		PlannedCostPLN:   plannedCostPLN,
		Status:           "active",
	}
	m.active = &s
	return s
}

// Complete closes the active session as completed.
func (m *Manager) Complete(now time.Time, deliveredEnergyKWh, realizedCostPLN float64) (storage.Session, bool) {
	return m.end(now, "completed", "", deliveredEnergyKWh, realizedCostPLN)
}

// Abort closes the active session as aborted, recording a reason.
func (m *Manager) Abort(now time.Time, reason string, deliveredEnergyKWh, realizedCostPLN float64) (storage.Session, bool) {
	return m.end(now, "aborted", reason, deliveredEnergyKWh, realizedCostPLN)
}

func (m *Manager) end(now time.Time, status, reason string, deliveredEnergyKWh, realizedCostPLN float64) (storage.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return storage.Session{}, false
	}
	s := *m.active
	s.End = &now
	s.Status = status
	s.AbortReason = reason
	s.DeliveredEnergyKWh = deliveredEnergyKWh
	s.RealizedCostPLN = realizedCostPLN

	m.active = nil
	m.lastEnd = now
	m.rollDay(now)
	m.completedToday++

	return s, true
}

// Active returns the currently active session, if any.
func (m *Manager) Active() (storage.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return storage.Session{}, false
	}
	return *m.active, true
}

func (m *Manager) rollDay(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if !m.today.Equal(day) {
		m.today = day
		m.completedToday = 0
	}
}

// AvailableEnergyKWh computes the energy sellable above the safety
// margin and the dynamic SoC floor, whichever is higher.
func AvailableEnergyKWh(currentSOCPct, floorPct float64, reserveBatteryPercent float64, capacityKWh float64) float64 {
	minSOC := floorPct
	if reserveBatteryPercent > minSOC {
		minSOC = reserveBatteryPercent
	}
	available := currentSOCPct - minSOC
	if available <= 0 {
		return 0
	}
	return available / 100 * capacityKWh
}
