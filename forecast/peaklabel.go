package forecast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PeakLabel is the grid operator's per-hour signal (PSE-style demand
// response classification), consumed by the G14-dynamic tariff
// profile and the hybrid decision engine's peak-label rules.
type PeakLabel string

const (
	PeakNormal             PeakLabel = "normal"
	PeakRecommendedSaving  PeakLabel = "recommended_saving"
	PeakRequiredReduction  PeakLabel = "required_reduction"
	PeakRecommendedUse     PeakLabel = "recommended_use"
)

// PeakLabelPoint is one hour's published label.
type PeakLabelPoint struct {
	Time time.Time
	Code PeakLabel
}

// PeakLabelSource fetches and caches the grid operator's hourly peak
// labels. A nil/failed fetch is surfaced via Available() rather than
// silently defaulting to "normal" — the tariff engine's G14-dynamic
// profile treats total absence as a fatal startup condition (§4.4).
type PeakLabelSource struct {
	url        string
	httpClient *http.Client
	cacheFor   time.Duration

	mu        sync.RWMutex
	points    []PeakLabelPoint
	fetchedAt time.Time
}

// NewPeakLabelSource builds a source against the operator's published
// signal feed. url may be empty, in which case Available always
// reports false (no G14-dynamic tariff may be configured).
func NewPeakLabelSource(url string, cacheFor time.Duration) *PeakLabelSource {
	if cacheFor <= 0 {
		cacheFor = time.Hour
	}
	return &PeakLabelSource{url: url, httpClient: &http.Client{Timeout: 15 * time.Second}, cacheFor: cacheFor}
}

// Available reports whether a usable (possibly stale) set of labels
// is cached.
func (s *PeakLabelSource) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points) > 0
}

type peakLabelFeedEntry struct {
	Time string `json:"time"`
	Code string `json:"code"`
}

// Refresh re-fetches the label feed. The feed is a JSON array of
// {time, code} entries; code is one of the PeakLabel values.
func (s *PeakLabelSource) Refresh() error {
	if s.url == "" {
		return fmt.Errorf("forecast: peak-label source has no configured URL")
	}
	resp, err := s.httpClient.Get(s.url)
	if err != nil {
		return fmt.Errorf("forecast: fetch peak labels: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forecast: peak-label feed returned status %d", resp.StatusCode)
	}

	var entries []peakLabelFeedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("forecast: decode peak-label feed: %w", err)
	}

	points := make([]PeakLabelPoint, 0, len(entries))
	for _, e := range entries {
		t, err := time.Parse(time.RFC3339, e.Time)
		if err != nil {
			continue
		}
		points = append(points, PeakLabelPoint{Time: t, Code: PeakLabel(e.Code)})
	}

	s.mu.Lock()
	s.points = points
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// At returns the label in force at time t, defaulting to PeakNormal
// when no point exactly covers the hour but data is otherwise
// available.
func (s *PeakLabelSource) At(t time.Time) PeakLabel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hour := t.Truncate(time.Hour)
	for _, p := range s.points {
		if p.Time.Equal(hour) {
			return p.Code
		}
	}
	return PeakNormal
}

func (s *PeakLabelSource) stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.fetchedAt) > s.cacheFor
}

// Ensure refreshes the feed if the cache is empty or stale.
func (s *PeakLabelSource) Ensure() error {
	if s.Available() && !s.stale() {
		return nil
	}
	return s.Refresh()
}
