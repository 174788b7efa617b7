package forecast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/entsoe"
)

// PricePoint is one market price interval, MWh-denominated as
// published by the day-ahead market.
type PricePoint struct {
	Start          time.Time
	End            time.Time
	MarketPriceMWh float64
}

// PriceSource fetches and caches ENTSO-E day-ahead market data,
// exposing an availability flag so downstream callers (the tariff
// engine) can distinguish "no data yet" from "zero price".
type PriceSource struct {
	apiURL      string
	client      *entsoe.APIClient
	cacheFor    time.Duration

	mu        sync.RWMutex
	doc       *entsoe.PublicationMarketDocument
	fetchedAt time.Time
}

// NewPriceSource builds a price source against a preconfigured
// ENTSO-E API URL (security token and area codes baked in by the
// caller, per the teacher's buildPublicationMarketDataURL pattern).
func NewPriceSource(apiURL, userAgent string, cacheFor time.Duration) *PriceSource {
	client := entsoe.NewAPIClient()
	client.SetUserAgent(userAgent)
	if cacheFor <= 0 {
		cacheFor = 30 * time.Minute
	}
	return &PriceSource{apiURL: apiURL, client: client, cacheFor: cacheFor}
}

func (p *PriceSource) cached() (*entsoe.PublicationMarketDocument, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil || time.Since(p.fetchedAt) > p.cacheFor {
		return nil, false
	}
	return p.doc, true
}

// Refresh re-fetches the market document unconditionally, bypassing
// the cache TTL. Callers invoke this on a schedule (e.g. daily after
// day-ahead publication) rather than relying on lazy expiry alone.
func (p *PriceSource) Refresh(ctx context.Context) error {
	if err := entsoe.ValidateAPIURL(p.apiURL); err != nil {
		return fmt.Errorf("forecast: invalid price API URL: %w", err)
	}
	doc, err := p.client.DownloadPublicationMarketData(ctx, p.apiURL)
	if err != nil {
		return fmt.Errorf("forecast: download market data: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return nil
}

// Available reports whether cached (possibly stale) market data
// exists at all — the tariff engine treats a total absence as a fatal
// startup condition for profiles that require it, but a merely stale
// cache as degraded-but-usable.
func (p *PriceSource) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc != nil
}

// Points returns all known price points spanning start..end, sorted
// ascending, refreshing from the network on a cache miss.
func (p *PriceSource) Points(ctx context.Context, start, end time.Time) ([]PricePoint, error) {
	doc, ok := p.cached()
	if !ok {
		if err := p.Refresh(ctx); err != nil {
			return nil, err
		}
		doc, _ = p.cached()
	}
	if doc == nil {
		return nil, fmt.Errorf("forecast: no market data available")
	}

	var out []PricePoint
	for _, ts := range doc.TimeSeries {
		period := ts.Period
		for _, pt := range period.Points {
			pStart, pEnd, valid := period.GetTimeRangeForPosition(pt.Position)
			if !valid {
				continue
			}
			if pEnd.Before(start) || pStart.After(end) {
				continue
			}
			out = append(out, PricePoint{Start: pStart, End: pEnd, MarketPriceMWh: pt.PriceAmount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PriceAt returns the market price at time t, in PLN/MWh.
func (p *PriceSource) PriceAt(ctx context.Context, t time.Time) (float64, bool, error) {
	doc, ok := p.cached()
	if !ok {
		if err := p.Refresh(ctx); err != nil {
			return 0, false, err
		}
		doc, _ = p.cached()
	}
	if doc == nil {
		return 0, false, nil
	}
	price, found := doc.LookupPriceByTime(t)
	return price, found, nil
}
