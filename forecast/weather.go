package forecast

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/sitewatt/energy-optimizer/meteo"
)

// WeatherSource wraps the MET Norway client with a cache, mirroring
// the teacher's WeatherForecastCache: one fetch per cache window, read
// by many callers.
type WeatherSource struct {
	client        *meteo.Client
	location      meteo.Location
	cacheDuration time.Duration

	mu        sync.RWMutex
	forecast  *meteo.METJSONForecast
	fetchedAt time.Time
}

// NewWeatherSource builds a weather source for the given site location.
func NewWeatherSource(userAgent string, lat, lon float64, cacheDuration time.Duration) *WeatherSource {
	if cacheDuration <= 0 {
		cacheDuration = 30 * time.Minute
	}
	return &WeatherSource{
		client:        meteo.NewClient(userAgent),
		location:      meteo.Location{Latitude: lat, Longitude: lon},
		cacheDuration: cacheDuration,
	}
}

func (w *WeatherSource) cached() (*meteo.METJSONForecast, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.forecast == nil || time.Since(w.fetchedAt) > w.cacheDuration {
		return nil, false
	}
	return w.forecast, true
}

// Forecast returns the cached forecast, fetching on a cache miss.
func (w *WeatherSource) Forecast() (*meteo.METJSONForecast, error) {
	if f, ok := w.cached(); ok {
		return f, nil
	}

	f, err := w.client.GetCompact(meteo.QueryParams{Location: w.location})
	if err != nil {
		return nil, fmt.Errorf("forecast: fetch weather: %w", err)
	}

	w.mu.Lock()
	w.forecast = f
	w.fetchedAt = time.Now()
	w.mu.Unlock()
	return f, nil
}

// CloudCoverageNow returns the current cloud coverage percentage, or
// false if unavailable.
func (w *WeatherSource) CloudCoverageNow() (float64, bool) {
	f, err := w.Forecast()
	if err != nil {
		return 0, false
	}
	current := f.GetCurrentWeather()
	if current == nil {
		return 0, false
	}
	cc := current.GetCloudCoverage()
	if cc == nil {
		return 0, false
	}
	return *cc, true
}

// PVClass is a coarse classification of expected PV output, used by
// the night-charging-preparation rule.
type PVClass string

const (
	PVGood PVClass = "good"
	PVFair PVClass = "fair"
	PVPoor PVClass = "poor"
)

// PVEstimate is one point of estimated PV production.
type PVEstimate struct {
	Time          time.Time
	PowerW        float64
	CloudCoverage float64
	WeatherSymbol string
}

// PVEstimator derives PV power estimates from weather forecasts and
// sun geometry, grounded on the teacher's estimateSolarPowerFromWeather.
type PVEstimator struct {
	Latitude, Longitude float64
	PeakPowerW          float64
}

// EstimateAt estimates PV output at targetTime from the given
// forecast. currentPVPowerW lets the estimator detect panels likely
// covered by snow when live output is near zero but sun geometry and
// forecast both expect production.
func (e *PVEstimator) EstimateAt(forecast *meteo.METJSONForecast, targetTime time.Time, currentPVPowerW float64) PVEstimate {
	out := PVEstimate{Time: targetTime}

	if forecast == nil || forecast.Properties == nil || len(forecast.Properties.Timeseries) == 0 {
		return out
	}

	var closest *meteo.ForecastTimeStep
	minDiff := time.Duration(math.MaxInt64)
	for i, step := range forecast.Properties.Timeseries {
		diff := step.Time.Sub(targetTime)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = &forecast.Properties.Timeseries[i]
		}
	}
	if closest == nil || closest.Data == nil || closest.Data.Instant == nil || closest.Data.Instant.Details == nil {
		return out
	}

	details := closest.Data.Instant.Details
	if details.CloudAreaFraction != nil {
		out.CloudCoverage = *details.CloudAreaFraction
	}
	if symbol := closest.GetSymbolCode(); symbol != nil {
		out.WeatherSymbol = string(*symbol)
		if symbol.HasSnow() {
			return out
		}
	}

	sunTimes := suncalc.GetTimes(targetTime, e.Latitude, e.Longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if targetTime.Before(sunrise) || targetTime.After(sunset) {
		return out
	}

	pos := suncalc.GetPosition(targetTime, e.Latitude, e.Longitude)
	angleFactor := math.Sin(pos.Altitude)
	if angleFactor < 0 {
		return out
	}

	expected := e.PeakPowerW * angleFactor * 0.5
	if currentPVPowerW < 100 && expected > 1000 && time.Until(targetTime).Hours() < 1 {
		// live output near zero while sun geometry expects production:
		// likely panels obstructed (snow, debris); don't project output.
		return out
	}

	cloudFactor := 1.0
	if details.CloudAreaFraction != nil {
		cloudFactor = 1.0 - (*details.CloudAreaFraction/100.0)*0.90
	}

	out.PowerW = e.PeakPowerW * angleFactor * cloudFactor
	return out
}

// EstimateDay projects hourly PV estimates for all 24 hours of the
// given day, from midnight, and classifies the day's expected output.
func (e *PVEstimator) EstimateDay(forecast *meteo.METJSONForecast, day time.Time, currentPVPowerW float64) ([]PVEstimate, PVClass) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var estimates []PVEstimate
	var total float64
	for h := 0; h < 24; h++ {
		t := start.Add(time.Duration(h) * time.Hour)
		est := e.EstimateAt(forecast, t, currentPVPowerW)
		estimates = append(estimates, est)
		total += est.PowerW
	}

	avgW := total / 24
	class := PVPoor
	switch {
	case e.PeakPowerW <= 0:
		class = PVPoor
	case avgW >= e.PeakPowerW*0.35:
		class = PVGood
	case avgW >= e.PeakPowerW*0.15:
		class = PVFair
	}
	return estimates, class
}
