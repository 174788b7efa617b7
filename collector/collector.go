// Package collector implements C3: fixed-cadence polling of the
// inverter port, normalization into a canonical Snapshot, rolling
// in-memory history, daily aggregates, and periodic persistence via
// storage.Storage.
package collector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sitewatt/energy-optimizer/inverter"
	"github.com/sitewatt/energy-optimizer/storage"
	"github.com/sitewatt/energy-optimizer/utils"
)

// Readings is the canonical, deep-copyable snapshot of one poll.
// Photovoltaic/HouseConsumption/System are the primary fields;
// PV/Consumption/Inverter are compatibility aliases populated as deep
// copies so downstream code needn't branch on naming (§4.3).
type Readings struct {
	Timestamp time.Time

	Photovoltaic     PVReading
	PV               PVReading
	Grid             GridReading
	HouseConsumption ConsumptionReading
	Consumption      ConsumptionReading
	Battery          inverter.BatteryStatus
	System           inverter.InverterStatus
	Inverter         inverter.InverterStatus
}

type PVReading struct {
	PowerW          utils.NullFloat
	DailyEnergyWh   utils.NullFloat
}

type GridReading struct {
	PowerW   utils.NullFloat
	VoltageV utils.NullFloat
	FreqHz   utils.NullFloat
}

type ConsumptionReading struct {
	PowerW utils.NullFloat
}

// DailyAggregate accumulates energy integration and peak/extreme
// tracking for one calendar day.
type DailyAggregate struct {
	Day time.Time

	PVEnergyWh          float64
	ConsumptionEnergyWh float64
	GridImportEnergyWh  float64
	GridExportEnergyWh  float64

	PVPeakW          float64
	ConsumptionPeakW float64
	SoCMinPct        float64
	SoCMaxPct        float64

	samples int
}

// Collector polls an inverter.Port on a fixed cadence and maintains
// rolling history, daily aggregates, and periodic persistence.
type Collector struct {
	port    inverter.Port
	store   storage.Storage
	logger  *log.Logger
	retain  time.Duration
	everyN  int

	mu        sync.RWMutex
	history   []Readings
	lastTick  time.Time
	tickCount int
	today     DailyAggregate
	dailyHist []DailyAggregate // completed days, most recent last

	avgCacheMu   sync.Mutex
	avgCacheAt   time.Time
	avgCacheDays int
	avgCacheVal  float64
}

// New builds a Collector. retainHours bounds the rolling in-memory
// history; persistEveryN controls how often SaveSnapshot is called
// relative to polls (§4.3: "every N ticks, default 15").
func New(port inverter.Port, store storage.Storage, logger *log.Logger, retainHours int, persistEveryN int) *Collector {
	if persistEveryN <= 0 {
		persistEveryN = 15
	}
	if retainHours <= 0 {
		retainHours = 48
	}
	return &Collector{
		port:   port,
		store:  store,
		logger: logger,
		retain: time.Duration(retainHours) * time.Hour,
		everyN: persistEveryN,
	}
}

// Tick polls the inverter once, folds the reading into rolling
// history and daily aggregates, and persists every N ticks.
func (c *Collector) Tick(ctx context.Context) (Readings, error) {
	status, battery, err := c.port.CollectAll(ctx)
	if err != nil {
		return Readings{}, err
	}
	pvW, pvDailyWh, err := c.port.CollectPV(ctx)
	if err != nil {
		return Readings{}, err
	}
	gridW, gridV, gridHz, err := c.port.CollectGrid(ctx)
	if err != nil {
		return Readings{}, err
	}
	consW, err := c.port.CollectConsumption(ctx)
	if err != nil {
		return Readings{}, err
	}

	now := time.Now()
	pv := PVReading{PowerW: utils.Float(pvW), DailyEnergyWh: utils.Float(pvDailyWh)}
	grid := GridReading{PowerW: utils.Float(gridW), VoltageV: utils.Float(gridV), FreqHz: utils.Float(gridHz)}
	cons := ConsumptionReading{PowerW: utils.Float(consW)}

	r := Readings{
		Timestamp:        now,
		Photovoltaic:     pv,
		PV:               pv,
		Grid:             grid,
		HouseConsumption: cons,
		Consumption:      cons,
		Battery:          battery,
		System:           status,
		Inverter:         status,
	}

	c.mu.Lock()
	c.fold(r)
	c.mu.Unlock()

	c.tickCount++
	if c.tickCount%c.everyN == 0 {
		if err := c.persist(ctx, r); err != nil && c.logger != nil {
			c.logger.Printf("collector: persist snapshot: %v", err)
		}
	}

	return r, nil
}

// fold appends r to rolling history (trimming by retention), rolls
// the day aggregate forward on date change, and updates today's
// aggregate. Called with mu held.
func (c *Collector) fold(r Readings) {
	c.history = append(c.history, r)
	cutoff := r.Timestamp.Add(-c.retain)
	i := 0
	for i < len(c.history) && c.history[i].Timestamp.Before(cutoff) {
		i++
	}
	c.history = c.history[i:]
	c.lastTick = r.Timestamp

	day := r.Timestamp.Truncate(24 * time.Hour)
	if c.today.Day.IsZero() {
		c.today.Day = day
		c.today.SoCMinPct = r.Battery.SOCPct
		c.today.SoCMaxPct = r.Battery.SOCPct
	} else if !c.today.Day.Equal(day) {
		c.dailyHist = append(c.dailyHist, c.today)
		c.today = DailyAggregate{Day: day, SoCMinPct: r.Battery.SOCPct, SoCMaxPct: r.Battery.SOCPct}
	}

	// energy integration uses the actual time since the previous sample (§4.3): missing
	// values treat as zero for aggregates only, per aggregate-level
	// exception to the "preserve nulls" rule.
	hoursSinceLast := 0.0
	if len(c.history) >= 2 {
		hoursSinceLast = r.Timestamp.Sub(c.history[len(c.history)-2].Timestamp).Hours()
	}

	c.today.PVEnergyWh += r.Photovoltaic.PowerW.Or(0) * hoursSinceLast
	c.today.ConsumptionEnergyWh += r.HouseConsumption.PowerW.Or(0) * hoursSinceLast
	if gp := r.Grid.PowerW.Or(0); gp > 0 {
		c.today.GridImportEnergyWh += gp * hoursSinceLast
	} else {
		c.today.GridExportEnergyWh += -gp * hoursSinceLast
	}

	if pv := r.Photovoltaic.PowerW.Or(0); pv > c.today.PVPeakW {
		c.today.PVPeakW = pv
	}
	if cp := r.HouseConsumption.PowerW.Or(0); cp > c.today.ConsumptionPeakW {
		c.today.ConsumptionPeakW = cp
	}
	if r.Battery.SOCPct < c.today.SoCMinPct {
		c.today.SoCMinPct = r.Battery.SOCPct
	}
	if r.Battery.SOCPct > c.today.SoCMaxPct {
		c.today.SoCMaxPct = r.Battery.SOCPct
	}
	c.today.samples++
}

func (c *Collector) persist(ctx context.Context, r Readings) error {
	sn := storage.Snapshot{
		Timestamp:         r.Timestamp,
		BatterySOCPct:     r.Battery.SOCPct,
		BatteryVoltageV:   r.Battery.VoltageV,
		BatteryCurrentA:   r.Battery.CurrentA,
		BatteryPowerW:     r.Battery.PowerW,
		BatteryTempC:      r.Battery.TempC,
		BatteryCharging:   r.Battery.Charging,
		PVPowerW:          r.Photovoltaic.PowerW.Or(0),
		PVDailyEnergyWh:   r.Photovoltaic.DailyEnergyWh.Or(0),
		GridPowerW:        r.Grid.PowerW.Or(0),
		GridVoltageV:      r.Grid.VoltageV.Or(0),
		GridFreqHz:        r.Grid.FreqHz.Or(0),
		ConsumptionPowerW: r.HouseConsumption.PowerW.Or(0),
		InverterModel:     r.System.Model,
		InverterSerial:    r.System.Serial,
		InverterState:     string(r.System.State),
	}
	return c.store.SaveSnapshot(ctx, []storage.Snapshot{sn})
}

// Latest returns the most recent reading, if any.
func (c *Collector) Latest() (Readings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return Readings{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the rolling in-memory history (§4.3:
// owned by C3, external readers get a snapshot copy).
func (c *Collector) History() []Readings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Readings, len(c.history))
	copy(out, c.history)
	return out
}

// Today returns a copy of the in-progress daily aggregate.
func (c *Collector) Today() DailyAggregate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.today
}

// AverageDailyConsumption aggregates persisted daily totals over the
// last `days` days, cached with a 60-minute TTL (§4.3).
func (c *Collector) AverageDailyConsumption(ctx context.Context, days int) (float64, error) {
	c.avgCacheMu.Lock()
	defer c.avgCacheMu.Unlock()

	if c.avgCacheDays == days && time.Since(c.avgCacheAt) < time.Hour {
		return c.avgCacheVal, nil
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	snapshots, err := c.store.QuerySnapshots(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	byDay := map[string]float64{}
	prevTS := map[string]time.Time{}
	for _, sn := range snapshots {
		key := sn.Timestamp.Format("2006-01-02")
		if last, ok := prevTS[key]; ok {
			byDay[key] += sn.ConsumptionPowerW * sn.Timestamp.Sub(last).Hours()
		}
		prevTS[key] = sn.Timestamp
	}

	var total float64
	for _, wh := range byDay {
		total += wh
	}
	avg := total / float64(len(byDay)) / 1000.0 // Wh -> kWh

	c.avgCacheAt = time.Now()
	c.avgCacheDays = days
	c.avgCacheVal = avg
	return avg, nil
}
