package accumulator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/timeutil"
	"github.com/banshee-data/pedal.report/internal/units"
)

// Integrator defaults.
const (
	DefaultEnergyTickInterval = time.Second
	DefaultEnergyMaxElapsed   = 1500 * time.Millisecond
)

// PowerReader exposes the latest power reading in watts.
type PowerReader interface {
	Load() float64
}

// Integrator adds power × elapsed time to the accumulator's energy on a fixed
// period. The elapsed time per tick is capped so a stalled timer cannot
// credit a long gap at the last power reading.
type Integrator struct {
	acc        *Accumulator
	power      PowerReader
	clock      timeutil.Clock
	interval   time.Duration
	maxElapsed time.Duration
	onTick     func(Totals)

	mu      sync.Mutex
	started bool
	last    time.Time
}

// IntegratorOptions configures an Integrator. Zero values take the defaults.
type IntegratorOptions struct {
	Clock      timeutil.Clock
	Interval   time.Duration
	MaxElapsed time.Duration
	// OnTick is called after every tick with the new totals.
	OnTick func(Totals)
}

// NewIntegrator integrates power into acc.
func NewIntegrator(acc *Accumulator, power PowerReader, opts IntegratorOptions) *Integrator {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultEnergyTickInterval
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = DefaultEnergyMaxElapsed
	}
	return &Integrator{
		acc:        acc,
		power:      power,
		clock:      opts.Clock,
		interval:   opts.Interval,
		maxElapsed: opts.MaxElapsed,
		onTick:     opts.OnTick,
	}
}

// Start sets the last-tick timestamp without integrating.
func (i *Integrator) Start(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.started = true
	i.last = now
}

// Tick integrates the latest power over the time since the previous tick and
// returns the energy added in Wh. An unstarted integrator only starts.
func (i *Integrator) Tick(now time.Time) float64 {
	i.mu.Lock()
	if !i.started {
		i.started = true
		i.last = now
		i.mu.Unlock()
		return 0
	}
	elapsed := now.Sub(i.last)
	i.last = now
	i.mu.Unlock()

	elapsed = min(max(elapsed, 0), i.maxElapsed)

	watts := 0.0
	if i.power != nil {
		watts = i.power.Load()
	}
	if watts < 0 || math.IsNaN(watts) {
		watts = 0
	}

	wh := units.WattHours(watts, elapsed.Seconds())
	totals := i.acc.AddEnergy(wh)
	monitoring.Inc(monitoring.EnergyTicks)
	if i.onTick != nil {
		i.onTick(totals)
	}
	return wh
}

// Run ticks until ctx is cancelled.
func (i *Integrator) Run(ctx context.Context) {
	i.Start(i.clock.Now())
	ticker := i.clock.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			i.Tick(now)
		}
	}
}
