package accumulator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pedal.report/internal/timeutil"
	"github.com/banshee-data/pedal.report/internal/units"
)

// DefaultSpeedPollInterval is the differential speed sampling period.
const DefaultSpeedPollInterval = 200 * time.Millisecond

// Gauge holds a float64 that one goroutine writes and any number read.
type Gauge struct {
	bits atomic.Uint64
}

// Store sets the gauge. It satisfies telemetry.PowerSink.
func (g *Gauge) Store(v float64) { g.bits.Store(math.Float64bits(v)) }

// Load returns the last stored value, 0 if none.
func (g *Gauge) Load() float64 { return math.Float64frombits(g.bits.Load()) }

// SpeedEstimator derives speed by finite-differencing cumulative distance on
// a fixed period.
type SpeedEstimator struct {
	acc      *Accumulator
	clock    timeutil.Clock
	interval time.Duration
	onSpeed  func(kmh float64)

	mu       sync.Mutex
	primed   bool
	prevDist float64
	prevAt   time.Time
}

// NewSpeedEstimator polls acc every interval and reports speeds to onSpeed.
func NewSpeedEstimator(acc *Accumulator, clock timeutil.Clock, interval time.Duration, onSpeed func(kmh float64)) *SpeedEstimator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultSpeedPollInterval
	}
	return &SpeedEstimator{acc: acc, clock: clock, interval: interval, onSpeed: onSpeed}
}

// Tick samples the accumulator at now. The first tick only records the
// baseline and reports ok=false.
func (e *SpeedEstimator) Tick(now time.Time) (kmh float64, ok bool) {
	dist := e.acc.Totals().Distance

	e.mu.Lock()
	if !e.primed {
		e.primed = true
		e.prevDist, e.prevAt = dist, now
		e.mu.Unlock()
		return 0, false
	}
	elapsed := now.Sub(e.prevAt).Seconds()
	if elapsed <= 0 {
		e.mu.Unlock()
		return 0, false
	}
	kmh = max(0, units.SpeedKMH(dist-e.prevDist, elapsed))
	e.prevDist, e.prevAt = dist, now
	e.mu.Unlock()

	if e.onSpeed != nil {
		e.onSpeed(kmh)
	}
	return kmh, true
}

// Run ticks until ctx is cancelled.
func (e *SpeedEstimator) Run(ctx context.Context) {
	e.Tick(e.clock.Now())
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			e.Tick(now)
		}
	}
}
