package accumulator

import (
	"sync"
	"time"

	"github.com/banshee-data/pedal.report/internal/telemetry"
	"github.com/banshee-data/pedal.report/internal/timeutil"
	"github.com/banshee-data/pedal.report/internal/units"
)

// Speed methods. Exactly one is active per deployment.
const (
	SpeedDifferential = "differential"
	SpeedPerSample    = "per_sample"
)

// DefaultSampleInterval is the nominal spacing of feed samples.
const DefaultSampleInterval = 2 * time.Second

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Strategy Strategy
	Clock    timeutil.Clock

	// PerSampleSpeed derives a speed from every sample's distance delta. When
	// false, speed comes from a SpeedEstimator instead.
	PerSampleSpeed bool
	// SampleInterval is the nominal spacing used for per-sample speed.
	SampleInterval time.Duration
	// MeasureInterval uses the measured time since the previous sample,
	// falling back to SampleInterval when that is not positive.
	MeasureInterval bool

	// OnDelta is called after every applied sample with the new totals.
	OnDelta func(delta float64, totals Totals)
	// OnSpeed receives per-sample speeds in km/h.
	OnSpeed func(kmh float64)
}

// Reconciler feeds samples through a distance strategy into an Accumulator.
// Callbacks run after the accumulator lock is released.
type Reconciler struct {
	acc  *Accumulator
	opts ReconcilerOptions

	mu           sync.Mutex
	lastSampleAt time.Time
}

// NewReconciler returns a reconciler for acc. A nil strategy selects the
// odometer strategy and a nil clock the real clock.
func NewReconciler(acc *Accumulator, opts ReconcilerOptions) *Reconciler {
	if opts.Strategy == nil {
		opts.Strategy = OdometerStrategy{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	return &Reconciler{acc: acc, opts: opts}
}

// Strategy returns the active distance strategy.
func (r *Reconciler) Strategy() Strategy { return r.opts.Strategy }

// SpeedMethod reports which speed method this deployment uses.
func (r *Reconciler) SpeedMethod() string {
	if r.opts.PerSampleSpeed {
		return SpeedPerSample
	}
	return SpeedDifferential
}

// Apply reconciles one sample. It satisfies telemetry.SampleSink.
func (r *Reconciler) Apply(s telemetry.Sample) {
	delta, totals := r.acc.apply(r.opts.Strategy, s)

	if r.opts.PerSampleSpeed {
		kmh := units.SpeedKMH(delta, r.interval().Seconds())
		if r.opts.OnSpeed != nil {
			r.opts.OnSpeed(kmh)
		}
	}
	if r.opts.OnDelta != nil {
		r.opts.OnDelta(delta, totals)
	}
}

func (r *Reconciler) interval() time.Duration {
	now := r.opts.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	interval := r.opts.SampleInterval
	if r.opts.MeasureInterval && !r.lastSampleAt.IsZero() {
		if measured := now.Sub(r.lastSampleAt); measured > 0 {
			interval = measured
		}
	}
	r.lastSampleAt = now
	return interval
}

// Reset forgets the previous sample time.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSampleAt = time.Time{}
}
