// Package ride composes the pipeline: samples flow from a line source through
// the feed adapter into the reconciler, the integrator turns power into
// energy, and sessions, the leaderboard and persistence hang off the shared
// accumulator.
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/pedal.report/internal/accumulator"
	"github.com/banshee-data/pedal.report/internal/circuit"
	"github.com/banshee-data/pedal.report/internal/config"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/store"
	"github.com/banshee-data/pedal.report/internal/telemetry"
	"github.com/banshee-data/pedal.report/internal/timeutil"
)

// Load retry backoff bounds used when the store is unreachable at start.
const (
	DefaultLoadRetryInterval = time.Second
	maxLoadRetryInterval     = 30 * time.Second
)

// Options configures an Engine.
type Options struct {
	Tuning *config.TuningConfig
	Store  store.Store
	Clock  timeutil.Clock
	// LoadRetryInterval is the first delay between Load attempts after a
	// failed start. It doubles up to 30s. Zero uses DefaultLoadRetryInterval.
	LoadRetryInterval time.Duration
}

// Engine owns every piece of ride state. All methods are safe for concurrent
// use.
type Engine struct {
	tuning *config.TuningConfig
	clock  timeutil.Clock
	logf   func(format string, v ...interface{})

	acc        *accumulator.Accumulator
	power      accumulator.Gauge
	speed      accumulator.Gauge
	recon      *accumulator.Reconciler
	estimator  *accumulator.SpeedEstimator // nil with per-sample speed
	integrator *accumulator.Integrator
	window     *telemetry.Window
	feed       *telemetry.Feed
	board      *leaderboard.Store
	circuit    *circuit.Machine
	writer     *store.Writer
	store      store.Store
	loadRetry  time.Duration

	// mu also spans building and queueing a save, so a save can never be
	// queued behind the clear of a Reset that overtook it.
	mu     sync.Mutex
	latest telemetry.Sample
	route  store.Route
	// restored is false while the persisted state is unknown. The impact is
	// not saved until then so an outage at start cannot overwrite it.
	restored bool
}

// New builds an engine and restores persisted state from opts.Store. When the
// store cannot be read the engine starts counting from zero, withholds impact
// saves, and Run keeps retrying the load; recovered totals are then added to
// whatever was counted meanwhile.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("ride: a store is required")
	}
	if opts.Tuning == nil {
		opts.Tuning = config.DefaultTuningConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.LoadRetryInterval <= 0 {
		opts.LoadRetryInterval = DefaultLoadRetryInterval
	}
	cfg := opts.Tuning

	strategy, err := accumulator.NewStrategy(cfg.GetDistanceStrategy(), cfg.GetTransmissionRatio(), cfg.GetWheelCircumferenceM())
	if err != nil {
		return nil, fmt.Errorf("distance strategy: %w", err)
	}

	e := &Engine{
		tuning: cfg,
		clock:  opts.Clock,
		logf:   monitoring.Prefixed("[ride] "),
		window: telemetry.NewWindow(cfg.GetWindowSize()),
		board:  leaderboard.New(cfg.GetLeaderboardSize()),
		writer:    store.NewWriter(opts.Store, cfg.GetRemoteTimeout()),
		store:     opts.Store,
		loadRetry: opts.LoadRetryInterval,
		restored:  true,
	}

	snap, err := opts.Store.Load(ctx)
	if err != nil {
		e.logf("failed to load persisted state, counting from zero until it can be read: %v", err)
		snap = store.Snapshot{}
		e.restored = false
	}
	initial := snap.State
	if !cfg.GetResumeRawBaseline() {
		initial.LastRawDistance = nil
		initial.LastRevolutions = nil
	}
	e.acc = accumulator.New(initial)
	e.board.Restore(snap.Entries)
	e.latest = snap.Metrics
	e.route = snap.Route

	perSample := cfg.GetSpeedMethod() == config.SpeedPerSample
	e.recon = accumulator.NewReconciler(e.acc, accumulator.ReconcilerOptions{
		Strategy:        strategy,
		Clock:           e.clock,
		PerSampleSpeed:  perSample,
		SampleInterval:  cfg.GetSampleInterval(),
		MeasureInterval: cfg.GetMeasureSampleInterval(),
		OnDelta:         func(float64, accumulator.Totals) { e.persist() },
		OnSpeed:         e.observeSpeed,
	})
	if !perSample {
		e.estimator = accumulator.NewSpeedEstimator(e.acc, e.clock, cfg.GetSpeedPollInterval(), e.observeSpeed)
	}
	e.integrator = accumulator.NewIntegrator(e.acc, &e.power, accumulator.IntegratorOptions{
		Clock:      e.clock,
		Interval:   cfg.GetEnergyTickInterval(),
		MaxElapsed: cfg.GetEnergyMaxElapsed(),
		OnTick:     func(accumulator.Totals) { e.persist() },
	})
	e.circuit = circuit.New(e.acc, e.board, circuit.Options{
		Clock:  e.clock,
		Warmup: cfg.GetSpeedRecordWarmup(),
		OnEnd:  e.writer.AppendEntry,
	})
	e.feed = telemetry.NewFeed(&e.power, e, e.window)

	t := e.acc.Totals()
	e.logf("speed method %s, distance strategy %s, restored %.1f m / %.3f Wh, %d leaderboard entries",
		e.recon.SpeedMethod(), strategy.Name(), t.Distance, t.Energy, e.board.Len())
	return e, nil
}

// Run drives the energy and speed tickers and the persistence writer until
// ctx is cancelled, then saves the final state and drains pending writes.
func (e *Engine) Run(ctx context.Context) {
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		e.writer.Run(writerCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.integrator.Run(ctx)
	}()
	if e.estimator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.estimator.Run(ctx)
		}()
	}
	if !e.isRestored() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.retryLoad(ctx)
		}()
	}
	wg.Wait()

	e.persist()
	stopWriter()
	<-writerDone
}

// Apply records the sample as the latest metrics and reconciles it. The feed
// adapter calls it once per accepted sample.
func (e *Engine) Apply(s telemetry.Sample) {
	e.mu.Lock()
	e.latest = s
	e.mu.Unlock()
	e.recon.Apply(s)
}

// HandlePayload feeds one raw payload through the adapter.
func (e *Engine) HandlePayload(payload []byte) error {
	return e.feed.HandleLine(string(payload))
}

func (e *Engine) observeSpeed(kmh float64) {
	e.speed.Store(kmh)
	e.circuit.ObserveSpeed(kmh)
}

func (e *Engine) isRestored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// retryLoad polls the store with exponential backoff until the persisted
// state is recovered, a Reset discards it, or ctx is done.
func (e *Engine) retryLoad(ctx context.Context) {
	delay := e.loadRetry
	for {
		ticker := e.clock.NewTicker(delay)
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C():
		}
		ticker.Stop()
		if e.isRestored() {
			return
		}

		loadCtx, cancel := context.WithTimeout(ctx, e.tuning.GetRemoteTimeout())
		snap, err := e.store.Load(loadCtx)
		cancel()
		if err == nil {
			e.absorb(snap)
			return
		}
		delay = min(2*delay, maxLoadRetryInterval)
		e.logf("persisted state still unreadable, retrying in %s: %v", delay, err)
	}
}

// absorb merges a snapshot recovered after start into the live state.
func (e *Engine) absorb(snap store.Snapshot) {
	e.mu.Lock()
	if e.restored {
		e.mu.Unlock()
		return
	}
	t := e.acc.Absorb(snap.State)

	seen := make(map[string]bool, len(snap.Entries))
	merged := append([]leaderboard.Entry(nil), snap.Entries...)
	for _, entry := range snap.Entries {
		seen[entry.ID] = true
	}
	for _, entry := range e.board.Entries() {
		if !seen[entry.ID] {
			merged = append(merged, entry)
		}
	}
	e.board.Restore(merged)

	if e.route == (store.Route{}) {
		e.route = snap.Route
	}
	if e.latest == (telemetry.Sample{}) {
		e.latest = snap.Metrics
	}
	e.restored = true
	e.mu.Unlock()

	e.logf("recovered persisted state, now %.1f m / %.3f Wh, %d leaderboard entries", t.Distance, t.Energy, e.board.Len())
	e.persist()
}

func (e *Engine) persist() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.restored {
		return
	}
	e.writer.SaveImpact(store.Impact{
		State:   e.acc.State(),
		Metrics: e.latest,
		Route:   e.route,
	})
}

// StartSession begins a circuit for name.
func (e *Engine) StartSession(name string) (circuit.Session, error) {
	return e.circuit.Start(name)
}

// EndSession finishes the active circuit and submits its result. The bool is
// false when no session was active.
func (e *Engine) EndSession() (leaderboard.Entry, bool) {
	return e.circuit.End()
}

// CancelSession discards the active circuit without a leaderboard entry.
func (e *Engine) CancelSession() bool {
	return e.circuit.Cancel()
}

func (e *Engine) Session() circuit.Status {
	return e.circuit.Status()
}

func (e *Engine) TopBySpeed() []leaderboard.Entry  { return e.board.TopBySpeed() }
func (e *Engine) TopByEnergy() []leaderboard.Entry { return e.board.TopByEnergy() }

// Reset zeroes the global counters and raw baselines, cancels any active
// session and clears the persisted ride state. The leaderboard is kept.
func (e *Engine) Reset() {
	if e.circuit.Cancel() {
		e.logf("reset cancelled the active session")
	}
	e.mu.Lock()
	e.acc.Reset()
	e.window.Reset()
	e.recon.Reset()
	e.power.Store(0)
	e.speed.Store(0)
	e.latest = telemetry.Sample{}
	e.route = store.Route{}
	// a reset discards whatever state the store held
	e.restored = true
	e.writer.ClearImpact()
	e.mu.Unlock()
}

// SetRoute replaces the route labels and persists them.
func (e *Engine) SetRoute(r store.Route) {
	e.mu.Lock()
	e.route = r
	e.mu.Unlock()
	e.persist()
}

func (e *Engine) Route() store.Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.route
}

// SpeedMethod reports the active speed method.
func (e *Engine) SpeedMethod() string { return e.recon.SpeedMethod() }
