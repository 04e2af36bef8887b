package ride

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedal.report/internal/accumulator"
	"github.com/banshee-data/pedal.report/internal/circuit"
	"github.com/banshee-data/pedal.report/internal/config"
	"github.com/banshee-data/pedal.report/internal/db"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/store"
	"github.com/banshee-data/pedal.report/internal/timeutil"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory store.Store.
type memStore struct {
	mu      sync.Mutex
	snap    store.Snapshot
	loadErr error
	saves   int
	clears  int
}

func (m *memStore) Load(context.Context) (store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.loadErr
}

func (m *memStore) SaveImpact(_ context.Context, imp store.Impact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Impact = imp
	m.saves++
	return nil
}

func (m *memStore) AppendEntry(_ context.Context, e leaderboard.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Entries = append(m.snap.Entries, e)
	return nil
}

func (m *memStore) ClearImpact(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Impact = store.Impact{}
	m.clears++
	return nil
}

func (m *memStore) setLoadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) snapshot() store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func quiet(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(orig) })
}

func payload(power, distance float64) []byte {
	return []byte(fmt.Sprintf(`{"power":%g,"cadence":80,"distance":%g,"revolutions":0}`, power, distance))
}

func newEngine(t *testing.T, tuning *config.TuningConfig, s store.Store, clock timeutil.Clock) *Engine {
	t.Helper()
	e, err := New(context.Background(), Options{Tuning: tuning, Store: s, Clock: clock})
	require.NoError(t, err)
	return e
}

// startRun runs e in the background and returns a stop function that waits
// for the final drain.
func startRun(t *testing.T, e *Engine) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return stop
}

func TestEngine_OdometerDistance(t *testing.T) {
	quiet(t)
	e := newEngine(t, nil, &memStore{}, timeutil.NewMockClock(t0))

	require.NoError(t, e.HandlePayload(payload(150, 120)))
	require.NoError(t, e.HandlePayload(payload(150, 125)))
	assert.Equal(t, 5.0, e.Live().Distance)

	// malformed payloads leave state alone
	assert.Error(t, e.HandlePayload([]byte(`{"power":`)))
	assert.Equal(t, 5.0, e.Live().Distance)

	live := e.Live()
	assert.Equal(t, 125.0, live.Metrics.Distance)
	assert.Equal(t, 150.0, live.Power)
	assert.Equal(t, 2, live.Window.Count)
	assert.Equal(t, config.SpeedDifferential, live.SpeedMethod)
	assert.Equal(t, config.StrategyOdometer, live.Strategy)
}

func TestEngine_SessionScenario(t *testing.T) {
	quiet(t)
	clock := timeutil.NewMockClock(t0)
	ms := &memStore{}
	e := newEngine(t, nil, ms, clock)
	stop := startRun(t, e)

	// integrator and speed estimator
	require.Eventually(t, func() bool { return clock.Tickers() == 2 }, time.Second, time.Millisecond)

	_, err := e.StartSession("Ada")
	require.NoError(t, err)
	_, err = e.StartSession("Bob")
	assert.ErrorIs(t, err, circuit.ErrSessionActive)

	require.NoError(t, e.HandlePayload(payload(3600, 100)))
	require.NoError(t, e.HandlePayload(payload(3600, 110)))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		l := e.Live()
		return l.Speed == 36 && l.Energy == 1
	}, time.Second, time.Millisecond)

	status := e.Session()
	assert.Equal(t, circuit.StateActive, status.State)
	assert.Equal(t, "Ada", status.Participant)
	assert.Equal(t, 10.0, status.Distance)

	entry, ok := e.EndSession()
	require.True(t, ok)
	assert.Equal(t, "Ada", entry.Name)
	assert.Equal(t, 1.0, entry.Energy)
	assert.Equal(t, 36.0, entry.Speed)
	assert.Equal(t, 10.0, entry.Distance)

	_, ok = e.EndSession()
	assert.False(t, ok)

	require.Len(t, e.TopBySpeed(), 1)
	require.Len(t, e.TopByEnergy(), 1)

	stop()
	snap := ms.snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, entry.ID, snap.Entries[0].ID)
	assert.Equal(t, 10.0, snap.State.CumulativeDistance)
	assert.Equal(t, 1.0, snap.State.TotalEnergy)
	assert.Equal(t, 110.0, snap.Metrics.Distance)
}

func TestEngine_PerSampleSpeed(t *testing.T) {
	quiet(t)
	tuning := config.DefaultTuningConfig()
	method := config.SpeedPerSample
	tuning.SpeedMethod = &method

	clock := timeutil.NewMockClock(t0)
	e := newEngine(t, tuning, &memStore{}, clock)
	assert.Nil(t, e.estimator)
	assert.Equal(t, config.SpeedPerSample, e.SpeedMethod())

	_, err := e.StartSession("Ada")
	require.NoError(t, err)

	require.NoError(t, e.HandlePayload(payload(100, 100)))
	clock.Advance(time.Second)
	require.NoError(t, e.HandlePayload(payload(100, 110)))

	assert.Equal(t, 36.0, e.Live().Speed)
	assert.Equal(t, 36.0, e.Session().SpeedRecord)
}

func TestEngine_RestoresState(t *testing.T) {
	quiet(t)
	raw := 100.0
	saved := func() *memStore {
		return &memStore{snap: store.Snapshot{
			Impact: store.Impact{
				State: accumulatorState(500, 2.5, &raw),
				Route: store.Route{StartLocation: "Clermont", EndLocation: "Puy de Dôme"},
			},
			Entries: []leaderboard.Entry{{ID: "x", Name: "A", Energy: 1, Speed: 20}},
		}}
	}

	t.Run("fresh baseline", func(t *testing.T) {
		e := newEngine(t, nil, saved(), timeutil.NewMockClock(t0))
		assert.Equal(t, 500.0, e.Live().Distance)
		assert.Equal(t, 2.5, e.Live().Energy)
		assert.Equal(t, "Clermont", e.Route().StartLocation)
		assert.Len(t, e.TopBySpeed(), 1)

		require.NoError(t, e.HandlePayload(payload(0, 150)))
		assert.Equal(t, 500.0, e.Live().Distance, "first sample after restart only sets the baseline")
	})

	t.Run("resume baseline", func(t *testing.T) {
		tuning := config.DefaultTuningConfig()
		resume := true
		tuning.ResumeRawBaseline = &resume
		e := newEngine(t, tuning, saved(), timeutil.NewMockClock(t0))

		require.NoError(t, e.HandlePayload(payload(0, 150)))
		assert.Equal(t, 550.0, e.Live().Distance)
	})
}

func TestEngine_LoadFailureStartsFromZero(t *testing.T) {
	quiet(t)
	e := newEngine(t, nil, &memStore{loadErr: errors.New("unreachable")}, timeutil.NewMockClock(t0))
	assert.Zero(t, e.Live().Distance)
	assert.Empty(t, e.TopByEnergy())
}

func TestEngine_UnreadableStoreIsNotOverwritten(t *testing.T) {
	quiet(t)
	ms := &memStore{
		snap: store.Snapshot{
			Impact:  store.Impact{State: accumulator.State{CumulativeDistance: 500, TotalEnergy: 7}},
			Entries: []leaderboard.Entry{{ID: "old", Name: "Ada", Energy: 2}},
		},
		loadErr: errors.New("unreachable"),
	}
	e, err := New(context.Background(), Options{Store: ms, Clock: timeutil.RealClock{}, LoadRetryInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	stop := startRun(t, e)

	require.NoError(t, e.HandlePayload(payload(0, 100)))
	require.NoError(t, e.HandlePayload(payload(0, 130)))
	e.SetRoute(store.Route{StartLocation: "gare"})
	assert.Equal(t, 30.0, e.Live().Distance)
	assert.Zero(t, ms.saveCount())

	ms.setLoadErr(nil)
	require.Eventually(t, func() bool { return e.Live().Distance == 530 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, e.Live().Energy, 7.0)
	require.Len(t, e.TopByEnergy(), 1)
	assert.Equal(t, "old", e.TopByEnergy()[0].ID)
	assert.Equal(t, "gare", e.Route().StartLocation)

	stop()
	snap := ms.snapshot()
	assert.Equal(t, 530.0, snap.State.CumulativeDistance)
	assert.GreaterOrEqual(t, snap.State.TotalEnergy, 7.0)
}

func TestEngine_UnreadableStoreNeverLoadsSkipsFinalSave(t *testing.T) {
	quiet(t)
	ms := &memStore{
		snap:    store.Snapshot{Impact: store.Impact{State: accumulator.State{CumulativeDistance: 500}}},
		loadErr: errors.New("unreachable"),
	}
	e, err := New(context.Background(), Options{Store: ms, Clock: timeutil.RealClock{}, LoadRetryInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	stop := startRun(t, e)

	require.NoError(t, e.HandlePayload(payload(0, 100)))
	require.NoError(t, e.HandlePayload(payload(0, 110)))
	stop()

	assert.Zero(t, ms.saveCount())
	assert.Equal(t, 500.0, ms.snapshot().State.CumulativeDistance)
}

func TestEngine_ResetDuringOutageDiscardsStoredState(t *testing.T) {
	quiet(t)
	ms := &memStore{
		snap:    store.Snapshot{Impact: store.Impact{State: accumulator.State{CumulativeDistance: 500}}},
		loadErr: errors.New("unreachable"),
	}
	e, err := New(context.Background(), Options{Store: ms, Clock: timeutil.RealClock{}, LoadRetryInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	stop := startRun(t, e)

	e.Reset()
	ms.setLoadErr(nil)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, e.Live().Distance)

	stop()
	assert.Zero(t, ms.snapshot().State.CumulativeDistance)
}

func TestEngine_SaveRacingResetDoesNotResurrectTotals(t *testing.T) {
	quiet(t)
	ms := &memStore{}
	e := newEngine(t, nil, ms, timeutil.NewMockClock(t0))

	require.NoError(t, e.HandlePayload(payload(0, 100)))
	require.NoError(t, e.HandlePayload(payload(0, 140)))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				e.persist()
			}
		}()
	}
	e.Reset()
	wg.Wait()
	e.writer.Flush(context.Background())

	assert.Equal(t, 1, ms.clears)
	assert.Zero(t, ms.snapshot().State.CumulativeDistance)
}

func TestEngine_RequiresStore(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestEngine_BadStrategy(t *testing.T) {
	tuning := config.DefaultTuningConfig()
	ratio := -1.0
	tuning.TransmissionRatio = &ratio
	strategy := config.StrategyRevolutions
	tuning.DistanceStrategy = &strategy

	_, err := New(context.Background(), Options{Tuning: tuning, Store: &memStore{}})
	assert.Error(t, err)
}

func TestEngine_Reset(t *testing.T) {
	quiet(t)
	ms := &memStore{snap: store.Snapshot{Entries: []leaderboard.Entry{{ID: "x", Name: "A"}}}}
	e := newEngine(t, nil, ms, timeutil.NewMockClock(t0))
	stop := startRun(t, e)

	e.SetRoute(store.Route{StartLocation: "here"})
	require.NoError(t, e.HandlePayload(payload(200, 100)))
	require.NoError(t, e.HandlePayload(payload(200, 140)))
	_, err := e.StartSession("Ada")
	require.NoError(t, err)

	e.Reset()
	live := e.Live()
	assert.Zero(t, live.Distance)
	assert.Zero(t, live.Energy)
	assert.Zero(t, live.Power)
	assert.Zero(t, live.Window.Count)
	assert.Equal(t, circuit.StateIdle, live.Session.State)
	assert.Len(t, e.TopBySpeed(), 1, "leaderboard survives a reset")

	// baselines are gone too, so the next sample is a new baseline
	require.NoError(t, e.HandlePayload(payload(200, 10)))
	assert.Zero(t, e.Live().Distance)

	stop()
	snap := ms.snapshot()
	assert.GreaterOrEqual(t, ms.clears, 1)
	assert.Len(t, snap.Entries, 1)
	assert.Zero(t, snap.State.CumulativeDistance)
}

func TestEngine_LocalStoreRoundTrip(t *testing.T) {
	quiet(t)
	d, err := db.NewDB(filepath.Join(t.TempDir(), "ride.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	e := newEngine(t, nil, store.NewLocal(d), timeutil.NewMockClock(t0))
	stop := startRun(t, e)
	require.NoError(t, e.HandlePayload(payload(100, 10)))
	require.NoError(t, e.HandlePayload(payload(100, 42)))
	_, err = e.StartSession("Ada")
	require.NoError(t, err)
	_, ok := e.EndSession()
	require.True(t, ok)
	stop()

	again := newEngine(t, nil, store.NewLocal(d), timeutil.NewMockClock(t0))
	assert.Equal(t, 32.0, again.Live().Distance)
	assert.Len(t, again.TopBySpeed(), 1)
}
