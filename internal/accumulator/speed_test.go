package accumulator

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedal.report/internal/telemetry"
	"github.com/banshee-data/pedal.report/internal/timeutil"
)

func TestGauge(t *testing.T) {
	var g Gauge
	assert.Equal(t, 0.0, g.Load())
	g.Store(212.75)
	assert.Equal(t, 212.75, g.Load())
	g.Store(math.Inf(-1))
	assert.True(t, math.IsInf(g.Load(), -1))
}

func TestSpeedEstimator_Tick(t *testing.T) {
	a := New(State{})
	rec := NewReconciler(a, ReconcilerOptions{})
	e := NewSpeedEstimator(a, nil, 0, nil)
	assert.Equal(t, DefaultSpeedPollInterval, e.interval)

	t0 := time.Unix(100, 0)
	_, ok := e.Tick(t0)
	assert.False(t, ok, "first tick only primes")

	rec.Apply(telemetry.Sample{Distance: 0})
	rec.Apply(telemetry.Sample{Distance: 2})

	kmh, ok := e.Tick(t0.Add(200 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 36.0, kmh, 1e-9)

	kmh, ok = e.Tick(t0.Add(400 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 0.0, kmh)

	_, ok = e.Tick(t0.Add(400 * time.Millisecond))
	assert.False(t, ok, "zero elapsed is skipped")
}

func TestSpeedEstimator_NeverNegativeAfterReset(t *testing.T) {
	a := New(State{CumulativeDistance: 500})
	e := NewSpeedEstimator(a, nil, time.Second, nil)
	t0 := time.Unix(0, 0)
	e.Tick(t0)

	a.Reset()
	kmh, ok := e.Tick(t0.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 0.0, kmh)
}

func TestSpeedEstimator_Run(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := New(State{})
	rec := NewReconciler(a, ReconcilerOptions{})

	var mu sync.Mutex
	var speeds []float64
	e := NewSpeedEstimator(a, clock, 200*time.Millisecond, func(kmh float64) {
		mu.Lock()
		speeds = append(speeds, kmh)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	rec.Apply(telemetry.Sample{Distance: 10})
	rec.Apply(telemetry.Sample{Distance: 11})
	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(speeds) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.InDelta(t, 18.0, speeds[0], 1e-9)
	mu.Unlock()

	cancel()
	<-done
}
