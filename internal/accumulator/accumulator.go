// Package accumulator owns the process-wide ride counters. It reconciles raw
// sensor readings into monotonic distance, estimates speed and integrates
// power into energy.
package accumulator

import (
	"math"
	"sync"

	"github.com/banshee-data/pedal.report/internal/telemetry"
)

// State is the full accumulator state, including the raw sensor baselines
// used to compute deltas. Baselines are nil until the first sample arrives.
type State struct {
	CumulativeDistance float64 // m
	TotalEnergy        float64 // Wh
	LastRawDistance    *float64
	LastRevolutions    *int64
}

// Totals is the consumer-facing view of the accumulator.
type Totals struct {
	Distance float64 `json:"distance"` // m
	Energy   float64 `json:"energy"`   // Wh
}

// Accumulator guards State. Distance only grows through Apply and energy only
// through AddEnergy; both are reset together by Reset.
type Accumulator struct {
	mu    sync.RWMutex
	state State
}

// New returns an accumulator seeded with initial. Negative or non-finite
// totals are treated as zero.
func New(initial State) *Accumulator {
	initial.CumulativeDistance = nonNegative(initial.CumulativeDistance)
	initial.TotalEnergy = nonNegative(initial.TotalEnergy)
	return &Accumulator{state: cloneState(initial)}
}

// Totals returns a consistent snapshot of distance and energy.
func (a *Accumulator) Totals() Totals {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Totals{Distance: a.state.CumulativeDistance, Energy: a.state.TotalEnergy}
}

// State returns a copy of the full state, baselines included.
func (a *Accumulator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneState(a.state)
}

// AddEnergy adds wh to the total. Non-positive amounts are ignored.
func (a *Accumulator) AddEnergy(wh float64) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	if wh > 0 && !math.IsInf(wh, 1) {
		a.state.TotalEnergy += wh
	}
	return Totals{Distance: a.state.CumulativeDistance, Energy: a.state.TotalEnergy}
}

// Absorb adds the totals of a state recovered after the accumulator started
// counting. The live raw baselines are kept.
func (a *Accumulator) Absorb(restored State) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.CumulativeDistance += nonNegative(restored.CumulativeDistance)
	a.state.TotalEnergy += nonNegative(restored.TotalEnergy)
	return Totals{Distance: a.state.CumulativeDistance, Energy: a.state.TotalEnergy}
}

// Reset zeroes both totals and forgets the raw baselines, so the next sample
// is treated as the first.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
}

// apply runs strategy against s under the write lock and returns the distance
// delta together with the resulting totals.
func (a *Accumulator) apply(strategy Strategy, s telemetry.Sample) (float64, Totals) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delta := strategy.Delta(&a.state, s)
	if delta > 0 && !math.IsInf(delta, 1) {
		a.state.CumulativeDistance += delta
	} else {
		delta = 0
	}
	return delta, Totals{Distance: a.state.CumulativeDistance, Energy: a.state.TotalEnergy}
}

func cloneState(s State) State {
	out := State{CumulativeDistance: s.CumulativeDistance, TotalEnergy: s.TotalEnergy}
	if s.LastRawDistance != nil {
		v := *s.LastRawDistance
		out.LastRawDistance = &v
	}
	if s.LastRevolutions != nil {
		v := *s.LastRevolutions
		out.LastRevolutions = &v
	}
	return out
}

func nonNegative(v float64) float64 {
	if v > 0 && !math.IsInf(v, 1) {
		return v
	}
	return 0
}
