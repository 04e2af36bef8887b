package telemetry

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindowSize matches the 30-point history of the live dashboard.
const DefaultWindowSize = 30

// Summary describes the samples currently held in a Window.
type Summary struct {
	Count       int     `json:"count"`
	MeanPower   float64 `json:"mean_power"`
	MaxPower    float64 `json:"max_power"`
	MeanCadence float64 `json:"mean_cadence"`
}

// Window is a fixed-size ring of the most recent samples.
type Window struct {
	mu    sync.RWMutex
	buf   []Sample
	next  int
	count int
}

// NewWindow returns a window holding up to size samples. Non-positive sizes
// fall back to DefaultWindowSize.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{buf: make([]Sample, size)}
}

// Push records s, evicting the oldest sample once the window is full.
func (w *Window) Push(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = s
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Samples returns the held samples oldest first.
func (w *Window) Samples() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.samplesLocked()
}

func (w *Window) samplesLocked() []Sample {
	out := make([]Sample, 0, w.count)
	start := (w.next - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Latest returns the most recent sample and whether one exists.
func (w *Window) Latest() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.count == 0 {
		return Sample{}, false
	}
	return w.buf[(w.next-1+len(w.buf))%len(w.buf)], true
}

// Summary computes power and cadence statistics over the window.
func (w *Window) Summary() Summary {
	w.mu.RLock()
	samples := w.samplesLocked()
	w.mu.RUnlock()

	if len(samples) == 0 {
		return Summary{}
	}
	power := make([]float64, len(samples))
	cadence := make([]float64, len(samples))
	for i, s := range samples {
		power[i] = s.Power
		cadence[i] = s.Cadence
	}
	return Summary{
		Count:       len(samples),
		MeanPower:   stat.Mean(power, nil),
		MaxPower:    floats.Max(power),
		MeanCadence: stat.Mean(cadence, nil),
	}
}

// Reset drops all held samples.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.count = 0
}
