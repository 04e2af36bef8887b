package telemetry

import (
	"sync"

	"github.com/banshee-data/pedal.report/internal/monitoring"
)

// PowerSink receives the latest instantaneous power reading.
type PowerSink interface {
	Store(watts float64)
}

// SampleSink receives every accepted sample in feed order.
type SampleSink interface {
	Apply(s Sample)
}

// Feed adapts raw feed lines into samples. It is the only writer of the
// latest-power value and the only caller of the sample sink.
type Feed struct {
	mu     sync.Mutex
	power  PowerSink
	sink   SampleSink
	window *Window
}

// NewFeed wires a feed to its sinks. window may be nil.
func NewFeed(power PowerSink, sink SampleSink, window *Window) *Feed {
	return &Feed{
		power:  power,
		sink:   sink,
		window: window,
	}
}

// HandleLine parses one raw line and forwards it. Lines that do not decode
// into a sample are dropped without touching any state; the parse error is
// returned so callers can decide whether to log it.
func (f *Feed) HandleLine(line string) error {
	s, err := ParseSample([]byte(line))
	if err != nil {
		monitoring.Inc(monitoring.SamplesDropped)
		return err
	}
	f.OnSample(s)
	return nil
}

// OnSample records the sample's power, appends it to the window and forwards
// it to the sink. Calls are serialized so that concurrent transports still
// present a single ordered stream.
func (f *Feed) OnSample(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	monitoring.Inc(monitoring.SamplesAccepted)
	if f.power != nil {
		f.power.Store(s.Power)
	}
	if f.window != nil {
		f.window.Push(s)
	}
	if f.sink != nil {
		f.sink.Apply(s)
	}
}
