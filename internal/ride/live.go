package ride

import (
	"github.com/banshee-data/pedal.report/internal/circuit"
	"github.com/banshee-data/pedal.report/internal/telemetry"
)

// Live is a point-in-time view of the ride.
type Live struct {
	Metrics     telemetry.Sample  `json:"metrics"`
	Power       float64           `json:"power"` // W, as integrated
	Speed       float64           `json:"speed"` // km/h
	Distance    float64           `json:"distance"`
	Energy      float64           `json:"energy"`
	SpeedMethod string            `json:"speed_method"`
	Strategy    string            `json:"distance_strategy"`
	Window      telemetry.Summary `json:"window"`
	Session     circuit.Status    `json:"session"`
}

// Live snapshots the current state.
func (e *Engine) Live() Live {
	t := e.acc.Totals()
	e.mu.Lock()
	latest := e.latest
	e.mu.Unlock()
	return Live{
		Metrics:     latest,
		Power:       e.power.Load(),
		Speed:       e.speed.Load(),
		Distance:    t.Distance,
		Energy:      t.Energy,
		SpeedMethod: e.recon.SpeedMethod(),
		Strategy:    e.recon.Strategy().Name(),
		Window:      e.window.Summary(),
		Session:     e.circuit.Status(),
	}
}
