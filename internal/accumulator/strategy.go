package accumulator

import (
	"fmt"

	"github.com/banshee-data/pedal.report/internal/telemetry"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyOdometer    = "odometer"
	StrategyRevolutions = "revolutions"
)

// Calibration used by the revolution strategy unless configured otherwise.
const (
	DefaultTransmissionRatio  = 3.3
	DefaultWheelCircumference = 2.1 // m
)

// Strategy turns one raw sample into a non-negative distance delta in metres,
// updating the raw baseline it owns in st. The first sample after a reset only
// records the baseline and yields 0.
type Strategy interface {
	Name() string
	Delta(st *State, s telemetry.Sample) float64
}

// OdometerStrategy diffs the sensor's own distance counter. A counter that
// goes backwards (sensor power-cycle) yields 0 and rebases on the new value.
type OdometerStrategy struct{}

func (OdometerStrategy) Name() string { return StrategyOdometer }

func (OdometerStrategy) Delta(st *State, s telemetry.Sample) float64 {
	raw := s.Distance
	prev := st.LastRawDistance
	st.LastRawDistance = &raw
	if prev == nil {
		return 0
	}
	return max(0, raw-*prev)
}

// RevolutionStrategy converts wheel revolutions into distance through the
// transmission ratio and wheel circumference.
type RevolutionStrategy struct {
	TransmissionRatio  float64
	WheelCircumference float64 // m
}

func (RevolutionStrategy) Name() string { return StrategyRevolutions }

func (r RevolutionStrategy) Delta(st *State, s telemetry.Sample) float64 {
	raw := s.Revolutions
	prev := st.LastRevolutions
	st.LastRevolutions = &raw
	if prev == nil {
		return 0
	}
	if raw <= *prev {
		return 0
	}
	// unsigned difference cannot overflow for any raw > prev
	revs := uint64(raw) - uint64(*prev)
	return float64(revs) * r.TransmissionRatio * r.WheelCircumference
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, transmissionRatio, wheelCircumference float64) (Strategy, error) {
	switch name {
	case StrategyOdometer:
		return OdometerStrategy{}, nil
	case StrategyRevolutions:
		if transmissionRatio <= 0 || wheelCircumference <= 0 {
			return nil, fmt.Errorf("revolution strategy needs positive calibration, got ratio=%v circumference=%v",
				transmissionRatio, wheelCircumference)
		}
		return RevolutionStrategy{TransmissionRatio: transmissionRatio, WheelCircumference: wheelCircumference}, nil
	default:
		return nil, fmt.Errorf("unknown distance strategy %q (want %s or %s)", name, StrategyOdometer, StrategyRevolutions)
	}
}
