package ride

import "github.com/banshee-data/pedal.report/internal/accumulator"

func accumulatorState(distance, energy float64, raw *float64) accumulator.State {
	return accumulator.State{CumulativeDistance: distance, TotalEnergy: energy, LastRawDistance: raw}
}
