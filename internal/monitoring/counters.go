package monitoring

import "expvar"

// Counter names published under the "pedal" expvar map. tsweb serves the map
// at /debug/varz alongside the Go runtime vars.
const (
	SamplesAccepted = "samples_accepted"
	SamplesDropped  = "samples_dropped"
	EnergyTicks     = "energy_ticks"
	PersistWrites   = "persist_writes"
	PersistFailures = "persist_failures"
	SessionsEnded   = "sessions_ended"
)

var counters = expvar.NewMap("pedal")

// Inc increments the named counter by one.
func Inc(name string) {
	counters.Add(name, 1)
}

// Count returns the current value of the named counter, or 0 if it has never
// been incremented.
func Count(name string) int64 {
	v, ok := counters.Get(name).(*expvar.Int)
	if !ok || v == nil {
		return 0
	}
	return v.Value()
}
