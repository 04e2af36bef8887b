// Package telemetry decodes raw sensor samples from the bike feed and keeps a
// short rolling window of them.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EventMetricsUpdate is the only feed event that carries a sample.
const EventMetricsUpdate = "metrics_update"

var (
	// ErrEmptySample is returned for empty or null payloads.
	ErrEmptySample = errors.New("empty sample")
	// ErrUnknownEvent is returned for envelopes naming an event other than
	// metrics_update.
	ErrUnknownEvent = errors.New("unknown event")
)

// Sample is one raw reading from the bike sensor. Absent fields decode as 0.
type Sample struct {
	Power       float64 `json:"power"`       // W
	Cadence     float64 `json:"cadence"`     // RPM
	Revolutions int64   `json:"revolutions"` // wheel count, sensor-local
	Distance    float64 `json:"distance"`    // m, sensor-local odometer
}

// wireSample tolerates revolutions sent as a JSON float.
type wireSample struct {
	Power       float64 `json:"power"`
	Cadence     float64 `json:"cadence"`
	Revolutions float64 `json:"revolutions"`
	Distance    float64 `json:"distance"`
}

type envelope struct {
	Event *string         `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseSample decodes one feed line. The line is either a bare payload
// {"power":…,"cadence":…,"distance":…,"revolutions":…} or an envelope
// {"event":"metrics_update","data":{…}}.
func ParseSample(payload []byte) (Sample, error) {
	payload = bytes.TrimSpace(payload)
	if isNull(payload) {
		return Sample{}, ErrEmptySample
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	if env.Event != nil {
		if *env.Event != EventMetricsUpdate {
			return Sample{}, fmt.Errorf("%w: %q", ErrUnknownEvent, *env.Event)
		}
		payload = bytes.TrimSpace(env.Data)
		if isNull(payload) {
			return Sample{}, ErrEmptySample
		}
	}

	var w wireSample
	if err := json.Unmarshal(payload, &w); err != nil {
		return Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	return Sample{
		Power:       w.Power,
		Cadence:     w.Cadence,
		Revolutions: revolutionCount(w.Revolutions),
		Distance:    w.Distance,
	}, nil
}

// revolutionCount rounds v to a whole count, saturating at the int64 range.
func revolutionCount(v float64) int64 {
	r := math.Round(v)
	switch {
	case r >= math.MaxInt64:
		return math.MaxInt64
	case r <= math.MinInt64:
		return math.MinInt64
	}
	return int64(r)
}

func isNull(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
