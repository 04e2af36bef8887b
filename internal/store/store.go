// Package store persists the accumulator state and the leaderboard. Local
// keeps them in the SQLite kv table, Remote in a document API; Writer queues
// writes so callers never block on I/O.
package store

import (
	"context"

	"github.com/banshee-data/pedal.report/internal/accumulator"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/telemetry"
)

// Backend names.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Route holds free-text labels for the ride's start and end.
type Route struct {
	StartLocation string `json:"startLocation"`
	EndLocation   string `json:"endLocation"`
}

// Impact is the periodically saved part of the ride state.
type Impact struct {
	State   accumulator.State
	Metrics telemetry.Sample
	Route   Route
}

// Snapshot is everything Load recovers.
type Snapshot struct {
	Impact
	Entries []leaderboard.Entry
}

// Store is implemented by Local and Remote.
//
// Load returns defaults for anything missing or malformed; it only fails when
// the backend itself cannot be reached. SaveImpact and AppendEntry may be
// called from one goroutine at a time.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveImpact(ctx context.Context, imp Impact) error
	AppendEntry(ctx context.Context, e leaderboard.Entry) error
	ClearImpact(ctx context.Context) error
}

// impactDoc is the serialized {metrics, distance} record.
type impactDoc struct {
	Metrics  telemetry.Sample `json:"metrics"`
	Distance float64          `json:"distance"`
}

// trajetDoc is the serialized route record with the raw baselines.
type trajetDoc struct {
	StartLocation   string   `json:"startLocation"`
	EndLocation     string   `json:"endLocation"`
	Distance        float64  `json:"distance"`
	LastRawDistance *float64 `json:"lastRawDistance"`
	LastRevolutions *int64   `json:"lastRevolutions"`
}

func newTrajetDoc(imp Impact) trajetDoc {
	return trajetDoc{
		StartLocation:   imp.Route.StartLocation,
		EndLocation:     imp.Route.EndLocation,
		Distance:        imp.State.CumulativeDistance,
		LastRawDistance: imp.State.LastRawDistance,
		LastRevolutions: imp.State.LastRevolutions,
	}
}
