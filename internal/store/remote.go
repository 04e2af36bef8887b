package store

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/pedal.report/internal/accumulator"
	"github.com/banshee-data/pedal.report/internal/httputil"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/telemetry"
	"github.com/banshee-data/pedal.report/internal/timeutil"
)

// ImpactID is the id of the single impact document.
const ImpactID = "currentImpact"

// ImpactDocument is the wire form of the impact resource.
type ImpactDocument struct {
	ID              string           `json:"id"`
	Timestamp       float64          `json:"timestamp"` // unix seconds
	Metrics         telemetry.Sample `json:"metrics"`
	Distance        float64          `json:"distance"`
	TotalEnergy     float64          `json:"totalEnergy"`
	LastRawDistance *float64         `json:"lastRawDistance"`
	LastRevolutions *int64           `json:"lastRevolutions"`
	StartLocation   string           `json:"startLocation"`
	EndLocation     string           `json:"endLocation"`
}

// Remote stores state through the document API: GET/PUT/DELETE on
// {base}/impact and GET/POST on {base}/leaderboard.
type Remote struct {
	base   string
	client httputil.HTTPClient
	clock  timeutil.Clock
	logf   func(format string, v ...interface{})
}

// NewRemote returns a Remote store rooted at baseURL.
func NewRemote(baseURL string, client httputil.HTTPClient, clock timeutil.Clock) *Remote {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Remote{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		clock:  clock,
		logf:   monitoring.Prefixed("[store/remote] "),
	}
}

func (r *Remote) impactURL() string      { return r.base + "/impact" }
func (r *Remote) leaderboardURL() string { return r.base + "/leaderboard" }

// Load fetches the impact document and the leaderboard. A missing (404) or
// malformed resource yields its default.
func (r *Remote) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	var doc ImpactDocument
	err := httputil.DoJSON(ctx, r.client, http.MethodGet, r.impactURL(), nil, &doc)
	switch {
	case err == nil:
		snap.Impact = doc.impact()
	case isNotFound(err):
	case errors.Is(err, httputil.ErrDecodeResponse):
		r.logf("discarding malformed impact document: %v", err)
	default:
		return Snapshot{}, err
	}

	snap.Entries = []leaderboard.Entry{}
	var entries []leaderboard.Entry
	err = httputil.DoJSON(ctx, r.client, http.MethodGet, r.leaderboardURL(), nil, &entries)
	switch {
	case err == nil:
		if entries != nil {
			snap.Entries = entries
		}
	case isNotFound(err):
	case errors.Is(err, httputil.ErrDecodeResponse):
		r.logf("discarding malformed leaderboard: %v", err)
	default:
		return Snapshot{}, err
	}

	return snap, nil
}

// SaveImpact replaces the impact document.
func (r *Remote) SaveImpact(ctx context.Context, imp Impact) error {
	now := r.clock.Now()
	doc := ImpactDocument{
		ID:              ImpactID,
		Timestamp:       float64(now.UnixMilli()) / 1000,
		Metrics:         imp.Metrics,
		Distance:        imp.State.CumulativeDistance,
		TotalEnergy:     imp.State.TotalEnergy,
		LastRawDistance: imp.State.LastRawDistance,
		LastRevolutions: imp.State.LastRevolutions,
		StartLocation:   imp.Route.StartLocation,
		EndLocation:     imp.Route.EndLocation,
	}
	return httputil.DoJSON(ctx, r.client, http.MethodPut, r.impactURL(), doc, nil)
}

// AppendEntry posts e to the leaderboard collection.
func (r *Remote) AppendEntry(ctx context.Context, e leaderboard.Entry) error {
	return httputil.DoJSON(ctx, r.client, http.MethodPost, r.leaderboardURL(), e, nil)
}

// ClearImpact deletes the impact document. A document that is already gone
// is not an error.
func (r *Remote) ClearImpact(ctx context.Context) error {
	err := httputil.DoJSON(ctx, r.client, http.MethodDelete, r.impactURL(), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (d ImpactDocument) impact() Impact {
	return Impact{
		State: accumulator.State{
			CumulativeDistance: d.Distance,
			TotalEnergy:        d.TotalEnergy,
			LastRawDistance:    d.LastRawDistance,
			LastRevolutions:    d.LastRevolutions,
		},
		Metrics: d.Metrics,
		Route:   Route{StartLocation: d.StartLocation, EndLocation: d.EndLocation},
	}
}

func isNotFound(err error) bool {
	var se *httputil.StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
