package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/pedal.report/internal/db"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
)

// Keys in the kv table.
const (
	KeyTotalEnergy = "totalEnergy"
	KeyLeaderboard = "leaderboard"
	KeyImpact      = "impact"
	KeyTrajet      = "trajet"
)

// Local stores state in the SQLite kv table, one JSON value per key.
type Local struct {
	db   *db.DB
	logf func(format string, v ...interface{})
}

// NewLocal returns a Local store on d.
func NewLocal(d *db.DB) *Local {
	return &Local{db: d, logf: monitoring.Prefixed("[store/local] ")}
}

// Load reads every key independently; a malformed value is logged and
// replaced by its default without affecting the others.
func (l *Local) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	if v, ok, err := l.db.KVGet(ctx, KeyTotalEnergy); err != nil {
		return Snapshot{}, err
	} else if ok {
		energy, perr := strconv.ParseFloat(v, 64)
		if perr != nil || math.IsNaN(energy) {
			l.logf("discarding malformed %s %q", KeyTotalEnergy, v)
		} else {
			snap.State.TotalEnergy = energy
		}
	}

	haveImpact := false
	if v, ok, err := l.db.KVGet(ctx, KeyImpact); err != nil {
		return Snapshot{}, err
	} else if ok {
		var doc impactDoc
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			l.logf("discarding malformed %s: %v", KeyImpact, err)
		} else {
			haveImpact = true
			snap.Metrics = doc.Metrics
			snap.State.CumulativeDistance = doc.Distance
		}
	}

	if v, ok, err := l.db.KVGet(ctx, KeyTrajet); err != nil {
		return Snapshot{}, err
	} else if ok {
		var doc trajetDoc
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			l.logf("discarding malformed %s: %v", KeyTrajet, err)
		} else {
			snap.Route = Route{StartLocation: doc.StartLocation, EndLocation: doc.EndLocation}
			snap.State.LastRawDistance = doc.LastRawDistance
			snap.State.LastRevolutions = doc.LastRevolutions
			if !haveImpact {
				snap.State.CumulativeDistance = doc.Distance
			}
		}
	}

	snap.Entries = []leaderboard.Entry{}
	if v, ok, err := l.db.KVGet(ctx, KeyLeaderboard); err != nil {
		return Snapshot{}, err
	} else if ok {
		entries, err := decodeEntries([]byte(v))
		if err != nil {
			l.logf("discarding malformed %s: %v", KeyLeaderboard, err)
		} else {
			snap.Entries = entries
		}
	}

	return snap, nil
}

// SaveImpact writes totalEnergy, impact and trajet in one transaction.
func (l *Local) SaveImpact(ctx context.Context, imp Impact) error {
	impact, err := json.Marshal(impactDoc{Metrics: imp.Metrics, Distance: imp.State.CumulativeDistance})
	if err != nil {
		return fmt.Errorf("encode impact: %w", err)
	}
	trajet, err := json.Marshal(newTrajetDoc(imp))
	if err != nil {
		return fmt.Errorf("encode trajet: %w", err)
	}
	return l.db.KVPutMany(ctx, map[string]string{
		KeyTotalEnergy: strconv.FormatFloat(imp.State.TotalEnergy, 'f', -1, 64),
		KeyImpact:      string(impact),
		KeyTrajet:      string(trajet),
	})
}

// AppendEntry appends e to the stored leaderboard array. A malformed stored
// array is logged and replaced.
func (l *Local) AppendEntry(ctx context.Context, e leaderboard.Entry) error {
	return l.db.KVUpdate(ctx, KeyLeaderboard, func(current string, ok bool) (string, error) {
		entries := []leaderboard.Entry{}
		if ok {
			decoded, err := decodeEntries([]byte(current))
			if err != nil {
				l.logf("replacing malformed %s: %v", KeyLeaderboard, err)
			} else {
				entries = decoded
			}
		}
		b, err := json.Marshal(append(entries, e))
		if err != nil {
			return "", fmt.Errorf("encode leaderboard: %w", err)
		}
		return string(b), nil
	})
}

// ClearImpact removes the energy, impact and trajet keys. The leaderboard is
// kept.
func (l *Local) ClearImpact(ctx context.Context) error {
	return l.db.KVDelete(ctx, KeyTotalEnergy, KeyImpact, KeyTrajet)
}

// decodeEntries parses a leaderboard array. null decodes to an empty slice.
func decodeEntries(b []byte) ([]leaderboard.Entry, error) {
	var entries []leaderboard.Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return entries, nil
}
