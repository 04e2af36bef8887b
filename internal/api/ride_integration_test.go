package api

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedal.report/internal/db"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/ride"
	"github.com/banshee-data/pedal.report/internal/store"
	"github.com/banshee-data/pedal.report/internal/testutil"
	"github.com/banshee-data/pedal.report/internal/units"
)

func TestServer_WithEngine(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	d, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	e, err := ride.New(context.Background(), ride.Options{Store: store.NewLocal(d)})
	require.NoError(t, err)
	s := NewServer(e, units.KMPH)

	w := serve(t, s, http.MethodPost, "/api/session/start", `{"name":"  Ada  "}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)

	require.NoError(t, e.HandlePayload([]byte(`{"power":200,"cadence":85,"distance":1000,"revolutions":0}`)))
	require.NoError(t, e.HandlePayload([]byte(`{"power":210,"cadence":86,"distance":1012,"revolutions":0}`)))

	var live liveResponse
	decode(t, serve(t, s, http.MethodGet, "/api/live", ""), &live)
	assert.Equal(t, 12.0, live.Distance)
	assert.Equal(t, "Ada", live.Session.Participant)

	w = serve(t, s, http.MethodPost, "/api/session/end", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var entry leaderboard.Entry
	decode(t, w, &entry)
	assert.Equal(t, 12.0, entry.Distance)
	assert.NotEmpty(t, entry.ID)

	var board leaderboardResponse
	decode(t, serve(t, s, http.MethodGet, "/api/leaderboard?by=energy", ""), &board)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "Ada", board.Entries[0].Name)
}
