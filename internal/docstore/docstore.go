// Package docstore serves a minimal document API over the SQLite documents
// table: one "current impact" resource and an append-only leaderboard
// collection. A pedal instance can point its remote store at another
// instance's /docs/ mount.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/banshee-data/pedal.report/internal/db"
	"github.com/banshee-data/pedal.report/internal/httputil"
	"github.com/banshee-data/pedal.report/internal/monitoring"
)

// Collections and the fixed impact document id.
const (
	CollectionImpact      = "impact"
	CollectionLeaderboard = "leaderboard"
	ImpactID              = "currentImpact"
)

type Handler struct {
	db   *db.DB
	mux  *http.ServeMux
	logf func(format string, v ...interface{})
}

// NewHandler returns the document API rooted at "/". Mount it with
// http.StripPrefix to serve it under a sub-path.
func NewHandler(d *db.DB) *Handler {
	h := &Handler{db: d, mux: http.NewServeMux(), logf: monitoring.Prefixed("[docstore] ")}
	h.mux.HandleFunc("/impact", h.handleImpact)
	h.mux.HandleFunc("/leaderboard", h.handleLeaderboard)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := h.db.GetDocument(r.Context(), CollectionImpact, ImpactID)
		if errors.Is(err, db.ErrNoDocument) {
			httputil.NotFound(w, "no impact document")
			return
		}
		if err != nil {
			h.logf("get impact: %v", err)
			httputil.InternalServerError(w, "failed to read impact")
			return
		}
		writeRaw(w, http.StatusOK, doc.Body)

	case http.MethodPut:
		body, ok := readObject(w, r)
		if !ok {
			return
		}
		if err := h.db.PutDocument(r.Context(), CollectionImpact, ImpactID, body); err != nil {
			h.logf("put impact: %v", err)
			httputil.InternalServerError(w, "failed to store impact")
			return
		}
		writeRaw(w, http.StatusOK, body)

	case http.MethodDelete:
		existed, err := h.db.DeleteDocument(r.Context(), CollectionImpact, ImpactID)
		if err != nil {
			h.logf("delete impact: %v", err)
			httputil.InternalServerError(w, "failed to delete impact")
			return
		}
		if !existed {
			httputil.NotFound(w, "no impact document")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs, err := h.db.ListDocuments(r.Context(), CollectionLeaderboard)
		if err != nil {
			h.logf("list leaderboard: %v", err)
			httputil.InternalServerError(w, "failed to read leaderboard")
			return
		}
		out := make([]json.RawMessage, len(docs))
		for i, d := range docs {
			out[i] = d.Body
		}
		httputil.WriteJSONOK(w, out)

	case http.MethodPost:
		body, ok := readObject(w, r)
		if !ok {
			return
		}
		id, body, err := ensureID(body)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		// an existing id is replaced in place, so client retries are idempotent
		if err := h.db.PutDocument(r.Context(), CollectionLeaderboard, id, body); err != nil {
			h.logf("post leaderboard: %v", err)
			httputil.InternalServerError(w, "failed to store entry")
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})

	default:
		httputil.MethodNotAllowed(w)
	}
}

// readObject reads a JSON object body, answering 400 on anything else.
func readObject(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) || len(body) == 0 || body[0] != '{' {
		httputil.BadRequest(w, "body must be a JSON object")
		return nil, false
	}
	return body, true
}

// ensureID returns the entry's string id, generating and injecting one when
// it is absent or empty.
func ensureID(body []byte) (string, []byte, error) {
	var probe struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", nil, errors.New("id must be a string")
	}
	if probe.ID != nil && *probe.ID != "" {
		return *probe.ID, body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	fields["id"], _ = json.Marshal(id)
	out, err := json.Marshal(fields)
	if err != nil {
		return "", nil, err
	}
	return id, out, nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
