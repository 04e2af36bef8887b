package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pedal.report/internal/circuit"
	"github.com/banshee-data/pedal.report/internal/httputil"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/ride"
	"github.com/banshee-data/pedal.report/internal/store"
	"github.com/banshee-data/pedal.report/internal/units"
	"github.com/banshee-data/pedal.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Ride is the slice of the engine the API drives.
type Ride interface {
	Live() ride.Live
	Session() circuit.Status
	StartSession(name string) (circuit.Session, error)
	EndSession() (leaderboard.Entry, bool)
	CancelSession() bool
	TopBySpeed() []leaderboard.Entry
	TopByEnergy() []leaderboard.Entry
	Route() store.Route
	SetRoute(store.Route)
	Reset()
}

type Server struct {
	ride  Ride
	units string
}

// NewServer serves r with speeds reported in units unless a request asks
// for others.
func NewServer(r Ride, units string) *Server {
	return &Server{
		ride:  r,
		units: units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/live", s.showLive)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/end", s.endSession)
	mux.HandleFunc("/api/session/cancel", s.cancelSession)
	mux.HandleFunc("/api/leaderboard", s.showLeaderboard)
	mux.HandleFunc("/api/route", s.handleRoute)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// requestUnits returns the units query parameter, or the server default. ok
// is false after an error response has been written.
func (s *Server) requestUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, "invalid units, must be one of: "+units.GetValidUnitsString())
		return "", false
	}
	return u, true
}

type liveResponse struct {
	ride.Live
	Units string `json:"units"`
}

func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.requestUnits(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, liveView(s.ride.Live(), u))
}

func liveView(l ride.Live, u string) liveResponse {
	l.Speed = units.ConvertSpeed(l.Speed, u)
	l.Session.SpeedRecord = units.ConvertSpeed(l.Session.SpeedRecord, u)
	return liveResponse{Live: l, Units: u}
}

type sessionResponse struct {
	circuit.Status
	Units string `json:"units"`
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.requestUnits(w, r)
	if !ok {
		return
	}
	st := s.ride.Session()
	st.SpeedRecord = units.ConvertSpeed(st.SpeedRecord, u)
	httputil.WriteJSONOK(w, sessionResponse{Status: st, Units: u})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSONBody(w, r, &req); err != nil {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	_, err := s.ride.StartSession(req.Name)
	switch {
	case errors.Is(err, circuit.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
		return
	case errors.Is(err, circuit.ErrSessionActive):
		httputil.Conflict(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, s.ride.Session())
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	entry, ok := s.ride.EndSession()
	if !ok {
		httputil.Conflict(w, "no active session")
		return
	}
	httputil.WriteJSONOK(w, entry)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"cancelled": s.ride.CancelSession()})
}

type leaderboardResponse struct {
	By      string              `json:"by"`
	Units   string              `json:"units"`
	Entries []leaderboard.Entry `json:"entries"`
}

func (s *Server) showLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.requestUnits(w, r)
	if !ok {
		return
	}

	by := strings.ToLower(r.URL.Query().Get("by"))
	var entries []leaderboard.Entry
	switch by {
	case "", "speed":
		by = "speed"
		entries = s.ride.TopBySpeed()
	case "energy":
		entries = s.ride.TopByEnergy()
	default:
		httputil.BadRequest(w, "by must be speed or energy")
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	for i := range entries {
		entries[i].Speed = units.ConvertSpeed(entries[i].Speed, u)
	}
	httputil.WriteJSONOK(w, leaderboardResponse{By: by, Units: u, Entries: entries})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.ride.Route())
	case http.MethodPut:
		var route store.Route
		if err := httputil.DecodeJSONBody(w, r, &route); err != nil {
			httputil.BadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
		route.StartLocation = strings.TrimSpace(route.StartLocation)
		route.EndLocation = strings.TrimSpace(route.EndLocation)
		s.ride.SetRoute(route)
		httputil.WriteJSONOK(w, route)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.ride.Reset()
	httputil.WriteJSONOK(w, liveView(s.ride.Live(), s.units))
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Info())
}
