// Package circuit implements the single-participant session ("circuit") state
// machine layered over the global accumulator.
package circuit

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pedal.report/internal/accumulator"
	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/timeutil"
)

var (
	// ErrInvalidInput is returned when a session is started without a name.
	ErrInvalidInput = errors.New("participant name is required")
	// ErrSessionActive is returned when a session is started while another
	// one is active. The active session is left untouched.
	ErrSessionActive = errors.New("a session is already active")
)

// Session states.
const (
	StateIdle   = "idle"
	StateActive = "active"
)

// TotalsSource provides consistent snapshots of the global counters.
type TotalsSource interface {
	Totals() accumulator.Totals
}

// Submitter receives finished session results.
type Submitter interface {
	Submit(leaderboard.Entry)
}

// Session is the baseline captured at start plus the running speed record.
type Session struct {
	Participant   string
	StartEnergy   float64
	StartDistance float64
	SpeedRecord   float64
	StartedAt     time.Time
}

// Status is the externally visible state of the machine.
type Status struct {
	State       string    `json:"state"`
	Participant string    `json:"participant,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Elapsed     float64   `json:"elapsed_s"`
	Energy      float64   `json:"energy"`   // Wh since start
	Distance    float64   `json:"distance"` // m since start
	SpeedRecord float64   `json:"speed_record"`
}

// Options configures a Machine.
type Options struct {
	Clock timeutil.Clock
	// Warmup ignores speed samples for this long after a session starts.
	Warmup time.Duration
	// OnEnd is called with every submitted entry, outside the machine lock.
	OnEnd func(leaderboard.Entry)
}

// Machine tracks at most one active session. It is the only writer of the
// session; all methods are safe for concurrent use.
type Machine struct {
	totals TotalsSource
	board  Submitter
	opts   Options

	mu      sync.Mutex
	session *Session
}

// New returns an idle machine reading totals and submitting to board.
func New(totals TotalsSource, board Submitter, opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Machine{totals: totals, board: board, opts: opts}
}

// Start begins a session for name, snapshotting the current totals.
func (m *Machine) Start(name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return Session{}, ErrSessionActive
	}
	t := m.totals.Totals()
	m.session = &Session{
		Participant:   name,
		StartEnergy:   t.Energy,
		StartDistance: t.Distance,
		StartedAt:     m.opts.Clock.Now(),
	}
	return *m.session, nil
}

// ObserveSpeed folds a speed sample in km/h into the running record. It is a
// no-op while idle or during the warm-up period.
func (m *Machine) ObserveSpeed(kmh float64) {
	if math.IsNaN(kmh) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	if m.opts.Warmup > 0 && m.opts.Clock.Since(m.session.StartedAt) < m.opts.Warmup {
		return
	}
	m.session.SpeedRecord = max(m.session.SpeedRecord, kmh)
}

// End finishes the active session and submits its entry. It reports false
// and does nothing when idle.
func (m *Machine) End() (leaderboard.Entry, bool) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return leaderboard.Entry{}, false
	}
	s := *m.session
	t := m.totals.Totals()
	entry := leaderboard.Entry{
		ID:          uuid.NewString(),
		Name:        s.Participant,
		Energy:      max(0, t.Energy-s.StartEnergy),
		Speed:       s.SpeedRecord,
		Distance:    max(0, t.Distance-s.StartDistance),
		SubmittedAt: m.opts.Clock.Now().UTC(),
	}
	if m.board != nil {
		m.board.Submit(entry)
	}
	m.session = nil
	m.mu.Unlock()

	monitoring.Inc(monitoring.SessionsEnded)
	if m.opts.OnEnd != nil {
		m.opts.OnEnd(entry)
	}
	return entry, true
}

// Cancel discards the active session without submitting it. It reports
// whether a session was active.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.session != nil
	m.session = nil
	return active
}

// Active reports whether a session is in progress.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Status returns the current state with session-relative counters.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Status{State: StateIdle}
	}
	t := m.totals.Totals()
	return Status{
		State:       StateActive,
		Participant: m.session.Participant,
		StartedAt:   m.session.StartedAt,
		Elapsed:     m.opts.Clock.Since(m.session.StartedAt).Seconds(),
		Energy:      max(0, t.Energy-m.session.StartEnergy),
		Distance:    max(0, t.Distance-m.session.StartDistance),
		SpeedRecord: m.session.SpeedRecord,
	}
}
