// Package leaderboard keeps completed session results and ranks them.
package leaderboard

import (
	"slices"
	"sync"
	"time"
)

// DefaultSize is the number of entries in each ranked view.
const DefaultSize = 10

// Entry is the immutable result of one completed session.
type Entry struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Energy      float64   `json:"energy"` // Wh
	Speed       float64   `json:"speed"`  // km/h
	Distance    float64   `json:"distance,omitempty"`
	SubmittedAt time.Time `json:"timestamp,omitzero"`
}

// Store holds entries in submission order. Ranked views are computed on read.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
}

// New returns an empty store whose ranked views hold at most size entries.
// Non-positive sizes use DefaultSize.
func New(size int) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{size: size}
}

// Submit appends e.
func (s *Store) Submit(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Restore replaces the held entries, e.g. after loading from storage.
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.Clone(entries)
}

// Entries returns every entry in submission order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TopBySpeed returns entries ranked by speed, highest first.
func (s *Store) TopBySpeed() []Entry {
	return s.top(func(e Entry) float64 { return e.Speed })
}

// TopByEnergy returns entries ranked by energy, highest first.
func (s *Store) TopByEnergy() []Entry {
	return s.top(func(e Entry) float64 { return e.Energy })
}

// top sorts a copy descending on key. Ties keep submission order.
func (s *Store) top(key func(Entry) float64) []Entry {
	ranked := s.Entries()
	slices.SortStableFunc(ranked, func(a, b Entry) int {
		ka, kb := key(a), key(b)
		switch {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		default:
			return 0
		}
	})
	if len(ranked) > s.size {
		ranked = ranked[:s.size]
	}
	return ranked
}
