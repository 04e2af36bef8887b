package store

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/pedal.report/internal/leaderboard"
	"github.com/banshee-data/pedal.report/internal/monitoring"
)

// DefaultWriteTimeout bounds each backend call made by a Writer.
const DefaultWriteTimeout = 5 * time.Second

// Writer queues persistence requests and applies them on its own goroutine.
// Impact saves coalesce so only the latest is written; leaderboard appends
// keep their order; a clear is applied before anything queued after it.
// Failures are logged and dropped: the in-memory state stays authoritative.
type Writer struct {
	store   Store
	timeout time.Duration
	logf    func(format string, v ...interface{})
	wake    chan struct{}

	// flushMu serialises flushes so backend calls never interleave.
	flushMu sync.Mutex

	mu      sync.Mutex
	clear   bool
	impact  *Impact
	entries []leaderboard.Entry
}

// NewWriter returns a writer for s. Non-positive timeouts use
// DefaultWriteTimeout.
func NewWriter(s Store, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Writer{
		store:   s,
		timeout: timeout,
		logf:    monitoring.Prefixed("[store] "),
		wake:    make(chan struct{}, 1),
	}
}

// SaveImpact queues imp, replacing any impact not yet written.
func (w *Writer) SaveImpact(imp Impact) {
	w.mu.Lock()
	w.impact = &imp
	w.mu.Unlock()
	w.signal()
}

// AppendEntry queues e behind any earlier entries.
func (w *Writer) AppendEntry(e leaderboard.Entry) {
	w.mu.Lock()
	w.entries = append(w.entries, e)
	w.mu.Unlock()
	w.signal()
}

// ClearImpact queues a clear and drops any impact queued before it.
func (w *Writer) ClearImpact() {
	w.mu.Lock()
	w.clear = true
	w.impact = nil
	w.mu.Unlock()
	w.signal()
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run applies queued writes until ctx is cancelled, then drains whatever is
// still queued. Backend calls are bounded by the write timeout only, so a
// write picked up as ctx is cancelled still lands.
func (w *Writer) Run(ctx context.Context) {
	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Flush(flushCtx)
			return
		case <-w.wake:
			w.Flush(flushCtx)
		}
	}
}

// Flush writes everything queued so far and returns when done.
func (w *Writer) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	clear, impact, entries := w.clear, w.impact, w.entries
	w.clear, w.impact, w.entries = false, nil, nil
	w.mu.Unlock()

	if clear {
		w.do(ctx, "clear impact", func(ctx context.Context) error { return w.store.ClearImpact(ctx) })
	}
	for _, e := range entries {
		w.do(ctx, "append entry "+e.ID, func(ctx context.Context) error { return w.store.AppendEntry(ctx, e) })
	}
	if impact != nil {
		w.do(ctx, "save impact", func(ctx context.Context) error { return w.store.SaveImpact(ctx, *impact) })
	}
}

func (w *Writer) do(ctx context.Context, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		monitoring.Inc(monitoring.PersistFailures)
		w.logf("%s failed: %v", what, err)
		return
	}
	monitoring.Inc(monitoring.PersistWrites)
}
