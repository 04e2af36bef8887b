package ride

import (
	"context"
	"errors"

	"github.com/banshee-data/pedal.report/internal/telemetry"
)

// LineSource fans raw feed lines out to subscribers. Serial and MQTT
// transports implement it.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Consume feeds every line from src into the engine until ctx is cancelled
// or src closes the subscription. Malformed lines are logged and skipped.
func (e *Engine) Consume(ctx context.Context, src LineSource) {
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := e.feed.HandleLine(line); err != nil && !errors.Is(err, telemetry.ErrEmptySample) {
				e.logf("dropped feed line: %v", err)
			}
		}
	}
}
