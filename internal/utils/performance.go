// Package utils holds small cross-cutting helpers.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowThreshold flags operations that should have been fast; a single
// simulation or cache round-trip is expected to finish well under this.
const slowThreshold = 10 * time.Second

// OpTimer measures one named operation and logs its duration on Done.
type OpTimer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// StartTimer begins timing a named operation.
func StartTimer(name string, log zerolog.Logger) *OpTimer {
	return &OpTimer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Done stops the timer, logs the measurement, and returns the duration.
// Extra fields go through the optional annotate callback.
func (t *OpTimer) Done(annotate ...func(e *zerolog.Event) *zerolog.Event) time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration)
	for _, fn := range annotate {
		event = fn(event)
	}
	event.Msg("Operation timed")

	if duration > slowThreshold {
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Slow operation detected")
	}

	return duration
}
