package stream

import (
	"sync"

	"github.com/rs/zerolog"
)

// Emitter forwards events to a Writer in order. After the first failed write
// the client is considered gone: later events are dropped and counted, so the
// run that produces them can finish undisturbed.
type Emitter struct {
	mu      sync.Mutex
	w       Writer
	failed  bool
	sent    int
	dropped int
	logger  zerolog.Logger
}

func NewEmitter(w Writer, logger zerolog.Logger) *Emitter {
	return &Emitter{w: w, logger: logger.With().Str("component", "stream").Logger()}
}

// Emit writes ev and reports whether it reached the client.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		e.dropped++
		return false
	}
	if err := e.w.WriteEvent(ev); err != nil {
		e.failed = true
		e.dropped++
		e.logger.Debug().Err(err).Str("event", string(ev.Type)).Msg("client gone, dropping further events")
		return false
	}
	e.sent++
	return true
}

// Disconnected reports whether a write has failed.
func (e *Emitter) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Stats returns how many events were delivered and dropped.
func (e *Emitter) Stats() (sent, dropped int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent, e.dropped
}
