package checkpoint

import (
	"context"
	"sync"
)

// Locker enforces one in-flight run per thread id. Different ids never contend.
type Locker struct {
	mu   sync.Mutex
	held map[string]chan struct{} // closed when the holder releases
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]chan struct{})}
}

// TryLock claims id without waiting. ok is false when another run holds it.
// The returned unlock is idempotent.
func (l *Locker) TryLock(id string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return nil, false
	}
	return l.claim(id), true
}

// Lock claims id, waiting for the current holder to release it or for ctx to end.
func (l *Locker) Lock(ctx context.Context, id string) (unlock func(), err error) {
	for {
		l.mu.Lock()
		released, busy := l.held[id]
		if !busy {
			unlock = l.claim(id)
			l.mu.Unlock()
			return unlock, nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// claim must be called with l.mu held.
func (l *Locker) claim(id string) func() {
	released := make(chan struct{})
	l.held[id] = released

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
			close(released)
		})
	}
}

// Held reports whether id is currently locked.
func (l *Locker) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}
