package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// ErrRateLimitExceeded is returned when no token became available before the
// context ended.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket implements a token bucket rate limiter keyed by capability.
// Release hands the token back, so capacity also bounds in-flight calls.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire waits for a token for key until ctx is done.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		wait, ok := tb.take(key)
		if ok {
			var once sync.Once
			return func() { once.Do(func() { tb.giveBack(key) }) }, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w for %s: %v", ErrRateLimitExceeded, key, ctx.Err())
		case <-timer.C:
		}
	}
}

// take consumes a token or reports how long until the next refill.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if add := int(now.Sub(b.lastRefill) / tb.refillRate); add > 0 {
		b.tokens = min(b.tokens+add, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * tb.refillRate)
	}
	if b.tokens <= 0 {
		return tb.refillRate - now.Sub(b.lastRefill), false
	}
	b.tokens--
	return 0, true
}

func (tb *TokenBucket) giveBack(key string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if b, ok := tb.buckets[key]; ok {
		b.tokens = min(b.tokens+1, tb.capacity)
	}
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
