package ports

import "context"

// RateLimiter coordinates throughput per capability.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
