package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// RistrettoCache implements ports.Cache on a cost-bounded ristretto cache. The
// cost of an entry is its size in bytes.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache bounds the cache to maxBytes of values.
func NewRistrettoCache(maxBytes int64) (*RistrettoCache, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e5,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

func (c *RistrettoCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores value. Writes are buffered by ristretto; Wait makes them visible
// to the next Get.
func (c *RistrettoCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	cost := int64(len(value))
	if cost == 0 {
		cost = 1
	}
	var ok bool
	if ttlSeconds > 0 {
		ok = c.cache.SetWithTTL(key, value, cost, time.Duration(ttlSeconds)*time.Second)
	} else {
		ok = c.cache.Set(key, value, cost)
	}
	if !ok {
		return fmt.Errorf("cache rejected key %q", key)
	}
	c.cache.Wait()
	return nil
}

func (c *RistrettoCache) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

func (c *RistrettoCache) Close() { c.cache.Close() }

var _ ports.Cache = (*RistrettoCache)(nil)
