package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings of recently seen texts. Labels and short
// greetings repeat often across turns.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner in a cache holding up to capacity texts. A
// capacity <= 0 disables caching and returns inner unchanged.
func NewCachedEmbedder(inner Embedder, capacity int) (Embedder, error) {
	if capacity <= 0 {
		return inner, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Embed serves cached texts and sends only the misses to the wrapped embedder,
// in one batch. Returned vectors are copies.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			if vec, ok := v.([]float32); ok {
				out[i] = slices.Clone(vec)
				continue
			}
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.Set(missTexts[j], slices.Clone(v), 1)
	}
	c.cache.Wait()
	return out, nil
}

// Close stops the cache's background goroutines.
func (c *CachedEmbedder) Close() error {
	c.cache.Close()
	return nil
}
