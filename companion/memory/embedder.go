package memory

import (
	"fmt"
	"io"

	"github.com/ZanzyTHEbar/companion-graph/companion/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewEmbedder builds the configured embedder wrapped in the embedding cache. The
// returned closer releases model resources.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, io.Closer, error) {
	var (
		base   Embedder
		closer io.Closer = nopCloser{}
	)
	switch cfg.Provider {
	case "", "hash":
		base = NewHashEmbedder(cfg.Dims)
	case "hugot":
		h, err := NewHugotEmbedder(cfg.ModelPath)
		if err != nil {
			return nil, nil, err
		}
		base, closer = h, h
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	cached, err := NewCachedEmbedder(base, cfg.CacheCapacity)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	if c, ok := cached.(*CachedEmbedder); ok {
		closer = closers{c, closer}
	}
	return cached, closer, nil
}

// closers closes every member in order and returns the first error.
type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
