package memory

import (
	"context"
	"hash/fnv"

	"gonum.org/v1/gonum/floats"
)

// DefaultHashDims matches the width of small sentence-transformer models.
const DefaultHashDims = 384

// HashEmbedder is a deterministic feature-hashing embedder: every token is
// hashed to a signed bucket. Texts sharing words land close together, which is
// enough for label matching without a model on disk.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimension() int { return e.dims }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float64, e.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(e.dims)] += sign
	}
	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	} else {
		// chromem needs a non-zero vector; blank text maps to a fixed axis
		vec[0] = 1
	}
	res := make([]float32, e.dims)
	for i, v := range vec {
		res[i] = float32(v)
	}
	return res
}

var _ Embedder = (*HashEmbedder)(nil)
