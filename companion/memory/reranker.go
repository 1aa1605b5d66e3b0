package memory

import (
	"sort"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// DefaultRerankAlpha weights vector similarity against lexical overlap.
const DefaultRerankAlpha = 0.7

// HybridReranker fuses cosine similarity of the embeddings with token overlap
// between the query and the label: alpha*vector + (1-alpha)*lexical.
type HybridReranker struct {
	Alpha float64
}

func (r HybridReranker) Rerank(query string, queryEmbedding []float32, hits []Hit, n int) []Hit {
	alpha := r.Alpha
	if alpha < 0 || alpha > 1 {
		alpha = DefaultRerankAlpha
	}
	q := toFloat64(queryEmbedding)
	qTokens := tokenSet(query)

	out := make([]Hit, len(hits))
	for i, h := range hits {
		vec := h.Score
		if len(h.Embedding) == len(q) && len(q) > 0 {
			vec = Cosine(q, toFloat64(h.Embedding))
		}
		h.Score = alpha*vec + (1-alpha)*overlap(qTokens, tokenSet(h.Label))
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Cosine similarity of two equally sized vectors; 0 when either is zero.
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}

// overlap is the share of label tokens present in the query.
func overlap(query, label map[string]struct{}) float64 {
	if len(label) == 0 {
		return 0
	}
	hit := 0
	for t := range label {
		if _, ok := query[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(label))
}

var _ Reranker = HybridReranker{}
