// Package memory implements the short-term bootstrap policy and the long-term
// memory subsystem: summarization into tagged fragments, similarity retrieval
// and reranking.
package memory

import "context"

// Embedder generates embeddings for text content.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Fragment is one entry of the long-term index. The vector is computed from the
// label; the text behind it lives in the TagLedger.
type Fragment struct {
	ID        string
	Label     string
	Embedding []float32
}

// Hit is a similarity search result.
type Hit struct {
	ID        string
	Label     string
	Embedding []float32
	Score     float64
}

// Index is the long-term vector store. Every call is scoped to one namespace
// (a conversation id); namespaces never see each other's fragments.
type Index interface {
	Upsert(ctx context.Context, namespace string, f Fragment) error
	Query(ctx context.Context, namespace string, embedding []float32, k int) ([]Hit, error)
}

// Reranker orders candidate hits for a query and keeps the best n.
type Reranker interface {
	Rerank(query string, queryEmbedding []float32, hits []Hit, n int) []Hit
}

// TagLedger stores the fragment text behind each label of a conversation.
type TagLedger interface {
	Labels(ctx context.Context, conversationID string) ([]string, error)
	Append(ctx context.Context, conversationID, label, text string) error
	Fragments(ctx context.Context, conversationID string, labels []string) (map[string]string, error)
}

// Labeler names the events contained in a transcript, preferring labels from
// existing when one fits.
type Labeler interface {
	Label(ctx context.Context, transcript string, existing []string) ([]string, error)
}
