package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRetrieveK = 10
	DefaultRerankN   = 3
)

// Retriever finds the long-term fragments relevant to the newest message.
type Retriever struct {
	embedder Embedder
	index    Index
	reranker Reranker
	ledger   TagLedger
	k, n     int
	logger   zerolog.Logger
}

func NewRetriever(embedder Embedder, index Index, reranker Reranker, ledger TagLedger, k, n int, logger zerolog.Logger) *Retriever {
	if k <= 0 {
		k = DefaultRetrieveK
	}
	if n <= 0 {
		n = DefaultRerankN
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		ledger:   ledger,
		k:        k,
		n:        n,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns label -> fragment text for the best matches of query. It
// never fails: any error degrades to an empty, non-nil map.
func (r *Retriever) Retrieve(ctx context.Context, conversationID, query string) map[string]string {
	out := map[string]string{}
	if query == "" {
		return out
	}
	start := time.Now()
	logger := r.logger.With().Str("conversation_id", conversationID).Logger()

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		logger.Warn().Err(err).Msg("could not embed query, continuing without long-term memory")
		return out
	}

	hits, err := r.index.Query(ctx, conversationID, vecs[0], r.k)
	if err != nil {
		logger.Warn().Err(err).Msg("index query failed, continuing without long-term memory")
		return out
	}
	if len(hits) == 0 {
		return out
	}

	best := r.reranker.Rerank(query, vecs[0], hits, r.n)
	labels := make([]string, len(best))
	for i, h := range best {
		labels[i] = h.Label
	}

	frags, err := r.ledger.Fragments(ctx, conversationID, labels)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read fragments, continuing without long-term memory")
		return out
	}
	for label, text := range frags {
		out[label] = text
	}
	logger.Debug().Int("candidates", len(hits)).Int("kept", len(out)).Dur("elapsed", time.Since(start)).Msg("retrieved")
	return out
}
