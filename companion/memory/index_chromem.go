package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
)

// ChromemIndex keeps one chromem collection per namespace.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewChromemIndex opens a persistent index under path, or an in-memory one when
// path is empty.
func NewChromemIndex(path string, compress bool, logger zerolog.Logger) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else if db, err = chromem.NewPersistentDB(path, compress); err != nil {
		return nil, fmt.Errorf("open vector index at %s: %w", path, err)
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With().Str("component", "chromem").Logger(),
	}, nil
}

// CollectionName is the chromem collection backing a namespace.
func CollectionName(namespace string) string { return "memory_" + namespace + "_collection" }

func (ix *ChromemIndex) collection(namespace string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[namespace]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[namespace]; ok {
		return col, nil
	}
	// embeddings are always supplied, so no embedding func is configured
	col, err := ix.db.GetOrCreateCollection(CollectionName(namespace), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection for %s: %w", namespace, err)
	}
	ix.collections[namespace] = col
	return col, nil
}

func (ix *ChromemIndex) Upsert(ctx context.Context, namespace string, f Fragment) error {
	if len(f.Embedding) == 0 {
		return fmt.Errorf("fragment %q has no embedding", f.Label)
	}
	col, err := ix.collection(namespace)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        f.ID,
		Content:   f.Label,
		Embedding: f.Embedding,
		Metadata:  map[string]string{"label": f.Label},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (ix *ChromemIndex) Query(ctx context.Context, namespace string, embedding []float32, k int) ([]Hit, error) {
	col, err := ix.collection(namespace)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults larger than the collection
	n := min(k, col.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		label := r.Metadata["label"]
		if label == "" {
			label = r.Content
		}
		hits[i] = Hit{ID: r.ID, Label: label, Embedding: r.Embedding, Score: float64(r.Similarity)}
	}
	ix.logger.Debug().Str("namespace", namespace).Int("hits", len(hits)).Msg("queried")
	return hits, nil
}

var _ Index = (*ChromemIndex)(nil)
