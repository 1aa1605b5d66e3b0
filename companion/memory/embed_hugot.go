package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// HugotEmbedder runs a sentence-transformer feature extraction pipeline on the
// pure Go hugot backend.
type HugotEmbedder struct {
	mu       sync.Mutex // pipelines are not safe for concurrent use
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	dims     int
}

// NewHugotEmbedder loads the ONNX model found in modelPath.
func NewHugotEmbedder(modelPath string) (*HugotEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("hugot embedder needs a model path")
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	cfg := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "companion-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, cfg)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	e := &HugotEmbedder{session: session, pipeline: pipeline}
	probe, err := e.Embed(context.Background(), []string{"probe"})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("probe embedding: %w", err)
	}
	e.dims = len(probe[0])
	return e, nil
}

func (e *HugotEmbedder) Dimension() int { return e.dims }

func (e *HugotEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding pipeline returned %d vectors for %d texts", len(res.Embeddings), len(texts))
	}
	return res.Embeddings, nil
}

func (e *HugotEmbedder) Close() error {
	return e.session.Destroy()
}

var _ Embedder = (*HugotEmbedder)(nil)
