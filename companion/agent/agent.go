// Package agent defines the conversation workflow: its steps and the graph
// that wires them.
package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
	"github.com/ZanzyTHEbar/companion-graph/companion/memory"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// Generator is the completion capability steps call. *generation.Gateway implements it.
type Generator interface {
	Complete(ctx context.Context, capability generation.Capability, in ports.PromptInput) (string, error)
	Extract(ctx context.Context, capability generation.Capability, in ports.PromptInput, schema []byte, out any) error
}

// MemorySummarizer consolidates short memory. *memory.Summarizer implements it.
type MemorySummarizer interface {
	Summarize(ctx context.Context, conversationID string, short []workflow.Message) memory.Summary
}

// MemoryRetriever recalls long-term fragments. *memory.Retriever implements it.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, conversationID, query string) map[string]string
}

// Capabilities are the collaborators injected into the steps. Images and
// Pictures may be nil, which disables picture generation.
type Capabilities struct {
	Generator  Generator
	Summarizer MemorySummarizer
	Retriever  MemoryRetriever
	Images     ports.ImageSynthesizer
	Pictures   ports.PictureStore
	Prompts    Prompts

	PostDrafts     int // posts kept per social-post run
	PictureWorkers int // concurrent illustrations per social-post run
}

// Labeler asks the extract model for event tags. It implements memory.Labeler.
type Labeler struct {
	gen      Generator
	tmpl     Prompts
	maxRunes int
}

func NewLabeler(gen Generator, prompts Prompts, maxRunes int) *Labeler {
	return &Labeler{gen: gen, tmpl: prompts, maxRunes: maxRunes}
}

func (l *Labeler) Label(ctx context.Context, transcript string, existing []string) ([]string, error) {
	text, err := render(l.tmpl.Tags, map[string]any{
		"MaxRunes":   l.maxRunes,
		"Existing":   strings.Join(existing, "\n"),
		"Transcript": transcript,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tags []string `json:"tags"`
	}
	in := ports.PromptInput{Messages: generation.User(text), Meta: map[string]string{"task": "tags"}}
	if err := l.gen.Extract(ctx, generation.CapExtract, in, TagsSchema, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

var _ memory.Labeler = (*Labeler)(nil)

// Steps holds the step functions of the graph.
type Steps struct {
	caps    Capabilities
	builder *generation.PromptBuilder
	logger  zerolog.Logger
}

func NewSteps(caps Capabilities, logger zerolog.Logger) *Steps {
	if caps.PostDrafts <= 0 {
		caps.PostDrafts = 3
	}
	if caps.PictureWorkers <= 0 {
		caps.PictureWorkers = 1
	}
	if caps.Prompts.TalkSystem == nil {
		caps.Prompts = DefaultPrompts()
	}
	return &Steps{
		caps:    caps,
		builder: generation.NewPromptBuilder(),
		logger:  logger.With().Str("component", "agent").Logger(),
	}
}
