// Package ports declares the capability interfaces the generation layer and
// the workflow steps depend on. Adapters implement them.
package ports

import "context"

// PromptMessage is one turn of the prompt conversation.
type PromptMessage struct {
	Role    string // "user" | "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string
	Messages []PromptMessage
	Meta     map[string]string // lightweight metadata for tracing and cache keys
}

// Options controls sampling and limits of one call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Usage captures token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Usage *Usage
}

// Provider is the abstraction over completion backends.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
