package generation

import (
	"strings"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// PromptBuilder assembles provider input from system text, context sections
// and chat messages.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Section is one titled block of context appended to the system prompt.
type Section struct {
	Title string
	Body  string
}

// normalize trims and unifies newlines so equal prompts produce equal cache keys.
func normalize(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

// Build joins system and non-empty sections into the system prompt and
// normalizes every message.
func (b *PromptBuilder) Build(system string, sections []Section, messages []ports.PromptMessage, meta map[string]string) ports.PromptInput {
	var sys strings.Builder
	sys.WriteString(normalize(system))
	for _, s := range sections {
		body := normalize(s.Body)
		if body == "" {
			continue
		}
		if sys.Len() > 0 {
			sys.WriteString("\n\n")
		}
		if s.Title != "" {
			sys.WriteString("## ")
			sys.WriteString(s.Title)
			sys.WriteString("\n")
		}
		sys.WriteString(body)
	}

	msgs := make([]ports.PromptMessage, 0, len(messages))
	for _, m := range messages {
		m.Content = normalize(m.Content)
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return ports.PromptInput{System: sys.String(), Messages: msgs, Meta: meta}
}

// User is a shorthand for a single user message prompt.
func User(content string) []ports.PromptMessage {
	return []ports.PromptMessage{{Role: "user", Content: content}}
}
