package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// FragmentID is the stable id of a label's vector entry. Upserting the same
// label twice overwrites one entry.
func FragmentID(label string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(label)).String()
}

// Transcript renders messages one per line as "role: content".
func Transcript(msgs []workflow.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Summary is the outcome of one summarization pass.
type Summary struct {
	Labels []string // labels written, in the order the labeler produced them
	Reused []string // subset of Labels that already existed
	Evict  int      // oldest short-memory messages safe to drop
}

// SummarizerOptions tunes label handling.
type SummarizerOptions struct {
	LabelMaxRunes  int
	LabelNearMatch float64
}

// Summarizer promotes older short-memory messages into tagged long-term
// fragments and reports how many of them may be evicted.
type Summarizer struct {
	labeler  Labeler
	ledger   TagLedger
	index    Index
	embedder Embedder
	opts     SummarizerOptions
	logger   zerolog.Logger
}

func NewSummarizer(labeler Labeler, ledger TagLedger, index Index, embedder Embedder, opts SummarizerOptions, logger zerolog.Logger) *Summarizer {
	return &Summarizer{
		labeler:  labeler,
		ledger:   ledger,
		index:    index,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With().Str("component", "summarizer").Logger(),
	}
}

// Summarize labels every message except the newest, appends the transcript to
// each label's fragment and indexes the label.
//
// Messages are only reported for eviction once at least one label was written
// to both the ledger and the index; the last summarized message is always kept
// alongside the newest one. Failures are logged and yield an empty summary: a
// turn never fails because memory could not be consolidated.
func (s *Summarizer) Summarize(ctx context.Context, conversationID string, short []workflow.Message) Summary {
	if len(short) < 2 {
		return Summary{}
	}
	summarized := short[:len(short)-1]
	logger := s.logger.With().Str("conversation_id", conversationID).Int("messages", len(summarized)).Logger()

	existing, err := s.ledger.Labels(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("could not list labels, skipping summarization")
		return Summary{}
	}

	transcript := Transcript(summarized)
	proposed, err := s.labeler.Label(ctx, transcript, existing)
	if err != nil {
		logger.Warn().Err(err).Msg("labeler failed, skipping summarization")
		return Summary{}
	}

	labels, reused := s.resolve(existing, proposed)
	if len(labels) == 0 {
		logger.Debug().Msg("no labels proposed")
		return Summary{}
	}

	vectors, err := s.embedder.Embed(ctx, labels)
	if err != nil || len(vectors) != len(labels) {
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors for %d labels", len(vectors), len(labels))
		}
		logger.Warn().Err(err).Msg("could not embed labels, skipping summarization")
		return Summary{}
	}

	var sum Summary
	for i, label := range labels {
		if err := s.ledger.Append(ctx, conversationID, label, transcript); err != nil {
			logger.Warn().Str("label", label).Err(err).Msg("could not append fragment")
			continue
		}
		frag := Fragment{ID: FragmentID(label), Label: label, Embedding: vectors[i]}
		if err := s.index.Upsert(ctx, conversationID, frag); err != nil {
			logger.Warn().Str("label", label).Err(err).Msg("could not index label")
			continue
		}
		sum.Labels = append(sum.Labels, label)
		if reused[label] {
			sum.Reused = append(sum.Reused, label)
		}
	}

	if len(sum.Labels) > 0 {
		sum.Evict = len(summarized) - 1
	}
	logger.Debug().Strs("labels", sum.Labels).Int("reused", len(sum.Reused)).Int("evict", sum.Evict).Msg("summarized")
	return sum
}

// resolve maps proposed labels onto existing ones and drops duplicates.
func (s *Summarizer) resolve(existing, proposed []string) ([]string, map[string]bool) {
	ix := NewLabelIndex(existing, s.opts.LabelMaxRunes, s.opts.LabelNearMatch)
	seen := make(map[string]bool, len(proposed))
	reused := make(map[string]bool)
	var out []string
	for _, p := range proposed {
		label, wasReused := ix.Resolve(p)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		if wasReused {
			reused[label] = true
		}
		out = append(out, label)
	}
	return out, reused
}
