package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

type spanLoggerKey struct{}

// ZerologTracer implements ports.Tracer by logging span boundaries.
type ZerologTracer struct {
	logger zerolog.Logger
}

func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger.With().Str("component", "trace").Logger()}
}

func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	span := t.logger.With().Str("span", name).Fields(attrs).Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, span)

	start := time.Now()
	span.Debug().Str("event", "span_start").Msg("starting span")

	return ctx, func(err error) {
		ev := span.Debug()
		if err != nil {
			ev = span.Warn().Err(err)
		}
		ev.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("ending span")
	}
}

// Event logs under the span found in ctx, or under the root tracer logger.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if span, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = span
	}
	logger.Debug().Fields(attrs).Str("event", name).Msg("tracing event")
}

// NopTracer discards spans.
type NopTracer struct{}

func (NopTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (NopTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Tracer = (*ZerologTracer)(nil)
	_ ports.Tracer = NopTracer{}
)
