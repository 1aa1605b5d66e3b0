// Package generation wraps completion providers with the cross-cutting
// concerns every call needs: timeouts, rate limiting, tracing, caching of
// structured extraction and schema guardrails.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// Capability names a configured model profile.
type Capability string

const (
	CapChat     Capability = "chat"
	CapExtract  Capability = "extract"
	CapCreative Capability = "creative"
)

// GatewayConfig holds the optional collaborators of a Gateway. Nil fields
// disable the concern.
type GatewayConfig struct {
	Models   map[Capability]ports.Options
	Timeout  time.Duration
	Limiter  ports.RateLimiter
	Tracer   ports.Tracer
	Cache    ports.Cache
	CacheTTL int // seconds
}

// Gateway is the single entry point steps use to reach the completion service.
type Gateway struct {
	provider  ports.Provider
	cfg       GatewayConfig
	validator *SchemaValidator
	logger    zerolog.Logger
}

func NewGateway(provider ports.Provider, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.Models == nil {
		cfg.Models = map[Capability]ports.Options{}
	}
	return &Gateway{
		provider:  provider,
		cfg:       cfg,
		validator: NewSchemaValidator(),
		logger:    logger.With().Str("component", "gateway").Logger(),
	}
}

// Complete returns free text from the capability's model. Nothing is cached.
func (g *Gateway) Complete(ctx context.Context, capability Capability, in ports.PromptInput) (string, error) {
	return g.call(ctx, capability, in, "complete")
}

// MetaNoCache in PromptInput.Meta marks an extraction whose verdict must be
// asked fresh every time.
const MetaNoCache = "no_cache"

// Extract asks for JSON, validates it against schema and decodes it into out.
// Valid results are cached by prompt, except creative calls and calls marked
// with MetaNoCache.
func (g *Gateway) Extract(ctx context.Context, capability Capability, in ports.PromptInput, schema []byte, out any) error {
	cacheable := g.cacheable(capability, in)
	key := g.cacheKey(capability, in, schema)
	if cacheable {
		if cached, ok := g.cfg.Cache.Get(ctx, key); ok {
			if err := json.Unmarshal(cached, out); err == nil {
				g.logger.Debug().Str("capability", string(capability)).Msg("extract cache hit")
				return nil
			}
		}
	}

	text, err := g.call(ctx, capability, in, "extract")
	if err != nil {
		return err
	}
	raw, err := ParseJSONOutput(text)
	if err != nil {
		return fmt.Errorf("%s extract: %w", capability, err)
	}
	if err := g.validator.Validate(raw, schema); err != nil {
		return fmt.Errorf("%s extract: %w", capability, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s extract: %w", capability, err)
	}

	if cacheable {
		if err := g.cfg.Cache.Set(ctx, key, raw, g.cfg.CacheTTL); err != nil {
			g.logger.Debug().Err(err).Msg("could not cache extraction")
		}
	}
	return nil
}

func (g *Gateway) call(ctx context.Context, capability Capability, in ports.PromptInput, op string) (text string, err error) {
	opts := g.cfg.Models[capability]

	if g.cfg.Limiter != nil {
		release, err := g.cfg.Limiter.Acquire(ctx, string(capability))
		if err != nil {
			return "", fmt.Errorf("%s %s: %w", capability, op, err)
		}
		defer release()
	}

	if g.cfg.Tracer != nil {
		var finish func(error)
		ctx, finish = g.cfg.Tracer.StartSpan(ctx, op, map[string]any{
			"capability": string(capability),
			"model":      opts.Model,
		})
		defer func() { finish(err) }()
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, in, opts)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", capability, op, err)
	}
	ev := g.logger.Debug().Str("capability", string(capability)).Str("op", op).Dur("elapsed", time.Since(start))
	if resp.Usage != nil {
		ev = ev.Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens)
	}
	ev.Msg("completion done")
	return resp.Text, nil
}

func (g *Gateway) cacheable(capability Capability, in ports.PromptInput) bool {
	if g.cfg.Cache == nil || capability == CapCreative {
		return false
	}
	return in.Meta[MetaNoCache] == ""
}

func (g *Gateway) cacheKey(capability Capability, in ports.PromptInput, schema []byte) string {
	h := sha256.New()
	opts := g.cfg.Models[capability]
	fmt.Fprintf(h, "%s\x00%s\x00%g\x00%s\x00", capability, opts.Model, opts.Temperature, in.System)
	for _, m := range in.Messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
	}
	h.Write(schema)
	return "extract:" + hex.EncodeToString(h.Sum(nil))
}
