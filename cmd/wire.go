package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/agent"
	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/config"
	"github.com/ZanzyTHEbar/companion-graph/companion/db"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation/adapters"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
	"github.com/ZanzyTHEbar/companion-graph/companion/memory"
	"github.com/ZanzyTHEbar/companion-graph/companion/scheduler"
	"github.com/ZanzyTHEbar/companion-graph/companion/server"
	"github.com/ZanzyTHEbar/companion-graph/companion/service"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

var errMissingAPIKey = errors.New("llm.api_key is not set")

// app is the fully wired server and the resources it owns.
type app struct {
	server  *server.Server
	closers []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func dbOptions(cfg config.DatabaseConfig) db.Options {
	return db.Options{
		Path:        cfg.Path,
		URL:         cfg.URL,
		AuthToken:   cfg.AuthToken,
		JournalMode: cfg.JournalMode,
		SyncMode:    cfg.SyncMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

func modelOptions(m config.ModelConfig) ports.Options {
	return ports.Options{Model: m.Model, MaxTokens: m.MaxTokens, Temperature: m.Temperature}
}

func wireApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	conn, err := db.Open(ctx, dbOptions(cfg.Database), logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn)
	st := store.New(conn)

	gateway, err := wireGateway(cfg, logger, a)
	if err != nil {
		return nil, err
	}

	embedder, embedCloser, err := memory.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("wire embedder: %w", err)
	}
	a.closers = append(a.closers, embedCloser)

	index, err := memory.NewChromemIndex(cfg.Memory.IndexPath, cfg.Memory.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("wire memory index: %w", err)
	}

	prompts := agent.DefaultPrompts()
	labeler := agent.NewLabeler(gateway, prompts, cfg.Memory.LabelMaxRunes)
	summarizer := memory.NewSummarizer(labeler, st.Tags, index, embedder, memory.SummarizerOptions{
		LabelMaxRunes:  cfg.Memory.LabelMaxRunes,
		LabelNearMatch: cfg.Memory.LabelNearMatch,
	}, logger)
	retriever := memory.NewRetriever(embedder, index, memory.HybridReranker{Alpha: cfg.Memory.RerankAlpha}, st.Tags,
		cfg.Memory.RetrieveK, cfg.Memory.RerankN, logger)

	caps := agent.Capabilities{
		Generator:      gateway,
		Summarizer:     summarizer,
		Retriever:      retriever,
		Prompts:        prompts,
		PostDrafts:     cfg.Scheduler.PostDrafts,
		PictureWorkers: cfg.Scheduler.PictureWorkers,
	}
	if cfg.Image.Enabled {
		pictures, err := adapters.NewFilePictureStore(cfg.Server.PictureDir)
		if err != nil {
			return nil, fmt.Errorf("wire picture store: %w", err)
		}
		caps.Images = adapters.NewHTTPImageSynthesizer(cfg.Image.Endpoint, cfg.Image.APIKey, cfg.Image.Model, cfg.Image.Size, cfg.Image.Timeout)
		caps.Pictures = pictures
	}

	executor, err := workflow.NewExecutor(agent.NewGraph(agent.NewSteps(caps, logger)), logger)
	if err != nil {
		return nil, fmt.Errorf("wire workflow: %w", err)
	}

	checkpoints := checkpoint.NewSQLStore(conn)
	locker := checkpoint.NewLocker()
	sched := scheduler.New(scheduler.Policy{
		PostEvery:   cfg.Scheduler.PostEvery,
		PostCeiling: cfg.Scheduler.PostCeiling,
		DiaryAt:     cfg.Scheduler.DiaryAt,
	}, executor, checkpoints, locker, st.Diaries, st.Posts, cfg.Scheduler.Timeout, logger)

	svc := service.New(service.Deps{
		Characters:  st.Characters,
		Messages:    st.Messages,
		Diaries:     st.Diaries,
		Posts:       st.Posts,
		Checkpoints: checkpoints,
		Locker:      locker,
		Runner:      executor,
		SideEffects: sched,
	}, service.Options{
		ShortWindow:    cfg.Memory.ShortWindow,
		PictureBaseURL: cfg.Server.PictureBaseURL,
		TurnTimeout:    cfg.Server.TurnTimeout,
	}, logger)

	a.server = server.New(svc, server.Options{
		PictureDir:     cfg.Server.PictureDir,
		PictureBaseURL: cfg.Server.PictureBaseURL,
		WSWriteTimeout: 10 * time.Second,
	}, logger)
	return a, nil
}

func wireGateway(cfg *config.Config, logger zerolog.Logger, a *app) (*generation.Gateway, error) {
	if cfg.LLM.APIKey == "" {
		return nil, errMissingAPIKey
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "anthropic" {
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	provider, err := adapters.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Chat.Model)
	if err != nil {
		return nil, fmt.Errorf("wire llm provider: %w", err)
	}

	gcfg := generation.GatewayConfig{
		Models: map[generation.Capability]ports.Options{
			generation.CapChat:     modelOptions(cfg.LLM.Chat),
			generation.CapExtract:  modelOptions(cfg.LLM.Extract),
			generation.CapCreative: modelOptions(cfg.LLM.Creative),
		},
		Timeout:  cfg.LLM.Timeout,
		CacheTTL: cfg.Harness.CacheTTLSeconds,
	}
	if cfg.Harness.RateLimitEnabled {
		gcfg.Limiter = adapters.NewTokenBucket(cfg.Harness.RateLimitCapacity, cfg.Harness.RateLimitRefillRate)
	}
	if cfg.Harness.EnableTracing {
		gcfg.Tracer = adapters.NewZerologTracer(logger)
	}
	if cfg.Harness.CacheEnabled {
		cache, err := adapters.NewRistrettoCache(cfg.Harness.CacheMaxBytes)
		if err != nil {
			return nil, fmt.Errorf("wire extract cache: %w", err)
		}
		a.closers = append(a.closers, closerFunc(func() error { cache.Close(); return nil }))
		gcfg.Cache = cache
	}
	return generation.NewGateway(provider, gcfg, logger), nil
}
