package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/companion-graph/companion"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Image     ImageConfig     `mapstructure:"image"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig stores HTTP transport settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	PictureDir     string        `mapstructure:"picture_dir"`      // where generated pictures are written
	PictureBaseURL string        `mapstructure:"picture_base_url"` // prefix for picture urls sent to clients
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"` // 0 keeps long streams open
	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`  // upper bound for one turn including side effects
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`       // embedded file; ignored when URL is set
	URL         string `mapstructure:"url"`        // remote libsql url
	AuthToken   string `mapstructure:"auth_token"` // remote libsql token
	JournalMode string `mapstructure:"journal_mode"`
	SyncMode    string `mapstructure:"sync_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout"` // milliseconds
}

// ModelConfig names one completion capability.
type ModelConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMConfig stores language model configurations. Each capability is a separate
// named model so steps can be wired to different temperatures.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"` // "anthropic"
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Chat     ModelConfig   `mapstructure:"chat"`     // reply generation
	Extract  ModelConfig   `mapstructure:"extract"`  // labels, picture intent, illustration prompts
	Creative ModelConfig   `mapstructure:"creative"` // diary and social posts
}

// ImageConfig stores the image synthesis backend.
type ImageConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Size     string        `mapstructure:"size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig stores embedding model configurations.
type EmbeddingConfig struct {
	Provider      string `mapstructure:"provider"`   // "hash", "hugot"
	ModelPath     string `mapstructure:"model_path"` // hugot model directory
	Dims          int    `mapstructure:"dims"`       // hash embedder dimensions
	CacheCapacity int    `mapstructure:"cache_capacity"`
}

// MemoryConfig stores short/long-term memory settings.
type MemoryConfig struct {
	ShortWindow    int     `mapstructure:"short_window"`     // messages loaded on bootstrap
	RetrieveK      int     `mapstructure:"retrieve_k"`       // similarity candidates
	RerankN        int     `mapstructure:"rerank_n"`         // fragments kept after rerank
	RerankAlpha    float64 `mapstructure:"rerank_alpha"`     // vector weight in the rerank score
	LabelMaxRunes  int     `mapstructure:"label_max_runes"`  // label length limit
	LabelNearMatch float64 `mapstructure:"label_near_match"` // prefix overlap ratio treated as the same label
	IndexPath      string  `mapstructure:"index_path"`       // empty keeps the vector index in memory
	Compress       bool    `mapstructure:"compress"`
}

// SchedulerConfig stores side-effect thresholds.
type SchedulerConfig struct {
	PostEvery      int           `mapstructure:"post_every"`
	PostCeiling    int           `mapstructure:"post_ceiling"`
	DiaryAt        int           `mapstructure:"diary_at"`
	PostDrafts     int           `mapstructure:"post_drafts"`
	PictureWorkers int           `mapstructure:"picture_workers"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// HarnessConfig stores cross-cutting generation settings.
type HarnessConfig struct {
	CacheEnabled        bool          `mapstructure:"cache_enabled"`
	CacheMaxBytes       int64         `mapstructure:"cache_max_bytes"`
	CacheTTLSeconds     int           `mapstructure:"cache_ttl_seconds"`
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
	EnableTracing       bool          `mapstructure:"enable_tracing"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console", "json"
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.picture_dir", internal.DefaultPictureDir)
	v.SetDefault("server.picture_base_url", "/picture")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.turn_timeout", "5m")

	v.SetDefault("database.path", internal.DefaultDatabasePath)
	v.SetDefault("database.url", "")
	v.SetDefault("database.auth_token", "")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.sync_mode", "NORMAL")
	v.SetDefault("database.busy_timeout", 5000)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.chat.model", "claude-sonnet-4-5")
	v.SetDefault("llm.chat.temperature", 0.8)
	v.SetDefault("llm.chat.max_tokens", 1024)
	v.SetDefault("llm.extract.model", "claude-haiku-4-5")
	v.SetDefault("llm.extract.temperature", 0.5)
	v.SetDefault("llm.extract.max_tokens", 512)
	v.SetDefault("llm.creative.model", "claude-sonnet-4-5")
	v.SetDefault("llm.creative.temperature", 0.7)
	v.SetDefault("llm.creative.max_tokens", 2048)

	v.SetDefault("image.enabled", false)
	v.SetDefault("image.endpoint", "https://api.openai.com/v1/images/generations")
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.model", "gpt-image-1")
	v.SetDefault("image.size", "1024x1024")
	v.SetDefault("image.timeout", "120s")

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model_path", "")
	v.SetDefault("embedding.dims", 384)
	v.SetDefault("embedding.cache_capacity", 4096)

	v.SetDefault("memory.short_window", 400)
	v.SetDefault("memory.retrieve_k", 10)
	v.SetDefault("memory.rerank_n", 3)
	v.SetDefault("memory.rerank_alpha", 0.7)
	v.SetDefault("memory.label_max_runes", 20)
	v.SetDefault("memory.label_near_match", 0.8)
	v.SetDefault("memory.index_path", filepath.Join(internal.DefaultDataDir, internal.DefaultIndexDir))
	v.SetDefault("memory.compress", false)

	v.SetDefault("scheduler.post_every", 30)
	v.SetDefault("scheduler.post_ceiling", 80)
	v.SetDefault("scheduler.diary_at", 60)
	v.SetDefault("scheduler.post_drafts", 3)
	v.SetDefault("scheduler.picture_workers", 3)
	v.SetDefault("scheduler.timeout", "5m")

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_max_bytes", 16<<20)
	v.SetDefault("harness.cache_ttl_seconds", 3600)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.GetViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.EnvPrefix)
	v.AutomaticEnv()
	// llm.chat.model becomes COMPANION_LLM_CHAT_MODEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// Watch re-reads the log level whenever the config file changes. Other settings
// are wired at startup and need a restart.
func Watch(logger zerolog.Logger) {
	v := viper.GetViper()
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log.level")
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			logger.Warn().Str("file", e.Name).Str("level", level).Err(err).Msg("ignoring invalid log level")
			return
		}
		zerolog.SetGlobalLevel(lvl)
		AppConfig.Log.Level = level
		logger.Info().Str("file", e.Name).Str("level", level).Msg("config reloaded")
	})
	v.WatchConfig()
}

// NewLogger builds the root logger from the log section.
func NewLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.With().Timestamp().Str("app", internal.DefaultAppName).Logger()
}
