package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/selectsense-mcp/internal/backend"
	"github.com/dshills/selectsense-mcp/internal/corpus"
	"github.com/dshills/selectsense-mcp/internal/embedder"
	"github.com/dshills/selectsense-mcp/internal/indexer"
	"github.com/dshills/selectsense-mcp/internal/ranking"
	"github.com/dshills/selectsense-mcp/internal/searcher"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SELECTSENSE_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	Provider        string        `yaml:"provider"` // remote or local; empty picks by base_url
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheSize       int           `yaml:"cache_size"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	Dimension       int           `yaml:"dimension"`
}

// CorpusConfig configures the corpus service client.
type CorpusConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	SnapshotMaxAge  time.Duration `yaml:"snapshot_max_age"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// SearchConfig configures the retrieval facade.
type SearchConfig struct {
	Mode             string        `yaml:"mode"`
	Threshold        float64       `yaml:"threshold"`
	MaxResults       int           `yaml:"max_results"`
	DedupeHeadings   bool          `yaml:"dedupe_headings"`
	SnippetSentences int           `yaml:"snippet_sentences"`
	ExcludeCurrent   bool          `yaml:"exclude_current_document"`
	MinLength        int           `yaml:"min_length"`
	Debounce         time.Duration `yaml:"debounce"`
	CacheMaxEntries  int           `yaml:"cache_max_entries"`
	CacheMaxAge      time.Duration `yaml:"cache_max_age"`
}

// BackendConfig configures the reference corpus backend.
type BackendConfig struct {
	Addr              string        `yaml:"addr"`
	DBPath            string        `yaml:"db_path"`
	Dimension         int           `yaml:"dimension"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	IndexWorkers      int           `yaml:"index_workers"`
	WatchDebounce     time.Duration `yaml:"watch_debounce"`
	RelatedCacheSize  int           `yaml:"related_cache_size"`
	RelatedMinScore   float64       `yaml:"related_min_score"`
	DefaultMaxResults int           `yaml:"default_max_results"`
	RateLimit         int           `yaml:"rate_limit_per_minute"` // 0 disables
	CORSOrigins       []string      `yaml:"cors_origins"`
}

// Config is the root configuration shared by both binaries.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Search    SearchConfig    `yaml:"search"`
	Backend   BackendConfig   `yaml:"backend"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			Timeout:         embedder.DefaultTimeout,
			CacheSize:       1000,
			RetryAttempts:   1,
			BreakerFailures: embedder.DefaultBreakerFailures,
			BreakerCooldown: embedder.DefaultBreakerCooldown,
			Dimension:       embedder.LocalDimension,
		},
		Corpus: CorpusConfig{
			BaseURL:         "http://localhost:8080",
			Timeout:         corpus.DefaultTimeout,
			BreakerFailures: corpus.DefaultBreakerFailures,
			BreakerCooldown: corpus.DefaultBreakerCooldown,
		},
		Search: SearchConfig{
			Mode:             string(types.ModeSemantic),
			Threshold:        ranking.DefaultThreshold,
			SnippetSentences: ranking.DefaultMaxSentence,
			MinLength:        10,
			Debounce:         500 * time.Millisecond,
			CacheMaxEntries:  1000,
		},
		Backend: BackendConfig{
			Addr:              backend.DefaultAddr,
			DBPath:            defaultDBPath(),
			Dimension:         embedder.LocalDimension,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			MaxBodyBytes:      backend.DefaultMaxBodyBytes,
			IndexWorkers:      4,
			WatchDebounce:     indexer.DefaultWatchDebounce,
			RelatedCacheSize:  backend.DefaultRelatedCacheSize,
			RelatedMinScore:   backend.DefaultRelatedMinScore,
			DefaultMaxResults: backend.DefaultMaxResults,
			CORSOrigins:       []string{"*"},
		},
	}
}

// Load reads .env, then the YAML file at path, then SELECTSENSE_* overrides,
// and validates the result. An empty path searches ./selectsense.yaml and
// ~/.config/selectsense/config.yaml; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	// .env is optional and never overrides the real environment
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := types.ParseSearchMode(c.Search.Mode); err != nil {
		return fmt.Errorf("%w: search.mode: %w", ErrInvalidConfig, err)
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("%w: search.threshold %v outside [0, 1]", ErrInvalidConfig, c.Search.Threshold)
	}
	if c.Search.MinLength < 1 {
		return fmt.Errorf("%w: search.min_length must be at least 1", ErrInvalidConfig)
	}
	if c.Search.Debounce < 0 {
		return fmt.Errorf("%w: search.debounce must not be negative", ErrInvalidConfig)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("%w: search.max_results must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "", embedder.ProviderLocal:
	case embedder.ProviderRemote:
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("%w: embedding.base_url is required for the remote provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embedding.provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Backend.RelatedMinScore < 0 || c.Backend.RelatedMinScore > 1 {
		return fmt.Errorf("%w: backend.related_min_score %v outside [0, 1]", ErrInvalidConfig, c.Backend.RelatedMinScore)
	}
	if c.Embedding.Dimension < 0 || c.Backend.Dimension < 0 {
		return fmt.Errorf("%w: dimension must not be negative", ErrInvalidConfig)
	}
	return nil
}

// applyEnv overlays SELECTSENSE_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_URL", &c.Embedding.BaseURL)
	dur("EMBEDDING_TIMEOUT", &c.Embedding.Timeout)
	str("CORPUS_URL", &c.Corpus.BaseURL)
	dur("CORPUS_TIMEOUT", &c.Corpus.Timeout)
	str("SEARCH_MODE", &c.Search.Mode)
	num("MIN_LENGTH", &c.Search.MinLength)
	num("MAX_RESULTS", &c.Search.MaxResults)
	dur("DEBOUNCE", &c.Search.Debounce)
	str("BACKEND_ADDR", &c.Backend.Addr)
	str("DB_PATH", &c.Backend.DBPath)
	num("INDEX_WORKERS", &c.Backend.IndexWorkers)
	num("RATE_LIMIT", &c.Backend.RateLimit)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.Backend.CORSOrigins = strings.Split(v, ",")
	}

	if v, ok := lookup(EnvPrefix + "THRESHOLD"); ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sTHRESHOLD: %w", ErrInvalidConfig, EnvPrefix, err))
		} else {
			c.Search.Threshold = t
		}
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, level)
	}
}

// NewLogger builds a text logger at the configured level. Binaries pass
// stderr since stdout may carry protocol traffic.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// EmbedderConfig returns the embedder settings.
func (c *Config) EmbedderConfig(logger *slog.Logger) embedder.Config {
	retry := embedder.DefaultRetryConfig()
	if c.Embedding.RetryAttempts > 0 {
		retry.MaxAttempts = c.Embedding.RetryAttempts
	}
	return embedder.Config{
		Provider:        c.Embedding.Provider,
		BaseURL:         c.Embedding.BaseURL,
		Timeout:         c.Embedding.Timeout,
		CacheSize:       c.Embedding.CacheSize,
		Retry:           retry,
		BreakerFailures: c.Embedding.BreakerFailures,
		BreakerCooldown: c.Embedding.BreakerCooldown,
		Dimension:       c.Embedding.Dimension,
		Logger:          logger,
	}
}

// CorpusConfig returns the corpus client settings.
func (c *Config) CorpusConfig(logger *slog.Logger) corpus.Config {
	return corpus.Config{
		BaseURL:         c.Corpus.BaseURL,
		Timeout:         c.Corpus.Timeout,
		SnapshotMaxAge:  c.Corpus.SnapshotMaxAge,
		BreakerFailures: c.Corpus.BreakerFailures,
		BreakerCooldown: c.Corpus.BreakerCooldown,
		Logger:          logger,
	}
}

// SearcherConfig returns the facade settings. Validate must have passed.
func (c *Config) SearcherConfig(logger *slog.Logger) searcher.Config {
	mode, _ := types.ParseSearchMode(c.Search.Mode)
	threshold := c.Search.Threshold
	return searcher.Config{
		Mode:             mode,
		Threshold:        &threshold,
		MaxResults:       c.Search.MaxResults,
		DedupeHeadings:   c.Search.DedupeHeadings,
		SnippetSentences: c.Search.SnippetSentences,
		ExcludeCurrent:   c.Search.ExcludeCurrent,
		Debounce:         c.Search.Debounce,
		NoDebounce:       c.Search.Debounce == 0,
		MinLength:        c.Search.MinLength,
		CacheMaxEntries:  c.Search.CacheMaxEntries,
		CacheMaxAge:      c.Search.CacheMaxAge,
		Logger:           logger,
	}
}

// ServerConfig returns the HTTP backend settings.
func (c *Config) ServerConfig(logger *slog.Logger) backend.Config {
	return backend.Config{
		Addr:             c.Backend.Addr,
		ReadTimeout:      c.Backend.ReadTimeout,
		WriteTimeout:     c.Backend.WriteTimeout,
		MaxBodyBytes:     c.Backend.MaxBodyBytes,
		RelatedCacheSize: c.Backend.RelatedCacheSize,
		RelatedMinScore:  c.Backend.RelatedMinScore,
		MaxResults:       c.Backend.DefaultMaxResults,
		RateLimit:        c.Backend.RateLimit,
		SnippetSentences: c.Search.SnippetSentences,
		CORSOrigins:      c.Backend.CORSOrigins,
		Logger:           logger,
	}
}

// IndexerConfig returns the ingest settings used by the backend.
func (c *Config) IndexerConfig(logger *slog.Logger) *indexer.Config {
	provider := c.Embedding.Provider
	if provider == "" {
		provider = embedder.ProviderLocal
		if c.Embedding.BaseURL != "" {
			provider = embedder.ProviderRemote
		}
	}
	return &indexer.Config{
		Workers:         c.Backend.IndexWorkers,
		Provider:        provider,
		MinContentChars: -1,
		Logger:          logger,
	}
}

func findConfigFile() string {
	candidates := []string{"selectsense.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "selectsense", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultDBPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "selectsense", "corpus.db")
	}
	return "corpus.db"
}
