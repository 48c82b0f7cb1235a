package embedder

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider        string // remote or local
	BaseURL         string
	Timeout         time.Duration
	CacheSize       int
	Retry           RetryConfig
	BreakerFailures int
	BreakerCooldown time.Duration
	Dimension       int // local provider only
	Logger          *slog.Logger
}

// New creates an embedder with explicit configuration.
// An empty provider selects remote when a base URL is set and local otherwise.
func New(cfg Config) (Embedder, error) {
	provider := DetectProvider(cfg)

	switch provider {
	case ProviderRemote:
		return NewClient(ClientConfig{
			BaseURL:         cfg.BaseURL,
			Timeout:         cfg.Timeout,
			CacheSize:       cfg.CacheSize,
			Retry:           cfg.Retry,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
			Logger:          cfg.Logger,
		})
	case ProviderLocal:
		var cache *Cache
		if cfg.CacheSize >= 0 {
			cache = NewCache(cfg.CacheSize)
		}
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would use for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.BaseURL != "" {
		return ProviderRemote
	}
	return ProviderLocal
}
