package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// Client defaults
const (
	DefaultTimeout         = 10 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// ClientConfig configures the remote embedding client.
type ClientConfig struct {
	BaseURL         string        // backend root, /embed is appended
	Timeout         time.Duration // per remote call
	CacheSize       int           // embedding cache entries, negative disables
	Retry           RetryConfig
	BreakerFailures int           // consecutive failures that open the breaker
	BreakerCooldown time.Duration // how long the breaker stays open
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// ClientStats counts how Embed calls were served.
type ClientStats struct {
	RemoteCalls uint64 `json:"remote_calls"`
	CacheHits   uint64 `json:"cache_hits"`
	Coalesced   uint64 `json:"coalesced"`
	Failures    uint64 `json:"failures"`
}

// Client embeds text through POST {BaseURL}/embed.
// Concurrent requests for the same text share one remote call.
type Client struct {
	endpoint   string
	timeout    time.Duration
	retry      RetryConfig
	httpClient *http.Client
	cache      *Cache
	group      singleflight.Group
	breaker    circuitbreaker.CircuitBreaker[*types.Embedding]
	logger     *slog.Logger
	model      atomic.Value // string, last model reported by the backend

	remoteCalls atomic.Uint64
	cacheHits   atomic.Uint64
	coalesced   atomic.Uint64
	failures    atomic.Uint64
}

// NewClient creates a remote embedding client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: embedding base URL not set", ErrNoProviderEnabled)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/embed",
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if cfg.CacheSize >= 0 {
		c.cache = NewCache(cfg.CacheSize)
	}

	failures := cfg.BreakerFailures
	c.breaker = circuitbreaker.New[*types.Embedding](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= failures
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			c.logger.Warn("embedding circuit breaker state change",
				"endpoint", c.endpoint,
				"from", from.String(),
				"to", to.String())
		},
	})

	return c, nil
}

// Embed returns the embedding of the normalised text.
//
// A caller whose context is cancelled gets types.ErrCancelled; the shared
// remote call keeps running for any other waiters and fills the cache.
func (c *Client) Embed(ctx context.Context, text string) (*types.Embedding, error) {
	text, err := prepareText(text)
	if err != nil {
		return nil, err
	}

	hash := ComputeHash(text)
	if emb, ok := c.cachedEmbedding(hash); ok {
		return emb, nil
	}

	ch := c.group.DoChan(hash, func() (interface{}, error) {
		// a flight that started after an earlier one finished can reuse its result
		if emb, ok := c.cachedEmbedding(hash); ok {
			return emb, nil
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(callCtx, text, hash)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneEmbedding(res.Val.(*types.Embedding)), nil
	}
}

func (c *Client) cachedEmbedding(hash string) (*types.Embedding, bool) {
	if c.cache == nil {
		return nil, false
	}
	emb, ok := c.cache.Get(hash)
	if ok {
		c.cacheHits.Add(1)
	}
	return emb, ok
}

// fetch performs the remote call behind the breaker and optional retry
func (c *Client) fetch(ctx context.Context, text, hash string) (*types.Embedding, error) {
	emb, err := c.breaker.Execute(ctx, func(ctx context.Context) (*types.Embedding, error) {
		return retryWithBackoff(ctx, c.retry, func() (*types.Embedding, error) {
			return c.callAPI(ctx, text)
		})
	})
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("embedding request failed", "endpoint", c.endpoint, "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
	}

	if c.cache != nil {
		c.cache.Set(hash, emb)
	}
	return emb, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model,omitempty"`
}

func (c *Client) callAPI(ctx context.Context, text string) (*types.Embedding, error) {
	c.remoteCalls.Add(1)

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var apiResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, types.ErrEmptyVector)
	}

	if apiResp.Model != "" {
		c.model.Store(apiResp.Model)
	}

	return &types.Embedding{
		Vector:     apiResp.Embedding,
		SourceText: text,
		Model:      apiResp.Model,
	}, nil
}

// Model returns the model last reported by the backend, if any.
func (c *Client) Model() string {
	m, _ := c.model.Load().(string)
	return m
}

// Stats returns a snapshot of the call counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		RemoteCalls: c.remoteCalls.Load(),
		CacheHits:   c.cacheHits.Load(),
		Coalesced:   c.coalesced.Load(),
		Failures:    c.failures.Load(),
	}
}

// ClearCache drops cached embeddings.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
