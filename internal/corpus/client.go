package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// VersionHeader carries the backend's corpus version on every response.
const VersionHeader = "X-Corpus-Version"

// Client defaults
const (
	DefaultTimeout         = 15 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
	maxResponseBytes       = 64 << 20
)

// ErrMalformedResponse marks a 2xx response that could not be decoded.
var ErrMalformedResponse = errors.New("malformed corpus response")

// Config configures the corpus client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	SnapshotMaxAge  time.Duration // 0 keeps the snapshot until Invalidate
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
	Now             func() time.Time
}

// RelatedRequest asks the backend for sections related to a selection.
type RelatedRequest struct {
	DocumentID   string   `json:"document_id"`
	SelectedText string   `json:"selected_text"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
	MaxResults   int      `json:"max_results,omitempty"`
}

// RelatedResponse is the backend's answer to a RelatedRequest.
type RelatedResponse struct {
	Results   []types.SearchResult
	FromCache bool
}

// Snapshot is an immutable view of the corpus at one version.
type Snapshot struct {
	Entries   []types.CorpusEntry
	Version   uint64
	FetchedAt time.Time
}

// Client reads the remote corpus. The semantic snapshot is cached until it
// is invalidated, expires, or the backend reports a new corpus version.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxAge     time.Duration
	now        func() time.Time
	logger     *slog.Logger
	breaker    circuitbreaker.CircuitBreaker[[]byte]
	group      singleflight.Group

	mu            sync.Mutex
	snapshot      *Snapshot
	version       uint64
	remoteVersion string
}

// New creates a corpus client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("corpus base URL not set")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse corpus base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
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
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		maxAge:     cfg.SnapshotMaxAge,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}

	failures := cfg.BreakerFailures
	c.breaker = circuitbreaker.New[[]byte](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= failures
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			c.logger.Warn("corpus circuit breaker state change",
				"base_url", c.baseURL,
				"from", from.String(),
				"to", to.String())
		},
	})

	return c, nil
}

// SemanticCorpus returns every indexed section with its embedding.
// An empty corpus is an empty slice and no error.
func (c *Client) SemanticCorpus(ctx context.Context) ([]types.CorpusEntry, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// Snapshot returns the cached corpus snapshot, fetching it when absent or expired.
// The returned entries must be treated as read-only.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap, gen := c.current()
	if snap != nil {
		return snap, nil
	}

	// callers after an Invalidate must not join a fetch that started before it
	key := "snapshot:" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if snap, _ := c.current(); snap != nil {
			return snap, nil
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetchSnapshot(callCtx, gen)
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx, types.ErrCorpusUnavailable)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// current returns the cached snapshot, if still fresh, and the version a
// fetch started now would belong to.
func (c *Client) current() (*Snapshot, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.maxAge > 0 && c.now().Sub(c.snapshot.FetchedAt) > c.maxAge {
		c.dropLocked()
	}
	return c.snapshot, c.version
}

// fetchSnapshot loads the corpus for version gen. When the version moved
// while the request was in flight the data may predate the change: it is
// returned stamped with gen and not cached.
func (c *Client) fetchSnapshot(ctx context.Context, gen uint64) (*Snapshot, error) {
	body, header, err := c.do(ctx, http.MethodGet, "/embeddings", nil)
	if err != nil {
		return nil, err
	}

	wire, err := decodeList[wireEntry](body, "entries", "embeddings", "sections")
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", types.ErrCorpusUnavailable, ErrMalformedResponse, err)
	}

	entries := make([]types.CorpusEntry, 0, len(wire))
	skipped := 0
	for i := range wire {
		entry, err := wire[i].toEntry()
		if err == nil {
			err = entry.Validate()
		}
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if skipped > 0 {
		c.logger.Warn("skipped invalid corpus entries", "skipped", skipped, "kept", len(entries))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != gen {
		c.logger.Debug("discarding snapshot fetched across a corpus change", "fetched_for", gen, "version", c.version)
		return &Snapshot{Entries: entries, Version: gen, FetchedAt: c.now()}, nil
	}
	c.observeVersionLocked(header.Get(VersionHeader))
	c.snapshot = &Snapshot{
		Entries:   entries,
		Version:   c.version,
		FetchedAt: c.now(),
	}
	c.logger.Debug("corpus snapshot loaded", "entries", len(entries), "version", c.version)
	return c.snapshot, nil
}

// KeywordSearch runs the backend's keyword search. Results keep backend order.
func (c *Client) KeywordSearch(ctx context.Context, text string) ([]types.SearchResult, error) {
	path := "/search?query=" + url.QueryEscape(text)
	body, header, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	c.observeVersion(header.Get(VersionHeader))

	results, err := decodeResults(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", types.ErrCorpusUnavailable, ErrMalformedResponse, err)
	}
	return results, nil
}

// Related asks the backend for sections related to a selection. Results keep backend order.
func (c *Client) Related(ctx context.Context, req RelatedRequest) (*RelatedResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, header, err := c.do(ctx, http.MethodPost, "/selection/related", payload)
	if err != nil {
		return nil, err
	}
	c.observeVersion(header.Get(VersionHeader))

	results, err := decodeResults(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", types.ErrCorpusUnavailable, ErrMalformedResponse, err)
	}

	var flags struct {
		FromCache bool `json:"from_cache"`
	}
	_ = json.Unmarshal(body, &flags) // bare arrays carry no flags

	return &RelatedResponse{Results: results, FromCache: flags.FromCache}, nil
}

// do performs one request behind the circuit breaker and returns the body of a 2xx response
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, http.Header, error) {
	var header http.Header

	body, err := c.breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("api call: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		header = resp.Header
		return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, contextError(ctx, types.ErrCorpusUnavailable)
		}
		c.logger.Warn("corpus request failed", "method", method, "path", path, "error", err)
		return nil, nil, fmt.Errorf("%w: %s %s: %w", types.ErrCorpusUnavailable, method, path, err)
	}

	return body, header, nil
}

// contextError maps a done context onto the taxonomy: a deadline is a
// failure of the remote side, a cancel is a superseded request.
func contextError(ctx context.Context, unavailable error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", unavailable, ctx.Err())
	}
	return fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
}

func (c *Client) observeVersion(remote string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeVersionLocked(remote)
}

// observeVersionLocked drops the snapshot when the backend reports a corpus
// version different from the last one seen.
func (c *Client) observeVersionLocked(remote string) {
	if remote == "" || remote == c.remoteVersion {
		return
	}
	first := c.remoteVersion == ""
	c.remoteVersion = remote
	if !first {
		c.dropLocked()
	}
}

// Invalidate drops the cached snapshot. The next SemanticCorpus call refetches
// and the version advances.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *Client) dropLocked() {
	c.snapshot = nil
	c.version++
}

// Version returns the current corpus version. It changes whenever results
// computed against an earlier snapshot may be stale.
func (c *Client) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
