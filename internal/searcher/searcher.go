package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/selectsense-mcp/internal/cache"
	"github.com/dshills/selectsense-mcp/internal/coordinator"
	"github.com/dshills/selectsense-mcp/internal/corpus"
	"github.com/dshills/selectsense-mcp/internal/ranking"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

// ErrInvalidThreshold is returned for thresholds outside [0, 1].
var ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (*types.Embedding, error)
}

// Corpus is the remote side of retrieval.
type Corpus interface {
	Snapshot(ctx context.Context) (*corpus.Snapshot, error)
	KeywordSearch(ctx context.Context, text string) ([]types.SearchResult, error)
	Related(ctx context.Context, req corpus.RelatedRequest) (*corpus.RelatedResponse, error)
	Version() uint64
	Invalidate()
}

// Config tunes a Searcher. Zero values select defaults.
type Config struct {
	Mode      types.SearchMode
	Threshold *float64 // nil selects ranking.DefaultThreshold

	MaxResults       int // 0 keeps every result above the threshold
	DedupeHeadings   bool
	SnippetSentences int
	ExcludeCurrent   bool // semantic mode skips the selection's own document

	Debounce   time.Duration
	NoDebounce bool
	MinLength  int

	CacheMaxEntries int
	CacheMaxAge     time.Duration

	// Clock drives both the debounce timer and cache ageing.
	Clock  coordinator.Clock
	Logger *slog.Logger
}

// State is the observable state of a Searcher.
type State struct {
	Query      string               `json:"query"`
	DocumentID string               `json:"document_id,omitempty"`
	Results    []types.SearchResult `json:"results"`
	IsLoading  bool                 `json:"is_loading"`
	Error      error                `json:"-"`
	Mode       types.SearchMode     `json:"mode"`
	Threshold  float64              `json:"threshold"`
	Phase      coordinator.Phase    `json:"phase"`
	FromCache  bool                 `json:"from_cache"`
	Generation uint64               `json:"generation"`
}

// ErrorMessage returns the user-facing error text, or "".
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Error()
}

// SearchResponse is the outcome of a manual search.
type SearchResponse struct {
	Query     string
	Results   []types.SearchResult
	Mode      types.SearchMode
	Threshold float64
	Duration  time.Duration
	FromCache bool
}

// Searcher is the retrieval facade. It owns the result cache and the
// selection coordinator and publishes one State for the UI to render.
//
// Subscribers are called synchronously on every state change, in order.
// They may read State but must not call methods that start or cancel work.
type Searcher struct {
	embedder Embedder
	corpus   Corpus
	cache    *cache.ResultCache
	coord    *coordinator.Coordinator
	logger   *slog.Logger

	maxResults     int
	dedupe         bool
	snippetLen     int
	excludeCurrent bool

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
}

// NewSearcher wires a Searcher to its embedder and corpus.
func NewSearcher(emb Embedder, c Corpus, cfg Config) (*Searcher, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if c == nil {
		return nil, fmt.Errorf("corpus is required")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = types.ModeSemantic
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}
	threshold := ranking.DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if cfg.SnippetSentences <= 0 {
		cfg.SnippetSentences = ranking.DefaultMaxSentence
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var cacheClock cache.Clock
	if cfg.Clock != nil {
		cacheClock = cfg.Clock
	}
	s := &Searcher{
		embedder: emb,
		corpus:   c,
		cache: cache.New(cache.Options{
			MaxEntries: cfg.CacheMaxEntries,
			MaxAge:     cfg.CacheMaxAge,
			Clock:      cacheClock,
		}),
		logger:         cfg.Logger,
		maxResults:     cfg.MaxResults,
		dedupe:         cfg.DedupeHeadings,
		snippetLen:     cfg.SnippetSentences,
		excludeCurrent: cfg.ExcludeCurrent,
		state: State{
			Results:   []types.SearchResult{},
			Mode:      mode,
			Threshold: cache.QuantizeThreshold(threshold),
			Phase:     coordinator.PhaseIdle,
		},
		subs: make(map[int]func(State)),
	}
	s.coord = coordinator.New(s.fetch, s.apply, coordinator.Config{
		Debounce:   cfg.Debounce,
		NoDebounce: cfg.NoDebounce,
		MinLength:  cfg.MinLength,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	return s, nil
}

// Select reports the reader's current selection. The query runs once the
// selection has been stable for the debounce interval.
func (s *Searcher) Select(sel types.Selection) {
	s.coord.Select(sel)
}

// Search runs a query for text immediately.
func (s *Searcher) Search(ctx context.Context, text string) (*SearchResponse, error) {
	return s.SearchSelection(ctx, types.NewSelection(text, ""))
}

// SearchSelection runs a query for sel immediately, superseding any pending
// or running selection query. Short selections clear the results and return
// types.ErrInvalidSelection without contacting any service.
func (s *Searcher) SearchSelection(ctx context.Context, sel types.Selection) (*SearchResponse, error) {
	start := time.Now()

	out, err := s.coord.Search(ctx, sel)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Query:     sel.Normalized().Text,
		Results:   types.CloneResults(out.Results),
		Mode:      out.Mode,
		Threshold: out.Threshold,
		Duration:  time.Since(start),
		FromCache: out.FromCache,
	}, nil
}

// SetSearchMode switches modes and re-runs the current selection.
func (s *Searcher) SetSearchMode(mode types.SearchMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}
	s.mu.Lock()
	changed := s.state.Mode != mode
	s.state.Mode = mode
	s.mu.Unlock()

	if changed {
		s.coord.Refresh()
	}
	return nil
}

// SetThreshold changes the similarity threshold, rounded to two decimals,
// and re-runs the current selection.
func (s *Searcher) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	threshold = cache.QuantizeThreshold(threshold)

	s.mu.Lock()
	changed := s.state.Threshold != threshold
	s.state.Threshold = threshold
	s.mu.Unlock()

	if changed {
		s.coord.Refresh()
	}
	return nil
}

// ClearResults abandons in-flight work, empties the results and the cache.
func (s *Searcher) ClearResults() {
	s.coord.Reset()
	s.cache.Clear()
}

// ClearCache drops cached results. Displayed results stay.
func (s *Searcher) ClearCache() {
	s.cache.Clear()
}

// NotifyCorpusChanged drops everything derived from the old corpus and
// re-runs the current selection against the new one.
func (s *Searcher) NotifyCorpusChanged() {
	s.corpus.Invalidate()
	s.cache.InvalidateAll()
	s.coord.Refresh()
}

// Cancel abandons pending and in-flight work and keeps the displayed results.
func (s *Searcher) Cancel() {
	s.coord.Cancel()
}

// State returns a copy of the current state.
func (s *Searcher) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CacheStats reports result cache effectiveness.
func (s *Searcher) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (s *Searcher) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close stops the coordinator and waits for background queries.
func (s *Searcher) Close() error {
	s.coord.Close()
	return nil
}

func (s *Searcher) settings() (types.SearchMode, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mode, s.state.Threshold
}

func (s *Searcher) snapshotLocked() State {
	st := s.state
	st.Results = types.CloneResults(s.state.Results)
	return st
}

// apply folds a coordinator event into the state. It runs under the
// coordinator lock and must not call back into it.
func (s *Searcher) apply(ev coordinator.Event) {
	s.mu.Lock()
	switch ev.Phase {
	case coordinator.PhasePending:
		s.state.Query = ev.Selection.Text
		s.state.DocumentID = ev.Selection.DocumentID
		s.state.IsLoading = true
	case coordinator.PhaseFetching:
		s.state.Query = ev.Selection.Text
		s.state.DocumentID = ev.Selection.DocumentID
		s.state.IsLoading = true
		s.state.Error = nil
	case coordinator.PhaseSettled:
		s.state.Results = types.CloneResults(ev.Outcome.Results)
		if s.state.Results == nil {
			s.state.Results = []types.SearchResult{}
		}
		s.state.FromCache = ev.Outcome.FromCache
		s.state.IsLoading = false
		s.state.Error = nil
	case coordinator.PhaseFailed:
		// last good results stay visible
		s.state.IsLoading = false
		s.state.Error = ev.Err
		s.logger.Warn("search failed", "query", ev.Selection.Text, "error", ev.Err)
	case coordinator.PhaseCancelled:
		s.state.IsLoading = false
	case coordinator.PhaseIdle:
		s.state.IsLoading = false
		if ev.Reset {
			s.state.Query = ""
			s.state.DocumentID = ""
			s.state.Results = []types.SearchResult{}
			s.state.Error = nil
			s.state.FromCache = false
		}
	}
	s.state.Phase = ev.Phase
	s.state.Generation = ev.Generation

	st := s.snapshotLocked()
	subs := make([]func(State), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// fetch is the coordinator's FetchFunc: cache first, then the mode's path.
func (s *Searcher) fetch(ctx context.Context, sel types.Selection) (coordinator.Outcome, error) {
	mode, threshold := s.settings()
	sig := cache.NewSignature(mode, sel.Text, threshold)
	if mode == types.ModeRelated || (mode == types.ModeSemantic && s.excludeCurrent) {
		sig.Scope = sel.DocumentID
	}

	s.cache.SetCorpusVersion(s.corpus.Version())
	if entry, ok := s.cache.Get(sig); ok {
		s.logger.Debug("result cache hit", "mode", mode, "query", sig.Query)
		return coordinator.Outcome{Results: entry.Results, FromCache: true, Mode: mode, Threshold: threshold}, nil
	}

	var (
		results       []types.SearchResult
		backendCached bool
		version       uint64
		err           error
	)
	switch mode {
	case types.ModeKeyword:
		results, version, err = s.keywordSearch(ctx, sel)
	case types.ModeRelated:
		results, backendCached, version, err = s.relatedSearch(ctx, sel, threshold)
	default:
		results, version, err = s.semanticSearch(ctx, sel, threshold)
	}
	if err != nil {
		return coordinator.Outcome{}, err
	}

	// results computed against a corpus that changed meanwhile are shown but not kept
	if s.corpus.Version() == version {
		s.cache.SetCorpusVersion(version)
		s.cache.Set(sig, results)
	}
	return coordinator.Outcome{Results: results, FromCache: backendCached, Mode: mode, Threshold: threshold}, nil
}

func (s *Searcher) semanticSearch(ctx context.Context, sel types.Selection, threshold float64) ([]types.SearchResult, uint64, error) {
	emb, err := s.embedder.Embed(ctx, sel.Text)
	if err != nil {
		return nil, 0, err
	}
	snap, err := s.corpus.Snapshot(ctx)
	if err != nil {
		return nil, 0, err
	}

	opts := []ranking.Option{
		ranking.WithLimit(s.maxResults),
		ranking.WithSnippets(sel.Text, s.snippetLen),
	}
	if s.dedupe {
		opts = append(opts, ranking.WithDedupeHeadings())
	}
	if s.excludeCurrent && sel.DocumentID != "" {
		opts = append(opts, ranking.WithExcludeDocument(sel.DocumentID))
	}
	return ranking.Rank(emb.Vector, snap.Entries, threshold, opts...), snap.Version, nil
}

// keywordSearch keeps the backend's order as is
func (s *Searcher) keywordSearch(ctx context.Context, sel types.Selection) ([]types.SearchResult, uint64, error) {
	version := s.corpus.Version()
	results, err := s.corpus.KeywordSearch(ctx, sel.Text)
	if err != nil {
		return nil, 0, err
	}
	return s.truncate(results), version, nil
}

// relatedSearch keeps the backend's order and applies the threshold as a floor
func (s *Searcher) relatedSearch(ctx context.Context, sel types.Selection, threshold float64) ([]types.SearchResult, bool, uint64, error) {
	version := s.corpus.Version()
	resp, err := s.corpus.Related(ctx, corpus.RelatedRequest{
		DocumentID:   sel.DocumentID,
		SelectedText: sel.Text,
		MaxResults:   s.maxResults,
	})
	if err != nil {
		return nil, false, 0, err
	}

	results := make([]types.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Score >= threshold {
			results = append(results, r)
		}
	}
	return s.truncate(results), resp.FromCache, version, nil
}

func (s *Searcher) truncate(results []types.SearchResult) []types.SearchResult {
	if s.maxResults > 0 && len(results) > s.maxResults {
		return results[:s.maxResults]
	}
	return results
}
