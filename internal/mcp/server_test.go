package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/selectsense-mcp/internal/corpus"
	"github.com/dshills/selectsense-mcp/internal/searcher"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

const query = "how are results cached between selections"

type stubEmbedder struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int64
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) (*types.Embedding, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &types.Embedding{Vector: []float32{1, 0}, SourceText: text, Model: "stub"}, nil
}

type stubCorpus struct {
	mu      sync.Mutex
	err     error
	version uint64
}

func (c *stubCorpus) Snapshot(ctx context.Context) (*corpus.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &corpus.Snapshot{
		Version: c.version,
		Entries: []types.CorpusEntry{
			{DocumentID: "guide", SectionID: "guide:0", Heading: "Caching", SnippetText: "Results are cached per signature.", PageNumber: 3, Embedding: types.Embedding{Vector: []float32{1, 0}}},
			{DocumentID: "guide", SectionID: "guide:1", Heading: "Timers", SnippetText: "Selections are debounced.", PageNumber: 7, Embedding: types.Embedding{Vector: []float32{0, 1}}},
		},
	}, nil
}

func (c *stubCorpus) KeywordSearch(ctx context.Context, text string) ([]types.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return []types.SearchResult{{DocumentID: "guide", SectionID: "guide:1", Heading: "Timers", Score: 0.4}}, nil
}

func (c *stubCorpus) Related(ctx context.Context, req corpus.RelatedRequest) (*corpus.RelatedResponse, error) {
	return &corpus.RelatedResponse{}, nil
}

func (c *stubCorpus) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *stubCorpus) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
}

func newTestServer(t *testing.T) (*Server, *stubEmbedder, *stubCorpus) {
	t.Helper()
	emb := &stubEmbedder{}
	c := &stubCorpus{version: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srch, err := searcher.NewSearcher(emb, c, searcher.Config{NoDebounce: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srch.Close() })

	s, err := NewServer(srch, logger)
	require.NoError(t, err)
	return s, emb, c
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServerRequiresRetriever(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestToolsListed(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	initMsg := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	s.mcp.HandleMessage(ctx, json.RawMessage(initMsg))

	resp := s.mcp.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{
		"select_text", "search_related", "set_search_mode", "set_threshold",
		"clear_results", "clear_cache", "notify_corpus_changed", "get_state",
	} {
		assert.Contains(t, string(raw), fmt.Sprintf("%q", name))
	}
}

func TestSearchRelated(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleSearchRelated(ctx, call(map[string]interface{}{"text": "  " + query + "  ", "document_id": "notes"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, query, out["query"])
	assert.Equal(t, "semantic", out["mode"])
	assert.Equal(t, false, out["from_cache"])
	assert.EqualValues(t, 1, out["count"])
	results := out["results"].([]interface{})
	assert.Equal(t, "Caching", results[0].(map[string]interface{})["heading"])

	res, err = s.handleSearchRelated(ctx, call(map[string]interface{}{"text": query, "document_id": "notes"}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["from_cache"])
}

func TestSearchRelatedErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing text", func(t *testing.T) {
		s, _, _ := newTestServer(t)
		_, err := s.handleSearchRelated(ctx, call(map[string]interface{}{}))
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("short selection", func(t *testing.T) {
		s, emb, _ := newTestServer(t)
		res, err := s.handleSearchRelated(ctx, call(map[string]interface{}{"text": "  hi "}))
		require.NoError(t, err, "a short selection is not an error")
		out := resultJSON(t, res)
		assert.Equal(t, "hi", out["query"])
		assert.Equal(t, float64(0), out["count"])
		assert.Equal(t, []interface{}{}, out["results"])
		assert.Nil(t, out["error"])
		assert.Zero(t, emb.calls.Load(), "no embedding request for a short selection")

		state := resultJSON(t, mustCall(t, s.handleGetState, nil))
		assert.Nil(t, state["error"])
	})

	t.Run("embedding unavailable", func(t *testing.T) {
		s, emb, _ := newTestServer(t)
		emb.err = fmt.Errorf("%w: timeout", types.ErrEmbeddingUnavailable)
		_, err := s.handleSearchRelated(ctx, call(map[string]interface{}{"text": query}))
		requireCode(t, err, ErrorCodeEmbeddingUnavailable)
	})

	t.Run("corpus unavailable", func(t *testing.T) {
		s, _, c := newTestServer(t)
		c.err = fmt.Errorf("%w: connection refused", types.ErrCorpusUnavailable)
		_, err := s.handleSearchRelated(ctx, call(map[string]interface{}{"text": query}))
		requireCode(t, err, ErrorCodeCorpusUnavailable)

		state := resultJSON(t, mustCall(t, s.handleGetState, nil))
		assert.Contains(t, state["error"], "corpus unavailable")
	})
}

func mustCall(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := h(context.Background(), call(args))
	require.NoError(t, err)
	return res
}

func TestSelectText(t *testing.T) {
	s, _, _ := newTestServer(t)

	mustCall(t, s.handleSelectText, map[string]interface{}{"text": query, "document_id": "notes"})

	require.Eventually(t, func() bool {
		st := s.retriever.State()
		return !st.IsLoading && len(st.Results) == 1
	}, 2*time.Second, 5*time.Millisecond)

	state := resultJSON(t, mustCall(t, s.handleGetState, nil))
	assert.Equal(t, query, state["query"])
	assert.Equal(t, "notes", state["document_id"])
	assert.NotNil(t, state["cache"])

	_, err := s.handleSelectText(context.Background(), call(map[string]interface{}{"document_id": "notes"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestSetSearchMode(t *testing.T) {
	s, _, _ := newTestServer(t)

	out := resultJSON(t, mustCall(t, s.handleSetSearchMode, map[string]interface{}{"mode": "Keyword"}))
	assert.Equal(t, "keyword", out["mode"])

	res := resultJSON(t, mustCall(t, s.handleSearchRelated, map[string]interface{}{"text": query}))
	results := res["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "Timers", results[0].(map[string]interface{})["heading"])

	_, err := s.handleSetSearchMode(context.Background(), call(map[string]interface{}{"mode": "fuzzy"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestSetThreshold(t *testing.T) {
	s, _, _ := newTestServer(t)

	out := resultJSON(t, mustCall(t, s.handleSetThreshold, map[string]interface{}{"threshold": 0.123}))
	assert.Equal(t, 0.12, out["threshold"])

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing", map[string]interface{}{}},
		{"not a number", map[string]interface{}{"threshold": "high"}},
		{"above one", map[string]interface{}{"threshold": 1.5}},
		{"negative", map[string]interface{}{"threshold": -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSetThreshold(context.Background(), call(tt.args))
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}
}

func TestClearAndNotify(t *testing.T) {
	s, _, c := newTestServer(t)
	mustCall(t, s.handleSearchRelated, map[string]interface{}{"text": query})
	require.Equal(t, 1, s.retriever.CacheStats().Entries)

	out := resultJSON(t, mustCall(t, s.handleClearCache, nil))
	assert.Equal(t, true, out["cleared"])
	assert.Equal(t, 0, s.retriever.CacheStats().Entries)
	assert.Len(t, s.retriever.State().Results, 1, "clearing the cache keeps displayed results")

	mustCall(t, s.handleNotifyCorpusChanged, nil)
	assert.EqualValues(t, 2, c.Version())

	out = resultJSON(t, mustCall(t, s.handleClearResults, nil))
	assert.Empty(t, out["results"])
	assert.Empty(t, s.retriever.State().Results)
}
