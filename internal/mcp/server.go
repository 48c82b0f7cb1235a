package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/selectsense-mcp/internal/cache"
	"github.com/dshills/selectsense-mcp/internal/searcher"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "selectsense-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Retriever is the retrieval facade the tools drive. *searcher.Searcher implements it.
type Retriever interface {
	Select(sel types.Selection)
	SearchSelection(ctx context.Context, sel types.Selection) (*searcher.SearchResponse, error)
	SetSearchMode(mode types.SearchMode) error
	SetThreshold(threshold float64) error
	ClearResults()
	ClearCache()
	NotifyCorpusChanged()
	State() searcher.State
	CacheStats() cache.Stats
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	retriever Retriever
	logger    *slog.Logger
}

// NewServer creates a new MCP server over r
func NewServer(r Retriever, logger *slog.Logger) (*Server, error) {
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:       mcpServer,
		retriever: r,
		logger:    logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve speaks MCP over in/out until ctx is done or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server started", "name", ServerName, "version", ServerVersion)
	return stdio.Listen(ctx, in, out)
}

// ServeHTTP speaks streamable-HTTP MCP on addr until ctx is done
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewStreamableHTTPServer(s.mcp),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mcp server listening", "addr", addr, "name", ServerName, "version", ServerVersion)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(selectTextTool(), s.handleSelectText)
	s.mcp.AddTool(searchRelatedTool(), s.handleSearchRelated)
	s.mcp.AddTool(setSearchModeTool(), s.handleSetSearchMode)
	s.mcp.AddTool(setThresholdTool(), s.handleSetThreshold)
	s.mcp.AddTool(clearResultsTool(), s.handleClearResults)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
	s.mcp.AddTool(notifyCorpusChangedTool(), s.handleNotifyCorpusChanged)
	s.mcp.AddTool(getStateTool(), s.handleGetState)
	return nil
}
