package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/selectsense-mcp/internal/searcher"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeCorpusUnavailable    = -32005 // Corpus backend unreachable or malformed
	ErrorCodeEmbeddingUnavailable = -32006 // Embedding service failed or timed out
)

// handleSelectText handles the select_text tool invocation
func (s *Server) handleSelectText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["text"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "text parameter is required", map[string]interface{}{
			"param":  "text",
			"reason": "missing or not a string",
		})
	}
	documentID := getStringDefault(args, "document_id", "")

	s.retriever.Select(types.NewSelection(text, documentID))
	return mcp.NewToolResultText(formatJSON(stateResponse(s.retriever.State()))), nil
}

// handleSearchRelated handles the search_related tool invocation
func (s *Server) handleSearchRelated(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["text"].(string)
	if !ok || text == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "text parameter is required and cannot be empty", map[string]interface{}{
			"param":  "text",
			"reason": "missing or empty",
		})
	}
	documentID := getStringDefault(args, "document_id", "")

	resp, err := s.retriever.SearchSelection(ctx, types.NewSelection(text, documentID))
	if errors.Is(err, types.ErrCancelled) {
		// superseded by a newer selection; not a failure
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"cancelled": true,
			"query":     types.NormalizeText(text),
		})), nil
	}
	if errors.Is(err, types.ErrInvalidSelection) {
		// too short to search: the state was reset and there is nothing to show
		st := s.retriever.State()
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"query":     types.NormalizeText(text),
			"mode":      st.Mode,
			"threshold": st.Threshold,
			"count":     0,
			"results":   []types.SearchResult{},
		})), nil
	}
	if err != nil {
		return nil, s.toolError("search failed", err)
	}

	response := map[string]interface{}{
		"query":       resp.Query,
		"mode":        resp.Mode,
		"threshold":   resp.Threshold,
		"from_cache":  resp.FromCache,
		"duration_ms": resp.Duration.Milliseconds(),
		"count":       len(resp.Results),
		"results":     resp.Results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSetSearchMode handles the set_search_mode tool invocation
func (s *Server) handleSetSearchMode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	raw, ok := args["mode"].(string)
	if !ok || raw == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "mode parameter is required", map[string]interface{}{
			"param":  "mode",
			"reason": "missing or empty",
		})
	}
	mode, err := types.ParseSearchMode(raw)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   raw,
			"allowed": []types.SearchMode{types.ModeSemantic, types.ModeKeyword, types.ModeRelated},
		})
	}
	if err := s.retriever.SetSearchMode(mode); err != nil {
		return nil, s.toolError("failed to set mode", err)
	}

	s.logger.Info("search mode changed", "mode", mode)
	return mcp.NewToolResultText(formatJSON(stateResponse(s.retriever.State()))), nil
}

// handleSetThreshold handles the set_threshold tool invocation
func (s *Server) handleSetThreshold(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	threshold, ok := getFloat(args, "threshold")
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "threshold parameter is required", map[string]interface{}{
			"param":  "threshold",
			"reason": "missing or not a number",
		})
	}
	if err := s.retriever.SetThreshold(threshold); err != nil {
		if errors.Is(err, searcher.ErrInvalidThreshold) {
			return nil, newMCPError(ErrorCodeInvalidParams, "threshold must be between 0 and 1", map[string]interface{}{
				"param": "threshold",
				"value": threshold,
			})
		}
		return nil, s.toolError("failed to set threshold", err)
	}

	s.logger.Info("threshold changed", "threshold", s.retriever.State().Threshold)
	return mcp.NewToolResultText(formatJSON(stateResponse(s.retriever.State()))), nil
}

// handleClearResults handles the clear_results tool invocation
func (s *Server) handleClearResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.retriever.ClearResults()
	return mcp.NewToolResultText(formatJSON(stateResponse(s.retriever.State()))), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.retriever.ClearCache()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": true,
		"cache":   s.retriever.CacheStats(),
	})), nil
}

// handleNotifyCorpusChanged handles the notify_corpus_changed tool invocation
func (s *Server) handleNotifyCorpusChanged(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.retriever.NotifyCorpusChanged()
	s.logger.Info("corpus change notified")
	return mcp.NewToolResultText(formatJSON(stateResponse(s.retriever.State()))), nil
}

// handleGetState handles the get_state tool invocation
func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := stateResponse(s.retriever.State())
	response["cache"] = s.retriever.CacheStats()
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// stateResponse renders State with its error as text
func stateResponse(st searcher.State) map[string]interface{} {
	response := map[string]interface{}{
		"query":      st.Query,
		"results":    st.Results,
		"is_loading": st.IsLoading,
		"mode":       st.Mode,
		"threshold":  st.Threshold,
		"phase":      st.Phase,
		"from_cache": st.FromCache,
		"generation": st.Generation,
	}
	if st.DocumentID != "" {
		response["document_id"] = st.DocumentID
	}
	if msg := st.ErrorMessage(); msg != "" {
		response["error"] = msg
	}
	return response
}

// toolError maps retrieval failures onto MCP error codes
func (s *Server) toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrCorpusUnavailable):
		s.logger.Warn(message, "error", err)
		return newMCPError(ErrorCodeCorpusUnavailable, "corpus unavailable", data)
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		s.logger.Warn(message, "error", err)
		return newMCPError(ErrorCodeEmbeddingUnavailable, "embedding unavailable", data)
	default:
		s.logger.Error(message, "error", err)
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getFloat extracts a numeric parameter
func getFloat(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
