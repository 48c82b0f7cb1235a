package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// selectTextTool returns the tool definition for select_text
func selectTextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "select_text",
		Description: "Report the reader's current text selection. Related sections are fetched once the selection has been stable for the debounce interval; read them with get_state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Selected text. Selections shorter than the minimum length clear the results.",
				},
				"document_id": map[string]interface{}{
					"type":        "string",
					"description": "Document the selection was made in",
				},
			},
			Required: []string{"text"},
		},
	}
}

// searchRelatedTool returns the tool definition for search_related
func searchRelatedTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_related",
		Description: "Find sections related to a passage immediately, bypassing the debounce",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Passage to find related sections for",
				},
				"document_id": map[string]interface{}{
					"type":        "string",
					"description": "Document the passage comes from",
				},
			},
			Required: []string{"text"},
		},
	}
}

// setSearchModeTool returns the tool definition for set_search_mode
func setSearchModeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_search_mode",
		Description: "Switch how queries are answered and re-run the current selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic (local ranking of the corpus snapshot), keyword (backend full-text search) or related (backend related-sections endpoint)",
					"enum":        []string{"semantic", "keyword", "related"},
				},
			},
			Required: []string{"mode"},
		},
	}
}

// setThresholdTool returns the tool definition for set_threshold
func setThresholdTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_threshold",
		Description: "Set the minimum similarity score and re-run the current selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Similarity threshold, rounded to two decimals",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"threshold"},
		},
	}
}

func clearResultsTool() mcp.Tool {
	return noArgsTool("clear_results", "Abandon pending work and clear the displayed results and the result cache")
}

func clearCacheTool() mcp.Tool {
	return noArgsTool("clear_cache", "Drop cached results; displayed results stay")
}

func notifyCorpusChangedTool() mcp.Tool {
	return noArgsTool("notify_corpus_changed", "Tell the client the corpus changed: drop the snapshot and cached results and re-run the current selection")
}

func getStateTool() mcp.Tool {
	return noArgsTool("get_state", "Return the current query, results, loading flag, error, settings and cache statistics")
}

func noArgsTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
