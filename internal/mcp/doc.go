// Package mcp implements the Model Context Protocol (MCP) server for SelectSense.
//
// The server exposes the retrieval facade to a reading client as tools:
//   - select_text: report the current selection (debounced)
//   - search_related: run a query immediately
//   - set_search_mode: semantic, keyword or related
//   - set_threshold: minimum similarity, rounded to two decimals
//   - clear_results, clear_cache, notify_corpus_changed
//   - get_state: query, results, loading flag, error, settings and cache statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Tool: select_text
//
//	Request:
//	{
//	  "name": "select_text",
//	  "arguments": {"text": "cached per signature", "document_id": "guide"}
//	}
//
// The response is the state right after the selection was recorded, usually
// with "is_loading": true. Poll get_state for the results.
//
// # Tool: search_related
//
//	Response:
//	{
//	  "query": "cached per signature",
//	  "mode": "semantic",
//	  "threshold": 0.65,
//	  "from_cache": false,
//	  "count": 1,
//	  "results": [
//	    {
//	      "document_id": "guide",
//	      "section_id": "guide:0",
//	      "heading": "Caching",
//	      "snippet": "Results are cached per signature.",
//	      "page_number": 3,
//	      "score": 0.91
//	    }
//	  ]
//	}
//
// A query superseded by a newer selection returns {"cancelled": true}. A
// selection shorter than the minimum length returns an empty result list.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing arguments, unknown mode, threshold outside [0, 1])
//   - -32603: Internal error
//   - -32005: Corpus unavailable
//   - -32006: Embedding unavailable
//
// # Logging
//
// The server logs to the slog logger it was given. Binaries pass a stderr
// logger because stdout carries the protocol.
package mcp
