// Package types provides shared type definitions for the selectsense retrieval core.
//
// The package defines the canonical shapes that flow between the clients, the ranking
// engine, the selection coordinator and the retrieval facade:
//
//	sel := types.NewSelection("  the cache is  shared across queries ", "doc-1")
//	// sel.Text == "the cache is shared across queries"
//
// # Search Results
//
// SearchResult is the single result shape. Wire formats that name fields differently
// (similarity vs similarity_score, snippet vs excerpt) are normalised into it by the
// corpus client, never by consumers:
//
//	result := types.SearchResult{
//	    DocumentID: "doc-2",
//	    SectionID:  "s-4",
//	    Heading:    "Result caching",
//	    Score:      0.82,
//	}
//
// Scores live on the cosine scale in [0, 1].
//
// # Errors
//
// The retrieval error taxonomy lives here so every layer can match it with errors.Is:
//
//	if errors.Is(err, types.ErrEmbeddingUnavailable) {
//	    // surface to the reader, keep the last good results
//	}
//
// ErrInvalidSelection and ErrCancelled are control flow and never reach the reader.
package types
