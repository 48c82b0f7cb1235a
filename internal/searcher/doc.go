// Package searcher is the retrieval facade behind the reading view.
//
// A Searcher answers one question: which sections of the corpus relate to
// the text the reader has selected. It combines the selection coordinator,
// the result cache, an embedder and a corpus client, and exposes a single
// observable State.
//
// # Basic Usage
//
//	s, err := searcher.NewSearcher(emb, corpusClient, searcher.Config{})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	s.Subscribe(func(st searcher.State) {
//	    render(st.Results, st.IsLoading, st.ErrorMessage())
//	})
//
//	// while the reader drags
//	s.Select(types.NewSelection(text, documentID))
//
//	// or on demand
//	resp, err := s.Search(ctx, "cellular respiration in plants")
//
// # Search Modes
//
// Semantic (default):
//   - Embeds the selection and ranks the corpus snapshot locally
//   - Results at or above the threshold, best first
//
// Keyword:
//   - Delegates to the backend's /search endpoint
//   - The backend's order is kept as is
//
// Related:
//   - Delegates to /selection/related with the selection's document
//   - Backend order is kept, the threshold still applies as a floor
//
// # Caching
//
// Results are cached by (mode, normalised query, threshold to two decimals)
// and, where the document matters, the document ID. Entries are stamped with
// the corpus version and dropped once the corpus changes. Changing the mode
// or threshold therefore misses the cache and re-runs the current selection.
//
// # Errors
//
// Failures of the embedding or corpus service set State.Error and leave the
// previous results in place. Short selections and superseded queries are
// handled silently.
package searcher
