// Package corpus reads the remote document index.
//
// The client speaks three endpoints:
//
//	GET  /embeddings          every section with its vector (semantic mode)
//	GET  /search?query=...    backend keyword search (keyword mode)
//	POST /selection/related   backend related-section search (related mode)
//
// Responses are normalised here and nowhere else. Backends disagree on field
// names (doc_id or document_id, similarity or similarity_score or score,
// snippet or excerpt, page_num or page_number or page) and on whether a list
// comes bare or wrapped in an object; consumers only ever see
// types.SearchResult and types.CorpusEntry.
//
// The semantic snapshot is fetched once and reused until Invalidate is
// called, SnapshotMaxAge passes, or a response carries an X-Corpus-Version
// header different from the last one seen. Each of those advances Version,
// which the retrieval service uses to retire cached results.
//
// Transport failures and non-2xx responses wrap types.ErrCorpusUnavailable.
// Keyword and related results keep the backend's order.
package corpus
