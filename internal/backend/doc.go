// Package backend serves the section corpus over HTTP.
//
// It is the reference implementation of the endpoints the corpus client
// consumes, backed by SQLite storage, the embedder and the indexer.
//
// # Endpoints
//
//	GET    /health                              liveness and index health
//	GET    /stats                               corpus counts and related cache stats
//	POST   /embed                               {"text"} -> {"embedding", "model"}
//	GET    /embeddings                          every section with its vector
//	GET    /search?query=&limit=                keyword (FTS5/BM25) search
//	POST   /selection/related                   sections related to a selection
//	GET    /documents                           ingested documents
//	POST   /documents                           ingest one document
//	DELETE /documents/:id                       remove a document
//	GET    /documents/:id/sections/:section_id  page and heading for a section
//
// When Config.RateLimit is set each client IP gets that many requests per
// minute; the rest are answered with 429.
//
// Every response carries X-Corpus-Version. Ingest and delete bump the version
// and purge the related-results cache, so clients holding a snapshot see the
// change on their next request.
//
// Related search embeds the selection, keeps sections scoring at least
// Config.RelatedMinScore, keeps the best section per document and heading,
// and returns at most max_results ordered by score. Selections shorter than
// MinSelectionLength characters are rejected with 400.
package backend
