// Package indexer coordinates the ingest pipeline that builds the section corpus.
//
// The indexer chunks documents into heading-delimited sections, embeds every
// section and stores documents, sections and vectors in one transaction. Each
// successful ingest or delete bumps the corpus version, which clients observe
// through the X-Corpus-Version header and use to drop cached results.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, &indexer.Config{Workers: 4})
//
//	res, err := idx.IndexDocument(ctx, indexer.Source{
//	    Title:  "Cell Biology",
//	    Text:   text,
//	    Format: chunker.FormatMarkdown,
//	})
//
//	stats, err := idx.IndexPaths(ctx, []string{"./docs"})
//	fmt.Printf("Indexed %d documents in %v\n", stats.DocumentsIndexed, stats.Duration)
//
// # Pipeline
//
//  1. Deduplicate: a document whose SHA-256 content hash is already stored is skipped
//  2. Chunk: split into sections (see package chunker)
//  3. Embed: sections are embedded concurrently, bounded by Config.Workers
//  4. Store: document, sections and embeddings are written in one transaction
//  5. Version: the corpus version is bumped in the same transaction
//
// Re-ingesting under an existing document ID replaces its sections. IndexPaths
// keys files by absolute path, so a changed file keeps its document ID.
//
// # Watching
//
// Watch follows directories and files with fsnotify. Created and written files
// are ingested again, removed or renamed ones are deleted, and a new directory
// is watched as soon as it appears. Bursts of events are coalesced for the
// debounce interval and then applied under the ingest lock.
//
// # Concurrency
//
// Only one ingest runs at a time. A second caller gets ErrIndexingInProgress
// rather than blocking; the HTTP backend maps it to 409 Conflict.
//
// During IndexPaths a failing file is logged and counted in
// Statistics.DocumentsFailed; the remaining files are still processed.
package indexer
