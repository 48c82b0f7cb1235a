// Package storage provides SQLite-based persistence for the section corpus.
//
// The storage layer manages:
//   - Documents and their content hashes
//   - Heading-delimited sections with snippets
//   - Vector embeddings for sections
//   - An FTS5 index over section headings and text
//   - The corpus version clients use to invalidate caches
//
// # Database Schema
//
// Tables:
//   - documents: Title, source path and SHA-256 hash
//   - sections: Section text, heading, page and position within the document
//   - embeddings: One vector per section
//   - sections_fts: FTS5 full-text search index
//   - corpus_meta: Single-row corpus version counter
//
// Migrations are versioned with semantic versions and applied in order on open.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("corpus.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	entries, err := db.ListCorpus(ctx)
//
// # Transactions
//
// Re-ingesting a document replaces its sections atomically:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.UpsertDocument(ctx, doc)
//	_ = tx.DeleteSectionsByDocument(ctx, doc.ID)
//	for _, sec := range sections {
//	    _ = tx.UpsertSection(ctx, sec)
//	}
//	_, _ = tx.BumpCorpusVersion(ctx)
//
//	return tx.Commit()
//
// # Build Modes
//
// The default (purego) build uses modernc.org/sqlite and ranks vectors in Go.
// Building with -tags sqlite_vec uses github.com/mattn/go-sqlite3 and pushes
// cosine distance into SQL through the sqlite-vec extension.
package storage
