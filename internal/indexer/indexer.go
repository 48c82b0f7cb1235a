package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/selectsense-mcp/internal/chunker"
	"github.com/dshills/selectsense-mcp/internal/embedder"
	"github.com/dshills/selectsense-mcp/internal/ranking"
	"github.com/dshills/selectsense-mcp/internal/storage"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

var (
	// ErrIndexingInProgress is returned when another ingest holds the lock
	ErrIndexingInProgress = errors.New("indexing already in progress")
	// ErrNoSections is returned when a document yields no indexable sections
	ErrNoSections = errors.New("document has no indexable sections")
	// ErrEmptyDocument is returned for a source without text
	ErrEmptyDocument = errors.New("document text is empty")
)

// Indexer coordinates the ingest pipeline: chunk -> embed -> store
type Indexer struct {
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	storage  storage.Storage
	lock     IndexLock
	logger   *slog.Logger

	provider string
	strategy chunker.ChunkStrategy

	// Worker pool configuration
	workers int
}

// Config contains configuration for the indexer
type Config struct {
	Workers         int    // Concurrent embedding calls per document (default: runtime.NumCPU())
	Provider        string // Recorded with each embedding (default: local)
	MinContentChars int    // Passed to the chunker; negative keeps the chunker default
	MaxTokens       int    // Passed to the chunker; zero keeps the chunker default
	Strategy        chunker.ChunkStrategy
	Logger          *slog.Logger
}

// Source is one document to ingest
type Source struct {
	ID     string // optional; a UUID is assigned when empty
	Title  string // optional; derived from the text or path when empty
	Path   string
	Text   string
	Format chunker.Format
}

// Result describes one ingested document
type Result struct {
	DocumentID    string `json:"document_id"`
	Title         string `json:"title"`
	Sections      int    `json:"sections"`
	Skipped       bool   `json:"skipped"` // identical content was already indexed
	CorpusVersion uint64 `json:"corpus_version"`
}

// Statistics contains statistics about a bulk ingest
type Statistics struct {
	DocumentsIndexed int
	DocumentsSkipped int
	DocumentsFailed  int
	SectionsCreated  int
	CorpusVersion    uint64
	Duration         time.Duration
	ErrorMessages    []string
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, cfg *Config) *Indexer {
	if cfg == nil {
		cfg = &Config{MinContentChars: -1}
	}

	var opts []chunker.Option
	if cfg.MinContentChars >= 0 {
		opts = append(opts, chunker.WithMinContentChars(cfg.MinContentChars))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, chunker.WithMaxTokens(cfg.MaxTokens))
	}

	idx := &Indexer{
		chunker:  chunker.New(opts...),
		embedder: emb,
		storage:  store,
		logger:   cfg.Logger,
		provider: cfg.Provider,
		strategy: cfg.Strategy,
		workers:  cfg.Workers,
	}
	if idx.workers <= 0 {
		idx.workers = runtime.NumCPU()
	}
	if idx.provider == "" {
		idx.provider = embedder.ProviderLocal
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx
}

// IndexDocument ingests one document and bumps the corpus version
func (idx *Indexer) IndexDocument(ctx context.Context, src Source) (*Result, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	return idx.indexDocument(ctx, src)
}

// IndexPaths ingests every supported file under paths.
// A failing file is recorded in the statistics and does not stop the run.
func (idx *Indexer) IndexPaths(ctx context.Context, paths []string) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, err := discoverFiles(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := idx.indexFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			stats.DocumentsFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
			idx.logger.Warn("index failed", "path", path, "error", err)
			continue
		}

		if res.Skipped {
			stats.DocumentsSkipped++
		} else {
			stats.DocumentsIndexed++
			stats.SectionsCreated += res.Sections
		}
		stats.CorpusVersion = res.CorpusVersion
	}

	if stats.CorpusVersion == 0 {
		v, err := idx.storage.CorpusVersion(ctx)
		if err != nil {
			return nil, err
		}
		stats.CorpusVersion = v
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("index complete",
		"indexed", stats.DocumentsIndexed,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"sections", stats.SectionsCreated,
		"duration", stats.Duration)
	return stats, nil
}

// DeleteDocument removes a document with its sections and bumps the corpus version
func (idx *Indexer) DeleteDocument(ctx context.Context, documentID string) (uint64, error) {
	return idx.deleteDocuments(ctx, []string{documentID})
}

// deleteDocuments removes documents in one transaction with a single version bump
func (idx *Indexer) deleteDocuments(ctx context.Context, documentIDs []string) (uint64, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range documentIDs {
		if err := tx.DeleteDocument(ctx, id); err != nil {
			return 0, err
		}
	}
	version, err := tx.BumpCorpusVersion(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, id := range documentIDs {
		idx.logger.Info("document deleted", "document_id", id, "corpus_version", version)
	}
	return version, nil
}

// indexFile ingests the file at path. A document previously ingested from the
// same path keeps its ID and has its sections replaced.
func (idx *Indexer) indexFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	text, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	src := Source{Path: abs, Text: string(text), Format: chunker.FormatForPath(abs)}
	existing, err := idx.storage.GetDocumentByPath(ctx, abs)
	switch {
	case err == nil:
		src.ID = existing.ID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	return idx.indexDocument(ctx, src)
}

// removePath deletes the document ingested from path, or every document under
// path when it was a directory. It returns how many documents were removed.
func (idx *Indexer) removePath(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	docs, err := idx.storage.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	prefix := abs + string(filepath.Separator)
	var ids []string
	for _, doc := range docs {
		if doc.SourcePath == abs || strings.HasPrefix(doc.SourcePath, prefix) {
			ids = append(ids, doc.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := idx.deleteDocuments(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (idx *Indexer) indexDocument(ctx context.Context, src Source) (*Result, error) {
	if strings.TrimSpace(src.Text) == "" {
		return nil, ErrEmptyDocument
	}

	hash := sha256.Sum256([]byte(src.Text))
	if existing, err := idx.storage.GetDocumentByHash(ctx, hash); err == nil {
		version, err := idx.storage.CorpusVersion(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{
			DocumentID:    existing.ID,
			Title:         existing.Title,
			Sections:      existing.SectionCount,
			Skipped:       true,
			CorpusVersion: version,
		}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	parsed := idx.chunker.ChunkWithStrategy(src.Text, src.Format, idx.strategy)
	if len(parsed.Chunks) == 0 {
		return nil, ErrNoSections
	}

	title := firstNonEmpty(src.Title, parsed.Title)
	if title == "" && src.Path != "" {
		title = chunker.TitleFromPath(src.Path)
	}
	if title == "" {
		title = "Untitled"
	}

	vectors, err := idx.embedChunks(ctx, parsed.Chunks)
	if err != nil {
		return nil, err
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc := &storage.Document{
		ID:           src.ID,
		Title:        title,
		SourcePath:   src.Path,
		ContentHash:  hash,
		SectionCount: len(parsed.Chunks),
	}
	if doc.ID != "" {
		// re-ingest under a known ID replaces the old sections
		if err := tx.DeleteSectionsByDocument(ctx, doc.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	for i, chunk := range parsed.Chunks {
		if err := idx.storeSection(ctx, tx, doc, chunk, vectors[i]); err != nil {
			return nil, err
		}
	}

	version, err := tx.BumpCorpusVersion(ctx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	idx.logger.Info("document indexed",
		"document_id", doc.ID,
		"title", doc.Title,
		"sections", doc.SectionCount,
		"corpus_version", version)

	return &Result{
		DocumentID:    doc.ID,
		Title:         doc.Title,
		Sections:      doc.SectionCount,
		CorpusVersion: version,
	}, nil
}

func (idx *Indexer) storeSection(ctx context.Context, tx storage.Tx, doc *storage.Document, chunk *types.Chunk, vector *types.Embedding) error {
	section := &storage.Section{
		DocumentID:  doc.ID,
		Key:         fmt.Sprintf("%s:%d", doc.ID, chunk.Position),
		Heading:     chunk.Heading,
		Content:     chunk.Content,
		Snippet:     ranking.ExtractSnippet(chunk.Content, chunk.Heading, ranking.DefaultMaxSentence),
		PageNumber:  chunk.PageNumber,
		Position:    chunk.Position,
		ContentHash: chunk.ContentHash,
	}
	if err := tx.UpsertSection(ctx, section); err != nil {
		return fmt.Errorf("failed to store section: %w", err)
	}

	err := tx.UpsertEmbedding(ctx, &storage.Embedding{
		SectionID: section.ID,
		Vector:    storage.SerializeVector(vector.Vector),
		Dimension: len(vector.Vector),
		Provider:  idx.provider,
		Model:     firstNonEmpty(vector.Model, idx.embedder.Model()),
	})
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// embedChunks embeds all chunks concurrently, bounded by the worker count
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*types.Chunk) ([]*types.Embedding, error) {
	vectors := make([]*types.Embedding, len(chunks))
	var embedded atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			emb, err := idx.embedder.Embed(gctx, chunk.FullContent())
			if err != nil {
				return fmt.Errorf("failed to embed section %d: %w", chunk.Position, err)
			}
			vectors[i] = emb
			embedded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := vectors[0].Dimension()
	for _, v := range vectors {
		if v.Dimension() != dim || dim == 0 {
			return nil, fmt.Errorf("%w: inconsistent embedding dimensions", types.ErrEmbeddingUnavailable)
		}
	}

	idx.logger.Debug("sections embedded", "count", embedded.Load(), "dimension", dim)
	return vectors, nil
}

// supportedExt lists the file types the chunker understands
var supportedExt = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdx":      true,
	".txt":      true,
	".text":     true,
}

// discoverFiles expands paths into supported files, skipping hidden directories
func discoverFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if supportedExt[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Busy reports whether an ingest is running
func (idx *Indexer) Busy() bool {
	return idx.lock.Busy()
}
