package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Document operations

func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	query := `
		INSERT INTO documents (id, title, source_path, content_hash, section_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			section_count = excluded.section_count,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		doc.ID, doc.Title, doc.SourcePath, doc.ContentHash[:], doc.SectionCount, now, now,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return s.upsertDocumentWithQuerier(ctx, s.querier(), doc)
}

const documentColumns = `id, title, source_path, content_hash, section_count, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var doc Document
	var hash []byte
	var sourcePath sql.NullString
	if err := row.Scan(&doc.ID, &doc.Title, &sourcePath, &hash, &doc.SectionCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.SourcePath = sourcePath.String
	copy(doc.ContentHash[:], hash)
	return &doc, nil
}

func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, documentID string) (*Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), documentID)
}

func (s *SQLiteStorage) getDocumentByHashWithQuerier(ctx context.Context, q querier, contentHash [32]byte) (*Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE content_hash = ? LIMIT 1`, contentHash[:])
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by hash: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocumentByHash(ctx context.Context, contentHash [32]byte) (*Document, error) {
	return s.getDocumentByHashWithQuerier(ctx, s.querier(), contentHash)
}

// getDocumentByPathWithQuerier returns the most recently updated document ingested from sourcePath
func (s *SQLiteStorage) getDocumentByPathWithQuerier(ctx context.Context, q querier, sourcePath string) (*Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE source_path = ? ORDER BY updated_at DESC LIMIT 1`, sourcePath)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by path: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocumentByPath(ctx context.Context, sourcePath string) (*Document, error) {
	return s.getDocumentByPathWithQuerier(ctx, s.querier(), sourcePath)
}

func (s *SQLiteStorage) listDocumentsWithQuerier(ctx context.Context, q querier) ([]*Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.listDocumentsWithQuerier(ctx, s.querier())
}

// deleteDocumentWithQuerier removes a document; sections and embeddings cascade
func (s *SQLiteStorage) deleteDocumentWithQuerier(ctx context.Context, q querier, documentID string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteDocumentWithQuerier(ctx, s.querier(), documentID)
}

// Section operations

func (s *SQLiteStorage) upsertSectionWithQuerier(ctx context.Context, q querier, section *Section) error {
	query := `
		INSERT INTO sections (
			document_id, section_key, heading, content, snippet,
			page_number, position, content_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, section_key)
		DO UPDATE SET
			heading = excluded.heading,
			content = excluded.content,
			snippet = excluded.snippet,
			page_number = excluded.page_number,
			position = excluded.position,
			content_hash = excluded.content_hash
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query,
		section.DocumentID, section.Key, section.Heading, section.Content, section.Snippet,
		section.PageNumber, section.Position, section.ContentHash[:], time.Now(),
	).Scan(&section.ID, &section.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert section: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertSection(ctx context.Context, section *Section) error {
	return s.upsertSectionWithQuerier(ctx, s.querier(), section)
}

const sectionColumns = `
	s.id, s.document_id, s.section_key, s.heading, s.content, s.snippet,
	s.page_number, s.position, s.content_hash, s.created_at, d.title
`

func scanSection(row interface{ Scan(...any) error }) (*Section, error) {
	var sec Section
	var heading, snippet sql.NullString
	var hash []byte
	if err := row.Scan(
		&sec.ID, &sec.DocumentID, &sec.Key, &heading, &sec.Content, &snippet,
		&sec.PageNumber, &sec.Position, &hash, &sec.CreatedAt, &sec.DocumentTitle,
	); err != nil {
		return nil, err
	}
	sec.Heading = heading.String
	sec.Snippet = snippet.String
	copy(sec.ContentHash[:], hash)
	return &sec, nil
}

func (s *SQLiteStorage) getSectionWithQuerier(ctx context.Context, q querier, sectionID int64) (*Section, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+sectionColumns+`
		FROM sections s
		INNER JOIN documents d ON s.document_id = d.id
		WHERE s.id = ?
	`, sectionID)
	sec, err := scanSection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return sec, nil
}

func (s *SQLiteStorage) GetSection(ctx context.Context, sectionID int64) (*Section, error) {
	return s.getSectionWithQuerier(ctx, s.querier(), sectionID)
}

func (s *SQLiteStorage) listSectionsByDocumentWithQuerier(ctx context.Context, q querier, documentID string) ([]*Section, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+sectionColumns+`
		FROM sections s
		INNER JOIN documents d ON s.document_id = d.id
		WHERE s.document_id = ?
		ORDER BY s.position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sections := make([]*Section, 0)
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func (s *SQLiteStorage) ListSectionsByDocument(ctx context.Context, documentID string) ([]*Section, error) {
	return s.listSectionsByDocumentWithQuerier(ctx, s.querier(), documentID)
}

func (s *SQLiteStorage) deleteSectionsByDocumentWithQuerier(ctx context.Context, q querier, documentID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete sections: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteSectionsByDocument(ctx context.Context, documentID string) error {
	return s.deleteSectionsByDocumentWithQuerier(ctx, s.querier(), documentID)
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (section_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(section_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query,
		embedding.SectionID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, time.Now(),
	).Scan(&embedding.ID, &embedding.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, sectionID int64) (*Embedding, error) {
	query := `
		SELECT id, section_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE section_id = ?
	`
	var embedding Embedding
	err := q.QueryRowContext(ctx, query, sectionID).Scan(
		&embedding.ID, &embedding.SectionID, &embedding.Vector,
		&embedding.Dimension, &embedding.Provider, &embedding.Model,
		&embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, sectionID int64) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), sectionID)
}

// Search operations

// listCorpusWithQuerier returns every embedded section in document then section order
func (s *SQLiteStorage) listCorpusWithQuerier(ctx context.Context, q querier) ([]types.CorpusEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.document_id, d.title, s.section_key, s.heading, s.snippet, s.content,
		       s.page_number, e.vector, e.model
		FROM sections s
		INNER JOIN documents d ON s.document_id = d.id
		INNER JOIN embeddings e ON e.section_id = s.id
		ORDER BY d.created_at, d.id, s.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]types.CorpusEntry, 0)
	for rows.Next() {
		var e types.CorpusEntry
		var heading, snippet sql.NullString
		var blob []byte
		if err := rows.Scan(
			&e.DocumentID, &e.DocumentTitle, &e.SectionID, &heading, &snippet, &e.FullText,
			&e.PageNumber, &blob, &e.Embedding.Model,
		); err != nil {
			return nil, err
		}
		e.Heading = heading.String
		e.SnippetText = snippet.String
		e.Embedding.Vector = deserializeVector(blob)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) ListCorpus(ctx context.Context) ([]types.CorpusEntry, error) {
	return s.listCorpusWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), queryVector, limit, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, filters)
}

// Corpus version operations

func (s *SQLiteStorage) corpusVersionWithQuerier(ctx context.Context, q querier) (uint64, error) {
	var version uint64
	err := q.QueryRowContext(ctx, `SELECT version FROM corpus_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStorage) CorpusVersion(ctx context.Context) (uint64, error) {
	return s.corpusVersionWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) bumpCorpusVersionWithQuerier(ctx context.Context, q querier) (uint64, error) {
	var version uint64
	err := q.QueryRowContext(ctx, `
		UPDATE corpus_meta SET version = version + 1, updated_at = ?
		WHERE id = 1
		RETURNING version
	`, time.Now()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump corpus version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStorage) BumpCorpusVersion(ctx context.Context) (uint64, error) {
	return s.bumpCorpusVersionWithQuerier(ctx, s.querier())
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM documents", &status.DocumentsCount},
		{"SELECT COUNT(*) FROM sections", &status.SectionsCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	version, err := s.corpusVersionWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}
	status.CorpusVersion = version

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexesBuilt:     true, // FTS indexes are created with migrations
	}
	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations delegate to the storage helpers with the tx querier

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return t.storage.upsertDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	return t.storage.getDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) GetDocumentByHash(ctx context.Context, contentHash [32]byte) (*Document, error) {
	return t.storage.getDocumentByHashWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) GetDocumentByPath(ctx context.Context, sourcePath string) (*Document, error) {
	return t.storage.getDocumentByPathWithQuerier(ctx, t.querier(), sourcePath)
}

func (t *sqliteTx) ListDocuments(ctx context.Context) ([]*Document, error) {
	return t.storage.listDocumentsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, documentID string) error {
	return t.storage.deleteDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) UpsertSection(ctx context.Context, section *Section) error {
	return t.storage.upsertSectionWithQuerier(ctx, t.querier(), section)
}

func (t *sqliteTx) GetSection(ctx context.Context, sectionID int64) (*Section, error) {
	return t.storage.getSectionWithQuerier(ctx, t.querier(), sectionID)
}

func (t *sqliteTx) ListSectionsByDocument(ctx context.Context, documentID string) ([]*Section, error) {
	return t.storage.listSectionsByDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) DeleteSectionsByDocument(ctx context.Context, documentID string) error {
	return t.storage.deleteSectionsByDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, sectionID int64) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), sectionID)
}

func (t *sqliteTx) ListCorpus(ctx context.Context) ([]types.CorpusEntry, error) {
	return t.storage.listCorpusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, filters)
}

func (t *sqliteTx) CorpusVersion(ctx context.Context) (uint64, error) {
	return t.storage.corpusVersionWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) BumpCorpusVersion(ctx context.Context) (uint64, error) {
	return t.storage.bumpCorpusVersionWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying storage
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}
