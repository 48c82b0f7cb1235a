package storage

import (
	"context"
	"time"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying the section corpus
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, documentID string) (*Document, error)
	GetDocumentByHash(ctx context.Context, contentHash [32]byte) (*Document, error)
	GetDocumentByPath(ctx context.Context, sourcePath string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, documentID string) error

	// Section operations
	UpsertSection(ctx context.Context, section *Section) error
	GetSection(ctx context.Context, sectionID int64) (*Section, error)
	ListSectionsByDocument(ctx context.Context, documentID string) ([]*Section, error)
	DeleteSectionsByDocument(ctx context.Context, documentID string) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, sectionID int64) (*Embedding, error)

	// Search operations
	ListCorpus(ctx context.Context) ([]types.CorpusEntry, error)
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Corpus version operations
	CorpusVersion(ctx context.Context) (uint64, error)
	BumpCorpusVersion(ctx context.Context) (uint64, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Document represents an ingested source document
type Document struct {
	ID           string // UUID unless the caller supplies one
	Title        string
	SourcePath   string
	ContentHash  [32]byte
	SectionCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Section represents one heading-delimited part of a document
type Section struct {
	ID            int64
	DocumentID    string
	Key           string // public section ID, stable across re-ingest
	Heading       string
	Content       string
	Snippet       string
	PageNumber    int
	Position      int
	ContentHash   [32]byte
	DocumentTitle string // filled on read
	CreatedAt     time.Time
}

// Embedding represents a vector embedding for a section
type Embedding struct {
	ID        int64
	SectionID int64
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	DocumentIDs       []string // restrict to these documents
	ExcludeDocumentID string
	MinRelevance      float64 // Minimum relevance score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	SectionID       int64
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	SectionID int64
	BM25Score float64
}

// Status contains statistics about the stored corpus
type Status struct {
	DocumentsCount  int
	SectionsCount   int
	EmbeddingsCount int
	CorpusVersion   uint64
	IndexSizeMB     float64
	BuildMode       string
	Health          HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexesBuilt     bool
}

// ToSearchResult converts a stored section to the canonical result shape
func (s *Section) ToSearchResult(score float64) types.SearchResult {
	return types.SearchResult{
		DocumentID:    s.DocumentID,
		DocumentTitle: s.DocumentTitle,
		SectionID:     s.Key,
		Heading:       s.Heading,
		Snippet:       s.Snippet,
		PageNumber:    s.PageNumber,
		Score:         score,
	}
}
