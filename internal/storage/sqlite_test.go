package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

// seedDocument stores a document with one embedded section per heading
func seedDocument(t *testing.T, s Storage, id, title string, sections map[string][]float32, order []string) *Document {
	t.Helper()
	ctx := context.Background()
	doc := &Document{ID: id, Title: title, ContentHash: sha256.Sum256([]byte(id + title)), SectionCount: len(order)}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	for i, heading := range order {
		content := fmt.Sprintf("%s. This section talks about %s in detail.", heading, heading)
		sec := &Section{
			DocumentID:  doc.ID,
			Key:         fmt.Sprintf("%s:%d", doc.ID, i),
			Heading:     heading,
			Content:     content,
			Snippet:     content,
			PageNumber:  i + 1,
			Position:    i,
			ContentHash: sha256.Sum256([]byte(content)),
		}
		require.NoError(t, s.UpsertSection(ctx, sec))
		vec := sections[heading]
		require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{
			SectionID: sec.ID,
			Vector:    SerializeVector(vec),
			Dimension: len(vec),
			Provider:  "local",
			Model:     "test",
		}))
	}
	return doc
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := storage.CorpusVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	v, err := currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	_, err = storage.CorpusVersion(ctx)
	assert.Error(t, err, "corpus_meta is gone")

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err := storage.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestDocumentLifecycle(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := &Document{Title: "Cell Biology", SourcePath: "bio.md", ContentHash: sha256.Sum256([]byte("bio"))}
	require.NoError(t, storage.UpsertDocument(ctx, doc))
	assert.NotEmpty(t, doc.ID, "an ID is generated")
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := storage.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cell Biology", got.Title)
	assert.Equal(t, "bio.md", got.SourcePath)
	assert.Equal(t, doc.ContentHash, got.ContentHash)

	byHash, err := storage.GetDocumentByHash(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	doc.Title = "Cell Biology, 2nd ed."
	require.NoError(t, storage.UpsertDocument(ctx, doc))
	got, err = storage.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cell Biology, 2nd ed.", got.Title)

	docs, err := storage.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, storage.DeleteDocument(ctx, doc.ID))
	_, err = storage.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, storage.DeleteDocument(ctx, doc.ID), ErrNotFound)
}

func TestEmbeddingUpsertReplaces(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := seedDocument(t, storage, "doc-1", "Doc", map[string][]float32{"Intro": {1, 0}}, []string{"Intro"})
	sections, err := storage.ListSectionsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	sectionID := sections[0].ID

	emb, err := storage.GetEmbedding(ctx, sectionID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, DeserializeVector(emb.Vector))
	assert.Equal(t, 2, emb.Dimension)

	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
		SectionID: sectionID,
		Vector:    SerializeVector([]float32{0, 1, 0}),
		Dimension: 3,
		Provider:  "remote",
		Model:     "embed-v2",
	}))
	emb, err = storage.GetEmbedding(ctx, sectionID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, DeserializeVector(emb.Vector))
	assert.Equal(t, "embed-v2", emb.Model)

	_, err = storage.GetEmbedding(ctx, sectionID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSectionUpsertKeepsID(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := &Document{ID: "doc-1", Title: "Doc", ContentHash: sha256.Sum256([]byte("doc"))}
	require.NoError(t, storage.UpsertDocument(ctx, doc))

	sec := &Section{DocumentID: "doc-1", Key: "doc-1:0", Heading: "Intro", Content: "first", Position: 0}
	require.NoError(t, storage.UpsertSection(ctx, sec))
	firstID := sec.ID

	again := &Section{DocumentID: "doc-1", Key: "doc-1:0", Heading: "Introduction", Content: "second", Position: 0}
	require.NoError(t, storage.UpsertSection(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err := storage.GetSection(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "Introduction", got.Heading)
	assert.Equal(t, "second", got.Content)
	assert.Equal(t, "Doc", got.DocumentTitle)

	_, err = storage.GetSection(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocumentCascades(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seedDocument(t, storage, "doc-1", "One", map[string][]float32{"a": {1, 0}, "b": {0, 1}}, []string{"a", "b"})

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.DocumentsCount)
	assert.Equal(t, 2, status.SectionsCount)
	assert.Equal(t, 2, status.EmbeddingsCount)

	require.NoError(t, storage.DeleteDocument(ctx, "doc-1"))

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.SectionsCount)
	assert.Zero(t, status.EmbeddingsCount)
	assert.False(t, status.Health.EmbeddingsAvailable)

	_, err = storage.SearchText(ctx, "section", 10, nil)
	require.NoError(t, err, "FTS stays consistent after cascade delete")
}

func TestListCorpusOrder(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seedDocument(t, storage, "doc-1", "One", map[string][]float32{"alpha": {1, 0}, "beta": {0, 1}}, []string{"alpha", "beta"})
	seedDocument(t, storage, "doc-2", "Two", map[string][]float32{"gamma": {0.6, 0.8}}, []string{"gamma"})

	entries, err := storage.ListCorpus(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "doc-1:0", entries[0].SectionID)
	assert.Equal(t, "doc-1:1", entries[1].SectionID)
	assert.Equal(t, "doc-2:0", entries[2].SectionID)
	assert.Equal(t, "One", entries[0].DocumentTitle)
	assert.Equal(t, "alpha", entries[0].Heading)
	assert.Equal(t, []float32{1, 0}, entries[0].Embedding.Vector)
	assert.Equal(t, "test", entries[0].Embedding.Model)
	assert.Equal(t, 1, entries[0].PageNumber)
	assert.NotEmpty(t, entries[0].FullText)
	for _, e := range entries {
		assert.NoError(t, e.Validate())
	}
}

func TestCorpusVersionBump(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	v, err := storage.BumpCorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	v, err = storage.BumpCorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), status.CorpusVersion)
	assert.Equal(t, BuildMode, status.BuildMode)
}

func TestTransactionRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)

	doc := &Document{ID: "doc-tx", Title: "Tx", ContentHash: sha256.Sum256([]byte("tx"))}
	require.NoError(t, tx.UpsertDocument(ctx, doc))
	_, err = tx.BumpCorpusVersion(ctx)
	require.NoError(t, err)

	got, err := tx.GetDocument(ctx, "doc-tx")
	require.NoError(t, err)
	assert.Equal(t, "Tx", got.Title)

	require.NoError(t, tx.Rollback())

	_, err = storage.GetDocument(ctx, "doc-tx")
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := storage.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestTransactionCommit(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	seedDocument(t, tx, "doc-1", "One", map[string][]float32{"a": {1, 0}}, []string{"a"})
	_, err = tx.BumpCorpusVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	entries, err := storage.ListCorpus(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err, "nested transactions are rejected")
}
