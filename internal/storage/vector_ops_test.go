package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVectorTestData(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage := setupTestDB(t)
	seedDocument(t, storage, "doc-1", "Biology",
		map[string][]float32{"mitochondria": {1, 0, 0}, "ribosomes": {0.8, 0.6, 0}},
		[]string{"mitochondria", "ribosomes"})
	seedDocument(t, storage, "doc-2", "Physics",
		map[string][]float32{"entropy": {0, 0, 1}, "energy": {1, 0, 0}},
		[]string{"entropy", "energy"})
	return storage
}

func sectionKeys(t *testing.T, s *SQLiteStorage, results []VectorResult) []string {
	t.Helper()
	keys := make([]string, len(results))
	for i, r := range results {
		sec, err := s.GetSection(context.Background(), r.SectionID)
		require.NoError(t, err)
		keys[i] = sec.Key
	}
	return keys
}

func TestSearchVectorFallback(t *testing.T) {
	storage := setupVectorTestData(t)
	ctx := context.Background()
	query := []float32{1, 0, 0}

	testCases := []struct {
		name    string
		filters *SearchFilters
		limit   int
		want    []string
	}{
		{
			name:  "ties keep corpus order",
			limit: 10,
			want:  []string{"doc-1:0", "doc-2:1", "doc-1:1", "doc-2:0"},
		},
		{
			name:  "limit truncates",
			limit: 2,
			want:  []string{"doc-1:0", "doc-2:1"},
		},
		{
			name:    "exclude document",
			filters: &SearchFilters{ExcludeDocumentID: "doc-1"},
			limit:   10,
			want:    []string{"doc-2:1", "doc-2:0"},
		},
		{
			name:    "restrict documents",
			filters: &SearchFilters{DocumentIDs: []string{"doc-1"}},
			limit:   10,
			want:    []string{"doc-1:0", "doc-1:1"},
		},
		{
			name:    "minimum relevance",
			filters: &SearchFilters{MinRelevance: 0.7},
			limit:   0,
			want:    []string{"doc-1:0", "doc-2:1", "doc-1:1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results, err := searchVectorFallback(ctx, storage.db, query, tc.limit, tc.filters)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sectionKeys(t, storage, results))
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].SimilarityScore, results[i].SimilarityScore)
			}
		})
	}
}

func TestSearchVectorScores(t *testing.T) {
	storage := setupVectorTestData(t)

	results, err := storage.SearchVector(context.Background(), []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.InDelta(t, 0.8, results[2].SimilarityScore, 1e-5)
	// orthogonal vectors clamp at zero
	assert.InDelta(t, 0.0, results[3].SimilarityScore, 1e-6)
}

func TestSearchVectorDimensionMismatch(t *testing.T) {
	storage := setupVectorTestData(t)

	results, err := storage.SearchVector(context.Background(), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestVectorSearchOptimization verifies that the optimized vector search produces
// the same ranking as the fallback implementation
func TestVectorSearchOptimization(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	storage := setupVectorTestData(t)
	ctx := context.Background()
	query := []float32{0.9, 0.1, 0.2}

	for _, filters := range []*SearchFilters{nil, {ExcludeDocumentID: "doc-2"}, {MinRelevance: 0.5}} {
		optimized, err := searchVectorOptimized(ctx, storage.db, query, 10, filters)
		require.NoError(t, err)
		fallback, err := searchVectorFallback(ctx, storage.db, query, 10, filters)
		require.NoError(t, err)

		require.Len(t, optimized, len(fallback))
		for i := range fallback {
			assert.Equal(t, fallback[i].SectionID, optimized[i].SectionID)
			assert.InDelta(t, fallback[i].SimilarityScore, optimized[i].SimilarityScore, 1e-4)
		}
	}
}

func TestSearchText(t *testing.T) {
	storage := setupVectorTestData(t)
	ctx := context.Background()

	results, err := storage.SearchText(ctx, "entropy", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	sec, err := storage.GetSection(ctx, results[0].SectionID)
	require.NoError(t, err)
	assert.Equal(t, "doc-2:0", sec.Key)
	assert.Greater(t, results[0].BM25Score, 0.0)
	assert.Less(t, results[0].BM25Score, 1.0)

	results, err = storage.SearchText(ctx, "entropy", 10, &SearchFilters{ExcludeDocumentID: "doc-2"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTextBetterMatchRanksFirst(t *testing.T) {
	storage := setupVectorTestData(t)
	ctx := context.Background()

	// every section mentions "section"; only one mentions both terms
	results, err := storage.SearchText(ctx, "ribosomes section", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top, err := storage.GetSection(ctx, results[0].SectionID)
	require.NoError(t, err)
	assert.Equal(t, "ribosomes", top.Heading)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[0].BM25Score, results[i].BM25Score)
	}
}

func TestSearchTextEmptyQuery(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.SearchText(context.Background(), "  ?!  ", 10, nil)
	assert.Error(t, err)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cell biology", `"cell" OR "biology"`},
		{"cats AND dogs", `"cats" OR "and" OR "dogs"`},
		{`the "quoted" (term)*`, `"the" OR "quoted" OR "term"`},
		{"repeat repeat", `"repeat"`},
		{"don't", `"don't"`},
		{"***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.input))
		})
	}
}

func TestSerializeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.125}
	blob := SerializeVector(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, DeserializeVector(blob))
	assert.Empty(t, DeserializeVector(nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-0.5))
	assert.Equal(t, 1.0, clamp(1.0000001))
	assert.Equal(t, 0.42, clamp(0.42))
}
