package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/selectsense-mcp/internal/ranking"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, queryVector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, queryVector, limit, filters)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better), converted to similarity
	query := `
		SELECT
			s.id as section_id,
			1.0 - vec_distance_cosine(e.vector, ?) as similarity
		FROM sections s
		INNER JOIN embeddings e ON s.id = e.section_id
		WHERE e.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(queryVector)}
	query, args = applyFilters(query, args, filters)

	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
		args = append(args, queryVectorBlob, filters.MinRelevance)
	}

	// Ties keep corpus order, matching the in-process ranking
	query += " ORDER BY similarity DESC, s.document_id, s.position LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.SectionID, &result.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		result.SimilarityScore = clamp(result.SimilarityScore)
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT
			s.id as section_id,
			e.vector
		FROM sections s
		INNER JOIN embeddings e ON s.id = e.section_id
		INNER JOIN documents d ON s.document_id = d.id
		WHERE e.dimension = ?
	`
	args := []interface{}{len(queryVector)}
	query, args = applyFilters(query, args, filters)
	query += " ORDER BY d.created_at, d.id, s.position"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// searchText performs BM25 full-text search using FTS5
func searchText(ctx context.Context, q querier, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = -1
	}

	sqlQuery := `
		SELECT
			s.id as section_id,
			bm25(sections_fts) as score
		FROM sections_fts
		INNER JOIN sections s ON sections_fts.rowid = s.id
		WHERE sections_fts MATCH ?
	`
	args := []interface{}{sanitized}
	sqlQuery, args = applyFilters(sqlQuery, args, filters)

	// Order by BM25 score (lower is better) and limit
	sqlQuery += " ORDER BY score, s.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, filters)
}

// Helper functions

// applyFilters adds document WHERE clause filters; the query must alias sections as s
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if len(filters.DocumentIDs) > 0 {
		query += " AND s.document_id IN (" + placeholders(len(filters.DocumentIDs)) + ")"
		for _, id := range filters.DocumentIDs {
			args = append(args, id)
		}
	}

	if filters.ExcludeDocumentID != "" {
		query += " AND s.document_id != ?"
		args = append(args, filters.ExcludeDocumentID)
	}

	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var sectionID int64
		var vectorBlob []byte
		if err := rows.Scan(&sectionID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		similarity := clamp(ranking.CosineSimilarity(queryVector, vector))

		if filters != nil && filters.MinRelevance > 0 && similarity < filters.MinRelevance {
			continue
		}

		candidates = append(candidates, candidate{sectionID: sectionID, score: similarity})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates VectorResult slice from candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	// Handle negative or zero limit - return all candidates
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			SectionID:       candidates[i].sectionID,
			SimilarityScore: candidates[i].score,
		}
	}
	return results
}

// collectTextResults processes text search results and normalizes scores
func collectTextResults(rows *sql.Rows, filters *SearchFilters) ([]TextResult, error) {
	results := make([]TextResult, 0)

	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.SectionID, &result.BM25Score); err != nil {
			return nil, err
		}

		// BM25 is negative and lower is better; map magnitude onto [0, 1)
		raw := math.Abs(result.BM25Score)
		result.BM25Score = raw / (raw + 1)

		if filters != nil && filters.MinRelevance > 0 && result.BM25Score < filters.MinRelevance {
			continue
		}

		results = append(results, result)
	}

	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// candidate represents a section with its similarity score
type candidate struct {
	sectionID int64
	score     float64
}

// sortCandidates sorts by score descending; equal scores keep corpus order
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
}

// FTS5 operator pattern for escaping Boolean operators
var ftsOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// ftsTokenPattern keeps letters, digits and intra-word apostrophes
var ftsTokenPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// sanitizeFTSQuery turns free text into an FTS5 OR query of quoted terms.
// Quoting neutralises operators and special characters.
func sanitizeFTSQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, -1)
	terms := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tok = strings.Trim(tok, "'")
		if tok == "" {
			continue
		}
		// operators are lowered so they match as words
		if ftsOperatorPattern.MatchString(tok) {
			tok = strings.ToLower(tok)
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SerializeVector encodes a vector for the embeddings table
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a vector from the embeddings table
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
