package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dshills/selectsense-mcp/internal/chunker"
	"github.com/dshills/selectsense-mcp/internal/indexer"
	"github.com/dshills/selectsense-mcp/internal/ranking"
	"github.com/dshills/selectsense-mcp/internal/storage"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

// overFetch widens vector search so deduplication still fills the page
const overFetch = 3

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model,omitempty"`
}

type relatedRequest struct {
	DocumentID   string   `json:"document_id"`
	SelectedText string   `json:"selected_text"`
	DocumentIDs  []string `json:"document_ids"`
	MaxResults   int      `json:"max_results"`
}

type relatedResponse struct {
	SelectedText   string               `json:"selected_text"`
	DocumentID     string               `json:"document_id"`
	Results        []types.SearchResult `json:"results"`
	ProcessingTime float64              `json:"processing_time"`
	FromCache      bool                 `json:"from_cache"`
}

type createDocumentRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Text   string `json:"text"`
	Format string `json:"format"` // "markdown" or "text"; inferred from path when empty
}

type documentResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SourcePath   string    `json:"source_path,omitempty"`
	SectionCount int       `json:"section_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type navigateResponse struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	SectionID     string `json:"section_id"`
	Heading       string `json:"heading"`
	PageNumber    int    `json:"page_number"`
	Content       string `json:"content"`
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := "healthy"
	httpStatus := http.StatusOK

	st, err := s.store.GetStatus(ctx)
	if err != nil {
		s.logger.Warn("health check failed", "request_id", requestID(c), "error", err)
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		st = &storage.Status{BuildMode: storage.BuildMode}
	}

	c.JSON(httpStatus, gin.H{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"database":       st.Health.DatabaseAccessible,
		"embeddings":     st.Health.EmbeddingsAvailable,
		"embedder_model": s.embedder.Model(),
		"corpus_version": st.CorpusVersion,
		"build_mode":     st.BuildMode,
		"indexing":       s.indexer.Busy(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.store.GetStatus(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents":      st.DocumentsCount,
		"sections":       st.SectionsCount,
		"embeddings":     st.EmbeddingsCount,
		"corpus_version": st.CorpusVersion,
		"index_size_mb":  st.IndexSizeMB,
		"build_mode":     st.BuildMode,
		"fts_indexed":    st.Health.FTSIndexesBuilt,
		"related_cache": gin.H{
			"entries": s.related.Len(),
			"hits":    s.relatedHits.Load(),
			"misses":  s.relatedMisses.Load(),
		},
	})
}

func (s *Server) embed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	text := types.NormalizeText(req.Text)
	if text == "" {
		s.fail(c, http.StatusBadRequest, "text is required", nil)
		return
	}

	emb, err := s.embedder.Embed(c.Request.Context(), text)
	if err != nil {
		s.fail(c, embedStatus(err), "embedding failed", err)
		return
	}
	c.JSON(http.StatusOK, embedResponse{Embedding: emb.Vector, Model: emb.Model})
}

func (s *Server) embeddings(c *gin.Context) {
	ctx := c.Request.Context()
	entries, err := s.store.ListCorpus(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to list corpus", err)
		return
	}
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read corpus version", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"version": version,
		"count":   len(entries),
	})
}

func (s *Server) search(c *gin.Context) {
	start := time.Now()
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		s.fail(c, http.StatusBadRequest, "query parameter is required", nil)
		return
	}
	limit := s.cfg.MaxResults
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(c, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	hits, err := s.store.SearchText(ctx, query, limit, nil)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "keyword search failed", err)
		return
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		sec, err := s.store.GetSection(ctx, hit.SectionID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.fail(c, http.StatusInternalServerError, "failed to load section", err)
			return
		}
		r := sec.ToSearchResult(hit.BM25Score)
		r.Snippet = ranking.ExtractSnippet(sec.Content, query, s.cfg.SnippetSentences)
		results = append(results, r)
	}

	processTime(c, start)
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
	})
}

func (s *Server) relatedSections(c *gin.Context) {
	start := time.Now()
	var req relatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	text := types.NormalizeText(req.SelectedText)
	if len([]rune(text)) < MinSelectionLength {
		s.fail(c, http.StatusBadRequest,
			fmt.Sprintf("selected text must be at least %d characters", MinSelectionLength), nil)
		return
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}

	ctx := c.Request.Context()
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read corpus version", err)
		return
	}

	key := relatedKey(version, req.DocumentID, text, req.DocumentIDs, maxResults)
	if cached, ok := s.related.Get(key); ok {
		s.relatedHits.Add(1)
		processTime(c, start)
		c.JSON(http.StatusOK, relatedResponse{
			SelectedText:   text,
			DocumentID:     req.DocumentID,
			Results:        types.CloneResults(cached),
			ProcessingTime: time.Since(start).Seconds(),
			FromCache:      true,
		})
		return
	}
	s.relatedMisses.Add(1)

	results, err := s.findRelated(ctx, text, req.DocumentIDs, maxResults)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrEmbeddingUnavailable) {
			status = embedStatus(err)
		}
		s.fail(c, status, "related search failed", err)
		return
	}
	s.related.Add(key, types.CloneResults(results))

	s.logger.Debug("related search",
		"request_id", requestID(c),
		"document_id", req.DocumentID,
		"results", len(results),
		"duration", time.Since(start))

	processTime(c, start)
	c.JSON(http.StatusOK, relatedResponse{
		SelectedText:   text,
		DocumentID:     req.DocumentID,
		Results:        results,
		ProcessingTime: time.Since(start).Seconds(),
	})
}

// findRelated embeds text and returns the best section per document+heading,
// ordered by descending score. The selection's own document is not excluded.
func (s *Server) findRelated(ctx context.Context, text string, documentIDs []string, maxResults int) ([]types.SearchResult, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.SearchVector(ctx, emb.Vector, maxResults*overFetch, &storage.SearchFilters{
		DocumentIDs:  documentIDs,
		MinRelevance: s.cfg.RelatedMinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	seen := make(map[string]struct{}, len(hits))
	results := make([]types.SearchResult, 0, maxResults)
	for _, hit := range hits {
		sec, err := s.store.GetSection(ctx, hit.SectionID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load section: %w", err)
		}
		dedupe := sec.DocumentID + "\x00" + sec.Heading
		if _, dup := seen[dedupe]; dup {
			continue
		}
		seen[dedupe] = struct{}{}

		r := sec.ToSearchResult(hit.SimilarityScore)
		r.Snippet = ranking.ExtractSnippet(sec.Content, text, s.cfg.SnippetSentences)
		r.RelevanceType = ranking.ClassifyRelevance(sec.Content)
		results = append(results, r)
		if len(results) == maxResults {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.store.ListDocuments(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to list documents", err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (s *Server) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	format, err := parseFormat(req.Format, req.Path)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := s.indexer.IndexDocument(c.Request.Context(), indexer.Source{
		ID:     req.ID,
		Title:  req.Title,
		Path:   req.Path,
		Text:   req.Text,
		Format: format,
	})
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		s.fail(c, http.StatusConflict, "another ingest is in progress", err)
		return
	case errors.Is(err, indexer.ErrEmptyDocument):
		s.fail(c, http.StatusBadRequest, "document text is required", err)
		return
	case errors.Is(err, indexer.ErrNoSections):
		s.fail(c, http.StatusUnprocessableEntity, "document has no indexable sections", err)
		return
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		s.fail(c, embedStatus(err), "embedding failed", err)
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, "ingest failed", err)
		return
	}

	if res.Skipped {
		c.Header(VersionHeader, strconv.FormatUint(res.CorpusVersion, 10))
		c.JSON(http.StatusOK, res)
		return
	}
	s.invalidate(c, res.CorpusVersion)
	c.JSON(http.StatusCreated, res)
}

func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	version, err := s.indexer.DeleteDocument(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(c, http.StatusNotFound, "document not found", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "delete failed", err)
		return
	}
	s.invalidate(c, version)
	c.JSON(http.StatusOK, gin.H{"deleted": id, "corpus_version": version})
}

// navigate resolves a section reference to the location a reader jumps to
func (s *Server) navigate(c *gin.Context) {
	docID, sectionID := c.Param("id"), c.Param("section_id")
	sections, err := s.store.ListSectionsByDocument(c.Request.Context(), docID)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to load sections", err)
		return
	}
	for _, sec := range sections {
		if sec.Key != sectionID {
			continue
		}
		c.JSON(http.StatusOK, navigateResponse{
			DocumentID:    sec.DocumentID,
			DocumentTitle: sec.DocumentTitle,
			SectionID:     sec.Key,
			Heading:       sec.Heading,
			PageNumber:    sec.PageNumber,
			Content:       sec.Content,
		})
		return
	}
	s.fail(c, http.StatusNotFound, "section not found", nil)
}

// fail writes a JSON error body. Server-side errors are logged with the request ID.
func (s *Server) fail(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"error": msg, "request_id": requestID(c)}
	if err != nil {
		_ = c.Error(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(msg, "request_id", requestID(c), "error", err)
		} else {
			body["detail"] = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// embedStatus maps embedding failures: timeouts become 504, everything else 502
func embedStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func relatedKey(version uint64, documentID, text string, documentIDs []string, maxResults int) string {
	ids := append([]string(nil), documentIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00%d", version, documentID, text, strings.Join(ids, ","), maxResults)
}

func parseFormat(format, path string) (chunker.Format, error) {
	switch strings.ToLower(format) {
	case "":
		if path == "" {
			return chunker.FormatMarkdown, nil
		}
		return chunker.FormatForPath(path), nil
	case "markdown", "md":
		return chunker.FormatMarkdown, nil
	case "text", "plain", "txt":
		return chunker.FormatPlainText, nil
	default:
		return 0, fmt.Errorf("unknown format %q", format)
	}
}

func toDocumentResponse(d *storage.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		Title:        d.Title,
		SourcePath:   d.SourcePath,
		SectionCount: d.SectionCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
