package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// wireResult accepts every field spelling the backends are known to emit.
type wireResult struct {
	DocumentID string `json:"document_id"`
	DocID      string `json:"doc_id"`

	DocumentTitle string `json:"document_title"`
	DocTitle      string `json:"doc_title"`
	Title         string `json:"title"`

	SectionID string `json:"section_id"`
	Heading   string `json:"heading"`

	Snippet string `json:"snippet"`
	Excerpt string `json:"excerpt"`

	PageNumber *int `json:"page_number"`
	PageNum    *int `json:"page_num"`
	Page       *int `json:"page"`

	Similarity      *float64 `json:"similarity"`
	SimilarityScore *float64 `json:"similarity_score"`
	Score           *float64 `json:"score"`

	RelevanceType string `json:"relevance_type"`
}

func (w *wireResult) toResult() types.SearchResult {
	return types.SearchResult{
		DocumentID:    firstNonEmpty(w.DocumentID, w.DocID),
		DocumentTitle: firstNonEmpty(w.DocumentTitle, w.DocTitle, w.Title),
		SectionID:     w.SectionID,
		Heading:       w.Heading,
		Snippet:       firstNonEmpty(w.Snippet, w.Excerpt),
		PageNumber:    firstInt(w.PageNumber, w.PageNum, w.Page),
		Score:         clamp(firstFloat(w.Similarity, w.SimilarityScore, w.Score)),
		RelevanceType: w.RelevanceType,
	}
}

// wireEntry is one corpus section with its embedding.
type wireEntry struct {
	wireResult

	SnippetText string `json:"snippet_text"`
	Content     string `json:"content"`
	FullText    string `json:"full_text"`

	Embedding json.RawMessage `json:"embedding"`
	Vector    []float32       `json:"vector"`
	Model     string          `json:"model"`
}

func (w *wireEntry) toEntry() (types.CorpusEntry, error) {
	vector, err := w.vector()
	if err != nil {
		return types.CorpusEntry{}, err
	}

	r := w.toResult()
	entry := types.CorpusEntry{
		DocumentID:    r.DocumentID,
		DocumentTitle: r.DocumentTitle,
		SectionID:     r.SectionID,
		Heading:       r.Heading,
		SnippetText:   firstNonEmpty(w.SnippetText, r.Snippet),
		FullText:      firstNonEmpty(w.FullText, w.Content),
		PageNumber:    r.PageNumber,
		Embedding: types.Embedding{
			Vector: vector,
			Model:  w.Model,
		},
	}
	return entry, nil
}

// vector reads "embedding" as either a bare array or {"vector": [...]},
// falling back to a top-level "vector" field.
func (w *wireEntry) vector() ([]float32, error) {
	raw := bytes.TrimSpace(w.Embedding)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return w.Vector, nil
	}

	if raw[0] == '[' {
		var v []float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		return v, nil
	}

	var obj struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return obj.Vector, nil
}

// decodeList decodes either a bare JSON array or an object wrapping the array
// under one of keys.
func decodeList[T any](body []byte, keys ...string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if bytes.Equal(body, []byte("null")) {
		return []T{}, nil
	}

	if body[0] == '[' {
		var list []T
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	for _, k := range keys {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	return nil, fmt.Errorf("response has none of %v", keys)
}

func decodeResults(body []byte) ([]types.SearchResult, error) {
	wire, err := decodeList[wireResult](body, "results", "related_sections", "data")
	if err != nil {
		return nil, err
	}
	results := make([]types.SearchResult, 0, len(wire))
	for i := range wire {
		results = append(results, wire[i].toResult())
	}
	return results, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func clamp(s float64) float64 {
	if s < 0 || s != s {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
