package types

// Relevance types attached to results by the ranking engine.
const (
	RelevanceRelated       = "related"
	RelevanceContradiction = "contradiction"
	RelevanceExample       = "example"
	RelevanceExtension     = "extension"
)

// SearchResult is the canonical shape of one related passage.
// Every wire format is normalised into this at the client edge.
type SearchResult struct {
	// Identification
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title,omitempty"`
	SectionID     string `json:"section_id"`

	// Content
	Heading    string `json:"heading"`
	Snippet    string `json:"snippet"`
	PageNumber int    `json:"page_number"`

	// Scoring
	Score         float64 `json:"score"` // cosine scale, [0,1]
	RelevanceType string  `json:"relevance_type,omitempty"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.DocumentID == "" {
		return ErrMissingDocumentID
	}

	if sr.SectionID == "" {
		return ErrMissingSectionID
	}

	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidScore
	}

	return nil
}

// Key identifies the section a result points at.
func (sr *SearchResult) Key() string {
	return sr.DocumentID + "/" + sr.SectionID
}

// CloneResults returns a copy of results that shares no backing array with the input.
// A nil input stays nil.
func CloneResults(results []SearchResult) []SearchResult {
	if results == nil {
		return nil
	}
	out := make([]SearchResult, len(results))
	copy(out, results)
	return out
}
