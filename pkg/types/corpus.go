package types

// Embedding is a vector produced by the remote model for SourceText.
// All embeddings in one corpus share the same dimension.
type Embedding struct {
	Vector     []float32 `json:"vector"`
	SourceText string    `json:"source_text,omitempty"`
	Model      string    `json:"model,omitempty"`
}

// Dimension returns the vector length.
func (e *Embedding) Dimension() int {
	if e == nil {
		return 0
	}
	return len(e.Vector)
}

// CorpusEntry is one indexed section with its embedding attached.
// Entries belong to a corpus snapshot and are treated as immutable.
type CorpusEntry struct {
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title,omitempty"`
	SectionID     string    `json:"section_id"`
	Heading       string    `json:"heading"`
	SnippetText   string    `json:"snippet_text"`
	FullText      string    `json:"full_text,omitempty"`
	PageNumber    int       `json:"page_number"`
	Embedding     Embedding `json:"embedding"`
}

// Validate checks the entry carries the identifiers and a vector.
func (c *CorpusEntry) Validate() error {
	if c.DocumentID == "" {
		return ErrMissingDocumentID
	}
	if c.SectionID == "" {
		return ErrMissingSectionID
	}
	if len(c.Embedding.Vector) == 0 {
		return ErrEmptyVector
	}
	return nil
}
