package types

import "errors"

// Retrieval error taxonomy. Callers match with errors.Is; producers wrap with %w.
var (
	// ErrEmbeddingUnavailable is returned when the remote embedding call fails or times out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrCorpusUnavailable is returned when the corpus or keyword endpoint cannot be reached.
	ErrCorpusUnavailable = errors.New("corpus unavailable")
	// ErrInvalidSelection is returned for empty or too-short selections. Not user visible.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrCancelled marks work superseded by a newer selection. Control flow, not a failure.
	ErrCancelled = errors.New("cancelled")
)

// Domain errors for type validation
var (
	ErrInvalidScore      = errors.New("score must be between 0 and 1")
	ErrMissingDocumentID = errors.New("document ID is required")
	ErrMissingSectionID  = errors.New("section ID is required")
	ErrEmptyVector       = errors.New("embedding vector cannot be empty")
)

// IsUserVisible reports whether err should be surfaced to the reader.
// InvalidSelection and Cancelled are handled locally.
func IsUserVisible(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidSelection) && !errors.Is(err, ErrCancelled)
}
