package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normal", "hello world", "hello world"},
		{"trims", "  hello world \n", "hello world"},
		{"collapses runs", "hello \t\n  world", "hello world"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestSelection(t *testing.T) {
	sel := NewSelection("  naïve   café  ", "doc-1")
	assert.Equal(t, "naïve café", sel.Text)
	assert.Equal(t, 10, sel.Len(), "length counts runes, not bytes")

	assert.True(t, sel.SameQuery(Selection{Text: "naïve café", DocumentID: "doc-1"}))
	assert.False(t, sel.SameQuery(Selection{Text: "naïve café", DocumentID: "doc-2"}))
	assert.False(t, sel.SameQuery(Selection{Text: "naive cafe", DocumentID: "doc-1"}))
}

func TestSearchResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  SearchResult
		wantErr error
	}{
		{"valid", SearchResult{DocumentID: "d", SectionID: "s", Score: 0.5}, nil},
		{"score upper bound", SearchResult{DocumentID: "d", SectionID: "s", Score: 1}, nil},
		{"missing document", SearchResult{SectionID: "s", Score: 0.5}, ErrMissingDocumentID},
		{"missing section", SearchResult{DocumentID: "d", Score: 0.5}, ErrMissingSectionID},
		{"negative score", SearchResult{DocumentID: "d", SectionID: "s", Score: -0.1}, ErrInvalidScore},
		{"score above one", SearchResult{DocumentID: "d", SectionID: "s", Score: 1.01}, ErrInvalidScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.result.Validate())
		})
	}
}

func TestCloneResults(t *testing.T) {
	assert.Nil(t, CloneResults(nil))

	src := []SearchResult{{DocumentID: "a"}, {DocumentID: "b"}}
	dst := CloneResults(src)
	dst[0].DocumentID = "changed"
	assert.Equal(t, "a", src[0].DocumentID)
}

func TestCorpusEntryValidate(t *testing.T) {
	entry := CorpusEntry{DocumentID: "d", SectionID: "s", Embedding: Embedding{Vector: []float32{1}}}
	assert.NoError(t, entry.Validate())

	entry.Embedding.Vector = nil
	assert.ErrorIs(t, entry.Validate(), ErrEmptyVector)
}

func TestIsUserVisible(t *testing.T) {
	assert.False(t, IsUserVisible(nil))
	assert.False(t, IsUserVisible(ErrCancelled))
	assert.False(t, IsUserVisible(fmt.Errorf("%w: too short", ErrInvalidSelection)))
	assert.True(t, IsUserVisible(fmt.Errorf("%w: timeout", ErrEmbeddingUnavailable)))
	assert.True(t, IsUserVisible(errors.New("boom")))
}

func TestParseSearchMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SearchMode
		wantErr bool
	}{
		{"", ModeSemantic, false},
		{"semantic", ModeSemantic, false},
		{" Keyword ", ModeKeyword, false},
		{"RELATED", ModeRelated, false},
		{"hybrid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSearchMode(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidMode))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
