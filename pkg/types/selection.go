package types

import (
	"strings"
	"unicode/utf8"
)

// Point is an optional position hint inside the rendered page.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Selection is one text selection made by the reader. A newer selection supersedes
// an older one; selections are never mutated.
type Selection struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id,omitempty"`
	PageNumber *int   `json:"page_number,omitempty"`
	Position   *Point `json:"position,omitempty"`
}

// NewSelection builds a Selection with its text normalised.
func NewSelection(text, documentID string) Selection {
	return Selection{Text: NormalizeText(text), DocumentID: documentID}
}

// Normalized returns a copy of s with normalised text.
func (s Selection) Normalized() Selection {
	s.Text = NormalizeText(s.Text)
	return s
}

// Len returns the selection length in runes.
func (s Selection) Len() int {
	return utf8.RuneCountInString(s.Text)
}

// SameQuery reports whether two selections would issue the same query.
func (s Selection) SameQuery(other Selection) bool {
	return s.Text == other.Text && s.DocumentID == other.DocumentID
}

// NormalizeText trims the text and collapses internal whitespace runs to one space.
// The result is what gets embedded, so identical normalised text means identical vectors.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
