package types

import (
	"errors"
	"fmt"
	"strings"
)

// SearchMode selects how a query is answered.
type SearchMode string

const (
	// ModeSemantic embeds the query and ranks the corpus snapshot locally.
	ModeSemantic SearchMode = "semantic"
	// ModeKeyword asks the backend's keyword index; its order is authoritative.
	ModeKeyword SearchMode = "keyword"
	// ModeRelated asks the backend's related-sections endpoint.
	ModeRelated SearchMode = "related"
)

// ErrInvalidMode is returned by ParseSearchMode for unknown names.
var ErrInvalidMode = errors.New("invalid search mode")

// Valid reports whether m is a known mode.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeSemantic, ModeKeyword, ModeRelated:
		return true
	}
	return false
}

// ParseSearchMode parses a mode name case-insensitively. Empty means semantic.
func ParseSearchMode(s string) (SearchMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeSemantic, nil
	}
	m := SearchMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q (want semantic, keyword or related)", ErrInvalidMode, s)
	}
	return m, nil
}
