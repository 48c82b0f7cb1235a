package ranking

import (
	"sort"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// Default thresholds
const (
	DefaultThreshold   = 0.65
	DefaultMaxSentence = 3 // snippet length in sentences
)

// options holds optional ranking behaviour. The zero value ranks every entry
// that clears the threshold.
type options struct {
	limit           int
	dedupeHeadings  bool
	excludeDocument string
	query           string
	snippetLen      int
}

// Option configures Rank.
type Option func(*options)

// WithLimit keeps at most n results. n <= 0 means no limit.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithDedupeHeadings keeps only the best hit per document+heading.
func WithDedupeHeadings() Option {
	return func(o *options) { o.dedupeHeadings = true }
}

// WithExcludeDocument drops entries belonging to documentID.
func WithExcludeDocument(documentID string) Option {
	return func(o *options) { o.excludeDocument = documentID }
}

// WithSnippets extracts query-focused snippets from entries that carry full text.
func WithSnippets(query string, maxSentences int) Option {
	return func(o *options) {
		o.query = query
		o.snippetLen = maxSentences
	}
}

// candidate represents an entry with its similarity score and corpus position
type candidate struct {
	index int
	score float64
}

// Rank scores every corpus entry against query, keeps entries with
// score >= threshold and orders them by descending score. Entries with equal
// scores keep corpus order. The corpus is never mutated.
func Rank(query []float32, corpus []types.CorpusEntry, threshold float64, opts ...Option) []types.SearchResult {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	candidates := make([]candidate, 0, len(corpus))
	for i := range corpus {
		entry := &corpus[i]
		if o.excludeDocument != "" && entry.DocumentID == o.excludeDocument {
			continue
		}

		score := CosineSimilarity(query, entry.Embedding.Vector)
		if !(score >= threshold) {
			continue
		}
		candidates = append(candidates, candidate{index: i, score: score})
	}

	sortCandidates(candidates)

	results := make([]types.SearchResult, 0, len(candidates))
	seen := make(map[string]struct{})
	for _, c := range candidates {
		entry := &corpus[c.index]

		if o.dedupeHeadings {
			key := entry.DocumentID + "\x00" + entry.Heading
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		results = append(results, toResult(entry, c.score, &o))

		if o.limit > 0 && len(results) >= o.limit {
			break
		}
	}

	return results
}

// toResult builds the canonical result for a scored entry
func toResult(entry *types.CorpusEntry, score float64, o *options) types.SearchResult {
	snippet := entry.SnippetText
	if o.snippetLen > 0 && entry.FullText != "" {
		snippet = ExtractSnippet(entry.FullText, o.query, o.snippetLen)
	}

	body := entry.FullText
	if body == "" {
		body = entry.SnippetText
	}

	return types.SearchResult{
		DocumentID:    entry.DocumentID,
		DocumentTitle: entry.DocumentTitle,
		SectionID:     entry.SectionID,
		Heading:       entry.Heading,
		Snippet:       snippet,
		PageNumber:    entry.PageNumber,
		Score:         clampScore(score),
		RelevanceType: ClassifyRelevance(body),
	}
}

// sortCandidates sorts candidates by score in descending order.
// sort.SliceStable keeps corpus order for ties.
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
}
