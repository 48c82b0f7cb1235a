package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

func TestExtractSnippet(t *testing.T) {
	content := "The viewer renders every page of the document. " +
		"Selections shorter than ten characters are ignored entirely. " +
		"A debounce timer waits for the reader to stop selecting. " +
		"Stale responses from the network are dropped by generation. " +
		"Uploads are handled by a separate document service."

	tests := []struct {
		name         string
		content      string
		query        string
		maxSentences int
		want         string
	}{
		{
			name:         "short content returned unchanged",
			content:      "  One sentence that is long enough to count.  ",
			query:        "anything",
			maxSentences: 3,
			want:         "One sentence that is long enough to count.",
		},
		{
			name:         "window around best sentence",
			content:      content,
			query:        "debounce timer",
			maxSentences: 3,
			want: "...Selections shorter than ten characters are ignored entirely. " +
				"A debounce timer waits for the reader to stop selecting. " +
				"Stale responses from the network are dropped by generation....",
		},
		{
			name:         "best sentence at start",
			content:      content,
			query:        "viewer renders page",
			maxSentences: 2,
			want: "The viewer renders every page of the document. " +
				"Selections shorter than ten characters are ignored entirely....",
		},
		{
			name:         "best sentence at end",
			content:      content,
			query:        "uploads document service",
			maxSentences: 2,
			want: "...Stale responses from the network are dropped by generation. " +
				"Uploads are handled by a separate document service.",
		},
		{
			name:         "no query terms falls back to first sentence",
			content:      content,
			query:        "",
			maxSentences: 1,
			want:         "The viewer renders every page of the document....",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSnippet(tt.content, tt.query, tt.maxSentences))
		})
	}
}

func TestSplitSentencesDropsFragments(t *testing.T) {
	got := splitSentences("Intro. This sentence is comfortably long enough! Ok? Another long enough sentence here.")
	assert.Equal(t, []string{
		"This sentence is comfortably long enough!",
		"Another long enough sentence here.",
	}, got)
}

func TestClassifyRelevance(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"However, the opposite result was observed.", types.RelevanceContradiction},
		{"Many caches, for example an LRU, evict entries.", types.RelevanceExample},
		{"Furthermore the design scales to many readers.", types.RelevanceExtension},
		{"The button renders a toolbar.", types.RelevanceRelated},
		{"Plain descriptive passage.", types.RelevanceRelated},
	}

	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRelevance(tt.content))
		})
	}
}
