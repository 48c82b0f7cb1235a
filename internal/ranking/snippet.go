package ranking

import (
	"regexp"
	"strings"
	"unicode"
)

// minSentenceLen drops fragments such as headings and list markers.
const minSentenceLen = 20

var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// ExtractSnippet returns the sentences of content most relevant to query:
// the best-scoring sentence plus its neighbours, up to maxSentences.
// Ellipses mark text cut at either end. Content that is already short enough
// is returned unchanged.
func ExtractSnippet(content, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentence
	}

	sentences := splitSentences(content)
	if len(sentences) <= maxSentences {
		return strings.TrimSpace(content)
	}

	best := bestSentence(sentences, query)
	start, end := window(best, len(sentences), maxSentences)

	snippet := strings.Join(sentences[start:end], " ")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(sentences) {
		snippet += "..."
	}
	return snippet
}

// splitSentences splits text on sentence punctuation and drops short fragments
func splitSentences(text string) []string {
	marked := sentenceBoundary.ReplaceAllString(text, "$1\n")
	parts := strings.Split(marked, "\n")

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > minSentenceLen {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// bestSentence returns the index of the sentence sharing the most query terms.
// The first sentence wins ties.
func bestSentence(sentences []string, query string) int {
	terms := tokenSet(query)
	if len(terms) == 0 {
		return 0
	}

	best, bestScore := 0, -1.0
	for i, s := range sentences {
		overlap := 0
		for tok := range tokenSet(s) {
			if _, ok := terms[tok]; ok {
				overlap++
			}
		}
		score := float64(overlap) / float64(len(terms))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// window grows a range around center, alternating before and after
func window(center, total, size int) (int, int) {
	start, end := center, center+1
	for step := 1; end-start < size; step++ {
		grew := false
		if center-step >= 0 {
			start = center - step
			grew = true
		}
		if end-start >= size {
			break
		}
		if center+step < total {
			end = center + step + 1
			grew = true
		}
		if !grew {
			break
		}
	}
	return start, end
}

// tokenSet lowercases text and returns its distinct word tokens
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
