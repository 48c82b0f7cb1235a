// Package ranking scores a corpus snapshot against a query vector.
//
// Rank is the whole algorithm: cosine similarity per entry, a threshold filter
// (inclusive), and a stable descending sort so equal scores keep corpus order.
// Ranking the same inputs twice yields the same ordered output.
//
//	results := ranking.Rank(queryVec, corpus, 0.65)
//
// Optional behaviour is opt-in:
//
//	results := ranking.Rank(queryVec, corpus, 0.65,
//	    ranking.WithLimit(5),
//	    ranking.WithDedupeHeadings(),
//	    ranking.WithSnippets(selectedText, 3),
//	)
//
// Scores are cosine values on the [0,1] display scale and are not re-normalised
// after filtering. ExtractSnippet and ClassifyRelevance are also usable on their own.
package ranking
