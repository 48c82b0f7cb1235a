package ranking

import (
	"strings"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// Indicator phrases, checked in order: contradiction, example, extension.
var (
	contradictionIndicators = []string{"however", "but", "contrary", "opposite", "disagree", "conflict", "whereas"}
	exampleIndicators       = []string{"for example", "for instance", "such as", "e.g.", "i.e.", "specifically"}
	extensionIndicators     = []string{"furthermore", "moreover", "additionally", "extends", "builds upon"}
)

// ClassifyRelevance labels how a related passage relates to the selection.
func ClassifyRelevance(content string) string {
	lower := strings.ToLower(content)
	words := tokenSet(lower)

	for _, ind := range contradictionIndicators {
		if containsIndicator(lower, words, ind) {
			return types.RelevanceContradiction
		}
	}
	for _, ind := range exampleIndicators {
		if containsIndicator(lower, words, ind) {
			return types.RelevanceExample
		}
	}
	for _, ind := range extensionIndicators {
		if containsIndicator(lower, words, ind) {
			return types.RelevanceExtension
		}
	}
	return types.RelevanceRelated
}

// containsIndicator matches single words as whole tokens so "but" does not hit "button"
func containsIndicator(lower string, words map[string]struct{}, indicator string) bool {
	if strings.ContainsAny(indicator, " .") {
		return strings.Contains(lower, indicator)
	}
	_, ok := words[indicator]
	return ok
}
