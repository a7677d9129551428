package contextgen

import (
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "to": {}, "of": {}, "in": {},
	"and": {}, "for": {}, "on": {}, "with": {}, "how": {}, "what": {}, "does": {},
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, raw := range strings.Fields(strings.ToLower(s)) {
		tok := strings.Trim(raw, ".,;:!?()[]{}\"'`")
		if tok == "" {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// scoreByKeywordOverlap scores each candidate by the Jaccard overlap
// between its tokenized content and the task's tokens, replacing each
// candidate's score with that overlap. The candidates keep their input
// order.
func scoreByKeywordOverlap(task string, candidates []doctype.RankedResult) []doctype.RankedResult {
	taskTokens := tokenize(task)
	if len(taskTokens) == 0 {
		return candidates
	}

	scored := make([]doctype.RankedResult, 0, len(candidates))
	for _, c := range candidates {
		contentTokens := tokenize(c.Fragment.Content)
		overlap := jaccard(taskTokens, contentTokens)
		c.Score = overlap
		scored = append(scored, c)
	}
	return scored
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
