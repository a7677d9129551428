package contextgen

import (
	"fmt"
	"sort"

	"github.com/conexus-oss/docindex/internal/doctype"
)

const (
	weightScore   = 0.6
	weightRecency = 0.2
	weightKind    = 0.2
)

// postProcess applies priority weighting, relevance explanations, the
// weighted rank, and the caller's cap, in that order.
func (g *Generator) postProcess(results []doctype.RankedResult, q Query, limit int) []doctype.RankedResult {
	for i := range results {
		results[i].Score *= priorityWeight(results[i].Fragment, g.config.PriorityWeights)
		results[i].Explanation = explain(results[i], q)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return weightedRank(results[i]) > weightedRank(results[j])
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func priorityWeight(f *doctype.Fragment, custom map[string]float64) float64 {
	priority := doctype.Priority("medium")
	if f != nil && f.Metadata != nil {
		if p, ok := f.Metadata["priority"].(string); ok && p != "" {
			priority = doctype.Priority(p)
		}
	}
	return priority.Weight(custom)
}

// weightedRank combines raw score, last-modified recency, and fragment-kind
// affinity into the rank used to order the final result set.
func weightedRank(r doctype.RankedResult) float64 {
	recency := 0.0
	if r.Fragment != nil {
		if lm, ok := r.Fragment.Metadata["last_modified_unix_nano"].(int64); ok {
			recency = float64(lm) / 1e9
		}
	}
	kindAffinity := 0.4
	if r.Fragment != nil {
		kindAffinity = r.Fragment.Kind.RankWeight()
	}
	return r.Score*weightScore + recency*weightRecency + kindAffinity*weightKind
}

// explain derives a short, human-readable relevance explanation from the
// result's score band and metadata matches against the query.
func explain(r doctype.RankedResult, q Query) string {
	band := scoreBand(r.Score)
	reasons := []string{fmt.Sprintf("%s relevance (score %.2f)", band, r.Score)}

	if r.Fragment != nil && r.Fragment.Metadata != nil {
		if q.Framework != "" {
			if fw, ok := r.Fragment.Metadata["framework"].(string); ok && fw == q.Framework {
				reasons = append(reasons, fmt.Sprintf("matches framework %q", q.Framework))
			}
		}
		if q.Language != "" {
			if lang, ok := r.Fragment.Metadata["language"].(string); ok && lang == q.Language {
				reasons = append(reasons, fmt.Sprintf("matches language %q", q.Language))
			}
		}
		if p, ok := r.Fragment.Metadata["priority"].(string); ok && p == "high" {
			reasons = append(reasons, "high-priority source")
		}
	}

	out := reasons[0]
	for _, reason := range reasons[1:] {
		out += "; " + reason
	}
	return out
}

func scoreBand(score float64) string {
	switch {
	case score >= 0.8:
		return "strong"
	case score >= 0.5:
		return "moderate"
	default:
		return "weak"
	}
}

// computeConfidence aggregates half the mean score, a bonus when any
// result exceeds 0.8, and a bonus when results span more than one
// repository, capped at 1.0.
func computeConfidence(results []doctype.RankedResult) float64 {
	if len(results) == 0 {
		return 0
	}

	var sum float64
	var anyStrong bool
	repos := make(map[string]struct{})
	for _, r := range results {
		sum += r.Score
		if r.Score > 0.8 {
			anyStrong = true
		}
		if r.Fragment != nil {
			if repo, ok := r.Fragment.Metadata["repository"].(string); ok && repo != "" {
				repos[repo] = struct{}{}
			}
		}
	}
	mean := sum / float64(len(results))

	confidence := mean * 0.5
	if anyStrong {
		confidence += 0.3
	}
	if len(repos) > 1 {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
