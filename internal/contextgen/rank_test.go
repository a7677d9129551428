package contextgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexus-oss/docindex/internal/doctype"
)

func TestPriorityWeight_AppliesDefaultsAndOverrides(t *testing.T) {
	high := &doctype.Fragment{Metadata: map[string]interface{}{"priority": "high"}}
	low := &doctype.Fragment{Metadata: map[string]interface{}{"priority": "low"}}
	unset := &doctype.Fragment{}

	assert.Equal(t, 1.5, priorityWeight(high, nil))
	assert.Equal(t, 0.5, priorityWeight(low, nil))
	assert.Equal(t, 1.0, priorityWeight(unset, nil))

	custom := map[string]float64{"high": 3.0}
	assert.Equal(t, 3.0, priorityWeight(high, custom))
}

func TestWeightedRank_PrefersHigherScoreAndCodeKind(t *testing.T) {
	codeResult := doctype.RankedResult{
		Fragment: &doctype.Fragment{Kind: doctype.FragmentCode, Metadata: map[string]interface{}{}},
		Score:    0.8,
	}
	paragraphResult := doctype.RankedResult{
		Fragment: &doctype.Fragment{Kind: doctype.FragmentParagraph, Metadata: map[string]interface{}{}},
		Score:    0.8,
	}

	assert.Greater(t, weightedRank(codeResult), weightedRank(paragraphResult))
}

func TestWeightedRank_FactorsRecency(t *testing.T) {
	older := doctype.RankedResult{
		Fragment: &doctype.Fragment{
			Kind:     doctype.FragmentParagraph,
			Metadata: map[string]interface{}{"last_modified_unix_nano": int64(1_000_000_000)},
		},
		Score: 0.5,
	}
	newer := doctype.RankedResult{
		Fragment: &doctype.Fragment{
			Kind:     doctype.FragmentParagraph,
			Metadata: map[string]interface{}{"last_modified_unix_nano": int64(5_000_000_000)},
		},
		Score: 0.5,
	}

	assert.Greater(t, weightedRank(newer), weightedRank(older))
}

func TestPostProcess_RanksTruncatesAndExplains(t *testing.T) {
	g := &Generator{config: DefaultConfig()}
	results := []doctype.RankedResult{
		{
			Fragment: &doctype.Fragment{
				DocumentID: "doc-1",
				Kind:       doctype.FragmentParagraph,
				Metadata:   map[string]interface{}{"priority": "low"},
			},
			Score: 0.9,
		},
		{
			Fragment: &doctype.Fragment{
				DocumentID: "doc-2",
				Kind:       doctype.FragmentCode,
				Metadata:   map[string]interface{}{"priority": "high", "framework": "react"},
			},
			Score: 0.6,
		},
	}

	out := g.postProcess(results, Query{Task: "t", Framework: "react"}, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "doc-2", out[0].Fragment.DocumentID, "high-priority code fragment should outrank the down-weighted paragraph")
	assert.Contains(t, out[0].Explanation, "react")
}

func TestComputeConfidence_CombinesMeanStrongAndMultiRepo(t *testing.T) {
	single := []doctype.RankedResult{
		{Fragment: &doctype.Fragment{Metadata: map[string]interface{}{"repository": "a"}}, Score: 0.4},
	}
	assert.InDelta(t, 0.2, computeConfidence(single), 1e-9)

	strongMultiRepo := []doctype.RankedResult{
		{Fragment: &doctype.Fragment{Metadata: map[string]interface{}{"repository": "a"}}, Score: 0.9},
		{Fragment: &doctype.Fragment{Metadata: map[string]interface{}{"repository": "b"}}, Score: 0.9},
	}
	assert.InDelta(t, 0.95, computeConfidence(strongMultiRepo), 1e-9)

	assert.Equal(t, 0.0, computeConfidence(nil))
}
