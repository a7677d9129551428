package vectorindex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conexus-oss/docindex/internal/doctype"
)

func TestDerivedID_StableForSameInput(t *testing.T) {
	a := derivedID("doc1_0001")
	b := derivedID("doc1_0001")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, "doc1_0001")
}

func TestDerivedID_DiffersAcrossInputs(t *testing.T) {
	assert.NotEqual(t, derivedID("a"), derivedID("b"))
}

func TestFilterEmbeddable_DropsMissingAndMismatched(t *testing.T) {
	fragments := []*doctype.Fragment{
		{ID: "a", Embedding: make([]float32, 4)},
		{ID: "b", Embedding: nil},
		{ID: "c", Embedding: make([]float32, 3)},
	}
	kept, dropped := filterEmbeddable(fragments, 4)
	assert.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, 2, dropped)
}

func TestBuildRecord_TruncatesOversizeContent(t *testing.T) {
	f := &doctype.Fragment{
		ID:      "frag1",
		Content: strings.Repeat("x", maxContentChars+500),
	}
	r := buildRecord(f, "repo", "high")
	assert.Len(t, r.Content, maxContentChars)
	assert.Equal(t, "high", r.Priority)
	assert.Equal(t, "repo", r.Repository)
}

func TestSanitizeMetadata_CapsStringsAndArrays(t *testing.T) {
	longArr := make([]interface{}, maxMetaArrayElems+10)
	meta := map[string]interface{}{
		"title": strings.Repeat("y", maxMetaStrChars+200),
		"tags":  longArr,
		"count": 42,
	}
	out := sanitizeMetadata(meta)
	assert.Len(t, out["title"].(string), maxMetaStrChars)
	assert.Len(t, out["tags"].([]interface{}), maxMetaArrayElems)
	assert.Equal(t, 42, out["count"])
}

func TestRecordToFragment_RoundTripsCoreFields(t *testing.T) {
	r := Record{
		OriginalID:  "frag1",
		DocumentID:  "doc1",
		Kind:        string(doctype.FragmentCode),
		Content:     "package main",
		ContentHash: "abc123",
	}
	f := recordToFragment(r)
	assert.Equal(t, "frag1", f.ID)
	assert.Equal(t, doctype.FragmentCode, f.Kind)
	assert.Equal(t, "abc123", f.ContentHash)
}
