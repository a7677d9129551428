package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexus-oss/docindex/internal/doctype"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path string
		want doctype.DocumentKind
	}{
		{"README", doctype.KindMarkdown},
		{"readme.txt", doctype.KindPlainText},
		{"docs/guide.md", doctype.KindMarkdown},
		{"docs/guide.rst", doctype.KindRST},
		{"index.html", doctype.KindHTML},
		{"config.yaml", doctype.KindYAML},
		{"config.json", doctype.KindJSON},
		{"main.go", doctype.KindSourceCode},
		{"notes.xyz", doctype.KindPlainText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectKind(tt.path), tt.path)
	}
}

func TestChunk_RejectsOversizeContent(t *testing.T) {
	c := New(DefaultConfig())
	doc := &doctype.Document{
		ID:       "doc1",
		FilePath: "big.md",
		Content:  strings.Repeat("a", MaxContentBytes+1),
	}
	_, err := c.Chunk(context.Background(), doc)
	require.Error(t, err)
}

func TestChunk_MarkdownHeadingsAndParagraphs(t *testing.T) {
	content := "# Title\n\nIntro paragraph.\n\n## Section\n\nBody text here.\n"
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "guide.md", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, out.Fragments)

	var headings, paragraphs int
	for _, f := range out.Fragments {
		switch f.Kind {
		case doctype.FragmentHeading:
			headings++
		case doctype.FragmentParagraph:
			paragraphs++
			assert.NotEmpty(t, f.Metadata["headingPath"])
		}
		assert.Equal(t, "doc1", f.DocumentID)
		assert.NotEmpty(t, f.ID)
		assert.Len(t, f.ContentHash, 16)
	}
	assert.Equal(t, 2, headings)
	assert.True(t, paragraphs >= 2)
}

func TestChunk_MarkdownCodeFenceUnclosedIsFlushed(t *testing.T) {
	content := "# T\n\n```go\nfunc main() {}\n"
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "guide.md", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)

	var sawCode bool
	for _, f := range out.Fragments {
		if f.Kind == doctype.FragmentCode {
			sawCode = true
			assert.Contains(t, f.Content, "func main")
		}
	}
	assert.True(t, sawCode, "unclosed fence must still be emitted as a code fragment")
}

func TestChunk_IsIdempotent(t *testing.T) {
	content := "# Title\n\nSome paragraph content.\n\n## Sub\n\nMore text.\n"
	c := New(DefaultConfig())

	doc1 := &doctype.Document{ID: "doc1", FilePath: "guide.md", Content: content}
	out1, err := c.Chunk(context.Background(), doc1)
	require.NoError(t, err)

	doc2 := &doctype.Document{ID: "doc1", FilePath: "guide.md", Content: content}
	out2, err := c.Chunk(context.Background(), doc2)
	require.NoError(t, err)

	require.Equal(t, len(out1.Fragments), len(out2.Fragments))
	for i := range out1.Fragments {
		assert.Equal(t, out1.Fragments[i].ID, out2.Fragments[i].ID)
		assert.Equal(t, out1.Fragments[i].Kind, out2.Fragments[i].Kind)
		assert.Equal(t, out1.Fragments[i].ContentHash, out2.Fragments[i].ContentHash)
		assert.Equal(t, out1.Fragments[i].StartLine, out2.Fragments[i].StartLine)
		assert.Equal(t, out1.Fragments[i].EndLine, out2.Fragments[i].EndLine)
	}
}

func TestChunk_GoSourceExtractsFunctionsAndStructs(t *testing.T) {
	content := `package main

type Greeter struct {
	Name string
}

func (g Greeter) Greet() string {
	return "hi " + g.Name
}

func main() {
	g := Greeter{Name: "world"}
	println(g.Greet())
}
`
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "main.go", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, out.Fragments)

	var names []string
	for _, f := range out.Fragments {
		assert.Equal(t, doctype.FragmentCode, f.Kind)
		if n, ok := f.Metadata["declarationName"].(string); ok {
			names = append(names, n)
		}
	}
	assert.Contains(t, names, "Greeter")
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "main")
}

func TestChunk_StructuredYAMLSingleFragmentWhenSmall(t *testing.T) {
	content := "name: docindex\nversion: 1\n"
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "config.yaml", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, out.Fragments, 1)
	assert.Equal(t, doctype.FragmentStructuredNode, out.Fragments[0].Kind)
}

func TestChunk_StructuredParseFailureFallsBackToPlainText(t *testing.T) {
	content := "{not valid json at all"
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "broken.json", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, out.Fragments)
	assert.NotEqual(t, doctype.FragmentStructuredNode, out.Fragments[0].Kind)
}

func TestChunk_PlainTextNoWhitespaceSlicesFixedWindows(t *testing.T) {
	cfg := Config{MaxFragmentSize: 10, OverlapSize: 2}
	content := strings.Repeat("x", 35)
	out := chunkPlainText(content, cfg)
	require.NotEmpty(t, out)
	for _, f := range out {
		assert.LessOrEqual(t, len(f.Content), cfg.MaxFragmentSize)
	}
}

func TestChunk_HeadingForestParentChild(t *testing.T) {
	content := "# A\n\npara1\n\n## B\n\npara2\n"
	c := New(DefaultConfig())
	doc := &doctype.Document{ID: "doc1", FilePath: "guide.md", Content: content}

	out, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)

	var headingA, headingB *doctype.Fragment
	for _, f := range out.Fragments {
		if f.Kind == doctype.FragmentHeading && f.Metadata["headingText"] == "A" {
			headingA = f
		}
		if f.Kind == doctype.FragmentHeading && f.Metadata["headingText"] == "B" {
			headingB = f
		}
	}
	require.NotNil(t, headingA)
	require.NotNil(t, headingB)
	assert.Equal(t, headingA.ID, headingB.ParentID)
	assert.Contains(t, headingA.ChildIDs, headingB.ID)
}
