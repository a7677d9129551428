package contextgen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexus-oss/docindex/internal/circuitbreaker"
	"github.com/conexus-oss/docindex/internal/contextgen"
	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/embedding"
	"github.com/conexus-oss/docindex/internal/ratelimit"
	"github.com/conexus-oss/docindex/internal/vectorindex"
	"github.com/conexus-oss/docindex/internal/vectorindex/localstore"
)

const testDimensions = 8

func newTestGenerator(t *testing.T) (*contextgen.Generator, *vectorindex.Coordinator, *embedding.MockEmbedder) {
	t.Helper()
	store, err := localstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter, err := ratelimit.New(ratelimit.Config{Enabled: false})
	require.NoError(t, err)
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	coordinator := vectorindex.New(store, limiter, breaker, nil, testDimensions, nil, nil)

	embedder := embedding.NewMock(testDimensions)
	gen := contextgen.New(coordinator, embedder, coordinator, contextgen.DefaultConfig())
	return gen, coordinator, embedder
}

func seedFragment(t *testing.T, ctx context.Context, coordinator *vectorindex.Coordinator, embedder *embedding.MockEmbedder, id, repository, content string, kind doctype.FragmentKind) {
	t.Helper()
	emb, err := embedder.Embed(ctx, content)
	require.NoError(t, err)
	frag := &doctype.Fragment{
		ID:         id,
		DocumentID: "doc-" + id,
		Kind:       kind,
		Content:    content,
		Embedding:  emb.Vector,
		Metadata:   map[string]interface{}{"repository": repository},
	}
	_, err = coordinator.Upsert(ctx, []*doctype.Fragment{frag}, repository, "medium")
	require.NoError(t, err)
}

func TestGenerate_RejectsEmptyTask(t *testing.T) {
	gen, _, _ := newTestGenerator(t)
	_, err := gen.Generate(context.Background(), contextgen.Query{Task: "   "})
	assert.Error(t, err)
}

func TestGenerate_SemanticStrategyForConceptualTask(t *testing.T) {
	gen, coordinator, embedder := newTestGenerator(t)
	ctx := context.Background()

	seedFragment(t, ctx, coordinator, embedder, "f1", "repo-a", "explain the retry architecture used by the upsert path", doctype.FragmentParagraph)
	seedFragment(t, ctx, coordinator, embedder, "f2", "repo-a", "unrelated filler content about something else entirely", doctype.FragmentParagraph)

	resp, err := gen.Generate(ctx, contextgen.Query{Task: "explain the retry architecture used by the upsert path"})
	require.NoError(t, err)
	assert.Equal(t, contextgen.StrategySemantic, resp.Strategy)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "f1", resp.Results[0].Fragment.ID)
}

func TestGenerate_KeywordStrategyForCodeLikeTask(t *testing.T) {
	gen, coordinator, embedder := newTestGenerator(t)
	ctx := context.Background()

	seedFragment(t, ctx, coordinator, embedder, "f1", "repo-a", "func Upsert(ctx context.Context) error { return nil }", doctype.FragmentCode)

	resp, err := gen.Generate(ctx, contextgen.Query{Task: "Upsert(ctx)"})
	require.NoError(t, err)
	assert.Equal(t, contextgen.StrategyKeyword, resp.Strategy)
}

func TestGenerate_PopulatesProgressiveViewAndConfidence(t *testing.T) {
	gen, coordinator, embedder := newTestGenerator(t)
	ctx := context.Background()

	seedFragment(t, ctx, coordinator, embedder, "f1", "repo-a", "how to configure the retry backoff for batch upserts", doctype.FragmentParagraph)

	resp, err := gen.Generate(ctx, contextgen.Query{Task: "how to configure the retry backoff for batch upserts"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.NotNil(t, resp.Progressive.Details)
}

func TestGenerate_TruncatesToLimit(t *testing.T) {
	gen, coordinator, embedder := newTestGenerator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedFragment(t, ctx, coordinator, embedder, string(rune('a'+i)), "repo-a", "explain pattern number for this document body", doctype.FragmentParagraph)
	}

	resp, err := gen.Generate(ctx, contextgen.Query{Task: "explain pattern number for this document body", Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), 2)
}
