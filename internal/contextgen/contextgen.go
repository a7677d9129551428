// Package contextgen translates a user task into a search strategy,
// executes it against the vector index coordinator, and shapes the result
// into a ranked, progressively-detailed view.
package contextgen

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/embedding"
	"github.com/conexus-oss/docindex/internal/vectorindex"
)

// Strategy is the retrieval approach chosen for a query.
type Strategy string

const (
	StrategyKeyword  Strategy = "keyword"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// Query is a caller's request for context.
type Query struct {
	Task         string // required
	Language     string
	Framework    string
	ContextText  string
	Repositories []string
	Categories   []string
	Limit        int // caller's result cap; 0 means the configured default
}

// Response is the shaped result of a Generate call.
type Response struct {
	Strategy     Strategy
	Results      []doctype.RankedResult
	Progressive  doctype.ProgressiveContext
	Confidence   float64
}

// Config tunes the post-processing and progressive-view thresholds.
type Config struct {
	DefaultLimit       int                // default 10
	ExpansionThreshold float64            // default 0.7
	PriorityWeights    map[string]float64 // overrides doctype.Priority.Weight defaults
	FrameworkPrompts   map[string]string  // optional per-framework prompt suffix for semantic queries
}

// DefaultConfig returns the engine's default post-processing thresholds.
func DefaultConfig() Config {
	return Config{DefaultLimit: 10, ExpansionThreshold: 0.7}
}

// Generator is the Context Generator: strategy selection, execution,
// ranking, and progressive-view construction.
type Generator struct {
	coordinator *vectorindex.Coordinator
	embedder    embedding.Embedder
	corpus      CandidateSource
	config      Config
}

// CandidateSource supplies the candidate pool the keyword strategy scores
// against. The coordinator's own SearchByMetadata satisfies it directly.
type CandidateSource interface {
	SearchByMetadata(ctx context.Context, filter vectorindex.Filter, limit int) ([]doctype.RankedResult, error)
}

// New creates a Generator. corpus may be the same coordinator passed for
// semantic search, or a narrower source in tests.
func New(coordinator *vectorindex.Coordinator, embedder embedding.Embedder, corpus CandidateSource, config Config) *Generator {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if config.ExpansionThreshold <= 0 {
		config.ExpansionThreshold = DefaultConfig().ExpansionThreshold
	}
	return &Generator{coordinator: coordinator, embedder: embedder, corpus: corpus, config: config}
}

// Generate selects a strategy, executes it, ranks the results, and builds
// the progressive view.
func (g *Generator) Generate(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Task) == "" {
		return nil, fmt.Errorf("contextgen: task is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = g.config.DefaultLimit
	}

	strategy := SelectStrategy(q.Task)

	var results []doctype.RankedResult
	var err error
	switch strategy {
	case StrategyKeyword:
		results, err = g.executeKeyword(ctx, q, limit)
	case StrategySemantic:
		results, err = g.executeSemantic(ctx, q, limit)
	default:
		results, err = g.executeHybrid(ctx, q, limit)
	}
	if err != nil {
		return nil, err
	}

	processed := g.postProcess(results, q, limit)
	progressive := buildProgressiveView(processed, g.config.ExpansionThreshold)
	confidence := computeConfidence(processed)

	return &Response{
		Strategy:    strategy,
		Results:     processed,
		Progressive: progressive,
		Confidence:  confidence,
	}, nil
}

func (g *Generator) buildFilter(q Query) vectorindex.Filter {
	filter := vectorindex.Filter{}
	if len(q.Repositories) == 1 {
		filter["repository"] = q.Repositories[0]
	} else if len(q.Repositories) > 1 {
		filter["repository"] = q.Repositories
	}
	if len(q.Categories) == 1 {
		filter["category"] = q.Categories[0]
	} else if len(q.Categories) > 1 {
		filter["category"] = q.Categories
	}
	if q.Language != "" {
		filter["language"] = q.Language
	}
	if q.Framework != "" {
		filter["framework"] = q.Framework
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

func (g *Generator) executeSemantic(ctx context.Context, q Query, limit int) ([]doctype.RankedResult, error) {
	composite := g.compositeQuery(q)

	emb, err := g.embedder.Embed(ctx, composite)
	if err != nil {
		return nil, fmt.Errorf("contextgen: embed query: %w", err)
	}

	opts := vectorindex.SearchOptions{Limit: limit * 2, Filter: g.buildFilter(q)}
	return g.coordinator.Search(ctx, emb.Vector, opts)
}

func (g *Generator) compositeQuery(q Query) string {
	parts := []string{q.Task}
	if q.Language != "" {
		parts = append(parts, q.Language)
	}
	if q.Framework != "" {
		parts = append(parts, q.Framework)
		if prompt, ok := g.config.FrameworkPrompts[q.Framework]; ok {
			parts = append(parts, prompt)
		}
	}
	if q.ContextText != "" {
		parts = append(parts, q.ContextText)
	}
	return strings.Join(parts, " ")
}

// executeKeyword is the spec's "optional" strategy, implemented as a real
// token-overlap scorer so hybrid mode has two independent signals to fold
// together, rather than the always-empty stub the reference permits.
func (g *Generator) executeKeyword(ctx context.Context, q Query, limit int) ([]doctype.RankedResult, error) {
	if g.corpus == nil {
		return nil, nil
	}
	candidates, err := g.corpus.SearchByMetadata(ctx, g.buildFilter(q), limit*4)
	if err != nil {
		return nil, fmt.Errorf("contextgen: keyword candidate search: %w", err)
	}
	return scoreByKeywordOverlap(q.Task, candidates), nil
}

func (g *Generator) executeHybrid(ctx context.Context, q Query, limit int) ([]doctype.RankedResult, error) {
	var semantic, keyword []doctype.RankedResult
	var semErr, keyErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, semErr = g.executeSemantic(ctx, q, limit)
	}()
	go func() {
		defer wg.Done()
		keyword, keyErr = g.executeKeyword(ctx, q, limit)
	}()
	wg.Wait()

	if semErr != nil && keyErr != nil {
		return nil, fmt.Errorf("contextgen: both hybrid strategies failed: semantic: %v, keyword: %v", semErr, keyErr)
	}
	if semErr != nil {
		return keyword, nil
	}
	if keyErr != nil {
		return semantic, nil
	}

	return foldResults(semantic, keyword), nil
}

// foldResults merges two ranked lists keyed by fragment identifier,
// averaging the score when both strategies agree on a fragment.
func foldResults(semantic, keyword []doctype.RankedResult) []doctype.RankedResult {
	byID := make(map[string]*doctype.RankedResult, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))

	for _, r := range semantic {
		r := r
		byID[r.Fragment.ID] = &r
		order = append(order, r.Fragment.ID)
	}
	for _, r := range keyword {
		if existing, ok := byID[r.Fragment.ID]; ok {
			existing.Score = (existing.Score + r.Score) / 2
			continue
		}
		r := r
		byID[r.Fragment.ID] = &r
		order = append(order, r.Fragment.ID)
	}

	out := make([]doctype.RankedResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
