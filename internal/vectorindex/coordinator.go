package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conexus-oss/docindex/internal/circuitbreaker"
	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/observability"
	"github.com/conexus-oss/docindex/internal/ratelimit"
	"github.com/conexus-oss/docindex/internal/resourcemonitor"
)

const (
	upsertBatchSize  = 10
	healthProbeTimeout = 3 * time.Second
	batchTimeout       = 15 * time.Second
	queryTimeout       = 10 * time.Second

	retryAttempts    = 3
	retryInitialWait = time.Second
	retryMaxWait     = 5 * time.Second
)

const (
	defaultSearchLimit     = 20
	defaultScoreThreshold  = 0.5
)

// UpsertSummary reports the per-batch outcome of an Upsert call.
type UpsertSummary struct {
	Dropped        int // fragments dropped for missing/mismatched embeddings
	BatchesTotal   int
	BatchesFailed  int
	RecordsWritten int
	Skipped        bool // true when the circuit breaker short-circuited the call
}

// Coordinator is the engine's sole point of contact with the external
// vector store. It layers UUID translation, bounded-batch writes, rate
// limiting, circuit breaking, cooperative throttling and retries on top of
// a narrow Store implementation.
type Coordinator struct {
	store      Store
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	monitor    *resourcemonitor.Monitor
	dimensions int
	logger     *observability.Logger
	metrics    *observability.MetricsCollector

	mu          sync.Mutex
	initialized bool
}

// New creates a Coordinator. monitor may be nil, in which case no
// cooperative throttling is applied. logger and metrics may be nil; a nil
// logger falls back to observability.DefaultLoggerConfig (JSON on stdout),
// and metrics recording is skipped entirely when metrics is nil.
func New(store Store, limiter *ratelimit.Limiter, breaker *circuitbreaker.Breaker, monitor *resourcemonitor.Monitor, dimensions int, logger *observability.Logger, metrics *observability.MetricsCollector) *Coordinator {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultLoggerConfig())
	}
	return &Coordinator{
		store:      store,
		limiter:    limiter,
		breaker:    breaker,
		monitor:    monitor,
		dimensions: dimensions,
		logger:     logger,
		metrics:    metrics,
	}
}

// ensureCollection provisions the collection on first use, guarded by a
// mutex so concurrent callers don't race to create it twice.
func (c *Coordinator) ensureCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.EnsureCollection(ctx, c.dimensions); err != nil {
		return fmt.Errorf("vectorindex: ensure collection: %w", err)
	}
	c.initialized = true
	return nil
}

// healthProbe lists collections within a short timeout; if that fails it
// falls back to a collection-existence check. If both fail the store is
// considered unreachable.
func (c *Coordinator) healthProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := c.store.Healthy(probeCtx); err == nil {
		if c.metrics != nil {
			c.metrics.SetComponentHealth("vector_store", true)
		}
		return nil
	}

	fallbackCtx, cancel2 := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel2()
	if _, err := c.store.CollectionExists(fallbackCtx); err == nil {
		if c.metrics != nil {
			c.metrics.SetComponentHealth("vector_store", true)
		}
		return nil
	}

	if c.metrics != nil {
		c.metrics.SetComponentHealth("vector_store", false)
	}
	return ErrUnavailable
}

func (c *Coordinator) throttle(ctx context.Context) {
	if c.monitor != nil {
		c.monitor.Throttle(ctx)
	}
}

// Upsert writes fragment embeddings for repository under the given
// priority tag, in bounded batches, honoring rate limiting, the
// cooperative throttle signal, and the circuit breaker.
func (c *Coordinator) Upsert(ctx context.Context, fragments []*doctype.Fragment, repository, priority string) (UpsertSummary, error) {
	if err := c.breaker.Allow(); err != nil {
		return UpsertSummary{Skipped: true}, nil
	}

	if err := c.ensureCollection(ctx); err != nil {
		c.breaker.RecordFailure()
		return UpsertSummary{}, err
	}

	kept, dropped := filterEmbeddable(fragments, c.dimensions)
	summary := UpsertSummary{Dropped: dropped}
	if len(kept) == 0 {
		c.breaker.RecordSuccess()
		return summary, nil
	}

	if err := c.healthProbe(ctx); err != nil {
		c.breaker.RecordFailure()
		return summary, err
	}

	records := make([]Record, 0, len(kept))
	for _, f := range kept {
		records = append(records, buildRecord(f, repository, priority))
	}

	batches := chunkRecords(records, upsertBatchSize)
	summary.BatchesTotal = len(batches)

	for _, batch := range batches {
		if err := waitAllow(ctx, c.limiter, ratelimit.BucketUpsert, c.metrics); err != nil {
			summary.BatchesFailed++
			continue
		}
		c.throttle(ctx)

		if err := c.upsertBatchWithRetry(ctx, batch); err != nil {
			summary.BatchesFailed++
			c.logger.Warn("vectorindex: batch upsert failed", "records", len(batch), "error", err)
			if summary.BatchesFailed >= 2 && shouldAbort(summary) {
				c.breaker.RecordFailure()
				return summary, fmt.Errorf("%w: %v", ErrUpsertAborted, err)
			}
			continue
		}
		summary.RecordsWritten += len(batch)
	}

	if shouldAbort(summary) {
		c.breaker.RecordFailure()
		return summary, ErrUpsertAborted
	}

	c.breaker.RecordSuccess()
	return summary, nil
}

// shouldAbort reports whether a batch-failure count is high enough to
// abort the whole upsert: more than half of batches failed, or two
// absolute failures have accumulated.
func shouldAbort(s UpsertSummary) bool {
	if s.BatchesFailed >= 2 {
		return true
	}
	if s.BatchesTotal > 0 && s.BatchesFailed*2 > s.BatchesTotal {
		return true
	}
	return false
}

// waitAllow blocks until the bucket admits a call, sleeping the limiter's
// reported retry-after between checks, or returns ctx's error if it is
// cancelled first. metrics may be nil.
func waitAllow(ctx context.Context, limiter *ratelimit.Limiter, bucket ratelimit.Bucket, metrics *observability.MetricsCollector) error {
	checkStart := time.Now()
	for {
		result, err := limiter.Allow(ctx, bucket)
		if err != nil {
			return err
		}

		if metrics != nil {
			status := "allowed"
			if !result.Allowed {
				status = "hit"
			}
			metrics.RecordRateLimit(string(bucket), status, time.Since(checkStart))
			metrics.UpdateRateLimitRemaining(string(bucket), "coordinator", result.Remaining)
		}

		if result.Allowed {
			return nil
		}

		wait := result.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func chunkRecords(records []Record, size int) [][]Record {
	var batches [][]Record
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}

func (c *Coordinator) upsertBatchWithRetry(ctx context.Context, batch []Record) error {
	wait := retryInitialWait
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
		err := c.store.Upsert(batchCtx, batch)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == retryAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}
	return lastErr
}

// Search runs a similarity query, honoring the search rate limiter and the
// throttle signal, and maps results back to fragments with scores.
func (c *Coordinator) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]doctype.RankedResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = defaultScoreThreshold
	}
	return c.query(ctx, vector, opts)
}

// query runs a similarity query with opts exactly as given, without
// Search's limit and threshold defaults.
func (c *Coordinator) query(ctx context.Context, vector []float32, opts SearchOptions) ([]doctype.RankedResult, error) {
	if err := waitAllow(ctx, c.limiter, ratelimit.BucketSearch, c.metrics); err != nil {
		return nil, err
	}
	c.throttle(ctx)

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	start := time.Now()
	scored, err := c.store.Query(queryCtx, vector, opts)
	duration := time.Since(start)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordVectorSearch("vector", "error", duration, 0)
		}
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	results := toRankedResults(scored)
	if c.metrics != nil {
		c.metrics.RecordVectorSearch("vector", "success", duration, len(results))
	}
	return results, nil
}

// scrollCapable is an optional Store capability: listing records by filter
// alone, without a vector query. Stores backed by a server-side scroll
// cursor (Qdrant) can implement it for a cheaper, more accurate
// search-by-metadata than the zero-vector fallback.
type scrollCapable interface {
	Scroll(ctx context.Context, filter Filter, limit int) ([]Record, error)
}

// SearchByMetadata lists fragments matching filter, ordered purely by
// filter match rather than similarity. It prefers the store's native
// scroll endpoint when available, falling back to a zero-vector query with
// a zero score threshold when the store doesn't support scrolling.
func (c *Coordinator) SearchByMetadata(ctx context.Context, filter Filter, limit int) ([]doctype.RankedResult, error) {
	if scroller, ok := c.store.(scrollCapable); ok {
		if err := waitAllow(ctx, c.limiter, ratelimit.BucketSearch, c.metrics); err != nil {
			return nil, err
		}
		c.throttle(ctx)

		queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		start := time.Now()
		records, err := scroller.Scroll(queryCtx, filter, limit)
		duration := time.Since(start)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordVectorSearch("metadata", "error", duration, 0)
			}
			return nil, fmt.Errorf("vectorindex: scroll: %w", err)
		}
		results := make([]doctype.RankedResult, 0, len(records))
		for _, r := range records {
			results = append(results, doctype.RankedResult{Fragment: recordToFragment(r), Score: 1.0})
		}
		if c.metrics != nil {
			c.metrics.RecordVectorSearch("metadata", "success", duration, len(results))
		}
		return results, nil
	}

	vector := make([]float32, c.dimensions)
	return c.query(ctx, vector, SearchOptions{Limit: limit, ScoreThreshold: 0, Filter: filter})
}

func toRankedResults(scored []ScoredRecord) []doctype.RankedResult {
	results := make([]doctype.RankedResult, 0, len(scored))
	for _, s := range scored {
		results = append(results, doctype.RankedResult{
			Fragment: recordToFragment(s.Record),
			Score:    s.Score,
		})
	}
	return results
}

// Stats returns the collection's point count, indexed-vector count, and an
// estimated document count (one tenth of the point count, since the store
// doesn't track distinct documents directly).
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("vectorindex: stats: %w", err)
	}
	if stats.EstimatedDocumentCount == 0 {
		stats.EstimatedDocumentCount = stats.PointCount / 10
	}
	if c.metrics != nil {
		// the store reports point counts, not bytes; point count is the
		// closest proxy this metric has for store growth over time.
		c.metrics.UpdateVectorStoreSize(stats.PointCount)
	}
	return stats, nil
}

// DeleteByRepository removes every record belonging to repository.
func (c *Coordinator) DeleteByRepository(ctx context.Context, repository string) error {
	return c.store.Delete(ctx, Filter{"repository": repository})
}

// DeleteByDocument removes every record belonging to documentID.
func (c *Coordinator) DeleteByDocument(ctx context.Context, documentID string) error {
	return c.store.Delete(ctx, Filter{"document_id": documentID})
}

// Clear drops and recreates the collection.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(ctx, c.dimensions); err != nil {
		return fmt.Errorf("vectorindex: clear: %w", err)
	}
	c.initialized = true
	return nil
}

// Close releases the underlying store connection.
func (c *Coordinator) Close() error {
	return c.store.Close()
}
