// Package vectorindex is the sole interface between the engine and the
// external vector store. It manages the collection, writes fragment
// embeddings in bounded batches, and serves similarity and metadata
// queries, wrapping a narrow Store contract with rate limiting, circuit
// breaking, cooperative throttling, retries, and identifier translation.
package vectorindex

import (
	"context"
	"errors"
)

// Sentinel errors matching the vector-store-error kind in the error taxonomy.
var (
	// ErrUnavailable indicates the store could not be reached by either the
	// primary health probe or its fallback.
	ErrUnavailable = errors.New("vectorindex: store unavailable")
	// ErrDimensionMismatch indicates a fragment's vector length did not
	// match the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vectorindex: vector dimension mismatch")
	// ErrBreakerOpen indicates the circuit breaker is short-circuiting
	// upserts after repeated consecutive failures.
	ErrBreakerOpen = errors.New("vectorindex: circuit breaker open, upsert skipped")
	// ErrUpsertAborted indicates an upsert call failed enough batches to
	// abort rather than report a partial success.
	ErrUpsertAborted = errors.New("vectorindex: upsert aborted, too many batch failures")
)

// Record is a store-formatted representation of one fragment: the derived
// identifier plus the payload the coordinator persists alongside the
// vector.
type Record struct {
	ID           string // derived UUIDv5, the store's own identifier
	OriginalID   string // the fragment identifier as known to the rest of the engine
	DocumentID   string
	Repository   string
	FilePath     string
	Content      string // truncated to 32000 characters
	Kind         string
	Metadata     map[string]interface{} // sanitized: titles capped at 1000 chars, arrays at 100 elements
	StartLine    int
	EndLine      int
	ParentID     string
	ChildIDs     []string
	ContentHash  string
	Priority     string
	Vector       []float32
}

// ScoredRecord is a Record returned from a query, with its similarity score.
type ScoredRecord struct {
	Record
	Score float64
}

// Filter is a metadata filter: each key maps to either a single value
// (equality) or a slice (any-of).
type Filter map[string]interface{}

// SearchOptions configures a similarity query.
type SearchOptions struct {
	Limit          int     // default 20
	ScoreThreshold float64 // default 0.5
	Filter         Filter
}

// Stats summarizes a collection's size.
type Stats struct {
	PointCount             int64
	IndexedVectorCount     int64
	EstimatedDocumentCount int64
}

// Store is the narrow contract a vector backend must satisfy. A Qdrant
// implementation and an in-process SQLite-backed test double both satisfy
// it so the Coordinator's batching, retry, and throttling logic is
// exercised identically against either.
type Store interface {
	// CollectionExists reports whether the configured collection is
	// already provisioned.
	CollectionExists(ctx context.Context) (bool, error)
	// EnsureCollection creates the collection with the given vector
	// dimension if it does not already exist. Idempotent.
	EnsureCollection(ctx context.Context, dimensions int) error
	// Healthy performs a lightweight reachability probe (listing
	// collections).
	Healthy(ctx context.Context) error
	// Upsert writes a batch of records, replacing any existing record
	// with the same ID.
	Upsert(ctx context.Context, records []Record) error
	// Query runs a similarity search against vector, honoring opts.
	Query(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredRecord, error)
	// Delete removes every record matching filter.
	Delete(ctx context.Context, filter Filter) error
	// Clear drops and recreates the collection with the given dimension.
	Clear(ctx context.Context, dimensions int) error
	// Stats returns the collection's current size.
	Stats(ctx context.Context) (Stats, error)
	// Close releases any underlying connection.
	Close() error
}
