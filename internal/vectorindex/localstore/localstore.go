// Package localstore is an in-process Store satisfying
// vectorindex.Store's narrow contract, trimmed from the indexer's own
// SQLite-backed store: a single table plus a Go-side cosine-similarity
// scan, with none of the FTS5/hybrid-search machinery a real document
// store needs — the coordinator does its own ranking fusion at a higher
// layer, so this fake only has to answer vector and filter queries
// correctly, not quickly.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/conexus-oss/docindex/internal/vectorindex"
)

// Store is a SQLite-backed vectorindex.Store test double.
type Store struct {
	db         *sql.DB
	dimensions int
}

// New opens (or creates) a SQLite database at path. Use ":memory:" for a
// throwaway store in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		original_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		filepath TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL,
		metadata TEXT,
		start_line INTEGER,
		end_line INTEGER,
		parent_id TEXT,
		child_ids TEXT,
		content_hash TEXT,
		priority TEXT,
		vector TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_repository ON records(repository);
	CREATE INDEX IF NOT EXISTS idx_records_document_id ON records(document_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CollectionExists(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='records'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) EnsureCollection(ctx context.Context, dimensions int) error {
	s.dimensions = dimensions
	return s.initSchema()
}

func (s *Store) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Upsert(ctx context.Context, records []vectorindex.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, original_id, document_id, repository, filepath, content, kind,
			metadata, start_line, end_line, parent_id, child_ids, content_hash, priority, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_id=excluded.original_id, document_id=excluded.document_id,
			repository=excluded.repository, filepath=excluded.filepath, content=excluded.content,
			kind=excluded.kind, metadata=excluded.metadata, start_line=excluded.start_line,
			end_line=excluded.end_line, parent_id=excluded.parent_id, child_ids=excluded.child_ids,
			content_hash=excluded.content_hash, priority=excluded.priority, vector=excluded.vector
	`)
	if err != nil {
		return fmt.Errorf("localstore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("localstore: marshal metadata for %s: %w", r.OriginalID, err)
		}
		childJSON, err := json.Marshal(r.ChildIDs)
		if err != nil {
			return fmt.Errorf("localstore: marshal child ids for %s: %w", r.OriginalID, err)
		}
		vectorJSON, err := json.Marshal(r.Vector)
		if err != nil {
			return fmt.Errorf("localstore: marshal vector for %s: %w", r.OriginalID, err)
		}

		if _, err := stmt.ExecContext(ctx, r.ID, r.OriginalID, r.DocumentID, r.Repository, r.FilePath,
			r.Content, r.Kind, string(metaJSON), r.StartLine, r.EndLine, r.ParentID, string(childJSON),
			r.ContentHash, r.Priority, string(vectorJSON)); err != nil {
			return fmt.Errorf("localstore: upsert record %s: %w", r.OriginalID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Query(ctx context.Context, vector []float32, opts vectorindex.SearchOptions) ([]vectorindex.ScoredRecord, error) {
	rows, err := s.loadMatching(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}

	scored := make([]vectorindex.ScoredRecord, 0, len(rows))
	for _, r := range rows {
		score := cosineSimilarity(vector, r.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		scored = append(scored, vectorindex.ScoredRecord{Record: r, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	limit := opts.Limit
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *Store) Delete(ctx context.Context, filter vectorindex.Filter) error {
	rows, err := s.loadMatching(ctx, filter)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin delete tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("localstore: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID); err != nil {
			return fmt.Errorf("localstore: delete record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Clear(ctx context.Context, dimensions int) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS records`); err != nil {
		return fmt.Errorf("localstore: drop records table: %w", err)
	}
	return s.EnsureCollection(ctx, dimensions)
}

func (s *Store) Stats(ctx context.Context) (vectorindex.Stats, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return vectorindex.Stats{}, fmt.Errorf("localstore: count records: %w", err)
	}
	return vectorindex.Stats{
		PointCount:             count,
		IndexedVectorCount:     count,
		EstimatedDocumentCount: count / 10,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// loadMatching loads every record matching filter. Filtering happens in Go
// rather than SQL since the coordinator's generic Filter values (single or
// any-of) don't map cleanly onto static SQL without per-key codegen, and
// this store only ever holds test-sized data.
func (s *Store) loadMatching(ctx context.Context, filter vectorindex.Filter) ([]vectorindex.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_id, document_id, repository, filepath, content, kind, metadata,
			start_line, end_line, parent_id, child_ids, content_hash, priority, vector
		FROM records
	`)
	if err != nil {
		return nil, fmt.Errorf("localstore: query records: %w", err)
	}
	defer rows.Close()

	var out []vectorindex.Record
	for rows.Next() {
		var r vectorindex.Record
		var metaJSON, childJSON, vectorJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.OriginalID, &r.DocumentID, &r.Repository, &r.FilePath,
			&r.Content, &r.Kind, &metaJSON, &r.StartLine, &r.EndLine, &r.ParentID, &childJSON,
			&r.ContentHash, &r.Priority, &vectorJSON); err != nil {
			return nil, fmt.Errorf("localstore: scan record: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
		}
		if childJSON.Valid && childJSON.String != "" {
			_ = json.Unmarshal([]byte(childJSON.String), &r.ChildIDs)
		}
		if vectorJSON.Valid && vectorJSON.String != "" {
			_ = json.Unmarshal([]byte(vectorJSON.String), &r.Vector)
		}

		if matchesFilter(r, filter) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func matchesFilter(r vectorindex.Record, filter vectorindex.Filter) bool {
	for key, want := range filter {
		got := fieldValue(r, key)
		if !matchesValue(got, want) {
			return false
		}
	}
	return true
}

func fieldValue(r vectorindex.Record, key string) string {
	switch key {
	case "repository":
		return r.Repository
	case "document_id":
		return r.DocumentID
	case "filepath":
		return r.FilePath
	case "kind":
		return r.Kind
	case "priority":
		return r.Priority
	case "original_id":
		return r.OriginalID
	default:
		if v, ok := r.Metadata[key].(string); ok {
			return v
		}
		return ""
	}
}

func matchesValue(got string, want interface{}) bool {
	switch w := want.(type) {
	case []string:
		for _, v := range w {
			if v == got {
				return true
			}
		}
		return false
	case []interface{}:
		for _, v := range w {
			if fmt.Sprint(v) == got {
				return true
			}
		}
		return false
	default:
		return fmt.Sprint(w) == got
	}
}
