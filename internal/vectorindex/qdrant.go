package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/conexus-oss/docindex/internal/config"
)

// filterIndexFields are the high-selectivity keys field indexes are
// provisioned for at collection-creation time.
var filterIndexFields = []string{"repository", "document_id", "filepath", "kind", "priority"}

// qdrantStore is the Store implementation backed by a live Qdrant server.
type qdrantStore struct {
	client         *qdrant.Client
	collectionName string
}

// NewQdrantStore dials the Qdrant server described by cfg and returns a
// Store backed by it. It does not create the collection; call
// EnsureCollection for that.
func NewQdrantStore(cfg config.QdrantConfig) (Store, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse qdrant url %q: %w", cfg.URL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect qdrant: %w", err)
	}

	name := cfg.CollectionName
	if name == "" {
		name = config.DefaultQdrantCollection
	}

	return &qdrantStore{client: client, collectionName: name}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	useTLS = u.Scheme == "https" || u.Scheme == "grpcs"
	portStr := u.Port()
	if portStr == "" {
		port = 6334
		return host, port, useTLS, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}

func (s *qdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return false, fmt.Errorf("check collection existence: %w", err)
	}
	return exists, nil
}

func (s *qdrantStore) EnsureCollection(ctx context.Context, dimensions int) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collectionName, err)
	}

	s.createFieldIndexes(ctx)
	return nil
}

// createFieldIndexes provisions keyword indexes for the filter fields the
// coordinator queries most. Failures are ignored — an absent index only
// costs query performance, not correctness.
func (s *qdrantStore) createFieldIndexes(ctx context.Context) {
	for _, field := range filterIndexFields {
		_, _ = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
	}
}

func (s *qdrantStore) Healthy(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	return nil
}

func (s *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		point, err := buildPointStruct(r)
		if err != nil {
			return fmt.Errorf("build point for record %s: %w", r.OriginalID, err)
		}
		points = append(points, point)
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func buildPointStruct(r Record) (*qdrant.PointStruct, error) {
	payload, err := qdrant.TryValueMap(recordPayload(r))
	if err != nil {
		return nil, err
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(r.ID),
		Vectors: qdrant.NewVectors(r.Vector...),
		Payload: payload,
	}, nil
}

func recordPayload(r Record) map[string]interface{} {
	payload := map[string]interface{}{
		"original_id": r.OriginalID,
		"document_id": r.DocumentID,
		"repository":  r.Repository,
		"filepath":    r.FilePath,
		"content":     r.Content,
		"kind":        r.Kind,
		"start_line":  r.StartLine,
		"end_line":    r.EndLine,
		"parent_id":   r.ParentID,
		"content_hash": r.ContentHash,
		"priority":    r.Priority,
	}
	if len(r.ChildIDs) > 0 {
		children := make([]interface{}, len(r.ChildIDs))
		for i, c := range r.ChildIDs {
			children[i] = c
		}
		payload["child_ids"] = children
	}
	for k, v := range r.Metadata {
		if _, reserved := payload[k]; reserved {
			continue
		}
		payload[k] = v
	}
	return payload
}

func (s *qdrantStore) Query(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredRecord, error) {
	limit := uint64(opts.Limit)
	threshold := float32(opts.ScoreThreshold)

	queryPoints := &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		ScoreThreshold: &threshold,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(opts.Filter),
	}

	scoredPoints, err := s.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.collectionName, err)
	}

	results := make([]ScoredRecord, 0, len(scoredPoints))
	for _, p := range scoredPoints {
		results = append(results, scoredPointToRecord(p))
	}
	return results, nil
}

func scoredPointToRecord(p *qdrant.ScoredPoint) ScoredRecord {
	payload := convertPayload(p.GetPayload())
	rec := Record{
		ID:          p.GetId().GetUuid(),
		OriginalID:  stringField(payload, "original_id"),
		DocumentID:  stringField(payload, "document_id"),
		Repository:  stringField(payload, "repository"),
		FilePath:    stringField(payload, "filepath"),
		Content:     stringField(payload, "content"),
		Kind:        stringField(payload, "kind"),
		ParentID:    stringField(payload, "parent_id"),
		ContentHash: stringField(payload, "content_hash"),
		Priority:    stringField(payload, "priority"),
		Metadata:    payload,
	}
	return ScoredRecord{Record: rec, Score: float64(p.GetScore())}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func convertPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(v *qdrant.Value) interface{} {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		if kind.ListValue == nil {
			return nil
		}
		items := make([]interface{}, len(kind.ListValue.Values))
		for i, item := range kind.ListValue.Values {
			items[i] = convertValue(item)
		}
		return items
	default:
		return nil
	}
}

// buildFilter converts the coordinator's generic Filter into a Qdrant
// filter: every key is a Must condition, equality for a scalar value,
// any-of for a slice.
func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, val := range filter {
		must = append(must, buildCondition(key, val))
	}
	return &qdrant.Filter{Must: must}
}

func buildCondition(key string, val interface{}) *qdrant.Condition {
	switch v := val.(type) {
	case []string:
		return qdrant.NewMatchKeywords(key, v...)
	case []int64:
		return qdrant.NewMatchInts(key, v...)
	case []interface{}:
		keywords := make([]string, 0, len(v))
		for _, item := range v {
			keywords = append(keywords, fmt.Sprint(item))
		}
		return qdrant.NewMatchKeywords(key, keywords...)
	case string:
		return qdrant.NewMatchKeyword(key, v)
	case int:
		return qdrant.NewMatchInt(key, int64(v))
	case int64:
		return qdrant.NewMatchInt(key, v)
	case bool:
		return qdrant.NewMatchBool(key, v)
	default:
		return qdrant.NewMatchKeyword(key, fmt.Sprint(v))
	}
}

func (s *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qdrant.NewPointsSelectorFilter(buildFilter(filter)),
	})
	if err != nil {
		return fmt.Errorf("delete from collection %s: %w", s.collectionName, err)
	}
	return nil
}

func (s *qdrantStore) Clear(ctx context.Context, dimensions int) error {
	if err := s.client.DeleteCollection(ctx, s.collectionName); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete collection %s: %w", s.collectionName, err)
	}
	return s.EnsureCollection(ctx, dimensions)
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func (s *qdrantStore) Stats(ctx context.Context) (Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		return Stats{}, fmt.Errorf("get collection info for %s: %w", s.collectionName, err)
	}
	return Stats{
		PointCount:         int64(info.GetPointsCount()),
		IndexedVectorCount: int64(info.GetIndexedVectorsCount()),
	}, nil
}

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

// Scroll lists records matching filter without a vector query, using
// Qdrant's native scroll endpoint. The Coordinator prefers this for
// search-by-metadata when the underlying Store supports it, falling back
// to a zero-vector query otherwise.
func (s *qdrantStore) Scroll(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	n := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         buildFilter(filter),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll collection %s: %w", s.collectionName, err)
	}

	records := make([]Record, 0, len(points))
	for _, p := range points {
		payload := convertPayload(p.GetPayload())
		records = append(records, Record{
			ID:          p.GetId().GetUuid(),
			OriginalID:  stringField(payload, "original_id"),
			DocumentID:  stringField(payload, "document_id"),
			Repository:  stringField(payload, "repository"),
			FilePath:    stringField(payload, "filepath"),
			Content:     stringField(payload, "content"),
			Kind:        stringField(payload, "kind"),
			ParentID:    stringField(payload, "parent_id"),
			ContentHash: stringField(payload, "content_hash"),
			Priority:    stringField(payload, "priority"),
			Metadata:    payload,
		})
	}
	return records, nil
}
