package vectorindex

import (
	"github.com/google/uuid"

	"github.com/conexus-oss/docindex/internal/doctype"
)

const (
	maxContentChars   = 32000
	maxMetaStrChars   = 1000
	maxMetaArrayElems = 100
)

// fragmentNamespace is the fixed namespace UUID under which fragment
// identifiers are translated into the store's UUID shape. Any two
// coordinators translating the same fragment identifier must agree on the
// derived UUID, so this value is a constant, never randomly generated.
var fragmentNamespace = uuid.MustParse("1b671a64-40d5-491e-99b0-da01ff1f3341")

// derivedID returns the version-5 UUID the store uses as a fragment's
// identifier.
func derivedID(fragmentID string) string {
	return uuid.NewSHA1(fragmentNamespace, []byte(fragmentID)).String()
}

// filterEmbeddable splits fragments into those with a usable embedding
// (present, matching dimensions) and the count dropped for lacking one.
func filterEmbeddable(fragments []*doctype.Fragment, dimensions int) (kept []*doctype.Fragment, dropped int) {
	kept = make([]*doctype.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if len(f.Embedding) == 0 || len(f.Embedding) != dimensions {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	return kept, dropped
}

// buildRecord converts a fragment into its store-formatted record,
// truncating content and sanitizing metadata per the coordinator's payload
// limits.
func buildRecord(f *doctype.Fragment, repository, priority string) Record {
	return Record{
		ID:          derivedID(f.ID),
		OriginalID:  f.ID,
		DocumentID:  f.DocumentID,
		Repository:  repository,
		FilePath:    metaString(f.Metadata, "file_path"),
		Content:     truncateString(f.Content, maxContentChars),
		Kind:        string(f.Kind),
		Metadata:    sanitizeMetadata(f.Metadata),
		StartLine:   f.StartLine,
		EndLine:     f.EndLine,
		ParentID:    f.ParentID,
		ChildIDs:    f.ChildIDs,
		ContentHash: f.ContentHash,
		Priority:    priority,
		Vector:      f.Embedding,
	}
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// sanitizeMetadata caps every string value at maxMetaStrChars and every
// slice value at maxMetaArrayElems, so a handful of oversize fields can
// never blow out the payload the coordinator writes alongside a vector.
func sanitizeMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return truncateString(t, maxMetaStrChars)
	case []interface{}:
		if len(t) > maxMetaArrayElems {
			return t[:maxMetaArrayElems]
		}
		return t
	case []string:
		if len(t) > maxMetaArrayElems {
			return t[:maxMetaArrayElems]
		}
		return t
	default:
		return v
	}
}

// recordToFragment reconstructs a fragment from a scored record, the
// inverse of buildRecord, for returning search results to callers.
func recordToFragment(r Record) *doctype.Fragment {
	meta := r.Metadata
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["file_path"] = r.FilePath
	meta["repository"] = r.Repository
	meta["priority"] = r.Priority
	return &doctype.Fragment{
		ID:          r.OriginalID,
		DocumentID:  r.DocumentID,
		Kind:        doctype.FragmentKind(r.Kind),
		Content:     r.Content,
		StartLine:   r.StartLine,
		EndLine:     r.EndLine,
		ParentID:    r.ParentID,
		ChildIDs:    r.ChildIDs,
		Metadata:    meta,
		ContentHash: r.ContentHash,
	}
}
