// Package doctype holds the shared data model: repository descriptors,
// documents, fragments, ranked results and the progressive view, used by
// every subsystem (reposync, chunker, vectorindex, contextgen).
package doctype

import "time"

// AuthMode is a repository's credential requirement.
type AuthMode string

const (
	AuthNone  AuthMode = "none"
	AuthToken AuthMode = "token"
	AuthSSH   AuthMode = "ssh"
)

// Priority is a repository or fragment priority tag.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the priority weight used during post-processing.
func (p Priority) Weight(custom map[string]float64) float64 {
	if custom != nil {
		if w, ok := custom[string(p)]; ok {
			return w
		}
	}
	switch p {
	case PriorityHigh:
		return 1.5
	case PriorityLow:
		return 0.5
	default:
		return 1.0
	}
}

// Repository is a configured, synchronizable source repository.
type Repository struct {
	Name         string                 // opaque identifier, unique
	URL          string                 // remote URL
	Branch       string                 // branch hint
	AuthType     AuthMode               // none | token | ssh
	Credentials  string                 // token value when AuthType is token
	Paths        []string               // whitelist of sub-paths to index; empty means everything
	Exclude      []string               // excluded glob patterns
	SyncInterval time.Duration          // sync cadence
	Priority     Priority               // high | medium | low
	Category     string                 // category tag
	Metadata     map[string]interface{} // arbitrary metadata bag
}

// DocumentKind is the detected kind of a synchronized file.
type DocumentKind string

const (
	KindMarkdown   DocumentKind = "markdown"
	KindRST        DocumentKind = "restructured-text"
	KindHTML       DocumentKind = "html"
	KindSourceCode DocumentKind = "source-code"
	KindYAML       DocumentKind = "yaml"
	KindJSON       DocumentKind = "json"
	KindXML        DocumentKind = "xml"
	KindPlainText  DocumentKind = "plain-text"
	KindUnknown    DocumentKind = "unknown"
)

// Document is a single synchronized file, chunked into fragments.
type Document struct {
	ID             string // hash of (repository name, file path)
	RepositoryName string
	FilePath       string // path within the repository
	Kind           DocumentKind
	Content        string
	Metadata       map[string]interface{}
	ContentHash    string
	LastModified   time.Time
	Fragments      []*Fragment // ordered
}

// FragmentKind is the semantic type of a chunked fragment.
type FragmentKind string

const (
	FragmentHeading        FragmentKind = "heading"
	FragmentCode           FragmentKind = "code"
	FragmentParagraph      FragmentKind = "paragraph"
	FragmentList           FragmentKind = "list"
	FragmentTable          FragmentKind = "table"
	FragmentBlockquote     FragmentKind = "blockquote"
	FragmentStructuredNode FragmentKind = "structured-node"
	FragmentOther          FragmentKind = "other"
)

// RankWeight is the fragment-kind affinity weight applied during ranking.
func (k FragmentKind) RankWeight() float64 {
	switch k {
	case FragmentCode:
		return 1.0
	case FragmentHeading:
		return 0.8
	case FragmentList, FragmentTable:
		return 0.7
	case FragmentParagraph:
		return 0.6
	case FragmentBlockquote:
		return 0.5
	default:
		return 0.4
	}
}

// Fragment is a bounded, typed piece of a document — the unit of embedding
// and retrieval.
type Fragment struct {
	ID          string // document ID + "_" + zero-padded starting line
	DocumentID  string
	Kind        FragmentKind
	Content     string
	StartLine   int // optional: 0 means unset
	EndLine     int
	ParentID    string   // optional
	ChildIDs    []string // optional, ordered
	Metadata    map[string]interface{}
	ContentHash string // first 16 hex digits of SHA-256
	Embedding   []float32
}

// RankedResult is a fragment plus a score and human-readable explanation.
type RankedResult struct {
	Fragment   *Fragment
	Score      float64 // in [0,1]
	Explanation string
}

// OverviewEntry summarizes one document's top fragments for the overview bucket.
type OverviewEntry struct {
	DocumentID string
	Heading    *RankedResult
	Paragraph  *RankedResult
	Code       *RankedResult
}

// ProgressiveContext is the three-bucket progressive view of a ranked result set.
type ProgressiveContext struct {
	Overview []OverviewEntry
	Details  map[string][]*RankedResult // document key -> hierarchy-ordered fragments
	Related  map[string][]*RankedResult // category -> top fragments
}
