// Package chunker transforms a document's raw content into an ordered list
// of fragments, choosing a strategy by the document's detected kind and
// preserving the hierarchical and positional context each format carries:
// heading sections in markdown/rst/html, balanced declarations in source
// code, dotted-key paths in yaml/json.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conexus-oss/docindex/internal/apperrors"
	"github.com/conexus-oss/docindex/internal/doctype"
)

// MaxContentBytes is the cap on raw content accepted for chunking;
// Oversize content is rejected before chunking begins.
const MaxContentBytes = 1 << 20

// Config controls fragment sizing across every strategy.
type Config struct {
	MaxFragmentSize int // characters; default 1500
	OverlapSize     int // characters/words retained between adjacent fragments; default 200
}

// DefaultConfig returns the chunker's default sizing.
func DefaultConfig() Config {
	return Config{MaxFragmentSize: 1500, OverlapSize: 200}
}

func (c Config) normalized() Config {
	if c.MaxFragmentSize <= 0 {
		c.MaxFragmentSize = 1500
	}
	if c.OverlapSize < 0 || c.OverlapSize >= c.MaxFragmentSize {
		c.OverlapSize = 200
	}
	return c
}

// Chunker splits a document's content into fragments.
type Chunker struct {
	cfg Config
}

// New creates a chunker with the given sizing configuration.
func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.normalized()}
}

// Chunk detects the document's kind (if not already set) and dispatches to
// the matching strategy, populating doc.Fragments in place and returning it.
func (c *Chunker) Chunk(ctx context.Context, doc *doctype.Document) (*doctype.Document, error) {
	if len(doc.Content) > MaxContentBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", apperrors.ErrDocumentProcessing, MaxContentBytes)
	}

	if doc.Kind == "" {
		doc.Kind = DetectKind(doc.FilePath)
	}

	var fragments []*doctype.Fragment
	switch doc.Kind {
	case doctype.KindMarkdown:
		fragments = chunkMarkdown(doc.Content, c.cfg)
	case doctype.KindRST:
		fragments = chunkRST(doc.Content, c.cfg)
	case doctype.KindHTML:
		fragments = chunkHTML(doc.Content, c.cfg)
	case doctype.KindSourceCode:
		fragments = chunkSourceCode(doc.Content, doc.FilePath, c.cfg)
	case doctype.KindYAML, doctype.KindJSON:
		fragments = chunkStructured(doc.Content, doc.Kind, c.cfg)
	default:
		fragments = chunkPlainText(doc.Content, c.cfg)
	}

	for _, f := range fragments {
		f.DocumentID = doc.ID
		f.ID = fragmentID(doc.ID, f.StartLine)
		f.ContentHash = contentHash(f.Content)
		if !doc.LastModified.IsZero() {
			if f.Metadata == nil {
				f.Metadata = map[string]interface{}{}
			}
			f.Metadata["last_modified_unix_nano"] = doc.LastModified.UnixNano()
		}
	}

	linkFragmentForest(fragments)
	doc.Fragments = fragments
	return doc, nil
}

// DetectKind classifies a file by extension. Extensionless README files
// are treated as markdown; anything else unrecognized falls through to
// plain text.
func DetectKind(path string) doctype.DocumentKind {
	base := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))

	if ext == "" && strings.HasPrefix(base, "readme") {
		return doctype.KindMarkdown
	}

	switch ext {
	case ".md", ".markdown", ".mdx":
		return doctype.KindMarkdown
	case ".rst":
		return doctype.KindRST
	case ".html", ".htm":
		return doctype.KindHTML
	case ".yaml", ".yml":
		return doctype.KindYAML
	case ".json":
		return doctype.KindJSON
	case ".xml":
		return doctype.KindXML
	case ".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".cpp", ".cc", ".cxx",
		".c", ".h", ".hpp", ".rs", ".rb", ".php", ".cs", ".scala", ".kt", ".swift":
		return doctype.KindSourceCode
	case ".txt", "":
		return doctype.KindPlainText
	default:
		return doctype.KindPlainText
	}
}

// fragmentID builds the document ID + zero-padded starting-line identifier
// the chunker pins.
func fragmentID(documentID string, startLine int) string {
	return fmt.Sprintf("%s_%04d", documentID, startLine)
}

// contentHash truncates a SHA-256 digest to its first sixteen hex digits.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func newFragment(kind doctype.FragmentKind, content string, startLine, endLine int) *doctype.Fragment {
	return &doctype.Fragment{
		Kind:      kind,
		Content:   content,
		StartLine: startLine,
		EndLine:   endLine,
		Metadata:  map[string]interface{}{},
	}
}

// linkFragmentForest walks the chunked fragment list once, maintaining a
// stack of unclosed headings keyed by level; each non-heading fragment's
// parent is the innermost open heading, and every heading of level L
// accumulates as children every subsequent fragment up to the next heading
// of level <= L. Strategies that don't produce headings (source code,
// structured, plain text) leave every fragment parentless, which this
// function leaves untouched.
func linkFragmentForest(fragments []*doctype.Fragment) {
	type stackEntry struct {
		level int
		frag  *doctype.Fragment
	}
	var stack []stackEntry

	for _, f := range fragments {
		if f.Kind == doctype.FragmentHeading {
			level := headingLevel(f)
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1].frag
				f.ParentID = fragmentRefID(parent)
				parent.ChildIDs = append(parent.ChildIDs, fragmentRefID(f))
			}
			stack = append(stack, stackEntry{level: level, frag: f})
			continue
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1].frag
			f.ParentID = fragmentRefID(parent)
			parent.ChildIDs = append(parent.ChildIDs, fragmentRefID(f))
		}
	}
}

func fragmentRefID(f *doctype.Fragment) string {
	if f.ID != "" {
		return f.ID
	}
	return fmt.Sprintf("_pending_%d", f.StartLine)
}

func headingLevel(f *doctype.Fragment) int {
	if lvl, ok := f.Metadata["headingLevel"].(int); ok {
		return lvl
	}
	return 1
}
