package chunker

import (
	"strings"
	"unicode"

	"github.com/conexus-oss/docindex/internal/doctype"
)

// chunkPlainText greedily packs words into size-bounded fragments with a
// configurable word-level overlap; content with no whitespace is sliced
// into fixed-size character windows with overlap instead.
func chunkPlainText(content string, cfg Config) []*doctype.Fragment {
	if !strings.ContainsAny(content, " \t\n") {
		return sliceFixedWindow(content, cfg)
	}

	lines := strings.Split(content, "\n")
	var fragments []*doctype.Fragment

	var words []string
	var wordLines []int
	for i, line := range lines {
		for _, w := range strings.Fields(line) {
			words = append(words, w)
			wordLines = append(wordLines, i+1)
		}
	}
	if len(words) == 0 {
		return nil
	}

	overlapWords := estimateOverlapWords(words, cfg.OverlapSize)

	start := 0
	for start < len(words) {
		var buf strings.Builder
		end := start
		for end < len(words) {
			candidate := buf.String()
			if candidate != "" {
				candidate += " "
			}
			candidate += words[end]
			if len(candidate) > cfg.MaxFragmentSize && buf.Len() > 0 {
				break
			}
			buf.Reset()
			buf.WriteString(candidate)
			end++
		}
		if end == start {
			// A single word exceeds the fragment size; take it alone.
			end = start + 1
			buf.Reset()
			buf.WriteString(words[start])
		}

		fragments = append(fragments, newFragment(doctype.FragmentParagraph, buf.String(), wordLines[start], wordLines[end-1]))

		if end >= len(words) {
			break
		}
		next := end - overlapWords
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return fragments
}

// estimateOverlapWords converts a character-based overlap budget into an
// approximate word count using the corpus's average word length.
func estimateOverlapWords(words []string, overlapSize int) int {
	if overlapSize <= 0 || len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += len(w) + 1
	}
	avg := total / len(words)
	if avg == 0 {
		avg = 1
	}
	n := overlapSize / avg
	if n < 0 {
		n = 0
	}
	if n >= len(words) {
		n = len(words) - 1
	}
	return n
}

func sliceFixedWindow(content string, cfg Config) []*doctype.Fragment {
	runes := []rune(content)
	var fragments []*doctype.Fragment
	step := cfg.MaxFragmentSize - cfg.OverlapSize
	if step <= 0 {
		step = cfg.MaxFragmentSize
	}
	for start := 0; start < len(runes); start += step {
		end := start + cfg.MaxFragmentSize
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, newFragment(doctype.FragmentOther, string(runes[start:end]), 1, 1))
		if end >= len(runes) {
			break
		}
	}
	return fragments
}

// isWhitespace reports whether r is a whitespace rune.
func isWhitespace(r rune) bool {
	return unicode.IsSpace(r)
}
