package chunker

import (
	"regexp"
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

var (
	atxHeadingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	fenceRe       = regexp.MustCompile("^(```|~~~)")
	orderedListRe = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	bulletListRe  = regexp.MustCompile(`^\s*[-*+]\s+`)
	blockquoteRe  = regexp.MustCompile(`^\s*>`)
	tableRowRe    = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

// chunkMarkdown performs a single-pass scan:
// fenced code blocks, ATX headings, list items, blockquotes, pipe tables,
// and blank-line-separated paragraphs, each tagged with the running
// heading-path.
func chunkMarkdown(content string, cfg Config) []*doctype.Fragment {
	lines := strings.Split(content, "\n")
	var fragments []*doctype.Fragment
	var headingPath []string

	var buf []string
	var bufKind doctype.FragmentKind
	bufStart := 1

	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		if strings.TrimSpace(text) != "" || bufKind == doctype.FragmentCode {
			for _, f := range splitOversize(bufKind, text, bufStart, cfg) {
				attachHeadingPath(f, headingPath)
				fragments = append(fragments, f)
			}
		}
		buf = nil
	}

	i := 0
	for i < len(lines) {
		lineNum := i + 1
		line := lines[i]

		if fenceRe.MatchString(strings.TrimSpace(line)) {
			flush(lineNum - 1)
			fenceMarker := strings.TrimSpace(line)[:3]
			codeLines := []string{line}
			start := lineNum
			j := i + 1
			closed := false
			for ; j < len(lines); j++ {
				codeLines = append(codeLines, lines[j])
				if strings.HasPrefix(strings.TrimSpace(lines[j]), fenceMarker) {
					closed = true
					break
				}
			}
			end := start + len(codeLines) - 1
			if !closed {
				// Edge case: an unclosed fence at end-of-document is still
				// flushed as a single code fragment.
				end = len(lines)
			}
			f := newFragment(doctype.FragmentCode, strings.Join(codeLines, "\n"), start, end)
			attachHeadingPath(f, headingPath)
			fragments = append(fragments, f)
			i = j + 1
			continue
		}

		if m := atxHeadingRe.FindStringSubmatch(line); m != nil {
			flush(lineNum - 1)
			level := len(m[1])
			text := strings.TrimSpace(m[2])

			for len(headingPath) >= level {
				headingPath = headingPath[:len(headingPath)-1]
			}
			f := newFragment(doctype.FragmentHeading, line, lineNum, lineNum)
			f.Metadata["headingLevel"] = level
			f.Metadata["headingText"] = text
			f.Metadata["headingPath"] = append([]string(nil), headingPath...)
			fragments = append(fragments, f)

			headingPath = append(headingPath, text)
			i++
			continue
		}

		switch {
		case blockquoteRe.MatchString(line):
			startNewKind(&buf, &bufKind, &bufStart, doctype.FragmentBlockquote, line, lineNum, flush)
		case bulletListRe.MatchString(line) || orderedListRe.MatchString(line):
			startNewKind(&buf, &bufKind, &bufStart, doctype.FragmentList, line, lineNum, flush)
		case tableRowRe.MatchString(line):
			startNewKind(&buf, &bufKind, &bufStart, doctype.FragmentTable, line, lineNum, flush)
		case strings.TrimSpace(line) == "":
			flush(lineNum - 1)
		default:
			startNewKind(&buf, &bufKind, &bufStart, doctype.FragmentParagraph, line, lineNum, flush)
		}
		i++
	}
	flush(len(lines))

	return fragments
}

// startNewKind appends line to buf, flushing first if the buffer is
// switching fragment kinds (e.g. a paragraph line following a list item).
func startNewKind(buf *[]string, bufKind *doctype.FragmentKind, bufStart *int, kind doctype.FragmentKind, line string, lineNum int, flush func(int)) {
	if len(*buf) > 0 && *bufKind != kind {
		flush(lineNum - 1)
	}
	if len(*buf) == 0 {
		*bufStart = lineNum
		*bufKind = kind
	}
	*buf = append(*buf, line)
}

func attachHeadingPath(f *doctype.Fragment, headingPath []string) {
	if len(headingPath) == 0 {
		return
	}
	f.Metadata["headingPath"] = append([]string(nil), headingPath...)
}

// splitOversize cuts a fragment exceeding the configured maximum size at
// the boundary, retaining a trailing overlap into the next piece.
// Individual lines longer than the maximum are sliced into character-size
// blocks with overlap.
func splitOversize(kind doctype.FragmentKind, text string, startLine int, cfg Config) []*doctype.Fragment {
	if len(text) <= cfg.MaxFragmentSize {
		return []*doctype.Fragment{newFragment(kind, text, startLine, startLine+strings.Count(text, "\n"))}
	}

	lines := strings.Split(text, "\n")
	var out []*doctype.Fragment
	var cur strings.Builder
	curStart := startLine
	lineOffset := 0

	flushCur := func(endLineOffset int) {
		if cur.Len() == 0 {
			return
		}
		out = append(out, newFragment(kind, cur.String(), curStart, startLine+endLineOffset))
		cur.Reset()
	}

	for idx, line := range lines {
		if len(line) > cfg.MaxFragmentSize {
			flushCur(lineOffset - 1)
			out = append(out, sliceLongLine(kind, line, startLine+lineOffset, cfg)...)
			curStart = startLine + lineOffset + 1
			lineOffset++
			continue
		}

		candidate := cur.String()
		if candidate != "" {
			candidate += "\n"
		}
		candidate += line

		if len(candidate) > cfg.MaxFragmentSize {
			flushCur(lineOffset - 1)
			overlap := tailOverlap(cur.String(), cfg.OverlapSize)
			cur.Reset()
			if overlap != "" {
				cur.WriteString(overlap)
				cur.WriteString("\n")
			}
			curStart = startLine + lineOffset
			cur.WriteString(line)
		} else {
			cur.Reset()
			cur.WriteString(candidate)
		}
		lineOffset = idx + 1
	}
	flushCur(lineOffset - 1)

	return out
}

func tailOverlap(text string, overlapSize int) string {
	if overlapSize <= 0 || len(text) <= overlapSize {
		return text
	}
	return text[len(text)-overlapSize:]
}

// sliceLongLine breaks a single over-length line into overlapping
// character-size blocks.
func sliceLongLine(kind doctype.FragmentKind, line string, lineNum int, cfg Config) []*doctype.Fragment {
	runes := []rune(line)
	var out []*doctype.Fragment
	step := cfg.MaxFragmentSize - cfg.OverlapSize
	if step <= 0 {
		step = cfg.MaxFragmentSize
	}
	for start := 0; start < len(runes); start += step {
		end := start + cfg.MaxFragmentSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, newFragment(kind, string(runes[start:end]), lineNum, lineNum))
		if end >= len(runes) {
			break
		}
	}
	return out
}
