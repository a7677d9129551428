package chunker

import (
	"regexp"
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

// rstTitlePunct is the fixed set of characters a restructured-text title
// underline may be composed of.
const rstTitlePunct = "=-~^\"'`#*+.:_"

var directiveRe = regexp.MustCompile(`^\.\. [\w-]+::`)

// chunkRST implements the restructured-text strategy: title underlines
// mark headings, a trailing double-colon opens a literal block terminated
// by the first non-indented line, and directives open a block with the
// same termination rule.
func chunkRST(content string, cfg Config) []*doctype.Fragment {
	lines := strings.Split(content, "\n")
	var fragments []*doctype.Fragment
	var headingPath []string

	var buf []string
	bufStart := 1
	var bufKind doctype.FragmentKind = doctype.FragmentParagraph
	var levelMarkers []byte

	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		if strings.TrimSpace(text) != "" {
			for _, f := range splitOversize(bufKind, text, bufStart, cfg) {
				attachHeadingPath(f, headingPath)
				fragments = append(fragments, f)
			}
		}
		buf = nil
		bufKind = doctype.FragmentParagraph
	}

	i := 0
	for i < len(lines) {
		lineNum := i + 1
		line := lines[i]

		if i+1 < len(lines) && isTitleUnderline(lines[i+1], line) {
			flush(lineNum - 1)
			title := strings.TrimSpace(line)
			underline := strings.TrimSpace(lines[i+1])
			level := titleLevel(underline[0], &levelMarkers, &headingPath, title)

			f := newFragment(doctype.FragmentHeading, title, lineNum, lineNum+1)
			f.Metadata["headingLevel"] = level
			f.Metadata["headingText"] = title
			f.Metadata["headingPath"] = append([]string(nil), headingPath...)
			fragments = append(fragments, f)
			i += 2
			continue
		}

		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "::") || directiveRe.MatchString(line) {
			flush(lineNum - 1)
			blockLines := []string{line}
			j := i + 1
			for ; j < len(lines); j++ {
				l := lines[j]
				if strings.TrimSpace(l) == "" {
					blockLines = append(blockLines, l)
					continue
				}
				if strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t") {
					blockLines = append(blockLines, l)
					continue
				}
				break
			}
			f := newFragment(doctype.FragmentCode, strings.Join(blockLines, "\n"), lineNum, lineNum+len(blockLines)-1)
			attachHeadingPath(f, headingPath)
			fragments = append(fragments, f)
			i = j
			continue
		}

		if strings.TrimSpace(line) == "" {
			flush(lineNum - 1)
			i++
			continue
		}

		if len(buf) == 0 {
			bufStart = lineNum
		}
		buf = append(buf, line)
		i++
	}
	flush(len(lines))

	return fragments
}

// isTitleUnderline reports whether underline is composed of a single
// repeated punctuation character from the fixed set, at least as long as
// the title line it follows.
func isTitleUnderline(underline, title string) bool {
	u := strings.TrimSpace(underline)
	t := strings.TrimSpace(title)
	if len(u) == 0 || len(t) == 0 || len(u) < len(t) {
		return false
	}
	if !strings.ContainsRune(rstTitlePunct, rune(u[0])) {
		return false
	}
	for _, r := range u {
		if byte(r) != u[0] {
			return false
		}
	}
	return true
}

// titleLevel assigns a heading level by first-seen-order of underline
// characters within the current document, mimicking restructured-text's
// document-relative convention where the first punctuation character
// encountered is level one and each new character introduces the next
// level down. levelMarkers is owned by the caller's chunkRST invocation,
// keeping the chunker stateless across calls.
func titleLevel(marker byte, levelMarkers *[]byte, headingPath *[]string, title string) int {
	for idx, m := range *levelMarkers {
		if m == marker {
			for len(*headingPath) > idx {
				*headingPath = (*headingPath)[:len(*headingPath)-1]
			}
			*headingPath = append(*headingPath, title)
			return idx + 1
		}
	}
	*levelMarkers = append(*levelMarkers, marker)
	*headingPath = append(*headingPath, title)
	return len(*levelMarkers)
}
