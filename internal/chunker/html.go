package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	headingTagRe  = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
)

// chunkHTML removes script, style and comment regions, extracts headings
// in document order with their level and text, and emits a heading
// fragment per extracted heading plus a plain-text fragment for the
// intervening body content.
func chunkHTML(content string, cfg Config) []*doctype.Fragment {
	cleaned := scriptStyleRe.ReplaceAllString(content, "")
	cleaned = commentRe.ReplaceAllString(cleaned, "")

	headingMatches := headingTagRe.FindAllStringSubmatchIndex(cleaned, -1)

	var fragments []*doctype.Fragment
	var headingPath []string
	cursor := 0

	emitBody := func(segment string, lineNum int) {
		text := stripTags(segment)
		if strings.TrimSpace(text) == "" {
			return
		}
		for _, f := range splitOversize(doctype.FragmentParagraph, text, lineNum, cfg) {
			attachHeadingPath(f, headingPath)
			fragments = append(fragments, f)
		}
	}

	for _, m := range headingMatches {
		start, end := m[0], m[1]
		levelStart, levelEnd := m[2], m[3]
		textStart, textEnd := m[4], m[5]

		if start > cursor {
			emitBody(cleaned[cursor:start], lineOf(cleaned, cursor))
		}

		level, _ := strconv.Atoi(cleaned[levelStart:levelEnd])
		text := strings.TrimSpace(stripTags(cleaned[textStart:textEnd]))

		for len(headingPath) >= level {
			headingPath = headingPath[:len(headingPath)-1]
		}
		headingPath = append(headingPath, text)

		lineNum := lineOf(cleaned, start)
		f := newFragment(doctype.FragmentHeading, text, lineNum, lineNum)
		f.Metadata["headingLevel"] = level
		f.Metadata["headingText"] = text
		f.Metadata["headingPath"] = append([]string(nil), headingPath...)
		fragments = append(fragments, f)

		cursor = end
	}

	if cursor < len(cleaned) {
		emitBody(cleaned[cursor:], lineOf(cleaned, cursor))
	}

	return fragments
}

func stripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}

func lineOf(s string, offset int) int {
	if offset > len(s) {
		offset = len(s)
	}
	return strings.Count(s[:offset], "\n") + 1
}
