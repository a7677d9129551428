package contextgen

import (
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

// buildProgressiveView groups already-ranked results into the three-bucket
// progressive view: a one-fragment-per-kind overview per document above the
// expansion threshold, the full set of qualifying fragments per document in
// hierarchy order for the details view, and a lower-confidence band of
// related fragments grouped by category/framework.
func buildProgressiveView(results []doctype.RankedResult, expansionThreshold float64) doctype.ProgressiveContext {
	overview := buildOverview(results, expansionThreshold)
	details := buildDetails(results, expansionThreshold)
	related := buildRelated(results, expansionThreshold)

	return doctype.ProgressiveContext{
		Overview: overview,
		Details:  details,
		Related:  related,
	}
}

func buildOverview(results []doctype.RankedResult, threshold float64) []doctype.OverviewEntry {
	entries := make(map[string]*doctype.OverviewEntry)
	order := make([]string, 0)

	for i := range results {
		r := results[i]
		if r.Score < threshold || r.Fragment == nil {
			continue
		}
		docID := r.Fragment.DocumentID
		entry, ok := entries[docID]
		if !ok {
			entry = &doctype.OverviewEntry{DocumentID: docID}
			entries[docID] = entry
			order = append(order, docID)
		}

		switch r.Fragment.Kind {
		case doctype.FragmentHeading:
			if entry.Heading == nil || r.Score > entry.Heading.Score {
				rr := truncatedOverviewResult(r)
				entry.Heading = &rr
			}
		case doctype.FragmentParagraph:
			if entry.Paragraph == nil || r.Score > entry.Paragraph.Score {
				rr := truncatedOverviewResult(r)
				entry.Paragraph = &rr
			}
		case doctype.FragmentCode:
			if entry.Code == nil || r.Score > entry.Code.Score {
				rr := truncatedOverviewResult(r)
				entry.Code = &rr
			}
		}
	}

	out := make([]doctype.OverviewEntry, 0, len(order))
	for _, docID := range order {
		out = append(out, *entries[docID])
	}
	return out
}

// truncatedOverviewResult trims a fragment's content to the overview's
// compact summary shape: paragraphs to their first three lines, code to at
// most three signature lines or the first five lines, whichever is shorter.
func truncatedOverviewResult(r doctype.RankedResult) doctype.RankedResult {
	if r.Fragment == nil {
		return r
	}
	trimmed := *r.Fragment
	switch r.Fragment.Kind {
	case doctype.FragmentParagraph:
		trimmed.Content = truncateLines(r.Fragment.Content, 3, true)
	case doctype.FragmentCode:
		sigs := signatureLines(r.Fragment.Content)
		if len(sigs) > 0 {
			trimmed.Content = strings.Join(sigs, "\n")
		} else {
			trimmed.Content = truncateLines(r.Fragment.Content, 5, false)
		}
	}
	out := r
	out.Fragment = &trimmed
	return out
}

func truncateLines(content string, n int, ellipsis bool) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content
	}
	out := strings.Join(lines[:n], "\n")
	if ellipsis {
		out += "..."
	}
	return out
}

// signatureLines returns up to three lines that look like declarations
// (function/method/class/type signatures), used to summarize a code
// fragment without dumping its full body.
func signatureLines(content string) []string {
	var sigs []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if looksLikeSignature(trimmed) {
			sigs = append(sigs, line)
			if len(sigs) == 3 {
				break
			}
		}
	}
	return sigs
}

func looksLikeSignature(line string) bool {
	keywords := []string{"func ", "def ", "class ", "type ", "function ", "public ", "private ", "interface ", "struct "}
	for _, k := range keywords {
		if strings.HasPrefix(line, k) {
			return true
		}
	}
	return false
}

func buildDetails(results []doctype.RankedResult, threshold float64) map[string][]*doctype.RankedResult {
	details := make(map[string][]*doctype.RankedResult)
	for i := range results {
		r := results[i]
		if r.Score < threshold || r.Fragment == nil {
			continue
		}
		docID := r.Fragment.DocumentID
		details[docID] = append(details[docID], &r)
	}
	for docID, frags := range details {
		details[docID] = orderParentBeforeChild(frags)
	}
	return details
}

// orderParentBeforeChild places fragments with no parent ahead of their
// children, preserving the relative order the ranker otherwise assigned.
func orderParentBeforeChild(frags []*doctype.RankedResult) []*doctype.RankedResult {
	byID := make(map[string]*doctype.RankedResult, len(frags))
	for _, f := range frags {
		byID[f.Fragment.ID] = f
	}

	visited := make(map[string]bool, len(frags))
	out := make([]*doctype.RankedResult, 0, len(frags))

	var visit func(f *doctype.RankedResult)
	visit = func(f *doctype.RankedResult) {
		if visited[f.Fragment.ID] {
			return
		}
		if parent, ok := byID[f.Fragment.ParentID]; ok && f.Fragment.ParentID != "" {
			visit(parent)
		}
		visited[f.Fragment.ID] = true
		out = append(out, f)
	}
	for _, f := range frags {
		visit(f)
	}
	return out
}

func buildRelated(results []doctype.RankedResult, threshold float64) map[string][]*doctype.RankedResult {
	lower := threshold * 0.7
	groups := make(map[string][]*doctype.RankedResult)

	for i := range results {
		r := results[i]
		if r.Fragment == nil || r.Score < lower || r.Score >= threshold {
			continue
		}
		key := relatedGroupKey(r.Fragment)
		groups[key] = append(groups[key], &r)
	}

	for key, frags := range groups {
		if len(frags) > 3 {
			groups[key] = frags[:3]
		}
	}
	return groups
}

func relatedGroupKey(f *doctype.Fragment) string {
	if f.Metadata != nil {
		if cat, ok := f.Metadata["category"].(string); ok && cat != "" {
			return cat
		}
		if fw, ok := f.Metadata["framework"].(string); ok && fw != "" {
			return fw
		}
	}
	return "uncategorized"
}
