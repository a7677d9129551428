package reposync

import (
	"path/filepath"
	"strings"
)

// excludeMatcher implements gitignore-style exclude-glob matching against
// a repository's configured Exclude patterns.
type excludeMatcher struct {
	patterns []excludePattern
}

type excludePattern struct {
	negate   bool
	dirOnly  bool
	anchored bool
	glob     string
}

func newExcludeMatcher(patterns []string) *excludeMatcher {
	m := &excludeMatcher{patterns: make([]excludePattern, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		pat := excludePattern{}
		if strings.HasPrefix(p, "!") {
			pat.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			pat.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			pat.anchored = true
			p = strings.TrimPrefix(p, "/")
		}
		pat.glob = p
		m.patterns = append(m.patterns, pat)
	}
	return m
}

// match reports whether relPath should be excluded; the last matching
// pattern wins, so a later "!" negation can re-include a path an earlier
// pattern excluded.
func (m *excludeMatcher) match(relPath string, isDir bool) bool {
	excluded := false
	for _, pat := range m.patterns {
		if pat.dirOnly {
			if relPath == pat.glob && isDir {
				excluded = !pat.negate
				continue
			}
			if strings.HasPrefix(relPath, pat.glob+"/") {
				excluded = !pat.negate
				continue
			}
			if !pat.anchored {
				parts := strings.Split(relPath, "/")
				for i, part := range parts {
					if part == pat.glob && i < len(parts)-1 {
						excluded = !pat.negate
						break
					}
				}
			}
			continue
		}

		if m.matchPattern(pat, relPath) {
			excluded = !pat.negate
		}
	}
	return excluded
}

func (m *excludeMatcher) matchPattern(pat excludePattern, relPath string) bool {
	if pat.anchored {
		matched, _ := filepath.Match(pat.glob, relPath)
		return matched
	}

	if matched, _ := filepath.Match(pat.glob, filepath.Base(relPath)); matched {
		return true
	}
	if strings.Contains(pat.glob, "/") {
		if matched, _ := filepath.Match(pat.glob, relPath); matched {
			return true
		}
	}

	parts := strings.Split(relPath, "/")
	for i := range parts {
		suffix := strings.Join(parts[i:], "/")
		if matched, _ := filepath.Match(pat.glob, suffix); matched {
			return true
		}
	}
	return false
}
