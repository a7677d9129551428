package reposync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludeMatcher_Basename(t *testing.T) {
	m := newExcludeMatcher([]string{"*.lock"})
	assert.True(t, m.match("yarn.lock", false))
	assert.True(t, m.match("nested/yarn.lock", false))
	assert.False(t, m.match("lockfile.txt", false))
}

func TestExcludeMatcher_DirOnly(t *testing.T) {
	m := newExcludeMatcher([]string{"node_modules/"})
	assert.True(t, m.match("node_modules", true))
	assert.True(t, m.match("node_modules/pkg/index.js", false))
	assert.False(t, m.match("node_modules_backup", true))
}

func TestExcludeMatcher_Anchored(t *testing.T) {
	m := newExcludeMatcher([]string{"/build"})
	assert.True(t, m.match("build", false))
	assert.False(t, m.match("sub/build", false))
}

func TestExcludeMatcher_Negation(t *testing.T) {
	m := newExcludeMatcher([]string{"*.md", "!README.md"})
	assert.True(t, m.match("CHANGELOG.md", false))
	assert.False(t, m.match("README.md", false))
}

func TestExcludeMatcher_EmptyPatternsMatchNothing(t *testing.T) {
	m := newExcludeMatcher(nil)
	assert.False(t, m.match("anything.go", false))
}
