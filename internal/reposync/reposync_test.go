package reposync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexus-oss/docindex/internal/apperrors"
	"github.com/conexus-oss/docindex/internal/doctype"
)

// initRemote creates a bare-equivalent local repository with one commit
// that a Synchronizer can clone over the filesystem, mirroring how the
// teacher's git helper tests exercise go-git against a scratch directory.
func initRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hello\n"), 0o644))

	wt, err := r.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestSynchronizer_SyncClonesOnFirstRun(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()

	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "docs", URL: remote}
	status, err := s.Sync(context.Background(), repo)
	require.NoError(t, err)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.HeadCommit)

	dir, err := s.workdir("docs")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "README.md"))
	assert.NoError(t, err)
}

func TestSynchronizer_SyncSecondRunPulls(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()

	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "docs", URL: remote}
	first, err := s.Sync(context.Background(), repo)
	require.NoError(t, err)

	second, err := s.Sync(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, first.HeadCommit, second.HeadCommit)
	assert.Empty(t, second.ChangedFiles)
}

func TestSynchronizer_ConcurrentSyncIsExclusive(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()

	s, err := New(root)
	require.NoError(t, err)
	repo := doctype.Repository{Name: "docs", URL: remote}

	s.mu.Lock()
	s.inProgress["docs"] = true
	s.mu.Unlock()

	status, err := s.Sync(context.Background(), repo)
	require.NoError(t, err)
	assert.True(t, status.InProgress)
}

func TestSynchronizer_SyncUnknownRemoteFails(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "missing", URL: filepath.Join(root, "does-not-exist")}
	status, err := s.Sync(context.Background(), repo)
	require.Error(t, err)
	assert.NotEmpty(t, status.LastError)

	cp, ok, loadErr := s.recovery.load("missing")
	require.NoError(t, loadErr)
	require.True(t, ok)
	assert.NotEmpty(t, cp.Error)
}

func TestSynchronizer_SyncAllReportsPerRepositoryOutcome(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	repos := []doctype.Repository{
		{Name: "good", URL: remote},
		{Name: "bad", URL: filepath.Join(root, "nope")},
	}
	results := s.SyncAll(context.Background(), repos)
	assert.Equal(t, "", results["good"])
	assert.NotEmpty(t, results["bad"])
}

func TestSynchronizer_ListFilesHonorsExcludeAndPaths(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "docs", URL: remote, Exclude: []string{"*.lock"}}
	_, err = s.Sync(context.Background(), repo)
	require.NoError(t, err)

	dir, err := s.workdir("docs")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yarn.lock"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "dep.go"), []byte("package vendor"), 0o644))

	files, err := s.ListFiles(repo)
	require.NoError(t, err)
	assert.Contains(t, files, "README.md")
	assert.NotContains(t, files, "yarn.lock")

	scoped := repo
	scoped.Paths = []string{"vendor"}
	files, err = s.ListFiles(scoped)
	require.NoError(t, err)
	assert.Contains(t, files, "vendor/dep.go")
	assert.NotContains(t, files, "README.md")
}

func TestAuthMethod(t *testing.T) {
	_, err := authMethod(doctype.Repository{AuthType: doctype.AuthNone})
	assert.NoError(t, err)

	_, err = authMethod(doctype.Repository{AuthType: doctype.AuthToken})
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)

	auth, err := authMethod(doctype.Repository{AuthType: doctype.AuthToken, Credentials: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "x-access-token", auth.Username)
	assert.Equal(t, "tok", auth.Password)

	_, err = authMethod(doctype.Repository{AuthType: doctype.AuthSSH})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "authentication_error", errorKind(apperrors.ErrAuthentication))
	assert.Equal(t, "repository_error", errorKind(apperrors.ErrCloneFailed))
	assert.Equal(t, "configuration_error", errorKind(apperrors.ErrConfiguration))
	assert.Equal(t, "unknown_error", errorKind(assert.AnError))
}
