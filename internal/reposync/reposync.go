// Package reposync clones and refreshes the configured repositories under
// a shared repositories root, one exclusively-owned working directory per
// repository, and tracks sync status for the background scheduler.
package reposync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/conexus-oss/docindex/internal/apperrors"
	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/security"
)

// CloneTimeout and PullTimeout bound the external git transport calls.
const (
	CloneTimeout = 20 * time.Second
	PullTimeout  = 15 * time.Second

	// pullMaxAttempts and pullBackoffCap bound pull's retry loop for
	// transient network failures.
	pullMaxAttempts = 2
	pullBackoffCap  = 10 * time.Second
)

// commonBranchAlternatives is the ordered fallback list tried when a
// repository's configured branch (or no branch at all) can't be resolved
// against the remote.
var commonBranchAlternatives = []string{"main", "master", "develop", "trunk"}

// Status reports a repository sync's last outcome.
type Status struct {
	RepositoryName string
	InProgress     bool
	LastSyncedAt   time.Time
	LastError      string
	ChangedFiles   []string
	HeadCommit     string
}

// Synchronizer clones-or-opens, pulls, and tracks sync status for a set of
// configured repositories rooted under RootPath.
type Synchronizer struct {
	rootPath string
	recovery *checkpointStore

	mu         sync.Mutex
	inProgress map[string]bool
	status     map[string]Status
}

// New creates a synchronizer rooted at rootPath. rootPath/repositories
// holds per-repository working directories and rootPath/.recovery holds
// crash-recovery checkpoints.
func New(rootPath string) (*Synchronizer, error) {
	reposRoot := filepath.Join(rootPath, "repositories")
	if err := os.MkdirAll(reposRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create repositories root: %v", apperrors.ErrRepository, err)
	}
	recoveryRoot := filepath.Join(rootPath, ".recovery")
	if err := os.MkdirAll(recoveryRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create recovery root: %v", apperrors.ErrRepository, err)
	}

	return &Synchronizer{
		rootPath:   rootPath,
		recovery:   newCheckpointStore(recoveryRoot),
		inProgress: make(map[string]bool),
		status:     make(map[string]Status),
	}, nil
}

// workdir returns the confined, sanitized working directory for a repository.
func (s *Synchronizer) workdir(name string) (string, error) {
	reposRoot := filepath.Join(s.rootPath, "repositories")
	sanitized := security.SanitizeRepositoryName(name)
	return security.ConfineToRoot(filepath.Join(reposRoot, sanitized), reposRoot, security.DefaultMaxDepth)
}

// WorkDir returns the confined, sanitized working directory for a
// repository, for callers that need to read file contents directly (the
// chunking pipeline) after a sync.
func (s *Synchronizer) WorkDir(name string) (string, error) {
	return s.workdir(name)
}

// tryAcquire marks a repository as in-progress, returning false if a sync
// is already running for it. At most one sync per repository runs at a
// time; a second invocation returns immediately.
func (s *Synchronizer) tryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress[name] {
		return false
	}
	s.inProgress[name] = true
	return true
}

func (s *Synchronizer) release(name string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[name] = false
	s.status[name] = status
}

// Status returns the last known status for a repository.
func (s *Synchronizer) Status(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	return st, ok
}

// Sync clones the repository if its working directory does not yet exist,
// or opens and pulls it otherwise. A second concurrent call for the same
// repository returns immediately without error.
func (s *Synchronizer) Sync(ctx context.Context, repo doctype.Repository) (Status, error) {
	if !s.tryAcquire(repo.Name) {
		return Status{RepositoryName: repo.Name, InProgress: true}, nil
	}

	status := Status{RepositoryName: repo.Name}
	defer func() { s.release(repo.Name, status) }()

	dir, err := s.workdir(repo.Name)
	if err != nil {
		status.LastError = err.Error()
		return status, err
	}

	auth, err := authMethod(repo)
	if err != nil {
		status.LastError = err.Error()
		return status, err
	}

	changed, head, err := s.cloneOrPull(ctx, repo, dir, auth)
	if err != nil {
		status.LastError = err.Error()
		if saveErr := s.recovery.save(repo.Name, checkpoint{FailedAt: time.Now(), Error: err.Error()}); saveErr != nil {
			return status, fmt.Errorf("%w (and failed to persist checkpoint: %v)", err, saveErr)
		}
		return status, err
	}

	status.LastSyncedAt = time.Now()
	status.ChangedFiles = changed
	status.HeadCommit = head
	if err := s.recovery.save(repo.Name, checkpoint{SucceededAt: status.LastSyncedAt, HeadCommit: head}); err != nil {
		return status, fmt.Errorf("%w: persist checkpoint: %v", apperrors.ErrRepository, err)
	}

	return status, nil
}

func (s *Synchronizer) cloneOrPull(ctx context.Context, repo doctype.Repository, dir string, auth *http.BasicAuth) ([]string, string, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return s.pull(ctx, repo, dir, auth)
	}
	return s.clone(ctx, repo, dir, auth)
}

func (s *Synchronizer) clone(ctx context.Context, repo doctype.Repository, dir string, auth *http.BasicAuth) ([]string, string, error) {
	cloneCtx, cancel := context.WithTimeout(ctx, CloneTimeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:          repo.URL,
		Depth:        1,
		SingleBranch: true,
		Auth:         authOrNil(auth),
	}
	if ref, err := resolveBranchRef(cloneCtx, repo.URL, repo.Branch, auth); err == nil {
		opts.ReferenceName = ref
	}

	r, err := git.PlainCloneContext(cloneCtx, dir, false, opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, "", fmt.Errorf("%w: %v", apperrors.ErrCloneFailed, err)
	}

	head, err := r.Head()
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolve head: %v", apperrors.ErrWorkdirCorrupt, err)
	}

	files, err := listTrackedFiles(r)
	if err != nil {
		return nil, head.Hash().String(), nil
	}
	return filterRepoFiles(files, repo), head.Hash().String(), nil
}

func (s *Synchronizer) pull(ctx context.Context, repo doctype.Repository, dir string, auth *http.BasicAuth) ([]string, string, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperrors.ErrWorkdirCorrupt, err)
	}

	before, _ := r.Head()

	wt, err := r.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("%w: worktree: %v", apperrors.ErrWorkdirCorrupt, err)
	}

	pullOpts := &git.PullOptions{
		SingleBranch: true,
		Auth:         authOrNil(auth),
	}
	if ref, err := resolveBranchRef(ctx, repo.URL, repo.Branch, auth); err == nil {
		pullOpts.ReferenceName = ref
	}

	if err := pullWithRetry(ctx, wt, pullOpts); err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperrors.ErrPullFailed, err)
	}

	after, err := r.Head()
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolve head: %v", apperrors.ErrWorkdirCorrupt, err)
	}

	var changed []string
	if before != nil && before.Hash() != after.Hash() {
		changed, err = changedFilesBetween(r, before.Hash(), after.Hash())
		if err != nil {
			changed = nil
		} else {
			changed = filterRepoFiles(changed, repo)
		}
	}

	return changed, after.Hash().String(), nil
}

// resolveBranchRef lists the remote's advertised branches and resolves
// which one to track: the configured branch if the remote has it,
// otherwise the first match from commonBranchAlternatives, otherwise
// whatever branch the remote advertises first. Returns an error only when
// the remote can't be listed at all or advertises no branches, in which
// case callers fall back to git's own default-branch behavior.
func resolveBranchRef(ctx context.Context, url, configured string, auth *http.BasicAuth) (plumbing.ReferenceName, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: authOrNil(auth)})
	if err != nil {
		return "", fmt.Errorf("%w: list remote refs: %v", apperrors.ErrRepository, err)
	}

	branches := make(map[string]plumbing.ReferenceName)
	var ordered []plumbing.ReferenceName
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches[ref.Name().Short()] = ref.Name()
			ordered = append(ordered, ref.Name())
		}
	}

	if configured != "" {
		if ref, ok := branches[configured]; ok {
			return ref, nil
		}
	}
	for _, alt := range commonBranchAlternatives {
		if ref, ok := branches[alt]; ok {
			return ref, nil
		}
	}
	if len(ordered) > 0 {
		return ordered[0], nil
	}
	return "", fmt.Errorf("%w: remote advertises no branches", apperrors.ErrRepository)
}

// pullWithRetry retries a transient pull failure with exponential backoff,
// at most pullMaxAttempts tries, the wait between attempts capped at
// pullBackoffCap.
func pullWithRetry(ctx context.Context, wt *git.Worktree, opts *git.PullOptions) error {
	backoff := time.Second

	var err error
	for attempt := 1; attempt <= pullMaxAttempts; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, PullTimeout)
		err = wt.PullContext(pullCtx, opts)
		cancel()

		if err == nil || err == git.NoErrAlreadyUpToDate {
			return nil
		}
		if attempt == pullMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > pullBackoffCap {
			backoff = pullBackoffCap
		}
	}
	return err
}

// filterRepoFiles narrows files to those ListFiles would also report:
// outside repo.Exclude and, when repo.Paths is non-empty, inside the
// whitelist. clone's tracked-file listing and pull's changed-file diff
// both read straight from git's object store, bypassing the filesystem
// walk ListFiles uses, so they need this applied explicitly to honor the
// same scoped-paths contract.
func filterRepoFiles(files []string, repo doctype.Repository) []string {
	matcher := newExcludeMatcher(repo.Exclude)
	out := make([]string, 0, len(files))
	for _, f := range files {
		if matcher.match(f, false) {
			continue
		}
		if len(repo.Paths) > 0 && !withinWhitelist(f, repo.Paths) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// authOrNil returns a true nil transport.AuthMethod when no credential is
// set; returning a typed-nil *http.BasicAuth through the interface field
// would make go-git's own nil checks see a non-nil auth method.
func authOrNil(auth *http.BasicAuth) transport.AuthMethod {
	if auth == nil || auth.Password == "" {
		return nil
	}
	return auth
}

// authMethod builds the git transport auth for a repository: none, token
// (username x-access-token, password the token), or ssh (reserved, not
// implemented).
func authMethod(repo doctype.Repository) (*http.BasicAuth, error) {
	switch repo.AuthType {
	case "", doctype.AuthNone:
		return nil, nil
	case doctype.AuthToken:
		token := repo.Credentials
		if token == "" {
			token = os.Getenv("DOCINDEX_REPO_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("%w: token auth configured without a credential", apperrors.ErrAuthentication)
		}
		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil
	case doctype.AuthSSH:
		return nil, fmt.Errorf("%w: ssh auth is reserved, not implemented", apperrors.ErrConfiguration)
	default:
		return nil, fmt.Errorf("%w: unknown auth type %q", apperrors.ErrConfiguration, repo.AuthType)
	}
}

func listTrackedFiles(r *git.Repository) ([]string, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	return files, err
}

func changedFilesBetween(r *git.Repository, before, after plumbing.Hash) ([]string, error) {
	beforeCommit, err := r.CommitObject(before)
	if err != nil {
		return nil, err
	}
	afterCommit, err := r.CommitObject(after)
	if err != nil {
		return nil, err
	}
	patch, err := beforeCommit.Patch(afterCommit)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, stat := range patch.Stats() {
		files = append(files, stat.Name)
	}
	return files, nil
}

// SyncAll runs Sync for every repository concurrently and returns a map
// from repository name to either success (empty string) or the error kind
// tag.
func (s *Synchronizer) SyncAll(ctx context.Context, repos []doctype.Repository) map[string]string {
	results := make(map[string]string, len(repos))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, repo := range repos {
		wg.Add(1)
		go func(repo doctype.Repository) {
			defer wg.Done()
			_, err := s.Sync(ctx, repo)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[repo.Name] = errorKind(err)
			} else {
				results[repo.Name] = ""
			}
		}(repo)
	}
	wg.Wait()

	return results
}

func errorKind(err error) string {
	switch {
	case isKind(err, apperrors.ErrAuthentication):
		return "authentication_error"
	case isKind(err, apperrors.ErrRepository), isKind(err, apperrors.ErrCloneFailed),
		isKind(err, apperrors.ErrPullFailed), isKind(err, apperrors.ErrWorkdirCorrupt):
		return "repository_error"
	case isKind(err, apperrors.ErrConfiguration):
		return "configuration_error"
	default:
		return "unknown_error"
	}
}

func isKind(err, target error) bool {
	return err != nil && (err == target || strings.Contains(err.Error(), target.Error()))
}

// ListFiles walks a repository's working directory, honoring Paths
// (whitelist) and Exclude (glob denylist), and returns files in
// filesystem walk order.
func (s *Synchronizer) ListFiles(repo doctype.Repository) ([]string, error) {
	dir, err := s.workdir(repo.Name)
	if err != nil {
		return nil, err
	}

	matcher := newExcludeMatcher(repo.Exclude)
	var files []string

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".git") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matcher.match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(repo.Paths) > 0 && !withinWhitelist(rel, repo.Paths) {
			return nil
		}

		files = append(files, rel)
		return nil
	})

	return files, err
}

func withinWhitelist(rel string, paths []string) bool {
	for _, p := range paths {
		p = strings.TrimSuffix(p, "/")
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}
