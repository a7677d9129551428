package reposync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conexus-oss/docindex/internal/security"
)

// checkpoint is the last known sync outcome for a single repository,
// persisted so a restart can report the prior state before the next
// sync completes.
type checkpoint struct {
	SucceededAt time.Time `json:"succeededAt,omitempty"`
	FailedAt    time.Time `json:"failedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
	HeadCommit  string    `json:"headCommit,omitempty"`
}

// checkpointStore persists one checkpoint per repository under a
// recovery root, writing atomically via a temp-file-then-rename so a
// crash mid-write never leaves a corrupt checkpoint behind.
type checkpointStore struct {
	root string
}

func newCheckpointStore(root string) *checkpointStore {
	return &checkpointStore{root: root}
}

func (cs *checkpointStore) path(repoName string) (string, error) {
	sanitized := security.SanitizeRepositoryName(repoName)
	return security.ConfineToRoot(filepath.Join(cs.root, sanitized+".json"), cs.root, security.DefaultMaxDepth)
}

func (cs *checkpointStore) save(repoName string, cp checkpoint) error {
	dst, err := cs.path(repoName)
	if err != nil {
		return fmt.Errorf("resolve checkpoint path: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

func (cs *checkpointStore) load(repoName string) (checkpoint, bool, error) {
	src, err := cs.path(repoName)
	if err != nil {
		return checkpoint{}, false, fmt.Errorf("resolve checkpoint path: %w", err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return checkpoint{}, false, nil
		}
		return checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint{}, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}
