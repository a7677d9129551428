package reposync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conexus-oss/docindex/internal/doctype"
)

func TestScheduler_RunsSyncOnInterval(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "docs", URL: remote, SyncInterval: 20 * time.Millisecond}
	sch := NewScheduler(s, nil)
	sch.Start(context.Background(), []doctype.Repository{repo})
	defer sch.Stop()

	assert.Eventually(t, func() bool {
		_, ok := s.Status("docs")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_StopHaltsFurtherSyncs(t *testing.T) {
	remote := initRemote(t)
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	repo := doctype.Repository{Name: "docs", URL: remote, SyncInterval: 20 * time.Millisecond}
	sch := NewScheduler(s, nil)
	sch.Start(context.Background(), []doctype.Repository{repo})

	require.Eventually(t, func() bool {
		_, ok := s.Status("docs")
		return ok
	}, time.Second, 10*time.Millisecond)

	sch.Stop()
}

func TestScheduler_SkipsRepositoriesWithoutInterval(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	sch := NewScheduler(s, nil)
	sch.Start(context.Background(), []doctype.Repository{{Name: "no-interval"}})
	defer sch.Stop()

	time.Sleep(30 * time.Millisecond)
	_, ok := s.Status("no-interval")
	assert.False(t, ok)
}
