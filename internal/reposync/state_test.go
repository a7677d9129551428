package reposync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStore_SaveAndLoad(t *testing.T) {
	cs := newCheckpointStore(t.TempDir())

	cp := checkpoint{SucceededAt: time.Now().Truncate(time.Second), HeadCommit: "abc123"}
	require.NoError(t, cs.save("docs", cp))

	loaded, ok, err := cs.load("docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp.HeadCommit, loaded.HeadCommit)
	assert.True(t, cp.SucceededAt.Equal(loaded.SucceededAt))
}

func TestCheckpointStore_LoadMissingReturnsNotFound(t *testing.T) {
	cs := newCheckpointStore(t.TempDir())
	_, ok, err := cs.load("never-synced")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointStore_SaveOverwritesPrevious(t *testing.T) {
	cs := newCheckpointStore(t.TempDir())

	require.NoError(t, cs.save("docs", checkpoint{HeadCommit: "first"}))
	require.NoError(t, cs.save("docs", checkpoint{HeadCommit: "second"}))

	loaded, ok, err := cs.load("docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", loaded.HeadCommit)
}
