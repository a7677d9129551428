package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SlidingWindowAllowsWithinLimit(t *testing.T) {
	config := Config{
		Enabled:         true,
		UpsertLimit:     LimitConfig{Requests: 5, Window: time.Minute},
		SearchLimit:     LimitConfig{Requests: 3, Window: time.Minute},
		CleanupInterval: time.Minute,
	}

	l, err := New(config)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := l.Allow(ctx, BucketUpsert)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(5-i-1), result.Remaining)
		assert.Equal(t, int64(5), result.Limit)
	}

	result, err := l.Allow(ctx, BucketUpsert)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.True(t, result.RetryAfter > 0)
}

func TestLimiter_BucketsAreIndependent(t *testing.T) {
	config := Config{
		Enabled:         true,
		UpsertLimit:     LimitConfig{Requests: 1, Window: time.Minute},
		SearchLimit:     LimitConfig{Requests: 1, Window: time.Minute},
		CleanupInterval: time.Minute,
	}

	l, err := New(config)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()

	result, err := l.Allow(ctx, BucketUpsert)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = l.Allow(ctx, BucketSearch)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "search bucket must not be exhausted by an upsert")

	result, err = l.Allow(ctx, BucketUpsert)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestLimiter_DisabledAlwaysAllows(t *testing.T) {
	l, err := New(Config{Enabled: false})
	require.NoError(t, err)
	defer l.Close()

	result, err := l.Allow(context.Background(), BucketUpsert)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestDefaultConfig_MatchesSpecLimits(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.UpsertLimit.Requests)
	assert.Equal(t, 30, cfg.SearchLimit.Requests)
	assert.Equal(t, time.Minute, cfg.UpsertLimit.Window)
	assert.Equal(t, time.Minute, cfg.SearchLimit.Window)
}
