// Package ratelimit enforces the two coordinator-internal buckets the
// vector index write and read paths are subject to: upserts and searches,
// each on its own sliding window. It prefers a Redis-backed window so the
// limit holds across process restarts and multiple coordinator instances,
// and falls back to an in-memory window when Redis is not configured.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket identifies which operation's rate limit applies.
type Bucket string

const (
	// BucketUpsert limits writes into the vector index: 100 per minute by default.
	BucketUpsert Bucket = "upsert"
	// BucketSearch limits reads from the vector index: 30 per minute by default.
	BucketSearch Bucket = "search"
)

// Config holds rate limiting configuration for both buckets.
type Config struct {
	Enabled bool
	Redis   RedisConfig

	UpsertLimit LimitConfig
	SearchLimit LimitConfig

	// CleanupInterval controls the in-memory fallback's expired-entry sweep.
	CleanupInterval time.Duration
}

// RedisConfig holds the optional Redis connection used for a
// cross-instance rate-limit window.
type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LimitConfig is a requests-per-window limit.
type LimitConfig struct {
	Requests int
	Window   time.Duration
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed      bool
	Remaining    int64
	RetryAfter   time.Duration
	ResetTime    time.Time
	CurrentCount int64
	Limit        int64
}

// Limiter enforces the upsert and search buckets with a sliding window,
// backed by Redis when configured and an in-memory fallback otherwise.
type Limiter struct {
	config   Config
	redis    *redis.Client
	inMemory *memoryLimiter
}

// New creates a limiter from config. It pings Redis once at construction
// time so a misconfigured address is reported immediately rather than on
// the first request.
func New(config Config) (*Limiter, error) {
	l := &Limiter{
		config:   config,
		inMemory: newMemoryLimiter(config.CleanupInterval),
	}

	if config.Redis.Enabled {
		l.redis = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect rate limit redis: %w", err)
		}
	}

	return l, nil
}

// Allow checks whether an operation in the given bucket is permitted right now.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket) (*Result, error) {
	if !l.config.Enabled {
		return &Result{Allowed: true}, nil
	}

	limit := l.limitFor(bucket)
	key := l.buildKey(bucket)

	now := time.Now().UnixMilli()
	windowStart := now - limit.Window.Milliseconds()

	if l.redis != nil {
		return l.allowRedis(ctx, key, limit, now, windowStart)
	}
	return l.inMemory.allow(key, limit, now, windowStart)
}

func (l *Limiter) limitFor(bucket Bucket) LimitConfig {
	if bucket == BucketSearch {
		return l.config.SearchLimit
	}
	return l.config.UpsertLimit
}

func (l *Limiter) buildKey(bucket Bucket) string {
	prefix := "docindex_ratelimit"
	if l.config.Redis.KeyPrefix != "" {
		prefix = l.config.Redis.KeyPrefix
	}
	return fmt.Sprintf("%s:%s", prefix, bucket)
}

func (l *Limiter) allowRedis(ctx context.Context, key string, limit LimitConfig, now, windowStart int64) (*Result, error) {
	if err := l.redis.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now}).Err(); err != nil {
		return nil, fmt.Errorf("add entry to rate window: %w", err)
	}
	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStart)).Err(); err != nil {
		return nil, fmt.Errorf("trim rate window: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("count rate window: %w", err)
	}
	if err := l.redis.Expire(ctx, key, limit.Window*2).Err(); err != nil {
		return nil, fmt.Errorf("set rate window expiry: %w", err)
	}

	allowed := count <= int64(limit.Requests)
	var retryAfter time.Duration
	if !allowed {
		oldest, err := l.redis.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			retryAfter = time.Duration(windowStart-int64(oldest[0].Score)) * time.Millisecond
			if retryAfter < 0 {
				retryAfter = limit.Window
			}
		} else {
			retryAfter = limit.Window
		}
	}

	return &Result{
		Allowed:      allowed,
		Remaining:    maxInt64(0, int64(limit.Requests)-count),
		RetryAfter:   retryAfter,
		ResetTime:    time.UnixMilli(now + limit.Window.Milliseconds()),
		CurrentCount: count,
		Limit:        int64(limit.Requests),
	}, nil
}

// Close releases the Redis connection, if any.
func (l *Limiter) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// DefaultConfig returns the coordinator's rate limits: 100 upserts
// and 30 searches per minute.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "docindex_ratelimit",
		},
		UpsertLimit:     LimitConfig{Requests: 100, Window: time.Minute},
		SearchLimit:     LimitConfig{Requests: 30, Window: time.Minute},
		CleanupInterval: 5 * time.Minute,
	}
}
