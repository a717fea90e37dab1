package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis operations the compile service relies on:
// cache-aside reads, rate-limit counters, session locks and the
// error-kind leaderboards.
type Cache interface {
	BasicOps
	ZSetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key. A missing key yields "".
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)
}

// ZSetOps defines sorted set operations
type ZSetOps interface {
	// ZIncrBy increments the score of member by increment
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)

	// ZRevRangeWithScores returns members ordered from highest to lowest score
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZReplace swaps the content of key for members and sets ttl in one
	// transaction.
	ZReplace(ctx context.Context, key string, members []ZMember, ttl time.Duration) error

	// ZIncrByOnce claims marker for markerTTL. Only when the claim is new is
	// member incremented, and only in those keys that already exist.
	// Returns whether the marker was claimed.
	ZIncrByOnce(ctx context.Context, marker string, markerTTL time.Duration, keys []string, increment float64, member string) (bool, error)
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a lock held under token.
	// Returns true if the lock was acquired.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases the lock only when it is still held under token.
	Unlock(ctx context.Context, key, token string) error
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
