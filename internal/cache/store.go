// Package cache defines the narrow cache-store surface the pipeline depends
// on: key/value blobs with expiry, sorted sets, capped lists, and
// cardinality counters.
//
// The pipeline defines this interface to specify what it needs from the
// cache tier without depending on a concrete client. The production
// implementation is Redis (RedisStore); tests use MemoryStore. All
// operations are single-key atomic; no cross-key transactions are required
// anywhere in the pipeline.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache-store operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("cache store is closed")
)

type (
	// ScoredMember is one sorted-set member with its score.
	ScoredMember struct {
		Member string
		Score  float64
	}

	// Store is the cache-store access surface. Implementations must be safe
	// for concurrent use; every mutation is single-key atomic.
	Store interface {
		// Get returns the value at key. ok is false when the key is absent
		// or expired.
		Get(ctx context.Context, key string) (value []byte, ok bool, err error)

		// Set stores value at key. A zero ttl means no expiry.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

		// Del removes the given keys. Missing keys are not an error.
		Del(ctx context.Context, keys ...string) error

		// ExpireAt sets an absolute expiry on key.
		ExpireAt(ctx context.Context, key string, at time.Time) error

		// ZAdd inserts or updates a member in the sorted set at key.
		ZAdd(ctx context.Context, key string, score float64, member string) error

		// ZIncrBy increments a member's score, creating it at delta if absent.
		ZIncrBy(ctx context.Context, key string, delta float64, member string) error

		// ZCard returns the sorted set's cardinality (0 when absent).
		ZCard(ctx context.Context, key string) (int64, error)

		// ZCount returns the number of members with min <= score <= max.
		// Use math.Inf for open bounds.
		ZCount(ctx context.Context, key string, min, max float64) (int64, error)

		// ZScore returns a member's score; ok is false when absent.
		ZScore(ctx context.Context, key, member string) (score float64, ok bool, err error)

		// ZRangeWithScores returns members by rank (ascending score),
		// inclusive of start and stop; negative indices count from the end.
		ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

		// ZRemRangeByRank removes members by rank, inclusive.
		ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error

		// PushCapped prepends value to the list at key and trims it to at
		// most maxLen entries.
		PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error

		// PFAdd adds a member to the HyperLogLog at key.
		PFAdd(ctx context.Context, key, member string) error

		// PFCount returns the approximate cardinality of the union of the
		// HyperLogLogs at the given keys.
		PFCount(ctx context.Context, keys ...string) (int64, error)

		// Ping verifies the backing store is reachable.
		Ping(ctx context.Context) error
	}
)
