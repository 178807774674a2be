package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchforge-io/matchforge/internal/config"
)

// Compile-time interface assertion.
var _ Store = (*RedisStore)(nil)

// ErrInvalidCacheURL is returned when the configured cache URL cannot be parsed.
var ErrInvalidCacheURL = errors.New("invalid cache URL")

// Config holds Redis connection configuration.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// LoadConfig loads Redis configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		URL:          config.GetEnvStr("CACHE_URL", "redis://localhost:6379"),
		DialTimeout:  config.GetEnvDuration("CACHE_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  config.GetEnvDuration("CACHE_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: config.GetEnvDuration("CACHE_WRITE_TIMEOUT", 3*time.Second),
		PoolSize:     config.GetEnvInt("CACHE_POOL_SIZE", 32),
	}
}

// RedisStore implements Store backed by Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using the given configuration. The
// connection is verified with a bounded ping before returning.
func NewRedisStore(cfg *Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCacheURL, err)
	}

	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("cache ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get returns the value at key; ok is false when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Set stores value at key with an optional ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Del removes the given keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return s.client.Del(ctx, keys...).Err()
}

// ExpireAt sets an absolute expiry on key.
func (s *RedisStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return s.client.ExpireAt(ctx, key, at).Err()
}

// ZAdd inserts or updates a member in the sorted set at key.
func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZIncrBy increments a member's score.
func (s *RedisStore) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	return s.client.ZIncrBy(ctx, key, delta, member).Err()
}

// ZCard returns the sorted set's cardinality.
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

// ZCount returns the number of members with min <= score <= max.
func (s *RedisStore) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.client.ZCount(ctx, key, formatBound(min), formatBound(max)).Result()
}

// ZScore returns a member's score; ok is false when the member is absent.
func (s *RedisStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return score, true, nil
}

// ZRangeWithScores returns members by ascending rank.
func (s *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}

	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		members = append(members, ScoredMember{
			Member: fmt.Sprint(z.Member),
			Score:  z.Score,
		})
	}

	return members, nil
}

// ZRemRangeByRank removes members by rank, inclusive.
func (s *RedisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return s.client.ZRemRangeByRank(ctx, key, start, stop).Err()
}

// PushCapped prepends value to the list at key and trims it to maxLen.
func (s *RedisStore) PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return err
	}

	return s.client.LTrim(ctx, key, 0, maxLen-1).Err()
}

// PFAdd adds a member to the HyperLogLog at key.
func (s *RedisStore) PFAdd(ctx context.Context, key, member string) error {
	return s.client.PFAdd(ctx, key, member).Err()
}

// PFCount returns the approximate union cardinality of the given keys.
func (s *RedisStore) PFCount(ctx context.Context, keys ...string) (int64, error) {
	return s.client.PFCount(ctx, keys...).Result()
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// formatBound renders a score bound in Redis syntax, mapping infinities to
// -inf/+inf.
func formatBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
