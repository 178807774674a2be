package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Counter metric names used across the pipeline.
const (
	MetricAddedMatch      = "added_match"
	MetricSkipSeqNum      = "skip_seq_num"
	MetricSecondaryFill   = "secondary_fill"
	MetricRetrieverCall   = "retriever"
	MetricParsedMatch     = "parser"
	MetricBuildMatch      = "build_match"
	MetricColumnRepair    = "column_repair"
	MetricBenchmarkSample = "benchmark_sample"
)

// counterRetention keeps hourly counter keys queryable for a day of
// lookback.
const counterRetention = 24 * time.Hour

// Counter records approximate per-hour event counts in the cache store.
// Each event adds a unique member to the hour's HyperLogLog, so repeated
// retries of the same operation still count once per attempt without any
// read-modify-write cycle.
type Counter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewCounter creates a counter writing through the given store. Counter
// failures are logged, never surfaced.
func NewCounter(store Store, logger *slog.Logger) *Counter {
	return &Counter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the counter's clock. Test hook.
func (c *Counter) SetClock(now func() time.Time) {
	c.now = now
}

// hourKey buckets a metric into the wall-clock hour that is offset hours
// before now.
func (c *Counter) hourKey(metric string, offset int) string {
	hour := c.now().Truncate(time.Hour).Add(-time.Duration(offset) * time.Hour)

	return fmt.Sprintf("%s:%d", metric, hour.Unix())
}

// Add records one occurrence of metric in the current hour.
func (c *Counter) Add(ctx context.Context, metric string) {
	key := c.hourKey(metric, 0)

	if err := c.store.PFAdd(ctx, key, uuid.NewString()); err != nil {
		c.logger.Warn("counter add failed", slog.String("metric", metric), slog.String("error", err.Error()))

		return
	}

	expiry := c.now().Truncate(time.Hour).Add(counterRetention)
	if err := c.store.ExpireAt(ctx, key, expiry); err != nil {
		c.logger.Warn("counter expire failed", slog.String("metric", metric), slog.String("error", err.Error()))
	}
}

// Day returns the approximate count of metric over the last 24 hours,
// including the current partial hour.
func (c *Counter) Day(ctx context.Context, metric string) (int64, error) {
	keys := make([]string, 0, 24)
	for i := 0; i < 24; i++ {
		keys = append(keys, c.hourKey(metric, i))
	}

	return c.store.PFCount(ctx, keys...)
}
