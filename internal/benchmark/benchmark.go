// Package benchmark maintains per-hero performance distributions in
// double-buffered time windows and answers percentile queries against them.
//
// Samples land in the window covering their arrival time. Queries prefer the
// current window and fall back to the previous one while the current window
// is still filling, so a freshly rolled window never answers with an empty
// population. Window keys expire two periods after they open; nothing ever
// needs explicit cleanup.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/match"
)

// DefaultPeriod is the window length samples are bucketed by.
const DefaultPeriod = time.Hour

// expiryPeriods is how many periods after a window opens its keys expire.
// Two keeps exactly the current and previous windows alive.
const expiryPeriods = 2

const secondsPerMinute = 60.0

// Metric is one benchmarked performance dimension.
type Metric struct {
	Name string

	// Compute extracts the metric value for one player. ok is false when the
	// payload lacks the inputs.
	Compute func(m *match.Match, p *match.Player) (float64, bool)
}

// Metrics is the benchmarked dimension set. Rate metrics need a positive
// match duration; absolute metrics only need a positive value.
var Metrics = []Metric{
	{Name: "gold_per_min", Compute: absolute(func(p *match.Player) int { return p.GoldPerMin })},
	{Name: "xp_per_min", Compute: absolute(func(p *match.Player) int { return p.XPPerMin })},
	{Name: "kills_per_min", Compute: perMinute(func(p *match.Player) int { return p.Kills })},
	{Name: "last_hits_per_min", Compute: perMinute(func(p *match.Player) int { return p.LastHits })},
	{Name: "hero_damage_per_min", Compute: perMinute(func(p *match.Player) int { return p.HeroDamage })},
	{Name: "hero_healing_per_min", Compute: perMinute(func(p *match.Player) int { return p.HeroHealing })},
	{Name: "tower_damage", Compute: absolute(func(p *match.Player) int { return p.TowerDamage })},
}

func absolute(field func(*match.Player) int) func(*match.Match, *match.Player) (float64, bool) {
	return func(_ *match.Match, p *match.Player) (float64, bool) {
		v := field(p)
		if v <= 0 {
			return 0, false
		}

		return float64(v), true
	}
}

func perMinute(field func(*match.Player) int) func(*match.Match, *match.Player) (float64, bool) {
	return func(m *match.Match, p *match.Player) (float64, bool) {
		v := field(p)
		if v <= 0 || m.Duration <= 0 {
			return 0, false
		}

		return float64(v) * secondsPerMinute / float64(m.Duration), true
	}
}

// ReportPercentiles are the distribution points HeroReport answers with.
var ReportPercentiles = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99}

// Point is one (percentile, value) pair in a hero's distribution report.
type Point struct {
	Percentile float64 `json:"percentile"`
	Value      float64 `json:"value"`
}

// Engine records benchmark samples and answers percentile queries.
type Engine struct {
	store   cache.Store
	counter *cache.Counter
	logger  *slog.Logger
	period  time.Duration
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPeriod overrides the window length.
func WithPeriod(period time.Duration) Option {
	return func(e *Engine) {
		e.period = period
	}
}

// NewEngine creates a benchmark engine on top of the cache store. The counter
// may be nil when sampling telemetry is not wanted.
func NewEngine(store cache.Store, counter *cache.Counter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		counter: counter,
		logger:  logger.With(slog.String("component", "benchmark")),
		period:  config.GetEnvDuration("BENCHMARK_PERIOD", DefaultPeriod),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// epoch is the window index covering t.
func (e *Engine) epoch(t time.Time) int64 {
	return t.Unix() / int64(e.period.Seconds())
}

// windowExpiry is when keys of the given epoch must disappear.
func (e *Engine) windowExpiry(epoch int64) time.Time {
	return time.Unix((epoch+expiryPeriods)*int64(e.period.Seconds()), 0)
}

// Record samples every qualifying player of a match into the current window.
func (e *Engine) Record(ctx context.Context, m *match.Match) error {
	now := e.now()
	epoch := e.epoch(now)
	member := strconv.FormatInt(m.MatchID, 10)

	for i := range m.Players {
		p := &m.Players[i]
		if p.HeroID <= 0 {
			continue
		}

		for _, metric := range Metrics {
			value, ok := metric.Compute(m, p)
			if !ok {
				continue
			}

			key := cache.BenchmarkKey(epoch, metric.Name, p.HeroID)

			if err := e.store.ZAdd(ctx, key, value, member); err != nil {
				return fmt.Errorf("record %s for hero %d: %w", metric.Name, p.HeroID, err)
			}

			if err := e.store.ExpireAt(ctx, key, e.windowExpiry(epoch)); err != nil {
				return fmt.Errorf("expire %s window: %w", metric.Name, err)
			}
		}
	}

	if e.counter != nil {
		e.counter.Add(ctx, cache.MetricBenchmarkSample)
	}

	return nil
}

// window picks the sorted-set key to answer queries for one (metric, hero):
// the current window if it exists, otherwise the previous one. ok is false
// when neither window holds any samples.
func (e *Engine) window(ctx context.Context, metric string, heroID int) (string, int64, bool, error) {
	current := e.epoch(e.now())

	for _, epoch := range []int64{current, current - 1} {
		key := cache.BenchmarkKey(epoch, metric, heroID)

		card, err := e.store.ZCard(ctx, key)
		if err != nil {
			return "", 0, false, fmt.Errorf("inspect %s window: %w", metric, err)
		}

		if card > 0 {
			return key, card, true, nil
		}
	}

	return "", 0, false, nil
}

// Percentile places value within the hero's population for one metric:
// the fraction of recorded samples at or below it. ok is false when no
// population exists yet.
func (e *Engine) Percentile(ctx context.Context, metric string, heroID int, value float64) (float64, bool, error) {
	key, card, ok, err := e.window(ctx, metric, heroID)
	if err != nil || !ok {
		return 0, false, err
	}

	below, err := e.store.ZCount(ctx, key, math.Inf(-1), value)
	if err != nil {
		return 0, false, fmt.Errorf("count %s samples: %w", metric, err)
	}

	return float64(below) / float64(card), true, nil
}

// PlayerBenchmarks computes every metric's raw value and percentile for one
// player of a match. Metrics without a population are reported with their raw
// value and a zero percentile.
func (e *Engine) PlayerBenchmarks(ctx context.Context, m *match.Match, p *match.Player) (map[string]match.Benchmark, error) {
	if p.HeroID <= 0 {
		return nil, nil
	}

	out := make(map[string]match.Benchmark)

	for _, metric := range Metrics {
		value, ok := metric.Compute(m, p)
		if !ok {
			continue
		}

		pct, _, err := e.Percentile(ctx, metric.Name, p.HeroID, value)
		if err != nil {
			return nil, err
		}

		out[metric.Name] = match.Benchmark{Raw: value, Percentile: pct}
	}

	return out, nil
}

// HeroReport returns each metric's distribution for one hero at the report
// percentiles. Metrics without a population are omitted.
func (e *Engine) HeroReport(ctx context.Context, heroID int) (map[string][]Point, error) {
	report := make(map[string][]Point)

	for _, metric := range Metrics {
		key, card, ok, err := e.window(ctx, metric.Name, heroID)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		points := make([]Point, 0, len(ReportPercentiles))

		for _, pct := range ReportPercentiles {
			rank := int64(math.Ceil(pct*float64(card))) - 1
			if rank < 0 {
				rank = 0
			}

			members, err := e.store.ZRangeWithScores(ctx, key, rank, rank)
			if err != nil {
				return nil, fmt.Errorf("read %s distribution: %w", metric.Name, err)
			}

			if len(members) == 0 {
				continue
			}

			points = append(points, Point{Percentile: pct, Value: members[0].Score})
		}

		report[metric.Name] = points
	}

	return report, nil
}
