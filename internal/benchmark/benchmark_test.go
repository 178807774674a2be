package benchmark

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/match"
)

func newTestEngine(t *testing.T, at time.Time) (*Engine, *cache.MemoryStore) {
	t.Helper()

	store := cache.NewMemoryStore()
	store.SetClock(func() time.Time { return at })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewEngine(store, nil, logger, WithPeriod(time.Hour))
	engine.SetClock(func() time.Time { return at })

	return engine, store
}

func seedPopulation(t *testing.T, store *cache.MemoryStore, key string, values ...float64) {
	t.Helper()

	ctx := context.Background()
	for _, v := range values {
		require.NoError(t, store.ZAdd(ctx, key, v, strconv.FormatFloat(v, 'f', -1, 64)))
	}
}

func TestPercentile(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	key := cache.BenchmarkKey(engine.epoch(now), "gold_per_min", 1)
	seedPopulation(t, store, key, 10, 20, 30, 40, 50)

	pct, ok, err := engine.Percentile(ctx, "gold_per_min", 1, 30)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.6, pct, 1e-9)

	pct, ok, err = engine.Percentile(ctx, "gold_per_min", 1, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, pct, "a value below every sample ranks at zero")

	pct, _, err = engine.Percentile(ctx, "gold_per_min", 1, 55)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pct, 1e-9)

	_, ok, err = engine.Percentile(ctx, "gold_per_min", 99, 30)
	require.NoError(t, err)
	assert.False(t, ok, "no population for the hero")
}

func TestPercentileWindowFallback(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	current := engine.epoch(now)

	// Only the previous window has samples: queries fall back to it.
	previousKey := cache.BenchmarkKey(current-1, "gold_per_min", 1)
	seedPopulation(t, store, previousKey, 10, 20, 30, 40, 50)

	pct, ok, err := engine.Percentile(ctx, "gold_per_min", 1, 30)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.6, pct, 1e-9)

	// Once the current window has any samples it wins, even while sparse.
	currentKey := cache.BenchmarkKey(current, "gold_per_min", 1)
	seedPopulation(t, store, currentKey, 100)

	pct, ok, err = engine.Percentile(ctx, "gold_per_min", 1, 30)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, pct)
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	m := &match.Match{
		MatchID:  10,
		Duration: 2400,
		Players: []match.Player{
			{PlayerSlot: 0, HeroID: 1, GoldPerMin: 450, Kills: 8},
			{PlayerSlot: 1, HeroID: 0, GoldPerMin: 500}, // no hero, skipped
		},
	}
	require.NoError(t, engine.Record(ctx, m))

	epoch := engine.epoch(now)

	card, err := store.ZCard(ctx, cache.BenchmarkKey(epoch, "gold_per_min", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)

	// kills_per_min derives from duration: 8 kills over 40 minutes.
	pct, ok, err := engine.Percentile(ctx, "kills_per_min", 1, 0.2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, pct, 1e-9)

	card, err = store.ZCard(ctx, cache.BenchmarkKey(epoch, "gold_per_min", 0))
	require.NoError(t, err)
	assert.Zero(t, card)
}

func TestRecordWindowsExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	m := &match.Match{
		MatchID:  10,
		Duration: 2400,
		Players:  []match.Player{{PlayerSlot: 0, HeroID: 1, GoldPerMin: 450}},
	}
	require.NoError(t, engine.Record(ctx, m))

	key := cache.BenchmarkKey(engine.epoch(now), "gold_per_min", 1)

	// Two full periods later the window is gone.
	store.SetClock(func() time.Time { return now.Add(3 * time.Hour) })

	card, err := store.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, card)
}

func TestPlayerBenchmarks(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	key := cache.BenchmarkKey(engine.epoch(now), "gold_per_min", 1)
	seedPopulation(t, store, key, 10, 20, 30, 40, 50)

	m := &match.Match{MatchID: 10, Duration: 2400}
	p := &match.Player{PlayerSlot: 0, HeroID: 1, GoldPerMin: 30}

	got, err := engine.PlayerBenchmarks(ctx, m, p)
	require.NoError(t, err)
	require.Contains(t, got, "gold_per_min")
	assert.InDelta(t, 30.0, got["gold_per_min"].Raw, 1e-9)
	assert.InDelta(t, 0.6, got["gold_per_min"].Percentile, 1e-9)

	// Players without a hero produce nothing.
	got, err = engine.PlayerBenchmarks(ctx, m, &match.Player{PlayerSlot: 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHeroReport(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	engine, store := newTestEngine(t, now)

	key := cache.BenchmarkKey(engine.epoch(now), "gold_per_min", 1)
	seedPopulation(t, store, key, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)

	report, err := engine.HeroReport(ctx, 1)
	require.NoError(t, err)
	require.Contains(t, report, "gold_per_min")

	points := report["gold_per_min"]
	require.Len(t, points, len(ReportPercentiles))

	byPct := make(map[float64]float64, len(points))
	for _, pt := range points {
		byPct[pt.Percentile] = pt.Value
	}

	assert.InDelta(t, 50.0, byPct[0.5], 1e-9)
	assert.InDelta(t, 100.0, byPct[0.99], 1e-9)

	// Metrics without samples are left out entirely.
	assert.NotContains(t, report, "tower_damage")
}
