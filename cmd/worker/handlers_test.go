package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchforge-io/matchforge/internal/assembler"
	"github.com/matchforge-io/matchforge/internal/benchmark"
	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/platform"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

type noFetch struct{}

func (noFetch) MatchDetails(context.Context, int64) (*match.Match, error) {
	return nil, platform.ErrMatchNotFound
}

type workerFixture struct {
	handlers *handlers
	engine   *ingest.Engine
	store    *storage.MemoryMatchStore
	cache    *cache.MemoryStore
	frozen   time.Time
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheStore := cache.NewMemoryStore()
	counter := cache.NewCounter(cacheStore, logger)
	columns := colstore.NewMemoryStore()
	store := storage.NewMemoryMatchStore()

	frozen := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	cacheStore.SetClock(func() time.Time { return frozen })

	bench := benchmark.NewEngine(cacheStore, counter, logger)
	bench.SetClock(func() time.Time { return frozen })

	engine := ingest.NewEngine(&ingest.Config{}, store, columns, cacheStore, counter, queue.NewMemoryProducer(), logger)
	asm := assembler.New(
		&assembler.Config{CacheTTL: time.Minute},
		columns, store, cacheStore, counter, bench, noFetch{}, engine, logger,
	)

	return &workerFixture{
		handlers: &handlers{
			assembler: asm,
			benchmark: bench,
			store:     store,
			cache:     cacheStore,
			logger:    logger,
		},
		engine: engine,
		store:  store,
		cache:  cacheStore,
		frozen: frozen,
	}
}

func envelope(t *testing.T, kind queue.Kind, payload any) *queue.Envelope {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	return &queue.Envelope{Kind: kind, Payload: raw}
}

func TestBenchmarkSampleHandler(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)

	account := int64(700)
	win := true
	m := &match.Match{
		MatchID:    10,
		StartTime:  1_700_000_000,
		Duration:   2400,
		RadiantWin: &win,
		GameMode:   22,
		LobbyType:  7,
		Players: []match.Player{
			{AccountID: &account, PlayerSlot: 0, HeroID: 14, GoldPerMin: 520},
		},
	}

	_, err := f.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	err = f.handlers.benchmarkSample(ctx, envelope(t, queue.KindBenchmarkSample, &queue.BenchmarkSampleJob{MatchID: 10}))
	require.NoError(t, err)

	epoch := f.frozen.Unix() / int64(time.Hour.Seconds())
	card, err := f.cache.ZCard(ctx, cache.BenchmarkKey(epoch, "gold_per_min", 14))
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestBenchmarkSampleHandlerSkipsInsignificantMatch(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)

	// Private lobby: assembled fine, never sampled.
	account := int64(700)
	win := true
	m := &match.Match{
		MatchID:    11,
		Duration:   2400,
		RadiantWin: &win,
		GameMode:   22,
		LobbyType:  1,
		Players:    []match.Player{{AccountID: &account, PlayerSlot: 0, HeroID: 14, GoldPerMin: 520}},
	}

	_, err := f.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	err = f.handlers.benchmarkSample(ctx, envelope(t, queue.KindBenchmarkSample, &queue.BenchmarkSampleJob{MatchID: 11}))
	require.NoError(t, err)

	epoch := f.frozen.Unix() / int64(time.Hour.Seconds())
	card, err := f.cache.ZCard(ctx, cache.BenchmarkKey(epoch, "gold_per_min", 14))
	require.NoError(t, err)
	assert.Zero(t, card)
}

func TestBenchmarkSampleHandlerDropsUnknownMatch(t *testing.T) {
	f := newWorkerFixture(t)

	err := f.handlers.benchmarkSample(context.Background(),
		envelope(t, queue.KindBenchmarkSample, &queue.BenchmarkSampleJob{MatchID: 404}))
	assert.NoError(t, err, "unknown matches are dropped, not requeued")
}

func TestProfileRefreshHandler(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)

	job := &queue.ProfileRefreshJob{AccountID: 700, StartTime: 1_700_000_000}
	err := f.handlers.profileRefresh(ctx, envelope(t, queue.KindProfileRefresh, job))
	require.NoError(t, err)

	// The refresh records the triggering match's start time, not wall clock.
	seen, ok := f.store.LastSeen(700)
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_000), seen)
}

func TestRatingSampleHandler(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)

	account := int64(700)
	tier := 54
	require.NoError(t, f.store.UpsertRankTiers(ctx, &match.Match{Players: []match.Player{
		{AccountID: &account, RankTier: &tier},
	}}))

	job := &queue.RatingSampleJob{AccountID: 700, MatchID: 10}
	require.NoError(t, f.handlers.ratingSample(ctx, envelope(t, queue.KindRatingSample, job)))
	require.NoError(t, f.handlers.ratingSample(ctx, envelope(t, queue.KindRatingSample, job)))

	score, ok, err := f.cache.ZScore(ctx, cache.KeyRankDistribution, "54")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, score)

	// No stored tier, no tally.
	unrated := &queue.RatingSampleJob{AccountID: 999, MatchID: 10}
	require.NoError(t, f.handlers.ratingSample(ctx, envelope(t, queue.KindRatingSample, unrated)))

	_, ok, err = f.cache.ZScore(ctx, cache.KeyRankDistribution, "0")
	require.NoError(t, err)
	assert.False(t, ok)
}
