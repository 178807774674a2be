package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

type testPipeline struct {
	engine     *Engine
	relational *storage.MemoryMatchStore
	columns    *colstore.MemoryStore
	cache      *cache.MemoryStore
	producer   *queue.MemoryProducer
}

func newTestPipeline(t *testing.T, cfg *Config) *testPipeline {
	t.Helper()

	if cfg == nil {
		cfg = &Config{
			ParseSamplePercent:     0,
			GcDataSamplePercent:    0,
			ProfileRefreshPercent:  0,
			BenchmarkSamplePercent: 100,
			LeagueRefreshInterval:  5 * time.Minute,
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheStore := cache.NewMemoryStore()

	p := &testPipeline{
		relational: storage.NewMemoryMatchStore(),
		columns:    colstore.NewMemoryStore(),
		cache:      cacheStore,
		producer:   queue.NewMemoryProducer(),
	}
	p.engine = NewEngine(cfg, p.relational, p.columns, cacheStore, cache.NewCounter(cacheStore, logger), p.producer, logger)

	return p
}

func boolPtr(b bool) *bool { return &b }

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

// scanMatch builds a full significant scan payload.
func scanMatch(matchID int64) *match.Match {
	players := make([]match.Player, 10)
	for i := range players {
		players[i] = match.Player{
			PlayerSlot: i,
			HeroID:     i + 1,
			Level:      20,
			XPPerMin:   500,
			GoldPerMin: 450,
		}
	}

	return &match.Match{
		MatchID:      matchID,
		SeqNum:       matchID * 10,
		StartTime:    1_700_000_000,
		Duration:     2400,
		GameMode:     22,
		LobbyType:    match.LobbyTypeRanked,
		RadiantWin:   boolPtr(true),
		HumanPlayers: 10,
		Players:      players,
	}
}

func proMatch(matchID int64) *match.Match {
	m := scanMatch(matchID)
	m.GameMode = match.GameModeCaptainsMode
	m.LobbyType = 2
	m.LeagueID = 4500
	m.RadiantTeamID = int64Ptr(1)
	m.DireTeamID = int64Ptr(2)

	return m
}

func TestInsertMatchRejectsEmptyPayload(t *testing.T) {
	p := newTestPipeline(t, nil)

	_, err := p.engine.InsertMatch(context.Background(), &match.Match{}, match.OriginScan)
	assert.ErrorIs(t, err, ErrInvalidMatch)
}

func TestInsertMatchPersistsColumns(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	m := scanMatch(100)
	m.Players[0].AccountID = int64Ptr(700)

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.True(t, outcome.Significant)
	assert.False(t, outcome.Professional)
	assert.False(t, outcome.AlreadyKnown)

	row, ok, err := p.columns.Match(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := colstore.DecodeMatch(row)
	require.NoError(t, err)
	assert.Equal(t, 2400, stored.Duration)
	require.Len(t, stored.Group, 10, "group is built on first insert")

	players, err := p.columns.Players(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, players, 10)

	assert.Equal(t, []int64{100}, p.columns.PlayerCacheMatchIDs(700))
}

func TestInsertMatchStripsAnonymousAccounts(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	anon := match.AnonymousAccountID
	m := scanMatch(100)
	m.Players[3].AccountID = &anon

	_, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	players, err := p.columns.Players(ctx, 100)
	require.NoError(t, err)

	decoded, err := colstore.DecodePlayer(players[3])
	require.NoError(t, err)
	assert.Nil(t, decoded.AccountID)

	// The caller's payload is untouched.
	require.NotNil(t, m.Players[3].AccountID)
}

func TestInsertMatchProPath(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)
	p.relational.SetLeague(4500, "premium")

	outcome, err := p.engine.InsertMatch(ctx, proMatch(100), match.OriginScan)
	require.NoError(t, err)
	assert.True(t, outcome.Professional)
	assert.True(t, outcome.ParseEnqueued, "pro matches always parse")

	stored, ok := p.relational.ProMatch(100)
	require.True(t, ok)
	assert.Equal(t, int64(4500), stored.LeagueID)

	radiant, ok := p.relational.Team(1)
	require.True(t, ok)
	assert.Equal(t, 1, radiant.Wins)

	jobs := p.producer.Jobs(queue.KindParse)
	require.Len(t, jobs, 1)
	assert.Equal(t, parsePriorityPro, jobs[0].Priority)

	job, err := queue.Decode[queue.ParseJob](&jobs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(100), job.MatchID)
	assert.Len(t, job.Group, 10)
}

func TestInsertMatchReplayDoesNotDoubleApplyRatings(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)
	p.relational.SetLeague(4500, "premium")

	m := proMatch(100)

	_, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	// The same page replayed after a crash hits the engine again.
	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyKnown)

	radiant, _ := p.relational.Team(1)
	assert.Equal(t, 1, radiant.Wins, "rating exchange applied exactly once")
	assert.InDelta(t, 1016.0, radiant.Rating, 1e-9)
}

func TestInsertMatchInvalidatesCaches(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	require.NoError(t, p.cache.Set(ctx, cache.MatchKey(100), []byte("stale"), 0))
	require.NoError(t, p.cache.Set(ctx, cache.PlayerMatchesKey(700), []byte("stale"), 0))

	m := scanMatch(100)
	m.Players[0].AccountID = int64Ptr(700)

	_, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	_, ok, err := p.cache.Get(ctx, cache.MatchKey(100))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.cache.Get(ctx, cache.PlayerMatchesKey(700))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertMatchParseSampling(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, &Config{
		ParseSamplePercent:    10,
		LeagueRefreshInterval: 5 * time.Minute,
	})

	// Bucket 5 is inside a 10 percent sample; bucket 42 is not.
	outcome, err := p.engine.InsertMatch(ctx, scanMatch(105), match.OriginScan)
	require.NoError(t, err)
	assert.True(t, outcome.ParseEnqueued)

	outcome, err = p.engine.InsertMatch(ctx, scanMatch(142), match.OriginScan)
	require.NoError(t, err)
	assert.False(t, outcome.ParseEnqueued)

	// A parse request implies a supplemental fetch for the replay salt.
	var forSampled []queue.GcDataJob
	for _, env := range p.producer.Jobs(queue.KindGcData) {
		job, err := queue.Decode[queue.GcDataJob](&env)
		require.NoError(t, err)
		forSampled = append(forSampled, *job)
	}

	require.Len(t, forSampled, 1)
	assert.Equal(t, int64(105), forSampled[0].MatchID)
	assert.False(t, forSampled[0].NoRetry)
}

func TestInsertMatchTrackedPlayerForcesParse(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	require.NoError(t, p.cache.ZAdd(ctx, cache.KeyTrackedPlayers, 1, "700"))

	m := scanMatch(142) // outside any sample
	m.Players[0].AccountID = int64Ptr(700)

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.True(t, outcome.ParseEnqueued)
}

func TestInsertMatchTrackedPlayerParsesInsignificantMatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	require.NoError(t, p.cache.ZAdd(ctx, cache.KeyTrackedPlayers, 1, "700"))

	// Private lobby: excluded from aggregates, still parse-worthy for a
	// tracked player.
	m := scanMatch(142)
	m.LobbyType = 1
	m.Players[0].AccountID = int64Ptr(700)

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.False(t, outcome.Significant)
	assert.True(t, outcome.ParseEnqueued)

	// The parse request still implies a supplemental fetch.
	require.Len(t, p.producer.Jobs(queue.KindGcData), 1)
	assert.Empty(t, p.producer.Jobs(queue.KindBenchmarkSample), "benchmarks stay gated on significance")
}

func TestInsertMatchEventModeNeverParses(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	require.NoError(t, p.cache.ZAdd(ctx, cache.KeyTrackedPlayers, 1, "700"))

	m := scanMatch(142)
	m.GameMode = match.GameModeEvent
	m.Players[0].AccountID = int64Ptr(700)

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.False(t, outcome.ParseEnqueued)
	assert.Empty(t, p.producer.Jobs(queue.KindParse))
}

func TestInsertMatchAlreadyParsedSkipsParse(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, &Config{
		ParseSamplePercent:    10,
		LeagueRefreshInterval: 5 * time.Minute,
	})

	// Bucket 5 would be sampled, but the version marks the replay as parsed.
	m := scanMatch(105)
	m.Version = intPtr(21)

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.False(t, outcome.ParseEnqueued)
	assert.Empty(t, p.producer.Jobs(queue.KindParse))
}

func TestInsertMatchRankedFanOut(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	m := scanMatch(100)
	m.Players[0].AccountID = int64Ptr(700)
	m.Players[1].AccountID = int64Ptr(800)

	_, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)

	jobs := p.producer.Jobs(queue.KindRatingSample)
	require.Len(t, jobs, 2)

	job, err := queue.Decode[queue.RatingSampleJob](&jobs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(700), job.AccountID)

	// Unranked lobbies trigger nothing.
	p.producer.Reset()

	m = scanMatch(101)
	m.LobbyType = 0
	m.Players[0].AccountID = int64Ptr(700)

	_, err = p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.Empty(t, p.producer.Jobs(queue.KindRatingSample))
}

func TestInsertMatchParseOriginMergesAdditively(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	first := scanMatch(100)
	first.Players[0].AccountID = int64Ptr(700)

	_, err := p.engine.InsertMatch(ctx, first, match.OriginScan)
	require.NoError(t, err)

	// Parse payload: positional data only, slots matching the group.
	parsed := &match.Match{
		MatchID: 100,
		Version: intPtr(21),
		Group:   match.BuildGroup(first.Players),
		Players: []match.Player{
			{
				PlayerSlot: 0,
				LanePos: map[string]map[string]int{
					"174": {"182": 40}, // bottom lane wire coordinates
				},
			},
		},
	}

	_, err = p.engine.InsertMatch(ctx, parsed, match.OriginParse)
	require.NoError(t, err)

	players, err := p.columns.Players(ctx, 100)
	require.NoError(t, err)

	decoded, err := colstore.DecodePlayer(players[0])
	require.NoError(t, err)
	assert.Equal(t, 450, decoded.GoldPerMin, "scan columns survive the parse upsert")
	require.NotNil(t, decoded.Lane, "lane derived from positional data")
	assert.Equal(t, match.LaneBottom, *decoded.Lane)
	require.NotNil(t, decoded.AccountID)
	assert.Equal(t, int64(700), *decoded.AccountID, "group joins the partial payload to its player")

	// Parse completion shows up in the parsed telemetry list, not the feed.
	assert.Empty(t, p.producer.Jobs(queue.KindParse))
}

func TestInsertMatchScenarioFanOut(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)
	p.relational.SetLeague(4500, "premium")

	m := proMatch(100)
	m.Version = intPtr(21)

	_, err := p.engine.InsertMatch(ctx, m, match.OriginParse)
	require.NoError(t, err)

	jobs := p.producer.Jobs(queue.KindTeamScenario)
	require.Len(t, jobs, 1)
}

func TestInsertMatchInsignificantSkipsSampling(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, nil)

	m := scanMatch(100)
	m.Duration = 200 // aborted game

	outcome, err := p.engine.InsertMatch(ctx, m, match.OriginScan)
	require.NoError(t, err)
	assert.False(t, outcome.Significant)
	assert.False(t, outcome.ParseEnqueued)
	assert.Empty(t, p.producer.Jobs(queue.KindBenchmarkSample))

	// The match is still persisted.
	_, ok, err := p.columns.Match(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)
}
