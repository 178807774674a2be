package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchforge-io/matchforge/internal/match"
)

func boolPtr(b bool) *bool { return &b }

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func TestMemoryStoreTrackedLeagues(t *testing.T) {
	store := NewMemoryMatchStore()
	store.SetLeague(100, "premium")
	store.SetLeague(200, "professional")
	store.SetLeague(300, "excluded")

	tracked, err := store.TrackedLeagues(context.Background())
	require.NoError(t, err)

	assert.True(t, tracked[100])
	assert.True(t, tracked[200])
	assert.False(t, tracked[300])
}

func TestMemoryStoreProMatchMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMatchStore()

	full := &match.Match{
		MatchID:    10,
		Duration:   2400,
		GameMode:   2,
		LeagueID:   4500,
		RadiantWin: boolPtr(true),
		Players: []match.Player{
			{PlayerSlot: 0, HeroID: 14, Kills: 3},
			{PlayerSlot: 128, HeroID: 8},
		},
	}
	require.NoError(t, store.UpsertProMatch(ctx, full))

	// Later partial payload: lane data for one slot, nothing else.
	partial := &match.Match{
		MatchID: 10,
		Players: []match.Player{
			{PlayerSlot: 0, Lane: intPtr(2), LaneRole: intPtr(2)},
		},
	}
	require.NoError(t, store.UpsertProMatch(ctx, partial))

	got, ok := store.ProMatch(10)
	require.True(t, ok)

	assert.Equal(t, 2400, got.Duration)
	assert.Equal(t, int64(4500), got.LeagueID)
	require.Len(t, got.Players, 2)
	assert.Equal(t, 14, got.Players[0].HeroID, "hero survives the partial upsert")
	assert.Equal(t, 3, got.Players[0].Kills)
	require.NotNil(t, got.Players[0].Lane)
	assert.Equal(t, 2, *got.Players[0].Lane)
}

func TestMemoryStoreProMatchRequiresIdentity(t *testing.T) {
	store := NewMemoryMatchStore()

	err := store.UpsertProMatch(context.Background(), &match.Match{})
	assert.ErrorIs(t, err, ErrMatchIncomplete)
}

func TestMemoryStoreGcData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMatchStore()

	err := store.UpsertGcData(ctx, &match.Match{MatchID: 10})
	assert.ErrorIs(t, err, ErrMatchIncomplete)

	m := &match.Match{MatchID: 10, Cluster: intPtr(136), ReplaySalt: int64Ptr(987654)}
	require.NoError(t, store.UpsertGcData(ctx, m))

	got, ok := store.GcData(10)
	require.True(t, ok)
	assert.Equal(t, 136, *got.Cluster)
}

func TestMemoryStoreTeamRatings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMatchStore()

	m := &match.Match{
		MatchID:       10,
		RadiantWin:    boolPtr(true),
		RadiantTeamID: int64Ptr(1),
		DireTeamID:    int64Ptr(2),
	}
	require.NoError(t, store.UpdateTeamRatings(ctx, m))

	radiant, ok := store.Team(1)
	require.True(t, ok)
	assert.InDelta(t, baseTeamRating+16, radiant.Rating, 1e-9)
	assert.Equal(t, 1, radiant.Wins)

	dire, ok := store.Team(2)
	require.True(t, ok)
	assert.InDelta(t, baseTeamRating-16, dire.Rating, 1e-9)
	assert.Equal(t, 1, dire.Losses)

	// Matches without both teams or a known winner change nothing.
	require.NoError(t, store.UpdateTeamRatings(ctx, &match.Match{MatchID: 11, RadiantTeamID: int64Ptr(1)}))

	radiant, _ = store.Team(1)
	assert.Equal(t, 1, radiant.Wins)
}

func TestMemoryStorePlayersAndTiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMatchStore()

	m := &match.Match{
		MatchID:   10,
		StartTime: 1700000000,
		Players: []match.Player{
			{PlayerSlot: 0, AccountID: int64Ptr(100), RankTier: intPtr(53)},
			{PlayerSlot: 1, AccountID: int64Ptr(200)},
			{PlayerSlot: 2},
		},
	}
	require.NoError(t, store.UpsertPlayers(ctx, m))
	require.NoError(t, store.UpsertRankTiers(ctx, m))

	seen, ok := store.LastSeen(100)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), seen)

	// An older match never rolls last seen backwards.
	older := &match.Match{MatchID: 9, StartTime: 1600000000, Players: m.Players}
	require.NoError(t, store.UpsertPlayers(ctx, older))

	seen, _ = store.LastSeen(100)
	assert.Equal(t, int64(1700000000), seen)

	tiers, err := store.RankTiers(ctx, []int64{100, 200, 999})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{100: 53}, tiers)
}

func TestMemoryStoreSubscribers(t *testing.T) {
	store := NewMemoryMatchStore()
	store.SetSubscriber(100)

	active, err := store.Subscribers(context.Background(), []int64{100, 200})
	require.NoError(t, err)
	assert.True(t, active[100])
	assert.False(t, active[200])
}
