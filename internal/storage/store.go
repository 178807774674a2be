package storage

import (
	"context"
	"errors"

	"github.com/matchforge-io/matchforge/internal/match"
)

// Sentinel errors for relational storage operations.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed without
	// a connection.
	ErrNoDatabaseConnection = errors.New("database connection is nil")

	// ErrMatchIncomplete is returned when a professional upsert is attempted
	// for a payload missing its identity fields.
	ErrMatchIncomplete = errors.New("match payload is missing identity fields")
)

// Store is the relational persistence boundary. Professional matches get full
// curated rows; every match may contribute replay coordinates, player
// presence, and team rating updates.
type Store interface {
	// TrackedLeagues returns the ids of leagues whose matches are treated as
	// professional, keyed for O(1) membership checks.
	TrackedLeagues(ctx context.Context) (map[int64]bool, error)

	// UpsertProMatch transactionally writes the curated rows for one
	// professional match: the match itself, its players, draft actions, patch
	// assignment, and team participation.
	UpsertProMatch(ctx context.Context, m *match.Match) error

	// UpsertPlayers records player presence (account id, last seen) for every
	// identified player in the match.
	UpsertPlayers(ctx context.Context, m *match.Match) error

	// UpsertGcData stores the replay coordinates (cluster, salt) and series
	// identity delivered by the retrieval tier.
	UpsertGcData(ctx context.Context, m *match.Match) error

	// UpdateTeamRatings applies one rating exchange between the two teams of
	// a finished league match.
	UpdateTeamRatings(ctx context.Context, m *match.Match) error

	// RankTiers returns the stored rank tier for each of the given accounts
	// that has one.
	RankTiers(ctx context.Context, accountIDs []int64) (map[int64]int, error)

	// UpsertRankTiers stores rank tiers observed on a match payload.
	UpsertRankTiers(ctx context.Context, m *match.Match) error

	// Subscribers returns which of the given accounts hold an active
	// subscription.
	Subscribers(ctx context.Context, accountIDs []int64) (map[int64]bool, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
