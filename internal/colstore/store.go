package colstore

import (
	"context"
	"errors"
)

// Sentinel errors for column-store operations.
var (
	// ErrMissingKey is returned when an upsert row lacks one of its table's
	// key columns.
	ErrMissingKey = errors.New("row is missing a key column")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("column store is closed")
)

// Store is the wide-row persistence boundary the decision engine and the
// assembler write and read through. Upserts merge additively: columns present
// in the row overwrite, columns absent survive.
type Store interface {
	// UpsertMatch writes a matches-table row. The row must carry match_id.
	UpsertMatch(ctx context.Context, row Row) error

	// UpsertPlayer writes a player_matches-table row. The row must carry
	// match_id and player_slot.
	UpsertPlayer(ctx context.Context, row Row) error

	// UpsertPlayerCache writes a player_caches-table row. The row must carry
	// account_id and match_id.
	UpsertPlayerCache(ctx context.Context, row Row) error

	// Match reads one matches-table row. ok=false when the match is unknown.
	Match(ctx context.Context, matchID int64) (Row, bool, error)

	// Players reads all player_matches rows for one match, ordered by slot.
	Players(ctx context.Context, matchID int64) ([]Row, error)

	// DeletePlayers removes all player_matches rows for one match. The repair
	// path uses it before re-inserting a refetched payload.
	DeletePlayers(ctx context.Context, matchID int64) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying session.
	Close() error
}
