package colstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/matchforge-io/matchforge/internal/config"
)

const (
	defaultKeyspace       = "matchforge"
	defaultQueryTimeout   = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Config holds column-store connection configuration.
type Config struct {
	Hosts          []string
	Keyspace       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// LoadConfig loads column-store configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Hosts:          config.ParseCommaSeparatedList(config.GetEnvStr("CASSANDRA_HOSTS", "localhost")),
		Keyspace:       config.GetEnvStr("CASSANDRA_KEYSPACE", defaultKeyspace),
		Timeout:        config.GetEnvDuration("CASSANDRA_TIMEOUT", defaultQueryTimeout),
		ConnectTimeout: config.GetEnvDuration("CASSANDRA_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// CassandraStore implements Store against a Cassandra cluster.
type CassandraStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

// Compile-time interface compliance check.
var _ Store = (*CassandraStore)(nil)

// NewCassandraStore connects to the cluster and verifies the session.
func NewCassandraStore(cfg *Config, logger *slog.Logger) (*CassandraStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Consistency = gocql.One

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect column store: %w", err)
	}

	return &CassandraStore{
		session: session,
		logger:  logger.With(slog.String("component", "colstore")),
	}, nil
}

// UpsertMatch writes a matches-table row keyed by match_id.
func (s *CassandraStore) UpsertMatch(ctx context.Context, row Row) error {
	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	return s.insert(ctx, "matches", row, map[string]any{"match_id": matchID})
}

// UpsertPlayer writes a player_matches-table row keyed by match_id and slot.
func (s *CassandraStore) UpsertPlayer(ctx context.Context, row Row) error {
	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	slot, err := keyInt64(row, "player_slot")
	if err != nil {
		return err
	}

	return s.insert(ctx, "player_matches", row, map[string]any{
		"match_id":    matchID,
		"player_slot": int(slot),
	})
}

// UpsertPlayerCache writes a player_caches-table row keyed by account and
// match id.
func (s *CassandraStore) UpsertPlayerCache(ctx context.Context, row Row) error {
	accountID, err := keyInt64(row, "account_id")
	if err != nil {
		return err
	}

	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	return s.insert(ctx, "player_caches", row, map[string]any{
		"account_id": accountID,
		"match_id":   matchID,
	})
}

// insert builds a CQL INSERT over the row's columns. Key columns bind their
// native values; everything else binds the JSON text. Cassandra INSERT is an
// upsert, so unlisted columns are left intact.
func (s *CassandraStore) insert(ctx context.Context, table string, row Row, keys map[string]any) error {
	names := make([]string, 0, len(row))
	for col := range row {
		names = append(names, col)
	}

	sort.Strings(names)

	values := make([]any, 0, len(names))

	for _, col := range names {
		if v, ok := keys[col]; ok {
			values = append(values, v)
		} else {
			values = append(values, row[col])
		}
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(names, ", "),
		placeholders(len(names)),
	)

	if err := s.session.Query(stmt, values...).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}

	return nil
}

// Match reads one matches-table row.
func (s *CassandraStore) Match(ctx context.Context, matchID int64) (Row, bool, error) {
	iter := s.session.Query("SELECT * FROM matches WHERE match_id = ?", matchID).WithContext(ctx).Iter()

	columns := map[string]any{}
	if !iter.MapScan(columns) {
		if err := iter.Close(); err != nil {
			return nil, false, fmt.Errorf("read match %d: %w", matchID, err)
		}

		return nil, false, nil
	}

	if err := iter.Close(); err != nil {
		return nil, false, fmt.Errorf("read match %d: %w", matchID, err)
	}

	return rowFromColumns(columns), true, nil
}

// Players reads all player rows for one match, in slot order.
func (s *CassandraStore) Players(ctx context.Context, matchID int64) ([]Row, error) {
	iter := s.session.Query("SELECT * FROM player_matches WHERE match_id = ?", matchID).WithContext(ctx).Iter()

	var rows []Row

	for {
		columns := map[string]any{}
		if !iter.MapScan(columns) {
			break
		}

		rows = append(rows, rowFromColumns(columns))
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read players for match %d: %w", matchID, err)
	}

	return rows, nil
}

// DeletePlayers removes every player row for one match.
func (s *CassandraStore) DeletePlayers(ctx context.Context, matchID int64) error {
	query := s.session.Query("DELETE FROM player_matches WHERE match_id = ?", matchID).WithContext(ctx)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("delete players for match %d: %w", matchID, err)
	}

	return nil
}

// Ping verifies connectivity with a trivial system read.
func (s *CassandraStore) Ping(ctx context.Context) error {
	query := s.session.Query("SELECT release_version FROM system.local").WithContext(ctx)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("ping column store: %w", err)
	}

	return nil
}

// Close releases the session. Safe to call multiple times.
func (s *CassandraStore) Close() error {
	if s.session != nil && !s.session.Closed() {
		s.session.Close()
	}

	return nil
}

// keyInt64 extracts a key column's numeric value from its JSON encoding.
func keyInt64(row Row, col string) (int64, error) {
	raw, ok := row[col]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingKey, col)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMissingKey, col, raw)
	}

	return v, nil
}

// rowFromColumns converts a MapScan result back into a Row. Text columns hold
// JSON already; key columns come back typed and are re-encoded. Unset columns
// scan as zero values and are dropped.
func rowFromColumns(columns map[string]any) Row {
	row := make(Row, len(columns))

	for col, val := range columns {
		switch v := val.(type) {
		case string:
			if v != "" {
				row[col] = v
			}
		case int64:
			row[col] = strconv.FormatInt(v, 10)
		case int:
			row[col] = strconv.Itoa(v)
		}
	}

	return row
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// IsTransientReadError reports whether a read failure came from the known set
// of recoverable driver conditions (timeouts, lost connections, unavailable
// replicas). The assembler's repair path only triggers on these; anything
// else surfaces to the caller unchanged.
func IsTransientReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var (
		readTimeout *gocql.RequestErrReadTimeout
		unavailable *gocql.RequestErrUnavailable
	)

	return errors.As(err, &readTimeout) || errors.As(err, &unavailable)
}
