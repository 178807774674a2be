package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/matchforge-io/matchforge/internal/match"
)

// MatchStore implements Store with a PostgreSQL backend.
//
// Upserts are additive: optional columns only overwrite when the incoming
// payload actually carries them, so a partial retrieval payload can never
// blank out data written by an earlier full insert.
type MatchStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface compliance check.
var _ Store = (*MatchStore)(nil)

// NewMatchStore creates a PostgreSQL-backed match store.
func NewMatchStore(conn *Connection, logger *slog.Logger) (*MatchStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MatchStore{
		conn:   conn,
		logger: logger.With(slog.String("component", "storage")),
	}, nil
}

// TrackedLeagues returns ids of leagues in the professional tiers.
func (s *MatchStore) TrackedLeagues(ctx context.Context) (map[int64]bool, error) {
	query := `SELECT leagueid FROM leagues WHERE tier IN ('premium', 'professional')`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tracked leagues: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	leagues := make(map[int64]bool)

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan league id: %w", err)
		}

		leagues[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked leagues: %w", err)
	}

	return leagues, nil
}

// UpsertProMatch writes the curated relational rows for a professional match
// in one transaction.
func (s *MatchStore) UpsertProMatch(ctx context.Context, m *match.Match) error {
	if m.MatchID == 0 {
		return ErrMatchIncomplete
	}

	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin pro match upsert: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := upsertMatchRow(ctx, tx, m); err != nil {
		return err
	}

	for i := range m.Players {
		if err := upsertPlayerMatchRow(ctx, tx, m.MatchID, &m.Players[i]); err != nil {
			return err
		}
	}

	for _, pb := range m.PicksBans {
		if err := upsertPickBanRow(ctx, tx, m.MatchID, pb); err != nil {
			return err
		}
	}

	if m.StartTime > 0 {
		if err := upsertMatchPatchRow(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := upsertTeamMatchRows(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pro match upsert: %w", err)
	}

	return nil
}

func upsertMatchRow(ctx context.Context, tx *sql.Tx, m *match.Match) error {
	query := `
		INSERT INTO matches (
			match_id, match_seq_num, radiant_win, start_time, duration,
			lobby_type, game_mode, leagueid, human_players,
			radiant_team_id, dire_team_id, series_id, series_type,
			cluster, replay_salt, version, average_rank
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (match_id) DO UPDATE SET
			match_seq_num   = COALESCE(EXCLUDED.match_seq_num, matches.match_seq_num),
			radiant_win     = COALESCE(EXCLUDED.radiant_win, matches.radiant_win),
			start_time      = COALESCE(EXCLUDED.start_time, matches.start_time),
			duration        = COALESCE(EXCLUDED.duration, matches.duration),
			lobby_type      = COALESCE(EXCLUDED.lobby_type, matches.lobby_type),
			game_mode       = COALESCE(EXCLUDED.game_mode, matches.game_mode),
			leagueid        = COALESCE(EXCLUDED.leagueid, matches.leagueid),
			human_players   = COALESCE(EXCLUDED.human_players, matches.human_players),
			radiant_team_id = COALESCE(EXCLUDED.radiant_team_id, matches.radiant_team_id),
			dire_team_id    = COALESCE(EXCLUDED.dire_team_id, matches.dire_team_id),
			series_id       = COALESCE(EXCLUDED.series_id, matches.series_id),
			series_type     = COALESCE(EXCLUDED.series_type, matches.series_type),
			cluster         = COALESCE(EXCLUDED.cluster, matches.cluster),
			replay_salt     = COALESCE(EXCLUDED.replay_salt, matches.replay_salt),
			version         = COALESCE(EXCLUDED.version, matches.version),
			average_rank    = COALESCE(EXCLUDED.average_rank, matches.average_rank)
	`

	_, err := tx.ExecContext(ctx, query,
		m.MatchID, nullInt64(m.SeqNum), m.RadiantWin, nullInt64(m.StartTime), nullInt(m.Duration),
		nullInt(m.LobbyType), nullInt(m.GameMode), nullInt64(m.LeagueID), nullInt(m.HumanPlayers),
		m.RadiantTeamID, m.DireTeamID, m.SeriesID, m.SeriesType,
		m.Cluster, m.ReplaySalt, m.Version, m.AverageRank,
	)
	if err != nil {
		return fmt.Errorf("upsert match %d: %w", m.MatchID, err)
	}

	return nil
}

func upsertPlayerMatchRow(ctx context.Context, tx *sql.Tx, matchID int64, p *match.Player) error {
	query := `
		INSERT INTO player_matches (
			match_id, player_slot, account_id, hero_id, level,
			kills, deaths, assists, last_hits, denies,
			gold_per_min, xp_per_min, hero_damage, hero_healing, tower_damage,
			net_worth, lane, lane_role, is_roaming, party_id, party_size,
			permanent_buffs
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (match_id, player_slot) DO UPDATE SET
			account_id      = COALESCE(EXCLUDED.account_id, player_matches.account_id),
			hero_id         = COALESCE(EXCLUDED.hero_id, player_matches.hero_id),
			level           = COALESCE(EXCLUDED.level, player_matches.level),
			kills           = COALESCE(EXCLUDED.kills, player_matches.kills),
			deaths          = COALESCE(EXCLUDED.deaths, player_matches.deaths),
			assists         = COALESCE(EXCLUDED.assists, player_matches.assists),
			last_hits       = COALESCE(EXCLUDED.last_hits, player_matches.last_hits),
			denies          = COALESCE(EXCLUDED.denies, player_matches.denies),
			gold_per_min    = COALESCE(EXCLUDED.gold_per_min, player_matches.gold_per_min),
			xp_per_min      = COALESCE(EXCLUDED.xp_per_min, player_matches.xp_per_min),
			hero_damage     = COALESCE(EXCLUDED.hero_damage, player_matches.hero_damage),
			hero_healing    = COALESCE(EXCLUDED.hero_healing, player_matches.hero_healing),
			tower_damage    = COALESCE(EXCLUDED.tower_damage, player_matches.tower_damage),
			net_worth       = COALESCE(EXCLUDED.net_worth, player_matches.net_worth),
			lane            = COALESCE(EXCLUDED.lane, player_matches.lane),
			lane_role       = COALESCE(EXCLUDED.lane_role, player_matches.lane_role),
			is_roaming      = COALESCE(EXCLUDED.is_roaming, player_matches.is_roaming),
			party_id        = COALESCE(EXCLUDED.party_id, player_matches.party_id),
			party_size      = COALESCE(EXCLUDED.party_size, player_matches.party_size),
			permanent_buffs = COALESCE(EXCLUDED.permanent_buffs, player_matches.permanent_buffs)
	`

	var buffs any
	if len(p.PermanentBuffs) > 0 {
		buffs = []byte(p.PermanentBuffs)
	}

	_, err := tx.ExecContext(ctx, query,
		matchID, p.PlayerSlot, p.AccountID, nullInt(p.HeroID), nullInt(p.Level),
		nullInt(p.Kills), nullInt(p.Deaths), nullInt(p.Assists), nullInt(p.LastHits), nullInt(p.Denies),
		nullInt(p.GoldPerMin), nullInt(p.XPPerMin), nullInt(p.HeroDamage), nullInt(p.HeroHealing), nullInt(p.TowerDamage),
		p.NetWorth, p.Lane, p.LaneRole, p.IsRoaming, p.PartyID, p.PartySize,
		buffs,
	)
	if err != nil {
		return fmt.Errorf("upsert player slot %d of match %d: %w", p.PlayerSlot, matchID, err)
	}

	return nil
}

func upsertPickBanRow(ctx context.Context, tx *sql.Tx, matchID int64, pb match.PickBan) error {
	query := `
		INSERT INTO picks_bans (match_id, ord, is_pick, hero_id, team)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id, ord) DO UPDATE SET
			is_pick = EXCLUDED.is_pick,
			hero_id = EXCLUDED.hero_id,
			team    = EXCLUDED.team
	`

	if _, err := tx.ExecContext(ctx, query, matchID, pb.Order, pb.IsPick, pb.HeroID, pb.Team); err != nil {
		return fmt.Errorf("upsert pick/ban %d of match %d: %w", pb.Order, matchID, err)
	}

	return nil
}

func upsertMatchPatchRow(ctx context.Context, tx *sql.Tx, m *match.Match) error {
	query := `
		INSERT INTO match_patch (match_id, patch)
		VALUES ($1, $2)
		ON CONFLICT (match_id) DO UPDATE SET patch = EXCLUDED.patch
	`

	patch := match.PatchName(match.PatchIndex(m.StartTime))

	if _, err := tx.ExecContext(ctx, query, m.MatchID, patch); err != nil {
		return fmt.Errorf("upsert patch of match %d: %w", m.MatchID, err)
	}

	return nil
}

func upsertTeamMatchRows(ctx context.Context, tx *sql.Tx, m *match.Match) error {
	query := `
		INSERT INTO team_match (team_id, match_id, radiant)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, match_id) DO UPDATE SET radiant = EXCLUDED.radiant
	`

	sides := []struct {
		teamID  *int64
		radiant bool
	}{
		{m.RadiantTeamID, true},
		{m.DireTeamID, false},
	}

	for _, side := range sides {
		if side.teamID == nil {
			continue
		}

		if _, err := tx.ExecContext(ctx, query, *side.teamID, m.MatchID, side.radiant); err != nil {
			return fmt.Errorf("upsert team %d of match %d: %w", *side.teamID, m.MatchID, err)
		}
	}

	return nil
}

// UpsertPlayers records presence for every identified player in the match.
func (s *MatchStore) UpsertPlayers(ctx context.Context, m *match.Match) error {
	query := `
		INSERT INTO players (account_id, last_match_time)
		VALUES ($1, to_timestamp($2))
		ON CONFLICT (account_id) DO UPDATE SET
			last_match_time = GREATEST(players.last_match_time, EXCLUDED.last_match_time)
	`

	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID == nil {
			continue
		}

		if _, err := s.conn.ExecContext(ctx, query, *p.AccountID, m.StartTime); err != nil {
			return fmt.Errorf("upsert player %d: %w", *p.AccountID, err)
		}
	}

	return nil
}

// UpsertGcData stores the replay coordinates delivered by the retrieval tier.
func (s *MatchStore) UpsertGcData(ctx context.Context, m *match.Match) error {
	if m.MatchID == 0 || m.Cluster == nil || m.ReplaySalt == nil {
		return ErrMatchIncomplete
	}

	query := `
		INSERT INTO match_gcdata (match_id, cluster, replay_salt, series_id, series_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id) DO UPDATE SET
			cluster     = EXCLUDED.cluster,
			replay_salt = EXCLUDED.replay_salt,
			series_id   = COALESCE(EXCLUDED.series_id, match_gcdata.series_id),
			series_type = COALESCE(EXCLUDED.series_type, match_gcdata.series_type)
	`

	_, err := s.conn.ExecContext(ctx, query, m.MatchID, *m.Cluster, *m.ReplaySalt, m.SeriesID, m.SeriesType)
	if err != nil {
		return fmt.Errorf("upsert gcdata of match %d: %w", m.MatchID, err)
	}

	return nil
}

// UpdateTeamRatings applies one Elo exchange between the two teams of a
// finished league match. Rows are locked in team-id order to avoid deadlocks
// between concurrent inserts.
func (s *MatchStore) UpdateTeamRatings(ctx context.Context, m *match.Match) error {
	if m.RadiantTeamID == nil || m.DireTeamID == nil || m.RadiantWin == nil {
		return nil
	}

	radiantID, direID := *m.RadiantTeamID, *m.DireTeamID
	if radiantID == direID {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin rating update: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	first, second := radiantID, direID
	if second < first {
		first, second = second, first
	}

	ratings := make(map[int64]float64, 2)

	for _, teamID := range []int64{first, second} {
		rating, err := lockTeamRating(ctx, tx, teamID)
		if err != nil {
			return err
		}

		ratings[teamID] = rating
	}

	radiantDelta, direDelta := eloDeltas(ratings[radiantID], ratings[direID], *m.RadiantWin)

	if err := applyTeamRating(ctx, tx, radiantID, radiantDelta, *m.RadiantWin); err != nil {
		return err
	}

	if err := applyTeamRating(ctx, tx, direID, direDelta, !*m.RadiantWin); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rating update: %w", err)
	}

	s.logger.Debug("team ratings updated",
		slog.Int64("match_id", m.MatchID),
		slog.Int64("radiant_team_id", radiantID),
		slog.Int64("dire_team_id", direID),
		slog.Float64("radiant_delta", radiantDelta),
	)

	return nil
}

func lockTeamRating(ctx context.Context, tx *sql.Tx, teamID int64) (float64, error) {
	insert := `INSERT INTO teams (team_id, rating) VALUES ($1, $2) ON CONFLICT (team_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert, teamID, baseTeamRating); err != nil {
		return 0, fmt.Errorf("seed team %d: %w", teamID, err)
	}

	var rating float64

	row := tx.QueryRowContext(ctx, `SELECT rating FROM teams WHERE team_id = $1 FOR UPDATE`, teamID)
	if err := row.Scan(&rating); err != nil {
		return 0, fmt.Errorf("lock team %d: %w", teamID, err)
	}

	return rating, nil
}

func applyTeamRating(ctx context.Context, tx *sql.Tx, teamID int64, delta float64, won bool) error {
	query := `
		UPDATE teams SET
			rating = rating + $2,
			wins   = wins + $3,
			losses = losses + $4
		WHERE team_id = $1
	`

	wins, losses := 0, 1
	if won {
		wins, losses = 1, 0
	}

	if _, err := tx.ExecContext(ctx, query, teamID, delta, wins, losses); err != nil {
		return fmt.Errorf("update team %d rating: %w", teamID, err)
	}

	return nil
}

// RankTiers returns the stored rank tier for each given account that has one.
func (s *MatchStore) RankTiers(ctx context.Context, accountIDs []int64) (map[int64]int, error) {
	if len(accountIDs) == 0 {
		return map[int64]int{}, nil
	}

	query := `SELECT account_id, rank_tier FROM rank_tiers WHERE account_id = ANY($1)`

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("query rank tiers: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	tiers := make(map[int64]int, len(accountIDs))

	for rows.Next() {
		var (
			accountID int64
			tier      int
		)

		if err := rows.Scan(&accountID, &tier); err != nil {
			return nil, fmt.Errorf("scan rank tier: %w", err)
		}

		tiers[accountID] = tier
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rank tiers: %w", err)
	}

	return tiers, nil
}

// UpsertRankTiers stores rank tiers observed on a match payload.
func (s *MatchStore) UpsertRankTiers(ctx context.Context, m *match.Match) error {
	query := `
		INSERT INTO rank_tiers (account_id, rank_tier)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET rank_tier = EXCLUDED.rank_tier
	`

	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID == nil || p.RankTier == nil {
			continue
		}

		if _, err := s.conn.ExecContext(ctx, query, *p.AccountID, *p.RankTier); err != nil {
			return fmt.Errorf("upsert rank tier of %d: %w", *p.AccountID, err)
		}
	}

	return nil
}

// Subscribers returns which of the given accounts hold an active subscription.
func (s *MatchStore) Subscribers(ctx context.Context, accountIDs []int64) (map[int64]bool, error) {
	if len(accountIDs) == 0 {
		return map[int64]bool{}, nil
	}

	query := `SELECT account_id FROM subscribers WHERE account_id = ANY($1) AND status = 'active'`

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	active := make(map[int64]bool)

	for rows.Next() {
		var accountID int64
		if err := rows.Scan(&accountID); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}

		active[accountID] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}

	return active, nil
}

// Ping verifies database connectivity.
func (s *MatchStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the connection pool. Safe to call multiple times.
func (s *MatchStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// nullInt maps a zero int to SQL NULL so additive upserts keep earlier values.
func nullInt(v int) any {
	if v == 0 {
		return nil
	}

	return v
}

// nullInt64 maps a zero int64 to SQL NULL.
func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}

	return v
}
