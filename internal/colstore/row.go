// Package colstore persists match data in the wide-row column store. Every
// non-key column is text holding a JSON-encoded value; absent fields are
// skipped on write so that repeated inserts from different origins merge
// additively instead of clobbering earlier data.
package colstore

import (
	"encoding/json"
	"fmt"

	"github.com/matchforge-io/matchforge/internal/match"
)

// Row is one wide row: column name to JSON-encoded value.
type Row map[string]string

// matchColumns is the allowlist for the matches table. Player rows live in
// their own table and are never embedded here.
var matchColumns = map[string]bool{
	"match_id":        true,
	"match_seq_num":   true,
	"start_time":      true,
	"duration":        true,
	"radiant_win":     true,
	"game_mode":       true,
	"lobby_type":      true,
	"leagueid":        true,
	"human_players":   true,
	"cluster":         true,
	"replay_salt":     true,
	"series_id":       true,
	"series_type":     true,
	"radiant_team_id": true,
	"dire_team_id":    true,
	"average_rank":    true,
	"version":         true,
	"picks_bans":      true,
	"pgroup":          true,
}

// playerColumns is the allowlist for the player_matches table. Assembly-time
// enrichment (is_subscriber, benchmarks) is deliberately absent.
var playerColumns = map[string]bool{
	"match_id":        true,
	"account_id":      true,
	"player_slot":     true,
	"hero_id":         true,
	"level":           true,
	"kills":           true,
	"deaths":          true,
	"assists":         true,
	"last_hits":       true,
	"denies":          true,
	"gold_per_min":    true,
	"xp_per_min":      true,
	"hero_damage":     true,
	"hero_healing":    true,
	"tower_damage":    true,
	"net_worth":       true,
	"rank_tier":       true,
	"lane_pos":        true,
	"lane":            true,
	"lane_role":       true,
	"is_roaming":      true,
	"party_id":        true,
	"party_size":      true,
	"permanent_buffs": true,
}

// encodeRow marshals v and keeps the allowed JSON fields as columns. Fields
// that marshal to null are dropped, which is what makes upserts additive. A
// nil allowlist keeps everything.
func encodeRow(v any, allow map[string]bool) (Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	row := make(Row, len(fields))

	for col, val := range fields {
		if allow != nil && !allow[col] {
			continue
		}

		if string(val) == "null" {
			continue
		}

		row[col] = string(val)
	}

	return row, nil
}

// decodeRow rebuilds a struct from a row by reassembling the JSON object.
func decodeRow(row Row, v any) error {
	fields := make(map[string]json.RawMessage, len(row))
	for col, val := range row {
		fields[col] = json.RawMessage(val)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}

	return nil
}

// MatchRow builds the matches-table row for a match.
func MatchRow(m *match.Match) (Row, error) {
	return encodeRow(m, matchColumns)
}

// PlayerRow builds one player_matches-table row, keyed by match id and slot.
func PlayerRow(matchID int64, p *match.Player) (Row, error) {
	row, err := encodeRow(p, playerColumns)
	if err != nil {
		return nil, err
	}

	row["match_id"], err = jsonValue(matchID)
	if err != nil {
		return nil, err
	}

	// player_slot is a key column and must survive even for slot 0.
	row["player_slot"], err = jsonValue(p.PlayerSlot)
	if err != nil {
		return nil, err
	}

	return row, nil
}

// PlayerCacheRow builds one player_caches-table row: a per-account denormalized
// summary of the player's participation, used for profile match lists. Returns
// ok=false for anonymous players, which have no cache row.
func PlayerCacheRow(m *match.Match, p *match.Player) (Row, bool, error) {
	if p.AccountID == nil {
		return nil, false, nil
	}

	entry := struct {
		AccountID   int64  `json:"account_id"`
		MatchID     int64  `json:"match_id"`
		PlayerSlot  int    `json:"player_slot"`
		HeroID      int    `json:"hero_id,omitempty"`
		StartTime   int64  `json:"start_time,omitempty"`
		Duration    int    `json:"duration,omitempty"`
		GameMode    int    `json:"game_mode,omitempty"`
		LobbyType   int    `json:"lobby_type,omitempty"`
		RadiantWin  *bool  `json:"radiant_win,omitempty"`
		Kills       int    `json:"kills,omitempty"`
		Deaths      int    `json:"deaths,omitempty"`
		Assists     int    `json:"assists,omitempty"`
		AverageRank *int   `json:"average_rank,omitempty"`
		PartySize   *int   `json:"party_size,omitempty"`
		LaneRole    *int   `json:"lane_role,omitempty"`
		Version     *int   `json:"version,omitempty"`
	}{
		AccountID:   *p.AccountID,
		MatchID:     m.MatchID,
		PlayerSlot:  p.PlayerSlot,
		HeroID:      p.HeroID,
		StartTime:   m.StartTime,
		Duration:    m.Duration,
		GameMode:    m.GameMode,
		LobbyType:   m.LobbyType,
		RadiantWin:  m.RadiantWin,
		Kills:       p.Kills,
		Deaths:      p.Deaths,
		Assists:     p.Assists,
		AverageRank: m.AverageRank,
		PartySize:   p.PartySize,
		LaneRole:    p.LaneRole,
		Version:     m.Version,
	}

	row, err := encodeRow(entry, nil)
	if err != nil {
		return nil, false, err
	}

	return row, true, nil
}

// DecodeMatch rebuilds a match from its matches-table row.
func DecodeMatch(row Row) (*match.Match, error) {
	var m match.Match
	if err := decodeRow(row, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// DecodePlayer rebuilds a player from its player_matches-table row.
func DecodePlayer(row Row) (*match.Player, error) {
	var p match.Player
	if err := decodeRow(row, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// jsonValue encodes a single value the way encodeRow stores columns.
func jsonValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}

	return string(raw), nil
}
