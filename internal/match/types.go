// Package match provides the domain model for ingested matches and the pure
// derivations (classification, lane assignment, patch lookup) computed on top
// of it.
//
// The structs mirror the wire shapes of the upstream platform API. Optional
// fields are pointers so that partial payloads (retrieval callbacks, parse
// results) can be merged additively: a nil field is "not present" and must
// never overwrite a previously persisted value.
package match

import "encoding/json"

// AnonymousAccountID is the placeholder account used by the platform for
// players with match privacy enabled. It is stripped before persistence.
const AnonymousAccountID int64 = 4294967295

// Team slot encoding: slots 0-127 are radiant, 128-255 are dire.
const direSlotOffset = 128

// Origin identifies which pipeline stage produced an insert payload.
type Origin string

// Insert origins. Side-effect eligibility in the decision engine is gated on
// these values.
const (
	OriginScan      Origin = "scan"
	OriginRetrieval Origin = "retrieval"
	OriginParse     Origin = "parse"
	OriginRepair    Origin = "repair"
)

type (
	// Match is one completed game as reported by the platform API, possibly
	// partial depending on origin.
	Match struct {
		MatchID       int64  `json:"match_id"`
		SeqNum        int64  `json:"match_seq_num,omitempty"`
		StartTime     int64  `json:"start_time,omitempty"`
		Duration      int    `json:"duration,omitempty"`
		RadiantWin    *bool  `json:"radiant_win,omitempty"`
		GameMode      int    `json:"game_mode,omitempty"`
		LobbyType     int    `json:"lobby_type,omitempty"`
		LeagueID      int64  `json:"leagueid,omitempty"`
		HumanPlayers  int    `json:"human_players,omitempty"`
		Cluster       *int   `json:"cluster,omitempty"`
		ReplaySalt    *int64 `json:"replay_salt,omitempty"`
		SeriesID      *int64 `json:"series_id,omitempty"`
		SeriesType    *int   `json:"series_type,omitempty"`
		RadiantTeamID *int64 `json:"radiant_team_id,omitempty"`
		DireTeamID    *int64 `json:"dire_team_id,omitempty"`
		AverageRank   *int   `json:"average_rank,omitempty"`

		// Version is set once a replay has been parsed; its presence marks the
		// match as fully parsed.
		Version *int `json:"version,omitempty"`

		PicksBans []PickBan `json:"picks_bans,omitempty"`
		Players   []Player  `json:"players,omitempty"`

		// Group carries the slot→account/hero mapping built on first insert so
		// later partial payloads (which may omit account ids) can be joined to
		// the right players.
		Group Group `json:"pgroup,omitempty"`
	}

	// Player is one player's participation in a Match.
	Player struct {
		AccountID   *int64 `json:"account_id,omitempty"`
		PlayerSlot  int    `json:"player_slot"`
		HeroID      int    `json:"hero_id,omitempty"`
		Level       int    `json:"level,omitempty"`
		Kills       int    `json:"kills,omitempty"`
		Deaths      int    `json:"deaths,omitempty"`
		Assists     int    `json:"assists,omitempty"`
		LastHits    int    `json:"last_hits,omitempty"`
		Denies      int    `json:"denies,omitempty"`
		GoldPerMin  int    `json:"gold_per_min,omitempty"`
		XPPerMin    int    `json:"xp_per_min,omitempty"`
		HeroDamage  int    `json:"hero_damage,omitempty"`
		HeroHealing int    `json:"hero_healing,omitempty"`
		TowerDamage int    `json:"tower_damage,omitempty"`
		NetWorth    *int   `json:"net_worth,omitempty"`
		RankTier    *int   `json:"rank_tier,omitempty"`

		// LanePos is a sparse positional heatmap (x → y → presence count)
		// produced by the replay parser. Lane assignment is derived from it.
		LanePos map[string]map[string]int `json:"lane_pos,omitempty"`

		Lane      *int  `json:"lane,omitempty"`
		LaneRole  *int  `json:"lane_role,omitempty"`
		IsRoaming *bool `json:"is_roaming,omitempty"`

		// Supplemental fields obtained from the retrieval tier.
		PartyID        *int64          `json:"party_id,omitempty"`
		PartySize      *int            `json:"party_size,omitempty"`
		PermanentBuffs json.RawMessage `json:"permanent_buffs,omitempty"`

		// IsSubscriber and Benchmarks are assembly-time enrichment, never
		// persisted by the decision engine.
		IsSubscriber bool                 `json:"is_subscriber,omitempty"`
		Benchmarks   map[string]Benchmark `json:"benchmarks,omitempty"`
	}

	// PickBan is one draft action in a captains-mode match.
	PickBan struct {
		MatchID int64 `json:"match_id,omitempty"`
		IsPick  bool  `json:"is_pick"`
		HeroID  int   `json:"hero_id"`
		Team    int   `json:"team"`
		Order   int   `json:"order"`
	}

	// Benchmark is a single metric's value and percentile for a player,
	// attached during match assembly.
	Benchmark struct {
		Raw        float64 `json:"raw"`
		Percentile float64 `json:"pct"`
	}
)

// IsRadiant reports whether a player slot is on the radiant team.
func IsRadiant(playerSlot int) bool {
	return playerSlot < direSlotOffset
}

// SampleBucket maps a match id into [0,100) for deterministic sampling
// decisions. A match is sampled at percent p when SampleBucket(id) < p.
func SampleBucket(matchID int64) int {
	bucket := matchID % 100
	if bucket < 0 {
		bucket += 100
	}

	return int(bucket)
}

// Copy returns a deep copy of the match. The decision engine mutates player
// rows (normalization, lane derivation) and must not alias caller memory.
func (m *Match) Copy() *Match {
	cp := *m

	if m.Players != nil {
		cp.Players = make([]Player, len(m.Players))
		copy(cp.Players, m.Players)

		for i := range cp.Players {
			if p := m.Players[i].AccountID; p != nil {
				v := *p
				cp.Players[i].AccountID = &v
			}
		}
	}

	if m.PicksBans != nil {
		cp.PicksBans = make([]PickBan, len(m.PicksBans))
		copy(cp.PicksBans, m.PicksBans)
	}

	if m.Group != nil {
		cp.Group = make(Group, len(m.Group))
		for slot, entry := range m.Group {
			cp.Group[slot] = entry
		}
	}

	return &cp
}
