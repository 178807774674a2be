package match

// Game mode and lobby type identifiers referenced by classification and the
// decision engine's fan-out gates.
const (
	GameModeCaptainsMode = 2
	GameModeEvent        = 19

	LobbyTypeRanked = 7
)

// Classification thresholds. Both comparisons are strict: a 360s match is not
// significant, and neither is one with a player at exactly 2500 gold/min.
const (
	minSignificantDuration = 360
	maxPlausibleGoldPerMin = 2500

	fullHumanRoster = 10
)

// balancedGameModes are the modes where both teams draft from the full pool
// under symmetric rules, making their stats comparable in aggregates.
var balancedGameModes = map[int]bool{
	1:  true, // all pick
	2:  true, // captains mode
	3:  true, // random draft
	4:  true, // single draft
	5:  true, // all random
	12: true, // least played
	16: true, // captains draft
	22: true, // ranked all pick
}

// balancedLobbyTypes are matchmade or tournament lobbies; private lobbies and
// bot games are excluded from aggregates.
var balancedLobbyTypes = map[int]bool{
	0: true, // public matchmaking
	2: true, // tournament
	5: true, // team match
	6: true, // solo queue
	7: true, // ranked
}

// classicGameModes are the modes professional leagues play in.
var classicGameModes = map[int]bool{
	0: true,
	1: true,
	2: true,
}

// IsSignificant reports whether a match qualifies for aggregate statistics:
// balanced mode and lobby, a known winner, more than the minimum duration, and
// no player with anomalous farm throughput.
func IsSignificant(m *Match) bool {
	if !balancedGameModes[m.GameMode] || !balancedLobbyTypes[m.LobbyType] {
		return false
	}

	if m.RadiantWin == nil {
		return false
	}

	if m.Duration <= minSignificantDuration {
		return false
	}

	for _, p := range m.Players {
		if p.GoldPerMin >= maxPlausibleGoldPerMin {
			return false
		}
	}

	return true
}

// IsProfessional reports whether a match qualifies for relational-store
// persistence and log-level tracking: significant, played in a tracked league,
// a full human roster in a classic mode, and plausible per-player progression
// (every player leveled, earned experience, and locked a hero).
func IsProfessional(m *Match, trackedLeagues map[int64]bool) bool {
	if !IsSignificant(m) {
		return false
	}

	if m.LeagueID == 0 || !trackedLeagues[m.LeagueID] {
		return false
	}

	if m.HumanPlayers != fullHumanRoster || !classicGameModes[m.GameMode] {
		return false
	}

	if len(m.Players) == 0 {
		return false
	}

	for _, p := range m.Players {
		if p.Level <= 1 || p.XPPerMin <= 0 || p.HeroID <= 0 {
			return false
		}
	}

	return true
}
