package storage

import (
	"context"
	"sync"

	"github.com/matchforge-io/matchforge/internal/match"
)

// TeamRecord is one team's rating state in the in-memory store.
type TeamRecord struct {
	Rating float64
	Wins   int
	Losses int
}

// MemoryMatchStore is an in-memory Store for tests and local development. It
// mirrors the additive merge semantics of the PostgreSQL implementation.
type MemoryMatchStore struct {
	mu          sync.RWMutex
	leagueTiers map[int64]string
	matches     map[int64]*match.Match
	playerSeen  map[int64]int64
	gcdata      map[int64]*match.Match
	teams       map[int64]*TeamRecord
	rankTiers   map[int64]int
	subscribers map[int64]bool
}

// Compile-time interface compliance check.
var _ Store = (*MemoryMatchStore)(nil)

// NewMemoryMatchStore creates an empty in-memory match store.
func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{
		leagueTiers: make(map[int64]string),
		matches:     make(map[int64]*match.Match),
		playerSeen:  make(map[int64]int64),
		gcdata:      make(map[int64]*match.Match),
		teams:       make(map[int64]*TeamRecord),
		rankTiers:   make(map[int64]int),
		subscribers: make(map[int64]bool),
	}
}

// SetLeague registers a league with a tier. Test hook.
func (s *MemoryMatchStore) SetLeague(leagueID int64, tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leagueTiers[leagueID] = tier
}

// SetSubscriber marks an account's subscription active. Test hook.
func (s *MemoryMatchStore) SetSubscriber(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[accountID] = true
}

// ProMatch returns the merged curated match, if stored. Test hook.
func (s *MemoryMatchStore) ProMatch(matchID int64) (*match.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, false
	}

	return m.Copy(), true
}

// GcData returns the stored replay coordinates, if any. Test hook.
func (s *MemoryMatchStore) GcData(matchID int64) (*match.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.gcdata[matchID]
	if !ok {
		return nil, false
	}

	return m.Copy(), true
}

// Team returns a team's rating record. Test hook.
func (s *MemoryMatchStore) Team(teamID int64) (TeamRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[teamID]
	if !ok {
		return TeamRecord{}, false
	}

	return *t, true
}

// LastSeen returns a player's recorded last match time. Test hook.
func (s *MemoryMatchStore) LastSeen(accountID int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.playerSeen[accountID]

	return t, ok
}

// TrackedLeagues returns ids of leagues in the professional tiers.
func (s *MemoryMatchStore) TrackedLeagues(_ context.Context) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracked := make(map[int64]bool)

	for id, tier := range s.leagueTiers {
		if tier == "premium" || tier == "professional" {
			tracked[id] = true
		}
	}

	return tracked, nil
}

// UpsertProMatch merges the curated match rows.
func (s *MemoryMatchStore) UpsertProMatch(_ context.Context, m *match.Match) error {
	if m.MatchID == 0 {
		return ErrMatchIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.matches[m.MatchID]
	if !ok {
		s.matches[m.MatchID] = m.Copy()

		return nil
	}

	mergeMatch(existing, m)

	return nil
}

// UpsertPlayers records presence for every identified player.
func (s *MemoryMatchStore) UpsertPlayers(_ context.Context, m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID == nil {
			continue
		}

		if m.StartTime > s.playerSeen[*p.AccountID] {
			s.playerSeen[*p.AccountID] = m.StartTime
		}
	}

	return nil
}

// UpsertGcData stores replay coordinates.
func (s *MemoryMatchStore) UpsertGcData(_ context.Context, m *match.Match) error {
	if m.MatchID == 0 || m.Cluster == nil || m.ReplaySalt == nil {
		return ErrMatchIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gcdata[m.MatchID] = m.Copy()

	return nil
}

// UpdateTeamRatings applies one Elo exchange, seeding unknown teams at the
// base rating.
func (s *MemoryMatchStore) UpdateTeamRatings(_ context.Context, m *match.Match) error {
	if m.RadiantTeamID == nil || m.DireTeamID == nil || m.RadiantWin == nil {
		return nil
	}

	if *m.RadiantTeamID == *m.DireTeamID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	radiant := s.team(*m.RadiantTeamID)
	dire := s.team(*m.DireTeamID)

	radiantDelta, direDelta := eloDeltas(radiant.Rating, dire.Rating, *m.RadiantWin)

	radiant.Rating += radiantDelta
	dire.Rating += direDelta

	if *m.RadiantWin {
		radiant.Wins++
		dire.Losses++
	} else {
		radiant.Losses++
		dire.Wins++
	}

	return nil
}

func (s *MemoryMatchStore) team(teamID int64) *TeamRecord {
	t, ok := s.teams[teamID]
	if !ok {
		t = &TeamRecord{Rating: baseTeamRating}
		s.teams[teamID] = t
	}

	return t
}

// RankTiers returns stored rank tiers for the given accounts.
func (s *MemoryMatchStore) RankTiers(_ context.Context, accountIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make(map[int64]int, len(accountIDs))

	for _, id := range accountIDs {
		if tier, ok := s.rankTiers[id]; ok {
			tiers[id] = tier
		}
	}

	return tiers, nil
}

// UpsertRankTiers stores rank tiers observed on a match payload.
func (s *MemoryMatchStore) UpsertRankTiers(_ context.Context, m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID == nil || p.RankTier == nil {
			continue
		}

		s.rankTiers[*p.AccountID] = *p.RankTier
	}

	return nil
}

// Subscribers returns which of the given accounts are active subscribers.
func (s *MemoryMatchStore) Subscribers(_ context.Context, accountIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[int64]bool)

	for _, id := range accountIDs {
		if s.subscribers[id] {
			active[id] = true
		}
	}

	return active, nil
}

// Ping always succeeds.
func (s *MemoryMatchStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryMatchStore) Close() error {
	return nil
}

// mergeMatch overlays the incoming payload onto an existing curated match,
// keeping existing values where the payload is silent.
func mergeMatch(dst, src *match.Match) {
	if src.SeqNum != 0 {
		dst.SeqNum = src.SeqNum
	}

	if src.StartTime != 0 {
		dst.StartTime = src.StartTime
	}

	if src.Duration != 0 {
		dst.Duration = src.Duration
	}

	if src.GameMode != 0 {
		dst.GameMode = src.GameMode
	}

	if src.LobbyType != 0 {
		dst.LobbyType = src.LobbyType
	}

	if src.LeagueID != 0 {
		dst.LeagueID = src.LeagueID
	}

	if src.HumanPlayers != 0 {
		dst.HumanPlayers = src.HumanPlayers
	}

	if src.RadiantWin != nil {
		dst.RadiantWin = src.RadiantWin
	}

	if src.Cluster != nil {
		dst.Cluster = src.Cluster
	}

	if src.ReplaySalt != nil {
		dst.ReplaySalt = src.ReplaySalt
	}

	if src.SeriesID != nil {
		dst.SeriesID = src.SeriesID
	}

	if src.SeriesType != nil {
		dst.SeriesType = src.SeriesType
	}

	if src.RadiantTeamID != nil {
		dst.RadiantTeamID = src.RadiantTeamID
	}

	if src.DireTeamID != nil {
		dst.DireTeamID = src.DireTeamID
	}

	if src.AverageRank != nil {
		dst.AverageRank = src.AverageRank
	}

	if src.Version != nil {
		dst.Version = src.Version
	}

	if len(src.PicksBans) > 0 {
		dst.PicksBans = append([]match.PickBan(nil), src.PicksBans...)
	}

	mergePlayers(dst, src)
}

func mergePlayers(dst, src *match.Match) {
	bySlot := make(map[int]int, len(dst.Players))
	for i := range dst.Players {
		bySlot[dst.Players[i].PlayerSlot] = i
	}

	for i := range src.Players {
		p := src.Players[i]

		j, ok := bySlot[p.PlayerSlot]
		if !ok {
			dst.Players = append(dst.Players, p)

			continue
		}

		mergePlayer(&dst.Players[j], &p)
	}
}

func mergePlayer(dst, src *match.Player) {
	if src.AccountID != nil {
		dst.AccountID = src.AccountID
	}

	if src.HeroID != 0 {
		dst.HeroID = src.HeroID
	}

	if src.Level != 0 {
		dst.Level = src.Level
	}

	if src.Kills != 0 {
		dst.Kills = src.Kills
	}

	if src.Deaths != 0 {
		dst.Deaths = src.Deaths
	}

	if src.Assists != 0 {
		dst.Assists = src.Assists
	}

	if src.LastHits != 0 {
		dst.LastHits = src.LastHits
	}

	if src.Denies != 0 {
		dst.Denies = src.Denies
	}

	if src.GoldPerMin != 0 {
		dst.GoldPerMin = src.GoldPerMin
	}

	if src.XPPerMin != 0 {
		dst.XPPerMin = src.XPPerMin
	}

	if src.HeroDamage != 0 {
		dst.HeroDamage = src.HeroDamage
	}

	if src.HeroHealing != 0 {
		dst.HeroHealing = src.HeroHealing
	}

	if src.TowerDamage != 0 {
		dst.TowerDamage = src.TowerDamage
	}

	if src.NetWorth != nil {
		dst.NetWorth = src.NetWorth
	}

	if src.Lane != nil {
		dst.Lane = src.Lane
	}

	if src.LaneRole != nil {
		dst.LaneRole = src.LaneRole
	}

	if src.IsRoaming != nil {
		dst.IsRoaming = src.IsRoaming
	}

	if src.PartyID != nil {
		dst.PartyID = src.PartyID
	}

	if src.PartySize != nil {
		dst.PartySize = src.PartySize
	}

	if len(src.PermanentBuffs) > 0 {
		dst.PermanentBuffs = src.PermanentBuffs
	}
}
