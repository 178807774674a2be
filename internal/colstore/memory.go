package colstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development. It
// reproduces the column store's merge semantics: columns present in an upsert
// overwrite, absent columns survive.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[int64]Row
	players map[int64]map[int]Row
	caches  map[int64]map[int64]Row
	closed  bool
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[int64]Row),
		players: make(map[int64]map[int]Row),
		caches:  make(map[int64]map[int64]Row),
	}
}

// UpsertMatch merges a matches row into the store.
func (s *MemoryStore) UpsertMatch(_ context.Context, row Row) error {
	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.matches[matchID] = mergeRow(s.matches[matchID], row)

	return nil
}

// UpsertPlayer merges a player row into the store.
func (s *MemoryStore) UpsertPlayer(_ context.Context, row Row) error {
	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	slot, err := keyInt64(row, "player_slot")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if s.players[matchID] == nil {
		s.players[matchID] = make(map[int]Row)
	}

	s.players[matchID][int(slot)] = mergeRow(s.players[matchID][int(slot)], row)

	return nil
}

// UpsertPlayerCache merges a player-cache row into the store.
func (s *MemoryStore) UpsertPlayerCache(_ context.Context, row Row) error {
	accountID, err := keyInt64(row, "account_id")
	if err != nil {
		return err
	}

	matchID, err := keyInt64(row, "match_id")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if s.caches[accountID] == nil {
		s.caches[accountID] = make(map[int64]Row)
	}

	s.caches[accountID][matchID] = mergeRow(s.caches[accountID][matchID], row)

	return nil
}

// Match reads one matches row.
func (s *MemoryStore) Match(_ context.Context, matchID int64) (Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	row, ok := s.matches[matchID]
	if !ok {
		return nil, false, nil
	}

	return copyRow(row), true, nil
}

// Players reads all player rows for one match, in slot order.
func (s *MemoryStore) Players(_ context.Context, matchID int64) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	slots := make([]int, 0, len(s.players[matchID]))
	for slot := range s.players[matchID] {
		slots = append(slots, slot)
	}

	sort.Ints(slots)

	rows := make([]Row, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, copyRow(s.players[matchID][slot]))
	}

	return rows, nil
}

// PlayerCacheMatchIDs returns the match ids cached for an account. Test hook.
func (s *MemoryStore) PlayerCacheMatchIDs(accountID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.caches[accountID]))
	for matchID := range s.caches[accountID] {
		ids = append(ids, matchID)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// DeletePlayers removes every player row for one match.
func (s *MemoryStore) DeletePlayers(_ context.Context, matchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.players, matchID)

	return nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	return nil
}

// Close marks the store closed. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func mergeRow(existing, update Row) Row {
	merged := copyRow(existing)
	if merged == nil {
		merged = make(Row, len(update))
	}

	for col, val := range update {
		merged[col] = val
	}

	return merged
}

func copyRow(row Row) Row {
	if row == nil {
		return nil
	}

	cp := make(Row, len(row))
	for col, val := range row {
		cp[col] = val
	}

	return cp
}
