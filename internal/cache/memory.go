package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe in-memory Store used by tests and local
// development. Expiry is enforced lazily on access. HyperLogLog counters are
// exact sets, which over-approximates nothing at test scale.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string][]byte
	zsets   map[string]map[string]float64
	lists   map[string][][]byte
	hlls    map[string]map[string]struct{}
	expires map[string]time.Time

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string][]byte),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][][]byte),
		hlls:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// expired reports whether key has a passed expiry; caller must hold the lock.
func (s *MemoryStore) expired(key string) bool {
	at, ok := s.expires[key]

	return ok && !s.now().Before(at)
}

// purge removes an expired key across all structures; caller must hold the
// write lock.
func (s *MemoryStore) purge(key string) {
	delete(s.values, key)
	delete(s.zsets, key)
	delete(s.lists, key)
	delete(s.hlls, key)
	delete(s.expires, key)
}

// purgeIfExpired lazily drops key when its expiry has passed; caller must
// hold the write lock.
func (s *MemoryStore) purgeIfExpired(key string) {
	if s.expired(key) {
		s.purge(key)
	}
}

// Get returns the value at key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	return cp, true, nil
}

// Set stores value at key with an optional ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)

	s.values[key] = cp

	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	} else {
		delete(s.expires, key)
	}

	return nil
}

// Del removes the given keys.
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.purge(key)
	}

	return nil
}

// ExpireAt sets an absolute expiry on key.
func (s *MemoryStore) ExpireAt(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expires[key] = at

	return nil
}

// ZAdd inserts or updates a member in the sorted set at key.
func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	zset, ok := s.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}

	zset[member] = score

	return nil
}

// ZIncrBy increments a member's score.
func (s *MemoryStore) ZIncrBy(_ context.Context, key string, delta float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	zset, ok := s.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}

	zset[member] += delta

	return nil
}

// ZCard returns the sorted set's cardinality.
func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	return int64(len(s.zsets[key])), nil
}

// ZCount returns the number of members with min <= score <= max.
func (s *MemoryStore) ZCount(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	var count int64

	for _, score := range s.zsets[key] {
		if score >= min && score <= max {
			count++
		}
	}

	return count, nil
}

// ZScore returns a member's score.
func (s *MemoryStore) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	score, ok := s.zsets[key][member]

	return score, ok, nil
}

// sortedMembers returns the set at key ordered by (score, member); caller
// must hold the lock.
func (s *MemoryStore) sortedMembers(key string) []ScoredMember {
	zset := s.zsets[key]

	members := make([]ScoredMember, 0, len(zset))
	for member, score := range zset {
		members = append(members, ScoredMember{Member: member, Score: score})
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}

		return members[i].Member < members[j].Member
	})

	return members
}

// clampRange resolves redis-style inclusive rank bounds (negative counts
// from the end) against length n. ok is false for an empty range.
func clampRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}

	if stop < 0 {
		stop += n
	}

	if start < 0 {
		start = 0
	}

	if stop >= n {
		stop = n - 1
	}

	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}

	return start, stop, true
}

// ZRangeWithScores returns members by ascending rank.
func (s *MemoryStore) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	members := s.sortedMembers(key)

	lo, hi, ok := clampRange(start, stop, int64(len(members)))
	if !ok {
		return nil, nil
	}

	return members[lo : hi+1], nil
}

// ZRemRangeByRank removes members by rank, inclusive.
func (s *MemoryStore) ZRemRangeByRank(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	members := s.sortedMembers(key)

	lo, hi, ok := clampRange(start, stop, int64(len(members)))
	if !ok {
		return nil
	}

	for _, member := range members[lo : hi+1] {
		delete(s.zsets[key], member.Member)
	}

	return nil
}

// PushCapped prepends value to the list at key and trims it to maxLen.
func (s *MemoryStore) PushCapped(_ context.Context, key string, value []byte, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	cp := make([]byte, len(value))
	copy(cp, value)

	list := append([][]byte{cp}, s.lists[key]...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}

	s.lists[key] = list

	return nil
}

// List returns a copy of the list at key. Test hook.
func (s *MemoryStore) List(key string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([][]byte, len(s.lists[key]))
	copy(list, s.lists[key])

	return list
}

// PFAdd adds a member to the counter at key.
func (s *MemoryStore) PFAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)

	hll, ok := s.hlls[key]
	if !ok {
		hll = make(map[string]struct{})
		s.hlls[key] = hll
	}

	hll[member] = struct{}{}

	return nil
}

// PFCount returns the exact union cardinality of the given keys.
func (s *MemoryStore) PFCount(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	union := make(map[string]struct{})

	for _, key := range keys {
		s.purgeIfExpired(key)

		for member := range s.hlls[key] {
			union[member] = struct{}{}
		}
	}

	return int64(len(union)), nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
