package gcdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

type fakeInserter struct {
	matches  []*match.Match
	origins  []match.Origin
	failures int
}

func (f *fakeInserter) InsertMatch(_ context.Context, m *match.Match, origin match.Origin) (*ingest.Outcome, error) {
	if f.failures > 0 {
		f.failures--

		return nil, errors.New("relational store down")
	}

	f.matches = append(f.matches, m)
	f.origins = append(f.origins, origin)

	return &ingest.Outcome{MatchID: m.MatchID}, nil
}

type testRetriever struct {
	retriever *Retriever
	cache     *cache.MemoryStore
	store     *storage.MemoryMatchStore
	inserter  *fakeInserter
	requests  *atomic.Int64
}

func newTestRetriever(t *testing.T, handler http.HandlerFunc) *testRetriever {
	t.Helper()

	requests := &atomic.Int64{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	pool, err := NewPool([]Proxy{{URL: server.URL, Weight: 1}})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheStore := cache.NewMemoryStore()

	tr := &testRetriever{
		cache:    cacheStore,
		store:    storage.NewMemoryMatchStore(),
		inserter: &fakeInserter{},
		requests: requests,
	}

	cfg := &Config{
		Timeout:     time.Second,
		MaxAttempts: 3,
		CacheTTL:    time.Hour,
	}
	tr.retriever = NewRetriever(cfg, pool, cacheStore, cache.NewCounter(cacheStore, logger), tr.store, tr.inserter, logger)

	return tr
}

func goodResponse(matchID int64) string {
	return fmt.Sprintf(`{"match":{
		"match_id":%d,"cluster":136,"replay_salt":987654,"series_id":5,"series_type":1,
		"players":[
			{"player_slot":0,"account_id":700,"hero_id":14,"party_id":3,"net_worth":23150},
			{"player_slot":1,"account_id":800,"hero_id":21,"party_id":3},
			{"player_slot":128,"hero_id":8}
		]}}`, matchID)
}

func TestLoadPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrievers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxies:\n  - url: http://a\n    weight: 2\n  - url: http://b\n"), 0o600))

	proxies, err := LoadPool(path)
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.Equal(t, Proxy{URL: "http://a", Weight: 2}, proxies[0])
	assert.Equal(t, Proxy{URL: "http://b"}, proxies[1])

	_, err = LoadPool(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewPool(t *testing.T) {
	_, err := NewPool(nil)
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = NewPool([]Proxy{{URL: "http://proxy", Weight: -1}})
	assert.Error(t, err)

	pool, err := NewPool([]Proxy{{URL: "http://a"}, {URL: ""}, {URL: "http://b", Weight: 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
}

func TestPoolPickIsWeighted(t *testing.T) {
	pool, err := NewPool([]Proxy{{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 3}})
	require.NoError(t, err)

	// Deterministic draws across the weight range.
	picks := make(map[string]int)

	for n := 0; n < 4; n++ {
		pool.intn = func(int) int { return n }
		picks[pool.Pick()]++
	}

	assert.Equal(t, 1, picks["http://a"])
	assert.Equal(t, 3, picks["http://b"])
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	tr := newTestRetriever(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("match_id"))
		fmt.Fprint(w, goodResponse(10))
	})

	payload, err := tr.retriever.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 136, payload.Cluster)
	assert.Equal(t, int64(987654), payload.ReplaySalt)

	// The match was re-inserted with the retrieval origin and derived party
	// sizes.
	require.Len(t, tr.inserter.matches, 1)
	assert.Equal(t, match.OriginRetrieval, tr.inserter.origins[0])

	inserted := tr.inserter.matches[0]
	require.Len(t, inserted.Players, 3)
	require.NotNil(t, inserted.Players[0].PartySize)
	assert.Equal(t, 2, *inserted.Players[0].PartySize)
	assert.Nil(t, inserted.Players[2].PartySize)

	require.NotNil(t, inserted.Players[0].NetWorth)
	assert.Equal(t, 23150, *inserted.Players[0].NetWorth)
	assert.Nil(t, inserted.Players[1].NetWorth)

	// Replay coordinates reached the relational store.
	stored, ok := tr.store.GcData(10)
	require.True(t, ok)
	assert.Equal(t, 136, *stored.Cluster)

	// The raw response is cached compressed.
	_, ok, err = tr.cache.Get(ctx, cache.GcDataKey(10))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFetchServesFromCache(t *testing.T) {
	ctx := context.Background()
	tr := newTestRetriever(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, goodResponse(10))
	})

	_, err := tr.retriever.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), tr.requests.Load())

	payload, err := tr.retriever.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(987654), payload.ReplaySalt)
	assert.Equal(t, int64(1), tr.requests.Load(), "second fetch never leaves the cache")

	// Cache hits still run the persistence step.
	assert.Len(t, tr.inserter.matches, 2)
}

func TestFetchCacheHitStillPersists(t *testing.T) {
	ctx := context.Background()
	tr := newTestRetriever(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, goodResponse(10))
	})

	// The response is cached, then the insert fails mid-fold.
	tr.inserter.failures = 1

	_, err := tr.retriever.Fetch(ctx, 10)
	require.Error(t, err)
	assert.Empty(t, tr.inserter.matches)

	_, ok := tr.store.GcData(10)
	assert.False(t, ok)

	// The retry serves the blob from cache and must not skip persistence.
	payload, err := tr.retriever.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(987654), payload.ReplaySalt)
	assert.Equal(t, int64(1), tr.requests.Load())

	require.Len(t, tr.inserter.matches, 1)
	assert.Equal(t, match.OriginRetrieval, tr.inserter.origins[0])

	stored, ok := tr.store.GcData(10)
	require.True(t, ok)
	assert.Equal(t, int64(987654), *stored.ReplaySalt)
}

func TestFetchRejectsInvalidShape(t *testing.T) {
	ctx := context.Background()
	tr := newTestRetriever(t, func(w http.ResponseWriter, _ *http.Request) {
		// No replay salt, no players.
		fmt.Fprint(w, `{"match":{"match_id":10,"cluster":136}}`)
	})

	_, err := tr.retriever.Fetch(ctx, 10)
	assert.ErrorIs(t, err, ErrBadShape)
	assert.Equal(t, int64(1), tr.requests.Load(), "shape failures do not retry")

	// Nothing was cached and nothing was inserted.
	_, ok, cacheErr := tr.cache.Get(ctx, cache.GcDataKey(10))
	require.NoError(t, cacheErr)
	assert.False(t, ok)
	assert.Empty(t, tr.inserter.matches)
}

func TestFetchRetriesUnavailableProxies(t *testing.T) {
	tr := newTestRetriever(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := tr.retriever.Fetch(context.Background(), 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(3), tr.requests.Load())
}

func TestFetchRejectsInvalidMatchID(t *testing.T) {
	tr := newTestRetriever(t, func(http.ResponseWriter, *http.Request) {})

	_, err := tr.retriever.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidMatchID)
	assert.Zero(t, tr.requests.Load())
}

func TestHandleJob(t *testing.T) {
	ctx := context.Background()
	tr := newTestRetriever(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	sealed := func(job *queue.GcDataJob) *queue.Envelope {
		raw, err := json.Marshal(job)
		require.NoError(t, err)

		return &queue.Envelope{Kind: queue.KindGcData, Payload: raw}
	}

	// Retryable failure propagates so the consumer re-enqueues.
	err := tr.retriever.HandleJob(ctx, sealed(&queue.GcDataJob{MatchID: 10}))
	assert.ErrorIs(t, err, ErrUnavailable)

	// Speculative fetches swallow the same failure.
	err = tr.retriever.HandleJob(ctx, sealed(&queue.GcDataJob{MatchID: 10, NoRetry: true}))
	assert.NoError(t, err)

	// Invalid ids are dropped outright.
	err = tr.retriever.HandleJob(ctx, sealed(&queue.GcDataJob{MatchID: -1}))
	assert.NoError(t, err)
}
