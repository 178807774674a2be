// Package gcdata retrieves supplemental match data (replay coordinates,
// party composition, permanent buffs) from the retrieval proxy tier and
// folds it back into the pipeline.
//
// Raw responses are cached compressed so a match is never fetched twice;
// structurally invalid responses are never cached and never retried, since a
// refetch returns the same broken payload.
package gcdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

// Sentinel errors for supplemental-data retrieval.
var (
	// ErrInvalidMatchID is returned for non-positive match ids. Non-retryable.
	ErrInvalidMatchID = errors.New("invalid match id")

	// ErrBadShape is returned when a proxy answers with a structurally
	// invalid payload. Non-retryable: the proxy would answer the same way
	// again.
	ErrBadShape = errors.New("retrieval response has invalid shape")

	// ErrUnavailable wraps transport failures and non-200 proxy answers.
	// Retryable with a different proxy.
	ErrUnavailable = errors.New("retrieval tier unavailable")
)

// proxyCountRetention is how long per-proxy answer tallies are kept.
const proxyCountRetention = 24 * time.Hour

// Config holds retriever settings.
type Config struct {
	PoolPath    string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	CacheTTL    time.Duration
}

// LoadConfig loads retriever configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		PoolPath:    config.GetEnvStr("RETRIEVER_POOL_PATH", "./retrievers.yaml"),
		APIKey:      config.GetEnvStr("RETRIEVER_API_KEY", ""),
		Timeout:     config.GetEnvDuration("RETRIEVER_TIMEOUT", 5*time.Second),
		MaxAttempts: config.GetEnvInt("RETRIEVER_MAX_ATTEMPTS", 3),
		CacheTTL:    config.GetEnvDuration("GCDATA_CACHE_TTL", 7*24*time.Hour),
	}
}

// Payload is the supplemental data for one match as the retrieval tier
// reports it.
type Payload struct {
	MatchID    int64    `json:"match_id"`
	Cluster    int      `json:"cluster"`
	ReplaySalt int64    `json:"replay_salt"`
	SeriesID   *int64   `json:"series_id,omitempty"`
	SeriesType *int     `json:"series_type,omitempty"`
	Players    []Player `json:"players"`
}

// Player is one player's supplemental data.
type Player struct {
	AccountID      *int64          `json:"account_id,omitempty"`
	PlayerSlot     int             `json:"player_slot"`
	HeroID         int             `json:"hero_id,omitempty"`
	PartyID        *int64          `json:"party_id,omitempty"`
	NetWorth       *int            `json:"net_worth,omitempty"`
	PermanentBuffs json.RawMessage `json:"permanent_buffs,omitempty"`
}

// envelope is the wire shape proxies answer with.
type envelope struct {
	Match Payload `json:"match"`
}

// Inserter is the slice of the decision engine the retriever feeds.
type Inserter interface {
	InsertMatch(ctx context.Context, m *match.Match, origin match.Origin) (*ingest.Outcome, error)
}

// Retriever fetches supplemental data through the proxy pool.
type Retriever struct {
	cfg      *Config
	pool     *Pool
	client   *http.Client
	cache    cache.Store
	counter  *cache.Counter
	store    storage.Store
	inserter Inserter
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetriever wires a retriever to its proxy pool and downstream stores.
func NewRetriever(
	cfg *Config,
	pool *Pool,
	cacheStore cache.Store,
	counter *cache.Counter,
	store storage.Store,
	inserter Inserter,
	logger *slog.Logger,
) *Retriever {
	return &Retriever{
		cfg:      cfg,
		pool:     pool,
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    cacheStore,
		counter:  counter,
		store:    store,
		inserter: inserter,
		logger:   logger.With(slog.String("component", "gcdata")),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *Retriever) SetClock(now func() time.Time) {
	r.now = now
}

// Fetch returns the supplemental data for a match, skipping the network when
// a cached response exists. Both paths end in the same persistence step: a
// cached blob whose earlier fold failed mid-way still gets its fields
// persisted on the retry.
func (r *Retriever) Fetch(ctx context.Context, matchID int64) (*Payload, error) {
	if matchID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMatchID, matchID)
	}

	payload, ok := r.cached(ctx, matchID)
	if !ok {
		fetched, err := r.fetchUpstream(ctx, matchID)
		if err != nil {
			return nil, err
		}

		r.counter.Add(ctx, cache.MetricRetrieverCall)
		r.storeBlob(ctx, fetched)

		payload = fetched
	}

	if err := r.fold(ctx, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// cached decodes a previously stored compressed response.
func (r *Retriever) cached(ctx context.Context, matchID int64) (*Payload, bool) {
	blob, ok, err := r.cache.Get(ctx, cache.GcDataKey(matchID))
	if err != nil || !ok {
		return nil, false
	}

	payload, err := decompress(blob)
	if err != nil {
		r.logger.Warn("dropping corrupt cached response",
			slog.Int64("match_id", matchID),
			slog.String("error", err.Error()))

		return nil, false
	}

	return payload, true
}

// fetchUpstream walks the proxy pool until a proxy answers, re-picking a
// random proxy on every attempt.
func (r *Retriever) fetchUpstream(ctx context.Context, matchID int64) (*Payload, error) {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		proxy := r.pool.Pick()

		payload, err := r.fetchFrom(ctx, proxy, matchID)
		if err != nil {
			if errors.Is(err, ErrBadShape) {
				return nil, err
			}

			lastErr = err

			continue
		}

		r.recordProxy(ctx, proxy)

		return payload, nil
	}

	return nil, lastErr
}

func (r *Retriever) fetchFrom(ctx context.Context, proxy string, matchID int64) (*Payload, error) {
	params := url.Values{}
	params.Set("match_id", strconv.FormatInt(matchID, 10))

	if r.cfg.APIKey != "" {
		params.Set("key", r.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxy+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: proxy status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadShape, err)
	}

	payload := env.Match
	payload.MatchID = matchID

	if payload.Cluster <= 0 || payload.ReplaySalt == 0 || len(payload.Players) == 0 {
		return nil, fmt.Errorf("%w: cluster=%d salt=%d players=%d",
			ErrBadShape, payload.Cluster, payload.ReplaySalt, len(payload.Players))
	}

	return &payload, nil
}

// recordProxy tallies which proxy answered, in an hourly bucket. Best effort.
func (r *Retriever) recordProxy(ctx context.Context, proxy string) {
	hour := r.now().UTC().Truncate(time.Hour)
	key := cache.KeyProxyCounts + ":" + strconv.FormatInt(hour.Unix(), 10)

	if err := r.cache.ZIncrBy(ctx, key, 1, proxy); err != nil {
		r.logger.Warn("proxy tally failed", slog.String("error", err.Error()))

		return
	}

	if err := r.cache.ExpireAt(ctx, key, hour.Add(proxyCountRetention)); err != nil {
		r.logger.Warn("proxy tally expiry failed", slog.String("error", err.Error()))
	}
}

// storeBlob caches the compressed response. Best effort.
func (r *Retriever) storeBlob(ctx context.Context, payload *Payload) {
	blob, err := compress(payload)
	if err != nil {
		r.logger.Warn("response compression failed",
			slog.Int64("match_id", payload.MatchID),
			slog.String("error", err.Error()))

		return
	}

	if err := r.cache.Set(ctx, cache.GcDataKey(payload.MatchID), blob, r.cfg.CacheTTL); err != nil {
		r.logger.Warn("response cache write failed",
			slog.Int64("match_id", payload.MatchID),
			slog.String("error", err.Error()))
	}
}

// fold persists the replay coordinates and re-inserts the match with the
// retrieval origin so the stores pick up the supplemental columns.
func (r *Retriever) fold(ctx context.Context, payload *Payload) error {
	m := payload.toMatch()

	if _, err := r.inserter.InsertMatch(ctx, m, match.OriginRetrieval); err != nil {
		return fmt.Errorf("fold retrieval payload of match %d: %w", payload.MatchID, err)
	}

	if err := r.store.UpsertGcData(ctx, m); err != nil {
		return fmt.Errorf("persist replay coordinates of match %d: %w", payload.MatchID, err)
	}

	return nil
}

// toMatch converts the payload into a partial match insert, deriving party
// sizes from shared party ids.
func (p *Payload) toMatch() *match.Match {
	cluster := p.Cluster
	salt := p.ReplaySalt

	m := &match.Match{
		MatchID:    p.MatchID,
		Cluster:    &cluster,
		ReplaySalt: &salt,
		SeriesID:   p.SeriesID,
		SeriesType: p.SeriesType,
	}

	partySizes := make(map[int64]int)

	for _, gp := range p.Players {
		if gp.PartyID != nil {
			partySizes[*gp.PartyID]++
		}
	}

	for _, gp := range p.Players {
		player := match.Player{
			AccountID:      gp.AccountID,
			PlayerSlot:     gp.PlayerSlot,
			HeroID:         gp.HeroID,
			PartyID:        gp.PartyID,
			NetWorth:       gp.NetWorth,
			PermanentBuffs: gp.PermanentBuffs,
		}

		if gp.PartyID != nil {
			size := partySizes[*gp.PartyID]
			player.PartySize = &size
		}

		m.Players = append(m.Players, player)
	}

	return m
}

// HandleJob is the queue handler for supplemental-fetch jobs. Non-retryable
// failures and failures of speculative fetches are logged and dropped; the
// rest propagate so the consumer re-enqueues.
func (r *Retriever) HandleJob(ctx context.Context, env *queue.Envelope) error {
	job, err := queue.Decode[queue.GcDataJob](env)
	if err != nil {
		r.logger.Error("dropping undecodable retrieval job", slog.String("error", err.Error()))

		return nil
	}

	_, err = r.Fetch(ctx, job.MatchID)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrBadShape) || errors.Is(err, ErrInvalidMatchID) {
		r.logger.Warn("dropping unretryable retrieval job",
			slog.Int64("match_id", job.MatchID),
			slog.String("error", err.Error()))

		return nil
	}

	if job.NoRetry {
		r.logger.Warn("dropping failed speculative fetch",
			slog.Int64("match_id", job.MatchID),
			slog.String("error", err.Error()))

		return nil
	}

	return err
}

func compress(payload *Payload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(blob []byte) (*Payload, error) {
	reader, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := reader.Close(); err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	return &payload, nil
}
