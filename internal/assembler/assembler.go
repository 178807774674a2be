// Package assembler joins the persisted pieces of a match (wide rows,
// enrichment flags, benchmark percentiles, replay location) into one response
// object, with a short-TTL read-through cache and a narrow self-repair path
// for matches whose player rows were lost by the column store.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchforge-io/matchforge/internal/benchmark"
	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/storage"
)

// Sentinel errors for match assembly.
var (
	// ErrNotFound is returned when the column store has never seen the match.
	ErrNotFound = errors.New("match not found")
)

// Config holds assembler settings.
type Config struct {
	// CacheTTL bounds how long an assembled match may be served stale. Insert
	// invalidation usually evicts it sooner.
	CacheTTL time.Duration
}

// LoadConfig loads assembler configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		CacheTTL: config.GetEnvDuration("ASSEMBLER_CACHE_TTL", time.Minute),
	}
}

// Assembled is a fully joined match response.
type Assembled struct {
	match.Match

	ReplayURL string `json:"replay_url,omitempty"`
}

// Fetcher refetches a match from the platform API during repair.
type Fetcher interface {
	MatchDetails(ctx context.Context, matchID int64) (*match.Match, error)
}

// Inserter is the slice of the decision engine the repair path feeds.
type Inserter interface {
	InsertMatch(ctx context.Context, m *match.Match, origin match.Origin) (*ingest.Outcome, error)
}

// Assembler builds match responses from the column store and its enrichment
// sources.
type Assembler struct {
	cfg       *Config
	columns   colstore.Store
	store     storage.Store
	cache     cache.Store
	counter   *cache.Counter
	benchmark *benchmark.Engine
	fetcher   Fetcher
	inserter  Inserter
	logger    *slog.Logger
}

// New wires an assembler to its stores and repair collaborators.
func New(
	cfg *Config,
	columns colstore.Store,
	store storage.Store,
	cacheStore cache.Store,
	counter *cache.Counter,
	bench *benchmark.Engine,
	fetcher Fetcher,
	inserter Inserter,
	logger *slog.Logger,
) *Assembler {
	return &Assembler{
		cfg:       cfg,
		columns:   columns,
		store:     store,
		cache:     cacheStore,
		counter:   counter,
		benchmark: bench,
		fetcher:   fetcher,
		inserter:  inserter,
		logger:    logger.With(slog.String("component", "assembler")),
	}
}

// GetMatch returns the fully assembled match, serving from cache when
// possible. Returns ErrNotFound for matches the pipeline has never persisted.
func (a *Assembler) GetMatch(ctx context.Context, matchID int64) (*Assembled, error) {
	if cached, ok := a.cached(ctx, matchID); ok {
		return cached, nil
	}

	assembled, err := a.build(ctx, matchID)
	if err != nil {
		return nil, err
	}

	a.counter.Add(ctx, cache.MetricBuildMatch)
	a.storeCached(ctx, assembled)

	return assembled, nil
}

func (a *Assembler) cached(ctx context.Context, matchID int64) (*Assembled, bool) {
	blob, ok, err := a.cache.Get(ctx, cache.MatchKey(matchID))
	if err != nil || !ok {
		return nil, false
	}

	var assembled Assembled
	if err := json.Unmarshal(blob, &assembled); err != nil {
		a.logger.Warn("dropping corrupt cached match",
			slog.Int64("match_id", matchID),
			slog.String("error", err.Error()))

		return nil, false
	}

	return &assembled, true
}

func (a *Assembler) storeCached(ctx context.Context, assembled *Assembled) {
	blob, err := json.Marshal(assembled)
	if err != nil {
		a.logger.Warn("assembled match encode failed",
			slog.Int64("match_id", assembled.MatchID),
			slog.String("error", err.Error()))

		return
	}

	if err := a.cache.Set(ctx, cache.MatchKey(assembled.MatchID), blob, a.cfg.CacheTTL); err != nil {
		a.logger.Warn("assembled match cache write failed",
			slog.Int64("match_id", assembled.MatchID),
			slog.String("error", err.Error()))
	}
}

// build reads the wide rows, repairing once if the player rows are missing or
// the read failed transiently, then joins in the enrichment sources.
func (a *Assembler) build(ctx context.Context, matchID int64) (*Assembled, error) {
	m, err := a.read(ctx, matchID)
	if err != nil {
		if !a.repairable(err) {
			return nil, err
		}

		if repairErr := a.repair(ctx, matchID); repairErr != nil {
			return nil, fmt.Errorf("repair match %d: %w", matchID, repairErr)
		}

		m, err = a.read(ctx, matchID)
		if err != nil {
			return nil, fmt.Errorf("reread after repair of match %d: %w", matchID, err)
		}
	}

	assembled := &Assembled{Match: *m}

	if m.Cluster != nil && m.ReplaySalt != nil {
		assembled.ReplayURL = match.ReplayURL(m.MatchID, *m.Cluster, *m.ReplaySalt)
	}

	if err := a.enrich(ctx, assembled); err != nil {
		return nil, err
	}

	return assembled, nil
}

// errPlayersMissing marks a match row whose player rows have been lost.
// Internal to the repair decision; callers only ever see the repaired result.
var errPlayersMissing = errors.New("player rows missing")

// read decodes the match and its player rows from the column store.
func (a *Assembler) read(ctx context.Context, matchID int64) (*match.Match, error) {
	row, ok, err := a.columns.Match(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, matchID)
	}

	m, err := colstore.DecodeMatch(row)
	if err != nil {
		return nil, fmt.Errorf("decode match %d: %w", matchID, err)
	}

	playerRows, err := a.columns.Players(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if len(playerRows) == 0 {
		return nil, fmt.Errorf("%w: match %d", errPlayersMissing, matchID)
	}

	m.Players = make([]match.Player, 0, len(playerRows))

	for _, pr := range playerRows {
		p, err := colstore.DecodePlayer(pr)
		if err != nil {
			return nil, fmt.Errorf("decode player of match %d: %w", matchID, err)
		}

		m.Players = append(m.Players, *p)
	}

	return m, nil
}

// repairable limits the repair path to lost player rows and the driver's
// known-transient read failures.
func (a *Assembler) repairable(err error) bool {
	return errors.Is(err, errPlayersMissing) || colstore.IsTransientReadError(err)
}

// repair drops the stale player rows, refetches the match from the platform,
// and reinserts it so the read can be retried once.
func (a *Assembler) repair(ctx context.Context, matchID int64) error {
	a.counter.Add(ctx, cache.MetricColumnRepair)
	a.logger.Warn("repairing match", slog.Int64("match_id", matchID))

	if err := a.columns.DeletePlayers(ctx, matchID); err != nil {
		return fmt.Errorf("delete stale player rows: %w", err)
	}

	m, err := a.fetcher.MatchDetails(ctx, matchID)
	if err != nil {
		return fmt.Errorf("refetch: %w", err)
	}

	if _, err := a.inserter.InsertMatch(ctx, m, match.OriginRepair); err != nil {
		return fmt.Errorf("reinsert: %w", err)
	}

	return nil
}

// enrich joins rank tiers, subscription flags, and benchmark percentiles onto
// the player rows. Enrichment failures degrade the response, never fail it.
func (a *Assembler) enrich(ctx context.Context, assembled *Assembled) error {
	accountIDs := make([]int64, 0, len(assembled.Players))

	for i := range assembled.Players {
		if id := assembled.Players[i].AccountID; id != nil {
			accountIDs = append(accountIDs, *id)
		}
	}

	ranks, err := a.store.RankTiers(ctx, accountIDs)
	if err != nil {
		a.logger.Warn("rank tier join failed", slog.String("error", err.Error()))

		ranks = nil
	}

	subscribers, err := a.store.Subscribers(ctx, accountIDs)
	if err != nil {
		a.logger.Warn("subscriber join failed", slog.String("error", err.Error()))

		subscribers = nil
	}

	for i := range assembled.Players {
		p := &assembled.Players[i]

		if p.AccountID != nil {
			if tier, ok := ranks[*p.AccountID]; ok {
				p.RankTier = &tier
			}

			p.IsSubscriber = subscribers[*p.AccountID]
		}

		benchmarks, err := a.benchmark.PlayerBenchmarks(ctx, &assembled.Match, p)
		if err != nil {
			a.logger.Warn("benchmark join failed",
				slog.Int64("match_id", assembled.MatchID),
				slog.String("error", err.Error()))

			continue
		}

		p.Benchmarks = benchmarks
	}

	return nil
}
