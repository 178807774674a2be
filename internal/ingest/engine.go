// Package ingest implements the decision engine at the pipeline's choke
// point: every match payload, whatever its origin, passes through InsertMatch
// exactly once. The engine normalizes the payload, classifies it, persists it
// to the column and relational stores, invalidates caches, and fans out
// follow-up jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/colstore"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

// Sentinel errors for the decision engine.
var (
	// ErrInvalidMatch is returned for payloads without a match id.
	ErrInvalidMatch = errors.New("match payload has no match id")
)

// Config holds the engine's fan-out gates. Percentages apply to the match's
// deterministic sample bucket.
type Config struct {
	// ParseSamplePercent of ordinary significant matches get a parse job.
	// Professional matches and matches with tracked players always do.
	ParseSamplePercent int

	// GcDataSamplePercent of significant matches get a speculative
	// supplemental-fetch job even when no parse was requested.
	GcDataSamplePercent int

	// ProfileRefreshPercent of matches trigger profile refreshes for their
	// identified players.
	ProfileRefreshPercent int

	// BenchmarkSamplePercent of significant matches get a benchmark-sample
	// job.
	BenchmarkSamplePercent int

	// LeagueRefreshInterval bounds how long the tracked-league set is cached
	// before re-reading it from the relational store.
	LeagueRefreshInterval time.Duration
}

// LoadConfig loads engine configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		ParseSamplePercent:     config.GetEnvInt("PARSE_SAMPLE_PERCENT", 5),
		GcDataSamplePercent:    config.GetEnvInt("GCDATA_SAMPLE_PERCENT", 10),
		ProfileRefreshPercent:  config.GetEnvInt("PROFILE_REFRESH_PERCENT", 1),
		BenchmarkSamplePercent: config.GetEnvInt("BENCHMARK_SAMPLE_PERCENT", 100),
		LeagueRefreshInterval:  config.GetEnvDuration("LEAGUE_REFRESH_INTERVAL", 5*time.Minute),
	}
}

// Outcome reports what one InsertMatch call did.
type Outcome struct {
	MatchID       int64
	AlreadyKnown  bool
	Significant   bool
	Professional  bool
	ParseEnqueued bool
}

// Engine is the ingest decision engine.
type Engine struct {
	cfg        *Config
	relational storage.Store
	columns    colstore.Store
	cache      cache.Store
	counter    *cache.Counter
	producer   queue.Producer
	logger     *slog.Logger
	now        func() time.Time

	mu             sync.Mutex
	trackedLeagues map[int64]bool
	leaguesLoaded  time.Time
}

// NewEngine wires the decision engine to its stores and the job producer.
func NewEngine(
	cfg *Config,
	relational storage.Store,
	columns colstore.Store,
	cacheStore cache.Store,
	counter *cache.Counter,
	producer queue.Producer,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		relational: relational,
		columns:    columns,
		cache:      cacheStore,
		counter:    counter,
		producer:   producer,
		logger:     logger.With(slog.String("component", "ingest")),
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// InsertMatch runs the full decision sequence for one payload. The caller's
// match is never mutated. Persistence failures abort with an error;
// side-effect failures (cache invalidation, telemetry, fan-out) are logged
// and do not fail the insert.
func (e *Engine) InsertMatch(ctx context.Context, m *match.Match, origin match.Origin) (*Outcome, error) {
	if m == nil || m.MatchID == 0 {
		return nil, ErrInvalidMatch
	}

	m = m.Copy()
	e.normalize(m, origin)

	_, known, err := e.columns.Match(ctx, m.MatchID)
	if err != nil {
		return nil, fmt.Errorf("check match %d: %w", m.MatchID, err)
	}

	outcome := &Outcome{
		MatchID:      m.MatchID,
		AlreadyKnown: known,
		Significant:  match.IsSignificant(m),
	}
	outcome.Professional = match.IsProfessional(m, e.tracked(ctx))

	if err := e.persistColumns(ctx, m); err != nil {
		return nil, err
	}

	if err := e.persistRelational(ctx, m, origin, outcome); err != nil {
		return nil, err
	}

	e.invalidate(ctx, m)
	e.recordTelemetry(ctx, m, origin, outcome)
	e.fanOut(ctx, m, origin, outcome)

	return outcome, nil
}

// normalize strips anonymous accounts, joins partial payloads to their slot
// group, and derives fields the payload implies.
func (e *Engine) normalize(m *match.Match, origin match.Origin) {
	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID != nil && *p.AccountID == match.AnonymousAccountID {
			p.AccountID = nil
		}
	}

	if len(m.Group) > 0 {
		m.Group.Apply(m.Players)
	} else if origin == match.OriginScan && len(m.Players) > 0 {
		m.Group = match.BuildGroup(m.Players)
	}

	if origin == match.OriginScan && m.AverageRank == nil {
		if rank := averageRank(m.Players); rank > 0 {
			m.AverageRank = &rank
		}
	}

	deriveLanes(m.Players)
}

// averageRank aggregates the players' rank tiers into one match-level medal.
func averageRank(players []match.Player) int {
	tiers := make([]int, 0, len(players))

	for i := range players {
		if players[i].RankTier != nil {
			tiers = append(tiers, *players[i].RankTier)
		}
	}

	return match.AverageMedal(tiers)
}

// deriveLanes fills lane assignments from positional heatmaps where present.
func deriveLanes(players []match.Player) {
	for i := range players {
		p := &players[i]
		if len(p.LanePos) == 0 || p.Lane != nil {
			continue
		}

		assignment, ok := match.LaneFromPositions(p.LanePos, match.IsRadiant(p.PlayerSlot))
		if !ok {
			continue
		}

		lane, role, roaming := assignment.Lane, assignment.LaneRole, assignment.IsRoaming
		p.Lane = &lane
		p.LaneRole = &role
		p.IsRoaming = &roaming
	}
}

// persistColumns writes the wide rows every match gets.
func (e *Engine) persistColumns(ctx context.Context, m *match.Match) error {
	row, err := colstore.MatchRow(m)
	if err != nil {
		return err
	}

	if err := e.columns.UpsertMatch(ctx, row); err != nil {
		return fmt.Errorf("persist match %d: %w", m.MatchID, err)
	}

	for i := range m.Players {
		p := &m.Players[i]

		playerRow, err := colstore.PlayerRow(m.MatchID, p)
		if err != nil {
			return err
		}

		if err := e.columns.UpsertPlayer(ctx, playerRow); err != nil {
			return fmt.Errorf("persist player slot %d of match %d: %w", p.PlayerSlot, m.MatchID, err)
		}

		cacheRow, ok, err := colstore.PlayerCacheRow(m, p)
		if err != nil {
			return err
		}

		if ok {
			if err := e.columns.UpsertPlayerCache(ctx, cacheRow); err != nil {
				return fmt.Errorf("persist player cache of match %d: %w", m.MatchID, err)
			}
		}
	}

	return nil
}

// persistRelational writes the curated rows professional matches get, plus
// the lookups any payload can contribute to.
func (e *Engine) persistRelational(ctx context.Context, m *match.Match, origin match.Origin, outcome *Outcome) error {
	if err := e.relational.UpsertRankTiers(ctx, m); err != nil {
		e.logger.Warn("rank tier upsert failed",
			slog.Int64("match_id", m.MatchID),
			slog.String("error", err.Error()))
	}

	if !outcome.Professional {
		return nil
	}

	if err := e.relational.UpsertProMatch(ctx, m); err != nil {
		return fmt.Errorf("persist pro match %d: %w", m.MatchID, err)
	}

	if err := e.relational.UpsertPlayers(ctx, m); err != nil {
		return fmt.Errorf("persist pro players of match %d: %w", m.MatchID, err)
	}

	// Ratings move only on the first full-payload insert, so a replayed
	// page or a repair refetch cannot double-apply the exchange.
	if !outcome.AlreadyKnown && origin != match.OriginRepair {
		if err := e.relational.UpdateTeamRatings(ctx, m); err != nil {
			return fmt.Errorf("update team ratings for match %d: %w", m.MatchID, err)
		}
	}

	return nil
}

// invalidate drops every cache entry the insert made stale. Best effort.
func (e *Engine) invalidate(ctx context.Context, m *match.Match) {
	keys := []string{cache.MatchKey(m.MatchID)}

	for i := range m.Players {
		if m.Players[i].AccountID != nil {
			keys = append(keys, cache.PlayerMatchesKey(*m.Players[i].AccountID))
		}
	}

	if err := e.cache.Del(ctx, keys...); err != nil {
		e.logger.Warn("cache invalidation failed",
			slog.Int64("match_id", m.MatchID),
			slog.String("error", err.Error()))
	}
}

// tracked returns the tracked-league set, refreshing it from the relational
// store when stale. On refresh failure the last known set keeps serving.
func (e *Engine) tracked(ctx context.Context) map[int64]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trackedLeagues != nil && e.now().Sub(e.leaguesLoaded) < e.cfg.LeagueRefreshInterval {
		return e.trackedLeagues
	}

	leagues, err := e.relational.TrackedLeagues(ctx)
	if err != nil {
		e.logger.Warn("tracked league refresh failed", slog.String("error", err.Error()))

		if e.trackedLeagues == nil {
			return map[int64]bool{}
		}

		return e.trackedLeagues
	}

	e.trackedLeagues = leagues
	e.leaguesLoaded = e.now()

	return e.trackedLeagues
}
