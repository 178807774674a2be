// Package scanner walks the platform's global match sequence, feeding every
// sighted match into the decision engine exactly once.
//
// Pages are strictly sequential so the cursor only ever moves forward, but
// matches within one page are inserted with bounded parallelism; inserts are
// idempotent and deduplicated, so in-page order does not matter. The cursor
// is persisted only after a page is fully processed, giving at-least-once
// semantics across restarts.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/ingest"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/platform"
)

// ErrNoCursor is returned when no cursor can be established at startup.
var ErrNoCursor = errors.New("no scan cursor available")

// Config holds scanner settings.
type Config struct {
	// StartSeq seeds the cursor when none is persisted. Zero means bootstrap
	// from the platform's most recent match instead.
	StartSeq int64

	// SamplePercent gates inserts on hash(match_id) mod 100. 100 inserts
	// everything; lower values are for load shedding.
	SamplePercent int

	// PollInterval is the sleep after a short page (caught up to live).
	PollInterval time.Duration

	// CatchupInterval is the sleep after a full page, divided across the
	// configured upstream hosts.
	CatchupInterval time.Duration

	// Backoff is the fixed wait before retrying the same cursor after a
	// transient upstream failure.
	Backoff time.Duration

	// Parallelism bounds concurrent inserts within one page.
	Parallelism int

	// WindowSize is the dedup window length in matches. Must exceed the
	// largest expected lag between the primary and a secondary scanner.
	WindowSize int64

	// RequestsPerSecond caps the aggregate upstream request rate.
	RequestsPerSecond float64

	// Secondary switches the scanner into gap-fill mode: it only inserts
	// matches the primary provably missed and never touches the cursor.
	Secondary bool
}

// LoadConfig loads scanner configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		StartSeq:          config.GetEnvInt64("SCANNER_START_SEQ", 0),
		SamplePercent:     config.GetEnvInt("SCANNER_SAMPLE_PERCENT", 100),
		PollInterval:      config.GetEnvDuration("SCANNER_POLL_INTERVAL", 10*time.Second),
		CatchupInterval:   config.GetEnvDuration("SCANNER_CATCHUP_INTERVAL", 2*time.Second),
		Backoff:           config.GetEnvDuration("SCANNER_BACKOFF", 5*time.Second),
		Parallelism:       config.GetEnvInt("SCANNER_PARALLELISM", 10),
		WindowSize:        config.GetEnvInt64("SCANNER_WINDOW_SIZE", 5000),
		RequestsPerSecond: float64(config.GetEnvInt("SCANNER_REQUESTS_PER_SECOND", 1)),
		Secondary:         config.GetEnvBool("SCANNER_SECONDARY", false),
	}
}

// Inserter is the slice of the decision engine the scanner feeds.
type Inserter interface {
	InsertMatch(ctx context.Context, m *match.Match, origin match.Origin) (*ingest.Outcome, error)
}

// Scanner advances a durable cursor over the platform's match sequence.
type Scanner struct {
	cfg      *Config
	client   *platform.Client
	cache    cache.Store
	counter  *cache.Counter
	inserter Inserter
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New wires a scanner to its upstream client and downstream engine.
func New(
	cfg *Config,
	client *platform.Client,
	cacheStore cache.Store,
	counter *cache.Counter,
	inserter Inserter,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:      cfg,
		client:   client,
		cache:    cacheStore,
		counter:  counter,
		inserter: inserter,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Run scans until the context is cancelled. Upstream failures are retried at
// the same cursor; only an unresolvable startup cursor is fatal.
func (s *Scanner) Run(ctx context.Context) error {
	cursor, err := s.resume(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("scan loop starting",
		slog.Int64("cursor", cursor),
		slog.Bool("secondary", s.cfg.Secondary))

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		next, delay := s.step(ctx, cursor)
		cursor = next

		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// resume re-establishes the cursor: the persisted position first, then the
// configured start, then the platform's most recent match.
func (s *Scanner) resume(ctx context.Context) (int64, error) {
	raw, ok, err := s.cache.Get(ctx, cache.KeyCursor)
	if err != nil {
		return 0, fmt.Errorf("read scan cursor: %w", err)
	}

	if ok {
		cursor, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: corrupt persisted cursor %q", ErrNoCursor, raw)
		}

		return cursor, nil
	}

	if s.cfg.StartSeq > 0 {
		return s.cfg.StartSeq, nil
	}

	latest, err := s.client.LatestSeqNum(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: bootstrap from latest: %w", ErrNoCursor, err)
	}

	return latest, nil
}

// step performs one scan iteration: fetch the page at cursor, process it, and
// return the next cursor position plus the delay before the next fetch.
func (s *Scanner) step(ctx context.Context, cursor int64) (int64, time.Duration) {
	page, err := s.client.MatchesBySeqNum(ctx, cursor)

	switch {
	case errors.Is(err, platform.ErrSequenceGap):
		// Permanent hole. Skip the position instead of retrying forever.
		s.counter.Add(ctx, cache.MetricSkipSeqNum)
		s.logger.Warn("skipping sequence gap", slog.Int64("cursor", cursor))
		s.persistCursor(ctx, cursor+1)

		return cursor + 1, 0
	case err != nil:
		s.logger.Warn("sequence page fetch failed",
			slog.Int64("cursor", cursor),
			slog.String("error", err.Error()))

		return cursor, s.cfg.Backoff
	}

	if len(page) == 0 {
		return cursor, s.cfg.PollInterval
	}

	if err := s.processPage(ctx, page); err != nil {
		s.logger.Warn("page processing failed, retrying same cursor",
			slog.Int64("cursor", cursor),
			slog.String("error", err.Error()))

		return cursor, s.cfg.Backoff
	}

	next := page[len(page)-1].SeqNum + 1
	s.persistCursor(ctx, next)

	if len(page) < platform.PageSize {
		return next, s.cfg.PollInterval
	}

	// Behind live: pace catch-up by the number of hosts sharing the budget.
	return next, s.cfg.CatchupInterval / time.Duration(s.client.HostCount())
}

// processPage inserts the page's matches with bounded parallelism. Any insert
// failure fails the page so the cursor is not advanced past unprocessed work.
func (s *Scanner) processPage(ctx context.Context, page []match.Match) error {
	windowMin, err := s.windowMin(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for i := range page {
		m := &page[i]

		g.Go(func() error {
			return s.processMatch(gctx, m, windowMin)
		})
	}

	return g.Wait()
}

func (s *Scanner) processMatch(ctx context.Context, m *match.Match, windowMin int64) error {
	if match.SampleBucket(m.MatchID) >= s.cfg.SamplePercent {
		return nil
	}

	member := strconv.FormatInt(m.MatchID, 10)

	_, seen, err := s.cache.ZScore(ctx, cache.KeyDedupWindow, member)
	if err != nil {
		return fmt.Errorf("dedup lookup for match %d: %w", m.MatchID, err)
	}

	if seen {
		return nil
	}

	// Below the window minimum the primary may simply not have caught up
	// yet; inserting here would duplicate its work moments later.
	if s.cfg.Secondary && m.MatchID < windowMin {
		return nil
	}

	if _, err := s.inserter.InsertMatch(ctx, m, match.OriginScan); err != nil {
		return fmt.Errorf("insert match %d: %w", m.MatchID, err)
	}

	if s.cfg.Secondary {
		s.counter.Add(ctx, cache.MetricSecondaryFill)
	}

	return s.recordSeen(ctx, m.MatchID, member)
}

// windowMin returns the smallest match id in the dedup window, or zero when
// the window is empty. Only consulted in secondary mode.
func (s *Scanner) windowMin(ctx context.Context) (int64, error) {
	if !s.cfg.Secondary {
		return 0, nil
	}

	members, err := s.cache.ZRangeWithScores(ctx, cache.KeyDedupWindow, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("dedup window minimum: %w", err)
	}

	if len(members) == 0 {
		return 0, nil
	}

	return int64(members[0].Score), nil
}

// recordSeen adds a match to the dedup window and trims it to the configured
// size, oldest ids first.
func (s *Scanner) recordSeen(ctx context.Context, matchID int64, member string) error {
	if err := s.cache.ZAdd(ctx, cache.KeyDedupWindow, float64(matchID), member); err != nil {
		return fmt.Errorf("dedup record for match %d: %w", matchID, err)
	}

	if err := s.cache.ZRemRangeByRank(ctx, cache.KeyDedupWindow, 0, -s.cfg.WindowSize-1); err != nil {
		return fmt.Errorf("dedup window trim: %w", err)
	}

	return nil
}

// persistCursor durably stores the cursor. Failures are logged, not fatal: a
// crash before the next successful persist reprocesses the page, which the
// dedup window and idempotent inserts absorb.
func (s *Scanner) persistCursor(ctx context.Context, cursor int64) {
	if s.cfg.Secondary {
		return
	}

	if err := s.cache.Set(ctx, cache.KeyCursor, []byte(strconv.FormatInt(cursor, 10)), 0); err != nil {
		s.logger.Warn("cursor persist failed",
			slog.Int64("cursor", cursor),
			slog.String("error", err.Error()))
	}
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
