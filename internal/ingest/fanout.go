package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
)

// Parse priorities. Professional matches jump the queue.
const (
	parsePriorityNormal = 0
	parsePriorityPro    = 10
)

// feedEntry is the compact shape pushed onto the live feed.
type feedEntry struct {
	MatchID     int64 `json:"match_id"`
	StartTime   int64 `json:"start_time,omitempty"`
	Duration    int   `json:"duration,omitempty"`
	GameMode    int   `json:"game_mode,omitempty"`
	AverageRank *int  `json:"average_rank,omitempty"`
	LeagueID    int64 `json:"leagueid,omitempty"`
}

// recordTelemetry updates counters, recent-activity lists, and the live feed.
// Best effort.
func (e *Engine) recordTelemetry(ctx context.Context, m *match.Match, origin match.Origin, outcome *Outcome) {
	entry, err := json.Marshal(feedEntry{
		MatchID:     m.MatchID,
		StartTime:   m.StartTime,
		Duration:    m.Duration,
		GameMode:    m.GameMode,
		AverageRank: m.AverageRank,
		LeagueID:    m.LeagueID,
	})
	if err != nil {
		e.logger.Warn("telemetry encode failed", slog.Int64("match_id", m.MatchID), slog.String("error", err.Error()))

		return
	}

	switch origin {
	case match.OriginScan:
		if !outcome.AlreadyKnown {
			e.counter.Add(ctx, cache.MetricAddedMatch)
		}

		e.pushCapped(ctx, cache.KeyRecentAdded, entry, cache.RecentListLen)
		e.pushCapped(ctx, cache.KeyFeed, entry, cache.FeedLen)
	case match.OriginParse:
		e.counter.Add(ctx, cache.MetricParsedMatch)
		e.pushCapped(ctx, cache.KeyRecentParsed, entry, cache.RecentListLen)
	case match.OriginRetrieval, match.OriginRepair:
	}
}

func (e *Engine) pushCapped(ctx context.Context, key string, value []byte, maxLen int64) {
	if err := e.cache.PushCapped(ctx, key, value, maxLen); err != nil {
		e.logger.Warn("telemetry push failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// fanOut enqueues follow-up jobs according to the origin and sampling gates.
// Best effort: a failed enqueue is logged, never fatal.
func (e *Engine) fanOut(ctx context.Context, m *match.Match, origin match.Origin, outcome *Outcome) {
	if origin == match.OriginScan {
		e.fanOutScan(ctx, m, outcome)
	}

	if origin == match.OriginParse && outcome.Professional {
		e.enqueue(ctx, queue.KindTeamScenario, &queue.TeamScenarioJob{MatchID: m.MatchID})
	}
}

func (e *Engine) fanOutScan(ctx context.Context, m *match.Match, outcome *Outcome) {
	bucket := match.SampleBucket(m.MatchID)

	if e.decideParse(ctx, m, outcome, bucket) {
		outcome.ParseEnqueued = true
	}

	if outcome.ParseEnqueued || bucket < e.cfg.GcDataSamplePercent {
		// Speculative fetches are not worth retrying.
		e.enqueue(ctx, queue.KindGcData, &queue.GcDataJob{
			MatchID: m.MatchID,
			NoRetry: !outcome.ParseEnqueued,
		})
	}

	if outcome.Significant && bucket < e.cfg.BenchmarkSamplePercent {
		e.enqueue(ctx, queue.KindBenchmarkSample, &queue.BenchmarkSampleJob{MatchID: m.MatchID})
	}

	if m.LobbyType == match.LobbyTypeRanked {
		for i := range m.Players {
			p := &m.Players[i]
			if p.AccountID == nil {
				continue
			}

			e.enqueue(ctx, queue.KindRatingSample, &queue.RatingSampleJob{
				AccountID: *p.AccountID,
				MatchID:   m.MatchID,
			})
		}
	}

	if bucket < e.cfg.ProfileRefreshPercent {
		for i := range m.Players {
			if m.Players[i].AccountID == nil {
				continue
			}

			e.enqueue(ctx, queue.KindProfileRefresh, &queue.ProfileRefreshJob{
				AccountID: *m.Players[i].AccountID,
				StartTime: m.StartTime,
			})
		}
	}
}

// decideParse applies the parse gates: event matches and already-parsed
// matches never parse; professional matches and matches with a tracked player
// always do; the rest are sampled.
func (e *Engine) decideParse(ctx context.Context, m *match.Match, outcome *Outcome, bucket int) bool {
	if m.GameMode == match.GameModeEvent || m.Version != nil {
		return false
	}

	priority := parsePriorityNormal

	switch {
	case outcome.Professional:
		priority = parsePriorityPro
	case e.hasTrackedPlayer(ctx, m):
	case bucket < e.cfg.ParseSamplePercent:
	default:
		return false
	}

	job := &queue.ParseJob{
		MatchID:    m.MatchID,
		Origin:     match.OriginScan,
		StartTime:  m.StartTime,
		Duration:   m.Duration,
		GameMode:   m.GameMode,
		LeagueID:   m.LeagueID,
		Group:      m.Group,
		Cluster:    m.Cluster,
		ReplaySalt: m.ReplaySalt,
	}

	return e.enqueue(ctx, queue.KindParse, job, queue.WithPriority(priority))
}

// hasTrackedPlayer reports whether any identified player is in the tracked
// set.
func (e *Engine) hasTrackedPlayer(ctx context.Context, m *match.Match) bool {
	for i := range m.Players {
		p := &m.Players[i]
		if p.AccountID == nil {
			continue
		}

		_, ok, err := e.cache.ZScore(ctx, cache.KeyTrackedPlayers, formatAccountID(*p.AccountID))
		if err != nil {
			e.logger.Warn("tracked player lookup failed", slog.String("error", err.Error()))

			continue
		}

		if ok {
			return true
		}
	}

	return false
}

func formatAccountID(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}

func (e *Engine) enqueue(ctx context.Context, kind queue.Kind, payload any, opts ...queue.EnqueueOption) bool {
	if err := e.producer.Enqueue(ctx, kind, payload, opts...); err != nil {
		e.logger.Warn("fan-out enqueue failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))

		return false
	}

	return true
}
