package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/matchforge-io/matchforge/internal/assembler"
	"github.com/matchforge-io/matchforge/internal/benchmark"
	"github.com/matchforge-io/matchforge/internal/cache"
	"github.com/matchforge-io/matchforge/internal/match"
	"github.com/matchforge-io/matchforge/internal/queue"
	"github.com/matchforge-io/matchforge/internal/storage"
)

// handlers bundles the worker's queue handlers around their shared
// collaborators. The supplemental-fetch handler lives on the retriever
// itself; everything else is thin enough to live here.
type handlers struct {
	assembler *assembler.Assembler
	benchmark *benchmark.Engine
	store     storage.Store
	cache     cache.Store
	logger    *slog.Logger
}

// benchmarkSample assembles the sampled match and records every played hero's
// metrics into the current benchmark window. Insignificant matches are
// dropped: their stat lines would skew the populations.
func (h *handlers) benchmarkSample(ctx context.Context, env *queue.Envelope) error {
	job, err := queue.Decode[queue.BenchmarkSampleJob](env)
	if err != nil {
		h.logger.Error("dropping undecodable benchmark job", slog.String("error", err.Error()))

		return nil
	}

	assembled, err := h.assembler.GetMatch(ctx, job.MatchID)
	if err != nil {
		if errors.Is(err, assembler.ErrNotFound) {
			h.logger.Warn("dropping benchmark job for unknown match", slog.Int64("match_id", job.MatchID))

			return nil
		}

		return err
	}

	if !match.IsSignificant(&assembled.Match) {
		return nil
	}

	return h.benchmark.Record(ctx, &assembled.Match)
}

// profileRefresh upserts a discovered account, recording the triggering
// match's start time as its last-seen time.
func (h *handlers) profileRefresh(ctx context.Context, env *queue.Envelope) error {
	job, err := queue.Decode[queue.ProfileRefreshJob](env)
	if err != nil {
		h.logger.Error("dropping undecodable profile job", slog.String("error", err.Error()))

		return nil
	}

	return h.store.UpsertPlayers(ctx, &match.Match{
		StartTime: job.StartTime,
		Players:   []match.Player{{AccountID: &job.AccountID}},
	})
}

// ratingSample tallies the sampled player's stored rank tier into the rank
// distribution. Players without a stored tier contribute nothing.
func (h *handlers) ratingSample(ctx context.Context, env *queue.Envelope) error {
	job, err := queue.Decode[queue.RatingSampleJob](env)
	if err != nil {
		h.logger.Error("dropping undecodable rating job", slog.String("error", err.Error()))

		return nil
	}

	tiers, err := h.store.RankTiers(ctx, []int64{job.AccountID})
	if err != nil {
		return err
	}

	tier, ok := tiers[job.AccountID]
	if !ok {
		return nil
	}

	return h.cache.ZIncrBy(ctx, cache.KeyRankDistribution, 1, strconv.Itoa(tier))
}
