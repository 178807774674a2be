package queue

import (
	"strconv"

	"github.com/matchforge-io/matchforge/internal/match"
)

// ParseJob asks the parse tier to process a match replay. It carries enough
// of the match identity for the parser to locate the replay and rejoin its
// output to the right players.
type ParseJob struct {
	MatchID    int64        `json:"match_id"`
	Origin     match.Origin `json:"origin,omitempty"`
	StartTime  int64        `json:"start_time,omitempty"`
	Duration   int          `json:"duration,omitempty"`
	GameMode   int          `json:"game_mode,omitempty"`
	LeagueID   int64        `json:"leagueid,omitempty"`
	Group      match.Group  `json:"pgroup,omitempty"`
	Cluster    *int         `json:"cluster,omitempty"`
	ReplaySalt *int64       `json:"replay_salt,omitempty"`
}

// PartitionKey keys parse jobs by match.
func (j *ParseJob) PartitionKey() string {
	return strconv.FormatInt(j.MatchID, 10)
}

// GcDataJob asks the retrieval tier to fetch supplemental match data.
type GcDataJob struct {
	MatchID int64 `json:"match_id"`

	// NoRetry marks jobs whose failure should not be re-enqueued, used for
	// speculative fetches.
	NoRetry bool `json:"no_retry,omitempty"`
}

// PartitionKey keys retrieval jobs by match.
func (j *GcDataJob) PartitionKey() string {
	return strconv.FormatInt(j.MatchID, 10)
}

// RatingSampleJob asks for a rating recalculation of one ranked player.
type RatingSampleJob struct {
	AccountID int64 `json:"account_id"`
	MatchID   int64 `json:"match_id"`
}

// PartitionKey keys rating jobs by account so per-player updates stay ordered.
func (j *RatingSampleJob) PartitionKey() string {
	return strconv.FormatInt(j.AccountID, 10)
}

// ProfileRefreshJob asks for a profile refresh of one player. StartTime is
// the triggering match's start time, so the refresh records a real last-seen
// time rather than the time the job happened to run.
type ProfileRefreshJob struct {
	AccountID int64 `json:"account_id"`
	StartTime int64 `json:"start_time,omitempty"`
}

// PartitionKey keys profile jobs by account.
func (j *ProfileRefreshJob) PartitionKey() string {
	return strconv.FormatInt(j.AccountID, 10)
}

// BenchmarkSampleJob asks for per-hero benchmark sampling of a match.
type BenchmarkSampleJob struct {
	MatchID int64 `json:"match_id"`
}

// PartitionKey keys benchmark jobs by match.
func (j *BenchmarkSampleJob) PartitionKey() string {
	return strconv.FormatInt(j.MatchID, 10)
}

// TeamScenarioJob asks for scenario aggregation over a parsed pro match.
type TeamScenarioJob struct {
	MatchID int64 `json:"match_id"`
}

// PartitionKey keys scenario jobs by match.
func (j *TeamScenarioJob) PartitionKey() string {
	return strconv.FormatInt(j.MatchID, 10)
}
