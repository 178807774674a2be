package cache

import (
	"fmt"
	"strconv"
)

// Logical key names shared across the pipeline. Every key the system writes
// to the cache store is minted here so the namespace stays auditable.
const (
	// KeyCursor holds the scanner's durable sequence cursor.
	KeyCursor = "scanner:seq_num"

	// KeyDedupWindow is the rolling sorted set of recently inserted match
	// ids, scored by match id.
	KeyDedupWindow = "scanner:window"

	// KeyTrackedPlayers is the sorted set of account ids whose matches are
	// always sent to replay parsing.
	KeyTrackedPlayers = "tracked"

	// KeyProxyCounts tallies which retrieval proxies answered, per hour.
	KeyProxyCounts = "retriever:counts"

	// KeyFeed is the capped live feed of scan-origin matches.
	KeyFeed = "feed"

	// KeyRankDistribution tallies rank tiers observed by the rating sampler,
	// scored by observation count.
	KeyRankDistribution = "rank_distribution"

	// Recent-activity telemetry lists, capped at RecentListLen.
	KeyRecentAdded  = "matches_last_added"
	KeyRecentParsed = "matches_last_parsed"
)

// Capacity bounds for capped structures.
const (
	// FeedLen bounds the live feed list.
	FeedLen = 100

	// RecentListLen bounds the per-origin recent-activity lists.
	RecentListLen = 10
)

// MatchKey is the cache key for an assembled match blob.
func MatchKey(matchID int64) string {
	return "match:" + strconv.FormatInt(matchID, 10)
}

// GcDataKey is the cache key for a compressed raw retrieval-tier response.
func GcDataKey(matchID int64) string {
	return "gcdata:" + strconv.FormatInt(matchID, 10)
}

// BenchmarkKey is the sorted-set key for one (epoch, metric, hero) benchmark
// population.
func BenchmarkKey(epoch int64, metric string, heroID int) string {
	return fmt.Sprintf("benchmarks:%d:%s:%d", epoch, metric, heroID)
}

// PlayerMatchesKey is the cache key for a player's cached match list,
// invalidated when one of their matches is re-persisted.
func PlayerMatchesKey(accountID int64) string {
	return "player_matches:" + strconv.FormatInt(accountID, 10)
}
