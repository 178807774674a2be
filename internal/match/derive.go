package match

import (
	"fmt"
	"math"
	"time"
)

// patchRelease is one entry in the ordered patch table.
type patchRelease struct {
	Name string
	Date time.Time
}

// patches is the patch release timeline, ascending by date. PatchIndex walks
// it to bucket a match by the patch it was played on.
var patches = []patchRelease{
	{"7.30", mustDate("2021-08-18")},
	{"7.31", mustDate("2022-02-23")},
	{"7.32", mustDate("2022-08-23")},
	{"7.33", mustDate("2023-04-20")},
	{"7.34", mustDate("2023-08-08")},
	{"7.35", mustDate("2023-12-14")},
	{"7.36", mustDate("2024-05-22")},
	{"7.37", mustDate("2024-08-01")},
	{"7.38", mustDate("2025-02-19")},
	{"7.39", mustDate("2025-05-22")},
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}

	return t
}

// PatchIndex returns the index into the patch table for a unix start time.
// Matches older than the first known patch map to index 0.
func PatchIndex(startTime int64) int {
	date := time.Unix(startTime, 0)

	i := 1
	for ; i < len(patches); i++ {
		if patches[i].Date.After(date) {
			break
		}
	}

	return i - 1
}

// PatchName returns the display name for a patch index.
func PatchName(index int) string {
	if index < 0 || index >= len(patches) {
		return ""
	}

	return patches[index].Name
}

// AverageMedal computes the average rank medal of the given rank tiers. A
// rank tier is encoded as medal*10+stars with five stars per medal; the
// average is taken in star space and re-encoded.
func AverageMedal(tiers []int) int {
	if len(tiers) == 0 {
		return 0
	}

	const starsPerMedal = 5

	total := 0
	for _, tier := range tiers {
		total += (tier/10)*starsPerMedal + tier%10
	}

	avgStars := float64(total) / float64(len(tiers))

	medal := int(avgStars) / starsPerMedal

	stars := int(math.Round(avgStars - float64(medal*starsPerMedal)))
	if stars < 1 {
		stars = 1
	}

	return medal*10 + stars
}

// ReplayURL builds the replay download location from the match id, server
// cluster, and replay salt obtained from the retrieval tier.
func ReplayURL(matchID int64, cluster int, replaySalt int64) string {
	return fmt.Sprintf("http://replay%d.valve.net/570/%d_%d.dem.bz2", cluster, matchID, replaySalt)
}
