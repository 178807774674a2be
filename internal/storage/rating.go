package storage

import "math"

// Team rating parameters. New teams start at the base rating; each match
// moves both teams by at most eloK points.
const (
	baseTeamRating = 1000.0
	eloK           = 32.0
)

// eloExpected is the logistic win expectation for a team rated a against a
// team rated b.
func eloExpected(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

// eloDeltas returns the rating changes for the radiant and dire teams given
// their current ratings and the match outcome.
func eloDeltas(radiant, dire float64, radiantWin bool) (float64, float64) {
	win := 0.0
	if radiantWin {
		win = 1.0
	}

	delta := eloK * (win - eloExpected(radiant, dire))

	return delta, -delta
}
