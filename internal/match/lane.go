package match

import "strconv"

// Lane identifiers produced by lane derivation. Lanes are map regions; roles
// are side-adjusted (the bottom lane is the safe lane for radiant but the off
// lane for dire).
const (
	LaneBottom        = 1
	LaneMid           = 2
	LaneTop           = 3
	LaneRadiantJungle = 4
	LaneDireJungle    = 5

	LaneRoleSafe   = 1
	LaneRoleMid    = 2
	LaneRoleOff    = 3
	LaneRoleJungle = 4
)

// roamingPresenceThreshold: a player whose prominent lane accounts for less
// than this share of their positional samples is considered roaming.
const roamingPresenceThreshold = 0.45

// Positional heatmap coordinates are offset by 64 on the wire and the map
// grid is 128x128 with y growing downward after adjustment.
const (
	posCoordOffset = 64
	posGridSize    = 128
	laneBandWidth  = 8
	laneEdgeBound  = 27
)

// laneForCell buckets one adjusted grid cell into a lane region. The map is
// split along the x=y diagonal: a band around it is mid, the top-left and
// bottom-right edges are the top and bottom lanes, and the remainder is
// side jungle.
func laneForCell(x, y int) int {
	dx := x - y

	switch {
	case dx <= laneBandWidth && dx >= -laneBandWidth:
		return LaneMid
	case x <= laneEdgeBound || y >= posGridSize-laneEdgeBound:
		return LaneTop
	case y <= laneEdgeBound || x >= posGridSize-laneEdgeBound:
		return LaneBottom
	case y > x:
		return LaneDireJungle
	default:
		return LaneRadiantJungle
	}
}

// LaneAssignment is the result of deriving a player's lane from positional
// data.
type LaneAssignment struct {
	Lane      int
	LaneRole  int
	IsRoaming bool
}

// LaneFromPositions computes a player's lane from the parser's positional
// heatmap: each sample is bucketed into a lane region and the mode wins. Low
// presence in the prominent lane marks the player as roaming.
//
// Returns ok=false when the heatmap has no usable samples.
func LaneFromPositions(lanePos map[string]map[string]int, radiant bool) (LaneAssignment, bool) {
	counts := make(map[int]int)
	total := 0

	for xs, col := range lanePos {
		x, err := strconv.Atoi(xs)
		if err != nil {
			continue
		}

		for ys, n := range col {
			y, err := strconv.Atoi(ys)
			if err != nil || n <= 0 {
				continue
			}

			adjX := x - posCoordOffset
			adjY := posGridSize - (y - posCoordOffset)

			if adjX < 0 || adjX >= posGridSize || adjY < 0 || adjY >= posGridSize {
				continue
			}

			counts[laneForCell(adjX, adjY)] += n
			total += n
		}
	}

	if total == 0 {
		return LaneAssignment{}, false
	}

	lane, count := 0, 0
	for l, n := range counts {
		if n > count || (n == count && l < lane) {
			lane, count = l, n
		}
	}

	return LaneAssignment{
		Lane:      lane,
		LaneRole:  laneRole(lane, radiant),
		IsRoaming: float64(count)/float64(total) < roamingPresenceThreshold,
	}, true
}

// laneRole adjusts a lane region for team side. Bottom is radiant's safe lane
// and dire's off lane; top is the reverse. Both jungles map to the jungle
// role.
func laneRole(lane int, radiant bool) int {
	switch lane {
	case LaneBottom:
		if radiant {
			return LaneRoleSafe
		}

		return LaneRoleOff
	case LaneMid:
		return LaneRoleMid
	case LaneTop:
		if radiant {
			return LaneRoleOff
		}

		return LaneRoleSafe
	case LaneRadiantJungle, LaneDireJungle:
		return LaneRoleJungle
	default:
		return 0
	}
}
