package alg

import (
	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// RecalcZOC rebuilds the zone-of-control region from scratch: the region
// is cleared, then every named cell stamps a Chebyshev-distance square
// neighborhood with its faction's index+1. A slot touched by two
// distinct factions becomes the conflict sentinel and stays there for
// the rest of the pass; conflict is absorbing, never downgraded back to
// a single owner.
func RecalcZOC(store *tilestore.Store, cells []typedef.NamedCell, defaultRadius int) {
	zoc := store.ZOC()
	for i := range zoc {
		zoc[i] = 0
	}

	side := store.Side()
	for _, cell := range cells {
		stamp := cell.Faction + 1
		// a faction outside the dictionary cannot stamp: the sentinel
		// wraps to 0 and 0xFFFE collides with the conflict value
		if _, ok := store.FactionName(cell.Faction); !ok || stamp == typedef.ZOCConflict {
			continue
		}
		radius := cell.Radius
		if radius <= 0 {
			radius = defaultRadius
		}

		x0, x1 := max(cell.X-radius, 0), min(cell.X+radius, side-1)
		y0, y1 := max(cell.Y-radius, 0), min(cell.Y+radius, side-1)
		for y := y0; y <= y1; y++ {
			row := y * side
			for x := x0; x <= x1; x++ {
				switch zoc[row+x] {
				case 0:
					zoc[row+x] = stamp
				case stamp, typedef.ZOCConflict:
					// already ours, or already contested
				default:
					zoc[row+x] = typedef.ZOCConflict
				}
			}
		}
	}
}
