package alg

import (
	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
)

// EdgeSide identifies which side of a cell a border segment lies on.
type EdgeSide uint8

const (
	EdgeTop EdgeSide = iota
	EdgeBottom
	EdgeLeft
	EdgeRight
)

func (e EdgeSide) String() string {
	switch e {
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	}
	return "invalid"
}

// Edge is one unit border segment on the named side of cell (X, Y).
type Edge struct {
	X    int      `json:"x"`
	Y    int      `json:"y"`
	Side EdgeSide `json:"side"`
}

// CalculateEdges emits one unit segment per side of every cell owned by
// the faction whose 4-neighbor on that side is not owned by the same
// faction. Out-of-bounds neighbors count as not owned, so a cell on the
// map rim contributes its rim sides.
func CalculateEdges(store *tilestore.Store, faction uint16) []Edge {
	side := store.Side()
	var edges []Edge

	for index := 0; index < store.Len(); index++ {
		if store.FactionAt(index) != faction {
			continue
		}
		x, y := index%side, index/side

		if y == 0 || store.FactionAt(index-side) != faction {
			edges = append(edges, Edge{X: x, Y: y, Side: EdgeTop})
		}
		if y == side-1 || store.FactionAt(index+side) != faction {
			edges = append(edges, Edge{X: x, Y: y, Side: EdgeBottom})
		}
		if x == 0 || store.FactionAt(index-1) != faction {
			edges = append(edges, Edge{X: x, Y: y, Side: EdgeLeft})
		}
		if x == side-1 || store.FactionAt(index+1) != faction {
			edges = append(edges, Edge{X: x, Y: y, Side: EdgeRight})
		}
	}
	return edges
}
