// Package alg holds the spatial analysis passes that run inside worker
// pool contexts. Every function is a pure read of the shared tile store
// regions (the ZOC rebuild excepted, which owns its output region); none
// of them write into the authoritative grid, so a failed pass degrades
// derived data without corrupting state.
package alg

import (
	"sort"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// FactionAggregate reports the occupied-cell count and floored-mean
// centroid for a single faction.
type FactionAggregate struct {
	FactionIndex uint16 `json:"factionIndex"`
	Faction      string `json:"faction"`
	Cells        int    `json:"cells"`
	CentroidX    int    `json:"centroidX"`
	CentroidY    int    `json:"centroidY"`
}

type aggAcc struct {
	cells      int
	sumX, sumY int64
}

// AggregateFactions makes a single O(cells) pass over the grid and
// accumulates per-faction counts and coordinate sums. Results are
// ordered by faction index.
func AggregateFactions(store *tilestore.Store) []FactionAggregate {
	accs := make(map[uint16]*aggAcc)
	side := store.Side()

	for index := 0; index < store.Len(); index++ {
		faction := store.FactionAt(index)
		if faction == typedef.UnclaimedFaction {
			continue
		}
		acc := accs[faction]
		if acc == nil {
			acc = &aggAcc{}
			accs[faction] = acc
		}
		acc.cells++
		acc.sumX += int64(index % side)
		acc.sumY += int64(index / side)
	}

	out := make([]FactionAggregate, 0, len(accs))
	for faction, acc := range accs {
		name, _ := store.FactionName(faction)
		out = append(out, FactionAggregate{
			FactionIndex: faction,
			Faction:      name,
			Cells:        acc.cells,
			CentroidX:    int(acc.sumX / int64(acc.cells)),
			CentroidY:    int(acc.sumY / int64(acc.cells)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactionIndex < out[j].FactionIndex })
	return out
}
