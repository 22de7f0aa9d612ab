package alg

import (
	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// Cluster is one maximal 4-connected component of a faction's territory.
type Cluster struct {
	FactionIndex uint16  `json:"factionIndex"`
	Faction      string  `json:"faction"`
	Cells        int     `json:"cells"`
	CentroidX    float64 `json:"centroidX"`
	CentroidY    float64 `json:"centroidY"`
	HasCore      bool    `json:"hasCore"`
}

// CalculateClusters partitions every faction's occupied cells into
// maximal 4-connected components via breadth-first search. Components
// are reported in row-major discovery order.
func CalculateClusters(store *tilestore.Store) []Cluster {
	side := store.Side()
	visited := make([]bool, store.Len())
	var clusters []Cluster
	queue := make([]int, 0, 64)

	for start := 0; start < store.Len(); start++ {
		if visited[start] {
			continue
		}
		faction := store.FactionAt(start)
		if faction == typedef.UnclaimedFaction {
			continue
		}

		visited[start] = true
		queue = append(queue[:0], start)
		cluster := Cluster{FactionIndex: faction}
		cluster.Faction, _ = store.FactionName(faction)
		var sumX, sumY int64

		for len(queue) > 0 {
			index := queue[0]
			queue = queue[1:]

			cluster.Cells++
			x, y := index%side, index/side
			sumX += int64(x)
			sumY += int64(y)
			if store.CoreFlagAt(index) {
				cluster.HasCore = true
			}

			// 4-neighborhood, same faction only
			if x > 0 {
				queue = visit(store, visited, queue, index-1, faction)
			}
			if x < side-1 {
				queue = visit(store, visited, queue, index+1, faction)
			}
			if y > 0 {
				queue = visit(store, visited, queue, index-side, faction)
			}
			if y < side-1 {
				queue = visit(store, visited, queue, index+side, faction)
			}
		}

		cluster.CentroidX = float64(sumX) / float64(cluster.Cells)
		cluster.CentroidY = float64(sumY) / float64(cluster.Cells)
		clusters = append(clusters, cluster)
	}
	return clusters
}

func visit(store *tilestore.Store, visited []bool, queue []int, index int, faction uint16) []int {
	if visited[index] || store.FactionAt(index) != faction {
		return queue
	}
	visited[index] = true
	return append(queue, index)
}
