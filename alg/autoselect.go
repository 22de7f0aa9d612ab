package alg

import (
	"math/rand"
	"sort"
	"time"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// CandidateKind classifies a frontier candidate cell.
type CandidateKind uint8

const (
	CandidateBlank CandidateKind = iota // unclaimed neighbor
	CandidateEnemy                      // owned by a non-allied faction
)

// Candidate is one expandable frontier cell with its action-point cost.
type Candidate struct {
	Index int           `json:"index"`
	X     int           `json:"x"`
	Y     int           `json:"y"`
	Kind  CandidateKind `json:"kind"`
	Cost  int           `json:"cost"`
}

// AutoSelectRequest parameterizes a frontier candidate search.
type AutoSelectRequest struct {
	Faction       uint16    // requesting faction index
	Allies        []uint16  // allied faction indexes, never offered as targets
	OverwriteCost int       // cost of painting over an enemy cell
	Now           time.Time // instant used for unexpired-core checks
}

// AutoSelectCandidates performs a one-hop expansion over the 4-neighbors
// of every cell the requesting faction owns. Own and allied cells are
// excluded; the rest are deduplicated and classified: a blank cell costs
// 1, an enemy cell costs the configured overwrite cost, plus 1 when it
// carries an unexpired core flag.
func AutoSelectCandidates(store *tilestore.Store, req AutoSelectRequest) []Candidate {
	side := store.Side()
	allied := make(map[uint16]bool, len(req.Allies)+1)
	allied[req.Faction] = true
	for _, a := range req.Allies {
		allied[a] = true
	}

	seen := make(map[int]bool)
	var out []Candidate
	consider := func(index int) {
		if seen[index] {
			return
		}
		seen[index] = true

		owner := store.FactionAt(index)
		if owner != typedef.UnclaimedFaction && allied[owner] {
			return
		}
		cand := Candidate{Index: index, X: index % side, Y: index / side}
		if owner == typedef.UnclaimedFaction {
			cand.Kind = CandidateBlank
			cand.Cost = 1
		} else {
			cand.Kind = CandidateEnemy
			cand.Cost = req.OverwriteCost
			if store.CoreActiveAt(index, req.Now) {
				cand.Cost++
			}
		}
		out = append(out, cand)
	}

	for index := 0; index < store.Len(); index++ {
		if store.FactionAt(index) != req.Faction {
			continue
		}
		x, y := index%side, index/side
		if x > 0 {
			consider(index - 1)
		}
		if x < side-1 {
			consider(index + 1)
		}
		if y > 0 {
			consider(index - side)
		}
		if y < side-1 {
			consider(index + side)
		}
	}
	return out
}

// SelectWithinBudget greedily picks lowest-cost candidates until the
// budget runs out, breaking ties among equal-cost candidates at random.
// The input slice is not modified.
func SelectWithinBudget(candidates []Candidate, budget int, rng *rand.Rand) []Candidate {
	pool := make([]Candidate, len(candidates))
	copy(pool, candidates)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Cost < pool[j].Cost })

	var picked []Candidate
	for _, cand := range pool {
		if cand.Cost > budget {
			break
		}
		budget -= cand.Cost
		picked = append(picked, cand)
	}
	return picked
}
