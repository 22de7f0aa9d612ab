package alg

import (
	"math/rand"
	"testing"
	"time"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

// newTestGrid builds a side x side store with factions A, B, C in force.
func newTestGrid(t *testing.T, side int) *tilestore.Store {
	t.Helper()
	store, err := tilestore.New(side)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	payload := make([]byte, side*side*wire.RecordSize)
	for off := 0; off < len(payload); off += wire.RecordSize {
		wire.MarshalRecord(payload[off:], wire.ClearedRecord())
	}
	snap := &wire.Snapshot{
		Version:      1,
		Dictionaries: typedef.Dictionaries{Factions: []string{"A", "B", "C"}},
		TileCount:    side * side,
		Payload:      payload,
	}
	if err := store.ApplySnapshot(snap); err != nil {
		t.Fatalf("ApplySnapshot returned error: %v", err)
	}
	return store
}

func claim(t *testing.T, store *tilestore.Store, x, y int, faction uint16) {
	t.Helper()
	rec := wire.Record{FactionIndex: faction, PainterIndex: typedef.NoPainter}
	if err := store.ApplyDelta(store.Index(x, y), rec); err != nil {
		t.Fatalf("claim (%d,%d) returned error: %v", x, y, err)
	}
}

func claimCore(t *testing.T, store *tilestore.Store, x, y int, faction uint16, deadline time.Time) {
	t.Helper()
	rec := wire.Record{
		FactionIndex: faction,
		PainterIndex: typedef.NoPainter,
		Flags:        wire.FlagCore,
		Expiry:       uint64(deadline.UnixMilli()),
	}
	if err := store.ApplyDelta(store.Index(x, y), rec); err != nil {
		t.Fatalf("claim core (%d,%d) returned error: %v", x, y, err)
	}
}

func TestAggregateFactions(t *testing.T) {
	store := newTestGrid(t, 4)
	claim(t, store, 0, 0, 0)
	claim(t, store, 1, 0, 0)
	claim(t, store, 0, 1, 0)
	claim(t, store, 3, 3, 1)

	aggs := AggregateFactions(store)
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
	a := aggs[0]
	if a.FactionIndex != 0 || a.Faction != "A" || a.Cells != 3 {
		t.Fatalf("aggregate A = %+v", a)
	}
	// floored mean: x (0+1+0)/3 = 0, y (0+0+1)/3 = 0
	if a.CentroidX != 0 || a.CentroidY != 0 {
		t.Fatalf("A centroid = (%d,%d), want (0,0)", a.CentroidX, a.CentroidY)
	}
	b := aggs[1]
	if b.Faction != "B" || b.Cells != 1 || b.CentroidX != 3 || b.CentroidY != 3 {
		t.Fatalf("aggregate B = %+v", b)
	}
}

func TestAggregateFactionsEmptyGrid(t *testing.T) {
	store := newTestGrid(t, 4)
	if aggs := AggregateFactions(store); len(aggs) != 0 {
		t.Fatalf("empty grid produced %d aggregates", len(aggs))
	}
}

func TestCalculateClusters(t *testing.T) {
	store := newTestGrid(t, 4)
	// A: one component of two vertically adjacent cells
	claim(t, store, 0, 0, 0)
	claim(t, store, 0, 1, 0)
	// A again, disconnected (diagonal does not connect)
	claim(t, store, 2, 2, 0)
	// B: single cell
	claim(t, store, 3, 3, 1)

	clusters := CalculateClusters(store)
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d: %+v", len(clusters), clusters)
	}

	first := clusters[0]
	if first.Faction != "A" || first.Cells != 2 {
		t.Fatalf("first cluster = %+v", first)
	}
	if first.CentroidX != 0 || first.CentroidY != 0.5 {
		t.Fatalf("first centroid = (%v,%v), want (0,0.5)", first.CentroidX, first.CentroidY)
	}
	if clusters[1].Faction != "A" || clusters[1].Cells != 1 {
		t.Fatalf("second cluster = %+v", clusters[1])
	}
	if clusters[2].Faction != "B" || clusters[2].Cells != 1 {
		t.Fatalf("third cluster = %+v", clusters[2])
	}
}

func TestClustersDiagonalDoesNotConnect(t *testing.T) {
	store := newTestGrid(t, 3)
	claim(t, store, 0, 0, 0)
	claim(t, store, 1, 1, 0)

	clusters := CalculateClusters(store)
	if len(clusters) != 2 {
		t.Fatalf("diagonal cells merged into %d cluster(s)", len(clusters))
	}
}

func TestClustersCarryCoreFlag(t *testing.T) {
	store := newTestGrid(t, 3)
	claim(t, store, 0, 0, 0)
	claimCore(t, store, 1, 0, 0, time.Now().Add(time.Hour))
	claim(t, store, 2, 2, 1)

	clusters := CalculateClusters(store)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if !clusters[0].HasCore {
		t.Fatalf("cluster containing a core reported HasCore=false: %+v", clusters[0])
	}
	if clusters[1].HasCore {
		t.Fatalf("coreless cluster reported HasCore=true: %+v", clusters[1])
	}
}

func TestCalculateEdgesIsolatedCell(t *testing.T) {
	store := newTestGrid(t, 4)
	claim(t, store, 1, 1, 0)

	edges := CalculateEdges(store, 0)
	if len(edges) != 4 {
		t.Fatalf("isolated cell produced %d edges, want 4", len(edges))
	}
	sides := map[EdgeSide]bool{}
	for _, e := range edges {
		if e.X != 1 || e.Y != 1 {
			t.Fatalf("edge on wrong cell: %+v", e)
		}
		sides[e.Side] = true
	}
	if len(sides) != 4 {
		t.Fatalf("duplicate sides: %+v", edges)
	}
}

func TestCalculateEdgesInteriorSuppressed(t *testing.T) {
	store := newTestGrid(t, 4)
	// 2x1 horizontal domino: shared vertical edge must not appear
	claim(t, store, 1, 1, 0)
	claim(t, store, 2, 1, 0)

	edges := CalculateEdges(store, 0)
	if len(edges) != 6 {
		t.Fatalf("domino produced %d edges, want 6", len(edges))
	}
	for _, e := range edges {
		if e.X == 1 && e.Y == 1 && e.Side == EdgeRight {
			t.Fatalf("interior edge emitted: %+v", e)
		}
		if e.X == 2 && e.Y == 1 && e.Side == EdgeLeft {
			t.Fatalf("interior edge emitted: %+v", e)
		}
	}
}

func TestCalculateEdgesMapRim(t *testing.T) {
	store := newTestGrid(t, 3)
	claim(t, store, 0, 0, 0)

	edges := CalculateEdges(store, 0)
	if len(edges) != 4 {
		t.Fatalf("corner cell produced %d edges, want 4", len(edges))
	}
}

func TestCalculateEdgesEnemyBoundary(t *testing.T) {
	store := newTestGrid(t, 3)
	claim(t, store, 0, 0, 0)
	claim(t, store, 1, 0, 1)

	edges := CalculateEdges(store, 0)
	var right bool
	for _, e := range edges {
		if e.Side == EdgeRight {
			right = true
		}
	}
	if !right {
		t.Fatalf("boundary against enemy cell missing: %+v", edges)
	}
}

func TestRecalcZOCStampsSquare(t *testing.T) {
	store := newTestGrid(t, 8)
	cells := []typedef.NamedCell{{X: 3, Y: 3, Faction: 0, Radius: 1}}
	RecalcZOC(store, cells, 5)

	zoc := store.ZOC()
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			if zoc[y*8+x] != 1 {
				t.Fatalf("(%d,%d) = %d, want faction stamp 1", x, y, zoc[y*8+x])
			}
		}
	}
	if zoc[0] != 0 {
		t.Fatalf("cell outside radius stamped: %d", zoc[0])
	}
}

func TestRecalcZOCConflictIsAbsorbing(t *testing.T) {
	store := newTestGrid(t, 8)
	cells := []typedef.NamedCell{
		{X: 2, Y: 2, Faction: 0, Radius: 2},
		{X: 4, Y: 2, Faction: 1, Radius: 2},
		// same slot touched again by faction 0: must stay contested
		{X: 3, Y: 2, Faction: 0, Radius: 0},
	}
	RecalcZOC(store, cells, 1)

	zoc := store.ZOC()
	if zoc[2*8+3] != typedef.ZOCConflict {
		t.Fatalf("overlap slot = %d, want conflict sentinel", zoc[2*8+3])
	}
	if zoc[2*8+0] != 1 {
		t.Fatalf("uncontested slot = %d, want stamp 1", zoc[2*8+0])
	}
}

func TestRecalcZOCDefaultRadiusAndClamping(t *testing.T) {
	store := newTestGrid(t, 4)
	// radius 0 falls back to the default, square clamps at the rim
	RecalcZOC(store, []typedef.NamedCell{{X: 0, Y: 0, Faction: 2}}, 1)

	zoc := store.ZOC()
	if zoc[0] != 3 || zoc[1] != 3 || zoc[4] != 3 || zoc[5] != 3 {
		t.Fatalf("clamped square = %v %v %v %v", zoc[0], zoc[1], zoc[4], zoc[5])
	}
	if zoc[2] != 0 {
		t.Fatalf("slot beyond radius stamped: %d", zoc[2])
	}
}

func TestRecalcZOCSkipsInvalidFactions(t *testing.T) {
	store := newTestGrid(t, 4)
	cells := []typedef.NamedCell{
		{X: 1, Y: 1, Faction: 0, Radius: 1},
		// outside the three-entry dictionary
		{X: 1, Y: 1, Faction: 7, Radius: 1},
		// sentinel: stamp would wrap to 0 and corrupt other slots
		{X: 1, Y: 1, Faction: typedef.UnclaimedFaction, Radius: 1},
	}
	RecalcZOC(store, cells, 1)

	zoc := store.ZOC()
	for y := 0; y <= 2; y++ {
		for x := 0; x <= 2; x++ {
			if zoc[y*4+x] != 1 {
				t.Fatalf("(%d,%d) = %d, want valid stamp 1 untouched by invalid cells", x, y, zoc[y*4+x])
			}
		}
	}
}

func TestRecalcZOCRebuildsFromScratch(t *testing.T) {
	store := newTestGrid(t, 4)
	RecalcZOC(store, []typedef.NamedCell{{X: 0, Y: 0, Faction: 0, Radius: 1}}, 1)
	RecalcZOC(store, []typedef.NamedCell{{X: 3, Y: 3, Faction: 1, Radius: 1}}, 1)

	zoc := store.ZOC()
	if zoc[0] != 0 {
		t.Fatalf("stale stamp survived rebuild: %d", zoc[0])
	}
	if zoc[15] != 2 {
		t.Fatalf("new stamp missing: %d", zoc[15])
	}
}

func TestAutoSelectCandidates(t *testing.T) {
	store := newTestGrid(t, 5)
	now := time.Now()
	// requesting faction A owns (2,2)
	claim(t, store, 2, 2, 0)
	// enemy B on one side, allied C on another
	claim(t, store, 3, 2, 1)
	claim(t, store, 2, 3, 2)
	// enemy core above
	claimCore(t, store, 2, 1, 1, now.Add(time.Hour))

	cands := AutoSelectCandidates(store, AutoSelectRequest{
		Faction:       0,
		Allies:        []uint16{2},
		OverwriteCost: 4,
		Now:           now,
	})

	byIndex := map[int]Candidate{}
	for _, c := range cands {
		byIndex[c.Index] = c
	}
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %+v", len(cands), cands)
	}

	blank, ok := byIndex[store.Index(1, 2)]
	if !ok || blank.Kind != CandidateBlank || blank.Cost != 1 {
		t.Fatalf("blank candidate = %+v", blank)
	}
	enemy, ok := byIndex[store.Index(3, 2)]
	if !ok || enemy.Kind != CandidateEnemy || enemy.Cost != 4 {
		t.Fatalf("enemy candidate = %+v", enemy)
	}
	core, ok := byIndex[store.Index(2, 1)]
	if !ok || core.Kind != CandidateEnemy || core.Cost != 5 {
		t.Fatalf("cored enemy candidate = %+v", core)
	}
	if _, ok := byIndex[store.Index(2, 3)]; ok {
		t.Fatal("allied cell offered as a candidate")
	}
}

func TestAutoSelectExpiredCoreCostsBase(t *testing.T) {
	store := newTestGrid(t, 3)
	now := time.Now()
	claim(t, store, 0, 0, 0)
	claimCore(t, store, 1, 0, 1, now.Add(-time.Hour))

	cands := AutoSelectCandidates(store, AutoSelectRequest{Faction: 0, OverwriteCost: 4, Now: now})
	for _, c := range cands {
		if c.Index == store.Index(1, 0) {
			if c.Cost != 4 {
				t.Fatalf("expired core cost = %d, want 4", c.Cost)
			}
			return
		}
	}
	t.Fatal("cored enemy cell missing from candidates")
}

func TestAutoSelectDeduplicates(t *testing.T) {
	store := newTestGrid(t, 3)
	// two owned cells sharing a blank neighbor at (1,1)
	claim(t, store, 0, 1, 0)
	claim(t, store, 1, 0, 0)

	cands := AutoSelectCandidates(store, AutoSelectRequest{Faction: 0, OverwriteCost: 2, Now: time.Now()})
	count := 0
	for _, c := range cands {
		if c.Index == store.Index(1, 1) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("shared neighbor emitted %d times", count)
	}
}

func TestSelectWithinBudget(t *testing.T) {
	cands := []Candidate{
		{Index: 0, Cost: 1},
		{Index: 1, Cost: 1},
		{Index: 2, Cost: 4},
		{Index: 3, Cost: 4},
	}
	rng := rand.New(rand.NewSource(42))

	picked := SelectWithinBudget(cands, 6, rng)
	total := 0
	for _, c := range picked {
		total += c.Cost
	}
	if total > 6 {
		t.Fatalf("selection spent %d over budget 6", total)
	}
	// both cost-1 candidates always fit before any cost-4 one
	if len(picked) != 3 {
		t.Fatalf("picked %d candidates, want 3: %+v", len(picked), picked)
	}
	if picked[0].Cost != 1 || picked[1].Cost != 1 || picked[2].Cost != 4 {
		t.Fatalf("cost order violated: %+v", picked)
	}
}

func TestSelectWithinBudgetZero(t *testing.T) {
	cands := []Candidate{{Index: 0, Cost: 1}}
	if picked := SelectWithinBudget(cands, 0, rand.New(rand.NewSource(1))); len(picked) != 0 {
		t.Fatalf("zero budget picked %d", len(picked))
	}
}

func TestSelectWithinBudgetDoesNotMutateInput(t *testing.T) {
	cands := []Candidate{{Index: 0, Cost: 3}, {Index: 1, Cost: 1}, {Index: 2, Cost: 2}}
	SelectWithinBudget(cands, 10, rand.New(rand.NewSource(7)))
	if cands[0].Index != 0 || cands[1].Index != 1 || cands[2].Index != 2 {
		t.Fatalf("input slice reordered: %+v", cands)
	}
}
