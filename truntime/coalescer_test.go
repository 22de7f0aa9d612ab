package truntime

import (
	"sync"
	"testing"
	"time"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

func newTestStore(t *testing.T, side int) *tilestore.Store {
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
		Dictionaries: typedef.Dictionaries{Factions: []string{"f1", "f2"}, Players: []string{"alice"}},
		TileCount:    side * side,
		Payload:      payload,
	}
	if err := store.ApplySnapshot(snap); err != nil {
		t.Fatalf("ApplySnapshot returned error: %v", err)
	}
	return store
}

// flushRecorder collects batches the coalescer publishes.
type flushRecorder struct {
	mu      sync.Mutex
	batches []map[int]*typedef.TileView
}

func (r *flushRecorder) record(batch map[int]*typedef.TileView) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *flushRecorder) last() map[int]*typedef.TileView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func strp(s string) *string { return &s }

func TestFlushAppliesLegacyUpdates(t *testing.T) {
	store := newTestStore(t, 4)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{
		3: {Faction: strp("f2"), Painter: strp("alice")},
	})

	// the store stays untouched until the flush
	if view, _ := store.Read(3); view.Claimed {
		t.Fatalf("legacy update applied before flush: %+v", view)
	}

	c.Flush()
	view, err := store.Read(3)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if view.Faction != "f2" || view.Painter != "alice" {
		t.Fatalf("flushed view = %+v", view)
	}
	if rec.count() != 1 {
		t.Fatalf("flush notified %d times, want 1", rec.count())
	}
	batch := rec.last()
	if batch[3] == nil || batch[3].Faction != "f2" {
		t.Fatalf("batch entry = %+v", batch[3])
	}
}

func TestEmptyFlushDoesNotNotify(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	c.Flush()
	c.Flush()
	if rec.count() != 0 {
		t.Fatalf("empty flush notified %d times", rec.count())
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{0: {Faction: strp("f1")}})
	c.Flush()
	c.Flush()
	if rec.count() != 1 {
		t.Fatalf("second flush with no new updates notified again: %d", rec.count())
	}
}

func TestLaterUpdateSupersedesEarlier(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{1: {Faction: strp("f1")}})
	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{1: {Faction: strp("f2")}})
	c.Flush()

	view, _ := store.Read(1)
	if view.Faction != "f2" {
		t.Fatalf("faction = %q, want later update to win", view.Faction)
	}
	batch := rec.last()
	if len(batch) != 1 {
		t.Fatalf("batch carries %d entries, want 1", len(batch))
	}
}

func TestLegacyDeleteClearsAndMarks(t *testing.T) {
	store := newTestStore(t, 2)
	if err := store.ApplyDelta(2, wire.Record{FactionIndex: 0, PainterIndex: typedef.NoPainter}); err != nil {
		t.Fatalf("ApplyDelta returned error: %v", err)
	}
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{2: nil})
	c.Flush()

	if view, _ := store.Read(2); view.Claimed {
		t.Fatalf("cell not cleared: %+v", view)
	}
	batch := rec.last()
	entry, present := batch[2]
	if !present || entry != nil {
		t.Fatalf("delete not published as nil marker: %v present=%v", entry, present)
	}
}

func TestNoteAppliedRepublishesWithoutReapplying(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	recs := []wire.DeltaRecord{{X: 1, Y: 0, Record: wire.Record{FactionIndex: 0, PainterIndex: typedef.NoPainter}}}
	touched, err := store.ApplyDeltaBatch(recs, time.Now())
	if err != nil {
		t.Fatalf("ApplyDeltaBatch returned error: %v", err)
	}
	c.NoteApplied(touched[0], false)
	statBefore := store.StatAt(touched[0])

	c.Flush()

	if got := store.StatAt(touched[0]); got != statBefore {
		t.Fatalf("flush re-applied an already applied change: stat %d -> %d", statBefore, got)
	}
	batch := rec.last()
	if batch[touched[0]] == nil || batch[touched[0]].Faction != "f1" {
		t.Fatalf("batch entry = %+v", batch[touched[0]])
	}
}

func TestNoteAppliedDeletePublishesMarker(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, time.Hour, rec.record)

	// the binary path already cleared the cell
	store.ClearCell(3)
	c.NoteApplied(3, true)
	statBefore := store.StatAt(3)

	c.Flush()

	if got := store.StatAt(3); got != statBefore {
		t.Fatalf("flush cleared the cell again: stat %d -> %d", statBefore, got)
	}
	entry, present := rec.last()[3]
	if !present || entry != nil {
		t.Fatalf("delete not published as nil marker: %v present=%v", entry, present)
	}
}

func TestTickerFlushes(t *testing.T) {
	store := newTestStore(t, 2)
	rec := &flushRecorder{}
	c := NewCoalescer(store, 5*time.Millisecond, rec.record)
	c.Start()
	defer c.Stop()

	c.EnqueueLegacy(map[int]*wire.LegacyCellUpdate{0: {Faction: strp("f1")}})

	deadline := time.After(2 * time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("ticker never flushed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
