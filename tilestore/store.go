// Package tilestore owns the canonical packed territory grid: one
// contiguous byte region of 24-byte cell records in row-major order,
// plus the parallel zone-of-control and statistics regions.
//
// The regions are shared read/write across every pool context with no
// locking discipline. Safety rests on full snapshot installs happening
// only during initialization/resync windows, delta writes staying within
// whole fixed-width fields, and readers tolerating stale values.
// Dictionaries sit behind an atomic pointer so a swap is never observed
// torn.
package tilestore

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

type dictView struct {
	dicts         typedef.Dictionaries
	factionByName map[string]uint16
	playerByName  map[string]uint32
}

func newDictView(d typedef.Dictionaries) *dictView {
	v := &dictView{
		dicts:         d,
		factionByName: make(map[string]uint16, len(d.Factions)),
		playerByName:  make(map[string]uint32, len(d.Players)),
	}
	for i, name := range d.Factions {
		v.factionByName[name] = uint16(i)
	}
	for i, name := range d.Players {
		v.playerByName[name] = uint32(i)
	}
	return v
}

// Store is the canonical grid state for one session.
type Store struct {
	side  int
	cells []byte    // side*side 24-byte records, wire layout
	zoc   []uint16  // 0 unclaimed, faction index+1, ZOCConflict
	stats []uint32  // per-cell paint-activity counters

	dict    atomic.Pointer[dictView]
	version atomic.Uint64 // Float64bits of the epoch-ms snapshot version
}

// New allocates and sentinel-fills the grid regions for the given side
// length. A session calls this exactly once.
func New(side int) (*Store, error) {
	if side <= 0 || side > 1<<14 {
		return nil, fmt.Errorf("invalid grid side length %d", side)
	}
	n := side * side
	s := &Store{
		side:  side,
		cells: make([]byte, n*wire.RecordSize),
		zoc:   make([]uint16, n),
		stats: make([]uint32, n),
	}

	var cleared [wire.RecordSize]byte
	wire.MarshalRecord(cleared[:], wire.ClearedRecord())
	for off := 0; off < len(s.cells); off += wire.RecordSize {
		copy(s.cells[off:], cleared[:])
	}
	s.dict.Store(newDictView(typedef.Dictionaries{}))
	return s, nil
}

// Side returns the grid side length.
func (s *Store) Side() int { return s.side }

// Len returns the total cell count.
func (s *Store) Len() int { return s.side * s.side }

// Index converts grid coordinates to the row-major cell index.
func (s *Store) Index(x, y int) int { return y*s.side + x }

// Coords converts a cell index back to grid coordinates.
func (s *Store) Coords(index int) (x, y int) { return index % s.side, index / s.side }

// Version returns the current snapshot version (epoch-ms).
func (s *Store) Version() float64 {
	return math.Float64frombits(s.version.Load())
}

// advanceVersion moves the version forward, never backward.
func (s *Store) advanceVersion(v float64) {
	for {
		old := s.version.Load()
		if math.Float64frombits(old) >= v {
			return
		}
		if s.version.CompareAndSwap(old, math.Float64bits(v)) {
			return
		}
	}
}

// Dictionaries returns the identifier lists currently in force.
func (s *Store) Dictionaries() typedef.Dictionaries {
	return s.dict.Load().dicts
}

// FactionIndexOf resolves a faction identifier against the current
// dictionary.
func (s *Store) FactionIndexOf(name string) (uint16, bool) {
	idx, ok := s.dict.Load().factionByName[name]
	return idx, ok
}

// FactionName resolves a faction index, excluding the sentinel.
func (s *Store) FactionName(index uint16) (string, bool) {
	d := s.dict.Load().dicts
	if index == typedef.UnclaimedFaction || int(index) >= len(d.Factions) {
		return "", false
	}
	return d.Factions[index], true
}

// ApplySnapshot installs a parsed bulk snapshot: dictionaries first, then
// the tile payload verbatim in a single contiguous copy. The snapshot
// must cover the whole grid.
func (s *Store) ApplySnapshot(snap *wire.Snapshot) error {
	if snap.TileCount != s.Len() {
		return fmt.Errorf("%w: snapshot carries %d tiles for a %d-cell grid", typedef.ErrFormat, snap.TileCount, s.Len())
	}
	s.dict.Store(newDictView(snap.Dictionaries))
	copy(s.cells, snap.Payload)
	for i := range s.stats {
		s.stats[i] = 0
	}
	s.advanceVersion(snap.Version)
	return nil
}

// validate checks a delta record against the dictionaries in force.
func (s *Store) validate(rec wire.Record, d *dictView) error {
	if rec.FactionIndex != typedef.UnclaimedFaction && int(rec.FactionIndex) >= len(d.dicts.Factions) {
		return fmt.Errorf("%w: faction index %d (dictionary holds %d)", typedef.ErrDictionary, rec.FactionIndex, len(d.dicts.Factions))
	}
	if rec.PainterIndex != typedef.NoPainter && rec.PainterIndex >= uint32(len(d.dicts.Players)) {
		return fmt.Errorf("%w: painter index %d (dictionary holds %d)", typedef.ErrDictionary, rec.PainterIndex, len(d.dicts.Players))
	}
	return nil
}

// ApplyDelta overwrites one record in place, or clears it to sentinels
// when the record signals deletion.
func (s *Store) ApplyDelta(index int, rec wire.Record) error {
	if index < 0 || index >= s.Len() {
		return fmt.Errorf("%w: cell index %d outside %d-cell grid", typedef.ErrFormat, index, s.Len())
	}
	if rec.Cleared() {
		s.ClearCell(index)
		return nil
	}
	if err := s.validate(rec, s.dict.Load()); err != nil {
		return err
	}
	wire.MarshalRecord(s.cells[index*wire.RecordSize:], rec)
	s.stats[index]++
	return nil
}

// ApplyDeltaBatch validates every record against the grid bounds and the
// dictionaries in force, then applies them in receipt order. A batch
// that fails validation is rejected whole. The store version advances to
// the supplied receipt time. Returns the touched cell indices in order.
func (s *Store) ApplyDeltaBatch(recs []wire.DeltaRecord, receivedAt time.Time) ([]int, error) {
	d := s.dict.Load()
	for i, rec := range recs {
		if int(rec.X) >= s.side || int(rec.Y) >= s.side {
			return nil, fmt.Errorf("%w: delta %d targets (%d,%d) outside side %d", typedef.ErrFormat, i, rec.X, rec.Y, s.side)
		}
		if rec.Record.Cleared() {
			continue
		}
		if err := s.validate(rec.Record, d); err != nil {
			return nil, err
		}
	}

	touched := make([]int, len(recs))
	for i, rec := range recs {
		index := s.Index(int(rec.X), int(rec.Y))
		if rec.Record.Cleared() {
			s.ClearCell(index)
		} else {
			wire.MarshalRecord(s.cells[index*wire.RecordSize:], rec.Record)
			s.stats[index]++
		}
		touched[i] = index
	}
	s.advanceVersion(float64(receivedAt.UnixMilli()))
	return touched, nil
}

// ClearCell resets one record to the sentinel-filled unclaimed state.
func (s *Store) ClearCell(index int) {
	wire.MarshalRecord(s.cells[index*wire.RecordSize:], wire.ClearedRecord())
	s.stats[index]++
}

// Read reconstructs the logical view of one cell by dereferencing the
// current dictionaries.
func (s *Store) Read(index int) (typedef.TileView, error) {
	if index < 0 || index >= s.Len() {
		return typedef.TileView{}, fmt.Errorf("%w: cell index %d outside %d-cell grid", typedef.ErrFormat, index, s.Len())
	}
	rec := wire.UnmarshalRecord(s.cells[index*wire.RecordSize:])
	if rec.Cleared() {
		return typedef.TileView{}, nil
	}

	d := s.dict.Load().dicts
	if int(rec.FactionIndex) >= len(d.Factions) {
		return typedef.TileView{}, fmt.Errorf("%w: stored faction index %d (dictionary holds %d)", typedef.ErrDictionary, rec.FactionIndex, len(d.Factions))
	}
	view := typedef.TileView{
		Claimed:    true,
		Faction:    d.Factions[rec.FactionIndex],
		Color:      rec.Color,
		Overpaints: rec.Overpaints,
		Core:       rec.ResolveCore(),
		PaintedAt:  time.Unix(int64(rec.PaintedAt), 0),
	}
	if rec.PainterIndex != typedef.NoPainter {
		if rec.PainterIndex >= uint32(len(d.Players)) {
			return typedef.TileView{}, fmt.Errorf("%w: stored painter index %d (dictionary holds %d)", typedef.ErrDictionary, rec.PainterIndex, len(d.Players))
		}
		view.Painter = d.Players[rec.PainterIndex]
	}
	return view, nil
}

// ApplyLegacy merges a legacy partial update into one cell, resolving
// identifier strings against the current dictionaries. A nil update
// clears the cell.
func (s *Store) ApplyLegacy(index int, upd *wire.LegacyCellUpdate, receivedAt time.Time) error {
	if index < 0 || index >= s.Len() {
		return fmt.Errorf("%w: cell index %d outside %d-cell grid", typedef.ErrFormat, index, s.Len())
	}
	if upd == nil {
		s.ClearCell(index)
		s.advanceVersion(float64(receivedAt.UnixMilli()))
		return nil
	}

	d := s.dict.Load()
	rec := wire.UnmarshalRecord(s.cells[index*wire.RecordSize:])
	if upd.Faction != nil {
		idx, ok := d.factionByName[*upd.Faction]
		if !ok {
			return fmt.Errorf("%w: unknown faction %q", typedef.ErrDictionary, *upd.Faction)
		}
		rec.FactionIndex = idx
	}
	if upd.Painter != nil {
		idx, ok := d.playerByName[*upd.Painter]
		if !ok {
			return fmt.Errorf("%w: unknown player %q", typedef.ErrDictionary, *upd.Painter)
		}
		rec.PainterIndex = idx
	}
	if upd.Color != nil {
		rec.Color = *upd.Color
	}
	if upd.Overpaints != nil {
		rec.Overpaints = *upd.Overpaints
	}
	if upd.Core != nil {
		if *upd.Core {
			rec.Flags |= wire.FlagCore
		} else {
			rec.Flags &^= wire.FlagCore
		}
	}
	if upd.Coreifying != nil {
		if *upd.Coreifying {
			rec.Flags |= wire.FlagCoreifying
		} else {
			rec.Flags &^= wire.FlagCoreifying
		}
	}
	if upd.Expiry != nil {
		rec.Expiry = uint64(*upd.Expiry)
	}
	if upd.PaintedAt != nil {
		rec.PaintedAt = uint32(*upd.PaintedAt)
	}

	wire.MarshalRecord(s.cells[index*wire.RecordSize:], rec)
	s.stats[index]++
	s.advanceVersion(float64(receivedAt.UnixMilli()))
	return nil
}

// FactionAt returns the raw faction index of one cell.
func (s *Store) FactionAt(index int) uint16 {
	return wire.UnmarshalRecord(s.cells[index*wire.RecordSize:]).FactionIndex
}

// RecordAt returns the raw record of one cell.
func (s *Store) RecordAt(index int) wire.Record {
	return wire.UnmarshalRecord(s.cells[index*wire.RecordSize:])
}

// CoreFlagAt reports whether the cell carries the core flag bit.
func (s *Store) CoreFlagAt(index int) bool {
	return s.cells[index*wire.RecordSize+11]&wire.FlagCore != 0
}

// CoreActiveAt reports whether the cell is an unexpired core at now.
func (s *Store) CoreActiveAt(index int, now time.Time) bool {
	rec := wire.UnmarshalRecord(s.cells[index*wire.RecordSize:])
	return rec.ResolveCore().ActiveAt(now)
}

// ZOC exposes the zone-of-control region. Rebuilt wholesale by the ZOC
// propagation pass; readers tolerate a rebuild in progress.
func (s *Store) ZOC() []uint16 { return s.zoc }

// StatAt returns the paint-activity counter of one cell.
func (s *Store) StatAt(index int) uint32 { return s.stats[index] }
