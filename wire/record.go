package wire

import (
	"encoding/binary"
	"time"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// Packed cell record layout, shared verbatim between the wire protocol
// and the in-memory payload region. All multi-byte fields little-endian.
//
//	off  0  factionIndex  u16   0xFFFF = unclaimed
//	off  2  color         u32   packed RGB override
//	off  6  painterIndex  u32   0xFFFFFFFF = none
//	off 10  overpaintCount u8
//	off 11  flags          u8   bit0 core, bit1 coreifying
//	off 12  expiry        u64   epoch-ms, meaning selected by flags
//	off 20  paintedAt     u32   epoch-s of last paint
const (
	RecordSize      = 24
	DeltaRecordSize = 28 // x(2) + y(2) + RecordSize
)

// Record flag bits.
const (
	FlagCore       = 1 << 0
	FlagCoreifying = 1 << 1
)

// Record is the raw field view of one packed cell record. It carries
// wire-level sentinels and the undecoded dual-purpose expiry; use
// ResolveCore before handing state downstream.
type Record struct {
	FactionIndex uint16
	Color        uint32
	PainterIndex uint32
	Overpaints   uint8
	Flags        uint8
	Expiry       uint64
	PaintedAt    uint32
}

// ClearedRecord is the sentinel-filled state of an unclaimed cell.
func ClearedRecord() Record {
	return Record{
		FactionIndex: typedef.UnclaimedFaction,
		PainterIndex: typedef.NoPainter,
	}
}

// MarshalRecord writes r into dst, which must hold at least RecordSize bytes.
func MarshalRecord(dst []byte, r Record) {
	binary.LittleEndian.PutUint16(dst[0:2], r.FactionIndex)
	binary.LittleEndian.PutUint32(dst[2:6], r.Color)
	binary.LittleEndian.PutUint32(dst[6:10], r.PainterIndex)
	dst[10] = r.Overpaints
	dst[11] = r.Flags
	binary.LittleEndian.PutUint64(dst[12:20], r.Expiry)
	binary.LittleEndian.PutUint32(dst[20:24], r.PaintedAt)
}

// UnmarshalRecord reads one packed record from src, which must hold at
// least RecordSize bytes.
func UnmarshalRecord(src []byte) Record {
	return Record{
		FactionIndex: binary.LittleEndian.Uint16(src[0:2]),
		Color:        binary.LittleEndian.Uint32(src[2:6]),
		PainterIndex: binary.LittleEndian.Uint32(src[6:10]),
		Overpaints:   src[10],
		Flags:        src[11],
		Expiry:       binary.LittleEndian.Uint64(src[12:20]),
		PaintedAt:    binary.LittleEndian.Uint32(src[20:24]),
	}
}

// ResolveCore decodes the dual-purpose flags+expiry pair into the tagged
// variant. The core flag wins if both bits are somehow set.
func (r Record) ResolveCore() typedef.CoreState {
	switch {
	case r.Flags&FlagCore != 0:
		return typedef.CoreState{Status: typedef.CoreActive, Deadline: time.UnixMilli(int64(r.Expiry))}
	case r.Flags&FlagCoreifying != 0:
		return typedef.CoreState{Status: typedef.CoreForming, Deadline: time.UnixMilli(int64(r.Expiry))}
	default:
		return typedef.CoreState{}
	}
}

// Cleared reports whether the record signals deletion: a delta payload
// carrying the unclaimed sentinel clears the whole cell.
func (r Record) Cleared() bool {
	return r.FactionIndex == typedef.UnclaimedFaction
}
