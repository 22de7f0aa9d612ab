package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// Bulk snapshot framing:
//
//	magic(4) | formatVersion(1) | versionTimestamp(8, float64) |
//	factionCount(2) | factionCount x (len(2)+utf8) |
//	playerCount(4)  | playerCount  x (len(2)+utf8) |
//	tileCount(4)    | tileCount x 24-byte records
var Magic = [4]byte{'T', 'M', 'A', 'P'}

const FormatVersion = 1

// Snapshot is a parsed bulk snapshot. Payload aliases the wire buffer;
// the tile store copies it verbatim in one pass.
type Snapshot struct {
	Version      float64 // epoch-ms timestamp tagging the whole grid
	Dictionaries typedef.Dictionaries
	TileCount    int
	Payload      []byte // TileCount * RecordSize bytes, wire layout
}

// DeltaRecord is one entry of a streaming delta batch with the
// dual-purpose expiry already resolved.
type DeltaRecord struct {
	X, Y   uint16
	Record Record
	Core   typedef.CoreState
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d of %d", typedef.ErrTruncated, n, r.off, len(r.buf))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	b, err := r.need(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseSnapshot validates and parses a bulk snapshot message. The whole
// message is rejected on any framing violation; a successfully returned
// Snapshot is internally consistent with its own dictionaries.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	r := &reader{buf: data}

	magic, err := r.need(4)
	if err != nil {
		return nil, err
	}
	if [4]byte(magic) != Magic {
		return nil, fmt.Errorf("%w: magic %q", typedef.ErrFormat, magic)
	}
	ver, err := r.need(1)
	if err != nil {
		return nil, err
	}
	if ver[0] != FormatVersion {
		return nil, fmt.Errorf("%w: snapshot format version %d", typedef.ErrFormat, ver[0])
	}

	tsBits, err := r.need(8)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Version: math.Float64frombits(binary.LittleEndian.Uint64(tsBits))}

	factionCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	snap.Dictionaries.Factions = make([]string, factionCount)
	for i := range snap.Dictionaries.Factions {
		if snap.Dictionaries.Factions[i], err = r.str(); err != nil {
			return nil, err
		}
	}

	playerCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	snap.Dictionaries.Players = make([]string, playerCount)
	for i := range snap.Dictionaries.Players {
		if snap.Dictionaries.Players[i], err = r.str(); err != nil {
			return nil, err
		}
	}

	tileCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	snap.TileCount = int(tileCount)
	if snap.Payload, err = r.need(snap.TileCount * RecordSize); err != nil {
		return nil, err
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d tiles", typedef.ErrTruncated, len(data)-r.off, snap.TileCount)
	}
	return snap, nil
}

// ParseDeltaBatch parses a streaming delta batch. The consumed length
// must equal count*DeltaRecordSize exactly, otherwise the whole batch is
// rejected.
func ParseDeltaBatch(data []byte) ([]DeltaRecord, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: delta batch shorter than its count prefix", typedef.ErrTruncated)
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	body := data[2:]
	if len(body) != count*DeltaRecordSize {
		return nil, fmt.Errorf("%w: %d delta records declared, %d bytes present", typedef.ErrTruncated, count, len(body))
	}

	recs := make([]DeltaRecord, count)
	for i := 0; i < count; i++ {
		chunk := body[i*DeltaRecordSize : (i+1)*DeltaRecordSize]
		rec := UnmarshalRecord(chunk[4:])
		recs[i] = DeltaRecord{
			X:      binary.LittleEndian.Uint16(chunk[0:2]),
			Y:      binary.LittleEndian.Uint16(chunk[2:4]),
			Record: rec,
			Core:   rec.ResolveCore(),
		}
	}
	return recs, nil
}

// EncodeSnapshot produces the wire form of snap. Used by the storage
// layer and by fixture generation; the inverse of ParseSnapshot.
func EncodeSnapshot(snap *Snapshot) []byte {
	size := 4 + 1 + 8 + 2 + 4 + 4 + len(snap.Payload)
	for _, f := range snap.Dictionaries.Factions {
		size += 2 + len(f)
	}
	for _, p := range snap.Dictionaries.Players {
		size += 2 + len(p)
	}

	out := make([]byte, 0, size)
	out = append(out, Magic[:]...)
	out = append(out, FormatVersion)
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(snap.Version))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(snap.Dictionaries.Factions)))
	for _, f := range snap.Dictionaries.Factions {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(f)))
		out = append(out, f...)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(snap.Dictionaries.Players)))
	for _, p := range snap.Dictionaries.Players {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(snap.TileCount))
	out = append(out, snap.Payload...)
	return out
}

// EncodeDeltaBatch produces the wire form of a delta batch.
func EncodeDeltaBatch(recs []DeltaRecord) []byte {
	out := make([]byte, 2+len(recs)*DeltaRecordSize)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(recs)))
	for i, rec := range recs {
		chunk := out[2+i*DeltaRecordSize:]
		binary.LittleEndian.PutUint16(chunk[0:2], rec.X)
		binary.LittleEndian.PutUint16(chunk[2:4], rec.Y)
		MarshalRecord(chunk[4:], rec.Record)
	}
	return out
}
