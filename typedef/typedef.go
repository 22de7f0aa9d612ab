package typedef

import (
	"time"
)

// Wire-boundary sentinels. These only appear in the packed record layout
// and in the ZOC region; decoded views use Go-native representations
// (empty string, CoreNone, Claimed=false) so a sentinel can never be
// mistaken for a real dictionary index.
const (
	UnclaimedFaction uint16 = 0xFFFF     // factionIndex: no owner
	NoPainter        uint32 = 0xFFFFFFFF // painterIndex: no painter
	ZOCConflict      uint16 = 0xFFFF     // ZOC slot: contested by 2+ factions
)

// CoreStatus discriminates the dual-purpose expiry field once decoded.
type CoreStatus uint8

const (
	CoreNone     CoreStatus = iota // cell carries no core state
	CoreActive                     // core flag set, Deadline is the core expiry
	CoreForming                    // coreifying flag set, Deadline is the coreification deadline
)

func (c CoreStatus) String() string {
	switch c {
	case CoreActive:
		return "core"
	case CoreForming:
		return "coreifying"
	default:
		return "none"
	}
}

// CoreState is the decoded form of the flags+expiry pair. The raw
// dual-purpose expiry field never propagates past the wire decoder.
type CoreState struct {
	Status   CoreStatus
	Deadline time.Time // zero when Status == CoreNone
}

// ActiveAt reports whether the cell counts as a defended core at the
// given instant (core flag set and the expiry has not passed).
func (c CoreState) ActiveAt(now time.Time) bool {
	return c.Status == CoreActive && c.Deadline.After(now)
}

// Dictionaries are the ordered identifier lists a snapshot establishes.
// Record index fields are only meaningful relative to the dictionaries
// in force when they were written.
type Dictionaries struct {
	Factions []string `json:"factions"`
	Players  []string `json:"players"`
}

// TileView is the logical read model of one cell, with index fields
// resolved against the current dictionaries.
type TileView struct {
	Claimed    bool      `json:"claimed"`
	Faction    string    `json:"faction,omitempty"`
	Painter    string    `json:"painter,omitempty"`
	Color      uint32    `json:"color"`
	Overpaints uint8     `json:"overpaints"`
	Core       CoreState `json:"-"`
	PaintedAt  time.Time `json:"paintedAt"`
}

// NamedCell is a designated owned cell that projects a zone-of-control
// influence square around itself.
type NamedCell struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Faction uint16 `json:"faction"` // owning faction index
	Radius  int    `json:"radius"`  // Chebyshev radius; <=0 means the configured default
}

// TaskType discriminates worker pool task requests.
type TaskType string

const (
	TaskAggregateFactions TaskType = "AGGREGATE_FACTIONS"
	TaskCalculateClusters TaskType = "CALCULATE_CLUSTERS"
	TaskCalculateEdges    TaskType = "CALCULATE_EDGES"
	TaskZOCRecalc         TaskType = "ZOC_RECALC"
	TaskAutoSelect        TaskType = "AUTO_SELECT_CANDIDATES"
)

// TaskRequest is routed to a single pool context.
type TaskRequest struct {
	Type      TaskType
	Payload   any
	RequestID uint64
}

// TaskResponse resolves or rejects the pending handle registered for
// RequestID. Exactly one of Result/Err is meaningful.
type TaskResponse struct {
	RequestID uint64
	Success   bool
	Result    any
	Err       error
}
