package wire

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// LegacyCellUpdate is the older keyed-object per-cell shape still sent by
// some peers: cell id mapped to partial fields, or null for deletion.
// Derived/transient fields the old clients attach (precomputed centers,
// neighbor lists, screen-space hints) are dropped during unmarshal so
// they never bloat the store.
type LegacyCellUpdate struct {
	Faction    *string `json:"faction"`
	Painter    *string `json:"painter"`
	Color      *uint32 `json:"color"`
	Overpaints *uint8  `json:"overpaints"`
	Core       *bool   `json:"isCore"`
	Coreifying *bool   `json:"isCoreifying"`
	Expiry     *int64  `json:"expiry"`    // epoch-ms, meaning selected by the flags
	PaintedAt  *int64  `json:"paintedAt"` // epoch-s
}

// ParseLegacyUpdates decodes a legacy keyed-update message into cell
// index -> update (nil update means delete). Keys are decimal cell
// indices; a non-numeric key rejects the whole message.
func ParseLegacyUpdates(data []byte) (map[int]*LegacyCellUpdate, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: legacy update body: %v", typedef.ErrFormat, err)
	}

	out := make(map[int]*LegacyCellUpdate, len(raw))
	for key, body := range raw {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			return nil, fmt.Errorf("%w: legacy cell key %q", typedef.ErrFormat, key)
		}
		if string(body) == "null" {
			out[index] = nil
			continue
		}
		upd := &LegacyCellUpdate{}
		if err := json.Unmarshal(body, upd); err != nil {
			return nil, fmt.Errorf("%w: legacy cell %d: %v", typedef.ErrFormat, index, err)
		}
		out[index] = upd
	}
	return out, nil
}
