package truntime

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

// FlushFunc receives one merged batch per flush interval: cell index
// mapped to its fresh tile view, or nil as the deletion marker.
type FlushFunc func(batch map[int]*typedef.TileView)

// pendingChange is the latest change noted for one cell within the
// current interval. Later changes supersede earlier ones wholesale.
type pendingChange struct {
	legacy  *wire.LegacyCellUpdate // non-nil: a legacy mutation still to apply at flush
	deleted bool
	applied bool // binary path: the store was already mutated on receipt
}

// Coalescer absorbs bursts of per-cell change notifications and flushes
// one merged batch per fixed interval, bounding the staleness between
// network receipt and derivable effect to a single interval.
type Coalescer struct {
	store    *tilestore.Store
	interval time.Duration
	onFlush  FlushFunc
	log      *logrus.Entry

	mu      sync.Mutex
	pending map[int]pendingChange

	ticker *time.Ticker
	done   chan struct{}
}

// NewCoalescer builds a stopped coalescer; onFlush may be nil when no
// listener cares (flushes still apply pending legacy mutations).
func NewCoalescer(store *tilestore.Store, interval time.Duration, onFlush FlushFunc) *Coalescer {
	return &Coalescer{
		store:    store,
		interval: interval,
		onFlush:  onFlush,
		log:      logrus.WithField("component", "coalescer"),
		pending:  make(map[int]pendingChange),
	}
}

// Start begins the periodic flush ticker. Safe to call once.
func (c *Coalescer) Start() {
	if c.ticker != nil {
		return
	}
	c.ticker = time.NewTicker(c.interval)
	c.done = make(chan struct{})
	ticker := c.ticker // Stop nils c.ticker; the loop must keep its own handle
	go func() {
		for {
			select {
			case <-ticker.C:
				c.Flush()
			case <-c.done:
				return
			}
		}
	}()
}

// Stop halts the ticker. Pending changes stay queued; a manual Flush
// still drains them.
func (c *Coalescer) Stop() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.done)
	c.ticker = nil
}

// NoteApplied records a change the binary decode path already wrote into
// the store, so the next flush republishes that cell.
func (c *Coalescer) NoteApplied(index int, deleted bool) {
	c.mu.Lock()
	c.pending[index] = pendingChange{deleted: deleted, applied: true}
	c.mu.Unlock()
}

// EnqueueLegacy absorbs a legacy keyed-update message. A nil update is a
// delete, which fully clears the cell at flush rather than field-merging.
func (c *Coalescer) EnqueueLegacy(updates map[int]*wire.LegacyCellUpdate) {
	c.mu.Lock()
	for index, upd := range updates {
		if upd == nil {
			c.pending[index] = pendingChange{deleted: true}
		} else {
			c.pending[index] = pendingChange{legacy: upd}
		}
	}
	c.mu.Unlock()
}

// Flush merges and publishes everything noted since the previous flush.
// An empty flush is a no-op and never notifies; flushing twice with no
// intervening updates therefore produces no second notification.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	drained := c.pending
	c.pending = make(map[int]pendingChange)
	c.mu.Unlock()

	now := time.Now()
	batch := make(map[int]*typedef.TileView, len(drained))
	for index, change := range drained {
		switch {
		case change.deleted:
			if !change.applied {
				if err := c.store.ApplyLegacy(index, nil, now); err != nil {
					c.log.WithError(err).WithField("cell", index).Warn("dropping coalesced delete")
					continue
				}
			}
			batch[index] = nil
			continue
		case change.legacy != nil:
			if err := c.store.ApplyLegacy(index, change.legacy, now); err != nil {
				c.log.WithError(err).WithField("cell", index).Warn("dropping coalesced update")
				continue
			}
		}
		view, err := c.store.Read(index)
		if err != nil {
			c.log.WithError(err).WithField("cell", index).Warn("dropping unreadable cell from flush")
			continue
		}
		batch[index] = &view
	}

	if len(batch) > 0 && c.onFlush != nil {
		c.onFlush(batch)
	}
}
