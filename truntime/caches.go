package truntime

import (
	"sync"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/alg"
)

// edgeKey identifies a border result by faction and store version. A
// version bump therefore makes every previous entry unreachable.
type edgeKey struct {
	faction uint16
	version uint64
}

// edgeCache holds computed border sets with strict oldest-first eviction
// once the capacity is reached, regardless of access recency.
type edgeCache struct {
	cap int

	mu      sync.Mutex
	entries map[edgeKey][]alg.Edge
	order   []edgeKey // insertion order, head evicted first
}

func newEdgeCache(capacity int) *edgeCache {
	if capacity < 1 {
		capacity = 1
	}
	return &edgeCache{
		cap:     capacity,
		entries: make(map[edgeKey][]alg.Edge, capacity),
	}
}

func (c *edgeCache) get(key edgeKey) ([]alg.Edge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	edges, ok := c.entries[key]
	return edges, ok
}

func (c *edgeCache) put(key edgeKey, edges []alg.Edge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = edges
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = edges
	c.order = append(c.order, key)
}

func (c *edgeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
