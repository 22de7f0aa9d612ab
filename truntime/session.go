package truntime

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/alg"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

// Session is the top-level handle of one territory map: the canonical
// grid store, the worker pool computing derived views over it, the
// update coalescer, and the version-keyed result caches.
type Session struct {
	store      *tilestore.Store
	dispatcher *Dispatcher
	coalescer  *Coalescer
	cfg        Config
	log        *logrus.Entry

	clusterCache   *ristretto.Cache[uint64, []alg.Cluster]
	aggregateCache *ristretto.Cache[uint64, []alg.FactionAggregate]
	edges          *edgeCache
}

// NewSession assembles and starts a session. The caller owns the
// returned handle and must Close it.
func NewSession(cfg Config, onFlush FlushFunc) (*Session, error) {
	store, err := tilestore.New(cfg.SideLength)
	if err != nil {
		return nil, err
	}

	clusterCache, err := ristretto.NewCache(&ristretto.Config[uint64, []alg.Cluster]{
		NumCounters: 10_000,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster cache: %w", err)
	}
	aggregateCache, err := ristretto.NewCache(&ristretto.Config[uint64, []alg.FactionAggregate]{
		NumCounters: 10_000,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		clusterCache.Close()
		return nil, fmt.Errorf("aggregate cache: %w", err)
	}

	s := &Session{
		store:          store,
		dispatcher:     NewDispatcher(store, cfg),
		cfg:            cfg,
		log:            logrus.WithField("component", "session"),
		clusterCache:   clusterCache,
		aggregateCache: aggregateCache,
		edges:          newEdgeCache(cfg.BorderCacheCap),
	}
	s.coalescer = NewCoalescer(store, cfg.FlushInterval, onFlush)

	s.dispatcher.Start()
	s.coalescer.Start()
	return s, nil
}

// Store exposes the canonical grid.
func (s *Session) Store() *tilestore.Store { return s.store }

// Close stops the pool and the coalescer and releases the caches.
func (s *Session) Close() {
	s.coalescer.Stop()
	s.dispatcher.Stop()
	s.clusterCache.Close()
	s.aggregateCache.Close()
}

// Flush forces an immediate coalescer flush outside the ticker cadence.
func (s *Session) Flush() { s.coalescer.Flush() }

// versionKey folds the current snapshot version into a cache key.
func (s *Session) versionKey() uint64 {
	return math.Float64bits(s.store.Version())
}

// LoadSnapshot decodes and installs a raw bulk snapshot message.
func (s *Session) LoadSnapshot(raw []byte) error {
	snap, err := wire.ParseSnapshot(raw)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := s.store.ApplySnapshot(snap); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"version":  snap.Version,
		"tiles":    snap.TileCount,
		"factions": len(snap.Dictionaries.Factions),
		"players":  len(snap.Dictionaries.Players),
	}).Info("snapshot installed")
	return nil
}

// ApplyDeltaBatch decodes a raw binary delta batch, applies it to the
// store in receipt order, and notes every touched cell for the next
// coalesced flush. A batch failing validation is rejected whole.
func (s *Session) ApplyDeltaBatch(raw []byte) error {
	recs, err := wire.ParseDeltaBatch(raw)
	if err != nil {
		return fmt.Errorf("delta batch: %w", err)
	}
	touched, err := s.store.ApplyDeltaBatch(recs, time.Now())
	if err != nil {
		return fmt.Errorf("delta batch: %w", err)
	}
	for i, index := range touched {
		s.coalescer.NoteApplied(index, recs[i].Record.Cleared())
	}
	return nil
}

// ApplyLegacyUpdates decodes a raw legacy keyed-update message and
// queues it for the next coalesced flush. Legacy mutations hit the store
// at flush time, not receipt time.
func (s *Session) ApplyLegacyUpdates(raw []byte) error {
	updates, err := wire.ParseLegacyUpdates(raw)
	if err != nil {
		return fmt.Errorf("legacy updates: %w", err)
	}
	s.coalescer.EnqueueLegacy(updates)
	return nil
}

// Aggregates returns per-faction totals and centroids, served from cache
// when the store version has not moved since they were computed.
func (s *Session) Aggregates(ctx context.Context) ([]alg.FactionAggregate, error) {
	key := s.versionKey()
	if cached, ok := s.aggregateCache.Get(key); ok {
		return cached, nil
	}
	result, err := s.dispatcher.Do(ctx, typedef.TaskAggregateFactions, nil)
	if err != nil {
		return nil, err
	}
	aggregates := result.([]alg.FactionAggregate)
	s.aggregateCache.Set(key, aggregates, int64(len(aggregates)+1))
	s.aggregateCache.Wait()
	return aggregates, nil
}

// Clusters returns the connected contiguous-territory components, served
// from cache when the store version has not moved.
func (s *Session) Clusters(ctx context.Context) ([]alg.Cluster, error) {
	key := s.versionKey()
	if cached, ok := s.clusterCache.Get(key); ok {
		return cached, nil
	}
	result, err := s.dispatcher.Do(ctx, typedef.TaskCalculateClusters, nil)
	if err != nil {
		return nil, err
	}
	clusters := result.([]alg.Cluster)
	s.clusterCache.Set(key, clusters, int64(len(clusters)+1))
	s.clusterCache.Wait()
	return clusters, nil
}

// Edges returns the border segments of one faction, identified by name.
// Results are cached per (faction, version) with oldest-first eviction.
func (s *Session) Edges(ctx context.Context, faction string) ([]alg.Edge, error) {
	index, ok := s.store.FactionIndexOf(faction)
	if !ok {
		return nil, fmt.Errorf("%w: unknown faction %q", typedef.ErrDictionary, faction)
	}
	return s.edgesByIndex(ctx, index)
}

func (s *Session) edgesByIndex(ctx context.Context, faction uint16) ([]alg.Edge, error) {
	key := edgeKey{faction: faction, version: s.versionKey()}
	if cached, ok := s.edges.get(key); ok {
		return cached, nil
	}
	result, err := s.dispatcher.Do(ctx, typedef.TaskCalculateEdges, EdgesPayload{Faction: faction})
	if err != nil {
		return nil, err
	}
	edges := result.([]alg.Edge)
	s.edges.put(key, edges)
	return edges, nil
}

// EdgesForFactions computes several factions' borders as one fan-out
// job across the pool, returning them keyed by faction name.
func (s *Session) EdgesForFactions(ctx context.Context, factions []string) (map[string][]alg.Edge, error) {
	specs := make([]TaskSpec, len(factions))
	for i, name := range factions {
		index, ok := s.store.FactionIndexOf(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown faction %q", typedef.ErrDictionary, name)
		}
		specs[i] = TaskSpec{Type: typedef.TaskCalculateEdges, Payload: EdgesPayload{Faction: index}}
	}
	results, err := s.dispatcher.FanOut(ctx, specs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]alg.Edge, len(factions))
	for i, name := range factions {
		out[name] = results[i].([]alg.Edge)
	}
	return out, nil
}

// RecalcZOC rebuilds the zone-of-control region from the given named
// cells on a pool context.
func (s *Session) RecalcZOC(ctx context.Context, cells []typedef.NamedCell) error {
	_, err := s.dispatcher.Do(ctx, typedef.TaskZOCRecalc, ZOCPayload{Cells: cells})
	return err
}

// AutoSelect runs the frontier candidate search for one faction.
func (s *Session) AutoSelect(ctx context.Context, req alg.AutoSelectRequest) ([]alg.Candidate, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	result, err := s.dispatcher.Do(ctx, typedef.TaskAutoSelect, req)
	if err != nil {
		return nil, err
	}
	return result.([]alg.Candidate), nil
}
