package truntime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/alg"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/tilestore"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/typedef"
)

// Task payloads. The dispatcher matches them to the task type tag and
// rejects a mismatch without touching a worker.
type (
	// EdgesPayload selects the faction whose border to extract.
	EdgesPayload struct{ Faction uint16 }
	// ZOCPayload carries the named cells driving a full ZOC rebuild.
	ZOCPayload struct{ Cells []typedef.NamedCell }
)

// TaskSpec is one sub-task of a fan-out job.
type TaskSpec struct {
	Type    typedef.TaskType
	Payload any
}

type worker struct {
	id    int
	tasks chan typedef.TaskRequest
}

// Dispatcher owns a fixed set of parallel pool contexts, each holding
// direct access to the shared store regions, and routes task requests to
// them round-robin. Results resolve per-request pending handles; one
// failed task never affects the others.
type Dispatcher struct {
	store *tilestore.Store
	cfg   Config
	log   *logrus.Entry

	// exec runs one task body; defaults to execute. Tests swap it to
	// exercise the crash paths, which no real payload can reach.
	exec func(typedef.TaskRequest) (any, error)

	workers []*worker
	next    atomic.Uint64
	lastID  atomic.Uint64

	pending sync.Map // requestID -> chan typedef.TaskResponse

	ready  atomic.Bool
	closed atomic.Bool
	quit   chan struct{}
}

// NewDispatcher builds a dispatcher with N = config pool size contexts.
// Contexts do not run until Start; dispatches issued before that retry
// within the configured budget.
func NewDispatcher(store *tilestore.Store, cfg Config) *Dispatcher {
	d := &Dispatcher{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("component", "dispatcher"),
		quit:  make(chan struct{}),
	}
	d.exec = d.execute
	n := cfg.poolSize()
	d.workers = make([]*worker, n)
	for i := range d.workers {
		d.workers[i] = &worker{id: i, tasks: make(chan typedef.TaskRequest, 32)}
	}
	return d
}

// Start spins up every pool context.
func (d *Dispatcher) Start() {
	if d.ready.Load() || d.closed.Load() {
		return
	}
	for _, w := range d.workers {
		go d.runWorker(w)
	}
	d.ready.Store(true)
	d.log.WithField("contexts", len(d.workers)).Info("worker pool started")
}

// Stop shuts the pool down. Queued tasks are abandoned; their pending
// handles resolve with ErrWorkerUnavailable. A pool that already failed
// closed is fully stopped; Stop is then a no-op.
func (d *Dispatcher) Stop() { d.shutdown() }

// shutdown is the single teardown path shared by Stop and the
// fail-closed crash policy: every context sees the closed quit channel
// and exits, and every pending handle is rejected.
func (d *Dispatcher) shutdown() {
	if d.closed.Swap(true) {
		return
	}
	close(d.quit)
	d.rejectAllPending()
}

// PoolSize returns the number of pool contexts.
func (d *Dispatcher) PoolSize() int { return len(d.workers) }

func (d *Dispatcher) runWorker(w *worker) {
	for {
		select {
		case req := <-w.tasks:
			resp, crashed := d.runTask(w, req)
			d.complete(resp)
			if crashed {
				if d.cfg.CrashPolicy == CrashFailClosed {
					d.log.WithField("context", w.id).Error("pool failing closed after context crash")
					d.shutdown()
					return
				}
				d.log.WithField("context", w.id).Warn("respawning crashed pool context")
			}
		case <-d.quit:
			return
		}
	}
}

// runTask executes one request, converting a panic in the task body into
// a rejection of that request only.
func (d *Dispatcher) runTask(w *worker, req typedef.TaskRequest) (resp typedef.TaskResponse, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			d.log.WithFields(logrus.Fields{"context": w.id, "request": req.RequestID, "type": req.Type}).
				Errorf("pool context crashed: %v", r)
			resp = typedef.TaskResponse{
				RequestID: req.RequestID,
				Err:       fmt.Errorf("pool context crashed: %v", r),
			}
		}
	}()

	result, err := d.exec(req)
	if err != nil {
		return typedef.TaskResponse{RequestID: req.RequestID, Err: err}, false
	}
	return typedef.TaskResponse{RequestID: req.RequestID, Success: true, Result: result}, false
}

func (d *Dispatcher) execute(req typedef.TaskRequest) (any, error) {
	switch req.Type {
	case typedef.TaskAggregateFactions:
		return alg.AggregateFactions(d.store), nil

	case typedef.TaskCalculateClusters:
		return alg.CalculateClusters(d.store), nil

	case typedef.TaskCalculateEdges:
		payload, ok := req.Payload.(EdgesPayload)
		if !ok {
			return nil, fmt.Errorf("task %s: unexpected payload %T", req.Type, req.Payload)
		}
		return alg.CalculateEdges(d.store, payload.Faction), nil

	case typedef.TaskZOCRecalc:
		payload, ok := req.Payload.(ZOCPayload)
		if !ok {
			return nil, fmt.Errorf("task %s: unexpected payload %T", req.Type, req.Payload)
		}
		alg.RecalcZOC(d.store, payload.Cells, d.cfg.ZOCRadius)
		return len(payload.Cells), nil

	case typedef.TaskAutoSelect:
		payload, ok := req.Payload.(alg.AutoSelectRequest)
		if !ok {
			return nil, fmt.Errorf("task %s: unexpected payload %T", req.Type, req.Payload)
		}
		return alg.AutoSelectCandidates(d.store, payload), nil

	default:
		return nil, fmt.Errorf("unknown task type %q", req.Type)
	}
}

// Dispatch routes a task request to the next context in round-robin
// order and returns its pending-result handle. While the pool is not yet
// ready the request is retried with bounded backoff before failing with
// ErrWorkerUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, typ typedef.TaskType, payload any) (<-chan typedef.TaskResponse, error) {
	for attempt := 1; ; attempt++ {
		if d.closed.Load() {
			return nil, fmt.Errorf("%w: pool is closed", typedef.ErrWorkerUnavailable)
		}
		if d.ready.Load() {
			break
		}
		if attempt >= d.cfg.RetryAttempts {
			return nil, fmt.Errorf("%w: not ready after %d attempts", typedef.ErrWorkerUnavailable, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.RetryDelay):
		}
	}

	req := typedef.TaskRequest{
		Type:      typ,
		Payload:   payload,
		RequestID: d.lastID.Add(1),
	}
	ch := make(chan typedef.TaskResponse, 1)
	d.pending.Store(req.RequestID, ch)

	w := d.workers[d.next.Add(1)%uint64(len(d.workers))]
	select {
	case w.tasks <- req:
		return ch, nil
	case <-d.quit:
		d.pending.Delete(req.RequestID)
		return nil, fmt.Errorf("%w: pool is closed", typedef.ErrWorkerUnavailable)
	case <-ctx.Done():
		d.pending.Delete(req.RequestID)
		return nil, ctx.Err()
	}
}

// Await blocks on a pending handle until the task resolves or the
// context gives up.
func (d *Dispatcher) Await(ctx context.Context, pending <-chan typedef.TaskResponse) (any, error) {
	select {
	case resp := <-pending:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do dispatches one task and awaits its result.
func (d *Dispatcher) Do(ctx context.Context, typ typedef.TaskType, payload any) (any, error) {
	pending, err := d.Dispatch(ctx, typ, payload)
	if err != nil {
		return nil, err
	}
	return d.Await(ctx, pending)
}

// FanOut splits one logical job into sub-tasks dispatched to different
// contexts concurrently, awaiting all of them before returning the
// combined results in input order.
func (d *Dispatcher) FanOut(ctx context.Context, specs []TaskSpec) ([]any, error) {
	results := make([]any, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			result, err := d.Do(ctx, spec.Type, spec.Payload)
			if err != nil {
				return fmt.Errorf("sub-task %d (%s): %w", i, spec.Type, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Dispatcher) complete(resp typedef.TaskResponse) {
	handle, ok := d.pending.LoadAndDelete(resp.RequestID)
	if !ok {
		return // caller gave up
	}
	handle.(chan typedef.TaskResponse) <- resp
}

func (d *Dispatcher) rejectAllPending() {
	d.pending.Range(func(key, value any) bool {
		d.pending.Delete(key)
		value.(chan typedef.TaskResponse) <- typedef.TaskResponse{
			RequestID: key.(uint64),
			Err:       fmt.Errorf("%w: pool is closed", typedef.ErrWorkerUnavailable),
		}
		return true
	})
}
