// Package threadpool implements the thread-pool dispatcher family: a
// fixed number of worker goroutines, one demand queue per cooperation,
// and a guarantee that any two demands belonging to the same cooperation
// execute in enqueue order even though they may run on different
// workers (cooperation-FIFO, §8 property 3). A tunable
// max-demands-at-once bounds how many demands one worker drains from a
// cooperation's queue before rotating it back to the ready set, the
// fairness mechanism named in §6.
package threadpool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
)

// DefaultMaxDemandsAtOnce is used when Params.MaxDemandsAtOnce is zero.
const DefaultMaxDemandsAtOnce = 4

// Params configures the thread-pool dispatcher.
type Params struct {
	// Workers is the fixed worker-goroutine count. Defaults to 1 if <= 0.
	Workers int
	// MaxDemandsAtOnce bounds how many demands a worker drains from one
	// cooperation's queue before rotating it back to the ready set.
	MaxDemandsAtOnce int
}

// coopQueue is a cooperation's private FIFO plus the bookkeeping needed
// to guarantee at most one worker services it at any instant.
type coopQueue struct {
	id string

	mu     sync.Mutex
	items  []demand.Demand
	queued bool // currently sitting in the ready set or being drained
}

// Dispatcher is the thread-pool strategy.
type Dispatcher struct {
	name   string
	logger *slog.Logger
	params Params

	readyMu   sync.Mutex
	readyCond *sync.Cond
	ready     []*coopQueue
	stopped   bool

	mu    sync.Mutex
	coops map[string]*coopQueue

	wg sync.WaitGroup
}

// New constructs and starts a thread-pool dispatcher with Workers worker
// goroutines.
func New(name string, logger *slog.Logger, params Params) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if params.Workers <= 0 {
		params.Workers = 1
	}
	if params.MaxDemandsAtOnce <= 0 {
		params.MaxDemandsAtOnce = DefaultMaxDemandsAtOnce
	}

	d := &Dispatcher{
		name:   name,
		logger: logger,
		params: params,
		coops:  make(map[string]*coopQueue),
	}
	d.readyCond = sync.NewCond(&d.readyMu)

	for i := 0; i < params.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Name() string { return d.name }

// Binder returns the opaque binder object for cooperation registration.
func (d *Dispatcher) Binder() dispatcher.Binder {
	return dispatcher.Binder{Disp: d}
}

func (d *Dispatcher) Bind(spec dispatcher.BindSpec) (dispatcher.EventQueue, error) {
	if spec.CooperationID == "" {
		return nil, dispatcher.ErrBindingFailure
	}

	d.mu.Lock()
	cq, ok := d.coops[spec.CooperationID]
	if !ok {
		cq = &coopQueue{id: spec.CooperationID}
		d.coops[spec.CooperationID] = cq
	}
	d.mu.Unlock()

	return &eventQueue{cq: cq, disp: d}, nil
}

// Unbind is a no-op per agent: a cooperation's queue is shared by every
// agent in it and is only released when the cooperation itself finishes
// deregistering, via RemoveCooperation.
func (d *Dispatcher) Unbind(spec dispatcher.BindSpec) {}

// RemoveCooperation drops a cooperation's queue entirely. Called by the
// cooperation lifecycle once deregistration completes.
func (d *Dispatcher) RemoveCooperation(cooperationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.coops, cooperationID)
}

func (d *Dispatcher) enqueueReady(cq *coopQueue) {
	d.readyMu.Lock()
	d.ready = append(d.ready, cq)
	d.readyCond.Signal()
	d.readyMu.Unlock()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		cq := d.nextReady()
		if cq == nil {
			return
		}
		d.drain(cq)
	}
}

func (d *Dispatcher) nextReady() *coopQueue {
	d.readyMu.Lock()
	defer d.readyMu.Unlock()
	for len(d.ready) == 0 && !d.stopped {
		d.readyCond.Wait()
	}
	if d.stopped {
		return nil
	}
	cq := d.ready[0]
	d.ready = d.ready[1:]
	return cq
}

// drain services one cooperation's queue exclusively: no other worker
// can hold the same coopQueue concurrently, because it only re-enters
// the ready set from here (or from eventQueue.Push's empty->nonempty
// transition, which cannot race a concurrent drain since queued stays
// true throughout).
func (d *Dispatcher) drain(cq *coopQueue) {
	processed := 0
	for processed < d.params.MaxDemandsAtOnce {
		cq.mu.Lock()
		if len(cq.items) == 0 {
			cq.mu.Unlock()
			break
		}
		dm := cq.items[0]
		cq.items = cq.items[1:]
		cq.mu.Unlock()

		if err := dm.Invoke(); err != nil {
			d.logger.Error("THREADPOOL_HANDLER_ERROR",
				slog.String("dispatcher", d.name),
				slog.String("cooperation_id", cq.id),
				slog.Any("err", err))
		}
		processed++
	}

	cq.mu.Lock()
	if len(cq.items) > 0 {
		cq.mu.Unlock()
		// More work remains: rotate back to the tail of the ready set
		// so other cooperations get a turn (fairness).
		d.enqueueReady(cq)
		return
	}
	cq.queued = false
	cq.mu.Unlock()
}

// Shutdown stops every worker. If drain is true, each cooperation queue
// finishes its pending demands before workers exit; if false, each worker
// finishes the batch it is draining (at most MaxDemandsAtOnce demands of
// one cooperation) and stops without touching the rest.
func (d *Dispatcher) Shutdown(drain bool) {
	if drain {
		for d.anyPending() {
			time.Sleep(time.Millisecond)
		}
	}

	d.readyMu.Lock()
	d.stopped = true
	d.readyCond.Broadcast()
	d.readyMu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) anyPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cq := range d.coops {
		cq.mu.Lock()
		pending := len(cq.items) > 0 || cq.queued
		cq.mu.Unlock()
		if pending {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.coops))
	for id, cq := range d.coops {
		cq.mu.Lock()
		out[id] = len(cq.items)
		cq.mu.Unlock()
	}
	return out
}

// eventQueue adapts a cooperation's coopQueue to dispatcher.EventQueue,
// moving it into the ready set exactly once per empty->nonempty edge.
type eventQueue struct {
	cq   *coopQueue
	disp *Dispatcher
}

func (q *eventQueue) Push(d demand.Demand) error {
	q.cq.mu.Lock()
	q.cq.items = append(q.cq.items, d)
	wasQueued := q.cq.queued
	if !wasQueued {
		q.cq.queued = true
	}
	q.cq.mu.Unlock()

	if !wasQueued {
		q.disp.enqueueReady(q.cq)
	}
	return nil
}

func (q *eventQueue) Len() int {
	q.cq.mu.Lock()
	defer q.cq.mu.Unlock()
	return len(q.cq.items)
}
