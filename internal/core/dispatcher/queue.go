package dispatcher

import (
	"sync"

	"github.com/webitel/agentflow/internal/core/demand"
)

// Queue is an unbounded, thread-safe FIFO of demands with a blocking Pop.
// Push never blocks: mailbox delivery must always succeed for local
// mailboxes (§6), so the queue grows rather than applies backpressure.
// The one-thread, active-object and active-group families build their
// queues out of this primitive; the thread-pool family keeps its own
// per-cooperation queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []demand.Demand
	closed  bool
	drained bool // never set: Close(false) discards pending items directly
}

// NewQueue returns an empty, open Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a demand and wakes one waiting worker.
func (q *Queue) Push(d demand.Demand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, d)
	q.cond.Signal()
	return nil
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop blocks until a demand is available or the queue is closed, in which
// case ok is false. Demands are returned in enqueue order.
func (q *Queue) Pop() (d demand.Demand, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return demand.Demand{}, false
		}
		q.cond.Wait()
	}
	d, q.items = q.items[0], q.items[1:]
	return d, true
}

// TryPop returns immediately: ok is false if the queue is currently empty.
func (q *Queue) TryPop() (d demand.Demand, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return demand.Demand{}, false
	}
	d, q.items = q.items[0], q.items[1:]
	return d, true
}

// Close wakes every Pop waiter. If drain is false, pending items are
// discarded immediately (the demands are dropped, never invoked); if
// drain is true, callers are expected to keep popping until Pop reports
// ok=false themselves, since items already pushed remain available until
// the slice is empty and closed is observed.
func (q *Queue) Close(drain bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if !drain {
		q.items = nil
	}
	q.closed = true
	q.cond.Broadcast()
}
