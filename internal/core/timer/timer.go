// Package timer implements the runtime's scheduling of one-shot and
// periodic message deliveries, keyed by absolute fire time.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is whatever a fired timer entry delivers into: the mailbox
// layer's deliver function, decoupling this package from mailbox
// internals.
type Sink func()

// Handle is the opaque token returned by Service.Single and
// Service.Periodic. Cancel stops future deliveries; dropping the Handle
// without calling Cancel leaves the delivery scheduled.
// Cancellation is never retroactive: a delivery already handed to the
// sink before Cancel runs is unaffected (§3, §5).
type Handle struct {
	id string
	svc *Service
}

// ID returns the handle's opaque identifier, useful for tracing.
func (h Handle) ID() string { return h.id }

// Cancel stops future deliveries for this handle. Cancelling a one-shot
// after it has already fired is a no-op.
func (h Handle) Cancel() {
	h.svc.cancel(h.id)
}

type entry struct {
	id       string
	fireAt   time.Time
	period   time.Duration // 0 for one-shot
	sink     Sink
	index    int  // heap index
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is the priority-queue-backed scheduler. It owns a single
// goroutine awaiting the next fire time; precision is bounded by
// resolution, which must be at least a millisecond to satisfy the
// source's precision requirement.
type Service struct {
	resolution time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	pq      entryHeap
	wake    chan struct{}
	stopCh  chan struct{}
	stopped bool
	doneCh  chan struct{}
}

// NewService starts the timer goroutine with the given tick resolution.
// A resolution <= 0 defaults to one millisecond.
func NewService(resolution time.Duration) *Service {
	if resolution <= 0 {
		resolution = time.Millisecond
	}
	s := &Service{
		resolution: resolution,
		entries:    make(map[string]*entry),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Single schedules a one-shot delivery after delay.
func (s *Service) Single(delay time.Duration, sink Sink) Handle {
	return s.schedule(delay, 0, sink)
}

// Periodic schedules a first delivery after initialDelay, then every
// period thereafter, until canceled.
func (s *Service) Periodic(initialDelay, period time.Duration, sink Sink) Handle {
	return s.schedule(initialDelay, period, sink)
}

func (s *Service) schedule(delay, period time.Duration, sink Sink) Handle {
	e := &entry{
		id:     uuid.NewString(),
		fireAt: time.Now().Add(delay),
		period: period,
		sink:   sink,
	}

	s.mu.Lock()
	s.entries[e.id] = e
	heap.Push(&s.pq, e)
	s.mu.Unlock()

	s.nudge()
	return Handle{id: e.id, svc: s}
}

func (s *Service) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.canceled = true
	delete(s.entries, id)
	if e.index >= 0 {
		heap.Remove(&s.pq, e.index)
	}
}

func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single timer goroutine: it sleeps until the next fire time
// (or until nudged by a new, earlier schedule), then fires every expired
// entry in deadline order — which, since the heap always yields the
// earliest fireAt first, guarantees monotonicity (§8 property 4: T1
// enqueued before T2 whenever d1 < d2).
func (s *Service) run() {
	defer close(s.doneCh)
	timer := time.NewTimer(s.resolution)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.pq) == 0 {
			wait = s.resolution
		} else {
			wait = time.Until(s.pq[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		timer.Reset(wait)

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}

		s.fireExpired()
	}
}

func (s *Service) fireExpired() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.pq) == 0 || s.pq[0].fireAt.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.pq).(*entry)
		delete(s.entries, e.id)

		if e.period > 0 && !e.canceled {
			next := &entry{
				id:     e.id,
				fireAt: now.Add(e.period),
				period: e.period,
				sink:   e.sink,
			}
			s.entries[next.id] = next
			heap.Push(&s.pq, next)
		}
		s.mu.Unlock()

		e.sink()
	}
}

// Stop halts the timer goroutine. Already-fired sinks that produced
// demands are unaffected; nothing further is scheduled.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// Len reports the number of outstanding scheduled entries, for
// diagnostics.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pq)
}
