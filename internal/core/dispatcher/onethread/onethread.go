// Package onethread implements the simplest dispatcher family: a single
// worker thread servicing a single queue shared by every agent bound to
// it. It guarantees total order of demands across the whole dispatcher,
// at the cost of zero parallelism between bound agents.
package onethread

import (
	"log/slog"
	"sync"

	"github.com/webitel/agentflow/internal/core/dispatcher"
)

// Dispatcher is the one-thread strategy: all bound agents share one FIFO
// queue and one worker goroutine.
type Dispatcher struct {
	name   string
	logger *slog.Logger

	queue *dispatcher.Queue

	mu      sync.Mutex
	bound   map[string]struct{}
	started bool
	done    chan struct{}
}

// New constructs an unstarted one-thread dispatcher. Call Start to spin
// up its worker goroutine.
func New(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		name:   name,
		logger: logger,
		queue:  dispatcher.NewQueue(),
		bound:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Name() string { return d.name }

// Start launches the single worker goroutine. It is safe to call Bind
// before Start; demands simply queue up until the worker begins.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		dm, ok := d.queue.Pop()
		if !ok {
			return
		}
		if err := dm.Invoke(); err != nil {
			d.logger.Error("ONETHREAD_HANDLER_ERROR",
				slog.String("dispatcher", d.name),
				slog.String("agent_id", dm.AgentID),
				slog.Any("err", err))
		}
	}
}

// Binder returns the opaque binder object for cooperation registration.
// One-thread dispatchers ignore any group argument.
func (d *Dispatcher) Binder() dispatcher.Binder {
	return dispatcher.Binder{Disp: d}
}

func (d *Dispatcher) Bind(spec dispatcher.BindSpec) (dispatcher.EventQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bound[spec.AgentID] = struct{}{}
	return d.queue, nil
}

func (d *Dispatcher) Unbind(spec dispatcher.BindSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bound, spec.AgentID)
}

func (d *Dispatcher) Shutdown(drain bool) {
	d.queue.Close(drain)
	<-d.done
}

func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int{d.name: d.queue.Len()}
}
