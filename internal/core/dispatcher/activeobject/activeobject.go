// Package activeobject implements the active-object dispatcher family:
// each bound agent gets its own dedicated worker goroutine and queue, so
// agents run fully in parallel while each agent's own demand order is
// preserved.
package activeobject

import (
	"log/slog"
	"sync"

	"github.com/webitel/agentflow/internal/core/dispatcher"
)

type worker struct {
	queue *dispatcher.Queue
	done  chan struct{}
}

// Dispatcher is the active-object strategy.
type Dispatcher struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// New constructs an active-object dispatcher. There is no shared worker
// pool to start: goroutines are spawned lazily, one per Bind call.
func New(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{name: name, logger: logger, workers: make(map[string]*worker)}
}

func (d *Dispatcher) Name() string { return d.name }

// Binder returns the opaque binder object for cooperation registration.
func (d *Dispatcher) Binder() dispatcher.Binder {
	return dispatcher.Binder{Disp: d}
}

func (d *Dispatcher) Bind(spec dispatcher.BindSpec) (dispatcher.EventQueue, error) {
	if spec.AgentID == "" {
		return nil, dispatcher.ErrBindingFailure
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workers[spec.AgentID]; ok {
		return w.queue, nil
	}

	w := &worker{queue: dispatcher.NewQueue(), done: make(chan struct{})}
	d.workers[spec.AgentID] = w

	go d.run(spec.AgentID, w)
	return w.queue, nil
}

func (d *Dispatcher) run(agentID string, w *worker) {
	defer close(w.done)
	for {
		dm, ok := w.queue.Pop()
		if !ok {
			return
		}
		if err := dm.Invoke(); err != nil {
			d.logger.Error("ACTIVE_OBJECT_HANDLER_ERROR",
				slog.String("dispatcher", d.name),
				slog.String("agent_id", agentID),
				slog.Any("err", err))
		}
	}
}

func (d *Dispatcher) Unbind(spec dispatcher.BindSpec) {
	d.mu.Lock()
	w, ok := d.workers[spec.AgentID]
	if ok {
		delete(d.workers, spec.AgentID)
	}
	d.mu.Unlock()

	if ok {
		w.queue.Close(true)
		<-w.done
	}
}

func (d *Dispatcher) Shutdown(drain bool) {
	d.mu.Lock()
	workers := make([]*worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.workers = make(map[string]*worker)
	d.mu.Unlock()

	for _, w := range workers {
		w.queue.Close(drain)
	}
	for _, w := range workers {
		<-w.done
	}
}

func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.workers))
	for id, w := range d.workers {
		out[id] = w.queue.Len()
	}
	return out
}
