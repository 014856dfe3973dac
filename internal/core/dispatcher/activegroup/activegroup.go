// Package activegroup implements the active-group dispatcher family:
// agents bound to the same named group share one worker goroutine and
// one queue, while distinct groups run fully in parallel. A group's
// worker starts on the first bind into that group and stops once the
// last bound agent in the group unbinds — resolved against
// original_source/dev/so_5/disp/active_group/h/pub.hpp, which ties group
// thread lifetime to the bound-agent refcount of the group.
package activegroup

import (
	"log/slog"
	"sync"

	"github.com/webitel/agentflow/internal/core/dispatcher"
)

type group struct {
	queue    *dispatcher.Queue
	done     chan struct{}
	refcount int
}

// Dispatcher is the active-group strategy.
type Dispatcher struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	groups map[string]*group
}

// New constructs an active-group dispatcher.
func New(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{name: name, logger: logger, groups: make(map[string]*group)}
}

func (d *Dispatcher) Name() string { return d.name }

// Binder returns the opaque binder object bound to a specific group name.
// Binding with an empty group name always fails per the active-group
// contract inherited from the source.
func (d *Dispatcher) Binder(group string) dispatcher.Binder {
	return dispatcher.Binder{Disp: d, Group: group}
}

func (d *Dispatcher) Bind(spec dispatcher.BindSpec) (dispatcher.EventQueue, error) {
	if spec.Group == "" {
		return nil, dispatcher.ErrBindingFailure
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[spec.Group]
	if !ok {
		g = &group{queue: dispatcher.NewQueue(), done: make(chan struct{})}
		d.groups[spec.Group] = g
		go d.run(spec.Group, g)
	}
	g.refcount++
	return g.queue, nil
}

func (d *Dispatcher) run(name string, g *group) {
	defer close(g.done)
	for {
		dm, ok := g.queue.Pop()
		if !ok {
			return
		}
		if err := dm.Invoke(); err != nil {
			d.logger.Error("ACTIVE_GROUP_HANDLER_ERROR",
				slog.String("dispatcher", d.name),
				slog.String("group", name),
				slog.Any("err", err))
		}
	}
}

func (d *Dispatcher) Unbind(spec dispatcher.BindSpec) {
	d.mu.Lock()
	g, ok := d.groups[spec.Group]
	if !ok {
		d.mu.Unlock()
		return
	}
	g.refcount--
	stop := g.refcount <= 0
	if stop {
		delete(d.groups, spec.Group)
	}
	d.mu.Unlock()

	if stop {
		g.queue.Close(true)
		<-g.done
	}
}

func (d *Dispatcher) Shutdown(drain bool) {
	d.mu.Lock()
	groups := make([]*group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	d.groups = make(map[string]*group)
	d.mu.Unlock()

	for _, g := range groups {
		g.queue.Close(drain)
	}
	for _, g := range groups {
		<-g.done
	}
}

func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.groups))
	for name, g := range d.groups {
		out[name] = g.queue.Len()
	}
	return out
}
