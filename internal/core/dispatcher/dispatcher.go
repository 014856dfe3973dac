// Package dispatcher defines the pluggable scheduling-strategy contract
// shared by the four canonical dispatcher families (one-thread,
// active-object, active-group, thread-pool).
package dispatcher

import (
	"errors"

	"github.com/webitel/agentflow/internal/core/demand"
)

// ErrBindingFailure is returned when a dispatcher refuses to bind an
// agent, e.g. an active-group bind with no group name.
var ErrBindingFailure = errors.New("dispatcher: binding failure")

// ErrQueueClosed is returned by Queue.Push once the queue has begun
// shutting down.
var ErrQueueClosed = errors.New("dispatcher: queue closed")

// BindSpec carries everything a dispatcher family might need to decide
// how to route an agent's demands. Not every field is meaningful to every
// family: one-thread ignores all of them, active-object keys on AgentID,
// active-group keys on Group, thread-pool keys on CooperationID.
type BindSpec struct {
	AgentID       string
	CooperationID string
	Group         string
}

// EventQueue is the per-bound-agent (or per-group, or per-cooperation)
// FIFO handle returned by Bind. Pushing onto it never blocks the caller
// indefinitely: a full queue is treated as a programming error rather
// than backpressure, since the core never bounds mailbox fan-out.
type EventQueue interface {
	Push(d demand.Demand) error
	Len() int
}

// Dispatcher owns worker threads and the event queues they service.
type Dispatcher interface {
	// Name identifies the dispatcher for tracing/diagnostics and for
	// add_named_dispatcher lookups.
	Name() string

	// Bind associates an agent with this dispatcher according to the
	// given spec, returning the queue demands targeting that agent (or
	// its group, or its cooperation) should be pushed onto. Returns
	// ErrBindingFailure if the spec is invalid for this family.
	Bind(spec BindSpec) (EventQueue, error)

	// Unbind releases whatever queue ownership Bind established. It is
	// idempotent.
	Unbind(spec BindSpec)

	// Shutdown stops all worker threads. If drain is true, each queue
	// finishes processing its pending demands first; if false, workers
	// stop as soon as their current demand (for the thread-pool family,
	// their current batch) completes and pending demands are not run.
	Shutdown(drain bool)

	// Stats reports a point-in-time view of queue depths, keyed by
	// whatever key this family binds on (agent, group or cooperation
	// id), for the diagnostics and metrics adapters.
	Stats() map[string]int
}

// CooperationAware is implemented by dispatcher families (namely
// thread-pool) that keep per-cooperation state needing explicit cleanup
// once a cooperation finishes deregistering.
type CooperationAware interface {
	RemoveCooperation(cooperationID string)
}

// Starter is implemented by dispatcher families that need an explicit
// kick to begin servicing their queue (namely one-thread); families that
// spawn workers lazily on Bind do not need it.
type Starter interface {
	Start()
}

// Binder is the opaque object produced by a dispatcher's Binder method
// and threaded through cooperation registration (§6 "the handle's
// binder(group?) yields an opaque object passed to create-cooperation").
type Binder struct {
	Disp  Dispatcher
	Group string
}

// Bind resolves the binder against a concrete agent/cooperation pair.
func (b Binder) Bind(agentID, cooperationID string) (EventQueue, error) {
	return b.Disp.Bind(BindSpec{
		AgentID:       agentID,
		CooperationID: cooperationID,
		Group:         b.Group,
	})
}

// Unbind mirrors Bind for teardown.
func (b Binder) Unbind(agentID, cooperationID string) {
	b.Disp.Unbind(BindSpec{
		AgentID:       agentID,
		CooperationID: cooperationID,
		Group:         b.Group,
	})
}
