// Package agent implements the actor instance: its lifecycle state
// machine, its direct mailbox, its subscription bookkeeping and its
// exception-reaction policy.
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

// State is one of the five lifecycle states named in §3.
type State int32

const (
	// Defining is the initial state, from New until the agent is bound.
	Defining State = iota
	// Bound is entered when the agent is bound to its dispatcher, before
	// Define runs during registration, and holds until the first event.
	Bound
	// Running is the steady state.
	Running
	// Deregistering drains outstanding events and fires exit handlers.
	Deregistering
	// Deregistered is terminal.
	Deregistered
)

func (s State) String() string {
	switch s {
	case Defining:
		return "defining"
	case Bound:
		return "bound"
	case Running:
		return "running"
	case Deregistering:
		return "deregistering"
	case Deregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// ExceptionReaction is the agent-level policy applied when a handler
// returns an error (§4.4, §4.5).
type ExceptionReaction int

const (
	AbortOnException ExceptionReaction = iota
	ShutdownEnvironment
	DeregisterCoop
	RestartAgent
	Ignore
)

// Definer is implemented by application agents: so-define-agent is
// called once, under a single-threaded context, during cooperation
// registration, before any event may be dispatched.
type Definer interface {
	Define(a *Agent) error
}

// Starter is invoked as the first demand on the agent's dispatcher after
// binding.
type Starter interface {
	OnStart() error
}

// Finisher is invoked as the last demand before deregistration.
type Finisher interface {
	OnFinish() error
}

// ReactionHooks wires the three exception reactions that need more than
// the agent itself to carry out (§4.5): shutdown-environment and
// deregister-coop need the environment's registries, restart-agent needs
// the cooperation's definer/starter for this agent. abort-on-exception
// and ignore need neither and are handled directly by guard. Left unset,
// a hook's reaction is a no-op beyond the error already being logged by
// the dispatcher.
type ReactionHooks struct {
	ShutdownEnvironment func()
	DeregisterCoop      func(cooperationID string)
	// RestartAgent re-runs Define/OnStart for this agent. A non-nil
	// return escalates to DeregisterCoop, giving the open-ended
	// "restart-agent" policy a bounded failure mode (internal/adapter/
	// resilience wraps this in a circuit breaker before installing it).
	RestartAgent func(a *Agent) error
}

// Agent is the base type embedded (or wrapped) by application actors. It
// carries everything the runtime needs regardless of what the
// application-specific logic does: identity, direct mailbox, dispatcher
// binding, lifecycle state and exception policy.
type Agent struct {
	ID string

	CooperationID string

	// Direct is the agent's own mailbox; only this agent may subscribe
	// to it (§3).
	Direct *mailbox.Mailbox

	Reaction ExceptionReaction

	state  atomic.Int32
	queue  dispatcher.EventQueue
	binder dispatcher.Binder

	mu           sync.Mutex
	restartCount int
	hooks        ReactionHooks

	trackedMu sync.Mutex
	tracked   map[*mailbox.Mailbox]struct{}
}

// New constructs an agent in the Defining state. lookup is used to
// build the agent's direct mailbox.
func New(id, cooperationID string, reaction ExceptionReaction, lookup mailbox.QueueLookup) *Agent {
	a := &Agent{
		ID:            id,
		CooperationID: cooperationID,
		Reaction:      reaction,
	}
	a.Direct = mailbox.NewDirect(id, lookup)
	a.tracked = make(map[*mailbox.Mailbox]struct{})
	a.state.Store(int32(Defining))
	return a
}

// SetReactionHooks installs the environment/cooperation-supplied
// callbacks guard dispatches into for the shutdown-environment,
// deregister-coop and restart-agent reactions. Called once, during
// cooperation registration.
func (a *Agent) SetReactionHooks(hooks ReactionHooks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = hooks
}

// guard wraps handler so a returned error is routed through the agent's
// exception reaction (§4.4, §4.5) instead of merely being logged by the
// dispatcher. It always returns the original error too, so the
// dispatcher's own log line still fires; the reaction is a side effect
// layered on top, not a replacement for it.
func (a *Agent) guard(handler demand.Handler) demand.Handler {
	return func(ref *message.Ref) error {
		err := handler(ref)
		if err == nil {
			return nil
		}

		a.mu.Lock()
		hooks := a.hooks
		a.mu.Unlock()

		switch a.Reaction {
		case AbortOnException:
			slog.Error("AGENT_ABORT_ON_EXCEPTION", slog.String("agent_id", a.ID), slog.Any("err", err))
			os.Exit(1)
		case ShutdownEnvironment:
			if hooks.ShutdownEnvironment != nil {
				hooks.ShutdownEnvironment()
			}
		case DeregisterCoop:
			if hooks.DeregisterCoop != nil {
				hooks.DeregisterCoop(a.CooperationID)
			}
		case RestartAgent:
			a.NextRestart()
			if hooks.RestartAgent != nil {
				if restartErr := hooks.RestartAgent(a); restartErr != nil && hooks.DeregisterCoop != nil {
					slog.Warn("AGENT_RESTART_ESCALATED",
						slog.String("agent_id", a.ID), slog.Any("err", restartErr))
					hooks.DeregisterCoop(a.CooperationID)
				}
			}
		case Ignore:
			// no-op beyond the dispatcher's own log line.
		}
		return err
	}
}

// Subscribe attaches handler to t on mb under this agent's identity and
// remembers mb so UnsubscribeAll can find it again during
// deregistration, without requiring the agent to keep its own
// bookkeeping of every mailbox it has ever touched.
func (a *Agent) Subscribe(mb *mailbox.Mailbox, t message.Type, handler demand.Handler) error {
	if err := mb.Subscribe(t, a.ID, a.guard(handler)); err != nil {
		return err
	}
	a.trackedMu.Lock()
	a.tracked[mb] = struct{}{}
	a.trackedMu.Unlock()
	return nil
}

// Unsubscribe removes a single (type, mailbox) subscription.
func (a *Agent) Unsubscribe(mb *mailbox.Mailbox, t message.Type) {
	mb.Unsubscribe(t, a.ID)
}

// UnsubscribeAll removes every subscription this agent has registered
// across every mailbox it has ever called Subscribe on, including its
// own direct mailbox. Called once, during deregistration step 3 (§4.4).
func (a *Agent) UnsubscribeAll() {
	a.Direct.UnsubscribeAgent(a.ID)

	a.trackedMu.Lock()
	mbs := make([]*mailbox.Mailbox, 0, len(a.tracked))
	for mb := range a.tracked {
		mbs = append(mbs, mb)
	}
	a.tracked = make(map[*mailbox.Mailbox]struct{})
	a.trackedMu.Unlock()

	for _, mb := range mbs {
		mb.UnsubscribeAgent(a.ID)
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

// transition moves the agent to s unconditionally; the lifecycle
// machinery (cooperation registration/deregistration) is the only
// caller, so ordering is enforced there rather than here.
func (a *Agent) transition(s State) { a.state.Store(int32(s)) }

// BindTo attaches the agent to a dispatcher via binder, recording the
// resulting queue handle for Send to target.
func (a *Agent) BindTo(binder dispatcher.Binder) error {
	q, err := binder.Bind(a.ID, a.CooperationID)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	a.binder = binder
	a.queue = q
	a.transition(Bound)
	return nil
}

// Unbind detaches the agent from its dispatcher.
func (a *Agent) Unbind() {
	if a.queue == nil {
		return
	}
	a.binder.Unbind(a.ID, a.CooperationID)
	a.queue = nil
}

// Queue returns the dispatcher queue this agent is currently bound to,
// satisfying mailbox.QueueLookup when adapted by the environment.
func (a *Agent) Queue() (dispatcher.EventQueue, bool) {
	if a.queue == nil {
		return nil, false
	}
	return a.queue, true
}

// MarkRunning transitions Bound -> Running, called once the first
// demand (on-start) is about to execute.
func (a *Agent) MarkRunning() { a.transition(Running) }

// MarkDeregistering transitions into the draining state.
func (a *Agent) MarkDeregistering() { a.transition(Deregistering) }

// MarkDeregistered transitions into the terminal state.
func (a *Agent) MarkDeregistered() { a.transition(Deregistered) }

// NextRestart increments and returns the agent's restart counter, used
// by the restart-agent exception reaction together with the resilience
// breaker adapter.
func (a *Agent) NextRestart() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restartCount++
	return a.restartCount
}

// SelfSend pushes a demand of ref directly onto this agent's own queue,
// used by the state-chart facility's transfer-to-state re-dispatch and
// by agents that want to schedule work on themselves without going
// through a mailbox roundtrip.
func (a *Agent) SelfSend(ref *message.Ref, handler func(ref *message.Ref) error) error {
	q, ok := a.Queue()
	if !ok {
		return fmt.Errorf("agent %s: not bound to a dispatcher", a.ID)
	}
	return q.Push(demand.New(ref, a.ID, a.guard(handler)))
}
