// Package statechart implements the hierarchical state-chart facility of
// §4.6: a tree of named states overlaid on an agent, with entry/exit
// actions, per-state event subscriptions scoped to the active
// configuration, transfer-to-state routing, and LCA-based transitions.
//
// Grounded on original_source/dev/sample/so_5/intercom_statechart/main.cpp,
// which builds the same facility directly out of agent states: state_t
// nodes with on_enter/on_exit/event/transfer_to_state, and `this >>= target`
// as the transition operator.
package statechart

import (
	"fmt"

	"github.com/webitel/agentflow/internal/adapter/lookupcache"
	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

type subKey struct {
	mb *mailbox.Mailbox
	t  message.Type
}

type binding struct {
	handler        func(ref *message.Ref) error
	transferTarget *State
}

// State is a node in an agent's state tree. The active configuration at
// any moment is the path from the root to the current leaf (§3).
type State struct {
	name    string
	parent  *State
	initial *State
	machine *Machine

	onEnter []func()
	onExit  []func()
	events  map[subKey]binding
}

// Name returns the state's label, for tracing and diagnostics.
func (s *State) Name() string { return s.name }

// OnEnter registers an action run when the state is entered. Multiple
// actions run in registration order.
func (s *State) OnEnter(fn func()) *State {
	s.onEnter = append(s.onEnter, fn)
	return s
}

// OnExit registers an action run when the state is exited.
func (s *State) OnExit(fn func()) *State {
	s.onExit = append(s.onExit, fn)
	return s
}

// InitialSubstate designates child as the substate entered automatically
// whenever this state is entered directly (i.e. transition recurses into
// it, per §4.6's transition rule).
func (s *State) InitialSubstate(child *State) *State {
	s.initial = child
	return s
}

// Event registers a subscription active only while s is in the active
// configuration; the runtime installs it on entry and removes it on exit.
func (s *State) Event(mb *mailbox.Mailbox, t message.Type, handler func(ref *message.Ref) error) *State {
	s.events[subKey{mb, t}] = binding{handler: handler}
	return s
}

// EventSignal is Event specialised for message.SignalType subscriptions.
func (s *State) EventSignal(mb *mailbox.Mailbox, handler func() error) *State {
	return s.Event(mb, message.SignalType, func(*message.Ref) error { return handler() })
}

// TransferToState declares that a matching message received while s is
// active transitions to target and is re-dispatched there, without an
// explicit handler (§4.6).
func (s *State) TransferToState(mb *mailbox.Mailbox, t message.Type, target *State) *State {
	s.events[subKey{mb, t}] = binding{transferTarget: target}
	return s
}

// EventT is Event for a concrete payload type T, mirroring the source's
// event<MsgT>(mailbox, handler) template form.
func EventT[T any](s *State, mb *mailbox.Mailbox, handler func(payload *T) error) *State {
	t := message.TypeOf(*new(T))
	return s.Event(mb, t, func(ref *message.Ref) error {
		payload, ok := ref.Payload().(T)
		if !ok {
			return fmt.Errorf("statechart: event payload is not %T", payload)
		}
		return handler(&payload)
	})
}

// TransferToStateT is TransferToState for a concrete payload type T.
func TransferToStateT[T any](s *State, mb *mailbox.Mailbox, target *State) *State {
	t := message.TypeOf(*new(T))
	return s.TransferToState(mb, t, target)
}

// Machine is the state tree rooted at an implicit root, bound to a single
// agent. All Machine methods are only ever called from that agent's own
// dispatcher thread (the same discipline every handler body runs under),
// so no internal locking is needed.
type Machine struct {
	owner *agent.Agent
	root  *State
	leaf  *State

	// claims records, for each (mailbox, type) currently claimed by some
	// state in the active configuration, which state owns the actual
	// mailbox subscription.
	claims map[subKey]*State

	// resolved memoizes the leaf-to-claims walk keyed by leaf state: the
	// tree is built once before the machine starts transitioning, so the
	// same leaf always resolves to the same claim set, and flapping
	// between two states (the intercom's wait_activity/dialling pair)
	// would otherwise re-walk the ancestor chain on every transition.
	resolved *lookupcache.Cache[*State, map[subKey]*State]
}

// New builds a Machine for owner, with an implicit root state already
// active. Call NewState to build the tree, then TransitionTo to enter it
// (typically from the agent's so-evt-start).
func New(owner *agent.Agent) *Machine {
	m := &Machine{
		owner:    owner,
		claims:   make(map[subKey]*State),
		resolved: lookupcache.New[*State, map[subKey]*State](lookupcache.DefaultSize),
	}
	m.root = &State{name: "root", machine: m, events: make(map[subKey]binding)}
	m.leaf = m.root
	return m
}

// Root returns the machine's implicit root state, the parent of every
// top-level state built with NewState(name, nil).
func (m *Machine) Root() *State { return m.root }

// NewState builds a new state node. A nil parent attaches directly to the
// root.
func (m *Machine) NewState(name string, parent *State) *State {
	if parent == nil {
		parent = m.root
	}
	return &State{name: name, parent: parent, machine: m, events: make(map[subKey]binding)}
}

// Current returns the machine's current leaf state.
func (m *Machine) Current() *State { return m.leaf }

func ancestorsLeafToRoot(s *State) []*State {
	out := make([]*State, 0, 4)
	for cur := s; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// lca returns the least common ancestor of a and b. The implicit root is
// always a common ancestor, so this never returns nil for two states
// belonging to the same Machine.
func lca(a, b *State) *State {
	depthOf := make(map[*State]struct{}, 8)
	for cur := a; cur != nil; cur = cur.parent {
		depthOf[cur] = struct{}{}
	}
	for cur := b; cur != nil; cur = cur.parent {
		if _, ok := depthOf[cur]; ok {
			return cur
		}
	}
	return nil
}

// TransitionTo is the `this >>= target` operator of §4.6: it computes
// LCA(current, target), runs exit actions from the current leaf up to
// (not including) the LCA, runs entry actions from the LCA's child down
// to target, and recurses into target's initial substate chain if any
// (§8 property 6).
func (m *Machine) TransitionTo(target *State) error {
	if target == nil {
		return fmt.Errorf("statechart: transition to nil state")
	}
	if target.machine != m {
		return fmt.Errorf("statechart: target %q belongs to a different machine", target.name)
	}

	anchor := lca(m.leaf, target)

	for cur := m.leaf; cur != anchor; cur = cur.parent {
		for _, fn := range cur.onExit {
			fn()
		}
	}

	entryPath := make([]*State, 0, 4)
	for cur := target; cur != anchor; cur = cur.parent {
		entryPath = append(entryPath, cur)
	}
	for i, j := 0, len(entryPath)-1; i < j; i, j = i+1, j-1 {
		entryPath[i], entryPath[j] = entryPath[j], entryPath[i]
	}

	for _, st := range entryPath {
		for _, fn := range st.onEnter {
			fn()
		}
	}

	leaf := target
	for leaf.initial != nil {
		leaf = leaf.initial
		for _, fn := range leaf.onEnter {
			fn()
		}
	}

	m.leaf = leaf
	m.recomputeSubscriptions()
	return nil
}

// recomputeSubscriptions walks the active configuration leaf-to-root,
// letting the innermost declaration of any (mailbox, type) win, then
// diffs against the previously-installed claim set: removes subscriptions
// whose owner changed or disappeared, installs the rest. This realises
// §4.6's "first ancestor with a handler wins" lookup rule as an ordinary
// mailbox subscription rather than a per-dispatch ancestor walk.
func (m *Machine) recomputeSubscriptions() {
	next, ok := m.resolved.Get(m.leaf)
	if !ok {
		next = make(map[subKey]*State, len(m.claims))
		for _, st := range ancestorsLeafToRoot(m.leaf) {
			for key := range st.events {
				if _, already := next[key]; !already {
					next[key] = st
				}
			}
		}
		m.resolved.Add(m.leaf, next)
	}

	for key, owner := range m.claims {
		if newOwner, ok := next[key]; !ok || newOwner != owner {
			m.owner.Unsubscribe(key.mb, key.t)
		}
	}
	for key, owner := range next {
		if oldOwner, ok := m.claims[key]; ok && oldOwner == owner {
			continue
		}
		key := key
		owner := owner
		handler := func(ref *message.Ref) error {
			ev := owner.events[key]
			if ev.transferTarget != nil {
				return m.transferAndRedispatch(key, ev.transferTarget, ref)
			}
			return ev.handler(ref)
		}
		if err := m.owner.Subscribe(key.mb, key.t, handler); err != nil {
			// A direct mailbox rejecting a foreign subscriber never
			// happens here: Machine only ever subscribes on behalf of
			// its own owning agent.
			_ = err
		}
	}
	m.claims = next
}

// transferAndRedispatch implements the transfer-to-state half of §4.6:
// transition to target, then re-dispatch ref to whichever handler now
// claims key in the post-transition configuration. A chain of
// transfer-to-state declarations (state A transfers on T to state B,
// which itself transfers on T to state C) is followed up to a bounded
// number of hops, guarding against an accidental cycle.
func (m *Machine) transferAndRedispatch(key subKey, target *State, ref *message.Ref) error {
	const maxHops = 16
	if err := m.TransitionTo(target); err != nil {
		return err
	}
	for hop := 0; hop < maxHops; hop++ {
		owner, ok := m.claims[key]
		if !ok {
			return nil
		}
		ev := owner.events[key]
		if ev.transferTarget == nil {
			return ev.handler(ref)
		}
		if err := m.TransitionTo(ev.transferTarget); err != nil {
			return err
		}
	}
	return fmt.Errorf("statechart: transfer-to-state chain exceeded %d hops", maxHops)
}
