// Package mailbox implements the runtime's named and anonymous
// message-routing endpoints. A Mailbox holds a subscription table keyed
// by message type; delivery fans a message out to every current
// subscriber as a Demand pushed onto that subscriber's dispatcher queue.
//
// Grounded on original_source/dev/so_5/rt/impl/h/local_mbox.hpp: one
// read/write lock guards a `map[type] -> map[agent] -> handler` table;
// deliver_message snapshots the subscriber list under the read lock and
// releases it before invoking anything.
package mailbox

import (
	"sync"

	"github.com/webitel/agentflow/internal/adapter/lookupcache"
	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/message"
)

// Queue is the minimal dispatcher-side contract a mailbox needs: push a
// demand for a bound agent. It is satisfied by dispatcher.EventQueue.
type Queue interface {
	Push(d demand.Demand) error
}

// QueueLookup resolves an agent ID to the dispatcher queue it is
// currently bound to. The environment supplies this so the mailbox layer
// never needs to know about dispatcher internals.
type QueueLookup func(agentID string) (Queue, bool)

type subscription struct {
	agentID string
	handler demand.Handler
}

// Mailbox is a local, in-process multi-producer/multi-consumer broadcast
// endpoint. Two flavors are built on it: a free-standing named/anonymous
// mailbox, and the direct mailbox automatically owned by each agent
// (mailbox.NewDirect).
type Mailbox struct {
	name   string
	lookup QueueLookup

	mu   sync.RWMutex
	subs map[message.Type]map[string]*subscription

	// snapCache memoizes snapshot's per-type subscriber list. Any
	// subscription change purges it wholesale rather than targeting the
	// single affected type: subscription changes are rare compared to
	// delivery, so a blunt invalidation costs little and is trivially
	// correct.
	snapCache *lookupcache.Cache[message.Type, []*subscription]

	// ownerOnly, when non-empty, restricts Subscribe to a single agent
	// ID: the invariant of a direct mailbox (§3).
	ownerOnly string
}

// New returns a fresh mailbox. name is empty for anonymous mailboxes.
func New(name string, lookup QueueLookup) *Mailbox {
	return &Mailbox{
		name:      name,
		lookup:    lookup,
		subs:      make(map[message.Type]map[string]*subscription),
		snapCache: lookupcache.New[message.Type, []*subscription](lookupcache.DefaultSize),
	}
}

// NewDirect returns a mailbox that only ever accepts subscriptions from
// ownerAgentID, per §3's direct-mailbox invariant.
func NewDirect(ownerAgentID string, lookup QueueLookup) *Mailbox {
	m := New("", lookup)
	m.ownerOnly = ownerAgentID
	return m
}

// Name returns the name the mailbox was built with: the registry name of
// a named mailbox, the generated UUID of one made by Registry.Create, or
// "" for a direct mailbox.
func (m *Mailbox) Name() string { return m.name }

// ErrForeignSubscriber is returned when a non-owner tries to subscribe
// to a direct mailbox.
var ErrForeignSubscriber = errForeignSubscriber{}

type errForeignSubscriber struct{}

func (errForeignSubscriber) Error() string {
	return "mailbox: only the owning agent may subscribe to a direct mailbox"
}

// Subscribe inserts a (type, agent) -> handler entry, replacing any
// prior handler for the same pair (§3 subscription invariant, §8
// property 5).
func (m *Mailbox) Subscribe(t message.Type, agentID string, handler demand.Handler) error {
	if m.ownerOnly != "" && agentID != m.ownerOnly {
		return ErrForeignSubscriber
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byAgent, ok := m.subs[t]
	if !ok {
		byAgent = make(map[string]*subscription)
		m.subs[t] = byAgent
	}
	byAgent[agentID] = &subscription{agentID: agentID, handler: handler}
	m.snapCache.Purge()
	return nil
}

// Unsubscribe removes the (type, agent) entry, if any. A no-op if
// absent, satisfying idempotence.
func (m *Mailbox) Unsubscribe(t message.Type, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAgent, ok := m.subs[t]
	if !ok {
		return
	}
	delete(byAgent, agentID)
	if len(byAgent) == 0 {
		delete(m.subs, t)
	}
	m.snapCache.Purge()
}

// UnsubscribeAgent removes every subscription belonging to agentID,
// across all message types. Used during agent deregistration (§4.4
// step 3: "remove all subscriptions from all mailboxes").
func (m *Mailbox) UnsubscribeAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, byAgent := range m.subs {
		delete(byAgent, agentID)
		if len(byAgent) == 0 {
			delete(m.subs, t)
		}
	}
	m.snapCache.Purge()
}

// snapshot returns the subscriber list for t, consulting snapCache
// before taking the read lock. A miss rebuilds the slice under the read
// lock, exactly as local_mbox.hpp's deliver_message does, then caches it
// for the next delivery of the same type.
func (m *Mailbox) snapshot(t message.Type) []*subscription {
	if cached, ok := m.snapCache.Get(t); ok {
		return cached
	}

	m.mu.RLock()
	byAgent, ok := m.subs[t]
	var out []*subscription
	if ok && len(byAgent) > 0 {
		out = make([]*subscription, 0, len(byAgent))
		for _, s := range byAgent {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	m.snapCache.Add(t, out)
	return out
}

// Deliver fans ref out to every current subscriber of its type, pushing
// one Demand per subscriber onto that subscriber's bound dispatcher
// queue. Order across subscribers is unspecified (§5); Deliver always
// succeeds for a local mailbox, even if it has no subscribers.
func (m *Mailbox) Deliver(ref *message.Ref) {
	subs := m.snapshot(ref.Type())
	if len(subs) == 0 {
		return
	}

	// The first subscriber consumes the caller's reference; every
	// further subscriber acquires its own, so the payload outlives the
	// last handler to finish with it.
	for i, s := range subs {
		r := ref
		if i > 0 {
			r = ref.Acquire()
		}
		q, ok := m.lookup(s.agentID)
		if !ok {
			// Agent unbound between snapshot and dispatch: drop
			// silently, matching "demands targeting an unbound agent
			// are discarded" (§5 cancellation policy).
			r.Release()
			continue
		}
		_ = q.Push(demand.New(r, s.agentID, s.handler))
	}
}

// HasSubscribers reports how many agents currently subscribe to t,
// used by the service-request facility to validate the
// exactly-one-subscriber invariant.
func (m *Mailbox) HasSubscribers(t message.Type) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[t])
}

// SoleSubscriber returns the single subscribed agent's handler for t, or
// ok=false if there is not exactly one.
func (m *Mailbox) SoleSubscriber(t message.Type) (agentID string, handler demand.Handler, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byAgent, exists := m.subs[t]
	if !exists || len(byAgent) != 1 {
		return "", nil, false
	}
	for _, s := range byAgent {
		return s.agentID, s.handler, true
	}
	return "", nil, false
}
