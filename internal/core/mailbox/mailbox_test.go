package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/message"
)

// recordingQueue captures every demand pushed to it, standing in for a
// dispatcher.EventQueue in these mailbox-only tests.
type recordingQueue struct {
	mu    sync.Mutex
	items []demand.Demand
}

func (q *recordingQueue) Push(d demand.Demand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, d)
	return nil
}

func (q *recordingQueue) drain() []demand.Demand {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]demand.Demand(nil), q.items...)
	q.items = nil
	return out
}

func newFixture() (*Mailbox, *recordingQueue, QueueLookup) {
	q := &recordingQueue{}
	lookup := func(agentID string) (Queue, bool) {
		if agentID == "" {
			return nil, false
		}
		return q, true
	}
	return New("", lookup), q, lookup
}

func TestSubscribeAndDeliverPushesDemandForSubscriber(t *testing.T) {
	mb, q, _ := newFixture()
	require.NoError(t, mb.Subscribe(message.TypeOf(0), "agent-a", func(*message.Ref) error { return nil }))

	mb.Deliver(message.NewRef(5))

	items := q.drain()
	require.Len(t, items, 1)
	require.Equal(t, "agent-a", items[0].AgentID)
}

func TestDeliverWithNoSubscribersIsANoOp(t *testing.T) {
	mb, q, _ := newFixture()
	require.NotPanics(t, func() { mb.Deliver(message.NewRef(1)) })
	require.Empty(t, q.drain())
}

func TestSubscribeIsIdempotentPerAgentAndType(t *testing.T) {
	mb, _, _ := newFixture()
	t1 := message.TypeOf(0)

	calls := 0
	for i := 0; i < 5; i++ {
		err := mb.Subscribe(t1, "agent-a", func(*message.Ref) error { calls++; return nil })
		require.NoError(t, err)
	}

	require.Equal(t, 1, mb.HasSubscribers(t1))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	mb, _, _ := newFixture()
	t1 := message.TypeOf(0)
	require.NoError(t, mb.Subscribe(t1, "agent-a", func(*message.Ref) error { return nil }))

	mb.Unsubscribe(t1, "agent-a")
	require.NotPanics(t, func() { mb.Unsubscribe(t1, "agent-a") })
	require.Equal(t, 0, mb.HasSubscribers(t1))
}

func TestUnsubscribeAgentRemovesAcrossAllTypes(t *testing.T) {
	mb, _, _ := newFixture()
	require.NoError(t, mb.Subscribe(message.TypeOf(0), "agent-a", func(*message.Ref) error { return nil }))
	require.NoError(t, mb.Subscribe(message.TypeOf(""), "agent-a", func(*message.Ref) error { return nil }))

	mb.UnsubscribeAgent("agent-a")

	require.Equal(t, 0, mb.HasSubscribers(message.TypeOf(0)))
	require.Equal(t, 0, mb.HasSubscribers(message.TypeOf("")))
}

func TestSoleSubscriberReportsExactlyOne(t *testing.T) {
	mb, _, _ := newFixture()
	t1 := message.TypeOf(0)

	_, _, ok := mb.SoleSubscriber(t1)
	require.False(t, ok, "no subscriber yet")

	require.NoError(t, mb.Subscribe(t1, "agent-a", func(*message.Ref) error { return nil }))
	id, _, ok := mb.SoleSubscriber(t1)
	require.True(t, ok)
	require.Equal(t, "agent-a", id)

	require.NoError(t, mb.Subscribe(t1, "agent-b", func(*message.Ref) error { return nil }))
	_, _, ok = mb.SoleSubscriber(t1)
	require.False(t, ok, "two subscribers is not sole")
}

func TestDeliverFansOutRefCountedAcquireRelease(t *testing.T) {
	mb, q, _ := newFixture()
	t1 := message.TypeOf(0)
	require.NoError(t, mb.Subscribe(t1, "agent-a", func(*message.Ref) error { return nil }))
	require.NoError(t, mb.Subscribe(t1, "agent-b", func(*message.Ref) error { return nil }))

	ref := message.NewRef(1)
	freed := false
	ref.OnFree(func() { freed = true })

	mb.Deliver(ref)
	items := q.drain()
	require.Len(t, items, 2)

	items[0].Ref.Release()
	require.False(t, freed, "must not free until every fanned-out ref is released")
	items[1].Ref.Release()
	require.True(t, freed)
}

func TestDeliverToUnboundAgentDropsDemandAndReleasesRef(t *testing.T) {
	mb := New("", func(string) (Queue, bool) { return nil, false })
	require.NoError(t, mb.Subscribe(message.TypeOf(0), "agent-a", func(*message.Ref) error { return nil }))

	ref := message.NewRef(1)
	freed := false
	ref.OnFree(func() { freed = true })

	require.NotPanics(t, func() { mb.Deliver(ref) })
	require.True(t, freed, "a demand targeting an unbound agent must still release its ref")
}

func TestDirectMailboxRejectsForeignSubscriber(t *testing.T) {
	mb := NewDirect("owner", func(string) (Queue, bool) { return nil, false })
	err := mb.Subscribe(message.TypeOf(0), "someone-else", func(*message.Ref) error { return nil })
	require.ErrorIs(t, err, ErrForeignSubscriber)

	require.NoError(t, mb.Subscribe(message.TypeOf(0), "owner", func(*message.Ref) error { return nil }))
}

// TestSubscribePropertyIdempotence exercises §8 property 5: any sequence
// of repeated Subscribe calls for the same (type, agent) pair collapses
// to exactly one active subscription.
func TestSubscribePropertyIdempotence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mb, _, _ := newFixture()
		ty := message.TypeOf(0)
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			require.NoError(rt, mb.Subscribe(ty, "agent-a", func(*message.Ref) error { return nil }))
		}
		require.Equal(rt, 1, mb.HasSubscribers(ty))
	})
}
