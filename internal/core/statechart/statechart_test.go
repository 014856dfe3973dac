package statechart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

func noopLookup(string) (mailbox.Queue, bool) { return nil, false }

type digit struct{ n int }

func TestTransitionRunsExitThenEntryAcrossLCA(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)

	var trace []string
	wait := m.NewState("wait", nil)
	wait.OnEnter(func() { trace = append(trace, "enter-wait") })
	wait.OnExit(func() { trace = append(trace, "exit-wait") })

	dialling := m.NewState("dialling", nil)
	dialling.OnEnter(func() { trace = append(trace, "enter-dialling") })
	dialling.OnExit(func() { trace = append(trace, "exit-dialling") })

	require.NoError(t, m.TransitionTo(wait))
	require.Equal(t, []string{"enter-wait"}, trace)

	trace = nil
	require.NoError(t, m.TransitionTo(dialling))
	require.Equal(t, []string{"exit-wait", "enter-dialling"}, trace)
	require.Same(t, dialling, m.Current())
}

func TestTransitionIntoNestedStateRecursesInitialSubstate(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)

	var trace []string
	parent := m.NewState("parent", nil)
	parent.OnEnter(func() { trace = append(trace, "enter-parent") })
	child := m.NewState("child", parent)
	child.OnEnter(func() { trace = append(trace, "enter-child") })
	parent.InitialSubstate(child)

	require.NoError(t, m.TransitionTo(parent))
	require.Equal(t, []string{"enter-parent", "enter-child"}, trace)
	require.Same(t, child, m.Current())
}

func TestTransitionBetweenSiblingsSharesLCAAndSkipsSharedAncestor(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)

	var trace []string
	parent := m.NewState("parent", nil)
	parent.OnEnter(func() { trace = append(trace, "enter-parent") })
	parent.OnExit(func() { trace = append(trace, "exit-parent") })

	a1 := m.NewState("a1", parent)
	a1.OnEnter(func() { trace = append(trace, "enter-a1") })
	a1.OnExit(func() { trace = append(trace, "exit-a1") })

	a2 := m.NewState("a2", parent)
	a2.OnEnter(func() { trace = append(trace, "enter-a2") })
	a2.OnExit(func() { trace = append(trace, "exit-a2") })

	require.NoError(t, m.TransitionTo(a1))
	trace = nil

	require.NoError(t, m.TransitionTo(a2))
	// LCA(a1, a2) is parent: parent itself must not be exited or
	// re-entered (§8 property 6).
	require.Equal(t, []string{"exit-a1", "enter-a2"}, trace)
}

func TestEventSubscriptionScopedToActiveConfiguration(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)
	mb := mailbox.New("", noopLookup)

	var got []int
	s1 := m.NewState("s1", nil)
	EventT[digit](s1, mb, func(d *digit) error { got = append(got, d.n); return nil })
	s2 := m.NewState("s2", nil)

	require.NoError(t, m.TransitionTo(s1))
	require.Equal(t, 1, mb.HasSubscribers(message.TypeOf(digit{})))

	require.NoError(t, m.TransitionTo(s2))
	require.Equal(t, 0, mb.HasSubscribers(message.TypeOf(digit{})),
		"leaving s1 must remove its scoped subscription")
}

func TestInnermostStateHandlerWinsOverAncestor(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)
	mb := mailbox.New("", noopLookup)

	var who string
	parent := m.NewState("parent", nil)
	parent.EventSignal(mb, func() error { who = "parent"; return nil })

	child := m.NewState("child", parent)
	child.EventSignal(mb, func() error { who = "child"; return nil })
	parent.InitialSubstate(child)

	require.NoError(t, m.TransitionTo(parent))
	require.Equal(t, 1, mb.HasSubscribers(message.SignalType),
		"only the innermost claim of (mailbox, type) installs a real subscription")

	_, handler, ok := mb.SoleSubscriber(message.SignalType)
	require.True(t, ok)
	require.NoError(t, handler(message.NewSignalRef()))
	require.Equal(t, "child", who)
}

func TestTransferToStateRedispatchesIntoTargetsHandler(t *testing.T) {
	a := agent.New("ctrl-1", "coop-1", agent.AbortOnException, noopLookup)
	m := New(a)
	mb := mailbox.New("", noopLookup)

	var handled int
	from := m.NewState("from", nil)
	to := m.NewState("to", nil)
	EventT[digit](to, mb, func(d *digit) error { handled = d.n; return nil })
	TransferToStateT[digit](from, mb, to)

	require.NoError(t, m.TransitionTo(from))
	require.Equal(t, 1, mb.HasSubscribers(message.TypeOf(digit{})))

	_, handler, ok := mb.SoleSubscriber(message.TypeOf(digit{}))
	require.True(t, ok)
	require.NoError(t, handler(message.NewRef(digit{n: 7})))

	require.Equal(t, 7, handled)
	require.Same(t, to, m.Current(), "transfer-to-state must transition before re-dispatching")
}
