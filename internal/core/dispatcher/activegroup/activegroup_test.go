package activegroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/message"
)

func TestBindWithoutGroupFails(t *testing.T) {
	d := New("ag", nil)
	_, err := d.Bind(dispatcher.BindSpec{AgentID: "a"})
	require.ErrorIs(t, err, dispatcher.ErrBindingFailure)
}

func TestAgentsInSameGroupShareOneQueue(t *testing.T) {
	d := New("ag", nil)
	qa, err := d.Bind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	require.NoError(t, err)
	qb, err := d.Bind(dispatcher.BindSpec{AgentID: "b", Group: "g1"})
	require.NoError(t, err)
	require.Same(t, qa, qb)
	d.Unbind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	d.Unbind(dispatcher.BindSpec{AgentID: "b", Group: "g1"})
}

func TestDistinctGroupsGetIndependentQueues(t *testing.T) {
	d := New("ag", nil)
	qa, err := d.Bind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	require.NoError(t, err)
	qb, err := d.Bind(dispatcher.BindSpec{AgentID: "b", Group: "g2"})
	require.NoError(t, err)
	require.NotSame(t, qa, qb)
}

func TestGroupWorkerStopsOnceLastBoundAgentUnbinds(t *testing.T) {
	d := New("ag", nil)
	_, err := d.Bind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	require.NoError(t, err)
	_, err = d.Bind(dispatcher.BindSpec{AgentID: "b", Group: "g1"})
	require.NoError(t, err)

	d.Unbind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	require.Contains(t, d.Stats(), "g1", "group survives while one agent is still bound")

	d.Unbind(dispatcher.BindSpec{AgentID: "b", Group: "g1"})
	require.NotContains(t, d.Stats(), "g1", "group's queue must be released once refcount drops to zero")
}

func TestActiveGroupDeliversInFIFOOrderWithinAGroup(t *testing.T) {
	d := New("ag", nil)
	q, err := d.Bind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
	require.NoError(t, err)

	var order []int
	done := make(chan struct{})
	const n = 20
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, q.Push(demand.New(message.NewRef(i), "a", func(*message.Ref) error {
			order = append(order, i)
			if i == n-1 {
				close(done)
			}
			return nil
		})))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("group never drained its queue")
	}
	for i := 0; i < n; i++ {
		require.Equal(t, i, order[i])
	}
	d.Unbind(dispatcher.BindSpec{AgentID: "a", Group: "g1"})
}
