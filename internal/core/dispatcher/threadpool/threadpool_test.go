package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/message"
)

func TestBindWithoutCooperationIDFails(t *testing.T) {
	d := New("tp", nil, Params{})
	_, err := d.Bind(dispatcher.BindSpec{})
	require.ErrorIs(t, err, dispatcher.ErrBindingFailure)
	d.Shutdown(false)
}

func TestAgentsInSameCooperationShareOneQueue(t *testing.T) {
	d := New("tp", nil, Params{Workers: 4})
	defer d.Shutdown(false)

	qa, err := d.Bind(dispatcher.BindSpec{AgentID: "a", CooperationID: "c1"})
	require.NoError(t, err)
	qb, err := d.Bind(dispatcher.BindSpec{AgentID: "b", CooperationID: "c1"})
	require.NoError(t, err)

	require.NoError(t, qa.Push(demand.New(message.NewRef(1), "a", func(*message.Ref) error { return nil })))
	require.Eventually(t, func() bool { return qb.Len() == 0 }, time.Second, time.Millisecond)
}

// TestCooperationFIFONeverOverlaps is the §8 scenario 4 property: no two
// demands belonging to the same cooperation ever execute concurrently,
// even though its member agents' demands may be serviced by different
// workers across the burst.
func TestCooperationFIFONeverOverlaps(t *testing.T) {
	d := New("tp", nil, Params{Workers: 8, MaxDemandsAtOnce: 2})
	defer d.Shutdown(true)

	const coops, agentsPerCoop, pingsPerAgent = 4, 3, 30

	var wg sync.WaitGroup
	for c := 0; c < coops; c++ {
		coopID := coopName(c)
		var active int32
		var maxObserved int32

		for a := 0; a < agentsPerCoop; a++ {
			q, err := d.Bind(dispatcher.BindSpec{AgentID: agentName(c, a), CooperationID: coopID})
			require.NoError(t, err)

			for p := 0; p < pingsPerAgent; p++ {
				wg.Add(1)
				require.NoError(t, q.Push(demand.New(message.NewRef(p), agentName(c, a), func(*message.Ref) error {
					defer wg.Done()
					n := atomic.AddInt32(&active, 1)
					for {
						old := atomic.LoadInt32(&maxObserved)
						if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
							break
						}
					}
					time.Sleep(100 * time.Microsecond)
					atomic.AddInt32(&active, -1)
					return nil
				})))
			}
		}

		defer func(maxObserved *int32) {
			require.LessOrEqual(t, atomic.LoadInt32(maxObserved), int32(1),
				"cooperation-FIFO: at most one demand from a cooperation may run at a time")
		}(&maxObserved)
	}
	wg.Wait()
}

func coopName(i int) string { return "coop-" + string(rune('a'+i)) }

func agentName(c, a int) string { return coopName(c) + "-agent-" + string(rune('a'+a)) }

func TestRemoveCooperationDropsItsQueueFromStats(t *testing.T) {
	d := New("tp", nil, Params{Workers: 2})
	defer d.Shutdown(false)

	q, err := d.Bind(dispatcher.BindSpec{AgentID: "a", CooperationID: "c1"})
	require.NoError(t, err)
	require.NoError(t, q.Push(demand.New(message.NewRef(1), "a", func(*message.Ref) error { return nil })))

	d.RemoveCooperation("c1")
	require.NotContains(t, d.Stats(), "c1")
}

func TestMaxDemandsAtOnceRotatesFairlyAcrossCooperations(t *testing.T) {
	d := New("tp", nil, Params{Workers: 1, MaxDemandsAtOnce: 1})
	defer d.Shutdown(true)

	qa, err := d.Bind(dispatcher.BindSpec{AgentID: "a", CooperationID: "c1"})
	require.NoError(t, err)
	qb, err := d.Bind(dispatcher.BindSpec{AgentID: "b", CooperationID: "c2"})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(4)

	for i := 0; i < 2; i++ {
		require.NoError(t, qa.Push(demand.New(message.NewRef(i), "a", func(*message.Ref) error {
			mu.Lock()
			order = append(order, "c1")
			mu.Unlock()
			wg.Done()
			return nil
		})))
		require.NoError(t, qb.Push(demand.New(message.NewRef(i), "b", func(*message.Ref) error {
			mu.Lock()
			order = append(order, "c2")
			mu.Unlock()
			wg.Done()
			return nil
		})))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	require.Contains(t, order, "c1")
	require.Contains(t, order, "c2")
}
