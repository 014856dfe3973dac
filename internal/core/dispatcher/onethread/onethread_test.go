package onethread

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/message"
)

func TestOneThreadDeliversInTotalFIFOOrderAcrossAgents(t *testing.T) {
	d := New("ot", nil)
	d.Start()
	defer d.Shutdown(true)

	q, err := d.Bind(dispatcher.BindSpec{AgentID: "a"})
	require.NoError(t, err)
	q2, err := d.Bind(dispatcher.BindSpec{AgentID: "b"})
	require.NoError(t, err)
	require.Same(t, q, q2, "one-thread binds every agent onto the same shared queue")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		ref := message.NewRef(i)
		require.NoError(t, q.Push(demand.New(ref, "a", func(*message.Ref) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
			return nil
		})))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		require.Equal(t, i, order[i], "one-thread must deliver demands in enqueue order")
	}
}

func TestOneThreadStartIsIdempotent(t *testing.T) {
	d := New("ot", nil)
	d.Start()
	require.NotPanics(t, func() { d.Start() })
	d.Shutdown(true)
}

func TestOneThreadShutdownWaitsForWorkerExit(t *testing.T) {
	d := New("ot", nil)
	d.Start()
	q, err := d.Bind(dispatcher.BindSpec{AgentID: "a"})
	require.NoError(t, err)

	var ran bool
	require.NoError(t, q.Push(demand.New(message.NewRef(1), "a", func(*message.Ref) error {
		ran = true
		return nil
	})))

	done := make(chan struct{})
	go func() {
		d.Shutdown(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown(true) never returned")
	}
	require.True(t, ran)
}

func TestOneThreadStatsReportsQueueDepth(t *testing.T) {
	d := New("ot", nil)
	q, err := d.Bind(dispatcher.BindSpec{AgentID: "a"})
	require.NoError(t, err)
	require.NoError(t, q.Push(demand.New(message.NewRef(1), "a", func(*message.Ref) error { return nil })))

	require.Equal(t, map[string]int{"ot": 1}, d.Stats())
}
