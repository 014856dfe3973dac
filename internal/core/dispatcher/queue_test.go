package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/message"
)

func newDemand(n int) demand.Demand {
	return demand.New(message.NewRef(n), "agent", func(*message.Ref) error { return nil })
}

func TestQueuePopReturnsInEnqueueOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(newDemand(i)))
	}

	for i := 0; i < 5; i++ {
		d, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, d.Ref.Payload())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	done := make(chan demand.Demand, 1)
	go func() {
		d, ok := q.Pop()
		require.True(t, ok)
		done <- d
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(newDemand(1)))
	select {
	case d := <-done:
		require.Equal(t, 1, d.Ref.Payload())
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestQueueCloseDrainTrueYieldsPendingItemsThenStops(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Push(newDemand(1)))
	require.NoError(t, q.Push(newDemand(2)))
	q.Close(true)

	_, ok := q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.False(t, ok, "Pop must report closed once drained")
}

func TestQueueCloseDrainFalseDiscardsPending(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Push(newDemand(1)))
	q.Close(false)

	_, ok := q.Pop()
	require.False(t, ok)
}

func TestQueuePushAfterCloseFails(t *testing.T) {
	q := NewQueue()
	q.Close(true)
	err := q.Push(newDemand(1))
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueLenReflectsBacklog(t *testing.T) {
	q := NewQueue()
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Push(newDemand(1)))
	require.Equal(t, 1, q.Len())
	_, _ = q.Pop()
	require.Equal(t, 0, q.Len())
}

func TestQueueConcurrentProducersPreserveTotalCount(t *testing.T) {
	q := NewQueue()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, q.Push(newDemand(i)))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Len())
}
