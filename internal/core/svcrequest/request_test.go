package svcrequest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

type req struct{ n int }
type resp struct{ n int }

func cellType() message.Type {
	return message.TypeOf(NewCell[req, resp](req{}))
}

func TestCallFailsWithNoHandler(t *testing.T) {
	mb := mailbox.New("", func(string) (mailbox.Queue, bool) { return nil, false })
	_, err := Call[req, resp](context.Background(), mb, func(string) (mailbox.Queue, bool) { return nil, false }, req{n: 1})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestCallFailsWithMultipleHandlers(t *testing.T) {
	mb := mailbox.New("", func(string) (mailbox.Queue, bool) { return nil, false })

	noop := func(*message.Ref) error { return nil }
	require.NoError(t, mb.Subscribe(cellType(), "agent-a", noop))
	require.NoError(t, mb.Subscribe(cellType(), "agent-b", noop))

	_, err := Call[req, resp](context.Background(), mb, func(string) (mailbox.Queue, bool) { return nil, false }, req{n: 1})
	require.ErrorIs(t, err, ErrMultipleHandlers)
}

// fakeQueue captures pushed demands so the test can invoke them itself,
// simulating what a dispatcher worker would do.
type fakeQueue struct {
	pushed chan demand.Demand
}

func newFakeQueue() *fakeQueue { return &fakeQueue{pushed: make(chan demand.Demand, 8)} }

func (q *fakeQueue) Push(d demand.Demand) error {
	q.pushed <- d
	return nil
}

func TestCallDeliversToTheSoleSubscriberAndBlocksUntilComplete(t *testing.T) {
	q := newFakeQueue()
	lookup := func(id string) (mailbox.Queue, bool) {
		if id == "handler-agent" {
			return q, true
		}
		return nil, false
	}
	mb := mailbox.New("", lookup)

	// The handler completes the cell with n+1, the way a single
	// terminal service agent would (§4.2 exactly-one-subscriber).
	require.NoError(t, mb.Subscribe(cellType(), "handler-agent", func(ref *message.Ref) error {
		cell := ref.Payload().(*Cell[req, resp])
		cell.Complete(resp{n: cell.Request.n + 1}, nil)
		return nil
	}))

	// Drain the fake queue on a goroutine, exactly as a dispatcher
	// worker would, so Call's blocking Wait has something to unblock it.
	go func() {
		d, ok := <-q.pushed
		if !ok {
			return
		}
		_ = d.Invoke()
	}()

	got, err := Call[req, resp](context.Background(), mb, lookup, req{n: 41})
	require.NoError(t, err)
	require.Equal(t, resp{n: 42}, got)
}

func TestCallTimesOutWhenNoOneCompletesTheCell(t *testing.T) {
	q := newFakeQueue()
	lookup := func(id string) (mailbox.Queue, bool) {
		if id == "handler-agent" {
			return q, true
		}
		return nil, false
	}
	mb := mailbox.New("", lookup)

	require.NoError(t, mb.Subscribe(cellType(), "handler-agent", func(ref *message.Ref) error {
		return nil // never completes the cell
	}))

	go func() {
		d, ok := <-q.pushed
		if !ok {
			return
		}
		_ = d.Invoke()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Call[req, resp](ctx, mb, lookup, req{n: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestForwardHandsTheSameCellToTheNextAgentWithoutCompleting(t *testing.T) {
	next := newFakeQueue()
	lookup := func(id string) (mailbox.Queue, bool) {
		if id == "next-agent" {
			return next, true
		}
		return nil, false
	}

	cell := NewCell[req, resp](req{n: 5})
	ref := message.NewRef(cell)

	nextHandler := func(ref *message.Ref) error {
		c := ref.Payload().(*Cell[req, resp])
		c.Complete(resp{n: c.Request.n * 2}, nil)
		return nil
	}

	require.NoError(t, Forward[req, resp](lookup, "next-agent", nextHandler, ref))

	d := <-next.pushed
	require.NoError(t, d.Invoke())

	got, err := cell.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp{n: 10}, got)
}

func TestCompleteIsIdempotent(t *testing.T) {
	cell := NewCell[req, resp](req{n: 1})
	cell.Complete(resp{n: 1}, nil)
	cell.Complete(resp{n: 99}, nil) // must be a no-op

	got, err := cell.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp{n: 1}, got)
}
