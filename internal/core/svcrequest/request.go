// Package svcrequest implements the synchronous request/reply facility
// built atop the asynchronous mailbox primitives (§4.2
// deliver-service-request, §6, §9 "Synchronous-over-asynchronous
// requests"). A request is an ordinary asynchronous send whose payload
// is a rendezvous cell; the caller blocks on the cell with an optional
// timeout, independent of however many handlers forward it along the
// way before someone completes it.
package svcrequest

import (
	"context"
	"errors"
	"sync"

	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

// ErrNoHandler is returned when a mailbox has no subscriber for the
// requested message type.
var ErrNoHandler = errors.New("svcrequest: no handler")

// ErrMultipleHandlers is returned when a mailbox has more than one
// subscriber for the requested message type; service requests require
// exactly one (§4.2).
var ErrMultipleHandlers = errors.New("svcrequest: multiple handlers")

// Cell is the rendezvous cell carried as the request's payload. Grounded
// on original_source's resending_sync_request sample: a chain of
// service agents may each forward the same Cell to the next agent
// instead of completing it, so the reply is produced by whichever agent
// in the chain finally calls Complete.
type Cell[Req, Resp any] struct {
	Request Req

	mu       sync.Mutex
	done     chan struct{}
	response Resp
	err      error
	closed   bool
}

// NewCell wraps req into a fresh, not-yet-completed rendezvous cell.
func NewCell[Req, Resp any](req Req) *Cell[Req, Resp] {
	return &Cell[Req, Resp]{Request: req, done: make(chan struct{})}
}

// Complete finishes the rendezvous exactly once; later calls are no-ops,
// matching the chain semantics where only the last agent to touch the
// cell actually completes it.
func (c *Cell[Req, Resp]) Complete(resp Resp, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.response = resp
	c.err = err
	c.closed = true
	close(c.done)
}

// Wait blocks until Complete runs or ctx is done, whichever happens
// first.
func (c *Cell[Req, Resp]) Wait(ctx context.Context) (Resp, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.response, c.err
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
}

// Call performs a full synchronous service request against mb: it
// validates the exactly-one-subscriber invariant, builds a rendezvous
// cell, pushes one demand directly to that subscriber's queue (bypassing
// the fan-out delivery path, since there is by definition only one
// recipient), and blocks the caller on the cell.
func Call[Req, Resp any](ctx context.Context, mb *mailbox.Mailbox, lookup mailbox.QueueLookup, req Req) (Resp, error) {
	var zero Resp

	cell := NewCell[Req, Resp](req)
	ref := message.NewRef(cell)

	t := ref.Type()
	n := mb.HasSubscribers(t)
	switch {
	case n == 0:
		return zero, ErrNoHandler
	case n > 1:
		return zero, ErrMultipleHandlers
	}

	agentID, handler, ok := mb.SoleSubscriber(t)
	if !ok {
		return zero, ErrNoHandler
	}

	q, ok := lookup(agentID)
	if !ok {
		return zero, ErrNoHandler
	}

	if err := q.Push(demand.New(ref, agentID, handler)); err != nil {
		return zero, err
	}

	return cell.Wait(ctx)
}

// Forward is called from inside a handler that wants to pass a received
// Cell on to the next agent in a chain rather than completing it itself,
// mirroring resending_sync_request's forwarding pattern.
func Forward[Req, Resp any](nextMailboxLookup mailbox.QueueLookup, nextAgentID string, nextHandler demand.Handler, ref *message.Ref) error {
	q, ok := nextMailboxLookup(nextAgentID)
	if !ok {
		return ErrNoHandler
	}
	return q.Push(demand.New(ref.Acquire(), nextAgentID, nextHandler))
}
