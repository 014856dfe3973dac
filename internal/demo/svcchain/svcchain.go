// Package svcchain implements the §8 "Resending service request chain"
// scenario: a chain of N service agents, where a synchronous request
// walks the chain by each agent forwarding the same rendezvous cell to
// the next agent instead of completing it itself, until the last agent
// in the chain finally completes it.
//
// Grounded on
// original_source/dev/test/so_5/svc/resending_sync_request/main.cpp.
package svcchain

import (
	"context"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/environment"
	"github.com/webitel/agentflow/internal/core/message"
	"github.com/webitel/agentflow/internal/core/svcrequest"
)

// Request is the payload threaded through the chain. Counter is a
// pointer so every link in the chain observes and increments the same
// underlying value.
type Request struct {
	Counter *int32
}

// Response is returned once the last agent in the chain completes the
// rendezvous.
type Response struct{}

// Agent is one link in the service chain.
type Agent struct {
	*agent.Agent
	env  *environment.Environment
	next *Agent // nil for the last link
}

var cellType = message.TypeOf((*svcrequest.Cell[Request, Response])(nil))

func (a *Agent) Define(*agent.Agent) error {
	return a.Agent.Subscribe(a.Direct, cellType, a.onRequest)
}

func (a *Agent) onRequest(ref *message.Ref) error {
	cell, ok := ref.Payload().(*svcrequest.Cell[Request, Response])
	if !ok {
		return nil
	}

	*cell.Request.Counter++

	if a.next == nil {
		cell.Complete(Response{}, nil)
		return nil
	}

	nextAgentID, nextHandler, ok := a.next.Direct.SoleSubscriber(cellType)
	if !ok {
		cell.Complete(Response{}, svcrequest.ErrNoHandler)
		return nil
	}
	return svcrequest.Forward[Request, Response](a.env.QueueLookup(), nextAgentID, nextHandler, ref)
}

func (a *Agent) OnStart() error { return nil }

func (a *Agent) OnFinish() error { return nil }

// Run builds a chain of n service agents and issues one synchronous
// request at the head, returning the final Counter value observed by
// the caller (expected to equal n) once the rendezvous completes. The
// environment is stopped once Call returns, whether it succeeded or
// not.
func Run(ctx context.Context, env *environment.Environment, disp *onethread.Dispatcher, n int) (int32, error) {
	var counter int32
	resultCh := make(chan struct {
		n   int32
		err error
	}, 1)

	err := env.Start(ctx, func(e *environment.Environment) error {
		coop := e.NewCooperation("svc-chain", nil, disp.Binder())

		agents := make([]*Agent, n)
		for i := n - 1; i >= 0; i-- {
			a := &Agent{Agent: e.NewAgent(coop.ID, agent.AbortOnException), env: e}
			if i < n-1 {
				a.next = agents[i+1]
			}
			agents[i] = a
			coop.AddAgent(a.Agent, a, a, a, nil)
		}
		if err := e.RegisterCooperation(coop); err != nil {
			return err
		}

		head := agents[0]
		go func() {
			resp, err := svcrequest.Call[Request, Response](ctx, head.Direct, e.QueueLookup(), Request{Counter: &counter})
			_ = resp
			resultCh <- struct {
				n   int32
				err error
			}{counter, err}
			e.Stop()
		}()
		return nil
	})
	if err != nil {
		return counter, err
	}

	result := <-resultCh
	return result.n, result.err
}
