// Package delayedhello implements the §8 "Delayed hello" scenario: an
// agent schedules a msg_hello at +2s; on receipt it schedules a msg_stop
// at +2s; on receipt of that it stops the environment. Three timestamp
// lines print roughly 2s apart.
package delayedhello

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/environment"
)

type msgHello struct{}
type msgStop struct{}

const step = 2 * time.Second

// Agent is the scenario's single actor.
type Agent struct {
	*agent.Agent
	env *environment.Environment
}

// Define subscribes to this agent's own direct mailbox for both
// scheduled message kinds.
func (a *Agent) Define(*agent.Agent) error {
	if err := agent.SubscribeT(a.Agent, a.Direct, a.onHello); err != nil {
		return err
	}
	return agent.SubscribeT(a.Agent, a.Direct, a.onStop)
}

func (a *Agent) onHello(*msgHello) error {
	fmt.Printf("%s hello\n", time.Now().Format(time.RFC3339Nano))
	environment.SendDelayed(a.env, a.Direct, msgStop{}, step)
	return nil
}

func (a *Agent) onStop(*msgStop) error {
	fmt.Printf("%s stop\n", time.Now().Format(time.RFC3339Nano))
	a.env.Stop()
	return nil
}

// OnStart prints the first timestamp and schedules msg_hello at +2s.
func (a *Agent) OnStart() error {
	fmt.Printf("%s start\n", time.Now().Format(time.RFC3339Nano))
	environment.SendDelayed(a.env, a.Direct, msgHello{}, step)
	return nil
}

// OnFinish is a no-op; the scenario's three lines are all printed from
// OnStart/onHello/onStop.
func (a *Agent) OnFinish() error { return nil }

// Run registers the scenario's single cooperation and blocks until the
// environment has fully shut down.
func Run(ctx context.Context, env *environment.Environment, disp *onethread.Dispatcher) error {
	return env.Start(ctx, func(e *environment.Environment) error {
		coop := e.NewCooperation("delayed-hello", nil, disp.Binder())
		a := &Agent{Agent: e.NewAgent(coop.ID, agent.AbortOnException)}
		a.env = e
		coop.AddAgent(a.Agent, a, a, a, nil)
		return e.RegisterCooperation(coop)
	})
}
