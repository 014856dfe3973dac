// Package hello implements the §8 "Hello-world" end-to-end scenario: one
// agent whose on-start prints "Hello, world!" and calls Stop, and whose
// on-finish prints "Bye!" before the environment drains.
package hello

import (
	"context"
	"fmt"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/environment"
)

// Agent is the scenario's single actor.
type Agent struct {
	*agent.Agent
	env *environment.Environment
}

// Define installs no subscriptions; the scenario needs none beyond the
// lifecycle hooks themselves.
func (a *Agent) Define(*agent.Agent) error { return nil }

// OnStart prints the greeting and requests shutdown.
func (a *Agent) OnStart() error {
	fmt.Println("Hello, world!")
	a.env.Stop()
	return nil
}

// OnFinish prints the farewell as the last demand this agent ever sees.
func (a *Agent) OnFinish() error {
	fmt.Println("Bye!")
	return nil
}

// Run registers the scenario's single cooperation on disp and blocks
// until the environment has fully shut down.
func Run(ctx context.Context, env *environment.Environment, disp *onethread.Dispatcher) error {
	return env.Start(ctx, func(e *environment.Environment) error {
		coop := e.NewCooperation("hello", nil, disp.Binder())
		a := &Agent{Agent: e.NewAgent(coop.ID, agent.AbortOnException)}
		a.env = e
		coop.AddAgent(a.Agent, a, a, a, nil)
		return e.RegisterCooperation(coop)
	})
}
