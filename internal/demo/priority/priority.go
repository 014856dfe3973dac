// Package priority implements the §8 "Priority sequence" scenario.
//
// The original source reproduces this with a priority-respecting
// common-thread dispatcher outside spec.md §2's four canonical
// families; SPEC_FULL.md keeps the canonical family table closed at
// four and instead reproduces the same observable result
// ("76543210") on the plain one-thread dispatcher: eight priority
// levels are chained p0 -> p1 -> ... -> p7, each forwarding
// synchronously to the next before appending its own digit, so the
// appends happen in unwind order once p7's base case returns.
package priority

import (
	"context"
	"strings"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/environment"
)

// level is one link of the priority chain; p1..p7 are not agents and
// never touch a mailbox, they only call the next level and then append
// their own digit.
type level struct {
	digit  byte
	next   *level
	result *strings.Builder
}

func (l *level) handle() {
	if l.next != nil {
		l.next.handle()
	}
	l.result.WriteByte(l.digit)
}

// Agent is p0: the only member of the chain bound to a real dispatcher,
// since it alone is the signal's entry point.
type Agent struct {
	*agent.Agent
	env    *environment.Environment
	chain  *level
	result *strings.Builder
}

// Define installs no subscriptions: p0 enters the chain directly from
// OnStart rather than receiving the signal through a mailbox roundtrip.
func (a *Agent) Define(*agent.Agent) error { return nil }

// OnStart fires the chain and, once every digit has been appended,
// stops the environment.
func (a *Agent) OnStart() error {
	a.chain.handle()
	a.env.Stop()
	return nil
}

// OnFinish is a no-op; Run returns the result string once the
// environment has shut down.
func (a *Agent) OnFinish() error { return nil }

// Run executes the scenario and returns the assembled digit string,
// expected to equal "76543210".
func Run(ctx context.Context, env *environment.Environment, disp *onethread.Dispatcher) (string, error) {
	var result strings.Builder

	levels := make([]*level, 8)
	for i := 7; i >= 0; i-- {
		l := &level{digit: byte('0' + i), result: &result}
		if i < 7 {
			l.next = levels[i+1]
		}
		levels[i] = l
	}

	err := env.Start(ctx, func(e *environment.Environment) error {
		coop := e.NewCooperation("priority-sequence", nil, disp.Binder())
		a := &Agent{Agent: e.NewAgent(coop.ID, agent.AbortOnException), chain: levels[0], result: &result}
		a.env = e
		coop.AddAgent(a.Agent, a, a, a, nil)
		return e.RegisterCooperation(coop)
	})
	return result.String(), err
}
