// Package intercom implements the §8 "Intercom state-chart" scenario: a
// controller accumulates typed digits, checks them against an apartment
// table on the bell signal, transitions into a dialling state if the
// apartment exists, and falls back to wait_activity with a "No Answer"
// message if nothing answers within the configured timeout.
//
// Grounded on
// original_source/dev/sample/so_5/intercom_statechart/main.cpp, which
// builds the same controller directly out of agent states.
package intercom

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/environment"
	"github.com/webitel/agentflow/internal/core/statechart"
	"github.com/webitel/agentflow/internal/core/timer"
)

type msgDigit struct{ Digit byte }
type msgBell struct{}
type msgNoAnswer struct{}

// Agent is the intercom controller.
type Agent struct {
	*agent.Agent
	env        *environment.Environment
	apartments map[string]bool
	noAnswer   time.Duration

	machine      *statechart.Machine
	waitActivity *statechart.State
	dialling     *statechart.State

	buffer       []byte
	pendingTimer timer.Handle
}

// Define builds the two-state machine: wait_activity accumulates digits
// and watches for the bell; dialling starts (and, on exit, cancels) the
// no-answer timeout.
func (a *Agent) Define(*agent.Agent) error {
	m := statechart.New(a.Agent)
	a.machine = m

	a.waitActivity = m.NewState("wait_activity", nil)
	a.dialling = m.NewState("dialling", nil)

	a.waitActivity.OnEnter(func() { a.buffer = a.buffer[:0] })
	statechart.EventT[msgDigit](a.waitActivity, a.Direct, a.onDigit)
	statechart.EventT[msgBell](a.waitActivity, a.Direct, a.onBell)

	a.dialling.OnEnter(a.onEnterDialling)
	a.dialling.OnExit(a.onExitDialling)
	statechart.EventT[msgNoAnswer](a.dialling, a.Direct, a.onNoAnswer)

	return m.TransitionTo(a.waitActivity)
}

func (a *Agent) onDigit(d *msgDigit) error {
	a.buffer = append(a.buffer, d.Digit)
	return nil
}

func (a *Agent) onBell(*msgBell) error {
	apt := string(a.buffer)
	if !a.apartments[apt] {
		fmt.Printf("unknown apartment %q\n", apt)
		a.buffer = a.buffer[:0]
		return nil
	}
	return a.machine.TransitionTo(a.dialling)
}

func (a *Agent) onEnterDialling() {
	fmt.Printf("dialling apartment %q\n", string(a.buffer))
	a.pendingTimer = environment.SendDelayed(a.env, a.Direct, msgNoAnswer{}, a.noAnswer)
}

func (a *Agent) onExitDialling() {
	a.pendingTimer.Cancel()
}

func (a *Agent) onNoAnswer(*msgNoAnswer) error {
	fmt.Println("No Answer")
	if err := a.machine.TransitionTo(a.waitActivity); err != nil {
		return err
	}
	a.env.Stop()
	return nil
}

func (a *Agent) OnStart() error { return nil }

func (a *Agent) OnFinish() error { return nil }

// Run types digits (each byte of digits, '0'-'9') followed by a bell
// press, then blocks until the no-answer timeout fires and the
// environment shuts down.
func Run(ctx context.Context, env *environment.Environment, disp *onethread.Dispatcher, apartments map[string]bool, digits string, noAnswerTimeout time.Duration) error {
	var a *Agent
	return env.Start(ctx, func(e *environment.Environment) error {
		coop := e.NewCooperation("intercom", nil, disp.Binder())
		a = &Agent{
			Agent:      e.NewAgent(coop.ID, agent.AbortOnException),
			env:        e,
			apartments: apartments,
			noAnswer:   noAnswerTimeout,
		}
		coop.AddAgent(a.Agent, a, a, a, nil)
		if err := e.RegisterCooperation(coop); err != nil {
			return err
		}
		for i := 0; i < len(digits); i++ {
			environment.Send(e, a.Direct, msgDigit{Digit: digits[i]})
		}
		environment.Send(e, a.Direct, msgBell{})
		return nil
	})
}
