// Package threadpoolfifo implements the §8 "Thread-pool
// cooperation-FIFO" scenario: two cooperations of two agents each, each
// agent ping-ponging ten messages to itself, on an eight-worker
// thread-pool dispatcher. Every cooperation's monitor records the
// highest number of its demands ever observed executing concurrently;
// cooperation-FIFO (§8 property 3) requires that to never exceed one,
// even though the two member agents' demands may land on different
// workers across the burst.
package threadpoolfifo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher/threadpool"
	"github.com/webitel/agentflow/internal/core/environment"
)

const pings = 10

type msgPing struct{}

// monitor tracks, for one cooperation, the maximum number of its own
// demands ever observed in flight at the same time.
type monitor struct {
	active      atomic.Int32
	maxObserved atomic.Int32
}

func (m *monitor) enter() func() {
	n := m.active.Add(1)
	for {
		old := m.maxObserved.Load()
		if n <= old || m.maxObserved.CompareAndSwap(old, n) {
			break
		}
	}
	// A short hold widens the race window a concurrent second worker
	// would need to land in, making an accidental FIFO violation in the
	// dispatcher far more likely to show up here than with an
	// instantaneous critical section.
	time.Sleep(200 * time.Microsecond)
	return func() { m.active.Add(-1) }
}

// Agent ping-pongs itself pings times before reporting to done.
type Agent struct {
	*agent.Agent
	env       *environment.Environment
	mon       *monitor
	remaining int
	done      func()
}

func (a *Agent) Define(*agent.Agent) error {
	return agent.SubscribeT(a.Agent, a.Direct, a.onPing)
}

func (a *Agent) onPing(*msgPing) error {
	exit := a.mon.enter()
	defer exit()

	a.remaining--
	if a.remaining > 0 {
		environment.Send(a.env, a.Direct, msgPing{})
		return nil
	}
	a.done()
	return nil
}

func (a *Agent) OnStart() error {
	environment.Send(a.env, a.Direct, msgPing{})
	return nil
}

func (a *Agent) OnFinish() error { return nil }

// Result reports, per cooperation name, the highest number of demands
// its monitor ever observed in flight at once (more than one is a
// cooperation-FIFO violation).
type Result struct {
	MaxObserved map[string]int32
}

// Run executes the scenario on an eight-worker thread-pool dispatcher
// and returns the per-cooperation overlap observations.
func Run(ctx context.Context, env *environment.Environment, disp *threadpool.Dispatcher) (Result, error) {
	result := Result{MaxObserved: make(map[string]int32, 2)}
	var wg sync.WaitGroup
	wg.Add(4) // 2 cooperations * 2 agents

	monitors := map[string]*monitor{"coop-a": {}, "coop-b": {}}

	err := env.Start(ctx, func(e *environment.Environment) error {
		for _, coopName := range []string{"coop-a", "coop-b"} {
			coop := e.NewCooperation(coopName, nil, disp.Binder())
			mon := monitors[coopName]
			for i := 0; i < 2; i++ {
				a := &Agent{
					Agent:     e.NewAgent(coop.ID, agent.AbortOnException),
					env:       e,
					mon:       mon,
					remaining: pings,
					done:      wg.Done,
				}
				coop.AddAgent(a.Agent, a, a, a, nil)
			}
			if err := e.RegisterCooperation(coop); err != nil {
				return err
			}
		}
		go func() {
			wg.Wait()
			for name, mon := range monitors {
				result.MaxObserved[name] = mon.maxObserved.Load()
			}
			e.Stop()
		}()
		return nil
	})

	for name, max := range result.MaxObserved {
		fmt.Printf("%s: max concurrent demands = %d\n", name, max)
	}
	return result, err
}
