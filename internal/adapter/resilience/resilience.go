// Package resilience puts a circuit breaker around the restart-agent
// exception reaction (§4.4, §4.5). Escalator runs each agent's restart
// attempt through its own breaker. A restart that returns an error counts
// as a breaker failure and Guard returns it; once three restarts in a row
// have failed the breaker trips and Guard returns gobreaker.ErrOpenState.
// The agent package's exception-reaction dispatch escalates any non-nil
// Guard result to deregister-coop. A restart that succeeds resets the
// count, so the breaker does not limit how often an agent whose handler
// keeps failing, but whose restarts succeed, is restarted.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// RestartFunc re-runs an agent's define/on-start pair. A non-nil return
// counts as a breaker failure.
type RestartFunc func() error

// Escalator owns one circuit breaker per agent, created lazily on first
// use so agents that never fail never pay for one.
type Escalator struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	maxConsecutiveFailures uint32
	openTimeout            time.Duration
}

// NewEscalator builds an Escalator with the default policy: three
// consecutive restart failures, with no successful restart between them,
// trip it, and a tripped breaker stays open for thirty seconds before allowing
// a single probe restart through.
func NewEscalator() *Escalator {
	return &Escalator{
		breakers:               make(map[string]*gobreaker.CircuitBreaker),
		maxConsecutiveFailures: 3,
		openTimeout:            30 * time.Second,
	}
}

func (e *Escalator) breakerFor(agentID string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[agentID]; ok {
		return cb
	}

	threshold := e.maxConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "agent-restart:" + agentID,
		Timeout: e.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	e.breakers[agentID] = cb
	return cb
}

// Guard runs restart through agentID's breaker. It returns the restart
// error directly on an ordinary failure, or gobreaker.ErrOpenState once
// the breaker has tripped — either way, a non-nil return tells the
// caller to escalate.
func (e *Escalator) Guard(agentID string, restart RestartFunc) error {
	cb := e.breakerFor(agentID)
	_, err := cb.Execute(func() (any, error) {
		return nil, restart()
	})
	return err
}

// Forget drops agentID's breaker, called once its cooperation finishes
// deregistering so a later agent reusing the same ID (unlikely, since
// IDs are UUIDs, but cheap to guard against) starts with a clean slate.
func (e *Escalator) Forget(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.breakers, agentID)
}
