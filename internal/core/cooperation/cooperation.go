// Package cooperation implements the atomic group-registration and
// group-deregistration machinery of §4.4: a cooperation brings all of
// its agents into existence together, or none of them, and tears them
// down depth-first from its children up.
package cooperation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/message"
)

// State is one of the four lifecycle states named in §3.
type State int32

const (
	Registering State = iota
	Active
	Deregistering
	Deregistered
)

// ErrDefinitionFailed wraps a failure from an agent's Define call during
// registration. Per SPEC_FULL's Open Question decision, a definition
// failure rolls back every sibling already defined in the same
// cooperation — registration is all-or-nothing.
var ErrDefinitionFailed = errors.New("cooperation: agent definition failed")

type member struct {
	agent   *agent.Agent
	definer agent.Definer
	starter agent.Starter
	finisher agent.Finisher
	binder  *dispatcher.Binder // nil means "use the cooperation default"
}

// Cooperation is an atomic group of agents, optionally nested under a
// parent cooperation.
type Cooperation struct {
	ID     string
	Name   string
	Parent *Cooperation

	defaultBinder dispatcher.Binder
	logger        *slog.Logger

	mu       sync.Mutex
	state    State
	members  []*member
	children map[string]*Cooperation
}

// New constructs a cooperation in the Registering state, not yet
// attached to the environment's name registry.
func New(id, name string, parent *Cooperation, defaultBinder dispatcher.Binder, logger *slog.Logger) *Cooperation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cooperation{
		ID:            id,
		Name:          name,
		Parent:        parent,
		defaultBinder: defaultBinder,
		logger:        logger,
		children:      make(map[string]*Cooperation),
	}
}

// State returns the cooperation's current lifecycle state.
func (c *Cooperation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Agents returns every agent enrolled in this cooperation, for the
// environment's global agent-lookup table.
func (c *Cooperation) Agents() []*agent.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*agent.Agent, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m.agent)
	}
	return out
}

// AddAgent enrolls a into the cooperation's registration batch. binder,
// if non-nil, overrides the cooperation's default dispatcher binder for
// this agent alone (§4.4 step 2). Must be called before Register.
func (c *Cooperation) AddAgent(a *agent.Agent, definer agent.Definer, starter agent.Starter, finisher agent.Finisher, binder *dispatcher.Binder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = append(c.members, &member{agent: a, definer: definer, starter: starter, finisher: finisher, binder: binder})
}

// AddChild registers a nested cooperation, rejected once this
// cooperation has begun deregistering (§4.4 step 1).
func (c *Cooperation) AddChild(child *Cooperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Deregistering || c.state == Deregistered {
		return fmt.Errorf("cooperation %s: parent is shutting down", c.Name)
	}
	c.children[child.ID] = child
	return nil
}

// Register runs the transactional registration protocol of §4.4:
// binder resolution, agent definition, then on-start publication. Any
// failure undoes every binding made so far and leaves no agent
// partially registered.
func (c *Cooperation) Register() error {
	c.mu.Lock()
	members := append([]*member(nil), c.members...)
	c.mu.Unlock()

	bound := make([]*member, 0, len(members))

	// Step 1/2: resolve + apply dispatcher binding for every agent.
	for _, m := range members {
		binder := c.defaultBinder
		if m.binder != nil {
			binder = *m.binder
		}
		if err := m.agent.BindTo(binder); err != nil {
			unbindAll(bound)
			return fmt.Errorf("cooperation %s: %w", c.Name, err)
		}
		bound = append(bound, m)
	}

	// Step 3: invoke Define on each agent, single-threaded, in
	// registration order.
	for i, m := range members {
		if m.definer == nil {
			continue
		}
		if err := m.definer.Define(m.agent); err != nil {
			unbindAll(bound)
			c.logger.Error("COOP_DEFINE_FAILED",
				slog.String("cooperation", c.Name),
				slog.Int("agent_index", i),
				slog.Any("err", err))
			return fmt.Errorf("cooperation %s: %w: %w", c.Name, ErrDefinitionFailed, err)
		}
	}

	c.mu.Lock()
	c.state = Active
	c.mu.Unlock()

	// Step 4: publish on-start demands.
	for _, m := range members {
		m := m
		if m.starter == nil {
			m.agent.MarkRunning()
			continue
		}
		handler := func(ref *message.Ref) error {
			m.agent.MarkRunning()
			return m.starter.OnStart()
		}
		if err := m.agent.SelfSend(message.NewSignalRef(), handler); err != nil {
			c.logger.Error("COOP_ON_START_PUBLISH_FAILED",
				slog.String("cooperation", c.Name),
				slog.String("agent_id", m.agent.ID),
				slog.Any("err", err))
		}
	}

	c.logger.Info("COOP_REGISTERED", slog.String("cooperation", c.Name), slog.Int("agents", len(members)))
	return nil
}

// RestartMember re-runs Define and, if present, OnStart for the single
// member identified by agentID, implementing the restart-agent exception
// reaction (§4.5). Returns an error naming the agent if no such member is
// enrolled, letting the caller (normally the restart-agent reaction
// itself) escalate.
func (c *Cooperation) RestartMember(agentID string) error {
	c.mu.Lock()
	var target *member
	for _, m := range c.members {
		if m.agent.ID == agentID {
			target = m
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return fmt.Errorf("cooperation %s: restart-agent: no such member %s", c.Name, agentID)
	}
	if target.definer != nil {
		if err := target.definer.Define(target.agent); err != nil {
			return fmt.Errorf("cooperation %s: restart-agent: redefine failed: %w", c.Name, err)
		}
	}
	if target.starter != nil {
		if err := target.starter.OnStart(); err != nil {
			return fmt.Errorf("cooperation %s: restart-agent: on-start failed: %w", c.Name, err)
		}
	}
	c.logger.Info("AGENT_RESTARTED", slog.String("cooperation", c.Name), slog.String("agent_id", agentID))
	return nil
}

func unbindAll(members []*member) {
	for _, m := range members {
		m.agent.Unbind()
	}
}

// Deregister runs the protocol of §4.4: children first, depth-first,
// then this cooperation's own agents, waiting for each on-finish demand
// to drain before unbinding.
func (c *Cooperation) Deregister() {
	c.mu.Lock()
	if c.state == Deregistering || c.state == Deregistered {
		c.mu.Unlock()
		return
	}
	c.state = Deregistering
	children := make([]*Cooperation, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}
	members := append([]*member(nil), c.members...)
	c.mu.Unlock()

	for _, child := range children {
		child.Deregister()
	}

	var wg sync.WaitGroup
	for _, m := range members {
		m := m
		wg.Add(1)
		m.agent.MarkDeregistering()
		m.agent.UnsubscribeAll()

		finished := make(chan struct{})
		handler := func(ref *message.Ref) error {
			defer close(finished)
			if m.finisher == nil {
				return nil
			}
			return m.finisher.OnFinish()
		}
		if err := m.agent.SelfSend(message.NewSignalRef(), handler); err != nil {
			close(finished)
		}

		go func() {
			defer wg.Done()
			<-finished
			m.agent.Unbind()
			m.agent.MarkDeregistered()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.state = Deregistered
	c.mu.Unlock()

	if c.Parent != nil {
		c.Parent.removeChild(c.ID)
	}
	c.logger.Info("COOP_DEREGISTERED", slog.String("cooperation", c.Name))
}

func (c *Cooperation) removeChild(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.children, id)
}
