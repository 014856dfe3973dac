// Package environment implements the process-wide container described
// in §4.1: it owns the named dispatchers, the timer service, the
// mailbox registry and the cooperation registry, and it drives the
// environment's start/stop sequence.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/agentflow/internal/adapter/resilience"
	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/cooperation"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
	"github.com/webitel/agentflow/internal/core/timer"
)

// Tracer is invoked on every delivery (message_delivery_tracer, §6). The
// default is a no-op; adapters such as internal/adapter/livetrace,
// internal/adapter/metrics and internal/adapter/bridge implement it.
type Tracer func(event TraceEvent)

// TraceEvent is the payload handed to a Tracer on each delivery.
type TraceEvent struct {
	AgentID       string
	CooperationID string
	MessageType   string
	At            time.Time
}

// ComposeTracers fans one TraceEvent out to every sink in order. Useful
// when more than one collaborator (livetrace, metrics, bridge) wants the
// same message_delivery_tracer hook.
func ComposeTracers(sinks ...Tracer) Tracer {
	return func(event TraceEvent) {
		for _, s := range sinks {
			if s != nil {
				s(event)
			}
		}
	}
}

// Environment is the process-wide actor-runtime container.
type Environment struct {
	logger *slog.Logger
	tracer Tracer

	timerSvc *timer.Service

	mu          sync.Mutex
	dispatchers map[string]dispatcher.Dispatcher
	coops       map[string]*cooperation.Cooperation
	agents      map[string]*agent.Agent
	coopCounter int
	shutdown    bool

	mailboxes *mailbox.Registry
	escalator *resilience.Escalator

	stopOnce sync.Once
	doneCh   chan struct{}
}

// Option configures an Environment at construction time.
type Option func(*Environment)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) { e.logger = l }
}

// WithTracer installs a message_delivery_tracer sink.
func WithTracer(t Tracer) Option {
	return func(e *Environment) { e.tracer = t }
}

// WithTimerResolution overrides the timer service's tick resolution.
func WithTimerResolution(d time.Duration) Option {
	return func(e *Environment) {
		e.timerSvc.Stop()
		e.timerSvc = timer.NewService(d)
	}
}

// New constructs an Environment. Dispatchers must be registered with
// AddNamedDispatcher before Start is called.
func New(opts ...Option) *Environment {
	e := &Environment{
		logger:      slog.Default(),
		tracer:      func(TraceEvent) {},
		timerSvc:    timer.NewService(time.Millisecond),
		dispatchers: make(map[string]dispatcher.Dispatcher),
		coops:       make(map[string]*cooperation.Cooperation),
		agents:      make(map[string]*agent.Agent),
		doneCh:      make(chan struct{}),
		escalator:   resilience.NewEscalator(),
	}
	e.mailboxes = mailbox.NewRegistry(e.queueLookup)
	return e
}

// reactionHooksFor builds the agent.ReactionHooks this environment
// supplies for a, scoped to coop: shutdown-environment calls Stop,
// deregister-coop calls DeregisterCooperation, and restart-agent goes
// through the resilience escalator before it ever reaches
// coop.RestartMember, so repeated failures trip a breaker instead of
// restarting forever.
func (e *Environment) reactionHooksFor(coop *cooperation.Cooperation, a *agent.Agent) agent.ReactionHooks {
	return agent.ReactionHooks{
		ShutdownEnvironment: e.Stop,
		// Deregistration waits for every member's on-finish demand to
		// drain, which may be queued behind the very handler invocation
		// that triggered this reaction. Running it on its own goroutine
		// avoids a single-worker dispatcher deadlocking on itself, the
		// same hazard Stop works around.
		DeregisterCoop: func(cooperationID string) {
			go e.DeregisterCooperation(coop.Name)
		},
		RestartAgent: func(target *agent.Agent) error {
			return e.escalator.Guard(target.ID, func() error {
				return coop.RestartMember(target.ID)
			})
		},
	}
}

// QueueLookup exposes the environment's agent-to-dispatcher-queue
// resolution as a mailbox.QueueLookup, for collaborators (e.g.
// internal/core/svcrequest's chained forwarding) that need to push a
// demand directly to a known agent without going through mailbox
// fan-out.
func (e *Environment) QueueLookup() mailbox.QueueLookup { return e.queueLookup }

// queueLookup adapts the environment's agent table to mailbox.QueueLookup.
func (e *Environment) queueLookup(agentID string) (mailbox.Queue, bool) {
	e.mu.Lock()
	a, ok := e.agents[agentID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return a.Queue()
}

// AddNamedDispatcher registers a shared dispatcher reachable by name
// (§6 "add_named_dispatcher(name, disp)").
func (e *Environment) AddNamedDispatcher(name string, d dispatcher.Dispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchers[name] = d
}

// Dispatcher resolves a previously-registered named dispatcher.
func (e *Environment) Dispatcher(name string) (dispatcher.Dispatcher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.dispatchers[name]
	if !ok {
		return nil, fmt.Errorf("dispatcher %q: %w", name, ErrUnknownDispatcher)
	}
	return d, nil
}

// Timer exposes the timer service for SingleTimer/PeriodicTimer-style
// helpers built on top of it.
func (e *Environment) Timer() *timer.Service { return e.timerSvc }

// Done returns a channel closed once Start's blocking call has returned,
// letting an external driver (e.g. an fx.Lifecycle OnStop hook) wait for
// a Stop it issued to actually finish draining without itself blocking
// inside Start.
func (e *Environment) Done() <-chan struct{} { return e.doneCh }

// Snapshot reports a point-in-time view of the environment for the
// diagnostics and metrics adapters: queue depths per dispatcher, the
// timer heap's size, and cooperation/agent counts.
type Snapshot struct {
	Dispatchers map[string]map[string]int
	TimerQueued int
	Agents      int
	Cooperations int
}

// Snapshot builds a Snapshot under the environment's registries lock.
func (e *Environment) Snapshot() Snapshot {
	e.mu.Lock()
	dispatchers := make([]dispatcher.Dispatcher, 0, len(e.dispatchers))
	for _, d := range e.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	snap := Snapshot{
		Dispatchers: make(map[string]map[string]int, len(dispatchers)),
		Agents:      len(e.agents),
		Cooperations: len(e.coops),
	}
	e.mu.Unlock()

	for _, d := range dispatchers {
		snap.Dispatchers[d.Name()] = d.Stats()
	}
	snap.TimerQueued = e.timerSvc.Len()
	return snap
}

// CreateMbox returns a fresh anonymous local mailbox.
func (e *Environment) CreateMbox() *mailbox.Mailbox {
	return e.mailboxes.Create()
}

// CreateNamedMbox returns a fresh named mailbox, failing with
// ErrDuplicateMboxName on conflict.
func (e *Environment) CreateNamedMbox(name string) (*mailbox.Mailbox, error) {
	m, err := e.mailboxes.CreateNamed(name)
	if err != nil {
		return nil, fmt.Errorf("%w", ErrDuplicateMboxName)
	}
	return m, nil
}

// NamedMbox looks up a previously-created named mailbox.
func (e *Environment) NamedMbox(name string) (*mailbox.Mailbox, bool) {
	return e.mailboxes.Lookup(name)
}

// SingleTimer schedules a one-shot delivery of payload into mb after
// delay, returning the timer handle that controls it (§4.1, §4.3).
func (e *Environment) SingleTimer(mb *mailbox.Mailbox, payload any, delay time.Duration) timer.Handle {
	return e.timerSvc.Single(delay, func() {
		e.deliverTraced(mb, "", payload)
	})
}

// PeriodicTimer schedules a recurring delivery of payload into mb, first
// after initialDelay then every period.
func (e *Environment) PeriodicTimer(mb *mailbox.Mailbox, payload any, initialDelay, period time.Duration) timer.Handle {
	return e.timerSvc.Periodic(initialDelay, period, func() {
		e.deliverTraced(mb, "", payload)
	})
}

func (e *Environment) deliverTraced(mb *mailbox.Mailbox, agentID string, payload any) {
	ref := message.NewRef(payload)
	e.tracer(TraceEvent{AgentID: agentID, MessageType: ref.Type().String(), At: time.Now()})
	mb.Deliver(ref)
}

// NewAgent builds a fresh agent bound to this environment's mailbox
// lookup, with an auto-generated ID.
func (e *Environment) NewAgent(cooperationID string, reaction agent.ExceptionReaction) *agent.Agent {
	return agent.New(uuid.NewString(), cooperationID, reaction, e.queueLookup)
}

// NewCooperation builds a fresh cooperation. name may be empty, in which
// case an anonymous name is generated from an environment-wide counter.
func (e *Environment) NewCooperation(name string, parent *cooperation.Cooperation, defaultBinder dispatcher.Binder) *cooperation.Cooperation {
	e.mu.Lock()
	if name == "" {
		e.coopCounter++
		name = fmt.Sprintf("coop-%d-%s", e.coopCounter, uuid.NewString())
	}
	e.mu.Unlock()

	return cooperation.New(uuid.NewString(), name, parent, defaultBinder, e.logger)
}

// RegisterCooperation runs the transactional registration protocol of
// §4.4 and, on success, publishes the cooperation's agents into the
// environment's global lookup table and name registry.
func (e *Environment) RegisterCooperation(coop *cooperation.Cooperation) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := e.coops[coop.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("cooperation %q: %w", coop.Name, ErrDuplicateCoopName)
	}
	e.mu.Unlock()

	if coop.Parent != nil {
		if err := coop.Parent.AddChild(coop); err != nil {
			return err
		}
	}

	agents := coop.Agents()
	for _, a := range agents {
		a.SetReactionHooks(e.reactionHooksFor(coop, a))
	}

	if err := coop.Register(); err != nil {
		return err
	}

	e.mu.Lock()
	e.coops[coop.Name] = coop
	for _, a := range agents {
		e.agents[a.ID] = a
	}
	e.mu.Unlock()
	return nil
}

// DeregisterCooperation runs the deregistration protocol of §4.4 for a
// single named cooperation (used by the deregister-coop exception
// reaction, and internally by Stop for every root cooperation).
func (e *Environment) DeregisterCooperation(name string) {
	e.mu.Lock()
	coop, ok := e.coops[name]
	if ok {
		delete(e.coops, name)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	for _, a := range coop.Agents() {
		e.mu.Lock()
		delete(e.agents, a.ID)
		e.mu.Unlock()
		e.escalator.Forget(a.ID)
	}

	coop.Deregister()

	e.mu.Lock()
	dispatchers := make([]dispatcher.Dispatcher, 0, len(e.dispatchers))
	for _, d := range e.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	e.mu.Unlock()
	for _, d := range dispatchers {
		if aware, ok := d.(dispatcher.CooperationAware); ok {
			aware.RemoveCooperation(coop.ID)
		}
	}
}

// Start constructs no additional dispatchers (those must already be
// registered via AddNamedDispatcher); it starts any dispatcher that
// needs an explicit kick, invokes bootstrap (during which cooperations
// may be registered), then blocks until Stop is called.
func (e *Environment) Start(ctx context.Context, bootstrap func(*Environment) error) error {
	e.mu.Lock()
	dispatchers := make([]dispatcher.Dispatcher, 0, len(e.dispatchers))
	for _, d := range e.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	e.mu.Unlock()

	for _, d := range dispatchers {
		if s, ok := d.(dispatcher.Starter); ok {
			s.Start()
		}
	}

	if err := bootstrap(e); err != nil {
		return fmt.Errorf("environment bootstrap: %w", err)
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.Stop()
			case <-e.doneCh:
			}
		}()
	}

	<-e.doneCh
	return nil
}

// Stop signals shutdown and returns immediately: it only *schedules* the
// teardown. This matters because agent code (e.g. an on-start handler)
// may call Stop from inside a dispatcher worker goroutine — if Stop
// itself blocked waiting for that same dispatcher to drain, the worker
// would deadlock waiting on itself. The actual deregistration of every
// root cooperation, depth-first from its leaves, followed by dispatcher
// and timer shutdown, runs on a dedicated goroutine; Start's blocking
// call returns once that goroutine finishes.
func (e *Environment) Stop() {
	e.stopOnce.Do(func() {
		go e.runShutdown()
	})
}

func (e *Environment) runShutdown() {
	e.mu.Lock()
	e.shutdown = true
	roots := make([]*cooperation.Cooperation, 0)
	for _, coop := range e.coops {
		if coop.Parent == nil {
			roots = append(roots, coop)
		}
	}
	e.mu.Unlock()

	for _, coop := range roots {
		e.DeregisterCooperation(coop.Name)
	}

	e.mu.Lock()
	dispatchers := make([]dispatcher.Dispatcher, 0, len(e.dispatchers))
	for _, d := range e.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	e.mu.Unlock()
	for _, d := range dispatchers {
		d.Shutdown(true)
	}

	e.timerSvc.Stop()

	close(e.doneCh)
}
