package cooperation

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/agentflow/internal/core/agent"
	"github.com/webitel/agentflow/internal/core/demand"
	"github.com/webitel/agentflow/internal/core/dispatcher"
	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopLookup(string) (mailbox.Queue, bool) { return nil, false }

// syncQueue invokes every pushed demand inline, on the pushing goroutine,
// so tests can observe on-start/on-finish side effects without wiring a
// real dispatcher worker loop.
type syncQueue struct{}

func (syncQueue) Push(d demand.Demand) error { return d.Invoke() }
func (syncQueue) Len() int                   { return 0 }

type syncDispatcher struct{}

func (syncDispatcher) Name() string { return "sync" }
func (syncDispatcher) Bind(dispatcher.BindSpec) (dispatcher.EventQueue, error) {
	return syncQueue{}, nil
}
func (syncDispatcher) Unbind(dispatcher.BindSpec) {}
func (syncDispatcher) Shutdown(bool)              {}
func (syncDispatcher) Stats() map[string]int      { return nil }

func defaultBinder() dispatcher.Binder { return dispatcher.Binder{Disp: syncDispatcher{}} }

type recordingDefiner struct {
	err      error
	defined  bool
}

func (d *recordingDefiner) Define(a *agent.Agent) error {
	d.defined = true
	return d.err
}

type recordingStarter struct{ started bool }

func (s *recordingStarter) OnStart() error {
	s.started = true
	return nil
}

type recordingFinisher struct{ finished bool }

func (f *recordingFinisher) OnFinish() error {
	f.finished = true
	return nil
}

func TestRegisterRunsDefineThenOnStartAndMarksActive(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	a := agent.New("a", "coop-1", agent.AbortOnException, noopLookup)
	def := &recordingDefiner{}
	start := &recordingStarter{}
	c.AddAgent(a, def, start, nil, nil)

	require.NoError(t, c.Register())
	require.True(t, def.defined)
	require.True(t, start.started)
	require.Equal(t, Active, c.State())
	require.Equal(t, agent.Running, a.State())
}

func TestRegisterRollsBackAllBindingsOnDefinitionFailure(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	a1 := agent.New("a1", "coop-1", agent.AbortOnException, noopLookup)
	a2 := agent.New("a2", "coop-1", agent.AbortOnException, noopLookup)

	boom := errors.New("boom")
	c.AddAgent(a1, &recordingDefiner{}, nil, nil, nil)
	c.AddAgent(a2, &recordingDefiner{err: boom}, nil, nil, nil)

	err := c.Register()
	require.ErrorIs(t, err, ErrDefinitionFailed)
	require.ErrorIs(t, err, boom)

	_, ok := a1.Queue()
	require.False(t, ok, "a1 must be unbound again after a2's Define fails")
	_, ok = a2.Queue()
	require.False(t, ok)
}

func TestAddChildRejectedOnceDeregistering(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	c.AddAgent(agent.New("a", "coop-1", agent.AbortOnException, noopLookup), nil, nil, nil, nil)
	require.NoError(t, c.Register())

	c.Deregister()
	err := c.AddChild(New("coop-2", "child", c, defaultBinder(), testLogger()))
	require.Error(t, err)
}

func TestDeregisterRunsChildrenDepthFirstBeforeOwnAgents(t *testing.T) {
	parent := New("parent", "parent", nil, defaultBinder(), testLogger())
	child := New("child", "child", parent, defaultBinder(), testLogger())
	require.NoError(t, parent.AddChild(child))

	var order []string
	parentFinisher := &orderRecordingFinisher{order: &order, name: "parent"}
	childFinisher := &orderRecordingFinisher{order: &order, name: "child"}

	parent.AddAgent(agent.New("pa", "parent", agent.AbortOnException, noopLookup), nil, nil, parentFinisher, nil)
	child.AddAgent(agent.New("ca", "child", agent.AbortOnException, noopLookup), nil, nil, childFinisher, nil)

	require.NoError(t, parent.Register())
	require.NoError(t, child.Register())

	parent.Deregister()
	require.Equal(t, []string{"child", "parent"}, order)
	require.Equal(t, Deregistered, parent.State())
	require.Equal(t, Deregistered, child.State())
}

type orderRecordingFinisher struct {
	order *[]string
	name  string
}

func (f *orderRecordingFinisher) OnFinish() error {
	*f.order = append(*f.order, f.name)
	return nil
}

func TestDeregisterUnsubscribesAndUnbindsEveryMember(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	a := agent.New("a", "coop-1", agent.AbortOnException, noopLookup)
	mb := mailbox.New("", noopLookup)
	c.AddAgent(a, nil, nil, nil, nil)
	require.NoError(t, c.Register())
	require.NoError(t, a.Subscribe(mb, message.TypeOf(0), func(*message.Ref) error { return nil }))

	c.Deregister()

	_, ok := a.Queue()
	require.False(t, ok)
	require.Equal(t, 0, mb.HasSubscribers(message.TypeOf(0)))
	require.Equal(t, agent.Deregistered, a.State())
}

func TestDeregisterIsIdempotent(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	c.AddAgent(agent.New("a", "coop-1", agent.AbortOnException, noopLookup), nil, nil, nil, nil)
	require.NoError(t, c.Register())

	c.Deregister()
	require.NotPanics(t, c.Deregister)
	require.Equal(t, Deregistered, c.State())
}

func TestRestartMemberReturnsErrorForUnknownAgent(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	err := c.RestartMember("ghost")
	require.Error(t, err)
}

func TestRestartMemberRedefinesAndRestartsOnStart(t *testing.T) {
	c := New("coop-1", "root", nil, defaultBinder(), testLogger())
	a := agent.New("a", "coop-1", agent.AbortOnException, noopLookup)
	def := &recordingDefiner{}
	start := &recordingStarter{}
	c.AddAgent(a, def, start, nil, nil)
	require.NoError(t, c.Register())

	def.defined = false
	start.started = false
	require.NoError(t, c.RestartMember("a"))
	require.True(t, def.defined)
	require.True(t, start.started)
}
