package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	boundSpecs   []BindSpec
	unboundSpecs []BindSpec
}

func (f *fakeDispatcher) Name() string { return "fake" }

func (f *fakeDispatcher) Bind(spec BindSpec) (EventQueue, error) {
	f.boundSpecs = append(f.boundSpecs, spec)
	return NewQueue(), nil
}

func (f *fakeDispatcher) Unbind(spec BindSpec) { f.unboundSpecs = append(f.unboundSpecs, spec) }

func (f *fakeDispatcher) Shutdown(bool) {}

func (f *fakeDispatcher) Stats() map[string]int { return nil }

func TestBinderBindThreadsAgentAndCooperationID(t *testing.T) {
	fd := &fakeDispatcher{}
	b := Binder{Disp: fd, Group: "g1"}

	_, err := b.Bind("agent-1", "coop-1")
	require.NoError(t, err)
	require.Equal(t, []BindSpec{{AgentID: "agent-1", CooperationID: "coop-1", Group: "g1"}}, fd.boundSpecs)

	b.Unbind("agent-1", "coop-1")
	require.Equal(t, []BindSpec{{AgentID: "agent-1", CooperationID: "coop-1", Group: "g1"}}, fd.unboundSpecs)
}

var _ EventQueue = (*Queue)(nil)
