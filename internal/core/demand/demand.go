// Package demand defines the internal unit of work a dispatcher queue
// carries: a message handed to one particular agent's handler.
package demand

import (
	"github.com/webitel/agentflow/internal/core/message"
)

// Handler is the application-supplied closure invoked for a demand. It
// receives the borrowed message Ref; the Ref remains valid for the
// duration of the call.
type Handler func(ref *message.Ref) error

// Demand is produced by mailbox delivery or timer expiry, enqueued on a
// dispatcher's event queue, and consumed by exactly one worker.
type Demand struct {
	Ref     *message.Ref
	Type    message.Type
	AgentID string
	Handler Handler
}

// New builds a Demand targeting a single (agent, handler) subscriber.
func New(ref *message.Ref, agentID string, handler Handler) Demand {
	return Demand{Ref: ref, Type: ref.Type(), AgentID: agentID, Handler: handler}
}

// Invoke runs the demand's handler and releases its reference to the
// message once the handler returns, regardless of outcome.
func (d Demand) Invoke() error {
	defer d.Ref.Release()
	return d.Handler(d.Ref)
}
