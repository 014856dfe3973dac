package agent

import (
	"fmt"

	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/message"
)

// SubscribeT is the generic subscribe(mailbox).event(handler) surface of
// §6 for a concrete payload type T, mirroring statechart.EventT's
// template shape.
func SubscribeT[T any](a *Agent, mb *mailbox.Mailbox, handler func(*T) error) error {
	t := message.TypeOf(*new(T))
	return a.Subscribe(mb, t, func(ref *message.Ref) error {
		payload, ok := ref.Payload().(T)
		if !ok {
			return fmt.Errorf("agent: event payload is not %T", payload)
		}
		return handler(&payload)
	})
}

// SubscribeSignal is SubscribeT specialised for message.Signal, the
// subscribe(mailbox).event<Signal>(handler) form.
func SubscribeSignal(a *Agent, mb *mailbox.Mailbox, handler func() error) error {
	return a.Subscribe(mb, message.SignalType, func(*message.Ref) error { return handler() })
}
