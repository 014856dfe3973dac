package environment

import (
	"time"

	"github.com/webitel/agentflow/internal/core/mailbox"
	"github.com/webitel/agentflow/internal/core/timer"
)

// Send is the generic send<T>(mailbox, payload) surface named in §6: it
// wraps payload into a message.Ref and delivers it through mb, tracing
// the delivery the same way SingleTimer/PeriodicTimer do.
func Send[T any](e *Environment, mb *mailbox.Mailbox, payload T) {
	e.deliverTraced(mb, "", payload)
}

// SendDelayed is send_delayed<T>(target, delay, payload): a one-shot
// scheduled send, returning the timer handle that controls it.
func SendDelayed[T any](e *Environment, mb *mailbox.Mailbox, payload T, delay time.Duration) timer.Handle {
	return e.SingleTimer(mb, payload, delay)
}

// SendPeriodic is send_periodic<T>(target, initial_delay, period,
// payload): a recurring scheduled send.
func SendPeriodic[T any](e *Environment, mb *mailbox.Mailbox, payload T, initialDelay, period time.Duration) timer.Handle {
	return e.PeriodicTimer(mb, payload, initialDelay, period)
}
