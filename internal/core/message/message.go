// Package message defines the wire-free, in-process message envelope that
// flows between mailboxes, dispatchers and agents.
package message

import (
	"reflect"
	"sync/atomic"
)

// Type is the subscription key: a hashable identity for an application
// message type. Two messages carry the same Type iff they were built from
// the same Go type, mirroring the source's std::type_index.
type Type = reflect.Type

// TypeOf returns the Type of a message payload. Passing a nil interface
// returns a nil Type; callers always have a concrete value or a Signal.
func TypeOf(v any) Type {
	return reflect.TypeOf(v)
}

// Signal is the distinguished zero-payload message: its Type is the sole
// carrier of information.
type Signal struct{}

// SignalType is the Type shared by every Signal value, used as a
// subscription key independent of any particular Signal instance.
var SignalType = TypeOf(Signal{})

// Ref is a reference-counted handle to a message payload. The runtime
// hands the same Ref to every subscriber of a delivery; handlers receive
// borrowed references and must not retain the payload after their handler
// returns without taking their own reference via Acquire.
//
// Go's garbage collector reclaims the payload regardless, but Ref still
// tracks fan-out explicitly so that an optional OnFree callback (e.g.
// returning a pooled buffer) fires exactly once, after the last
// subscriber is done — the "single-owner-then-shared" construct called
// for when porting reference-counted message graphs into a GC'd runtime.
type Ref struct {
	typ     Type
	payload any
	count   atomic.Int32
	onFree  func()
}

// NewRef wraps payload into a fresh, single-owner Ref.
func NewRef(payload any) *Ref {
	r := &Ref{typ: TypeOf(payload), payload: payload}
	r.count.Store(1)
	return r
}

// NewSignalRef wraps the zero-payload Signal message.
func NewSignalRef() *Ref {
	r := &Ref{typ: SignalType, payload: Signal{}}
	r.count.Store(1)
	return r
}

// OnFree registers a callback invoked exactly once when the last reference
// is released. Must be called before the Ref is shared with a second
// subscriber.
func (r *Ref) OnFree(fn func()) { r.onFree = fn }

// Type reports the subscription key of the wrapped payload.
func (r *Ref) Type() Type { return r.typ }

// Payload returns the borrowed payload. Callers must not mutate it: the
// same Ref fans out to every subscriber of a delivery.
func (r *Ref) Payload() any { return r.payload }

// IsSignal reports whether this Ref carries the zero-payload Signal.
func (r *Ref) IsSignal() bool { return r.typ == SignalType }

// Acquire increments the fan-out count before handing the Ref to an
// additional subscriber. The mailbox layer calls this once per subscriber
// beyond the first when it snapshots the subscription table.
func (r *Ref) Acquire() *Ref {
	r.count.Add(1)
	return r
}

// Release decrements the fan-out count. When it reaches zero the
// registered OnFree callback, if any, runs.
func (r *Ref) Release() {
	if r.count.Add(-1) == 0 && r.onFree != nil {
		r.onFree()
	}
}
