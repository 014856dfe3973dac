package environment

import "errors"

// Error kinds surfaced to callers, per §7.
var (
	ErrDuplicateCoopName = errors.New("environment: duplicate cooperation name")
	ErrDuplicateMboxName = errors.New("environment: duplicate mailbox name")
	ErrBindingFailure    = errors.New("environment: dispatcher binding failure")
	ErrUnknownDispatcher = errors.New("environment: unknown named dispatcher")
	ErrShuttingDown      = errors.New("environment: shutting down, no new cooperations accepted")
)
