package mailbox

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrDuplicateName is returned by Registry.CreateNamed when a named mailbox
// already exists.
var ErrDuplicateName = errors.New("mailbox: duplicate name")

// Registry is the environment's mailbox table: it hands out fresh
// anonymous mailboxes and enforces name uniqueness for named ones (§4.1
// create-mbox).
type Registry struct {
	lookup QueueLookup

	mu   sync.Mutex
	byID map[string]*Mailbox
}

// NewRegistry constructs an empty registry bound to the given
// agent-to-queue lookup, shared by every mailbox it creates.
func NewRegistry(lookup QueueLookup) *Registry {
	return &Registry{lookup: lookup, byID: make(map[string]*Mailbox)}
}

// Create returns a fresh anonymous mailbox.
func (r *Registry) Create() *Mailbox {
	id := uuid.NewString()
	m := New(id, r.lookup)

	r.mu.Lock()
	r.byID[id] = m
	r.mu.Unlock()
	return m
}

// CreateNamed returns a fresh mailbox reachable by name, failing with
// ErrDuplicateName on conflict.
func (r *Registry) CreateNamed(name string) (*Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[name]; exists {
		return nil, fmt.Errorf("mailbox %q: %w", name, ErrDuplicateName)
	}
	m := New(name, r.lookup)
	r.byID[name] = m
	return m, nil
}

// Lookup resolves a mailbox by name.
func (r *Registry) Lookup(name string) (*Mailbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[name]
	return m, ok
}
