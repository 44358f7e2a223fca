// Package runtime hosts the per-instance machinery: the process-wide
// instance registry, the two live-reference propagation engines, and the
// dispatcher that wraps every API call with hook execution.
package runtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cldmv/slothlet/hook"
)

// Entry is one registered instance's live state. Self, Context and
// Reference are the targets live references resolve to; they are mutated in
// place so holders always observe current state.
type Entry struct {
	ID        string
	Self      any
	Context   map[string]any
	Reference map[string]any
	Config    any
	Hooks     *hook.Manager
}

// Registry is the process-wide map from instance id to entry. It is the
// only state instances share; the active slot serves the identity engine
// exclusively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	active  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// shared is the process-wide registry used by default.
var shared = NewRegistry()

// Shared returns the process-wide registry.
func Shared() *Registry { return shared }

// NewInstanceID mints a unique instance identifier.
func NewInstanceID() string {
	return "slothlet-" + uuid.NewString()
}

// Register adds an entry, minting an id when the entry has none.
func (r *Registry) Register(e *Entry) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = NewInstanceID()
	}
	r.entries[e.ID] = e
	return e.ID
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Update replaces one field of an entry through a mutator.
func (r *Registry) Update(id string, mutate func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	mutate(e)
	return true
}

// Cleanup removes the entry and clears the active slot when it pointed at
// the removed instance.
func (r *Registry) Cleanup(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	if r.active == id {
		r.active = ""
	}
}

// Activate sets the identity engine's currently active instance and
// returns the previous value so callers can restore it.
func (r *Registry) Activate(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.active
	r.active = id
	return prev
}

// ActiveEntry returns the identity engine's currently active instance.
func (r *Registry) ActiveEntry() (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil, false
	}
	e, ok := r.entries[r.active]
	return e, ok
}

// Len reports the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
