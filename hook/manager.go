// Package hook implements the per-instance interceptor registry: priority
// ordered, pattern matched before/after/always/error hooks wrapping every
// API call.
package hook

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Type classifies when a hook runs relative to the wrapped call.
type Type string

const (
	// Before hooks run ahead of the target and may replace arguments or
	// short-circuit the call.
	Before Type = "before"
	// After hooks transform a successful result.
	After Type = "after"
	// Always hooks observe a call that completed or was short-circuited;
	// they do not run when the call or a before/after hook fails.
	Always Type = "always"
	// Error hooks observe failures; they never alter the outcome.
	Error Type = "error"
)

// DefaultPriority orders hooks registered without an explicit priority.
const DefaultPriority = 1000

// Event carries the call state into a handler. Before hooks see Args;
// after/always hooks see Result; error hooks see Err and the Source stage
// that produced it.
type Event struct {
	Path   string
	Args   []any
	Result any
	Err    error
	Source string
}

// Handler is a hook body. For before hooks the returned value steers the
// pipeline: nil continues, []any replaces the argument list, anything else
// short-circuits the call and becomes its result. For after hooks a non-nil
// return replaces the result. Always and error hook returns are ignored.
type Handler func(ctx context.Context, ev *Event) (any, error)

// Hook is one registered interceptor.
type Hook struct {
	ID       string
	Type     Type
	Priority int
	Pattern  *Pattern
	Handler  Handler
	order    int
}

// Info is the read-only listing form of a hook.
type Info struct {
	ID       string
	Type     Type
	Priority int
	Pattern  string
}

// Option adjusts a registration.
type Option func(*Hook)

// WithPriority sets the hook's priority; higher runs earlier.
func WithPriority(priority int) Option {
	return func(h *Hook) { h.Priority = priority }
}

// WithPattern restricts the hook to paths matching a dotted glob.
func WithPattern(pattern string) Option {
	return func(h *Hook) {
		p, err := CompilePattern(pattern)
		if err != nil {
			panic(err)
		}
		h.Pattern = p
	}
}

// Manager is one instance's hook registry. A global gate plus additive
// pattern filters decide which paths are observed at all; selection for a
// call filters by type and pattern, then orders by priority descending with
// registration order breaking ties.
type Manager struct {
	mu       sync.RWMutex
	hooks    []*Hook
	nextID   int
	enabled  bool
	filters  []*Pattern
	seen     map[error]struct{}
	seenFIFO []error
	log      *zap.Logger
}

// maxSeenErrors bounds the once-per-error dedup set.
const maxSeenErrors = 1024

// NewManager creates an enabled, empty manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{enabled: true, seen: map[error]struct{}{}, log: log}
}

// On registers a handler and returns its id.
func (m *Manager) On(typ Type, handler Handler, options ...Option) (string, error) {
	switch typ {
	case Before, After, Always, Error:
	default:
		return "", fmt.Errorf("unknown hook type %q", typ)
	}
	if handler == nil {
		return "", fmt.Errorf("nil hook handler")
	}
	pattern, err := CompilePattern("**")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := &Hook{
		ID:       string(typ) + "-" + strconv.Itoa(m.nextID),
		Type:     typ,
		Priority: DefaultPriority,
		Pattern:  pattern,
		Handler:  handler,
		order:    m.nextID,
	}
	for _, opt := range options {
		if opt != nil {
			opt(h)
		}
	}
	m.hooks = append(m.hooks, h)
	return h.ID, nil
}

// Off removes hooks by id or by exact pattern text; it returns how many
// were removed.
func (m *Manager) Off(idOrPattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.hooks[:0]
	removed := 0
	for _, h := range m.hooks {
		if h.ID == idOrPattern || h.Pattern.String() == idOrPattern {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	m.hooks = kept
	return removed
}

// Clear drops all hooks, or only those of the given types.
func (m *Manager) Clear(types ...Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(types) == 0 {
		m.hooks = nil
		return
	}
	match := map[Type]bool{}
	for _, t := range types {
		match[t] = true
	}
	kept := m.hooks[:0]
	for _, h := range m.hooks {
		if !match[h.Type] {
			kept = append(kept, h)
		}
	}
	m.hooks = kept
}

// Enable turns the manager on; with patterns it also narrows observation to
// paths matching at least one of them.
func (m *Manager) Enable(patterns ...string) error {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		p, err := CompilePattern(raw)
		if err != nil {
			return err
		}
		compiled = append(compiled, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.filters = append(m.filters, compiled...)
	return nil
}

// Disable turns the manager off entirely, or removes previously enabled
// pattern filters.
func (m *Manager) Disable(patterns ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(patterns) == 0 {
		m.enabled = false
		return
	}
	drop := map[string]bool{}
	for _, p := range patterns {
		drop[p] = true
	}
	kept := m.filters[:0]
	for _, f := range m.filters {
		if !drop[f.String()] {
			kept = append(kept, f)
		}
	}
	m.filters = kept
}

// Observes reports whether calls at path go through the hook pipeline at
// all: the global gate must be on and, when pattern filters exist, at least
// one must match.
func (m *Manager) Observes(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return false
	}
	if len(m.filters) == 0 {
		return true
	}
	for _, f := range m.filters {
		if f.Match(path) {
			return true
		}
	}
	return false
}

// Select returns the hooks of typ matching path, ordered by priority
// descending then registration order ascending. The returned slice is a
// snapshot: hooks registered mid-call affect only later calls.
func (m *Manager) Select(typ Type, path string) []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Hook
	for _, h := range m.hooks {
		if h.Type == typ && h.Pattern.Match(path) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out
}

// List returns registered hooks, optionally filtered by type.
func (m *Manager) List(types ...Type) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match := map[Type]bool{}
	for _, t := range types {
		match[t] = true
	}
	var out []Info
	for _, h := range m.hooks {
		if len(match) > 0 && !match[h.Type] {
			continue
		}
		out = append(out, Info{ID: h.ID, Type: h.Type, Priority: h.Priority, Pattern: h.Pattern.String()})
	}
	return out
}

// FirstReport marks err as reported and returns true exactly once per
// error value, so error hooks observe each failure a single time.
func (m *Manager) FirstReport(err error) bool {
	if err == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[err]; ok {
		return false
	}
	m.seen[err] = struct{}{}
	m.seenFIFO = append(m.seenFIFO, err)
	if len(m.seenFIFO) > maxSeenErrors {
		oldest := m.seenFIFO[0]
		m.seenFIFO = m.seenFIFO[1:]
		delete(m.seen, oldest)
	}
	return true
}

// NotifyError runs the error hooks for path as observers: handler failures
// are logged and swallowed.
func (m *Manager) NotifyError(ctx context.Context, path string, callErr error, source string, args []any) {
	if !m.FirstReport(callErr) {
		return
	}
	for _, h := range m.Select(Error, path) {
		ev := &Event{Path: path, Args: args, Err: callErr, Source: source}
		if _, err := h.Handler(ctx, ev); err != nil {
			m.log.Warn("error hook failed", zap.String("hook", h.ID), zap.String("path", path), zap.Error(err))
		}
	}
}
