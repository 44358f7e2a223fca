package api

import (
	"sync"
)

// Materializer realizes a lazy slot's value on first access.
type Materializer func() (any, error)

// Forwarder stands in for an unrealized slot in lazy mode. Shape questions
// (Has, Keys) are answered from the directory listing without running the
// materializer; Get and Call realize the slot and cache the result. A failed
// materialization is not cached: the error is re-raised on every access
// until it resolves, and sibling slots are unaffected.
type Forwarder struct {
	mu          sync.Mutex
	path        string
	callable    func() bool
	shapeKeys   func() []string
	materialize Materializer
	value       any
	done        bool
}

// NewForwarder creates a forwarder for the slot at path. shapeKeys answers
// Keys/Has from listings; callable marks slots known to resolve to
// functions so KindOf stays shape-consistent before realization. Both may
// be nil.
func NewForwarder(path string, callable func() bool, shapeKeys func() []string, materialize Materializer) *Forwarder {
	return &Forwarder{path: path, callable: callable, shapeKeys: shapeKeys, materialize: materialize}
}

// Path returns the slot's dotted path.
func (f *Forwarder) Path() string { return f.path }

// Callable reports whether the slot is expected to resolve to a function.
// Realized slots answer from the actual value.
func (f *Forwarder) Callable() bool {
	f.mu.Lock()
	if f.done {
		_, ok := f.value.(*Function)
		f.mu.Unlock()
		return ok
	}
	f.mu.Unlock()
	return f.callable != nil && f.callable()
}

// Realized reports whether the slot has been materialized.
func (f *Forwarder) Realized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Value materializes the slot (once) and returns the realized value.
// Concurrent first accesses are serialized so every caller observes the
// same value.
func (f *Forwarder) Value() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return f.value, nil
	}
	v, err := f.materialize()
	if err != nil {
		return nil, err
	}
	f.value = v
	f.done = true
	return v, nil
}

// Get materializes the slot and delegates key lookup to the realized value.
func (f *Forwarder) Get(key string) (any, bool) {
	v, err := f.Value()
	if err != nil {
		return nil, false
	}
	node, ok := v.(Node)
	if !ok {
		return nil, false
	}
	return node.Get(key)
}

// Has answers membership from the slot's listing without materializing.
func (f *Forwarder) Has(key string) bool {
	if f.Realized() {
		v, _ := f.Value()
		if node, ok := v.(Node); ok {
			return node.Has(key)
		}
		return false
	}
	if f.shapeKeys == nil {
		return false
	}
	for _, k := range f.shapeKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Keys answers enumeration from the slot's listing without materializing.
func (f *Forwarder) Keys() []string {
	if f.Realized() {
		v, _ := f.Value()
		if node, ok := v.(Node); ok {
			return node.Keys()
		}
		return nil
	}
	if f.shapeKeys == nil {
		return nil
	}
	return f.shapeKeys()
}

// Call materializes the slot and invokes it. The realized value must be a
// function or a forwarder chain ending in one.
func (f *Forwarder) Call(args ...any) (any, error) {
	v, err := f.Value()
	if err != nil {
		return nil, err
	}
	switch target := v.(type) {
	case *Function:
		return target.Call(args...)
	case *Forwarder:
		return target.Call(args...)
	default:
		return nil, ErrNotCallable
	}
}

// Unwrap resolves forwarder chains to the realized value. Non-forwarder
// values pass through unchanged.
func Unwrap(v any) (any, error) {
	for {
		fw, ok := v.(*Forwarder)
		if !ok {
			return v, nil
		}
		realized, err := fw.Value()
		if err != nil {
			return nil, err
		}
		v = realized
	}
}
