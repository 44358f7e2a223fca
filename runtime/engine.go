package runtime

import (
	"context"
	"fmt"
)

// Engine selects how live references find their hosting instance.
type Engine string

const (
	// EngineAmbient propagates the instance through context.Context: the
	// dispatcher derives a carrying context for every call and module
	// functions that accept one inherit it across all their await points.
	// Parallel chains are fully isolated.
	EngineAmbient Engine = "ambient"
	// EngineIdentity tags each instance's interpreter with its id at load
	// time and tracks a single currently-active slot around every
	// dispatched call. The slot is saved before and restored after each
	// call, including on error; it must not be relied on across unrelated
	// async seams. Prefer EngineAmbient.
	EngineIdentity Engine = "identity"
)

// ParseEngine validates an engine name, defaulting empty to ambient.
func ParseEngine(name string) (Engine, error) {
	switch Engine(name) {
	case "", EngineAmbient:
		return EngineAmbient, nil
	case EngineIdentity:
		return EngineIdentity, nil
	default:
		return "", fmt.Errorf("unknown engine %q", name)
	}
}

type instanceKey struct{}

// instanceRef pins both the registry and the id so ambient resolution
// works for non-shared registries too.
type instanceRef struct {
	reg *Registry
	id  string
}

// WithInstance returns a context carrying the instance id against the
// process-wide registry; the ambient engine attaches one to every
// dispatched call.
func WithInstance(ctx context.Context, id string) context.Context {
	return withInstanceIn(ctx, shared, id)
}

func withInstanceIn(ctx context.Context, reg *Registry, id string) context.Context {
	return context.WithValue(ctx, instanceKey{}, instanceRef{reg: reg, id: id})
}

// InstanceID extracts the ambient instance id from a context.
func InstanceID(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(instanceKey{}).(instanceRef)
	if !ok {
		return "", false
	}
	return ref.id, true
}

// FromContext resolves the ambient instance entry from a context.
func FromContext(ctx context.Context) (*Entry, bool) {
	ref, ok := ctx.Value(instanceKey{}).(instanceRef)
	if !ok {
		return nil, false
	}
	return ref.reg.Get(ref.id)
}

// Current resolves the hosting instance for module code: the ambient
// context when present, otherwise the identity engine's active slot.
func Current(ctx context.Context) (*Entry, bool) {
	if ctx != nil {
		if e, ok := FromContext(ctx); ok {
			return e, ok
		}
	}
	return shared.ActiveEntry()
}
