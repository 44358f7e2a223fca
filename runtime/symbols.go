package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"

	"github.com/cldmv/slothlet/api"
)

// Symbols builds the virtual slothlet/runtime package injected into every
// interpreter of one instance. Module files import it to reach their live
// references:
//
//	import "slothlet/runtime"
//
//	func Whoami() string { return runtime.Context()["user"].(string) }
//
// The instance id is embedded in the closures at load time, so the
// bindings always resolve against the hosting instance no matter which
// engine drives the call. Every accessor reads the registry at call time;
// holders never see stale state.
func Symbols(reg *Registry, id string) interp.Exports {
	if reg == nil {
		reg = shared
	}
	entry := func() (*Entry, bool) { return reg.Get(id) }

	self := func() any {
		if e, ok := entry(); ok {
			return e.Self
		}
		return nil
	}
	contextMap := func() map[string]any {
		if e, ok := entry(); ok {
			return e.Context
		}
		return nil
	}
	reference := func() map[string]any {
		if e, ok := entry(); ok {
			return e.Reference
		}
		return nil
	}
	selfCall := func(path string, args ...any) (any, error) {
		e, ok := entry()
		if !ok {
			return nil, fmt.Errorf("instance %s is gone", id)
		}
		root := e.Self
		value, err := api.Lookup(root, path)
		if err != nil {
			return nil, err
		}
		value, err = api.Unwrap(value)
		if err != nil {
			return nil, err
		}
		fn, ok := value.(*api.Function)
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, api.ErrNotCallable)
		}
		return fn.CallContext(withInstanceIn(context.Background(), reg, id), args...)
	}
	instanceID := func() string { return id }

	return interp.Exports{
		"slothlet/runtime/runtime": {
			"Self":       reflect.ValueOf(self),
			"Context":    reflect.ValueOf(contextMap),
			"Reference":  reflect.ValueOf(reference),
			"SelfCall":   reflect.ValueOf(selfCall),
			"InstanceID": reflect.ValueOf(instanceID),
		},
	}
}
