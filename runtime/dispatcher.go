package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/hook"
)

// Dispatcher drives API calls for one instance: it establishes the engine
// scope, runs the hook pipeline around the target function, and wraps
// returned values so continuations keep executing under the same instance.
type Dispatcher struct {
	reg    *Registry
	id     string
	engine Engine
	log    *zap.Logger
}

// NewDispatcher creates a dispatcher for the given registered instance.
func NewDispatcher(reg *Registry, id string, engine Engine, log *zap.Logger) *Dispatcher {
	if reg == nil {
		reg = shared
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{reg: reg, id: id, engine: engine, log: log}
}

// InstanceID returns the dispatched instance's id.
func (d *Dispatcher) InstanceID() string { return d.id }

// Engine returns the propagation strategy in use.
func (d *Dispatcher) Engine() Engine { return d.engine }

// Invoke runs fn at its tagged path through the full pipeline. Hooks are
// bypassed for untagged functions (internal helpers) and when the
// instance's manager is gated off for the path; the engine scope applies
// either way.
func (d *Dispatcher) Invoke(ctx context.Context, fn *api.Function, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	entry, ok := d.reg.Get(d.id)
	if !ok {
		return nil, fmt.Errorf("instance %s is not registered", d.id)
	}
	path := fn.Path()
	hooks := entry.Hooks
	if hooks == nil || path == "" || !hooks.Observes(path) {
		result, err := d.call(ctx, fn, args)
		return d.wrapResult(result), err
	}

	// before hooks: replace arguments or short-circuit
	shortCircuited := false
	var result any
	for _, h := range hooks.Select(hook.Before, path) {
		ev := &hook.Event{Path: path, Args: args}
		out, err := h.Handler(ctx, ev)
		if err != nil {
			err = fmt.Errorf("before hook %s: %w", h.ID, err)
			hooks.NotifyError(ctx, path, err, "before", args)
			return nil, err
		}
		switch v := out.(type) {
		case nil:
		case []any:
			args = v
		default:
			result = v
			shortCircuited = true
		}
		if shortCircuited {
			break
		}
	}

	if !shortCircuited {
		var err error
		result, err = d.call(ctx, fn, args)
		if err != nil {
			hooks.NotifyError(ctx, path, err, "call", args)
			return nil, err
		}
		if future, ok := result.(Future); ok {
			return d.wrapFuture(ctx, future, path, args), nil
		}
		// after hooks: chained result transformation
		for _, h := range hooks.Select(hook.After, path) {
			ev := &hook.Event{Path: path, Args: args, Result: result}
			out, err := h.Handler(ctx, ev)
			if err != nil {
				err = fmt.Errorf("after hook %s: %w", h.ID, err)
				hooks.NotifyError(ctx, path, err, "after", args)
				return nil, err
			}
			if out != nil {
				result = out
			}
		}
	}

	d.runAlways(ctx, hooks, path, args, result)
	return d.wrapResult(result), nil
}

// call applies fn under the engine scope.
func (d *Dispatcher) call(ctx context.Context, fn *api.Function, args []any) (any, error) {
	switch d.engine {
	case EngineIdentity:
		prev := d.reg.Activate(d.id)
		defer d.reg.Activate(prev)
		return fn.CallContext(ctx, args...)
	default:
		return fn.CallContext(withInstanceIn(ctx, d.reg, d.id), args...)
	}
}

// runAlways executes always hooks; their failures are logged and swallowed.
func (d *Dispatcher) runAlways(ctx context.Context, hooks *hook.Manager, path string, args []any, result any) {
	for _, h := range hooks.Select(hook.Always, path) {
		ev := &hook.Event{Path: path, Args: args, Result: result}
		if _, err := h.Handler(ctx, ev); err != nil {
			d.log.Warn("always hook failed",
				zap.String("hook", h.ID), zap.String("path", path), zap.Error(err))
		}
	}
}
