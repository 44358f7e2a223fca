package runtime

import (
	"context"

	"github.com/cldmv/slothlet/hook"
)

// Future is the deferred-result shape the dispatcher understands: an API
// function may return one instead of a settled value. The dispatcher wraps
// returned futures so after/always/error hooks run at settlement and the
// continuation executes under the originating instance's engine scope.
type Future interface {
	Await(ctx context.Context) (any, error)
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(ctx context.Context) (any, error)

// Await implements Future.
func (f FutureFunc) Await(ctx context.Context) (any, error) { return f(ctx) }

// hookedFuture defers the after/always/error stages of the pipeline until
// the future settles.
type hookedFuture struct {
	d     *Dispatcher
	inner Future
	path  string
	args  []any
}

// wrapFuture attaches the remaining pipeline stages to a returned future.
func (d *Dispatcher) wrapFuture(ctx context.Context, inner Future, path string, args []any) Future {
	return &hookedFuture{d: d, inner: inner, path: path, args: args}
}

// Await settles the inner future under the engine scope, then runs after,
// always and error hooks exactly as the synchronous pipeline would.
func (f *hookedFuture) Await(ctx context.Context) (any, error) {
	d := f.d
	entry, ok := d.reg.Get(d.id)
	if !ok {
		return f.inner.Await(ctx)
	}
	hooks := entry.Hooks

	var result any
	var err error
	switch d.engine {
	case EngineIdentity:
		// the active slot must be restored even when user code panics
		func() {
			prev := d.reg.Activate(d.id)
			defer d.reg.Activate(prev)
			result, err = f.inner.Await(ctx)
		}()
	default:
		result, err = f.inner.Await(withInstanceIn(ctx, d.reg, d.id))
	}
	if err != nil {
		if hooks != nil {
			hooks.NotifyError(ctx, f.path, err, "await", f.args)
		}
		return nil, err
	}
	if hooks == nil || !hooks.Observes(f.path) {
		return d.wrapResult(result), nil
	}
	for _, h := range hooks.Select(hook.After, f.path) {
		ev := &hook.Event{Path: f.path, Args: f.args, Result: result}
		out, hookErr := h.Handler(ctx, ev)
		if hookErr != nil {
			hookErr = wrapHookErr(h.ID, "after", hookErr)
			hooks.NotifyError(ctx, f.path, hookErr, "after", f.args)
			return nil, hookErr
		}
		if out != nil {
			result = out
		}
	}
	d.runAlways(ctx, hooks, f.path, f.args, result)
	return d.wrapResult(result), nil
}
