package slothlet

import (
	"context"
	"fmt"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/hook"
)

// BoundApi is what external callers hold: the wrapper fabric around the raw
// tree. Every call dispatched through it passes hook execution and runs
// under the instance's engine scope.
type BoundApi struct {
	s *Slothlet
}

// InstanceID returns the instance's unique identifier.
func (b *BoundApi) InstanceID() string { return b.s.id }

// Get resolves a dotted path, realizing lazy slots along the way.
func (b *BoundApi) Get(path string) (any, error) {
	if err := b.s.guard(); err != nil {
		return nil, err
	}
	return b.s.resolve(path)
}

// Has reports membership. The last segment is answered by its parent's Has,
// which does not materialize a lazy parent; lazy slots between the root and
// that parent are realized while walking the path.
func (b *BoundApi) Has(path string) bool {
	segments, err := api.SplitPath(path)
	if err != nil {
		return false
	}
	b.s.mu.Lock()
	cur := b.s.root
	b.s.mu.Unlock()
	for i, segment := range segments {
		node, ok := cur.(api.Node)
		if !ok {
			return false
		}
		if i == len(segments)-1 {
			return node.Has(segment)
		}
		next, ok := node.Get(segment)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// Keys enumerates the root's own keys.
func (b *BoundApi) Keys() []string {
	b.s.mu.Lock()
	root := b.s.root
	b.s.mu.Unlock()
	if node, ok := root.(api.Node); ok {
		return node.Keys()
	}
	return nil
}

// Call invokes the function at path through the hook pipeline.
func (b *BoundApi) Call(path string, args ...any) (any, error) {
	return b.CallContext(context.Background(), path, args...)
}

// CallContext invokes the function at path, propagating ctx into module
// code.
func (b *BoundApi) CallContext(ctx context.Context, path string, args ...any) (any, error) {
	if err := b.s.guard(); err != nil {
		return nil, err
	}
	value, err := b.s.resolve(path)
	if err != nil {
		return nil, err
	}
	fn, ok := value.(*api.Function)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, api.ErrNotCallable)
	}
	return b.s.dispatcher.Invoke(ctx, fn, args...)
}

// Invoke calls the API root itself; the root must have resolved to a
// function.
func (b *BoundApi) Invoke(args ...any) (any, error) {
	return b.InvokeContext(context.Background(), args...)
}

// InvokeContext calls the callable root with ctx.
func (b *BoundApi) InvokeContext(ctx context.Context, args ...any) (any, error) {
	if err := b.s.guard(); err != nil {
		return nil, err
	}
	b.s.mu.Lock()
	root := b.s.root
	b.s.mu.Unlock()
	root, err := api.Unwrap(root)
	if err != nil {
		return nil, err
	}
	fn, ok := root.(*api.Function)
	if !ok {
		return nil, fmt.Errorf("root: %w", api.ErrNotCallable)
	}
	return b.s.dispatcher.Invoke(ctx, fn, args...)
}

// Hooks exposes the instance's hook manager.
func (b *BoundApi) Hooks() *hook.Manager { return b.s.hooks }

// Context returns the live per-instance context mapping; writes propagate
// to module code immediately.
func (b *BoundApi) Context() map[string]any { return b.s.cfg.Context }

// Reference returns the live per-instance reference mapping.
func (b *BoundApi) Reference() map[string]any { return b.s.cfg.Reference }

// Shutdown clears the instance's registry entry and hook manager; the
// bound API refuses further use.
func (b *BoundApi) Shutdown(ctx context.Context) error {
	return b.s.shutdown()
}
