package slothlet

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
)

// AddOption adjusts an AddApi call.
type AddOption func(*addOptions)

type addOptions struct {
	forceOverwrite bool
	mutateExisting bool
	record         bool
}

// WithForceOverwrite lets the graft replace an occupied slot without
// pushing a new owner on top of it.
func WithForceOverwrite() AddOption {
	return func(o *addOptions) { o.forceOverwrite = true }
}

// WithMutateExisting rewrites the occupied slot's value in place so
// external references keep working.
func WithMutateExisting() AddOption {
	return func(o *addOptions) { o.mutateExisting = true }
}

// RemoveOption adjusts a RemoveApi call.
type RemoveOption func(*removeOptions)

type removeOptions struct {
	owner string
}

// WithOwner restricts removal to one owner's entries on the stack.
func WithOwner(owner string) RemoveOption {
	return func(o *removeOptions) { o.owner = owner }
}

// AddApi builds the directory as a subtree, grafts it under the dotted
// path, and pushes owner onto the ownership stack of every grafted path. A
// previously installed implementation is shadowed but retained for
// rollback.
func (b *BoundApi) AddApi(ctx context.Context, apiPath, dir, owner string, options ...AddOption) error {
	if err := b.s.guard(); err != nil {
		return err
	}
	if owner == "" {
		owner = "user"
	}
	opts := addOptions{record: true}
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return b.s.addApi(ctx, apiPath, dir, owner, opts)
}

func (s *Slothlet) addApi(ctx context.Context, apiPath, dir, owner string, opts addOptions) error {
	segments, err := api.SplitPath(apiPath)
	if err != nil {
		return err
	}
	if ok, err := s.fs.Exists(ctx, dir); err != nil || !ok {
		return fmt.Errorf("%w: %s", ErrMissingDir, dir)
	}
	value, err := s.builder.BuildSubtree(ctx, dir, apiPath)
	if err != nil {
		return err
	}
	api.AttachMetadata(value, map[string]any{"owner": owner, "instanceId": s.id}, dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.ensureContainer(segments[:len(segments)-1])
	if err != nil {
		return err
	}
	key := segments[len(segments)-1]
	if existing, ok := parent.Get(key); ok && opts.mutateExisting {
		if err := api.RebindDeep(existing, value); err != nil {
			return err
		}
	} else {
		parent.Set(key, value)
	}

	paths := api.CollectPaths(value, apiPath)
	if !opts.forceOverwrite {
		s.installOwnership(owner, paths)
	}
	if opts.record {
		s.history = append(s.history, addRecord{Path: apiPath, Dir: dir, Owner: owner, Paths: paths})
	}
	s.log.Debug("api grafted",
		zap.String("path", apiPath), zap.String("dir", dir), zap.String("owner", owner))
	return nil
}

// container is the mutable slot surface grafting needs; namespaces provide
// it directly, functions through their property set.
type container interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

type fnProps struct{ fn *api.Function }

func (p fnProps) Get(key string) (any, bool) { return p.fn.Get(key) }
func (p fnProps) Set(key string, value any)  { p.fn.SetProp(key, value) }

func asContainer(v any) (container, bool) {
	switch c := v.(type) {
	case *api.Namespace:
		return c, true
	case *api.Function:
		return fnProps{fn: c}, true
	default:
		return nil, false
	}
}

// ensureContainer walks (or creates) the container chain for the given
// parent segments.
func (s *Slothlet) ensureContainer(segments []string) (container, error) {
	cur, err := api.Unwrap(s.root)
	if err != nil {
		return nil, err
	}
	for i, segment := range segments {
		c, ok := asContainer(cur)
		if !ok {
			return nil, fmt.Errorf("cannot graft below %s", api.JoinPath(segments[:i]...))
		}
		next, ok := c.Get(segment)
		if !ok {
			ns := api.NewNamespace()
			c.Set(segment, ns)
			cur = ns
			continue
		}
		next, err = api.Unwrap(next)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	c, ok := asContainer(cur)
	if !ok {
		return nil, fmt.Errorf("target %s is not a container", api.JoinPath(segments...))
	}
	return c, nil
}

// RemoveApi removes by dotted path or by owner id. Removing a path pops
// the top of its ownership stack; removing an owner strips it from every
// stack it appears on. When the popped owner was serving, the next owner's
// recorded graft is replayed in place so external references keep working.
func (b *BoundApi) RemoveApi(ctx context.Context, pathOrOwner string, options ...RemoveOption) error {
	if err := b.s.guard(); err != nil {
		return err
	}
	opts := removeOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	s := b.s

	s.mu.Lock()
	_, isOwner := s.ownerSet[pathOrOwner]
	s.mu.Unlock()

	if isOwner && opts.owner == "" {
		return s.removeOwner(ctx, pathOrOwner)
	}
	if opts.owner != "" {
		return s.removeFromPath(ctx, pathOrOwner, opts.owner)
	}
	return s.removeTop(ctx, pathOrOwner)
}

// removeTop pops the current owner at path.
func (s *Slothlet) removeTop(ctx context.Context, apiPath string) error {
	s.mu.Lock()
	stack := s.ownership[apiPath]
	if len(stack) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", api.ErrNotFound, apiPath)
	}
	top := stack[len(stack)-1]
	s.mu.Unlock()
	return s.removeFromPath(ctx, apiPath, top)
}

// removeOwner strips owner everywhere it appears, grouped by graft root so
// rollback replays whole subtrees.
func (s *Slothlet) removeOwner(ctx context.Context, owner string) error {
	s.mu.Lock()
	roots := map[string]struct{}{}
	for _, rec := range s.history {
		if rec.Owner == owner && rec.Path != "" {
			roots[rec.Path] = struct{}{}
		}
	}
	if len(roots) == 0 {
		// owner only present via direct pushes; fall back to its path set
		for p := range s.ownerSet[owner] {
			roots[p] = struct{}{}
		}
	}
	s.mu.Unlock()
	for root := range roots {
		if err := s.removeFromPath(ctx, root, owner); err != nil {
			return err
		}
	}
	return nil
}

// removeFromPath removes owner from the stacks of apiPath and every
// descendant path, then repairs the tree: deletion when the stacks
// emptied, rollback replay when a shadowed owner resurfaces.
func (s *Slothlet) removeFromPath(ctx context.Context, apiPath, owner string) error {
	if _, err := api.SplitPath(apiPath); err != nil {
		return err
	}
	s.mu.Lock()
	affected := []string{apiPath}
	prefix := apiPath + "."
	for p := range s.ownership {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			affected = append(affected, p)
		}
	}
	wasTop := false
	for _, p := range affected {
		if s.dropOwnership(owner, p) && p == apiPath {
			wasTop = true
		}
	}
	remaining := s.ownership[apiPath]
	s.mu.Unlock()

	switch {
	case len(remaining) == 0:
		s.mu.Lock()
		s.deleteSlot(apiPath)
		s.mu.Unlock()
	case wasTop:
		next := remaining[len(remaining)-1]
		if err := s.rollbackTo(ctx, apiPath, next); err != nil {
			return err
		}
	default:
		// the removed owner was shadowed; current state is unchanged
	}
	s.log.Debug("api removed", zap.String("path", apiPath), zap.String("owner", owner))
	return nil
}

// rollbackTo re-executes the shadowed owner's recorded graft in place.
// Rolling back to the core owner replays the initial load for that subtree
// out of the configured root directory.
func (s *Slothlet) rollbackTo(ctx context.Context, apiPath, owner string) error {
	var record *addRecord
	s.mu.Lock()
	for i := len(s.history) - 1; i >= 0; i-- {
		rec := s.history[i]
		if rec.Owner != owner {
			continue
		}
		if rec.Path == apiPath || rec.Path == "" {
			record = &rec
			break
		}
	}
	s.mu.Unlock()
	if record == nil {
		if s.cfg.Debug {
			s.log.Warn("no rollback history", zap.String("path", apiPath), zap.String("owner", owner))
		}
		return nil
	}
	dir := record.Dir
	mount := record.Path
	if record.Path == "" {
		// core: replay the initial load for the deepest source folder that
		// still covers the path (flattened slots live in their parent
		// folder)
		segments, err := api.SplitPath(apiPath)
		if err != nil {
			return err
		}
		dir = s.cfg.Dir
		var covered []string
		for _, segment := range segments {
			candidate := path.Join(dir, segment)
			if ok, err := s.fs.Exists(ctx, candidate); err != nil || !ok {
				break
			}
			dir = candidate
			covered = append(covered, segment)
		}
		if len(covered) == 0 {
			return s.reloadRoot(ctx)
		}
		mount = api.JoinPath(covered...)
	}
	return s.addApi(ctx, mount, dir, owner, addOptions{forceOverwrite: true, mutateExisting: true})
}

// deleteSlot physically removes the slot at apiPath and prunes emptied
// parent containers bottom-up. Caller holds the lock.
func (s *Slothlet) deleteSlot(apiPath string) {
	segments, err := api.SplitPath(apiPath)
	if err != nil {
		return
	}
	for end := len(segments); end > 0; end-- {
		parent := s.containerAt(segments[:end-1])
		key := segments[end-1]
		switch c := parent.(type) {
		case *api.Namespace:
			c.Delete(key)
			if c.Len() > 0 || end == 1 {
				return
			}
			// the parent emptied: fall through and delete it as well
			parentPath := api.JoinPath(segments[:end-1]...)
			for _, o := range append([]string(nil), s.ownership[parentPath]...) {
				s.dropOwnership(o, parentPath)
			}
		case *api.Function:
			c.DeleteProp(key)
			return
		default:
			return
		}
	}
}

// containerAt walks already-materialized slots only; deletion never forces
// a lazy slot.
func (s *Slothlet) containerAt(segments []string) any {
	cur := s.root
	for _, segment := range segments {
		if fw, ok := cur.(*api.Forwarder); ok {
			if !fw.Realized() {
				return nil
			}
			v, err := fw.Value()
			if err != nil {
				return nil
			}
			cur = v
		}
		node, ok := cur.(api.Node)
		if !ok {
			return nil
		}
		next, ok := node.Get(segment)
		if !ok {
			return nil
		}
		cur = next
	}
	if fw, ok := cur.(*api.Forwarder); ok && fw.Realized() {
		v, err := fw.Value()
		if err != nil {
			return nil
		}
		return v
	}
	return cur
}
