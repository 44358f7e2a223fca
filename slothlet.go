// Package slothlet loads a directory tree of module files and materializes
// it as a single navigable, callable API whose shape mirrors the tree.
// Every call into the API passes through a per-instance hook pipeline, and
// module code reaches its hosting instance through live references that
// stay correct when many instances coexist in one process.
package slothlet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/hook"
	"github.com/cldmv/slothlet/loader"
	"github.com/cldmv/slothlet/module"
	"github.com/cldmv/slothlet/runtime"
	"github.com/cldmv/slothlet/sanitize"
)

// CoreOwner is the synthetic owner of everything installed by the initial
// load.
const CoreOwner = "core"

var (
	// ErrShutdown is returned by operations on a shut-down instance.
	ErrShutdown = errors.New("instance has been shut down")
	// ErrMissingDir is returned when the configured root does not exist.
	ErrMissingDir = errors.New("root directory does not exist")
)

// addRecord is one addApi invocation, kept for rollback replay.
type addRecord struct {
	Path  string
	Dir   string
	Owner string
	Paths []string
}

// Slothlet is one loader instance. External callers hold its BoundApi; the
// instance itself owns the raw tree, the ownership registry and the hook
// manager.
type Slothlet struct {
	id         string
	cfg        *Config
	log        *zap.Logger
	fs         afs.Service
	builder    *loader.Builder
	hooks      *hook.Manager
	dispatcher *runtime.Dispatcher
	reg        *runtime.Registry

	mu        sync.Mutex
	root      any
	ownership map[string][]string
	ownerSet  map[string]map[string]struct{}
	history   []addRecord
	prints    map[string]uint64
	watcher   *watcher
	closed    bool
}

// New scans the configured directory and returns the bound API.
func New(ctx context.Context, options ...Option) (*BoundApi, error) {
	cfg := &Config{Mode: ModeEager}
	for _, opt := range options {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("no root directory configured")
	}
	if cfg.FS == nil {
		cfg.FS = afs.New()
	}
	switch cfg.Mode {
	case ModeEager, ModeLazy:
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	engine, err := runtime.ParseEngine(string(cfg.Engine))
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine
	if ok, err := cfg.FS.Exists(ctx, cfg.Dir); err != nil || !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingDir, cfg.Dir)
	}
	if err := cfg.applyOverlay(ctx); err != nil {
		return nil, err
	}
	if cfg.NameRules == nil {
		cfg.NameRules = sanitize.DefaultRules()
	}
	if cfg.Context == nil {
		cfg.Context = map[string]any{}
	}
	if cfg.Reference == nil {
		cfg.Reference = map[string]any{}
	}

	log := zap.NewNop()
	if cfg.Debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			log = dev
		}
	}

	s := &Slothlet{
		cfg:       cfg,
		fs:        cfg.FS,
		hooks:     hook.NewManager(log),
		reg:       runtime.Shared(),
		ownership: map[string][]string{},
		ownerSet:  map[string]map[string]struct{}{},
		prints:    map[string]uint64{},
	}
	s.id = s.reg.Register(&runtime.Entry{
		Context:   cfg.Context,
		Reference: cfg.Reference,
		Config:    cfg,
		Hooks:     s.hooks,
	})
	s.log = log.Named("slothlet." + s.id)
	s.dispatcher = runtime.NewDispatcher(s.reg, s.id, cfg.Engine, s.log)

	analyzer := module.NewAnalyzer(
		module.WithFS(cfg.FS),
		module.WithRules(cfg.NameRules),
		module.WithSymbols(runtime.Symbols(s.reg, s.id)),
		module.WithLogger(s.log),
	)
	s.builder = loader.New(loader.Config{
		FS:           cfg.FS,
		Rules:        cfg.NameRules,
		Include:      cfg.Include,
		GenericNames: cfg.GenericNames,
		MaxDepth:     cfg.MaxDepth,
		Lazy:         cfg.Mode == ModeLazy,
		Analyzer:     analyzer,
		Log:          s.log,
	})

	root, err := s.builder.Build(ctx, cfg.Dir)
	if err != nil {
		s.reg.Cleanup(s.id)
		return nil, err
	}
	s.root = root
	api.AttachMetadata(root, map[string]any{"owner": CoreOwner, "instanceId": s.id}, cfg.Dir)
	s.reg.Update(s.id, func(e *runtime.Entry) { e.Self = root })

	s.installOwnership(CoreOwner, api.CollectPaths(root, ""))
	s.history = append(s.history, addRecord{Path: "", Dir: cfg.Dir, Owner: CoreOwner})

	if cfg.HotReload {
		w, err := newWatcher(s)
		if err != nil {
			s.log.Warn("hot reload watcher unavailable", zap.Error(err))
		} else {
			s.watcher = w
		}
	}
	s.log.Debug("instance loaded", zap.String("dir", cfg.Dir), zap.String("mode", cfg.Mode))
	return &BoundApi{s: s}, nil
}

// Load is an alias of New.
func Load(ctx context.Context, options ...Option) (*BoundApi, error) {
	return New(ctx, options...)
}

// installOwnership pushes owner onto every path's stack and indexes the
// reverse mapping.
func (s *Slothlet) installOwnership(owner string, paths []string) {
	set := s.ownerSet[owner]
	if set == nil {
		set = map[string]struct{}{}
		s.ownerSet[owner] = set
	}
	for _, p := range paths {
		stack := s.ownership[p]
		if len(stack) > 0 && stack[len(stack)-1] == owner {
			continue
		}
		s.ownership[p] = append(stack, owner)
		set[p] = struct{}{}
	}
}

// dropOwnership removes owner from a path's stack wherever it appears; it
// reports whether the owner was on top.
func (s *Slothlet) dropOwnership(owner, path string) (wasTop bool) {
	stack := s.ownership[path]
	if len(stack) == 0 {
		return false
	}
	wasTop = stack[len(stack)-1] == owner
	kept := stack[:0]
	for _, o := range stack {
		if o != owner {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(s.ownership, path)
	} else {
		s.ownership[path] = kept
	}
	if set := s.ownerSet[owner]; set != nil {
		delete(set, path)
		if len(set) == 0 {
			delete(s.ownerSet, owner)
		}
	}
	return wasTop
}

// resolve walks the raw tree by dotted path, realizing lazy slots on the
// way, and returns the value at the end.
func (s *Slothlet) resolve(path string) (any, error) {
	segments, err := api.SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	cur := s.root
	s.mu.Unlock()
	for i, segment := range segments {
		cur, err = api.Unwrap(cur)
		if err != nil {
			return nil, err
		}
		node, ok := cur.(api.Node)
		if !ok {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFound, api.JoinPath(segments[:i]...))
		}
		next, ok := node.Get(segment)
		if !ok {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFound, api.JoinPath(segments[:i+1]...))
		}
		cur = next
	}
	return api.Unwrap(cur)
}

// reloadRoot rebuilds the whole core tree and swaps it in place.
func (s *Slothlet) reloadRoot(ctx context.Context) error {
	fresh, err := s.builder.Build(ctx, s.cfg.Dir)
	if err != nil {
		return err
	}
	api.AttachMetadata(fresh, map[string]any{"owner": CoreOwner, "instanceId": s.id}, s.cfg.Dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := api.RebindDeep(s.root, fresh); err != nil {
		s.root = fresh
		s.reg.Update(s.id, func(e *runtime.Entry) { e.Self = fresh })
	}
	return nil
}

// shutdown clears the instance: the watcher stops, hooks are cleared and
// the registry entry disappears, so no hook of this instance can fire for
// calls against any other instance.
func (s *Slothlet) shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	s.closed = true
	if s.watcher != nil {
		s.watcher.stop()
		s.watcher = nil
	}
	s.hooks.Clear()
	s.hooks.Disable()
	s.reg.Cleanup(s.id)
	s.log.Debug("instance shut down")
	return nil
}

func (s *Slothlet) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	return nil
}
