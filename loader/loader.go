// Package loader walks a directory tree of module files and assembles the
// API value it maps to, either materialized immediately or behind lazy
// forwarders that realize slots on first access.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/module"
	"github.com/cldmv/slothlet/resolve"
	"github.com/cldmv/slothlet/sanitize"
)

// Config carries everything a build needs.
type Config struct {
	FS           afs.Service
	Rules        *sanitize.Rules
	Include      module.IncludeFunc
	GenericNames []string
	// MaxDepth caps traversal; zero or negative means unbounded.
	MaxDepth int
	Lazy     bool
	Analyzer *module.Analyzer
	Log      *zap.Logger
}

// Builder assembles API trees from directories.
type Builder struct {
	cfg Config
}

// New creates a builder, filling config defaults.
func New(cfg Config) *Builder {
	if cfg.FS == nil {
		cfg.FS = afs.New()
	}
	if cfg.Rules == nil {
		cfg.Rules = sanitize.DefaultRules()
	}
	if cfg.Include == nil {
		cfg.Include = module.DefaultInclude
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = module.NewAnalyzer(
			module.WithFS(cfg.FS),
			module.WithRules(cfg.Rules),
			module.WithLogger(cfg.Log),
		)
	}
	return &Builder{cfg: cfg}
}

// Build walks dir and returns the API root: a namespace, or a callable
// function when the root resolves to one.
func (b *Builder) Build(ctx context.Context, dir string) (any, error) {
	return b.buildDir(ctx, dir, "", "", 0)
}

// BuildSubtree builds the value for a grafted slot. The prefix is the
// dotted path the subtree will be mounted under; its last segment acts as
// the category key, and depth starts at 1 because grafts are never the
// root.
func (b *Builder) BuildSubtree(ctx context.Context, dir, prefix string) (any, error) {
	segments, err := api.SplitPath(prefix)
	if err != nil {
		return nil, err
	}
	key := segments[len(segments)-1]
	value, err := b.buildDir(ctx, dir, key, prefix, 1)
	if err != nil {
		return nil, err
	}
	api.TagPaths(value, prefix)
	return value, nil
}

// buildDir assembles one directory. dirKey is the directory's sanitized
// key ("" at the root); prefix is the dotted path of the directory's slot.
func (b *Builder) buildDir(ctx context.Context, dir, dirKey, prefix string, depth int) (any, error) {
	census, err := module.AnalyzeDir(ctx, b.cfg.FS, dir, b.cfg.Include, b.cfg.Rules)
	if err != nil {
		return nil, err
	}
	b.cfg.Log.Debug("building directory",
		zap.String("dir", dir),
		zap.Int("depth", depth),
		zap.Int("files", len(census.Files)),
		zap.Int("subdirs", len(census.SubDirs)))

	analyses := make([]*module.Analysis, len(census.Files))
	rootDefaultFuncs := 0
	for i, entry := range census.Files {
		analysis, err := b.cfg.Analyzer.Analyze(ctx, entry.URL, entry.Key)
		if err != nil {
			return nil, err
		}
		analyses[i] = analysis
		if analysis.HasDefault && analysis.DefaultKind == module.KindFunction {
			rootDefaultFuncs++
		}
	}

	ns := api.NewNamespace()
	var takeover *api.Function
	var rootCallable *api.Function

	for i, entry := range census.Files {
		analysis := analyses[i]
		dec := resolve.Decide(resolve.Input{
			Analysis:         analysis,
			Key:              entry.Key,
			Category:         dirKey,
			Depth:            depth,
			Dir:              census,
			RootDefaultFuncs: rootDefaultFuncs,
			GenericNames:     b.cfg.GenericNames,
		})
		b.cfg.Log.Debug("flattening decision",
			zap.String("file", entry.Name),
			zap.String("outcome", dec.Outcome.String()),
			zap.String("preferredKey", dec.PreferredKey))

		switch dec.Outcome {
		case resolve.PreserveNamespace:
			key := entry.Key
			if dec.PreferredKey != "" {
				key = dec.PreferredKey
			}
			ns.Set(key, analysis.Value)
		case resolve.AutoFlattenSingleNamed:
			ns.Set(entry.Key, analysis.Named[0].Value)
		case resolve.FlattenToParent:
			if dec.PreferredKey != "" {
				ns.Set(dec.PreferredKey, analysis.Named[0].Value)
				break
			}
			for _, n := range analysis.Named {
				ns.Set(n.Key, n.Value)
			}
		case resolve.FlattenToCategory:
			fn, ok := analysis.Value.(*api.Function)
			if !ok && len(analysis.Named) == 1 {
				fn, ok = analysis.Named[0].Value.(*api.Function)
			}
			if ok {
				if dec.RenameTo != "" {
					fn.Rename(dec.RenameTo)
				}
				takeover = fn
				break
			}
			if node, isNode := analysis.Value.(api.Node); isNode {
				ns.Merge(node)
			}
		case resolve.UseAsRootCallable:
			rootCallable = analysis.Value.(*api.Function)
		}
	}

	if depth == 0 || b.cfg.MaxDepth <= 0 || depth < b.cfg.MaxDepth {
		if err := b.addSubdirs(ctx, ns, census, prefix, depth); err != nil {
			return nil, err
		}
	}

	// a category-takeover function absorbs its sibling slots as properties
	if takeover != nil {
		for _, k := range ns.Keys() {
			if v, ok := ns.Get(k); ok {
				takeover.SetProp(k, v)
			}
		}
		if prefix != "" {
			api.TagPaths(takeover, prefix)
		}
		return takeover, nil
	}
	if rootCallable != nil {
		for _, k := range ns.Keys() {
			if v, ok := ns.Get(k); ok {
				rootCallable.SetProp(k, v)
			}
		}
		api.TagPaths(rootCallable, prefix)
		return rootCallable, nil
	}
	api.TagPaths(ns, prefix)
	return ns, nil
}

// addSubdirs attaches subdirectory slots: materialized recursively in eager
// mode, as forwarders in lazy mode.
func (b *Builder) addSubdirs(ctx context.Context, ns *api.Namespace, census *module.DirAnalysis, prefix string, depth int) error {
	for _, sub := range census.SubDirs {
		subPrefix := api.JoinPath(prefix, sub.Key)
		if b.cfg.Lazy {
			ns.Set(sub.Key, b.forwarder(ctx, sub, subPrefix, depth+1))
			continue
		}
		value, err := b.buildDir(ctx, sub.URL, sub.Key, subPrefix, depth+1)
		if err != nil {
			return err
		}
		key := sub.Key
		// a single callable whose own name case-matches the directory key
		// wins the spelling
		if fn, ok := value.(*api.Function); ok {
			if name := fn.Name(); name != key && strings.EqualFold(name, key) {
				key = name
				api.TagPaths(fn, api.JoinPath(prefix, key))
			}
		}
		ns.Set(key, value)
	}
	return nil
}

// forwarder builds the lazy stand-in for a subdirectory slot. Shape
// questions are answered from a static scan of the directory; the first
// materializing access runs the same build the eager path would.
func (b *Builder) forwarder(ctx context.Context, sub module.Entry, prefix string, depth int) *api.Forwarder {
	shape := newShapeEstimate(b, sub.URL, sub.Key)
	materialize := func() (any, error) {
		value, err := b.buildDir(context.WithoutCancel(ctx), sub.URL, sub.Key, prefix, depth)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize %s: %w", prefix, err)
		}
		return value, nil
	}
	return api.NewForwarder(prefix, shape.callable(), shape.keys, materialize)
}
