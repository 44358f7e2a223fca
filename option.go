package slothlet

import (
	"context"
	"fmt"
	"path"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/cldmv/slothlet/module"
	"github.com/cldmv/slothlet/runtime"
	"github.com/cldmv/slothlet/sanitize"
)

// Mode selects when slots materialize.
const (
	ModeEager = "eager"
	ModeLazy  = "lazy"
)

// Config holds a loader instance's recognized options.
type Config struct {
	Dir          string
	Mode         string
	Engine       runtime.Engine
	MaxDepth     int
	Debug        bool
	HotReload    bool
	Context      map[string]any
	Reference    map[string]any
	NameRules    *sanitize.Rules
	Include      module.IncludeFunc
	GenericNames []string
	FS           afs.Service
}

// Option configures a loader instance.
type Option func(*Config)

// WithDir sets the root directory to scan.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithMode selects eager or lazy materialization.
func WithMode(mode string) Option {
	return func(c *Config) { c.Mode = mode }
}

// WithEngine selects the live-reference propagation strategy.
func WithEngine(engine string) Option {
	return func(c *Config) { c.Engine = runtime.Engine(engine) }
}

// WithMaxDepth caps directory traversal; zero or negative is unbounded.
func WithMaxDepth(depth int) Option {
	return func(c *Config) { c.MaxDepth = depth }
}

// WithDebug enables diagnostic logging.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// WithHotReload watches the root directory and replays the load on change.
func WithHotReload(enabled bool) Option {
	return func(c *Config) { c.HotReload = enabled }
}

// WithContext seeds the per-instance context mapping.
func WithContext(values map[string]any) Option {
	return func(c *Config) { c.Context = values }
}

// WithReference seeds the per-instance reference mapping.
func WithReference(values map[string]any) Option {
	return func(c *Config) { c.Reference = values }
}

// WithNameRules passes casing rules to the name sanitizer.
func WithNameRules(rules *sanitize.Rules) Option {
	return func(c *Config) { c.NameRules = rules }
}

// WithInclude overrides the should-include-file predicate.
func WithInclude(include module.IncludeFunc) Option {
	return func(c *Config) { c.Include = include }
}

// WithGenericNames overrides the file keys treated as meaningless for
// namespacing.
func WithGenericNames(names ...string) Option {
	return func(c *Config) { c.GenericNames = names }
}

// WithFS overrides the filesystem service.
func WithFS(fs afs.Service) Option {
	return func(c *Config) { c.FS = fs }
}

// rootConfigFile is the optional per-root overlay read from the scanned
// directory itself.
const rootConfigFile = ".slothlet.yaml"

// rootOverlay mirrors the overlay file's schema.
type rootOverlay struct {
	NameRules    *sanitize.Rules `yaml:"nameRules"`
	GenericNames []string        `yaml:"genericNames"`
	Include      []string        `yaml:"include"`
	Exclude      []string        `yaml:"exclude"`
}

// applyOverlay merges the root overlay file, when present, into the config.
// Explicit options win over the overlay.
func (c *Config) applyOverlay(ctx context.Context) error {
	url := path.Join(c.Dir, rootConfigFile)
	ok, err := c.FS.Exists(ctx, url)
	if err != nil || !ok {
		return nil
	}
	data, err := c.FS.DownloadWithURL(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", url, err)
	}
	var overlay rootOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}
	if c.NameRules == nil && overlay.NameRules != nil {
		c.NameRules = overlay.NameRules
	}
	if c.GenericNames == nil && overlay.GenericNames != nil {
		c.GenericNames = overlay.GenericNames
	}
	if c.Include == nil && (len(overlay.Include) > 0 || len(overlay.Exclude) > 0) {
		c.Include = globInclude(overlay.Include, overlay.Exclude)
	}
	return nil
}

// globInclude builds an include predicate from overlay glob lists.
// Directories are always traversed unless excluded; files must match an
// include glob (all files when the list is empty) and no exclude glob.
func globInclude(include, exclude []string) module.IncludeFunc {
	matches := func(patterns []string, name string) bool {
		for _, p := range patterns {
			if ok, err := doublestar.Match(p, name); err == nil && ok {
				return true
			}
		}
		return false
	}
	return func(name string, isDir bool) bool {
		if !module.DefaultInclude(name, isDir) {
			return false
		}
		if matches(exclude, name) {
			return false
		}
		if isDir || len(include) == 0 {
			return true
		}
		return matches(include, name)
	}
}
