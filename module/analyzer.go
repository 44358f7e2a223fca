package module

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/sanitize"
)

// Analyzer loads module files through the yaegi interpreter and classifies
// their export shape. Each file is evaluated in a fresh interpreter so
// modules cannot observe each other's package scope.
type Analyzer struct {
	fs      afs.Service
	rules   *sanitize.Rules
	symbols []interp.Exports
	log     *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFS sets the filesystem service used to read module files.
func WithFS(fs afs.Service) Option {
	return func(a *Analyzer) { a.fs = fs }
}

// WithRules sets the sanitizer rules applied to export names.
func WithRules(rules *sanitize.Rules) Option {
	return func(a *Analyzer) { a.rules = rules }
}

// WithSymbols injects extra symbol packages into every interpreter, such as
// the per-instance live-reference bindings importable as slothlet/runtime.
func WithSymbols(symbols ...interp.Exports) Option {
	return func(a *Analyzer) { a.symbols = append(a.symbols, symbols...) }
}

// WithLogger sets the analyzer's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// NewAnalyzer creates an analyzer with the provided options.
func NewAnalyzer(options ...Option) *Analyzer {
	ret := &Analyzer{
		fs:    afs.New(),
		rules: sanitize.DefaultRules(),
		log:   zap.NewNop(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(ret)
		}
	}
	return ret
}

// Analyze loads the module file at url and produces its Analysis. key is
// the file's sanitized basename key.
func (a *Analyzer) Analyze(ctx context.Context, url, key string) (*Analysis, error) {
	src, err := a.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", url, err)
	}
	scan, err := ScanSource(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to scan module %s: %w", url, err)
	}
	exports, err := a.load(src, scan)
	if err != nil {
		return nil, fmt.Errorf("failed to load module %s: %w", url, err)
	}
	analysis, err := a.classify(scan, exports, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	a.log.Debug("analyzed module",
		zap.String("url", url),
		zap.String("key", key),
		zap.Bool("default", analysis.HasDefault),
		zap.Int("named", len(analysis.Named)))
	return analysis, nil
}

// load evaluates the source and extracts the exported symbol values.
func (a *Analyzer) load(src []byte, scan *FileScan) (map[string]reflect.Value, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	for _, symbols := range a.symbols {
		if err := i.Use(symbols); err != nil {
			return nil, fmt.Errorf("failed to inject symbols: %w", err)
		}
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	pkg := scan.PackageName
	if pkg == "" {
		pkg = "main"
	}
	symbols := i.Symbols(pkg)
	if len(symbols) == 0 && pkg != "main" {
		symbols = i.Symbols("main")
	}
	exports, ok := symbols[pkg]
	if !ok {
		for _, v := range symbols {
			exports = v
			break
		}
	}
	return exports, nil
}

// classify normalizes the export set into an Analysis, handling the dual
// and wrapped module shapes uniformly.
func (a *Analyzer) classify(scan *FileScan, exports map[string]reflect.Value, key string) (*Analysis, error) {
	values := map[string]any{}
	for name, v := range exports {
		if !v.IsValid() {
			continue
		}
		values[name] = deref(v)
	}

	var defaultValue any
	hasDefault := false
	var namedOrder []string

	if scan.HasWrapper {
		wrapper, ok := values["Exports"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: Exports wrapper is not a map", ErrNoExports)
		}
		values = map[string]any{}
		for k, v := range wrapper {
			switch k {
			case "Default", "default":
				defaultValue = v
				hasDefault = true
			default:
				values[k] = v
				namedOrder = append(namedOrder, k)
			}
		}
		sort.Strings(namedOrder)
	} else {
		if v, ok := values["Default"]; ok {
			defaultValue = v
			hasDefault = true
			delete(values, "Default")
		}
		for _, name := range scan.Exports {
			if _, ok := values[name]; ok {
				namedOrder = append(namedOrder, name)
			}
		}
		if alias := scan.DefaultAlias; alias != "" {
			delete(values, alias)
		}
	}

	if !hasDefault && len(namedOrder) == 0 {
		return nil, ErrNoExports
	}

	analysis := &Analysis{Key: key, HasDefault: hasDefault}
	selfNamed := false
	for _, name := range namedOrder {
		nk := sanitize.ExportKey(name, a.rules)
		value, err := a.adoptValue(name, values[name])
		if err != nil {
			return nil, err
		}
		analysis.Named = append(analysis.Named, Named{Name: name, Key: nk, Value: value})
		if nk == key {
			selfNamed = true
		}
	}
	// a lone export matching the file key is the auto-flatten shape, not a
	// self-reference; self-reference needs company
	analysis.IsSelfReferential = selfNamed && (len(analysis.Named) > 1 || hasDefault)

	if hasDefault {
		if err := a.adoptDefault(analysis, scan, defaultValue); err != nil {
			return nil, err
		}
	} else {
		ns := api.NewNamespace()
		for _, n := range analysis.Named {
			ns.Set(n.Key, n.Value)
		}
		analysis.Value = ns
		if len(analysis.Named) == 1 {
			if fn, ok := analysis.Named[0].Value.(*api.Function); ok {
				analysis.FuncName = fn.Name()
			}
		}
	}
	return analysis, nil
}

// adoptDefault normalizes the default slot: functions become the slot value
// with named exports attached as properties, objects absorb named exports
// in place, and callable objects synthesize a function facade over their
// invocation target.
func (a *Analyzer) adoptDefault(analysis *Analysis, scan *FileScan, defaultValue any) error {
	if inner, target, ok := callableObject(defaultValue); ok {
		analysis.DefaultKind = KindFunction
		analysis.IsCallableObject = true
		name := sanitize.ExportKey(defaultName(scan), a.rules)
		fn, err := api.NewFunction(name, target)
		if err != nil {
			return err
		}
		fn.MarkDefault()
		for _, k := range sortedKeys(inner) {
			switch k {
			case "Default", "default":
				continue
			}
			member, err := a.adoptValue(k, inner[k])
			if err != nil {
				return err
			}
			fn.SetProp(sanitize.ExportKey(k, a.rules), member)
		}
		for _, n := range analysis.Named {
			fn.SetProp(n.Key, n.Value)
		}
		analysis.FuncName = name
		analysis.Value = fn
		return nil
	}

	rv := reflect.ValueOf(defaultValue)
	if rv.IsValid() && rv.Kind() == reflect.Func {
		analysis.DefaultKind = KindFunction
		name := sanitize.ExportKey(defaultName(scan), a.rules)
		fn, err := api.NewFunction(name, rv)
		if err != nil {
			return err
		}
		fn.MarkDefault()
		for _, n := range analysis.Named {
			fn.SetProp(n.Key, n.Value)
		}
		analysis.FuncName = name
		analysis.Value = fn
		return nil
	}

	analysis.DefaultKind = KindObject
	ns, err := a.objectNamespace(defaultValue)
	if err != nil {
		return err
	}
	for _, n := range analysis.Named {
		ns.Set(n.Key, n.Value)
	}
	analysis.Value = ns
	return nil
}

// adoptValue wraps loaded values into API form: funcs become Functions,
// maps become namespaces, everything else passes through.
func (a *Analyzer) adoptValue(name string, value any) (any, error) {
	rv, ok := value.(reflect.Value)
	if ok {
		value = deref(rv)
	}
	switch v := value.(type) {
	case map[string]any:
		ns := api.NewNamespace()
		for _, k := range sortedKeys(v) {
			member, err := a.adoptValue(k, v[k])
			if err != nil {
				return nil, err
			}
			ns.Set(sanitize.ExportKey(k, a.rules), member)
		}
		return ns, nil
	default:
		rv := reflect.ValueOf(value)
		if rv.IsValid() && rv.Kind() == reflect.Func {
			return api.NewFunction(sanitize.ExportKey(name, a.rules), rv)
		}
		return value, nil
	}
}

// objectNamespace converts an object default (map or struct) into a
// namespace.
func (a *Analyzer) objectNamespace(value any) (*api.Namespace, error) {
	if m, ok := value.(map[string]any); ok {
		ns := api.NewNamespace()
		for _, k := range sortedKeys(m) {
			member, err := a.adoptValue(k, m[k])
			if err != nil {
				return nil, err
			}
			ns.Set(sanitize.ExportKey(k, a.rules), member)
		}
		return ns, nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		ns := api.NewNamespace()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			member, err := a.adoptValue(f.Name, rv.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			ns.Set(sanitize.ExportKey(f.Name, a.rules), member)
		}
		return ns, nil
	}
	ns := api.NewNamespace()
	ns.Set("value", value)
	return ns, nil
}

// callableObject detects the callable-object form: a map default whose own
// default entry is a function. It returns the map and the invocation
// target.
func callableObject(value any) (map[string]any, reflect.Value, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, reflect.Value{}, false
	}
	for _, k := range []string{"default", "Default"} {
		if inner, ok := m[k]; ok {
			rv := reflect.ValueOf(inner)
			if rv.IsValid() && rv.Kind() == reflect.Func {
				return m, rv, true
			}
		}
	}
	return nil, reflect.Value{}, false
}

// defaultName derives the default function's name: the aliased declaration
// when present, otherwise the anonymous "default".
func defaultName(scan *FileScan) string {
	if scan != nil && scan.DefaultAlias != "" {
		return scan.DefaultAlias
	}
	return "default"
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func deref(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	// yaegi hands variables back as pointers to their storage
	if v.Kind() == reflect.Ptr && !v.IsNil() && v.Type().Elem().Kind() != reflect.Struct {
		return v.Elem().Interface()
	}
	return v.Interface()
}
