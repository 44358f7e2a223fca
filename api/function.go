package api

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Function is a callable API leaf. It wraps the loaded function value,
// carries its dotted path tag, the came-from-default mark, and any attached
// properties (named-export siblings or callable-object members). A Function
// is also a Node over its properties.
type Function struct {
	mu          sync.RWMutex
	fn          reflect.Value
	name        string
	path        string
	fromDefault bool
	props       *Namespace
	meta        *Metadata
	sourceDir   string
}

// NewFunction wraps fn, which must be a func value (native or interpreted).
func NewFunction(name string, fn any) (*Function, error) {
	rv, ok := fn.(reflect.Value)
	if !ok {
		rv = reflect.ValueOf(fn)
	}
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, name)
	}
	return &Function{name: name, fn: rv, props: NewNamespace()}, nil
}

// MustFunction is NewFunction for statically known funcs.
func MustFunction(name string, fn any) *Function {
	f, err := NewFunction(name, fn)
	if err != nil {
		panic(err)
	}
	return f
}

// Name returns the function's current name.
func (f *Function) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// Rename changes the function's name.
func (f *Function) Rename(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

// Path returns the dotted path tag, empty for internal helpers.
func (f *Function) Path() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.path
}

// SetPath assigns the dotted path tag.
func (f *Function) SetPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
}

// FromDefault reports whether the function came from a default export slot.
func (f *Function) FromDefault() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fromDefault
}

// MarkDefault flags the function as coming from a default export slot.
func (f *Function) MarkDefault() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fromDefault = true
}

// SourceDir returns the folder the function was loaded from.
func (f *Function) SourceDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sourceDir
}

// Get returns an attached property.
func (f *Function) Get(key string) (any, bool) { return f.props.Get(key) }

// Has reports whether an attached property exists.
func (f *Function) Has(key string) bool { return f.props.Has(key) }

// Keys returns attached property keys in insertion order.
func (f *Function) Keys() []string { return f.props.Keys() }

// SetProp attaches a property to the function.
func (f *Function) SetProp(key string, value any) { f.props.Set(key, value) }

// DeleteProp removes an attached property.
func (f *Function) DeleteProp(key string) bool { return f.props.Delete(key) }

// Metadata returns the attached metadata container, nil when untagged.
func (f *Function) Metadata() *Metadata {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta
}

// Call invokes the function with background context.
func (f *Function) Call(args ...any) (any, error) {
	return f.CallContext(context.Background(), args...)
}

// CallContext invokes the function reflectively. When the underlying
// signature starts with a context.Context the given ctx is prepended, which
// is how ambient instance state reaches module code. Return conventions:
// (T, error), (T), (error) and no results are all accepted; multiple
// non-error results collapse into a []any.
func (f *Function) CallContext(ctx context.Context, args ...any) (result any, err error) {
	f.mu.RLock()
	fn := f.fn
	name := f.name
	f.mu.RUnlock()

	t := fn.Type()
	in := args
	wantsCtx := t.NumIn() > 0 && t.In(0) == ctxType
	offset := 0
	if wantsCtx {
		offset = 1
	}

	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
	}
	values := make([]reflect.Value, 0, len(in)+offset)
	if wantsCtx {
		values = append(values, reflect.ValueOf(ctx))
	}
	for i, arg := range in {
		var want reflect.Type
		pos := i + offset
		switch {
		case pos < fixed:
			want = t.In(pos)
		case t.IsVariadic():
			want = t.In(t.NumIn() - 1).Elem()
		default:
			return nil, fmt.Errorf("%s: too many arguments (%d)", name, len(in))
		}
		v, convErr := adaptArg(arg, want)
		if convErr != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", name, i, convErr)
		}
		values = append(values, v)
	}
	if len(values) < fixed {
		return nil, fmt.Errorf("%s: not enough arguments (%d for %d)", name, len(in), fixed-offset)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	out := fn.Call(values)
	return collapseResults(out)
}

func adaptArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(want), nil
	}
	v, ok := arg.(reflect.Value)
	if !ok {
		v = reflect.ValueOf(arg)
	}
	if v.Type() == want || v.Type().AssignableTo(want) {
		return v, nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), want)
}

func collapseResults(out []reflect.Value) (any, error) {
	var err error
	values := make([]any, 0, len(out))
	for i, v := range out {
		if i == len(out)-1 && v.Type().Implements(errType) {
			if !v.IsNil() {
				err = v.Interface().(error)
			}
			continue
		}
		values = append(values, v.Interface())
	}
	switch len(values) {
	case 0:
		return nil, err
	case 1:
		return values[0], err
	default:
		return values, err
	}
}
