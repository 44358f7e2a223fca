package runtime

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cldmv/slothlet/api"
)

// wrapHookErr annotates a hook failure with its source stage.
func wrapHookErr(id, source string, err error) error {
	return fmt.Errorf("%s hook %s: %w", source, id, err)
}

// boundCache memoizes wrappers per target so the same object wraps once.
var boundCache sync.Map // uintptr -> *Bound

// Bound re-enters the dispatcher for method calls on a value returned from
// an API call, so user objects keep executing under the instance that
// produced them.
type Bound struct {
	d      *Dispatcher
	target reflect.Value
	path   string
	mu     sync.Mutex
	fns    map[string]*api.Function
}

// Target returns the wrapped value.
func (b *Bound) Target() any { return b.target.Interface() }

// Call invokes a method on the wrapped value through the dispatcher's
// engine scope. Method functions are memoized per name to preserve
// identity.
func (b *Bound) Call(method string, args ...any) (any, error) {
	fn, err := b.method(method)
	if err != nil {
		return nil, err
	}
	return b.d.Invoke(nil, fn, args...)
}

func (b *Bound) method(name string) (*api.Function, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn, ok := b.fns[name]; ok {
		return fn, nil
	}
	m := b.target.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("%s has no method %s", b.target.Type(), name)
	}
	fn, err := api.NewFunction(name, m)
	if err != nil {
		return nil, err
	}
	b.fns[name] = fn
	return fn, nil
}

// wrapResult wraps method-bearing class instances returned from API calls
// so their methods stay under the engine context. Plain values, containers
// and the API's own node types pass through untouched.
func (d *Dispatcher) wrapResult(result any) any {
	if result == nil {
		return nil
	}
	switch result.(type) {
	case *api.Function, *api.Namespace, *api.Forwarder, *Bound, Future, error,
		time.Time, *time.Time, []any, map[string]any, string, bool,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, complex64, complex128:
		return result
	}
	rv := reflect.ValueOf(result)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
			return result
		}
	case reflect.Struct:
	default:
		return result
	}
	if rv.Type().NumMethod() == 0 {
		return result
	}
	if rv.Kind() == reflect.Ptr {
		key := rv.Pointer()
		if cached, ok := boundCache.Load(key); ok {
			b := cached.(*Bound)
			if b.d == d {
				return b
			}
		}
		b := &Bound{d: d, target: rv, fns: map[string]*api.Function{}}
		boundCache.Store(key, b)
		return b
	}
	return &Bound{d: d, target: rv, fns: map[string]*api.Function{}}
}
