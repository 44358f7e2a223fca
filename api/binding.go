package api

import (
	"fmt"
	"reflect"
)

// Rebind mutates a persistent target in place so it mirrors source while
// every external reference to the target keeps working. Targets are either
// namespaces (object shape) or functions (callable shape). Reserved keys on
// the target survive the rewrite; management entries present on the source
// are copied across even though they are reserved.
func Rebind(target, source any) error {
	switch t := target.(type) {
	case *Function:
		return rebindFunction(t, source)
	case *Namespace:
		return rebindNamespace(t, source)
	default:
		return fmt.Errorf("cannot rebind %T in place", target)
	}
}

func rebindFunction(target *Function, source any) error {
	srcFn, ok := source.(*Function)
	if !ok {
		if rv := reflect.ValueOf(source); rv.IsValid() && rv.Kind() == reflect.Func {
			f, err := NewFunction(target.Name(), rv)
			if err != nil {
				return err
			}
			srcFn = f
		} else {
			return fmt.Errorf("cannot rebind function to %T", source)
		}
	}

	target.mu.Lock()
	target.fn = srcFn.fn
	target.name = srcFn.name
	target.fromDefault = srcFn.fromDefault
	target.sourceDir = srcFn.sourceDir
	target.mu.Unlock()

	for _, k := range target.Keys() {
		if reserved(k) {
			continue
		}
		target.props.Delete(k)
	}
	for _, k := range srcFn.Keys() {
		if v, ok := srcFn.Get(k); ok {
			target.props.Set(k, v)
		}
	}
	return nil
}

// RebindDeep mutates target to mirror source, recursing into matching
// container pairs so nested slots keep their object identity: a function
// held externally keeps pointing at its slot and observes the new
// implementation. Mismatched pairs fall back to replacement.
func RebindDeep(target, source any) error {
	switch t := target.(type) {
	case *Function:
		if srcFn, ok := source.(*Function); ok {
			t.mu.Lock()
			t.fn = srcFn.fn
			t.name = srcFn.name
			t.fromDefault = srcFn.fromDefault
			t.sourceDir = srcFn.sourceDir
			t.meta = srcFn.meta
			t.mu.Unlock()
			mergeEntries(t.props, srcFn.props)
			return nil
		}
		return rebindFunction(t, source)
	case *Namespace:
		src, ok := source.(Node)
		if !ok {
			return fmt.Errorf("cannot rebind namespace to %T", source)
		}
		mergeEntries(t, src)
		return nil
	default:
		return Rebind(target, source)
	}
}

// mergeEntries reconciles a namespace with a source node: keys absent from
// the source are dropped, matching children are rebound in place, new keys
// are adopted.
func mergeEntries(target *Namespace, src Node) {
	for _, k := range target.Keys() {
		if reserved(k) {
			continue
		}
		if !src.Has(k) {
			target.Delete(k)
		}
	}
	for _, k := range src.Keys() {
		sv, ok := src.Get(k)
		if !ok {
			continue
		}
		if tv, ok := target.Get(k); ok {
			if err := RebindDeep(tv, sv); err == nil {
				continue
			}
		}
		target.Set(k, sv)
	}
}

func rebindNamespace(target *Namespace, source any) error {
	src, ok := source.(Node)
	if !ok {
		return fmt.Errorf("cannot rebind namespace to %T", source)
	}
	for _, k := range target.Keys() {
		if reserved(k) {
			continue
		}
		target.Delete(k)
	}
	for _, k := range src.Keys() {
		if v, ok := src.Get(k); ok {
			target.Set(k, v)
		}
	}
	return nil
}
