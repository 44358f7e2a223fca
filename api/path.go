package api

import (
	"fmt"
	"strings"
)

// SplitPath splits a dotted API path into segments. Empty paths and empty
// segments are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", path)
		}
	}
	return parts, nil
}

// JoinPath joins segments into a dotted path, skipping empty ones.
func JoinPath(segments ...string) string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ".")
}

// Lookup walks root by dotted path. Intermediate values must implement Node.
func Lookup(root any, path string) (any, error) {
	parts, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	cur := root
	for i, part := range parts {
		node, ok := cur.(Node)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not navigable", ErrNotFound, JoinPath(parts[:i]...))
		}
		next, ok := node.Get(part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, JoinPath(parts[:i+1]...))
		}
		cur = next
	}
	return cur, nil
}

// KindOf classifies an API value the way callers observe it: "function" for
// callables, "object" for navigable containers, "undefined" for nil,
// otherwise "value".
func KindOf(v any) string {
	switch v.(type) {
	case *Function:
		return "function"
	case *Forwarder:
		f := v.(*Forwarder)
		if f.Callable() {
			return "function"
		}
		return "object"
	case Node:
		return "object"
	case nil:
		return "undefined"
	default:
		return "value"
	}
}

// TagPaths walks a subtree assigning each function its dotted path. The
// prefix names the slot the subtree is mounted under.
func TagPaths(value any, prefix string) {
	switch v := value.(type) {
	case *Function:
		v.SetPath(prefix)
		for _, k := range v.Keys() {
			if reserved(k) {
				continue
			}
			if child, ok := v.Get(k); ok {
				TagPaths(child, JoinPath(prefix, k))
			}
		}
	case *Namespace:
		for _, k := range v.Keys() {
			if reserved(k) {
				continue
			}
			if child, ok := v.Get(k); ok {
				TagPaths(child, JoinPath(prefix, k))
			}
		}
	}
}

// CollectPaths returns every dotted path reachable from value under prefix,
// including container paths. Lazy forwarders contribute their own path but
// are not materialized.
func CollectPaths(value any, prefix string) []string {
	var out []string
	if prefix != "" {
		out = append(out, prefix)
	}
	switch v := value.(type) {
	case *Forwarder:
		return out
	case *Function:
		for _, k := range v.Keys() {
			if reserved(k) {
				continue
			}
			if child, ok := v.Get(k); ok {
				out = append(out, CollectPaths(child, JoinPath(prefix, k))...)
			}
		}
	case *Namespace:
		for _, k := range v.Keys() {
			if reserved(k) {
				continue
			}
			if child, ok := v.Get(k); ok {
				out = append(out, CollectPaths(child, JoinPath(prefix, k))...)
			}
		}
	}
	return out
}
