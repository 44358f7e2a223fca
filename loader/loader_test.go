package loader_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/loader"
)

func fixture(t *testing.T, parts ...string) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join(append([]string{"testdata"}, parts...)...))
	require.NoError(t, err)
	return abs
}

func build(t *testing.T, dir string, lazy bool) any {
	t.Helper()
	b := loader.New(loader.Config{Lazy: lazy})
	root, err := b.Build(context.Background(), dir)
	require.NoError(t, err)
	return root
}

func get(t *testing.T, root any, path string) any {
	t.Helper()
	v, err := api.Lookup(root, path)
	require.NoError(t, err, path)
	v, err = api.Unwrap(v)
	require.NoError(t, err, path)
	return v
}

func call(t *testing.T, root any, path string, args ...any) any {
	t.Helper()
	v := get(t, root, path)
	fn, ok := v.(*api.Function)
	require.True(t, ok, "%s is %T, not callable", path, v)
	out, err := fn.Call(args...)
	require.NoError(t, err, path)
	return out
}

func TestEagerBuildShapes(t *testing.T) {
	root := build(t, fixture(t, "basic"), false)
	ns, ok := root.(*api.Namespace)
	require.True(t, ok)

	keys := ns.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"devices", "math", "str", "util"}, keys)

	// single-file flattening: the math module is the directory slot
	mathFn, ok := get(t, root, "math").(*api.Function)
	require.True(t, ok)
	assert.Equal(t, "math", mathFn.Name())
	assert.Equal(t, 5, call(t, root, "math", 2, 3))
	assert.False(t, mathFn.Has("math"), "no nested math.math slot")

	// multi-default disambiguation keeps per-file namespaces
	assert.Equal(t, "tv:7", call(t, root, "devices.tv", "7"))
	assert.Equal(t, "Sony", get(t, root, "devices.tv.brand"))
	assert.Equal(t, "radio:fm", call(t, root, "devices.radio", "fm"))
	devices := get(t, root, "devices").(api.Node)
	assert.False(t, devices.Has("brand"), "named exports stay on their module")

	// plain namespace preservation
	assert.Equal(t, "HEY", call(t, root, "str.case.upper", "hey"))

	// generic filename promotes its export into the parent
	assert.Equal(t, "1", call(t, root, "util.extract", "a=1,b=2", "a"))
	util := get(t, root, "util").(api.Node)
	assert.False(t, util.Has("index"))
}

func TestRootCallable(t *testing.T) {
	for _, lazy := range []bool{false, true} {
		root := build(t, fixture(t, "callableroot"), lazy)
		fn, ok := root.(*api.Function)
		require.True(t, ok, "lazy=%v", lazy)

		got, err := fn.Call("World")
		require.NoError(t, err)
		assert.Equal(t, "Hello, World", got)

		shout, ok := fn.Get("shout")
		require.True(t, ok)
		got, err = shout.(*api.Function).Call("hey")
		require.NoError(t, err)
		assert.Equal(t, "HEY!", got)
	}
}

// shape reduces a value to its observable structure: kinds per reachable
// path. Walking Get materializes lazy slots, which is exactly what a caller
// reaching that path would do.
func shape(v any) map[string]string {
	out := map[string]string{}
	var walk func(v any, prefix string)
	walk = func(v any, prefix string) {
		out[prefix] = api.KindOf(v)
		if node, ok := v.(api.Node); ok {
			for _, k := range node.Keys() {
				if child, ok := node.Get(k); ok {
					walk(child, prefix+"."+k)
				}
			}
		}
	}
	walk(v, "root")
	return out
}

func TestLazyEagerShapeEquivalence(t *testing.T) {
	eager := build(t, fixture(t, "basic"), false)
	lazy := build(t, fixture(t, "basic"), true)

	if diff := cmp.Diff(shape(eager), shape(lazy)); diff != "" {
		t.Fatalf("shape mismatch (-eager +lazy):\n%s", diff)
	}

	// and equal call results for every function path
	for _, tc := range []struct {
		path string
		args []any
		want any
	}{
		{"math", []any{2, 3}, 5},
		{"devices.tv", []any{"7"}, "tv:7"},
		{"devices.radio", []any{"fm"}, "radio:fm"},
		{"str.case.lower", []any{"HEY"}, "hey"},
		{"util.extract", []any{"a=1", "a"}, "1"},
	} {
		assert.Equal(t, tc.want, call(t, eager, tc.path, tc.args...), "eager %s", tc.path)
		assert.Equal(t, tc.want, call(t, lazy, tc.path, tc.args...), "lazy %s", tc.path)
	}
}

func TestLazyShapeAnswersWithoutMaterializing(t *testing.T) {
	root := build(t, fixture(t, "basic"), true)
	ns := root.(*api.Namespace)

	fw, ok := mustGet(t, ns, "devices").(*api.Forwarder)
	require.True(t, ok)
	assert.False(t, fw.Realized())
	assert.True(t, fw.Has("tv"))
	assert.True(t, fw.Has("radio"))
	assert.ElementsMatch(t, []string{"tv", "radio"}, fw.Keys())
	assert.False(t, fw.Realized(), "Has and Keys answer from the listing")

	mathFw := mustGet(t, ns, "math").(*api.Forwarder)
	assert.Equal(t, "function", api.KindOf(mathFw))
	assert.False(t, mathFw.Realized(), "kind answers from the static scan")
}

func mustGet(t *testing.T, node api.Node, key string) any {
	t.Helper()
	v, ok := node.Get(key)
	require.True(t, ok, key)
	return v
}

func TestMaxDepthBoundsTraversal(t *testing.T) {
	unbounded := build(t, fixture(t, "deep"), false)
	assert.Equal(t, "leaf", call(t, unbounded, "a.b.leaf"))

	b := loader.New(loader.Config{MaxDepth: 1})
	root, err := b.Build(context.Background(), fixture(t, "deep"))
	require.NoError(t, err)

	a := get(t, root, "a").(api.Node)
	assert.Empty(t, a.Keys(), "directories beyond maxDepth are not entered")
}

func TestBrokenModuleFailsEagerly(t *testing.T) {
	b := loader.New(loader.Config{})
	_, err := b.Build(context.Background(), fixture(t, "broken"))
	assert.Error(t, err)
}

func TestBrokenModuleIsolatedInLazyMode(t *testing.T) {
	b := loader.New(loader.Config{Lazy: true})
	root, err := b.Build(context.Background(), fixture(t, "broken"))
	require.NoError(t, err, "lazy build defers module loading")

	fw := mustGet(t, root.(*api.Namespace), "bad").(*api.Forwarder)
	_, err = fw.Value()
	assert.Error(t, err)
	_, err = fw.Value()
	assert.Error(t, err, "the error is re-raised on every access")
}

func TestBuildSubtreeTagsPaths(t *testing.T) {
	b := loader.New(loader.Config{})
	value, err := b.BuildSubtree(context.Background(), fixture(t, "basic", "devices"), "plugins.devices")
	require.NoError(t, err)

	tv := mustGet(t, value.(api.Node), "tv").(*api.Function)
	assert.Equal(t, "plugins.devices.tv", tv.Path())
}
