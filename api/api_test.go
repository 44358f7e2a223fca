package api_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/api"
)

func TestNamespaceOrderAndMutation(t *testing.T) {
	ns := api.NewNamespace()
	ns.Set("b", 1)
	ns.Set("a", 2)
	ns.Set("b", 3)
	assert.Equal(t, []string{"b", "a"}, ns.Keys())

	v, ok := ns.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	assert.True(t, ns.Delete("b"))
	assert.False(t, ns.Delete("b"))
	assert.Equal(t, []string{"a"}, ns.Keys())
}

func TestFunctionCallConventions(t *testing.T) {
	add := api.MustFunction("add", func(a, b int) int { return a + b })
	got, err := add.Call(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	fail := api.MustFunction("fail", func() (string, error) { return "", errors.New("boom") })
	_, err = fail.Call()
	assert.EqualError(t, err, "boom")

	variadic := api.MustFunction("join", func(sep string, parts ...string) string {
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += sep
			}
			out += p
		}
		return out
	})
	got, err = variadic.Call("-", "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", got)

	withCtx := api.MustFunction("whoami", func(ctx context.Context) string {
		if v := ctx.Value(ctxKey{}); v != nil {
			return v.(string)
		}
		return "nobody"
	})
	got, err = withCtx.CallContext(context.WithValue(context.Background(), ctxKey{}, "me"))
	require.NoError(t, err)
	assert.Equal(t, "me", got)
}

type ctxKey struct{}

func TestFunctionArityErrors(t *testing.T) {
	f := api.MustFunction("f", func(a int) int { return a })
	_, err := f.Call()
	assert.Error(t, err)
	_, err = f.Call(1, 2)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	leaf := api.MustFunction("build", func() string { return "ok" })
	url := api.NewNamespace()
	url.Set("build", leaf)
	util := api.NewNamespace()
	util.Set("url", url)
	root := api.NewNamespace()
	root.Set("util", util)

	v, err := api.Lookup(root, "util.url.build")
	require.NoError(t, err)
	assert.Same(t, leaf, v)

	_, err = api.Lookup(root, "util.nope")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = api.Lookup(root, "util..build")
	assert.Error(t, err)
}

func TestRebindFunctionKeepsExternalReference(t *testing.T) {
	v1 := api.MustFunction("x", func() string { return "v1" })
	external := v1

	v2 := api.MustFunction("x", func() string { return "v2" })
	v2.SetProp("tag", "second")
	require.NoError(t, api.Rebind(v1, v2))

	got, err := external.Call()
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	tag, ok := external.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "second", tag)
}

func TestRebindNamespace(t *testing.T) {
	target := api.NewNamespace()
	target.Set("old", 1)
	target.Set("_ctx", "keep")

	src := api.NewNamespace()
	src.Set("fresh", 2)
	require.NoError(t, api.Rebind(target, src))

	assert.False(t, target.Has("old"))
	keep, _ := target.Get("_ctx")
	assert.Equal(t, "keep", keep)
	fresh, _ := target.Get("fresh")
	assert.Equal(t, 2, fresh)
}

func TestMetadataFreezeSemantics(t *testing.T) {
	m := api.NewMetadata(map[string]any{
		"sandboxed": true,
		"nested":    map[string]any{"a": 1},
	})
	assert.ErrorIs(t, m.Set("sandboxed", false), api.ErrFrozen)
	assert.ErrorIs(t, m.Delete("sandboxed"), api.ErrFrozen)

	require.NoError(t, m.Set("added", "once"))
	assert.ErrorIs(t, m.Set("added", "twice"), api.ErrFrozen)

	nested, ok := m.Get("nested")
	require.True(t, ok)
	nm, ok := nested.(*api.Metadata)
	require.True(t, ok)
	assert.ErrorIs(t, nm.Set("a", 2), api.ErrFrozen)
}

func TestAttachAndScrubMetadata(t *testing.T) {
	fn := api.MustFunction("f", func() {})
	ns := api.NewNamespace()
	ns.Set("f", fn)
	ns.Set("_hidden", api.MustFunction("h", func() {}))

	api.AttachMetadata(ns, map[string]any{"owner": "core"}, "/root/dir")
	require.NotNil(t, fn.Metadata())
	owner, _ := fn.Metadata().Get("owner")
	assert.Equal(t, "core", owner)
	assert.Equal(t, "/root/dir", fn.SourceDir())

	hidden, _ := ns.Get("_hidden")
	assert.Nil(t, hidden.(*api.Function).Metadata())

	api.ScrubMetadata(ns)
	assert.Nil(t, fn.Metadata())
	assert.Empty(t, fn.SourceDir())
}

func TestForwarderLaziness(t *testing.T) {
	calls := 0
	inner := api.NewNamespace()
	inner.Set("add", api.MustFunction("add", func(a, b int) int { return a + b }))
	fw := api.NewForwarder("math", nil, func() []string { return []string{"add"} }, func() (any, error) {
		calls++
		return inner, nil
	})

	assert.True(t, fw.Has("add"))
	assert.Equal(t, []string{"add"}, fw.Keys())
	assert.Zero(t, calls, "shape questions must not materialize")

	v, ok := fw.Get("add")
	require.True(t, ok)
	assert.Equal(t, 1, calls)
	got, err := v.(*api.Function).Call(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	fw.Get("add")
	assert.Equal(t, 1, calls, "materialization is cached")
}

func TestForwarderErrorNotCached(t *testing.T) {
	attempts := 0
	fw := api.NewForwarder("bad", nil, nil, func() (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return api.NewNamespace(), nil
	})
	_, err := fw.Value()
	assert.Error(t, err)
	_, err = fw.Value()
	assert.Error(t, err)
	v, err := fw.Value()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Equal(t, 3, attempts)
}

func TestCollectAndTagPaths(t *testing.T) {
	build := api.MustFunction("build", func() {})
	url := api.NewNamespace()
	url.Set("build", build)
	root := api.NewNamespace()
	root.Set("url", url)

	api.TagPaths(root, "")
	assert.Equal(t, "url.build", build.Path())

	paths := api.CollectPaths(root, "")
	assert.ElementsMatch(t, []string{"url", "url.build"}, paths)
}
