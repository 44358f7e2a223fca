package slothlet_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slothlet "github.com/cldmv/slothlet"
	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/hook"
)

func fixture(t *testing.T, parts ...string) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join(append([]string{"testdata"}, parts...)...))
	require.NoError(t, err)
	return abs
}

func load(t *testing.T, dir string, options ...slothlet.Option) *slothlet.BoundApi {
	t.Helper()
	options = append([]slothlet.Option{slothlet.WithDir(dir)}, options...)
	b, err := slothlet.New(context.Background(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := slothlet.New(context.Background())
	assert.Error(t, err, "a root directory is required")

	_, err = slothlet.New(context.Background(), slothlet.WithDir(fixture(t, "nope")))
	assert.ErrorIs(t, err, slothlet.ErrMissingDir)

	_, err = slothlet.New(context.Background(), slothlet.WithDir(fixture(t, "app")), slothlet.WithMode("sometimes"))
	assert.Error(t, err)

	_, err = slothlet.New(context.Background(), slothlet.WithDir(fixture(t, "app")), slothlet.WithEngine("psychic"))
	assert.Error(t, err)
}

func TestSingleFileFlattening(t *testing.T) {
	b := load(t, fixture(t, "flat"))

	v, err := b.Get("math")
	require.NoError(t, err)
	fn, ok := v.(*api.Function)
	require.True(t, ok, "api.math is the function itself")
	assert.False(t, fn.Has("math"), "no api.math.math slot")

	got, err := b.Call("math", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestMultiDefaultDisambiguation(t *testing.T) {
	b := load(t, fixture(t, "app"))

	got, err := b.Call("devices.tv", "7")
	require.NoError(t, err)
	assert.Equal(t, "tv:7", got)

	brand, err := b.Get("devices.tv.brand")
	require.NoError(t, err)
	assert.Equal(t, "Sony", brand)

	got, err = b.Call("devices.radio", "fm")
	require.NoError(t, err)
	assert.Equal(t, "radio:fm", got)

	devices, err := b.Get("devices")
	require.NoError(t, err)
	assert.False(t, devices.(api.Node).Has("brand"), "named exports stay on their module")
}

func TestRootCallableBothModes(t *testing.T) {
	for _, mode := range []string{slothlet.ModeEager, slothlet.ModeLazy} {
		b := load(t, fixture(t, "greet"), slothlet.WithMode(mode))

		got, err := b.Invoke("World")
		require.NoError(t, err, mode)
		assert.Equal(t, "Hello, World", got, mode)

		shout, err := b.Get("shout")
		require.NoError(t, err, mode)
		out, err := shout.(*api.Function).Call("hey")
		require.NoError(t, err)
		assert.Equal(t, "HEY!", out, mode)
	}
}

func TestHookShortCircuitChain(t *testing.T) {
	b := load(t, fixture(t, "app"))

	lowRan := false
	_, err := b.Hooks().On(hook.Before, func(ctx context.Context, ev *hook.Event) (any, error) {
		return "cached", nil
	}, hook.WithPriority(200), hook.WithPattern("math.*"))
	require.NoError(t, err)
	_, err = b.Hooks().On(hook.Before, func(ctx context.Context, ev *hook.Event) (any, error) {
		lowRan = true
		return nil, nil
	}, hook.WithPriority(100), hook.WithPattern("math.*"))
	require.NoError(t, err)

	var always any
	_, err = b.Hooks().On(hook.Always, func(ctx context.Context, ev *hook.Event) (any, error) {
		always = ev.Result
		return nil, nil
	}, hook.WithPattern("math.*"))
	require.NoError(t, err)

	got, err := b.Call("math.add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "cached", got)
	assert.False(t, lowRan)
	assert.Equal(t, "cached", always)

	// other paths are unaffected
	got, err = b.Call("devices.radio", "fm")
	require.NoError(t, err)
	assert.Equal(t, "radio:fm", got)
}

func TestLiveReferenceIsolation(t *testing.T) {
	b1 := load(t, fixture(t, "live"), slothlet.WithContext(map[string]any{"user": "A"}))
	b2 := load(t, fixture(t, "live"), slothlet.WithContext(map[string]any{"user": "B"}))
	require.NotEqual(t, b1.InstanceID(), b2.InstanceID())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	run := func(b *slothlet.BoundApi, want string) {
		defer wg.Done()
		for i := 0; i < 40; i++ {
			got, err := b.Call("users.getUser")
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- assert.AnError
				return
			}
		}
	}
	wg.Add(2)
	go run(b1, "A")
	go run(b2, "B")
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("cross-instance contamination: %v", err)
	}
}

func TestLiveReferenceWritesPropagate(t *testing.T) {
	b := load(t, fixture(t, "live"))

	// writes from outside are visible to module code immediately
	b.Context()["user"] = "late"
	got, err := b.Call("users.getUser")
	require.NoError(t, err)
	assert.Equal(t, "late", got)

	// writes from module code land in the shared mapping
	ok, err := b.Call("users.setNote", "hi")
	require.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, "hi", b.Reference()["note"])
}

func TestIdentityEngineEndToEnd(t *testing.T) {
	b := load(t, fixture(t, "live"),
		slothlet.WithEngine("identity"),
		slothlet.WithContext(map[string]any{"user": "solo"}))
	got, err := b.Call("users.getUser")
	require.NoError(t, err)
	assert.Equal(t, "solo", got)
}

func TestShutdownIsolates(t *testing.T) {
	b1 := load(t, fixture(t, "app"))
	b2 := load(t, fixture(t, "app"))

	fired := 0
	_, err := b1.Hooks().On(hook.Before, func(ctx context.Context, ev *hook.Event) (any, error) {
		fired++
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, b1.Shutdown(context.Background()))
	assert.ErrorIs(t, b1.Shutdown(context.Background()), slothlet.ErrShutdown)

	_, err = b1.Call("math.add", 1, 2)
	assert.ErrorIs(t, err, slothlet.ErrShutdown)

	got, err := b2.Call("math.add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Zero(t, fired, "hooks of a shut-down instance never fire")
}

func TestMetadataTagging(t *testing.T) {
	b := load(t, fixture(t, "app"))
	v, err := b.Get("math.add")
	require.NoError(t, err)
	fn := v.(*api.Function)
	require.NotNil(t, fn.Metadata())
	owner, ok := fn.Metadata().Get("owner")
	require.True(t, ok)
	assert.Equal(t, slothlet.CoreOwner, owner)
	assert.ErrorIs(t, fn.Metadata().Set("owner", "evil"), api.ErrFrozen)
}

func TestDescribe(t *testing.T) {
	b := load(t, fixture(t, "app"), slothlet.WithMode(slothlet.ModeLazy))
	d := b.Describe()
	require.NotNil(t, d)
	assert.Equal(t, "object", d.Kind)

	var mathDesc *slothlet.Description
	for _, c := range d.Children {
		if c.Path == "math" {
			mathDesc = c
		}
	}
	require.NotNil(t, mathDesc)
	assert.False(t, mathDesc.Realized, "describe must not materialize lazy slots")
	require.Len(t, mathDesc.Children, 1)
	assert.Equal(t, "math.add", mathDesc.Children[0].Path)
}

func TestReloadRebindsInPlace(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "counter")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	src := filepath.Join(sub, "value.go")
	write := func(body string) {
		require.NoError(t, os.WriteFile(src, []byte(body), 0o644))
	}
	write("package value\n\n// Value reports the current revision.\nfunc Value() string { return \"one\" }\n")

	b := load(t, dir)
	got, err := b.Call("counter.value")
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	held, err := b.Get("counter.value")
	require.NoError(t, err)

	write("package value\n\n// Value reports the current revision.\nfunc Value() string { return \"two\" }\n")
	require.NoError(t, b.Reload(context.Background()))

	got, err = b.Call("counter.value")
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	out, err := held.(*api.Function).Call()
	require.NoError(t, err)
	assert.Equal(t, "two", out, "references held across reload observe the new implementation")
}

func TestReloadSkipsWhenUnchanged(t *testing.T) {
	b := load(t, fixture(t, "app"))
	require.NoError(t, b.Reload(context.Background()))
	require.NoError(t, b.Reload(context.Background()), "second reload sees unchanged fingerprints")

	got, err := b.Call("math.add", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestLazyEagerCallEquivalence(t *testing.T) {
	eager := load(t, fixture(t, "app"))
	lazy := load(t, fixture(t, "app"), slothlet.WithMode(slothlet.ModeLazy))

	for _, tc := range []struct {
		path string
		args []any
		want any
	}{
		{"math.add", []any{2, 3}, 5},
		{"devices.tv", []any{"9"}, "tv:9"},
		{"devices.radio", []any{"am"}, "radio:am"},
	} {
		e, err := eager.Call(tc.path, tc.args...)
		require.NoError(t, err, tc.path)
		l, err := lazy.Call(tc.path, tc.args...)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, e)
		assert.Equal(t, e, l)
	}
	assert.ElementsMatch(t, eager.Keys(), lazy.Keys())
}
