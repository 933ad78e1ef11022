package exec

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fastgo/internal/fixture"
	"fastgo/internal/hooks"
	"fastgo/internal/result"
	"fastgo/internal/testitem"
	"fastgo/internal/vm"
)

// fakeInterp stands in for the embedded VM, resolving calls by
// qualified name against a table the test populates, and recording the
// kwargs it was invoked with for assertions.
type fakeInterp struct {
	mu       sync.Mutex
	handlers map[string]func(kwargs map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error)
	calls    []string
}

func newFakeInterp() *fakeInterp {
	return &fakeInterp{handlers: make(map[string]func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error))}
}

func (f *fakeInterp) on(name string, fn func(kwargs map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error)) {
	f.handlers[name] = fn
}

func (f *fakeInterp) Call(_ context.Context, qualifiedName string, _ []string, kwargs map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, qualifiedName)
	f.mu.Unlock()

	h, ok := f.handlers[qualifiedName]
	if !ok {
		return vm.Null, nil, fmt.Errorf("fakeInterp: no handler for %s", qualifiedName)
	}
	return h(kwargs)
}

func (f *fakeInterp) DrainOutput() (string, string) { return "", "" }

type fakeHandle struct {
	resumed *[]string
	name    string
	mu      *sync.Mutex
}

func (h *fakeHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.resumed = append(*h.resumed, h.name)
	return nil
}

func newExecutorFixture() (*Executor, *fakeInterp, *fixture.Registry) {
	reg := fixture.NewRegistry()
	cache := fixture.NewCache(0)
	interp := newFakeInterp()
	hk := hooks.New()
	agg := result.NewAggregator()
	ex := New(reg, cache, interp, hk, agg)
	return ex, interp, reg
}

func passingItem(path, fn string, deps []string) testitem.Item {
	return testitem.Item{
		ID:           testitem.BuildID(path, "", fn, 0, false),
		Path:         path,
		FunctionName: fn,
		DisplayName:  fn,
		FixtureDeps:  deps,
	}
}

func TestExecutor_SimplePassingTest(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	interp.on("mod.test_ok", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		return vm.Null, nil, nil
	})

	item := passingItem("mod.py", "test_ok", nil)
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.Passed, results[0].Outcome)
}

func TestExecutor_FailingTestRecordsFailure(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	interp.on("mod.test_bad", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		return vm.Null, nil, fmt.Errorf("assert 1 == 2")
	})

	item := passingItem("mod.py", "test_bad", nil)
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.Failed, results[0].Outcome)
	assert.Equal(t, 1, ex.Aggregator.ExitStatus())
}

func TestExecutor_SkipMarkerShortCircuitsCall(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	interp.on("mod.test_skipped", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		t.Fatal("skipped test must not be called")
		return vm.Null, nil, nil
	})

	item := passingItem("mod.py", "test_skipped", nil)
	item.Decorators = []string{`mark.skip(reason="not ready")`}
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.Skipped, results[0].Outcome)
	assert.Equal(t, "not ready", results[0].Reason)
}

func TestExecutor_XFailWithErrorIsXFailed(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	interp.on("mod.test_known_bug", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		return vm.Null, nil, fmt.Errorf("boom")
	})

	item := passingItem("mod.py", "test_known_bug", nil)
	item.Decorators = []string{`mark.xfail(reason="known")`}
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.XFailed, results[0].Outcome)
	// xfail must not flip the run's overall exit status to failing.
	assert.Equal(t, 0, ex.Aggregator.ExitStatus())
}

func TestExecutor_XFailWithoutErrorIsXPassed(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	interp.on("mod.test_surprise_pass", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		return vm.Null, nil, nil
	})

	item := passingItem("mod.py", "test_surprise_pass", nil)
	item.Decorators = []string{`mark.xfail()`}
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.XPassed, results[0].Outcome)
}

// TestExecutor_FixtureValuePropagatesIntoTest covers §8's property that
// a fixture's created value reaches the consuming test's kwargs.
func TestExecutor_FixtureValuePropagatesIntoTest(t *testing.T) {
	ex, interp, reg := newExecutorFixture()
	reg.Register(fixture.Fixture{Name: "db", Scope: fixture.ScopeFunction, ModulePath: "mod.py", FuncName: "DB"})

	interp.on("mod.DB", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		return vm.String("connection"), nil, nil
	})

	var seen string
	interp.on("mod.test_uses_db", func(kwargs map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		seen = kwargs["db"].Str
		return vm.Null, nil, nil
	})

	item := passingItem("mod.py", "test_uses_db", []string{"db"})
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	assert.Equal(t, "connection", seen)
	assert.Equal(t, result.Passed, ex.Aggregator.Results()[0].Outcome)
}

// TestExecutor_ResultsPreserveInputOrder covers §8's ordering property
// even though items within this batch don't share scopes.
func TestExecutor_ResultsPreserveInputOrder(t *testing.T) {
	ex, interp, _ := newExecutorFixture()
	for _, name := range []string{"test_a", "test_b", "test_c"} {
		interp.on("mod."+name, func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
			return vm.Null, nil, nil
		})
	}

	items := []testitem.Item{
		passingItem("mod.py", "test_c", nil),
		passingItem("mod.py", "test_a", nil),
		passingItem("mod.py", "test_b", nil),
	}
	require.NoError(t, ex.RunBatch(context.Background(), items))

	results := ex.Aggregator.Results()
	require.Len(t, results, 3)
	assert.Equal(t, []string{items[0].ID, items[1].ID, items[2].ID}, []string{results[0].TestID, results[1].TestID, results[2].TestID})
}

// TestExecutor_ModuleScopeFixtureTornDownOnceAfterLastItemInModule
// covers the lifecycle-transition behavior of §4.10 step 5/6: a
// module-scoped fixture's teardown handle resumes exactly once, after
// the last test in that module, not after every test.
func TestExecutor_ModuleScopeFixtureTornDownOnceAfterLastItemInModule(t *testing.T) {
	ex, interp, reg := newExecutorFixture()
	reg.Register(fixture.Fixture{Name: "conn", Scope: fixture.ScopeModule, ModulePath: "mod.py", FuncName: "Conn"})

	var resumed []string
	var mu sync.Mutex
	created := 0
	interp.on("mod.Conn", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return vm.String("c"), &fakeHandle{resumed: &resumed, name: "conn", mu: &mu}, nil
	})
	interp.on("mod.test_one", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) { return vm.Null, nil, nil })
	interp.on("mod.test_two", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) { return vm.Null, nil, nil })

	items := []testitem.Item{
		passingItem("mod.py", "test_one", []string{"conn"}),
		passingItem("mod.py", "test_two", []string{"conn"}),
	}
	require.NoError(t, ex.RunBatch(context.Background(), items))

	assert.Equal(t, 1, created, "module fixture must be created once across both tests")
	assert.Equal(t, []string{"conn"}, resumed, "module fixture teardown must resume exactly once")
}

// TestExecutor_FunctionScopeFixtureTornDownAfterEachTest covers §4.10
// step 6 and E6: a function-scoped (yield-style) fixture's teardown
// handle resumes once per test, immediately after that test, not left
// pending until a later scope boundary or dropped entirely.
func TestExecutor_FunctionScopeFixtureTornDownAfterEachTest(t *testing.T) {
	ex, interp, reg := newExecutorFixture()
	reg.Register(fixture.Fixture{Name: "tmp", Scope: fixture.ScopeFunction, ModulePath: "mod.py", FuncName: "Tmp"})

	var resumed []string
	var mu sync.Mutex
	created := 0
	interp.on("mod.Tmp", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return vm.String("t"), &fakeHandle{resumed: &resumed, name: "tmp", mu: &mu}, nil
	})
	interp.on("mod.test_one", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) { return vm.Null, nil, nil })
	interp.on("mod.test_two", func(map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error) { return vm.Null, nil, nil })

	items := []testitem.Item{
		passingItem("mod.py", "test_one", []string{"tmp"}),
		passingItem("mod.py", "test_two", []string{"tmp"}),
	}
	require.NoError(t, ex.RunBatch(context.Background(), items))

	assert.Equal(t, 2, created, "function fixture must be created fresh for each test")
	assert.Equal(t, []string{"tmp", "tmp"}, resumed, "function fixture must tear down once per test")
}

// TestExecutor_CyclicFixtureDependencyFailsTheTest covers §8's cycle
// property surfacing as a Failed outcome rather than a panic or hang.
func TestExecutor_CyclicFixtureDependencyFailsTheTest(t *testing.T) {
	ex, _, reg := newExecutorFixture()
	reg.Register(fixture.Fixture{Name: "a", Scope: fixture.ScopeFunction, Dependencies: []string{"b"}})
	reg.Register(fixture.Fixture{Name: "b", Scope: fixture.ScopeFunction, Dependencies: []string{"a"}})

	item := passingItem("mod.py", "test_cyclic", []string{"a"})
	require.NoError(t, ex.RunBatch(context.Background(), []testitem.Item{item}))

	results := ex.Aggregator.Results()
	require.Len(t, results, 1)
	assert.Equal(t, result.Failed, results[0].Outcome)
}
