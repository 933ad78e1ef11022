package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"fastgo/internal/errs"
	"fastgo/internal/fixture"
	"fastgo/internal/hooks"
	"fastgo/internal/logging"
	"fastgo/internal/result"
	"fastgo/internal/testitem"
	"fastgo/internal/vm"
	"fastgo/internal/workerpool"
)

// Interp is the subset of *vm.Interpreter the executor depends on,
// narrowed to ease testing with a fake.
type Interp interface {
	Call(ctx context.Context, qualifiedName string, paramOrder []string, kwargs map[string]vm.Value) (vm.Value, fixture.TeardownHandle, error)
	DrainOutput() (stdout, stderr string)
}

// Executor runs a batch of TestItems against the fixture registry and
// cache (C6/C7) through the embedded VM (C8), wrapping each test in the
// plugin hook pipeline (C12) and recording outcomes into an Aggregator
// (C13), per spec §4.10.
type Executor struct {
	Registry   *fixture.Registry
	Cache      *fixture.Cache
	VM         Interp
	Hooks      *hooks.Pipeline
	Aggregator *result.Aggregator

	// WorkerPool, when set, routes fixture creation through out-of-
	// process workers (§4.7) instead of the embedded VM, the path
	// WorkStealing/MassiveParallel strategy selections take so that the
	// chosen strategy actually changes where fixture work runs.
	WorkerPool *workerpool.Pool

	lifecycle   *lifecycleTracker
	prevClass   string
	prevModule  string
	sessionOpen bool
}

// New builds an Executor over the given collaborators.
func New(reg *fixture.Registry, cache *fixture.Cache, interp Interp, hk *hooks.Pipeline, agg *result.Aggregator) *Executor {
	return &Executor{
		Registry:   reg,
		Cache:      cache,
		VM:         interp,
		Hooks:      hk,
		Aggregator: agg,
		lifecycle:  newLifecycleTracker(),
	}
}

// RunBatch executes items in order, per §5's ordering guarantee that
// TestResults are emitted in the order of the input TestItem list. It
// performs class/module transition teardown as items cross class and
// file boundaries and tears down all remaining scopes at the end,
// including session scope.
func (e *Executor) RunBatch(ctx context.Context, items []testitem.Item) error {
	if !e.sessionOpen {
		e.Hooks.SessionStart(hooks.Session{TestCount: len(items), TestPaths: uniquePaths(items)})
		e.sessionOpen = true
	}

	for _, item := range items {
		e.handleTransitions(item)
		e.Aggregator.RegisterFile(item.ID, item.Path)
		e.runOne(ctx, item)
	}

	e.teardownTrailingScopes(items)
	e.Aggregator.Finish()
	exitStatus := e.Aggregator.ExitStatus()
	e.Hooks.SessionFinish(exitStatus)
	return nil
}

// handleTransitions implements §4.10 step 5: on leaving a class or
// module, tear down its scoped fixtures before entering the next one.
func (e *Executor) handleTransitions(item testitem.Item) {
	classKey := classScopeID(item)
	if e.prevClass != "" && e.prevClass != classKey {
		if e.lifecycle.LeaveClass(e.prevClass) {
			e.Cache.Teardown(fixture.ScopeClass, e.prevClass)
		}
	}
	if e.prevModule != "" && e.prevModule != item.Path {
		if e.lifecycle.LeaveModule(e.prevModule) {
			e.Cache.Teardown(fixture.ScopeModule, e.prevModule)
		}
	}
	if classKey != "" && classKey != e.prevClass {
		e.lifecycle.EnterClass(classKey)
	}
	if item.Path != e.prevModule {
		e.lifecycle.EnterModule(item.Path)
	}
	e.prevClass = classKey
	e.prevModule = item.Path
}

// teardownTrailingScopes tears down the class/module scopes still open
// after the last item, plus package and session scope, per §4.10 step 6.
func (e *Executor) teardownTrailingScopes(items []testitem.Item) {
	if e.prevClass != "" && e.lifecycle.LeaveClass(e.prevClass) {
		e.Cache.Teardown(fixture.ScopeClass, e.prevClass)
	}
	if e.prevModule != "" && e.lifecycle.LeaveModule(e.prevModule) {
		e.Cache.Teardown(fixture.ScopeModule, e.prevModule)
	}
	for _, pkg := range uniquePackages(items) {
		e.Cache.Teardown(fixture.ScopePackage, pkg)
	}
	e.Cache.Teardown(fixture.ScopeSession, "session")
}

func (e *Executor) runOne(ctx context.Context, item testitem.Item) {
	node := item.ToNodeID()
	start := time.Now()

	// Function scope is the narrowest fixture scope and tears down after
	// every test regardless of outcome, per §4.10 step 6's ordering
	// (function, then class/module at their boundary, then package and
	// session at batch end).
	defer e.Cache.Teardown(fixture.ScopeFunction, item.ID)

	e.Hooks.RuntestSetup(node)

	union := e.Registry.UnionRequired(item)
	plan, err := e.Registry.Resolve(union)
	if err != nil {
		logging.ExecError("%s: fixture resolution failed: %v", item.ID, err)
		e.finish(item, start, result.Failed, err, "")
		e.Hooks.RuntestTeardown(node)
		e.report(node, result.Failed, time.Since(start))
		return
	}

	if err := e.createLevels(ctx, plan, item); err != nil {
		e.finish(item, start, result.Failed, err, "")
		e.Hooks.RuntestTeardown(node)
		e.report(node, result.Failed, time.Since(start))
		return
	}

	decision := EvaluateMarkers(item.Decorators)
	if decision.Skip {
		e.finish(item, start, result.Skipped, nil, decision.SkipReason)
		e.Hooks.RuntestTeardown(node)
		e.report(node, result.Skipped, time.Since(start))
		return
	}

	e.Hooks.RuntestCall(node)

	kwargs := make(map[string]vm.Value, len(item.FixtureDeps))
	for _, dep := range item.FixtureDeps {
		if f, ok := e.Registry.Get(dep); ok {
			key := e.cacheKeyFor(f, item)
			if v, ok := e.peek(key); ok {
				kwargs[dep] = vm.FromNative(v.Value)
			}
		}
	}

	qualifiedName := qualifiedTestName(item)
	_, _, callErr := e.VM.Call(ctx, qualifiedName, item.FixtureDeps, kwargs)

	outcome := result.Passed
	var reportedErr error
	if callErr != nil {
		reportedErr = &errs.TestError{TestID: item.ID, Err: callErr}
		if decision.XFail {
			outcome = result.XFailed
		} else {
			outcome = result.Failed
		}
	} else if decision.XFail {
		outcome = result.XPassed
	}

	reason := decision.XFailReason
	e.finish(item, start, outcome, reportedErr, reason)
	e.Hooks.RuntestTeardown(node)
	e.report(node, outcome, time.Since(start))
}

func (e *Executor) finish(item testitem.Item, start time.Time, outcome result.Outcome, err error, reason string) {
	stdout, stderr := e.VM.DrainOutput()
	e.Aggregator.Add(result.TestResult{
		TestID:   item.ID,
		Outcome:  outcome,
		Duration: time.Since(start),
		Error:    err,
		Reason:   reason,
		Stdout:   stdout,
		Stderr:   stderr,
	})
}

func (e *Executor) report(node testitem.NodeID, outcome result.Outcome, dur time.Duration) {
	e.Hooks.RuntestLogreport(hooks.LogReport{
		NodeID:   node.NodeID,
		Outcome:  outcome.String(),
		Duration: dur,
		When:     "call",
	})
}

// createLevels creates every fixture in plan level-by-level, fanning
// out within a level via errgroup since fixtures sharing a level have
// no dependency relationship, per §4.5/§4.9.
func (e *Executor) createLevels(ctx context.Context, plan *fixture.Plan, item testitem.Item) error {
	for _, level := range plan.Levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range level {
			name := name
			g.Go(func() error {
				return e.createOne(gctx, name, item)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) createOne(ctx context.Context, name string, item testitem.Item) error {
	f, ok := e.Registry.Get(name)
	if !ok {
		return nil // autouse/required name with no registered factory: nothing to create
	}

	key := e.cacheKeyFor(f, item)
	_, err := e.Cache.GetOrCreate(key, func() (interface{}, fixture.TeardownHandle, error) {
		deps := make(map[string]interface{}, len(f.Dependencies))
		kwargs := make(map[string]vm.Value, len(f.Dependencies))
		for _, dep := range f.Dependencies {
			if depFixture, ok := e.Registry.Get(dep); ok {
				depKey := e.cacheKeyFor(depFixture, item)
				if v, ok := e.peek(depKey); ok {
					kwargs[dep] = vm.FromNative(v.Value)
					deps[dep] = v.Value
				}
			}
		}

		if e.WorkerPool != nil {
			return e.createOneViaWorker(ctx, f, deps)
		}

		qualifiedName := moduleNameFor(f.ModulePath) + "." + f.FuncName
		val, handle, callErr := e.VM.Call(ctx, qualifiedName, f.Dependencies, kwargs)
		if callErr != nil {
			return nil, nil, callErr
		}
		return val.Native(), handle, nil
	})
	if err != nil {
		logging.FixturesError("fixture %q failed for %s: %v", name, item.ID, err)
		return err
	}
	return nil
}

// createOneViaWorker evaluates a fixture factory out-of-process through
// e.WorkerPool instead of the embedded VM, per §4.7's RPC contract. The
// worker protocol has no yield/generator concept, so process-isolated
// fixtures have no teardown handle — only fixtures created in-process
// through the embedded VM can participate in the yield-teardown flow
// described in C8's design notes.
func (e *Executor) createOneViaWorker(ctx context.Context, f fixture.Fixture, deps map[string]interface{}) (interface{}, fixture.TeardownHandle, error) {
	resp, err := e.WorkerPool.Execute(ctx, workerpool.Request{
		FixtureName:  f.Name,
		ModulePath:   f.ModulePath,
		Dependencies: deps,
	})
	if err != nil {
		return nil, nil, &errs.FixtureFailureError{FixtureName: f.Name, Err: err}
	}
	if !resp.Success {
		return nil, nil, &errs.FixtureFailureError{FixtureName: f.Name, Err: fmt.Errorf("%s", resp.Error)}
	}
	return resp.Result, nil, nil
}

// peek returns a cached fixture value without triggering creation,
// used to assemble a consumer's kwargs from already-created dependencies.
func (e *Executor) peek(key fixture.CacheKey) (*fixture.Value, bool) {
	v, err := e.Cache.GetOrCreate(key, func() (interface{}, fixture.TeardownHandle, error) {
		return nil, nil, fmt.Errorf("fixture %q was not created before use", key.FixtureName)
	})
	if err != nil {
		return nil, false
	}
	return v, true
}

// cacheKeyFor derives a fixture's CacheKey for the test currently
// consuming it, per §3's FixtureCacheKey scope_id rules.
func (e *Executor) cacheKeyFor(f fixture.Fixture, item testitem.Item) fixture.CacheKey {
	key := fixture.CacheKey{FixtureName: f.Name, Scope: f.Scope}
	switch f.Scope {
	case fixture.ScopeFunction:
		key.ScopeID = item.ID
	case fixture.ScopeClass:
		key.ScopeID = classScopeID(item)
	case fixture.ScopeModule:
		key.ScopeID = item.Path
	case fixture.ScopePackage:
		key.ScopeID = filepath.Dir(item.Path)
	case fixture.ScopeSession:
		key.ScopeID = "session"
	}
	return key
}

// qualifiedTestName builds the VM-side symbol name for a test item.
// Module path is derived from the source file's base name without
// extension, the same prefix createOne uses for fixture factories.
func qualifiedTestName(item testitem.Item) string {
	module := moduleNameFor(item.Path)
	if item.ClassName != "" {
		return fmt.Sprintf("%s.%s_%s", module, item.ClassName, item.FunctionName)
	}
	return fmt.Sprintf("%s.%s", module, item.FunctionName)
}

// classScopeID derives a class-scope cache/teardown key, qualifying the
// class name with its defining file so identically-named classes in
// different modules don't collide.
func classScopeID(item testitem.Item) string {
	if item.ClassName == "" {
		return ""
	}
	return item.Path + "::" + item.ClassName
}

func moduleNameFor(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func uniquePaths(items []testitem.Item) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.Path] {
			seen[it.Path] = true
			out = append(out, it.Path)
		}
	}
	return out
}

func uniquePackages(items []testitem.Item) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		dir := filepath.Dir(it.Path)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}
