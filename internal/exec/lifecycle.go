package exec

import "sync"

// lifecycleKind distinguishes class-level from module-level setup
// bookkeeping, per the redesign note replacing the original's global
// mutable flags: "Replaced by an executor-owned map keyed by (kind,
// qualified_name) -> {setup_done, teardown_done} with explicit
// lifecycle transitions on batch boundaries."
type lifecycleKind int

const (
	lifecycleClass lifecycleKind = iota
	lifecycleModule
)

type lifecycleKey struct {
	kind lifecycleKind
	name string
}

type lifecycleState struct {
	setupDone    bool
	teardownDone bool
}

// lifecycleTracker is the executor-owned replacement for the
// original's global mutable setup/teardown flags.
type lifecycleTracker struct {
	mu     sync.Mutex
	states map[lifecycleKey]*lifecycleState
}

func newLifecycleTracker() *lifecycleTracker {
	return &lifecycleTracker{states: make(map[lifecycleKey]*lifecycleState)}
}

// EnterClass reports whether class setup still needs to run for name,
// marking it done if so (at-most-once semantics).
func (t *lifecycleTracker) EnterClass(name string) (needsSetup bool) {
	return t.enter(lifecycleKey{lifecycleClass, name})
}

// EnterModule reports whether module setup still needs to run for name.
func (t *lifecycleTracker) EnterModule(name string) (needsSetup bool) {
	return t.enter(lifecycleKey{lifecycleModule, name})
}

func (t *lifecycleTracker) enter(key lifecycleKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		s = &lifecycleState{}
		t.states[key] = s
	}
	if s.setupDone {
		return false
	}
	s.setupDone = true
	return true
}

// LeaveClass reports whether class teardown still needs to run for
// name, marking it done if so.
func (t *lifecycleTracker) LeaveClass(name string) (needsTeardown bool) {
	return t.leave(lifecycleKey{lifecycleClass, name})
}

// LeaveModule reports whether module teardown still needs to run.
func (t *lifecycleTracker) LeaveModule(name string) (needsTeardown bool) {
	return t.leave(lifecycleKey{lifecycleModule, name})
}

func (t *lifecycleTracker) leave(key lifecycleKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok || !s.setupDone || s.teardownDone {
		return false
	}
	s.teardownDone = true
	return true
}
