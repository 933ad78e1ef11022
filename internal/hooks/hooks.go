// Package hooks implements the Plugin Hook Pipeline (C12): the six
// named hooks of spec §4.11/§6, invoked in registration order with a
// log-and-continue error policy.
package hooks

import (
	"time"

	"fastgo/internal/errs"
	"fastgo/internal/logging"
	"fastgo/internal/testitem"
)

// Session is the argument bag for session_start, per spec §6.
type Session struct {
	TestCount int
	TestPaths []string
}

// LogReport is the argument bag for runtest_logreport, per spec §6.
type LogReport struct {
	NodeID   string
	Outcome  string // "passed" | "failed" | "skipped" | "xfailed" | "xpassed"
	Duration time.Duration
	When     string // always "call" per §6
}

// Pipeline holds ordered handler lists for each of the six hooks and
// invokes them with a log-and-continue error policy (§4.11: "Handler
// errors are logged, never fatal to the run").
type Pipeline struct {
	sessionStart    []func(Session)
	sessionFinish   []func(exitStatus int)
	runtestSetup    []func(testitem.NodeID) error
	runtestCall     []func(testitem.NodeID) error
	runtestTeardown []func(testitem.NodeID) error
	runtestLogreport []func(LogReport) error
}

// New returns an empty hook Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// OnSessionStart registers a session_start handler, invoked once per run.
func (p *Pipeline) OnSessionStart(fn func(Session)) { p.sessionStart = append(p.sessionStart, fn) }

// OnSessionFinish registers a session_finish handler.
func (p *Pipeline) OnSessionFinish(fn func(int)) { p.sessionFinish = append(p.sessionFinish, fn) }

// OnRuntestSetup registers a runtest_setup(item) handler.
func (p *Pipeline) OnRuntestSetup(fn func(testitem.NodeID) error) {
	p.runtestSetup = append(p.runtestSetup, fn)
}

// OnRuntestCall registers a runtest_call(item) handler.
func (p *Pipeline) OnRuntestCall(fn func(testitem.NodeID) error) {
	p.runtestCall = append(p.runtestCall, fn)
}

// OnRuntestTeardown registers a runtest_teardown(item) handler.
func (p *Pipeline) OnRuntestTeardown(fn func(testitem.NodeID) error) {
	p.runtestTeardown = append(p.runtestTeardown, fn)
}

// OnRuntestLogreport registers a runtest_logreport(report) handler.
func (p *Pipeline) OnRuntestLogreport(fn func(LogReport) error) {
	p.runtestLogreport = append(p.runtestLogreport, fn)
}

// SessionStart invokes every registered session_start handler in
// registration order.
func (p *Pipeline) SessionStart(s Session) {
	for _, fn := range p.sessionStart {
		fn(s)
	}
}

// SessionFinish invokes every registered session_finish handler.
func (p *Pipeline) SessionFinish(exitStatus int) {
	for _, fn := range p.sessionFinish {
		fn(exitStatus)
	}
}

// RuntestSetup invokes every registered runtest_setup handler,
// logging (not propagating) any handler error.
func (p *Pipeline) RuntestSetup(node testitem.NodeID) {
	runAll("runtest_setup", p.runtestSetup, node)
}

// RuntestCall invokes every registered runtest_call handler.
func (p *Pipeline) RuntestCall(node testitem.NodeID) {
	runAll("runtest_call", p.runtestCall, node)
}

// RuntestTeardown invokes every registered runtest_teardown handler.
// The executor guarantees this runs exactly once per test, even when
// setup or call failed, per §4.11.
func (p *Pipeline) RuntestTeardown(node testitem.NodeID) {
	runAll("runtest_teardown", p.runtestTeardown, node)
}

func runAll(hookName string, handlers []func(testitem.NodeID) error, node testitem.NodeID) {
	for _, fn := range handlers {
		if err := fn(node); err != nil {
			wrapped := &errs.HookError{Hook: hookName, Err: err}
			logging.HooksWarn("%s on %s: %v", wrapped, node.NodeID, wrapped.Unwrap())
		}
	}
}

// RuntestLogreport invokes every registered runtest_logreport handler.
func (p *Pipeline) RuntestLogreport(report LogReport) {
	for _, fn := range p.runtestLogreport {
		if err := fn(report); err != nil {
			wrapped := &errs.HookError{Hook: "runtest_logreport", Err: err}
			logging.HooksWarn("%s on %s", wrapped, report.NodeID)
		}
	}
}
