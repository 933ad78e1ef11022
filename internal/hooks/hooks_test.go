package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"fastgo/internal/testitem"
)

func TestPipeline_InvokesHandlersInRegistrationOrder(t *testing.T) {
	p := New()
	var order []string
	p.OnRuntestSetup(func(testitem.NodeID) error { order = append(order, "first"); return nil })
	p.OnRuntestSetup(func(testitem.NodeID) error { order = append(order, "second"); return nil })

	p.RuntestSetup(testitem.NodeID{NodeID: "t.py::test_a"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPipeline_SetupCallTeardownOrderingHoldsEvenOnError(t *testing.T) {
	p := New()
	var order []string
	p.OnRuntestSetup(func(testitem.NodeID) error { order = append(order, "setup"); return errors.New("setup failed") })
	p.OnRuntestCall(func(testitem.NodeID) error { order = append(order, "call"); return nil })
	p.OnRuntestTeardown(func(testitem.NodeID) error { order = append(order, "teardown"); return nil })

	node := testitem.NodeID{NodeID: "t.py::test_a"}
	p.RuntestSetup(node)
	p.RuntestCall(node)
	p.RuntestTeardown(node)

	assert.Equal(t, []string{"setup", "call", "teardown"}, order)
}

func TestPipeline_HandlerErrorsDoNotAbortRemainingHandlers(t *testing.T) {
	p := New()
	var ran []string
	p.OnRuntestSetup(func(testitem.NodeID) error { ran = append(ran, "a"); return errors.New("boom") })
	p.OnRuntestSetup(func(testitem.NodeID) error { ran = append(ran, "b"); return nil })

	p.RuntestSetup(testitem.NodeID{NodeID: "x"})
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestPipeline_SessionHooks(t *testing.T) {
	p := New()
	var gotSession Session
	var gotExit int
	p.OnSessionStart(func(s Session) { gotSession = s })
	p.OnSessionFinish(func(exit int) { gotExit = exit })

	p.SessionStart(Session{TestCount: 3, TestPaths: []string{"a.py"}})
	p.SessionFinish(1)

	assert.Equal(t, 3, gotSession.TestCount)
	assert.Equal(t, 1, gotExit)
}

func TestPipeline_Logreport(t *testing.T) {
	p := New()
	var got LogReport
	p.OnRuntestLogreport(func(r LogReport) error { got = r; return nil })

	p.RuntestLogreport(LogReport{NodeID: "t.py::test_a", Outcome: "passed", When: "call"})
	assert.Equal(t, "passed", got.Outcome)
}
