// Package testitem defines the canonical in-memory representation of a
// discovered test, per spec §3 (TestItem). Discovery produces these;
// they are immutable thereafter.
package testitem

import "fmt"

// Item is the identity of one executable test.
type Item struct {
	// ID is path::[ClassName::]func_name[[param_index]], unique across a run.
	ID string
	// Path is the filesystem path to the source file.
	Path string
	// FunctionName is the raw name in source.
	FunctionName string
	// DisplayName is FunctionName with an optional [i] parametrization suffix.
	DisplayName string
	// ClassName is set iff the test is a method of a Test* class that
	// does not derive from the host framework's unittest base class.
	ClassName string
	// LineNumber is the 1-based line in source, 0 if unknown.
	LineNumber int
	// IsAsync is true iff declared with the async modifier.
	IsAsync bool
	// Decorators is the ordered list of decorator expressions as text.
	Decorators []string
	// FixtureDeps is the ordered list of parameter names excluding self
	// and variadic args.
	FixtureDeps []string
	// IsXFail is derived from decorators matching the expected-failure marker.
	IsXFail bool
	// ParamIndex is set when the item was expanded from a parametrization
	// marker; HasParamIndex distinguishes "index 0" from "not set".
	ParamIndex    int
	HasParamIndex bool
}

// BuildID constructs the canonical node id per spec §6's grammar:
// path "::" (class_name "::")? func_name ("[" index "]")?
func BuildID(path, className, funcName string, paramIndex int, hasParamIndex bool) string {
	id := path
	if className != "" {
		id += "::" + className
	}
	id += "::" + funcName
	if hasParamIndex {
		id += fmt.Sprintf("[%d]", paramIndex)
	}
	return id
}

// BuildDisplayName constructs DisplayName: funcName with an optional [i] suffix.
func BuildDisplayName(funcName string, paramIndex int, hasParamIndex bool) string {
	if hasParamIndex {
		return fmt.Sprintf("%s[%d]", funcName, paramIndex)
	}
	return funcName
}

// NodeID is the {nodeid, location} pair handed to plugin hooks per spec §6.
type NodeID struct {
	NodeID       string
	Path         string
	LineNumber   int
	FunctionName string
}

// ToNodeID projects an Item down to the hook-surface NodeID.
func (it Item) ToNodeID() NodeID {
	return NodeID{NodeID: it.ID, Path: it.Path, LineNumber: it.LineNumber, FunctionName: it.FunctionName}
}

// ComplexityScore computes the §4.9 per-item complexity score used by
// the strategy selector: base 1.0, +0.5 per decorator, x1.5 if async,
// +2.0 per fixture dep, +0.3 if a class method.
func (it Item) ComplexityScore() float64 {
	score := 1.0
	score += 0.5 * float64(len(it.Decorators))
	if it.IsAsync {
		score *= 1.5
	}
	score += 2.0 * float64(len(it.FixtureDeps))
	if it.ClassName != "" {
		score += 0.3
	}
	return score
}
