// Package exec implements the Executor (C11): fixture resolution,
// level-by-level fixture creation, per-test setup/call/teardown
// sequencing, marker policy, and class-context bookkeeping, per spec
// §4.10/§4.11.
package exec

import (
	"regexp"
	"runtime"
	"strings"
)

// markerKind classifies one decorator's marker, per §4.10's policy
// (skip/skipif/xfail). parametrize is handled entirely by discovery and
// is never observed here (§4.10: "the executor only observes the
// resulting expanded items").
type markerKind int

const (
	markerNone markerKind = iota
	markerSkip
	markerSkipIf
	markerXFail
)

var (
	skipRe    = regexp.MustCompile(`(?i)\bskip\s*(\(|$)`)
	skipIfRe  = regexp.MustCompile(`(?i)\bskipif\s*(\(|$)`)
	xfailRe   = regexp.MustCompile(`(?i)\bxfail\s*(\(|$)`)
	reasonRe  = regexp.MustCompile(`reason\s*=\s*["']([^"']*)["']`)
	bareStrRe = regexp.MustCompile(`\(\s*["']([^"']*)["']`)
	condRe    = regexp.MustCompile(`sys\.platform\s*==\s*["']([^"']+)["']`)
)

func classify(decorator string) markerKind {
	switch {
	case skipIfRe.MatchString(decorator):
		return markerSkipIf
	case skipRe.MatchString(decorator):
		return markerSkip
	case xfailRe.MatchString(decorator):
		return markerXFail
	default:
		return markerNone
	}
}

// extractReason pulls a reason string from a marker decorator's
// arguments, preferring an explicit reason=... keyword argument and
// falling back to the first bare string literal (skip("why") style).
func extractReason(decorator string) string {
	if m := reasonRe.FindStringSubmatch(decorator); m != nil {
		return m[1]
	}
	if m := bareStrRe.FindStringSubmatch(decorator); m != nil {
		return m[1]
	}
	return ""
}

// evalCondition evaluates the minimal skipif condition sub-language
// per §4.10: literal True/False, and textual presence of
// `sys.platform == "<tag>"` compared against the running platform. Any
// other expression is treated conservatively as true (the test is
// skipped) since the runner cannot interpret arbitrary host-language
// expressions outside the embedded VM.
func evalCondition(decorator string) bool {
	if m := condRe.FindStringSubmatch(decorator); m != nil {
		return platformTagMatches(m[1])
	}
	lower := strings.ToLower(decorator)
	if strings.Contains(lower, "false") && !strings.Contains(lower, "true") {
		return false
	}
	if strings.Contains(lower, "true") {
		return true
	}
	return true
}

// platformTagMatches maps the host framework's sys.platform tags
// (win32, darwin, linux) onto runtime.GOOS.
func platformTagMatches(tag string) bool {
	switch tag {
	case "win32":
		return runtime.GOOS == "windows"
	case "darwin":
		return runtime.GOOS == "darwin"
	case "linux":
		return runtime.GOOS == "linux"
	default:
		return tag == runtime.GOOS
	}
}

// MarkerDecision is the net effect of a test's decorator set on
// execution, computed once before the test runs.
type MarkerDecision struct {
	Skip       bool
	SkipReason string
	XFail      bool
	XFailReason string
}

// EvaluateMarkers scans decorators in order and applies §4.10's policy:
// skip(reason?) and skipif(condition, reason?) short-circuit the test
// body entirely; xfail(reason?) only changes how pass/fail is reported.
func EvaluateMarkers(decorators []string) MarkerDecision {
	var d MarkerDecision
	for _, dec := range decorators {
		switch classify(dec) {
		case markerSkip:
			d.Skip = true
			d.SkipReason = extractReason(dec)
		case markerSkipIf:
			if evalCondition(dec) {
				d.Skip = true
				d.SkipReason = extractReason(dec)
			}
		case markerXFail:
			d.XFail = true
			d.XFailReason = extractReason(dec)
		}
	}
	return d
}
