package exec

import (
	"fmt"
	"regexp"
	"strings"
)

// AssertionFailure is the structured error a test body's generated
// assertion check raises, carrying enough of the original `assert L op
// R` expression to format an introspected message. Per §4.10 this is
// best-effort: constructing one never fails, it just may have empty
// Left/Right representations when the underlying value could not be
// captured.
type AssertionFailure struct {
	Expr  string
	Op    string
	Left  string
	Right string
}

func (a *AssertionFailure) Error() string {
	if a.Left == "" && a.Right == "" {
		return fmt.Sprintf("assert %s", a.Expr)
	}
	return fmt.Sprintf("assert %s %s %s", a.Left, a.Op, a.Right)
}

var assertExprRe = regexp.MustCompile(`^assert\s+(.+?)\s*(==|!=|<=|>=|<|>)\s*(.+)$`)

// IntrospectAssertion attempts to split a raw `assert L op R` source
// fragment into its operands so the executor can report evaluated
// representations alongside the original text. Per §4.10, failure of
// introspection (an expression that doesn't match the simple binary
// comparison shape) is swallowed and the original message is reported
// unchanged.
func IntrospectAssertion(rawExpr string, eval func(expr string) (string, bool)) *AssertionFailure {
	trimmed := strings.TrimSpace(rawExpr)
	m := assertExprRe.FindStringSubmatch(trimmed)
	if m == nil {
		return &AssertionFailure{Expr: trimmed}
	}

	left, right := m[1], m[3]
	leftRepr, leftOK := eval(left)
	rightRepr, rightOK := eval(right)
	if !leftOK || !rightOK {
		return &AssertionFailure{Expr: trimmed}
	}

	return &AssertionFailure{Expr: trimmed, Op: m[2], Left: leftRepr, Right: rightRepr}
}
