package compiler

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/chazu/kiln/ast"
)

// ---------------------------------------------------------------------------
// Internal errors
// ---------------------------------------------------------------------------

// InternalError is a compiler invariant violation: a bug in an earlier
// phase or in code generation itself, never a problem with the user's
// program. It records the node being translated when the violation was
// detected.
type InternalError struct {
	Node  ast.Node
	Text  string
	Pos   ast.Position
	cause error
}

func (e *InternalError) Error() string {
	if e.Node == nil {
		return fmt.Sprintf("internal compiler error: %v", e.cause)
	}
	return fmt.Sprintf("internal compiler error at %d:%d (%s): %v", e.Pos.Line, e.Pos.Column, e.Text, e.cause)
}

// Cause returns the underlying error.
func (e *InternalError) Cause() error { return e.cause }

// Unwrap supports errors.Is/As over the cause.
func (e *InternalError) Unwrap() error { return e.cause }

func newInternal(n ast.Node, cause error) *InternalError {
	ie := &InternalError{Node: n, cause: cause}
	if n != nil {
		ie.Text = ast.Text(n)
		ie.Pos = n.Span().Start
	}
	return ie
}

// internalf aborts translation of the current function.
func internalf(n ast.Node, format string, args ...any) {
	panic(newInternal(n, errors.Errorf(format, args...)))
}

// recoverInternal converts a panic raised while translating n into an
// error. Internal errors raised deeper keep their own node.
func recoverInternal(n ast.Node, err *error) {
	r := recover()
	if r == nil {
		return
	}
	switch v := r.(type) {
	case *InternalError:
		if v.Node == nil && n != nil {
			v.Node, v.Text, v.Pos = n, ast.Text(n), n.Span().Start
		}
		*err = v
	case error:
		*err = newInternal(n, errors.WithStack(v))
	default:
		*err = newInternal(n, errors.Errorf("%v", v))
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Diagnostic is a problem in the user's program that only code generation
// can detect. The generated code throws at the offending point and
// compilation continues.
type Diagnostic struct {
	Pos     ast.Position
	Text    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Pos.Line, d.Pos.Column, d.Message)
}
