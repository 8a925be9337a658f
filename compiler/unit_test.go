package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// checkStatementHeights verifies that the operand stack is empty wherever
// a new source line starts and holds exactly the return value at every
// return.
func checkStatementHeights(t *testing.T, m *vm.Method) {
	t.Helper()
	heights, err := vm.StackHeights(m)
	if err != nil {
		t.Fatalf("%s: %v", m.Name, err)
	}
	ret := m.Signature().Return.Size()
	line := -1
	for i, in := range m.Instructions {
		h := heights[i]
		if h < 0 {
			continue
		}
		if in.Line != line {
			if h != 0 {
				t.Errorf("%s: line %d starts at %d with stack height %d:\n%s", m.Name, in.Line, i, h, vm.Disassemble(m))
			}
			line = in.Line
		}
		if in.Op.IsReturn() && h != ret {
			t.Errorf("%s: %s at %d with stack height %d, want %d", m.Name, in.Op, i, h, ret)
		}
	}
}

func TestNoTrailingReturnAfterAbruptBody(t *testing.T) {
	f := newFixture(t)
	_, fd := f.fun("five", types.Int)
	fd.Body = f.block(f.ret(f.lit(int32(5))))
	_, bd := f.fun("boom", types.Int)
	bd.Body = f.block(f.throw("java/lang/IllegalStateException"))
	_, ed := f.fun("six", types.Int)
	ed.Body = f.lit(int32(6))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "five", "()I"); got != int32(5) {
		t.Errorf("five() = %v", got)
	}
	if _, err := in.Invoke(testFacade, "boom", "()I"); thrownClass(err) != "java/lang/IllegalStateException" {
		t.Errorf("boom(): err = %v", err)
	}

	five := method(t, u, testFacade, "five", "()I")
	if countOps(five, vm.OpIRETURN) != 1 || countOps(five, vm.OpICONST_0) != 0 {
		t.Errorf("five has a trailing return:\n%s", vm.Disassemble(five))
	}
	if last := five.Instructions[len(five.Instructions)-1]; last.Op != vm.OpIRETURN {
		t.Errorf("five ends in %s", last.Op)
	}

	boom := method(t, u, testFacade, "boom", "()I")
	if countOps(boom, vm.OpIRETURN) != 0 {
		t.Errorf("boom has a return after its throw:\n%s", vm.Disassemble(boom))
	}
	if last := boom.Instructions[len(boom.Instructions)-1]; last.Op != vm.OpATHROW {
		t.Errorf("boom ends in %s", last.Op)
	}

	six := method(t, u, testFacade, "six", "()I")
	if countOps(six, vm.OpIRETURN) != 1 {
		t.Errorf("an expression body returns once:\n%s", vm.Disassemble(six))
	}
	for _, m := range []*vm.Method{five, boom, six} {
		checkStatementHeights(t, m)
	}
}

func TestUnmatchedLabeledBreakIsInternalError(t *testing.T) {
	f := newFixture(t)
	_, fd := f.fun("spin", types.Unit)
	brk := &ast.Break{SpanVal: f.span(), Label: "missing"}
	f.typed(brk, types.Nothing)
	loop := &ast.While{SpanVal: f.span(), Cond: f.lit(true), Body: f.block(brk)}
	f.typed(loop, types.Unit)
	fd.Body = f.block(loop)

	_, err := Compile(context.Background(), f.file, f.tb, testConfig())
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want an internal error", err)
	}
	if ie.Node != brk {
		t.Errorf("internal error at %v, want the break", ie.Node)
	}
	if !strings.Contains(ie.Error(), "no enclosing loop") {
		t.Errorf("message = %q", ie.Error())
	}
}

func TestStatementsLeaveEmptyStack(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("mix", types.Long, p("a", types.Int), p("b", types.Long))
	a, b := fn.Params[0], fn.Params[1]
	acc, accd := f.local(fn, "acc", types.Long, true, f.ref(b))
	fd.Body = f.block(
		accd,
		f.ifExpr(f.bin(ast.OpGt, f.ref(a), f.lit(int32(0)), types.Boolean),
			f.assign(ast.OpAddAssign, f.ref(acc), f.lit(int64(10))), nil, types.Unit),
		f.bin(ast.OpMul, f.ref(acc), f.lit(int64(2)), types.Long),
		f.ret(f.ref(acc)),
	)

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "mix", "(IJ)J", int32(1), int64(5)); got != int64(15) {
		t.Errorf("mix(1, 5) = %v, want 15", got)
	}
	checkStatementHeights(t, method(t, u, testFacade, "mix", "(IJ)J"))
}
