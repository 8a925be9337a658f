package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// try / catch / finally
// ---------------------------------------------------------------------------

// region is a stretch of code protected by the handlers of one try, with
// the gaps its early exits punched into it.
type region struct {
	start, end vm.Label
	from, to   int
	gaps       []gap
}

// coverage splits r around its gaps, dropping empty pieces.
func (r region) coverage() []gap {
	var out []gap
	cur, curPos := r.start, r.from
	for _, g := range r.gaps {
		if g.from > curPos {
			out = append(out, gap{cur, g.start, curPos, g.from})
		}
		cur, curPos = g.end, g.to
	}
	if r.to > curPos {
		out = append(out, gap{cur, r.end, curPos, r.to})
	}
	return out
}

func (t *Translator) markRegionStart() (vm.Label, int) {
	l := t.s.NewLabel()
	pos := t.s.Len()
	t.s.Mark(l)
	return l, pos
}

func (t *Translator) genTry(n *ast.Try) StackValue {
	vt, kt := t.valueType(n)
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		t.genTryInto(n, to, toK)
	})
}

// genTryInto emits a try whose value, of type to, every path stores into
// one result slot before any finally code runs.
func (t *Translator) genTryInto(n *ast.Try, to vm.Type, toK *types.Type) {
	s := t.s
	result := -1
	if to.Sort != vm.SortVoid {
		result = t.frame.EnterTemp(to)
	}
	kind := blockTry
	if n.Finally != nil {
		kind = blockFinally
	}
	exit := s.NewLabel()

	b := &block{kind: kind, node: n, finally: n.Finally}
	start, from := t.markRegionStart()
	t.pushBlock(b)
	t.genBlockInto(n.Body, to, toK)
	if result >= 0 {
		vm.Store(s, result, to)
	}
	t.popBlock(b)
	end, endPos := t.markRegionStart()
	body := region{start, end, from, endPos, b.gaps}
	if n.Finally != nil {
		t.genFinally(n.Finally)
	}
	vm.Goto(s, exit)

	var protected []region
	protected = append(protected, body)
	for _, c := range n.Catches {
		handler := s.NewLabel()
		s.Mark(handler)
		exc := vm.ThrowableType
		if c.Type != nil {
			exc = types.Map(c.Type)
		}
		for _, g := range body.coverage() {
			s.TryCatchBlock(g.start, g.end, handler, exc.Name)
		}

		cb := &block{kind: kind, node: n, finally: n.Finally}
		cstart, cfrom := t.markRegionStart()
		sc := t.enterScope()
		if d := t.bc.DeclarationOf(c.Param); d != nil {
			slot := t.declare(d, c.Param.Name, exc)
			vm.Store(s, slot, exc)
		} else {
			vm.Pop(s, exc)
		}
		if n.Finally != nil {
			t.pushBlock(cb)
		}
		t.genBlockInto(c.Body, to, toK)
		if result >= 0 {
			vm.Store(s, result, to)
		}
		if n.Finally != nil {
			t.popBlock(cb)
		}
		t.leaveScope(sc)
		cend, cto := t.markRegionStart()
		protected = append(protected, region{cstart, cend, cfrom, cto, cb.gaps})
		if n.Finally != nil {
			t.genFinally(n.Finally)
		}
		vm.Goto(s, exit)
	}

	if n.Finally != nil {
		// Anything else thrown from the body or a catch runs the finally
		// block and propagates.
		handler := s.NewLabel()
		s.Mark(handler)
		for _, r := range protected {
			for _, g := range r.coverage() {
				s.TryCatchBlock(g.start, g.end, handler, "")
			}
		}
		slot := t.frame.EnterTemp(vm.ThrowableType)
		vm.Store(s, slot, vm.ThrowableType)
		t.genFinally(n.Finally)
		vm.Load(s, slot, vm.ThrowableType)
		s.Insn(vm.OpATHROW)
		t.frame.LeaveTemp(vm.ThrowableType)
	}

	s.Mark(exit)
	if result >= 0 {
		vm.Load(s, result, to)
		t.frame.LeaveTemp(to)
	}
}

func (t *Translator) genThrow(n *ast.Throw) StackValue {
	return nothingValue(func(s vm.Sink) {
		t.put(n.X, vm.ThrowableType, types.Throwable)
		s.Insn(vm.OpATHROW)
	})
}

// ---------------------------------------------------------------------------
// Operands around try expressions
// ---------------------------------------------------------------------------

// containsTry reports whether evaluating e runs a try expression in this
// frame. Bodies of nested callables run in their own frames.
func containsTry(e ast.Expr) bool {
	found := false
	ast.Inspect(e, func(n ast.Node) bool {
		if found {
			return false
		}
		switch n.(type) {
		case *ast.Try:
			found = true
			return false
		case *ast.Lambda, *ast.FunDecl, *ast.ClassDecl, *ast.ObjectLit:
			return false
		}
		return true
	})
	return found
}

// operandValues returns the values of exprs, to be put in order. A caught
// exception empties the operand stack, so when an operand contains a try
// every operand up to the last such one is computed into a temporary
// first. release frees the temporaries once the values are consumed.
func (t *Translator) operandValues(exprs []ast.Expr) ([]StackValue, func()) {
	last := -1
	for i, e := range exprs {
		if containsTry(e) {
			last = i
		}
	}
	vals := make([]StackValue, len(exprs))
	if last < 0 {
		for i, e := range exprs {
			vals[i] = t.gen(e)
		}
		return vals, func() {}
	}
	var held []vm.Type
	for i, e := range exprs {
		if i > last {
			vals[i] = t.gen(e)
			continue
		}
		st, sk := t.putValue(e)
		if st.Sort == vm.SortVoid {
			vals[i] = unitValue()
			continue
		}
		slot := t.frame.EnterTemp(st)
		vm.Store(t.s, slot, st)
		held = append(held, st)
		vals[i] = newLocal(slot, st, sk)
	}
	return vals, func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.frame.LeaveTemp(held[i])
		}
	}
}
