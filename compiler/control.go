package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// condCode is the offset of a comparison from IFEQ and IF_ICMPEQ.
func condCode(op ast.Op) (int, bool) {
	switch op {
	case ast.OpEq, ast.OpIdentEq:
		return 0, true
	case ast.OpNe, ast.OpIdentNe:
		return 1, true
	case ast.OpLt:
		return 2, true
	case ast.OpGe:
		return 3, true
	case ast.OpGt:
		return 4, true
	case ast.OpLe:
		return 5, true
	}
	return 0, false
}

// condJump emits a jump to l taken when e evaluates to onTrue. Nothing is
// left on the stack either way.
func (t *Translator) condJump(e ast.Expr, l vm.Label, onTrue bool) {
	if c, ok := t.bc.ConstantOf(e); ok {
		if b, ok := c.(bool); ok {
			if b == onTrue {
				vm.Goto(t.s, l)
			}
			return
		}
	}
	switch n := e.(type) {
	case *ast.Unary:
		if n.Op == ast.OpNot && t.bc.ResolvedCallOf(n) == nil {
			t.condJump(n.X, l, !onTrue)
			return
		}
	case *ast.Binary:
		switch n.Op {
		case ast.OpAndAnd:
			if onTrue {
				skip := t.s.NewLabel()
				t.condJump(n.Left, skip, false)
				t.condJump(n.Right, l, true)
				t.s.Mark(skip)
			} else {
				t.condJump(n.Left, l, false)
				t.condJump(n.Right, l, false)
			}
			return
		case ast.OpOrOr:
			if onTrue {
				t.condJump(n.Left, l, true)
				t.condJump(n.Right, l, true)
			} else {
				skip := t.s.NewLabel()
				t.condJump(n.Left, skip, true)
				t.condJump(n.Right, l, false)
				t.s.Mark(skip)
			}
			return
		}
		if t.compareJump(n, l, onTrue) {
			return
		}
	}
	t.put(e, vm.BooleanType, types.Boolean)
	if onTrue {
		t.s.JumpInsn(vm.OpIFNE, l)
	} else {
		t.s.JumpInsn(vm.OpIFEQ, l)
	}
}

// compareJump handles comparisons that compile to a single conditional
// jump: primitive operands, and ordering through compareTo. It reports
// false when n needs the general equality path.
func (t *Translator) compareJump(n *ast.Binary, l vm.Label, onTrue bool) bool {
	code, ok := condCode(n.Op)
	if !ok {
		return false
	}
	lk, rk := t.typeOf(n.Left), t.typeOf(n.Right)
	lt, rt := types.Map(lk), types.Map(rk)
	primitive := lt.IsPrimitive() && rt.IsPrimitive() && !lk.IsInline() && !rk.IsInline()
	if !primitive && (code < 2 || t.bc.ResolvedCallOf(n) == nil) {
		return false
	}
	if !onTrue {
		code ^= 1 // EQ<->NE, LT<->GE, GT<->LE
	}
	if !primitive {
		put(t.invoke(n, t.bc.ResolvedCallOf(n), nil, nil), vm.IntType, types.Int, t.s)
		t.s.JumpInsn(vm.OpIFEQ+vm.Opcode(code), l)
		return true
	}
	vals, release := t.operandValues([]ast.Expr{n.Left, n.Right})
	ct := widest(lt, rt)
	put(vals[0], ct, nil, t.s)
	put(vals[1], ct, nil, t.s)
	if ct.IsIntLike() {
		t.s.JumpInsn(vm.OpIF_ICMPEQ+vm.Opcode(code), l)
	} else {
		// NaN must fail every ordering: for < and <= it compares as
		// greater, for > and >= as less.
		compareZero(ct, n.Op == ast.OpLt || n.Op == ast.OpLe, t.s)
		t.s.JumpInsn(vm.OpIFEQ+vm.Opcode(code), l)
	}
	release()
	return true
}

// ---------------------------------------------------------------------------
// if
// ---------------------------------------------------------------------------

func (t *Translator) genIf(n *ast.If) StackValue {
	vt, kt := t.valueType(n)
	if n.Else == nil {
		vt, kt = vm.VoidType, types.Unit
	}
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		elseL := s.NewLabel()
		t.condJump(n.Cond, elseL, false)
		if n.Else == nil {
			t.genStatement(n.Then)
			s.Mark(elseL)
			coerce(vm.VoidType, types.Unit, to, toK, s)
			return
		}
		end := s.NewLabel()
		put(t.gen(n.Then), to, toK, s)
		vm.Goto(s, end)
		s.Mark(elseL)
		put(t.gen(n.Else), to, toK, s)
		s.Mark(end)
	})
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (t *Translator) loopBlock(label string, node ast.Expr) *block {
	return &block{kind: blockLoop, label: label, node: node, breakL: t.s.NewLabel(), continueL: t.s.NewLabel()}
}

func (t *Translator) genWhile(n *ast.While) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		b := t.loopBlock(n.Label, n)
		s.Mark(b.continueL)
		t.condJump(n.Cond, b.breakL, false)
		t.pushBlock(b)
		t.genStatement(n.Body)
		t.popBlock(b)
		vm.Goto(s, b.continueL)
		s.Mark(b.breakL)
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// genDoWhile keeps the body's scope open across the condition, which may
// read variables declared in the body.
func (t *Translator) genDoWhile(n *ast.DoWhile) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		b := t.loopBlock(n.Label, n)
		top := s.NewLabel()
		s.Mark(top)
		sc := t.enterScope()
		t.pushBlock(b)
		if blk, ok := n.Body.(*ast.Block); ok {
			for _, st := range blk.Stmts {
				t.genStatement(st)
			}
		} else {
			t.genStatement(n.Body)
		}
		t.popBlock(b)
		s.Mark(b.continueL)
		t.condJump(n.Cond, top, true)
		t.leaveScope(sc)
		s.Mark(b.breakL)
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// loopKey identifies the hidden locals of a for loop.
type loopKey struct {
	n    *ast.For
	role string
}

const intRange = "kotlin/ranges/IntRange"

func (t *Translator) genFor(n *ast.For) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		outer := t.enterScope()
		iterK := t.typeOf(n.Iter)
		switch {
		case t.isRangeLiteral(n.Iter):
			t.genForRangeLiteral(n, n.Iter.(*ast.Binary))
		case types.Map(iterK).Sort == vm.SortArray:
			t.genForArray(n, iterK)
		case iterK.Name == intRange && !iterK.Nullable:
			t.genForRangeValue(n)
		default:
			t.genForIterator(n, iterK)
		}
		t.leaveScope(outer)
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// isRangeLiteral matches `a..b` and `a until b` over int-like operands.
func (t *Translator) isRangeLiteral(e ast.Expr) bool {
	b, ok := e.(*ast.Binary)
	if !ok || (b.Op != ast.OpRange && b.Op != ast.OpUntil) {
		return false
	}
	if call := t.bc.ResolvedCallOf(b); call != nil {
		if fn := call.Function(); fn == nil || fn.Intrinsic != binding.IntrinsicRangeTo {
			return false
		}
	}
	lk, rk := t.typeOf(b.Left), t.typeOf(b.Right)
	return lk.IsIntegral() && !lk.Nullable && rk.IsIntegral() && !rk.Nullable
}

// elementType returns the source type of the loop variable.
func (t *Translator) elementType(n *ast.For, fallback *types.Type) *types.Type {
	if n.Var != nil {
		if v, ok := t.bc.DeclarationOf(n.Var).(*binding.Variable); ok {
			return v.Type
		}
	}
	return fallback
}

func (t *Translator) genForRangeLiteral(n *ast.For, r *ast.Binary) {
	vals, release := t.operandValues([]ast.Expr{r.Left, r.Right})
	put(vals[0], vm.IntType, types.Int, t.s)
	put(vals[1], vm.IntType, types.Int, t.s)
	release()
	end := t.declare(loopKey{n, "end"}, "", vm.IntType)
	vm.Store(t.s, end, vm.IntType)
	i := t.declare(loopKey{n, "i"}, "", vm.IntType)
	vm.Store(t.s, i, vm.IntType)
	t.countingLoop(n, i, end, r.Op == ast.OpRange)
}

func (t *Translator) genForRangeValue(n *ast.For) {
	rt := vm.ObjectOf(intRange)
	t.put(n.Iter, rt, nil)
	r := t.declare(loopKey{n, "range"}, "", rt)
	vm.Store(t.s, r, rt)
	vm.Load(t.s, r, rt)
	t.s.MethodInsn(vm.OpINVOKEVIRTUAL, intRange, "getFirst", "()I", false)
	i := t.declare(loopKey{n, "i"}, "", vm.IntType)
	vm.Store(t.s, i, vm.IntType)
	vm.Load(t.s, r, rt)
	t.s.MethodInsn(vm.OpINVOKEVIRTUAL, intRange, "getLast", "()I", false)
	end := t.declare(loopKey{n, "end"}, "", vm.IntType)
	vm.Store(t.s, end, vm.IntType)
	t.countingLoop(n, i, end, true)
}

// countingLoop iterates slot i up to end. An inclusive loop tests for the
// last value before incrementing so that end == MAX_VALUE terminates.
func (t *Translator) countingLoop(n *ast.For, i, end int, inclusive bool) {
	s := t.s
	b := t.loopBlock(n.Label, n)
	vm.Load(s, i, vm.IntType)
	vm.Load(s, end, vm.IntType)
	if inclusive {
		s.JumpInsn(vm.OpIF_ICMPGT, b.breakL)
	} else {
		s.JumpInsn(vm.OpIF_ICMPGE, b.breakL)
	}
	top := s.NewLabel()
	s.Mark(top)

	ek := t.elementType(n, types.Int)
	t.loopBody(n, b, newLocal(i, vm.IntType, types.Int), ek)

	s.Mark(b.continueL)
	if inclusive {
		vm.Load(s, i, vm.IntType)
		vm.Load(s, end, vm.IntType)
		s.JumpInsn(vm.OpIF_ICMPEQ, b.breakL)
		s.IInc(i, 1)
		vm.Goto(s, top)
	} else {
		s.IInc(i, 1)
		vm.Load(s, i, vm.IntType)
		vm.Load(s, end, vm.IntType)
		s.JumpInsn(vm.OpIF_ICMPLT, top)
	}
	s.Mark(b.breakL)
}

func (t *Translator) genForArray(n *ast.For, iterK *types.Type) {
	s := t.s
	at := types.Map(iterK)
	t.put(n.Iter, at, iterK)
	arr := t.declare(loopKey{n, "array"}, "", at)
	vm.Store(s, arr, at)
	vm.IConst(s, 0)
	idx := t.declare(loopKey{n, "index"}, "", vm.IntType)
	vm.Store(s, idx, vm.IntType)

	b := t.loopBlock(n.Label, n)
	top := s.NewLabel()
	s.Mark(top)
	vm.Load(s, idx, vm.IntType)
	vm.Load(s, arr, at)
	s.Insn(vm.OpARRAYLENGTH)
	s.JumpInsn(vm.OpIF_ICMPGE, b.breakL)

	elemK := iterK.Elem
	elem := newArrayElement(newLocal(arr, at, iterK), newLocal(idx, vm.IntType, types.Int), at, elemK)
	t.loopBody(n, b, elem, t.elementType(n, elemK))

	s.Mark(b.continueL)
	s.IInc(idx, 1)
	vm.Goto(s, top)
	s.Mark(b.breakL)
}

func (t *Translator) genForIterator(n *ast.For, iterK *types.Type) {
	s := t.s
	it := vm.ObjectOf("java/util/Iterator")
	t.put(n.Iter, vm.ObjectOf("java/lang/Iterable"), nil)
	s.MethodInsn(vm.OpINVOKEINTERFACE, "java/lang/Iterable", "iterator", "()Ljava/util/Iterator;", true)
	slot := t.declare(loopKey{n, "iterator"}, "", it)
	vm.Store(s, slot, it)

	b := t.loopBlock(n.Label, n)
	s.Mark(b.continueL)
	vm.Load(s, slot, it)
	s.MethodInsn(vm.OpINVOKEINTERFACE, it.Name, "hasNext", "()Z", true)
	s.JumpInsn(vm.OpIFEQ, b.breakL)

	ek := t.elementType(n, types.Nullable(types.Any))
	next := coerced(vm.ObjectType, types.Nullable(types.Any), func(s vm.Sink) {
		vm.Load(s, slot, it)
		s.MethodInsn(vm.OpINVOKEINTERFACE, it.Name, "next", "()Ljava/lang/Object;", true)
	})
	t.loopBody(n, b, next, ek)
	vm.Goto(s, b.continueL)
	s.Mark(b.breakL)
}

// loopBody binds the loop variable to elem in a fresh scope and emits the
// body inside the loop block.
func (t *Translator) loopBody(n *ast.For, b *block, elem StackValue, ek *types.Type) {
	sc := t.enterScope()
	t.bindLoopVar(n, elem, ek)
	t.pushBlock(b)
	t.genStatement(n.Body)
	t.popBlock(b)
	t.leaveScope(sc)
}

func (t *Translator) bindLoopVar(n *ast.For, elem StackValue, ek *types.Type) {
	s := t.s
	if n.Destructure != nil {
		comps := t.declareComponents(n.Destructure.Vars)
		st := types.Map(ek)
		slot := t.frame.EnterTemp(st)
		put(elem, st, ek, s)
		vm.Store(s, slot, st)
		t.bindComponents(n.Destructure.Vars, comps, newLocal(slot, st, ek))
		t.frame.LeaveTemp(st)
		return
	}
	v, ok := t.bc.DeclarationOf(n.Var).(*binding.Variable)
	if !ok {
		put(elem, vm.VoidType, nil, s)
		return
	}
	if t.shared[v] {
		store(t.declareVariable(v, v.Name, v.Type), elem, s)
		return
	}
	vt := types.Map(v.Type)
	put(elem, vt, v.Type, s)
	slot := t.declare(v, v.Name, vt)
	vm.Store(s, slot, vt)
}
