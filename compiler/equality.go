package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

const intrinsics = "kotlin/jvm/internal/Intrinsics"

// branchValue produces a boolean from a conditional jump: jumpFalse emits
// code that leaves nothing and jumps to its label when the condition is
// false.
func branchValue(jumpFalse func(s vm.Sink, falseL vm.Label)) StackValue {
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		falseL := s.NewLabel()
		end := s.NewLabel()
		jumpFalse(s, falseL)
		vm.IConst(s, 1)
		vm.Goto(s, end)
		s.Mark(falseL)
		vm.IConst(s, 0)
		s.Mark(end)
	})
}

// negate inverts a boolean value.
func negate(v StackValue) StackValue {
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		put(v, vm.BooleanType, types.Boolean, s)
		vm.IConst(s, 1)
		s.Insn(vm.OpIXOR)
	})
}

// isNullConstant reports whether e is the literal null.
func (t *Translator) isNullConstant(e ast.Expr) bool {
	if c, ok := e.(*ast.Const); ok && c.Value == nil {
		return true
	}
	if v, ok := t.bc.ConstantOf(e); ok && v == nil {
		return true
	}
	return false
}

// genEqualityExpr translates ==, !=, === and !== between two expressions.
func (t *Translator) genEqualityExpr(n *ast.Binary) StackValue {
	lk, rk := t.typeOf(n.Left), t.typeOf(n.Right)
	switch {
	case t.isNullConstant(n.Right):
		return t.nullCheck(n.Op, t.gen(n.Left), lk)
	case t.isNullConstant(n.Left):
		return t.nullCheck(n.Op, t.gen(n.Right), rk)
	}
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		vals, release := t.operandValues([]ast.Expr{n.Left, n.Right})
		put(t.genEquality(n.Op, vals[0], lk, vals[1], rk), vm.BooleanType, types.Boolean, s)
		release()
	})
}

// nullCheck compares a value against the null literal.
func (t *Translator) nullCheck(op ast.Op, v StackValue, kt *types.Type) StackValue {
	eq := op == ast.OpEq || op == ast.OpIdentEq
	vt := types.Map(kt)
	if vt.IsPrimitive() {
		// A non-null primitive is never null; the operand still runs.
		return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
			put(v, vm.VoidType, nil, s)
			if eq {
				vm.IConst(s, 0)
			} else {
				vm.IConst(s, 1)
			}
		})
	}
	return branchValue(func(s vm.Sink, falseL vm.Label) {
		put(v, vt, kt, s)
		if eq {
			s.JumpInsn(vm.OpIFNONNULL, falseL)
		} else {
			s.JumpInsn(vm.OpIFNULL, falseL)
		}
	})
}

// genEquality picks the comparison algorithm for two operands of source
// types lk and rk.
func (t *Translator) genEquality(op ast.Op, left StackValue, lk *types.Type, right StackValue, rk *types.Type) StackValue {
	identity := op == ast.OpIdentEq || op == ast.OpIdentNe
	var v StackValue
	lt, rt := types.Map(lk), types.Map(rk)
	switch {
	case lt.IsPrimitive() && rt.IsPrimitive() && !lk.IsInline() && !rk.IsInline():
		v = primitiveEquality(left, lt, right, rt)
	case identity, lk.IsEnum(), rk.IsEnum():
		v = identityEquality(left, lk, right, rk)
	case lk.IsInline() && rk.IsInline() && lk.Name == rk.Name && !lk.Nullable && !rk.Nullable:
		v = inlineEquality(left, lk, right)
	case lk.IsFloating() && rk.IsFloating():
		v = t.floatEquality(left, lk, right, rk)
	case lk.IsPrimitive() && rk.IsPrimitive() && lk.Name == rk.Name:
		v = t.boxedPrimitiveEquality(left, lk, right, rk)
	default:
		v = objectEquality(left, lk, right, rk)
	}
	if op == ast.OpNe || op == ast.OpIdentNe {
		return negate(v)
	}
	return v
}

// widest returns the common type two primitive operands are compared in.
func widest(a, b vm.Type) vm.Type {
	rank := func(t vm.Type) int {
		switch t.Sort {
		case vm.SortLong:
			return 1
		case vm.SortFloat:
			return 2
		case vm.SortDouble:
			return 3
		}
		return 0
	}
	w := a
	if rank(b) > rank(a) {
		w = b
	}
	if w.IsIntLike() {
		if a.Sort == b.Sort {
			return a
		}
		return vm.IntType
	}
	return w
}

// compareZero emits the comparison of two values of type ct left on the
// stack, reducing long and floating operands to an int against zero.
// nanIsGreater picks the floating compare that orders NaN above all.
func compareZero(ct vm.Type, nanIsGreater bool, s vm.Sink) {
	switch ct.Sort {
	case vm.SortLong:
		s.Insn(vm.OpLCMP)
	case vm.SortFloat:
		if nanIsGreater {
			s.Insn(vm.OpFCMPG)
		} else {
			s.Insn(vm.OpFCMPL)
		}
	case vm.SortDouble:
		if nanIsGreater {
			s.Insn(vm.OpDCMPG)
		} else {
			s.Insn(vm.OpDCMPL)
		}
	}
}

// primitiveEquality compares two unboxed values numerically; NaN is
// unequal to everything.
func primitiveEquality(left StackValue, lt vm.Type, right StackValue, rt vm.Type) StackValue {
	ct := widest(lt, rt)
	return branchValue(func(s vm.Sink, falseL vm.Label) {
		put(left, ct, nil, s)
		put(right, ct, nil, s)
		if ct.IsIntLike() {
			s.JumpInsn(vm.OpIF_ICMPNE, falseL)
			return
		}
		compareZero(ct, false, s)
		s.JumpInsn(vm.OpIFNE, falseL)
	})
}

func identityEquality(left StackValue, lk *types.Type, right StackValue, rk *types.Type) StackValue {
	return branchValue(func(s vm.Sink, falseL vm.Label) {
		put(left, types.Boxed(lk), lk, s)
		put(right, types.Boxed(rk), rk, s)
		s.JumpInsn(vm.OpIF_ACMPNE, falseL)
	})
}

// inlineEquality compares two unboxed values of the same value class
// through its static equals-impl0.
func inlineEquality(left StackValue, k *types.Type, right StackValue) StackValue {
	u := types.Map(k)
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		put(left, u, k, s)
		put(right, u, k, s)
		desc := "(" + u.Descriptor() + u.Descriptor() + ")Z"
		s.MethodInsn(vm.OpINVOKESTATIC, k.Name, "equals-impl0", desc, false)
	})
}

// floatEquality compares floating operands of which at least one is
// nullable. The IEEE 754 policy compares numerically through the typed
// areEqual overloads; the legacy policy compares the boxes with equals.
func (t *Translator) floatEquality(left StackValue, lk *types.Type, right StackValue, rk *types.Type) StackValue {
	if t.cfg.FloatEquality == FloatEqualityLegacy || lk.Name != rk.Name {
		return objectEquality(left, lk, right, rk)
	}
	lt, rt := types.Map(lk), types.Map(rk)
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		put(left, lt, lk, s)
		put(right, rt, rk, s)
		s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "areEqual", "("+lt.Descriptor()+rt.Descriptor()+")Z", false)
	})
}

// boxedPrimitiveEquality compares a nullable primitive with a primitive of
// the same type without boxing the primitive side: a null box is unequal,
// otherwise the unboxed values are compared.
func (t *Translator) boxedPrimitiveEquality(left StackValue, lk *types.Type, right StackValue, rk *types.Type) StackValue {
	lt, rt := types.Map(lk), types.Map(rk)
	if lt.IsPrimitive() == rt.IsPrimitive() {
		return objectEquality(left, lk, right, rk)
	}
	prim := types.Map(lk.NotNull())
	return branchValue(func(s vm.Sink, falseL vm.Label) {
		ls := t.frame.EnterTemp(lt)
		put(left, lt, lk, s)
		vm.Store(s, ls, lt)
		rs := t.frame.EnterTemp(rt)
		put(right, rt, rk, s)
		vm.Store(s, rs, rt)

		boxSlot, boxT := ls, lt
		if rt.IsReference() {
			boxSlot, boxT = rs, rt
		}
		vm.Load(s, boxSlot, boxT)
		s.JumpInsn(vm.OpIFNULL, falseL)
		vm.Load(s, ls, lt)
		coerce(lt, lk, prim, lk.NotNull(), s)
		vm.Load(s, rs, rt)
		coerce(rt, rk, prim, rk.NotNull(), s)
		if prim.IsIntLike() {
			s.JumpInsn(vm.OpIF_ICMPNE, falseL)
		} else {
			compareZero(prim, false, s)
			s.JumpInsn(vm.OpIFNE, falseL)
		}
		t.frame.LeaveTemp(rt)
		t.frame.LeaveTemp(lt)
	})
}

// objectEquality boxes both operands and calls Intrinsics.areEqual, which
// is null-safe and delegates to equals.
func objectEquality(left StackValue, lk *types.Type, right StackValue, rk *types.Type) StackValue {
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		put(left, vm.ObjectType, lk, s)
		put(right, vm.ObjectType, rk, s)
		s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "areEqual", "(Ljava/lang/Object;Ljava/lang/Object;)Z", false)
	})
}
