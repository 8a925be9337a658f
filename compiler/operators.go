package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

var arithOps = map[ast.Op]vm.Opcode{
	ast.OpAdd:  vm.OpIADD,
	ast.OpSub:  vm.OpISUB,
	ast.OpMul:  vm.OpIMUL,
	ast.OpDiv:  vm.OpIDIV,
	ast.OpRem:  vm.OpIREM,
	ast.OpShl:  vm.OpISHL,
	ast.OpShr:  vm.OpISHR,
	ast.OpUshr: vm.OpIUSHR,
	ast.OpAnd:  vm.OpIAND,
	ast.OpOr:   vm.OpIOR,
	ast.OpXor:  vm.OpIXOR,
}

var primitiveKTypes = map[vm.Sort]*types.Type{
	vm.SortBoolean: types.Boolean,
	vm.SortChar:    types.Char,
	vm.SortByte:    types.Byte,
	vm.SortShort:   types.Short,
	vm.SortInt:     types.Int,
	vm.SortLong:    types.Long,
	vm.SortFloat:   types.Float,
	vm.SortDouble:  types.Double,
}

// primitiveKType returns the source type of a primitive machine type.
func primitiveKType(t vm.Type) *types.Type {
	if k, ok := primitiveKTypes[t.Sort]; ok {
		return k
	}
	return nil
}

func isShift(op ast.Op) bool {
	return op == ast.OpShl || op == ast.OpShr || op == ast.OpUshr
}

// arithType returns the type an arithmetic operator computes in: int-like
// operands promote to Int, and the shift distance never widens the result.
func arithType(op ast.Op, lt, rt vm.Type) vm.Type {
	if isShift(op) {
		if lt.IsIntLike() {
			return vm.IntType
		}
		return lt
	}
	w := widest(lt, rt)
	if w.IsIntLike() && !(w.Sort == vm.SortBoolean && lt.Sort == rt.Sort) {
		return vm.IntType
	}
	return w
}

// emitArith applies op to two values of type opT (an Int distance for
// shifts) on the stack.
func emitArith(op ast.Op, opT vm.Type, s vm.Sink) {
	base, ok := arithOps[op]
	if !ok {
		internalf(nil, "operator %s is not arithmetic", op)
	}
	if opT.Sort == vm.SortBoolean {
		opT = vm.IntType
	}
	s.Insn(opT.Opcode(base))
}

// isPrimitiveOperand reports whether k is held as an unboxed primitive.
func isPrimitiveOperand(k *types.Type) bool {
	return k.IsPrimitive() && !k.Nullable
}

func (t *Translator) genBinary(n *ast.Binary) StackValue {
	switch n.Op {
	case ast.OpAndAnd, ast.OpOrOr:
		return branchValue(func(s vm.Sink, falseL vm.Label) {
			t.condJump(n, falseL, false)
		})
	case ast.OpEq, ast.OpNe, ast.OpIdentEq, ast.OpIdentNe:
		return t.genEqualityExpr(n)
	case ast.OpLt, ast.OpGt, ast.OpLe, ast.OpGe:
		lk, rk := t.typeOf(n.Left), t.typeOf(n.Right)
		if !(isPrimitiveOperand(lk) && isPrimitiveOperand(rk)) && t.bc.ResolvedCallOf(n) == nil {
			internalf(n, "comparison of %v and %v has no compareTo", lk, rk)
		}
		return branchValue(func(s vm.Sink, falseL vm.Label) {
			t.condJump(n, falseL, false)
		})
	case ast.OpElvis:
		return t.genElvis(n)
	case ast.OpIn, ast.OpNotIn:
		v := t.genIn(n)
		if n.Op == ast.OpNotIn {
			return negate(v)
		}
		return v
	case ast.OpRange, ast.OpUntil:
		if t.isRangeLiteral(n) {
			return t.genRangeLiteral(n)
		}
	}

	lk, rk := t.typeOf(n.Left), t.typeOf(n.Right)
	if _, ok := arithOps[n.Op]; ok && isPrimitiveOperand(lk) && isPrimitiveOperand(rk) {
		return t.genArithmetic(n)
	}
	if n.Op == ast.OpAdd && lk.Kind == types.KindString {
		return t.genStringPlus(n, lk)
	}
	call := t.bc.ResolvedCallOf(n)
	if call == nil {
		internalf(n, "operator %s on %v has no resolved call", n.Op, lk)
	}
	return t.invoke(n, call, nil, nil)
}

func (t *Translator) genArithmetic(n *ast.Binary) StackValue {
	lt, rt := types.Map(t.typeOf(n.Left)), types.Map(t.typeOf(n.Right))
	opT := arithType(n.Op, lt, rt)
	resT := opT
	if rk := t.typeOf(n); isPrimitiveOperand(rk) {
		resT = types.Map(rk)
	}
	return coerced(resT, primitiveKType(resT), func(s vm.Sink) {
		vals, release := t.operandValues([]ast.Expr{n.Left, n.Right})
		put(vals[0], opT, nil, s)
		if isShift(n.Op) {
			put(vals[1], vm.IntType, types.Int, s)
		} else {
			put(vals[1], opT, nil, s)
		}
		emitArith(n.Op, opT, s)
		convertPrimitive(opT, resT, s)
		release()
	})
}

// genStringPlus concatenates a string with any value. A nullable left
// operand goes through Intrinsics.stringPlus, which renders null.
func (t *Translator) genStringPlus(n *ast.Binary, lk *types.Type) StackValue {
	if !lk.Nullable {
		return t.genTemplate(&ast.Template{SpanVal: n.SpanVal, Parts: []ast.Expr{n.Left, n.Right}})
	}
	return coerced(vm.StringType, types.String, func(s vm.Sink) {
		vals, release := t.operandValues([]ast.Expr{n.Left, n.Right})
		put(vals[0], vm.StringType, lk, s)
		put(vals[1], vm.ObjectType, t.typeOf(n.Right), s)
		s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "stringPlus", "(Ljava/lang/String;Ljava/lang/Object;)Ljava/lang/String;", false)
		release()
	})
}

// genElvis evaluates the left operand once and falls back to the right
// one when it is null.
func (t *Translator) genElvis(n *ast.Binary) StackValue {
	vt, kt := t.valueType(n)
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		lk := t.typeOf(n.Left)
		lt := types.Boxed(lk)
		if lk.IsInline() {
			lt = types.Map(lk)
		}
		nullL := s.NewLabel()
		end := s.NewLabel()
		t.put(n.Left, lt, lk)
		s.Insn(vm.OpDUP)
		s.JumpInsn(vm.OpIFNULL, nullL)
		coerce(lt, lk.NotNull(), to, toK, s)
		vm.Goto(s, end)
		s.Mark(nullL)
		s.Insn(vm.OpPOP)
		t.put(n.Right, to, toK)
		s.Mark(end)
	})
}

func (t *Translator) genRangeLiteral(n *ast.Binary) StackValue {
	rt := vm.ObjectOf(intRange)
	return coerced(rt, types.Class(intRange), func(s vm.Sink) {
		vals, release := t.operandValues([]ast.Expr{n.Left, n.Right})
		vm.New(s, intRange)
		put(vals[0], vm.IntType, types.Int, s)
		put(vals[1], vm.IntType, types.Int, s)
		release()
		if n.Op == ast.OpUntil {
			vm.IConst(s, 1)
			s.Insn(vm.OpISUB)
		}
		s.MethodInsn(vm.OpINVOKESPECIAL, intRange, "<init>", "(II)V", false)
	})
}

// genIn translates `x in c`. The container is evaluated before the
// element, as for c.contains(x).
func (t *Translator) genIn(n *ast.Binary) StackValue {
	ek := t.typeOf(n.Left)
	if r, ok := n.Right.(*ast.Binary); ok && t.isRangeLiteral(r) && ek.IsIntegral() && !ek.Nullable {
		return t.rangeContains(r, t.gen(n.Left), true)
	}
	if call := t.bc.ResolvedCallOf(n); call != nil && call.Function() != nil {
		return t.invoke(n, call, nil, nil)
	}
	return t.collectionContains(n.Right, t.gen(n.Left), ek)
}

// containsValue tests an already evaluated element against a container.
func (t *Translator) containsValue(container ast.Expr, elem StackValue, ek *types.Type) StackValue {
	if r, ok := container.(*ast.Binary); ok && t.isRangeLiteral(r) && ek.IsIntegral() && !ek.Nullable {
		return t.rangeContains(r, elem, false)
	}
	return t.collectionContains(container, elem, ek)
}

// rangeContains checks lo <= x <= hi (x < hi for until) without building
// the range. The bounds are evaluated first when boundsFirst is set.
func (t *Translator) rangeContains(r *ast.Binary, elem StackValue, boundsFirst bool) StackValue {
	return branchValue(func(s vm.Sink, falseL vm.Label) {
		var lo, hi, x int
		if boundsFirst {
			vals, release := t.operandValues([]ast.Expr{r.Left, r.Right})
			put(vals[0], vm.IntType, types.Int, s)
			put(vals[1], vm.IntType, types.Int, s)
			release()
			hi = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, hi, vm.IntType)
			lo = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, lo, vm.IntType)
			put(elem, vm.IntType, types.Int, s)
			x = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, x, vm.IntType)
		} else {
			put(elem, vm.IntType, types.Int, s)
			x = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, x, vm.IntType)
			vals, release := t.operandValues([]ast.Expr{r.Left, r.Right})
			put(vals[0], vm.IntType, types.Int, s)
			put(vals[1], vm.IntType, types.Int, s)
			release()
			hi = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, hi, vm.IntType)
			lo = t.frame.EnterTemp(vm.IntType)
			vm.Store(s, lo, vm.IntType)
		}
		vm.Load(s, lo, vm.IntType)
		vm.Load(s, x, vm.IntType)
		s.JumpInsn(vm.OpIF_ICMPGT, falseL)
		vm.Load(s, x, vm.IntType)
		vm.Load(s, hi, vm.IntType)
		if r.Op == ast.OpUntil {
			s.JumpInsn(vm.OpIF_ICMPGE, falseL)
		} else {
			s.JumpInsn(vm.OpIF_ICMPGT, falseL)
		}
		t.frame.LeaveTemp(vm.IntType)
		t.frame.LeaveTemp(vm.IntType)
		t.frame.LeaveTemp(vm.IntType)
	})
}

// collectionContains calls contains on an IntRange value or a collection.
func (t *Translator) collectionContains(container ast.Expr, elem StackValue, ek *types.Type) StackValue {
	ck := t.typeOf(container)
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		if ck.Name == intRange && !ck.Nullable && ek.IsIntegral() && !ek.Nullable {
			t.put(container, vm.ObjectOf(intRange), ck)
			put(elem, vm.IntType, types.Int, s)
			s.MethodInsn(vm.OpINVOKEVIRTUAL, intRange, "contains", "(I)Z", false)
			return
		}
		const collection = "java/util/Collection"
		t.put(container, vm.ObjectOf(collection), ck)
		put(elem, vm.ObjectType, ek, s)
		s.MethodInsn(vm.OpINVOKEINTERFACE, collection, "contains", "(Ljava/lang/Object;)Z", true)
	})
}

// ---------------------------------------------------------------------------
// Unary and postfix operators
// ---------------------------------------------------------------------------

func (t *Translator) genUnary(n *ast.Unary) StackValue {
	xk := t.typeOf(n.X)
	switch n.Op {
	case ast.OpInc, ast.OpDec:
		return t.genIncrement(n, n.X, n.Op, true)
	case ast.OpNot:
		if xk.IsPrimitive() {
			return negate(t.gen(n.X))
		}
	case ast.OpNeg, ast.OpPlus:
		if isPrimitiveOperand(xk) {
			opT := arithType(ast.OpAdd, types.Map(xk), types.Map(xk))
			return coerced(opT, primitiveKType(opT), func(s vm.Sink) {
				t.put(n.X, opT, nil)
				if n.Op == ast.OpNeg {
					s.Insn(opT.Opcode(vm.OpINEG))
				}
			})
		}
	}
	call := t.bc.ResolvedCallOf(n)
	if call == nil {
		internalf(n, "unary %s on %v has no resolved call", n.Op, xk)
	}
	return t.invoke(n, call, nil, nil)
}

func (t *Translator) genPostfix(n *ast.Postfix) StackValue {
	switch n.Op {
	case ast.OpInc, ast.OpDec:
		return t.genIncrement(n, n.X, n.Op, false)
	case ast.OpNotNull:
		return t.genNotNull(n)
	}
	internalf(n, "unsupported postfix %s", n.Op)
	return nil
}

// genNotNull translates x!!: a null value throws NullPointerException.
func (t *Translator) genNotNull(n *ast.Postfix) StackValue {
	xk := t.typeOf(n.X)
	if !xk.Nullable {
		return t.gen(n.X)
	}
	xt := types.Map(xk)
	nk := xk.NotNull()
	nt := types.Map(nk)
	return coerced(nt, nk, func(s vm.Sink) {
		t.put(n.X, xt, xk)
		s.Insn(vm.OpDUP)
		s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "checkNotNull", "(Ljava/lang/Object;)V", false)
		if nk.IsInline() && xt.Equal(vm.ObjectOf(nk.Name)) {
			unboxInline(xt, nk, s)
			return
		}
		coerce(xt, xk, nt, nk, s)
	})
}

// ---------------------------------------------------------------------------
// Type checks and casts
// ---------------------------------------------------------------------------

func (t *Translator) genIs(n *ast.Is) StackValue {
	v := t.instanceOf(t.gen(n.X), t.typeOf(n.X), n.Type)
	if n.Negated {
		return negate(v)
	}
	return v
}

// reifiedMarker records a use of reified type parameter k that the inliner
// must replace with the actual type.
func (t *Translator) reifiedMarker(k *types.Type, kind int32) {
	t.reified[k.Name] = true
	vm.IConst(t.s, kind)
	t.s.Ldc(k.Name)
	t.s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "reifiedOperationMarker", "(ILjava/lang/String;)V", false)
}

// Operation kinds carried by reifiedOperationMarker.
const (
	reifiedIs int32 = iota + 2
	reifiedSafeAs
	reifiedAs
)

// instanceOf tests a value against target. A nullable target accepts
// null.
func (t *Translator) instanceOf(v StackValue, vk, target *types.Type) StackValue {
	bt := types.Boxed(target.NotNull())
	return coerced(vm.BooleanType, types.Boolean, func(s vm.Sink) {
		put(v, types.Boxed(vk), vk, s)
		if target.Kind == types.KindTypeParam && target.Reified {
			t.reifiedMarker(target, reifiedIs)
		}
		if !target.Nullable {
			s.TypeInsn(vm.OpINSTANCEOF, bt)
			return
		}
		nullL := s.NewLabel()
		end := s.NewLabel()
		s.Insn(vm.OpDUP)
		s.JumpInsn(vm.OpIFNULL, nullL)
		s.TypeInsn(vm.OpINSTANCEOF, bt)
		vm.Goto(s, end)
		s.Mark(nullL)
		s.Insn(vm.OpPOP)
		vm.IConst(s, 1)
		s.Mark(end)
	})
}

func (t *Translator) genAs(n *ast.As) StackValue {
	xk := t.typeOf(n.X)
	target := n.Type
	tt := types.Boxed(target.NotNull())
	reified := target.Kind == types.KindTypeParam && target.Reified

	if n.Safe {
		rk := types.Nullable(target)
		return coerced(tt, rk, func(s vm.Sink) {
			t.put(n.X, types.Boxed(xk), xk)
			if reified {
				t.reifiedMarker(target, reifiedSafeAs)
			}
			ok := s.NewLabel()
			end := s.NewLabel()
			s.Insn(vm.OpDUP)
			s.TypeInsn(vm.OpINSTANCEOF, tt)
			s.JumpInsn(vm.OpIFNE, ok)
			s.Insn(vm.OpPOP)
			s.Insn(vm.OpACONST_NULL)
			vm.Goto(s, end)
			s.Mark(ok)
			castIfNeeded(types.Boxed(xk), tt, s)
			s.Mark(end)
		})
	}

	own := tt
	if target.IsInline() && !target.Nullable {
		own = types.Map(target)
	}
	return coerced(own, target, func(s vm.Sink) {
		from := types.Boxed(xk)
		t.put(n.X, from, xk)
		if reified {
			t.reifiedMarker(target, reifiedAs)
		}
		if !target.Nullable && (xk == nil || xk.Nullable) {
			ok := s.NewLabel()
			s.Insn(vm.OpDUP)
			s.JumpInsn(vm.OpIFNONNULL, ok)
			vm.Throw(s, "java/lang/NullPointerException", "null cannot be cast to non-null type "+target.String())
			s.Mark(ok)
		}
		castIfNeeded(from, tt, s)
		if !own.Equal(tt) {
			unboxInline(tt, target, s)
		}
	})
}
