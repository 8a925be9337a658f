package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (t *Translator) genAssign(n *ast.Assign) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		if n.Op == ast.OpAssign {
			t.genPlainAssign(n)
		} else {
			t.genCompoundAssign(n)
		}
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// assignTarget returns the storage an assignment writes, bypassing smart
// casts and cached values. set is the resolved set operator for index
// targets.
func (t *Translator) assignTarget(e ast.Expr, set *binding.Function) StackValue {
	switch x := e.(type) {
	case *ast.Dot:
		if x.Safe {
			internalf(e, "safe call is not assignable here")
		}
		return t.assignTarget(x.Sel, set)
	case *ast.Index:
		return t.indexTarget(x, set)
	}
	return t.genNode(e)
}

func (t *Translator) genPlainAssign(n *ast.Assign) {
	s := t.s
	if d, ok := n.Target.(*ast.Dot); ok && d.Safe {
		t.genSafeAssign(n, d)
		return
	}
	if ix, ok := n.Target.(*ast.Index); ok {
		call := t.bc.ResolvedCallOf(n)
		if call != nil && call.Function() != nil && call.Function().Intrinsic != binding.IntrinsicArraySet {
			// a[i] = v through an operator set(i, v).
			put(t.invoke(n, call, nil, nil), vm.VoidType, nil, s)
			return
		}
		xk := t.typeOf(ix.X)
		arrT := types.Map(xk)
		vals, release := t.operandValues([]ast.Expr{ix.X, ix.Indices[0], n.Value})
		target := newArrayElement(vals[0], vals[1], arrT, xk.Elem)
		store(target, vals[2], s)
		release()
		return
	}
	target := t.assignTarget(n.Target, nil)
	if target.ReceiverSize() > 0 && containsTry(n.Value) {
		value := t.spill(n.Value, target.Type(), target.KType())
		store(target, value, s)
		t.frame.LeaveTemp(target.Type())
		return
	}
	store(target, t.gen(n.Value), s)
}

// spill computes e into a fresh temporary of type vt. The caller leaves
// the temporary.
func (t *Translator) spill(e ast.Expr, vt vm.Type, kt *types.Type) StackValue {
	t.put(e, vt, kt)
	slot := t.frame.EnterTemp(vt)
	vm.Store(t.s, slot, vt)
	return newLocal(slot, vt, kt)
}

// genSafeAssign translates x?.p = v: nothing, the value included, is
// evaluated past a null receiver.
func (t *Translator) genSafeAssign(n *ast.Assign, d *ast.Dot) {
	s := t.s
	end := s.NewLabel()
	xt := t.safeReceiver(d, end, s)
	store(t.assignTarget(d.Sel, nil), t.gen(n.Value), s)
	delete(t.cache, d.X)
	s.Mark(end)
	t.frame.LeaveTemp(xt)
}

// genCompoundAssign translates a op= b: through an xAssign operator when
// one resolved, otherwise as a = a op b with the receiver of a evaluated
// once.
func (t *Translator) genCompoundAssign(n *ast.Assign) {
	s := t.s
	op, ok := n.Op.Arithmetic()
	if !ok {
		internalf(n, "unsupported assignment %s", n.Op)
	}
	call := t.bc.ResolvedCallOf(n)
	if call != nil && call.Function() != nil && isAssignOperator(call.Function()) {
		put(t.invoke(n, call, nil, nil), vm.VoidType, nil, s)
		return
	}

	target := t.assignTarget(n.Target, t.setOperatorOf(n.Target))
	tt, tk := target.Type(), target.KType()
	xk := t.typeOf(n.Target)
	xt := types.Map(xk)
	vk := t.typeOf(n.Value)

	var pre StackValue
	if target.ReceiverSize() > 0 && containsTry(n.Value) {
		pre = t.spill(n.Value, types.Map(vk), vk)
	}
	value := func() StackValue {
		if pre != nil {
			return pre
		}
		return t.gen(n.Value)
	}

	cv := newComplex(target)
	cv.PutReceiver(s)
	switch {
	case call != nil && call.Function() != nil:
		// a = a.plus(b)
		cv.PutSelector(xt, xk, s)
		old := newOnStack(xt, xk)
		var res StackValue
		if call.Extension != nil {
			res = t.invokeWith(n, call, nil, old, []StackValue{value()})
		} else {
			res = t.invokeWith(n, call, old, nil, []StackValue{value()})
		}
		put(res, tt, tk, s)
	case isPrimitiveOperand(xk) && isPrimitiveOperand(vk):
		vt := types.Map(vk)
		opT := arithType(op, xt, vt)
		cv.PutSelector(opT, nil, s)
		if isShift(op) {
			put(value(), vm.IntType, types.Int, s)
		} else {
			put(value(), opT, nil, s)
		}
		emitArith(op, opT, s)
		convertPrimitive(opT, xt, s)
		coerce(xt, xk, tt, tk, s)
	case op == ast.OpAdd && xk.Kind == types.KindString:
		cv.PutSelector(vm.StringType, xk, s)
		put(value(), vm.ObjectType, vk, s)
		s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "stringPlus", "(Ljava/lang/String;Ljava/lang/Object;)Ljava/lang/String;", false)
		coerce(vm.StringType, types.String, tt, tk, s)
	default:
		internalf(n, "compound assignment %s on %v has no operator", n.Op, xk)
	}
	cv.StoreSelector(s)
	if pre != nil {
		t.frame.LeaveTemp(pre.Type())
	}
}

// isAssignOperator reports whether fn is a plusAssign-style operator that
// mutates its receiver in place.
func isAssignOperator(fn *binding.Function) bool {
	switch fn.Name {
	case "plusAssign", "minusAssign", "timesAssign", "divAssign", "remAssign":
		return true
	}
	return false
}

// setOperatorOf returns the set operator of an index target that is read
// and written back.
func (t *Translator) setOperatorOf(e ast.Expr) *binding.Function {
	ix, ok := e.(*ast.Index)
	if !ok {
		return nil
	}
	if c := t.bc.ResolvedCallOf(ix); c != nil {
		return c.Set
	}
	return nil
}

// ---------------------------------------------------------------------------
// Increment and decrement
// ---------------------------------------------------------------------------

// genIncrement translates ++x, --x, x++ and x--. The prefix forms yield
// the new value, the postfix forms the old one.
func (t *Translator) genIncrement(n ast.Expr, x ast.Expr, op ast.Op, prefix bool) StackValue {
	xk := t.typeOf(x)
	xt := types.Map(xk)
	return newOperation(xt, xk, func(to vm.Type, toK *types.Type, s vm.Sink) {
		delta := 1
		if op == ast.OpDec {
			delta = -1
		}
		if slot, ok := t.iincSlot(x, xk); ok {
			switch {
			case to.Sort == vm.SortVoid:
				s.IInc(slot, delta)
			case prefix:
				s.IInc(slot, delta)
				vm.Load(s, slot, vm.IntType)
				coerce(vm.IntType, types.Int, to, toK, s)
			default:
				vm.Load(s, slot, vm.IntType)
				s.IInc(slot, delta)
				coerce(vm.IntType, types.Int, to, toK, s)
			}
			return
		}

		target := t.assignTarget(x, t.setOperatorOf(x))
		tt, tk := target.Type(), target.KType()
		keep := to.Sort != vm.SortVoid
		cv := newComplex(target)
		cv.PutReceiver(s)
		cv.PutSelector(xt, xk, s)
		result := -1
		if keep && !prefix {
			vm.Dup(s, xt)
			result = t.frame.EnterTemp(xt)
			vm.Store(s, result, xt)
		}

		if isPrimitiveOperand(xk) {
			opT := arithType(ast.OpAdd, xt, xt)
			convertPrimitive(xt, opT, s)
			pushOne(opT, s)
			if delta > 0 {
				emitArith(ast.OpAdd, opT, s)
			} else {
				emitArith(ast.OpSub, opT, s)
			}
			convertPrimitive(opT, xt, s)
		} else {
			call := t.bc.ResolvedCallOf(n)
			if call == nil || call.Function() == nil {
				internalf(n, "%s on %v has no operator", op, xk)
			}
			old := newOnStack(xt, xk)
			var res StackValue
			if call.Extension != nil {
				res = t.invokeWith(n, call, nil, old, nil)
			} else {
				res = t.invokeWith(n, call, old, nil, nil)
			}
			put(res, xt, xk, s)
		}

		if keep && prefix {
			vm.Dup(s, xt)
			result = t.frame.EnterTemp(xt)
			vm.Store(s, result, xt)
		}
		coerce(xt, xk, tt, tk, s)
		cv.StoreSelector(s)
		if result >= 0 {
			vm.Load(s, result, xt)
			t.frame.LeaveTemp(xt)
			coerce(xt, xk, to, toK, s)
		}
	})
}

// iincSlot returns the slot of x when it is a plain Int local of this
// frame that IINC can update in place.
func (t *Translator) iincSlot(x ast.Expr, xk *types.Type) (int, bool) {
	name, ok := x.(*ast.Name)
	if !ok || t.bc.SmartCastOf(x) != nil || xk.Nullable || xk.Kind != types.KindPrimitive || xk.Name != "Int" {
		return 0, false
	}
	d := t.bc.DeclarationOf(name)
	switch d.(type) {
	case *binding.Variable, *binding.Parameter:
	default:
		return 0, false
	}
	if t.shared[d] {
		return 0, false
	}
	if _, ok := t.delegates[d]; ok {
		return 0, false
	}
	slot, st, ok := t.frame.Lookup(d)
	if !ok || st.Sort != vm.SortInt {
		return 0, false
	}
	return slot, true
}

func pushOne(t vm.Type, s vm.Sink) {
	switch t.Sort {
	case vm.SortLong:
		vm.LConst(s, 1)
	case vm.SortFloat:
		vm.FConst(s, 1)
	case vm.SortDouble:
		vm.DConst(s, 1)
	default:
		vm.IConst(s, 1)
	}
}

// ---------------------------------------------------------------------------
// Index access through get/set operators
// ---------------------------------------------------------------------------

// indexed is x[i...] on a non-array through operator get and set.
type indexed struct {
	valueBase
	recv    StackValue
	recvT   vm.Type
	recvK   *types.Type
	indices []StackValue
	idxT    []vm.Type
	idxK    []*types.Type
	getter  *accessor
	setter  *accessor
}

func (v *indexed) ReceiverSize() int {
	n := v.recvT.Size()
	for _, it := range v.idxT {
		n += it.Size()
	}
	return n
}

func (v *indexed) PutReceiver(s vm.Sink) {
	put(v.recv, v.recvT, v.recvK, s)
	for i, ix := range v.indices {
		put(ix, v.idxT[i], v.idxK[i], s)
	}
}

func (v *indexed) DupReceiver(s vm.Sink) { dupWords(v.ReceiverSize(), s) }

func (v *indexed) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	if v.getter == nil {
		internalf(nil, "index access has no get operator")
	}
	v.getter.emit(s)
	ret := vm.MustMethodType(v.getter.desc).Return
	castIfNeeded(ret, v.t, s)
	coerce(v.t, v.kt, t, kt, s)
}

func (v *indexed) StoreSelector(s vm.Sink) {
	if v.setter == nil {
		internalf(nil, "index target has no set operator")
	}
	mt := vm.MustMethodType(v.setter.desc)
	coerce(v.t, v.kt, mt.Params[len(mt.Params)-1], nil, s)
	v.setter.emit(s)
	if mt.Return.Sort != vm.SortVoid {
		vm.Pop(s, mt.Return)
	}
}

// indexTarget returns the storage x[i...] denotes: an array element, or
// get/set operator calls. set is the resolved set operator, if any.
func (t *Translator) indexTarget(n *ast.Index, set *binding.Function) StackValue {
	xk := t.typeOf(n.X)
	get := t.bc.ResolvedCallOf(n)
	isArray := xk.Kind == types.KindArray
	if fn := callFunction(get); fn != nil && fn.Intrinsic != binding.IntrinsicArrayGet {
		isArray = false
	}
	if isArray && len(n.Indices) == 1 {
		return newArrayElement(t.gen(n.X), t.gen(n.Indices[0]), types.Map(xk), xk.Elem)
	}

	fn := callFunction(get)
	if fn == nil {
		fn = set
	}
	if fn == nil {
		internalf(n, "index access on %v has no operator", xk)
	}
	vk := t.typeOf(n)
	v := &indexed{valueBase: valueBase{types.Map(vk), vk}}
	v.recv = t.gen(n.X)
	v.recvK = xk
	if fn.Owner != nil && fn.Receiver == nil {
		v.recvT = thisType(fn.Owner)
	} else if fn.Receiver != nil {
		v.recvT = types.Map(fn.Receiver)
	} else {
		v.recvT = types.Boxed(xk)
	}
	for i, ix := range n.Indices {
		var pk *types.Type
		if i < len(fn.Params) {
			pk = fn.Params[i].Type
		} else {
			pk = t.typeOf(ix)
		}
		v.indices = append(v.indices, t.gen(ix))
		v.idxT = append(v.idxT, types.Map(pk))
		v.idxK = append(v.idxK, pk)
	}
	if gf := callFunction(get); gf != nil && gf.Name == "get" {
		v.getter = t.methodFor(gf, false, false).accessor()
	}
	if set != nil {
		v.setter = t.methodFor(set, false, false).accessor()
	}
	return v
}

func callFunction(c *binding.ResolvedCall) *binding.Function {
	if c == nil {
		return nil
	}
	return c.Function()
}

// genIndex reads x[i...].
func (t *Translator) genIndex(n *ast.Index) StackValue {
	xk := t.typeOf(n.X)
	call := t.bc.ResolvedCallOf(n)
	if fn := callFunction(call); fn != nil && fn.Intrinsic == binding.IntrinsicNone {
		return t.invoke(n, call, nil, nil)
	}
	if xk.Kind != types.KindArray || len(n.Indices) != 1 {
		internalf(n, "index access on %v has no get operator", xk)
	}
	arrT := types.Map(xk)
	et := *arrT.Elem
	return coerced(et, xk.Elem, func(s vm.Sink) {
		vals, release := t.operandValues([]ast.Expr{n.X, n.Indices[0]})
		put(newArrayElement(vals[0], vals[1], arrT, xk.Elem), et, xk.Elem, s)
		release()
	})
}

// ---------------------------------------------------------------------------
// Delegated locals
// ---------------------------------------------------------------------------

// delegateInfo is the slot of a local delegate and its accessors.
type delegateInfo struct {
	slot   int
	t      vm.Type
	kt     *types.Type
	getter *accessor
	setter *accessor
}

// declareDelegated evaluates the delegate of `val x by d` into a hidden
// local; reads and writes of x go through it.
func (t *Translator) declareDelegated(n *ast.VarDecl, v *binding.Variable) {
	del := t.bc.DelegateOf(n)
	if del == nil || del.GetValue == nil {
		internalf(n, "delegated %s has no getValue", v.Name)
	}
	dk := t.typeOf(n.Delegate)
	dt := types.Map(dk)
	if del.Owner != "" && dt.Sort == vm.SortObject && dt.Name != del.Owner && dk.Kind == types.KindTypeParam {
		dt = vm.ObjectOf(del.Owner)
	}
	t.put(n.Delegate, dt, dk)
	slot := t.declare(delegateKey{v}, v.Name+"$delegate", dt)
	vm.Store(t.s, slot, dt)
	info := &delegateInfo{
		slot:   slot,
		t:      dt,
		kt:     dk,
		getter: t.methodFor(del.GetValue, false, false).accessor(),
	}
	if del.SetValue != nil {
		info.setter = t.methodFor(del.SetValue, false, false).accessor()
	}
	t.delegates[v] = info
}

func (t *Translator) delegatedValue(d binding.Decl, kt *types.Type, info *delegateInfo, delegate StackValue) StackValue {
	return &delegated{
		valueBase: valueBase{types.Map(kt), kt},
		name:      d.DeclName(),
		delegate:  delegate,
		getter:    info.getter,
		setter:    info.setter,
	}
}
