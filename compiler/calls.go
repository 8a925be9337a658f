package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Call targets
// ---------------------------------------------------------------------------

const (
	continuationClass = "kotlin/coroutines/Continuation"
	ctorMarker        = "kotlin/jvm/internal/DefaultConstructorMarker"
)

// methodRef is a resolved invocation: the instruction, the descriptor
// actually called and whether a dispatch receiver is pushed first.
type methodRef struct {
	op          vm.Opcode
	owner       string
	name        string
	mt          vm.MethodType
	itf         bool
	fn          *binding.Function
	hasDispatch bool
	dispT       vm.Type
}

func (m *methodRef) desc() string { return m.mt.Descriptor() }

func (m *methodRef) emit(s vm.Sink) {
	s.MethodInsn(m.op, m.owner, m.name, m.desc(), m.itf)
}

func (m *methodRef) accessor() *accessor {
	return &accessor{op: m.op, owner: m.owner, name: m.name, desc: m.desc(), itf: m.itf}
}

// fnType is the descriptor of fn's body: extension receiver first, then
// the value parameters and, for suspend functions, the continuation.
func fnType(fn *binding.Function) vm.MethodType {
	var mt vm.MethodType
	if fn.Receiver != nil {
		mt.Params = append(mt.Params, types.Map(fn.Receiver))
	}
	for _, p := range fn.Params {
		mt.Params = append(mt.Params, types.Map(p.Type))
	}
	switch {
	case fn.Kind == binding.FunctionConstructor:
		mt.Return = vm.VoidType
	case fn.Suspend:
		mt.Params = append(mt.Params, vm.ObjectOf(continuationClass))
		mt.Return = vm.ObjectType
	default:
		mt.Return = types.MapReturn(fn.Return)
	}
	return mt
}

// maskCount is the number of int masks a $default stub takes.
func maskCount(fn *binding.Function) int {
	return (len(fn.Params) + 31) / 32
}

// defaultsType extends a descriptor with the masks and the trailing marker
// of a $default stub.
func defaultsType(mt vm.MethodType, fn *binding.Function) vm.MethodType {
	params := append([]vm.Type(nil), mt.Params...)
	if fn.Suspend {
		// The continuation stays last.
		params = params[:len(params)-1]
	}
	for i := 0; i < maskCount(fn); i++ {
		params = append(params, vm.IntType)
	}
	if fn.Kind == binding.FunctionConstructor {
		params = append(params, vm.ObjectOf(ctorMarker))
	} else {
		params = append(params, vm.ObjectType)
	}
	if fn.Suspend {
		params = append(params, vm.ObjectOf(continuationClass))
	}
	return vm.MethodType{Params: params, Return: mt.Return}
}

// methodFor resolves how a call of fn is emitted from the class being
// generated. super selects non-virtual dispatch; defaults selects the
// $default stub.
func (t *Translator) methodFor(fn *binding.Function, super, defaults bool) *methodRef {
	m := &methodRef{fn: fn, name: fn.Name, mt: fnType(fn)}
	switch {
	case fn.Kind == binding.FunctionConstructor:
		m.op, m.owner, m.name = vm.OpINVOKESPECIAL, fn.Owner.Name, "<init>"
		if defaults {
			m.mt = defaultsType(m.mt, fn)
		}
		return m

	case fn.Kind == binding.FunctionLocal:
		cl := t.u.localFunction(fn)
		if cl == nil {
			internalf(nil, "local function %s is not declared yet", fn.Name)
		}
		m.op, m.owner, m.name = vm.OpINVOKEVIRTUAL, cl.Class, "invoke"
		m.hasDispatch, m.dispT = true, vm.ObjectOf(cl.Class)

	case fn.Kind == binding.FunctionTopLevel || fn.Owner == nil:
		m.op, m.owner = vm.OpINVOKESTATIC, fn.Facade
		if fn.Private && t.className != fn.Facade {
			m.name = t.u.functionAccessor(fn, m.mt, false)
		}

	case fn.Owner.Kind == binding.ClassInline && !fn.Static:
		// Value class members are static over the unboxed value.
		m.op, m.owner, m.name = vm.OpINVOKESTATIC, fn.Owner.Name, fn.Name+"-impl"
		m.mt.Params = append([]vm.Type{thisType(fn.Owner)}, m.mt.Params...)
		m.hasDispatch, m.dispT = true, thisType(fn.Owner)

	case fn.Static:
		m.op, m.owner = vm.OpINVOKESTATIC, fn.Owner.Name
		if fn.Private && t.className != fn.Owner.Name {
			m.name = t.u.functionAccessor(fn, m.mt, false)
		}

	default:
		m.owner = fn.Owner.Name
		m.hasDispatch, m.dispT = true, vm.ObjectOf(fn.Owner.Name)
		switch {
		case fn.Owner.Kind == binding.ClassInterface && super && !fn.Abstract:
			// Interface bodies are static methods taking the instance.
			m.op = vm.OpINVOKESTATIC
			m.mt.Params = append([]vm.Type{m.dispT}, m.mt.Params...)
		case fn.Private && t.className != fn.Owner.Name:
			m.op = vm.OpINVOKESTATIC
			m.name = t.u.functionAccessor(fn, m.mt, true)
			m.mt.Params = append([]vm.Type{m.dispT}, m.mt.Params...)
		case super || fn.Private:
			m.op = vm.OpINVOKESPECIAL
		case fn.Owner.Kind == binding.ClassInterface:
			m.op, m.itf = vm.OpINVOKEINTERFACE, true
		default:
			m.op = vm.OpINVOKEVIRTUAL
		}
	}

	if defaults {
		// $default stubs are static; an instance receiver becomes the first
		// parameter.
		mt := m.mt
		if m.hasDispatch && m.op != vm.OpINVOKESTATIC {
			mt.Params = append([]vm.Type{m.dispT}, mt.Params...)
		}
		m.mt = defaultsType(mt, fn)
		m.op, m.itf = vm.OpINVOKESTATIC, false
		m.name = strings.TrimPrefix(m.name, "access$") + "$default"
	}
	return m
}

// needsDefaults reports whether a call omits an argument with a default.
func needsDefaults(call *binding.ResolvedCall, fn *binding.Function) bool {
	for i := range fn.Params {
		if a := argAt(call, i); a == nil || a.Kind == binding.ArgumentDefault {
			return true
		}
	}
	return false
}

func argAt(call *binding.ResolvedCall, i int) *binding.Argument {
	if i < len(call.Args) {
		return call.Args[i]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// operand is one value pushed for a call: an expression or a prepared
// value.
type operand struct {
	expr  ast.Expr
	val   StackValue
	t     vm.Type
	kt    *types.Type
	pure  bool // putting it has no side effects
	tries bool // evaluating it runs a try
}

func (t *Translator) exprOperand(e ast.Expr, vt vm.Type, kt *types.Type) operand {
	return operand{expr: e, t: vt, kt: kt, tries: containsTry(e)}
}

func (t *Translator) operandValue(op operand) StackValue {
	if op.val != nil {
		return op.val
	}
	return t.gen(op.expr)
}

// prepareOperands returns the values of ops, to be put in slice order.
// order is the order they are evaluated in; when it differs from slice
// order, or an operand runs a try, operands are computed into
// temporaries first. release frees the temporaries.
func (t *Translator) prepareOperands(ops []operand, order []int) ([]StackValue, func()) {
	s := t.s
	if order == nil {
		order = make([]int, len(ops))
		for i := range order {
			order[i] = i
		}
	}
	last := -1
	reordered := false
	for pos, i := range order {
		if ops[i].tries {
			last = pos
		}
		if i != pos {
			reordered = true
		}
	}
	if reordered {
		last = len(order) - 1
	}
	vals := make([]StackValue, len(ops))
	var held []vm.Type
	for pos := 0; pos <= last; pos++ {
		i := order[pos]
		op := ops[i]
		if op.pure {
			continue
		}
		put(t.operandValue(op), op.t, op.kt, s)
		slot := t.frame.EnterTemp(op.t)
		vm.Store(s, slot, op.t)
		held = append(held, op.t)
		vals[i] = newLocal(slot, op.t, op.kt)
	}
	for i, op := range ops {
		if vals[i] == nil {
			vals[i] = t.operandValue(op)
		}
	}
	return vals, func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.frame.LeaveTemp(held[i])
		}
	}
}

func putOperands(ops []operand, vals []StackValue, s vm.Sink) {
	for i, op := range ops {
		put(vals[i], op.t, op.kt, s)
	}
}

// zeroValue is the placeholder pushed for an omitted defaulted argument.
func zeroValue(t vm.Type) StackValue {
	return coerced(t, nil, func(s vm.Sink) { vm.PushDefault(s, t) })
}

// argumentOperands builds the operands of fn's value parameters, in
// parameter order, and the default mask. given overrides the leading
// arguments with prepared values.
func (t *Translator) argumentOperands(call *binding.ResolvedCall, fn *binding.Function, given []StackValue) ([]operand, []int32) {
	var ops []operand
	var masks []int32
	for i, p := range fn.Params {
		pt := types.Map(p.Type)
		if i < len(given) && given[i] != nil {
			ops = append(ops, operand{val: given[i], t: pt, kt: p.Type})
			continue
		}
		a := argAt(call, i)
		switch {
		case a == nil || a.Kind == binding.ArgumentDefault:
			if !p.HasDefault {
				internalf(nil, "no value for parameter %s of %s", p.Name, fn.Name)
			}
			if masks == nil {
				masks = make([]int32, maskCount(fn))
			}
			masks[i/32] |= 1 << (i % 32)
			ops = append(ops, operand{val: zeroValue(pt), t: pt, kt: p.Type, pure: true})
		case a.Kind == binding.ArgumentVararg:
			tries := false
			for _, el := range a.Elements {
				tries = tries || containsTry(el.Expr)
			}
			ops = append(ops, operand{val: t.varargValue(p.Type, a), t: pt, kt: p.Type, tries: tries})
		default:
			ops = append(ops, t.exprOperand(a.Expr, pt, p.Type))
		}
	}
	return ops, masks
}

// evalOrder lists operand indices in evaluation order: receivers first,
// then arguments as they appear in source.
func evalOrder(nrecv int, call *binding.ResolvedCall, nops int) []int {
	if call == nil || call.SourceOrder == nil {
		return nil
	}
	order := make([]int, 0, nops)
	seen := make([]bool, nops)
	for i := 0; i < nrecv; i++ {
		order = append(order, i)
		seen[i] = true
	}
	for _, p := range call.SourceOrder {
		if i := nrecv + p; i < nops && !seen[i] {
			order = append(order, i)
			seen[i] = true
		}
	}
	for i := range seen {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// invoke calls the resolved callee. dispatch and ext override the resolved
// receivers; nil means evaluate them from the call.
func (t *Translator) invoke(n ast.Node, call *binding.ResolvedCall, dispatch, ext StackValue) StackValue {
	return t.invokeWith(n, call, dispatch, ext, nil)
}

// invokeWith is invoke with the leading arguments already prepared.
func (t *Translator) invokeWith(n ast.Node, call *binding.ResolvedCall, dispatch, ext StackValue, args []StackValue) StackValue {
	if call == nil || call.Function() == nil {
		internalf(n, "call has no function callee")
	}
	fn := call.Function()
	if fn.Intrinsic != binding.IntrinsicNone {
		if v := t.genIntrinsic(n, call, fn, dispatch, ext, args); v != nil {
			return v
		}
	}
	if fn.Kind == binding.FunctionConstructor {
		internalf(n, "constructor %s invoked as a method", fn.Owner.Name)
	}
	defaults := fn.HasDefaults() && needsDefaults(call, fn)
	m := t.methodFor(fn, call.Super, defaults)
	if dispatch != nil && !m.hasDispatch && fn.Receiver != nil && ext == nil {
		dispatch, ext = nil, dispatch
	}
	t.propagateReified(call, fn)

	retT := m.mt.Return
	retK := fn.Return
	if retT.Sort != vm.SortVoid && !types.Map(retK).Equal(retT) {
		retK = nil
	}
	return coerced(retT, retK, func(s vm.Sink) {
		var ops []operand
		if m.hasDispatch {
			dv := dispatch
			if dv == nil {
				dv = t.dispatchValue(n, call, fn)
			}
			ops = append(ops, t.receiverOperand(dv, call.Dispatch, m.dispT, dispatchKType(fn, call)))
		}
		if fn.Receiver != nil {
			ev := ext
			if ev == nil {
				ev = t.receiverValue(call.Extension, n)
			}
			if ev == nil && !m.hasDispatch {
				ev = t.receiverValue(call.Dispatch, n)
			}
			if ev == nil {
				internalf(n, "extension receiver of %s is missing", fn.Name)
			}
			var r *binding.Receiver
			if ext == nil {
				r = call.Extension
			}
			ops = append(ops, t.receiverOperand(ev, r, types.Map(fn.Receiver), fn.Receiver))
		}
		nrecv := len(ops)
		argOps, masks := t.argumentOperands(call, fn, args)
		ops = append(ops, argOps...)
		vals, release := t.prepareOperands(ops, evalOrder(nrecv, call, len(ops)))

		if fn.Inline && t.cfg.Inliner != nil && t.cfg.Inliner.InlineCall(s, fn, vals) {
			release()
			return
		}
		putOperands(ops, vals, s)
		release()
		if defaults {
			for _, mask := range masks {
				vm.IConst(s, mask)
			}
			s.Insn(vm.OpACONST_NULL)
		}
		t.emitInvoke(fn, m, s)
	})
}

// emitInvoke emits the call instruction, preceded by the continuation of a
// suspend callee and bracketed by the suspension or inline markers.
func (t *Translator) emitInvoke(fn *binding.Function, m *methodRef, s vm.Sink) {
	if fn.Suspend {
		t.putContinuation(s)
		s.Marker(vm.MarkerBeforeSuspendCall)
		m.emit(s)
		s.Marker(vm.MarkerAfterSuspendCall)
		return
	}
	if fn.Inline && t.cfg.Inline {
		s.Marker(vm.MarkerBeforeInlineCall)
		m.emit(s)
		s.Marker(vm.MarkerAfterInlineCall)
		return
	}
	m.emit(s)
}

// putContinuation pushes the continuation of the suspend function or
// suspend lambda being generated.
func (t *Translator) putContinuation(s vm.Sink) {
	switch {
	case t.contSlot >= 0:
		vm.Load(s, t.contSlot, vm.ObjectOf(continuationClass))
	case t.closure != nil && t.closure.Continuation:
		s.VarInsn(vm.OpALOAD, 0)
	default:
		internalf(nil, "suspend call outside a suspend function")
	}
}

// dispatchValue finds the dispatch receiver of a member call that did not
// get one passed in.
func (t *Translator) dispatchValue(n ast.Node, call *binding.ResolvedCall, fn *binding.Function) StackValue {
	if fn.Kind == binding.FunctionLocal {
		return t.localFunctionValue(fn, n)
	}
	if v := t.receiverValue(call.Dispatch, n); v != nil {
		return v
	}
	return t.genThis(fn.Owner, n)
}

func dispatchKType(fn *binding.Function, call *binding.ResolvedCall) *types.Type {
	if fn.Owner != nil && fn.Owner.Kind == binding.ClassInline {
		return classKType(fn.Owner)
	}
	if call.Dispatch != nil && call.Dispatch.Type != nil {
		return call.Dispatch.Type.NotNull()
	}
	return nil
}

// receiverOperand wraps a receiver value; implicit receivers are plain
// loads.
func (t *Translator) receiverOperand(v StackValue, r *binding.Receiver, vt vm.Type, kt *types.Type) operand {
	if r != nil && r.Kind == binding.ReceiverExpression {
		op := t.exprOperand(r.Expr, vt, kt)
		op.val = v
		return op
	}
	return operand{val: v, t: vt, kt: kt, pure: true}
}

// propagateReified records reified parameters of this function passed on
// as reified type arguments.
func (t *Translator) propagateReified(call *binding.ResolvedCall, fn *binding.Function) {
	for _, tp := range fn.TypeParams {
		if !tp.Reified {
			continue
		}
		if ta := call.TypeArgs[tp.Name]; ta != nil && ta.Kind == types.KindTypeParam && ta.Reified {
			t.reified[ta.Name] = true
		}
	}
}

// ---------------------------------------------------------------------------
// Varargs
// ---------------------------------------------------------------------------

var spreadBuilders = map[vm.Sort]string{
	vm.SortBoolean: "kotlin/jvm/internal/BooleanSpreadBuilder",
	vm.SortChar:    "kotlin/jvm/internal/CharSpreadBuilder",
	vm.SortByte:    "kotlin/jvm/internal/ByteSpreadBuilder",
	vm.SortShort:   "kotlin/jvm/internal/ShortSpreadBuilder",
	vm.SortInt:     "kotlin/jvm/internal/IntSpreadBuilder",
	vm.SortLong:    "kotlin/jvm/internal/LongSpreadBuilder",
	vm.SortFloat:   "kotlin/jvm/internal/FloatSpreadBuilder",
	vm.SortDouble:  "kotlin/jvm/internal/DoubleSpreadBuilder",
}

// varargValue builds the array passed to a vararg parameter of type ak. A
// single spread of a fresh array is passed as is, a single spread of any
// other array is copied, and mixed elements go through a spread builder.
func (t *Translator) varargValue(ak *types.Type, a *binding.Argument) StackValue {
	at := types.Map(ak)
	et := *at.Elem
	ek := ak.Elem
	return coerced(at, ak, func(s vm.Sink) {
		exprs := make([]ast.Expr, len(a.Elements))
		spread := false
		for i, el := range a.Elements {
			exprs[i] = el.Expr
			spread = spread || el.Spread
		}
		vals, release := t.operandValues(exprs)
		defer release()

		switch {
		case !spread:
			vm.IConst(s, int32(len(vals)))
			vm.NewArray(s, et)
			for i, v := range vals {
				s.Insn(vm.OpDUP)
				vm.IConst(s, int32(i))
				put(v, et, ek, s)
				s.Insn(et.Opcode(vm.OpIASTORE))
			}

		case len(vals) == 1:
			put(vals[0], at, ak, s)
			if t.isFreshArray(exprs[0]) {
				return
			}
			ct := at
			if !et.IsPrimitive() {
				ct = vm.ArrayOf(vm.ObjectType)
			}
			s.Insn(vm.OpDUP)
			s.Insn(vm.OpARRAYLENGTH)
			s.MethodInsn(vm.OpINVOKESTATIC, "java/util/Arrays", "copyOf", "("+ct.Descriptor()+"I)"+ct.Descriptor(), false)
			castIfNeeded(ct, at, s)

		default:
			builder, prim := spreadBuilders[et.Sort]
			if !prim {
				builder = "kotlin/jvm/internal/SpreadBuilder"
			}
			vm.New(s, builder)
			vm.IConst(s, int32(len(vals)))
			s.MethodInsn(vm.OpINVOKESPECIAL, builder, "<init>", "(I)V", false)
			for i, v := range vals {
				s.Insn(vm.OpDUP)
				if a.Elements[i].Spread {
					put(v, vm.ObjectType, nil, s)
					s.MethodInsn(vm.OpINVOKEVIRTUAL, builder, "addSpread", "(Ljava/lang/Object;)V", false)
					continue
				}
				addT := vm.ObjectType
				if prim {
					addT = et
				}
				put(v, addT, ek, s)
				s.MethodInsn(vm.OpINVOKEVIRTUAL, builder, "add", "("+addT.Descriptor()+")V", false)
			}
			if prim {
				s.MethodInsn(vm.OpINVOKEVIRTUAL, builder, "toArray", "()"+at.Descriptor(), false)
				return
			}
			vm.IConst(s, 0)
			vm.NewArray(s, et)
			s.MethodInsn(vm.OpINVOKEVIRTUAL, builder, "toArray", "([Ljava/lang/Object;)[Ljava/lang/Object;", false)
			castIfNeeded(vm.ArrayOf(vm.ObjectType), at, s)
		}
	})
}

// isFreshArray reports whether e allocates a new array nobody else holds.
func (t *Translator) isFreshArray(e ast.Expr) bool {
	call := t.bc.ResolvedCallOf(e)
	if call == nil {
		if d, ok := e.(*ast.Dot); ok && !d.Safe {
			return t.isFreshArray(d.Sel)
		}
		return false
	}
	fn := call.Function()
	return fn != nil && fn.Intrinsic == binding.IntrinsicArrayOf
}

// ---------------------------------------------------------------------------
// Intrinsics
// ---------------------------------------------------------------------------

// genIntrinsic emits callees with built-in code. It returns nil when the
// call must go through a regular invocation after all.
func (t *Translator) genIntrinsic(n ast.Node, call *binding.ResolvedCall, fn *binding.Function, dispatch, ext StackValue, args []StackValue) StackValue {
	recv, recvR := dispatch, (*binding.Receiver)(nil)
	if recv == nil {
		recv = ext
	}
	if recv == nil {
		for _, r := range []*binding.Receiver{call.Dispatch, call.Extension} {
			if v := t.receiverValue(r, n); v != nil {
				recv, recvR = v, r
				break
			}
		}
	}
	recvK := func() *types.Type {
		if recvR != nil && recvR.Type != nil {
			return recvR.Type
		}
		if recv != nil && recv.KType() != nil {
			return recv.KType()
		}
		if fn.Receiver != nil {
			return fn.Receiver
		}
		internalf(n, "%s has no receiver type", fn.Name)
		return nil
	}
	recvOp := func(vt vm.Type, kt *types.Type) operand {
		return t.receiverOperand(recv, recvR, vt, kt)
	}
	argOp := func(i int, vt vm.Type, kt *types.Type) operand {
		if i < len(args) && args[i] != nil {
			return operand{val: args[i], t: vt, kt: kt}
		}
		a := argAt(call, i)
		if a == nil || a.Expr == nil {
			internalf(n, "%s: missing argument %d", fn.Name, i)
		}
		return t.exprOperand(a.Expr, vt, kt)
	}

	switch fn.Intrinsic {
	case binding.IntrinsicArrayOf:
		ak := fn.Return
		if e, ok := n.(ast.Expr); ok {
			ak = t.typeOf(e)
		}
		a := argAt(call, 0)
		if a == nil {
			a = &binding.Argument{Kind: binding.ArgumentVararg}
		}
		return t.varargValue(ak, a)

	case binding.IntrinsicArraySize:
		k := recvK()
		return coerced(vm.IntType, types.Int, func(s vm.Sink) {
			put(recv, types.Map(k), k, s)
			s.Insn(vm.OpARRAYLENGTH)
		})

	case binding.IntrinsicArrayGet, binding.IntrinsicArraySet:
		k := recvK()
		arrT := types.Map(k)
		et := *arrT.Elem
		ops := []operand{recvOp(arrT, k), argOp(0, vm.IntType, types.Int)}
		if fn.Intrinsic == binding.IntrinsicArrayGet {
			return coerced(et, k.Elem, func(s vm.Sink) {
				vals, release := t.prepareOperands(ops, nil)
				putOperands(ops, vals, s)
				release()
				s.Insn(et.Opcode(vm.OpIALOAD))
			})
		}
		ops = append(ops, argOp(1, et, k.Elem))
		return coerced(vm.VoidType, types.Unit, func(s vm.Sink) {
			vals, release := t.prepareOperands(ops, nil)
			putOperands(ops, vals, s)
			release()
			s.Insn(et.Opcode(vm.OpIASTORE))
		})

	case binding.IntrinsicInvoke:
		return t.invokeFunctionValue(n, call, fn, recv, recvR, recvK(), args)

	case binding.IntrinsicRangeTo:
		k := recvK()
		if !k.IsIntegral() || k.Nullable {
			return nil
		}
		ops := []operand{recvOp(vm.IntType, types.Int), argOp(0, vm.IntType, types.Int)}
		return coerced(vm.ObjectOf(intRange), types.Class(intRange), func(s vm.Sink) {
			vals, release := t.prepareOperands(ops, nil)
			vm.New(s, intRange)
			putOperands(ops, vals, s)
			release()
			s.MethodInsn(vm.OpINVOKESPECIAL, intRange, "<init>", "(II)V", false)
		})

	case binding.IntrinsicConvert:
		k := recvK()
		from, to := types.Map(k), types.MapReturn(fn.Return)
		if !from.IsPrimitive() || !to.IsPrimitive() {
			return nil
		}
		return coerced(to, fn.Return, func(s vm.Sink) {
			put(recv, from, k, s)
			convertPrimitive(from, to, s)
		})

	case binding.IntrinsicToString:
		k := recvK()
		return coerced(vm.StringType, types.String, func(s vm.Sink) {
			put(recv, types.Boxed(k), k, s)
			s.MethodInsn(vm.OpINVOKESTATIC, "java/lang/String", "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", false)
		})
	}
	return nil
}

// functionClass returns the FunctionN interface of a function type.
func functionClass(fk *types.Type) (string, int) {
	arity := len(fk.Params)
	if fk.Suspend {
		arity++
	}
	return fmt.Sprintf("kotlin/jvm/functions/Function%d", arity), arity
}

// invokeFunctionValue calls a value of function type through the erased
// invoke of its FunctionN interface.
func (t *Translator) invokeFunctionValue(n ast.Node, call *binding.ResolvedCall, fn *binding.Function, fv StackValue, fr *binding.Receiver, fk *types.Type, args []StackValue) StackValue {
	if fk.Kind != types.KindFunction {
		internalf(n, "invoke on %v, which is not a function type", fk)
	}
	owner, arity := functionClass(fk)
	retK := fk.Return
	retT := vm.ObjectType
	if retK == nil {
		retK = types.Unit
	}
	kt := retK
	if !types.Map(kt).Equal(retT) {
		kt = nil
	}
	return coerced(retT, kt, func(s vm.Sink) {
		ops := []operand{t.receiverOperand(fv, fr, vm.ObjectOf(owner), fk.NotNull())}
		if call.Extension != nil {
			ev := t.receiverValue(call.Extension, n)
			var pk *types.Type
			if len(fk.Params) > 0 {
				pk = fk.Params[0]
			}
			ops = append(ops, t.receiverOperand(ev, call.Extension, vm.ObjectType, pk))
		}
		for i, p := range fn.Params {
			if i < len(args) && args[i] != nil {
				ops = append(ops, operand{val: args[i], t: vm.ObjectType, kt: p.Type})
				continue
			}
			a := argAt(call, i)
			switch {
			case a == nil:
				internalf(n, "function value call is missing argument %d", i)
			case a.Kind == binding.ArgumentVararg:
				ops = append(ops, operand{val: t.varargValue(p.Type, a), t: vm.ObjectType, kt: p.Type})
			default:
				ops = append(ops, t.exprOperand(a.Expr, vm.ObjectType, p.Type))
			}
		}
		vals, release := t.prepareOperands(ops, evalOrder(1, call, len(ops)))
		putOperands(ops, vals, s)
		release()
		params := make([]vm.Type, arity)
		for i := range params {
			params[i] = vm.ObjectType
		}
		m := &methodRef{
			op:    vm.OpINVOKEINTERFACE,
			owner: owner,
			name:  "invoke",
			mt:    vm.MethodType{Params: params, Return: vm.ObjectType},
			itf:   true,
		}
		if fk.Suspend {
			t.putContinuation(s)
			s.Marker(vm.MarkerBeforeSuspendCall)
			m.emit(s)
			s.Marker(vm.MarkerAfterSuspendCall)
			return
		}
		m.emit(s)
	})
}

// ---------------------------------------------------------------------------
// Call expressions
// ---------------------------------------------------------------------------

// genCall translates a call expression. dispatch, when set, is the already
// evaluated receiver of a qualified call.
func (t *Translator) genCall(n *ast.Call, dispatch StackValue) StackValue {
	call := t.bc.ResolvedCallOf(n)
	if call == nil {
		internalf(n, "call is unresolved")
	}
	fn := call.Function()
	if fn == nil {
		internalf(n, "call of %T is not a function", call.Callee)
	}
	if fn.Kind == binding.FunctionConstructor {
		return t.genConstructorCall(n, call, fn)
	}
	return t.invokeWith(n, call, dispatch, nil, nil)
}

func (t *Translator) genConstructorCall(n ast.Node, call *binding.ResolvedCall, fn *binding.Function) StackValue {
	return t.genConstructorCallWith(n, call, fn, nil)
}

// genConstructorCallWith allocates and initializes an instance; args
// override the leading arguments. Value class constructors yield the
// unboxed argument.
func (t *Translator) genConstructorCallWith(n ast.Node, call *binding.ResolvedCall, fn *binding.Function, args []StackValue) StackValue {
	cls := fn.Owner
	if cls.Kind == binding.ClassInline {
		u := thisType(cls)
		return coerced(u, classKType(cls), func(s vm.Sink) {
			ops, _ := t.argumentOperands(call, fn, args)
			if len(ops) != 1 {
				internalf(n, "value class %s takes one argument", cls.Name)
			}
			vals, release := t.prepareOperands(ops, nil)
			putOperands(ops, vals, s)
			release()
		})
	}
	ct := vm.ObjectOf(cls.Name)
	return coerced(ct, classKType(cls), func(s vm.Sink) {
		prefix, prefixTypes := t.constructorPrefix(cls, n)
		defaults := fn.HasDefaults() && needsDefaults(call, fn)
		m := t.methodFor(fn, false, defaults)
		m.mt.Params = append(append([]vm.Type(nil), prefixTypes...), m.mt.Params...)

		argOps, masks := t.argumentOperands(call, fn, args)
		ops := append(prefix, argOps...)
		vals, release := t.prepareOperands(ops, evalOrder(len(prefix), call, len(ops)))
		vm.New(s, cls.Name)
		putOperands(ops, vals, s)
		release()
		if defaults {
			for _, mask := range masks {
				vm.IConst(s, mask)
			}
			s.Insn(vm.OpACONST_NULL)
		}
		m.emit(s)
	})
}

// constructorPrefix returns the implicit leading constructor arguments of
// cls: its outer instance, the captured extension receiver and captured
// variables of a local class.
func (t *Translator) constructorPrefix(cls *binding.Class, n ast.Node) ([]operand, []vm.Type) {
	var ops []operand
	var ts []vm.Type
	if cls.Inner && cls.Outer != nil {
		ot := thisType(cls.Outer)
		ops = append(ops, operand{val: t.genThis(cls.Outer, n), t: ot, pure: true})
		ts = append(ts, ot)
	}
	if cl := t.u.localClass(cls); cl != nil {
		cops, cts := t.captureOperands(cl, n)
		ops = append(ops, cops...)
		ts = append(ts, cts...)
	}
	return ops, ts
}

// ---------------------------------------------------------------------------
// Qualified access
// ---------------------------------------------------------------------------

// genDot translates x.sel and x?.sel. A safe call evaluates x once; when
// it is null the whole expression is null and sel is skipped. The safe
// calls of a chain a?.b?.c share one null exit and one join.
func (t *Translator) genDot(n *ast.Dot) StackValue {
	if !n.Safe {
		return t.gen(n.Sel)
	}
	vt, kt := t.valueType(n)
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		nullL := s.NewLabel()
		end := s.NewLabel()
		t.safeSegment(n, to, toK, nullL, s)
		vm.Goto(s, end)
		s.Mark(nullL)
		vm.PushDefault(s, to)
		s.Mark(end)
	})
}

// safeSegment leaves n.sel as to on the stack, or jumps to nullL with the
// stack as it was before the chain.
func (t *Translator) safeSegment(n *ast.Dot, to vm.Type, toK *types.Type, nullL vm.Label, s vm.Sink) {
	xt := t.safeReceiver(n, nullL, s)
	put(t.gen(n.Sel), to, toK, s)
	delete(t.cache, n.X)
	t.frame.LeaveTemp(xt)
}

// safeReceiver evaluates the receiver of x?.sel into a temporary cached
// for sel, jumping to nullL when it is null. A safe call as the receiver
// jumps to the same nullL. The caller leaves the temporary.
func (t *Translator) safeReceiver(n *ast.Dot, nullL vm.Label, s vm.Sink) vm.Type {
	xk := t.typeOf(n.X)
	xt := types.Boxed(xk)
	if xk.IsInline() && types.Map(xk).IsReference() {
		xt = types.Map(xk)
	}
	if inner, ok := n.X.(*ast.Dot); ok && inner.Safe {
		t.safeSegment(inner, xt, xk, nullL, s)
	} else {
		t.put(n.X, xt, xk)
	}
	slot := t.frame.EnterTemp(xt)
	vm.Store(s, slot, xt)
	vm.Load(s, slot, xt)
	s.JumpInsn(vm.OpIFNULL, nullL)
	t.cache[n.X] = newLocal(slot, xt, xk.NotNull())
	return xt
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// lateinitField is a lateinit backing field read with a null check.
type lateinitField struct {
	*field
	prop string
}

func (v *lateinitField) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	op := vm.OpGETFIELD
	if v.static {
		op = vm.OpGETSTATIC
	}
	s.FieldInsn(op, v.owner, v.name, v.t)
	ok := s.NewLabel()
	s.Insn(vm.OpDUP)
	s.JumpInsn(vm.OpIFNONNULL, ok)
	s.Ldc(v.prop)
	s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "throwUninitializedPropertyAccessException", "(Ljava/lang/String;)V", false)
	s.Mark(ok)
	coerce(v.t, v.kt, t, kt, s)
}

// genPropertyRef returns the storage of a property: its backing field
// from inside the owning class, otherwise its accessors. receiver, when
// set, overrides the resolved dispatch receiver.
func (t *Translator) genPropertyRef(n ast.Expr, prop *binding.Property, call *binding.ResolvedCall, receiver StackValue) StackValue {
	kt := prop.Type
	vt := types.Map(kt)
	if prop.Const && prop.Value != nil {
		return newConstant(prop.Value, vt, kt)
	}
	owner := prop.OwnerName()
	var dispatchR, extR *binding.Receiver
	if call != nil {
		dispatchR, extR = call.Dispatch, call.Extension
	}

	if prop.Receiver != nil {
		return t.extensionProperty(n, prop, dispatchR, extR, receiver)
	}

	var recv StackValue
	static := prop.IsStatic()
	if !static {
		recv = receiver
		if recv == nil {
			recv = t.receiverValue(dispatchR, n)
		}
		if recv == nil {
			recv = t.genThis(prop.Owner, n)
		}
		if prop.Owner.Kind == binding.ClassInline {
			// The only property of a value class is its unboxed value.
			r := recv
			return coerced(vt, kt, func(s vm.Sink) { put(r, vt, kt, s) })
		}
	}

	if t.className == owner {
		f := newField(owner, prop.Name, vt, kt, static, recv)
		if prop.Lateinit {
			return &lateinitField{f, prop.Name}
		}
		return f
	}

	v := &property{valueBase: valueBase{vt, kt}, name: prop.Name}
	recvT := vm.ObjectOf(owner)
	if !static {
		v.dispatch, v.dispT = recv, recvT
	}
	switch {
	case prop.Private:
		get, set := t.u.propertyAccessors(prop)
		getParams := []vm.Type{}
		if !static {
			getParams = append(getParams, recvT)
		}
		v.getter = &accessor{op: vm.OpINVOKESTATIC, owner: owner, name: get,
			desc: vm.MethodType{Params: getParams, Return: vt}.Descriptor()}
		if prop.Mutable {
			v.setter = &accessor{op: vm.OpINVOKESTATIC, owner: owner, name: set,
				desc: vm.MethodType{Params: append(getParams, vt), Return: vm.VoidType}.Descriptor()}
		}
	default:
		op := vm.OpINVOKEVIRTUAL
		itf := false
		switch {
		case static:
			op = vm.OpINVOKESTATIC
		case prop.Owner.Kind == binding.ClassInterface:
			op, itf = vm.OpINVOKEINTERFACE, true
		}
		v.getter = &accessor{op: op, owner: owner, name: "get" + capitalize(prop.Name),
			desc: vm.MethodType{Return: vt}.Descriptor(), itf: itf}
		if prop.Mutable {
			v.setter = &accessor{op: op, owner: owner, name: "set" + capitalize(prop.Name),
				desc: vm.MethodType{Params: []vm.Type{vt}, Return: vm.VoidType}.Descriptor(), itf: itf}
		}
	}
	return v
}

// extensionProperty accesses an extension property through its static
// accessors in the declaring facade, or member accessors when declared in
// a class.
func (t *Translator) extensionProperty(n ast.Expr, prop *binding.Property, dispatchR, extR *binding.Receiver, receiver StackValue) StackValue {
	kt := prop.Type
	vt := types.Map(kt)
	et := types.Map(prop.Receiver)
	v := &property{valueBase: valueBase{vt, kt}, name: prop.Name, extT: et}
	v.extension = receiver
	if v.extension == nil {
		v.extension = t.receiverValue(extR, n)
	}
	if v.extension == nil {
		internalf(n, "extension property %s has no receiver", prop.Name)
	}
	op := vm.OpINVOKESTATIC
	owner := prop.OwnerName()
	if prop.Owner != nil && !prop.Owner.IsSingleton() {
		op = vm.OpINVOKEVIRTUAL
		v.dispT = vm.ObjectOf(owner)
		v.dispatch = t.receiverValue(dispatchR, n)
		if v.dispatch == nil {
			v.dispatch = t.genThis(prop.Owner, n)
		}
	}
	v.getter = &accessor{op: op, owner: owner, name: "get" + capitalize(prop.Name),
		desc: vm.MethodType{Params: []vm.Type{et}, Return: vt}.Descriptor()}
	if prop.Mutable {
		v.setter = &accessor{op: op, owner: owner, name: "set" + capitalize(prop.Name),
			desc: vm.MethodType{Params: []vm.Type{et, vt}, Return: vm.VoidType}.Descriptor()}
	}
	return v
}
