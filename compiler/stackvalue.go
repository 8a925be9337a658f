package compiler

import (
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// StackValue: a typed value not yet materialized
// ---------------------------------------------------------------------------

// StackValue describes how to produce, and for assignable variants how to
// overwrite, a value. Producing it is split in two: PutReceiver emits the
// side effects that locate the value (an object, an array and index) and
// PutSelector reads the value given the located receiver. A read-modify-
// write emits the receiver once, duplicates it with DupReceiver and then
// runs PutSelector and StoreSelector against the two copies.
type StackValue interface {
	Type() vm.Type
	KType() *types.Type

	// ReceiverSize is the number of stack words PutReceiver leaves.
	ReceiverSize() int
	PutReceiver(s vm.Sink)
	DupReceiver(s vm.Sink)

	// PutSelector consumes the receiver and leaves the value coerced to t.
	PutSelector(t vm.Type, kt *types.Type, s vm.Sink)

	// StoreSelector consumes the receiver and a value of Type() above it.
	StoreSelector(s vm.Sink)
}

// put emits v as a value of type t.
func put(v StackValue, t vm.Type, kt *types.Type, s vm.Sink) {
	v.PutReceiver(s)
	v.PutSelector(t, kt, s)
}

// putOwn emits v as its own type.
func putOwn(v StackValue, s vm.Sink) {
	put(v, v.Type(), v.KType(), s)
}

// store writes value into target.
func store(target, value StackValue, s vm.Sink) {
	target.PutReceiver(s)
	put(value, target.Type(), target.KType(), s)
	target.StoreSelector(s)
}

// storeTop writes the value of type t already on top of the stack into a
// target whose receiver is empty.
func storeTop(target StackValue, t vm.Type, kt *types.Type, s vm.Sink) {
	if target.ReceiverSize() != 0 {
		internalf(nil, "store of stack top into a value with a %d-word receiver", target.ReceiverSize())
	}
	coerce(t, kt, target.Type(), target.KType(), s)
	target.StoreSelector(s)
}

func dupWords(n int, s vm.Sink) {
	switch n {
	case 0:
	case 1:
		s.Insn(vm.OpDUP)
	case 2:
		s.Insn(vm.OpDUP2)
	default:
		internalf(nil, "cannot duplicate a %d-word receiver", n)
	}
}

// valueBase supplies the behavior of values without a receiver.
type valueBase struct {
	t  vm.Type
	kt *types.Type
}

func (v *valueBase) Type() vm.Type         { return v.t }
func (v *valueBase) KType() *types.Type    { return v.kt }
func (v *valueBase) ReceiverSize() int     { return 0 }
func (v *valueBase) PutReceiver(vm.Sink)   {}
func (v *valueBase) DupReceiver(vm.Sink)   {}
func (v *valueBase) StoreSelector(vm.Sink) { internalf(nil, "value of type %v is not assignable", v.t) }

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

type constant struct {
	valueBase
	value any
}

func newConstant(value any, t vm.Type, kt *types.Type) *constant {
	return &constant{valueBase{t, kt}, value}
}

func (v *constant) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	if v.value == nil {
		if t.Sort == vm.SortVoid {
			return
		}
		if t.IsPrimitive() {
			internalf(nil, "null constant put as %v", t)
		}
		s.Insn(vm.OpACONST_NULL)
		return
	}
	if t.Sort == vm.SortVoid {
		return
	}
	own := v.t
	switch x := v.value.(type) {
	case bool:
		if x {
			vm.IConst(s, 1)
		} else {
			vm.IConst(s, 0)
		}
		own = vm.BooleanType
	case int32:
		// Folding a numeric constant straight into a primitive target avoids
		// the conversion instruction.
		switch {
		case t.Sort == vm.SortLong:
			vm.LConst(s, int64(x))
			return
		case t.Sort == vm.SortDouble:
			vm.DConst(s, float64(x))
			return
		case t.Sort == vm.SortFloat:
			vm.FConst(s, float32(x))
			return
		}
		vm.IConst(s, x)
		if !own.IsIntLike() {
			own = vm.IntType
		}
	case int64:
		vm.LConst(s, x)
		own = vm.LongType
	case float32:
		vm.FConst(s, x)
		own = vm.FloatType
	case float64:
		vm.DConst(s, x)
		own = vm.DoubleType
	case string:
		s.Ldc(x)
		own = vm.StringType
	default:
		internalf(nil, "unsupported constant %T", v.value)
	}
	ownK := v.kt
	if ownK != nil && ownK.Nullable {
		ownK = ownK.NotNull()
	}
	coerce(own, ownK, t, kt, s)
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

type local struct {
	valueBase
	slot int
}

func newLocal(slot int, t vm.Type, kt *types.Type) *local {
	return &local{valueBase{t, kt}, slot}
}

func (v *local) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	if t.Sort == vm.SortVoid {
		return
	}
	vm.Load(s, v.slot, v.t)
	coerce(v.t, v.kt, t, kt, s)
}

func (v *local) StoreSelector(s vm.Sink) {
	vm.Store(s, v.slot, v.t)
}

// lateinitLocal throws UninitializedPropertyAccessException when read
// before its first assignment.
type lateinitLocal struct {
	local
	name string
}

func (v *lateinitLocal) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	vm.Load(s, v.slot, v.t)
	ok := s.NewLabel()
	s.Insn(vm.OpDUP)
	s.JumpInsn(vm.OpIFNONNULL, ok)
	s.Ldc(v.name)
	s.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "throwUninitializedPropertyAccessException", "(Ljava/lang/String;)V", false)
	s.Mark(ok)
	coerce(v.t, v.kt, t, kt, s)
}

// ---------------------------------------------------------------------------
// Shared variables: mutable locals captured by closures live in Ref cells
// ---------------------------------------------------------------------------

// refCells maps an element sort to its Ref cell class.
var refCells = map[vm.Sort]string{
	vm.SortBoolean: "kotlin/jvm/internal/Ref$BooleanRef",
	vm.SortChar:    "kotlin/jvm/internal/Ref$CharRef",
	vm.SortByte:    "kotlin/jvm/internal/Ref$ByteRef",
	vm.SortShort:   "kotlin/jvm/internal/Ref$ShortRef",
	vm.SortInt:     "kotlin/jvm/internal/Ref$IntRef",
	vm.SortLong:    "kotlin/jvm/internal/Ref$LongRef",
	vm.SortFloat:   "kotlin/jvm/internal/Ref$FloatRef",
	vm.SortDouble:  "kotlin/jvm/internal/Ref$DoubleRef",
}

// refCell returns the Ref class holding values of t and its element type.
func refCell(t vm.Type) (vm.Type, vm.Type) {
	if name, ok := refCells[t.Sort]; ok {
		return vm.ObjectOf(name), t
	}
	return vm.ObjectOf("kotlin/jvm/internal/Ref$ObjectRef"), vm.ObjectType
}

type shared struct {
	valueBase
	loadRef func(s vm.Sink)
}

func newShared(t vm.Type, kt *types.Type, loadRef func(s vm.Sink)) *shared {
	return &shared{valueBase{t, kt}, loadRef}
}

func (v *shared) ReceiverSize() int       { return 1 }
func (v *shared) PutReceiver(s vm.Sink)   { v.loadRef(s) }
func (v *shared) DupReceiver(s vm.Sink)   { s.Insn(vm.OpDUP) }

func (v *shared) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	ref, elem := refCell(v.t)
	s.FieldInsn(vm.OpGETFIELD, ref.Name, "element", elem)
	if !elem.Equal(v.t) {
		castIfNeeded(elem, v.t, s)
	}
	coerce(v.t, v.kt, t, kt, s)
}

func (v *shared) StoreSelector(s vm.Sink) {
	ref, elem := refCell(v.t)
	s.FieldInsn(vm.OpPUTFIELD, ref.Name, "element", elem)
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

type field struct {
	valueBase
	owner    string
	name     string
	static   bool
	receiver StackValue // nil for static fields
}

func newField(owner, name string, t vm.Type, kt *types.Type, static bool, receiver StackValue) *field {
	return &field{valueBase{t, kt}, owner, name, static, receiver}
}

func (v *field) ReceiverSize() int {
	if v.static {
		return 0
	}
	return 1
}

func (v *field) PutReceiver(s vm.Sink) {
	if !v.static {
		put(v.receiver, vm.ObjectOf(v.owner), nil, s)
	}
}

func (v *field) DupReceiver(s vm.Sink) { dupWords(v.ReceiverSize(), s) }

func (v *field) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	op := vm.OpGETFIELD
	if v.static {
		op = vm.OpGETSTATIC
	}
	s.FieldInsn(op, v.owner, v.name, v.t)
	coerce(v.t, v.kt, t, kt, s)
}

func (v *field) StoreSelector(s vm.Sink) {
	op := vm.OpPUTFIELD
	if v.static {
		op = vm.OpPUTSTATIC
	}
	s.FieldInsn(op, v.owner, v.name, v.t)
}

// ---------------------------------------------------------------------------
// Properties read and written through accessor methods
// ---------------------------------------------------------------------------

// accessor is one resolved getter or setter invocation.
type accessor struct {
	op    vm.Opcode
	owner string
	name  string
	desc  string
	itf   bool
}

func (a *accessor) emit(s vm.Sink) {
	s.MethodInsn(a.op, a.owner, a.name, a.desc, a.itf)
}

type property struct {
	valueBase
	name      string
	getter    *accessor
	setter    *accessor
	dispatch  StackValue
	extension StackValue
	dispT     vm.Type
	extT      vm.Type
}

func (v *property) ReceiverSize() int {
	n := 0
	if v.dispatch != nil {
		n += v.dispT.Size()
	}
	if v.extension != nil {
		n += v.extT.Size()
	}
	return n
}

func (v *property) PutReceiver(s vm.Sink) {
	if v.dispatch != nil {
		put(v.dispatch, v.dispT, nil, s)
	}
	if v.extension != nil {
		put(v.extension, v.extT, v.extension.KType(), s)
	}
}

func (v *property) DupReceiver(s vm.Sink) { dupWords(v.ReceiverSize(), s) }

func (v *property) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	if v.getter == nil {
		internalf(nil, "property %s has no getter", v.name)
	}
	v.getter.emit(s)
	ret := vm.MustMethodType(v.getter.desc).Return
	if !ret.Equal(v.t) {
		castIfNeeded(ret, v.t, s)
	}
	coerce(v.t, v.kt, t, kt, s)
}

func (v *property) StoreSelector(s vm.Sink) {
	if v.setter == nil {
		internalf(nil, "property %s is not assignable", v.name)
	}
	v.setter.emit(s)
}

// ---------------------------------------------------------------------------
// Array elements
// ---------------------------------------------------------------------------

type arrayElement struct {
	valueBase
	array StackValue
	index StackValue
	arrT  vm.Type
}

func newArrayElement(array, index StackValue, arrT vm.Type, kt *types.Type) *arrayElement {
	return &arrayElement{valueBase{*arrT.Elem, kt}, array, index, arrT}
}

func (v *arrayElement) ReceiverSize() int { return 2 }

func (v *arrayElement) PutReceiver(s vm.Sink) {
	put(v.array, v.arrT, nil, s)
	put(v.index, vm.IntType, types.Int, s)
}

func (v *arrayElement) DupReceiver(s vm.Sink) { s.Insn(vm.OpDUP2) }

func (v *arrayElement) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	s.Insn(v.t.Opcode(vm.OpIALOAD))
	coerce(v.t, v.kt, t, kt, s)
}

func (v *arrayElement) StoreSelector(s vm.Sink) {
	s.Insn(v.t.Opcode(vm.OpIASTORE))
}

// ---------------------------------------------------------------------------
// Computed values
// ---------------------------------------------------------------------------

// operation emits its code when put. The generator receives the target
// type so branches can coerce directly into it.
type operation struct {
	valueBase
	gen func(t vm.Type, kt *types.Type, s vm.Sink)
}

func newOperation(t vm.Type, kt *types.Type, gen func(t vm.Type, kt *types.Type, s vm.Sink)) *operation {
	return &operation{valueBase{t, kt}, gen}
}

func (v *operation) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	v.gen(t, kt, s)
}

// coerced wraps a generator that leaves a value of its own type.
func coerced(t vm.Type, kt *types.Type, gen func(s vm.Sink)) *operation {
	return newOperation(t, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		gen(s)
		coerce(t, kt, to, toK, s)
	})
}

// onStack is a value already on the operand stack.
type onStack struct {
	valueBase
}

func newOnStack(t vm.Type, kt *types.Type) *onStack {
	return &onStack{valueBase{t, kt}}
}

func (v *onStack) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	coerce(v.t, v.kt, t, kt, s)
}

// unitValue is the value of statements and declarations.
func unitValue() StackValue {
	return newOperation(vm.VoidType, types.Unit, func(t vm.Type, kt *types.Type, s vm.Sink) {
		coerce(vm.VoidType, types.Unit, t, kt, s)
	})
}

// nothingValue is the value of an expression that never completes
// normally; gen emits the transfer of control.
func nothingValue(gen func(s vm.Sink)) StackValue {
	return newOperation(vm.VoidType, types.Nothing, func(t vm.Type, kt *types.Type, s vm.Sink) {
		gen(s)
		coerce(vm.VoidType, types.Nothing, t, kt, s)
	})
}

// ---------------------------------------------------------------------------
// Complex receivers
// ---------------------------------------------------------------------------

// complexValue evaluates the receiver of target once and serves a read
// followed by a write. The caller emits PutReceiver once; the read
// duplicates the receiver and the write consumes the original.
type complexValue struct {
	StackValue
	receiverPut bool
}

func newComplex(target StackValue) *complexValue {
	return &complexValue{StackValue: target}
}

// PutReceiver emits the receiver and keeps a copy for the later write.
func (v *complexValue) PutReceiver(s vm.Sink) {
	if v.receiverPut {
		internalf(nil, "complex receiver evaluated twice")
	}
	v.receiverPut = true
	v.StackValue.PutReceiver(s)
	v.StackValue.DupReceiver(s)
}

// ---------------------------------------------------------------------------
// Delegated locals
// ---------------------------------------------------------------------------

// delegated reads and writes a local delegated property through the
// delegate's getValue/setValue, passing a null thisRef and a reference
// describing the variable.
type delegated struct {
	valueBase
	name     string
	delegate StackValue
	getter   *accessor
	setter   *accessor
}

func (v *delegated) ReceiverSize() int { return 3 }

func (v *delegated) PutReceiver(s vm.Sink) {
	put(v.delegate, v.delegate.Type(), v.delegate.KType(), s)
	s.Insn(vm.OpACONST_NULL)
	vm.New(s, "kotlin/jvm/internal/LocalVariableReference")
	s.Ldc(v.name)
	s.MethodInsn(vm.OpINVOKESPECIAL, "kotlin/jvm/internal/LocalVariableReference", "<init>", "(Ljava/lang/String;)V", false)
}

// DupReceiver re-emits the receiver: the delegate is a local load, and the
// metadata reference carries no identity.
func (v *delegated) DupReceiver(s vm.Sink) {
	v.PutReceiver(s)
}

func (v *delegated) PutSelector(t vm.Type, kt *types.Type, s vm.Sink) {
	v.getter.emit(s)
	ret := vm.MustMethodType(v.getter.desc).Return
	castIfNeeded(ret, v.t, s)
	coerce(v.t, v.kt, t, kt, s)
}

func (v *delegated) StoreSelector(s vm.Sink) {
	if v.setter == nil {
		internalf(nil, "delegated %s has no setValue", v.name)
	}
	param := vm.MustMethodType(v.setter.desc).Params[2]
	coerce(v.t, v.kt, param, nil, s)
	v.setter.emit(s)
	if r := vm.MustMethodType(v.setter.desc).Return; r.Sort != vm.SortVoid {
		vm.Pop(s, r)
	}
}
