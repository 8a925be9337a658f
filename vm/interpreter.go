package vm

import (
	"fmt"
	"io"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// Runtime values
// ---------------------------------------------------------------------------

// Values manipulated by the interpreter are plain Go values: int32 (for
// int, boolean, char, byte and short), int64, float32, float64, string,
// nil, *Object and *Array.

// Object is a heap object. Boxed primitives, builtin collections and
// exceptions keep their payload in Native.
type Object struct {
	Class  string
	Fields map[string]any
	Native any

	hash uint32
}

// NewObject allocates an instance of class.
func NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]any)}
}

// Array is a heap array.
type Array struct {
	Elem Type
	Data []any
}

// wideTop occupies the upper word of a long or double on the stack and in
// locals so that word-oriented instructions (DUP2, POP2) behave.
type wideTop struct{}

// Thrown carries a thrown exception object through Go call frames.
type Thrown struct {
	Exception *Object
}

func (t *Thrown) Error() string {
	if msg, ok := t.Exception.Fields["message"].(string); ok {
		return fmt.Sprintf("%s: %s", t.Exception.Class, msg)
	}
	return t.Exception.Class
}

// NewThrowable creates an exception object of class with message.
func NewThrowable(class, message string) *Object {
	o := NewObject(class)
	o.Fields["message"] = message
	return o
}

// Raise returns a Thrown error for class and message.
func Raise(class, message string) error {
	return &Thrown{Exception: NewThrowable(class, message)}
}

// Native implements a method in Go. Receivers come first in args.
type Native func(in *Interpreter, args []any) (any, error)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter executes compiled methods. It exists to check generated code
// behaviourally; it performs no verification beyond what execution needs.
type Interpreter struct {
	Classes  map[string]*Class
	Natives  map[string]Native
	Statics  map[string]any
	Stdout   io.Writer
	MaxDepth int

	depth       int
	initialized map[string]bool
}

// NewInterpreter creates an interpreter preloaded with the builtin runtime
// and the given classes.
func NewInterpreter(classes ...*Class) *Interpreter {
	in := &Interpreter{
		Classes:  make(map[string]*Class),
		Natives:  make(map[string]Native),
		Statics:  make(map[string]any),
		Stdout:   os.Stdout,
		MaxDepth: 512,

		initialized: make(map[string]bool),
	}
	registerBuiltins(in)
	for _, c := range classes {
		in.Classes[c.Name] = c
	}
	return in
}

// AddClass makes c available for execution.
func (in *Interpreter) AddClass(c *Class) {
	in.Classes[c.Name] = c
}

// Register installs a native method implementation.
func (in *Interpreter) Register(owner, name, desc string, fn Native) {
	in.Natives[owner+"."+name+desc] = fn
}

// Invoke calls a static method, or an instance method when the first
// argument is the receiver and the method is not static.
func (in *Interpreter) Invoke(owner, name, desc string, args ...any) (any, error) {
	if err := in.initClass(owner); err != nil {
		return nil, err
	}
	if c, ok := in.Classes[owner]; ok {
		if m := c.Method(name, desc); m != nil {
			return in.call(c, m, args)
		}
	}
	if fn, ok := in.Natives[owner+"."+name+desc]; ok {
		return fn(in, args)
	}
	return nil, fmt.Errorf("vm: no method %s.%s%s", owner, name, desc)
}

// initClass runs the static initializer of a compiled class once, before
// its first static access or instantiation.
func (in *Interpreter) initClass(name string) error {
	if in.initialized[name] {
		return nil
	}
	in.initialized[name] = true
	c, ok := in.Classes[name]
	if !ok {
		return nil
	}
	if c.Super != "" {
		if err := in.initClass(c.Super); err != nil {
			return err
		}
	}
	if m := c.Method("<clinit>", "()V"); m != nil {
		_, err := in.call(c, m, nil)
		return err
	}
	return nil
}

func (in *Interpreter) call(c *Class, m *Method, args []any) (any, error) {
	if in.depth >= in.MaxDepth {
		return nil, Raise("java/lang/StackOverflowError", "")
	}
	in.depth++
	defer func() { in.depth-- }()

	locals := make([]any, max(m.MaxLocals, 1))
	slot := 0
	for _, a := range args {
		locals[slot] = a
		slot++
		if isWide(a) {
			if slot < len(locals) {
				locals[slot] = wideTop{}
			}
			slot++
		}
	}
	f := &frame{interp: in, class: c, method: m, locals: locals}
	return f.run()
}

func isWide(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Frame execution
// ---------------------------------------------------------------------------

type frame struct {
	interp *Interpreter
	class  *Class
	method *Method
	locals []any
	stack  []any
	pc     int
}

func (f *frame) push(v any) {
	f.stack = append(f.stack, v)
	if isWide(v) {
		f.stack = append(f.stack, wideTop{})
	}
}

func (f *frame) pushWord(v any) {
	f.stack = append(f.stack, v)
}

func (f *frame) popWord() any {
	if len(f.stack) == 0 {
		panic(fmt.Sprintf("vm: %s%s: stack underflow at %d", f.method.Name, f.method.Desc, f.pc))
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// pop removes one logical value.
func (f *frame) pop() any {
	v := f.popWord()
	if _, ok := v.(wideTop); ok {
		return f.popWord()
	}
	return v
}

func (f *frame) popInt() int32    { return f.pop().(int32) }
func (f *frame) popLong() int64   { return f.pop().(int64) }
func (f *frame) popFloat() float32 { return f.pop().(float32) }
func (f *frame) popDouble() float64 { return f.pop().(float64) }

func (f *frame) jump(l Label) {
	f.pc = f.method.Labels[l]
}

func (f *frame) run() (result any, err error) {
	code := f.method.Instructions
	for f.pc < len(code) {
		in := code[f.pc]
		f.pc++
		ret, done, err := f.step(in)
		if err != nil {
			thrown, ok := err.(*Thrown)
			if !ok {
				return nil, err
			}
			if !f.handle(thrown, f.pc-1) {
				return nil, err
			}
			continue
		}
		if done {
			return ret, nil
		}
	}
	return nil, fmt.Errorf("vm: %s%s: fell off the end", f.method.Name, f.method.Desc)
}

// handle looks up an exception handler covering pc.
func (f *frame) handle(t *Thrown, pc int) bool {
	for _, tc := range f.method.TryCatch {
		start, end := f.method.Labels[tc.Start], f.method.Labels[tc.End]
		if pc < start || pc >= end {
			continue
		}
		if tc.Exception != "" && !f.interp.isSubclass(t.Exception.Class, tc.Exception) {
			continue
		}
		f.stack = f.stack[:0]
		f.pushWord(t.Exception)
		f.pc = f.method.Labels[tc.Handler]
		return true
	}
	return false
}

func (f *frame) step(in Instruction) (any, bool, error) {
	switch op := in.Op; {
	case op == OpNOP, op == OpMARKER:
	case op == OpACONST_NULL:
		f.pushWord(nil)
	case op >= OpICONST_M1 && op <= OpICONST_5:
		f.push(int32(int(op) - int(OpICONST_0)))
	case op == OpLCONST_0 || op == OpLCONST_1:
		f.push(int64(op - OpLCONST_0))
	case op >= OpFCONST_0 && op <= OpFCONST_2:
		f.push(float32(op - OpFCONST_0))
	case op == OpDCONST_0 || op == OpDCONST_1:
		f.push(float64(op - OpDCONST_0))
	case op == OpBIPUSH || op == OpSIPUSH:
		f.push(int32(in.Operand))
	case op == OpLDC:
		f.push(in.Const)

	case op >= OpILOAD && op <= OpALOAD:
		f.push(f.locals[in.Operand])
	case op >= OpISTORE && op <= OpASTORE:
		v := f.pop()
		f.locals[in.Operand] = v
		if isWide(v) {
			f.locals[in.Operand+1] = wideTop{}
		}
	case op == OpIINC:
		f.locals[in.Operand] = f.locals[in.Operand].(int32) + int32(in.Inc)

	case op >= OpIALOAD && op <= OpSALOAD:
		idx := f.popInt()
		arr, err := f.popArray()
		if err != nil {
			return nil, false, err
		}
		if idx < 0 || int(idx) >= len(arr.Data) {
			return nil, false, Raise("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("Index %d out of bounds for length %d", idx, len(arr.Data)))
		}
		f.push(arr.Data[idx])
	case op >= OpIASTORE && op <= OpSASTORE:
		v := f.pop()
		idx := f.popInt()
		arr, err := f.popArray()
		if err != nil {
			return nil, false, err
		}
		if idx < 0 || int(idx) >= len(arr.Data) {
			return nil, false, Raise("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("Index %d out of bounds for length %d", idx, len(arr.Data)))
		}
		arr.Data[idx] = narrowForArray(arr.Elem, v)

	case op >= OpPOP && op <= OpSWAP:
		f.stackOp(op)

	case op >= OpIADD && op <= OpLXOR:
		return nil, false, f.arith(op)
	case op >= OpI2L && op <= OpI2S:
		f.convert(op)
	case op >= OpLCMP && op <= OpDCMPG:
		f.compare(op)

	case op >= OpIFEQ && op <= OpIFLE:
		v := f.popInt()
		if intCond(op-OpIFEQ, v, 0) {
			f.jump(in.Target)
		}
	case op >= OpIF_ICMPEQ && op <= OpIF_ICMPLE:
		b := f.popInt()
		a := f.popInt()
		if intCond(op-OpIF_ICMPEQ, a, b) {
			f.jump(in.Target)
		}
	case op == OpIF_ACMPEQ || op == OpIF_ACMPNE:
		b := f.pop()
		a := f.pop()
		if identical(a, b) == (op == OpIF_ACMPEQ) {
			f.jump(in.Target)
		}
	case op == OpIFNULL || op == OpIFNONNULL:
		v := f.pop()
		if (v == nil) == (op == OpIFNULL) {
			f.jump(in.Target)
		}
	case op == OpGOTO:
		f.jump(in.Target)
	case op == OpTABLESWITCH:
		key := f.popInt()
		sw := in.Switch
		if key >= sw.Min && key <= sw.Max {
			f.jump(sw.Labels[key-sw.Min])
		} else {
			f.jump(sw.Default)
		}
	case op == OpLOOKUPSWITCH:
		key := f.popInt()
		target := in.Switch.Default
		for i, k := range in.Switch.Keys {
			if k == key {
				target = in.Switch.Labels[i]
				break
			}
		}
		f.jump(target)

	case op == OpRETURN:
		return nil, true, nil
	case op.IsReturn():
		return f.pop(), true, nil

	case op == OpGETSTATIC:
		if err := f.interp.initClass(in.Owner); err != nil {
			return nil, false, err
		}
		v, ok := f.interp.Statics[in.Owner+"."+in.Name]
		if !ok {
			v = f.interp.staticDefault(in.Owner, in.Name, in.Type)
		}
		f.push(v)
	case op == OpPUTSTATIC:
		if in.Owner != f.class.Name {
			if err := f.interp.initClass(in.Owner); err != nil {
				return nil, false, err
			}
		}
		f.interp.Statics[in.Owner+"."+in.Name] = f.pop()
	case op == OpGETFIELD:
		obj, err := f.popObject()
		if err != nil {
			return nil, false, err
		}
		v, ok := obj.Fields[in.Name]
		if !ok {
			v = zeroOf(in.Type)
		}
		f.push(v)
	case op == OpPUTFIELD:
		v := f.pop()
		obj, err := f.popObject()
		if err != nil {
			return nil, false, err
		}
		obj.Fields[in.Name] = v

	case op >= OpINVOKEVIRTUAL && op <= OpINVOKEINTERFACE:
		return nil, false, f.invoke(in)

	case op == OpNEW:
		if err := f.interp.initClass(in.Type.InternalName()); err != nil {
			return nil, false, err
		}
		f.pushWord(NewObject(in.Type.InternalName()))
	case op == OpNEWARRAY || op == OpANEWARRAY:
		n := f.popInt()
		if n < 0 {
			return nil, false, Raise("java/lang/NegativeArraySizeException", fmt.Sprint(n))
		}
		arr := &Array{Elem: in.Type, Data: make([]any, n)}
		for i := range arr.Data {
			arr.Data[i] = zeroOf(in.Type)
		}
		f.pushWord(arr)
	case op == OpARRAYLENGTH:
		arr, err := f.popArray()
		if err != nil {
			return nil, false, err
		}
		f.push(int32(len(arr.Data)))
	case op == OpATHROW:
		v := f.pop()
		exc, ok := v.(*Object)
		if !ok || exc == nil {
			return nil, false, Raise("java/lang/NullPointerException", "throw null")
		}
		return nil, false, &Thrown{Exception: exc}
	case op == OpCHECKCAST:
		v := f.pop()
		if v != nil && !f.interp.InstanceOf(v, in.Type) {
			return nil, false, Raise("java/lang/ClassCastException",
				fmt.Sprintf("%s cannot be cast to %s", f.interp.ClassOf(v), in.Type.InternalName()))
		}
		f.push(v)
	case op == OpINSTANCEOF:
		v := f.pop()
		f.push(boolInt(v != nil && f.interp.InstanceOf(v, in.Type)))
	default:
		return nil, false, fmt.Errorf("vm: unsupported opcode %s", op)
	}
	return nil, false, nil
}

func (f *frame) popArray() (*Array, error) {
	v := f.pop()
	arr, ok := v.(*Array)
	if !ok || arr == nil {
		return nil, Raise("java/lang/NullPointerException", "array is null")
	}
	return arr, nil
}

func (f *frame) popObject() (*Object, error) {
	v := f.pop()
	obj, ok := v.(*Object)
	if !ok || obj == nil {
		return nil, Raise("java/lang/NullPointerException", "receiver is null")
	}
	return obj, nil
}

func (f *frame) stackOp(op Opcode) {
	switch op {
	case OpPOP:
		f.popWord()
	case OpPOP2:
		f.popWord()
		f.popWord()
	case OpDUP:
		v := f.popWord()
		f.pushWord(v)
		f.pushWord(v)
	case OpDUP_X1:
		v1, v2 := f.popWord(), f.popWord()
		f.pushWord(v1)
		f.pushWord(v2)
		f.pushWord(v1)
	case OpDUP_X2:
		v1, v2, v3 := f.popWord(), f.popWord(), f.popWord()
		f.pushWord(v1)
		f.pushWord(v3)
		f.pushWord(v2)
		f.pushWord(v1)
	case OpDUP2:
		v1, v2 := f.popWord(), f.popWord()
		f.pushWord(v2)
		f.pushWord(v1)
		f.pushWord(v2)
		f.pushWord(v1)
	case OpDUP2_X1:
		v1, v2, v3 := f.popWord(), f.popWord(), f.popWord()
		f.pushWord(v2)
		f.pushWord(v1)
		f.pushWord(v3)
		f.pushWord(v2)
		f.pushWord(v1)
	case OpDUP2_X2:
		v1, v2, v3, v4 := f.popWord(), f.popWord(), f.popWord(), f.popWord()
		f.pushWord(v2)
		f.pushWord(v1)
		f.pushWord(v4)
		f.pushWord(v3)
		f.pushWord(v2)
		f.pushWord(v1)
	case OpSWAP:
		v1, v2 := f.popWord(), f.popWord()
		f.pushWord(v1)
		f.pushWord(v2)
	}
}

func (f *frame) arith(op Opcode) error {
	switch op {
	case OpINEG:
		f.push(-f.popInt())
		return nil
	case OpLNEG:
		f.push(-f.popLong())
		return nil
	case OpFNEG:
		f.push(-f.popFloat())
		return nil
	case OpDNEG:
		f.push(-f.popDouble())
		return nil
	case OpISHL, OpISHR, OpIUSHR:
		s := uint32(f.popInt()) & 31
		v := f.popInt()
		switch op {
		case OpISHL:
			f.push(v << s)
		case OpISHR:
			f.push(v >> s)
		default:
			f.push(int32(uint32(v) >> s))
		}
		return nil
	case OpLSHL, OpLSHR, OpLUSHR:
		s := uint64(f.popInt()) & 63
		v := f.popLong()
		switch op {
		case OpLSHL:
			f.push(v << s)
		case OpLSHR:
			f.push(v >> s)
		default:
			f.push(int64(uint64(v) >> s))
		}
		return nil
	}

	// binary ops: kind is the offset within the IADD..DADD group
	kind := (op - OpIADD) % 4
	group := (op - OpIADD) / 4
	if op >= OpIAND {
		kind = (op - OpIAND) % 2
		group = 100 + (op-OpIAND)/2
	}
	switch kind {
	case 0:
		b, a := f.popInt(), f.popInt()
		switch group {
		case 0:
			f.push(a + b)
		case 1:
			f.push(a - b)
		case 2:
			f.push(a * b)
		case 3, 4:
			if b == 0 {
				return Raise("java/lang/ArithmeticException", "/ by zero")
			}
			if group == 3 {
				if a == math.MinInt32 && b == -1 {
					f.push(a)
				} else {
					f.push(a / b)
				}
			} else if b == -1 {
				f.push(int32(0))
			} else {
				f.push(a % b)
			}
		case 100:
			f.push(a & b)
		case 101:
			f.push(a | b)
		case 102:
			f.push(a ^ b)
		}
	case 1:
		b, a := f.popLong(), f.popLong()
		switch group {
		case 0:
			f.push(a + b)
		case 1:
			f.push(a - b)
		case 2:
			f.push(a * b)
		case 3, 4:
			if b == 0 {
				return Raise("java/lang/ArithmeticException", "/ by zero")
			}
			if group == 3 {
				if a == math.MinInt64 && b == -1 {
					f.push(a)
				} else {
					f.push(a / b)
				}
			} else if b == -1 {
				f.push(int64(0))
			} else {
				f.push(a % b)
			}
		case 100:
			f.push(a & b)
		case 101:
			f.push(a | b)
		case 102:
			f.push(a ^ b)
		}
	case 2:
		b, a := f.popFloat(), f.popFloat()
		switch group {
		case 0:
			f.push(a + b)
		case 1:
			f.push(a - b)
		case 2:
			f.push(a * b)
		case 3:
			f.push(a / b)
		case 4:
			f.push(float32(math.Mod(float64(a), float64(b))))
		}
	case 3:
		b, a := f.popDouble(), f.popDouble()
		switch group {
		case 0:
			f.push(a + b)
		case 1:
			f.push(a - b)
		case 2:
			f.push(a * b)
		case 3:
			f.push(a / b)
		case 4:
			f.push(math.Mod(a, b))
		}
	}
	return nil
}

func (f *frame) convert(op Opcode) {
	switch op {
	case OpI2L:
		f.push(int64(f.popInt()))
	case OpI2F:
		f.push(float32(f.popInt()))
	case OpI2D:
		f.push(float64(f.popInt()))
	case OpL2I:
		f.push(int32(f.popLong()))
	case OpL2F:
		f.push(float32(f.popLong()))
	case OpL2D:
		f.push(float64(f.popLong()))
	case OpF2I:
		f.push(int32(floatToLong(float64(f.popFloat()), math.MinInt32, math.MaxInt32)))
	case OpF2L:
		f.push(floatToLong(float64(f.popFloat()), math.MinInt64, math.MaxInt64))
	case OpF2D:
		f.push(float64(f.popFloat()))
	case OpD2I:
		f.push(int32(floatToLong(f.popDouble(), math.MinInt32, math.MaxInt32)))
	case OpD2L:
		f.push(floatToLong(f.popDouble(), math.MinInt64, math.MaxInt64))
	case OpD2F:
		f.push(float32(f.popDouble()))
	case OpI2B:
		f.push(int32(int8(f.popInt())))
	case OpI2C:
		f.push(int32(uint16(f.popInt())))
	case OpI2S:
		f.push(int32(int16(f.popInt())))
	}
}

func floatToLong(v float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}

func (f *frame) compare(op Opcode) {
	switch op {
	case OpLCMP:
		b, a := f.popLong(), f.popLong()
		f.push(cmp3(a < b, a > b))
	case OpFCMPL, OpFCMPG:
		b, a := f.popFloat(), f.popFloat()
		if a != a || b != b {
			if op == OpFCMPL {
				f.push(int32(-1))
			} else {
				f.push(int32(1))
			}
			return
		}
		f.push(cmp3(a < b, a > b))
	case OpDCMPL, OpDCMPG:
		b, a := f.popDouble(), f.popDouble()
		if math.IsNaN(a) || math.IsNaN(b) {
			if op == OpDCMPL {
				f.push(int32(-1))
			} else {
				f.push(int32(1))
			}
			return
		}
		f.push(cmp3(a < b, a > b))
	}
}

func cmp3(lt, gt bool) int32 {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

// intCond evaluates the condition at offset cond from IFEQ (EQ, NE, LT,
// GE, GT, LE).
func intCond(cond Opcode, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func identical(a, b any) bool {
	switch x := a.(type) {
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		return ok && x == y
	}
	return a == b
}

func narrowForArray(elem Type, v any) any {
	i, ok := v.(int32)
	if !ok {
		return v
	}
	switch elem.Sort {
	case SortByte:
		return int32(int8(i))
	case SortChar:
		return int32(uint16(i))
	case SortShort:
		return int32(int16(i))
	case SortBoolean:
		return i & 1
	}
	return i
}

func zeroOf(t Type) any {
	switch t.Sort {
	case SortLong:
		return int64(0)
	case SortFloat:
		return float32(0)
	case SortDouble:
		return float64(0)
	case SortObject, SortArray, SortVoid:
		return nil
	}
	return int32(0)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func (f *frame) invoke(in Instruction) error {
	mt, err := ParseMethodType(in.Desc)
	if err != nil {
		return err
	}
	n := len(mt.Params)
	if in.Op != OpINVOKESTATIC {
		n++
	}
	args := make([]any, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	var result any
	switch in.Op {
	case OpINVOKESTATIC:
		if err := f.interp.initClass(in.Owner); err != nil {
			return err
		}
		result, err = f.interp.invokeExact(in.Owner, in.Name, in.Desc, args)
	case OpINVOKESPECIAL:
		if args[0] == nil {
			return Raise("java/lang/NullPointerException", "invokespecial on null")
		}
		result, err = f.interp.invokeExact(in.Owner, in.Name, in.Desc, args)
	default:
		if args[0] == nil {
			return Raise("java/lang/NullPointerException",
				fmt.Sprintf("Cannot invoke %s.%s() on null", in.Owner, in.Name))
		}
		result, err = f.interp.invokeVirtual(in.Owner, in.Name, in.Desc, args)
	}
	if err != nil {
		return err
	}
	if mt.Return.Sort != SortVoid {
		f.push(coerceReturn(mt.Return, result))
	}
	return nil
}

// coerceReturn normalizes native results to the interpreter's value
// representation for t.
func coerceReturn(t Type, v any) any {
	switch t.Sort {
	case SortBoolean:
		if b, ok := v.(bool); ok {
			return boolInt(b)
		}
	case SortInt, SortChar, SortShort, SortByte:
		if i, ok := v.(int); ok {
			return int32(i)
		}
	}
	return v
}

func (in *Interpreter) invokeExact(owner, name, desc string, args []any) (any, error) {
	if c, ok := in.Classes[owner]; ok {
		if m := c.Method(name, desc); m != nil {
			return in.call(c, m, args)
		}
	}
	if fn, ok := in.Natives[owner+"."+name+desc]; ok {
		return fn(in, args)
	}
	if name == "<init>" {
		return nil, in.defaultInit(owner, desc, args)
	}
	return nil, fmt.Errorf("vm: no method %s.%s%s", owner, name, desc)
}

func (in *Interpreter) invokeVirtual(owner, name, desc string, args []any) (any, error) {
	for class := in.ClassOf(args[0]); class != ""; class = in.superOf(class) {
		if c, ok := in.Classes[class]; ok {
			if m := c.Method(name, desc); m != nil && !m.Static {
				return in.call(c, m, args)
			}
		}
		if fn, ok := in.Natives[class+"."+name+desc]; ok {
			return fn(in, args)
		}
	}
	if fn, ok := in.Natives[owner+"."+name+desc]; ok {
		return fn(in, args)
	}
	if fn, ok := in.Natives["java/lang/Object."+name+desc]; ok {
		return fn(in, args)
	}
	return nil, fmt.Errorf("vm: no method %s.%s%s for receiver %s", owner, name, desc, in.ClassOf(args[0]))
}

// defaultInit runs constructors of classes with no compiled or native
// <init>: throwables keep their message, anything else ignores arguments.
func (in *Interpreter) defaultInit(owner, desc string, args []any) error {
	obj, ok := args[0].(*Object)
	if !ok {
		return fmt.Errorf("vm: <init> on non-object %T", args[0])
	}
	if in.isSubclass(owner, "java/lang/Throwable") && len(args) > 1 {
		if msg, ok := args[1].(string); ok {
			obj.Fields["message"] = msg
		}
	}
	return nil
}

func (in *Interpreter) staticDefault(owner, name string, t Type) any {
	if owner == "kotlin/Unit" && name == "INSTANCE" {
		return unitInstance
	}
	return zeroOf(t)
}

// ---------------------------------------------------------------------------
// Class hierarchy
// ---------------------------------------------------------------------------

// ClassOf returns the runtime class name of v.
func (in *Interpreter) ClassOf(v any) string {
	switch x := v.(type) {
	case *Object:
		return x.Class
	case string:
		return "java/lang/String"
	case *Array:
		return ArrayOf(x.Elem).Descriptor()
	}
	return ""
}

func (in *Interpreter) superOf(class string) string {
	if c, ok := in.Classes[class]; ok {
		return c.Super
	}
	if s, ok := builtinSupers[class]; ok {
		return s
	}
	if class == "java/lang/Object" {
		return ""
	}
	return "java/lang/Object"
}

func (in *Interpreter) interfacesOf(class string) []string {
	if c, ok := in.Classes[class]; ok {
		return c.Interfaces
	}
	return builtinInterfaces[class]
}

func (in *Interpreter) isSubclass(class, target string) bool {
	for c := class; c != ""; c = in.superOf(c) {
		if c == target {
			return true
		}
		for _, itf := range in.interfacesOf(c) {
			if itf == target || in.isSubclass(itf, target) {
				return true
			}
		}
	}
	return false
}

// InstanceOf reports whether non-null v is an instance of t.
func (in *Interpreter) InstanceOf(v any, t Type) bool {
	if arr, ok := v.(*Array); ok {
		if t.Sort == SortArray {
			return arr.Elem.Equal(*t.Elem) || (t.Elem.IsReference() && arr.Elem.IsReference())
		}
		return t.Sort == SortObject && t.Name == "java/lang/Object"
	}
	if t.Sort != SortObject {
		return false
	}
	return in.isSubclass(in.ClassOf(v), t.Name)
}
