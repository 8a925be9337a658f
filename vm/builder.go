package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Label is an opaque jump target issued by a Builder. The zero Label is
// never issued.
type Label struct {
	id int
}

// IsZero reports whether l is the zero Label.
func (l Label) IsZero() bool {
	return l.id == 0
}

// ID returns the number of l, unique within its method.
func (l Label) ID() int { return l.id }

// LabelFor rebuilds the label numbered id, for decoders of stored methods.
func LabelFor(id int) Label { return Label{id: id} }

func (l Label) String() string {
	return fmt.Sprintf("L%d", l.id)
}

// Switch holds the operands of TABLESWITCH/LOOKUPSWITCH.
type Switch struct {
	Min, Max int32   // TABLESWITCH range
	Keys     []int32 // LOOKUPSWITCH keys, ascending
	Labels   []Label
	Default  Label
}

// Instruction is a single emitted instruction.
type Instruction struct {
	Op      Opcode
	Operand int    // BIPUSH/SIPUSH value, local slot, NEWARRAY sort, marker kind
	Inc     int    // IINC increment
	Const   any    // LDC value: int32, int64, float32, float64, string
	Owner   string // field/method owner
	Name    string
	Desc    string
	Itf     bool
	Type    Type // NEW, ANEWARRAY, CHECKCAST, INSTANCEOF, NEWARRAY
	Target  Label
	Switch  *Switch
	Line    int
}

// TryCatch is one exception-table entry. An empty Exception catches any
// throwable.
type TryCatch struct {
	Start, End, Handler Label
	Exception           string
}

// LocalVariable is a debug live range for a named slot.
type LocalVariable struct {
	Name       string
	Type       Type
	Start, End Label
	Slot       int
}

// ---------------------------------------------------------------------------
// Sink: the instruction-emission contract used by code generators
// ---------------------------------------------------------------------------

// Sink receives instructions from a code generator.
type Sink interface {
	NewLabel() Label
	Mark(l Label)
	Insn(op Opcode)
	IntInsn(op Opcode, operand int)
	VarInsn(op Opcode, slot int)
	IInc(slot, delta int)
	Ldc(value any)
	TypeInsn(op Opcode, t Type)
	FieldInsn(op Opcode, owner, name string, t Type)
	MethodInsn(op Opcode, owner, name, desc string, itf bool)
	JumpInsn(op Opcode, l Label)
	TableSwitch(min, max int32, dflt Label, labels ...Label)
	LookupSwitch(dflt Label, keys []int32, labels []Label)
	Marker(kind MarkerKind)
	TryCatchBlock(start, end, handler Label, exception string)
	LocalVariable(name string, t Type, start, end Label, slot int)
	LineNumber(line int)
	Len() int
}

// ---------------------------------------------------------------------------
// Builder: in-memory Sink
// ---------------------------------------------------------------------------

// Builder accumulates instructions for one method body.
type Builder struct {
	insns    []Instruction
	labels   []int // label id -> instruction index; -1 while unresolved
	tryCatch []TryCatch
	locals   []LocalVariable
	line     int
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		insns:  make([]Instruction, 0, 64),
		labels: []int{-1}, // id 0 is reserved
	}
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.insns)
}

// Instructions returns the emitted instructions.
func (b *Builder) Instructions() []Instruction {
	return b.insns
}

func (b *Builder) emit(in Instruction) {
	in.Line = b.line
	b.insns = append(b.insns, in)
}

// NewLabel issues an unresolved label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label{id: len(b.labels) - 1}
}

// Mark binds l to the position of the next instruction.
func (b *Builder) Mark(l Label) {
	if l.id <= 0 || l.id >= len(b.labels) {
		panic(fmt.Sprintf("vm: foreign label %v", l))
	}
	if b.labels[l.id] >= 0 {
		panic(fmt.Sprintf("vm: label %v already marked", l))
	}
	b.labels[l.id] = len(b.insns)
}

// Position returns the instruction index l is bound to, or -1.
func (b *Builder) Position(l Label) int {
	if l.id <= 0 || l.id >= len(b.labels) {
		return -1
	}
	return b.labels[l.id]
}

func (b *Builder) Insn(op Opcode) {
	b.emit(Instruction{Op: op})
}

func (b *Builder) IntInsn(op Opcode, operand int) {
	b.emit(Instruction{Op: op, Operand: operand})
}

func (b *Builder) VarInsn(op Opcode, slot int) {
	b.emit(Instruction{Op: op, Operand: slot})
}

func (b *Builder) IInc(slot, delta int) {
	b.emit(Instruction{Op: OpIINC, Operand: slot, Inc: delta})
}

func (b *Builder) Ldc(value any) {
	b.emit(Instruction{Op: OpLDC, Const: value})
}

func (b *Builder) TypeInsn(op Opcode, t Type) {
	b.emit(Instruction{Op: op, Type: t})
}

func (b *Builder) FieldInsn(op Opcode, owner, name string, t Type) {
	b.emit(Instruction{Op: op, Owner: owner, Name: name, Desc: t.Descriptor(), Type: t})
}

func (b *Builder) MethodInsn(op Opcode, owner, name, desc string, itf bool) {
	b.emit(Instruction{Op: op, Owner: owner, Name: name, Desc: desc, Itf: itf})
}

func (b *Builder) JumpInsn(op Opcode, l Label) {
	b.emit(Instruction{Op: op, Target: l})
}

func (b *Builder) TableSwitch(min, max int32, dflt Label, labels ...Label) {
	b.emit(Instruction{Op: OpTABLESWITCH, Switch: &Switch{Min: min, Max: max, Labels: labels, Default: dflt}})
}

func (b *Builder) LookupSwitch(dflt Label, keys []int32, labels []Label) {
	b.emit(Instruction{Op: OpLOOKUPSWITCH, Switch: &Switch{Keys: keys, Labels: labels, Default: dflt}})
}

func (b *Builder) Marker(kind MarkerKind) {
	b.emit(Instruction{Op: OpMARKER, Operand: int(kind)})
}

func (b *Builder) TryCatchBlock(start, end, handler Label, exception string) {
	b.tryCatch = append(b.tryCatch, TryCatch{Start: start, End: end, Handler: handler, Exception: exception})
}

func (b *Builder) LocalVariable(name string, t Type, start, end Label, slot int) {
	b.locals = append(b.locals, LocalVariable{Name: name, Type: t, Start: start, End: end, Slot: slot})
}

// LineNumber sets the source line attached to subsequent instructions.
func (b *Builder) LineNumber(line int) {
	b.line = line
}

// Method finalizes the builder into a method body. Every referenced label
// must be marked.
func (b *Builder) Method(name, desc string, static bool, maxLocals int) (*Method, error) {
	m := &Method{
		Name:         name,
		Desc:         desc,
		Static:       static,
		Instructions: b.insns,
		Labels:       make(map[Label]int, len(b.labels)),
		TryCatch:     b.tryCatch,
		Locals:       b.locals,
		MaxLocals:    maxLocals,
	}
	for id, pos := range b.labels {
		if id == 0 || pos < 0 {
			continue
		}
		m.Labels[Label{id: id}] = pos
	}
	check := func(l Label) error {
		if _, ok := m.Labels[l]; !ok {
			return fmt.Errorf("vm: %s%s: unmarked label %v", name, desc, l)
		}
		return nil
	}
	for _, in := range b.insns {
		if in.Op.IsJump() {
			if err := check(in.Target); err != nil {
				return nil, err
			}
		}
		if in.Switch != nil {
			if err := check(in.Switch.Default); err != nil {
				return nil, err
			}
			for _, l := range in.Switch.Labels {
				if err := check(l); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, tc := range b.tryCatch {
		for _, l := range []Label{tc.Start, tc.End, tc.Handler} {
			if err := check(l); err != nil {
				return nil, err
			}
		}
	}
	maxStack, err := Analyze(m)
	if err != nil {
		return nil, err
	}
	m.MaxStack = maxStack
	return m, nil
}

// ---------------------------------------------------------------------------
// Typed emission helpers
// ---------------------------------------------------------------------------

// IConst pushes an int constant using the shortest encoding.
func IConst(s Sink, v int32) {
	switch {
	case v >= -1 && v <= 5:
		s.Insn(Opcode(int(OpICONST_0) + int(v)))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		s.IntInsn(OpBIPUSH, int(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		s.IntInsn(OpSIPUSH, int(v))
	default:
		s.Ldc(v)
	}
}

// LConst pushes a long constant.
func LConst(s Sink, v int64) {
	switch v {
	case 0:
		s.Insn(OpLCONST_0)
	case 1:
		s.Insn(OpLCONST_1)
	default:
		s.Ldc(v)
	}
}

// FConst pushes a float constant.
func FConst(s Sink, v float32) {
	if (v == 0 && !math.Signbit(float64(v))) || v == 1 || v == 2 {
		s.Insn(OpFCONST_0 + Opcode(int(v)))
		return
	}
	s.Ldc(v)
}

// DConst pushes a double constant.
func DConst(s Sink, v float64) {
	if (v == 0 && !math.Signbit(v)) || v == 1 {
		s.Insn(OpDCONST_0 + Opcode(int(v)))
		return
	}
	s.Ldc(v)
}

// Load pushes local slot of type t.
func Load(s Sink, slot int, t Type) {
	s.VarInsn(t.Opcode(OpILOAD), slot)
}

// Store pops into local slot of type t.
func Store(s Sink, slot int, t Type) {
	s.VarInsn(t.Opcode(OpISTORE), slot)
}

// Pop discards a value of type t.
func Pop(s Sink, t Type) {
	switch t.Size() {
	case 1:
		s.Insn(OpPOP)
	case 2:
		s.Insn(OpPOP2)
	}
}

// Dup duplicates a value of type t.
func Dup(s Sink, t Type) {
	switch t.Size() {
	case 1:
		s.Insn(OpDUP)
	case 2:
		s.Insn(OpDUP2)
	}
}

// DupX duplicates the top value of type t below a receiver of receiverSize
// words.
func DupX(s Sink, receiverSize int, t Type) {
	switch {
	case t.Size() == 0:
	case receiverSize == 0:
		Dup(s, t)
	case t.Size() == 1 && receiverSize == 1:
		s.Insn(OpDUP_X1)
	case t.Size() == 1 && receiverSize == 2:
		s.Insn(OpDUP_X2)
	case t.Size() == 2 && receiverSize == 1:
		s.Insn(OpDUP2_X1)
	case t.Size() == 2 && receiverSize == 2:
		s.Insn(OpDUP2_X2)
	default:
		panic(fmt.Sprintf("vm: cannot dup %v under %d words", t, receiverSize))
	}
}

// Swap exchanges the top two values, of types below and top.
func Swap(s Sink, top, below Type) {
	switch {
	case top.Size() == 1 && below.Size() == 1:
		s.Insn(OpSWAP)
	case top.Size() == 2 && below.Size() == 1:
		s.Insn(OpDUP2_X1)
		s.Insn(OpPOP2)
	case top.Size() == 1 && below.Size() == 2:
		s.Insn(OpDUP_X2)
		s.Insn(OpPOP)
	case top.Size() == 2 && below.Size() == 2:
		s.Insn(OpDUP2_X2)
		s.Insn(OpPOP2)
	}
}

// Return emits the return instruction for t.
func Return(s Sink, t Type) {
	s.Insn(t.Opcode(OpIRETURN))
}

// Goto emits an unconditional jump.
func Goto(s Sink, l Label) {
	s.JumpInsn(OpGOTO, l)
}

// New emits NEW; DUP for the named class.
func New(s Sink, owner string) {
	s.TypeInsn(OpNEW, ObjectOf(owner))
	s.Insn(OpDUP)
}

// Throw emits `throw new <exception>(message)`.
func Throw(s Sink, exception, message string) {
	New(s, exception)
	s.Ldc(message)
	s.MethodInsn(OpINVOKESPECIAL, exception, "<init>", "(Ljava/lang/String;)V", false)
	s.Insn(OpATHROW)
}

// PushDefault pushes the zero value of t.
func PushDefault(s Sink, t Type) {
	switch t.Sort {
	case SortVoid:
	case SortLong:
		s.Insn(OpLCONST_0)
	case SortFloat:
		s.Insn(OpFCONST_0)
	case SortDouble:
		s.Insn(OpDCONST_0)
	case SortObject, SortArray:
		s.Insn(OpACONST_NULL)
	default:
		s.Insn(OpICONST_0)
	}
}

// NewArray allocates an array of elem whose length is on the stack.
func NewArray(s Sink, elem Type) {
	if elem.IsPrimitive() {
		s.TypeInsn(OpNEWARRAY, elem)
		return
	}
	s.TypeInsn(OpANEWARRAY, elem)
}
