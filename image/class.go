package image

import (
	"fmt"
	"sort"

	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Stored classes
// ---------------------------------------------------------------------------

// Class is a stored vm.Class. Types are kept as descriptors.
type Class struct {
	Name       string   `cbor:"1,keyasint"`
	Super      string   `cbor:"2,keyasint,omitempty"`
	Interfaces []string `cbor:"3,keyasint,omitempty"`
	Outer      string   `cbor:"4,keyasint,omitempty"`
	Fields     []Field  `cbor:"5,keyasint,omitempty"`
	Methods    []Method `cbor:"6,keyasint,omitempty"`
}

type Field struct {
	Name   string `cbor:"1,keyasint"`
	Type   string `cbor:"2,keyasint"`
	Static bool   `cbor:"3,keyasint,omitempty"`
}

// Method is a stored vm.Method. Labels are stored by number.
type Method struct {
	Name      string     `cbor:"1,keyasint"`
	Desc      string     `cbor:"2,keyasint"`
	Static    bool       `cbor:"3,keyasint,omitempty"`
	Code      []Insn     `cbor:"4,keyasint"`
	Labels    []LabelPos `cbor:"5,keyasint,omitempty"`
	TryCatch  []TryCatch `cbor:"6,keyasint,omitempty"`
	Locals    []Local    `cbor:"7,keyasint,omitempty"`
	MaxLocals int        `cbor:"8,keyasint"`
	MaxStack  int        `cbor:"9,keyasint"`
	Reified   []string   `cbor:"10,keyasint,omitempty"`
}

type LabelPos struct {
	ID    int `cbor:"1,keyasint"`
	Index int `cbor:"2,keyasint"`
}

type TryCatch struct {
	Start     int    `cbor:"1,keyasint"`
	End       int    `cbor:"2,keyasint"`
	Handler   int    `cbor:"3,keyasint"`
	Exception string `cbor:"4,keyasint,omitempty"`
}

type Local struct {
	Name  string `cbor:"1,keyasint"`
	Type  string `cbor:"2,keyasint"`
	Start int    `cbor:"3,keyasint"`
	End   int    `cbor:"4,keyasint"`
	Slot  int    `cbor:"5,keyasint"`
}

// Insn is a stored vm.Instruction; zero fields are omitted.
type Insn struct {
	Op      uint8   `cbor:"1,keyasint"`
	Operand int     `cbor:"2,keyasint,omitempty"`
	Inc     int     `cbor:"3,keyasint,omitempty"`
	Const   *Const  `cbor:"4,keyasint,omitempty"`
	Owner   string  `cbor:"5,keyasint,omitempty"`
	Name    string  `cbor:"6,keyasint,omitempty"`
	Desc    string  `cbor:"7,keyasint,omitempty"`
	Itf     bool    `cbor:"8,keyasint,omitempty"`
	Type    string  `cbor:"9,keyasint,omitempty"`
	Target  int     `cbor:"10,keyasint,omitempty"`
	Switch  *Switch `cbor:"11,keyasint,omitempty"`
	Line    int     `cbor:"12,keyasint,omitempty"`
}

type Switch struct {
	Min     int32   `cbor:"1,keyasint,omitempty"`
	Max     int32   `cbor:"2,keyasint,omitempty"`
	Keys    []int32 `cbor:"3,keyasint,omitempty"`
	Labels  []int   `cbor:"4,keyasint"`
	Default int     `cbor:"5,keyasint"`
}

// ConstKind tags the Go type of an LDC operand.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
)

// Const is an LDC operand. CBOR does not keep Go integer widths, so the
// kind is explicit.
type Const struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func typeDesc(t vm.Type) string {
	if t.Sort == vm.SortVoid {
		return ""
	}
	return t.Descriptor()
}

func fromClass(c *vm.Class) Class {
	sc := Class{Name: c.Name, Super: c.Super, Interfaces: c.Interfaces, Outer: c.Outer}
	for _, f := range c.Fields {
		sc.Fields = append(sc.Fields, Field{Name: f.Name, Type: f.Type.Descriptor(), Static: f.Static})
	}
	for _, m := range c.Methods {
		sc.Methods = append(sc.Methods, fromMethod(m))
	}
	return sc
}

func fromMethod(m *vm.Method) Method {
	sm := Method{
		Name: m.Name, Desc: m.Desc, Static: m.Static,
		MaxLocals: m.MaxLocals, MaxStack: m.MaxStack, Reified: m.Reified,
	}
	for _, in := range m.Instructions {
		sm.Code = append(sm.Code, fromInsn(in))
	}
	for l, idx := range m.Labels {
		sm.Labels = append(sm.Labels, LabelPos{ID: l.ID(), Index: idx})
	}
	sort.Slice(sm.Labels, func(i, j int) bool { return sm.Labels[i].ID < sm.Labels[j].ID })
	for _, tc := range m.TryCatch {
		sm.TryCatch = append(sm.TryCatch, TryCatch{
			Start: tc.Start.ID(), End: tc.End.ID(), Handler: tc.Handler.ID(), Exception: tc.Exception,
		})
	}
	for _, lv := range m.Locals {
		sm.Locals = append(sm.Locals, Local{
			Name: lv.Name, Type: lv.Type.Descriptor(), Start: lv.Start.ID(), End: lv.End.ID(), Slot: lv.Slot,
		})
	}
	return sm
}

func fromInsn(in vm.Instruction) Insn {
	si := Insn{
		Op: uint8(in.Op), Operand: in.Operand, Inc: in.Inc,
		Owner: in.Owner, Name: in.Name, Desc: in.Desc, Itf: in.Itf,
		Type: typeDesc(in.Type), Target: in.Target.ID(), Line: in.Line,
	}
	switch v := in.Const.(type) {
	case int32:
		si.Const = &Const{Kind: ConstInt, Int: int64(v)}
	case int64:
		si.Const = &Const{Kind: ConstLong, Int: v}
	case float32:
		si.Const = &Const{Kind: ConstFloat, Float: float64(v)}
	case float64:
		si.Const = &Const{Kind: ConstDouble, Float: v}
	case string:
		si.Const = &Const{Kind: ConstString, Str: v}
	}
	if sw := in.Switch; sw != nil {
		ss := &Switch{Min: sw.Min, Max: sw.Max, Keys: sw.Keys, Default: sw.Default.ID()}
		for _, l := range sw.Labels {
			ss.Labels = append(ss.Labels, l.ID())
		}
		si.Switch = ss
	}
	return si
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func parseType(desc string) (vm.Type, error) {
	if desc == "" {
		return vm.VoidType, nil
	}
	return vm.ParseType(desc)
}

func (c *Class) toVM() (*vm.Class, error) {
	out := &vm.Class{Name: c.Name, Super: c.Super, Interfaces: c.Interfaces, Outer: c.Outer}
	for _, f := range c.Fields {
		t, err := vm.ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", c.Name, f.Name, err)
		}
		out.Fields = append(out.Fields, vm.Field{Name: f.Name, Type: t, Static: f.Static})
	}
	for i := range c.Methods {
		m, err := c.Methods[i].toVM()
		if err != nil {
			return nil, fmt.Errorf("method %s.%s%s: %w", c.Name, c.Methods[i].Name, c.Methods[i].Desc, err)
		}
		out.Methods = append(out.Methods, m)
	}
	return out, nil
}

func (m *Method) toVM() (*vm.Method, error) {
	out := &vm.Method{
		Name: m.Name, Desc: m.Desc, Static: m.Static,
		Labels:    make(map[vm.Label]int, len(m.Labels)),
		MaxLocals: m.MaxLocals, MaxStack: m.MaxStack, Reified: m.Reified,
	}
	for _, lp := range m.Labels {
		if lp.Index < 0 || lp.Index > len(m.Code) {
			return nil, fmt.Errorf("label %d at %d outside the code", lp.ID, lp.Index)
		}
		out.Labels[vm.LabelFor(lp.ID)] = lp.Index
	}
	for _, si := range m.Code {
		in, err := si.toVM()
		if err != nil {
			return nil, err
		}
		out.Instructions = append(out.Instructions, in)
	}
	for _, tc := range m.TryCatch {
		out.TryCatch = append(out.TryCatch, vm.TryCatch{
			Start: vm.LabelFor(tc.Start), End: vm.LabelFor(tc.End), Handler: vm.LabelFor(tc.Handler),
			Exception: tc.Exception,
		})
	}
	for _, lv := range m.Locals {
		t, err := vm.ParseType(lv.Type)
		if err != nil {
			return nil, fmt.Errorf("local %s: %w", lv.Name, err)
		}
		out.Locals = append(out.Locals, vm.LocalVariable{
			Name: lv.Name, Type: t, Start: vm.LabelFor(lv.Start), End: vm.LabelFor(lv.End), Slot: lv.Slot,
		})
	}
	return out, nil
}

func (si *Insn) toVM() (vm.Instruction, error) {
	t, err := parseType(si.Type)
	if err != nil {
		return vm.Instruction{}, err
	}
	in := vm.Instruction{
		Op: vm.Opcode(si.Op), Operand: si.Operand, Inc: si.Inc,
		Owner: si.Owner, Name: si.Name, Desc: si.Desc, Itf: si.Itf,
		Type: t, Target: vm.LabelFor(si.Target), Line: si.Line,
	}
	if c := si.Const; c != nil {
		switch c.Kind {
		case ConstInt:
			in.Const = int32(c.Int)
		case ConstLong:
			in.Const = c.Int
		case ConstFloat:
			in.Const = float32(c.Float)
		case ConstDouble:
			in.Const = c.Float
		case ConstString:
			in.Const = c.Str
		default:
			return vm.Instruction{}, fmt.Errorf("constant of unknown kind %d", c.Kind)
		}
	}
	if ss := si.Switch; ss != nil {
		sw := &vm.Switch{Min: ss.Min, Max: ss.Max, Keys: ss.Keys, Default: vm.LabelFor(ss.Default)}
		for _, id := range ss.Labels {
			sw.Labels = append(sw.Labels, vm.LabelFor(id))
		}
		in.Switch = sw
	}
	return in, nil
}
