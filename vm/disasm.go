package vm

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// DisassembleInstruction renders a single instruction without labels.
func DisassembleInstruction(in Instruction, labelName func(Label) string) string {
	name := in.Op.Name()
	switch {
	case in.Op == OpBIPUSH || in.Op == OpSIPUSH:
		return fmt.Sprintf("%s %d", name, in.Operand)
	case in.Op == OpLDC:
		if s, ok := in.Const.(string); ok {
			return fmt.Sprintf("%s %q", name, s)
		}
		return fmt.Sprintf("%s %v", name, in.Const)
	case in.Op >= OpILOAD && in.Op <= OpALOAD, in.Op >= OpISTORE && in.Op <= OpASTORE:
		return fmt.Sprintf("%s %d", name, in.Operand)
	case in.Op == OpIINC:
		return fmt.Sprintf("%s %d %d", name, in.Operand, in.Inc)
	case in.Op == OpNEW || in.Op == OpANEWARRAY || in.Op == OpCHECKCAST || in.Op == OpINSTANCEOF:
		return fmt.Sprintf("%s %s", name, in.Type.InternalName())
	case in.Op == OpNEWARRAY:
		return fmt.Sprintf("%s %s", name, in.Type.Descriptor())
	case in.Op >= OpGETSTATIC && in.Op <= OpPUTFIELD:
		return fmt.Sprintf("%s %s.%s : %s", name, in.Owner, in.Name, in.Desc)
	case in.Op >= OpINVOKEVIRTUAL && in.Op <= OpINVOKEINTERFACE:
		itf := ""
		if in.Itf {
			itf = " (itf)"
		}
		return fmt.Sprintf("%s %s.%s %s%s", name, in.Owner, in.Name, in.Desc, itf)
	case in.Op.IsJump():
		return fmt.Sprintf("%s %s", name, labelName(in.Target))
	case in.Op == OpTABLESWITCH:
		parts := make([]string, 0, len(in.Switch.Labels)+1)
		for i, l := range in.Switch.Labels {
			parts = append(parts, fmt.Sprintf("%d: %s", int(in.Switch.Min)+i, labelName(l)))
		}
		parts = append(parts, "default: "+labelName(in.Switch.Default))
		return fmt.Sprintf("%s { %s }", name, strings.Join(parts, ", "))
	case in.Op == OpLOOKUPSWITCH:
		parts := make([]string, 0, len(in.Switch.Labels)+1)
		for i, l := range in.Switch.Labels {
			parts = append(parts, fmt.Sprintf("%d: %s", in.Switch.Keys[i], labelName(l)))
		}
		parts = append(parts, "default: "+labelName(in.Switch.Default))
		return fmt.Sprintf("%s { %s }", name, strings.Join(parts, ", "))
	case in.Op == OpMARKER:
		return fmt.Sprintf("%s %s", name, MarkerKind(in.Operand))
	}
	return name
}

// Disassemble renders a method body with labels, the exception table and
// local variable ranges.
func Disassemble(m *Method) string {
	byPos := make(map[int][]Label)
	for l, pos := range m.Labels {
		byPos[pos] = append(byPos[pos], l)
	}
	names := make(map[Label]string)
	positions := make([]int, 0, len(byPos))
	for pos := range byPos {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for i, pos := range positions {
		for _, l := range byPos[pos] {
			names[l] = fmt.Sprintf("L%d", i)
		}
	}
	labelName := func(l Label) string {
		if n, ok := names[l]; ok {
			return n
		}
		return "L?"
	}

	var sb strings.Builder
	static := ""
	if m.Static {
		static = "static "
	}
	fmt.Fprintf(&sb, "%s%s%s (locals=%d, stack=%d)\n", static, m.Name, m.Desc, m.MaxLocals, m.MaxStack)
	line := 0
	for pc, in := range m.Instructions {
		if ls, ok := byPos[pc]; ok && len(ls) > 0 {
			fmt.Fprintf(&sb, "%s:\n", labelName(ls[0]))
		}
		if in.Line != 0 && in.Line != line {
			fmt.Fprintf(&sb, "    LINE %d\n", in.Line)
			line = in.Line
		}
		fmt.Fprintf(&sb, "    %04d %s\n", pc, DisassembleInstruction(in, labelName))
	}
	if ls, ok := byPos[len(m.Instructions)]; ok && len(ls) > 0 {
		fmt.Fprintf(&sb, "%s:\n", labelName(ls[0]))
	}
	for _, tc := range m.TryCatch {
		exc := tc.Exception
		if exc == "" {
			exc = "*"
		}
		fmt.Fprintf(&sb, "  TRYCATCH %s %s %s %s\n", labelName(tc.Start), labelName(tc.End), labelName(tc.Handler), exc)
	}
	for _, lv := range m.Locals {
		fmt.Fprintf(&sb, "  LOCAL %d %s %s %s %s\n", lv.Slot, lv.Name, lv.Type.Descriptor(), labelName(lv.Start), labelName(lv.End))
	}
	return sb.String()
}

// DisassembleClass renders every method of c.
func DisassembleClass(c *Class) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "class %s extends %s", c.Name, c.Super)
	if len(c.Interfaces) > 0 {
		fmt.Fprintf(&sb, " implements %s", strings.Join(c.Interfaces, ", "))
	}
	sb.WriteString("\n")
	for _, f := range c.Fields {
		static := ""
		if f.Static {
			static = "static "
		}
		fmt.Fprintf(&sb, "  field %s%s %s\n", static, f.Name, f.Type.Descriptor())
	}
	for _, m := range c.Methods {
		sb.WriteString("\n")
		sb.WriteString(Disassemble(m))
	}
	return sb.String()
}
