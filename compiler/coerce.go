package compiler

import (
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Coercion between machine types
// ---------------------------------------------------------------------------

var unboxMethods = map[vm.Sort]string{
	vm.SortBoolean: "booleanValue",
	vm.SortChar:    "charValue",
	vm.SortByte:    "byteValue",
	vm.SortShort:   "shortValue",
	vm.SortInt:     "intValue",
	vm.SortLong:    "longValue",
	vm.SortFloat:   "floatValue",
	vm.SortDouble:  "doubleValue",
}

// coerce converts the value of type from on top of the stack into a value
// of type to. fromK and toK are the source types when known; they decide
// value-class boxing and the unreachable tails of Nothing expressions.
func coerce(from vm.Type, fromK *types.Type, to vm.Type, toK *types.Type, s vm.Sink) {
	if from.Equal(to) && !inlineBoxing(from, fromK, to, toK) {
		return
	}
	switch {
	case to.Sort == vm.SortVoid:
		vm.Pop(s, from)

	case from.Sort == vm.SortVoid:
		if fromK.IsNothing() {
			vm.PushDefault(s, to)
			return
		}
		pushUnit(s)
		coerce(vm.UnitType, types.Unit, to, toK, s)

	case from.IsPrimitive() && to.IsPrimitive():
		convertPrimitive(from, to, s)

	case from.IsPrimitive():
		if fromK.IsInline() && !fromK.Nullable {
			boxInline(fromK, s)
			castIfNeeded(vm.ObjectOf(fromK.Name), to, s)
			return
		}
		target := from
		if prim, ok := types.UnboxedOf(to); ok {
			convertPrimitive(from, prim, s)
			target = prim
		}
		box := types.BoxOf(target)
		s.MethodInsn(vm.OpINVOKESTATIC, box.Name, "valueOf", "("+target.Descriptor()+")"+box.Descriptor(), false)

	case to.IsPrimitive():
		if toK.IsInline() && !toK.Nullable && !from.Equal(to) {
			unboxInline(from, toK, s)
			convertPrimitive(types.Map(toK), to, s)
			return
		}
		box, ok := types.UnboxedOf(from)
		if !ok {
			box = castForUnbox(to)
			owner := types.BoxOf(box)
			if box.Sort != vm.SortBoolean && box.Sort != vm.SortChar {
				owner = vm.NumberType
				box = to
			}
			s.TypeInsn(vm.OpCHECKCAST, owner)
			s.MethodInsn(vm.OpINVOKEVIRTUAL, owner.Name, unboxMethods[box.Sort], "()"+box.Descriptor(), false)
			convertPrimitive(box, to, s)
			return
		}
		s.MethodInsn(vm.OpINVOKEVIRTUAL, from.Name, unboxMethods[box.Sort], "()"+box.Descriptor(), false)
		convertPrimitive(box, to, s)

	default:
		if inlineBoxing(from, fromK, to, toK) {
			boxInline(fromK, s)
			castIfNeeded(vm.ObjectOf(fromK.Name), to, s)
			return
		}
		if toK.IsInline() && !toK.Nullable && fromK != nil && !fromK.IsInline() && !to.Equal(vm.ObjectOf(toK.Name)) {
			unboxInline(from, toK, s)
			return
		}
		castIfNeeded(from, to, s)
	}
}

// inlineBoxing reports whether a value class held unboxed must be boxed
// to reach to.
func inlineBoxing(from vm.Type, fromK *types.Type, to vm.Type, toK *types.Type) bool {
	if !fromK.IsInline() || fromK.Nullable {
		return false
	}
	if !to.IsReference() {
		return false
	}
	if from.Equal(to) {
		return toK != nil && !toK.IsInline() && !toK.Equal(fromK.Underlying)
	}
	return true
}

func boxInline(k *types.Type, s vm.Sink) {
	u := types.Map(k.Underlying)
	s.MethodInsn(vm.OpINVOKESTATIC, k.Name, "box-impl", "("+u.Descriptor()+")L"+k.Name+";", false)
}

func unboxInline(from vm.Type, k *types.Type, s vm.Sink) {
	if !from.Equal(vm.ObjectOf(k.Name)) {
		s.TypeInsn(vm.OpCHECKCAST, vm.ObjectOf(k.Name))
	}
	u := types.Map(k.Underlying)
	s.MethodInsn(vm.OpINVOKEVIRTUAL, k.Name, "unbox-impl", "()"+u.Descriptor(), false)
}

func castForUnbox(to vm.Type) vm.Type {
	switch to.Sort {
	case vm.SortBoolean:
		return vm.BooleanType
	case vm.SortChar:
		return vm.CharType
	}
	return to
}

// castIfNeeded narrows a reference when the static types differ.
func castIfNeeded(from, to vm.Type, s vm.Sink) {
	if from.Equal(to) || !to.IsReference() {
		return
	}
	if to.Sort == vm.SortObject && to.Name == "java/lang/Object" {
		return
	}
	if from.Sort == vm.SortObject && from.Name == "java/lang/Void" {
		return
	}
	s.TypeInsn(vm.OpCHECKCAST, to)
}

func pushUnit(s vm.Sink) {
	s.FieldInsn(vm.OpGETSTATIC, "kotlin/Unit", "INSTANCE", vm.UnitType)
}

// convertPrimitive emits the conversion between two primitive types.
func convertPrimitive(from, to vm.Type, s vm.Sink) {
	if from.Equal(to) {
		return
	}
	wide := func(t vm.Type) vm.Sort {
		if t.IsIntLike() {
			return vm.SortInt
		}
		return t.Sort
	}
	f, t := wide(from), wide(to)
	if f != t {
		switch f {
		case vm.SortInt:
			switch t {
			case vm.SortLong:
				s.Insn(vm.OpI2L)
			case vm.SortFloat:
				s.Insn(vm.OpI2F)
			case vm.SortDouble:
				s.Insn(vm.OpI2D)
			}
		case vm.SortLong:
			switch t {
			case vm.SortInt:
				s.Insn(vm.OpL2I)
			case vm.SortFloat:
				s.Insn(vm.OpL2F)
			case vm.SortDouble:
				s.Insn(vm.OpL2D)
			}
		case vm.SortFloat:
			switch t {
			case vm.SortInt:
				s.Insn(vm.OpF2I)
			case vm.SortLong:
				s.Insn(vm.OpF2L)
			case vm.SortDouble:
				s.Insn(vm.OpF2D)
			}
		case vm.SortDouble:
			switch t {
			case vm.SortInt:
				s.Insn(vm.OpD2I)
			case vm.SortLong:
				s.Insn(vm.OpD2L)
			case vm.SortFloat:
				s.Insn(vm.OpD2F)
			}
		}
	}
	if t != vm.SortInt {
		return
	}
	switch to.Sort {
	case vm.SortByte:
		if from.Sort != vm.SortByte {
			s.Insn(vm.OpI2B)
		}
	case vm.SortShort:
		if from.Sort != vm.SortShort && from.Sort != vm.SortByte {
			s.Insn(vm.OpI2S)
		}
	case vm.SortChar:
		if from.Sort != vm.SortChar {
			s.Insn(vm.OpI2C)
		}
	}
}
