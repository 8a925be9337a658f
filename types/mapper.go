package types

import (
	"fmt"

	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Mapping to machine types
// ---------------------------------------------------------------------------

var primitives = map[string]vm.Type{
	"Boolean": vm.BooleanType,
	"Char":    vm.CharType,
	"Byte":    vm.ByteType,
	"Short":   vm.ShortType,
	"Int":     vm.IntType,
	"Long":    vm.LongType,
	"Float":   vm.FloatType,
	"Double":  vm.DoubleType,
}

var boxNames = map[vm.Sort]string{
	vm.SortBoolean: "java/lang/Boolean",
	vm.SortChar:    "java/lang/Character",
	vm.SortByte:    "java/lang/Byte",
	vm.SortShort:   "java/lang/Short",
	vm.SortInt:     "java/lang/Integer",
	vm.SortLong:    "java/lang/Long",
	vm.SortFloat:   "java/lang/Float",
	vm.SortDouble:  "java/lang/Double",
}

// BoxOf returns the box class for a primitive machine type.
func BoxOf(t vm.Type) vm.Type {
	name, ok := boxNames[t.Sort]
	if !ok {
		panic(fmt.Sprintf("types: no box for %v", t))
	}
	return vm.ObjectOf(name)
}

// UnboxedOf returns the primitive for a box class, if t is one.
func UnboxedOf(t vm.Type) (vm.Type, bool) {
	if t.Sort != vm.SortObject {
		return vm.Type{}, false
	}
	for sort, name := range boxNames {
		if name == t.Name {
			return vm.Type{Sort: sort}, true
		}
	}
	return vm.Type{}, false
}

// Map returns the machine type used to store values of t. Nullable
// primitives box; value classes erase to their underlying type unless
// nullability forces a box.
func Map(t *Type) vm.Type {
	if t == nil {
		return vm.ObjectType
	}
	switch t.Kind {
	case KindPrimitive:
		p := primitives[t.Name]
		if t.Nullable {
			return BoxOf(p)
		}
		return p
	case KindInline:
		if !t.Nullable {
			return Map(t.Underlying)
		}
		// A nullable value class over a non-null reference can use null
		// itself as the absent value.
		if u := t.Underlying; u != nil && !u.Nullable && Map(u).IsReference() {
			return Map(u)
		}
		return vm.ObjectOf(t.Name)
	case KindFunction:
		n := len(t.Params)
		if t.Suspend {
			n++
		}
		return vm.ObjectOf(fmt.Sprintf("kotlin/jvm/functions/Function%d", n))
	case KindArray:
		elem := t.Elem
		if elem.IsPrimitive() && !elem.Nullable {
			return vm.ArrayOf(primitives[elem.Name])
		}
		return vm.ArrayOf(Map(elem))
	case KindTypeParam, KindAny:
		return vm.ObjectType
	case KindUnit:
		return vm.UnitType
	case KindNothing:
		return vm.ObjectOf("java/lang/Void")
	}
	return vm.ObjectOf(t.Name)
}

// MapReturn maps a return type: Unit and Nothing become void.
func MapReturn(t *Type) vm.Type {
	if t == nil || (!t.Nullable && (t.Kind == KindUnit || t.Kind == KindNothing)) {
		return vm.VoidType
	}
	return Map(t)
}

// Boxed returns the reference type used when t must be an object: in
// generic positions, as a function-type argument, or boxed for Any.
func Boxed(t *Type) vm.Type {
	m := Map(t)
	switch {
	case t != nil && t.Kind == KindInline:
		return vm.ObjectOf(t.Name)
	case m.IsPrimitive():
		return BoxOf(m)
	}
	return m
}

// ElementOf returns the machine element type of an array type.
func ElementOf(t *Type) vm.Type {
	m := Map(t)
	if m.Sort != vm.SortArray {
		panic(fmt.Sprintf("types: %v is not an array", t))
	}
	return *m.Elem
}
