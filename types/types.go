// Package types models source-language types as the front end hands them
// to code generation, and maps them onto machine types.
package types

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

// Kind classifies a source type.
type Kind int

const (
	KindPrimitive Kind = iota
	KindClass
	KindEnum
	KindInline   // value class wrapping a single Underlying value
	KindFunction // function type, possibly suspend
	KindArray
	KindTypeParam
	KindUnit
	KindNothing
	KindString
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindClass:
		return "class"
	case KindEnum:
		return "enum"
	case KindInline:
		return "inline"
	case KindFunction:
		return "function"
	case KindArray:
		return "array"
	case KindTypeParam:
		return "type-parameter"
	case KindUnit:
		return "Unit"
	case KindNothing:
		return "Nothing"
	case KindString:
		return "String"
	case KindAny:
		return "Any"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ---------------------------------------------------------------------------
// Type
// ---------------------------------------------------------------------------

// Type is a resolved source type. Types are values; use Nullable/NotNull to
// derive variants rather than mutating shared instances.
type Type struct {
	Kind     Kind
	Name     string // primitive name ("Int") or internal class name
	Nullable bool

	Elem       *Type   // array element
	Params     []*Type // function parameters, extension receiver first
	Return     *Type   // function return
	Suspend    bool    // suspend function type
	Underlying *Type   // inline class payload
	Reified    bool    // reified type parameter
	Interface  bool    // class type names an interface
	Sealed     bool    // closed hierarchy: exhaustive when needs no else
}

var (
	Boolean = &Type{Kind: KindPrimitive, Name: "Boolean"}
	Char    = &Type{Kind: KindPrimitive, Name: "Char"}
	Byte    = &Type{Kind: KindPrimitive, Name: "Byte"}
	Short   = &Type{Kind: KindPrimitive, Name: "Short"}
	Int     = &Type{Kind: KindPrimitive, Name: "Int"}
	Long    = &Type{Kind: KindPrimitive, Name: "Long"}
	Float   = &Type{Kind: KindPrimitive, Name: "Float"}
	Double  = &Type{Kind: KindPrimitive, Name: "Double"}

	Unit    = &Type{Kind: KindUnit, Name: "kotlin/Unit"}
	Nothing = &Type{Kind: KindNothing, Name: "java/lang/Void"}
	String  = &Type{Kind: KindString, Name: "java/lang/String"}
	Any     = &Type{Kind: KindAny, Name: "java/lang/Object"}

	Throwable = Class("java/lang/Throwable")
)

// Class returns a class type.
func Class(name string) *Type {
	return &Type{Kind: KindClass, Name: name}
}

// Interface returns an interface type.
func Interface(name string) *Type {
	return &Type{Kind: KindClass, Name: name, Interface: true}
}

// Enum returns an enum class type.
func Enum(name string) *Type {
	return &Type{Kind: KindEnum, Name: name}
}

// Inline returns a value class type over underlying.
func Inline(name string, underlying *Type) *Type {
	return &Type{Kind: KindInline, Name: name, Underlying: underlying}
}

// Func returns a function type.
func Func(ret *Type, params ...*Type) *Type {
	return &Type{Kind: KindFunction, Params: params, Return: ret}
}

// SuspendFunc returns a suspend function type.
func SuspendFunc(ret *Type, params ...*Type) *Type {
	return &Type{Kind: KindFunction, Params: params, Return: ret, Suspend: true}
}

// ArrayOf returns an array type with the given element.
func ArrayOf(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

// Param returns a type-parameter reference.
func Param(name string, reified bool) *Type {
	return &Type{Kind: KindTypeParam, Name: name, Reified: reified}
}

// Nullable returns the nullable variant of t.
func Nullable(t *Type) *Type {
	if t.Nullable {
		return t
	}
	c := *t
	c.Nullable = true
	return &c
}

// NotNull returns the non-null variant of t.
func (t *Type) NotNull() *Type {
	if !t.Nullable {
		return t
	}
	c := *t
	c.Nullable = false
	return &c
}

// IsPrimitive reports whether t is one of the eight primitive types,
// regardless of nullability.
func (t *Type) IsPrimitive() bool {
	return t != nil && t.Kind == KindPrimitive
}

// IsFloating reports whether t is Float or Double.
func (t *Type) IsFloating() bool {
	return t.IsPrimitive() && (t.Name == "Float" || t.Name == "Double")
}

// IsIntegral reports whether t lives in an int slot when unboxed.
func (t *Type) IsIntegral() bool {
	if !t.IsPrimitive() {
		return false
	}
	switch t.Name {
	case "Int", "Short", "Byte", "Char":
		return true
	}
	return false
}

// IsNumeric reports whether t is a numeric primitive.
func (t *Type) IsNumeric() bool {
	return t.IsPrimitive() && t.Name != "Boolean" && t.Name != "Char"
}

// IsUnit reports whether t is Unit.
func (t *Type) IsUnit() bool {
	return t != nil && t.Kind == KindUnit
}

// IsNothing reports whether t is Nothing.
func (t *Type) IsNothing() bool {
	return t != nil && t.Kind == KindNothing
}

// IsEnum reports whether t is an enum class type.
func (t *Type) IsEnum() bool {
	return t != nil && t.Kind == KindEnum
}

// IsInline reports whether t is a value class.
func (t *Type) IsInline() bool {
	return t != nil && t.Kind == KindInline
}

// Arity returns the number of parameters of a function type.
func (t *Type) Arity() int {
	return len(t.Params)
}

// Equal reports structural equality, nullability included.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.Kind != o.Kind || t.Name != o.Name || t.Nullable != o.Nullable || t.Suspend != o.Suspend {
		return false
	}
	switch t.Kind {
	case KindArray:
		return t.Elem.Equal(o.Elem)
	case KindFunction:
		if len(t.Params) != len(o.Params) || !t.Return.Equal(o.Return) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var s string
	switch t.Kind {
	case KindArray:
		s = "Array<" + t.Elem.String() + ">"
	case KindFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		s = "(" + strings.Join(parts, ", ") + ") -> " + t.Return.String()
		if t.Suspend {
			s = "suspend " + s
		}
		if t.Nullable {
			return "(" + s + ")?"
		}
		return s
	case KindClass, KindEnum, KindInline, KindUnit, KindString, KindAny, KindNothing:
		s = t.Name[strings.LastIndexByte(t.Name, '/')+1:]
	default:
		s = t.Name
	}
	if t.Nullable {
		s += "?"
	}
	return s
}
