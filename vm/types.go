package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Machine types
// ---------------------------------------------------------------------------

// Sort classifies a machine type.
type Sort uint8

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// Type is a target-machine type: a primitive, an array or a reference to a
// class identified by its internal name (e.g. "java/lang/String").
type Type struct {
	Sort Sort
	Name string // internal name for SortObject
	Elem *Type  // element type for SortArray
}

var (
	VoidType    = Type{Sort: SortVoid}
	BooleanType = Type{Sort: SortBoolean}
	CharType    = Type{Sort: SortChar}
	ByteType    = Type{Sort: SortByte}
	ShortType   = Type{Sort: SortShort}
	IntType     = Type{Sort: SortInt}
	FloatType   = Type{Sort: SortFloat}
	LongType    = Type{Sort: SortLong}
	DoubleType  = Type{Sort: SortDouble}

	ObjectType    = ObjectOf("java/lang/Object")
	StringType    = ObjectOf("java/lang/String")
	ThrowableType = ObjectOf("java/lang/Throwable")
	NumberType    = ObjectOf("java/lang/Number")
	UnitType      = ObjectOf("kotlin/Unit")
)

// ObjectOf returns the reference type for an internal class name.
func ObjectOf(name string) Type {
	return Type{Sort: SortObject, Name: name}
}

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem Type) Type {
	e := elem
	return Type{Sort: SortArray, Elem: &e}
}

// Size returns the number of stack/local words a value of t occupies.
func (t Type) Size() int {
	switch t.Sort {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	default:
		return 1
	}
}

// IsPrimitive reports whether t is a non-void primitive.
func (t Type) IsPrimitive() bool {
	return t.Sort >= SortBoolean && t.Sort <= SortDouble
}

// IsReference reports whether t is an object or array type.
func (t Type) IsReference() bool {
	return t.Sort == SortObject || t.Sort == SortArray
}

// IsIntLike reports whether values of t live in an int slot.
func (t Type) IsIntLike() bool {
	switch t.Sort {
	case SortBoolean, SortChar, SortByte, SortShort, SortInt:
		return true
	}
	return false
}

// InternalName returns the internal name used by type instructions.
func (t Type) InternalName() string {
	if t.Sort == SortObject {
		return t.Name
	}
	return t.Descriptor()
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Sort != o.Sort {
		return false
	}
	switch t.Sort {
	case SortObject:
		return t.Name == o.Name
	case SortArray:
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

// Descriptor returns the field descriptor of t.
func (t Type) Descriptor() string {
	switch t.Sort {
	case SortVoid:
		return "V"
	case SortBoolean:
		return "Z"
	case SortChar:
		return "C"
	case SortByte:
		return "B"
	case SortShort:
		return "S"
	case SortInt:
		return "I"
	case SortFloat:
		return "F"
	case SortLong:
		return "J"
	case SortDouble:
		return "D"
	case SortArray:
		return "[" + t.Elem.Descriptor()
	default:
		return "L" + t.Name + ";"
	}
}

func (t Type) String() string {
	return t.Descriptor()
}

// Opcode adapts an int-flavoured load/store/arithmetic/return opcode to t,
// the way ILOAD becomes LLOAD for longs.
func (t Type) Opcode(op Opcode) Opcode {
	switch op {
	case OpILOAD, OpISTORE:
		switch t.Sort {
		case SortLong:
			return op + 1
		case SortFloat:
			return op + 2
		case SortDouble:
			return op + 3
		case SortObject, SortArray:
			return op + 4
		}
		return op
	case OpIALOAD, OpIASTORE:
		switch t.Sort {
		case SortLong:
			return op + 1
		case SortFloat:
			return op + 2
		case SortDouble:
			return op + 3
		case SortObject, SortArray:
			return op + 4
		case SortBoolean, SortByte:
			return op + 5
		case SortChar:
			return op + 6
		case SortShort:
			return op + 7
		}
		return op
	case OpIRETURN:
		switch t.Sort {
		case SortVoid:
			return OpRETURN
		case SortLong:
			return OpLRETURN
		case SortFloat:
			return OpFRETURN
		case SortDouble:
			return OpDRETURN
		case SortObject, SortArray:
			return OpARETURN
		}
		return op
	default:
		// arithmetic: IADD, LADD, FADD, DADD are consecutive
		switch t.Sort {
		case SortLong:
			return op + 1
		case SortFloat:
			return op + 2
		case SortDouble:
			return op + 3
		}
		return op
	}
}

// ParseType parses a single field descriptor.
func ParseType(desc string) (Type, error) {
	t, n, err := parseType(desc)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) {
		return Type{}, fmt.Errorf("trailing data in descriptor %q", desc)
	}
	return t, nil
}

func parseType(desc string) (Type, int, error) {
	if desc == "" {
		return Type{}, 0, fmt.Errorf("empty descriptor")
	}
	switch desc[0] {
	case 'V':
		return VoidType, 1, nil
	case 'Z':
		return BooleanType, 1, nil
	case 'C':
		return CharType, 1, nil
	case 'B':
		return ByteType, 1, nil
	case 'S':
		return ShortType, 1, nil
	case 'I':
		return IntType, 1, nil
	case 'F':
		return FloatType, 1, nil
	case 'J':
		return LongType, 1, nil
	case 'D':
		return DoubleType, 1, nil
	case '[':
		elem, n, err := parseType(desc[1:])
		if err != nil {
			return Type{}, 0, err
		}
		return ArrayOf(elem), n + 1, nil
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 0 {
			return Type{}, 0, fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return ObjectOf(desc[1:end]), end + 1, nil
	}
	return Type{}, 0, fmt.Errorf("bad descriptor %q", desc)
}

// ---------------------------------------------------------------------------
// Method descriptors
// ---------------------------------------------------------------------------

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []Type
	Return Type
}

// Descriptor renders the method descriptor, e.g. "(ILjava/lang/String;)V".
func (m MethodType) Descriptor() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range m.Params {
		sb.WriteString(p.Descriptor())
	}
	sb.WriteByte(')')
	sb.WriteString(m.Return.Descriptor())
	return sb.String()
}

// ArgSize returns the number of words taken by the parameters.
func (m MethodType) ArgSize() int {
	n := 0
	for _, p := range m.Params {
		n += p.Size()
	}
	return n
}

// ParseMethodType parses a method descriptor.
func ParseMethodType(desc string) (MethodType, error) {
	if !strings.HasPrefix(desc, "(") {
		return MethodType{}, fmt.Errorf("bad method descriptor %q", desc)
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseType(desc[i:])
		if err != nil {
			return MethodType{}, err
		}
		mt.Params = append(mt.Params, t)
		i += n
	}
	if i >= len(desc) {
		return MethodType{}, fmt.Errorf("unterminated method descriptor %q", desc)
	}
	ret, err := ParseType(desc[i+1:])
	if err != nil {
		return MethodType{}, err
	}
	mt.Return = ret
	return mt, nil
}

// MustMethodType parses desc and panics on malformed input.
func MustMethodType(desc string) MethodType {
	mt, err := ParseMethodType(desc)
	if err != nil {
		panic(err)
	}
	return mt
}
