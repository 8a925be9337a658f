package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Builtin runtime: the slice of the platform library generated code calls
// ---------------------------------------------------------------------------

var unitInstance = &Object{Class: "kotlin/Unit", Fields: map[string]any{}}

// Unit returns the singleton Unit instance.
func Unit() *Object { return unitInstance }

var builtinSupers = map[string]string{
	"java/lang/Throwable":                        "java/lang/Object",
	"java/lang/Exception":                        "java/lang/Throwable",
	"java/lang/Error":                            "java/lang/Throwable",
	"java/lang/StackOverflowError":               "java/lang/Error",
	"java/lang/RuntimeException":                 "java/lang/Exception",
	"java/lang/NullPointerException":             "java/lang/RuntimeException",
	"java/lang/ArithmeticException":              "java/lang/RuntimeException",
	"java/lang/ClassCastException":               "java/lang/RuntimeException",
	"java/lang/IllegalStateException":            "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":         "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":    "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":        "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":   "java/lang/IndexOutOfBoundsException",
	"java/lang/NegativeArraySizeException":       "java/lang/RuntimeException",
	"java/util/NoSuchElementException":           "java/lang/RuntimeException",
	"java/lang/StringIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"kotlin/NoWhenBranchMatchedException":        "java/lang/RuntimeException",
	"kotlin/UninitializedPropertyAccessException": "java/lang/RuntimeException",
	"kotlin/KotlinNullPointerException":          "java/lang/NullPointerException",
	"kotlin/TypeCastException":                   "java/lang/ClassCastException",

	"java/lang/Integer":   "java/lang/Number",
	"java/lang/Long":      "java/lang/Number",
	"java/lang/Float":     "java/lang/Number",
	"java/lang/Double":    "java/lang/Number",
	"java/lang/Short":     "java/lang/Number",
	"java/lang/Byte":      "java/lang/Number",
	"java/lang/Number":    "java/lang/Object",
	"java/lang/Boolean":   "java/lang/Object",
	"java/lang/Character": "java/lang/Object",
	"java/lang/Enum":      "java/lang/Object",

	"kotlin/jvm/internal/Lambda":                         "java/lang/Object",
	"kotlin/coroutines/jvm/internal/SuspendLambda":       "kotlin/jvm/internal/Lambda",
	"kotlin/jvm/internal/FunctionReferenceImpl":          "java/lang/Object",
	"kotlin/jvm/internal/PropertyReference0Impl":         "java/lang/Object",
	"kotlin/jvm/internal/LocalVariableReference":         "java/lang/Object",
	"java/util/ArrayList":                                "java/lang/Object",
}

var builtinInterfaces = map[string][]string{
	"java/lang/String":     {"java/lang/CharSequence", "java/lang/Comparable"},
	"java/lang/Integer":    {"java/lang/Comparable"},
	"java/lang/Long":       {"java/lang/Comparable"},
	"java/lang/Double":     {"java/lang/Comparable"},
	"java/lang/Float":      {"java/lang/Comparable"},
	"java/lang/Character":  {"java/lang/Comparable"},
	"java/lang/Boolean":    {"java/lang/Comparable"},
	"java/util/ArrayList":  {"java/util/List"},
	"java/util/List":       {"java/util/Collection"},
	"java/util/Collection": {"java/lang/Iterable"},
	"java/lang/Enum":       {"java/lang/Comparable"},
	"kotlin/jvm/internal/Lambda": {"kotlin/jvm/internal/FunctionBase"},
	"kotlin/coroutines/jvm/internal/SuspendLambda": {"kotlin/coroutines/Continuation"},
}

// boxes maps a box class to its primitive type.
var boxes = map[string]Type{
	"java/lang/Integer":   IntType,
	"java/lang/Long":      LongType,
	"java/lang/Float":     FloatType,
	"java/lang/Double":    DoubleType,
	"java/lang/Short":     ShortType,
	"java/lang/Byte":      ByteType,
	"java/lang/Boolean":   BooleanType,
	"java/lang/Character": CharType,
}

// boxCache holds instances for small integral values, which box to shared
// objects the way the platform's valueOf caches do.
var boxCache = map[string][]*Object{}

func init() {
	for _, class := range []string{"java/lang/Integer", "java/lang/Short", "java/lang/Byte", "java/lang/Character", "java/lang/Long"} {
		cache := make([]*Object, 256)
		for i := range cache {
			var v any = int32(i - 128)
			if class == "java/lang/Long" {
				v = int64(i - 128)
			}
			cache[i] = &Object{Class: class, Fields: map[string]any{}, Native: v}
		}
		boxCache[class] = cache
	}
	for _, b := range []int32{0, 1} {
		boolBoxes[b] = &Object{Class: "java/lang/Boolean", Fields: map[string]any{}, Native: b}
	}
}

var boolBoxes [2]*Object

// Box wraps a primitive value in an instance of class.
func Box(class string, v any) *Object {
	switch class {
	case "java/lang/Boolean":
		return boolBoxes[v.(int32)&1]
	case "java/lang/Long":
		if x := v.(int64); x >= -128 && x <= 127 {
			return boxCache[class][x+128]
		}
	case "java/lang/Integer", "java/lang/Short", "java/lang/Byte":
		if x := v.(int32); x >= -128 && x <= 127 {
			return boxCache[class][x+128]
		}
	case "java/lang/Character":
		if x := v.(int32); x >= 0 && x <= 127 {
			return boxCache[class][x+128]
		}
	}
	return &Object{Class: class, Fields: map[string]any{}, Native: v}
}

// Unbox returns the primitive payload of a box, or false if v is not one.
func Unbox(v any) (any, bool) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		return nil, false
	}
	if _, ok := boxes[o.Class]; !ok {
		return nil, false
	}
	return o.Native, true
}

// NewEnumEntry creates an enum constant of class.
func NewEnumEntry(class, name string, ordinal int) *Object {
	o := NewObject(class)
	o.Fields["$name"] = name
	o.Fields["$ordinal"] = int32(ordinal)
	return o
}

// NewList creates a builtin read-only list.
func NewList(items ...any) *Object {
	o := NewObject("java/util/ArrayList")
	o.Native = append([]any(nil), items...)
	return o
}

// ---------------------------------------------------------------------------
// Equality and string conversion
// ---------------------------------------------------------------------------

// Equals implements Object.equals for runtime values: boxes compare their
// payloads (floating boxes bitwise, so NaN equals NaN and -0.0 differs from
// 0.0), strings compare contents and other objects use a compiled equals
// when their class declares one.
func (in *Interpreter) Equals(a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y, nil
	case *Array:
		return identical(a, b), nil
	case *Object:
		if _, ok := boxes[x.Class]; ok {
			y, ok := b.(*Object)
			if !ok || y.Class != x.Class {
				return false, nil
			}
			return boxPayloadEqual(x.Native, y.Native), nil
		}
		for class := x.Class; class != ""; class = in.superOf(class) {
			c, ok := in.Classes[class]
			if !ok {
				continue
			}
			if m := c.Method("equals", "(Ljava/lang/Object;)Z"); m != nil && !m.Static {
				r, err := in.call(c, m, []any{a, b})
				if err != nil {
					return false, err
				}
				return r.(int32) != 0, nil
			}
		}
		return identical(a, b), nil
	}
	return a == b, nil
}

func boxPayloadEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		return math.Float64bits(x) == math.Float64bits(b.(float64)) ||
			(math.IsNaN(x) && math.IsNaN(b.(float64)))
	case float32:
		y := b.(float32)
		return math.Float32bits(x) == math.Float32bits(y) || (x != x && y != y)
	}
	return a == b
}

// HashCode implements Object.hashCode for strings, boxes and identity.
func (in *Interpreter) HashCode(v any) int32 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return StringHash(x)
	case *Object:
		switch p := x.Native.(type) {
		case int32:
			return p
		case int64:
			return int32(p ^ int64(uint64(p)>>32))
		case float64:
			bits := math.Float64bits(p)
			return int32(bits ^ (bits >> 32))
		case float32:
			return int32(math.Float32bits(p))
		}
		return int32(uintptrHash(x))
	}
	return 0
}

var hashSeq atomic.Uint32

func uintptrHash(o *Object) uint32 {
	if o.hash == 0 {
		o.hash = hashSeq.Add(1) * 2654435761
	}
	return o.hash
}

// StringHash computes the platform's string hash over UTF-16 code units.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// ToString renders v the way String.valueOf would.
func (in *Interpreter) ToString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return x, nil
	case int32:
		return strconv.Itoa(int(x)), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return formatFloat(float64(x), 32), nil
	case float64:
		return formatFloat(x, 64), nil
	case *Array:
		return fmt.Sprintf("[%s@%p", x.Elem.Descriptor(), x), nil
	case *Object:
		if x == unitInstance {
			return "kotlin.Unit", nil
		}
		if t, ok := boxes[x.Class]; ok {
			switch t.Sort {
			case SortBoolean:
				return strconv.FormatBool(x.Native.(int32) != 0), nil
			case SortChar:
				return string(rune(x.Native.(int32))), nil
			}
			return in.ToString(x.Native)
		}
		for class := x.Class; class != ""; class = in.superOf(class) {
			if c, ok := in.Classes[class]; ok {
				if m := c.Method("toString", "()Ljava/lang/String;"); m != nil && !m.Static {
					r, err := in.call(c, m, []any{x})
					if err != nil {
						return "", err
					}
					return in.ToString(r)
				}
			}
		}
		if name, ok := x.Fields["$name"].(string); ok {
			return name, nil
		}
		if items, ok := x.Native.([]any); ok {
			parts := make([]string, len(items))
			for i, item := range items {
				s, err := in.ToString(item)
				if err != nil {
					return "", err
				}
				parts[i] = s
			}
			return "[" + strings.Join(parts, ", ") + "]", nil
		}
		if in.isSubclass(x.Class, "java/lang/Throwable") {
			return (&Thrown{Exception: x}).Error(), nil
		}
		return fmt.Sprintf("%s@%x", strings.ReplaceAll(x.Class, "/", "."), in.HashCode(x)), nil
	}
	return fmt.Sprint(v), nil
}

func formatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(v, 'f', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ---------------------------------------------------------------------------
// Native registration
// ---------------------------------------------------------------------------

func registerBuiltins(in *Interpreter) {
	registerBoxing(in)
	registerIntrinsics(in)
	registerStrings(in)
	registerObjects(in)
	registerArrays(in)
	registerSpreadBuilders(in)
	registerCollections(in)
}

func registerBoxing(in *Interpreter) {
	for class, t := range boxes {
		class, t := class, t
		d := t.Descriptor()
		in.Register(class, "valueOf", "("+d+")L"+class+";", func(_ *Interpreter, args []any) (any, error) {
			return Box(class, args[0]), nil
		})
		unboxName := map[Sort]string{
			SortInt: "intValue", SortLong: "longValue", SortFloat: "floatValue",
			SortDouble: "doubleValue", SortShort: "shortValue", SortByte: "byteValue",
			SortBoolean: "booleanValue", SortChar: "charValue",
		}[t.Sort]
		in.Register(class, unboxName, "()"+d, func(_ *Interpreter, args []any) (any, error) {
			return args[0].(*Object).Native, nil
		})
		in.Register(class, "equals", "(Ljava/lang/Object;)Z", func(in *Interpreter, args []any) (any, error) {
			return in.Equals(args[0], args[1])
		})
	}
	// Number conversions apply to any numeric box.
	for _, target := range []Type{IntType, LongType, FloatType, DoubleType, ShortType, ByteType} {
		target := target
		name := map[Sort]string{
			SortInt: "intValue", SortLong: "longValue", SortFloat: "floatValue",
			SortDouble: "doubleValue", SortShort: "shortValue", SortByte: "byteValue",
		}[target.Sort]
		in.Register("java/lang/Number", name, "()"+target.Descriptor(), func(_ *Interpreter, args []any) (any, error) {
			o, ok := args[0].(*Object)
			if !ok || o == nil {
				return nil, Raise("java/lang/NullPointerException", "")
			}
			return convertNumber(o.Native, target), nil
		})
	}
}

func convertNumber(v any, t Type) any {
	var f float64
	var i int64
	isFloat := false
	switch x := v.(type) {
	case int32:
		i = int64(x)
	case int64:
		i = x
	case float32:
		f, isFloat = float64(x), true
	case float64:
		f, isFloat = x, true
	}
	if isFloat {
		switch t.Sort {
		case SortFloat:
			return float32(f)
		case SortDouble:
			return f
		case SortLong:
			return floatToLong(f, math.MinInt64, math.MaxInt64)
		}
		i = floatToLong(f, math.MinInt32, math.MaxInt32)
	}
	switch t.Sort {
	case SortLong:
		return i
	case SortFloat:
		return float32(i)
	case SortDouble:
		return float64(i)
	case SortShort:
		return int32(int16(i))
	case SortByte:
		return int32(int8(i))
	}
	return int32(i)
}

const intrinsics = "kotlin/jvm/internal/Intrinsics"

func registerIntrinsics(in *Interpreter) {
	in.Register(intrinsics, "areEqual", "(Ljava/lang/Object;Ljava/lang/Object;)Z", func(in *Interpreter, args []any) (any, error) {
		return in.Equals(args[0], args[1])
	})

	// IEEE 754 comparisons of nullable floating values: null equals only
	// null, otherwise the unboxed values are compared numerically.
	ieee := func(box string, prim Type) {
		bd := "L" + box + ";"
		pd := prim.Descriptor()
		value := func(v any) (float64, bool) {
			switch x := v.(type) {
			case float64:
				return x, true
			case float32:
				return float64(x), true
			case *Object:
				if x == nil {
					return 0, false
				}
				return value64(x.Native), true
			}
			return 0, false
		}
		eq := func(_ *Interpreter, args []any) (any, error) {
			a, aok := value(args[0])
			b, bok := value(args[1])
			if !aok || !bok {
				return !aok && !bok, nil
			}
			return a == b, nil
		}
		in.Register(intrinsics, "areEqual", "("+bd+bd+")Z", eq)
		in.Register(intrinsics, "areEqual", "("+bd+pd+")Z", eq)
		in.Register(intrinsics, "areEqual", "("+pd+bd+")Z", eq)
	}
	ieee("java/lang/Double", DoubleType)
	ieee("java/lang/Float", FloatType)

	npe := func(_ *Interpreter, args []any) (any, error) {
		if args[0] == nil {
			msg := ""
			if len(args) > 1 {
				msg, _ = args[1].(string)
			}
			return nil, Raise("java/lang/NullPointerException", msg)
		}
		return nil, nil
	}
	in.Register(intrinsics, "checkNotNull", "(Ljava/lang/Object;)V", npe)
	in.Register(intrinsics, "checkNotNull", "(Ljava/lang/Object;Ljava/lang/String;)V", npe)
	in.Register(intrinsics, "checkNotNullExpressionValue", "(Ljava/lang/Object;Ljava/lang/String;)V", npe)
	in.Register(intrinsics, "checkNotNullParameter", "(Ljava/lang/Object;Ljava/lang/String;)V", npe)
	in.Register(intrinsics, "throwUninitializedPropertyAccessException", "(Ljava/lang/String;)V", func(_ *Interpreter, args []any) (any, error) {
		return nil, Raise("kotlin/UninitializedPropertyAccessException",
			fmt.Sprintf("lateinit property %v has not been initialized", args[0]))
	})
	in.Register(intrinsics, "stringPlus", "(Ljava/lang/String;Ljava/lang/Object;)Ljava/lang/String;", func(in *Interpreter, args []any) (any, error) {
		a, err := in.ToString(args[0])
		if err != nil {
			return nil, err
		}
		b, err := in.ToString(args[1])
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
	in.Register(intrinsics, "compare", "(II)I", func(_ *Interpreter, args []any) (any, error) {
		a, b := args[0].(int32), args[1].(int32)
		return cmp3(a < b, a > b), nil
	})
	in.Register(intrinsics, "compare", "(JJ)I", func(_ *Interpreter, args []any) (any, error) {
		a, b := args[0].(int64), args[1].(int64)
		return cmp3(a < b, a > b), nil
	})
	nop := func(*Interpreter, []any) (any, error) { return nil, nil }
	in.Register(intrinsics, "reifiedOperationMarker", "(ILjava/lang/String;)V", nop)
	in.Register("kotlin/jvm/internal/InlineMarker", "mark", "(I)V", nop)
	in.Register("kotlin/jvm/internal/InlineMarker", "beforeInlineCall", "()V", nop)
	in.Register("kotlin/jvm/internal/InlineMarker", "afterInlineCall", "()V", nop)

	in.Register("kotlin/io/ConsoleKt", "println", "(Ljava/lang/Object;)V", func(in *Interpreter, args []any) (any, error) {
		s, err := in.ToString(args[0])
		if err != nil {
			return nil, err
		}
		_, err = fmt.Fprintln(in.Stdout, s)
		return nil, err
	})
}

func value64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	}
	return math.NaN()
}

func registerStrings(in *Interpreter) {
	const sb = "java/lang/StringBuilder"
	in.Register(sb, "<init>", "()V", func(_ *Interpreter, args []any) (any, error) {
		args[0].(*Object).Native = &strings.Builder{}
		return nil, nil
	})
	in.Register(sb, "<init>", "(Ljava/lang/String;)V", func(_ *Interpreter, args []any) (any, error) {
		b := &strings.Builder{}
		b.WriteString(args[1].(string))
		args[0].(*Object).Native = b
		return nil, nil
	})
	appendAs := func(desc string, render func(in *Interpreter, v any) (string, error)) {
		in.Register(sb, "append", "("+desc+")Ljava/lang/StringBuilder;", func(in *Interpreter, args []any) (any, error) {
			s, err := render(in, args[1])
			if err != nil {
				return nil, err
			}
			args[0].(*Object).Native.(*strings.Builder).WriteString(s)
			return args[0], nil
		})
	}
	generic := func(in *Interpreter, v any) (string, error) { return in.ToString(v) }
	for _, d := range []string{"Ljava/lang/String;", "Ljava/lang/Object;", "Ljava/lang/CharSequence;", "I", "J", "F", "D"} {
		appendAs(d, generic)
	}
	appendAs("C", func(_ *Interpreter, v any) (string, error) { return string(rune(v.(int32))), nil })
	appendAs("Z", func(_ *Interpreter, v any) (string, error) { return strconv.FormatBool(v.(int32) != 0), nil })
	in.Register(sb, "toString", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Native.(*strings.Builder).String(), nil
	})

	const str = "java/lang/String"
	in.Register(str, "hashCode", "()I", func(_ *Interpreter, args []any) (any, error) {
		return StringHash(args[0].(string)), nil
	})
	in.Register(str, "equals", "(Ljava/lang/Object;)Z", func(in *Interpreter, args []any) (any, error) {
		return in.Equals(args[0], args[1])
	})
	in.Register(str, "length", "()I", func(_ *Interpreter, args []any) (any, error) {
		return int32(len(utf16.Encode([]rune(args[0].(string))))), nil
	})
	in.Register(str, "charAt", "(I)C", func(_ *Interpreter, args []any) (any, error) {
		units := utf16.Encode([]rune(args[0].(string)))
		i := args[1].(int32)
		if i < 0 || int(i) >= len(units) {
			return nil, Raise("java/lang/StringIndexOutOfBoundsException", fmt.Sprint(i))
		}
		return int32(units[i]), nil
	})
	in.Register(str, "toString", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0], nil
	})
	in.Register(str, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(in *Interpreter, args []any) (any, error) {
		return in.ToString(args[0])
	})
}

func registerObjects(in *Interpreter) {
	const obj = "java/lang/Object"
	in.Register(obj, "equals", "(Ljava/lang/Object;)Z", func(_ *Interpreter, args []any) (any, error) {
		return identical(args[0], args[1]), nil
	})
	in.Register(obj, "hashCode", "()I", func(in *Interpreter, args []any) (any, error) {
		return in.HashCode(args[0]), nil
	})
	in.Register(obj, "toString", "()Ljava/lang/String;", func(in *Interpreter, args []any) (any, error) {
		return in.ToString(args[0])
	})

	in.Register("java/lang/Enum", "<init>", "(Ljava/lang/String;I)V", func(_ *Interpreter, args []any) (any, error) {
		o := args[0].(*Object)
		o.Fields["$name"], o.Fields["$ordinal"] = args[1], args[2]
		return nil, nil
	})
	in.Register("java/lang/Enum", "toString", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["$name"], nil
	})
	in.Register("java/lang/Enum", "ordinal", "()I", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["$ordinal"], nil
	})
	in.Register("java/lang/Enum", "name", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["$name"], nil
	})

	in.Register("java/lang/Throwable", "getMessage", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["message"], nil
	})

	in.Register("kotlin/jvm/internal/LocalVariableReference", "<init>", "(Ljava/lang/String;)V", func(_ *Interpreter, args []any) (any, error) {
		args[0].(*Object).Fields["name"] = args[1]
		return nil, nil
	})
	in.Register("kotlin/jvm/internal/LocalVariableReference", "getName", "()Ljava/lang/String;", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["name"], nil
	})

	in.Register("kotlin/Pair", "<init>", "(Ljava/lang/Object;Ljava/lang/Object;)V", func(_ *Interpreter, args []any) (any, error) {
		o := args[0].(*Object)
		o.Fields["first"], o.Fields["second"] = args[1], args[2]
		return nil, nil
	})
	for i, field := range []string{"first", "second"} {
		field := field
		get := func(_ *Interpreter, args []any) (any, error) {
			return args[0].(*Object).Fields[field], nil
		}
		in.Register("kotlin/Pair", fmt.Sprintf("component%d", i+1), "()Ljava/lang/Object;", get)
		in.Register("kotlin/Pair", "get"+strings.ToUpper(field[:1])+field[1:], "()Ljava/lang/Object;", get)
	}

	in.Register("kotlin/ranges/IntRange", "<init>", "(II)V", func(_ *Interpreter, args []any) (any, error) {
		o := args[0].(*Object)
		o.Fields["first"], o.Fields["last"] = args[1], args[2]
		return nil, nil
	})
	in.Register("kotlin/ranges/IntRange", "getFirst", "()I", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["first"], nil
	})
	in.Register("kotlin/ranges/IntRange", "getLast", "()I", func(_ *Interpreter, args []any) (any, error) {
		return args[0].(*Object).Fields["last"], nil
	})
	in.Register("kotlin/ranges/IntRange", "contains", "(I)Z", func(_ *Interpreter, args []any) (any, error) {
		o, v := args[0].(*Object), args[1].(int32)
		return v >= o.Fields["first"].(int32) && v <= o.Fields["last"].(int32), nil
	})
}

func registerArrays(in *Interpreter) {
	for _, elem := range []Type{IntType, LongType, FloatType, DoubleType, BooleanType, CharType, ByteType, ShortType, ObjectType} {
		elem := elem
		d := ArrayOf(elem).Descriptor()
		in.Register("java/util/Arrays", "copyOf", "("+d+"I)"+d, func(_ *Interpreter, args []any) (any, error) {
			src, ok := args[0].(*Array)
			if !ok || src == nil {
				return nil, Raise("java/lang/NullPointerException", "")
			}
			n := int(args[1].(int32))
			dst := &Array{Elem: src.Elem, Data: make([]any, n)}
			for i := range dst.Data {
				if i < len(src.Data) {
					dst.Data[i] = src.Data[i]
				} else {
					dst.Data[i] = zeroOf(src.Elem)
				}
			}
			return dst, nil
		})
	}
}

func registerSpreadBuilders(in *Interpreter) {
	const spread = "kotlin/jvm/internal/SpreadBuilder"
	type builder struct{ items []any }
	in.Register(spread, "<init>", "(I)V", func(_ *Interpreter, args []any) (any, error) {
		args[0].(*Object).Native = &builder{}
		return nil, nil
	})
	in.Register(spread, "add", "(Ljava/lang/Object;)V", func(_ *Interpreter, args []any) (any, error) {
		b := args[0].(*Object).Native.(*builder)
		b.items = append(b.items, args[1])
		return nil, nil
	})
	addSpread := func(_ *Interpreter, args []any) (any, error) {
		b := args[0].(*Object).Native.(*builder)
		switch src := args[1].(type) {
		case *Array:
			b.items = append(b.items, src.Data...)
		case *Object:
			if items, ok := src.Native.([]any); ok {
				b.items = append(b.items, items...)
				return nil, nil
			}
			return nil, Raise("java/lang/UnsupportedOperationException", "Don't know how to spread "+src.Class)
		default:
			return nil, Raise("java/lang/NullPointerException", "")
		}
		return nil, nil
	}
	in.Register(spread, "addSpread", "(Ljava/lang/Object;)V", addSpread)
	in.Register(spread, "size", "()I", func(_ *Interpreter, args []any) (any, error) {
		return int32(len(args[0].(*Object).Native.(*builder).items)), nil
	})
	in.Register(spread, "toArray", "([Ljava/lang/Object;)[Ljava/lang/Object;", func(_ *Interpreter, args []any) (any, error) {
		b := args[0].(*Object).Native.(*builder)
		elem := ObjectType
		if proto, ok := args[1].(*Array); ok && proto != nil {
			elem = proto.Elem
		}
		return &Array{Elem: elem, Data: append([]any(nil), b.items...)}, nil
	})

	for name, prim := range map[string]Type{
		"IntSpreadBuilder": IntType, "LongSpreadBuilder": LongType, "FloatSpreadBuilder": FloatType,
		"DoubleSpreadBuilder": DoubleType, "BooleanSpreadBuilder": BooleanType, "CharSpreadBuilder": CharType,
		"ByteSpreadBuilder": ByteType, "ShortSpreadBuilder": ShortType,
	} {
		owner, prim := "kotlin/jvm/internal/"+name, prim
		in.Register(owner, "<init>", "(I)V", func(_ *Interpreter, args []any) (any, error) {
			args[0].(*Object).Native = &builder{}
			return nil, nil
		})
		in.Register(owner, "add", "("+prim.Descriptor()+")V", func(_ *Interpreter, args []any) (any, error) {
			b := args[0].(*Object).Native.(*builder)
			b.items = append(b.items, args[1])
			return nil, nil
		})
		in.Register(owner, "addSpread", "(Ljava/lang/Object;)V", addSpread)
		in.Register(owner, "toArray", "()"+ArrayOf(prim).Descriptor(), func(_ *Interpreter, args []any) (any, error) {
			b := args[0].(*Object).Native.(*builder)
			return &Array{Elem: prim, Data: append([]any(nil), b.items...)}, nil
		})
	}
}

func registerCollections(in *Interpreter) {
	in.Register("kotlin/collections/CollectionsKt", "listOf", "([Ljava/lang/Object;)Ljava/util/List;", func(_ *Interpreter, args []any) (any, error) {
		arr, ok := args[0].(*Array)
		if !ok || arr == nil {
			return nil, Raise("java/lang/NullPointerException", "")
		}
		return NewList(arr.Data...), nil
	})
	type cursor struct {
		items []any
		next  int
	}
	iterator := func(_ *Interpreter, args []any) (any, error) {
		items, _ := args[0].(*Object).Native.([]any)
		it := NewObject("java/util/Iterator")
		it.Native = &cursor{items: items}
		return it, nil
	}
	size := func(_ *Interpreter, args []any) (any, error) {
		items, _ := args[0].(*Object).Native.([]any)
		return int32(len(items)), nil
	}
	get := func(_ *Interpreter, args []any) (any, error) {
		items, _ := args[0].(*Object).Native.([]any)
		i := args[1].(int32)
		if i < 0 || int(i) >= len(items) {
			return nil, Raise("java/lang/IndexOutOfBoundsException", fmt.Sprintf("Index %d out of bounds for length %d", i, len(items)))
		}
		return items[i], nil
	}
	contains := func(in *Interpreter, args []any) (any, error) {
		items, _ := args[0].(*Object).Native.([]any)
		for _, item := range items {
			eq, err := in.Equals(item, args[1])
			if err != nil {
				return nil, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	}
	for _, owner := range []string{"java/util/ArrayList", "java/util/List", "java/util/Collection", "java/lang/Iterable"} {
		in.Register(owner, "iterator", "()Ljava/util/Iterator;", iterator)
		in.Register(owner, "size", "()I", size)
		in.Register(owner, "get", "(I)Ljava/lang/Object;", get)
		in.Register(owner, "contains", "(Ljava/lang/Object;)Z", contains)
	}
	in.Register("java/util/Iterator", "hasNext", "()Z", func(_ *Interpreter, args []any) (any, error) {
		c := args[0].(*Object).Native.(*cursor)
		return c.next < len(c.items), nil
	})
	in.Register("java/util/Iterator", "next", "()Ljava/lang/Object;", func(_ *Interpreter, args []any) (any, error) {
		c := args[0].(*Object).Native.(*cursor)
		if c.next >= len(c.items) {
			return nil, Raise("java/util/NoSuchElementException", "")
		}
		c.next++
		return c.items[c.next-1], nil
	})
}
