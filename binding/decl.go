// Package binding is the resolved view of a program that code generation
// consumes: the declaration, type, constant value and resolved call of
// every syntax node.
package binding

import (
	"github.com/chazu/kiln/types"
)

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Decl is a resolved declaration. The set of implementations is closed.
type Decl interface {
	DeclName() string
	decl()
}

// ClassKind classifies a class declaration.
type ClassKind int

const (
	ClassRegular ClassKind = iota
	ClassInterface
	ClassObject    // singleton with a static INSTANCE
	ClassCompanion // companion object, stored in the outer class
	ClassEnum
	ClassInline
	ClassLocal     // declared inside a function body
	ClassAnonymous // object expression
)

// Class is a resolved class.
type Class struct {
	Name       string // internal name, e.g. "demo/Outer$Inner"
	Super      string
	Interfaces []string
	Kind       ClassKind
	Outer      *Class
	Inner      bool // holds a reference to the outer instance (this$0)
	Type       *types.Type
	Companion  *Class
	Entries    []*EnumEntry
	Function   *Function // enclosing function of local and anonymous classes
	SuperClass *Class    // resolved superclass when it is a local class
}

func (c *Class) DeclName() string { return c.Name }
func (c *Class) decl()            {}

// IsSingleton reports whether c has exactly one instance held in a static.
func (c *Class) IsSingleton() bool {
	return c.Kind == ClassObject || c.Kind == ClassCompanion
}

// SimpleName returns the name after the last '/' or '$'.
func (c *Class) SimpleName() string {
	n := c.Name
	for i := len(n) - 1; i >= 0; i-- {
		if n[i] == '/' || n[i] == '$' {
			return n[i+1:]
		}
	}
	return n
}

// FunctionKind classifies a function declaration.
type FunctionKind int

const (
	FunctionTopLevel FunctionKind = iota
	FunctionMember
	FunctionLocal
	FunctionLambda
	FunctionConstructor
)

// Intrinsic names a callee with built-in code generation.
type Intrinsic int

const (
	IntrinsicNone      Intrinsic = iota
	IntrinsicArrayOf             // arrayOf(...)/intArrayOf(...): a fresh array
	IntrinsicArraySize           // array.size
	IntrinsicArrayGet            // array[i] through an operator call
	IntrinsicArraySet            // array[i] = v through an operator call
	IntrinsicInvoke              // invoke() on a function-typed value
	IntrinsicRangeTo             // a..b on Int, produces an IntRange
	IntrinsicConvert             // toInt(), toLong(), ... on primitives
	IntrinsicToString            // toString() on anything
)

// Function is a resolved function, constructor or lambda.
type Function struct {
	Name       string
	Kind       FunctionKind
	Owner      *Class // member and constructor owner
	Facade     string // top-level owner class
	Receiver   *types.Type
	Params     []*Parameter
	Return     *types.Type
	TypeParams []*TypeParam
	Parent     *Function // enclosing function of locals and lambdas

	Private   bool
	Static    bool // member compiled as static (object @JvmStatic)
	Abstract  bool
	Suspend   bool
	Inline    bool
	Operator  bool
	Intrinsic Intrinsic

	// EqualsImpl marks an inline class whose static equals-impl0 compares
	// two unboxed values.
	EqualsImpl bool

	// Crossinline and SuspendReference describe lambdas: a crossinline
	// argument, or a reference to a suspend function.
	Crossinline      bool
	SuspendReference bool
}

func (f *Function) DeclName() string { return f.Name }
func (f *Function) decl()            {}

// IsStatic reports whether calls pass no dispatch receiver.
func (f *Function) IsStatic() bool {
	return f.Kind == FunctionTopLevel || f.Static
}

// HasDefaults reports whether any parameter declares a default value.
func (f *Function) HasDefaults() bool {
	for _, p := range f.Params {
		if p.HasDefault {
			return true
		}
	}
	return false
}

// Type returns the function type of a lambda or local function.
func (f *Function) Type() *types.Type {
	params := make([]*types.Type, 0, len(f.Params)+1)
	if f.Receiver != nil {
		params = append(params, f.Receiver)
	}
	for _, p := range f.Params {
		params = append(params, p.Type)
	}
	if f.Suspend {
		return types.SuspendFunc(f.Return, params...)
	}
	return types.Func(f.Return, params...)
}

// Parameter is a resolved value parameter.
type Parameter struct {
	Name        string
	Type        *types.Type
	Index       int
	HasDefault  bool
	Vararg      bool // Type is the array type
	Crossinline bool
	Noinline    bool
	Function    *Function
}

func (p *Parameter) DeclName() string { return p.Name }
func (p *Parameter) decl()            {}

// Variable is a resolved local variable.
type Variable struct {
	Name      string
	Type      *types.Type
	Mutable   bool
	Lateinit  bool
	Delegated bool
	Function  *Function // declaring function
}

func (v *Variable) DeclName() string { return v.Name }
func (v *Variable) decl()            {}

// Property is a resolved member or top-level property.
type Property struct {
	Name     string
	Type     *types.Type
	Owner    *Class
	Facade   string
	Receiver *types.Type // extension property: accessors only, no field
	Getter   *Function   // extension property: receiver and return of the getter whose body is the initializer
	Mutable  bool
	Private  bool
	Lateinit bool
	Const    bool
	Value    any // compile-time value of a const property
}

func (p *Property) DeclName() string { return p.Name }
func (p *Property) decl()            {}

// IsStatic reports whether the property lives in a static field.
func (p *Property) IsStatic() bool {
	return p.Owner == nil || p.Owner.IsSingleton()
}

// OwnerName returns the internal name of the class holding the property.
func (p *Property) OwnerName() string {
	if p.Owner != nil {
		return p.Owner.Name
	}
	return p.Facade
}

// EnumEntry is a resolved enum constant.
type EnumEntry struct {
	Class   *Class
	Name    string
	Ordinal int
}

func (e *EnumEntry) DeclName() string { return e.Name }
func (e *EnumEntry) decl()            {}

// TypeParam is a declared type parameter.
type TypeParam struct {
	Name     string
	Reified  bool
	Function *Function
}

func (p *TypeParam) DeclName() string { return p.Name }
func (p *TypeParam) decl()            {}
