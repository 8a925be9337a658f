// Package ast defines the typed syntax tree consumed by code generation.
// Every node is resolved: types, declarations and calls live in a
// binding.Context keyed by node identity.
package ast

import "github.com/chazu/kiln/types"

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Expr is the interface for expression nodes. Declarations are
// expressions too; their value is Unit.
type Expr interface {
	Node
	expr() // marker method
}

// Op is a built-in operator token.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAndAnd
	OpOrOr
	OpEq
	OpNe
	OpIdentEq
	OpIdentNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpElvis
	OpRange
	OpUntil
	OpIn
	OpNotIn
	OpShl
	OpShr
	OpUshr
	OpAnd
	OpOr
	OpXor

	// unary
	OpNeg
	OpPlus
	OpNot
	OpInc
	OpDec
	OpNotNull

	// assignment
	OpAssign
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpRemAssign
)

var opNames = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpAndAnd: "&&", OpOrOr: "||", OpEq: "==", OpNe: "!=", OpIdentEq: "===", OpIdentNe: "!==",
	OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=", OpElvis: "?:", OpRange: "..", OpUntil: "until",
	OpIn: "in", OpNotIn: "!in", OpShl: "shl", OpShr: "shr", OpUshr: "ushr", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpNeg: "-", OpPlus: "+", OpNot: "!", OpInc: "++", OpDec: "--", OpNotNull: "!!",
	OpAssign: "=", OpAddAssign: "+=", OpSubAssign: "-=", OpMulAssign: "*=", OpDivAssign: "/=", OpRemAssign: "%=",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "?"
}

// Arithmetic returns the binary operator behind a compound assignment.
func (op Op) Arithmetic() (Op, bool) {
	switch op {
	case OpAddAssign:
		return OpAdd, true
	case OpSubAssign:
		return OpSub, true
	case OpMulAssign:
		return OpMul, true
	case OpDivAssign:
		return OpDiv, true
	case OpRemAssign:
		return OpRem, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Literals and references
// ---------------------------------------------------------------------------

// Const is a literal: int32, int64, float32, float64, bool, string or nil.
// Char literals are int32 values typed Char by the binding context.
type Const struct {
	SpanVal Span
	Value   any
}

func (n *Const) Span() Span { return n.SpanVal }
func (n *Const) node()      {}
func (n *Const) expr()      {}

// Template is a string template; literal parts are string Consts.
type Template struct {
	SpanVal Span
	Parts   []Expr
}

func (n *Template) Span() Span { return n.SpanVal }
func (n *Template) node()      {}
func (n *Template) expr()      {}

// Name references a variable, parameter, property, object or enum entry.
type Name struct {
	SpanVal Span
	Ident   string
}

func (n *Name) Span() Span { return n.SpanVal }
func (n *Name) node()      {}
func (n *Name) expr()      {}

// This is `this` or `this@Label`.
type This struct {
	SpanVal Span
	Label   string
}

func (n *This) Span() Span { return n.SpanVal }
func (n *This) node()      {}
func (n *This) expr()      {}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Binary is an infix operation. Overloaded operators carry a resolved call.
type Binary struct {
	SpanVal Span
	Op      Op
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// Unary is a prefix operation: -x, +x, !x, ++x, --x.
type Unary struct {
	SpanVal Span
	Op      Op
	X       Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// Postfix is x++, x-- or x!!.
type Postfix struct {
	SpanVal Span
	Op      Op
	X       Expr
}

func (n *Postfix) Span() Span { return n.SpanVal }
func (n *Postfix) node()      {}
func (n *Postfix) expr()      {}

// Assign is `target = value` or a compound assignment.
type Assign struct {
	SpanVal Span
	Op      Op
	Target  Expr
	Value   Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) expr()      {}

// Is is `x is T` or `x !is T`.
type Is struct {
	SpanVal Span
	X       Expr
	Type    *types.Type
	Negated bool
}

func (n *Is) Span() Span { return n.SpanVal }
func (n *Is) node()      {}
func (n *Is) expr()      {}

// As is `x as T` or `x as? T`.
type As struct {
	SpanVal Span
	X       Expr
	Type    *types.Type
	Safe    bool
}

func (n *As) Span() Span { return n.SpanVal }
func (n *As) node()      {}
func (n *As) expr()      {}

// ---------------------------------------------------------------------------
// Calls and member access
// ---------------------------------------------------------------------------

// Arg is a call argument.
type Arg struct {
	Name   string
	Value  Expr
	Spread bool
}

// Call is a call of a function, constructor or function-typed value.
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []*Arg
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// Dot is a qualified expression `x.sel` or safe call `x?.sel`.
type Dot struct {
	SpanVal Span
	X       Expr
	Sel     Expr // *Name or *Call
	Safe    bool
}

func (n *Dot) Span() Span { return n.SpanVal }
func (n *Dot) node()      {}
func (n *Dot) expr()      {}

// Index is `x[i, ...]`.
type Index struct {
	SpanVal Span
	X       Expr
	Indices []Expr
}

func (n *Index) Span() Span { return n.SpanVal }
func (n *Index) node()      {}
func (n *Index) expr()      {}

// CallableRef is `::name` or `receiver::name`.
type CallableRef struct {
	SpanVal  Span
	Receiver Expr
	Name     string
}

func (n *CallableRef) Span() Span { return n.SpanVal }
func (n *CallableRef) node()      {}
func (n *CallableRef) expr()      {}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Block is a sequence of statements; its value is the last one.
type Block struct {
	SpanVal Span
	Stmts   []Expr
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) expr()      {}

// If is an if statement or expression.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    Expr
	Else    Expr // may be nil
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) expr()      {}

// CondKind distinguishes when-branch conditions.
type CondKind int

const (
	CondExpr CondKind = iota // equality with the subject, or boolean without one
	CondIs
	CondIn
)

// WhenCond is one condition of a when branch.
type WhenCond struct {
	SpanVal Span
	Kind    CondKind
	Negated bool
	Expr    Expr
	Type    *types.Type
}

// WhenBranch is one arm of a when.
type WhenBranch struct {
	Conds []*WhenCond
	Body  Expr
}

// When is a multi-way branch, with or without a subject.
type When struct {
	SpanVal  Span
	Subject  Expr
	Var      *VarDecl // `when (val x = ...)`
	Branches []*WhenBranch
	Else     Expr
}

func (n *When) Span() Span { return n.SpanVal }
func (n *When) node()      {}
func (n *When) expr()      {}

// While is a pre-tested loop.
type While struct {
	SpanVal Span
	Label   string
	Cond    Expr
	Body    Expr
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) expr()      {}

// DoWhile is a post-tested loop.
type DoWhile struct {
	SpanVal Span
	Label   string
	Body    Expr
	Cond    Expr
}

func (n *DoWhile) Span() Span { return n.SpanVal }
func (n *DoWhile) node()      {}
func (n *DoWhile) expr()      {}

// For iterates a range, an array or an iterable. Either Var or
// Destructure names the loop variable.
type For struct {
	SpanVal     Span
	Label       string
	Var         *VarDecl
	Destructure *Destructure
	Iter        Expr
	Body        Expr
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}
func (n *For) expr()      {}

// Break leaves the innermost or labeled loop.
type Break struct {
	SpanVal Span
	Label   string
}

func (n *Break) Span() Span { return n.SpanVal }
func (n *Break) node()      {}
func (n *Break) expr()      {}

// Continue restarts the innermost or labeled loop.
type Continue struct {
	SpanVal Span
	Label   string
}

func (n *Continue) Span() Span { return n.SpanVal }
func (n *Continue) node()      {}
func (n *Continue) expr()      {}

// Return returns from the enclosing or labeled function.
type Return struct {
	SpanVal Span
	Label   string
	Value   Expr
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) expr()      {}

// Throw raises an exception.
type Throw struct {
	SpanVal Span
	X       Expr
}

func (n *Throw) Span() Span { return n.SpanVal }
func (n *Throw) node()      {}
func (n *Throw) expr()      {}

// Catch is a catch clause.
type Catch struct {
	Param *Param
	Type  *types.Type
	Body  *Block
}

// Try is try/catch/finally, statement or expression.
type Try struct {
	SpanVal Span
	Body    *Block
	Catches []*Catch
	Finally *Block
}

func (n *Try) Span() Span { return n.SpanVal }
func (n *Try) node()      {}
func (n *Try) expr()      {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Param is a function, lambda or catch parameter.
type Param struct {
	SpanVal Span
	Name    string
	Default Expr
}

func (n *Param) Span() Span { return n.SpanVal }
func (n *Param) node()      {}

// VarDecl is a local `val`/`var`, optionally delegated.
type VarDecl struct {
	SpanVal  Span
	Name     string
	Init     Expr
	Delegate Expr
}

func (n *VarDecl) Span() Span { return n.SpanVal }
func (n *VarDecl) node()      {}
func (n *VarDecl) expr()      {}

// Destructure is `val (a, _, c) = init`; nil entries are skipped.
type Destructure struct {
	SpanVal Span
	Vars    []*VarDecl
	Init    Expr
}

func (n *Destructure) Span() Span { return n.SpanVal }
func (n *Destructure) node()      {}
func (n *Destructure) expr()      {}

// FunDecl is a function: top-level, member or local.
type FunDecl struct {
	SpanVal Span
	Name    string
	Params  []*Param
	Body    Expr // *Block or expression body; nil when abstract
}

func (n *FunDecl) Span() Span { return n.SpanVal }
func (n *FunDecl) node()      {}
func (n *FunDecl) expr()      {}

// Lambda is a function literal.
type Lambda struct {
	SpanVal Span
	Params  []*Param
	Body    *Block
}

func (n *Lambda) Span() Span { return n.SpanVal }
func (n *Lambda) node()      {}
func (n *Lambda) expr()      {}

// PropertyDecl is a member or top-level property with a backing field.
type PropertyDecl struct {
	SpanVal Span
	Name    string
	Init    Expr
}

func (n *PropertyDecl) Span() Span { return n.SpanVal }
func (n *PropertyDecl) node()      {}

// EntryDecl is an enum entry.
type EntryDecl struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *EntryDecl) Span() Span { return n.SpanVal }
func (n *EntryDecl) node()      {}

// ClassDecl is a class, object, enum or local class. Params are the
// primary constructor parameters.
type ClassDecl struct {
	SpanVal   Span
	Name      string
	Params    []*Param
	SuperArgs []Expr
	Props     []*PropertyDecl
	Funcs     []*FunDecl
	Init      []Expr
	Classes   []*ClassDecl
	Entries   []*EntryDecl
	Companion *ClassDecl
}

func (n *ClassDecl) Span() Span { return n.SpanVal }
func (n *ClassDecl) node()      {}
func (n *ClassDecl) expr()      {}

// ObjectLit is an anonymous object expression.
type ObjectLit struct {
	SpanVal Span
	Decl    *ClassDecl
}

func (n *ObjectLit) Span() Span { return n.SpanVal }
func (n *ObjectLit) node()      {}
func (n *ObjectLit) expr()      {}

// ---------------------------------------------------------------------------
// Top-level structure
// ---------------------------------------------------------------------------

// File is a source file; top-level functions and properties live on its
// facade class.
type File struct {
	SpanVal Span
	Facade  string
	Funcs   []*FunDecl
	Props   []*PropertyDecl
	Classes []*ClassDecl
}

func (n *File) Span() Span { return n.SpanVal }
func (n *File) node()      {}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// At returns a span covering a single line.
func At(line int) Span {
	return Span{Start: Position{Line: line, Column: 1}, End: Position{Line: line, Column: 1}}
}
