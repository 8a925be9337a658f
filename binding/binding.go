package binding

import (
	"sync"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
)

// ---------------------------------------------------------------------------
// Resolved calls
// ---------------------------------------------------------------------------

// ReceiverKind says where a receiver value comes from.
type ReceiverKind int

const (
	ReceiverExpression ReceiverKind = iota // an explicit expression
	ReceiverThis                           // implicit this of Class
	ReceiverExtension                      // implicit extension receiver of Function
	ReceiverObject                         // singleton or companion Class
)

// Receiver is a resolved dispatch or extension receiver.
type Receiver struct {
	Kind     ReceiverKind
	Expr     ast.Expr
	Class    *Class
	Function *Function
	Type     *types.Type
}

// ArgumentKind classifies how a parameter receives its value.
type ArgumentKind int

const (
	ArgumentExpr    ArgumentKind = iota
	ArgumentDefault              // omitted; the default value applies
	ArgumentVararg               // zero or more elements, possibly spread
)

// VarargElement is one element passed to a vararg parameter.
type VarargElement struct {
	Expr   ast.Expr
	Spread bool
}

// Argument is the value of one callee parameter.
type Argument struct {
	Kind     ArgumentKind
	Expr     ast.Expr
	Elements []VarargElement
}

// ResolvedCall binds a call site to its callee. Args holds one entry per
// callee value parameter, in parameter order; the order the arguments
// appear in source is kept in SourceOrder when it differs.
type ResolvedCall struct {
	Callee    Decl // *Function or *Property
	Dispatch  *Receiver
	Extension *Receiver
	Args      []*Argument
	Super     bool
	TypeArgs  map[string]*types.Type

	// Set is the set operator of an index read that is also written by a
	// compound assignment or an increment.
	Set *Function

	// SourceOrder lists parameter indices in the order their arguments
	// appear in source; nil means parameter order.
	SourceOrder []int
}

// Function returns the callee as a function, or nil.
func (c *ResolvedCall) Function() *Function {
	f, _ := c.Callee.(*Function)
	return f
}

// Property returns the callee as a property, or nil.
func (c *ResolvedCall) Property() *Property {
	p, _ := c.Callee.(*Property)
	return p
}

// Delegate describes a local delegated property's accessors.
type Delegate struct {
	Owner    string // class declaring getValue/setValue
	GetValue *Function
	SetValue *Function
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

// Context is the binding context code generation reads. All lookups are
// keyed by node identity.
type Context interface {
	TypeOf(e ast.Expr) *types.Type
	DeclarationOf(n ast.Node) Decl
	ConstantOf(e ast.Expr) (any, bool)
	ResolvedCallOf(e ast.Expr) *ResolvedCall
	SmartCastOf(e ast.Expr) *types.Type
	DelegateOf(v *ast.VarDecl) *Delegate
	IsExhaustive(w *ast.When) bool
}

// Table is the in-memory Context. It is safe for concurrent reads once
// populated; writes take a lock.
type Table struct {
	mu         sync.RWMutex
	typeOf     map[ast.Expr]*types.Type
	decls      map[ast.Node]Decl
	constants  map[ast.Expr]any
	calls      map[ast.Expr]*ResolvedCall
	smartCasts map[ast.Expr]*types.Type
	delegates  map[*ast.VarDecl]*Delegate
	exhaustive map[*ast.When]bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		typeOf:     make(map[ast.Expr]*types.Type),
		decls:      make(map[ast.Node]Decl),
		constants:  make(map[ast.Expr]any),
		calls:      make(map[ast.Expr]*ResolvedCall),
		smartCasts: make(map[ast.Expr]*types.Type),
		delegates:  make(map[*ast.VarDecl]*Delegate),
		exhaustive: make(map[*ast.When]bool),
	}
}

func (t *Table) TypeOf(e ast.Expr) *types.Type {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.typeOf[e]
}

func (t *Table) DeclarationOf(n ast.Node) Decl {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.decls[n]
}

func (t *Table) ConstantOf(e ast.Expr) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.constants[e]
	return v, ok
}

func (t *Table) ResolvedCallOf(e ast.Expr) *ResolvedCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls[e]
}

func (t *Table) SmartCastOf(e ast.Expr) *types.Type {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.smartCasts[e]
}

func (t *Table) DelegateOf(v *ast.VarDecl) *Delegate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.delegates[v]
}

func (t *Table) IsExhaustive(w *ast.When) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exhaustive[w]
}

// SetType records the type of e.
func (t *Table) SetType(e ast.Expr, typ *types.Type) {
	t.mu.Lock()
	t.typeOf[e] = typ
	t.mu.Unlock()
}

// Bind records the declaration a node introduces or references.
func (t *Table) Bind(n ast.Node, d Decl) {
	t.mu.Lock()
	t.decls[n] = d
	t.mu.Unlock()
}

// SetConstant records a compile-time constant value for e.
func (t *Table) SetConstant(e ast.Expr, v any) {
	t.mu.Lock()
	t.constants[e] = v
	t.mu.Unlock()
}

// SetCall records the resolved call of e.
func (t *Table) SetCall(e ast.Expr, c *ResolvedCall) {
	t.mu.Lock()
	t.calls[e] = c
	t.mu.Unlock()
}

// SetSmartCast records that e is known to have type typ at this point.
func (t *Table) SetSmartCast(e ast.Expr, typ *types.Type) {
	t.mu.Lock()
	t.smartCasts[e] = typ
	t.mu.Unlock()
}

// SetDelegate records the accessors of a delegated local.
func (t *Table) SetDelegate(v *ast.VarDecl, d *Delegate) {
	t.mu.Lock()
	t.delegates[v] = d
	t.mu.Unlock()
}

// SetExhaustive marks w as exhaustive without an else branch.
func (t *Table) SetExhaustive(w *ast.When) {
	t.mu.Lock()
	t.exhaustive[w] = true
	t.mu.Unlock()
}
