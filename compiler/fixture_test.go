package compiler

import (
	"context"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Fixture: resolved trees built by hand
// ---------------------------------------------------------------------------

const testFacade = "test/MainKt"

// fixture builds a file and its binding table the way a front end would
// hand them over: every expression typed, every name and call resolved.
type fixture struct {
	t    *testing.T
	tb   *binding.Table
	file *ast.File
	line int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, tb: binding.NewTable(), file: &ast.File{Facade: testFacade}}
}

func (f *fixture) span() ast.Span {
	f.line++
	return ast.Span{Start: ast.Position{Line: f.line, Column: 1}}
}

func (f *fixture) typed(e ast.Expr, kt *types.Type) {
	f.tb.SetType(e, kt)
}

func (f *fixture) lit(v any) *ast.Const {
	c := &ast.Const{SpanVal: f.span(), Value: v}
	f.typed(c, constType(v))
	return c
}

func (f *fixture) null(kt *types.Type) *ast.Const {
	c := &ast.Const{SpanVal: f.span()}
	f.typed(c, kt)
	f.tb.SetConstant(c, nil)
	return c
}

// ref names a declaration.
func (f *fixture) ref(d binding.Decl) *ast.Name {
	n := &ast.Name{SpanVal: f.span(), Ident: d.DeclName()}
	f.tb.Bind(n, d)
	switch x := d.(type) {
	case *binding.Property:
		f.typed(n, x.Type)
		f.tb.SetCall(n, &binding.ResolvedCall{Callee: x})
	case *binding.EnumEntry:
		f.typed(n, x.Class.Type)
	default:
		f.typed(n, declType(d))
	}
	return n
}

func (f *fixture) bin(op ast.Op, l, r ast.Expr, kt *types.Type) *ast.Binary {
	b := &ast.Binary{SpanVal: f.span(), Op: op, Left: l, Right: r}
	f.typed(b, kt)
	return b
}

func (f *fixture) assign(op ast.Op, target, value ast.Expr) *ast.Assign {
	a := &ast.Assign{SpanVal: f.span(), Op: op, Target: target, Value: value}
	f.typed(a, types.Unit)
	return a
}

func (f *fixture) block(stmts ...ast.Expr) *ast.Block {
	return &ast.Block{SpanVal: f.span(), Stmts: stmts}
}

func (f *fixture) ret(v ast.Expr) *ast.Return {
	r := &ast.Return{SpanVal: f.span(), Value: v}
	f.typed(r, types.Nothing)
	return r
}

func (f *fixture) ifExpr(cond, then, els ast.Expr, kt *types.Type) *ast.If {
	n := &ast.If{SpanVal: f.span(), Cond: cond, Then: then, Else: els}
	f.typed(n, kt)
	return n
}

func (f *fixture) try(kt *types.Type, body, finally *ast.Block, catches ...*ast.Catch) *ast.Try {
	n := &ast.Try{SpanVal: f.span(), Body: body, Catches: catches, Finally: finally}
	f.typed(n, kt)
	return n
}

func (f *fixture) throw(exc string) *ast.Throw {
	ctor := &binding.Function{Name: "<init>", Kind: binding.FunctionConstructor,
		Owner: &binding.Class{Name: exc, Super: "java/lang/Throwable"}, Return: types.Unit}
	n := &ast.Throw{SpanVal: f.span(), X: f.call(ctor)}
	f.typed(n, types.Nothing)
	return n
}

// local declares a variable of fn.
func (f *fixture) local(fn *binding.Function, name string, kt *types.Type, mutable bool, init ast.Expr) (*binding.Variable, *ast.VarDecl) {
	v := &binding.Variable{Name: name, Type: kt, Mutable: mutable, Function: fn}
	d := &ast.VarDecl{SpanVal: f.span(), Name: name, Init: init}
	f.tb.Bind(d, v)
	f.typed(d, types.Unit)
	return v, d
}

// param is the parameter description taken by fun and lambda.
type param struct {
	name string
	kt   *types.Type
	def  ast.Expr
}

func p(name string, kt *types.Type) param { return param{name: name, kt: kt} }

func (f *fixture) params(fn *binding.Function, ps []param) []*ast.Param {
	var out []*ast.Param
	for i, x := range ps {
		bp := &binding.Parameter{Name: x.name, Type: x.kt, Index: i, HasDefault: x.def != nil, Function: fn}
		fn.Params = append(fn.Params, bp)
		ap := &ast.Param{SpanVal: f.span(), Name: x.name, Default: x.def}
		f.tb.Bind(ap, bp)
		out = append(out, ap)
	}
	return out
}

// fun declares a top-level function; the body is set by the caller.
func (f *fixture) fun(name string, ret *types.Type, ps ...param) (*binding.Function, *ast.FunDecl) {
	fn := &binding.Function{Name: name, Kind: binding.FunctionTopLevel, Facade: testFacade, Return: ret}
	fd := &ast.FunDecl{SpanVal: f.span(), Name: name, Params: f.params(fn, ps)}
	f.tb.Bind(fd, fn)
	f.file.Funcs = append(f.file.Funcs, fd)
	return fn, fd
}

// prop declares a mutable top-level property.
func (f *fixture) prop(name string, kt *types.Type, init ast.Expr) *binding.Property {
	pr := &binding.Property{Name: name, Type: kt, Facade: testFacade, Mutable: true}
	pd := &ast.PropertyDecl{SpanVal: f.span(), Name: name, Init: init}
	f.tb.Bind(pd, pr)
	f.file.Props = append(f.file.Props, pd)
	return pr
}

// lambda declares a lambda inside parent.
func (f *fixture) lambda(parent *binding.Function, ret *types.Type, ps ...param) (*binding.Function, *ast.Lambda) {
	fn := &binding.Function{Name: "<anonymous>", Kind: binding.FunctionLambda, Parent: parent, Return: ret}
	l := &ast.Lambda{SpanVal: f.span(), Params: f.params(fn, ps)}
	f.tb.Bind(l, fn)
	f.typed(l, fn.Type())
	return fn, l
}

// call calls fn with one expression argument per parameter; a nil
// argument leaves the parameter to its default.
func (f *fixture) call(fn *binding.Function, args ...ast.Expr) *ast.Call {
	c := &ast.Call{SpanVal: f.span(), Callee: &ast.Name{Ident: fn.Name}}
	rc := &binding.ResolvedCall{Callee: fn}
	for i := range fn.Params {
		if i < len(args) && args[i] != nil {
			c.Args = append(c.Args, &ast.Arg{Value: args[i]})
			rc.Args = append(rc.Args, &binding.Argument{Kind: binding.ArgumentExpr, Expr: args[i]})
			continue
		}
		rc.Args = append(rc.Args, &binding.Argument{Kind: binding.ArgumentDefault})
	}
	f.tb.SetCall(c, rc)
	if fn.Kind == binding.FunctionConstructor {
		f.typed(c, types.Class(fn.Owner.Name))
	} else {
		f.typed(c, fn.Return)
	}
	return c
}

// invoke calls a value of function type.
func (f *fixture) invoke(fv ast.Expr, fk *types.Type, args ...ast.Expr) *ast.Call {
	inv := &binding.Function{Name: "invoke", Kind: binding.FunctionMember, Intrinsic: binding.IntrinsicInvoke,
		Operator: true, Return: fk.Return}
	for i, pk := range fk.Params {
		inv.Params = append(inv.Params, &binding.Parameter{Name: "p", Type: pk, Index: i, Function: inv})
	}
	c := &ast.Call{SpanVal: f.span(), Callee: fv}
	rc := &binding.ResolvedCall{Callee: inv, Dispatch: &binding.Receiver{Kind: binding.ReceiverExpression, Expr: fv, Type: fk}}
	for _, a := range args {
		c.Args = append(c.Args, &ast.Arg{Value: a})
		rc.Args = append(rc.Args, &binding.Argument{Kind: binding.ArgumentExpr, Expr: a})
	}
	f.tb.SetCall(c, rc)
	f.typed(c, fk.Return)
	return c
}

// ---------------------------------------------------------------------------
// Compiling and running
// ---------------------------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Parallelism = 2
	return cfg
}

func (f *fixture) compile(cfg Config) *Unit {
	f.t.Helper()
	u, err := Compile(context.Background(), f.file, f.tb, cfg)
	if err != nil {
		f.t.Fatalf("Compile: %v", err)
	}
	return u
}

// run compiles the file and calls a static function of the facade.
func (f *fixture) run(name, desc string, args ...any) any {
	f.t.Helper()
	u := f.compile(testConfig())
	in := vm.NewInterpreter(u.Classes...)
	r, err := in.Invoke(testFacade, name, desc, args...)
	if err != nil {
		f.t.Fatalf("%s%s: %v", name, desc, err)
	}
	return r
}

func method(t *testing.T, u *Unit, class, name, desc string) *vm.Method {
	t.Helper()
	c := u.Class(class)
	if c == nil {
		t.Fatalf("no class %s", class)
	}
	m := c.Method(name, desc)
	if m == nil {
		t.Fatalf("no method %s.%s%s", class, name, desc)
	}
	return m
}

func countOps(m *vm.Method, op vm.Opcode) int {
	n := 0
	for _, in := range m.Instructions {
		if in.Op == op {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Classes and member access
// ---------------------------------------------------------------------------

// class declares a class and its primary constructor. The declaration is
// not added to the file, so nested classes can use it too.
func (f *fixture) class(name string, kind binding.ClassKind, ps ...param) (*binding.Class, *binding.Function, *ast.ClassDecl) {
	cls := &binding.Class{Name: name, Kind: kind, Type: types.Class(name)}
	ctor := &binding.Function{Name: "<init>", Kind: binding.FunctionConstructor, Owner: cls, Return: types.Unit}
	cd := &ast.ClassDecl{SpanVal: f.span(), Name: cls.SimpleName(), Params: f.params(ctor, ps)}
	f.tb.Bind(cd, cls)
	return cls, ctor, cd
}

// member declares a member function of cls; the body is set by the caller.
func (f *fixture) member(cd *ast.ClassDecl, cls *binding.Class, name string, ret *types.Type, ps ...param) (*binding.Function, *ast.FunDecl) {
	fn := &binding.Function{Name: name, Kind: binding.FunctionMember, Owner: cls, Return: ret}
	fd := &ast.FunDecl{SpanVal: f.span(), Name: name, Params: f.params(fn, ps)}
	f.tb.Bind(fd, fn)
	cd.Funcs = append(cd.Funcs, fd)
	return fn, fd
}

// field declares a member property of cls.
func (f *fixture) field(cd *ast.ClassDecl, cls *binding.Class, name string, kt *types.Type, init ast.Expr) *binding.Property {
	pr := &binding.Property{Name: name, Type: kt, Owner: cls}
	pd := &ast.PropertyDecl{SpanVal: f.span(), Name: name, Init: init}
	f.tb.Bind(pd, pr)
	cd.Props = append(cd.Props, pd)
	return pr
}

// get reads prop of x; the result is used as the selector of a Dot.
func (f *fixture) get(x ast.Expr, xk *types.Type, prop *binding.Property) *ast.Name {
	n := f.ref(prop)
	f.tb.SetCall(n, &binding.ResolvedCall{Callee: prop,
		Dispatch: &binding.Receiver{Kind: binding.ReceiverExpression, Expr: x, Type: xk}})
	return n
}

// dot is x.fn(args) or x?.fn(args).
func (f *fixture) dot(x ast.Expr, xk *types.Type, fn *binding.Function, safe bool, args ...ast.Expr) *ast.Dot {
	c := f.call(fn, args...)
	f.tb.ResolvedCallOf(c).Dispatch = &binding.Receiver{Kind: binding.ReceiverExpression, Expr: x, Type: xk}
	return f.sel(x, c, safe, fn.Return)
}

// sel wraps a selector already bound to x.
func (f *fixture) sel(x, sel ast.Expr, safe bool, kt *types.Type) *ast.Dot {
	d := &ast.Dot{SpanVal: f.span(), X: x, Sel: sel, Safe: safe}
	f.typed(d, kt)
	return d
}

// arm is one branch of a when built by when.
type arm struct {
	cond ast.Expr
	body ast.Expr
}

// when builds `when (subj) { cond -> body ... else -> els }`.
func (f *fixture) when(subj ast.Expr, kt *types.Type, els ast.Expr, arms ...arm) *ast.When {
	w := &ast.When{SpanVal: f.span(), Subject: subj, Else: els}
	for _, a := range arms {
		w.Branches = append(w.Branches, &ast.WhenBranch{
			Conds: []*ast.WhenCond{{Kind: ast.CondExpr, Expr: a.cond}},
			Body:  a.body,
		})
	}
	f.typed(w, kt)
	return w
}

// varargCall calls fn, whose only parameter is a vararg, with elems.
func (f *fixture) varargCall(fn *binding.Function, kt *types.Type, elems ...binding.VarargElement) *ast.Call {
	c := &ast.Call{SpanVal: f.span(), Callee: &ast.Name{Ident: fn.Name}}
	for _, e := range elems {
		c.Args = append(c.Args, &ast.Arg{Value: e.Expr, Spread: e.Spread})
	}
	f.tb.SetCall(c, &binding.ResolvedCall{Callee: fn, Args: []*binding.Argument{
		{Kind: binding.ArgumentVararg, Elements: elems},
	}})
	f.typed(c, kt)
	return c
}

func findOps(m *vm.Method, op vm.Opcode, name string) []int {
	var at []int
	for i, in := range m.Instructions {
		if in.Op == op && in.Name == name {
			at = append(at, i)
		}
	}
	return at
}
