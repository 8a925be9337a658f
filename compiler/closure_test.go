package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// closureClasses returns the generated lambda and reference classes.
func closureClasses(u *Unit) []*vm.Class {
	var out []*vm.Class
	for _, c := range u.Classes {
		if c.Super == lambdaClass || c.Super == suspendLambdaClass {
			out = append(out, c)
		}
	}
	return out
}

func (f *fixture) callableRef(target *binding.Function, fk *types.Type) *ast.CallableRef {
	r := &ast.CallableRef{SpanVal: f.span(), Name: target.Name}
	f.tb.Bind(r, target)
	f.typed(r, fk)
	return r
}

func TestLambdaSeesLaterWritesToCapturedVar(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("later", types.Int)
	x, xd := f.local(fn, "x", types.Int, true, f.lit(int32(1)))
	_, lam := f.lambda(fn, types.Int)
	lam.Body = f.block(f.ref(x))
	fk := types.Func(types.Int)
	g, gd := f.local(fn, "g", fk, false, lam)
	fd.Body = f.block(xd, gd,
		f.assign(ast.OpAssign, f.ref(x), f.lit(int32(5))),
		f.ret(f.invoke(f.ref(g), fk)))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "later", "()I"); got != int32(5) {
		t.Errorf("later() = %v, want 5", got)
	}
	cls := closureClasses(u)
	if len(cls) != 1 {
		t.Fatalf("closure classes = %d, want 1", len(cls))
	}
	if fs := cls[0].Fields; len(fs) != 1 || fs[0].Type.InternalName() != "kotlin/jvm/internal/Ref$IntRef" {
		t.Errorf("lambda fields = %v, want the shared IntRef cell", fs)
	}
	checkStatementHeights(t, method(t, u, testFacade, "later", "()I"))
}

func TestSuspendClosureConstructors(t *testing.T) {
	for _, tc := range []struct {
		name string
		make func(f *fixture, fn *binding.Function) ast.Expr
		desc string
	}{
		{"suspend lambda", func(f *fixture, fn *binding.Function) ast.Expr {
			lf, lam := f.lambda(fn, types.Int)
			lf.Suspend = true
			f.typed(lam, lf.Type())
			lam.Body = f.block(f.lit(int32(1)))
			return lam
		}, "(Lkotlin/coroutines/Continuation;)V"},
		{"crossinline suspend lambda", func(f *fixture, fn *binding.Function) ast.Expr {
			lf, lam := f.lambda(fn, types.Int)
			lf.Suspend, lf.Crossinline = true, true
			f.typed(lam, lf.Type())
			lam.Body = f.block(f.lit(int32(1)))
			return lam
		}, "()V"},
		{"suspend reference", func(f *fixture, fn *binding.Function) ast.Expr {
			fetch, fetchd := f.fun("fetch", types.Int)
			fetch.Suspend = true
			fetchd.Body = f.block(f.ret(f.lit(int32(3))))
			return f.callableRef(fetch, types.SuspendFunc(types.Int))
		}, "()V"},
	} {
		f := newFixture(t)
		fn, fd := f.fun("make", types.Any)
		fd.Body = f.block(f.ret(tc.make(f, fn)))

		u := f.compile(testConfig())
		cls := closureClasses(u)
		if len(cls) != 1 {
			t.Fatalf("%s: closure classes = %d, want 1", tc.name, len(cls))
		}
		if cls[0].Super != suspendLambdaClass {
			t.Errorf("%s: super = %s", tc.name, cls[0].Super)
		}
		if cls[0].Method("<init>", tc.desc) == nil {
			var have []string
			for _, m := range cls[0].Methods {
				have = append(have, m.Name+m.Desc)
			}
			t.Errorf("%s: no <init>%s among %v", tc.name, tc.desc, have)
		}
	}
}

func TestFunctionReference(t *testing.T) {
	f := newFixture(t)
	twice, td := f.fun("twice", types.Int, p("x", types.Int))
	td.Body = f.bin(ast.OpMul, f.ref(twice.Params[0]), f.lit(int32(2)), types.Int)

	fk := types.Func(types.Int, types.Int)
	fn, fd := f.fun("viaRef", types.Int)
	g, gd := f.local(fn, "g", fk, false, f.callableRef(twice, fk))
	fd.Body = f.block(gd, f.ret(f.invoke(f.ref(g), fk, f.lit(int32(21)))))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "viaRef", "()I"); got != int32(42) {
		t.Errorf("viaRef() = %v, want 42", got)
	}
	cls := closureClasses(u)
	if len(cls) != 1 || cls[0].Method("<init>", "()V") == nil {
		t.Errorf("an unbound reference should take no constructor arguments")
	}
}

func TestLambdaInReplicatedFinallyIsGeneratedOnce(t *testing.T) {
	f := newFixture(t)
	trace := f.prop("trace", types.Int, f.lit(int32(0)))
	fn, fd := f.fun("fin", types.Int, p("flag", types.Boolean))
	_, lam := f.lambda(fn, types.Unit)
	lam.Body = f.block(f.record(trace, 7))
	fk := types.Func(types.Unit)
	g, gd := f.local(fn, "g", fk, false, lam)

	body := f.block(
		f.ifExpr(f.ref(fn.Params[0]), f.ret(f.lit(int32(1))), nil, types.Unit),
		f.record(trace, 2),
	)
	fd.Body = f.block(
		f.try(types.Unit, body, f.block(gd, f.invoke(f.ref(g), fk))),
		f.ret(f.lit(int32(2))),
	)

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "fin", "(Z)I", int32(1)); got != int32(1) {
		t.Errorf("fin(true) = %v, want 1", got)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(7) {
		t.Errorf("trace = %v, want 7", got)
	}
	if got := invoke(t, in, "fin", "(Z)I", int32(0)); got != int32(2) {
		t.Errorf("fin(false) = %v, want 2", got)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(727) {
		t.Errorf("trace = %v, want 727", got)
	}

	if cls := closureClasses(u); len(cls) != 1 {
		var names []string
		for _, c := range cls {
			names = append(names, c.Name)
		}
		t.Errorf("closure classes = %v, want a single class shared by every copy of the finally block", names)
	}
	m := method(t, u, testFacade, "fin", "(Z)I")
	if n := countOps(m, vm.OpNEW); n < 2 {
		t.Errorf("finally copies instantiate the lambda %d times, want one per exit", n)
	}
}

func TestNonLocalReturnFromLambda(t *testing.T) {
	for _, tc := range []struct {
		inline bool
		want   string
	}{
		{true, "Non-local return from a lambda that is not inlined"},
		{false, "inlining disabled"},
	} {
		f := newFixture(t)
		fn, fd := f.fun("escape", types.Int)
		_, lam := f.lambda(fn, types.Int)
		ret := f.ret(f.lit(int32(1)))
		f.tb.Bind(ret, fn)
		lam.Body = f.block(ret)
		fk := types.Func(types.Int)
		g, gd := f.local(fn, "g", fk, false, lam)
		fd.Body = f.block(gd, f.ret(f.invoke(f.ref(g), fk)))

		cfg := testConfig()
		cfg.Inline = tc.inline
		u, in := f.interp(cfg)
		if len(u.Diagnostics) != 1 {
			t.Fatalf("inline=%v: diagnostics = %v, want one", tc.inline, u.Diagnostics)
		}
		d := u.Diagnostics[0]
		if !strings.Contains(d.Message, tc.want) {
			t.Errorf("inline=%v: diagnostic %q, want %q", tc.inline, d.Message, tc.want)
		}
		if d.Pos != ret.Span().Start {
			t.Errorf("inline=%v: diagnostic at %v, want the return at %v", tc.inline, d.Pos, ret.Span().Start)
		}
		_, err := in.Invoke(testFacade, "escape", "()I")
		if c := thrownClass(err); c != "java/lang/UnsupportedOperationException" {
			t.Errorf("inline=%v: escape() err = %v, want UnsupportedOperationException", tc.inline, err)
		}
	}
}
