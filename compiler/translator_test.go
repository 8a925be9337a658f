package compiler

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func (f *fixture) interp(cfg Config) (*Unit, *vm.Interpreter) {
	f.t.Helper()
	u := f.compile(cfg)
	return u, vm.NewInterpreter(u.Classes...)
}

func invoke(t *testing.T, in *vm.Interpreter, name, desc string, args ...any) any {
	t.Helper()
	r, err := in.Invoke(testFacade, name, desc, args...)
	if err != nil {
		t.Fatalf("%s%s: %v", name, desc, err)
	}
	return r
}

func thrownClass(err error) string {
	var th *vm.Thrown
	if errors.As(err, &th) {
		return th.Exception.Class
	}
	return ""
}

// trace = trace * 10 + k
func (f *fixture) record(trace *binding.Property, k int32) ast.Expr {
	return f.assign(ast.OpAssign, f.ref(trace),
		f.bin(ast.OpAdd, f.bin(ast.OpMul, f.ref(trace), f.lit(int32(10)), types.Int), f.lit(k), types.Int))
}

func TestArithmeticAndIf(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("diff", types.Int, p("a", types.Int), p("b", types.Int))
	a, b := fn.Params[0], fn.Params[1]
	fd.Body = f.block(f.ret(f.ifExpr(
		f.bin(ast.OpGt, f.ref(a), f.ref(b), types.Boolean),
		f.bin(ast.OpSub, f.ref(a), f.ref(b), types.Int),
		f.bin(ast.OpMul, f.bin(ast.OpAdd, f.ref(a), f.ref(b), types.Int), f.lit(int32(2)), types.Int),
		types.Int)))

	_, in := f.interp(testConfig())
	if got := invoke(t, in, "diff", "(II)I", int32(5), int32(3)); got != int32(2) {
		t.Errorf("diff(5, 3) = %v, want 2", got)
	}
	if got := invoke(t, in, "diff", "(II)I", int32(1), int32(2)); got != int32(6) {
		t.Errorf("diff(1, 2) = %v, want 6", got)
	}
}

func TestLongArithmeticWidens(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("scale", types.Long, p("x", types.Int))
	fd.Body = f.bin(ast.OpMul, f.ref(fn.Params[0]), f.lit(int64(3_000_000_000)), types.Long)

	if got := f.run("scale", "(I)J", int32(2)); got != int64(6_000_000_000) {
		t.Errorf("scale(2) = %v, want 6000000000", got)
	}
}

func (f *fixture) whenOnInt(name string, exhaustive bool, keys ...int32) {
	fn, fd := f.fun(name, types.Int, p("x", types.Int))
	w := &ast.When{SpanVal: f.span(), Subject: f.ref(fn.Params[0])}
	for _, k := range keys {
		w.Branches = append(w.Branches, &ast.WhenBranch{
			Conds: []*ast.WhenCond{{Kind: ast.CondExpr, Expr: f.lit(k)}},
			Body:  f.lit(k * 10),
		})
	}
	if !exhaustive {
		w.Else = f.lit(int32(-1))
	} else {
		f.tb.SetExhaustive(w)
	}
	f.typed(w, types.Int)
	fd.Body = f.block(f.ret(w))
}

func TestWhenSwitchTable(t *testing.T) {
	f := newFixture(t)
	f.whenOnInt("dense", false, 1, 2, 3, 4)
	f.whenOnInt("sparse", false, 1, 1000, -70000)
	u, in := f.interp(testConfig())

	dense := method(t, u, testFacade, "dense", "(I)I")
	if countOps(dense, vm.OpTABLESWITCH) != 1 {
		t.Errorf("dense keys did not compile to a tableswitch:\n%s", vm.Disassemble(dense))
	}
	sparse := method(t, u, testFacade, "sparse", "(I)I")
	if countOps(sparse, vm.OpLOOKUPSWITCH) != 1 {
		t.Errorf("sparse keys did not compile to a lookupswitch:\n%s", vm.Disassemble(sparse))
	}

	for _, tc := range []struct {
		name string
		x    int32
		want int32
	}{
		{"dense", 3, 30},
		{"dense", 9, -1},
		{"sparse", 1000, 10000},
		{"sparse", -70000, -700000},
		{"sparse", 5, -1},
	} {
		if got := invoke(t, in, tc.name, "(I)I", tc.x); got != tc.want {
			t.Errorf("%s(%d) = %v, want %d", tc.name, tc.x, got, tc.want)
		}
	}
}

func TestWhenChainWithoutTables(t *testing.T) {
	f := newFixture(t)
	f.whenOnInt("pick", false, 1, 2, 3)
	cfg := testConfig()
	cfg.SwitchTables = false
	u, in := f.interp(cfg)
	m := method(t, u, testFacade, "pick", "(I)I")
	if countOps(m, vm.OpTABLESWITCH)+countOps(m, vm.OpLOOKUPSWITCH) != 0 {
		t.Error("switch emitted with tables disabled")
	}
	if got := invoke(t, in, "pick", "(I)I", int32(2)); got != int32(20) {
		t.Errorf("pick(2) = %v, want 20", got)
	}
}

func TestExhaustiveWhenThrows(t *testing.T) {
	f := newFixture(t)
	f.whenOnInt("only", true, 1, 2)
	_, in := f.interp(testConfig())
	if got := invoke(t, in, "only", "(I)I", int32(2)); got != int32(20) {
		t.Errorf("only(2) = %v, want 20", got)
	}
	_, err := in.Invoke(testFacade, "only", "(I)I", int32(7))
	if c := thrownClass(err); c != "kotlin/NoWhenBranchMatchedException" {
		t.Errorf("only(7): err = %v, want NoWhenBranchMatchedException", err)
	}
}

func TestReturnThroughFinallyRunsItOnce(t *testing.T) {
	f := newFixture(t)
	trace := f.prop("trace", types.Int, f.lit(int32(0)))
	_, fd := f.fun("early", types.Int)
	fd.Body = f.block(
		f.try(types.Unit, f.block(f.ret(f.lit(int32(1)))), f.block(f.record(trace, 7))),
		f.ret(f.lit(int32(2))),
	)

	_, in := f.interp(testConfig())
	if got := invoke(t, in, "early", "()I"); got != int32(1) {
		t.Errorf("early() = %v, want 1", got)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(7) {
		t.Errorf("trace = %v, want 7", got)
	}
}

func TestNestedFinallyRunsInnermostFirst(t *testing.T) {
	f := newFixture(t)
	trace := f.prop("trace", types.Int, f.lit(int32(0)))
	_, fd := f.fun("nested", types.Int)
	inner := f.try(types.Unit, f.block(f.ret(f.lit(int32(5)))), f.block(f.record(trace, 1)))
	outer := f.try(types.Unit, f.block(inner), f.block(f.record(trace, 2)))
	fd.Body = f.block(outer, f.ret(f.lit(int32(0))))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "nested", "()I"); got != int32(5) {
		t.Errorf("nested() = %v, want 5", got)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(12) {
		t.Errorf("trace = %v, want 12", got)
	}
	m := method(t, u, testFacade, "nested", "()I")
	for _, tc := range m.TryCatch {
		if m.Labels[tc.Start] >= m.Labels[tc.End] {
			t.Errorf("empty handler range %d..%d", m.Labels[tc.Start], m.Labels[tc.End])
		}
	}
}

func TestFinallyRunsOnThrow(t *testing.T) {
	f := newFixture(t)
	trace := f.prop("trace", types.Int, f.lit(int32(0)))
	_, fd := f.fun("boom", types.Int)
	fd.Body = f.block(
		f.try(types.Unit, f.block(f.throw("java/lang/IllegalStateException")), f.block(f.record(trace, 3))),
		f.ret(f.lit(int32(0))),
	)

	_, in := f.interp(testConfig())
	_, err := in.Invoke(testFacade, "boom", "()I")
	if c := thrownClass(err); c != "java/lang/IllegalStateException" {
		t.Fatalf("boom(): err = %v, want IllegalStateException", err)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(3) {
		t.Errorf("trace = %v, want 3", got)
	}
}

func TestCatchSelectsByType(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ name, thrown string }{
		{"caught", "java/lang/IllegalStateException"},
		{"escapes", "java/lang/IllegalArgumentException"},
	} {
		_, fd := f.fun(tc.name, types.Int)
		catch := &ast.Catch{
			Param: &ast.Param{SpanVal: f.span(), Name: "e"},
			Type:  types.Class("java/lang/IllegalStateException"),
			Body:  f.block(f.lit(int32(2))),
		}
		body := f.block(f.throw(tc.thrown), f.lit(int32(1)))
		f.typed(body, types.Int)
		fd.Body = f.block(f.ret(f.try(types.Int, body, nil, catch)))
	}

	_, in := f.interp(testConfig())
	if got := invoke(t, in, "caught", "()I"); got != int32(2) {
		t.Errorf("caught() = %v, want 2", got)
	}
	_, err := in.Invoke(testFacade, "escapes", "()I")
	if c := thrownClass(err); c != "java/lang/IllegalArgumentException" {
		t.Errorf("escapes(): err = %v, want IllegalArgumentException", err)
	}
}

func TestLambdaWritesCapturedVar(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("counter", types.Int)
	x, xd := f.local(fn, "x", types.Int, true, f.lit(int32(1)))
	_, lam := f.lambda(fn, types.Unit)
	lam.Body = f.block(f.assign(ast.OpAddAssign, f.ref(x), f.lit(int32(41))))
	fk := types.Func(types.Unit)
	inc, incd := f.local(fn, "inc", fk, false, lam)
	fd.Body = f.block(xd, incd, f.invoke(f.ref(inc), fk), f.ret(f.ref(x)))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "counter", "()I"); got != int32(42) {
		t.Errorf("counter() = %v, want 42", got)
	}
	m := method(t, u, testFacade, "counter", "()I")
	if n := countOps(m, vm.OpNEW); n != 2 {
		t.Errorf("counter allocates %d objects, want the ref cell and the lambda", n)
	}
}

func TestLambdaCapturesValues(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("mk", types.Int, p("a", types.Int))
	a := fn.Params[0]
	b, bd := f.local(fn, "b", types.Int, false, f.lit(int32(10)))
	_, lam := f.lambda(fn, types.Int)
	lam.Body = f.block(f.bin(ast.OpAdd, f.bin(ast.OpMul, f.ref(a), f.lit(int32(100)), types.Int), f.ref(b), types.Int))
	fk := types.Func(types.Int)
	g, gd := f.local(fn, "g", fk, false, lam)
	fd.Body = f.block(bd, gd, f.ret(f.invoke(f.ref(g), fk)))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "mk", "(I)I", int32(3)); got != int32(310) {
		t.Errorf("mk(3) = %v, want 310", got)
	}
	var lambdaClass *vm.Class
	for _, c := range u.Classes {
		if c.Name != testFacade {
			lambdaClass = c
		}
	}
	if lambdaClass == nil {
		t.Fatal("no lambda class generated")
	}
	if len(lambdaClass.Fields) != 2 {
		t.Errorf("lambda class has %d fields, want one per captured value", len(lambdaClass.Fields))
	}
}

func TestDefaultArguments(t *testing.T) {
	f := newFixture(t)
	d, dd := f.fun("d", types.Int, p("a", types.Int), p("b", types.Int))
	d.Params[1].HasDefault = true
	dd.Params[1].Default = f.bin(ast.OpMul, f.ref(d.Params[0]), f.lit(int32(2)), types.Int)
	dd.Body = f.bin(ast.OpAdd, f.ref(d.Params[0]), f.ref(d.Params[1]), types.Int)

	_, ud := f.fun("useD", types.Int)
	ud.Body = f.bin(ast.OpAdd, f.call(d, f.lit(int32(3))), f.call(d, f.lit(int32(1)), f.lit(int32(1))), types.Int)

	u, in := f.interp(testConfig())
	method(t, u, testFacade, "d$default", "(IIILjava/lang/Object;)I")
	if got := invoke(t, in, "useD", "()I"); got != int32(11) {
		t.Errorf("useD() = %v, want 11", got)
	}
}

func TestSuspendCallMarkers(t *testing.T) {
	f := newFixture(t)
	fetch, _ := f.fun("fetch", types.Int)
	fetch.Suspend = true
	caller, cd := f.fun("caller", types.Int)
	caller.Suspend = true
	cd.Body = f.bin(ast.OpAdd, f.call(fetch), f.lit(int32(1)), types.Int)

	u := f.compile(testConfig())
	m := method(t, u, testFacade, "caller", "(Lkotlin/coroutines/Continuation;)Ljava/lang/Object;")
	var seq []string
	for _, in := range m.Instructions {
		switch {
		case in.Op == vm.OpMARKER && vm.MarkerKind(in.Operand) == vm.MarkerBeforeSuspendCall:
			seq = append(seq, "before")
		case in.Op == vm.OpMARKER && vm.MarkerKind(in.Operand) == vm.MarkerAfterSuspendCall:
			seq = append(seq, "after")
		case in.Op == vm.OpINVOKESTATIC && in.Name == "fetch":
			seq = append(seq, "call")
		}
	}
	if len(seq) != 3 || seq[0] != "before" || seq[1] != "call" || seq[2] != "after" {
		t.Errorf("suspend call sequence = %v, want [before call after]", seq)
	}
}

func TestFloatEqualityPolicy(t *testing.T) {
	nd := types.Nullable(types.Double)
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		fn, fd := f.fun("same", types.Boolean, p("x", nd), p("y", nd))
		fd.Body = f.bin(ast.OpEq, f.ref(fn.Params[0]), f.ref(fn.Params[1]), types.Boolean)
		return f
	}
	const desc = "(Ljava/lang/Double;Ljava/lang/Double;)Z"
	box := func(v float64) any { return vm.Box("java/lang/Double", v) }

	for _, tc := range []struct {
		policy FloatEquality
		x, y   float64
		want   int32
	}{
		{FloatEqualityIEEE754, math.NaN(), math.NaN(), 0},
		{FloatEqualityIEEE754, 0, math.Copysign(0, -1), 1},
		{FloatEqualityLegacy, math.NaN(), math.NaN(), 1},
		{FloatEqualityLegacy, 0, math.Copysign(0, -1), 0},
		{FloatEqualityLegacy, 1.5, 1.5, 1},
	} {
		f := build(t)
		cfg := testConfig()
		cfg.FloatEquality = tc.policy
		_, in := f.interp(cfg)
		if got := invoke(t, in, "same", desc, box(tc.x), box(tc.y)); got != tc.want {
			t.Errorf("%v: %v == %v is %v, want %d", tc.policy, tc.x, tc.y, got, tc.want)
		}
	}
}

func TestCompoundIndexEvaluatesOperandsOnce(t *testing.T) {
	f := newFixture(t)
	trace := f.prop("trace", types.Int, f.lit(int32(0)))
	_, nd := f.fun("next", types.Int)
	next := f.tb.DeclarationOf(nd).(*binding.Function)
	nd.Body = f.block(
		f.assign(ast.OpAssign, f.ref(trace), f.bin(ast.OpAdd, f.ref(trace), f.lit(int32(1)), types.Int)),
		f.ret(f.lit(int32(1))),
	)

	arr := types.ArrayOf(types.Int)
	fn, fd := f.fun("bump", types.Int, p("a", arr))
	a := fn.Params[0]
	target := &ast.Index{SpanVal: f.span(), X: f.ref(a), Indices: []ast.Expr{f.call(next)}}
	f.typed(target, types.Int)
	read := &ast.Index{SpanVal: f.span(), X: f.ref(a), Indices: []ast.Expr{f.lit(int32(1))}}
	f.typed(read, types.Int)
	fd.Body = f.block(f.assign(ast.OpAddAssign, target, f.lit(int32(5))), f.ret(read))

	u, in := f.interp(testConfig())
	data := &vm.Array{Elem: vm.IntType, Data: []any{int32(10), int32(20), int32(30)}}
	if got := invoke(t, in, "bump", "([I)I", data); got != int32(25) {
		t.Errorf("bump() = %v, want 25", got)
	}
	if got := invoke(t, in, "getTrace", "()I"); got != int32(1) {
		t.Errorf("index evaluated %v times, want once", got)
	}
	m := method(t, u, testFacade, "bump", "([I)I")
	if m.MaxStack != 4 {
		t.Errorf("MaxStack = %d, want 4", m.MaxStack)
	}
}

func TestClassWithPropertyAndMethod(t *testing.T) {
	f := newFixture(t)
	cls := &binding.Class{Name: "test/Counter", Type: types.Class("test/Counter")}
	ctor := &binding.Function{Name: "<init>", Kind: binding.FunctionConstructor, Owner: cls, Return: types.Unit}
	cd := &ast.ClassDecl{SpanVal: f.span(), Name: "Counter", Params: f.params(ctor, []param{p("start", types.Int)})}
	f.tb.Bind(cd, cls)

	n := &binding.Property{Name: "n", Type: types.Int, Owner: cls, Mutable: true}
	nd := &ast.PropertyDecl{SpanVal: f.span(), Name: "n", Init: f.ref(ctor.Params[0])}
	f.tb.Bind(nd, n)
	cd.Props = append(cd.Props, nd)

	inc := &binding.Function{Name: "inc", Kind: binding.FunctionMember, Owner: cls, Return: types.Int}
	incd := &ast.FunDecl{SpanVal: f.span(), Name: "inc", Body: f.block(
		f.assign(ast.OpAssign, f.ref(n), f.bin(ast.OpAdd, f.ref(n), f.lit(int32(1)), types.Int)),
		f.ret(f.ref(n)),
	)}
	f.tb.Bind(incd, inc)
	cd.Funcs = append(cd.Funcs, incd)
	f.file.Classes = append(f.file.Classes, cd)

	fn, fd := f.fun("useCounter", types.Int)
	c, cvd := f.local(fn, "c", cls.Type, false, f.call(ctor, f.lit(int32(5))))
	callInc := func() ast.Expr {
		x := f.ref(c)
		call := &ast.Call{SpanVal: f.span(), Callee: &ast.Name{Ident: "inc"}}
		f.tb.SetCall(call, &binding.ResolvedCall{
			Callee:   inc,
			Dispatch: &binding.Receiver{Kind: binding.ReceiverExpression, Expr: x, Type: cls.Type},
		})
		f.typed(call, types.Int)
		d := &ast.Dot{SpanVal: f.span(), X: x, Sel: call}
		f.typed(d, types.Int)
		return d
	}
	fd.Body = f.block(cvd, callInc(), f.ret(callInc()))

	u, in := f.interp(testConfig())
	method(t, u, "test/Counter", "getN", "()I")
	method(t, u, "test/Counter", "<init>", "(I)V")
	if got := invoke(t, in, "useCounter", "()I"); got != int32(7) {
		t.Errorf("useCounter() = %v, want 7", got)
	}
}

func TestParallelismDoesNotChangeOutput(t *testing.T) {
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			fn, fd := f.fun(name, types.Int, p("x", types.Int))
			fd.Body = f.bin(ast.OpMul, f.ref(fn.Params[0]), f.lit(int32(len(name)+1)), types.Int)
		}
		return f
	}
	render := func(u *Unit) string {
		out := ""
		for _, c := range u.Classes {
			for _, m := range c.Methods {
				out += c.Name + "." + m.Name + m.Desc + "\n" + vm.Disassemble(m)
			}
		}
		return out
	}
	seq := testConfig()
	seq.Parallelism = 1
	par := testConfig()
	par.Parallelism = 8
	a := render(build(t).compile(seq))
	b := render(build(t).compile(par))
	if a != b {
		t.Errorf("output differs between sequential and parallel compilation:\n%s\n---\n%s", a, b)
	}
}
