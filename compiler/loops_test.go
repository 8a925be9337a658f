package compiler

import (
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func (f *fixture) jump(n ast.Expr) ast.Expr {
	f.typed(n, types.Nothing)
	return n
}

func (f *fixture) sumOver(name string, op ast.Op) {
	fn, fd := f.fun(name, types.Int, p("n", types.Int))
	acc, accd := f.local(fn, "acc", types.Int, true, f.lit(int32(0)))
	i, id := f.local(fn, "i", types.Int, false, nil)
	loop := &ast.For{SpanVal: f.span(), Var: id,
		Iter: f.bin(op, f.lit(int32(1)), f.ref(fn.Params[0]), types.Class(intRange)),
		Body: f.block(f.assign(ast.OpAddAssign, f.ref(acc), f.ref(i)))}
	f.typed(loop, types.Unit)
	fd.Body = f.block(accd, loop, f.ret(f.ref(acc)))
}

func TestForOverRangeLiteral(t *testing.T) {
	f := newFixture(t)
	f.sumOver("upTo", ast.OpRange)
	f.sumOver("below", ast.OpUntil)
	u, in := f.interp(testConfig())

	for _, tc := range []struct {
		name string
		n    int32
		want int32
	}{
		{"upTo", 4, 10},
		{"upTo", 1, 1},
		{"upTo", 0, 0},
		{"below", 4, 6},
		{"below", 1, 0},
	} {
		if got := invoke(t, in, tc.name, "(I)I", tc.n); got != tc.want {
			t.Errorf("%s(%d) = %v, want %d", tc.name, tc.n, got, tc.want)
		}
	}

	m := method(t, u, testFacade, "upTo", "(I)I")
	if countOps(m, vm.OpNEW) != 0 {
		t.Error("a range literal loop allocated a range")
	}
	if countOps(m, vm.OpIINC) != 1 {
		t.Error("a range literal loop does not count with IINC")
	}
}

func TestWhileBreakContinue(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("oddHits", types.Int, p("n", types.Int))
	n := fn.Params[0]
	i, id := f.local(fn, "i", types.Int, true, f.lit(int32(0)))
	hits, hd := f.local(fn, "hits", types.Int, true, f.lit(int32(0)))
	even := f.bin(ast.OpEq, f.bin(ast.OpRem, f.ref(i), f.lit(int32(2)), types.Int), f.lit(int32(0)), types.Boolean)
	loop := &ast.While{SpanVal: f.span(),
		Cond: f.bin(ast.OpLt, f.ref(i), f.ref(n), types.Boolean),
		Body: f.block(
			f.assign(ast.OpAddAssign, f.ref(i), f.lit(int32(1))),
			f.ifExpr(even, f.jump(&ast.Continue{SpanVal: f.span()}), nil, types.Unit),
			f.ifExpr(f.bin(ast.OpGt, f.ref(i), f.lit(int32(7)), types.Boolean),
				f.jump(&ast.Break{SpanVal: f.span()}), nil, types.Unit),
			f.assign(ast.OpAddAssign, f.ref(hits), f.lit(int32(1))),
		)}
	f.typed(loop, types.Unit)
	fd.Body = f.block(id, hd, loop, f.ret(f.ref(hits)))

	_, in := f.interp(testConfig())
	for _, tc := range []struct{ n, want int32 }{{0, 0}, {4, 2}, {20, 4}} {
		if got := invoke(t, in, "oddHits", "(I)I", tc.n); got != tc.want {
			t.Errorf("oddHits(%d) = %v, want %d", tc.n, got, tc.want)
		}
	}
}

func TestStringTemplate(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("greet", types.String, p("name", types.String), p("n", types.Int))
	tpl := &ast.Template{SpanVal: f.span(), Parts: []ast.Expr{
		f.lit("hi "), f.ref(fn.Params[0]), f.lit(" x"), f.ref(fn.Params[1]),
	}}
	f.typed(tpl, types.String)
	fd.Body = f.block(f.ret(tpl))

	_, in := f.interp(testConfig())
	if got := invoke(t, in, "greet", "(Ljava/lang/String;I)Ljava/lang/String;", "bo", int32(3)); got != "hi bo x3" {
		t.Errorf("greet = %q, want %q", got, "hi bo x3")
	}
}

func TestTypeChecksAndCasts(t *testing.T) {
	f := newFixture(t)
	anyN := types.Nullable(types.Any)
	strN := types.Nullable(types.String)

	isFn, isd := f.fun("isStr", types.Boolean, p("x", anyN))
	is := &ast.Is{SpanVal: f.span(), X: f.ref(isFn.Params[0]), Type: types.String}
	f.typed(is, types.Boolean)
	isd.Body = f.block(f.ret(is))

	asFn, asd := f.fun("asStr", types.String, p("x", anyN))
	as := &ast.As{SpanVal: f.span(), X: f.ref(asFn.Params[0]), Type: types.String}
	f.typed(as, types.String)
	asd.Body = f.block(f.ret(as))

	safeFn, safed := f.fun("maybeStr", strN, p("x", anyN))
	safe := &ast.As{SpanVal: f.span(), X: f.ref(safeFn.Params[0]), Type: types.String, Safe: true}
	f.typed(safe, strN)
	safed.Body = f.block(f.ret(safe))

	bangFn, bangd := f.fun("bang", types.String, p("x", strN))
	bang := &ast.Postfix{SpanVal: f.span(), Op: ast.OpNotNull, X: f.ref(bangFn.Params[0])}
	f.typed(bang, types.String)
	bangd.Body = f.block(f.ret(bang))

	_, in := f.interp(testConfig())
	obj := &vm.Object{Class: "java/lang/Object"}

	if got := invoke(t, in, "isStr", "(Ljava/lang/Object;)Z", "s"); got != int32(1) {
		t.Errorf(`isStr("s") = %v`, got)
	}
	for _, x := range []any{nil, obj} {
		if got := invoke(t, in, "isStr", "(Ljava/lang/Object;)Z", x); got != int32(0) {
			t.Errorf("isStr(%v) = %v", x, got)
		}
	}

	const asDesc = "(Ljava/lang/Object;)Ljava/lang/String;"
	if got := invoke(t, in, "asStr", asDesc, "s"); got != "s" {
		t.Errorf(`asStr("s") = %v`, got)
	}
	if _, err := in.Invoke(testFacade, "asStr", asDesc, obj); thrownClass(err) != "java/lang/ClassCastException" {
		t.Errorf("asStr(object): err = %v, want ClassCastException", err)
	}
	if _, err := in.Invoke(testFacade, "asStr", asDesc, nil); thrownClass(err) != "java/lang/NullPointerException" {
		t.Errorf("asStr(null): err = %v, want NullPointerException", err)
	}

	if got := invoke(t, in, "maybeStr", asDesc, "s"); got != "s" {
		t.Errorf(`maybeStr("s") = %v`, got)
	}
	if got := invoke(t, in, "maybeStr", asDesc, obj); got != nil {
		t.Errorf("maybeStr(object) = %v, want null", got)
	}

	const bangDesc = "(Ljava/lang/String;)Ljava/lang/String;"
	if got := invoke(t, in, "bang", bangDesc, "s"); got != "s" {
		t.Errorf(`bang("s") = %v`, got)
	}
	if _, err := in.Invoke(testFacade, "bang", bangDesc, nil); thrownClass(err) != "java/lang/NullPointerException" {
		t.Errorf("bang(null): err = %v, want NullPointerException", err)
	}
}
