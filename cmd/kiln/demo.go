package main

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
)

// sample hands the compiler a small resolved file, standing in for a
// front end:
//
//	fun fib(n: Int): Int = if (n < 2) n else fib(n - 1) + fib(n - 2)
//
//	fun grade(score: Int): Int = when (score / 10) {
//	    10, 9 -> 4
//	    8 -> 3
//	    7 -> 2
//	    6 -> 1
//	    else -> 0
//	}
//
//	fun safeDiv(a: Int, b: Int): Int =
//	    try { a / b } catch (e: ArithmeticException) { -1 }
type sample struct {
	tb     *binding.Table
	file   *ast.File
	facade string
	line   int
}

func newSample(facade string) *sample {
	s := &sample{tb: binding.NewTable(), file: &ast.File{Facade: facade}, facade: facade}
	s.fib()
	s.grade()
	s.safeDiv()
	return s
}

func (s *sample) span() ast.Span {
	s.line++
	return ast.Span{Start: ast.Position{Line: s.line, Column: 1}}
}

func (s *sample) lit(v int32) ast.Expr {
	c := &ast.Const{SpanVal: s.span(), Value: v}
	s.tb.SetType(c, types.Int)
	return c
}

func (s *sample) ref(p *binding.Parameter) ast.Expr {
	n := &ast.Name{SpanVal: s.span(), Ident: p.Name}
	s.tb.Bind(n, p)
	s.tb.SetType(n, p.Type)
	return n
}

func (s *sample) bin(op ast.Op, l, r ast.Expr, kt *types.Type) ast.Expr {
	b := &ast.Binary{SpanVal: s.span(), Op: op, Left: l, Right: r}
	s.tb.SetType(b, kt)
	return b
}

func (s *sample) fun(name string, params ...string) (*binding.Function, *ast.FunDecl) {
	fn := &binding.Function{Name: name, Kind: binding.FunctionTopLevel, Facade: s.facade, Return: types.Int}
	fd := &ast.FunDecl{SpanVal: s.span(), Name: name}
	for i, p := range params {
		bp := &binding.Parameter{Name: p, Type: types.Int, Index: i, Function: fn}
		fn.Params = append(fn.Params, bp)
		ap := &ast.Param{SpanVal: s.span(), Name: p}
		s.tb.Bind(ap, bp)
		fd.Params = append(fd.Params, ap)
	}
	s.tb.Bind(fd, fn)
	s.file.Funcs = append(s.file.Funcs, fd)
	return fn, fd
}

func (s *sample) call(fn *binding.Function, args ...ast.Expr) ast.Expr {
	c := &ast.Call{SpanVal: s.span(), Callee: &ast.Name{Ident: fn.Name}}
	rc := &binding.ResolvedCall{Callee: fn}
	for _, a := range args {
		c.Args = append(c.Args, &ast.Arg{Value: a})
		rc.Args = append(rc.Args, &binding.Argument{Kind: binding.ArgumentExpr, Expr: a})
	}
	s.tb.SetCall(c, rc)
	s.tb.SetType(c, fn.Return)
	return c
}

func (s *sample) fib() {
	fn, fd := s.fun("fib", "n")
	n := fn.Params[0]
	cond := &ast.If{
		SpanVal: s.span(),
		Cond:    s.bin(ast.OpLt, s.ref(n), s.lit(2), types.Boolean),
		Then:    s.ref(n),
		Else: s.bin(ast.OpAdd,
			s.call(fn, s.bin(ast.OpSub, s.ref(n), s.lit(1), types.Int)),
			s.call(fn, s.bin(ast.OpSub, s.ref(n), s.lit(2), types.Int)),
			types.Int),
	}
	s.tb.SetType(cond, types.Int)
	fd.Body = cond
}

func (s *sample) grade() {
	fn, fd := s.fun("grade", "score")
	w := &ast.When{SpanVal: s.span(), Subject: s.bin(ast.OpDiv, s.ref(fn.Params[0]), s.lit(10), types.Int)}
	arms := []struct {
		keys   []int32
		result int32
	}{{[]int32{10, 9}, 4}, {[]int32{8}, 3}, {[]int32{7}, 2}, {[]int32{6}, 1}}
	for _, a := range arms {
		br := &ast.WhenBranch{Body: s.lit(a.result)}
		for _, k := range a.keys {
			br.Conds = append(br.Conds, &ast.WhenCond{SpanVal: s.span(), Kind: ast.CondExpr, Expr: s.lit(k)})
		}
		w.Branches = append(w.Branches, br)
	}
	w.Else = s.lit(0)
	s.tb.SetType(w, types.Int)
	fd.Body = w
}

func (s *sample) safeDiv() {
	fn, fd := s.fun("safeDiv", "a", "b")
	exc := types.Class("java/lang/ArithmeticException")
	e := &binding.Variable{Name: "e", Type: exc, Function: fn}
	param := &ast.Param{SpanVal: s.span(), Name: "e"}
	s.tb.Bind(param, e)

	body := &ast.Block{SpanVal: s.span(), Stmts: []ast.Expr{
		s.bin(ast.OpDiv, s.ref(fn.Params[0]), s.ref(fn.Params[1]), types.Int),
	}}
	s.tb.SetType(body, types.Int)
	handler := &ast.Block{SpanVal: s.span(), Stmts: []ast.Expr{s.lit(-1)}}
	s.tb.SetType(handler, types.Int)

	try := &ast.Try{
		SpanVal: s.span(),
		Body:    body,
		Catches: []*ast.Catch{{Param: param, Type: exc, Body: handler}},
	}
	s.tb.SetType(try, types.Int)
	fd.Body = try
}
