package binding

import (
	"sync"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/types"
)

func TestTableLookups(t *testing.T) {
	tb := NewTable()
	c := &ast.Const{Value: int32(3)}
	n := &ast.Name{Ident: "x"}
	w := &ast.When{}
	v := &Variable{Name: "x", Type: types.Int}

	tb.SetType(c, types.Int)
	tb.SetConstant(c, int32(3))
	tb.Bind(n, v)
	tb.SetSmartCast(n, types.String)
	tb.SetExhaustive(w)

	if tb.TypeOf(c) != types.Int {
		t.Errorf("TypeOf = %v", tb.TypeOf(c))
	}
	if val, ok := tb.ConstantOf(c); !ok || val != int32(3) {
		t.Errorf("ConstantOf = %v, %v", val, ok)
	}
	if _, ok := tb.ConstantOf(n); ok {
		t.Error("ConstantOf(name) reported a constant")
	}
	if tb.DeclarationOf(n) != v {
		t.Errorf("DeclarationOf = %v", tb.DeclarationOf(n))
	}
	if tb.SmartCastOf(n) != types.String || tb.SmartCastOf(c) != nil {
		t.Error("smart casts mixed up")
	}
	if !tb.IsExhaustive(w) || tb.IsExhaustive(&ast.When{}) {
		t.Error("exhaustiveness mixed up")
	}
	if tb.ResolvedCallOf(n) != nil {
		t.Error("ResolvedCallOf(unresolved) != nil")
	}
}

func TestTableConcurrentReads(t *testing.T) {
	tb := NewTable()
	var exprs []ast.Expr
	for i := 0; i < 100; i++ {
		e := &ast.Const{Value: int32(i)}
		tb.SetType(e, types.Int)
		exprs = append(exprs, e)
	}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range exprs {
				if tb.TypeOf(e) != types.Int {
					t.Error("lost a type")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestResolvedCallCallee(t *testing.T) {
	fn := &Function{Name: "f"}
	if (&ResolvedCall{Callee: fn}).Function() != fn {
		t.Error("Function() lost the callee")
	}
	if (&ResolvedCall{Callee: fn}).Property() != nil {
		t.Error("Property() of a function call != nil")
	}
	p := &Property{Name: "p"}
	if (&ResolvedCall{Callee: p}).Property() != p {
		t.Error("Property() lost the callee")
	}
}

func TestDeclarationHelpers(t *testing.T) {
	outer := &Class{Name: "demo/Outer"}
	companion := &Class{Name: "demo/Outer$Companion", Kind: ClassCompanion, Outer: outer}
	if companion.SimpleName() != "Companion" || outer.SimpleName() != "Outer" {
		t.Errorf("simple names = %s, %s", companion.SimpleName(), outer.SimpleName())
	}
	if !companion.IsSingleton() || outer.IsSingleton() {
		t.Error("singleton kinds mixed up")
	}

	top := &Property{Name: "count", Facade: "demo/MainKt"}
	member := &Property{Name: "n", Owner: outer}
	shared := &Property{Name: "k", Owner: companion}
	if !top.IsStatic() || member.IsStatic() || !shared.IsStatic() {
		t.Error("property staticness mixed up")
	}
	if top.OwnerName() != "demo/MainKt" || member.OwnerName() != "demo/Outer" {
		t.Errorf("owner names = %s, %s", top.OwnerName(), member.OwnerName())
	}

	fn := &Function{Name: "go", Kind: FunctionLambda, Return: types.Int, Suspend: true, Receiver: types.String}
	fn.Params = []*Parameter{{Name: "a", Type: types.Long, Function: fn}, {Name: "b", Type: types.Int, HasDefault: true, Function: fn}}
	ft := fn.Type()
	if !ft.Suspend || len(ft.Params) != 3 || ft.Params[0] != types.String || ft.Return != types.Int {
		t.Errorf("Type() = %+v", ft)
	}
	if !fn.HasDefaults() {
		t.Error("HasDefaults() = false")
	}
	if fn.IsStatic() {
		t.Error("a lambda reported static")
	}
}
