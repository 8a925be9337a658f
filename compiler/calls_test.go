package compiler

import (
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func TestSafeCallChainSharesNullExit(t *testing.T) {
	f := newFixture(t)
	nodeK := types.Class("test/Node")
	nodeN := types.Nullable(nodeK)
	node, ctor, cd := f.class(nodeK.Name, binding.ClassRegular, p("v", types.Int), p("next", nodeN))
	f.file.Classes = append(f.file.Classes, cd)
	vProp := f.field(cd, node, "v", types.Int, f.ref(ctor.Params[0]))
	nextProp := f.field(cd, node, "next", nodeN, f.ref(ctor.Params[1]))

	mk, mkd := f.fun("mk", nodeK, p("v", types.Int), p("next", nodeN))
	mkd.Body = f.call(ctor, f.ref(mk.Params[0]), f.ref(mk.Params[1]))

	// n?.next?.v
	fn, fd := f.fun("chain", types.Nullable(types.Int), p("n", nodeN))
	n := f.ref(fn.Params[0])
	inner := f.sel(n, f.get(n, nodeK, nextProp), true, nodeN)
	outer := f.sel(inner, f.get(inner, nodeK, vProp), true, types.Nullable(types.Int))
	fd.Body = f.block(f.ret(outer))

	u, in := f.interp(testConfig())
	const mkDesc = "(ILtest/Node;)Ltest/Node;"
	const desc = "(Ltest/Node;)Ljava/lang/Integer;"
	leaf := invoke(t, in, "mk", mkDesc, int32(7), nil)
	head := invoke(t, in, "mk", mkDesc, int32(1), leaf)

	for _, tc := range []struct {
		name string
		n    any
		want any
	}{
		{"two links", head, vm.Box("java/lang/Integer", int32(7))},
		{"one link", leaf, nil},
		{"null", nil, nil},
	} {
		got := invoke(t, in, "chain", desc, tc.n)
		if eq, err := in.Equals(got, tc.want); err != nil || !eq {
			t.Errorf("chain(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}

	m := method(t, u, testFacade, "chain", desc)
	if n := countOps(m, vm.OpACONST_NULL); n != 1 {
		t.Errorf("chain pushes null %d times, want a single shared null exit:\n%s", n, vm.Disassemble(m))
	}
	if n := countOps(m, vm.OpIFNULL); n != 2 {
		t.Errorf("chain tests %d receivers, want 2", n)
	}
	checkStatementHeights(t, m)
}

// pair declares kotlin.Pair with its constructor and component functions.
func (f *fixture) pair() (*binding.Function, *binding.Function, *binding.Function) {
	anyN := types.Nullable(types.Any)
	cls, ctor, _ := f.class("kotlin/Pair", binding.ClassRegular, p("first", anyN), p("second", anyN))
	c1 := &binding.Function{Name: "component1", Kind: binding.FunctionMember, Owner: cls, Return: anyN, Operator: true}
	c2 := &binding.Function{Name: "component2", Kind: binding.FunctionMember, Owner: cls, Return: anyN, Operator: true}
	return ctor, c1, c2
}

func TestDestructureSkipsPositions(t *testing.T) {
	f := newFixture(t)
	anyN := types.Nullable(types.Any)
	ctor, c1, c2 := f.pair()

	fn, fd := f.fun("second", anyN)
	b, bd := f.local(fn, "b", anyN, false, nil)
	f.tb.SetCall(bd, &binding.ResolvedCall{Callee: c2})
	d := &ast.Destructure{SpanVal: f.span(), Vars: []*ast.VarDecl{nil, bd},
		Init: f.call(ctor, f.lit("a"), f.lit("b"))}
	f.typed(d, types.Unit)
	fd.Body = f.block(d, f.ret(f.ref(b)))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "second", "()Ljava/lang/Object;"); got != "b" {
		t.Errorf("second() = %v, want b", got)
	}

	m := method(t, u, testFacade, "second", "()Ljava/lang/Object;")
	if n := len(findOps(m, vm.OpINVOKEVIRTUAL, c1.Name)); n != 0 {
		t.Errorf("a skipped position still calls component1:\n%s", vm.Disassemble(m))
	}
	calls := findOps(m, vm.OpINVOKEVIRTUAL, c2.Name)
	if len(calls) != 1 {
		t.Fatalf("component2 calls = %d, want 1", len(calls))
	}
	var lv *vm.LocalVariable
	for i := range m.Locals {
		if m.Locals[i].Name == "b" {
			lv = &m.Locals[i]
		}
	}
	if lv == nil {
		t.Fatal("no local variable entry for b")
	}
	if start := m.Labels[lv.Start]; start <= calls[0] {
		t.Errorf("b is in scope from %d, before its value is computed at %d", start, calls[0])
	}
	checkStatementHeights(t, m)
}

func TestDestructureRangesStartAfterInit(t *testing.T) {
	f := newFixture(t)
	anyN := types.Nullable(types.Any)
	ctor, c1, c2 := f.pair()

	fn, fd := f.fun("swap", anyN)
	a, ad := f.local(fn, "a", anyN, false, nil)
	f.tb.SetCall(ad, &binding.ResolvedCall{Callee: c1})
	b, bd := f.local(fn, "b", anyN, false, nil)
	f.tb.SetCall(bd, &binding.ResolvedCall{Callee: c2})
	d := &ast.Destructure{SpanVal: f.span(), Vars: []*ast.VarDecl{ad, bd},
		Init: f.call(ctor, f.lit("x"), f.lit("y"))}
	f.typed(d, types.Unit)
	swapped := f.call(ctor, f.ref(b), f.ref(a))
	fd.Body = f.block(d, f.ret(swapped))

	u, in := f.interp(testConfig())
	got := invoke(t, in, "swap", "()Ljava/lang/Object;")
	first, err := in.Invoke("kotlin/Pair", "component1", "()Ljava/lang/Object;", got)
	if err != nil || first != "y" {
		t.Errorf("swap().first = %v (%v), want y", first, err)
	}

	m := method(t, u, testFacade, "swap", "()Ljava/lang/Object;")
	ctorAt := -1
	for i, in := range m.Instructions {
		if in.Op == vm.OpINVOKESPECIAL && in.Owner == "kotlin/Pair" {
			ctorAt = i
			break
		}
	}
	for _, lv := range m.Locals {
		if lv.Name != "a" && lv.Name != "b" {
			continue
		}
		if start := m.Labels[lv.Start]; start <= ctorAt {
			t.Errorf("%s is in scope from %d, before the initializer completes at %d", lv.Name, start, ctorAt)
		}
	}
}

func TestLateinitLocal(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("late", types.String, p("set", types.Boolean))
	x, xd := f.local(fn, "x", types.String, true, nil)
	x.Lateinit = true
	fd.Body = f.block(xd,
		f.ifExpr(f.ref(fn.Params[0]), f.assign(ast.OpAssign, f.ref(x), f.lit("ok")), nil, types.Unit),
		f.ret(f.ref(x)))

	u, in := f.interp(testConfig())
	const desc = "(Z)Ljava/lang/String;"
	if got := invoke(t, in, "late", desc, int32(1)); got != "ok" {
		t.Errorf("late(true) = %v, want ok", got)
	}
	_, err := in.Invoke(testFacade, "late", desc, int32(0))
	if c := thrownClass(err); c != "kotlin/UninitializedPropertyAccessException" {
		t.Errorf("late(false): err = %v, want UninitializedPropertyAccessException", err)
	}
	checkStatementHeights(t, method(t, u, testFacade, "late", desc))
}

func TestDelegatedLocal(t *testing.T) {
	f := newFixture(t)
	anyN := types.Nullable(types.Any)
	kprop := types.Class("kotlin/reflect/KProperty")
	cell, cellCtor, cd := f.class("test/Cell", binding.ClassRegular, p("init", types.Int))
	f.file.Classes = append(f.file.Classes, cd)
	v := f.field(cd, cell, "v", types.Int, f.ref(cellCtor.Params[0]))
	v.Mutable = true

	get, gd := f.member(cd, cell, "getValue", types.Int, p("thisRef", anyN), p("property", kprop))
	get.Operator = true
	gd.Body = f.ref(v)
	set, sd := f.member(cd, cell, "setValue", types.Unit, p("thisRef", anyN), p("property", kprop), p("value", types.Int))
	set.Operator = true
	sd.Body = f.block(f.assign(ast.OpAssign, f.ref(v), f.ref(set.Params[2])))

	fn, fd := f.fun("deleg", types.Int)
	x := &binding.Variable{Name: "x", Type: types.Int, Mutable: true, Delegated: true, Function: fn}
	xd := &ast.VarDecl{SpanVal: f.span(), Name: "x", Delegate: f.call(cellCtor, f.lit(int32(1)))}
	f.tb.Bind(xd, x)
	f.typed(xd, types.Unit)
	f.tb.SetDelegate(xd, &binding.Delegate{Owner: cell.Name, GetValue: get, SetValue: set})
	fd.Body = f.block(xd,
		f.assign(ast.OpAssign, f.ref(x), f.bin(ast.OpAdd, f.ref(x), f.lit(int32(41)), types.Int)),
		f.ret(f.ref(x)))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "deleg", "()I"); got != int32(42) {
		t.Errorf("deleg() = %v, want 42", got)
	}

	m := method(t, u, testFacade, "deleg", "()I")
	if n := len(findOps(m, vm.OpINVOKEVIRTUAL, "getValue")); n != 2 {
		t.Errorf("getValue calls = %d, want 2", n)
	}
	if n := len(findOps(m, vm.OpINVOKEVIRTUAL, "setValue")); n != 1 {
		t.Errorf("setValue calls = %d, want 1", n)
	}
	refs := 0
	for _, in := range m.Instructions {
		if in.Op == vm.OpNEW && in.Type.InternalName() == "kotlin/jvm/internal/LocalVariableReference" {
			refs++
		}
	}
	if refs != 3 {
		t.Errorf("property references = %d, want one per access", refs)
	}
	checkStatementHeights(t, m)
}

func (f *fixture) intArrayOf() *binding.Function {
	arr := types.ArrayOf(types.Int)
	fn := &binding.Function{Name: "intArrayOf", Kind: binding.FunctionTopLevel, Facade: "kotlin/ArraysKt",
		Intrinsic: binding.IntrinsicArrayOf, Return: arr}
	fn.Params = []*binding.Parameter{{Name: "elements", Type: arr, Vararg: true, Function: fn}}
	return fn
}

func TestVarargSpreadCopiesUnlessFresh(t *testing.T) {
	f := newFixture(t)
	arr := types.ArrayOf(types.Int)
	poke, pd := f.fun("poke", types.Int, p("xs", arr))
	poke.Params[0].Vararg = true
	xs := poke.Params[0]
	at := func(i int32) *ast.Index {
		ix := &ast.Index{SpanVal: f.span(), X: f.ref(xs), Indices: []ast.Expr{f.lit(i)}}
		f.typed(ix, types.Int)
		return ix
	}
	pd.Body = f.block(f.assign(ast.OpAssign, at(0), f.lit(int32(99))), f.ret(at(1)))

	mkArr := f.intArrayOf()
	_, fresh := f.fun("spreadFresh", types.Int)
	lit := f.varargCall(mkArr, arr,
		binding.VarargElement{Expr: f.lit(int32(1))},
		binding.VarargElement{Expr: f.lit(int32(2))},
		binding.VarargElement{Expr: f.lit(int32(3))})
	fresh.Body = f.block(f.ret(f.varargCall(poke, types.Int, binding.VarargElement{Expr: lit, Spread: true})))

	keeps, kd := f.fun("spreadKeeps", types.Int, p("a", arr))
	a := keeps.Params[0]
	first := &ast.Index{SpanVal: f.span(), X: f.ref(a), Indices: []ast.Expr{f.lit(int32(0))}}
	f.typed(first, types.Int)
	kd.Body = f.block(
		f.varargCall(poke, types.Int, binding.VarargElement{Expr: f.ref(a), Spread: true}),
		f.ret(first))

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "spreadFresh", "()I"); got != int32(2) {
		t.Errorf("spreadFresh() = %v, want 2", got)
	}
	data := &vm.Array{Elem: vm.IntType, Data: []any{int32(1), int32(2), int32(3)}}
	if got := invoke(t, in, "spreadKeeps", "([I)I", data); got != int32(1) {
		t.Errorf("spreadKeeps() = %v, want 1", got)
	}
	if data.Data[0] != int32(1) {
		t.Errorf("the caller's array was modified: %v", data.Data)
	}

	fm := method(t, u, testFacade, "spreadFresh", "()I")
	if n := len(findOps(fm, vm.OpINVOKESTATIC, "copyOf")); n != 0 {
		t.Errorf("a fresh array is copied:\n%s", vm.Disassemble(fm))
	}
	km := method(t, u, testFacade, "spreadKeeps", "([I)I")
	if n := len(findOps(km, vm.OpINVOKESTATIC, "copyOf")); n != 1 {
		t.Errorf("copyOf calls = %d, want 1:\n%s", n, vm.Disassemble(km))
	}
	checkStatementHeights(t, km)
}
