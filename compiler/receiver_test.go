package compiler

import (
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func TestObjectUsesThisWhileConstructing(t *testing.T) {
	f := newFixture(t)
	reg, _, cd := f.class("test/Registry", binding.ClassObject)
	f.file.Classes = append(f.file.Classes, cd)
	twice, td := f.member(cd, reg, "twice", types.Int, p("x", types.Int))
	td.Body = f.bin(ast.OpMul, f.ref(twice.Params[0]), f.lit(int32(2)), types.Int)

	init := f.call(twice, f.lit(int32(21)))
	f.tb.ResolvedCallOf(init).Dispatch = &binding.Receiver{Kind: binding.ReceiverObject, Class: reg}
	total := f.field(cd, reg, "total", types.Int, init)

	_, fd := f.fun("total", types.Int)
	fd.Body = f.ref(total)
	_, vd := f.fun("viaObject", types.Int)
	outside := f.call(twice, f.lit(int32(4)))
	f.tb.ResolvedCallOf(outside).Dispatch = &binding.Receiver{Kind: binding.ReceiverObject, Class: reg}
	vd.Body = outside

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "total", "()I"); got != int32(42) {
		t.Errorf("total() = %v, want 42", got)
	}
	if got := invoke(t, in, "viaObject", "()I"); got != int32(8) {
		t.Errorf("viaObject() = %v, want 8", got)
	}

	ctor := method(t, u, reg.Name, "<init>", "()V")
	if n := len(findOps(ctor, vm.OpGETSTATIC, "INSTANCE")); n != 0 {
		t.Errorf("the constructor reads INSTANCE before it is assigned:\n%s", vm.Disassemble(ctor))
	}
	via := method(t, u, testFacade, "viaObject", "()I")
	if n := len(findOps(via, vm.OpGETSTATIC, "INSTANCE")); n != 1 {
		t.Errorf("calls from outside should go through INSTANCE:\n%s", vm.Disassemble(via))
	}
}

func TestInnerClassReachesOuterThroughThis0(t *testing.T) {
	f := newFixture(t)
	outer, outerCtor, ocd := f.class("test/Outer", binding.ClassRegular, p("k", types.Int))
	f.file.Classes = append(f.file.Classes, ocd)
	k := f.field(ocd, outer, "k", types.Int, f.ref(outerCtor.Params[0]))

	mid, midCtor, mcd := f.class("test/Outer$Mid", binding.ClassRegular)
	mid.Outer, mid.Inner = outer, true
	ocd.Classes = append(ocd.Classes, mcd)
	leaf, leafCtor, lcd := f.class("test/Outer$Mid$Leaf", binding.ClassRegular)
	leaf.Outer, leaf.Inner = mid, true
	mcd.Classes = append(mcd.Classes, lcd)

	get, gd := f.member(lcd, leaf, "get", types.Int)
	read := f.ref(k)
	f.tb.SetCall(read, &binding.ResolvedCall{Callee: k,
		Dispatch: &binding.Receiver{Kind: binding.ReceiverThis, Class: outer}})
	gd.Body = f.block(f.ret(read))

	leafFn, ld := f.member(mcd, mid, "leaf", types.Int)
	ld.Body = f.dot(f.call(leafCtor), leaf.Type, get, false)
	readFn, rd := f.member(ocd, outer, "read", types.Int)
	rd.Body = f.dot(f.call(midCtor), mid.Type, leafFn, false)

	fn, dd := f.fun("deep", types.Int, p("k", types.Int))
	dd.Body = f.dot(f.call(outerCtor, f.ref(fn.Params[0])), outer.Type, readFn, false)

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "deep", "(I)I", int32(5)); got != int32(5) {
		t.Errorf("deep(5) = %v, want 5", got)
	}

	m := method(t, u, leaf.Name, "get", "()I")
	hops := findOps(m, vm.OpGETFIELD, "this$0")
	if len(hops) != 2 {
		t.Fatalf("get follows %d this$0 fields, want 2:\n%s", len(hops), vm.Disassemble(m))
	}
	if o := m.Instructions[hops[0]].Owner; o != leaf.Name {
		t.Errorf("first hop reads %s.this$0", o)
	}
	if o := m.Instructions[hops[1]].Owner; o != mid.Name {
		t.Errorf("second hop reads %s.this$0", o)
	}
	method(t, u, leaf.Name, "<init>", "(Ltest/Outer$Mid;)V")
	method(t, u, mid.Name, "<init>", "(Ltest/Outer;)V")
	checkStatementHeights(t, m)
}
