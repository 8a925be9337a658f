package compiler

import (
	"math"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func TestInlineClassEqualityUsesEqualsImpl(t *testing.T) {
	f := newFixture(t)
	cls, _, cd := f.class("test/Meters", binding.ClassInline, p("v", types.Int))
	cls.Type = types.Inline(cls.Name, types.Int)
	f.file.Classes = append(f.file.Classes, cd)

	fn, fd := f.fun("same", types.Boolean, p("a", cls.Type), p("b", cls.Type))
	fd.Body = f.bin(ast.OpEq, f.ref(fn.Params[0]), f.ref(fn.Params[1]), types.Boolean)

	u, in := f.interp(testConfig())
	if got := invoke(t, in, "same", "(II)Z", int32(3), int32(3)); got != int32(1) {
		t.Errorf("same(3, 3) = %v", got)
	}
	if got := invoke(t, in, "same", "(II)Z", int32(3), int32(4)); got != int32(0) {
		t.Errorf("same(3, 4) = %v", got)
	}

	m := method(t, u, testFacade, "same", "(II)Z")
	calls := findOps(m, vm.OpINVOKESTATIC, "equals-impl0")
	if len(calls) != 1 || m.Instructions[calls[0]].Owner != cls.Name {
		t.Errorf("value class == should call %s.equals-impl0:\n%s", cls.Name, vm.Disassemble(m))
	}
	if countOps(m, vm.OpNEW) != 0 {
		t.Error("value class == should not box")
	}
	if method(t, u, cls.Name, "equals-impl0", "(II)Z") == nil {
		t.Error("no equals-impl0")
	}
}

func TestNullableIntAgainstInt(t *testing.T) {
	f := newFixture(t)
	fn, fd := f.fun("eqBoxed", types.Boolean, p("a", types.Nullable(types.Int)), p("b", types.Int))
	fd.Body = f.bin(ast.OpEq, f.ref(fn.Params[0]), f.ref(fn.Params[1]), types.Boolean)

	u, in := f.interp(testConfig())
	const desc = "(Ljava/lang/Integer;I)Z"
	box := func(v int32) any { return vm.Box("java/lang/Integer", v) }
	for _, tc := range []struct {
		a    any
		b    int32
		want int32
	}{
		{nil, 5, 0},
		{box(5), 5, 1},
		{box(5), 6, 0},
		// Outside the small-box cache: equality is by value, not identity.
		{box(1000), 1000, 1},
	} {
		if got := invoke(t, in, "eqBoxed", desc, tc.a, tc.b); got != tc.want {
			t.Errorf("eqBoxed(%v, %d) = %v, want %d", tc.a, tc.b, got, tc.want)
		}
	}

	m := method(t, u, testFacade, "eqBoxed", desc)
	if len(findOps(m, vm.OpINVOKESTATIC, "valueOf")) != 0 {
		t.Errorf("the primitive side should not be boxed:\n%s", vm.Disassemble(m))
	}
	if len(findOps(m, vm.OpINVOKESTATIC, "areEqual")) != 0 {
		t.Error("Int? == Int should compare unboxed values")
	}
}

func TestNullableDoubleAgainstDouble(t *testing.T) {
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		fn, fd := f.fun("same", types.Boolean, p("x", types.Nullable(types.Double)), p("y", types.Double))
		fd.Body = f.bin(ast.OpEq, f.ref(fn.Params[0]), f.ref(fn.Params[1]), types.Boolean)
		return f
	}
	const desc = "(Ljava/lang/Double;D)Z"
	box := func(v float64) any { return vm.Box("java/lang/Double", v) }
	negZero := math.Copysign(0, -1)

	legacy := testConfig()
	legacy.FloatEquality = FloatEqualityLegacy
	ieee := testConfig()
	ieee.FloatEquality = FloatEqualityIEEE754

	for _, tc := range []struct {
		name string
		cfg  Config
		x    any
		y    float64
		want int32
	}{
		{"default", testConfig(), box(math.NaN()), math.NaN(), 1},
		{"legacy", legacy, box(math.NaN()), math.NaN(), 1},
		{"legacy", legacy, box(0), negZero, 0},
		{"legacy", legacy, nil, 1, 0},
		{"ieee754", ieee, box(math.NaN()), math.NaN(), 0},
		{"ieee754", ieee, box(0), negZero, 1},
		{"ieee754", ieee, box(2.5), 2.5, 1},
		{"ieee754", ieee, nil, 1, 0},
	} {
		f := build(t)
		u, in := f.interp(tc.cfg)
		if got := invoke(t, in, "same", desc, tc.x, tc.y); got != tc.want {
			t.Errorf("%s: %v == %v is %v, want %d", tc.name, tc.x, tc.y, got, tc.want)
		}
		m := method(t, u, testFacade, "same", desc)
		typed := findOps(m, vm.OpINVOKESTATIC, "areEqual")
		if len(typed) != 1 {
			t.Fatalf("%s: areEqual calls = %d", tc.name, len(typed))
		}
		wantDesc := "(Ljava/lang/Object;Ljava/lang/Object;)Z"
		if tc.cfg.FloatEquality == FloatEqualityIEEE754 {
			wantDesc = desc
		}
		if got := m.Instructions[typed[0]].Desc; got != wantDesc {
			t.Errorf("%s: areEqual%s, want %s", tc.name, got, wantDesc)
		}
	}
}

func TestDefaultFloatEqualityIsLegacy(t *testing.T) {
	if got := DefaultConfig().FloatEquality; got != FloatEqualityLegacy {
		t.Errorf("default float equality = %v, want legacy", got)
	}
}
