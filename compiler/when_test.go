package compiler

import (
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

func TestStringWhenWithCollidingHashes(t *testing.T) {
	if vm.StringHash("Aa") != vm.StringHash("BB") {
		t.Fatal(`"Aa" and "BB" should share a hash code`)
	}
	f := newFixture(t)
	strN := types.Nullable(types.String)
	fn, fd := f.fun("code", types.Int, p("s", strN))
	s := fn.Params[0]
	fd.Body = f.block(f.ret(f.when(f.ref(s), types.Int, f.lit(int32(0)),
		arm{f.lit("Aa"), f.lit(int32(1))},
		arm{f.lit("BB"), f.lit(int32(2))},
		arm{f.lit("C"), f.lit(int32(3))},
	)))

	u, in := f.interp(testConfig())
	const desc = "(Ljava/lang/String;)I"
	for _, tc := range []struct {
		s    any
		want int32
	}{
		{"Aa", 1}, {"BB", 2}, {"C", 3}, {"D", 0}, {nil, 0},
	} {
		if got := invoke(t, in, "code", desc, tc.s); got != tc.want {
			t.Errorf("code(%v) = %v, want %d", tc.s, got, tc.want)
		}
	}

	m := method(t, u, testFacade, "code", desc)
	if countOps(m, vm.OpLOOKUPSWITCH)+countOps(m, vm.OpTABLESWITCH) != 1 {
		t.Errorf("string when should dispatch on the hash once:\n%s", vm.Disassemble(m))
	}
	if n := len(findOps(m, vm.OpINVOKEVIRTUAL, "equals")); n != 3 {
		t.Errorf("equals calls = %d, want one per distinct string", n)
	}
	if countOps(m, vm.OpIFNULL) != 1 {
		t.Error("a nullable subject should be checked for null before hashCode")
	}
	checkStatementHeights(t, m)
}

func TestStringWhenWithNullBranchIsChained(t *testing.T) {
	f := newFixture(t)
	strN := types.Nullable(types.String)
	fn, fd := f.fun("code", types.Int, p("s", strN))
	fd.Body = f.block(f.ret(f.when(f.ref(fn.Params[0]), types.Int, f.lit(int32(0)),
		arm{f.null(strN), f.lit(int32(9))},
		arm{f.lit("Aa"), f.lit(int32(1))},
		arm{f.lit("BB"), f.lit(int32(2))},
	)))

	u, in := f.interp(testConfig())
	const desc = "(Ljava/lang/String;)I"
	if got := invoke(t, in, "code", desc, nil); got != int32(9) {
		t.Errorf("code(null) = %v, want 9", got)
	}
	if got := invoke(t, in, "code", desc, "BB"); got != int32(2) {
		t.Errorf(`code("BB") = %v, want 2`, got)
	}
	m := method(t, u, testFacade, "code", desc)
	if countOps(m, vm.OpLOOKUPSWITCH)+countOps(m, vm.OpTABLESWITCH) != 0 {
		t.Error("a when with a null branch should not compile to a switch")
	}
}

// color declares enum class test/Color { RED, GREEN, BLUE }.
func (f *fixture) color() (*binding.Class, []*binding.EnumEntry) {
	cls, _, cd := f.class("test/Color", binding.ClassEnum)
	cls.Type = types.Enum(cls.Name)
	for i, name := range []string{"RED", "GREEN", "BLUE"} {
		e := &binding.EnumEntry{Class: cls, Name: name, Ordinal: i}
		ed := &ast.EntryDecl{SpanVal: f.span(), Name: name}
		f.tb.Bind(ed, e)
		cd.Entries = append(cd.Entries, ed)
		cls.Entries = append(cls.Entries, e)
	}
	f.file.Classes = append(f.file.Classes, cd)
	return cls, cls.Entries
}

func TestEnumWhenSwitchesOnOrdinal(t *testing.T) {
	f := newFixture(t)
	cls, entries := f.color()
	colorN := types.Nullable(cls.Type)

	fn, fd := f.fun("colorCode", types.Int, p("k", types.Int))
	k := fn.Params[0]
	pick := f.when(f.ref(k), colorN, f.null(colorN),
		arm{f.lit(int32(0)), f.ref(entries[0])},
		arm{f.lit(int32(1)), f.ref(entries[1])},
		arm{f.lit(int32(2)), f.ref(entries[2])},
	)
	c, cd := f.local(fn, "c", colorN, false, pick)
	fd.Body = f.block(cd, f.ret(f.when(f.ref(c), types.Int, f.lit(int32(-1)),
		arm{f.ref(entries[0]), f.lit(int32(10))},
		arm{f.ref(entries[1]), f.lit(int32(20))},
		arm{f.ref(entries[2]), f.lit(int32(30))},
	)))

	u, in := f.interp(testConfig())
	for _, tc := range []struct{ k, want int32 }{{0, 10}, {1, 20}, {2, 30}, {5, -1}} {
		if got := invoke(t, in, "colorCode", "(I)I", tc.k); got != tc.want {
			t.Errorf("colorCode(%d) = %v, want %d", tc.k, got, tc.want)
		}
	}

	m := method(t, u, testFacade, "colorCode", "(I)I")
	if n := len(findOps(m, vm.OpINVOKEVIRTUAL, "ordinal")); n != 1 {
		t.Errorf("ordinal calls = %d, want 1:\n%s", n, vm.Disassemble(m))
	}
	if countOps(m, vm.OpTABLESWITCH) != 2 {
		t.Errorf("both whens should use a dense table:\n%s", vm.Disassemble(m))
	}
	if len(findOps(m, vm.OpINVOKESTATIC, "areEqual")) != 0 {
		t.Error("enum branches should not compare with areEqual")
	}
	checkStatementHeights(t, m)
}

func TestEnumWhenWithoutTables(t *testing.T) {
	f := newFixture(t)
	cls, entries := f.color()
	fn, fd := f.fun("isGreen", types.Boolean, p("c", cls.Type))
	fd.Body = f.when(f.ref(fn.Params[0]), types.Boolean, f.lit(false),
		arm{f.ref(entries[1]), f.lit(true)},
		arm{f.ref(entries[2]), f.lit(false)},
	)

	cfg := testConfig()
	cfg.SwitchTables = false
	u, in := f.interp(cfg)
	desc := "(Ltest/Color;)Z"
	r, err := in.Invoke(cls.Name, "values", "()[Ltest/Color;")
	if err != nil {
		t.Fatal(err)
	}
	values := r.(*vm.Array).Data
	green, blue := values[1], values[2]
	if got := invoke(t, in, "isGreen", desc, green); got != int32(1) {
		t.Errorf("isGreen(GREEN) = %v", got)
	}
	if got := invoke(t, in, "isGreen", desc, blue); got != int32(0) {
		t.Errorf("isGreen(BLUE) = %v", got)
	}
	m := method(t, u, testFacade, "isGreen", desc)
	if countOps(m, vm.OpIF_ACMPNE) != 2 {
		t.Errorf("enum entries should compare by identity:\n%s", vm.Disassemble(m))
	}
}
