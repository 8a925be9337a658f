package image

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/vm"
)

const facade = "demo/MainKt"

// pick(I)I switches over 1..3; wide()J and greet() load constants.
func sampleUnit(t *testing.T) *compiler.Unit {
	t.Helper()
	c := &vm.Class{Name: facade, Super: "java/lang/Object"}
	c.Fields = append(c.Fields, vm.Field{Name: "count", Type: vm.IntType, Static: true})

	b := vm.NewBuilder()
	b.LineNumber(3)
	one, two, three, dflt := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	start, end := b.NewLabel(), b.NewLabel()
	b.Mark(start)
	vm.Load(b, 0, vm.IntType)
	b.TableSwitch(1, 3, dflt, one, two, three)
	for i, l := range []vm.Label{one, two, three} {
		b.Mark(l)
		vm.IConst(b, int32(10*(i+1)))
		vm.Return(b, vm.IntType)
	}
	b.Mark(dflt)
	vm.IConst(b, -1)
	b.Mark(end)
	vm.Return(b, vm.IntType)
	b.LocalVariable("n", vm.IntType, start, end, 0)
	pick, err := b.Method("pick", "(I)I", true, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.AddMethod(pick)

	b = vm.NewBuilder()
	b.Ldc(int64(5_000_000_000))
	vm.Return(b, vm.LongType)
	wide, err := b.Method("wide", "()J", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.AddMethod(wide)

	b = vm.NewBuilder()
	b.Ldc("hello")
	vm.Return(b, vm.StringType)
	greet, err := b.Method("greet", "()Ljava/lang/String;", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.AddMethod(greet)

	return &compiler.Unit{
		Facade:  facade,
		Classes: []*vm.Class{c},
		Diagnostics: []compiler.Diagnostic{
			{Pos: ast.Position{Line: 4, Column: 2}, Text: "return@outer", Message: "non-local return is not supported"},
		},
	}
}

func TestRoundTripRuns(t *testing.T) {
	img, err := New(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(img)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != img.ID() {
		t.Errorf("build id = %v, want %v", got.ID(), img.ID())
	}
	u := got.Unit(facade)
	if u == nil {
		t.Fatalf("unit %s missing", facade)
	}
	if len(u.Diagnostics) != 1 || u.Diagnostics[0].Line != 4 {
		t.Errorf("diagnostics = %+v", u.Diagnostics)
	}

	classes, err := got.Classes()
	if err != nil {
		t.Fatal(err)
	}
	in := vm.NewInterpreter(classes...)
	for _, tc := range []struct {
		arg, want int32
	}{{1, 10}, {2, 20}, {3, 30}, {7, -1}} {
		v, err := in.Invoke(facade, "pick", "(I)I", tc.arg)
		if err != nil {
			t.Fatal(err)
		}
		if v != tc.want {
			t.Errorf("pick(%d) = %v, want %d", tc.arg, v, tc.want)
		}
	}
	if v, err := in.Invoke(facade, "wide", "()J"); err != nil || v != int64(5_000_000_000) {
		t.Errorf("wide() = %v (%T), %v", v, v, err)
	}
	if v, err := in.Invoke(facade, "greet", "()Ljava/lang/String;"); err != nil || v != "hello" {
		t.Errorf("greet() = %v, %v", v, err)
	}
}

func TestRoundTripKeepsDisassembly(t *testing.T) {
	u := sampleUnit(t)
	su, err := FromUnit(u)
	if err != nil {
		t.Fatal(err)
	}
	classes, err := su.VMClasses()
	if err != nil {
		t.Fatal(err)
	}
	if want, got := vm.DisassembleClass(u.Classes[0]), vm.DisassembleClass(classes[0]); got != want {
		t.Errorf("disassembly changed:\n%s\nwant:\n%s", got, want)
	}
	m := classes[0].Method("pick", "(I)I")
	if m == nil || len(m.Locals) != 1 || m.Locals[0].Name != "n" {
		t.Errorf("pick locals = %+v", m)
	}
}

func TestHashIsStable(t *testing.T) {
	a, err := FromUnit(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromUnit(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash != b.Hash {
		t.Errorf("hashes differ: %x vs %x", a.Hash, b.Hash)
	}
}

func TestTamperedUnitFailsVerify(t *testing.T) {
	su, err := FromUnit(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	su.Classes[0].Methods[0].Code[1].Op = uint8(vm.OpNOP)
	data, err := MarshalUnit(su)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalUnit(data); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("UnmarshalUnit(tampered) err = %v, want hash mismatch", err)
	}
}

func TestBadMagic(t *testing.T) {
	img, err := New(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	img.Magic = "MAGG"
	data, err := Marshal(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); err == nil || !strings.Contains(err.Error(), "bad magic") {
		t.Errorf("Unmarshal err = %v, want bad magic", err)
	}
	if _, err := Unmarshal([]byte("not cbor at all")); err == nil {
		t.Error("Unmarshal(garbage) succeeded")
	}
}

func TestWriteRead(t *testing.T) {
	img, err := New(sampleUnit(t))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "out.kimg")
	if err := Write(path, img); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Units) != 1 || got.Units[0].Hash != img.Units[0].Hash {
		t.Errorf("read back %d units", len(got.Units))
	}
	if _, err := Read(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Read(missing) succeeded")
	}
}
