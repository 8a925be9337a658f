package types

import (
	"testing"

	"github.com/chazu/kiln/vm"
)

func TestMapPrimitives(t *testing.T) {
	if got := Map(Int); !got.Equal(vm.IntType) {
		t.Errorf("Map(Int) = %v", got)
	}
	if got := Map(Nullable(Int)); got.Name != "java/lang/Integer" {
		t.Errorf("Map(Int?) = %v, want Integer", got)
	}
	if got := Map(Nullable(Double)); got.Name != "java/lang/Double" {
		t.Errorf("Map(Double?) = %v, want Double", got)
	}
}

func TestMapInlineClass(t *testing.T) {
	meters := Inline("demo/Meters", Int)
	if got := Map(meters); !got.Equal(vm.IntType) {
		t.Errorf("Map(Meters) = %v, want I", got)
	}
	if got := Map(Nullable(meters)); got.Name != "demo/Meters" {
		t.Errorf("Map(Meters?) = %v, want boxed class", got)
	}
	name := Inline("demo/Name", String)
	if got := Map(Nullable(name)); !got.Equal(vm.StringType) {
		t.Errorf("Map(Name?) = %v, want String", got)
	}
	if got := Boxed(meters); got.Name != "demo/Meters" {
		t.Errorf("Boxed(Meters) = %v", got)
	}
}

func TestMapFunctionAndArray(t *testing.T) {
	if got := Map(Func(Unit, Int, String)); got.Name != "kotlin/jvm/functions/Function2" {
		t.Errorf("Map((Int, String) -> Unit) = %v", got)
	}
	if got := Map(SuspendFunc(Int)); got.Name != "kotlin/jvm/functions/Function1" {
		t.Errorf("suspend () -> Int = %v, want Function1", got)
	}
	if got := Map(ArrayOf(Int)).Descriptor(); got != "[I" {
		t.Errorf("Array<Int> = %s", got)
	}
	if got := Map(ArrayOf(Nullable(Int))).Descriptor(); got != "[Ljava/lang/Integer;" {
		t.Errorf("Array<Int?> = %s", got)
	}
}

func TestMapReturn(t *testing.T) {
	if got := MapReturn(Unit); got.Sort != vm.SortVoid {
		t.Errorf("MapReturn(Unit) = %v", got)
	}
	if got := MapReturn(Nullable(Unit)); got.Name != "kotlin/Unit" {
		t.Errorf("MapReturn(Unit?) = %v", got)
	}
}

func TestNullableDoesNotMutate(t *testing.T) {
	n := Nullable(Int)
	if Int.Nullable {
		t.Fatal("Nullable mutated the shared Int")
	}
	if !n.NotNull().Equal(Int) {
		t.Error("NotNull(Int?) != Int")
	}
	if n.String() != "Int?" {
		t.Errorf("String = %q", n.String())
	}
}
