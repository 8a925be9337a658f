package vm

import "testing"

func TestDescriptorRoundTrip(t *testing.T) {
	for _, desc := range []string{
		"I", "J", "Z", "D", "Ljava/lang/String;", "[I", "[[Lkotlin/Unit;", "[J",
	} {
		typ, err := ParseType(desc)
		if err != nil {
			t.Errorf("ParseType(%q): %v", desc, err)
			continue
		}
		if got := typ.Descriptor(); got != desc {
			t.Errorf("ParseType(%q).Descriptor() = %q", desc, got)
		}
	}

	for _, bad := range []string{"", "Q", "Ljava/lang/String", "II", "["} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) succeeded", bad)
		}
	}
}

func TestParseMethodType(t *testing.T) {
	mt, err := ParseMethodType("(IJ[Ljava/lang/Object;D)Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(mt.Params) != 4 || !mt.Return.Equal(BooleanType) {
		t.Fatalf("ParseMethodType = %+v", mt)
	}
	if mt.ArgSize() != 6 {
		t.Errorf("ArgSize() = %d, want 6", mt.ArgSize())
	}
	if got := mt.Descriptor(); got != "(IJ[Ljava/lang/Object;D)Z" {
		t.Errorf("Descriptor() = %q", got)
	}

	for _, bad := range []string{"I)V", "(I", "(I)", "(X)V"} {
		if _, err := ParseMethodType(bad); err == nil {
			t.Errorf("ParseMethodType(%q) succeeded", bad)
		}
	}
}

func TestTypedOpcodes(t *testing.T) {
	tests := []struct {
		typ  Type
		op   Opcode
		want Opcode
	}{
		{IntType, OpILOAD, OpILOAD},
		{LongType, OpILOAD, OpLLOAD},
		{DoubleType, OpISTORE, OpDSTORE},
		{StringType, OpILOAD, OpALOAD},
		{ArrayOf(IntType), OpISTORE, OpASTORE},
		{ByteType, OpIALOAD, OpBALOAD},
		{CharType, OpIASTORE, OpCASTORE},
		{ShortType, OpIALOAD, OpSALOAD},
		{VoidType, OpIRETURN, OpRETURN},
		{ObjectType, OpIRETURN, OpARETURN},
		{FloatType, OpIADD, OpFADD},
		{LongType, OpIMUL, OpLMUL},
		{BooleanType, OpILOAD, OpILOAD},
	}
	for _, tc := range tests {
		if got := tc.typ.Opcode(tc.op); got != tc.want {
			t.Errorf("%s.Opcode(%v) = %v, want %v", tc.typ, tc.op, got, tc.want)
		}
	}
}

func TestTypeSizes(t *testing.T) {
	for _, tc := range []struct {
		typ  Type
		size int
	}{{VoidType, 0}, {IntType, 1}, {LongType, 2}, {DoubleType, 2}, {StringType, 1}, {ArrayOf(LongType), 1}} {
		if got := tc.typ.Size(); got != tc.size {
			t.Errorf("%s.Size() = %d, want %d", tc.typ, got, tc.size)
		}
	}
	if !ArrayOf(IntType).Equal(ArrayOf(IntType)) || ArrayOf(IntType).Equal(ArrayOf(LongType)) {
		t.Error("array equality is not structural")
	}
}
