package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single target instruction. Values follow the JVM numbering.
type Opcode byte

// Constants
const (
	OpNOP         Opcode = 0x00
	OpACONST_NULL Opcode = 0x01
	OpICONST_M1   Opcode = 0x02
	OpICONST_0    Opcode = 0x03
	OpICONST_1    Opcode = 0x04
	OpICONST_2    Opcode = 0x05
	OpICONST_3    Opcode = 0x06
	OpICONST_4    Opcode = 0x07
	OpICONST_5    Opcode = 0x08
	OpLCONST_0    Opcode = 0x09
	OpLCONST_1    Opcode = 0x0a
	OpFCONST_0    Opcode = 0x0b
	OpFCONST_1    Opcode = 0x0c
	OpFCONST_2    Opcode = 0x0d
	OpDCONST_0    Opcode = 0x0e
	OpDCONST_1    Opcode = 0x0f
	OpBIPUSH      Opcode = 0x10
	OpSIPUSH      Opcode = 0x11
	OpLDC         Opcode = 0x12
)

// Locals and arrays
const (
	OpILOAD   Opcode = 0x15
	OpLLOAD   Opcode = 0x16
	OpFLOAD   Opcode = 0x17
	OpDLOAD   Opcode = 0x18
	OpALOAD   Opcode = 0x19
	OpIALOAD  Opcode = 0x2e
	OpLALOAD  Opcode = 0x2f
	OpFALOAD  Opcode = 0x30
	OpDALOAD  Opcode = 0x31
	OpAALOAD  Opcode = 0x32
	OpBALOAD  Opcode = 0x33
	OpCALOAD  Opcode = 0x34
	OpSALOAD  Opcode = 0x35
	OpISTORE  Opcode = 0x36
	OpLSTORE  Opcode = 0x37
	OpFSTORE  Opcode = 0x38
	OpDSTORE  Opcode = 0x39
	OpASTORE  Opcode = 0x3a
	OpIASTORE Opcode = 0x4f
	OpLASTORE Opcode = 0x50
	OpFASTORE Opcode = 0x51
	OpDASTORE Opcode = 0x52
	OpAASTORE Opcode = 0x53
	OpBASTORE Opcode = 0x54
	OpCASTORE Opcode = 0x55
	OpSASTORE Opcode = 0x56
)

// Stack manipulation
const (
	OpPOP     Opcode = 0x57
	OpPOP2    Opcode = 0x58
	OpDUP     Opcode = 0x59
	OpDUP_X1  Opcode = 0x5a
	OpDUP_X2  Opcode = 0x5b
	OpDUP2    Opcode = 0x5c
	OpDUP2_X1 Opcode = 0x5d
	OpDUP2_X2 Opcode = 0x5e
	OpSWAP    Opcode = 0x5f
)

// Arithmetic, bitwise and conversions
const (
	OpIADD  Opcode = 0x60
	OpLADD  Opcode = 0x61
	OpFADD  Opcode = 0x62
	OpDADD  Opcode = 0x63
	OpISUB  Opcode = 0x64
	OpLSUB  Opcode = 0x65
	OpFSUB  Opcode = 0x66
	OpDSUB  Opcode = 0x67
	OpIMUL  Opcode = 0x68
	OpLMUL  Opcode = 0x69
	OpFMUL  Opcode = 0x6a
	OpDMUL  Opcode = 0x6b
	OpIDIV  Opcode = 0x6c
	OpLDIV  Opcode = 0x6d
	OpFDIV  Opcode = 0x6e
	OpDDIV  Opcode = 0x6f
	OpIREM  Opcode = 0x70
	OpLREM  Opcode = 0x71
	OpFREM  Opcode = 0x72
	OpDREM  Opcode = 0x73
	OpINEG  Opcode = 0x74
	OpLNEG  Opcode = 0x75
	OpFNEG  Opcode = 0x76
	OpDNEG  Opcode = 0x77
	OpISHL  Opcode = 0x78
	OpLSHL  Opcode = 0x79
	OpISHR  Opcode = 0x7a
	OpLSHR  Opcode = 0x7b
	OpIUSHR Opcode = 0x7c
	OpLUSHR Opcode = 0x7d
	OpIAND  Opcode = 0x7e
	OpLAND  Opcode = 0x7f
	OpIOR   Opcode = 0x80
	OpLOR   Opcode = 0x81
	OpIXOR  Opcode = 0x82
	OpLXOR  Opcode = 0x83
	OpIINC  Opcode = 0x84
	OpI2L   Opcode = 0x85
	OpI2F   Opcode = 0x86
	OpI2D   Opcode = 0x87
	OpL2I   Opcode = 0x88
	OpL2F   Opcode = 0x89
	OpL2D   Opcode = 0x8a
	OpF2I   Opcode = 0x8b
	OpF2L   Opcode = 0x8c
	OpF2D   Opcode = 0x8d
	OpD2I   Opcode = 0x8e
	OpD2L   Opcode = 0x8f
	OpD2F   Opcode = 0x90
	OpI2B   Opcode = 0x91
	OpI2C   Opcode = 0x92
	OpI2S   Opcode = 0x93
)

// Comparisons and control flow
const (
	OpLCMP         Opcode = 0x94
	OpFCMPL        Opcode = 0x95
	OpFCMPG        Opcode = 0x96
	OpDCMPL        Opcode = 0x97
	OpDCMPG        Opcode = 0x98
	OpIFEQ         Opcode = 0x99
	OpIFNE         Opcode = 0x9a
	OpIFLT         Opcode = 0x9b
	OpIFGE         Opcode = 0x9c
	OpIFGT         Opcode = 0x9d
	OpIFLE         Opcode = 0x9e
	OpIF_ICMPEQ    Opcode = 0x9f
	OpIF_ICMPNE    Opcode = 0xa0
	OpIF_ICMPLT    Opcode = 0xa1
	OpIF_ICMPGE    Opcode = 0xa2
	OpIF_ICMPGT    Opcode = 0xa3
	OpIF_ICMPLE    Opcode = 0xa4
	OpIF_ACMPEQ    Opcode = 0xa5
	OpIF_ACMPNE    Opcode = 0xa6
	OpGOTO         Opcode = 0xa7
	OpTABLESWITCH  Opcode = 0xaa
	OpLOOKUPSWITCH Opcode = 0xab
	OpIRETURN      Opcode = 0xac
	OpLRETURN      Opcode = 0xad
	OpFRETURN      Opcode = 0xae
	OpDRETURN      Opcode = 0xaf
	OpARETURN      Opcode = 0xb0
	OpRETURN       Opcode = 0xb1
	OpIFNULL       Opcode = 0xc6
	OpIFNONNULL    Opcode = 0xc7
)

// Fields, methods and objects
const (
	OpGETSTATIC       Opcode = 0xb2
	OpPUTSTATIC       Opcode = 0xb3
	OpGETFIELD        Opcode = 0xb4
	OpPUTFIELD        Opcode = 0xb5
	OpINVOKEVIRTUAL   Opcode = 0xb6
	OpINVOKESPECIAL   Opcode = 0xb7
	OpINVOKESTATIC    Opcode = 0xb8
	OpINVOKEINTERFACE Opcode = 0xb9
	OpNEW             Opcode = 0xbb
	OpNEWARRAY        Opcode = 0xbc
	OpANEWARRAY       Opcode = 0xbd
	OpARRAYLENGTH     Opcode = 0xbe
	OpATHROW          Opcode = 0xbf
	OpCHECKCAST       Opcode = 0xc0
	OpINSTANCEOF      Opcode = 0xc1
)

// OpMARKER is the IMPDEP1 slot, used for pseudo-instructions that later
// passes (coroutine transformer, inliner) consume and strip.
const OpMARKER Opcode = 0xfe

// MarkerKind is the operand of a MARKER pseudo-instruction.
type MarkerKind int

const (
	MarkerBeforeSuspendCall MarkerKind = iota
	MarkerAfterSuspendCall
	MarkerBeforeInlineCall
	MarkerAfterInlineCall
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerBeforeSuspendCall:
		return "beforeSuspendCall"
	case MarkerAfterSuspendCall:
		return "afterSuspendCall"
	case MarkerBeforeInlineCall:
		return "beforeInlineCall"
	case MarkerAfterInlineCall:
		return "afterInlineCall"
	}
	return fmt.Sprintf("marker(%d)", int(k))
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	StackEffect int    // net effect in words; variable opcodes are resolved by Analyze
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:         {"NOP", 0},
	OpACONST_NULL: {"ACONST_NULL", 1},
	OpICONST_M1:   {"ICONST_M1", 1},
	OpICONST_0:    {"ICONST_0", 1},
	OpICONST_1:    {"ICONST_1", 1},
	OpICONST_2:    {"ICONST_2", 1},
	OpICONST_3:    {"ICONST_3", 1},
	OpICONST_4:    {"ICONST_4", 1},
	OpICONST_5:    {"ICONST_5", 1},
	OpLCONST_0:    {"LCONST_0", 2},
	OpLCONST_1:    {"LCONST_1", 2},
	OpFCONST_0:    {"FCONST_0", 1},
	OpFCONST_1:    {"FCONST_1", 1},
	OpFCONST_2:    {"FCONST_2", 1},
	OpDCONST_0:    {"DCONST_0", 2},
	OpDCONST_1:    {"DCONST_1", 2},
	OpBIPUSH:      {"BIPUSH", 1},
	OpSIPUSH:      {"SIPUSH", 1},
	OpLDC:         {"LDC", 1},

	OpILOAD:   {"ILOAD", 1},
	OpLLOAD:   {"LLOAD", 2},
	OpFLOAD:   {"FLOAD", 1},
	OpDLOAD:   {"DLOAD", 2},
	OpALOAD:   {"ALOAD", 1},
	OpIALOAD:  {"IALOAD", -1},
	OpLALOAD:  {"LALOAD", 0},
	OpFALOAD:  {"FALOAD", -1},
	OpDALOAD:  {"DALOAD", 0},
	OpAALOAD:  {"AALOAD", -1},
	OpBALOAD:  {"BALOAD", -1},
	OpCALOAD:  {"CALOAD", -1},
	OpSALOAD:  {"SALOAD", -1},
	OpISTORE:  {"ISTORE", -1},
	OpLSTORE:  {"LSTORE", -2},
	OpFSTORE:  {"FSTORE", -1},
	OpDSTORE:  {"DSTORE", -2},
	OpASTORE:  {"ASTORE", -1},
	OpIASTORE: {"IASTORE", -3},
	OpLASTORE: {"LASTORE", -4},
	OpFASTORE: {"FASTORE", -3},
	OpDASTORE: {"DASTORE", -4},
	OpAASTORE: {"AASTORE", -3},
	OpBASTORE: {"BASTORE", -3},
	OpCASTORE: {"CASTORE", -3},
	OpSASTORE: {"SASTORE", -3},

	OpPOP:     {"POP", -1},
	OpPOP2:    {"POP2", -2},
	OpDUP:     {"DUP", 1},
	OpDUP_X1:  {"DUP_X1", 1},
	OpDUP_X2:  {"DUP_X2", 1},
	OpDUP2:    {"DUP2", 2},
	OpDUP2_X1: {"DUP2_X1", 2},
	OpDUP2_X2: {"DUP2_X2", 2},
	OpSWAP:    {"SWAP", 0},

	OpIADD: {"IADD", -1}, OpLADD: {"LADD", -2}, OpFADD: {"FADD", -1}, OpDADD: {"DADD", -2},
	OpISUB: {"ISUB", -1}, OpLSUB: {"LSUB", -2}, OpFSUB: {"FSUB", -1}, OpDSUB: {"DSUB", -2},
	OpIMUL: {"IMUL", -1}, OpLMUL: {"LMUL", -2}, OpFMUL: {"FMUL", -1}, OpDMUL: {"DMUL", -2},
	OpIDIV: {"IDIV", -1}, OpLDIV: {"LDIV", -2}, OpFDIV: {"FDIV", -1}, OpDDIV: {"DDIV", -2},
	OpIREM: {"IREM", -1}, OpLREM: {"LREM", -2}, OpFREM: {"FREM", -1}, OpDREM: {"DREM", -2},
	OpINEG: {"INEG", 0}, OpLNEG: {"LNEG", 0}, OpFNEG: {"FNEG", 0}, OpDNEG: {"DNEG", 0},
	OpISHL: {"ISHL", -1}, OpLSHL: {"LSHL", -1}, OpISHR: {"ISHR", -1}, OpLSHR: {"LSHR", -1},
	OpIUSHR: {"IUSHR", -1}, OpLUSHR: {"LUSHR", -1},
	OpIAND: {"IAND", -1}, OpLAND: {"LAND", -2}, OpIOR: {"IOR", -1}, OpLOR: {"LOR", -2},
	OpIXOR: {"IXOR", -1}, OpLXOR: {"LXOR", -2},
	OpIINC: {"IINC", 0},
	OpI2L:  {"I2L", 1}, OpI2F: {"I2F", 0}, OpI2D: {"I2D", 1},
	OpL2I: {"L2I", -1}, OpL2F: {"L2F", -1}, OpL2D: {"L2D", 0},
	OpF2I: {"F2I", 0}, OpF2L: {"F2L", 1}, OpF2D: {"F2D", 1},
	OpD2I: {"D2I", -1}, OpD2L: {"D2L", 0}, OpD2F: {"D2F", -1},
	OpI2B: {"I2B", 0}, OpI2C: {"I2C", 0}, OpI2S: {"I2S", 0},

	OpLCMP:  {"LCMP", -3},
	OpFCMPL: {"FCMPL", -1},
	OpFCMPG: {"FCMPG", -1},
	OpDCMPL: {"DCMPL", -3},
	OpDCMPG: {"DCMPG", -3},

	OpIFEQ: {"IFEQ", -1}, OpIFNE: {"IFNE", -1}, OpIFLT: {"IFLT", -1},
	OpIFGE: {"IFGE", -1}, OpIFGT: {"IFGT", -1}, OpIFLE: {"IFLE", -1},
	OpIF_ICMPEQ: {"IF_ICMPEQ", -2}, OpIF_ICMPNE: {"IF_ICMPNE", -2},
	OpIF_ICMPLT: {"IF_ICMPLT", -2}, OpIF_ICMPGE: {"IF_ICMPGE", -2},
	OpIF_ICMPGT: {"IF_ICMPGT", -2}, OpIF_ICMPLE: {"IF_ICMPLE", -2},
	OpIF_ACMPEQ: {"IF_ACMPEQ", -2}, OpIF_ACMPNE: {"IF_ACMPNE", -2},
	OpGOTO:         {"GOTO", 0},
	OpTABLESWITCH:  {"TABLESWITCH", -1},
	OpLOOKUPSWITCH: {"LOOKUPSWITCH", -1},
	OpIRETURN:      {"IRETURN", -1},
	OpLRETURN:      {"LRETURN", -2},
	OpFRETURN:      {"FRETURN", -1},
	OpDRETURN:      {"DRETURN", -2},
	OpARETURN:      {"ARETURN", -1},
	OpRETURN:       {"RETURN", 0},
	OpIFNULL:       {"IFNULL", -1},
	OpIFNONNULL:    {"IFNONNULL", -1},

	OpGETSTATIC:       {"GETSTATIC", 0},
	OpPUTSTATIC:       {"PUTSTATIC", 0},
	OpGETFIELD:        {"GETFIELD", 0},
	OpPUTFIELD:        {"PUTFIELD", 0},
	OpINVOKEVIRTUAL:   {"INVOKEVIRTUAL", 0},
	OpINVOKESPECIAL:   {"INVOKESPECIAL", 0},
	OpINVOKESTATIC:    {"INVOKESTATIC", 0},
	OpINVOKEINTERFACE: {"INVOKEINTERFACE", 0},
	OpNEW:             {"NEW", 1},
	OpNEWARRAY:        {"NEWARRAY", 0},
	OpANEWARRAY:       {"ANEWARRAY", 0},
	OpARRAYLENGTH:     {"ARRAYLENGTH", 0},
	OpATHROW:          {"ATHROW", -1},
	OpCHECKCAST:       {"CHECKCAST", 0},
	OpINSTANCEOF:      {"INSTANCEOF", 0},

	OpMARKER: {"MARKER", 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable opcode name.
func (op Opcode) Name() string {
	return op.Info().Name
}

func (op Opcode) String() string {
	return op.Name()
}

// IsJump reports whether op transfers control to a label.
func (op Opcode) IsJump() bool {
	return (op >= OpIFEQ && op <= OpGOTO) || op == OpIFNULL || op == OpIFNONNULL
}

// IsReturn reports whether op is one of the return instructions.
func (op Opcode) IsReturn() bool {
	return op >= OpIRETURN && op <= OpRETURN
}

// IsTerminal reports whether control never falls through op.
func (op Opcode) IsTerminal() bool {
	return op == OpGOTO || op == OpATHROW || op.IsReturn() ||
		op == OpTABLESWITCH || op == OpLOOKUPSWITCH
}

// Negate returns the conditional jump with the opposite condition.
func (op Opcode) Negate() Opcode {
	switch op {
	case OpIFEQ:
		return OpIFNE
	case OpIFNE:
		return OpIFEQ
	case OpIFLT:
		return OpIFGE
	case OpIFGE:
		return OpIFLT
	case OpIFGT:
		return OpIFLE
	case OpIFLE:
		return OpIFGT
	case OpIF_ICMPEQ:
		return OpIF_ICMPNE
	case OpIF_ICMPNE:
		return OpIF_ICMPEQ
	case OpIF_ICMPLT:
		return OpIF_ICMPGE
	case OpIF_ICMPGE:
		return OpIF_ICMPLT
	case OpIF_ICMPGT:
		return OpIF_ICMPLE
	case OpIF_ICMPLE:
		return OpIF_ICMPGT
	case OpIF_ACMPEQ:
		return OpIF_ACMPNE
	case OpIF_ACMPNE:
		return OpIF_ACMPEQ
	case OpIFNULL:
		return OpIFNONNULL
	case OpIFNONNULL:
		return OpIFNULL
	}
	panic(fmt.Sprintf("vm: %s has no negation", op))
}
