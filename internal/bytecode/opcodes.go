// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

// Opcode is a single JVM instruction opcode.
type Opcode byte

// Opcodes referenced by name. The full set is covered by opNames.
const (
	NOP         Opcode = 0x00
	ACONST_NULL Opcode = 0x01
	ICONST_M1   Opcode = 0x02
	ICONST_0    Opcode = 0x03
	ICONST_1    Opcode = 0x04
	ICONST_2    Opcode = 0x05
	ICONST_5    Opcode = 0x08
	LCONST_0    Opcode = 0x09
	LCONST_1    Opcode = 0x0a
	FCONST_0    Opcode = 0x0b
	DCONST_1    Opcode = 0x0f
	BIPUSH      Opcode = 0x10
	SIPUSH      Opcode = 0x11
	LDC         Opcode = 0x12
	LDC_W       Opcode = 0x13
	LDC2_W      Opcode = 0x14

	ILOAD   Opcode = 0x15
	LLOAD   Opcode = 0x16
	FLOAD   Opcode = 0x17
	DLOAD   Opcode = 0x18
	ALOAD   Opcode = 0x19
	ILOAD_0 Opcode = 0x1a
	ALOAD_0 Opcode = 0x2a
	ALOAD_3 Opcode = 0x2d

	IALOAD Opcode = 0x2e
	SALOAD Opcode = 0x35

	ISTORE   Opcode = 0x36
	LSTORE   Opcode = 0x37
	FSTORE   Opcode = 0x38
	DSTORE   Opcode = 0x39
	ASTORE   Opcode = 0x3a
	ISTORE_0 Opcode = 0x3b
	ASTORE_3 Opcode = 0x4e

	IASTORE Opcode = 0x4f
	SASTORE Opcode = 0x56

	POP     Opcode = 0x57
	POP2    Opcode = 0x58
	DUP     Opcode = 0x59
	DUP_X1  Opcode = 0x5a
	DUP_X2  Opcode = 0x5b
	DUP2    Opcode = 0x5c
	DUP2_X1 Opcode = 0x5d
	DUP2_X2 Opcode = 0x5e
	SWAP    Opcode = 0x5f

	IADD  Opcode = 0x60
	LADD  Opcode = 0x61
	ISUB  Opcode = 0x64
	LSUB  Opcode = 0x65
	IMUL  Opcode = 0x68
	LMUL  Opcode = 0x69
	IDIV  Opcode = 0x6c
	INEG  Opcode = 0x74
	DNEG  Opcode = 0x77
	ISHL  Opcode = 0x78
	LXOR  Opcode = 0x83
	IINC  Opcode = 0x84
	I2L   Opcode = 0x85
	I2S   Opcode = 0x93
	LCMP  Opcode = 0x94
	DCMPG Opcode = 0x98

	IFEQ      Opcode = 0x99
	IFNE      Opcode = 0x9a
	IFLT      Opcode = 0x9b
	IFGE      Opcode = 0x9c
	IFGT      Opcode = 0x9d
	IFLE      Opcode = 0x9e
	IF_ICMPEQ Opcode = 0x9f
	IF_ICMPNE Opcode = 0xa0
	IF_ICMPLT Opcode = 0xa1
	IF_ICMPGE Opcode = 0xa2
	IF_ICMPGT Opcode = 0xa3
	IF_ICMPLE Opcode = 0xa4
	IF_ACMPEQ Opcode = 0xa5
	IF_ACMPNE Opcode = 0xa6
	GOTO      Opcode = 0xa7
	JSR       Opcode = 0xa8
	RET       Opcode = 0xa9

	TABLESWITCH  Opcode = 0xaa
	LOOKUPSWITCH Opcode = 0xab

	IRETURN Opcode = 0xac
	LRETURN Opcode = 0xad
	FRETURN Opcode = 0xae
	DRETURN Opcode = 0xaf
	ARETURN Opcode = 0xb0
	RETURN  Opcode = 0xb1

	GETSTATIC       Opcode = 0xb2
	PUTSTATIC       Opcode = 0xb3
	GETFIELD        Opcode = 0xb4
	PUTFIELD        Opcode = 0xb5
	INVOKEVIRTUAL   Opcode = 0xb6
	INVOKESPECIAL   Opcode = 0xb7
	INVOKESTATIC    Opcode = 0xb8
	INVOKEINTERFACE Opcode = 0xb9
	INVOKEDYNAMIC   Opcode = 0xba

	NEW            Opcode = 0xbb
	NEWARRAY       Opcode = 0xbc
	ANEWARRAY      Opcode = 0xbd
	ARRAYLENGTH    Opcode = 0xbe
	ATHROW         Opcode = 0xbf
	CHECKCAST      Opcode = 0xc0
	INSTANCEOF     Opcode = 0xc1
	MONITORENTER   Opcode = 0xc2
	MONITOREXIT    Opcode = 0xc3
	WIDE           Opcode = 0xc4
	MULTIANEWARRAY Opcode = 0xc5
	IFNULL         Opcode = 0xc6
	IFNONNULL      Opcode = 0xc7
	GOTO_W         Opcode = 0xc8
	JSR_W          Opcode = 0xc9
)

// maxOpcode is the highest opcode a class file may contain.
const maxOpcode = JSR_W

var opNames = [...]string{
	"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5",
	"lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2", "dconst_0", "dconst_1",
	"bipush", "sipush", "ldc", "ldc_w", "ldc2_w",
	"iload", "lload", "fload", "dload", "aload",
	"iload_0", "iload_1", "iload_2", "iload_3", "lload_0", "lload_1", "lload_2", "lload_3",
	"fload_0", "fload_1", "fload_2", "fload_3", "dload_0", "dload_1", "dload_2", "dload_3",
	"aload_0", "aload_1", "aload_2", "aload_3",
	"iaload", "laload", "faload", "daload", "aaload", "baload", "caload", "saload",
	"istore", "lstore", "fstore", "dstore", "astore",
	"istore_0", "istore_1", "istore_2", "istore_3", "lstore_0", "lstore_1", "lstore_2", "lstore_3",
	"fstore_0", "fstore_1", "fstore_2", "fstore_3", "dstore_0", "dstore_1", "dstore_2", "dstore_3",
	"astore_0", "astore_1", "astore_2", "astore_3",
	"iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore",
	"pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap",
	"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub",
	"imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv",
	"irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg",
	"ishl", "lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land", "ior", "lor", "ixor", "lxor",
	"iinc", "i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i", "f2l", "f2d", "d2i", "d2l", "d2f",
	"i2b", "i2c", "i2s", "lcmp", "fcmpl", "fcmpg", "dcmpl", "dcmpg",
	"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle",
	"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne",
	"goto", "jsr", "ret", "tableswitch", "lookupswitch",
	"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return",
	"getstatic", "putstatic", "getfield", "putfield",
	"invokevirtual", "invokespecial", "invokestatic", "invokeinterface", "invokedynamic",
	"new", "newarray", "anewarray", "arraylength", "athrow", "checkcast", "instanceof",
	"monitorenter", "monitorexit", "wide", "multianewarray", "ifnull", "ifnonnull", "goto_w", "jsr_w",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid"
}

// Valid reports whether op is defined by the class file format.
func (op Opcode) Valid() bool { return op <= maxOpcode }

// operandSize is the number of operand bytes following a fixed-size
// opcode. Switches and wide are sized by the disassembler.
func operandSize(op Opcode) int {
	switch op {
	case BIPUSH, LDC, NEWARRAY, RET,
		ILOAD, LLOAD, FLOAD, DLOAD, ALOAD,
		ISTORE, LSTORE, FSTORE, DSTORE, ASTORE:
		return 1
	case SIPUSH, LDC_W, LDC2_W, IINC,
		GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD,
		INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC,
		NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
		return 2
	case MULTIANEWARRAY:
		return 3
	case INVOKEINTERFACE, INVOKEDYNAMIC, GOTO_W, JSR_W:
		return 4
	}
	if isBranch16(op) {
		return 2
	}
	return 0
}

func isBranch16(op Opcode) bool {
	return (op >= IFEQ && op <= JSR) || op == IFNULL || op == IFNONNULL
}

// IsConditional reports whether op is a two-way branch.
func IsConditional(op Opcode) bool {
	return (op >= IFEQ && op <= IF_ACMPNE) || op == IFNULL || op == IFNONNULL
}

// IsInvoke reports whether op is one of the invoke instructions.
func IsInvoke(op Opcode) bool { return op >= INVOKEVIRTUAL && op <= INVOKEDYNAMIC }

// IsReturn reports whether op is one of the return instructions.
func IsReturn(op Opcode) bool { return op >= IRETURN && op <= RETURN }

// loadOp, storeOp and returnOp give the opcode for a value kind.
func loadOp(k ValueKind) Opcode   { return ILOAD + Opcode(k) }
func storeOp(k ValueKind) Opcode  { return ISTORE + Opcode(k) }
func returnOp(k ValueKind) Opcode { return IRETURN + Opcode(k) }

// shortLoad is iload_0 style: base + kind*4 + slot.
func shortLoad(k ValueKind, slot int) Opcode  { return ILOAD_0 + Opcode(int(k)*4+slot) }
func shortStore(k ValueKind, slot int) Opcode { return ISTORE_0 + Opcode(int(k)*4+slot) }
