// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/dotandev/tailrec/internal/descriptor"
	"github.com/dotandev/tailrec/internal/errors"
)

// fixedEffect holds pop and push word counts for opcodes whose effect does
// not depend on the constant pool.
var fixedEffect = map[Opcode][2]int{
	NOP: {0, 0}, ACONST_NULL: {0, 1},
	BIPUSH: {0, 1}, SIPUSH: {0, 1}, LDC: {0, 1}, LDC_W: {0, 1}, LDC2_W: {0, 2},
	POP: {1, 0}, POP2: {2, 0}, DUP: {1, 2}, DUP_X1: {2, 3}, DUP_X2: {3, 4},
	DUP2: {2, 4}, DUP2_X1: {3, 5}, DUP2_X2: {4, 6}, SWAP: {2, 2},
	LCMP: {4, 1}, 0x95: {2, 1}, 0x96: {2, 1}, 0x97: {4, 1}, DCMPG: {4, 1},
	GOTO: {0, 0}, JSR: {0, 1}, RET: {0, 0}, IINC: {0, 0},
	TABLESWITCH: {1, 0}, LOOKUPSWITCH: {1, 0},
	NEW: {0, 1}, NEWARRAY: {1, 1}, ANEWARRAY: {1, 1}, ARRAYLENGTH: {1, 1},
	ATHROW: {1, 0}, CHECKCAST: {1, 1}, INSTANCEOF: {1, 1},
	MONITORENTER: {1, 0}, MONITOREXIT: {1, 0},
	IFNULL: {1, 0}, IFNONNULL: {1, 0},
}

// kindWords is indexed by the int/long/float/double position used by the
// typed arithmetic opcode groups.
var kindWords = [4]int{1, 2, 1, 2}

// conversions covers i2l through i2s.
var conversions = [...][2]int{
	{1, 2}, {1, 1}, {1, 2}, // i2l i2f i2d
	{2, 1}, {2, 1}, {2, 2}, // l2i l2f l2d
	{1, 1}, {1, 2}, {1, 2}, // f2i f2l f2d
	{2, 1}, {2, 2}, {2, 1}, // d2i d2l d2f
	{1, 1}, {1, 1}, {1, 1}, // i2b i2c i2s
}

// Effect returns how many operand stack words in pops and pushes. The
// resolver is consulted for field instructions and for invokes whose
// descriptor was not resolved during disassembly.
func Effect(in Insn, r Resolver) (pop, push int, err error) {
	switch in.Kind {
	case KindLabel, KindIinc, KindRet:
		return 0, 0, nil
	case KindLoad:
		return 0, in.Value.Words(), nil
	case KindStore:
		return in.Value.Words(), 0, nil
	case KindReturn:
		return in.Value.Words(), 0, nil
	case KindInvoke:
		return invokeEffect(in, r)
	}

	op := in.Op
	if e, ok := fixedEffect[op]; ok {
		return e[0], e[1], nil
	}
	switch {
	case op >= ICONST_M1 && op <= ICONST_5:
		return 0, 1, nil
	case op == LCONST_0 || op == LCONST_1:
		return 0, 2, nil
	case op >= FCONST_0 && op <= 0x0d:
		return 0, 1, nil
	case op == 0x0e || op == DCONST_1:
		return 0, 2, nil
	case op >= IALOAD && op <= SALOAD:
		if op == 0x2f || op == 0x31 {
			return 2, 2, nil
		}
		return 2, 1, nil
	case op >= IASTORE && op <= SASTORE:
		if op == 0x50 || op == 0x52 {
			return 4, 0, nil
		}
		return 3, 0, nil
	case op >= IADD && op <= 0x73:
		w := kindWords[(op-IADD)%4]
		return 2 * w, w, nil
	case op >= INEG && op <= DNEG:
		w := kindWords[op-INEG]
		return w, w, nil
	case op >= ISHL && op <= 0x7d:
		if (op-ISHL)%2 == 1 {
			return 3, 2, nil
		}
		return 2, 1, nil
	case op >= 0x7e && op <= LXOR:
		if (op-0x7e)%2 == 1 {
			return 4, 2, nil
		}
		return 2, 1, nil
	case op >= I2L && op <= I2S:
		e := conversions[op-I2L]
		return e[0], e[1], nil
	case op >= IFEQ && op <= IFLE:
		return 1, 0, nil
	case op >= IF_ICMPEQ && op <= IF_ACMPNE:
		return 2, 0, nil
	case op >= GETSTATIC && op <= PUTFIELD:
		return fieldEffect(in, r)
	case op == MULTIANEWARRAY:
		if len(in.Operands) != 3 {
			return 0, 0, errors.WrapMalformed("multianewarray without dimensions")
		}
		return int(in.Operands[2]), 1, nil
	}
	return 0, 0, errors.WrapMalformed("no stack effect for %s", op)
}

func invokeEffect(in Insn, r Resolver) (int, int, error) {
	m := in.Member
	if m.Desc == "" && r != nil {
		resolved, err := r.Member(m.Index)
		if err != nil {
			return 0, 0, err
		}
		m = resolved
	}
	d, err := descriptor.ParseMethod(m.Desc)
	if err != nil {
		return 0, 0, errors.WrapMalformedErr(in.Op.String(), err)
	}
	pop := d.ArgWords()
	if in.Op != INVOKESTATIC && in.Op != INVOKEDYNAMIC {
		pop++
	}
	return pop, d.Return.Words(), nil
}

func fieldEffect(in Insn, r Resolver) (int, int, error) {
	if len(in.Operands) != 2 || r == nil {
		return 0, 0, errors.WrapMalformed("%s cannot be resolved", in.Op)
	}
	m, err := r.Member(binary.BigEndian.Uint16(in.Operands))
	if err != nil {
		return 0, 0, err
	}
	t, err := descriptor.ParseField(m.Desc)
	if err != nil {
		return 0, 0, errors.WrapMalformedErr(in.Op.String(), err)
	}
	w := t.Words()
	switch in.Op {
	case GETSTATIC:
		return 0, w, nil
	case PUTSTATIC:
		return w, 0, nil
	case GETFIELD:
		return 1, w, nil
	}
	return 1 + w, 0, nil
}

// MaxStack computes the maximum operand stack depth of l by dataflow from
// the first instruction (depth 0) and each handler label (depth 1). Paths
// that reach the same instruction with different depths are rejected.
func MaxStack(l *List, handlers []Handle, r Resolver) (int, error) {
	_, peak, err := Depths(l, handlers, r)
	return peak, err
}

// Depths returns the operand stack depth on entry to every reachable
// instruction together with the maximum depth reached.
func Depths(l *List, handlers []Handle, r Resolver) (map[Handle]int, int, error) {
	depth := make(map[Handle]int, l.Len())
	var work []Handle
	peak := 0

	enter := func(h Handle, d int) error {
		if h == Nil {
			return nil
		}
		if prev, ok := depth[h]; ok {
			if prev != d {
				return errors.WrapStackInconsistent(fmt.Sprintf("depth %d and %d meet at %s", prev, d, l.Get(h)))
			}
			return nil
		}
		depth[h] = d
		if d > peak {
			peak = d
		}
		work = append(work, h)
		return nil
	}

	if err := enter(l.First(), 0); err != nil {
		return nil, 0, err
	}
	for _, h := range handlers {
		if err := enter(h, 1); err != nil {
			return nil, 0, err
		}
	}

	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]
		in := l.Get(h)
		d := depth[h]

		pop, push, err := Effect(in, r)
		if err != nil {
			return nil, 0, err
		}
		if d < pop {
			return nil, 0, errors.WrapStackInconsistent(fmt.Sprintf("%s pops %d with depth %d", in, pop, d))
		}

		if in.Op == JSR && in.Kind == KindJump {
			if err := enter(in.Target, d+1); err != nil {
				return nil, 0, err
			}
			if err := enter(l.Next(h), d); err != nil {
				return nil, 0, err
			}
			continue
		}

		out := d - pop + push
		if out > peak {
			peak = out
		}

		switch {
		case in.Kind == KindJump:
			if err := enter(in.Target, out); err != nil {
				return nil, 0, err
			}
			if in.Op != GOTO {
				if err := enter(l.Next(h), out); err != nil {
					return nil, 0, err
				}
			}
		case in.Kind == KindSwitch:
			for _, t := range append([]Handle{in.Default}, in.Targets...) {
				if err := enter(t, out); err != nil {
					return nil, 0, err
				}
			}
		case in.Kind == KindReturn, in.Kind == KindRet, in.Op == ATHROW && in.Kind == KindOther:
		default:
			if err := enter(l.Next(h), out); err != nil {
				return nil, 0, err
			}
		}
	}
	return depth, peak, nil
}
