// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"
	"sort"

	"github.com/dotandev/tailrec/internal/errors"
)

type decoded struct {
	off     int
	insn    Insn
	target  int
	dflt    int
	targets []int
}

// Disassemble decodes a method body into a List. Every branch target and
// every offset in anchors is represented by a label placed before the
// instruction at that offset. A label for len(code) is always present and
// is the last entry of the list. The returned map gives the label handle
// for each such offset.
func Disassemble(code []byte, r Resolver, anchors []int) (*List, map[int]Handle, error) {
	insns, err := decode(code, r)
	if err != nil {
		return nil, nil, err
	}

	boundary := make(map[int]bool, len(insns)+1)
	for _, d := range insns {
		boundary[d.off] = true
	}
	boundary[len(code)] = true

	want := map[int]bool{len(code): true}
	mark := func(off int, what string) error {
		if !boundary[off] {
			return errors.WrapMalformed("%s offset %d is not an instruction boundary", what, off)
		}
		want[off] = true
		return nil
	}
	for _, d := range insns {
		switch d.insn.Kind {
		case KindJump:
			if d.target == len(code) {
				return nil, nil, errors.WrapMalformed("branch at %d jumps past the end of code", d.off)
			}
			if err := mark(d.target, "branch"); err != nil {
				return nil, nil, err
			}
		case KindSwitch:
			for _, t := range append([]int{d.dflt}, d.targets...) {
				if t == len(code) {
					return nil, nil, errors.WrapMalformed("switch at %d jumps past the end of code", d.off)
				}
				if err := mark(t, "switch"); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	for _, a := range anchors {
		if err := mark(a, "anchor"); err != nil {
			return nil, nil, err
		}
	}

	offs := make([]int, 0, len(want))
	for off := range want {
		offs = append(offs, off)
	}
	sort.Ints(offs)

	l := NewList()
	labels := make(map[int]Handle, len(offs))
	for _, off := range offs {
		labels[off] = l.Append(Label())
	}

	next := 0
	for _, d := range insns {
		for offs[next] <= d.off {
			next++
		}
		insn := d.insn
		switch insn.Kind {
		case KindJump:
			insn.Target = labels[d.target]
		case KindSwitch:
			insn.Default = labels[d.dflt]
			insn.Targets = make([]Handle, len(d.targets))
			for i, t := range d.targets {
				insn.Targets[i] = labels[t]
			}
		}
		l.InsertBefore(labels[offs[next]], insn)
	}
	return l, labels, nil
}

func decode(code []byte, r Resolver) ([]decoded, error) {
	var out []decoded
	u16 := func(p int) int { return int(binary.BigEndian.Uint16(code[p:])) }
	s16 := func(p int) int { return int(int16(binary.BigEndian.Uint16(code[p:]))) }
	s32 := func(p int) int { return int(int32(binary.BigEndian.Uint32(code[p:]))) }

	for pc := 0; pc < len(code); {
		op := Opcode(code[pc])
		if !op.Valid() {
			return nil, errors.WrapMalformed("invalid opcode %#x at %d", byte(op), pc)
		}
		d := decoded{off: pc, insn: Insn{Op: op, Target: Nil, Default: Nil}}
		need := func(n int) error {
			if pc+n > len(code) {
				return errors.WrapMalformed("%s at %d is truncated", op, pc)
			}
			return nil
		}
		size := 1 + operandSize(op)

		switch {
		case op == WIDE:
			if err := need(2); err != nil {
				return nil, err
			}
			inner := Opcode(code[pc+1])
			d.insn.Op = inner
			switch {
			case inner == IINC:
				size = 6
				if err := need(size); err != nil {
					return nil, err
				}
				d.insn.Kind = KindIinc
				d.insn.Slot = u16(pc + 2)
				d.insn.Incr = s16(pc + 4)
			case inner >= ILOAD && inner <= ALOAD,
				inner >= ISTORE && inner <= ASTORE,
				inner == RET:
				size = 4
				if err := need(size); err != nil {
					return nil, err
				}
				d.insn.Slot = u16(pc + 2)
				setLocal(&d.insn, inner)
			default:
				return nil, errors.WrapMalformed("wide cannot modify %s at %d", inner, pc)
			}

		case op == TABLESWITCH || op == LOOKUPSWITCH:
			base := pc + 1 + (4-(pc+1)%4)%4
			if err := need(base - pc + 8); err != nil {
				return nil, err
			}
			d.insn.Kind = KindSwitch
			d.dflt = pc + s32(base)
			if op == TABLESWITCH {
				if err := need(base - pc + 12); err != nil {
					return nil, err
				}
				low, high := s32(base+4), s32(base+8)
				if high < low {
					return nil, errors.WrapMalformed("tableswitch at %d has high %d below low %d", pc, high, low)
				}
				n := high - low + 1
				size = base - pc + 12 + 4*n
				if err := need(size); err != nil {
					return nil, err
				}
				d.insn.Low = int32(low)
				for i := 0; i < n; i++ {
					d.targets = append(d.targets, pc+s32(base+12+4*i))
				}
			} else {
				n := s32(base + 4)
				if n < 0 {
					return nil, errors.WrapMalformed("lookupswitch at %d has negative pair count", pc)
				}
				size = base - pc + 8 + 8*n
				if err := need(size); err != nil {
					return nil, err
				}
				for i := 0; i < n; i++ {
					p := base + 8 + 8*i
					d.insn.Keys = append(d.insn.Keys, int32(s32(p)))
					d.targets = append(d.targets, pc+s32(p+4))
				}
			}

		default:
			if err := need(size); err != nil {
				return nil, err
			}
			switch {
			case isBranch16(op):
				d.insn.Kind = KindJump
				d.target = pc + s16(pc+1)
			case op == GOTO_W || op == JSR_W:
				d.insn.Kind = KindJump
				d.insn.Op = GOTO
				if op == JSR_W {
					d.insn.Op = JSR
				}
				d.target = pc + s32(pc+1)
			case IsInvoke(op):
				d.insn.Kind = KindInvoke
				idx := uint16(u16(pc + 1))
				d.insn.Member = Member{Index: idx}
				if op == INVOKEINTERFACE {
					d.insn.Count = code[pc+3]
				}
				if r != nil {
					m, err := r.Member(idx)
					if err != nil {
						return nil, errors.WrapMalformedErr(op.String(), err)
					}
					d.insn.Member = m
				}
			case IsReturn(op):
				d.insn.Kind = KindReturn
				d.insn.Value = ValueKind(op - IRETURN)
			case op == IINC:
				d.insn.Kind = KindIinc
				d.insn.Slot = int(code[pc+1])
				d.insn.Incr = int(int8(code[pc+2]))
			case op >= ILOAD && op <= ALOAD, op >= ISTORE && op <= ASTORE, op == RET:
				d.insn.Slot = int(code[pc+1])
				setLocal(&d.insn, op)
			case op >= ILOAD_0 && op <= ALOAD_3:
				d.insn.Slot = int(op-ILOAD_0) % 4
				setLocal(&d.insn, ILOAD+(op-ILOAD_0)/4)
			case op >= ISTORE_0 && op <= ASTORE_3:
				d.insn.Slot = int(op-ISTORE_0) % 4
				setLocal(&d.insn, ISTORE+(op-ISTORE_0)/4)
			default:
				d.insn.Kind = KindOther
				if size > 1 {
					d.insn.Operands = append([]byte(nil), code[pc+1:pc+size]...)
				}
			}
		}

		if d.insn.Kind == KindJump && (d.target < 0 || d.target > len(code)) {
			return nil, errors.WrapMalformed("branch at %d targets %d outside code", pc, d.target)
		}
		if d.insn.Kind == KindSwitch {
			for _, t := range append([]int{d.dflt}, d.targets...) {
				if t < 0 || t > len(code) {
					return nil, errors.WrapMalformed("switch at %d targets %d outside code", pc, t)
				}
			}
		}
		out = append(out, d)
		pc += size
	}
	return out, nil
}

// setLocal fills Kind, Op and Value for a long form local variable opcode.
func setLocal(in *Insn, op Opcode) {
	switch {
	case op >= ILOAD && op <= ALOAD:
		in.Kind = KindLoad
		in.Value = ValueKind(op - ILOAD)
	case op >= ISTORE && op <= ASTORE:
		in.Kind = KindStore
		in.Value = ValueKind(op - ISTORE)
	default:
		in.Kind = KindRet
	}
	in.Op = op
}
