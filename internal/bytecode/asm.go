// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dotandev/tailrec/internal/errors"
)

// MaxCodeLength is the largest method body the class file format allows.
const MaxCodeLength = 65535

// Assemble encodes l into method bytecode. Loads and stores take their
// shortest form, goto and jsr widen to goto_w and jsr_w when the target is
// out of 16 bit range, and conditional branches that cannot reach their
// target fail with ErrBranchOutOfRange. The returned map holds the byte
// offset of every live handle.
func Assemble(l *List) ([]byte, map[Handle]int, error) {
	if err := l.Verify(); err != nil {
		return nil, nil, err
	}

	wide := make(map[Handle]bool)
	var offsets map[Handle]int
	var total int
	for {
		offsets, total = layout(l, wide)
		changed := false
		for h := l.First(); h != Nil; h = l.Next(h) {
			in := l.Get(h)
			if in.Kind != KindJump || wide[h] {
				continue
			}
			delta := offsets[in.Target] - offsets[h]
			if delta >= math.MinInt16 && delta <= math.MaxInt16 {
				continue
			}
			if IsConditional(in.Op) {
				return nil, nil, errors.WrapBranchOutOfRange(in.Op.String(), delta)
			}
			wide[h] = true
			changed = true
		}
		if !changed {
			break
		}
	}
	if total > MaxCodeLength {
		return nil, nil, fmt.Errorf("%w: code length %d exceeds %d", errors.ErrBranchOutOfRange, total, MaxCodeLength)
	}

	buf := make([]byte, 0, total)
	for h := l.First(); h != Nil; h = l.Next(h) {
		in := l.Get(h)
		pc := offsets[h]
		if len(buf) != pc {
			return nil, nil, errors.WrapStackInconsistent(fmt.Sprintf("layout drift at %d for %s", pc, in))
		}
		buf = encode(buf, in, pc, offsets, wide[h])
	}
	return buf, offsets, nil
}

func layout(l *List, wide map[Handle]bool) (map[Handle]int, int) {
	offsets := make(map[Handle]int, l.Len())
	pc := 0
	for h := l.First(); h != Nil; h = l.Next(h) {
		offsets[h] = pc
		pc += size(l.Get(h), pc, wide[h])
	}
	return offsets, pc
}

func size(in Insn, pc int, wide bool) int {
	switch in.Kind {
	case KindLabel:
		return 0
	case KindJump:
		if wide {
			return 5
		}
		return 3
	case KindSwitch:
		pad := (4 - (pc+1)%4) % 4
		if in.Op == TABLESWITCH {
			return 1 + pad + 12 + 4*len(in.Targets)
		}
		return 1 + pad + 8 + 8*len(in.Targets)
	case KindLoad, KindStore:
		switch {
		case in.Slot <= 3:
			return 1
		case in.Slot <= math.MaxUint8:
			return 2
		}
		return 4
	case KindRet:
		if in.Slot <= math.MaxUint8 {
			return 2
		}
		return 4
	case KindIinc:
		if in.Slot <= math.MaxUint8 && in.Incr >= math.MinInt8 && in.Incr <= math.MaxInt8 {
			return 3
		}
		return 6
	case KindInvoke:
		return 1 + operandSize(in.Op)
	case KindReturn:
		return 1
	}
	return 1 + len(in.Operands)
}

func encode(buf []byte, in Insn, pc int, offsets map[Handle]int, wide bool) []byte {
	be := binary.BigEndian
	switch in.Kind {
	case KindLabel:
		return buf
	case KindJump:
		delta := offsets[in.Target] - pc
		if wide {
			op := GOTO_W
			if in.Op == JSR {
				op = JSR_W
			}
			buf = append(buf, byte(op))
			return be.AppendUint32(buf, uint32(int32(delta)))
		}
		buf = append(buf, byte(in.Op))
		return be.AppendUint16(buf, uint16(int16(delta)))
	case KindSwitch:
		buf = append(buf, byte(in.Op))
		for i := 0; i < (4-(pc+1)%4)%4; i++ {
			buf = append(buf, 0)
		}
		buf = be.AppendUint32(buf, uint32(int32(offsets[in.Default]-pc)))
		if in.Op == TABLESWITCH {
			buf = be.AppendUint32(buf, uint32(in.Low))
			buf = be.AppendUint32(buf, uint32(in.Low+int32(len(in.Targets))-1))
			for _, t := range in.Targets {
				buf = be.AppendUint32(buf, uint32(int32(offsets[t]-pc)))
			}
			return buf
		}
		buf = be.AppendUint32(buf, uint32(len(in.Targets)))
		for i, t := range in.Targets {
			buf = be.AppendUint32(buf, uint32(in.Keys[i]))
			buf = be.AppendUint32(buf, uint32(int32(offsets[t]-pc)))
		}
		return buf
	case KindLoad, KindStore:
		long := loadOp(in.Value)
		short := shortLoad(in.Value, in.Slot)
		if in.Kind == KindStore {
			long = storeOp(in.Value)
			short = shortStore(in.Value, in.Slot)
		}
		switch {
		case in.Slot <= 3:
			return append(buf, byte(short))
		case in.Slot <= math.MaxUint8:
			return append(buf, byte(long), byte(in.Slot))
		}
		buf = append(buf, byte(WIDE), byte(long))
		return be.AppendUint16(buf, uint16(in.Slot))
	case KindRet:
		if in.Slot <= math.MaxUint8 {
			return append(buf, byte(RET), byte(in.Slot))
		}
		buf = append(buf, byte(WIDE), byte(RET))
		return be.AppendUint16(buf, uint16(in.Slot))
	case KindIinc:
		if size(in, pc, false) == 3 {
			return append(buf, byte(IINC), byte(in.Slot), byte(int8(in.Incr)))
		}
		buf = append(buf, byte(WIDE), byte(IINC))
		buf = be.AppendUint16(buf, uint16(in.Slot))
		return be.AppendUint16(buf, uint16(int16(in.Incr)))
	case KindInvoke:
		buf = append(buf, byte(in.Op))
		buf = be.AppendUint16(buf, in.Member.Index)
		switch in.Op {
		case INVOKEINTERFACE:
			buf = append(buf, in.Count, 0)
		case INVOKEDYNAMIC:
			buf = append(buf, 0, 0)
		}
		return buf
	case KindReturn:
		return append(buf, byte(in.Op))
	}
	buf = append(buf, byte(in.Op))
	return append(buf, in.Operands...)
}
