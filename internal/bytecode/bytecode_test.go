// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	apperr "github.com/dotandev/tailrec/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool map[uint16]Member

func (p fakePool) Member(index uint16) (Member, error) {
	m, ok := p[index]
	if !ok {
		return Member{}, fmt.Errorf("no member at %d", index)
	}
	m.Index = index
	return m, nil
}

var factPool = fakePool{
	2: {Owner: "Fact", Name: "fact", Desc: "(II)I"},
	3: {Owner: "Fact", Name: "count", Desc: "J"},
}

// static int fact(int n, int acc)
var factCode = []byte{
	0x1a,             // 0: iload_0
	0x04,             // 1: iconst_1
	0xa3, 0x00, 0x05, // 2: if_icmpgt 7
	0x1b,             // 5: iload_1
	0xac,             // 6: ireturn
	0x1a,             // 7: iload_0
	0x04,             // 8: iconst_1
	0x64,             // 9: isub
	0x1a,             // 10: iload_0
	0x1b,             // 11: iload_1
	0x68,             // 12: imul
	0xb8, 0x00, 0x02, // 13: invokestatic #2
	0xac, // 16: ireturn
}

func collect(l *List) []Insn {
	var out []Insn
	for h := l.First(); h != Nil; h = l.Next(h) {
		out = append(out, l.Get(h))
	}
	return out
}

func TestDisassemble(t *testing.T) {
	l, labels, err := Disassemble(factCode, factPool, []int{0})
	require.NoError(t, err)
	require.NoError(t, l.Verify())

	assert.Len(t, labels, 3)
	for _, off := range []int{0, 7, 17} {
		assert.Contains(t, labels, off)
	}
	assert.Equal(t, labels[17], l.Last())
	assert.Equal(t, labels[0], l.First())

	insns := collect(l)
	// 13 instructions plus 3 labels
	require.Len(t, insns, 16)

	assert.Equal(t, KindLoad, insns[1].Kind)
	assert.Equal(t, Int, insns[1].Value)
	assert.Equal(t, 0, insns[1].Slot)

	jump := insns[3]
	assert.Equal(t, KindJump, jump.Kind)
	assert.Equal(t, IF_ICMPGT, jump.Op)
	assert.Equal(t, labels[7], jump.Target)
	assert.Equal(t, 1, l.Refs(labels[7]))

	call := insns[13]
	assert.Equal(t, KindInvoke, call.Kind)
	assert.Equal(t, "fact", call.Member.Name)
	assert.Equal(t, "(II)I", call.Member.Desc)
	assert.Equal(t, uint16(2), call.Member.Index)

	assert.Equal(t, KindReturn, insns[14].Kind)
	assert.Equal(t, KindLabel, insns[15].Kind)
}

func TestAssemble_RoundTrip(t *testing.T) {
	l, _, err := Disassemble(factCode, factPool, nil)
	require.NoError(t, err)

	out, offsets, err := Assemble(l)
	require.NoError(t, err)
	assert.Equal(t, factCode, out)
	assert.Equal(t, len(factCode), offsets[l.Last()])
}

func TestDisassemble_Malformed(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"invalid opcode", []byte{0xcb}},
		{"truncated sipush", []byte{0x11, 0x01}},
		{"branch into operand", []byte{0xa7, 0x00, 0x01, 0xb1}},
		{"branch outside code", []byte{0xa7, 0x7f, 0x00}},
		{"branch to end", []byte{0xa7, 0x00, 0x03}},
		{"bad wide", []byte{0xc4, 0x60, 0x00, 0x00}},
		{"truncated switch", []byte{0xaa, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Disassemble(tt.code, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrMalformedContainer))
		})
	}

	_, _, err := Disassemble([]byte{0x00, 0xb1}, nil, []int{5})
	assert.True(t, errors.Is(err, apperr.ErrMalformedContainer))
}

func TestAssemble_ShortestForms(t *testing.T) {
	tests := []struct {
		name string
		insn Insn
		want []byte
	}{
		{"iload_2", Load(Int, 2), []byte{0x1c}},
		{"lload 5", Load(Long, 5), []byte{0x16, 0x05}},
		{"aload_0", Load(Ref, 0), []byte{0x2a}},
		{"dstore_3", Store(Double, 3), []byte{0x4a}},
		{"fstore 200", Store(Float, 200), []byte{0x38, 200}},
		{"wide astore", Store(Ref, 300), []byte{0xc4, 0x3a, 0x01, 0x2c}},
		{"iinc", Insn{Kind: KindIinc, Op: IINC, Slot: 1, Incr: -1}, []byte{0x84, 0x01, 0xff}},
		{"wide iinc", Insn{Kind: KindIinc, Op: IINC, Slot: 1, Incr: 1000}, []byte{0xc4, 0x84, 0x00, 0x01, 0x03, 0xe8}},
		{"lreturn", Return(Long), []byte{0xad}},
		{"return", Return(Void), []byte{0xb1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewList()
			l.Append(tt.insn)
			out, _, err := Assemble(l)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			back, _, err := Disassemble(out, nil, nil)
			require.NoError(t, err)
			got := back.Get(back.First())
			assert.Equal(t, tt.insn.Kind, got.Kind)
			assert.Equal(t, tt.insn.Slot, got.Slot)
		})
	}
}

func TestAssemble_WidensGoto(t *testing.T) {
	l := NewList()
	start := l.Append(Label())
	for i := 0; i < 33000; i++ {
		l.Append(Simple(NOP))
	}
	l.Append(Goto(start))
	l.Append(Return(Void))

	out, _, err := Assemble(l)
	require.NoError(t, err)
	require.Len(t, out, 33000+5+1)
	assert.Equal(t, byte(GOTO_W), out[33000])
	assert.Equal(t, int32(-33000), int32(binary.BigEndian.Uint32(out[33001:])))

	back, _, err := Disassemble(out, nil, nil)
	require.NoError(t, err)
	for h := back.First(); h != Nil; h = back.Next(h) {
		if in := back.Get(h); in.Kind == KindJump {
			assert.Equal(t, GOTO, in.Op)
			assert.Equal(t, back.First(), in.Target)
		}
	}
}

func TestAssemble_ConditionalOutOfRange(t *testing.T) {
	l := NewList()
	start := l.Append(Label())
	for i := 0; i < 33000; i++ {
		l.Append(Simple(NOP))
	}
	l.Append(Insn{Kind: KindJump, Op: IFEQ, Target: start, Default: Nil})
	l.Append(Return(Void))

	_, _, err := Assemble(l)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrBranchOutOfRange))
}

func TestAssemble_SwitchPadding(t *testing.T) {
	be := binary.BigEndian
	code := []byte{0x03, 0xaa, 0x00, 0x00}
	code = be.AppendUint32(code, 25) // default -> 26
	code = be.AppendUint32(code, 0)
	code = be.AppendUint32(code, 1)
	code = be.AppendUint32(code, 23) // 0 -> 24
	code = be.AppendUint32(code, 24) // 1 -> 25
	code = append(code, 0xb1, 0x00, 0xb1)
	require.Len(t, code, 27)

	l, labels, err := Disassemble(code, nil, nil)
	require.NoError(t, err)
	out, _, err := Assemble(l)
	require.NoError(t, err)
	assert.Equal(t, code, out)

	// Shifting the switch by one byte shrinks its padding.
	l.InsertBefore(l.First(), Simple(NOP))
	out, offsets, err := Assemble(l)
	require.NoError(t, err)
	assert.Len(t, out, 27)
	assert.Equal(t, byte(TABLESWITCH), out[2])
	assert.Equal(t, 24, offsets[labels[24]])
	assert.Equal(t, 26, offsets[labels[26]])
	assert.Equal(t, 27, offsets[l.Last()])

	_, _, err = Disassemble(out, nil, nil)
	assert.NoError(t, err)
}

func TestList_Refcounts(t *testing.T) {
	l := NewList()
	lbl := l.Append(Label())
	nop := l.Append(Simple(NOP))
	jmp := l.Append(Goto(lbl))
	assert.Equal(t, 1, l.Refs(lbl))

	err := l.Remove(lbl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDanglingJumpTarget))

	_, err = l.Replace(lbl, Simple(NOP))
	assert.Error(t, err)

	_, err = l.Replace(jmp, Return(Void))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Refs(lbl))

	l.Retain(lbl)
	assert.Error(t, l.Remove(lbl))
	assert.False(t, l.Targeted(lbl))
	l.Release(lbl)
	require.NoError(t, l.Remove(lbl))

	assert.Equal(t, nop, l.First())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, Nil, l.Prev(nop))
	assert.NoError(t, l.Verify())
	assert.Error(t, l.Remove(lbl))
}

func TestList_InsertBefore(t *testing.T) {
	l := NewList()
	a := l.Append(Simple(ICONST_0))
	c := l.Append(Return(Int))
	b := l.InsertBefore(c, Simple(INEG))
	head := l.InsertBefore(a, Label())

	var got []Handle
	for h := l.First(); h != Nil; h = l.Next(h) {
		got = append(got, h)
	}
	assert.Equal(t, []Handle{head, a, b, c}, got)
	assert.Equal(t, c, l.Last())
	assert.Equal(t, b, l.Prev(c))
}

func TestEffect(t *testing.T) {
	tests := []struct {
		name      string
		insn      Insn
		pop, push int
	}{
		{"iadd", Simple(IADD), 2, 1},
		{"lmul", Simple(LMUL), 4, 2},
		{"dneg", Simple(DNEG), 2, 2},
		{"lxor", Simple(LXOR), 4, 2},
		{"i2l", Simple(I2L), 1, 2},
		{"dup2_x1", Simple(DUP2_X1), 3, 5},
		{"lcmp", Simple(LCMP), 4, 1},
		{"dload", Load(Double, 4), 0, 2},
		{"astore", Store(Ref, 1), 1, 0},
		{"dreturn", Return(Double), 2, 0},
		{"invokestatic", Insn{Kind: KindInvoke, Op: INVOKESTATIC, Member: Member{Desc: "(IJ)D"}}, 3, 2},
		{"invokevirtual", Insn{Kind: KindInvoke, Op: INVOKEVIRTUAL, Member: Member{Desc: "(I)V"}}, 2, 0},
		{"getfield", Insn{Kind: KindOther, Op: GETFIELD, Operands: []byte{0, 3}}, 1, 2},
		{"putstatic", Insn{Kind: KindOther, Op: PUTSTATIC, Operands: []byte{0, 3}}, 2, 0},
		{"multianewarray", Insn{Kind: KindOther, Op: MULTIANEWARRAY, Operands: []byte{0, 9, 3}}, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pop, push, err := Effect(tt.insn, factPool)
			require.NoError(t, err)
			assert.Equal(t, tt.pop, pop)
			assert.Equal(t, tt.push, push)
		})
	}
}

func TestMaxStack(t *testing.T) {
	l, _, err := Disassemble(factCode, factPool, nil)
	require.NoError(t, err)
	n, err := MaxStack(l, nil, factPool)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMaxStack_Handler(t *testing.T) {
	l := NewList()
	l.Append(Return(Void))
	handler := l.Append(Label())
	l.Append(Simple(ATHROW))

	n, err := MaxStack(l, []Handle{handler}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMaxStack_Inconsistent(t *testing.T) {
	l := NewList()
	start := l.Append(Label())
	l.Append(Simple(ICONST_0))
	l.Append(Goto(start))

	_, err := MaxStack(l, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStackInconsistent))
}
