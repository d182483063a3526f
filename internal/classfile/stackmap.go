// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"fmt"
	"sort"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/errors"
)

// Verification type tags.
const (
	VTop               = 0
	VInteger           = 1
	VFloat             = 2
	VDouble            = 3
	VLong              = 4
	VNull              = 5
	VUninitializedThis = 6
	VObject            = 7
	VUninitialized     = 8
)

// VerificationType is one entry of a frame. Object types carry a class
// constant index; uninitialized types carry the label of their new
// instruction.
type VerificationType struct {
	Tag   uint8
	Index uint16
	Label bytecode.Handle
}

// FrameKind is the compressed form a frame is written in. The offset
// delta is recomputed at encode time, so only the shape is kept.
type FrameKind uint8

const (
	FrameSame FrameKind = iota
	FrameSameLocals1
	FrameChop
	FrameAppend
	FrameFull
)

// Frame is a StackMapTable entry anchored at a label.
type Frame struct {
	At     bytecode.Handle
	Kind   FrameKind
	Chop   int
	Locals []VerificationType
	Stack  []VerificationType
}

type rawVType struct {
	tag uint8
	arg int
}

type rawFrame struct {
	offset int
	kind   FrameKind
	chop   int
	locals []rawVType
	stack  []rawVType
}

func readVType(r *reader) rawVType {
	v := rawVType{tag: r.u1()}
	if r.err == nil && v.tag > VUninitialized {
		r.err = errors.WrapMalformed("unknown verification type tag %d", v.tag)
	}
	if v.tag == VObject || v.tag == VUninitialized {
		v.arg = int(r.u2())
	}
	return v
}

func readVTypes(r *reader, n int) []rawVType {
	out := make([]rawVType, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, readVType(r))
	}
	return out
}

func readFrames(r *reader) ([]rawFrame, error) {
	n := int(r.u2())
	var frames []rawFrame
	offset := -1
	for i := 0; i < n && r.err == nil; i++ {
		t := int(r.u1())
		var f rawFrame
		var delta int
		switch {
		case t <= 63:
			f.kind, delta = FrameSame, t
		case t <= 127:
			f.kind, delta = FrameSameLocals1, t-64
			f.stack = readVTypes(r, 1)
		case t < 247:
			return nil, errors.WrapMalformed("reserved frame type %d", t)
		case t == 247:
			f.kind, delta = FrameSameLocals1, int(r.u2())
			f.stack = readVTypes(r, 1)
		case t <= 250:
			f.kind, f.chop, delta = FrameChop, 251-t, int(r.u2())
		case t == 251:
			f.kind, delta = FrameSame, int(r.u2())
		case t <= 254:
			f.kind, delta = FrameAppend, int(r.u2())
			f.locals = readVTypes(r, t-251)
		default:
			f.kind, delta = FrameFull, int(r.u2())
			f.locals = readVTypes(r, int(r.u2()))
			f.stack = readVTypes(r, int(r.u2()))
		}
		offset += delta + 1
		f.offset = offset
		frames = append(frames, f)
	}
	return frames, r.err
}

func (f *rawFrame) uninitialized() []int {
	var out []int
	for _, v := range append(append([]rawVType(nil), f.locals...), f.stack...) {
		if v.tag == VUninitialized {
			out = append(out, v.arg)
		}
	}
	return out
}

func (f *rawFrame) resolve(at func(int) bytecode.Handle) Frame {
	conv := func(in []rawVType) []VerificationType {
		if in == nil {
			return nil
		}
		out := make([]VerificationType, len(in))
		for i, v := range in {
			out[i] = VerificationType{Tag: v.tag, Label: bytecode.Nil}
			switch v.tag {
			case VObject:
				out[i].Index = uint16(v.arg)
			case VUninitialized:
				out[i].Label = at(v.arg)
			}
		}
		return out
	}
	return Frame{At: at(f.offset), Kind: f.kind, Chop: f.chop, Locals: conv(f.locals), Stack: conv(f.stack)}
}

func writeVTypes(w *writer, vs []VerificationType, off func(bytecode.Handle) (int, error)) error {
	for _, v := range vs {
		w.u1(v.Tag)
		switch v.Tag {
		case VObject:
			w.u2(v.Index)
		case VUninitialized:
			o, err := off(v.Label)
			if err != nil {
				return err
			}
			w.u2(uint16(o))
		}
	}
	return nil
}

// writeFrames encodes frames in offset order, choosing the short form of
// each frame kind whenever its delta allows.
func writeFrames(w *writer, frames []Frame, off func(bytecode.Handle) (int, error)) error {
	type placed struct {
		f   *Frame
		off int
	}
	order := make([]placed, len(frames))
	for i := range frames {
		o, err := off(frames[i].At)
		if err != nil {
			return err
		}
		order[i] = placed{&frames[i], o}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].off < order[j].off })

	w.u2(uint16(len(order)))
	prev := -1
	for _, p := range order {
		if p.off == prev {
			return errors.WrapStackInconsistent(fmt.Sprintf("two stack map frames at offset %d", p.off))
		}
		delta := p.off - prev - 1
		prev = p.off
		f := p.f
		switch f.Kind {
		case FrameSame:
			if delta <= 63 {
				w.u1(uint8(delta))
			} else {
				w.u1(251)
				w.u2(uint16(delta))
			}
		case FrameSameLocals1:
			if delta <= 63 {
				w.u1(uint8(64 + delta))
			} else {
				w.u1(247)
				w.u2(uint16(delta))
			}
			if err := writeVTypes(w, f.Stack, off); err != nil {
				return err
			}
		case FrameChop:
			w.u1(uint8(251 - f.Chop))
			w.u2(uint16(delta))
		case FrameAppend:
			w.u1(uint8(251 + len(f.Locals)))
			w.u2(uint16(delta))
			if err := writeVTypes(w, f.Locals, off); err != nil {
				return err
			}
		case FrameFull:
			w.u1(255)
			w.u2(uint16(delta))
			w.u2(uint16(len(f.Locals)))
			if err := writeVTypes(w, f.Locals, off); err != nil {
				return err
			}
			w.u2(uint16(len(f.Stack)))
			if err := writeVTypes(w, f.Stack, off); err != nil {
				return err
			}
		}
	}
	return nil
}
