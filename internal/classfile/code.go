// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/errors"
)

// Code attribute names with decoded forms.
const (
	AttrCode                   = "Code"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrStackMapTable          = "StackMapTable"
)

// Handler is an exception table entry. End is exclusive.
type Handler struct {
	Start, End, Handler bytecode.Handle
	CatchType           uint16
}

// LineNumber maps the instruction at Start to a source line.
type LineNumber struct {
	Start bytecode.Handle
	Line  uint16
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable entry. Desc
// holds the signature index for the type table.
type LocalVar struct {
	Start, End bytecode.Handle
	Name, Desc uint16
	Slot       uint16
}

// CodeAttrKind says which decoded form a CodeAttribute carries.
type CodeAttrKind uint8

const (
	CodeAttrRaw CodeAttrKind = iota
	CodeAttrLines
	CodeAttrVars
	CodeAttrStackMap
)

// CodeAttribute is an attribute of a Code attribute. Attributes that refer
// to code offsets are decoded so the offsets follow their labels; the rest
// are kept raw.
type CodeAttribute struct {
	Name   uint16
	Kind   CodeAttrKind
	Raw    []byte
	Lines  []LineNumber
	Vars   []LocalVar
	Frames []Frame
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Insns      *bytecode.List
	Handlers   []Handler
	Attributes []CodeAttribute

	names map[uint16]string
}

func decodeCode(data []byte, pool *Pool) (*Code, error) {
	r := newReader(data, "Code attribute")
	c := &Code{MaxStack: r.u2(), MaxLocals: r.u2(), names: make(map[uint16]string)}
	n := r.u4()
	if r.err == nil && (n == 0 || n > bytecode.MaxCodeLength) {
		return nil, errors.WrapMalformed("code length %d", n)
	}
	raw := r.bytes(int(n))

	type rawHandler struct{ start, end, handler int }
	var handlers []rawHandler
	var catchTypes []uint16
	count := int(r.u2())
	for i := 0; i < count && r.err == nil; i++ {
		handlers = append(handlers, rawHandler{int(r.u2()), int(r.u2()), int(r.u2())})
		catchTypes = append(catchTypes, r.u2())
	}
	attrs := readAttributes(r)
	if err := r.done(); err != nil {
		return nil, err
	}

	var anchors []int
	for _, h := range handlers {
		if h.start >= h.end || h.end > len(raw) {
			return nil, errors.WrapMalformed("exception range [%d, %d) is invalid", h.start, h.end)
		}
		anchors = append(anchors, h.start, h.end, h.handler)
	}

	// Attributes are parsed first, with offsets, so that every offset they
	// name becomes a label during disassembly.
	parsed := make([]parsedAttr, len(attrs))
	for i, a := range attrs {
		name, err := pool.UTF8(a.Name)
		if err != nil {
			return nil, errors.WrapMalformedErr("code attribute name", err)
		}
		c.names[a.Name] = name
		p, err := parseCodeAttr(name, a.Data)
		if err != nil {
			return nil, err
		}
		p.name = a.Name
		parsed[i] = p
		anchors = append(anchors, p.offsets()...)
	}

	list, labels, err := bytecode.Disassemble(raw, pool, anchors)
	if err != nil {
		return nil, err
	}
	c.Insns = list
	at := func(off int) bytecode.Handle {
		h := labels[off]
		list.Retain(h)
		return h
	}

	for i, h := range handlers {
		c.Handlers = append(c.Handlers, Handler{
			Start:     at(h.start),
			End:       at(h.end),
			Handler:   at(h.handler),
			CatchType: catchTypes[i],
		})
	}
	for _, p := range parsed {
		c.Attributes = append(c.Attributes, p.resolve(at))
	}
	return c, nil
}

// encode assembles the body and re-encodes every decoded attribute
// against the new instruction offsets.
func (c *Code) encode(pool *Pool) ([]byte, error) {
	code, offsets, err := bytecode.Assemble(c.Insns)
	if err != nil {
		return nil, err
	}
	off := func(h bytecode.Handle) (int, error) {
		o, ok := offsets[h]
		if !ok {
			return 0, errors.WrapDanglingJumpTarget(fmt.Sprintf("label %d is not in the method", h))
		}
		return o, nil
	}

	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(code)))
	w.bytes(code)
	w.u2(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		for _, l := range []bytecode.Handle{h.Start, h.End, h.Handler} {
			o, err := off(l)
			if err != nil {
				return nil, err
			}
			w.u2(uint16(o))
		}
		w.u2(h.CatchType)
	}

	w.u2(uint16(len(c.Attributes)))
	for i := range c.Attributes {
		a := &c.Attributes[i]
		data, err := a.encode(off)
		if err != nil {
			return nil, err
		}
		w.attr(a.Name, data)
	}
	return w.buf, nil
}

// AttributeName returns the name of a code attribute.
func (c *Code) AttributeName(a *CodeAttribute) string { return c.names[a.Name] }

// RawAttributes lists the names of attributes kept undecoded. Their
// contents cannot follow instruction offsets.
func (c *Code) RawAttributes() []string {
	var out []string
	for i := range c.Attributes {
		if c.Attributes[i].Kind == CodeAttrRaw {
			out = append(out, c.names[c.Attributes[i].Name])
		}
	}
	return out
}

// StackMap returns the StackMapTable attribute, or nil.
func (c *Code) StackMap() *CodeAttribute {
	for i := range c.Attributes {
		if c.Attributes[i].Kind == CodeAttrStackMap {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FrameAt reports whether a stack map frame is anchored at the label h.
func (c *Code) FrameAt(h bytecode.Handle) bool {
	sm := c.StackMap()
	if sm == nil {
		return false
	}
	for _, f := range sm.Frames {
		if f.At == h {
			return true
		}
	}
	return false
}

// PrependFrame adds f as the first frame of the method, creating the
// StackMapTable attribute when the method has none.
func (c *Code) PrependFrame(pool *Pool, f Frame) error {
	sm := c.StackMap()
	if sm == nil {
		name, err := pool.AddUTF8(AttrStackMapTable)
		if err != nil {
			return err
		}
		c.names[name] = AttrStackMapTable
		c.Attributes = append(c.Attributes, CodeAttribute{Name: name, Kind: CodeAttrStackMap})
		sm = &c.Attributes[len(c.Attributes)-1]
	}
	c.Insns.Retain(f.At)
	sm.Frames = append([]Frame{f}, sm.Frames...)
	return nil
}

// HandlerLabels returns the handler entry label of every exception table
// entry.
func (c *Code) HandlerLabels() []bytecode.Handle {
	out := make([]bytecode.Handle, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		out = append(out, h.Handler)
	}
	return out
}

type parsedAttr struct {
	name   uint16
	kind   CodeAttrKind
	raw    []byte
	lines  [][2]int
	vars   [][5]int
	frames []rawFrame
}

func parseCodeAttr(name string, data []byte) (parsedAttr, error) {
	r := newReader(data, name)
	p := parsedAttr{raw: data}
	switch name {
	case AttrLineNumberTable:
		p.kind = CodeAttrLines
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			p.lines = append(p.lines, [2]int{int(r.u2()), int(r.u2())})
		}
	case AttrLocalVariableTable, AttrLocalVariableTypeTable:
		p.kind = CodeAttrVars
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			p.vars = append(p.vars, [5]int{int(r.u2()), int(r.u2()), int(r.u2()), int(r.u2()), int(r.u2())})
		}
	case AttrStackMapTable:
		p.kind = CodeAttrStackMap
		frames, err := readFrames(r)
		if err != nil {
			return parsedAttr{}, err
		}
		p.frames = frames
	default:
		return p, nil
	}
	if err := r.done(); err != nil {
		return parsedAttr{}, err
	}
	return p, nil
}

func (p *parsedAttr) offsets() []int {
	var out []int
	for _, l := range p.lines {
		out = append(out, l[0])
	}
	for _, v := range p.vars {
		out = append(out, v[0], v[0]+v[1])
	}
	for _, f := range p.frames {
		out = append(out, f.offset)
		out = append(out, f.uninitialized()...)
	}
	return out
}

func (p *parsedAttr) resolve(at func(int) bytecode.Handle) CodeAttribute {
	a := CodeAttribute{Name: p.name, Kind: p.kind}
	switch p.kind {
	case CodeAttrRaw:
		a.Raw = p.raw
	case CodeAttrLines:
		for _, l := range p.lines {
			a.Lines = append(a.Lines, LineNumber{Start: at(l[0]), Line: uint16(l[1])})
		}
	case CodeAttrVars:
		for _, v := range p.vars {
			a.Vars = append(a.Vars, LocalVar{
				Start: at(v[0]),
				End:   at(v[0] + v[1]),
				Name:  uint16(v[2]),
				Desc:  uint16(v[3]),
				Slot:  uint16(v[4]),
			})
		}
	case CodeAttrStackMap:
		for _, f := range p.frames {
			a.Frames = append(a.Frames, f.resolve(at))
		}
	}
	return a
}

func (a *CodeAttribute) encode(off func(bytecode.Handle) (int, error)) ([]byte, error) {
	w := &writer{}
	switch a.Kind {
	case CodeAttrRaw:
		return a.Raw, nil
	case CodeAttrLines:
		w.u2(uint16(len(a.Lines)))
		for _, l := range a.Lines {
			o, err := off(l.Start)
			if err != nil {
				return nil, err
			}
			w.u2(uint16(o))
			w.u2(l.Line)
		}
	case CodeAttrVars:
		w.u2(uint16(len(a.Vars)))
		for _, v := range a.Vars {
			start, err := off(v.Start)
			if err != nil {
				return nil, err
			}
			end, err := off(v.End)
			if err != nil {
				return nil, err
			}
			w.u2(uint16(start))
			w.u2(uint16(end - start))
			w.u2(v.Name)
			w.u2(v.Desc)
			w.u2(v.Slot)
		}
	case CodeAttrStackMap:
		if err := writeFrames(w, a.Frames, off); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}
