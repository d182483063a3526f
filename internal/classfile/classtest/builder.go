// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package classtest assembles small class files for tests.
package classtest

import (
	"encoding/binary"
)

// Attr is an attribute to attach to a method or Code attribute.
type Attr struct {
	Name string
	Data []byte
}

// Handler is an exception table entry in byte offsets.
type Handler struct {
	Start, End, Handler, CatchType uint16
}

// Code describes a method body.
type Code struct {
	MaxStack, MaxLocals uint16
	Bytes               []byte
	Handlers            []Handler
	Attrs               []Attr
}

type method struct {
	access     uint16
	name, desc uint16
	code       *Code
	attrs      []Attr
}

// Builder accumulates a constant pool and methods for one class.
type Builder struct {
	Major, Minor uint16
	Access       uint16

	pool    [][]byte
	slots   int
	index   map[string]uint16
	this    uint16
	super   uint16
	methods []method
}

// New starts a class named name extending java/lang/Object with major
// version 52.
func New(name string, access uint16) *Builder {
	b := &Builder{Major: 52, Access: access, slots: 1, index: make(map[string]uint16)}
	b.this = b.Class(name)
	b.super = b.Class("java/lang/Object")
	return b
}

func (b *Builder) add(key string, entry []byte, wide bool) uint16 {
	if i, ok := b.index[key]; ok {
		return i
	}
	i := uint16(b.slots)
	b.pool = append(b.pool, entry)
	b.slots++
	if wide {
		b.slots++
	}
	b.index[key] = i
	return i
}

func u2(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

// UTF8 interns s.
func (b *Builder) UTF8(s string) uint16 {
	e := append([]byte{1}, u2(uint16(len(s)))...)
	return b.add("u:"+s, append(e, s...), false)
}

// Class interns a CONSTANT_Class for name.
func (b *Builder) Class(name string) uint16 {
	n := b.UTF8(name)
	return b.add("c:"+name, append([]byte{7}, u2(n)...), false)
}

// NameAndType interns a CONSTANT_NameAndType.
func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.UTF8(name), b.UTF8(desc)
	e := append([]byte{12}, u2(n)...)
	return b.add("nt:"+name+desc, append(e, u2(d)...), false)
}

func (b *Builder) ref(tag byte, owner, name, desc string) uint16 {
	c, nt := b.Class(owner), b.NameAndType(name, desc)
	e := append([]byte{tag}, u2(c)...)
	return b.add(string(rune('a'+tag))+owner+"."+name+desc, append(e, u2(nt)...), false)
}

// Methodref interns a CONSTANT_Methodref.
func (b *Builder) Methodref(owner, name, desc string) uint16 { return b.ref(10, owner, name, desc) }

// InterfaceMethodref interns a CONSTANT_InterfaceMethodref.
func (b *Builder) InterfaceMethodref(owner, name, desc string) uint16 {
	return b.ref(11, owner, name, desc)
}

// Fieldref interns a CONSTANT_Fieldref.
func (b *Builder) Fieldref(owner, name, desc string) uint16 { return b.ref(9, owner, name, desc) }

// Long adds a CONSTANT_Long, which takes two pool slots.
func (b *Builder) Long(v int64) uint16 {
	e := binary.BigEndian.AppendUint64([]byte{5}, uint64(v))
	return b.add("j:"+string(e), e, true)
}

// Method adds a method. A nil code adds an abstract or native method.
func (b *Builder) Method(access uint16, name, desc string, code *Code, attrs ...Attr) {
	b.methods = append(b.methods, method{
		access: access,
		name:   b.UTF8(name),
		desc:   b.UTF8(desc),
		code:   code,
		attrs:  attrs,
	})
}

func (b *Builder) attrs(out []byte, attrs []Attr) []byte {
	out = append(out, u2(uint16(len(attrs)))...)
	for _, a := range attrs {
		out = append(out, u2(b.UTF8(a.Name))...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(a.Data)))
		out = append(out, a.Data...)
	}
	return out
}

func (b *Builder) codeAttr(c *Code) Attr {
	var out []byte
	out = append(out, u2(c.MaxStack)...)
	out = append(out, u2(c.MaxLocals)...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Bytes)))
	out = append(out, c.Bytes...)
	out = append(out, u2(uint16(len(c.Handlers)))...)
	for _, h := range c.Handlers {
		for _, v := range []uint16{h.Start, h.End, h.Handler, h.CatchType} {
			out = append(out, u2(v)...)
		}
	}
	out = b.attrs(out, c.Attrs)
	return Attr{Name: "Code", Data: out}
}

// Bytes encodes the class file.
func (b *Builder) Bytes() []byte {
	// Attribute names must be interned before the pool is written.
	methodAttrs := make([][]Attr, len(b.methods))
	for i, m := range b.methods {
		var attrs []Attr
		if m.code != nil {
			attrs = append(attrs, b.codeAttr(m.code))
		}
		attrs = append(attrs, m.attrs...)
		for _, a := range attrs {
			b.UTF8(a.Name)
		}
		methodAttrs[i] = attrs
	}

	out := []byte{0xca, 0xfe, 0xba, 0xbe}
	out = append(out, u2(b.Minor)...)
	out = append(out, u2(b.Major)...)
	out = append(out, u2(uint16(b.slots))...)
	for _, e := range b.pool {
		out = append(out, e...)
	}
	out = append(out, u2(b.Access)...)
	out = append(out, u2(b.this)...)
	out = append(out, u2(b.super)...)
	out = append(out, 0, 0) // interfaces
	out = append(out, 0, 0) // fields
	out = append(out, u2(uint16(len(b.methods)))...)
	for i, m := range b.methods {
		out = append(out, u2(m.access)...)
		out = append(out, u2(m.name)...)
		out = append(out, u2(m.desc)...)
		out = b.attrs(out, methodAttrs[i])
	}
	return append(out, 0, 0)
}

// LineNumbers builds a LineNumberTable from (start_pc, line) pairs.
func LineNumbers(pairs ...[2]uint16) Attr {
	out := u2(uint16(len(pairs)))
	for _, p := range pairs {
		out = append(out, u2(p[0])...)
		out = append(out, u2(p[1])...)
	}
	return Attr{Name: "LineNumberTable", Data: out}
}

// LocalVariable is a LocalVariableTable entry with interned name and
// descriptor indexes.
type LocalVariable struct {
	Start, Length, Name, Desc, Slot uint16
}

// LocalVariables builds a LocalVariableTable.
func LocalVariables(vars ...LocalVariable) Attr {
	out := u2(uint16(len(vars)))
	for _, v := range vars {
		for _, f := range []uint16{v.Start, v.Length, v.Name, v.Desc, v.Slot} {
			out = append(out, u2(f)...)
		}
	}
	return Attr{Name: "LocalVariableTable", Data: out}
}

// StackMap wraps encoded frames in a StackMapTable attribute.
func StackMap(count uint16, frames ...byte) Attr {
	return Attr{Name: "StackMapTable", Data: append(u2(count), frames...)}
}
