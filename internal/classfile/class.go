// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package classfile reads and writes JVM class files. Method bodies are
// decoded on demand into label based instruction lists; methods that are
// never decoded are written back byte for byte.
package classfile

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/errors"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Access flags for classes and methods.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccBridge       = 0x0040
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// StackMapVersion is the first major version whose verifier requires
// StackMapTable frames at branch targets.
const StackMapVersion = 50

// Attribute is an undecoded attribute.
type Attribute struct {
	Name uint16
	Data []byte
}

// Field is a field_info entry. Fields are carried through unchanged.
type Field struct {
	Access     uint16
	Name       uint16
	Desc       uint16
	Attributes []Attribute
}

// Method is a method_info entry.
type Method struct {
	Access     uint16
	NameIndex  uint16
	DescIndex  uint16
	Attributes []Attribute

	class    *Class
	codeAttr int
	code     *Code
}

// Class is a parsed class file.
type Class struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	This, Super  uint16
	Interfaces   []uint16
	Fields       []Field
	Methods      []*Method
	Attributes   []Attribute
}

// Parse decodes a class file. The constant pool and member tables are
// validated; method bodies are left encoded until Method.Code is called.
func Parse(data []byte) (*Class, error) {
	r := newReader(data, "class file")
	if magic := r.u4(); r.err == nil && magic != Magic {
		return nil, errors.WrapMalformed("bad magic %#x", magic)
	}
	c := &Class{}
	c.Minor = r.u2()
	c.Major = r.u2()
	if r.err != nil {
		return nil, r.err
	}

	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	c.Pool = pool

	c.Access = r.u2()
	c.This = r.u2()
	c.Super = r.u2()
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		c.Interfaces = append(c.Interfaces, r.u2())
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		f := Field{Access: r.u2(), Name: r.u2(), Desc: r.u2()}
		f.Attributes = readAttributes(r)
		c.Fields = append(c.Fields, f)
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		m := &Method{Access: r.u2(), NameIndex: r.u2(), DescIndex: r.u2(), class: c, codeAttr: -1}
		m.Attributes = readAttributes(r)
		c.Methods = append(c.Methods, m)
	}

	c.Attributes = readAttributes(r)
	if err := r.done(); err != nil {
		return nil, err
	}

	if _, err := c.Pool.ClassName(c.This); err != nil {
		return nil, errors.WrapMalformedErr("this_class", err)
	}
	for _, m := range c.Methods {
		if err := m.index(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readAttributes(r *reader) []Attribute {
	n := int(r.u2())
	var attrs []Attribute
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u2()
		size := r.u4()
		if r.err == nil && int64(size) > int64(r.remaining()) {
			r.err = errors.WrapMalformed("attribute of %d bytes exceeds the %d remaining", size, r.remaining())
			break
		}
		attrs = append(attrs, Attribute{Name: name, Data: r.bytes(int(size))})
	}
	return attrs
}

// index validates the method's names and locates its Code attribute.
func (m *Method) index() error {
	name, err := m.class.Pool.UTF8(m.NameIndex)
	if err != nil {
		return errors.WrapMalformedErr("method name", err)
	}
	if _, err := m.class.Pool.UTF8(m.DescIndex); err != nil {
		return errors.WrapMalformedErr(fmt.Sprintf("method %s descriptor", name), err)
	}
	for i, a := range m.Attributes {
		an, err := m.class.Pool.UTF8(a.Name)
		if err != nil {
			return errors.WrapMalformedErr(fmt.Sprintf("method %s attribute name", name), err)
		}
		if an == "Code" {
			if m.codeAttr >= 0 {
				return errors.WrapMalformed("method %s has two Code attributes", name)
			}
			m.codeAttr = i
		}
	}
	return nil
}

// Bytes encodes the class. Methods whose code was decoded but not
// committed are written from their original bytes.
func (c *Class) Bytes() []byte {
	w := &writer{}
	w.u4(Magic)
	w.u2(c.Minor)
	w.u2(c.Major)
	c.Pool.write(w)
	w.u2(c.Access)
	w.u2(c.This)
	w.u2(c.Super)
	w.u2(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		w.u2(i)
	}
	w.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		w.u2(f.Access)
		w.u2(f.Name)
		w.u2(f.Desc)
		writeAttributes(w, f.Attributes)
	}
	w.u2(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		w.u2(m.Access)
		w.u2(m.NameIndex)
		w.u2(m.DescIndex)
		writeAttributes(w, m.Attributes)
	}
	writeAttributes(w, c.Attributes)
	return w.buf
}

func writeAttributes(w *writer, attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.attr(a.Name, a.Data)
	}
}

// Name is the internal name of the class, such as "java/lang/String".
func (c *Class) Name() string {
	name, _ := c.Pool.ClassName(c.This)
	return name
}

// IsFinal reports whether the class cannot be subclassed.
func (c *Class) IsFinal() bool { return c.Access&AccFinal != 0 }

// Version renders the class file version as major.minor.
func (c *Class) Version() string { return fmt.Sprintf("%d.%d", c.Major, c.Minor) }

func (m *Method) Name() string {
	s, _ := m.class.Pool.UTF8(m.NameIndex)
	return s
}

func (m *Method) Descriptor() string {
	s, _ := m.class.Pool.UTF8(m.DescIndex)
	return s
}

// Class returns the class that declares m.
func (m *Method) Class() *Class { return m.class }

func (m *Method) IsStatic() bool   { return m.Access&AccStatic != 0 }
func (m *Method) IsPrivate() bool  { return m.Access&AccPrivate != 0 }
func (m *Method) IsFinal() bool    { return m.Access&AccFinal != 0 }
func (m *Method) IsAbstract() bool { return m.Access&AccAbstract != 0 }
func (m *Method) IsNative() bool   { return m.Access&AccNative != 0 }

// HasCode reports whether m carries a Code attribute.
func (m *Method) HasCode() bool { return m.codeAttr >= 0 }

// Code decodes the method body. The result is cached until Revert or
// CommitCode.
func (m *Method) Code() (*Code, error) {
	if m.code != nil {
		return m.code, nil
	}
	if m.codeAttr < 0 {
		return nil, fmt.Errorf("method %s%s has no code", m.Name(), m.Descriptor())
	}
	code, err := decodeCode(m.Attributes[m.codeAttr].Data, m.class.Pool)
	if err != nil {
		return nil, fmt.Errorf("method %s%s: %w", m.Name(), m.Descriptor(), err)
	}
	m.code = code
	return code, nil
}

// CommitCode encodes the decoded body back into the Code attribute. On
// failure the attribute keeps its previous bytes.
func (m *Method) CommitCode() error {
	if m.code == nil {
		return nil
	}
	data, err := m.code.encode(m.class.Pool)
	if err != nil {
		return fmt.Errorf("method %s%s: %w", m.Name(), m.Descriptor(), err)
	}
	m.Attributes[m.codeAttr].Data = data
	m.code = nil
	return nil
}

// Revert discards any decoded body so the original bytes are written.
func (m *Method) Revert() { m.code = nil }
