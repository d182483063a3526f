// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/errors"
)

// Constant pool tags.
const (
	TagUTF8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Constant is one pool entry. Info holds the entry payload after the tag
// byte, exactly as read. Slots following a long or double are nil.
type Constant struct {
	Tag  uint8
	Info []byte
}

func (c *Constant) ref(i int) uint16 {
	return uint16(c.Info[2*i])<<8 | uint16(c.Info[2*i+1])
}

// Pool is a class constant pool. Index 0 is unused.
type Pool struct {
	entries []*Constant
	utf8    map[string]uint16
}

func payloadSize(tag uint8) int {
	switch tag {
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		return 2
	case TagMethodHandle:
		return 3
	case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
		TagNameAndType, TagDynamic, TagInvokeDynamic:
		return 4
	case TagLong, TagDouble:
		return 8
	}
	return -1
}

func readPool(r *reader) (*Pool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, errors.WrapMalformed("constant pool count is zero")
	}
	p := &Pool{entries: make([]*Constant, count), utf8: make(map[string]uint16)}
	for i := 1; i < count; i++ {
		tag := r.u1()
		var info []byte
		if tag == TagUTF8 {
			n := r.u2()
			info = r.bytes(int(n))
		} else {
			size := payloadSize(tag)
			if size < 0 {
				return nil, errors.WrapMalformed("constant %d has unknown tag %d", i, tag)
			}
			info = r.bytes(size)
		}
		if r.err != nil {
			return nil, r.err
		}
		p.entries[i] = &Constant{Tag: tag, Info: info}
		if tag == TagUTF8 {
			if _, seen := p.utf8[string(info)]; !seen {
				p.utf8[string(info)] = uint16(i)
			}
		}
		if tag == TagLong || tag == TagDouble {
			i++
			if i >= count {
				return nil, errors.WrapMalformed("wide constant %d overruns the pool", i-1)
			}
		}
	}
	return p, nil
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for _, c := range p.entries[1:] {
		if c == nil {
			continue
		}
		w.u1(c.Tag)
		if c.Tag == TagUTF8 {
			w.u2(uint16(len(c.Info)))
		}
		w.bytes(c.Info)
	}
}

// Len is the constant pool count as written in the class file.
func (p *Pool) Len() int { return len(p.entries) }

// Get returns the entry at index or an error when the index is out of
// range or names the unusable slot after a wide constant.
func (p *Pool) Get(index uint16) (*Constant, error) {
	if index == 0 || int(index) >= len(p.entries) || p.entries[index] == nil {
		return nil, errors.WrapMalformed("constant index %d out of range", index)
	}
	return p.entries[index], nil
}

func (p *Pool) expect(index uint16, tag uint8) (*Constant, error) {
	c, err := p.Get(index)
	if err != nil {
		return nil, err
	}
	if c.Tag != tag {
		return nil, errors.WrapMalformed("constant %d has tag %d, want %d", index, c.Tag, tag)
	}
	return c, nil
}

// UTF8 returns the string held by a CONSTANT_Utf8 entry.
func (p *Pool) UTF8(index uint16) (string, error) {
	c, err := p.expect(index, TagUTF8)
	if err != nil {
		return "", err
	}
	return string(c.Info), nil
}

// ClassName returns the internal name of a CONSTANT_Class entry.
func (p *Pool) ClassName(index uint16) (string, error) {
	c, err := p.expect(index, TagClass)
	if err != nil {
		return "", err
	}
	return p.UTF8(c.ref(0))
}

// NameAndType returns the name and descriptor of a CONSTANT_NameAndType.
func (p *Pool) NameAndType(index uint16) (string, string, error) {
	c, err := p.expect(index, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := p.UTF8(c.ref(0))
	if err != nil {
		return "", "", err
	}
	desc, err := p.UTF8(c.ref(1))
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// Member resolves a field, method, interface method or call site
// reference. Call sites have no owner.
func (p *Pool) Member(index uint16) (bytecode.Member, error) {
	c, err := p.Get(index)
	if err != nil {
		return bytecode.Member{}, err
	}
	m := bytecode.Member{Index: index}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		owner, err := p.ClassName(c.ref(0))
		if err != nil {
			return bytecode.Member{}, err
		}
		m.Owner = owner
	case TagDynamic, TagInvokeDynamic:
	default:
		return bytecode.Member{}, errors.WrapMalformed("constant %d with tag %d is not a member reference", index, c.Tag)
	}
	m.Name, m.Desc, err = p.NameAndType(c.ref(1))
	if err != nil {
		return bytecode.Member{}, err
	}
	return m, nil
}

// Lookup returns the index of an existing CONSTANT_Utf8 entry for s.
func (p *Pool) Lookup(s string) (uint16, bool) {
	i, ok := p.utf8[s]
	return i, ok
}

// AddUTF8 returns the index of a CONSTANT_Utf8 entry for s, appending one
// when the pool has none.
func (p *Pool) AddUTF8(s string) (uint16, error) {
	if i, ok := p.utf8[s]; ok {
		return i, nil
	}
	if len(p.entries) >= 0xffff {
		return 0, fmt.Errorf("%w: constant pool is full", errors.ErrMalformedContainer)
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, &Constant{Tag: TagUTF8, Info: []byte(s)})
	p.utf8[s] = i
	return i, nil
}

// Truncate drops entries appended after the pool had n entries.
func (p *Pool) Truncate(n int) {
	if n >= len(p.entries) {
		return
	}
	for _, c := range p.entries[n:] {
		if c != nil && c.Tag == TagUTF8 {
			if i, ok := p.utf8[string(c.Info)]; ok && int(i) >= n {
				delete(p.utf8, string(c.Info))
			}
		}
	}
	p.entries = p.entries[:n]
}
