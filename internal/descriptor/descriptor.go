// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package descriptor parses JVM field and method descriptors such as
// "I", "[Ljava/lang/String;" and "(IJ)V".
package descriptor

import (
	"fmt"
	"strings"
)

// Base type characters.
const (
	Boolean   = 'Z'
	Byte      = 'B'
	Char      = 'C'
	Short     = 'S'
	Int       = 'I'
	Long      = 'J'
	Float     = 'F'
	Double    = 'D'
	Reference = 'L'
	Void      = 'V'
)

// Type is a single field type. Arrays keep the element base in Base and the
// number of dimensions in Dims.
type Type struct {
	Base  byte
	Dims  int
	Class string
}

// Method is a parsed method descriptor.
type Method struct {
	Params []Type
	Return Type
}

func (t Type) IsArray() bool { return t.Dims > 0 }

// IsReference reports whether values of t are object references (classes
// and arrays).
func (t Type) IsReference() bool { return t.Dims > 0 || t.Base == Reference }

// Words is the number of operand stack words or local slots t occupies.
func (t Type) Words() int {
	if t.Dims > 0 {
		return 1
	}
	switch t.Base {
	case Long, Double:
		return 2
	case Void:
		return 0
	default:
		return 1
	}
}

// String renders t back into descriptor form.
func (t Type) String() string {
	var b strings.Builder
	for i := 0; i < t.Dims; i++ {
		b.WriteByte('[')
	}
	b.WriteByte(t.Base)
	if t.Base == Reference {
		b.WriteString(t.Class)
		b.WriteByte(';')
	}
	return b.String()
}

// ArgWords is the number of stack words the parameters occupy.
func (m Method) ArgWords() int {
	n := 0
	for _, p := range m.Params {
		n += p.Words()
	}
	return n
}

func (m Method) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	b.WriteString(m.Return.String())
	return b.String()
}

// ParseField parses a field descriptor.
func ParseField(s string) (Type, error) {
	t, n, err := parseType(s, 0, false)
	if err != nil {
		return Type{}, err
	}
	if n != len(s) {
		return Type{}, fmt.Errorf("field descriptor %q has trailing characters", s)
	}
	return t, nil
}

// ParseMethod parses a method descriptor.
func ParseMethod(s string) (Method, error) {
	if len(s) == 0 || s[0] != '(' {
		return Method{}, fmt.Errorf("method descriptor %q must start with '('", s)
	}
	var m Method
	pos := 1
	for {
		if pos >= len(s) {
			return Method{}, fmt.Errorf("method descriptor %q is missing ')'", s)
		}
		if s[pos] == ')' {
			pos++
			break
		}
		t, next, err := parseType(s, pos, false)
		if err != nil {
			return Method{}, err
		}
		m.Params = append(m.Params, t)
		pos = next
	}
	ret, next, err := parseType(s, pos, true)
	if err != nil {
		return Method{}, err
	}
	if next != len(s) {
		return Method{}, fmt.Errorf("method descriptor %q has trailing characters", s)
	}
	m.Return = ret
	return m, nil
}

func parseType(s string, pos int, allowVoid bool) (Type, int, error) {
	var t Type
	for pos < len(s) && s[pos] == '[' {
		t.Dims++
		pos++
	}
	if t.Dims > 255 {
		return Type{}, 0, fmt.Errorf("descriptor %q has more than 255 array dimensions", s)
	}
	if pos >= len(s) {
		return Type{}, 0, fmt.Errorf("descriptor %q is truncated", s)
	}
	c := s[pos]
	switch c {
	case Boolean, Byte, Char, Short, Int, Long, Float, Double:
		t.Base = c
		return t, pos + 1, nil
	case Void:
		if !allowVoid || t.Dims > 0 {
			return Type{}, 0, fmt.Errorf("descriptor %q uses void in a value position", s)
		}
		t.Base = c
		return t, pos + 1, nil
	case Reference:
		end := strings.IndexByte(s[pos:], ';')
		if end <= 1 {
			return Type{}, 0, fmt.Errorf("descriptor %q has an unterminated class name", s)
		}
		t.Base = c
		t.Class = s[pos+1 : pos+end]
		return t, pos + end + 1, nil
	default:
		return Type{}, 0, fmt.Errorf("descriptor %q has unknown type character %q", s, c)
	}
}
