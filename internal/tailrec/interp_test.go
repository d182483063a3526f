// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package tailrec

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/descriptor"
)

var errCallDepth = fmt.Errorf("call depth exceeded")

// machine runs the integer subset of bytecode used by the test classes.
// It counts nested calls so tests can tell recursion from looping.
type machine struct {
	class    *classfile.Class
	limit    int
	depth    int
	maxDepth int
}

func newMachine(data []byte, limit int) (*machine, error) {
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	return &machine{class: c, limit: limit}, nil
}

func (vm *machine) call(name, desc string, args ...int64) (int64, error) {
	var method *classfile.Method
	for _, m := range vm.class.Methods {
		if m.Name() == name && m.Descriptor() == desc {
			method = m
		}
	}
	if method == nil {
		return 0, fmt.Errorf("no method %s%s", name, desc)
	}

	vm.depth++
	defer func() { vm.depth-- }()
	if vm.depth > vm.limit {
		return 0, errCallDepth
	}
	if vm.depth > vm.maxDepth {
		vm.maxDepth = vm.depth
	}

	code, err := method.Code()
	if err != nil {
		return 0, err
	}
	d, err := descriptor.ParseMethod(desc)
	if err != nil {
		return 0, err
	}
	locals := make([]int64, code.MaxLocals)
	slot := 0
	if !method.IsStatic() {
		locals[0] = args[0]
		args = args[1:]
		slot = 1
	}
	for i, p := range d.Params {
		locals[slot] = args[i]
		slot += p.Words()
	}
	return vm.run(code.Insns, locals)
}

func i32(v int64) int64 { return int64(int32(v)) }

func (vm *machine) run(l *bytecode.List, locals []int64) (int64, error) {
	var stack []int64
	push := func(v int64) { stack = append(stack, v) }
	pop := func() int64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for h := l.First(); h != bytecode.Nil; {
		in := l.Get(h)
		next := l.Next(h)
		switch in.Kind {
		case bytecode.KindLabel:
		case bytecode.KindLoad:
			push(locals[in.Slot])
		case bytecode.KindStore:
			locals[in.Slot] = pop()
		case bytecode.KindReturn:
			if in.Value == bytecode.Void {
				return 0, nil
			}
			return pop(), nil
		case bytecode.KindJump:
			taken := true
			switch {
			case in.Op >= bytecode.IFEQ && in.Op <= bytecode.IFLE:
				taken = compare(in.Op-bytecode.IFEQ, pop(), 0)
			case in.Op >= bytecode.IF_ICMPEQ && in.Op <= bytecode.IF_ICMPLE:
				b, a := pop(), pop()
				taken = compare(in.Op-bytecode.IF_ICMPEQ, a, b)
			case in.Op != bytecode.GOTO:
				return 0, fmt.Errorf("unsupported %s", in.Op)
			}
			if taken {
				next = in.Target
			}
		case bytecode.KindInvoke:
			d, err := descriptor.ParseMethod(in.Member.Desc)
			if err != nil {
				return 0, err
			}
			n := len(d.Params)
			if in.Op != bytecode.INVOKESTATIC {
				n++
			}
			args := append([]int64(nil), stack[len(stack)-n:]...)
			stack = stack[:len(stack)-n]
			v, err := vm.call(in.Member.Name, in.Member.Desc, args...)
			if err != nil {
				return 0, err
			}
			if d.Return.Base != descriptor.Void {
				push(v)
			}
		case bytecode.KindOther:
			switch op := in.Op; {
			case op == bytecode.NOP:
			case op >= bytecode.ICONST_M1 && op <= bytecode.ICONST_5:
				push(int64(op) - int64(bytecode.ICONST_0))
			case op == bytecode.IADD:
				b, a := pop(), pop()
				push(i32(a + b))
			case op == bytecode.ISUB:
				b, a := pop(), pop()
				push(i32(a - b))
			case op == bytecode.IMUL:
				b, a := pop(), pop()
				push(i32(a * b))
			case op == bytecode.LADD:
				b, a := pop(), pop()
				push(a + b)
			case op == bytecode.LSUB:
				b, a := pop(), pop()
				push(a - b)
			case op == bytecode.I2L:
			default:
				return 0, fmt.Errorf("unsupported %s", op)
			}
		default:
			return 0, fmt.Errorf("unsupported %s", in)
		}
		h = next
	}
	return 0, fmt.Errorf("fell off the end of the method")
}

// compare evaluates the condition at index cond of eq, ne, lt, ge, gt, le.
func compare(cond bytecode.Opcode, a, b int64) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}
