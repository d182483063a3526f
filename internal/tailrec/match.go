// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package tailrec

import (
	"fmt"
	"strings"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/descriptor"
)

// MatchedTailCall locates a self-recursive call in tail position.
type MatchedTailCall struct {
	Invoke bytecode.Handle
	Return bytecode.Handle
	// Receiver is the aload_0 that pushed the call's receiver, or Nil for
	// static methods.
	Receiver bytecode.Handle
	// SharedReturn is set when another path branches to the return, which
	// must then stay in place.
	SharedReturn bool
	Desc         descriptor.Method
}

// Eligible reports whether m has exactly one implementation reachable at
// any call site. The empty reason means eligible.
func Eligible(c *classfile.Class, m *classfile.Method) string {
	switch {
	case m.Name() == "<init>" || m.Name() == "<clinit>":
		return "constructors and initializers are never rewritten"
	case m.IsAbstract() || m.IsNative() || !m.HasCode():
		return "method has no code"
	case m.IsStatic() || m.IsPrivate() || m.IsFinal() || c.IsFinal():
		return ""
	}
	return "method may be overridden"
}

// Match looks for a self-recursive invoke followed, past any labels, by
// the method's last return. On failure the reason says why.
func Match(c *classfile.Class, m *classfile.Method, code *classfile.Code) (*MatchedTailCall, string) {
	l := code.Insns

	ret := skipLabels(l, l.Last())
	if ret == bytecode.Nil || l.Get(ret).Kind != bytecode.KindReturn {
		return nil, "method does not end in a return"
	}

	shared := false
	inv := l.Prev(ret)
	for inv != bytecode.Nil && l.Get(inv).Kind == bytecode.KindLabel {
		if l.Targeted(inv) || isHandler(code, inv) {
			shared = true
		}
		inv = l.Prev(inv)
	}
	if inv == bytecode.Nil || l.Get(inv).Kind != bytecode.KindInvoke {
		return nil, "return is not preceded by a call"
	}

	call := l.Get(inv)
	if call.Member.Owner != c.Name() || call.Member.Name != m.Name() || call.Member.Desc != m.Descriptor() {
		return nil, fmt.Sprintf("tail call targets %s.%s%s", call.Member.Owner, call.Member.Name, call.Member.Desc)
	}
	switch {
	case m.IsStatic() && call.Op != bytecode.INVOKESTATIC,
		!m.IsStatic() && call.Op == bytecode.INVOKESTATIC,
		call.Op == bytecode.INVOKEDYNAMIC:
		return nil, fmt.Sprintf("%s does not dispatch to this method", call.Op)
	}

	desc, err := descriptor.ParseMethod(m.Descriptor())
	if err != nil {
		return nil, err.Error()
	}
	if want := returnKind(desc.Return); l.Get(ret).Value != want {
		return nil, fmt.Sprintf("%s does not return %s", l.Get(ret).Op, want)
	}

	if raw := code.RawAttributes(); len(raw) > 0 {
		return nil, "code attributes cannot be relocated: " + strings.Join(raw, ", ")
	}

	pos := positions(l)
	for _, h := range code.Handlers {
		if pos[h.Start] <= pos[inv] && pos[inv] < pos[h.End] {
			return nil, "tail call is inside an exception handler range"
		}
	}
	for h := l.First(); h != bytecode.Nil; h = l.Next(h) {
		in := l.Get(h)
		if in.Kind == bytecode.KindRet || (in.Kind == bytecode.KindJump && in.Op == bytecode.JSR) {
			return nil, "method uses subroutines"
		}
		if !m.IsStatic() && in.Kind == bytecode.KindStore && in.Slot == 0 {
			return nil, "method stores to the receiver slot"
		}
	}

	depths, _, err := bytecode.Depths(l, code.HandlerLabels(), c.Pool)
	if err != nil {
		return nil, err.Error()
	}
	args := desc.ArgWords()
	if !m.IsStatic() {
		args++
	}
	if d, ok := depths[inv]; !ok || d != args {
		return nil, "operand stack holds more than the call arguments"
	}

	match := &MatchedTailCall{Invoke: inv, Return: ret, Receiver: bytecode.Nil, SharedReturn: shared, Desc: desc}
	if !m.IsStatic() {
		recv, reason := findReceiver(c, code, depths, inv)
		if recv == bytecode.Nil {
			return nil, reason
		}
		match.Receiver = recv
	}
	return match, ""
}

// findReceiver walks back from the invoke in straight-line code to the
// instruction that pushed the bottom stack word, which must be aload_0.
func findReceiver(c *classfile.Class, code *classfile.Code, depths map[bytecode.Handle]int, inv bytecode.Handle) (bytecode.Handle, string) {
	l := code.Insns
	for h := l.Prev(inv); h != bytecode.Nil; h = l.Prev(h) {
		in := l.Get(h)
		if in.Kind == bytecode.KindLabel {
			if l.Targeted(h) || isHandler(code, h) {
				return bytecode.Nil, "receiver is pushed before a branch target"
			}
			continue
		}
		d, ok := depths[h]
		if !ok {
			return bytecode.Nil, "receiver is not reachable"
		}
		if d == 0 {
			if in.Kind == bytecode.KindLoad && in.Value == bytecode.Ref && in.Slot == 0 {
				return h, ""
			}
			return bytecode.Nil, fmt.Sprintf("receiver is pushed by %s, not aload_0", in)
		}
		pop, _, err := bytecode.Effect(in, c.Pool)
		if err != nil {
			return bytecode.Nil, err.Error()
		}
		if d-pop < 1 {
			return bytecode.Nil, fmt.Sprintf("%s rearranges the receiver", in)
		}
	}
	return bytecode.Nil, "receiver not found"
}

func skipLabels(l *bytecode.List, h bytecode.Handle) bytecode.Handle {
	for h != bytecode.Nil && l.Get(h).Kind == bytecode.KindLabel {
		h = l.Prev(h)
	}
	return h
}

func isHandler(code *classfile.Code, h bytecode.Handle) bool {
	for _, eh := range code.Handlers {
		if eh.Handler == h {
			return true
		}
	}
	return false
}

// positions numbers the live entries of l in order.
func positions(l *bytecode.List) map[bytecode.Handle]int {
	pos := make(map[bytecode.Handle]int, l.Len())
	i := 0
	for h := l.First(); h != bytecode.Nil; h = l.Next(h) {
		pos[h] = i
		i++
	}
	return pos
}

func returnKind(t descriptor.Type) bytecode.ValueKind {
	if t.IsReference() {
		return bytecode.Ref
	}
	switch t.Base {
	case descriptor.Long:
		return bytecode.Long
	case descriptor.Float:
		return bytecode.Float
	case descriptor.Double:
		return bytecode.Double
	case descriptor.Void:
		return bytecode.Void
	}
	return bytecode.Int
}
