// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/errors"
)

// Handle identifies an instruction in a List. Handles stay valid across
// insertions and removals of other instructions.
type Handle int

// Nil is the absent handle.
const Nil Handle = -1

// Kind classifies an instruction by how the rewriter needs to treat it.
type Kind uint8

const (
	KindOther Kind = iota
	KindLabel
	KindJump
	KindSwitch
	KindInvoke
	KindLoad
	KindStore
	KindIinc
	KindRet
	KindReturn
)

// ValueKind is the computational type moved by a typed load, store or
// return. The order matches the opcode layout (iload, lload, fload, dload,
// aload).
type ValueKind uint8

const (
	Int ValueKind = iota
	Long
	Float
	Double
	Ref
	Void
)

// Words is the number of stack words or local slots a value occupies.
func (k ValueKind) Words() int {
	switch k {
	case Long, Double:
		return 2
	case Void:
		return 0
	}
	return 1
}

func (k ValueKind) String() string {
	return [...]string{"int", "long", "float", "double", "reference", "void"}[k]
}

// Member is a resolved field, method or call-site reference.
type Member struct {
	Index uint16
	Owner string
	Name  string
	Desc  string
}

// Resolver resolves constant pool references for invoke and field
// instructions.
type Resolver interface {
	Member(index uint16) (Member, error)
}

// Insn is one instruction or label. Only the fields relevant to Kind are
// set. Branch offsets are held as label handles, never as byte offsets.
type Insn struct {
	Kind  Kind
	Op    Opcode
	Value ValueKind

	// Slot is the local variable index for loads, stores, iinc and ret.
	Slot int
	// Incr is the iinc increment.
	Incr int

	Target  Handle
	Default Handle
	Targets []Handle
	// Keys holds lookupswitch match values. Low is the tableswitch base.
	Keys []int32
	Low  int32

	Member Member
	// Count is the invokeinterface argument count byte.
	Count uint8

	// Operands holds the raw operand bytes of KindOther instructions.
	Operands []byte
}

// Label returns a fresh label instruction.
func Label() Insn { return Insn{Kind: KindLabel, Target: Nil, Default: Nil} }

// Load returns a typed load from slot.
func Load(k ValueKind, slot int) Insn {
	return Insn{Kind: KindLoad, Op: loadOp(k), Value: k, Slot: slot, Target: Nil, Default: Nil}
}

// Store returns a typed store into slot.
func Store(k ValueKind, slot int) Insn {
	return Insn{Kind: KindStore, Op: storeOp(k), Value: k, Slot: slot, Target: Nil, Default: Nil}
}

// Goto returns an unconditional jump to target.
func Goto(target Handle) Insn {
	return Insn{Kind: KindJump, Op: GOTO, Target: target, Default: Nil}
}

// Return returns a typed return.
func Return(k ValueKind) Insn {
	return Insn{Kind: KindReturn, Op: returnOp(k), Value: k, Target: Nil, Default: Nil}
}

// Simple returns an instruction without operands, such as iadd.
func Simple(op Opcode) Insn {
	return Insn{Kind: KindOther, Op: op, Target: Nil, Default: Nil}
}

// labelRefs lists every label the instruction branches to.
func (in *Insn) labelRefs() []Handle {
	switch in.Kind {
	case KindJump:
		return []Handle{in.Target}
	case KindSwitch:
		refs := make([]Handle, 0, len(in.Targets)+1)
		refs = append(refs, in.Default)
		return append(refs, in.Targets...)
	}
	return nil
}

func (in Insn) String() string {
	switch in.Kind {
	case KindLabel:
		return "label"
	case KindJump:
		return fmt.Sprintf("%s L%d", in.Op, in.Target)
	case KindSwitch:
		return fmt.Sprintf("%s default L%d, %d cases", in.Op, in.Default, len(in.Targets))
	case KindInvoke:
		return fmt.Sprintf("%s %s.%s%s", in.Op, in.Member.Owner, in.Member.Name, in.Member.Desc)
	case KindLoad, KindStore, KindRet:
		return fmt.Sprintf("%s %d", in.Op, in.Slot)
	case KindIinc:
		return fmt.Sprintf("iinc %d %d", in.Slot, in.Incr)
	}
	return in.Op.String()
}

type node struct {
	insn       Insn
	prev, next Handle
	live       bool
	refs       int
}

// List is a doubly linked instruction sequence stored in an arena. Labels
// carry a reference count covering both branches that target them and
// external anchors registered with Retain.
type List struct {
	nodes       []node
	first, last Handle
	n           int
}

// NewList returns an empty list.
func NewList() *List {
	return &List{first: Nil, last: Nil}
}

// Len is the number of live entries, labels included.
func (l *List) Len() int { return l.n }

func (l *List) First() Handle { return l.first }
func (l *List) Last() Handle  { return l.last }

func (l *List) Next(h Handle) Handle {
	if !l.valid(h) {
		return Nil
	}
	return l.nodes[h].next
}

func (l *List) Prev(h Handle) Handle {
	if !l.valid(h) {
		return Nil
	}
	return l.nodes[h].prev
}

// Get returns the instruction at h.
func (l *List) Get(h Handle) Insn {
	if !l.valid(h) {
		return Insn{Target: Nil, Default: Nil}
	}
	return l.nodes[h].insn
}

// Refs is the current reference count of the label at h.
func (l *List) Refs(h Handle) int {
	if !l.valid(h) {
		return 0
	}
	return l.nodes[h].refs
}

// Contains reports whether h names a live entry.
func (l *List) Contains(h Handle) bool { return l.valid(h) }

func (l *List) valid(h Handle) bool {
	return h >= 0 && int(h) < len(l.nodes) && l.nodes[h].live
}

// Append adds insn at the end of the list.
func (l *List) Append(insn Insn) Handle { return l.InsertBefore(Nil, insn) }

// InsertBefore links insn immediately before anchor. A Nil anchor appends.
func (l *List) InsertBefore(anchor Handle, insn Insn) Handle {
	h := Handle(len(l.nodes))
	l.nodes = append(l.nodes, node{insn: insn, prev: Nil, next: Nil, live: true})
	l.n++

	if anchor == Nil || !l.valid(anchor) {
		l.nodes[h].prev = l.last
		if l.last != Nil {
			l.nodes[l.last].next = h
		} else {
			l.first = h
		}
		l.last = h
	} else {
		p := l.nodes[anchor].prev
		l.nodes[h].prev = p
		l.nodes[h].next = anchor
		l.nodes[anchor].prev = h
		if p != Nil {
			l.nodes[p].next = h
		} else {
			l.first = h
		}
	}
	l.ref(&l.nodes[h].insn, 1)
	return h
}

// Replace swaps the instruction at old for insn in place and returns its
// handle. A label still referenced cannot be replaced by a non-label.
func (l *List) Replace(old Handle, insn Insn) (Handle, error) {
	if !l.valid(old) {
		return Nil, errors.WrapDanglingJumpTarget(fmt.Sprintf("replace of unknown handle %d", old))
	}
	n := &l.nodes[old]
	if n.insn.Kind == KindLabel && insn.Kind != KindLabel && n.refs > 0 {
		return Nil, errors.WrapDanglingJumpTarget(fmt.Sprintf("label %d still has %d references", old, n.refs))
	}
	l.ref(&n.insn, -1)
	n.insn = insn
	l.ref(&n.insn, 1)
	return old, nil
}

// Remove unlinks h. Removing a referenced label fails.
func (l *List) Remove(h Handle) error {
	if !l.valid(h) {
		return errors.WrapDanglingJumpTarget(fmt.Sprintf("remove of unknown handle %d", h))
	}
	n := &l.nodes[h]
	if n.insn.Kind == KindLabel && n.refs > 0 {
		return errors.WrapDanglingJumpTarget(fmt.Sprintf("label %d still has %d references", h, n.refs))
	}
	l.ref(&n.insn, -1)
	if n.prev != Nil {
		l.nodes[n.prev].next = n.next
	} else {
		l.first = n.next
	}
	if n.next != Nil {
		l.nodes[n.next].prev = n.prev
	} else {
		l.last = n.prev
	}
	n.live = false
	n.prev, n.next = Nil, Nil
	l.n--
	return nil
}

// Retain pins the label at h for an external anchor such as an exception
// range or a debug table entry.
func (l *List) Retain(h Handle) {
	if l.valid(h) {
		l.nodes[h].refs++
	}
}

// Release drops a reference taken by Retain.
func (l *List) Release(h Handle) {
	if l.valid(h) && l.nodes[h].refs > 0 {
		l.nodes[h].refs--
	}
}

func (l *List) ref(insn *Insn, delta int) {
	for _, t := range insn.labelRefs() {
		if l.valid(t) {
			l.nodes[t].refs += delta
		}
	}
}

// Targeted reports whether the label at h is a branch target, as opposed
// to only being pinned by external anchors.
func (l *List) Targeted(h Handle) bool {
	for it := l.first; it != Nil; it = l.nodes[it].next {
		for _, t := range l.nodes[it].insn.labelRefs() {
			if t == h {
				return true
			}
		}
	}
	return false
}

// Verify checks that every branch names a live label in the list.
func (l *List) Verify() error {
	count := 0
	for h := l.first; h != Nil; h = l.nodes[h].next {
		count++
		for _, t := range l.nodes[h].insn.labelRefs() {
			if !l.valid(t) || l.nodes[t].insn.Kind != KindLabel {
				return errors.WrapDanglingJumpTarget(fmt.Sprintf("%s at %d targets %d", l.nodes[h].insn, h, t))
			}
		}
	}
	if count != l.n {
		return errors.WrapDanglingJumpTarget(fmt.Sprintf("list links %d entries but holds %d", count, l.n))
	}
	return nil
}
