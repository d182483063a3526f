// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package tailrec

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/errors"
)

// Rewrite turns the matched tail call into a jump back to the start of
// the method. stores come from Lower. The steps run in a fixed order so
// that every handle used by a later step is still live. On return the
// code has a recomputed max_stack and, for classes verified by type
// checking, a frame at the new loop head.
func Rewrite(c *classfile.Class, code *classfile.Code, match *MatchedTailCall, stores []bytecode.Insn) (bytecode.Handle, error) {
	l := code.Insns

	if match.Receiver != bytecode.Nil {
		if err := l.Remove(match.Receiver); err != nil {
			return bytecode.Nil, err
		}
	}

	for _, s := range stores {
		l.InsertBefore(match.Invoke, s)
	}

	start := l.InsertBefore(l.First(), bytecode.Label())

	if _, err := l.Replace(match.Invoke, bytecode.Goto(start)); err != nil {
		return bytecode.Nil, err
	}

	if !match.SharedReturn {
		if err := l.Remove(match.Return); err != nil {
			return bytecode.Nil, err
		}
	}

	if c.Major >= classfile.StackMapVersion && !frameAtEntry(code) {
		if err := code.PrependFrame(c.Pool, classfile.Frame{At: start, Kind: classfile.FrameSame}); err != nil {
			return bytecode.Nil, err
		}
	}

	if err := l.Verify(); err != nil {
		return bytecode.Nil, err
	}
	peak, err := bytecode.MaxStack(l, code.HandlerLabels(), c.Pool)
	if err != nil {
		return bytecode.Nil, err
	}
	if peak > 0xffff {
		return bytecode.Nil, errors.WrapStackInconsistent(fmt.Sprintf("max stack %d", peak))
	}
	code.MaxStack = uint16(peak)
	return start, nil
}

// frameAtEntry reports whether a stack map frame already sits at offset 0,
// that is on one of the labels ahead of the first instruction.
func frameAtEntry(code *classfile.Code) bool {
	l := code.Insns
	for h := l.First(); h != bytecode.Nil && l.Get(h).Kind == bytecode.KindLabel; h = l.Next(h) {
		if code.FrameAt(h) {
			return true
		}
	}
	return false
}
