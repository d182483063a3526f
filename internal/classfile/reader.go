// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"encoding/binary"

	"github.com/dotandev/tailrec/internal/errors"
)

// reader walks a byte slice and remembers the first error, so a sequence
// of reads can be checked once at the end.
type reader struct {
	buf  []byte
	pos  int
	what string
	err  error
}

func newReader(buf []byte, what string) *reader {
	return &reader{buf: buf, what: what}
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errors.WrapMalformed("%s truncated at byte %d (need %d, have %d)", r.what, r.pos, n, len(r.buf)-r.pos)
		return make([]byte, max(n, 0))
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u1() uint8 { return r.bytes(1)[0] }
func (r *reader) u2() uint16 { return binary.BigEndian.Uint16(r.bytes(2)) }
func (r *reader) u4() uint32 { return binary.BigEndian.Uint32(r.bytes(4)) }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

// done fails when input is left over.
func (r *reader) done() error {
	if r.err == nil && r.pos != len(r.buf) {
		r.err = errors.WrapMalformed("%s has %d trailing bytes", r.what, len(r.buf)-r.pos)
	}
	return r.err
}

type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) attr(name uint16, data []byte) {
	w.u2(name)
	w.u4(uint32(len(data)))
	w.bytes(data)
}
