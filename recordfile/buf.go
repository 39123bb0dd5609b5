// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordfile

import (
	"encoding/binary"
	"fmt"
)

// bufDecoder is a cursor over a byte range. Every read checks the
// remaining length first; a read past the end latches an error and
// returns zero values, so callers can decode a whole structure and
// check err once at the end.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
	err   error
}

func (b *bufDecoder) fail(n int) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(b.buf))
	}
}

func (b *bufDecoder) ok(n int) bool {
	if b.err != nil {
		return false
	}
	if n > len(b.buf) {
		b.fail(n)
		return false
	}
	return true
}

func (b *bufDecoder) remaining() int {
	return len(b.buf)
}

// counted validates an on-disk element count against the remaining
// bytes before anything is allocated from it, so a corrupt count
// surfaces as an error rather than an oversized or negative make.
func (b *bufDecoder) counted(n uint64, elemSize int) int {
	if b.err == nil && n > uint64(b.remaining()/elemSize) {
		b.err = fmt.Errorf("%w: %d elements of %d bytes, have %d bytes", ErrTruncated, n, elemSize, b.remaining())
	}
	if b.err != nil {
		return 0
	}
	return int(n)
}

func (b *bufDecoder) skip(n int) {
	if !b.ok(n) {
		return
	}
	b.buf = b.buf[n:]
}

// bytes fills x from the cursor. The destination is the caller's own
// storage, so decoded records never alias the underlying mapping.
func (b *bufDecoder) bytes(x []byte) {
	if !b.ok(len(x)) {
		return
	}
	copy(x, b.buf)
	b.buf = b.buf[len(x):]
}

func (b *bufDecoder) u16() uint16 {
	if !b.ok(2) {
		return 0
	}
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	if !b.ok(4) {
		return 0
	}
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) i32() int32 {
	return int32(b.u32())
}

func (b *bufDecoder) u64() uint64 {
	if !b.ok(8) {
		return 0
	}
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

func (b *bufDecoder) u64s(x []uint64) {
	if !b.ok(len(x) * 8) {
		return
	}
	for i := range x {
		x[i] = b.order.Uint64(b.buf[i*8:])
	}
	b.buf = b.buf[len(x)*8:]
}

func (b *bufDecoder) u32If(cond bool) uint32 {
	if cond {
		return b.u32()
	}
	return 0
}

func (b *bufDecoder) i32If(cond bool) int32 {
	if cond {
		return b.i32()
	}
	return 0
}

func (b *bufDecoder) u64If(cond bool) uint64 {
	if cond {
		return b.u64()
	}
	return 0
}

// cstring reads up to the next NUL. A missing NUL consumes the rest of
// the buffer rather than failing; trailing record padding makes the
// terminator optional in practice.
func (b *bufDecoder) cstring() string {
	if b.err != nil {
		return ""
	}
	for i, c := range b.buf {
		if c == 0 {
			x := string(b.buf[:i])
			b.buf = b.buf[i+1:]
			return x
		}
	}
	x := string(b.buf)
	b.buf = b.buf[len(b.buf):]
	return x
}

func (b *bufDecoder) lenString() string {
	l := int(b.u32())
	if !b.ok(l) {
		return ""
	}
	str := (&bufDecoder{b.buf[:l], nil, nil}).cstring()
	b.buf = b.buf[l:]
	return str
}

func (b *bufDecoder) stringList() []string {
	out := []string{}
	count := b.u32()
	for i := uint32(0); i < count && b.err == nil; i++ {
		out = append(out, b.lenString())
	}
	return out
}
