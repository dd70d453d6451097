// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package ringbuf implements a power-of-two, free-running byte ring
// buffer, the foundation msgq frames messages on top of.
package ringbuf

import (
	"math/bits"

	"github.com/intuitivelabs/embedkit/internal/xlog"
)

var log = xlog.New("ringbuf")

// RingBuf is a single-producer/single-consumer byte ring buffer over a
// power-of-two sized backing array, using free-running index/outdex
// counters masked down to the buffer size on every access, so index and
// outdex can wrap past 2^64 without any special-casing.
type RingBuf struct {
	buf    []byte
	index  uint64 // write position, free-running
	outdex uint64 // read position, free-running
}

// New rounds bufsize up to the next power of two and allocates a buffer
// of that size.
func New(bufsize int) *RingBuf {
	if bufsize <= 0 {
		return nil
	}
	cap := bufsize
	if cap&(cap-1) != 0 {
		cap = 1 << bits.Len(uint(cap))
	}
	return &RingBuf{buf: make([]byte, cap)}
}

// NewStatic initializes r over a caller-provided power-of-two-sized
// buffer. It returns false (without modifying r) if len(buf) is not a
// power of two.
func NewStatic(r *RingBuf, buf []byte) bool {
	if len(buf) == 0 || len(buf)&(len(buf)-1) != 0 {
		return false
	}
	r.buf = buf
	r.index = 0
	r.outdex = 0
	return true
}

// Capacity returns the total buffer size.
func (r *RingBuf) Capacity() int {
	return len(r.buf)
}

// Length returns the number of bytes currently stored (available to read).
func (r *RingBuf) Length() int {
	return int(r.index - r.outdex)
}

func (r *RingBuf) mask(v uint64) int {
	return int(v) & (len(r.buf) - 1)
}

// Write appends data, writing as much as fits and returning the number
// of bytes actually written. Short writes are not an error.
func (r *RingBuf) Write(data []byte) int {
	free := len(r.buf) - r.Length()
	n := len(data)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[r.mask(r.index+uint64(i))] = data[i]
	}
	r.index += uint64(n)
	return n
}

// WriteCancel rewinds the write pointer by size bytes, clamped to the
// amount of unconsumed data. It returns the number of bytes actually
// canceled.
func (r *RingBuf) WriteCancel(size int) int {
	if size < 0 {
		return 0
	}
	written := int(r.index - r.outdex)
	if size > written {
		size = written
	}
	r.index -= uint64(size)
	return size
}

// Peek copies up to len(buf) bytes starting offset bytes past the read
// pointer, without advancing it. Returns the number of bytes copied.
func (r *RingBuf) Peek(offset int, buf []byte) int {
	avail := r.Length() - offset
	if avail <= 0 {
		return 0
	}
	n := len(buf)
	if n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		buf[i] = r.buf[r.mask(r.outdex+uint64(offset+i))]
	}
	return n
}

// PeekPointer returns a direct slice into the backing array starting
// offset bytes past the read pointer, along with how many bytes are
// contiguous there before the buffer wraps, for zero-copy reads.
// Callers must not retain the slice across a Write/Consume.
func (r *RingBuf) PeekPointer(offset int) ([]byte, int) {
	avail := r.Length() - offset
	if avail <= 0 {
		return nil, 0
	}
	start := r.mask(r.outdex + uint64(offset))
	contiguous := len(r.buf) - start
	if contiguous > avail {
		contiguous = avail
	}
	return r.buf[start : start+contiguous], contiguous
}

// Read copies data like Peek: offset relative to the read pointer,
// pointer not advanced.
func (r *RingBuf) Read(offset int, buf []byte) int {
	return r.Peek(offset, buf)
}

// Consume advances the read pointer by consumeSize bytes. It returns
// false (doing nothing) if consumeSize exceeds the available data.
func (r *RingBuf) Consume(consumeSize int) bool {
	if consumeSize < 0 || consumeSize > r.Length() {
		log.WARN("consume %d exceeds available %d\n", consumeSize, r.Length())
		return false
	}
	r.outdex += uint64(consumeSize)
	return true
}
