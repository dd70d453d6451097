// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package msgq implements a framed message queue on top of ringbuf:
// each message is stored as a fixed-size length header followed by the
// payload bytes.
package msgq

import (
	"encoding/binary"
	"errors"

	"github.com/intuitivelabs/embedkit/internal/xlog"
	"github.com/intuitivelabs/embedkit/ringbuf"
)

var log = xlog.New("msgq")

// metaSize is the per-message length header, fixed at 4 bytes so the
// wire framing is portable across 32/64-bit builds sharing a queue.
const metaSize = 4

var (
	// ErrNoMem is returned by Push when the frame does not fit.
	ErrNoMem = errors.New("msgq: not enough space for message")
	// ErrIO means a ringbuf write/peek returned fewer bytes than
	// requested, which should only happen on an internal bug.
	ErrIO = errors.New("msgq: short ring buffer read/write")
	// ErrEmpty is returned by Pop on an empty queue.
	ErrEmpty = errors.New("msgq: no message available")
	// ErrRange means the caller's buffer is smaller than the next
	// queued message.
	ErrRange = errors.New("msgq: destination buffer too small")
	// ErrLocked means the configured lock hook refused the lock.
	ErrLocked = errors.New("msgq: failed to acquire lock")
)

// LockFunc/UnlockFunc are optional sync hooks invoked around every
// public operation, letting a caller guard a queue shared across ISR
// and task context, or across goroutines, with whatever primitive fits
// (the queue itself holds no lock).
type LockFunc func(ctx interface{}) error
type UnlockFunc func(ctx interface{}) error

// Queue is a framed message queue backed by a ring buffer.
type Queue struct {
	rb *ringbuf.RingBuf

	lock    LockFunc
	unlock  UnlockFunc
	syncCtx interface{}
}

// New creates a queue with capacityBytes of backing storage (rounded up
// to a power of two by ringbuf.New).
func New(capacityBytes int) *Queue {
	if capacityBytes <= 0 {
		return nil
	}
	rb := ringbuf.New(capacityBytes)
	if rb == nil {
		return nil
	}
	return &Queue{rb: rb}
}

// SetSync installs lock/unlock hooks invoked around every operation.
func (q *Queue) SetSync(lock LockFunc, unlock UnlockFunc, ctx interface{}) {
	q.lock = lock
	q.unlock = unlock
	q.syncCtx = ctx
}

func (q *Queue) withLock(f func() error) error {
	if q.lock != nil {
		if err := q.lock(q.syncCtx); err != nil {
			return ErrLocked
		}
	}
	err := f()
	if q.unlock != nil {
		if uerr := q.unlock(q.syncCtx); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func pushMessage(rb *ringbuf.RingBuf, data []byte) error {
	available := rb.Capacity() - rb.Length()
	if len(data)+metaSize > available {
		return ErrNoMem
	}

	var meta [metaSize]byte
	binary.LittleEndian.PutUint32(meta[:], uint32(len(data)))

	if n := rb.Write(meta[:]); n != metaSize {
		log.BUG("short meta write: %d of %d\n", n, metaSize)
		rb.WriteCancel(n)
		return ErrIO
	}
	if n := rb.Write(data); n != len(data) {
		log.BUG("short payload write: %d of %d\n", n, len(data))
		rb.WriteCancel(n + metaSize)
		return ErrIO
	}
	return nil
}

func popMessage(rb *ringbuf.RingBuf, buf []byte) (int, error) {
	var meta [metaSize]byte
	if n := rb.Peek(0, meta[:]); n != metaSize {
		return 0, ErrEmpty
	}
	size := int(binary.LittleEndian.Uint32(meta[:]))
	if size > len(buf) {
		return 0, ErrRange
	}
	if n := rb.Peek(metaSize, buf[:size]); n != size {
		return 0, ErrIO
	}
	rb.Consume(metaSize + size)
	return size, nil
}

// Push enqueues data as a single framed message.
func (q *Queue) Push(data []byte) error {
	return q.withLock(func() error {
		return pushMessage(q.rb, data)
	})
}

// Pop dequeues the oldest message into buf, returning the number of
// bytes written.
func (q *Queue) Pop(buf []byte) (int, error) {
	var n int
	err := q.withLock(func() error {
		var e error
		n, e = popMessage(q.rb, buf)
		return e
	})
	return n, err
}

// NextMsgSize returns the size of the next queued message, or 0 if
// empty.
func (q *Queue) NextMsgSize() int {
	var size int
	q.withLock(func() error {
		var meta [metaSize]byte
		if n := q.rb.Peek(0, meta[:]); n != metaSize {
			return nil
		}
		size = int(binary.LittleEndian.Uint32(meta[:]))
		return nil
	})
	return size
}

// Available returns how many payload bytes could still be pushed.
func (q *Queue) Available() int {
	var avail int
	q.withLock(func() error {
		a := q.rb.Capacity() - q.rb.Length()
		if a < metaSize {
			avail = 0
		} else {
			avail = a - metaSize
		}
		return nil
	})
	return avail
}

// Cap returns the total backing capacity.
func (q *Queue) Cap() int {
	var c int
	q.withLock(func() error { c = q.rb.Capacity(); return nil })
	return c
}

// Len returns the number of bytes currently occupied (framing + payload).
func (q *Queue) Len() int {
	var l int
	q.withLock(func() error { l = q.rb.Length(); return nil })
	return l
}

// CalcSize returns the backing capacity needed to hold n messages of up
// to maxMsgSize bytes each.
func CalcSize(n, maxMsgSize int) int {
	return (metaSize + maxMsgSize) * n
}
