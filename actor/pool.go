// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package actor

import "sync"

// Message is a pool-allocated envelope carrying a fixed-capacity payload
// buffer: a bounded arena slot rather than a per-send heap allocation.
type Message struct {
	payload []byte // full pool slot capacity
	size    int    // bytes actually in use
	queued  bool   // duplicate-send guard, see Actor.Send
	free    bool   // already returned to the pool's free list
}

// Payload returns the portion of the message actually written by Alloc.
func (m *Message) Payload() []byte {
	return m.payload[:m.size]
}

// Pool is a fixed-capacity message arena: every slot is msgSize bytes,
// carved once from a single backing allocation, handed out and returned
// through a free list. Messages are produced and consumed across actor
// boundaries, so they need a shared capped allocator rather than
// per-actor storage.
type Pool struct {
	mu      sync.Mutex
	slots   []Message
	free    []*Message
	msgSize int
}

// NewPool creates a pool of n slots, each able to hold up to msgSize
// payload bytes.
func NewPool(n, msgSize int) *Pool {
	if n <= 0 || msgSize <= 0 {
		return nil
	}
	p := &Pool{
		slots:   make([]Message, n),
		free:    make([]*Message, 0, n),
		msgSize: msgSize,
	}
	for i := range p.slots {
		p.slots[i].payload = make([]byte, msgSize)
		p.free = append(p.free, &p.slots[i])
	}
	return p
}

// Cap returns the pool's total capacity in bytes.
func (p *Pool) Cap() int {
	return len(p.slots) * p.msgSize
}

// Len returns the number of bytes currently in use (allocated, not
// free).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (len(p.slots) - len(p.free)) * p.msgSize
}

// Alloc returns a free Message able to hold size payload bytes, or nil
// if the pool is exhausted or size exceeds the slot size.
func (p *Pool) Alloc(size int) *Message {
	if size <= 0 || size > p.msgSize {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	m := p.free[n-1]
	p.free = p.free[:n-1]
	m.size = size
	m.queued = false
	m.free = false
	return m
}

// Free returns msg to the pool. A no-op on nil. A msg already on the
// free list is rejected rather than appended again, which would hand
// the same slot out twice from a single Alloc call.
func (p *Pool) Free(msg *Message) {
	if msg == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.free {
		log.BUG("double free of actor message %p\n", msg)
		return
	}
	msg.free = true
	p.free = append(p.free, msg)
}
