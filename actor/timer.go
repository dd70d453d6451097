// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package actor

import (
	"container/list"
	"sync"
)

// deferred holds one pending deferred send. msg is caller-allocated
// (via Scheduler.Alloc) before SendDefer is called: the timer pool only
// ever stores and later forwards the pointer, it never copies the
// payload.
type deferred struct {
	actor     *Actor
	msg       *Message
	timeoutMs uint32
	elem      *list.Element // this entry's node in TimerPool.armed
}

// TimerPool implements deferred, time-delayed actor sends: SendDefer
// arms an entry here instead of calling Actor.Send immediately, and a
// driver calls Step periodically (e.g. from an apptimer.Wheel hook or a
// plain ticker) to count the delay down and fire expired entries.
type TimerPool struct {
	mu    sync.Mutex
	slots []deferred
	free  []*deferred
	armed *list.List // of *deferred, arrival order
}

// NewTimerPool creates a pool able to hold n pending deferred sends at
// once.
func NewTimerPool(n int) *TimerPool {
	if n <= 0 {
		return nil
	}
	tp := &TimerPool{
		slots: make([]deferred, n),
		free:  make([]*deferred, 0, n),
		armed: list.New(),
	}
	for i := range tp.slots {
		tp.free = append(tp.free, &tp.slots[i])
	}
	return tp
}

// Cap returns the pool's total slot count.
func (tp *TimerPool) Cap() int {
	return len(tp.slots)
}

// Len returns the number of slots currently armed.
func (tp *TimerPool) Len() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.armed.Len()
}

// Pending returns the number of armed entries addressed to a. Together
// with Actor.CountMessages this gives the total undelivered count for
// an actor; the two are counted under different locks, so the sum is
// approximate while Step is running.
func (tp *TimerPool) Pending(a *Actor) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	n := 0
	for e := tp.armed.Front(); e != nil; e = e.Next() {
		if e.Value.(*deferred).actor == a {
			n++
		}
	}
	return n
}

// SendDefer arms msg, previously obtained from Scheduler.Alloc, for
// delivery to a after timeoutMs milliseconds have elapsed across calls
// to Step. The pool stores the pointer itself, it does not copy the
// payload, so the caller must not touch msg again until it is delivered
// (or the entry is cancelled via Delete).
func (a *Actor) SendDefer(tp *TimerPool, msg *Message, timeoutMs uint32) error {
	if msg == nil {
		return ErrInvalidParam
	}
	tp.mu.Lock()
	n := len(tp.free)
	if n == 0 {
		tp.mu.Unlock()
		return ErrPoolExhausted
	}
	d := tp.free[n-1]
	tp.free = tp.free[:n-1]
	d.actor = a
	d.msg = msg
	d.timeoutMs = timeoutMs
	d.elem = tp.armed.PushBack(d)
	tp.mu.Unlock()
	return nil
}

// Delete cancels any as-yet-unfired deferred sends targeting a.
func (tp *TimerPool) Delete(a *Actor) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for e := tp.armed.Front(); e != nil; {
		next := e.Next()
		d := e.Value.(*deferred)
		if d.actor == a {
			tp.armed.Remove(e)
			tp.free = append(tp.free, d)
		}
		e = next
	}
}

// Step advances every armed entry's countdown by elapsedMs and delivers
// (via Actor.Send) any entry whose timeout has reached zero. Entries are
// saturating-decremented: an elapsedMs larger than the remaining
// timeout fires immediately rather than wrapping.
func (tp *TimerPool) Step(elapsedMs uint32) {
	var fired []*deferred

	tp.mu.Lock()
	for e := tp.armed.Front(); e != nil; {
		next := e.Next()
		d := e.Value.(*deferred)
		if d.timeoutMs <= elapsedMs {
			d.timeoutMs = 0
			tp.armed.Remove(e)
			fired = append(fired, d)
		} else {
			d.timeoutMs -= elapsedMs
		}
		e = next
	}
	tp.mu.Unlock()

	for _, d := range fired {
		d.actor.Send(d.msg)
		tp.mu.Lock()
		d.msg = nil
		tp.free = append(tp.free, d)
		tp.mu.Unlock()
	}
}
