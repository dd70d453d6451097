// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

// timerList is an intrusive doubly-linked circular list of *Timer.
// Every operation runs under the owning Wheel's single mutex, so plain
// fields suffice.
type timerList struct {
	head  Timer
	wheel int
	idx   int
}

func (lst *timerList) init(wheel, idx int) {
	lst.head.next = &lst.head
	lst.head.prev = &lst.head
	lst.wheel = wheel
	lst.idx = idx
}

func (lst *timerList) isEmpty() bool {
	return lst.head.next == &lst.head
}

// add inserts e right after the head.
func (lst *timerList) add(e *Timer) {
	if !e.detached() {
		panic("apptimer: list add called on a linked timer")
	}
	e.prev = &lst.head
	e.next = lst.head.next
	e.next.prev = e
	lst.head.next = e
	e.wheel = lst.wheel
	e.idx = lst.idx
}

// del removes e from whichever list it is currently linked into.
func (lst *timerList) del(e *Timer) {
	if e.detached() {
		panic("apptimer: list del called on a detached timer")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.wheel = wheelNone
	e.idx = wheelNoIdx
}

// forEachSafe calls f for every entry, tolerating removal of the current
// entry from within f (it pre-fetches next before calling f).
func (lst *timerList) forEachSafe(f func(e *Timer)) {
	for v, nxt := lst.head.next, (*Timer)(nil); v != &lst.head; v = nxt {
		nxt = v.next
		f(v)
	}
}
