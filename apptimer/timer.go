// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

// CallbackFunc is invoked when a Timer expires. It receives the opaque
// context passed to Start. Schedule releases the wheel's lock before
// calling it, so a callback may safely call back into the same *Wheel.
type CallbackFunc func(context interface{})

const (
	wheelNone  = -1 // sentinel: timer not on any wheel/pending list
	wheelPend  = -2 // sentinel: timer on the pending (expired) list
	wheelNoIdx = -1
)

// Timer is the caller-owned handle for a single app timer. It may be
// embedded in a larger structure and initialized with CreateStatic.
type Timer struct {
	next, prev *Timer // intrusive circular list pointers

	interval Ticks
	goaltime Ticks
	repeat   bool

	callback CallbackFunc
	context  interface{}

	wheel int // wheelNone, wheelPend, or an index in [0, NR_WHEELS)
	idx   int // slot index within wheel, or wheelNoIdx
}

// registered reports whether t is currently linked into a wheel or the
// pending list.
func (t *Timer) registered() bool {
	return !t.detached()
}

// detached reports whether t is not part of any list.
func (t *Timer) detached() bool {
	return t == t.next || t.next == nil
}
