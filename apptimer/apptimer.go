// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package apptimer implements a hierarchical timer wheel for
// application timers: one-shot and periodic callbacks armed in whole
// ticks, with O(1) amortised insertion and advance. The wheel count and
// slot count are constructor parameters, and expired callbacks run
// synchronously from Schedule, on the caller's goroutine.
package apptimer

import (
	"math/bits"
	"sync"

	"github.com/intuitivelabs/embedkit/internal/xlog"
)

var log = xlog.New("apptimer")

const (
	// DefaultNrWheels and DefaultNrSlots give a 15-bit dynamic range
	// (5 wheels of 8 slots, 3 bits per wheel).
	DefaultNrWheels = 5
	DefaultNrSlots  = 8
)

// Wheel is a hierarchical timer wheel instance. The zero value is not
// usable; construct with New.
type Wheel struct {
	lock sync.Mutex

	nrWheels int
	nrSlots  int
	slotBits uint
	slotMask uint64

	wheels  [][]timerList // [nrWheels][nrSlots]
	pending timerList

	clock        clock
	counter      Ticks
	maxTimeout   Ticks
	activeTimers int

	updateAlarm func(timeout Ticks)
}

// New creates a Wheel with nrWheels cascading wheels of nrSlots slots
// each (nrSlots must be a power of two). updateAlarm, if non-nil, is
// called with a hint of the soonest timer's relative timeout after
// every operation that can change it (Start/Stop/Delete/Schedule); the board-level
// code hooking a real alarm/RTC wakeup to this value is outside this
// package's scope.
func New(nrWheels, nrSlots int, updateAlarm func(timeout Ticks)) *Wheel {
	if nrWheels <= 0 || nrSlots <= 1 || nrSlots&(nrSlots-1) != 0 {
		panic("apptimer: nrWheels must be positive and nrSlots a power of two > 1")
	}
	slotBits := uint(bits.Len(uint(nrSlots)) - 1)
	wheelsBits := slotBits * uint(nrWheels)

	w := &Wheel{
		nrWheels:    nrWheels,
		nrSlots:     nrSlots,
		slotBits:    slotBits,
		slotMask:    (uint64(1) << slotBits) - 1,
		clock:       newClock(wheelsBits + 1),
		updateAlarm: updateAlarm,
	}
	w.maxTimeout = Ticks(uint64(1) << wheelsBits)

	w.wheels = make([][]timerList, nrWheels)
	for i := range w.wheels {
		w.wheels[i] = make([]timerList, nrSlots)
		for j := range w.wheels[i] {
			w.wheels[i][j].init(i, j)
		}
	}
	w.pending.init(wheelPend, wheelNoIdx)

	log.DBG("new wheel: slotBits %d wheelsBits %d maxTimeout %d\n",
		slotBits, wheelsBits, w.maxTimeout)
	return w
}

// CreateStatic prepares a caller-owned Timer for use; no allocation
// happens here. Returns nil if t or callback is nil.
func CreateStatic(t *Timer, repeat bool, callback CallbackFunc) *Timer {
	if t == nil || callback == nil {
		return nil
	}
	t.repeat = repeat
	t.callback = callback
	t.next = t
	t.prev = t
	t.wheel = wheelNone
	t.idx = wheelNoIdx
	return t
}

func (w *Wheel) wheelIndexFromTimeout(timeout uint64) int {
	if timeout == 0 {
		return 0
	}
	idx := (bits.Len64(timeout) - 1) / int(w.slotBits)
	if max := w.nrWheels - 1; idx > max {
		idx = max
	}
	return idx
}

func (w *Wheel) slotIndexFromTimeout(timeout uint64, wheel int) int {
	return int((timeout >> (w.slotBits * uint(wheel))) & w.slotMask)
}

func (w *Wheel) isExpired(t *Timer) bool {
	return w.clock.ge(w.counter, t.goaltime)
}

// insertIntoWheel places t either on the pending list (already expired)
// or into the wheel/slot its remaining delta selects. The split bias
// rotates each wheel with the current counter so that slot 0 of wheel 0
// is always the next tick.
func (w *Wheel) insertIntoWheel(t *Timer) {
	w.activeTimers++

	if w.isExpired(t) {
		w.pending.add(t)
		return
	}

	delta := w.clock.sub(t.goaltime, w.counter)
	split := uint64(w.counter) & w.slotMask
	combined := uint64(delta) + split
	wheel := w.wheelIndexFromTimeout(combined)
	slot := w.slotIndexFromTimeout(combined, wheel)

	w.wheels[wheel][slot].add(t)
}

// earliestTimeout returns the smallest granularity represented by any
// non-empty slot, scanning wheels from the finest to the coarsest.
func (w *Wheel) earliestTimeout() Ticks {
	if w.activeTimers <= 0 {
		return w.maxTimeout
	}
	for i := 0; i < w.nrWheels; i++ {
		for j := 0; j < w.nrSlots; j++ {
			if !w.wheels[i][j].isEmpty() {
				return Ticks(uint64(1) << (uint(i) * w.slotBits))
			}
		}
	}
	return w.maxTimeout
}

// updateSlots cascades up to n consecutive slots of wheel (starting at
// slot, going backwards) into their correct new homes: each evacuated
// timer either stays in the same wheel, drops to a finer one, or moves
// to the pending list.
func (w *Wheel) updateSlots(wheel, slot, n int) {
	var tmp timerList
	tmp.init(wheelNone, wheelNoIdx)

	for i := slot + 1; i > 0 && n > 0; i, n = i-1, n-1 {
		w.wheels[wheel][i-1].forEachSafe(func(e *Timer) {
			w.wheels[wheel][i-1].del(e)
			tmp.add(e)
		})
	}

	tmp.forEachSafe(func(e *Timer) {
		tmp.del(e)
		w.activeTimers--
		w.insertIntoWheel(e)
	})
}

func (w *Wheel) updateWholeSlots(wheel int) {
	w.updateSlots(wheel, w.nrSlots-1, w.nrSlots)
}

// runPendingTimers detaches every timer on the pending list, runs its
// callback with w.lock released, and re-arms repeating timers afterward.
// Caller must hold w.lock on entry; it is released for the duration of
// the callbacks and re-acquired before returning, so no lock is ever
// held while a callback runs.
func (w *Wheel) runPendingTimers() {
	var expired []*Timer
	w.pending.forEachSafe(func(t *Timer) {
		w.pending.del(t)
		w.activeTimers--
		expired = append(expired, t)
	})

	if len(expired) == 0 {
		return
	}

	w.lock.Unlock()
	for _, t := range expired {
		t.callback(t.context)
	}
	w.lock.Lock()

	for _, t := range expired {
		if t.repeat {
			t.goaltime = w.clock.add(w.counter, t.interval)
			w.insertIntoWheel(t)
		}
	}
}

// Start arms t to fire after timeout ticks, passing callbackContext
// through to the callback verbatim.
func (w *Wheel) Start(t *Timer, timeout Ticks, callbackContext interface{}) error {
	if t == nil {
		return ErrInvalidParam
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if t.registered() {
		return ErrAlreadyStarted
	}
	if timeout > w.maxTimeout {
		return ErrTimeLimitExceeded
	}

	t.interval = timeout
	t.goaltime = w.clock.add(w.counter, timeout)
	t.context = callbackContext

	w.insertIntoWheel(t)
	if w.updateAlarm != nil {
		w.updateAlarm(w.earliestTimeout())
	}
	return nil
}

// Stop unregisters t if armed, idempotent on an already-stopped timer.
func (w *Wheel) Stop(t *Timer) error {
	if t == nil {
		return ErrInvalidParam
	}
	w.lock.Lock()
	defer w.lock.Unlock()

	if t.registered() {
		if t.wheel == wheelPend {
			w.pending.del(t)
		} else {
			w.wheels[t.wheel][t.idx].del(t)
		}
		w.activeTimers--
		if w.updateAlarm != nil {
			w.updateAlarm(w.earliestTimeout())
		}
	}
	return nil
}

// Delete unregisters t if armed, the same unlink-under-lock operation
// as Stop. Timers are always caller-owned (CreateStatic), so there is
// no separate memory to release and the two operations coincide.
func (w *Wheel) Delete(t *Timer) error {
	return w.Stop(t)
}

// Count returns the number of currently armed timers.
func (w *Wheel) Count() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.activeTimers
}

// Schedule advances the wheel by elapsed ticks, running every timer that
// expires in the process. The wheel lock is held for the cascading and
// relocation bookkeeping but released across the callback dispatch
// itself (see runPendingTimers), so a callback may safely call back
// into this same Wheel (Start/Stop/Count), though it will observe a
// wheel that other goroutines may also be mutating during that window.
func (w *Wheel) Schedule(elapsed Ticks) {
	if uint64(elapsed) > uint64(w.maxTimeout) {
		log.ERR("time overrun %d / %d\n", elapsed, w.maxTimeout)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	previous := w.counter
	current := w.clock.add(previous, elapsed)
	diff := uint64(current) ^ uint64(previous)

	farmostWheel := w.wheelIndexFromTimeout(diff)
	var slot int
	if diff >= uint64(w.maxTimeout) {
		slot = int(w.slotMask)
	} else {
		slot = w.slotIndexFromTimeout(uint64(current), farmostWheel)
	}

	w.counter = current

	for wheel := 0; wheel < farmostWheel; wheel++ {
		w.updateWholeSlots(wheel)
	}
	w.updateSlots(farmostWheel, slot, int(elapsed))

	w.runPendingTimers()

	if w.updateAlarm != nil {
		w.updateAlarm(w.earliestTimeout())
	}
}
