// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

import (
	"testing"
)

func TestWheelGeometry(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	if w.slotBits != 3 {
		t.Fatalf("expected 3 slot bits for NR_SLOTS=8, got %d", w.slotBits)
	}
	wantMax := Ticks(uint64(1) << (3 * DefaultNrWheels))
	if w.maxTimeout != wantMax {
		t.Fatalf("maxTimeout = %d, want %d", w.maxTimeout, wantMax)
	}
}

func TestStartFiresOnce(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var fired int
	var tm Timer
	CreateStatic(&tm, false, func(ctx interface{}) {
		fired++
		if ctx.(string) != "hello" {
			t.Errorf("wrong context: %v", ctx)
		}
	})

	if err := w.Start(&tm, 5, "hello"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", w.Count())
	}

	for i := 0; i < 4; i++ {
		w.Schedule(1)
		if fired != 0 {
			t.Fatalf("callback fired too early at tick %d", i+1)
		}
	}
	w.Schedule(1) // 5th tick: must fire
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if w.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after one-shot fires", w.Count())
	}
}

func TestStartAlreadyStarted(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var tm Timer
	CreateStatic(&tm, false, func(interface{}) {})
	if err := w.Start(&tm, 10, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(&tm, 10, nil); err != ErrAlreadyStarted {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestTimeLimitExceeded(t *testing.T) {
	w := New(2, 4, nil) // small wheel: maxTimeout = 4^2 = 16
	var tm Timer
	CreateStatic(&tm, false, func(interface{}) {})
	if err := w.Start(&tm, Ticks(w.maxTimeout)+1, nil); err != ErrTimeLimitExceeded {
		t.Fatalf("err = %v, want ErrTimeLimitExceeded", err)
	}
}

func TestStopBeforeExpire(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var fired bool
	var tm Timer
	CreateStatic(&tm, false, func(interface{}) { fired = true })
	if err := w.Start(&tm, 20, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(&tm); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	w.Schedule(100)
	if fired {
		t.Fatalf("callback fired after Stop")
	}
	if w.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", w.Count())
	}
}

func TestRepeatingTimer(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var fired int
	var tm Timer
	CreateStatic(&tm, true, func(interface{}) { fired++ })
	if err := w.Start(&tm, 3, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 9; i++ {
		w.Schedule(1)
	}
	if fired != 3 {
		t.Fatalf("fired = %d, want 3 repeats over 9 ticks at period 3", fired)
	}
	if w.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (repeating timer stays armed)", w.Count())
	}
}

func TestLargeJumpCascades(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	const n = 200
	fired := make([]bool, n)
	tms := make([]Timer, n)
	for i := 0; i < n; i++ {
		idx := i
		CreateStatic(&tms[i], false, func(interface{}) { fired[idx] = true })
		if err := w.Start(&tms[i], Ticks(i+1), nil); err != nil {
			t.Fatalf("Start(%d): %v", i, err)
		}
	}
	// advance past every deadline in one big jump, exercising cascading
	// across multiple wheels at once.
	w.Schedule(Ticks(n + 1))
	for i := 0; i < n; i++ {
		if !fired[i] {
			t.Errorf("timer %d never fired after large jump", i)
		}
	}
	if w.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", w.Count())
	}
}

// TestDistinctDeadlinesFireInOrder covers the ordering guarantee:
// timers with distinct goal times fire in ascending deadline order when
// the wheel is advanced tick by tick, across every wheel level.
func TestDistinctDeadlinesFireInOrder(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	timeouts := []Ticks{2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048}
	var order []Ticks
	tms := make([]Timer, len(timeouts))
	for i, to := range timeouts {
		timeout := to
		CreateStatic(&tms[i], false, func(interface{}) {
			order = append(order, timeout)
		})
		if err := w.Start(&tms[i], timeout, nil); err != nil {
			t.Fatalf("Start(%d): %v", timeout, err)
		}
	}
	for i := Ticks(0); i < 2048; i++ {
		w.Schedule(1)
	}
	if len(order) != len(timeouts) {
		t.Fatalf("fired %d timers, want %d", len(order), len(timeouts))
	}
	for i, to := range timeouts {
		if order[i] != to {
			t.Fatalf("order = %v, want ascending %v", order, timeouts)
		}
	}
	if w.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", w.Count())
	}
}

func TestUpdateAlarmHook(t *testing.T) {
	var lastTimeout Ticks
	calls := 0
	w := New(DefaultNrWheels, DefaultNrSlots, func(timeout Ticks) {
		calls++
		lastTimeout = timeout
	})
	var tm Timer
	CreateStatic(&tm, false, func(interface{}) {})
	if err := w.Start(&tm, 9, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if calls == 0 {
		t.Fatalf("update_alarm hook never called on Start")
	}
	if lastTimeout == 0 {
		t.Fatalf("update_alarm hook called with a zero timeout while a timer is armed")
	}
}

func TestCountMultiple(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var tms [5]Timer
	for i := range tms {
		CreateStatic(&tms[i], false, func(interface{}) {})
		if err := w.Start(&tms[i], Ticks(10+i), nil); err != nil {
			t.Fatalf("Start(%d): %v", i, err)
		}
	}
	if w.Count() != len(tms) {
		t.Fatalf("Count() = %d, want %d", w.Count(), len(tms))
	}
}

func TestDeleteUnregistersTimer(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var tm Timer
	CreateStatic(&tm, false, func(interface{}) {})
	if err := w.Start(&tm, 5, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Delete(&tm); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if w.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after Delete", w.Count())
	}
	// Idempotent, like Stop.
	if err := w.Delete(&tm); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

// TestCallbackMayReenterWheel demonstrates that Schedule releases the
// wheel lock before running callbacks: a callback that calls Start on
// the same Wheel must not deadlock.
func TestCallbackMayReenterWheel(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var outer, inner Timer
	fired := false
	CreateStatic(&inner, false, func(interface{}) { fired = true })
	CreateStatic(&outer, false, func(interface{}) {
		if err := w.Start(&inner, 1, nil); err != nil {
			t.Errorf("Start from callback: %v", err)
		}
	})
	if err := w.Start(&outer, 1, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Schedule(1)
	w.Schedule(1)
	if !fired {
		t.Fatalf("inner timer started from callback never fired")
	}
}
