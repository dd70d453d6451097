// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

import (
	"testing"
	"time"

	"github.com/intuitivelabs/timestamp"
)

func TestTickerAdvancesOnElapsedPeriod(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	var fired int
	var tm Timer
	CreateStatic(&tm, false, func(ctx interface{}) { fired++ })
	if err := w.Start(&tm, 3, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tk := NewTicker(w, 10*time.Millisecond)
	tk.lastTickT = timestamp.Now().Add(-35 * time.Millisecond)

	if ticks := tk.Tick(); ticks != 3 {
		t.Fatalf("Tick() = %d, want 3", ticks)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestTickerBelowPeriodReturnsZero(t *testing.T) {
	w := New(DefaultNrWheels, DefaultNrSlots, nil)
	tk := NewTicker(w, time.Second)
	if ticks := tk.Tick(); ticks != 0 {
		t.Fatalf("Tick() = %d, want 0 when below tick period", ticks)
	}
}
