// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

import (
	"time"

	"github.com/intuitivelabs/timestamp"
)

// Ticker turns a real-time tick period into repeated Wheel.Schedule
// calls, carrying forward any fractional remainder instead of dropping
// it, so the wheel does not drift against wall-clock time no matter how
// irregularly Tick is called.
type Ticker struct {
	w          *Wheel
	tickPeriod time.Duration
	lastTickT  timestamp.TS
	badTime    int
}

// NewTicker creates a Ticker driving w, one Schedule call per tickPeriod
// of elapsed wall-clock time. Call Tick periodically (ideally once per
// tickPeriod, from whatever polling or OS-timer source the host
// platform provides); Tick must never be called concurrently with
// itself.
func NewTicker(w *Wheel, tickPeriod time.Duration) *Ticker {
	return &Ticker{
		w:          w,
		tickPeriod: tickPeriod,
		lastTickT:  timestamp.Now(),
	}
}

// Tick samples the current time, converts however much real time has
// elapsed since the last call into a whole number of ticks, and calls
// Wheel.Schedule with that count, returning it. It returns 0 without
// advancing the wheel if less than one tickPeriod has passed, or if the
// clock is observed going backwards.
func (t *Ticker) Tick() uint64 {
	now := timestamp.Now()
	if now.Before(t.lastTickT) {
		t.badTime++
		if t.badTime > 10 {
			log.WARN("ticker: recovering after time going backward %d times\n", t.badTime)
			t.lastTickT = now
		} else {
			log.DBG("ticker: time going backward (%d times)\n", t.badTime)
		}
		return 0
	}
	t.badTime = 0

	diff := now.Sub(t.lastTickT)
	if diff < t.tickPeriod {
		return 0
	}

	ticks := uint64(diff / t.tickPeriod)
	rest := diff % t.tickPeriod
	t.lastTickT = now.Add(-rest)

	t.w.Schedule(Ticks(ticks))
	return ticks
}
