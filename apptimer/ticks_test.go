// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

import (
	"math/rand"
	"testing"
)

func TestClockConst(t *testing.T) {
	c := newClock(16)
	if c.maxDiff == 0 || (c.maxDiff&(c.maxDiff-1)) != 0 {
		t.Fatalf("bad maxDiff 0x%x, should be 2^k", c.maxDiff)
	}
	if ((c.mask+1)&c.mask) != 0 {
		t.Fatalf("bad mask 0x%x, should be 2^k-1", c.mask)
	}
}

func tstOp(t *testing.T, c clock, v1, v2 uint64) {
	t1 := c.mk(v1)
	t2 := c.mk(v2)

	if ((v1 >= v2) && ((v1 - v2) < c.maxDiff)) ||
		((v1 < v2) && ((v2 - v1) < c.maxDiff)) {
		if c.eq(t1, t2) != ((v1 & c.mask) == (v2 & c.mask)) {
			t.Errorf("eq for 0x%x <> 0x%x failed", v1, v2)
		}
		if c.lt(t1, t2) != (v1 < v2) {
			t.Errorf("lt for 0x%x <> 0x%x failed", v1, v2)
		}
		if c.ge(t1, t2) != (v1 >= v2) {
			t.Errorf("ge for 0x%x <> 0x%x failed", v1, v2)
		}
		if c.add(t1, t2) != c.mk(v1+v2) {
			t.Errorf("add for 0x%x <> 0x%x failed", v1, v2)
		}
		if c.sub(t1, t2) != c.mk(v1-v2) {
			t.Errorf("sub for 0x%x <> 0x%x failed", v1, v2)
		}
	}
}

func TestClockOps(t *testing.T) {
	c := newClock(24)
	const iterations = 20000
	tstOp(t, c, 1, 2)
	tstOp(t, c, c.maxDiff-1, 1)
	tstOp(t, c, c.maxDiff, 0)

	for i := 0; i < iterations; i++ {
		v1 := uint64(rand.Int63())
		diff := uint64(rand.Int63n(int64(c.maxDiff)))
		tstOp(t, c, v1, v1+diff)
		tstOp(t, c, v1, v1-diff)
	}
}
