// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package apptimer

import "errors"

// ErrInvalidParam is returned on a nil timer handle.
var ErrInvalidParam = errors.New("apptimer: invalid parameter")

// ErrAlreadyStarted is returned by Start on a timer that is still armed.
var ErrAlreadyStarted = errors.New("apptimer: timer already started")

// ErrTimeLimitExceeded is returned by Start when the requested timeout
// exceeds the wheel's dynamic range.
var ErrTimeLimitExceeded = errors.New("apptimer: timeout exceeds the wheel's time limit")
