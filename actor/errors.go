// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package actor

import "errors"

// ErrAlreadyQueued is returned when the same message pointer was
// already pending and a duplicate push was attempted.
var ErrAlreadyQueued = errors.New("actor: already queued")

// ErrPoolExhausted is returned when the message or timer pool has no
// free slots left.
var ErrPoolExhausted = errors.New("actor: pool exhausted")

// ErrTooLarge is returned by Scheduler.Alloc when the requested size is
// not positive or exceeds the pool's fixed slot size.
var ErrTooLarge = errors.New("actor: payload larger than pool slot size")

// ErrInvalidParam is returned when a required argument was nil or
// otherwise malformed.
var ErrInvalidParam = errors.New("actor: invalid parameter")

// ErrActorDeleted is returned by Send when the target actor has already
// been torn down via Unset.
var ErrActorDeleted = errors.New("actor: actor deleted")
