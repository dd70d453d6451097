// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package xlog gives every embedkit package its own tagged logger on
// top of intuitivelabs/slog.
package xlog

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// L is a per-package tagged logger: DBG/INFO/WARN/ERR/BUG/PANIC plus
// the *on() guards for skipping expensive argument construction when a
// level is disabled.
type L struct {
	Log  slog.Log
	name string
}

// New creates a tagged logger for component name, at the default level.
func New(name string) *L {
	l := &L{name: name}
	slog.Init(&l.Log, slog.LINFO, slog.LOptNone, slog.LDefaultOut)
	return l
}

// SetLevel changes the minimum level logged by l.
func (l *L) SetLevel(lev slog.LogLevel) {
	slog.SetLevel(&l.Log, lev)
}

func (l *L) DBGon() bool  { return l.Log.DBGon() }
func (l *L) INFOon() bool { return l.Log.INFOon() }
func (l *L) WARNon() bool { return l.Log.WARNon() }
func (l *L) ERRon() bool  { return l.Log.ERRon() }

func (l *L) DBG(f string, args ...interface{})  { l.Log.LLog(slog.LDBG, 1, l.name+": ", f, args...) }
func (l *L) INFO(f string, args ...interface{}) { l.Log.LLog(slog.LINFO, 1, l.name+": ", f, args...) }
func (l *L) WARN(f string, args ...interface{}) { l.Log.LLog(slog.LWARN, 1, l.name+": ", f, args...) }
func (l *L) ERR(f string, args ...interface{})  { l.Log.LLog(slog.LERR, 1, l.name+": ", f, args...) }

// BUG logs an internal invariant violation that should never happen at
// runtime (programming error, not caller misuse).
func (l *L) BUG(f string, args ...interface{}) {
	l.Log.LLog(slog.LERR, 1, l.name+": ", "BUG: "+f, args...)
}

// PANIC logs at ERR level and then panics, for invariants whose
// violation makes it unsafe to continue (corrupted internal state).
func (l *L) PANIC(f string, args ...interface{}) {
	l.Log.LLog(slog.LERR, 1, l.name+": ", "PANIC: "+f, args...)
	panic(fmt.Sprintf(l.name+": "+f, args...))
}
