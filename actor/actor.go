// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package actor implements a priority-scheduled actor runtime: actors
// receive messages through a bounded pool-backed mailbox and are run
// one-message-at-a-time by a fixed set of per-priority dispatcher
// goroutines.
package actor

import (
	"container/list"
	"sync"

	"github.com/intuitivelabs/embedkit/internal/xlog"
)

var log = xlog.New("actor")

// Priority selects which dispatcher goroutine services an actor. Each
// priority has its own dispatcher goroutine and the dispatchers run
// independently: work pending at a lower value is not serviced ahead of
// work pending at a higher one.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
	nrPriorities
)

// Handler processes a single message delivered to an actor. The handler
// owns msg once invoked and frees it via Scheduler.Free when done.
type Handler func(msg *Message)

// Actor is a message sink run exclusively by its Scheduler: at most one
// Handler invocation is ever in flight for a given Actor at a time.
type Actor struct {
	sched    *Scheduler
	priority Priority
	handler  Handler

	mu      sync.Mutex
	mailbox *list.List // of *Message
	queued  bool       // already present in the priority run queue
	deleted bool
}

// core is the per-priority run queue state: the actors with pending
// mail, and the semaphore their dispatcher blocks on.
type core struct {
	mu    sync.Mutex
	ready *list.List // of *Actor
	sem   chan struct{}
}

// DispatchHook observes a message delivery; see SetDispatchHooks.
type DispatchHook func(a *Actor, msg *Message)

// Scheduler owns the message pool and the per-priority dispatcher
// goroutines.
type Scheduler struct {
	pool    *Pool
	cores   [nrPriorities]*core
	wg      sync.WaitGroup
	stop    chan struct{}
	running bool
	mu      sync.Mutex

	preDispatch  DispatchHook
	postDispatch DispatchHook
}

// NewScheduler creates a scheduler whose message pool has nMsgs slots of
// msgSize bytes each.
func NewScheduler(nMsgs, msgSize int) *Scheduler {
	s := &Scheduler{
		pool: NewPool(nMsgs, msgSize),
		stop: make(chan struct{}),
	}
	for i := range s.cores {
		s.cores[i] = &core{
			ready: list.New(),
			sem:   make(chan struct{}, nMsgs+1),
		}
	}
	return s
}

// SetDispatchHooks installs optional callbacks run on the dispatcher
// goroutine immediately before and after every handler invocation
// (tracing, latency measurement, watchdog feeding). Must be called
// before Start; either hook may be nil.
func (s *Scheduler) SetDispatchHooks(pre, post DispatchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preDispatch = pre
	s.postDispatch = post
}

// Start launches one dispatcher goroutine per priority level.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for p := Priority(0); p < nrPriorities; p++ {
		s.wg.Add(1)
		go s.dispatch(p)
	}
}

// Stop signals every dispatcher goroutine to exit and waits for them to
// drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	for i := range s.cores {
		s.cores[i] = &core{ready: list.New(), sem: make(chan struct{}, cap(s.cores[i].sem))}
	}
	s.stop = make(chan struct{})
}

func (s *Scheduler) dispatch(p Priority) {
	defer s.wg.Done()
	c := s.cores[p]
	for {
		select {
		case <-s.stop:
			return
		case <-c.sem:
		}
		s.dispatchOne(c)
	}
}

// dispatchOne pops one ready actor, pops one message from its mailbox,
// reschedules the actor if more messages remain, then invokes the
// handler outside any lock. The handler takes ownership of msg on
// delivery: the dispatcher does not free a delivered message, a handler
// that is done with msg must call Scheduler.Free explicitly. A message
// popped for an actor already removed by Unset is not delivered and is
// returned to the pool here.
func (s *Scheduler) dispatchOne(c *core) {
	c.mu.Lock()
	front := c.ready.Front()
	if front == nil {
		c.mu.Unlock()
		return
	}
	c.ready.Remove(front)
	a := front.Value.(*Actor)
	c.mu.Unlock()

	a.mu.Lock()
	a.queued = false
	var msg *Message
	if e := a.mailbox.Front(); e != nil {
		a.mailbox.Remove(e)
		msg = e.Value.(*Message)
		msg.queued = false
	}
	deleted := a.deleted
	if !deleted && a.mailbox.Len() > 0 {
		requeue(c, a)
	}
	handler := a.handler
	a.mu.Unlock()

	if msg == nil {
		return
	}
	if deleted {
		s.pool.Free(msg)
		return
	}
	if s.preDispatch != nil {
		s.preDispatch(a, msg)
	}
	handler(msg)
	if s.postDispatch != nil {
		s.postDispatch(a, msg)
	}
}

// requeue appends a to c's ready list and marks it queued. Caller must
// hold a.mu; acquires c.mu internally.
func requeue(c *core, a *Actor) {
	a.queued = true
	c.mu.Lock()
	c.ready.PushBack(a)
	c.mu.Unlock()
	select {
	case c.sem <- struct{}{}:
	default:
	}
}

// NewActor registers a new actor on the scheduler.
func (s *Scheduler) NewActor(priority Priority, handler Handler) *Actor {
	return &Actor{
		sched:    s,
		priority: priority,
		handler:  handler,
		mailbox:  list.New(),
	}
}

// Alloc returns a pool message able to hold size payload bytes, or
// ErrTooLarge/ErrPoolExhausted if size doesn't fit the pool's fixed slot
// size or the pool has no free slots. Callers pass the returned
// *Message to Send.
func (s *Scheduler) Alloc(size int) (*Message, error) {
	if size <= 0 || size > s.pool.msgSize {
		return nil, ErrTooLarge
	}
	msg := s.pool.Alloc(size)
	if msg == nil {
		return nil, ErrPoolExhausted
	}
	return msg, nil
}

// Free returns msg to the scheduler's message pool. A no-op on nil, and
// idempotent: freeing an already-free message is detected and logged
// rather than corrupting the free-list.
func (s *Scheduler) Free(msg *Message) {
	s.pool.Free(msg)
}

// Send appends msg, previously obtained from Scheduler.Alloc, to the
// actor's mailbox, scheduling the actor onto its priority run queue if
// it is not already pending. Returns ErrAlreadyQueued if this exact
// message pointer is already sitting in a mailbox. The runtime never
// allocates a message on the caller's behalf, and it never auto-frees
// one after dispatch: the handler owns msg once delivered.
func (a *Actor) Send(msg *Message) error {
	if msg == nil {
		return ErrInvalidParam
	}
	c := a.sched.cores[a.priority]
	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return ErrActorDeleted
	}
	if msg.queued {
		a.mu.Unlock()
		return ErrAlreadyQueued
	}
	msg.queued = true
	a.mailbox.PushBack(msg)
	already := a.queued
	if !already {
		requeue(c, a)
	}
	a.mu.Unlock()

	if already {
		log.DBG("actor: message appended to already-queued actor")
	}
	return nil
}

// CountMessages returns the number of messages currently pending in the
// actor's mailbox. Messages parked in a TimerPool are not counted until
// Step forwards them, so the combined pending total is approximate
// while deferred sends are in flight.
func (a *Actor) CountMessages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mailbox.Len()
}

// Unset removes the actor from future scheduling and frees any messages
// still pending in its mailbox.
func (a *Actor) Unset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = true
	for e := a.mailbox.Front(); e != nil; {
		next := e.Next()
		m := e.Value.(*Message)
		a.sched.pool.Free(m)
		a.mailbox.Remove(e)
		e = next
	}
}
