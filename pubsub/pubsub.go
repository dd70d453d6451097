// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package pubsub implements a topic-based publish/subscribe bus with
// MQTT-style wildcard matching ('+' for one level, '#' for the rest of
// the topic). Subscriptions are kept in a single growable slice guarded
// by one mutex rather than a per-topic map, since wildcard matching
// requires a filter scan regardless of storage shape.
package pubsub

import (
	"errors"
	"sync"

	"github.com/intuitivelabs/embedkit/internal/xlog"
)

var log = xlog.New("pubsub")

// minSubscriptionCapacity is the floor the pool never shrinks below.
const minSubscriptionCapacity = 4

var (
	ErrInvalidParam = errors.New("pubsub: invalid parameter")
	ErrNoSubscriber = errors.New("pubsub: subscriber not found")
	ErrNoMemory     = errors.New("pubsub: out of memory")
)

// Callback receives a published message along with the context the
// subscription was registered with.
type Callback func(context interface{}, msg []byte)

// Subscription is the handle returned by Subscribe/SubscribeStatic and
// passed back to Unsubscribe. static records that the handle's memory
// is caller-owned (SubscribeStatic) rather than bus-allocated.
type Subscription struct {
	topicFilter string
	callback    Callback
	context     interface{}
	static      bool
}

// Bus is a single publish/subscribe domain. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs []*Subscription // nil entries mark freed slots
	len  int
}

// New creates a bus with the minimum initial subscription capacity.
func New() *Bus {
	return &Bus{subs: make([]*Subscription, minSubscriptionCapacity)}
}

func getNextTopicWord(s string, i int) int {
	for i < len(s) && s[i] != '/' {
		i++
	}
	return i
}

// topicMatches reports whether topic satisfies filter, supporting '+'
// (matches exactly one topic level) and '#' (matches the remainder of
// the topic from its position on). A topic that ends before the '#' is
// reached does not match, so "a/#" matches neither "a" nor "a/".
func topicMatches(filter, topic string) bool {
	fi, ti := 0, 0
	for fi < len(filter) && ti < len(topic) {
		switch filter[fi] {
		case '#':
			return true
		case '+':
			fi = getNextTopicWord(filter, fi)
			ti = getNextTopicWord(topic, ti)
			continue
		default:
			if filter[fi] != topic[ti] {
				return false
			}
		}
		fi++
		ti++
	}
	if fi != len(filter) {
		return false
	}
	return ti == len(topic)
}

// expand doubles the subscription pool. Caller must hold b.mu.
func (b *Bus) expand() {
	newSubs := make([]*Subscription, len(b.subs)*2)
	copy(newSubs, compact(b.subs))
	b.subs = newSubs
}

// shrink halves the subscription pool once it is under half full.
// Caller must hold b.mu.
func (b *Bus) shrink() {
	capacity := len(b.subs)
	if capacity <= minSubscriptionCapacity {
		return
	}
	if b.len*2 >= capacity {
		return
	}
	newSubs := make([]*Subscription, capacity/2)
	copy(newSubs, compact(b.subs))
	b.subs = newSubs
}

func compact(subs []*Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) register(sub *Subscription) bool {
	if b.len >= len(b.subs) {
		b.expand()
	}
	for i := range b.subs {
		if b.subs[i] == nil {
			b.subs[i] = sub
			b.len++
			log.DBG("added subscriber for %q", sub.topicFilter)
			return true
		}
	}
	return false
}

func (b *Bus) unregister(sub *Subscription) bool {
	for i, s := range b.subs {
		if s == sub {
			b.subs[i] = nil
			b.len--
			b.shrink()
			log.DBG("removed subscriber for %q", sub.topicFilter)
			return true
		}
	}
	return false
}

func (b *Bus) subscribeCore(sub *Subscription, topicFilter string, cb Callback, context interface{}, static bool) (*Subscription, error) {
	if topicFilter == "" || cb == nil {
		return nil, ErrInvalidParam
	}
	sub.topicFilter = topicFilter
	sub.callback = cb
	sub.context = context
	sub.static = static

	b.mu.Lock()
	ok := b.register(sub)
	b.mu.Unlock()
	if !ok {
		return nil, ErrNoMemory
	}
	return sub, nil
}

// Subscribe registers cb for topics matching topicFilter, returning a
// handle to later pass to Unsubscribe.
func (b *Bus) Subscribe(topicFilter string, cb Callback, context interface{}) (*Subscription, error) {
	return b.subscribeCore(&Subscription{}, topicFilter, cb, context, false)
}

// SubscribeStatic registers cb using a caller-provided Subscription
// value, avoiding a separate heap allocation.
func (b *Bus) SubscribeStatic(sub *Subscription, topicFilter string, cb Callback, context interface{}) (*Subscription, error) {
	return b.subscribeCore(sub, topicFilter, cb, context, true)
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil || sub.topicFilter == "" {
		return ErrInvalidParam
	}
	b.mu.Lock()
	ok := b.unregister(sub)
	b.mu.Unlock()
	if !ok {
		return ErrNoSubscriber
	}
	log.DBG("unsubscribed from %q", sub.topicFilter)
	return nil
}

// Publish delivers msg to every subscription whose filter matches
// topic. Callbacks run synchronously, under the bus lock, in
// registration-slot order; they must not call back into the same Bus.
func (b *Bus) Publish(topic string, msg []byte) error {
	if topic == "" {
		return ErrInvalidParam
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s != nil && topicMatches(s.topicFilter, topic) {
			s.callback(s.context, msg)
		}
	}
	return nil
}

// Count returns the number of subscriptions whose filter matches topic.
func (b *Bus) Count(topic string) (int, error) {
	if topic == "" {
		return 0, ErrInvalidParam
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s != nil && topicMatches(s.topicFilter, topic) {
			n++
		}
	}
	return n, nil
}
