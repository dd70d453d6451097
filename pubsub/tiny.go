// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package pubsub

import (
	"container/list"
	"errors"
	"sync"
)

var (
	ErrExistTopic = errors.New("pubsub: topic already exists")
	ErrNoTopic    = errors.New("pubsub: topic does not exist")
)

// topicDestroyMessage is delivered to every subscriber of a topic right
// before DestroyTopic removes it.
const topicDestroyMessage = "topic destroyed"

type tinySub struct {
	callback Callback
	context  interface{}
}

type tinyTopic struct {
	name string
	subs *list.List // of *tinySub
}

// Tiny is an exact-match publish/subscribe registry: topics are
// pre-created by name and subscribers attach to one topic at a time,
// with O(1) lookup instead of Bus's wildcard filter scan -- a
// lighter-weight alternative for callers that don't need '+'/'#'
// matching. It shares Bus's error values plus the topic-lifecycle kinds
// ErrExistTopic/ErrNoTopic that Bus has no equivalent for, since Bus
// never pre-creates topics.
type Tiny struct {
	mu     sync.Mutex
	topics map[string]*tinyTopic
}

// NewTiny creates an empty registry.
func NewTiny() *Tiny {
	return &Tiny{topics: make(map[string]*tinyTopic)}
}

// CreateTopic registers topicName so subscribers can attach to it.
func (t *Tiny) CreateTopic(topicName string) error {
	if topicName == "" {
		return ErrInvalidParam
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.topics[topicName]; ok {
		return ErrExistTopic
	}
	t.topics[topicName] = &tinyTopic{name: topicName, subs: list.New()}
	return nil
}

// DestroyTopic removes topicName, first notifying every subscriber with
// the topicDestroyMessage payload.
func (t *Tiny) DestroyTopic(topicName string) error {
	if topicName == "" {
		return ErrInvalidParam
	}
	t.mu.Lock()
	topic, ok := t.topics[topicName]
	if !ok {
		t.mu.Unlock()
		return ErrNoTopic
	}
	delete(t.topics, topicName)
	t.mu.Unlock()

	for e := topic.subs.Front(); e != nil; e = e.Next() {
		s := e.Value.(*tinySub)
		s.callback(s.context, []byte(topicDestroyMessage))
	}
	log.DBG("%s topic destroyed", topicName)
	return nil
}

// TinySubscription is the handle Tiny.Subscribe returns and
// Tiny.Unsubscribe consumes.
type TinySubscription struct {
	topic *tinyTopic
	elem  *list.Element
}

// Subscribe attaches cb to topicName, failing with ErrNoTopic if the
// topic was never created.
func (t *Tiny) Subscribe(topicName string, cb Callback, context interface{}) (*TinySubscription, error) {
	if topicName == "" || cb == nil {
		return nil, ErrInvalidParam
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[topicName]
	if !ok {
		return nil, ErrNoTopic
	}
	elem := topic.subs.PushBack(&tinySub{callback: cb, context: context})
	log.DBG("Subscribe to %s", topicName)
	return &TinySubscription{topic: topic, elem: elem}, nil
}

// Unsubscribe detaches sub from its topic.
func (t *Tiny) Unsubscribe(sub *TinySubscription) error {
	if sub == nil || sub.topic == nil {
		return ErrInvalidParam
	}
	t.mu.Lock()
	sub.topic.subs.Remove(sub.elem)
	name := sub.topic.name
	t.mu.Unlock()
	log.DBG("Unsubscribe from %s", name)
	return nil
}

// Publish delivers msg to every subscriber of topicName, synchronously
// and in subscription order.
func (t *Tiny) Publish(topicName string, msg []byte) error {
	if topicName == "" || len(msg) == 0 {
		return ErrInvalidParam
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[topicName]
	if !ok {
		return ErrNoTopic
	}
	for e := topic.subs.Front(); e != nil; e = e.Next() {
		s := e.Value.(*tinySub)
		s.callback(s.context, msg)
	}
	log.DBG("Publish to %s", topicName)
	return nil
}

// Count returns the number of subscribers currently attached to
// topicName.
func (t *Tiny) Count(topicName string) (int, error) {
	if topicName == "" {
		return 0, ErrInvalidParam
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[topicName]
	if !ok {
		return 0, ErrNoTopic
	}
	return topic.subs.Len(), nil
}
