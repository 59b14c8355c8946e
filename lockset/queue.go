// Copyright 2025 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package lockset

import (
	"context"
	"fmt"
	"sync"
)

// A Ticket is a claim on a set of keys, returned by [Queue.Admit].
type Ticket[K comparable] struct {
	keys  []K
	ready chan struct{}

	// Guarded by the parent queue's mutex.
	headCount int
	next      *Ticket[K]
	valid     bool
}

// Keys returns the deduplicated keys of the claim.
func (t *Ticket[K]) Keys() []K { return t.keys }

// Ready returns a channel that is closed once the claim is at the head
// of every key queue.
func (t *Ticket[K]) Ready() <-chan struct{} { return t.ready }

// Wait blocks until the ticket is ready or the context is done. The
// ticket remains in its queue either way and must be passed to
// [Queue.Leave].
func (t *Ticket[K]) Wait(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		// Readiness takes priority if both happened.
		select {
		case <-t.ready:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// A Queue implements an in-order admission queue for claims on
// potentially-overlapping key sets. It also maintains a global queue of
// claims in admission order.
//
// A Queue is internally synchronized and is safe for concurrent use. A
// Queue should not be copied after it has been created.
type Queue[K comparable] struct {
	mu struct {
		sync.Mutex

		head   *Ticket[K]
		tail   *Ticket[K]
		queues map[K][]*Ticket[K]
		size   int
	}
}

// NewQueue constructs a [Queue].
func NewQueue[K comparable]() *Queue[K] {
	q := &Queue[K]{}
	q.mu.queues = make(map[K][]*Ticket[K])
	return q
}

// Admit appends a claim on the keys to the queue. Duplicate keys are
// ignored. A claim with no keys is ready immediately.
func (q *Queue[K]) Admit(keys ...K) *Ticket[K] {
	t := &Ticket[K]{
		keys:  dedup(keys),
		ready: make(chan struct{}),
		valid: true,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.mu.tail == nil {
		q.mu.head = t
	} else {
		q.mu.tail.next = t
	}
	q.mu.tail = t
	q.mu.size++

	for _, k := range t.keys {
		entries := append(q.mu.queues[k], t)
		q.mu.queues[k] = entries
		if len(entries) == 1 {
			t.headCount++
		}
	}
	if t.headCount == len(t.keys) {
		close(t.ready)
	}
	return t
}

// Leave removes the ticket from the queue, whether or not it was ready,
// and readies any claims that were waiting only on it. It returns false
// if the ticket had already left.
func (q *Queue[K]) Leave(t *Ticket[K]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !t.valid {
		return false
	}

	for _, k := range t.keys {
		entries := q.mu.queues[k]

		idx := 0
		for idx < len(entries) && entries[idx] != t {
			idx++
		}
		if idx == len(entries) {
			panic(fmt.Sprintf("ticket missing from key queue %v", k))
		}

		// A ready ticket is always first. Only a ticket that gave up
		// waiting can be found in the middle.
		if idx > 0 {
			q.mu.queues[k] = append(entries[:idx], entries[idx+1:]...)
			continue
		}

		entries = entries[1:]
		if len(entries) == 0 {
			delete(q.mu.queues, k)
			continue
		}
		q.mu.queues[k] = entries

		promoted := entries[0]
		promoted.headCount++
		switch {
		case promoted.headCount == len(promoted.keys):
			close(promoted.ready)
		case promoted.headCount > len(promoted.keys):
			panic("over counted")
		}
	}

	t.valid = false
	q.mu.size--

	// Drop departed tickets from the front of the global queue.
	head := q.mu.head
	for head != nil && !head.valid {
		head = head.next
	}
	q.mu.head = head
	if head == nil {
		q.mu.tail = nil
	}
	return true
}

// IsHead returns true if the ticket is the oldest one in the queue.
func (q *Queue[K]) IsHead(t *Ticket[K]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.head == t
}

// IsQueuedKey returns true if any ticket in the queue names the key.
func (q *Queue[K]) IsQueuedKey(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.mu.queues[key]) > 0
}

// Len returns the number of tickets that have not left.
func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.size
}

// Make a copy of the key slice and deduplicate it.
func dedup[K comparable](keys []K) []K {
	keys = append([]K(nil), keys...)
	seen := make(map[K]struct{}, len(keys))
	idx := 0
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		keys[idx] = key
		idx++
	}
	return keys[:idx]
}
