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

// Package fork contains the exclusive resources that philosophers
// contend for.
//
// A [Fork] has at most one holder at any instant. Holders are
// identified by the integer identity of the philosopher that acquired
// the fork; the Fork never sees the philosopher itself. Forks are
// arranged around a [Table], whose ring arithmetic determines which two
// forks a given philosopher needs.
package fork

import (
	"context"
	"errors"
	"sync"
	"time"
)

// None is the holder of a Fork that nobody holds.
const None = -1

// A waiter is parked on a Fork until it is woken by a release. Fields
// other than ready are guarded by the parent Fork's mutex.
type waiter struct {
	agent   int
	granted bool // Ownership was handed over directly (FIFO mode).
	ready   chan struct{}
	start   time.Time
	woken   bool // Popped from the queue by a release.
}

// A Fork is an exclusively-owned token.
//
// In the default mode, a release wakes the longest-waiting goroutine,
// but a newly-arriving acquirer may still take the fork first. In FIFO
// mode, a release hands ownership directly to the longest waiter.
//
// A Fork is internally synchronized and is safe for concurrent use. A
// Fork should not be copied after it has been created.
type Fork struct {
	events *Events
	fifo   bool
	id     int

	mu struct {
		sync.Mutex
		holder  int
		waiters []*waiter
	}
}

func newFork(id int, fifo bool, events *Events) *Fork {
	f := &Fork{events: events, fifo: fifo, id: id}
	f.mu.holder = None
	return f
}

// ID returns the fork's index on its table.
func (f *Fork) ID() int { return f.id }

// Holder returns the identity of the current holder, or [None].
func (f *Fork) Holder() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.holder
}

// Waiters returns the number of goroutines parked in Acquire.
func (f *Fork) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mu.waiters)
}

// Acquire blocks until the fork is held by agent. It returns nil only
// once ownership has been established. If the context is canceled
// first, the context's error is returned and the fork is not held.
//
// An [*InvariantViolation] is returned if agent already holds the fork.
func (f *Fork) Acquire(ctx context.Context, agent int) error {
	start := time.Now()
	f.mu.Lock()
	if f.mu.holder == agent {
		f.mu.Unlock()
		return &InvariantViolation{Op: OpAcquire, Fork: f.id, Agent: agent, Holder: agent}
	}
	for {
		if f.mu.holder == None && (!f.fifo || len(f.mu.waiters) == 0) {
			f.mu.holder = agent
			f.events.doAcquire(f.id, agent, time.Since(start))
			f.mu.Unlock()
			return nil
		}

		w := &waiter{agent: agent, ready: make(chan struct{}), start: start}
		f.mu.waiters = append(f.mu.waiters, w)
		f.mu.Unlock()

		select {
		case <-w.ready:
		case <-ctx.Done():
		}

		f.mu.Lock()
		// A handoff may race with cancellation. Ownership wins since
		// the release has already been accounted for.
		if w.granted {
			f.mu.Unlock()
			return nil
		}
		if !w.woken {
			f.removeLocked(w)
		}
		if err := ctx.Err(); err != nil {
			// We consumed a wakeup that we won't use, so pass it on.
			if w.woken && f.mu.holder == None {
				f.wakeLocked()
			}
			f.mu.Unlock()
			return err
		}
		// Woken without a handoff; compete again.
	}
}

// TryAcquire attempts to acquire the fork, waiting no longer than the
// timeout. A non-positive timeout makes a single, non-blocking attempt.
// The boolean result reports whether the fork is now held by agent. An
// error is returned only for invariant violations or if ctx is done.
func (f *Fork) TryAcquire(ctx context.Context, agent int, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := f.Acquire(tctx, agent)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// Release clears agent's ownership of the fork and unblocks the next
// waiter, if any. An [*InvariantViolation] is returned if agent is not
// the current holder; the fork is left unchanged in that case.
func (f *Fork) Release(agent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mu.holder != agent {
		return &InvariantViolation{Op: OpRelease, Fork: f.id, Agent: agent, Holder: f.mu.holder}
	}
	f.mu.holder = None
	f.events.doRelease(f.id, agent)
	f.wakeLocked()
	return nil
}

// wakeLocked pops the head waiter. In FIFO mode the fork must be
// unheld, and ownership is transferred to the waiter.
func (f *Fork) wakeLocked() {
	if len(f.mu.waiters) == 0 {
		return
	}
	w := f.mu.waiters[0]
	f.mu.waiters[0] = nil
	f.mu.waiters = f.mu.waiters[1:]
	w.woken = true
	if f.fifo {
		w.granted = true
		f.mu.holder = w.agent
		f.events.doAcquire(f.id, w.agent, time.Since(w.start))
	}
	close(w.ready)
}

func (f *Fork) removeLocked(w *waiter) {
	for idx, candidate := range f.mu.waiters {
		if candidate == w {
			f.mu.waiters = append(f.mu.waiters[:idx], f.mu.waiters[idx+1:]...)
			return
		}
	}
}
