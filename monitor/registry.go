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

// Package monitor observes a running table without taking part in it.
//
// A [Registry] records each philosopher's lifecycle [State] and a
// clock of fork ownership changes, using only atomic operations so that
// observation never contends with the forks' own locks. A [Detector]
// samples the registry to tell a global deadlock apart from ordinary
// contention.
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
)

// State is a philosopher's lifecycle state.
type State int32

// Lifecycle states. Done is terminal.
const (
	Thinking State = iota
	Hungry
	Eating
	Done
)

func (s State) String() string {
	switch s {
	case Thinking:
		return "thinking"
	case Hungry:
		return "hungry"
	case Eating:
		return "eating"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// A Registry is the wait-state registry for one table. It is safe for
// concurrent use.
type Registry struct {
	epoch     time.Time
	events    atomic.Uint64
	lastEvent atomic.Int64 // Nanoseconds since epoch.
	meals     atomic.Uint64
	states    []atomic.Int32
	changed   []atomic.Int64 // Nanoseconds since epoch of each last transition.
}

// NewRegistry constructs a Registry for n philosophers, all Thinking.
func NewRegistry(n int) *Registry {
	return &Registry{
		epoch:   time.Now(),
		states:  make([]atomic.Int32, n),
		changed: make([]atomic.Int64, n),
	}
}

// Len returns the number of philosophers being tracked.
func (r *Registry) Len() int { return len(r.states) }

// Events returns fork callbacks that feed the registry's event clock.
func (r *Registry) Events() *fork.Events {
	return &fork.Events{
		OnAcquire: func(int, int, time.Duration) { r.touch() },
		OnRelease: func(int, int) { r.touch() },
	}
}

func (r *Registry) touch() {
	r.lastEvent.Store(int64(time.Since(r.epoch)))
	r.events.Add(1)
}

// SetState records a philosopher's transition.
func (r *Registry) SetState(agent int, s State) {
	// Written before the state and read after it, so a sampled
	// transition time is never older than the sampled state.
	r.changed[agent].Store(int64(time.Since(r.epoch)))
	r.states[agent].Store(int32(s))
}

// State returns a philosopher's most recently recorded state.
func (r *Registry) State(agent int) State {
	return State(r.states[agent].Load())
}

// Meal records a completed meal.
func (r *Registry) Meal() { r.meals.Add(1) }

// Meals returns the number of meals completed so far.
func (r *Registry) Meals() uint64 { return r.meals.Load() }

// A Sample is a point-in-time view of a Registry. The states are read
// one at a time, so a Sample is not an atomic snapshot.
type Sample struct {
	At        time.Duration // Since the registry was created.
	Events    uint64
	LastEvent time.Duration // Since the registry was created.
	Meals     uint64
	States    []State
	Changed   []time.Duration // When each state was entered, since creation.
}

// Sample reads the registry.
func (r *Registry) Sample() Sample {
	s := Sample{
		Events:    r.events.Load(),
		LastEvent: time.Duration(r.lastEvent.Load()),
		Meals:     r.meals.Load(),
		States:    make([]State, len(r.states)),
		Changed:   make([]time.Duration, len(r.states)),
	}
	for i := range r.states {
		s.States[i] = State(r.states[i].Load())
		s.Changed[i] = time.Duration(r.changed[i].Load())
	}
	s.At = time.Since(r.epoch)
	return s
}

// All returns true if every philosopher is in the given state.
func (s Sample) All(state State) bool {
	for _, candidate := range s.States {
		if candidate != state {
			return false
		}
	}
	return len(s.States) > 0
}

// Count returns the number of philosophers in the given state.
func (s Sample) Count(state State) int {
	n := 0
	for _, candidate := range s.States {
		if candidate == state {
			n++
		}
	}
	return n
}

// AllFor returns how long every philosopher has been in the given
// state, or zero if some philosopher is not in it. A Sample without
// transition times counts from the registry's creation.
func (s Sample) AllFor(state State) time.Duration {
	if !s.All(state) {
		return 0
	}
	var since time.Duration
	for _, at := range s.Changed {
		since = max(since, at)
	}
	return s.At - since
}

// Quiet returns how long it has been since the last fork event.
func (s Sample) Quiet() time.Duration { return s.At - s.LastEvent }
