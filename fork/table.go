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

package fork

// A Table is the arena of forks for one simulation. Forks are indexed
// 0..n-1 and philosopher i sits between fork i (its left) and fork
// (i+1) mod n (its right).
type Table struct {
	forks []*Fork
}

// An Option configures a Table.
type Option func(*options)

type options struct {
	events *Events
	fifo   bool
}

// WithEvents installs ownership callbacks on every fork.
func WithEvents(events *Events) Option {
	return func(o *options) { o.events = events }
}

// WithFIFO selects direct handoff to the longest waiter on release.
func WithFIFO(fifo bool) Option {
	return func(o *options) { o.fifo = fifo }
}

// NewTable constructs a table of n unheld forks.
func NewTable(n int, opts ...Option) *Table {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	t := &Table{forks: make([]*Fork, n)}
	for i := range t.forks {
		t.forks[i] = newFork(i, o.fifo, o.events)
	}
	return t
}

// Len returns the number of forks.
func (t *Table) Len() int { return len(t.forks) }

// Fork returns the fork with the given index.
func (t *Table) Fork(idx int) *Fork { return t.forks[idx] }

// Left returns the index of the fork on agent's left.
func (t *Table) Left(agent int) int { return agent % len(t.forks) }

// Right returns the index of the fork on agent's right.
func (t *Table) Right(agent int) int { return (agent + 1) % len(t.forks) }

// Held returns the indexes of all forks that currently have a holder.
func (t *Table) Held() []int {
	var ret []int
	for _, f := range t.forks {
		if f.Holder() != None {
			ret = append(ret, f.id)
		}
	}
	return ret
}
