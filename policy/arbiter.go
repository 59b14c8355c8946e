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

package policy

import (
	"context"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/lockset"
)

// arbiter admits claims through a single [lockset.Queue]. A claim may
// only pick up its forks once every earlier claim on either fork has
// finished, so forks are granted in arrival order and nobody can be
// overtaken indefinitely.
type arbiter struct {
	queue *lockset.Queue[int]
	table *fork.Table
}

var _ Policy = (*arbiter)(nil)

func newArbiter(table *fork.Table) *arbiter {
	return &arbiter{queue: lockset.NewQueue[int](), table: table}
}

func (p *arbiter) Kind() Kind { return Arbiter }

func (p *arbiter) Acquire(ctx context.Context, c *Claim) error {
	if c.ticket != nil {
		// The claim's forks are already held.
		return &fork.InvariantViolation{
			Op: fork.OpAcquire, Fork: c.Left, Agent: c.Agent, Holder: p.table.Fork(c.Left).Holder(),
		}
	}
	t := p.queue.Admit(c.Left, c.Right)
	if err := t.Wait(ctx); err != nil {
		p.queue.Leave(t)
		return err
	}
	if err := acquireInOrder(ctx, p.table, c, c.Left, c.Right); err != nil {
		p.queue.Leave(t)
		return err
	}
	c.ticket = t
	return nil
}

func (p *arbiter) Release(c *Claim) error {
	err := releaseInOrder(p.table, c.Agent, c.Right, c.Left)
	if c.ticket != nil {
		p.queue.Leave(c.ticket)
		c.ticket = nil
	}
	return err
}
