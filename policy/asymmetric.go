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
	"errors"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/retry"
)

// asymmetric breaks the symmetry of the table by parity: even
// philosophers pick up left then right, odd philosophers right then
// left.
//
// On an even table, each fork is the first choice of both its
// neighbors or the second choice of both, so a second-choice fork is
// only ever held by a philosopher that is eating. On an odd table only
// fork 0 is mixed, and the two philosophers that want it first and
// second cannot both be waiting in the same direction. Neither case
// admits a cycle of waits, but the even case also retreats: it puts the
// first fork back if the second does not come free in time, and tries
// again after a backoff.
type asymmetric struct {
	cfg     Config
	retreat bool
	table   *fork.Table
}

var _ Policy = (*asymmetric)(nil)

func newAsymmetric(table *fork.Table, cfg Config) (*asymmetric, error) {
	p := &asymmetric{
		cfg:     cfg,
		retreat: table.Len()%2 == 0 && cfg.RetreatTimeout > 0,
		table:   table,
	}
	if p.retreat {
		// Validate the backoff settings up front.
		if _, err := p.backoff(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *asymmetric) Kind() Kind { return Asymmetric }

func (p *asymmetric) Acquire(ctx context.Context, c *Claim) error {
	first, second := p.order(c)
	if !p.retreat {
		return acquireInOrder(ctx, p.table, c, first, second)
	}

	backoff, err := p.backoff()
	if err != nil {
		return err
	}
	err = retry.Retry(ctx, backoff, func(ctx context.Context) error {
		if err := p.table.Fork(first).Acquire(ctx, c.Agent); err != nil {
			return err
		}
		if err := c.pause(ctx); err != nil {
			return putBack(p.table, c.Agent, err, first)
		}
		ok, err := p.table.Fork(second).TryAcquire(ctx, c.Agent, p.cfg.RetreatTimeout)
		if err != nil {
			return putBack(p.table, c.Agent, err, first)
		}
		if ok {
			return nil
		}
		if err := p.table.Fork(first).Release(c.Agent); err != nil {
			return err
		}
		c.retreated()
		return retry.ErrRetriable
	})
	if errors.Is(err, retry.ErrMaxRetries) {
		// Out of patience. Waiting in parity order is still safe.
		return acquireInOrder(ctx, p.table, c, first, second)
	}
	return err
}

func (p *asymmetric) Release(c *Claim) error {
	first, second := p.order(c)
	return releaseInOrder(p.table, c.Agent, second, first)
}

func (p *asymmetric) backoff() (retry.Backoff, error) {
	return retry.NewExpBackoff(p.cfg.BackoffBase, p.cfg.BackoffMax, p.cfg.BackoffLimit)
}

func (p *asymmetric) order(c *Claim) (first, second int) {
	if c.Agent%2 == 0 {
		return c.Left, c.Right
	}
	return c.Right, c.Left
}
