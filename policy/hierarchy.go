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
)

// hierarchy imposes a total order on forks: the lower-indexed fork is
// always picked up first. A philosopher waiting on a fork therefore
// holds only lower-indexed forks than the one it waits for, and a
// cycle of waits would need an index lower than itself.
type hierarchy struct {
	table *fork.Table
}

var _ Policy = (*hierarchy)(nil)

func (p *hierarchy) Kind() Kind { return Hierarchy }

func (p *hierarchy) Acquire(ctx context.Context, c *Claim) error {
	low, high := ordered(c)
	return acquireInOrder(ctx, p.table, c, low, high)
}

func (p *hierarchy) Release(c *Claim) error {
	low, high := ordered(c)
	return releaseInOrder(p.table, c.Agent, high, low)
}

func ordered(c *Claim) (low, high int) {
	if c.Left < c.Right {
		return c.Left, c.Right
	}
	return c.Right, c.Left
}
