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

// naive always picks up the left fork and then the right one, waiting
// as long as it takes. If every philosopher holds its left fork at the
// same time, nobody can ever pick up a right fork.
type naive struct {
	table *fork.Table
}

var _ Policy = (*naive)(nil)

func (p *naive) Kind() Kind { return Naive }

func (p *naive) Acquire(ctx context.Context, c *Claim) error {
	return acquireInOrder(ctx, p.table, c, c.Left, c.Right)
}

func (p *naive) Release(c *Claim) error {
	return releaseInOrder(p.table, c.Agent, c.Right, c.Left)
}
