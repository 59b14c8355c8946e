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

// Package policy contains the strategies that decide the order in which
// a philosopher picks up its two forks.
//
// Every Policy is shared by all philosophers at a table and keeps no
// per-philosopher state outside of the [Claim] it is handed. A policy
// that fails to acquire both forks always puts back whatever it picked
// up before returning.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/lockset"
)

// Kind names a Policy.
type Kind string

// The available policies.
const (
	Naive      Kind = "naive"
	Hierarchy  Kind = "hierarchy"
	Asymmetric Kind = "asymmetric"
	Arbiter    Kind = "arbiter"
)

// ErrUnknownKind is returned by [ParseKind] and [New].
var ErrUnknownKind = errors.New("unknown policy")

// Kinds returns all policies, in the order they are usually compared.
func Kinds() []Kind { return []Kind{Naive, Hierarchy, Asymmetric, Arbiter} }

// ParseKind accepts a policy name. "deadlock" is accepted as an alias
// for [Naive].
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Naive, Hierarchy, Asymmetric, Arbiter:
		return k, nil
	case "deadlock":
		return Naive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// A Claim is one philosopher's standing request for its two forks. It
// is built once, when the philosopher sits down, and reused for every
// meal.
type Claim struct {
	Agent int
	Left  int
	Right int

	// Pause, if non-nil, is called between picking up the first and the
	// second fork.
	Pause func(ctx context.Context) error
	// OnRetreat, if non-nil, is called whenever the policy puts a fork
	// back in order to try again later.
	OnRetreat func()

	ticket *lockset.Ticket[int] // Arbiter only.
}

// A Policy acquires and releases the forks named by a Claim.
type Policy interface {
	// Kind returns the policy's name.
	Kind() Kind
	// Acquire blocks until the claim's forks are both held. If an error
	// is returned, neither fork is held.
	Acquire(ctx context.Context, c *Claim) error
	// Release puts both forks back.
	Release(c *Claim) error
}

// Config holds tunables that only some policies use.
type Config struct {
	// RetreatTimeout bounds the wait for the second fork before the
	// asymmetric policy puts the first one back. Only used on tables
	// with an even number of seats; zero disables retreating.
	RetreatTimeout time.Duration
	// BackoffBase, BackoffMax and BackoffLimit configure the delay
	// between retreats. After BackoffLimit retreats the policy stops
	// retreating and waits. A zero limit retreats forever.
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	BackoffLimit int
}

// New constructs the named policy for the table.
func New(kind Kind, table *fork.Table, cfg Config) (Policy, error) {
	switch kind {
	case Naive:
		return &naive{table}, nil
	case Hierarchy:
		return &hierarchy{table}, nil
	case Asymmetric:
		return newAsymmetric(table, cfg)
	case Arbiter:
		return newArbiter(table), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func (c *Claim) pause(ctx context.Context) error {
	if c.Pause == nil {
		return nil
	}
	return c.Pause(ctx)
}

func (c *Claim) retreated() {
	if c.OnRetreat != nil {
		c.OnRetreat()
	}
}

// acquireInOrder picks up first, then second, blocking on each.
func acquireInOrder(ctx context.Context, table *fork.Table, c *Claim, first, second int) error {
	if err := table.Fork(first).Acquire(ctx, c.Agent); err != nil {
		return err
	}
	if err := c.pause(ctx); err != nil {
		return putBack(table, c.Agent, err, first)
	}
	if err := table.Fork(second).Acquire(ctx, c.Agent); err != nil {
		return putBack(table, c.Agent, err, first)
	}
	return nil
}

// putBack releases the forks, in the order given, after a failure.
func putBack(table *fork.Table, agent int, cause error, held ...int) error {
	errs := []error{cause}
	for _, idx := range held {
		if err := table.Fork(idx).Release(agent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// releaseInOrder releases every fork even if one of them fails.
func releaseInOrder(table *fork.Table, agent int, forks ...int) error {
	var errs []error
	for _, idx := range forks {
		if err := table.Fork(idx).Release(agent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
