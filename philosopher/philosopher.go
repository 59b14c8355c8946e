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

// Package philosopher contains the agent that cycles between thinking,
// being hungry, and eating.
package philosopher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/monitor"
	"github.com/cockroachdb/dining-philosophers/policy"
)

// Config controls a Philosopher's pacing.
type Config struct {
	Eat    Range
	Logger *slog.Logger
	Pickup Range // Pause between the first and second fork.
	Quota  int   // Meals to eat before leaving. Zero is unlimited.
	Seed   int64 // Seeds the philosopher's private random source.
	Think  Range
}

// Stats are a philosopher's counters.
type Stats struct {
	Aborted     bool          // Forced termination interrupted the philosopher.
	Drawn       time.Duration // Sum of the random delays drawn.
	HungryCount int           // Times the philosopher became hungry.
	MaxWait     time.Duration
	Meals       int
	Retreats    int // Forks put back by the policy to retry later.
	Wait        time.Duration
}

// A Philosopher is one agent at the table. Its counters are owned by
// the goroutine executing [Philosopher.Run].
type Philosopher struct {
	claim  *policy.Claim
	cfg    Config
	id     int
	log    *slog.Logger
	policy policy.Policy
	reg    *monitor.Registry
	rng    *rand.Rand
	stats  Stats
}

// New seats philosopher id at the table. The policy is fixed for the
// philosopher's lifetime.
func New(
	id int, table *fork.Table, pol policy.Policy, reg *monitor.Registry, cfg Config,
) *Philosopher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Philosopher{
		cfg:    cfg,
		id:     id,
		log:    cfg.Logger.With("philosopher", id),
		policy: pol,
		reg:    reg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	p.claim = &policy.Claim{
		Agent:     id,
		Left:      table.Left(id),
		Right:     table.Right(id),
		OnRetreat: func() { p.stats.Retreats++ },
	}
	if cfg.Pickup.Max > 0 {
		p.claim.Pause = func(ctx context.Context) error {
			return sleep(ctx, nil, p.draw(p.cfg.Pickup))
		}
	}
	return p
}

// ID returns the philosopher's seat.
func (p *Philosopher) ID() int { return p.id }

// Stats returns a copy of the counters. It must not be called while
// Run is executing.
func (p *Philosopher) Stats() Stats { return p.stats }

// Run cycles the philosopher until it has eaten its quota, or until
// stop is closed. The stop channel is only consulted between states, so
// a philosopher that is hungry keeps waiting for its forks and one that
// is eating finishes its meal.
//
// Canceling ctx forcibly terminates the philosopher, even while it
// waits for a fork or eats. Any fork already picked up is put back
// before Run returns. A non-nil error indicates an invariant violation.
func (p *Philosopher) Run(ctx context.Context, stop <-chan struct{}) error {
	defer p.transition(monitor.Done)
	for {
		if p.cfg.Quota > 0 && p.stats.Meals >= p.cfg.Quota {
			p.log.Debug("quota reached", "meals", p.stats.Meals)
			return nil
		}
		if stopped(stop) {
			return nil
		}

		p.transition(monitor.Thinking)
		if err := sleep(ctx, stop, p.draw(p.cfg.Think)); err != nil {
			p.stats.Aborted = ctx.Err() != nil
			return nil
		}
		if stopped(stop) {
			return nil
		}

		p.transition(monitor.Hungry)
		p.stats.HungryCount++
		start := time.Now()
		err := p.policy.Acquire(ctx, p.claim)
		waited := time.Since(start)
		p.stats.Wait += waited
		p.stats.MaxWait = max(p.stats.MaxWait, waited)
		if err != nil {
			if errors.Is(err, fork.ErrInvariant) || ctx.Err() == nil {
				return fmt.Errorf("philosopher %d: acquire: %w", p.id, err)
			}
			p.log.Debug("terminated while hungry", "waited", waited)
			p.stats.Aborted = true
			return nil
		}

		p.transition(monitor.Eating)
		ateErr := sleep(ctx, nil, p.draw(p.cfg.Eat))
		if ateErr == nil {
			p.stats.Meals++
			p.reg.Meal()
		}
		if err := p.policy.Release(p.claim); err != nil {
			return fmt.Errorf("philosopher %d: release: %w", p.id, err)
		}
		if ateErr != nil {
			p.log.Debug("terminated while eating")
			p.stats.Aborted = true
			return nil
		}
		p.log.Debug("finished eating", "meals", p.stats.Meals, "waited", waited)
	}
}

// draw picks a delay from the philosopher's random source.
func (p *Philosopher) draw(r Range) time.Duration {
	d := r.Pick(p.rng)
	p.stats.Drawn += d
	return d
}

func (p *Philosopher) transition(s monitor.State) {
	p.reg.SetState(p.id, s)
	p.log.Debug("transition", "state", s)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

var errStopped = errors.New("stopped")

// sleep waits for the duration. It returns early with an error if ctx
// is done or, when non-nil, stop is closed.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	}
}
