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

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/philosopher"
	"github.com/cockroachdb/dining-philosophers/policy"
	"github.com/stretchr/testify/require"
)

// quick returns a configuration with short delays.
func quick(kind policy.Kind, agents int) Config {
	return Config{
		Agents:         agents,
		Policy:         kind,
		Eat:            philosopher.Range{Min: time.Millisecond, Max: 2 * time.Millisecond},
		Think:          philosopher.Range{Min: 0, Max: time.Millisecond},
		StallThreshold: 200 * time.Millisecond,
		Grace:          200 * time.Millisecond,
		Seed:           42,
	}
}

func TestHierarchyIterations(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Hierarchy, 5)
	cfg.MaxIterations = 50

	rt, err := New(cfg)
	r.NoError(err)
	res, err := rt.Run(context.Background())
	r.NoError(err)

	r.Equal(rt.ID(), res.RunID)
	r.Equal(policy.Hierarchy, res.Policy)
	r.Equal(int64(42), res.Seed)
	r.False(res.DeadlockDetected)
	r.Zero(res.DeadlockAfter)
	r.False(res.ForcedTermination)
	r.Empty(res.Warnings)
	r.Empty(res.Blocked)
	r.Equal(50, res.TotalMeals())
	r.Equal([]int{10, 10, 10, 10, 10}, res.Meals)
	r.Equal(res.Meals, res.HungryCounts)
	for i, w := range res.WaitMs() {
		r.GreaterOrEqual(w, int64(0))
		r.GreaterOrEqual(res.Wait[i], res.MaxWait[i])
	}
	r.Empty(rt.Table().Held())

	_, err = rt.Run(context.Background())
	r.ErrorIs(err, ErrAlreadyRun)
}

func TestNaiveDeadlock(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Naive, 5)
	cfg.Duration = 5 * time.Second
	cfg.Think = philosopher.Range{Min: time.Millisecond, Max: 2 * time.Millisecond}
	cfg.PickupDelay = philosopher.Fixed(20 * time.Millisecond)
	cfg.Grace = 100 * time.Millisecond

	rt, err := New(cfg)
	r.NoError(err)
	res, err := rt.Run(context.Background())
	r.NoError(err)

	r.True(res.DeadlockDetected)
	r.Greater(res.DeadlockAfter, time.Duration(0))
	r.Less(res.ElapsedMs(), int64(5000))
	r.True(res.ForcedTermination)
	r.Len(res.Warnings, 1)
	var warning *ForcedTerminationWarning
	r.True(errors.As(res.Warnings[0], &warning))
	r.Equal([]int{0, 1, 2, 3, 4}, warning.Agents)
	r.Equal([]int{0, 1, 2, 3, 4}, res.Blocked)

	// Every fork was put back during teardown.
	r.Empty(rt.Table().Held())
	for i := range rt.Table().Len() {
		r.Zero(rt.Table().Fork(i).Waiters())
	}
}

// Naive tables deadlock without any explicit pickup delay.
func TestNaiveDeadlockByDefault(t *testing.T) {
	jitter := map[string]func(*Config){
		"default delays": func(*Config) {},
		"small jitter": func(c *Config) {
			c.Think = philosopher.Range{Min: 0, Max: time.Millisecond}
			c.Eat = philosopher.Range{Min: 0, Max: time.Millisecond}
		},
	}
	for name, mut := range jitter {
		for seed := int64(1); seed <= 3; seed++ {
			t.Run(fmt.Sprintf("%s/%d", name, seed), func(t *testing.T) {
				r := require.New(t)
				cfg := Default()
				cfg.Policy = policy.Naive
				cfg.Duration = 3 * time.Second
				cfg.StallThreshold = 200 * time.Millisecond
				cfg.Grace = 100 * time.Millisecond
				cfg.Seed = seed
				mut(&cfg)

				rt, err := New(cfg)
				r.NoError(err)
				res, err := rt.Run(context.Background())
				r.NoError(err)
				r.True(res.DeadlockDetected)
				r.Less(res.Elapsed, 3*time.Second)
				r.True(res.ForcedTermination)
				r.Empty(rt.Table().Held())
			})
		}
	}
}

func TestDeadlockFreePolicies(t *testing.T) {
	for _, kind := range []policy.Kind{policy.Hierarchy, policy.Asymmetric, policy.Arbiter} {
		for _, agents := range []int{2, 3, 4, 5, 6} {
			t.Run(fmt.Sprintf("%s/%d", kind, agents), func(t *testing.T) {
				r := require.New(t)
				cfg := quick(kind, agents)
				cfg.Duration = 250 * time.Millisecond
				// Contention is highest when forks are held across a pause.
				cfg.PickupDelay = philosopher.Fixed(time.Millisecond)

				res, err := Run(context.Background(), cfg)
				r.NoError(err)
				r.False(res.DeadlockDetected)
				r.False(res.ForcedTermination)
				r.Positive(res.TotalMeals())
				r.GreaterOrEqual(res.ElapsedMs(), int64(250))
			})
		}
	}
}

// Quotas fix the meal counts whatever the seed; the delays each
// philosopher draws are what the seed determines.
func TestDeterministicMeals(t *testing.T) {
	r := require.New(t)
	run := func(seed int64) (*Result, []time.Duration) {
		cfg := quick(policy.Hierarchy, 5)
		cfg.MaxIterations = 42
		cfg.PickupDelay = philosopher.Range{Min: 100 * time.Microsecond, Max: 300 * time.Microsecond}
		cfg.Seed = seed
		rt, err := New(cfg)
		r.NoError(err)
		res, err := rt.Run(context.Background())
		r.NoError(err)
		drawn := make([]time.Duration, len(rt.philosophers))
		for i, p := range rt.philosophers {
			drawn[i] = p.Stats().Drawn
		}
		return res, drawn
	}
	first, firstDrawn := run(42)
	second, secondDrawn := run(42)
	r.Equal([]int{9, 9, 8, 8, 8}, first.Meals)
	r.Equal(first.Meals, second.Meals)
	r.Equal(first.HungryCounts, second.HungryCounts)
	r.Equal(firstDrawn, secondDrawn)
	r.Equal(first.Seed, second.Seed)
	r.NotEqual(first.RunID, second.RunID)

	other, otherDrawn := run(43)
	r.Equal(first.Meals, other.Meals)
	r.NotEqual(firstDrawn, otherDrawn)
}

func TestRandomSeed(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Hierarchy, 3)
	cfg.Seed = 0
	cfg.MaxIterations = 3
	res, err := Run(context.Background(), cfg)
	r.NoError(err)
	r.NotZero(res.Seed)
}

func TestFewerIterationsThanSeats(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Naive, 5)
	cfg.MaxIterations = 3
	res, err := Run(context.Background(), cfg)
	r.NoError(err)
	r.Equal([]int{1, 1, 1, 0, 0}, res.Meals)
	r.False(res.DeadlockDetected)
}

func TestInterrupted(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Hierarchy, 5)
	cfg.Duration = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := Run(ctx, cfg)
	r.NoError(err)
	r.Less(res.Elapsed, 10*time.Second)
	r.False(res.DeadlockDetected)
}

// TestMutualExclusion observes every ownership change and checks that
// no fork ever has two holders.
func TestMutualExclusion(t *testing.T) {
	for _, kind := range policy.Kinds() {
		for _, fifo := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/fifo=%t", kind, fifo), func(t *testing.T) {
				r := require.New(t)
				const agents = 5
				var owners [agents]atomic.Int32
				var violations, acquired atomic.Int32
				cfg := quick(kind, agents)
				cfg.MaxIterations = 100
				cfg.FIFO = fifo
				// Short enough that naive tables usually eat before they jam.
				cfg.PickupDelay = philosopher.Range{Min: 0, Max: 50 * time.Microsecond}
				cfg.Events = &fork.Events{
					OnAcquire: func(f, _ int, _ time.Duration) {
						acquired.Add(1)
						if owners[f].Add(1) != 1 {
							violations.Add(1)
						}
					},
					OnRelease: func(f, _ int) {
						if owners[f].Add(-1) != 0 {
							violations.Add(1)
						}
					},
				}

				rt, err := New(cfg)
				r.NoError(err)
				res, err := rt.Run(context.Background())
				r.NoError(err)
				r.Zero(violations.Load())
				r.GreaterOrEqual(int(acquired.Load()), 2*res.TotalMeals())
				for i := range owners {
					r.Zero(owners[i].Load())
				}
				r.Empty(rt.Table().Held())
			})
		}
	}
}

func TestLivelockSuspicion(t *testing.T) {
	r := require.New(t)
	cfg := quick(policy.Hierarchy, 3)
	cfg.Duration = 300 * time.Millisecond
	cfg.StallThreshold = 50 * time.Millisecond
	cfg.MinProgressRate = 1e6

	res, err := Run(context.Background(), cfg)
	r.NoError(err)
	r.False(res.DeadlockDetected)
	r.Positive(res.LivelockSuspicions)
}

// doubleRelease puts the left fork back twice.
type doubleRelease struct {
	policy.Policy
	table *fork.Table
}

func (d *doubleRelease) Release(c *policy.Claim) error {
	if err := d.Policy.Release(c); err != nil {
		return err
	}
	return d.table.Fork(c.Left).Release(c.Agent)
}

func TestInvariantViolation(t *testing.T) {
	r := require.New(t)
	defer func(fn func(policy.Kind, *fork.Table, policy.Config) (policy.Policy, error)) {
		newPolicy = fn
	}(newPolicy)
	newPolicy = func(kind policy.Kind, table *fork.Table, cfg policy.Config) (policy.Policy, error) {
		pol, err := policy.New(kind, table, cfg)
		if err != nil {
			return nil, err
		}
		return &doubleRelease{pol, table}, nil
	}

	cfg := quick(policy.Hierarchy, 3)
	cfg.Duration = 5 * time.Second
	start := time.Now()
	res, err := Run(context.Background(), cfg)
	r.Nil(res)
	r.ErrorIs(err, fork.ErrInvariant)
	var violation *fork.InvariantViolation
	r.True(errors.As(err, &violation))
	r.Equal(fork.OpRelease, violation.Op)
	r.NotEqual(violation.Agent, violation.Holder)
	r.Less(time.Since(start), 5*time.Second)
}

func TestPanicRecovered(t *testing.T) {
	r := require.New(t)
	defer func(fn func(policy.Kind, *fork.Table, policy.Config) (policy.Policy, error)) {
		newPolicy = fn
	}(newPolicy)
	newPolicy = func(policy.Kind, *fork.Table, policy.Config) (policy.Policy, error) {
		return panicky{}, nil
	}

	cfg := quick(policy.Hierarchy, 2)
	cfg.MaxIterations = 2
	_, err := Run(context.Background(), cfg)
	r.ErrorContains(err, "panicked: boom")
}

type panicky struct{}

func (panicky) Kind() policy.Kind                           { return "panicky" }
func (panicky) Acquire(context.Context, *policy.Claim) error { panic("boom") }
func (panicky) Release(*policy.Claim) error                 { return nil }
