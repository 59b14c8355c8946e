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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func claimFor(table *fork.Table, agent int) *Claim {
	return &Claim{Agent: agent, Left: table.Left(agent), Right: table.Right(agent)}
}

func testConfig() Config {
	return Config{
		RetreatTimeout: 2 * time.Millisecond,
		BackoffBase:    time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		BackoffLimit:   8,
	}
}

func TestParseKind(t *testing.T) {
	r := require.New(t)
	for _, k := range Kinds() {
		parsed, err := ParseKind(string(k))
		r.NoError(err)
		r.Equal(k, parsed)
	}
	k, err := ParseKind(" Deadlock ")
	r.NoError(err)
	r.Equal(Naive, k)

	_, err = ParseKind("waiter")
	r.ErrorIs(err, ErrUnknownKind)
	_, err = New("waiter", fork.NewTable(2), Config{})
	r.ErrorIs(err, ErrUnknownKind)
}

// Record the order in which each policy touches the forks of the seat
// that wraps around the table.
func TestOrder(t *testing.T) {
	tests := []struct {
		kind    Kind
		agent   int
		acquire []int
		release []int
	}{
		{Naive, 4, []int{4, 0}, []int{0, 4}},
		{Hierarchy, 4, []int{0, 4}, []int{4, 0}},
		{Hierarchy, 2, []int{2, 3}, []int{3, 2}},
		{Asymmetric, 4, []int{4, 0}, []int{0, 4}},
		{Asymmetric, 3, []int{4, 3}, []int{3, 4}},
		{Arbiter, 4, []int{4, 0}, []int{0, 4}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			r := require.New(t)
			var acquired, released []int
			table := fork.NewTable(5, fork.WithEvents(&fork.Events{
				OnAcquire: func(f, _ int, _ time.Duration) { acquired = append(acquired, f) },
				OnRelease: func(f, _ int) { released = append(released, f) },
			}))
			p, err := New(tt.kind, table, testConfig())
			r.NoError(err)
			r.Equal(tt.kind, p.Kind())

			c := claimFor(table, tt.agent)
			r.NoError(p.Acquire(context.Background(), c))
			r.Equal(tt.agent, table.Fork(c.Left).Holder())
			r.Equal(tt.agent, table.Fork(c.Right).Holder())
			r.NoError(p.Release(c))

			r.Equal(tt.acquire, acquired)
			r.Equal(tt.release, released)
			r.Empty(table.Held())
		})
	}
}

// Force every naive philosopher to hold its left fork before anyone
// reaches for a right fork. Nobody can make progress until the context
// is canceled, after which nothing may remain held.
func TestNaiveCircularWait(t *testing.T) {
	const seats = 5
	r := require.New(t)
	table := fork.NewTable(seats)
	p, err := New(Naive, table, Config{})
	r.NoError(err)

	var holding sync.WaitGroup
	holding.Add(seats)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var progressed atomic.Int32
	eg := &errgroup.Group{}
	for agent := 0; agent < seats; agent++ {
		c := claimFor(table, agent)
		c.Pause = func(context.Context) error {
			holding.Done()
			holding.Wait()
			return nil
		}
		eg.Go(func() error {
			err := p.Acquire(ctx, c)
			if err == nil {
				progressed.Add(1)
				return p.Release(c)
			}
			return err
		})
	}

	holding.Wait()
	r.Eventually(func() bool {
		for i := 0; i < seats; i++ {
			if table.Fork(i).Waiters() != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
	r.Zero(progressed.Load())

	cancel()
	r.ErrorIs(eg.Wait(), context.Canceled)
	r.Empty(table.Held())
}

// Deadlock-free policies must let every philosopher eat repeatedly
// under heavy contention, for both odd and even tables.
func TestProgress(t *testing.T) {
	const rounds = 50
	for _, kind := range []Kind{Hierarchy, Asymmetric, Arbiter} {
		for _, seats := range []int{2, 3, 4, 5, 16} {
			t.Run(fmt.Sprintf("%s/%d", kind, seats), func(t *testing.T) {
				r := require.New(t)
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
				defer cancel()

				table := fork.NewTable(seats)
				p, err := New(kind, table, testConfig())
				r.NoError(err)

				meals := make([]int, seats)
				eg, egCtx := errgroup.WithContext(ctx)
				for agent := 0; agent < seats; agent++ {
					c := claimFor(table, agent)
					c.Pause = func(ctx context.Context) error {
						time.Sleep(100 * time.Microsecond)
						return nil
					}
					eg.Go(func() error {
						for i := 0; i < rounds; i++ {
							if err := p.Acquire(egCtx, c); err != nil {
								return err
							}
							if table.Fork(c.Left).Holder() != agent || table.Fork(c.Right).Holder() != agent {
								return errors.New("acquired without holding both forks")
							}
							meals[agent]++
							if err := p.Release(c); err != nil {
								return err
							}
						}
						return nil
					})
				}
				r.NoError(eg.Wait())
				for agent := range meals {
					r.Equal(rounds, meals[agent])
				}
				r.Empty(table.Held())
			})
		}
	}
}

// On an even table the asymmetric policy puts its first fork back when
// the second is unavailable, and falls back to waiting once it runs out
// of retries.
func TestAsymmetricRetreat(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	table := fork.NewTable(4)
	cfg := testConfig()
	cfg.BackoffLimit = 3
	p, err := New(Asymmetric, table, cfg)
	r.NoError(err)

	// Somebody else is sitting on agent 0's second fork.
	const stranger = 99
	r.NoError(table.Fork(1).Acquire(ctx, stranger))

	var retreats atomic.Int32
	c := claimFor(table, 0)
	c.OnRetreat = func() { retreats.Add(1) }
	done := make(chan error, 1)
	go func() { done <- p.Acquire(ctx, c) }()

	// The first attempt and three retries all retreat, then the policy
	// waits while holding fork 0.
	r.Eventually(func() bool {
		return retreats.Load() == 4 && table.Fork(1).Waiters() == 1
	}, 5*time.Second, time.Millisecond)
	r.Equal(0, table.Fork(0).Holder())

	r.NoError(table.Fork(1).Release(stranger))
	r.NoError(<-done)
	r.Equal(int32(4), retreats.Load())
	r.NoError(p.Release(c))
	r.Empty(table.Held())
}

// Odd tables don't retreat; the parity order alone is enough.
func TestAsymmetricOddNoRetreat(t *testing.T) {
	r := require.New(t)
	table := fork.NewTable(3)
	p, err := New(Asymmetric, table, testConfig())
	r.NoError(err)
	r.False(p.(*asymmetric).retreat)

	table = fork.NewTable(4)
	p, err = New(Asymmetric, table, testConfig())
	r.NoError(err)
	r.True(p.(*asymmetric).retreat)

	bad := testConfig()
	bad.BackoffBase = 0
	_, err = New(Asymmetric, table, bad)
	r.Error(err)
}

func TestArbiterFIFO(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	table := fork.NewTable(5)
	p, err := New(Arbiter, table, Config{})
	r.NoError(err)

	first := claimFor(table, 0)
	r.NoError(p.Acquire(ctx, first))
	err = p.Acquire(ctx, first)
	r.ErrorIs(err, fork.ErrInvariant)
	var violation *fork.InvariantViolation
	r.True(errors.As(err, &violation))
	r.Equal(fork.OpAcquire, violation.Op)
	r.Equal(0, violation.Agent)
	r.Equal(0, violation.Holder)
	r.Equal([]int{0, 1}, table.Held())

	// Agent 1 shares fork 1 and must wait; agent 3 shares nothing.
	second := claimFor(table, 1)
	done := make(chan error, 1)
	go func() { done <- p.Acquire(ctx, second) }()

	third := claimFor(table, 3)
	r.NoError(p.Acquire(ctx, third))

	select {
	case err := <-done:
		r.Failf("unexpected acquisition", "err=%v", err)
	case <-time.After(10 * time.Millisecond):
	}

	r.NoError(p.Release(first))
	r.NoError(<-done)
	r.NoError(p.Release(second))
	r.NoError(p.Release(third))
	r.Empty(table.Held())
}

func TestReleaseWithoutAcquire(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			r := require.New(t)
			table := fork.NewTable(3)
			p, err := New(kind, table, testConfig())
			r.NoError(err)
			r.ErrorIs(p.Release(claimFor(table, 1)), fork.ErrInvariant)
		})
	}
}
