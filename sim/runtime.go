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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/monitor"
	"github.com/cockroachdb/dining-philosophers/philosopher"
	"github.com/cockroachdb/dining-philosophers/policy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// newPolicy is replaced in tests.
var newPolicy = policy.New

// A Runtime owns the table, the philosophers, and the detector for a
// single run.
type Runtime struct {
	cfg          Config
	id           uuid.UUID
	log          *slog.Logger
	philosophers []*philosopher.Philosopher
	reg          *monitor.Registry
	ran          atomic.Bool
	table        *fork.Table
}

// Run validates the configuration and runs a simulation to completion.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	rt, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return rt.Run(ctx)
}

// New validates the configuration and seats the philosophers. Nothing
// runs until [Runtime.Run] is called.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	id := uuid.New()
	rt := &Runtime{
		cfg: cfg,
		id:  id,
		log: cfg.Logger.With("run", id.String(), "policy", string(cfg.Policy), "agents", cfg.Agents),
		reg: monitor.NewRegistry(cfg.Agents),
	}
	rt.table = fork.NewTable(cfg.Agents,
		fork.WithEvents(fork.Chain(rt.reg.Events(), cfg.Events)),
		fork.WithFIFO(cfg.FIFO))

	pol, err := newPolicy(cfg.Policy, rt.table, policy.Config{
		RetreatTimeout: cfg.RetreatTimeout,
		BackoffBase:    cfg.RetreatBackoff.Base,
		BackoffMax:     cfg.RetreatBackoff.Max,
		BackoffLimit:   cfg.RetreatBackoff.Limit,
	})
	if err != nil {
		return nil, &ConfigurationError{Field: "policy", Err: err}
	}

	rt.philosophers = make([]*philosopher.Philosopher, cfg.Agents)
	for i := range rt.philosophers {
		rt.philosophers[i] = philosopher.New(i, rt.table, pol, rt.reg, philosopher.Config{
			Eat:    cfg.Eat,
			Logger: rt.log,
			Pickup: cfg.PickupDelay,
			Quota:  cfg.quota(i),
			Seed:   seatSeed(cfg.Seed, i),
			Think:  cfg.Think,
		})
	}
	return rt, nil
}

// seatSeed derives a distinct, reproducible seed for each seat.
func seatSeed(seed int64, seat int) int64 {
	return seed ^ int64(seat+1)*0x5DEECE66D
}

// ID returns the run's identifier, which is attached to every log line.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// Registry exposes the philosophers' states while the run is in
// progress.
func (rt *Runtime) Registry() *monitor.Registry { return rt.reg }

// Table returns the forks.
func (rt *Runtime) Table() *fork.Table { return rt.table }

// Run starts every philosopher and the detector, waits for a stop
// condition, and tears the table down. Philosophers are first asked to
// stop at their next state boundary. Any still running after the grace
// period are terminated, which is reported as a warning in the result.
//
// Canceling the context ends the run early, but a result is still
// returned. An error is returned only if the configuration was
// rejected or a fork invariant was violated.
func (rt *Runtime) Run(ctx context.Context) (*Result, error) {
	if !rt.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	cfg := &rt.cfg
	rt.log.Info("starting simulation",
		"duration", cfg.Duration,
		"maxIterations", cfg.MaxIterations,
		"seed", cfg.Seed)
	start := time.Now()

	// Canceling abortCtx forcibly terminates the philosophers. It is
	// detached from the caller so that cancellation still allows a
	// graceful stop first.
	abortCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	// The first philosopher to fail cancels egCtx, which terminates the
	// rest.
	eg, egCtx := errgroup.WithContext(abortCtx)
	for _, p := range rt.philosophers {
		if cfg.MaxIterations > 0 && cfg.quota(p.ID()) == 0 {
			// Fewer iterations than seats.
			rt.reg.SetState(p.ID(), monitor.Done)
			continue
		}
		eg.Go(func() error { return tryRun(egCtx, p, stop) })
	}
	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = eg.Wait()
		close(done)
	}()

	detCtx, stopDetector := context.WithCancel(ctx)
	defer stopDetector()
	verdicts := make(chan monitor.Verdict, 1)
	go func() {
		verdicts <- monitor.NewDetector(rt.reg, monitor.DetectorConfig{
			Interval:        cfg.SampleInterval,
			Logger:          rt.log,
			MinProgressRate: cfg.MinProgressRate,
			Stall:           cfg.StallThreshold,
		}).Run(detCtx)
	}()

	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var verdict monitor.Verdict
	haveVerdict := false
	select {
	case <-done:
		rt.log.Debug("all philosophers finished")
	case <-deadline:
		rt.log.Debug("duration elapsed")
	case verdict = <-verdicts:
		haveVerdict = true
	case <-egCtx.Done():
		rt.log.Debug("philosopher failed")
	case <-ctx.Done():
		rt.log.Info("simulation interrupted", "cause", context.Cause(ctx))
	}

	var warnings []error
	forced := false
	if egCtx.Err() == nil {
		stopAll()
		grace := time.NewTimer(cfg.Grace)
		select {
		case <-done:
		case <-grace.C:
			w := &ForcedTerminationWarning{Agents: rt.running(), Grace: cfg.Grace}
			rt.log.Warn("terminating philosophers", "agents", w.Agents, "grace", cfg.Grace)
			warnings = append(warnings, w)
			forced = true
			abort()
		}
		grace.Stop()
	}
	<-done
	stopDetector()
	if !haveVerdict {
		verdict = <-verdicts
	}
	elapsed := time.Since(start)

	if runErr != nil {
		rt.log.Error("simulation failed", "error", runErr)
		return nil, runErr
	}
	if held := rt.table.Held(); len(held) > 0 {
		return nil, fmt.Errorf("forks %v still held after teardown: %w", held, fork.ErrInvariant)
	}

	res := &Result{
		RunID:              rt.id,
		Policy:             cfg.Policy,
		Agents:             cfg.Agents,
		Seed:               cfg.Seed,
		Meals:              make([]int, cfg.Agents),
		Wait:               make([]time.Duration, cfg.Agents),
		MaxWait:            make([]time.Duration, cfg.Agents),
		HungryCounts:       make([]int, cfg.Agents),
		Retreats:           make([]int, cfg.Agents),
		DeadlockDetected:   verdict.Deadlock,
		LivelockSuspicions: verdict.LivelockSuspicions,
		Elapsed:            elapsed,
		ForcedTermination:  forced,
		Warnings:           warnings,
	}
	if verdict.Deadlock {
		res.DeadlockAfter = verdict.DeadlockAfter
	}
	for i, p := range rt.philosophers {
		s := p.Stats()
		res.Meals[i] = s.Meals
		res.Wait[i] = s.Wait
		res.MaxWait[i] = s.MaxWait
		res.HungryCounts[i] = s.HungryCount
		res.Retreats[i] = s.Retreats
		if s.Aborted {
			res.Blocked = append(res.Blocked, i)
		}
	}
	rt.log.Info("simulation finished",
		"meals", res.TotalMeals(),
		"deadlock", res.DeadlockDetected,
		"elapsed", elapsed)
	return res, nil
}

// running returns the philosophers that have not yet finished.
func (rt *Runtime) running() []int {
	var ret []int
	for i := range rt.reg.Len() {
		if rt.reg.State(i) != monitor.Done {
			ret = append(ret, i)
		}
	}
	return ret
}

// tryRun converts a panicking philosopher into an error.
func tryRun(ctx context.Context, p *philosopher.Philosopher, stop <-chan struct{}) (err error) {
	defer func() {
		switch t := recover().(type) {
		case nil:
		case error:
			err = fmt.Errorf("philosopher %d panicked: %w", p.ID(), t)
		default:
			err = fmt.Errorf("philosopher %d panicked: %v", p.ID(), t)
		}
	}()
	return p.Run(ctx, stop)
}
