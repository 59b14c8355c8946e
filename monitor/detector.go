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

package monitor

import (
	"context"
	"log/slog"
	"time"
)

// DetectorConfig controls a [Detector].
type DetectorConfig struct {
	// Interval between samples. Defaults to a quarter of Stall.
	Interval time.Duration
	// Logger receives verdicts. Defaults to [slog.Default].
	Logger *slog.Logger
	// MinProgressRate is the meal rate, in meals per second over a
	// window of length Stall, below which livelock is suspected. Zero
	// disables the check.
	MinProgressRate float64
	// Stall is how long every philosopher must have been hungry, with
	// no fork changing hands, before a deadlock is declared.
	Stall time.Duration
}

// A Verdict summarizes what a Detector observed.
type Verdict struct {
	Deadlock           bool          // A global deadlock was declared.
	DeadlockAfter      time.Duration // Registry time of the declaration.
	LivelockSuspicions int           // Windows with progress below the floor.
	Samples            int
}

// A Detector is a passive monitor of a [Registry]. It is not safe for
// concurrent use; a single goroutine should call [Detector.Run] or
// [Detector.Observe].
type Detector struct {
	cfg     DetectorConfig
	reg     *Registry
	verdict Verdict

	window struct {
		set   bool
		start time.Duration
		meals uint64
	}
}

// NewDetector constructs a Detector over the registry.
func NewDetector(reg *Registry, cfg DetectorConfig) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = max(cfg.Stall/4, time.Millisecond)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Detector{cfg: cfg, reg: reg}
}

// Run samples the registry until the context is done or a deadlock is
// declared, and returns the final verdict.
func (d *Detector) Run(ctx context.Context) Verdict {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.Verdict()
		case <-ticker.C:
			if d.Observe(d.reg.Sample()) {
				return d.Verdict()
			}
		}
	}
}

// Observe folds one sample into the verdict. It returns true once a
// deadlock has been declared.
func (d *Detector) Observe(s Sample) bool {
	if d.verdict.Deadlock {
		return true
	}
	d.verdict.Samples++

	if s.AllFor(Hungry) > d.cfg.Stall && s.Quiet() > d.cfg.Stall {
		d.verdict.Deadlock = true
		d.verdict.DeadlockAfter = s.At
		d.cfg.Logger.Warn("deadlock detected",
			"quiet", s.Quiet(),
			"meals", s.Meals,
			"after", s.At)
		return true
	}

	if d.cfg.MinProgressRate <= 0 {
		return false
	}
	if !d.window.set {
		d.window.set = true
		d.window.start = s.At
		d.window.meals = s.Meals
		return false
	}
	elapsed := s.At - d.window.start
	if elapsed < d.cfg.Stall {
		return false
	}
	if s.Count(Done) < len(s.States) {
		rate := float64(s.Meals-d.window.meals) / elapsed.Seconds()
		if rate < d.cfg.MinProgressRate {
			d.verdict.LivelockSuspicions++
			d.cfg.Logger.Warn("livelock suspected",
				"rate", rate,
				"floor", d.cfg.MinProgressRate,
				"hungry", s.Count(Hungry))
		}
	}
	d.window.start = s.At
	d.window.meals = s.Meals
	return false
}

// Verdict returns a copy of the current verdict.
func (d *Detector) Verdict() Verdict {
	return d.verdict
}
