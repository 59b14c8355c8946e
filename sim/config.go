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

// Package sim runs a dining-philosophers simulation.
//
// A [Runtime] seats [Config.Agents] philosophers around a table of as
// many forks, starts each one in its own goroutine under the selected
// policy, and watches the table with a deadlock detector. The run ends
// when the duration elapses, every philosopher has eaten its share of
// [Config.MaxIterations], a deadlock is declared, or the caller's
// context is canceled.
package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/dining-philosophers/fork"
	"github.com/cockroachdb/dining-philosophers/philosopher"
	"github.com/cockroachdb/dining-philosophers/policy"
)

// Backoff configures the delay between asymmetric retreats.
type Backoff struct {
	Base  time.Duration
	Max   time.Duration
	Limit int // Retreats per meal before waiting instead.
}

// Config describes a simulation. It must not be modified once passed to
// [New].
type Config struct {
	// Agents is the number of philosophers, and of forks.
	Agents int
	// Duration bounds the run by wall-clock time. Exactly one of
	// Duration and MaxIterations must be set.
	Duration time.Duration
	// MaxIterations bounds the run by meals. It is divided evenly
	// between philosophers, the first few getting one extra.
	MaxIterations int
	// Policy selects the acquisition policy.
	Policy policy.Kind

	Eat   philosopher.Range
	Think philosopher.Range
	// PickupDelay is a pause between picking up the first and second
	// fork. It makes circular waits much more likely. Under the naive
	// policy it defaults to half of StallThreshold, so that every
	// philosopher is holding one fork before any reaches for a second.
	PickupDelay philosopher.Range

	// StallThreshold is how long every philosopher must be hungry with
	// no fork changing hands before a deadlock is declared.
	StallThreshold time.Duration
	// SampleInterval is how often the detector samples. Defaults to a
	// quarter of StallThreshold.
	SampleInterval time.Duration
	// MinProgressRate, in meals per second, is the floor below which
	// livelock is suspected. Zero disables the check.
	MinProgressRate float64
	// Grace is how long to wait for philosophers to stop on their own
	// before terminating them. Defaults to one second.
	Grace time.Duration

	// FIFO hands a released fork directly to its longest waiter.
	FIFO bool
	// RetreatTimeout bounds the asymmetric policy's wait for a second
	// fork on even tables. Defaults to a quarter of StallThreshold.
	RetreatTimeout time.Duration
	// RetreatBackoff defaults to 1ms doubling up to RetreatTimeout, eight
	// times per meal.
	RetreatBackoff Backoff

	// Seed seeds every philosopher's random source. Zero picks a seed
	// from the clock; the seed used is reported in the Result.
	Seed int64

	// Events, if non-nil, observes every fork ownership change.
	Events *fork.Events
	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Default returns a configuration resembling the classic demonstration:
// five philosophers under the hierarchy policy for ten seconds.
func Default() Config {
	return Config{
		Agents:         5,
		Duration:       10 * time.Second,
		Policy:         policy.Hierarchy,
		Eat:            philosopher.Range{Min: 100 * time.Millisecond, Max: 200 * time.Millisecond},
		Think:          philosopher.Range{Min: 50 * time.Millisecond, Max: 100 * time.Millisecond},
		StallThreshold: time.Second,
		Grace:          2 * time.Second,
	}
}

// Validate checks the configuration, returning a [*ConfigurationError]
// describing the first problem found.
func (c *Config) Validate() error {
	invalid := func(field string, err error) error {
		return &ConfigurationError{Field: field, Err: err}
	}
	if c.Agents < 2 {
		return invalid("agents", ErrAgentCount)
	}
	if c.Duration < 0 || c.MaxIterations < 0 || (c.Duration > 0) == (c.MaxIterations > 0) {
		return invalid("duration/maxIterations", ErrBound)
	}
	if _, err := policy.ParseKind(string(c.Policy)); err != nil {
		return invalid("policy", fmt.Errorf("%w: %q", ErrPolicy, c.Policy))
	}
	if !c.Think.Valid() || c.Think.Max <= 0 {
		return invalid("think", ErrDelayRange)
	}
	if !c.Eat.Valid() || c.Eat.Max <= 0 {
		return invalid("eat", ErrDelayRange)
	}
	if c.StallThreshold <= 0 {
		return invalid("stallThreshold", ErrStallThreshold)
	}
	if !c.PickupDelay.Valid() {
		return invalid("pickupDelay", ErrDelayRange)
	}
	if c.PickupDelay.Max >= c.StallThreshold {
		return invalid("pickupDelay", ErrPickupDelay)
	}
	switch {
	case c.SampleInterval < 0:
		return invalid("sampleInterval", ErrTuning)
	case c.MinProgressRate < 0:
		return invalid("minProgressRate", ErrTuning)
	case c.Grace < 0:
		return invalid("grace", ErrTuning)
	case c.RetreatTimeout < 0:
		return invalid("retreatTimeout", ErrTuning)
	case c.RetreatBackoff.Base < 0, c.RetreatBackoff.Max < 0, c.RetreatBackoff.Limit < 0:
		return invalid("retreatBackoff", ErrTuning)
	case c.RetreatBackoff.Base > 0 && c.RetreatBackoff.Max > 0 && c.RetreatBackoff.Base > c.RetreatBackoff.Max:
		return invalid("retreatBackoff", ErrTuning)
	}
	return nil
}

// withDefaults returns a copy of a validated configuration with unset
// tunables filled in.
func (c Config) withDefaults() Config {
	c.Policy, _ = policy.ParseKind(string(c.Policy))
	if c.Policy == policy.Naive && c.PickupDelay == (philosopher.Range{}) {
		c.PickupDelay = philosopher.Fixed(c.StallThreshold / 2)
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = max(c.StallThreshold/4, time.Millisecond)
	}
	if c.Grace == 0 {
		c.Grace = time.Second
	}
	if c.RetreatTimeout == 0 {
		c.RetreatTimeout = max(c.StallThreshold/4, time.Millisecond)
	}
	if c.RetreatBackoff.Base == 0 {
		c.RetreatBackoff.Base = time.Millisecond
	}
	if c.RetreatBackoff.Max == 0 {
		c.RetreatBackoff.Max = max(c.RetreatTimeout, c.RetreatBackoff.Base)
	}
	if c.RetreatBackoff.Limit == 0 {
		c.RetreatBackoff.Limit = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// quota returns the number of meals philosopher id must eat, or zero
// for a duration-bounded run.
func (c *Config) quota(id int) int {
	if c.MaxIterations == 0 {
		return 0
	}
	q := c.MaxIterations / c.Agents
	if id < c.MaxIterations%c.Agents {
		q++
	}
	return q
}
