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
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors wrapped by [ConfigurationError].
var (
	// ErrAgentCount is returned when fewer than two agents are requested.
	ErrAgentCount = errors.New("at least two agents are required")
	// ErrBound is returned unless exactly one of Duration and
	// MaxIterations is positive.
	ErrBound = errors.New("exactly one of duration and max iterations must be set")
	// ErrDelayRange is returned for an empty, negative, or all-zero
	// think or eat range.
	ErrDelayRange = errors.New("delay range must be positive with min <= max")
	// ErrPickupDelay is returned when the pause between forks could be
	// mistaken for a stall.
	ErrPickupDelay = errors.New("pickup delay must be shorter than the stall threshold")
	// ErrPolicy is returned for an unknown policy name.
	ErrPolicy = errors.New("unknown policy")
	// ErrStallThreshold is returned for a non-positive stall threshold.
	ErrStallThreshold = errors.New("stall threshold must be positive")
	// ErrTuning is returned for negative grace periods, progress floors,
	// retreat timeouts, or backoff settings.
	ErrTuning = errors.New("tuning values must not be negative")
)

// A ConfigurationError is returned by [Config.Validate], and by
// [New] and [Run] before any philosopher starts.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

// Unwrap returns the sentinel error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// A ForcedTerminationWarning is recorded in [Result.Warnings] when
// philosophers had to be terminated because they did not stop within
// the grace period. It is not returned as an error.
type ForcedTerminationWarning struct {
	Agents []int // The philosophers that were still running.
	Grace  time.Duration
}

func (w *ForcedTerminationWarning) Error() string {
	ids := make([]string, len(w.Agents))
	for i, id := range w.Agents {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%d philosophers did not stop within %s and were terminated: [%s]",
		len(w.Agents), w.Grace, strings.Join(ids, " "))
}

// ErrAlreadyRun is returned if [Runtime.Run] is called more than once.
var ErrAlreadyRun = errors.New("simulation has already been run")
