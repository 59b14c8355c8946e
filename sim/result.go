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
	"time"

	"github.com/cockroachdb/dining-philosophers/policy"
	"github.com/google/uuid"
)

// Result summarizes a finished run. Per-philosopher slices are indexed
// by seat.
type Result struct {
	RunID  uuid.UUID
	Policy policy.Kind
	Agents int
	Seed   int64 // The seed actually used.

	Meals        []int
	Wait         []time.Duration // Total time spent hungry.
	MaxWait      []time.Duration // Longest single hungry spell.
	HungryCounts []int
	Retreats     []int

	DeadlockDetected   bool
	DeadlockAfter      time.Duration // Zero unless a deadlock was detected.
	LivelockSuspicions int
	// Blocked lists the philosophers interrupted by forced termination.
	Blocked []int

	Elapsed           time.Duration
	ForcedTermination bool
	// Warnings holds non-fatal conditions, such as a
	// [*ForcedTerminationWarning].
	Warnings []error
}

// TotalMeals returns the number of meals eaten by all philosophers.
func (r *Result) TotalMeals() int {
	var total int
	for _, m := range r.Meals {
		total += m
	}
	return total
}

// ElapsedMs returns the run's wall-clock duration in milliseconds.
func (r *Result) ElapsedMs() int64 { return r.Elapsed.Milliseconds() }

// WaitMs returns each philosopher's total hungry time in milliseconds.
func (r *Result) WaitMs() []int64 {
	ret := make([]int64, len(r.Wait))
	for i, w := range r.Wait {
		ret[i] = w.Milliseconds()
	}
	return ret
}
