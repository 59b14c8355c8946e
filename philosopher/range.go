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

package philosopher

import (
	"fmt"
	"math/rand"
	"time"
)

// A Range is a closed interval of durations.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns a Range that always picks d.
func Fixed(d time.Duration) Range { return Range{d, d} }

// Pick draws a uniformly-distributed duration from the range. No random
// value is consumed if the range is a single point.
func (r Range) Pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

// Valid returns true if the range is non-empty and not negative.
func (r Range) Valid() bool { return r.Min >= 0 && r.Max >= r.Min }

func (r Range) String() string {
	if r.Min == r.Max {
		return r.Min.String()
	}
	return fmt.Sprintf("%s-%s", r.Min, r.Max)
}
