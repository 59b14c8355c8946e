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

package fork

import (
	"errors"
	"fmt"
)

// ErrInvariant is matched by every [*InvariantViolation] via
// [errors.Is].
var ErrInvariant = errors.New("fork invariant violated")

// Op names the fork operation that detected a violation.
type Op string

// Fork operations.
const (
	OpAcquire Op = "acquire"
	OpRelease Op = "release"
)

// InvariantViolation reports a fork operation that would break the
// single-holder rule. It always indicates a bug in an acquisition
// policy.
type InvariantViolation struct {
	Op     Op
	Fork   int
	Agent  int
	Holder int // The holder at the time of the call, or None.
}

func (e *InvariantViolation) Error() string {
	switch e.Op {
	case OpAcquire:
		return fmt.Sprintf("agent %d acquired fork %d twice", e.Agent, e.Fork)
	case OpRelease:
		if e.Holder == None {
			return fmt.Sprintf("agent %d released unheld fork %d", e.Agent, e.Fork)
		}
		return fmt.Sprintf("agent %d released fork %d held by agent %d", e.Agent, e.Fork, e.Holder)
	default:
		return fmt.Sprintf("%s on fork %d by agent %d", e.Op, e.Fork, e.Agent)
	}
}

// Is supports matching against [ErrInvariant].
func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }
