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

import "time"

// Events provides a [Table] with optional callbacks to observe fork
// ownership changes.
//
// The callbacks are invoked while the fork's internal lock is held, so
// that the sequence of events for any one fork is totally ordered. They
// must be cheap, must not block, and must not call back into the Fork.
type Events struct {
	OnAcquire func(fork, agent int, waited time.Duration)
	OnRelease func(fork, agent int)
}

func (e *Events) doAcquire(fork, agent int, waited time.Duration) {
	if e != nil && e.OnAcquire != nil {
		e.OnAcquire(fork, agent, waited)
	}
}

func (e *Events) doRelease(fork, agent int) {
	if e != nil && e.OnRelease != nil {
		e.OnRelease(fork, agent)
	}
}

// Chain returns Events that invoke each of the non-nil Events in turn.
func Chain(events ...*Events) *Events {
	var live []*Events
	for _, e := range events {
		if e != nil {
			live = append(live, e)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return &Events{
		OnAcquire: func(fork, agent int, waited time.Duration) {
			for _, e := range live {
				e.doAcquire(fork, agent, waited)
			}
		},
		OnRelease: func(fork, agent int) {
			for _, e := range live {
				e.doRelease(fork, agent)
			}
		},
	}
}
