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

/*
Package lockset orders access to potentially-overlapping sets of
resources.

A [Queue] admits claims on key sets in arrival order. A claim becomes
ready once it is at the head of the queue for every key it names, so two
claims that share a key are always granted in the order they were
admitted. Because that relative order is the same on every shared key,
no cycle of claims waiting on one another can form.

A dining table might use it like this:

	q := NewQueue[int]()
	t := q.Admit(left, right)
	if err := t.Wait(ctx); err != nil {
		q.Leave(t)
		return err
	}
	// ... both forks are ours ...
	q.Leave(t)
*/
package lockset
