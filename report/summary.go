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

// Package report summarizes simulation results for people and
// programs.
package report

import (
	"math"
	"slices"

	"github.com/cockroachdb/dining-philosophers/sim"
)

// A Summary is the reportable view of a [sim.Result].
type Summary struct {
	RunID  string `json:"runId"`
	Policy string `json:"policy"`
	Agents int    `json:"agents"`
	Seed   int64  `json:"seed"`

	Meals        []int   `json:"meals"`
	TotalMeals   int     `json:"totalMeals"`
	MinMeals     int     `json:"minMeals"`
	MaxMeals     int     `json:"maxMeals"`
	Fairness     float64 `json:"fairness"`
	Starved      []int   `json:"starved"` // No meals while others ate.
	WaitMs       []int64 `json:"waitMs"`
	MaxWaitMs    []int64 `json:"maxWaitMs"`
	MeanWaitMs   float64 `json:"meanWaitMs"`
	HungryCounts []int   `json:"hungryCounts"`
	Retreats     []int   `json:"retreats"`

	DeadlockDetected   bool  `json:"deadlockDetected"`
	DeadlockAfterMs    int64 `json:"deadlockAfterMs,omitempty"`
	LivelockSuspicions int   `json:"livelockSuspicions"`
	Blocked            []int `json:"blocked"`

	ElapsedMs         int64    `json:"elapsedMs"`
	ForcedTermination bool     `json:"forcedTermination"`
	Warnings          []string `json:"warnings"`
}

// Summarize derives the aggregate figures for a result.
func Summarize(res *sim.Result) Summary {
	s := Summary{
		RunID:              res.RunID.String(),
		Policy:             string(res.Policy),
		Agents:             res.Agents,
		Seed:               res.Seed,
		Meals:              slices.Clone(res.Meals),
		TotalMeals:         res.TotalMeals(),
		Fairness:           Fairness(res.Meals),
		Starved:            []int{},
		WaitMs:             res.WaitMs(),
		MaxWaitMs:          make([]int64, len(res.MaxWait)),
		HungryCounts:       slices.Clone(res.HungryCounts),
		Retreats:           slices.Clone(res.Retreats),
		DeadlockDetected:   res.DeadlockDetected,
		DeadlockAfterMs:    res.DeadlockAfter.Milliseconds(),
		LivelockSuspicions: res.LivelockSuspicions,
		Blocked:            append([]int{}, res.Blocked...),
		ElapsedMs:          res.ElapsedMs(),
		ForcedTermination:  res.ForcedTermination,
		Warnings:           []string{},
	}
	if len(res.Meals) > 0 {
		s.MinMeals = slices.Min(res.Meals)
		s.MaxMeals = slices.Max(res.Meals)
	}
	for i, m := range res.Meals {
		if m == 0 && s.TotalMeals > 0 {
			s.Starved = append(s.Starved, i)
		}
	}
	for i, w := range res.MaxWait {
		s.MaxWaitMs[i] = w.Milliseconds()
	}

	var hungry int
	var waited float64
	for i, c := range res.HungryCounts {
		hungry += c
		waited += float64(res.Wait[i].Microseconds()) / 1000
	}
	if hungry > 0 {
		s.MeanWaitMs = math.Round(waited/float64(hungry)*1000) / 1000
	}
	for _, w := range res.Warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	return s
}

// Fairness returns Jain's fairness index of the meal counts: one when
// every philosopher ate equally, approaching 1/n when a single
// philosopher ate everything. It is zero when nobody ate.
func Fairness(meals []int) float64 {
	var sum, squares float64
	for _, m := range meals {
		sum += float64(m)
		squares += float64(m) * float64(m)
	}
	if squares == 0 {
		return 0
	}
	return sum * sum / (float64(len(meals)) * squares)
}
