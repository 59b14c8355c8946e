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

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	danger = lipgloss.AdaptiveColor{Light: "#D20F39", Dark: "#F38BA8"}
	muted  = lipgloss.AdaptiveColor{Light: "#8C8FA1", Dark: "#6C7086"}

	headerStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(muted)
	alertStyle  = lipgloss.NewStyle().Foreground(danger).Bold(true)
	titleStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true).MarginTop(1)
)

func headers(names ...string) []string {
	ret := make([]string, len(names))
	for i, n := range names {
		ret[i] = headerStyle.Render(n)
	}
	return ret
}

func yesNo(b bool) string {
	if b {
		return alertStyle.Render("yes")
	}
	return "no"
}

// Render writes one row per summary.
func Render(w io.Writer, sums ...Summary) error {
	rows := make([][]string, len(sums))
	for i, s := range sums {
		deadlock := yesNo(s.DeadlockDetected)
		if s.DeadlockDetected {
			deadlock += fmt.Sprintf(" @%dms", s.DeadlockAfterMs)
		}
		rows[i] = []string{
			s.Policy,
			strconv.Itoa(s.Agents),
			strconv.Itoa(s.TotalMeals),
			fmt.Sprintf("%d-%d", s.MinMeals, s.MaxMeals),
			strconv.FormatFloat(s.Fairness, 'f', 3, 64),
			strconv.FormatFloat(s.MeanWaitMs, 'f', 2, 64),
			deadlock,
			strconv.Itoa(s.LivelockSuspicions),
			yesNo(s.ForcedTermination),
			strconv.FormatInt(s.ElapsedMs, 10),
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers("policy", "agents", "meals", "min-max", "fairness",
			"mean wait ms", "deadlock", "livelock", "forced", "elapsed ms")...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// RenderDetail writes the per-philosopher breakdown of a single run,
// followed by any warnings.
func RenderDetail(w io.Writer, s Summary) error {
	title := fmt.Sprintf("run %s: %s, %d agents, seed %d", s.RunID, s.Policy, s.Agents, s.Seed)
	if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
		return err
	}

	blocked := make(map[int]bool, len(s.Blocked))
	for _, id := range s.Blocked {
		blocked[id] = true
	}
	rows := make([][]string, len(s.Meals))
	for i, meals := range s.Meals {
		mealCell := strconv.Itoa(meals)
		if meals == 0 {
			mealCell = alertStyle.Render(mealCell)
		}
		var notes []string
		if meals == 0 && s.TotalMeals > 0 {
			notes = append(notes, "starved")
		}
		if blocked[i] {
			notes = append(notes, "terminated")
		}
		rows[i] = []string{
			strconv.Itoa(i),
			mealCell,
			strconv.Itoa(s.HungryCounts[i]),
			strconv.FormatInt(s.WaitMs[i], 10),
			strconv.FormatInt(s.MaxWaitMs[i], 10),
			strconv.Itoa(s.Retreats[i]),
			strings.Join(notes, ", "),
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers("seat", "meals", "hungry", "wait ms", "max wait ms", "retreats", "")...).
		Rows(rows...)
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	for _, warning := range s.Warnings {
		if _, err := fmt.Fprintln(w, alertStyle.Render("warning: ")+warning); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the summaries as an indented JSON array.
func WriteJSON(w io.Writer, sums ...Summary) error {
	if sums == nil {
		sums = []Summary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sums)
}
