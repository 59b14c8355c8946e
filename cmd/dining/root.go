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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/dining-philosophers/philosopher"
	"github.com/cockroachdb/dining-philosophers/policy"
	"github.com/cockroachdb/dining-philosophers/report"
	"github.com/cockroachdb/dining-philosophers/sim"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newLogger builds the process logger. Logs go to w so that results
// written to stdout stay parseable.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// tuning holds the flags shared by run and sweep.
type tuning struct {
	eat            philosopher.Range
	fifo           bool
	grace          time.Duration
	minRate        float64
	pickup         philosopher.Range
	retreatTimeout time.Duration
	sample         time.Duration
	seed           int64
	stall          time.Duration
	think          philosopher.Range
}

func (t *tuning) bind(flags *pflag.FlagSet, env envConfig) {
	base := sim.Default()
	t.eat = base.Eat
	t.think = base.Think
	flags.Var(rangeValue{&t.eat}, "eat", "eating time, as min-max or a fixed value")
	flags.Var(rangeValue{&t.think}, "think", "thinking time, as min-max or a fixed value")
	flags.Var(rangeValue{&t.pickup}, "pickup-delay",
		"pause between picking up the first and second fork; naive defaults to half of --stall")
	flags.BoolVar(&t.fifo, "fifo", false, "hand released forks to the longest waiter")
	flags.DurationVar(&t.grace, "grace", base.Grace,
		"time allowed for philosophers to stop before they are terminated")
	flags.Float64Var(&t.minRate, "min-rate", 0,
		"meals per second below which livelock is suspected; zero disables")
	flags.DurationVar(&t.retreatTimeout, "retreat-timeout", 0,
		"asymmetric wait for a second fork before retreating; defaults to a quarter of --stall")
	flags.DurationVar(&t.sample, "sample", 0,
		"detector sampling interval; defaults to a quarter of --stall")
	flags.Int64Var(&t.seed, "seed", env.Seed, "random seed; zero picks one from the clock")
	flags.DurationVar(&t.stall, "stall", env.Stall,
		"quiet time with every philosopher hungry before a deadlock is declared")
}

func (t *tuning) config(kind policy.Kind, agents int, log *slog.Logger) sim.Config {
	return sim.Config{
		Agents:          agents,
		Eat:             t.eat,
		FIFO:            t.fifo,
		Grace:           t.grace,
		Logger:          log,
		MinProgressRate: t.minRate,
		PickupDelay:     t.pickup,
		Policy:          kind,
		RetreatTimeout:  t.retreatTimeout,
		SampleInterval:  t.sample,
		Seed:            t.seed,
		StallThreshold:  t.stall,
		Think:           t.think,
	}
}

func newRootCmd(env envConfig) *cobra.Command {
	var logLevel, logFormat string
	var log *slog.Logger
	root := &cobra.Command{
		Use:           "dining",
		Short:         "Simulate the dining philosophers under different fork-acquisition policies",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			log, err = newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
			return err
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", env.LogLevel.String(),
		"one of debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")

	logger := func() *slog.Logger { return log }
	root.AddCommand(newRunCmd(env, logger), newSweepCmd(env, logger))
	return root
}

func newRunCmd(env envConfig, logger func() *slog.Logger) *cobra.Command {
	var (
		agents     int
		asJSON     bool
		duration   time.Duration
		iterations int
		kind       string
		t          tuning
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation and report per-philosopher results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := policy.ParseKind(kind)
			if err != nil {
				return err
			}
			cfg := t.config(k, agents, logger())
			cfg.MaxIterations = iterations
			cfg.Duration = duration
			if iterations > 0 && !cmd.Flags().Changed("duration") {
				cfg.Duration = 0
			}
			res, err := sim.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			sum := report.Summarize(res)
			out := cmd.OutOrStdout()
			if asJSON {
				return report.WriteJSON(out, sum)
			}
			if err := report.Render(out, sum); err != nil {
				return err
			}
			return report.RenderDetail(out, sum)
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&agents, "agents", "n", env.Agents, "number of philosophers")
	flags.BoolVar(&asJSON, "json", false, "write the result as JSON")
	flags.DurationVarP(&duration, "duration", "d", env.Duration, "how long to run")
	flags.IntVarP(&iterations, "iterations", "i", 0,
		"total meals to serve instead of running for a duration")
	flags.StringVarP(&kind, "policy", "p", string(env.Policy),
		fmt.Sprintf("acquisition policy, one of %v", policy.Kinds()))
	t.bind(flags, env)
	return cmd
}

func newSweepCmd(env envConfig, logger func() *slog.Logger) *cobra.Command {
	var (
		agents    []int
		asJSON    bool
		durations []time.Duration
		kinds     []string
		naiveCap  time.Duration
		t         tuning
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every combination of policies, table sizes and durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var parsed []policy.Kind
			for _, k := range kinds {
				kind, err := policy.ParseKind(k)
				if err != nil {
					return err
				}
				parsed = append(parsed, kind)
			}
			var sums []report.Summary
			for _, kind := range parsed {
				for _, n := range agents {
					for _, d := range durations {
						if err := cmd.Context().Err(); err != nil {
							return err
						}
						cfg := t.config(kind, n, logger())
						cfg.Duration = d
						if kind == policy.Naive && naiveCap > 0 {
							// Naive runs usually end in deadlock.
							cfg.Duration = min(d, naiveCap)
						}
						res, err := sim.Run(cmd.Context(), cfg)
						if err != nil {
							return fmt.Errorf("%s with %d agents for %s: %w", kind, n, d, err)
						}
						sums = append(sums, report.Summarize(res))
					}
				}
			}
			if asJSON {
				return report.WriteJSON(cmd.OutOrStdout(), sums...)
			}
			return report.Render(cmd.OutOrStdout(), sums...)
		},
	}
	var allKinds []string
	for _, k := range policy.Kinds() {
		allKinds = append(allKinds, string(k))
	}
	flags := cmd.Flags()
	flags.IntSliceVarP(&agents, "agents", "n", []int{2, 3, 5, 8}, "table sizes")
	flags.BoolVar(&asJSON, "json", false, "write the results as JSON")
	flags.DurationSliceVarP(&durations, "durations", "d", []time.Duration{2 * time.Second},
		"run durations")
	flags.StringSliceVarP(&kinds, "policies", "p", allKinds, "policies to compare")
	flags.DurationVar(&naiveCap, "naive-cap", 3*time.Second,
		"upper bound on naive run durations; zero disables")
	t.bind(flags, env)
	return cmd
}
