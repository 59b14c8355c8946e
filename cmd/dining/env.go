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
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/dining-philosophers/philosopher"
	"github.com/cockroachdb/dining-philosophers/policy"
)

// envConfig holds flag defaults read from the environment.
type envConfig struct {
	Agents   int
	Duration time.Duration
	LogLevel slog.Level
	Policy   policy.Kind
	Seed     int64
	Stall    time.Duration
}

// loadEnv reads the DINING_* variables through lookup, which is
// normally [os.Getenv]. Unset variables take built-in defaults.
func loadEnv(lookup func(string) string) (envConfig, error) {
	env := envConfig{
		Agents:   5,
		Duration: 10 * time.Second,
		LogLevel: slog.LevelWarn,
		Policy:   policy.Hierarchy,
		Stall:    time.Second,
	}
	var err error
	if v := lookup("DINING_AGENTS"); v != "" {
		if env.Agents, err = strconv.Atoi(v); err != nil {
			return env, fmt.Errorf("DINING_AGENTS: %w", err)
		}
	}
	if v := lookup("DINING_DURATION"); v != "" {
		if env.Duration, err = parseDuration(v); err != nil {
			return env, fmt.Errorf("DINING_DURATION: %w", err)
		}
	}
	if v := lookup("DINING_LOG_LEVEL"); v != "" {
		if err = env.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return env, fmt.Errorf("DINING_LOG_LEVEL: %w", err)
		}
	}
	if v := lookup("DINING_POLICY"); v != "" {
		if env.Policy, err = policy.ParseKind(v); err != nil {
			return env, fmt.Errorf("DINING_POLICY: %w", err)
		}
	}
	if v := lookup("DINING_SEED"); v != "" {
		if env.Seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return env, fmt.Errorf("DINING_SEED: %w", err)
		}
	}
	if v := lookup("DINING_STALL"); v != "" {
		if env.Stall, err = parseDuration(v); err != nil {
			return env, fmt.Errorf("DINING_STALL: %w", err)
		}
	}
	return env, nil
}

// parseDuration accepts a Go duration or a bare number of milliseconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// parseRange accepts "min-max" or a single fixed value, each part
// being anything parseDuration accepts.
func parseRange(s string) (philosopher.Range, error) {
	lo, hi, found := strings.Cut(s, "-")
	from, err := parseDuration(lo)
	if err != nil {
		return philosopher.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	if !found {
		return philosopher.Fixed(from), nil
	}
	to, err := parseDuration(hi)
	if err != nil {
		return philosopher.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	return philosopher.Range{Min: from, Max: to}, nil
}

// rangeValue adapts a Range to a command-line flag.
type rangeValue struct{ r *philosopher.Range }

func (v rangeValue) String() string {
	if v.r == nil {
		return ""
	}
	return v.r.String()
}

func (v rangeValue) Set(s string) error {
	r, err := parseRange(s)
	if err != nil {
		return err
	}
	*v.r = r
	return nil
}

func (rangeValue) Type() string { return "range" }
