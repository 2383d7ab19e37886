// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the kernel's compile-time constants (spec.md §6)
// as flag/env-overridable fields, grounded on the teacher's own
// flag-registration style in cmd/zoekt-webserver/main.go.
package config

import (
	"flag"
	"strconv"
)

// Config bundles the kernel's tunables. Field names mirror spec.md §6's
// constant names in Go case.
type Config struct {
	MaxThreadPriorities int
	MicrosecondsPerTick uint32
	StackUsageMonitor   bool
	UnalignFaults       bool
	HangOnExceptions    bool
	PrintBufferSize     int
}

// Default returns the kernel's out-of-the-box tunables.
func Default() *Config {
	return &Config{
		MaxThreadPriorities: 32,
		MicrosecondsPerTick: 1000,
		StackUsageMonitor:   true,
		UnalignFaults:       false,
		HangOnExceptions:    false,
		PrintBufferSize:     256,
	}
}

// RegisterFlags registers fs flags (consumed by ff.Parse with the
// MICROKERN_ environment prefix in cmd/kerneld) against c, returning c
// for convenient chaining at the call site.
func (c *Config) RegisterFlags(fs *flag.FlagSet) *Config {
	fs.IntVar(&c.MaxThreadPriorities, "max-thread-priorities", c.MaxThreadPriorities, "number of scheduler priority levels")
	fs.Func("microseconds-per-tick", "system tick period in microseconds", func(s string) error {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		c.MicrosecondsPerTick = uint32(n)
		return nil
	})
	fs.BoolVar(&c.StackUsageMonitor, "stack-usage-monitor", c.StackUsageMonitor, "track per-thread stack high-water marks")
	fs.BoolVar(&c.UnalignFaults, "unalign-faults", c.UnalignFaults, "treat misaligned access as a fault (simulation-only toggle)")
	fs.BoolVar(&c.HangOnExceptions, "hang-on-exceptions", c.HangOnExceptions, "hang instead of terminating the offending thread on a fault")
	fs.IntVar(&c.PrintBufferSize, "print-buffer-size", c.PrintBufferSize, "bytes buffered per raw trace write before truncation")
	return c
}
