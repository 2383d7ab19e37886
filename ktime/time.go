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

// Package ktime is the tick/time service (spec component C2): a monotonic
// tick counter, a microsecond busy-wait, and a free-running cycle counter.
//
// In the real target this is the programmable periodic interrupt described
// in spec.md §6 ("Tick source"); here it is driven by a time.Ticker that a
// Scheduler starts in StartKernel and stops in StopKernel. While tick
// reduction has the tick disabled, ticker periods pass without advancing
// the clock.
package ktime

import (
	"time"

	"go.uber.org/atomic"
)

// Tick is an absolute tick count. Zero is boot.
type Tick uint64

// Clock is the tick/cycle source used throughout the kernel. The zero
// value is not usable; construct with NewClock.
type Clock struct {
	microsPerTick uint32
	ticks         atomic.Uint64
	cycles        atomic.Uint64
	start         time.Time
}

// NewClock returns a Clock ticking at microsPerTick microseconds per tick.
func NewClock(microsPerTick uint32) *Clock {
	return &Clock{
		microsPerTick: microsPerTick,
		start:         time.Now(),
	}
}

// MicrosPerTick returns the configured tick period.
func (c *Clock) MicrosPerTick() uint32 { return c.microsPerTick }

// Now returns the current tick count.
func (c *Clock) Now() Tick { return Tick(c.ticks.Load()) }

// Advance is called by the tick interrupt handler once per period. It
// returns the new tick value.
func (c *Clock) Advance() Tick {
	return Tick(c.ticks.Inc())
}

// CycleCount returns a free-running 64-bit monotonically increasing value,
// per spec.md §6 ("A free-running cycle counter is read as a 64-bit
// monotonically increasing value"). It is derived from wall-clock elapsed
// time rather than a real hardware cycle counter, since none exists here.
func (c *Clock) CycleCount() uint64 {
	return uint64(time.Since(c.start))
}

// BusyWaitMicros busy-waits for approximately micros microseconds. On the
// real target this spins on the cycle counter with interrupts enabled;
// here it is a tight loop around time.Now so it never yields the
// goroutine scheduler to the Go runtime's netpoller/timers, matching the
// "busy" semantics the name promises.
func (c *Clock) BusyWaitMicros(micros uint32) {
	deadline := time.Now().Add(time.Duration(micros) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}

// TicksForMicros converts a microsecond duration into a tick count,
// rounding up so a caller asking for "at least N microseconds" never gets
// fewer ticks than that implies.
func (c *Clock) TicksForMicros(micros uint64) uint64 {
	if c.microsPerTick == 0 {
		return 0
	}
	n := micros / uint64(c.microsPerTick)
	if micros%uint64(c.microsPerTick) != 0 {
		n++
	}
	return n
}
