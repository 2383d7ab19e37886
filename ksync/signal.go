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

package ksync

import (
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/sched"
)

// waiterMask records, per pended thread, the 32-bit mask it is waiting to
// see satisfied and whether any-bit or all-bits matching wakes it (spec.md
// §4.4: "a gang of 32 binary semaphores, any subset of which a waiter can
// block on, either any-of or all-of").
type waiterMask struct {
	d        *kthread.Descriptor
	mask     uint32
	matchAll bool
}

// Signal is a 32-bit field of independent binary semaphores. Raise ORs
// bits in; waiters specify a mask and whether they want any bit or every
// bit in the mask set before waking (spec.md §4.4). Raise, like
// Semaphore.Increment, is ISR-safe and only ever reaches the run queue
// through the scheduler's event queue.
type Signal struct {
	name  string
	sc    *sched.Scheduler
	bits  uint32
	event *sched.EventLink

	waiters []waiterMask
}

// NewSignal constructs a signal with all 32 bits initially clear.
func NewSignal(sc *sched.Scheduler, name string) *Signal {
	s := &Signal{name: name, sc: sc}
	s.event = sched.NewEventLink(func(_ *sched.Scheduler) { s.promoteLocked() })
	return s
}

func (s *Signal) satisfied(w waiterMask) bool {
	if w.matchAll {
		return s.bits&w.mask == w.mask
	}
	return s.bits&w.mask != 0
}

// promoteLocked runs under the scheduler lock during an event-queue drain,
// waking and removing every waiter whose condition the current bit
// pattern now satisfies (spec.md §4.4: "Raise re-evaluates every pended
// waiter, since a single Raise can satisfy several different masks at
// once").
func (s *Signal) promoteLocked() {
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		if s.satisfied(w) {
			s.sc.WakeOneLocked(w.d)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.waiters = remaining
}

// Raise ORs bits into the signal's bit field and re-evaluates every
// pended waiter. Safe to call from any context, including an ISR
// stand-in.
func (s *Signal) Raise(mask uint32) {
	if mask == 0 {
		return
	}
	s.sc.Lock()
	s.bits |= mask
	s.sc.Unlock()
	s.sc.RaiseEvent(s.event)
}

// Clear unconditionally clears mask's bits, with no wake side effect
// (spec.md §4.4: "Clear never wakes anyone — it only narrows what future
// waiters would see").
func (s *Signal) Clear(mask uint32) {
	s.sc.Lock()
	s.bits &^= mask
	s.sc.Unlock()
}

// Poll reports the current bit pattern without blocking or consuming it
// (spec.md §3: "signals are sticky; observing them does not clear them").
func (s *Signal) Poll() uint32 {
	s.sc.Lock()
	defer s.sc.Unlock()
	return s.bits
}

// Wait blocks self until mask is satisfied under matchAll's semantics,
// returning the bit pattern observed at wake time.
func (s *Signal) Wait(self *kthread.Descriptor, mask uint32, matchAll bool) uint32 {
	v, _ := s.waitImpl(self, mask, matchAll, 0, false)
	return v
}

// WaitOrTimeout is Wait with a bound of ticks system ticks, reporting
// false on timeout via the second return value being false.
func (s *Signal) WaitOrTimeout(self *kthread.Descriptor, mask uint32, matchAll bool, ticks uint64) (uint32, bool) {
	return s.waitImpl(self, mask, matchAll, ticks, true)
}

func (s *Signal) waitImpl(self *kthread.Descriptor, mask uint32, matchAll bool, ticks uint64, bounded bool) (uint32, bool) {
	s.sc.Lock()
	w := waiterMask{d: self, mask: mask, matchAll: matchAll}
	if s.satisfied(w) {
		v := s.bits
		s.sc.Unlock()
		return v, true
	}

	self.RunLink.Remove()
	self.BlockedOn = s
	s.waiters = append(s.waiters, w)

	if !bounded || ticks == 0 {
		if bounded {
			// ticks == 0: the spec's "zero ticks means check and return
			// immediately" convention applied to a bounded wait that was
			// already established not to be satisfied above.
			s.removeWaiter(self)
			v := s.bits
			s.sc.Unlock()
			return v, false
		}
		s.sc.BlockLocked(self, kthread.WaitForSem, s)
		v := s.bits
		return v, true
	}

	wheel := s.sc.Wheel()
	if wheel == nil {
		s.sc.BlockLocked(self, kthread.WaitForSem, s)
		v := s.bits
		return v, true
	}

	timeoutEntry := wheel.NewEntry(ktimer.TagBlockedThread, nil, self)
	timeoutEntry.Callback = func(e *ktimer.Entry) {
		s.sc.Lock()
		if s.removeWaiter(self) {
			self.TimedOut = true
			s.sc.WakeOneLocked(self)
		}
		s.sc.Unlock()
	}
	self.TimeoutEntry = timeoutEntry
	wheel.Set(s.sc.Now(), ticks, timeoutEntry)

	s.sc.BlockLocked(self, kthread.WaitForSemOrTick, s)

	timedOut := self.TimedOut
	self.TimedOut = false
	return s.bits, !timedOut
}

// removeWaiter drops self's waiterMask entry, reporting whether one was
// found (it may already have been removed by promoteLocked if Raise won
// the race with a firing timeout).
func (s *Signal) removeWaiter(self *kthread.Descriptor) bool {
	for i, w := range s.waiters {
		if w.d == self {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}
