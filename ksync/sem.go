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

// Package ksync is the counting semaphore and 32-bit signal (spec
// component C6). Both wake waiters exclusively through the scheduler's
// ISR-safe event queue (sched.RaiseEvent): Increment and Raise are
// legal from any context, including one standing in for an interrupt
// handler, and never touch a run queue directly (spec.md §4.3). Every
// mutation of a Semaphore's or Signal's state happens under the
// scheduler's critical section (sched.Lock/Unlock) so a concurrent
// Increment/Raise can never race a Wait's check-then-block sequence into
// a lost wakeup.
package ksync

import (
	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/metrics"
	"github.com/mneedes/microkern/sched"
)

// Semaphore is a counting semaphore: Increment adds credit (unbounded,
// matching spec.md §3's "unbounded counting semaphore"), Wait consumes
// one credit or blocks.
type Semaphore struct {
	name  string
	sc    *sched.Scheduler
	count int64

	pendQueue klist.Link
	event     *sched.EventLink
}

// NewSemaphore constructs a semaphore with the given initial credit count.
func NewSemaphore(sc *sched.Scheduler, name string, initial int64) *Semaphore {
	s := &Semaphore{name: name, sc: sc, count: initial}
	s.pendQueue.Init()
	s.event = sched.NewEventLink(func(_ *sched.Scheduler) { s.promoteLocked() })
	return s
}

// promoteLocked runs under the scheduler lock during an event-queue drain.
// It wakes every waiter that can now be satisfied by the available
// credit, in priority order, each consuming one unit (spec.md §4.3:
// "Increment may satisfy more than one waiter if the increment amount and
// pending count allow it").
func (s *Semaphore) promoteLocked() {
	for s.count > 0 {
		w := kthread.Front(&s.pendQueue)
		if w == nil {
			return
		}
		kthread.Remove(w)
		s.count--
		s.sc.WakeOneLocked(w)
	}
}

// Increment adds n units of credit and wakes as many waiters as the new
// balance allows. Safe to call from any context, including an ISR
// stand-in, per spec.md §4.3.
func (s *Semaphore) Increment(n int64) {
	if n <= 0 {
		return
	}
	s.sc.Lock()
	s.count += n
	s.sc.Unlock()
	s.sc.RaiseEvent(s.event)
}

// Wait consumes one unit of credit, blocking the calling thread if none is
// available.
func (s *Semaphore) Wait(self *kthread.Descriptor) {
	s.sc.Lock()
	if s.count > 0 {
		s.count--
		s.sc.Unlock()
		return
	}
	self.RunLink.Remove()
	kthread.InsertPriorityOrdered(&s.pendQueue, self)
	s.sc.BlockLocked(self, kthread.WaitForSem, s)
}

// Try consumes one unit of credit without blocking, reporting success.
func (s *Semaphore) Try() bool {
	s.sc.Lock()
	defer s.sc.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// WaitOrTimeout is like Wait but gives up after ticks system ticks,
// reporting false on timeout (spec.md §4.3, §5's bounded-wait family). A
// ticks value of zero checks once and returns false at once if no credit
// is available. If the scheduler has no timer wheel, the wait is
// unbounded.
func (s *Semaphore) WaitOrTimeout(self *kthread.Descriptor, ticks uint64) bool {
	s.sc.Lock()
	if s.count > 0 {
		s.count--
		s.sc.Unlock()
		return true
	}
	if ticks == 0 {
		s.sc.Unlock()
		return false
	}

	self.RunLink.Remove()
	kthread.InsertPriorityOrdered(&s.pendQueue, self)

	wheel := s.sc.Wheel()
	if wheel == nil {
		s.sc.BlockLocked(self, kthread.WaitForSem, s)
		return !self.TimedOut
	}

	timeoutEntry := wheel.NewEntry(ktimer.TagBlockedThread, nil, self)
	timeoutEntry.Callback = func(e *ktimer.Entry) {
		s.sc.Lock()
		self.TimedOut = true
		kthread.Remove(self)
		s.sc.WakeOneLocked(self)
		s.sc.Unlock()
	}
	self.TimeoutEntry = timeoutEntry
	wheel.Set(s.sc.Now(), ticks, timeoutEntry)

	s.sc.BlockLocked(self, kthread.WaitForSemOrTick, s)

	timedOut := self.TimedOut
	self.TimedOut = false
	return !timedOut
}

// Count returns the current credit balance. Diagnostic only: a thread
// observing Count and then calling Wait is not atomic with respect to
// concurrent Increment/Wait.
func (s *Semaphore) Count() int64 {
	s.sc.Lock()
	defer s.sc.Unlock()
	return s.count
}

// QueueDepth reports the number of threads currently pended on s, and
// publishes it to the queue-depth gauge (spec.md §6 QUEUE_DEPTH_MONITOR).
func (s *Semaphore) QueueDepth() int {
	s.sc.Lock()
	defer s.sc.Unlock()
	n := 0
	for l := s.pendQueue.Front(); l != nil; l = l.Next(&s.pendQueue) {
		n++
	}
	metrics.SetQueueDepth(s.name, n)
	return n
}
