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

// Package kmutex is the recursive, priority-inheriting mutex (spec
// component C5). Inheritance is not implemented here at all: a mutex only
// ever records its owner and pend queue; Scheduler.pickNextLocked is what
// walks the owner chain and substitutes execution (Design Notes: "the
// substitution is the entirety of inheritance — no nominal or effective
// priority field on a Descriptor is ever mutated by a mutex"). All owner,
// depth, and pend-queue state is guarded by the scheduler's critical
// section (sched.Lock/Unlock), since a LockOrTimeout waiter's deadline can
// fire from the tick goroutine concurrently with any thread's own Lock
// call.
package kmutex

import (
	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/metrics"
	"github.com/mneedes/microkern/sched"
)

// Mutex is a recursive lock whose blocked waiters participate in the
// scheduler's priority-inheritance substitution (spec.md §4.2).
type Mutex struct {
	name string
	sc   *sched.Scheduler

	owner     *kthread.Descriptor
	depth     uint32
	pendQueue klist.Link
}

// New constructs and registers a mutex with sc, so its pend queue is
// consulted by priority-inheritance substitution even while no thread
// holds it (spec.md §4.2: "A mutex with no waiters never affects
// scheduling").
func New(sc *sched.Scheduler, name string) *Mutex {
	m := &Mutex{name: name, sc: sc}
	m.pendQueue.Init()
	sc.RegisterMutex(m)
	return m
}

// Close unregisters m from its scheduler. Only meaningful for mutexes
// created and discarded within a single test; kernel objects normally
// live for the lifetime of the process.
func (m *Mutex) Close() { m.sc.UnregisterMutex(m) }

// Name identifies m for metrics and logging, and implements sched.MutexView.
func (m *Mutex) Name() string { return m.name }

// PendHead implements sched.MutexView. Called by the scheduler during
// priority-inheritance substitution, which already holds the critical
// section, so this must not itself acquire it.
func (m *Mutex) PendHead() *kthread.Descriptor {
	return kthread.Front(&m.pendQueue)
}

// OwnerDescriptor implements sched.MutexView. Same locking note as PendHead.
func (m *Mutex) OwnerDescriptor() *kthread.Descriptor {
	return m.owner
}

// IsOwner reports whether self currently holds m (possibly recursively).
func (m *Mutex) IsOwner(self *kthread.Descriptor) bool {
	m.sc.Lock()
	defer m.sc.Unlock()
	return m.owner == self
}

// Lock acquires m, blocking self if another thread holds it. Recursive:
// calling Lock again from the owning thread just increments depth
// (spec.md §3: "A mutex tracks a recursion depth; Unlock must be called
// once per successful Lock").
func (m *Mutex) Lock(self *kthread.Descriptor) {
	for {
		m.sc.Lock()
		if m.owner == nil {
			m.owner = self
			m.depth = 1
			self.MutexHeldCount++
			m.sc.Unlock()
			return
		}
		if m.owner == self {
			m.depth++
			m.sc.Unlock()
			return
		}

		self.RunLink.Remove() // detach from the run queue before relinking onto the pend queue
		kthread.InsertPriorityOrdered(&m.pendQueue, self)
		metrics.MutexContended(m.name)
		m.sc.BlockLocked(self, kthread.WaitForMutex, m)
		// Woken by Unlock's direct handoff, which already removed self from
		// m.pendQueue and set m.owner to self with depth 1 before resuming
		// it (see Unlock), so there is nothing left to acquire.
		if m.IsOwner(self) {
			return
		}
	}
}

// TryLock attempts to acquire m without blocking, reporting success.
// Recursive like Lock.
func (m *Mutex) TryLock(self *kthread.Descriptor) bool {
	m.sc.Lock()
	defer m.sc.Unlock()
	if m.owner == nil {
		m.owner = self
		m.depth = 1
		self.MutexHeldCount++
		return true
	}
	if m.owner == self {
		m.depth++
		return true
	}
	return false
}

// LockOrTimeout acquires m like Lock, but gives up and returns false if
// ticks system ticks elapse first (SPEC_FULL.md supplemented feature: the
// spec's mutex has no bounded-wait variant, but every other blocking
// primitive does, and a kernel that can time out a semaphore wait but not
// a mutex wait is an inconsistent one to build on top of). A ticks value
// of zero checks once and returns false at once if m is held by another
// thread. If the scheduler has no timer wheel, the wait is unbounded.
func (m *Mutex) LockOrTimeout(self *kthread.Descriptor, ticks uint64) bool {
	m.sc.Lock()
	if m.owner == nil {
		m.owner = self
		m.depth = 1
		self.MutexHeldCount++
		m.sc.Unlock()
		return true
	}
	if m.owner == self {
		m.depth++
		m.sc.Unlock()
		return true
	}
	if ticks == 0 {
		m.sc.Unlock()
		return false
	}

	self.RunLink.Remove() // detach from the run queue before relinking onto the pend queue
	kthread.InsertPriorityOrdered(&m.pendQueue, self)
	metrics.MutexContended(m.name)

	wheel := m.sc.Wheel()
	if wheel == nil {
		m.sc.BlockLocked(self, kthread.WaitForMutex, m)
		return m.IsOwner(self)
	}

	timeoutEntry := wheel.NewEntry(ktimer.TagBlockedThread, nil, self)
	timeoutEntry.Callback = func(e *ktimer.Entry) {
		m.sc.Lock()
		self.TimedOut = true
		kthread.Remove(self)
		m.sc.WakeOneLocked(self)
		m.sc.Unlock()
	}
	self.TimeoutEntry = timeoutEntry
	wheel.Set(m.sc.Now(), ticks, timeoutEntry) // still under m.sc.Lock(), atomic with the block below

	m.sc.BlockLocked(self, kthread.WaitForMutex, m)

	if self.TimedOut {
		self.TimedOut = false
		return false
	}
	return m.IsOwner(self)
}

// Unlock releases one level of recursion. Once depth reaches zero, the
// highest-priority waiter (if any) is handed ownership directly — not
// merely made Runnable and left to race for the lock (spec.md §4.2: "only
// the single highest-priority waiter is promoted, and it is handed
// ownership directly, never re-entering the contention branch").
func (m *Mutex) Unlock(self *kthread.Descriptor) {
	m.sc.Lock()
	if m.owner != self {
		m.sc.Unlock()
		m.sc.Abort("mutex unlocked by non-owner")
		return
	}
	m.depth--
	if m.depth > 0 {
		m.sc.Unlock()
		return
	}

	next := kthread.Front(&m.pendQueue)
	if next == nil {
		m.owner = nil
		m.sc.Unlock()
		return
	}
	kthread.Remove(next)
	m.owner = next
	m.depth = 1
	next.MutexHeldCount++
	m.sc.WakeOneLocked(next)
	m.sc.Unlock()

	// spec.md §4.2 "to_yield": releasing a mutex that had waiters forces
	// the releaser to yield immediately rather than continue running at
	// (possibly) an inherited priority it no longer needs.
	m.sc.Yield(self)
}

// Restore is the counterpart a termination handler calls on a mutex still
// held by the thread being torn down, releasing every recursion level at
// once (spec.md §5 "Cancellation": "held mutexes are force-unlocked to
// their full depth by the termination handler, not left stuck").
func (m *Mutex) Restore(self *kthread.Descriptor) {
	if !m.IsOwner(self) {
		return
	}
	m.sc.Lock()
	m.depth = 1
	m.sc.Unlock()
	m.Unlock(self)
}
