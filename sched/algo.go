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

package sched

import (
	"go.uber.org/zap"

	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/metrics"
)

// RaiseEvent appends link to the ISR event queue (if not already present)
// and eagerly drains the event queue. Semaphore.Increment and
// Signal.Raise are the only callers (spec.md §4.3: "increment and raise
// never touch run queues"; they only ever reach the run queue through
// this path, which is exactly the drainEventsLocked code the scheduler
// itself uses on every pass). The drain happens inside RaiseEvent rather
// than waiting for the next scheduler entry point.
func (sc *Scheduler) RaiseEvent(link *EventLink) {
	sc.mu.Lock()
	if !link.onQueue {
		sc.eventQ.PushBack(&link.Link)
		link.onQueue = true
	}
	sc.mu.Unlock()

	sc.mu.Lock()
	sc.drainEventsLocked()
	sc.mu.Unlock()
}

func (sc *Scheduler) drainEventsLocked() {
	sc.eventQ.Each(func(l *klist.Link) {
		el, _ := l.Value.(*EventLink)
		if el == nil {
			return
		}
		l.Remove()
		el.onQueue = false
		el.Promote(sc)
	})
}

// WakeOne promotes a single blocked thread directly to Runnable, taking
// the scheduler's critical section itself. For a caller that already
// holds it (via Lock, or running inside a Promote callback during an
// event-queue drain), use WakeOneLocked instead — calling WakeOne there
// would deadlock on the non-reentrant lock.
func (sc *Scheduler) WakeOne(d *kthread.Descriptor) {
	sc.mu.Lock()
	sc.wakeOneLocked(d)
	sc.mu.Unlock()
}

// WakeOneLocked is WakeOne for a caller that already holds the scheduler's
// critical section. Pushes d onto the run queue for its effective
// priority, clearing its blocked-on pointer and removing it from the
// timer wheel if it was a timed wait (spec.md §4.1 step 1). Used both by
// the event-queue drain (semaphore/signal wake) and by mutex unlock's
// direct single-waiter handoff (spec.md §4.2: "only the single
// highest-priority waiter is promoted").
func (sc *Scheduler) WakeOneLocked(d *kthread.Descriptor) {
	sc.wakeOneLocked(d)
}

func (sc *Scheduler) wakeOneLocked(d *kthread.Descriptor) {
	if d == nil {
		return
	}
	metrics.ThreadState(d.State.String()).Dec()
	d.State = kthread.Runnable
	d.BlockedOn = nil
	if d.TimeoutEntry != nil && sc.wheel != nil {
		sc.wheel.Cancel(d.TimeoutEntry)
		d.TimeoutEntry = nil
	}
	d.RunLink.Remove()
	sc.runQ[d.EffectivePriority].PushBack(&d.RunLink)
	d.RunLink.Value = d
	metrics.ThreadState(kthread.Runnable.String()).Inc()
}

// highestRunnable returns the head of the highest-priority non-empty run
// queue, scanning 0 (highest priority) upward (spec.md §4.1 step 3).
func (sc *Scheduler) highestRunnable() *kthread.Descriptor {
	for p := 0; p < sc.maxPriorities; p++ {
		if front := sc.runQ[p].Front(); front != nil {
			d, _ := front.Value.(*kthread.Descriptor)
			if d != nil {
				return d
			}
		}
	}
	return nil
}

// highestPendingMutexWaiter returns the single highest-priority thread
// blocked on any registered mutex, and that mutex, or (nil, nil).
func (sc *Scheduler) highestPendingMutexWaiter() (*kthread.Descriptor, MutexView) {
	var best *kthread.Descriptor
	var bestMtx MutexView
	for _, m := range sc.mutexes {
		w := m.PendHead()
		if w == nil {
			continue
		}
		if best == nil || w.EffectivePriority < best.EffectivePriority {
			best = w
			bestMtx = m
		}
	}
	return best, bestMtx
}

const maxInheritanceChain = 64

// pickNextLocked implements spec.md §4.1 steps 3-4: scan run queues for
// the naive candidate, then walk the owner chain of whichever thread in
// the system — runnable or blocked — has the globally highest priority,
// substituting execution to the first runnable owner found. No
// descriptor's nominal priority is ever mutated (Design Notes: "the
// substitution is the entirety of inheritance").
func (sc *Scheduler) pickNextLocked() *kthread.Descriptor {
	cand := sc.highestRunnable()
	if cand == nil {
		cand = sc.idle
	}

	top := cand
	waiter, _ := sc.highestPendingMutexWaiter()
	if waiter != nil && waiter.EffectivePriority < top.EffectivePriority {
		top = waiter
	}

	depth := 0
	visited := map[*kthread.Descriptor]bool{}
	for top != nil && top.State == kthread.WaitForMutex && !visited[top] {
		visited[top] = true
		mv, _ := top.BlockedOn.(MutexView)
		if mv == nil {
			sc.abortHook("thread in WaitForMutex without a MutexView back-pointer", zap.String("thread", top.Name))
			break
		}
		owner := mv.OwnerDescriptor()
		if owner == nil || visited[owner] {
			break
		}
		top = owner
		depth++
		if depth > maxInheritanceChain {
			sc.abortHook("priority-inheritance chain exceeded sanity bound (corrupt owner cycle?)", zap.String("mutex", mv.Name()))
			break
		}
	}

	metrics.ObserveInheritanceDepth(depth)
	if top != nil && top.State == kthread.Runnable {
		return top
	}
	return cand
}

// tickNeededLocked implements spec.md §4.1 step 5's tick-reduction decision.
func (sc *Scheduler) tickNeededLocked() bool {
	for p := 0; p < sc.maxPriorities; p++ {
		front := sc.runQ[p].Front()
		if front == nil {
			continue
		}
		back := sc.runQ[p].Back()
		if front != back {
			return true // two or more runnable at the highest occupied priority
		}
		break // only the highest occupied priority matters for this clause
	}
	if sc.wheel != nil && !sc.wheel.Empty() {
		return true // some thread is blocked with a timeout, or a timer is armed
	}
	for _, m := range sc.mutexes {
		waiter := m.PendHead()
		owner := m.OwnerDescriptor()
		if waiter != nil && owner != nil && waiter.EffectivePriority == owner.EffectivePriority {
			return true // equal-priority contention needs the tick to force round-robin
		}
	}
	return false
}

func (sc *Scheduler) updateTickDecisionLocked() {
	sc.tickEnabled = sc.tickNeededLocked()
	metrics.SetTickEnabled(sc.tickEnabled)
}

// reschedule is the single engine behind Yield and Block: drain events,
// optionally requeue self, pick next, context-switch. Callers that have
// not already taken the scheduler's critical section use this; callers
// that have (see Lock/BlockLocked) use rescheduleLocked directly.
func (sc *Scheduler) reschedule(self *kthread.Descriptor, requeueSelf bool) {
	sc.mu.Lock()
	sc.rescheduleLocked(self, requeueSelf)
}

// rescheduleLocked assumes sc.mu is already held; it always releases it
// before returning.
func (sc *Scheduler) rescheduleLocked(self *kthread.Descriptor, requeueSelf bool) {
	sc.drainEventsLocked()
	if requeueSelf {
		sc.runQ[self.EffectivePriority].MoveToBack(&self.RunLink)
	}
	next := sc.pickNextLocked()
	sc.updateTickDecisionLocked()
	metrics.SchedulerPass()
	changed := next != self
	if changed {
		sc.current = next
	}
	sc.mu.Unlock()

	if !changed {
		return
	}
	next.Resume()
	self.Park()
}

// Yield is the voluntary-yield / explicit-checkpoint entry point (spec.md
// §4.1 entry point (a)). self must currently hold the CPU token and be
// Runnable.
func (sc *Scheduler) Yield(self *kthread.Descriptor) {
	sc.reschedule(self, true)
}

func (sc *Scheduler) blockStateLocked(self *kthread.Descriptor, state kthread.State, blockedOn any) {
	metrics.ThreadState(self.State.String()).Dec()
	self.State = state
	self.BlockedOn = blockedOn
	metrics.ThreadState(state.String()).Inc()
}

// Block transitions self into state (one of the Wait* states), having
// already been linked onto the resource's pend queue by the caller
// (kmutex/ksync/kqueue), and relinquishes the CPU. It returns once the
// scheduler grants self the token again.
func (sc *Scheduler) Block(self *kthread.Descriptor, state kthread.State, blockedOn any) {
	sc.mu.Lock()
	sc.blockStateLocked(self, state, blockedOn)
	sc.rescheduleLocked(self, false)
}

// Lock acquires the scheduler's critical section. Kernel primitives
// (ksync's semaphore and signal) that can be mutated concurrently from a
// context standing in for an interrupt handler use this to make a
// "recheck condition, enqueue, block" sequence atomic with a concurrent
// Increment/Raise, closing the lost-wakeup window a plain check-then-block
// would have (spec.md §5: blocking primitives never lose a wakeup that
// raced with the wait). It is the hosted stand-in for "interrupts
// disabled" (see package klist's doc comment).
func (sc *Scheduler) Lock() { sc.mu.Lock() }

// Unlock releases the critical section taken by Lock.
func (sc *Scheduler) Unlock() { sc.mu.Unlock() }

// BlockLocked is Block for a caller that already holds the critical
// section via Lock. It releases the lock internally before the
// resume/park handoff, same as Block.
func (sc *Scheduler) BlockLocked(self *kthread.Descriptor, state kthread.State, blockedOn any) {
	sc.blockStateLocked(self, state, blockedOn)
	sc.rescheduleLocked(self, false)
}

// exitLocked runs once a thread's Entry function returns (spec.md §4.1
// entry point (d), thread termination). It invokes the thread's
// TermHandler, if any, at the thread's current effective priority, then
// performs a final scheduler pass that never requeues self — this
// goroutine is never granted the token again.
func (sc *Scheduler) exitLocked(self *kthread.Descriptor) {
	var exitVal int
	if self.Term != nil {
		exitVal = self.Term(self, self.TermArg)
	}

	sc.mu.Lock()
	metrics.ThreadState(self.State.String()).Dec()
	self.State = kthread.Stopped
	self.ExitVal = exitVal
	self.RunLink.Remove()
	metrics.ThreadState(kthread.Stopped.String()).Inc()
	sc.drainEventsLocked()
	next := sc.pickNextLocked()
	sc.updateTickDecisionLocked()
	metrics.SchedulerPass()
	sc.current = next
	sc.mu.Unlock()

	next.Resume()
}

// Tick is the periodic-tick entry point (spec.md §4.1 entry point (b)). It
// runs on the scheduler's own ticker goroutine, never on sc.current's call
// stack, so it cannot pair a Resume with a Park the way every other
// reschedule path does: there is no self to park. It therefore only
// advances clock/wheel state and wakes timed-out threads onto their run
// queues via WakeOneLocked (exactly as ksync's Increment/Raise promote a
// blocked thread without ever calling Resume themselves) — it never
// touches Scheduler.current and never resumes anyone. A newly-runnable
// higher-priority thread sits on its run queue until sc.current itself
// calls Yield or Block, at which point rescheduleLocked's own
// pickNextLocked call discovers it and performs the actual handoff. This
// is what keeps the single-cooperative-token invariant intact: the
// currently running goroutine is the only one ever resumed into, and it
// is always the one that parks itself.
func (sc *Scheduler) Tick() {
	if sc.clock == nil {
		return
	}
	now := sc.clock.Advance()
	if sc.wheel != nil {
		sc.wheel.ExpireUpTo(now)
	}

	sc.mu.Lock()
	sc.drainEventsLocked()
	sc.updateTickDecisionLocked()
	sc.mu.Unlock()
}
