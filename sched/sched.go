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

// Package sched is the scheduler core (spec component C4): round-robin
// within priority, the ISR-safe event-queue drain, recursive priority
// inheritance by substitution, and the tick-reduction decision.
//
// It owns the run queues and the ISR event queue. Only
// Scheduler methods put a thread onto a run queue (spawn, round-robin
// requeue, WakeOneLocked). kmutex and ksync, under Lock, unlink a blocking
// thread's RunLink from its run queue, relink it onto their own pend
// queue, and set its TimedOut and TimeoutEntry fields for timed waits;
// Increment and Raise reach the run queues only through RaiseEvent.
package sched

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktime"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/metrics"
)

// MutexView is the read-only slice of a kmutex.Mutex the scheduler needs
// in order to evaluate priority inheritance without importing kmutex
// (which itself imports sched). Implemented by *kmutex.Mutex.
type MutexView interface {
	// PendHead returns the highest-priority waiter, or nil if none.
	PendHead() *kthread.Descriptor
	// OwnerDescriptor returns the current owner, or nil if unlocked.
	OwnerDescriptor() *kthread.Descriptor
	// Name identifies the mutex for metrics/logging.
	Name() string
}

// EventLink is an ISR-safe event-queue entry (the scheduler's event queue,
// a klist list of semaphore/signal links whose value changed from an
// ISR). Presence on the queue is idempotent: RaiseEvent
// called twice before a drain leaves the link on the queue exactly once
// (spec.md §3: "Link presence is idempotent").
type EventLink struct {
	klist.Link
	onQueue bool
	// Promote is invoked once per drain, under the scheduler lock. It must
	// not block and must not call back into RaiseEvent/Block on its own
	// link (re-entrant on a different link is fine).
	Promote func(sc *Scheduler)
}

// NewEventLink wraps promote as a drainable event-queue entry.
func NewEventLink(promote func(sc *Scheduler)) *EventLink {
	el := &EventLink{Promote: promote}
	el.Link.Value = el
	return el
}

// Config bundles the scheduler's fixed parameters, mirroring spec.md §6's
// compile-time constants that bear on scheduling.
type Config struct {
	MaxPriorities int
	Clock         *ktime.Clock
	Wheel         *ktimer.Wheel
	Log           *zap.Logger
	// AbortHook is invoked for a detected invariant violation (spec.md §7:
	// "Assertion... Abort hook: crash or hang"). Defaults to a Fatal log
	// on Log, which exits the process; tests install one that records the
	// reason instead.
	AbortHook func(reason string, fields ...zap.Field)
}

// Scheduler is the kernel's single run-queue/pend-queue/event-queue
// authority (Design Notes: "Global state... a well-scoped singleton is
// acceptable"; this project passes an explicit *Scheduler rather than
// using a package-level global, so multiple simulated kernels can coexist
// in one test binary).
type Scheduler struct {
	mu sync.Mutex

	maxPriorities int
	runQ          []klist.Link

	eventQ klist.Link

	mutexes []MutexView

	clock *ktime.Clock
	wheel *ktimer.Wheel

	current *kthread.Descriptor
	idle    *kthread.Descriptor

	tickEnabled bool
	tickStop    chan struct{}
	tickWG      sync.WaitGroup

	log       *zap.Logger
	abortHook func(reason string, fields ...zap.Field)
}

// New constructs a Scheduler. An idle thread at the lowest priority is
// created and spawned automatically (SPEC_FULL.md supplemented feature
// #1), so pickNextLocked always has a fallback.
func New(cfg Config) *Scheduler {
	if cfg.MaxPriorities <= 0 {
		cfg.MaxPriorities = 32
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.AbortHook == nil {
		cfg.AbortHook = defaultAbortHook(cfg.Log)
	}
	sc := &Scheduler{
		maxPriorities: cfg.MaxPriorities,
		runQ:          make([]klist.Link, cfg.MaxPriorities),
		clock:         cfg.Clock,
		wheel:         cfg.Wheel,
		log:           cfg.Log,
		abortHook:     cfg.AbortHook,
	}
	sc.eventQ.Init()
	for i := range sc.runQ {
		sc.runQ[i].Init()
	}

	idle := kthread.New("idle", cfg.MaxPriorities-1, func(d *kthread.Descriptor) {
		for {
			sc.Yield(d)
		}
	}, nil, nil, nil, 0, cfg.Log.Named("idle"))
	sc.idle = idle
	sc.spawnLocked(idle)
	return sc
}

func defaultAbortHook(log *zap.Logger) func(string, ...zap.Field) {
	return func(reason string, fields ...zap.Field) {
		log.Fatal("kernel invariant violated: "+reason, fields...)
	}
}

// Abort invokes the configured abort hook (spec.md §7: corrupt list,
// unowned unlock, double-free canary, misaligned stack).
func (sc *Scheduler) Abort(reason string, fields ...zap.Field) {
	sc.abortHook(reason, fields...)
}

// RegisterMutex adds m to the set consulted during priority-inheritance
// substitution (Scheduler.pickNextLocked step 4).
func (sc *Scheduler) RegisterMutex(m MutexView) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.mutexes = append(sc.mutexes, m)
}

// UnregisterMutex removes m from the inheritance-scan set.
func (sc *Scheduler) UnregisterMutex(m MutexView) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i, mv := range sc.mutexes {
		if mv == m {
			sc.mutexes = append(sc.mutexes[:i], sc.mutexes[i+1:]...)
			return
		}
	}
}

// Spawn creates a thread descriptor's goroutine and places it on its
// priority's run queue as Runnable, but does not grant it the CPU token.
func (sc *Scheduler) Spawn(d *kthread.Descriptor) {
	sc.mu.Lock()
	sc.spawnLocked(d)
	sc.mu.Unlock()
}

func (sc *Scheduler) spawnLocked(d *kthread.Descriptor) {
	d.State = kthread.Runnable
	d.SetExitHook(func(d *kthread.Descriptor) { sc.exitLocked(d) })
	sc.runQ[d.EffectivePriority].PushBack(&d.RunLink)
	d.RunLink.Value = d
	d.Start()
	metrics.ThreadState(d.State.String()).Inc()
}

// StartKernel hands the CPU token to the highest-priority runnable thread
// (or the idle thread) and starts the periodic tick. It returns
// immediately; the boot goroutine need not itself be a kernel thread.
func (sc *Scheduler) StartKernel() {
	sc.mu.Lock()
	next := sc.pickNextLocked()
	sc.current = next
	sc.updateTickDecisionLocked()
	sc.mu.Unlock()
	next.Resume()
	sc.startTickLoop()
}

func (sc *Scheduler) startTickLoop() {
	if sc.clock == nil || sc.tickStop != nil {
		return
	}
	sc.tickStop = make(chan struct{})
	period := time.Duration(sc.clock.MicrosPerTick()) * time.Microsecond
	if period <= 0 {
		period = time.Millisecond
	}
	sc.tickWG.Add(1)
	go func() {
		defer sc.tickWG.Done()
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-sc.tickStop:
				return
			case <-t.C:
				sc.mu.Lock()
				enabled := sc.tickEnabled
				sc.mu.Unlock()
				if enabled {
					sc.Tick()
				}
			}
		}
	}()
}

// StopKernel stops the periodic tick goroutine. Threads are left running;
// this is a test/shutdown convenience, not part of the on-target API.
func (sc *Scheduler) StopKernel() {
	if sc.tickStop == nil {
		return
	}
	close(sc.tickStop)
	sc.tickWG.Wait()
	sc.tickStop = nil
}

// Now returns the current tick.
func (sc *Scheduler) Now() ktime.Tick {
	if sc.clock == nil {
		return 0
	}
	return sc.clock.Now()
}

// Wheel exposes the timer wheel so callers (ksync.wait_or_timeout,
// sharedctx context timers) can arm entries against the same wheel the
// scheduler's tick handler drains.
func (sc *Scheduler) Wheel() *ktimer.Wheel { return sc.wheel }

// MaxPriorities returns the configured number of priority levels.
func (sc *Scheduler) MaxPriorities() int { return sc.maxPriorities }

// Current returns the thread currently holding the CPU token.
func (sc *Scheduler) Current() *kthread.Descriptor {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}
