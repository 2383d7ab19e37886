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

// Package kthread is the thread model (spec component C3): the thread
// descriptor and its state machine. Run queues themselves live in package
// sched, which is the sole mutator of a Descriptor's scheduling fields —
// this package only defines the data and the cooperative-token mechanics
// that stand in for a context switch.
package kthread

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/rs/xid"

	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/ktimer"
)

// State is a thread's position in the state machine of spec.md §4.1:
//
//	NotStarted -> Runnable -> {WaitForSem|WaitForMutex|WaitForTick|WaitForSemOrTick} -> Runnable -> ... -> StopRequest -> Stopped
type State int

const (
	NotStarted State = iota
	Runnable
	WaitForTick
	WaitForSem
	WaitForSemOrTick
	WaitForMutex
	StopRequest
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Runnable:
		return "runnable"
	case WaitForTick:
		return "wait_for_tick"
	case WaitForSem:
		return "wait_for_sem"
	case WaitForSemOrTick:
		return "wait_for_sem_or_tick"
	case WaitForMutex:
		return "wait_for_mutex"
	case StopRequest:
		return "stop_request"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTimerWaiter reports whether a thread in this state belongs on the
// timer wheel, per spec.md §3's invariant: "A thread is on the timer wheel
// iff its state is one of the *OrTick variants or WaitForTick."
func (s State) IsTimerWaiter() bool {
	return s == WaitForTick || s == WaitForSemOrTick
}

// TermHandler runs when a thread stops (voluntary exit, kill, or fault),
// at the thread's current effective priority, and must itself be bounded
// (spec.md §5 "Cancellation").
type TermHandler func(d *Descriptor, arg any) int

// registerFrame is a reserved, aligned placeholder for the register-save
// frame the trap-level context-switch stub would fill in on a real target
// (spec.md §3 data model and Design Notes "Descriptor-reserved header").
// It is never read or written in this hosted simulation; it exists only so
// the field layout this type documents matches the contract a real
// assembly trampoline would expect, and so the ABI comment has something
// concrete to point at.
type registerFrame [4]uintptr

// Descriptor is the unit of scheduling (spec.md §3 "Thread").
type Descriptor struct {
	_ registerFrame

	ID   xid.ID
	Name string

	NominalPriority   int
	EffectivePriority int

	State   State
	TimedOut bool

	StackBottom uintptr
	StackSize   uint32
	stackHigh   atomic.Uint32

	Entry func(*Descriptor)
	Arg   any

	Term    TermHandler
	TermArg any
	ExitVal int

	refCount       atomic.Int32
	MutexHeldCount int

	// BlockedOn is a non-owning back-pointer to the resource (mutex or
	// semaphore) this thread is currently pended on. Its validity is
	// maintained by the invariant that the resource outlives every thread
	// that may reference it (Design Notes "Back-pointers").
	BlockedOn any

	// RunLink threads this descriptor onto exactly one of: a run queue, a
	// mutex pend queue, a semaphore/signal pend queue (spec.md §3
	// invariant: "at most one of").
	RunLink klist.Link

	// TimeoutEntry is the timer-wheel entry (tag BlockedThread) armed for
	// this thread's current *_or_timeout wait, or nil if this thread is
	// not in a timed wait. It is owned by whichever *_or_timeout call
	// armed it, but the scheduler reaches in to cancel it from a
	// different goroutine's context when the wait is satisfied before the
	// deadline (spec.md §5: "the waker path always clears the wheel entry
	// before returning"), so the pointer lives on the descriptor rather
	// than a call stack.
	TimeoutEntry *ktimer.Entry

	runTok   chan struct{}
	stopped  chan struct{}
	log      *zap.Logger
	exitHook func(d *Descriptor)
}

// New allocates a thread descriptor. It does not start the goroutine;
// call Start once the scheduler has placed it on a run queue.
func New(name string, nominalPriority int, entry func(*Descriptor), arg any, term TermHandler, termArg any, stackSize uint32, log *zap.Logger) *Descriptor {
	d := &Descriptor{
		ID:                xid.New(),
		Name:              name,
		NominalPriority:   nominalPriority,
		EffectivePriority: nominalPriority,
		State:             NotStarted,
		StackSize:         stackSize,
		Entry:             entry,
		Arg:               arg,
		Term:              term,
		TermArg:           termArg,
		runTok:            make(chan struct{}, 1),
		stopped:           make(chan struct{}),
		log:               log,
	}
	d.RunLink.Init()
	d.refCount.Store(1)
	return d
}

// Logger returns this thread's logger, or a no-op logger if none was set.
func (d *Descriptor) Logger() *zap.Logger {
	if d.log == nil {
		return zap.NewNop()
	}
	return d.log
}

// ReportStackUsage records a high-water mark in bytes for the
// STACK_USAGE_MONITOR facility (spec.md §6, SPEC_FULL.md supplemented
// feature #2). Safe to call from the thread itself at any point.
func (d *Descriptor) ReportStackUsage(bytes uint32) {
	for {
		cur := d.stackHigh.Load()
		if bytes <= cur {
			return
		}
		if d.stackHigh.CAS(cur, bytes) {
			return
		}
	}
}

// StackHighWater returns the highest reported stack usage.
func (d *Descriptor) StackHighWater() uint32 { return d.stackHigh.Load() }

// SetExitHook installs the callback the scheduler runs once this thread's
// Entry function returns, before the thread is marked Stopped and its
// StoppedCh is closed. Only the scheduler calls this, once, at spawn time.
func (d *Descriptor) SetExitHook(fn func(d *Descriptor)) {
	d.exitHook = fn
}

// Start launches the backing goroutine. The goroutine blocks immediately
// waiting for its first run token; the caller (the scheduler) is
// responsible for placing d on a run queue and eventually granting it the
// token via Resume.
//
// A thread's Entry function is expected to run its work under repeated
// Yield/Block calls and simply return when done — there is no explicit
// "exit" kernel call. Returning from Entry is what spec.md's termination
// path models: the scheduler's exit hook runs any TermHandler and performs
// the final scheduler pass that hands the token to someone else, since
// this goroutine is never resumed again.
func (d *Descriptor) Start() {
	go func() {
		d.waitToken()
		if d.Entry != nil {
			d.Entry(d)
		}
		if d.exitHook != nil {
			d.exitHook(d)
		}
		close(d.stopped)
	}()
}

// waitToken parks the calling goroutine until the scheduler calls Resume.
// This is the hosted stand-in for a context switch into this thread: the
// only two things that can happen to a parked goroutine are "granted the
// token" (Resume) or the process exiting.
func (d *Descriptor) waitToken() {
	<-d.runTok
}

// Resume hands the cooperative CPU token to d, unblocking whichever of
// Start's goroutine or a pending Park call (from inside a blocking
// kernel primitive) is parked on it. Must only be called by the scheduler,
// and only for the thread it just chose to run next.
func (d *Descriptor) Resume() {
	select {
	case d.runTok <- struct{}{}:
	default:
		// Token already pending; a thread granted the token twice without
		// consuming it in between would be a scheduler bug, but since the
		// channel is buffered depth 1 this simply coalesces rather than
		// corrupting state.
	}
}

// Park is called by a blocking kernel primitive (mutex lock, semaphore
// wait, queue send/receive) after it has told the scheduler this thread is
// no longer runnable. It blocks until the scheduler calls Resume again.
func (d *Descriptor) Park() {
	d.waitToken()
}

// StoppedCh returns a channel closed once the thread's Entry function (and
// any termination handler invoked around it by the scheduler) has
// returned.
func (d *Descriptor) StoppedCh() <-chan struct{} { return d.stopped }

// Retain increments the reference count (spec.md §3 "reference count").
func (d *Descriptor) Retain() { d.refCount.Inc() }

// Release decrements the reference count and reports whether it reached
// zero.
func (d *Descriptor) Release() bool { return d.refCount.Dec() == 0 }
