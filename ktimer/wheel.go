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

// Package ktimer is the software-timer wheel (spec component C7): a single
// list of armed entries sorted by absolute wake tick, walked once per
// system tick. It carries three kinds of entry on the one list, tagged
// per Design Notes' polymorphic-list guidance: a user software timer, a
// blocked thread's timeout, or a shared-context timer's pre-stored
// message send.
package ktimer

import (
	"sync"

	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/ktime"
)

// Tag discriminates what kind of entry is threaded onto the wheel.
type Tag = klist.Tag

const (
	TagSoftware Tag = iota
	TagBlockedThread
	TagContextTimer
)

// Entry is one armed timer. Callback runs from "tick-interrupt context" —
// i.e. synchronously from inside the goroutine driving Wheel.ExpireUpTo —
// and must be ISR-safe: it must not block.
type Entry struct {
	klist.TaggedLink

	wheel    *Wheel
	ticks    uint64
	wakeTick ktime.Tick
	armed    bool

	Callback func(e *Entry)
	User     any
}

// Wheel holds every armed Entry, sorted ascending by wake tick with ties
// broken FIFO (spec.md §3: "one ordered list sorted by wake_tick modulo
// the rollover horizon"; spec.md §8: "ties FIFO").
type Wheel struct {
	mu   sync.Mutex
	head klist.Link
}

// NewWheel returns an empty wheel.
func NewWheel() *Wheel {
	w := &Wheel{}
	w.head.Init()
	return w
}

// NewEntry allocates an unarmed entry of the given tag. Call Set to arm it.
func (w *Wheel) NewEntry(tag Tag, cb func(*Entry), user any) *Entry {
	e := &Entry{Callback: cb, User: user, wheel: w}
	e.TaggedLink.Tag = tag
	e.TaggedLink.Link.Value = e
	return e
}

// Set arms e to fire ticks ticks from now (spec.md §4.5: "the absolute
// wake_tick = current_tick + ticks"). A ticks value of zero is valid and
// means "fire at the very next expiry scan" (spec.md §5: "A tick of zero
// is valid and means yield now, check immediately").
func (w *Wheel) Set(now ktime.Tick, ticks uint64, e *Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.armed {
		e.Link.Remove()
	}
	e.ticks = ticks
	e.wakeTick = now + ktime.Tick(ticks)
	e.armed = true
	w.insertLocked(e)
}

// Reset re-arms e for the same relative tick count it was last Set with,
// counted from now. Used by context timers to reschedule after a
// successful send (spec.md §4.6).
func (w *Wheel) Reset(now ktime.Tick, e *Entry) {
	w.Set(now, e.ticks, e)
}

// Cancel disarms e. Safe to call on an already-disarmed or already-fired
// entry.
func (w *Wheel) Cancel(e *Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !e.armed {
		return
	}
	e.armed = false
	e.Link.Remove()
}

// Armed reports whether e is currently threaded onto the wheel.
func (e *Entry) Armed() bool { return e.armed }

func (w *Wheel) insertLocked(e *Entry) {
	for n := w.head.Front(); n != nil; n = n.Next(&w.head) {
		other, _ := n.Value.(*Entry)
		if other == nil {
			continue
		}
		if e.wakeTick < other.wakeTick {
			n.InsertBefore(&e.Link)
			return
		}
	}
	w.head.PushBack(&e.Link)
}

// ExpireUpTo walks the head of the wheel, invoking the callback of and
// disarming every entry whose wake tick is <= now, in increasing wake-tick
// (FIFO-among-ties) order, then returns. It is meant to be called once per
// system tick from the scheduler's tick handler (spec.md §4.5: "Each
// system tick the scheduler walks the head, invoking every entry with
// wake_tick <= now").
func (w *Wheel) ExpireUpTo(now ktime.Tick) {
	for {
		w.mu.Lock()
		n := w.head.Front()
		if n == nil {
			w.mu.Unlock()
			return
		}
		e, _ := n.Value.(*Entry)
		if e == nil || e.wakeTick > now {
			w.mu.Unlock()
			return
		}
		e.armed = false
		e.Link.Remove()
		w.mu.Unlock()

		if e.Callback != nil {
			e.Callback(e)
		}
	}
}

// Empty reports whether any entry is armed.
func (w *Wheel) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head.Empty()
}
