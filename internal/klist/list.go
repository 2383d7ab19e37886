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

// Package klist is the intrusive doubly-linked circular list that backs
// every run queue, pend queue, and the timer wheel. It is the data
// structure backbone named in spec component C1.
//
// A Link is meant to be embedded in the owning struct (a thread
// descriptor, a timer entry). All operations are O(1) and safe to call
// with interrupts disabled (i.e. under the caller's own exclusion, this
// package does no locking of its own) so it can be reordered atomically
// from both thread and "ISR" context, matching the hardware model this
// kernel simulates.
package klist

// Link is one node of an intrusive doubly-linked circular list. The zero
// value is not a valid link; use Init or embed in a struct and call Init
// before first use.
type Link struct {
	next *Link
	prev *Link

	// Value is an optional back-reference to the struct that embeds this
	// Link, set once at construction time. Pure intrusive lists in C get
	// this for free via container_of/offsetof; Go has no portable
	// equivalent, so the owner stores its own pointer here instead of this
	// package reaching for unsafe.Pointer arithmetic.
	Value any
}

// Init turns l into a single-element circular list (a list head with
// nothing on it, or a detached node — the two are indistinguishable until
// something is inserted, by design: a list head is just a Link).
func (l *Link) Init() *Link {
	l.next = l
	l.prev = l
	return l
}

// Empty reports whether l (used as a list head) has no elements.
func (l *Link) Empty() bool {
	return l.next == l || l.next == nil
}

// linked reports whether l is currently threaded into some list (including
// being a lone head whose next/prev point to itself — callers that need to
// distinguish "is a head" from "is linked into another list" track that
// separately, as klist is agnostic to which links are heads).
func (l *Link) linked() bool {
	return l.next != nil
}

// PushBack inserts n immediately before the head l (i.e. at the tail of
// the list whose head is l). n must not already be linked.
func (l *Link) PushBack(n *Link) {
	if l.next == nil {
		l.Init()
	}
	tail := l.prev
	n.prev = tail
	n.next = l
	tail.next = n
	l.prev = n
}

// PushFront inserts n immediately after the head l.
func (l *Link) PushFront(n *Link) {
	if l.next == nil {
		l.Init()
	}
	front := l.next
	n.next = front
	n.prev = l
	front.prev = n
	l.next = n
}

// Remove unlinks n from whatever list it is currently on. It is a no-op,
// not an error, to remove a node that is already detached — this mirrors
// the idempotence required of the ISR event-queue link (Design Notes: "a
// sentinel next pointer equal to self").
func (n *Link) Remove() {
	if n.next == nil || n.next == n {
		n.next = nil
		n.prev = nil
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
}

// OnList reports whether n is currently linked into some list. A link
// that has been Init'ed and not yet removed (a lone head) also reports
// true; a link reports false only when zero-valued or after Remove.
func (n *Link) OnList() bool {
	return n.linked()
}

// Front returns the first element linked after head l, or nil if l is
// empty. l itself is never returned.
func (l *Link) Front() *Link {
	if l.Empty() {
		return nil
	}
	return l.next
}

// Back returns the last element linked before head l, or nil if l is empty.
func (l *Link) Back() *Link {
	if l.Empty() {
		return nil
	}
	return l.prev
}

// Next returns the element after n, or nil once iteration has returned to
// head l.
func (n *Link) Next(head *Link) *Link {
	if n.next == head {
		return nil
	}
	return n.next
}

// InsertBefore splices node in immediately before at, within whatever list
// at currently belongs to. node must not already be linked.
func (at *Link) InsertBefore(node *Link) {
	prev := at.prev
	node.prev = prev
	node.next = at
	prev.next = node
	at.prev = node
}

// MoveToBack relinks n, already a member of the list headed by l, to the
// tail position. Used by the scheduler's round-robin step: "move current
// thread to tail of its own priority's run queue".
func (l *Link) MoveToBack(n *Link) {
	n.Remove()
	l.PushBack(n)
}

// Each walks the list headed by l from front to back, calling fn for each
// element. fn may call Remove on the current element or on elements
// already visited; it must not remove elements not yet visited other than
// the current one.
func (l *Link) Each(fn func(*Link)) {
	for n := l.Front(); n != nil; {
		next := n.Next(l)
		fn(n)
		n = next
	}
}

// Tag is the small integer discriminator used by the polymorphic list
// variant (the timer wheel, which threads together software timers,
// blocked-thread timeouts, and context timers on one list).
type Tag uint8

// TaggedLink adds a Tag next to the Link, per Design Notes "Polymorphic
// lists": "the source embeds a small tag next to the link; model it as a
// sum type carried by the link."
type TaggedLink struct {
	Link
	Tag Tag
}
