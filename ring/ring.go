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

// Package ring is the lock-free single-reader/single-writer FIFO (spec
// component C10): one writer and one reader index, each published with
// an atomic store/load pair standing in for the explicit memory-barrier
// the original places between a payload write and its tail advance (and
// between a payload read and its head advance). Usable depth is
// capacity-1, the slot at head==tail always meaning "empty" rather than
// ambiguous with "full" (spec.md §4.8).
//
// No other package in this module uses it: the scheduler's event queue
// is a klist list and klog.RawSink writes straight to its writer.
// Inter-thread queues get blocking semantics from kqueue instead.
package ring

import "go.uber.org/atomic"

// Buffer is a fixed-capacity SPSC ring of T. The zero value is not
// usable; construct with New.
type Buffer[T any] struct {
	slots []T
	head  atomic.Uint64 // next slot the reader will consume
	tail  atomic.Uint64 // next slot the writer will fill
}

// New constructs a ring able to hold capacity-1 elements at a time.
// capacity is rounded up to at least 2.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer[T]{slots: make([]T, capacity)}
}

// Cap reports the usable depth (capacity - 1 slots are ever occupied at
// once, so head and tail never collide).
func (b *Buffer[T]) Cap() int { return len(b.slots) - 1 }

// TryPush writes v from the single writer goroutine, reporting whether
// there was room. Never blocks.
func (b *Buffer[T]) TryPush(v T) bool {
	tail := b.tail.Load()
	next := (tail + 1) % uint64(len(b.slots))
	if next == b.head.Load() {
		return false
	}
	b.slots[tail] = v
	b.tail.Store(next) // publishes the payload write above to the reader
	return true
}

// TryPop reads the oldest element from the single reader goroutine,
// reporting whether one was available. Never blocks.
func (b *Buffer[T]) TryPop() (T, bool) {
	var zero T
	head := b.head.Load()
	if head == b.tail.Load() {
		return zero, false
	}
	v := b.slots[head]
	b.slots[head] = zero
	b.head.Store((head + 1) % uint64(len(b.slots)))
	return v, true
}

// Len reports the number of elements currently buffered. Diagnostic only
// — in the presence of a concurrent writer or reader, the instant it is
// read may already be stale.
func (b *Buffer[T]) Len() int {
	tail := int64(b.tail.Load())
	head := int64(b.head.Load())
	d := tail - head
	if d < 0 {
		d += int64(len(b.slots))
	}
	return int(d)
}

// Empty reports whether the ring currently holds no elements.
func (b *Buffer[T]) Empty() bool {
	return b.head.Load() == b.tail.Load()
}
