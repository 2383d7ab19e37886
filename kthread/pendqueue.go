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

package kthread

import "github.com/mneedes/microkern/internal/klist"

// InsertPriorityOrdered inserts d's RunLink into the pend queue headed by
// head, priority-sorted on insertion (spec.md §3: "The pend queue is
// priority-sorted on insertion; ties go to the tail (FIFO among equals)").
// Used by mutex, semaphore, and signal pend queues alike, which all share
// the run/pend link (spec.md §3 invariant: a thread is on at most one of a
// run queue or a pend queue at a time, so reusing RunLink is sound).
func InsertPriorityOrdered(head *klist.Link, d *Descriptor) {
	d.RunLink.Value = d
	for n := head.Front(); n != nil; n = n.Next(head) {
		other, ok := n.Value.(*Descriptor)
		if !ok {
			continue
		}
		if d.EffectivePriority < other.EffectivePriority {
			// d is strictly higher priority than other: insert before it.
			n.InsertBefore(&d.RunLink)
			return
		}
	}
	head.PushBack(&d.RunLink)
}

// Front returns the highest-priority descriptor on a pend queue headed by
// head, or nil if empty.
func Front(head *klist.Link) *Descriptor {
	n := head.Front()
	if n == nil {
		return nil
	}
	d, _ := n.Value.(*Descriptor)
	return d
}

// Remove removes d from whichever pend/run queue it is linked into.
func Remove(d *Descriptor) {
	d.RunLink.Remove()
}
