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

package kqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mneedes/microkern/ksync"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/sched"
)

func TestTrySendTryReceiveRoundTrip(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	q := New(sc, "mailbox", 2)

	require.True(t, q.TrySend("a"))
	require.True(t, q.TrySend("b"))
	require.False(t, q.TrySend("c"))

	v, ok := q.TryReceive()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.TryReceive()
	require.True(t, ok)
	require.Equal(t, "b", v)

	_, ok = q.TryReceive()
	require.False(t, ok)
}

// TestSendBlocksUntilReceiverDrains reproduces a single-slot mailbox where
// the writer must block until the reader frees a slot.
func TestSendBlocksUntilReceiverDrains(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	q := New(sc, "mailbox", 1)

	sent := make(chan struct{}, 2)
	writer := kthread.New("writer", 0, func(d *kthread.Descriptor) {
		q.Send(d, 1)
		sent <- struct{}{}
		q.Send(d, 2)
		sent <- struct{}{}
	}, nil, nil, nil, 0, nil)

	sc.Spawn(writer)
	sc.StartKernel()
	defer sc.StopKernel()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("writer never completed its first send into an empty slot")
	}

	select {
	case <-sent:
		t.Fatal("writer's second send completed before the slot was freed")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := q.TryReceive()
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("writer never unblocked once the slot was freed")
	}
}

// TestMultiWriterMultiReaderFairness reproduces multiple writer threads and
// multiple reader threads sharing one queue: every sent value is received
// by exactly one reader and none are lost or duplicated.
func TestMultiWriterMultiReaderFairness(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	q := New(sc, "pool", 4)

	const perWriter = 5
	const writers = 3
	const total = perWriter * writers

	results := make(chan int, total)

	for w := 0; w < writers; w++ {
		base := w * perWriter
		writer := kthread.New("writer", 0, func(d *kthread.Descriptor) {
			for i := 0; i < perWriter; i++ {
				q.Send(d, base+i)
			}
		}, nil, nil, nil, 0, nil)
		sc.Spawn(writer)
	}

	for r := 0; r < 2; r++ {
		reader := kthread.New("reader", 1, func(d *kthread.Descriptor) {
			for {
				v := q.Receive(d)
				results <- v.(int)
			}
		}, nil, nil, nil, 0, nil)
		sc.Spawn(reader)
	}

	sc.StartKernel()
	defer sc.StopKernel()

	seen := make(map[int]bool)
	for i := 0; i < total; i++ {
		select {
		case v := <-results:
			require.False(t, seen[v], "value %d received more than once", v)
			seen[v] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d values received", i, total)
		}
	}
}

// TestWaitOnMultiPrefersReadyQueue reproduces the queue-or-signal wait: a
// thread parked in WaitOnMulti wakes on whichever of the queue or the
// signal becomes ready first.
func TestWaitOnMultiPrefersReadyQueue(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	q := New(sc, "events", 2)
	sig := ksync.NewSignal(sc, "flags")

	type outcome struct {
		value     any
		gotValue  bool
		bits      uint32
		gotSignal bool
	}
	done := make(chan outcome, 1)

	waiter := kthread.New("waiter", 0, func(d *kthread.Descriptor) {
		v, gotValue, bits, gotSignal := WaitOnMulti(d, sc, q, sig, 0b1, false)
		done <- outcome{v, gotValue, bits, gotSignal}
	}, nil, nil, nil, 0, nil)

	sc.Spawn(waiter)
	sc.StartKernel()
	defer sc.StopKernel()

	select {
	case <-done:
		t.Fatal("waiter woke with neither the queue nor the signal ready")
	case <-time.After(20 * time.Millisecond):
	}

	q.TrySend("ready")

	select {
	case o := <-done:
		require.True(t, o.gotValue)
		require.Equal(t, "ready", o.value)
		require.False(t, o.gotSignal)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke once the queue had a value")
	}
}

// TestWaitOnMultiWakesOnSignal mirrors the above with the signal arriving
// instead of a queued value.
func TestWaitOnMultiWakesOnSignal(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	q := New(sc, "events", 2)
	sig := ksync.NewSignal(sc, "flags")

	done := make(chan bool, 1)
	waiter := kthread.New("waiter", 0, func(d *kthread.Descriptor) {
		_, gotValue, bits, gotSignal := WaitOnMulti(d, sc, q, sig, 0b10, false)
		done <- gotSignal && !gotValue && bits&0b10 != 0
	}, nil, nil, nil, 0, nil)

	sc.Spawn(waiter)
	sc.StartKernel()
	defer sc.StopKernel()

	sig.Raise(0b10)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on the raised signal")
	}
}

// TestWaitOnMultiQueueReturnsChannelIndexInCommitOrder reproduces spec.md
// §8 concrete scenario #4: three queues share one signal via distinct
// channel bits, and repeated WaitOnMultiQueue calls return the index of
// whichever producer committed next, in commit order.
func TestWaitOnMultiQueueReturnsChannelIndexInCommitOrder(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	sig := ksync.NewSignal(sc, "channels")

	q0 := New(sc, "q0", 2)
	q1 := New(sc, "q1", 2)
	q2 := New(sc, "q2", 2)
	q0.BindChannel(sig, 0)
	q1.BindChannel(sig, 1)
	q2.BindChannel(sig, 2)
	const allChannels = 0b111

	indexes := make(chan int, 3)
	waiter := kthread.New("waiter", 0, func(d *kthread.Descriptor) {
		for i := 0; i < 3; i++ {
			indexes <- WaitOnMultiQueue(d, sig, allChannels)
		}
	}, nil, nil, nil, 0, nil)

	sc.Spawn(waiter)
	sc.StartKernel()
	defer sc.StopKernel()

	select {
	case <-indexes:
		t.Fatal("waiter woke before any producer committed")
	case <-time.After(20 * time.Millisecond):
	}

	q0.TrySend("a")
	select {
	case idx := <-indexes:
		require.Equal(t, 0, idx)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on q0's commit")
	}
	v, ok := q0.TryReceive()
	require.True(t, ok)
	require.Equal(t, "a", v)

	q1.TrySend("b")
	select {
	case idx := <-indexes:
		require.Equal(t, 1, idx)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on q1's commit")
	}
	v, ok = q1.TryReceive()
	require.True(t, ok)
	require.Equal(t, "b", v)

	q2.TrySend("c")
	select {
	case idx := <-indexes:
		require.Equal(t, 2, idx)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on q2's commit")
	}
	v, ok = q2.TryReceive()
	require.True(t, ok)
	require.Equal(t, "c", v)
}
