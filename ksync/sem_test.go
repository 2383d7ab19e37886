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

package ksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktime"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/sched"
)

func TestSemaphoreTryAndCount(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	s := NewSemaphore(sc, "credit", 2)

	require.Equal(t, int64(2), s.Count())
	require.True(t, s.Try())
	require.True(t, s.Try())
	require.False(t, s.Try())
	require.Equal(t, int64(0), s.Count())
}

// TestSemaphoreWaitWakesOnIncrement reproduces the counting-semaphore
// credit scenario: a thread blocks on an empty semaphore, and a later
// Increment from outside the kernel's thread set (standing in for a
// producer/ISR) wakes it with the credit it consumed reflected in Count.
func TestSemaphoreWaitWakesOnIncrement(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	s := NewSemaphore(sc, "credit", 0)

	woke := make(chan struct{})
	consumer := kthread.New("consumer", 0, func(d *kthread.Descriptor) {
		s.Wait(d)
		close(woke)
	}, nil, nil, nil, 0, nil)

	sc.Spawn(consumer)
	sc.StartKernel()
	defer sc.StopKernel()

	select {
	case <-woke:
		t.Fatal("consumer woke before any credit was available")
	case <-time.After(20 * time.Millisecond):
	}

	s.Increment(1)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("consumer never woke after Increment")
	}
	require.Equal(t, int64(0), s.Count())
}

func TestSemaphoreWaitOrTimeoutExpires(t *testing.T) {
	clock := ktime.NewClock(1000)
	wheel := ktimer.NewWheel()
	sc := sched.New(sched.Config{MaxPriorities: 2, Clock: clock, Wheel: wheel})
	s := NewSemaphore(sc, "never-incremented", 0)

	result := make(chan bool, 1)
	waiter := kthread.New("waiter", 0, func(d *kthread.Descriptor) {
		result <- s.WaitOrTimeout(d, 3)
	}, nil, nil, nil, 0, nil)

	sc.Spawn(waiter)
	sc.StartKernel()
	defer sc.StopKernel()

	select {
	case ok := <-result:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never timed out")
	}
}
