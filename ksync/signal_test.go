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
	"github.com/mneedes/microkern/sched"
)

func TestSignalPollAndClear(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 2})
	s := NewSignal(sc, "flags")

	s.Raise(0b101)
	require.Equal(t, uint32(0b101), s.Poll())
	s.Clear(0b001)
	require.Equal(t, uint32(0b100), s.Poll())
}

// TestSignalAnyVsAllSemantics reproduces the signal-as-prioritized-queue
// scenario: a waiter asking for "all of" a mask only wakes once every bit
// is set, while a waiter asking for "any of" the same mask wakes on the
// first bit.
func TestSignalAnyVsAllSemantics(t *testing.T) {
	sc := sched.New(sched.Config{MaxPriorities: 3})
	s := NewSignal(sc, "flags")

	anyWoke := make(chan uint32, 1)
	allWoke := make(chan uint32, 1)

	anyWaiter := kthread.New("any", 0, func(d *kthread.Descriptor) {
		anyWoke <- s.Wait(d, 0b011, false)
	}, nil, nil, nil, 0, nil)
	allWaiter := kthread.New("all", 1, func(d *kthread.Descriptor) {
		allWoke <- s.Wait(d, 0b011, true)
	}, nil, nil, nil, 0, nil)

	sc.Spawn(anyWaiter)
	sc.Spawn(allWaiter)
	sc.StartKernel()
	defer sc.StopKernel()

	s.Raise(0b001)

	select {
	case v := <-anyWoke:
		require.Equal(t, uint32(0b001), v&0b011)
	case <-time.After(time.Second):
		t.Fatal("any-of waiter never woke on a single matching bit")
	}

	select {
	case <-allWoke:
		t.Fatal("all-of waiter woke before every bit in its mask was set")
	case <-time.After(20 * time.Millisecond):
	}

	s.Raise(0b010)

	select {
	case v := <-allWoke:
		require.Equal(t, uint32(0b011), v&0b011)
	case <-time.After(time.Second):
		t.Fatal("all-of waiter never woke once both bits were set")
	}
}
