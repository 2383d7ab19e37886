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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateStringAndIsTimerWaiter(t *testing.T) {
	require.Equal(t, "runnable", Runnable.String())
	require.Equal(t, "wait_for_tick", WaitForTick.String())
	require.Equal(t, "unknown", State(99).String())

	require.True(t, WaitForTick.IsTimerWaiter())
	require.True(t, WaitForSemOrTick.IsTimerWaiter())
	require.False(t, WaitForSem.IsTimerWaiter())
	require.False(t, Runnable.IsTimerWaiter())
}

func TestNewSetsNominalAndEffectivePriorityEqual(t *testing.T) {
	d := New("worker", 5, func(*Descriptor) {}, nil, nil, nil, 0, nil)
	require.Equal(t, 5, d.NominalPriority)
	require.Equal(t, 5, d.EffectivePriority)
	require.Equal(t, NotStarted, d.State)
	require.False(t, d.ID.IsZero())
	require.NotNil(t, d.Logger())
}

func TestReportStackUsageKeepsHighWaterMark(t *testing.T) {
	d := New("worker", 0, func(*Descriptor) {}, nil, nil, nil, 1024, nil)
	d.ReportStackUsage(100)
	d.ReportStackUsage(50)
	require.Equal(t, uint32(100), d.StackHighWater())
	d.ReportStackUsage(200)
	require.Equal(t, uint32(200), d.StackHighWater())
}

func TestRetainReleaseRefCounting(t *testing.T) {
	d := New("worker", 0, func(*Descriptor) {}, nil, nil, nil, 0, nil)
	d.Retain()
	require.False(t, d.Release(), "two holders remain after one Release")
	require.True(t, d.Release(), "refcount should reach zero")
}

func TestStartResumeAndExitHookLifecycle(t *testing.T) {
	ran := make(chan struct{})
	d := New("worker", 0, func(self *Descriptor) {
		close(ran)
	}, nil, nil, nil, 0, nil)

	var exitHookCalled bool
	d.SetExitHook(func(self *Descriptor) {
		exitHookCalled = true
	})

	d.Start()
	d.Resume()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("entry function never ran after Resume")
	}

	select {
	case <-d.StoppedCh():
	case <-time.After(time.Second):
		t.Fatal("StoppedCh never closed")
	}
	require.True(t, exitHookCalled)
}

func TestParkBlocksUntilResume(t *testing.T) {
	d := New("worker", 0, nil, nil, nil, nil, 0, nil)
	d.Start()
	d.Resume() // release the initial waitToken from Start

	parked := make(chan struct{})
	go func() {
		d.Park()
		close(parked)
	}()

	select {
	case <-parked:
		t.Fatal("Park returned before Resume was called")
	case <-time.After(20 * time.Millisecond):
	}

	d.Resume()
	select {
	case <-parked:
	case <-time.After(time.Second):
		t.Fatal("Park never returned after Resume")
	}
}
