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

package hal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimHALUartLoopback(t *testing.T) {
	h := NewSimHAL()
	require.NoError(t, h.Init())

	got := make(chan byte, 1)
	h.RegisterRxUARTCallback(func(b byte) { got <- b })

	require.NoError(t, h.SendToTxUART(0x42))
	select {
	case b := <-got:
		require.Equal(t, byte(0x42), b)
	case <-time.After(time.Second):
		t.Fatal("loopback callback never fired")
	}
}

func TestSimHALGPIORoundTrip(t *testing.T) {
	h := NewSimHAL()
	require.NoError(t, h.SetGPIO(3, true))
	require.True(t, h.GPIO(3).High)
	require.NoError(t, h.SetGPIO(3, false))
	require.False(t, h.GPIO(3).High)
	require.Error(t, h.SetGPIO(-1, true))
}

func TestSimHALRandomU32Varies(t *testing.T) {
	h := NewSimHAL()
	a := h.GetRandomU32()
	b := h.GetRandomU32()
	require.NotEqual(t, a, b)
}

func TestSelfTestPassesOnSimHAL(t *testing.T) {
	h := NewSimHAL()
	require.NoError(t, h.Init())
	require.NoError(t, SelfTest(context.Background(), h))
}

func TestSecureWorldPoolReserveAndRelease(t *testing.T) {
	p := NewSecureWorldPool(2)
	require.Equal(t, int64(2), p.Size())

	require.True(t, p.TryReserve(2))
	require.False(t, p.TryReserve(1), "pool should be exhausted")

	p.Release(1)
	require.True(t, p.TryReserve(1))
}

func TestSecureWorldPoolReserveBlocksUntilReleased(t *testing.T) {
	p := NewSecureWorldPool(1)
	require.True(t, p.TryReserve(1))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, p.Reserve(context.Background(), 1))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Reserve returned before the slot was released")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Reserve never unblocked after Release")
	}
}
