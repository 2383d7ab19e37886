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

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPopRoundTrip(t *testing.T) {
	b := New[int](4)
	require.Equal(t, 3, b.Cap())
	require.True(t, b.Empty())

	require.True(t, b.TryPush(1))
	require.True(t, b.TryPush(2))
	require.True(t, b.TryPush(3))
	require.False(t, b.TryPush(4), "ring should reject a push once at usable capacity")

	v, ok := b.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.True(t, b.TryPush(4))

	for _, want := range []int{2, 3, 4} {
		v, ok := b.TryPop()
		require.True(t, ok)
		require.Equal(t, want, v)
	}

	_, ok = b.TryPop()
	require.False(t, ok)
	require.True(t, b.Empty())
}

// TestConcurrentSingleProducerSingleConsumer reproduces the intended
// usage: one writer goroutine, one reader goroutine, no shared lock.
func TestConcurrentSingleProducerSingleConsumer(t *testing.T) {
	b := New[int](8)
	const total = 10000

	done := make(chan []int, 1)
	go func() {
		got := make([]int, 0, total)
		for len(got) < total {
			if v, ok := b.TryPop(); ok {
				got = append(got, v)
			}
		}
		done <- got
	}()

	for i := 0; i < total; i++ {
		for !b.TryPush(i) {
			// ring full; spin until the reader drains a slot
		}
	}

	got := <-done
	require.Len(t, got, total)
	for i, v := range got {
		require.Equal(t, i, v, "values must be delivered in FIFO order")
	}
}
