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

package ktime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceIsMonotonic(t *testing.T) {
	c := NewClock(1000)
	require.Equal(t, Tick(0), c.Now())
	for i := 1; i <= 5; i++ {
		require.Equal(t, Tick(i), c.Advance())
	}
	require.Equal(t, Tick(5), c.Now())
}

func TestTicksForMicrosRoundsUp(t *testing.T) {
	c := NewClock(1000)
	require.Equal(t, uint64(1), c.TicksForMicros(1))
	require.Equal(t, uint64(1), c.TicksForMicros(1000))
	require.Equal(t, uint64(2), c.TicksForMicros(1001))
}

func TestCycleCountMonotonic(t *testing.T) {
	c := NewClock(1000)
	a := c.CycleCount()
	b := c.CycleCount()
	require.LessOrEqual(t, a, b)
}
