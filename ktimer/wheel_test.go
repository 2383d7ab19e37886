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

package ktimer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mneedes/microkern/ktime"
)

func TestExpireUpToOrderAndTies(t *testing.T) {
	w := NewWheel()
	var order []string

	a := w.NewEntry(TagSoftware, func(e *Entry) { order = append(order, "a") }, nil)
	b := w.NewEntry(TagSoftware, func(e *Entry) { order = append(order, "b") }, nil)
	c := w.NewEntry(TagSoftware, func(e *Entry) { order = append(order, "c") }, nil)

	w.Set(0, 5, a)
	w.Set(0, 5, b) // tie with a, FIFO => a before b
	w.Set(0, 2, c) // fires first

	w.ExpireUpTo(ktime.Tick(2))
	require.Equal(t, []string{"c"}, order)

	w.ExpireUpTo(ktime.Tick(5))
	require.Equal(t, []string{"c", "a", "b"}, order)
	require.True(t, w.Empty())
}

func TestCancelPreventsFire(t *testing.T) {
	w := NewWheel()
	fired := false
	e := w.NewEntry(TagSoftware, func(e *Entry) { fired = true }, nil)
	w.Set(0, 3, e)
	w.Cancel(e)
	w.ExpireUpTo(ktime.Tick(100))
	require.False(t, fired)
	require.True(t, w.Empty())
}

func TestResetUsesLastRelativeTicks(t *testing.T) {
	w := NewWheel()
	fireCount := 0
	e := w.NewEntry(TagSoftware, func(e *Entry) { fireCount++ }, nil)
	w.Set(0, 10, e)
	w.Reset(ktime.Tick(20), e) // should now fire at tick 30
	w.ExpireUpTo(ktime.Tick(29))
	require.Equal(t, 0, fireCount)
	w.ExpireUpTo(ktime.Tick(30))
	require.Equal(t, 1, fireCount)
}

func TestZeroTickFiresImmediately(t *testing.T) {
	w := NewWheel()
	fired := false
	e := w.NewEntry(TagSoftware, func(e *Entry) { fired = true }, nil)
	w.Set(5, 0, e)
	w.ExpireUpTo(ktime.Tick(5))
	require.True(t, fired)
}
