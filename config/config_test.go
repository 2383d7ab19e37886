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

package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	c := Default()
	require.Equal(t, 32, c.MaxThreadPriorities)
	require.Equal(t, uint32(1000), c.MicrosecondsPerTick)
	require.True(t, c.StackUsageMonitor)
}

func TestRegisterFlagsOverridesDefaults(t *testing.T) {
	c := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-max-thread-priorities=8",
		"-microseconds-per-tick=500",
		"-stack-usage-monitor=false",
	}))

	require.Equal(t, 8, c.MaxThreadPriorities)
	require.Equal(t, uint32(500), c.MicrosecondsPerTick)
	require.False(t, c.StackUsageMonitor)
}
