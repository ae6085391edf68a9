// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pageout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPIDOutputMonotone(t *testing.T) {
	gains := DefaultTunables().PID
	now := time.Now()

	prev := -1
	for free := 1000; free >= 0; free -= 10 {
		pc := NewPIDController(100*time.Millisecond, 500, 500, gains)
		out := pc.Daemon(now, free)
		require.GreaterOrEqual(t, out, 0)
		require.GreaterOrEqual(t, out, prev, "output must not decrease as the deficit grows (free %d)", free)
		if free >= 500 {
			require.Zero(t, out, "no shortage at or above the setpoint")
		}
		prev = out
	}
}

func TestPIDWithinInterval(t *testing.T) {
	pc := NewPIDController(100*time.Millisecond, 500, 500, DefaultTunables().PID)
	now := time.Now()

	first := pc.Daemon(now, 100)
	require.Positive(t, first)

	// The earlier output is assumed to have taken effect.
	second := pc.Daemon(now.Add(10*time.Millisecond), 100+first)
	require.Less(t, second, first)

	// A new interval starts from scratch, remembering the last error.
	third := pc.Daemon(now.Add(200*time.Millisecond), 100)
	require.Positive(t, third)
}

func TestPIDIntegralBound(t *testing.T) {
	pc := NewPIDController(time.Millisecond, 100, 50, PIDGains{Kpd: 1000, Kid: 1, Kdd: 1000})
	now := time.Now()
	for i := 0; i < 10; i++ {
		now = now.Add(time.Millisecond)
		pc.Daemon(now, 0)
	}
	require.Equal(t, 50, pc.integral)
}
