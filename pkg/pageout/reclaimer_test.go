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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
)

func TestNew(t *testing.T) {
	bad := DefaultTunables()
	bad.InactiveThreads = 0

	tcases := []struct {
		name    string
		domains []DomainConfig
		options []Option
		fail    bool
	}{
		{
			name: "no domains",
			fail: true,
		},
		{
			name:    "empty domain",
			domains: []DomainConfig{{Pages: 128}, {Pages: 0}},
			fail:    true,
		},
		{
			name:    "invalid tunables",
			domains: []DomainConfig{{Pages: 128}},
			options: []Option{WithTunables(bad)},
			fail:    true,
		},
		{
			name:    "invalid page size",
			domains: []DomainConfig{{Pages: 128}},
			options: []Option{WithPageSize(3000)},
			fail:    true,
		},
		{
			name:    "nil pager",
			domains: []DomainConfig{{Pages: 128}},
			options: []Option{WithPager(nil)},
			fail:    true,
		},
		{
			name:    "computed thresholds",
			domains: []DomainConfig{{Pages: 4096}, {Pages: 8192}},
			options: []Option{WithPageSize(8192)},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(tc.domains, tc.options...)
			if tc.fail {
				require.Error(t, err)
				require.Nil(t, r)
				return
			}
			require.NoError(t, err)
			require.Len(t, r.Domains(), len(tc.domains))
			for id, dc := range tc.domains {
				d := r.Domain(id)
				require.Equal(t, id, d.ID())
				require.Equal(t, dc.Pages, d.PageCount())
				require.Equal(t, dc.Pages, d.FreeCount())
				require.Equal(t, ComputeThresholds(dc.Pages, dc.Pages, DefaultTunables().ClusterPages, 8192),
					d.Thresholds())
			}
			require.Nil(t, r.Domain(len(tc.domains)))
			require.Nil(t, r.Domain(-1))
		})
	}
}

func TestStartStop(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 256)
	d := r.Domain(0)
	fill(t, d, NewObject("clean", ObjectDefault, 256), 0, 240, nil)
	require.Equal(t, 16, d.FreeCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	require.Error(t, r.Start(ctx), "a second start must fail")
	require.Contains(t, runningReclaimers(), r)

	require.Eventually(t, func() bool {
		return d.FreeCount() >= d.Thresholds().WakeupThresh
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	require.NotContains(t, runningReclaimers(), r)
	require.NotZero(t, d.Stats().Freed)
	require.NotZero(t, d.Stats().Passes)
	checkQueues(t, d)
}

func TestStopOnCancel(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	done := make(chan error)
	go func() { done <- r.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "workers did not stop")
	}
}

func TestLowMemHandlers(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)

	calls := []string{}
	handler := func(name string) LowMemHandler {
		return func(level LowMemLevel) {
			require.Equal(t, LowMemKmem, level)
			calls = append(calls, name)
		}
	}
	r.RegisterLowMem("a", handler("a"))
	unregister := r.RegisterLowMem("b", handler("b"))
	r.RegisterLowMem("c", handler("c"))

	r.LowMem(LowMemKmem)
	require.Equal(t, []string{"a", "b", "c"}, calls)

	unregister()
	calls = calls[:0]
	r.LowMem(LowMemKmem)
	require.Equal(t, []string{"a", "c"}, calls)
	require.Equal(t, uint64(2), r.lowmemCount.Load())
}

func TestLowMemRateLimit(t *testing.T) {
	clock := newTestClock()
	tun := testTunables()
	r, err := New([]DomainConfig{{Pages: 64, Thresholds: testThresholds()}},
		WithTunables(tun), WithClock(clock.Now))
	require.NoError(t, err)

	calls := 0
	r.RegisterLowMem("count", func(LowMemLevel) { calls++ })

	require.True(t, r.pageLowMem())
	require.False(t, r.pageLowMem())
	clock.Advance(time.Duration(tun.LowmemPeriod) / 2)
	require.False(t, r.pageLowMem())
	clock.Advance(time.Duration(tun.LowmemPeriod))
	require.True(t, r.pageLowMem())
	require.Equal(t, 2, calls)
}

func TestRunPassLowMem(t *testing.T) {
	clock := newTestClock()
	r, err := New([]DomainConfig{{Pages: 256, Thresholds: testThresholds()}},
		WithTunables(testTunables()), WithClock(clock.Now))
	require.NoError(t, err)
	d := r.Domain(0)

	obj := NewObject("cache", ObjectDefault, 256)
	cached := fill(t, d, obj, 0, 240, nil)

	// The handler drops part of a cache, which counts toward the shortage.
	released := 0
	r.RegisterLowMem("cache", func(LowMemLevel) {
		obj.Lock()
		defer obj.Unlock()
		for _, p := range cached[:20] {
			require.True(t, d.freeEnqueued(p, QueueInactive))
			released++
		}
	})

	_, ok := d.RunPass(context.Background())
	require.True(t, ok)
	require.Equal(t, 20, released)
	require.Equal(t, uint64(1), r.lowmemCount.Load())
	// 26 pages of shortage, 20 of them covered by the handler.
	require.Equal(t, 16+20+6, d.FreeCount())
	checkQueues(t, d)
}

func TestRunPassIdle(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 256)
	d := r.Domain(0)
	r.RegisterLowMem("never", func(LowMemLevel) { require.FailNow(t, "unexpected low memory broadcast") })

	_, ok := d.RunPass(context.Background())
	require.True(t, ok)
	require.Equal(t, 256, d.FreeCount())
	require.Equal(t, uint64(1), d.Stats().Passes)
}

func TestConfigNotify(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	addRunning(r)
	t.Cleanup(func() {
		removeRunning(r)
		require.NoError(t, config.SetConfig(nil))
	})

	err := config.SetConfig(map[string]interface{}{
		"pageout": map[string]interface{}{
			"oomSeq":       5,
			"clusterPages": 8,
			"scanInterval": "50ms",
		},
	})
	require.NoError(t, err)
	tun := r.Tunables()
	require.Equal(t, 5, tun.OOMSeq)
	require.Equal(t, 8, tun.ClusterPages)
	require.Equal(t, config.Duration(50*time.Millisecond), tun.ScanInterval)

	err = config.SetConfig(map[string]interface{}{
		"pageout": map[string]interface{}{
			"oomSeq":          7,
			"inactiveThreads": 0,
		},
	})
	require.Error(t, err)
	require.Equal(t, 5, r.Tunables().OOMSeq, "rejected configuration must be reverted")
}

func TestSetTunables(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)

	tun := r.Tunables()
	tun.ClusterPages = 0
	require.Error(t, r.SetTunables(tun))
	require.Equal(t, DefaultTunables().ClusterPages, r.Tunables().ClusterPages)

	tun.ClusterPages = 4
	tun.PanicOnOOM = 3
	require.NoError(t, r.SetTunables(tun))
	require.Equal(t, 4, r.Tunables().ClusterPages)
	require.Equal(t, int64(3), r.panicOnOOM.Load())
}

func TestDump(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64, 128)
	fill(t, r.Domain(1), NewObject("obj", ObjectDefault, 8), 0, 8, allDirty)

	stats := r.Stats()
	require.Len(t, stats, 2)
	require.Equal(t, 120, stats[1].FreeCount)
	require.Equal(t, 8, stats[1].Queues[QueueInactive.String()])
	require.Equal(t, LaundryIdle.String(), stats[1].LaundryRequest)

	dump := r.Dump()
	require.True(t, strings.HasPrefix(dump, "domain 0: 64 pages, 64 free"), dump)
	require.Contains(t, dump, "domain 1: 128 pages, 120 free")
	require.Contains(t, dump, "oom kills 0")
}
