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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
)

// testPager records writes and answers with statuses picked by status.
type testPager struct {
	sync.Mutex
	swap   bool
	status func(obj *Object, pindex uint64) PagerStatus
	writes [][]uint64
}

func (tp *testPager) PutPages(_ context.Context, obj *Object, pages []*Page, _ PutFlags) []PagerStatus {
	tp.Lock()
	defer tp.Unlock()

	run := make([]uint64, 0, len(pages))
	status := make([]PagerStatus, 0, len(pages))
	for _, p := range pages {
		run = append(run, p.pindex)
		st := PagerOK
		if tp.status != nil {
			st = tp.status(obj, p.pindex)
		}
		status = append(status, st)
	}
	tp.writes = append(tp.writes, run)
	return status
}

func (tp *testPager) SwapConfigured() bool {
	return tp.swap
}

func (tp *testPager) Writes() [][]uint64 {
	tp.Lock()
	defer tp.Unlock()
	return append([][]uint64{}, tp.writes...)
}

// testClock is a manually advanced clock.
type testClock struct {
	sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

func testThresholds() *Thresholds {
	return &Thresholds{
		InterruptFreeMin:        2,
		PageoutFreeMin:          4,
		FreeReserved:            8,
		FreeMin:                 16,
		FreeSevere:              12,
		FreeTarget:              64,
		InactiveTarget:          96,
		WakeupThresh:            57,
		BackgroundLaunderTarget: 4,
	}
}

func testTunables() Tunables {
	t := DefaultTunables()
	t.ScanInterval = config.Duration(10 * time.Millisecond)
	t.LaunderInterval = config.Duration(10 * time.Millisecond)
	t.VnodeLockTimeout = config.Duration(5 * time.Millisecond)
	return t
}

// newTestReclaimer creates a reclaimer with one domain per page count.
func newTestReclaimer(t *testing.T, pager *testPager, tun Tunables, pages ...int) *Reclaimer {
	domains := []DomainConfig{}
	for _, n := range pages {
		domains = append(domains, DomainConfig{Pages: n, Thresholds: testThresholds()})
	}
	r, err := New(domains, WithPager(pager), WithTunables(tun))
	require.NoError(t, err)
	return r
}

// fill allocates n consecutive pages of obj starting at pindex, dirtying
// those selected by dirty.
func fill(t *testing.T, d *Domain, obj *Object, pindex uint64, n int, dirty func(i int) bool) []*Page {
	obj.Lock()
	defer obj.Unlock()

	pages := make([]*Page, 0, n)
	for i := 0; i < n; i++ {
		p, err := d.AllocPage(obj, pindex+uint64(i), AllocInterrupt)
		require.NoError(t, err)
		if dirty != nil && dirty(i) {
			p.SetDirty()
		}
		pages = append(pages, p)
	}
	return pages
}

func allDirty(int) bool { return true }

// queueOf returns the pages of a queue as pindexes.
func queueOf(d *Domain, kind QueueType) []uint64 {
	idx := []uint64{}
	for _, p := range d.Queue(kind).Pages() {
		idx = append(idx, p.pindex)
	}
	return idx
}

// checkQueues verifies that the queue state of every page matches its
// queue membership.
func checkQueues(t *testing.T, d *Domain) {
	for kind := QueueInactive; kind < queueCount; kind++ {
		for _, p := range d.Queue(kind).Pages() {
			s := p.State()
			require.Equal(t, kind, s.Queue, "page %d on %s queue", p.pindex, kind)
			require.NotZero(t, s.Flags&FlagEnqueued, "page %d not marked enqueued", p.pindex)
			require.False(t, s.Pending(), "page %d left pending", p.pindex)
		}
	}
}
