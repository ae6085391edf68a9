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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInactiveScanFreesClean(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 256)
	d := r.Domain(0)
	obj := NewObject("anon", ObjectDefault, 256)
	// two clean pages followed by a dirty one, 100 clean and 50 dirty
	fill(t, d, obj, 0, 150, func(i int) bool { return i%3 == 2 })
	free := d.FreeCount()

	left := d.scanInactive(60)

	require.Zero(t, left)
	require.Equal(t, free+60, d.FreeCount())
	require.Equal(t, 29, d.Queue(QueueLaundry).Len())
	for _, p := range d.Queue(QueueLaundry).Pages() {
		require.True(t, p.Dirty())
	}
	require.Equal(t, 150-60-29, d.Queue(QueueInactive).Len())
	require.Equal(t, 150-60, obj.ResidentCount())
	checkQueues(t, d)
}

func TestInactiveScanNoShortage(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 256)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 40, func(i int) bool { return i%2 == 0 })
	before := d.Queue(QueueInactive).Pages()
	free := d.FreeCount()

	require.Zero(t, d.scanInactive(0))

	require.Equal(t, before, d.Queue(QueueInactive).Pages())
	require.Equal(t, free, d.FreeCount())
	require.Zero(t, d.Queue(QueueLaundry).Len())
	checkQueues(t, d)
}

func TestInactiveScanReferenced(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)

	mapped := NewObject("mapped", ObjectDefault, 64)
	mp := fill(t, d, mapped, 0, 2, nil)
	mp[0].Map(false)
	mp[0].Touch(false)
	mp[1].Reference()

	unmapped := NewObject("unmapped", ObjectDefault, 64)
	unmapped.Deref()
	up := fill(t, d, unmapped, 0, 1, nil)
	up[0].Reference()

	left := d.scanInactive(3)

	require.Equal(t, 3, left)
	require.Equal(t, QueueActive, mp[0].Queue())
	require.Equal(t, uint8(ActAdvance+1), mp[0].State().ActCount)
	require.Equal(t, QueueActive, mp[1].Queue())
	require.Equal(t, QueueInactive, up[0].Queue())
	require.Zero(t, up[0].State().Flags&FlagReferenced)
	require.Equal(t, uint64(2), d.Stats().Reactivated)
	checkQueues(t, d)

	// The requeued page is freed by the next scan.
	require.Equal(t, 2, d.scanInactive(3))
	require.Nil(t, up[0].Object())
}

func TestInactiveScanSpecialPages(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	obj := NewObject("anon", ObjectDefault, 64)
	pages := fill(t, d, obj, 0, 4, nil)

	require.True(t, pages[0].TryXBusy())
	d.Wire(pages[1])
	pages[2].valid.Store(false)

	dead := NewObject("dead", ObjectDefault, 64)
	dp := fill(t, d, dead, 0, 1, allDirty)
	dead.SetDead()
	dead.Deref()

	left := d.scanInactive(10)

	// page 2 was invalid, page 3 clean
	require.Equal(t, 8, left)
	require.Equal(t, int64(1), d.addlShortage.Load())
	require.Equal(t, QueueInactive, pages[0].Queue())
	require.Equal(t, QueueNone, pages[1].Queue())
	require.Nil(t, pages[2].Object())
	require.Nil(t, pages[3].Object())
	require.Equal(t, QueueInactive, dp[0].Queue(), "dirty pages of dead objects stay")
	require.Equal(t, []uint64{0, 0}, queueOf(d, QueueInactive))
	checkQueues(t, d)
	pages[0].XUnbusy()
}

func TestInactiveScanMappedDirty(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	pages := fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 1, nil)

	p := pages[0]
	p.Map(true)
	p.Touch(true)
	p.accessed.Store(false)

	require.Equal(t, 1, d.scanInactive(1))
	require.True(t, p.Dirty(), "modified pages are found dirty")
	require.Equal(t, QueueLaundry, p.Queue())
}

func TestInactiveDispatch(t *testing.T) {
	tun := testTunables()
	tun.InactiveThreads = 4
	r := newTestReclaimer(t, &testPager{}, tun, 256)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 256), 0, 100, nil)
	free := d.FreeCount()

	// No estimate yet, the scan runs single threaded.
	require.Zero(t, d.inactiveDispatch(10))
	require.Zero(t, d.Stats().Dispatches)
	require.Positive(t, d.pps.Load())

	// Shortages above a fraction of the scan rate are split.
	d.pps.Store(100)
	require.Zero(t, d.inactiveDispatch(42))
	require.Equal(t, uint64(1), d.Stats().Dispatches)
	require.Equal(t, free+52, d.FreeCount())
	checkQueues(t, d)
}

func TestInactivePassLaundryRequest(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 10, allDirty)

	ok, addl := d.inactivePass(context.Background(), 20)
	require.False(t, ok)
	require.Zero(t, addl)
	require.Equal(t, LaundryShortfall, d.LaundryRequest())
	require.Equal(t, 10, d.Queue(QueueLaundry).Len())
	require.Equal(t, uint64(1), d.Stats().Shortfalls)
	require.Equal(t, 1, d.oomSeq)
}

func TestInactivePassDeficit(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 10, nil)
	d.deficit.Store(4)

	ok, addl := d.inactivePass(context.Background(), 2)
	require.True(t, ok)
	require.Equal(t, 4, addl)
	require.Zero(t, d.deficit.Load())
	require.Equal(t, 4, d.Queue(QueueInactive).Len())
	require.Equal(t, LaundryIdle, d.LaundryRequest(), "empty laundry and no swap")
	require.Zero(t, d.oomSeq)
}
