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

package vmsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
)

func testOptions() Options {
	o := Configured()
	o.DomainPages = 512
	o.SwapPages = 2048
	o.Processes = 4
	o.ProcessPages = 512
	o.Files = 2
	o.FilePages = 128
	o.Threads = 4
	o.FaultTimeout = config.Duration(200 * time.Millisecond)
	return o
}

func testTunables() pageout.Tunables {
	t := pageout.DefaultTunables()
	t.ScanInterval = config.Duration(10 * time.Millisecond)
	t.LaunderInterval = config.Duration(10 * time.Millisecond)
	return t
}

func newTestMachine(t *testing.T, o Options) *Machine {
	m, err := New(o, pageout.WithTunables(testTunables()))
	require.NoError(t, err)
	return m
}

// allocPages makes n pages of obj resident in domain d, starting at pindex.
func allocPages(t *testing.T, d *pageout.Domain, obj *pageout.Object, pindex uint64, n int) []*pageout.Page {
	obj.Lock()
	defer obj.Unlock()
	pages := []*pageout.Page{}
	for i := 0; i < n; i++ {
		p, err := d.AllocPage(obj, pindex+uint64(i), pageout.AllocInterrupt)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	return pages
}

func testDomain(t *testing.T) *pageout.Domain {
	r, err := pageout.New([]pageout.DomainConfig{{Pages: 64}}, pageout.WithTunables(testTunables()))
	require.NoError(t, err)
	return r.Domain(0)
}

func TestOptionsValidate(t *testing.T) {
	o := testOptions()
	require.NoError(t, o.Validate())

	o.Domains = -1
	o.Threads = 0
	o.HotRatio = 1.5
	o.FaultTimeout = 0
	err := o.Validate()
	require.Error(t, err)
	for _, msg := range []string{"domain count", "thread count", "hotRatio", "faultTimeout"} {
		require.Contains(t, err.Error(), msg)
	}

	_, err = New(o)
	require.Error(t, err)
}

func TestPagerSwapSlots(t *testing.T) {
	d := testDomain(t)
	pager := NewPager(2, 0, 0)
	full := 0
	pager.OnSwapFull(func() { full++ })
	require.True(t, pager.SwapConfigured())
	require.False(t, NewPager(0, 0, 0).SwapConfigured())

	obj := pageout.NewObject("anon", pageout.ObjectDefault, 8)
	pages := allocPages(t, d, obj, 0, 3)

	status := pager.PutPages(context.Background(), obj, pages, 0)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerOK, pageout.PagerOK, pageout.PagerFail}, status)
	require.Equal(t, pageout.ObjectSwap, obj.Type())
	require.Equal(t, 2, obj.SwapCount())
	require.Equal(t, 1, full)
	require.True(t, pager.HasSwap(obj, 1))
	require.False(t, pager.HasSwap(obj, 2))

	// Rewriting a page reuses its slot.
	status = pager.PutPages(context.Background(), obj, pages[:1], 0)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerOK}, status)
	require.Equal(t, 2, obj.SwapCount())

	require.Equal(t, PagerStats{SwapUsed: 2, SwapCapacity: 2, SwapWrites: 3, Failures: 1}, pager.Stats())

	pager.Release(obj)
	require.Zero(t, obj.SwapCount())
	require.Zero(t, pager.Stats().SwapUsed)
}

func TestPagerVnodeAndStatus(t *testing.T) {
	d := testDomain(t)
	pager := NewPager(0, 0, 0)
	vp := pageout.NewVnode("file", 8)
	pages := allocPages(t, d, vp.Object(), 0, 3)

	pager.SetStatus(func(_ *pageout.Object, pindex uint64) pageout.PagerStatus {
		if pindex == 1 {
			return pageout.PagerAgain
		}
		return pageout.PagerOK
	})
	status := pager.PutPages(context.Background(), vp.Object(), pages, 0)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerOK, pageout.PagerAgain, pageout.PagerOK}, status)
	require.Equal(t, uint64(2), pager.Stats().VnodeWrites)

	dev := pageout.NewObject("dev", pageout.ObjectDevice, 1)
	pages = allocPages(t, d, dev, 0, 1)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerBad},
		pager.PutPages(context.Background(), dev, pages, 0))
}

func TestPagerAsync(t *testing.T) {
	d := testDomain(t)
	pager := NewPager(16, 10*time.Millisecond, 0)
	obj := pageout.NewObject("anon", pageout.ObjectDefault, 8)
	pages := allocPages(t, d, obj, 0, 2)
	for _, p := range pages {
		p.SetDirty()
		require.True(t, d.Launder(p))
		require.True(t, p.TrySBusy())
	}

	status := pager.PutPages(context.Background(), obj, pages[:1], 0)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerPend}, status)
	require.True(t, pages[0].Busy())

	status = pager.PutPages(context.Background(), obj, pages[1:], pageout.PutSync)
	require.Equal(t, []pageout.PagerStatus{pageout.PagerOK}, status)
	pages[1].SUnbusy()

	pager.Wait()
	require.False(t, pages[0].Busy())
	require.False(t, pages[0].Dirty())
	require.Equal(t, pageout.QueueInactive, pages[0].Queue())
}

func TestKill(t *testing.T) {
	// Without swap the low pids are fair game.
	o := testOptions()
	o.SwapPages = 0
	m := newTestMachine(t, o)
	d := m.Reclaimer().Domain(0)
	free := d.FreeCount()

	procs := m.Processes().List()
	require.Len(t, procs, 5)
	require.Equal(t, "init", procs[0].Name())

	w := NewWorkload(m)
	victim := procs[1]
	anon := victim.Mappings()[0].Object
	file := victim.Mappings()[1].Object
	refs := file.RefCount()
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Fault(context.Background(), victim, anon, uint64(i), true))
	}
	require.NoError(t, w.Fault(context.Background(), victim, file, 0, false))
	require.Equal(t, free-11, d.FreeCount())
	require.Equal(t, 10, anon.ResidentCount())

	killed := m.Reclaimer().OOM(pageout.OOMMem)
	require.NotNil(t, killed)
	require.Equal(t, victim.PID(), killed.PID())

	reason, ok := victim.Killed()
	require.True(t, ok)
	require.Equal(t, pageout.OOMMem.String(), reason)
	require.Nil(t, m.Processes().Lookup(victim.PID()))
	require.True(t, anon.Dead())
	require.Zero(t, anon.ResidentCount())
	require.Equal(t, refs-1, file.RefCount())
	require.Equal(t, free-1, d.FreeCount(), "file pages stay cached")

	// Faults on a dead object are ignored.
	require.NoError(t, w.Fault(context.Background(), victim, anon, 0, true))
	require.Equal(t, free-1, d.FreeCount())
}

func TestFaultResident(t *testing.T) {
	m := newTestMachine(t, testOptions())
	w := NewWorkload(m)
	p := m.Processes().List()[1]
	obj := p.Mappings()[0].Object
	ctx := context.Background()

	require.NoError(t, w.Fault(ctx, p, obj, 3, false))
	require.NoError(t, w.Fault(ctx, p, obj, 3, true))
	require.Equal(t, WorkloadStats{Faults: 2, Hits: 1, Allocs: 1}, w.Stats())

	obj.Lock()
	pg := obj.Lookup(3)
	obj.Unlock()
	require.NotNil(t, pg)
	require.True(t, pg.Mapped())
}

func TestWorkload(t *testing.T) {
	m := newTestMachine(t, testOptions())
	d := m.Reclaimer().Domain(0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer func() {
		require.NoError(t, m.Stop())
	}()

	w := NewWorkload(m)
	require.NoError(t, w.Run(ctx, 3000))

	stats := w.Stats()
	require.Equal(t, uint64(3000), stats.Faults)
	require.Greater(t, stats.Allocs, uint64(d.PageCount()), "pages must have been recycled")
	require.Contains(t, m.Dump(), "swap ")
}

func TestWorkloadFaultCount(t *testing.T) {
	m := newTestMachine(t, testOptions())
	w := NewWorkload(m)
	ctx := context.Background()

	// init and killed processes map nothing and must not eat up faults
	procs := m.Processes().List()
	for _, p := range procs[2:] {
		p.Kill("test")
	}
	require.NoError(t, w.Run(ctx, 50))
	require.Equal(t, uint64(50), w.Stats().Faults)

	procs[1].Kill("test")
	require.NoError(t, w.Run(ctx, 50))
	require.Equal(t, uint64(50), w.Stats().Faults, "nothing left to fault")
}
