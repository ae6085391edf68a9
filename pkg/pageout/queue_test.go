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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func seq(from, n int) []uint64 {
	s := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		s = append(s, uint64(from+i))
	}
	return s
}

func TestScanBatches(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 20, nil)

	q := d.Queue(QueueInactive)
	c := q.BeginScan(NewMarker("test"), nil, nil, q.Len())

	visited := []uint64{}
	batches := 0
	for {
		if c.BatchEmpty() {
			batches++
		}
		p := c.Next(false)
		if p == nil {
			break
		}
		visited = append(visited, p.pindex)
	}
	c.End()

	require.Empty(t, cmp.Diff(seq(0, 20), visited))
	require.Equal(t, 20, c.Scanned())
	// 7 + 7 + 6 pages, then an empty collection ending the scan
	require.Equal(t, 4, batches)
	require.Equal(t, uint64(20), q.Scanned())
	require.Equal(t, 20, q.Len())
}

func TestScanMaxScan(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 20, nil)

	q := d.Queue(QueueInactive)
	c := q.BeginScan(NewMarker("test"), nil, nil, 9)
	n := 0
	for c.Next(false) != nil {
		n++
	}
	c.End()
	require.Equal(t, 9, n)
}

func TestScanDequeue(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 20, nil)

	q := d.Queue(QueueInactive)
	c := q.BeginScan(NewMarker("test"), nil, nil, q.Len())

	p := c.Next(true)
	require.NotNil(t, p)
	s := p.State()
	require.True(t, s.Pending())
	require.Zero(t, s.Flags&FlagEnqueued)
	require.Equal(t, QueueInactive, s.Queue)
	require.Equal(t, 13, q.Len(), "the whole batch is taken off the queue")

	// A page owned by the scan is not moved by others.
	require.False(t, d.Launder(p))
	d.Activate(p)
	require.NotZero(t, p.State().Flags&FlagReferenced)

	c.Reinsert(p)
	c.End()

	require.Equal(t, 20, q.Len())
	require.Empty(t, cmp.Diff(seq(0, 20), queueOf(d, QueueInactive)))
	checkQueues(t, d)
}

func TestScanSkipsMarkersAndPending(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	pages := fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 10, nil)

	q := d.Queue(QueueInactive)
	other := NewMarker("other")
	q.Lock()
	q.insertAfter(&other.node, &pages[4].node)
	q.Unlock()

	// Simulate a transition in progress on page 2.
	old := pages[2].State()
	nw := old
	nw.Flags |= FlagQueueOpPending
	require.True(t, pages[2].TryCommit(old, nw))

	c := q.BeginScan(NewMarker("test"), nil, nil, q.Len())
	got := []uint64{}
	for {
		p := c.Next(true)
		if p == nil {
			break
		}
		got = append(got, p.pindex)
		c.Reinsert(p)
	}
	c.End()
	q.RemoveMarker(other)

	require.Empty(t, cmp.Diff([]uint64{0, 1, 3, 4, 5, 6, 7, 8, 9}, got))
	require.Equal(t, 10, c.Scanned(), "pending pages count as scanned")
	require.Equal(t, 10, q.Len())
}

func TestScanStopMarker(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	pages := fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 10, nil)

	q := d.Queue(QueueInactive)
	stop := NewMarker("stop")
	q.Lock()
	q.insertAfter(&stop.node, &pages[5].node)
	q.Unlock()

	c := q.BeginScan(NewMarker("test"), nil, stop, q.Len())
	n := 0
	for c.Next(false) != nil {
		n++
	}
	require.True(t, c.AtStop())
	require.Equal(t, 6, n)
	c.End()
	q.RemoveMarker(stop)
}

func TestQueueTransitions(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64)
	d := r.Domain(0)
	pages := fill(t, d, NewObject("anon", ObjectDefault, 64), 0, 4, nil)

	d.Activate(pages[0])
	require.Equal(t, QueueActive, pages[0].Queue())
	require.Equal(t, uint8(ActInit), pages[0].State().ActCount)

	require.True(t, d.Launder(pages[1]))
	require.True(t, d.Unswappable(pages[2]))
	require.True(t, d.DeactivateNoreuse(pages[3]))
	require.Equal(t, []uint64{3}, queueOf(d, QueueInactive))

	require.True(t, d.Deactivate(pages[0]))
	require.Equal(t, []uint64{3, 0}, queueOf(d, QueueInactive))

	require.True(t, d.Dequeue(pages[1]))
	require.Equal(t, QueueNone, pages[1].Queue())
	require.Zero(t, d.Queue(QueueLaundry).Len())

	d.Wire(pages[1])
	d.Activate(pages[1])
	require.Equal(t, QueueNone, pages[1].Queue())
	d.Unwire(pages[1], QueueActive)
	require.Equal(t, QueueActive, pages[1].Queue())

	checkQueues(t, d)
}
