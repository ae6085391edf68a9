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
	"time"

	"go.opencensus.io/trace"
)

// scanInactive frees up to shortage clean pages from the inactive queue.
// Referenced pages are reactivated and dirty ones are sent to the laundry.
// Several scans of the same queue may run concurrently, each with its own
// marker. It returns the part of the shortage left uncovered.
func (d *Domain) scanInactive(shortage int) int {
	start := time.Now()
	initial := shortage
	addl := 0
	reactivated := 0

	q := d.queues[QueueInactive]
	c := q.BeginScan(NewMarker("inactive"), nil, nil, q.Len())

	var obj *Object
	for shortage > 0 {
		// Don't hold the object lock while collecting the next batch.
		if obj != nil && c.BatchEmpty() {
			obj.Unlock()
			obj = nil
		}
		p := c.Next(true)
		if p == nil {
			break
		}

		if p.Wired() {
			d.place(p, QueueNone, QueueNone, false, nil)
			continue
		}

		o := p.Object()
		if o == nil {
			c.Reinsert(p)
			continue
		}
		if o != obj {
			if obj != nil {
				obj.Unlock()
			}
			obj = o
			obj.Lock()
			if p.Object() != obj {
				obj.Unlock()
				obj = nil
				c.Reinsert(p)
				continue
			}
		}

		if !p.TryXBusy() {
			addl++
			c.Reinsert(p)
			continue
		}
		if p.Wired() {
			d.place(p, QueueNone, QueueNone, false, nil)
			p.XUnbusy()
			continue
		}
		if !p.Valid() {
			d.freePage(p)
			shortage--
			continue
		}

		refs := 0
		if obj.RefCount() != 0 {
			refs = d.pmap.TSReferenced(p)
		}
		st := p.State()
		delta := refs
		if st.Flags&FlagReferenced != 0 {
			delta++
		}
		if delta != 0 {
			switch {
			case obj.RefCount() != 0:
				d.place(p, QueueNone, QueueActive, false, func(s *PageState) {
					s.Flags &^= FlagReferenced
					s.ActCount = uint8(min(int(s.ActCount)+ActAdvance+delta, ActMax))
				})
				reactivated++
				p.XUnbusy()
				continue
			case !obj.Dead():
				d.place(p, QueueNone, QueueInactive, false, func(s *PageState) {
					s.Flags &^= FlagReferenced
				})
				p.XUnbusy()
				continue
			}
		}

		if obj.RefCount() != 0 {
			d.testDirty(p)
			if !p.Dirty() && !d.tryRemoveAll(p) {
				c.Reinsert(p)
				p.XUnbusy()
				continue
			}
		}

		switch {
		case !p.Dirty():
			d.freePage(p)
			shortage--
		case !obj.Dead():
			d.place(p, QueueNone, QueueLaundry, false, nil)
			p.XUnbusy()
		default:
			// Dirty pages of dying objects are left to their destroyer.
			c.Reinsert(p)
			p.XUnbusy()
		}
	}
	if obj != nil {
		obj.Unlock()
	}
	c.End()

	d.addlShortage.Add(int64(addl))
	d.inactiveFreed.Add(int64(initial - shortage))
	d.inactiveTime.Add(int64(time.Since(start) / time.Microsecond))
	d.stats.freed.Add(uint64(initial - shortage))
	d.stats.reactivated.Add(uint64(reactivated))

	return shortage
}

// inactiveDispatch covers the shortage with the inactive scanners of the
// domain. Large shortages are split among helper scans, with the remainder
// handled by the calling one. It returns the uncovered shortage and updates
// the pages per second estimate of the scan.
func (d *Domain) inactiveDispatch(shortage int) int {
	threads := d.r.Tunables().InactiveThreads
	pps := int(d.pps.Load())

	var wg sync.WaitGroup
	own := shortage
	if threads > 1 && pps != 0 && shortage > pps/inactiveScanRate/4 {
		per := shortage / threads
		own = per + shortage%threads
		d.stats.dispatches.Add(1)
		for i := 1; i < threads; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.scanInactive(per)
			}()
		}
		log.Debug("domain %d: inactive scan of %d pages split over %d threads", d.id, shortage, threads)
	}
	d.scanInactive(own)
	wg.Wait()

	freed := int(d.inactiveFreed.Swap(0))
	us := max(d.inactiveTime.Swap(0), 1)
	d.pps.Store(int64(pps/2 + int(int64(freed)*1000000/us)/2))

	return shortage - freed
}

// inactivePass runs the inactive scan for a pass of the worker and passes
// the unmet shortage on to the laundry and OOM detection. It returns true if
// the shortage was covered, along with the extra shortage to be covered by
// the active scan.
func (d *Domain) inactivePass(ctx context.Context, shortage int) (bool, int) {
	ctx, span := trace.StartSpan(ctx, "pageout.Inactive")
	defer span.End()

	deficit := int(d.deficit.Swap(0))
	initial := shortage + deficit
	remaining := initial
	if initial > 0 {
		remaining = d.inactiveDispatch(initial)
		recordFreed(ctx, d.id, initial-remaining)
	}

	if initial > 0 {
		d.laundryMu.Lock()
		if d.laundryReq == LaundryIdle &&
			(d.queues[QueueLaundry].Len() > 0 || d.r.pager.SwapConfigured()) {
			if remaining > 0 {
				d.laundryReq = LaundryShortfall
				d.stats.shortfalls.Add(1)
			} else {
				d.laundryReq = LaundryBackground
			}
			d.wakeLaundry()
		}
		d.cleanPagesFreed += initial - remaining
		d.laundryMu.Unlock()
	}

	span.AddAttributes(
		trace.Int64Attribute("shortage", int64(initial)),
		trace.Int64Attribute("remaining", int64(remaining)),
	)
	d.r.mightBeOOM(d, remaining, initial)

	addl := int(d.addlShortage.Swap(0)) + deficit
	return remaining <= 0, addl
}
