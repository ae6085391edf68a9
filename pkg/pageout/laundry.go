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
	"errors"
	"time"

	"go.opencensus.io/trace"
)

// laundryState is the private state of the laundry worker of a domain.
type laundryState struct {
	inShortfall bool
	shortfall   int
	cycle       int
	target      int
	lastTarget  int
	nfreed      int
}

// wakeLaundry kicks the laundry worker. The laundry lock must be held.
func (d *Domain) wakeLaundry() {
	select {
	case d.laundryWake <- struct{}{}:
	default:
	}
}

// LaundryRequest returns the pending laundry request of the domain.
func (d *Domain) LaundryRequest() LaundryRequest {
	d.laundryMu.Lock()
	defer d.laundryMu.Unlock()
	return d.laundryReq
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

func howmany(x, y int) int {
	if y <= 0 {
		y = 1
	}
	return (x + y - 1) / y
}

// kbToPages converts a size in kilobytes to pages.
func (d *Domain) kbToPages(kb int) int {
	return kb * 1024 / d.pageSize
}

// laundryPlan decides how many pages to launder in the next run. A posted
// shortfall is laundered over launderRate/inactiveScanRate runs. Otherwise
// background laundering starts once the ratio of dirty to clean pages
// exceeds a threshold which decreases as the inactive scan keeps freeing
// clean pages, and proceeds at the background rate up to a budget.
func (d *Domain) laundryPlan(st *laundryState) int {
	t := d.r.Tunables()

	if st.shortfall > 0 {
		st.inShortfall = true
		st.cycle = launderRate / inactiveScanRate
		st.target = st.shortfall
	} else if st.inShortfall && (st.cycle == 0 || d.PagingTarget() <= 0) {
		st.inShortfall = false
		st.target = 0
	}
	if st.inShortfall {
		launder := st.target / max(st.cycle, 1)
		st.cycle--
		return launder
	}

	nclean := d.FreeCount() + d.queues[QueueInactive].Len()
	ndirty := d.queues[QueueLaundry].Len()
	if st.target == 0 &&
		ndirty*isqrt(howmany(st.nfreed+1, d.th.FreeTarget-d.th.FreeMin)) >= nclean {
		st.target = d.th.BackgroundLaunderTarget
	}

	launder := 0
	if st.target > 0 {
		if st.nfreed > 0 {
			st.nfreed = 0
			st.lastTarget = st.target
		} else if st.lastTarget-st.target >= d.kbToPages(t.BackgroundLaunderMax) {
			st.target = 0
		}
		// Larger pages may round the rate down to nothing.
		launder = min(max(d.kbToPages(t.BackgroundLaunderRate)/launderRate, 1), st.target)
	}
	return launder
}

// laundryPoll collects the requests posted by the worker. With block set it
// sleeps until a request arrives if there is nothing left to do. It returns
// false if ctx is done.
func (d *Domain) laundryPoll(ctx context.Context, st *laundryState, block bool) bool {
	d.laundryMu.Lock()
	if block && st.target == 0 && d.laundryReq == LaundryIdle {
		d.laundryMu.Unlock()
		select {
		case <-d.laundryWake:
		case <-ctx.Done():
			return false
		}
		d.laundryMu.Lock()
	}

	if d.laundryReq == LaundryShortfall && (!st.inShortfall || st.cycle == 0) {
		st.shortfall = d.PagingTarget() + int(d.deficit.Load())
		st.target = 0
	} else {
		st.shortfall = 0
	}
	if st.target == 0 {
		d.laundryReq = LaundryIdle
	}
	st.nfreed += d.cleanPagesFreed
	d.cleanPagesFreed = 0
	d.laundryMu.Unlock()

	return true
}

// laundryWorker is the laundry thread of the domain.
func (d *Domain) laundryWorker(ctx context.Context) error {
	var st laundryState

	log.Info("domain %d: laundry worker started", d.id)
	defer log.Info("domain %d: laundry worker stopped", d.id)

	for {
		if !d.laundryRun(ctx, &st) || !d.laundryPoll(ctx, &st, true) {
			return nil
		}
	}
}

// laundryRun launders the pages planned for this run. As long as a target
// is pending it then pauses for LaunderInterval, even if nothing could be
// laundered. It returns false if ctx is done.
func (d *Domain) laundryRun(ctx context.Context, st *laundryState) bool {
	launder := d.laundryPlan(st)
	if launder > 0 {
		n := d.launder(ctx, launder, st.inShortfall)
		st.target -= min(n, st.target)
	}
	if launder == 0 && st.target == 0 {
		return true
	}
	select {
	case <-time.After(time.Duration(d.r.Tunables().LaunderInterval)):
		return true
	case <-ctx.Done():
		return false
	}
}

// launder writes back up to n dirty pages, starting with the unswappable
// queue if swap is available. Pages found referenced are reactivated; in
// background mode these count toward n. It returns the number of pages
// laundered.
func (d *Domain) launder(ctx context.Context, n int, inShortfall bool) int {
	ctx, span := trace.StartSpan(ctx, "pageout.Launder")
	defer span.End()

	t := d.r.Tunables()
	d.stats.laundryRuns.Add(1)

	initial := n
	skipped := 0

	kinds := []QueueType{QueueLaundry}
	if d.r.pager.SwapConfigured() {
		kinds = []QueueType{QueueUnswappable, QueueLaundry}
	}

	for _, kind := range kinds {
		if n <= 0 {
			break
		}
		q := d.queues[kind]
		c := q.BeginScan(NewMarker("laundry"), nil, nil, q.Len())

		var obj *Object
		for n > 0 {
			p := c.Next(false)
			if p == nil {
				break
			}
			if st := p.State(); st.Queue != kind || st.Pending() {
				continue
			}

			o := p.Object()
			if o == nil {
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
					continue
				}
			}

			if !p.TryXBusy() {
				continue
			}
			if p.Wired() {
				d.changeQueue(p, func(s PageState) bool {
					return s.Queue == kind
				}, QueueNone, false, nil)
				p.XUnbusy()
				continue
			}
			if !p.Valid() {
				if !d.freeEnqueued(p, kind) {
					p.XUnbusy()
				}
				continue
			}

			refs := 0
			if obj.RefCount() != 0 {
				refs = d.pmap.TSReferenced(p)
			}
			moved, reactivated := d.laundryReferenced(p, obj, kind, refs)
			if reactivated {
				d.stats.reactivated.Add(1)
				if !inShortfall {
					n--
				}
			}
			if moved {
				p.XUnbusy()
				continue
			}

			if obj.RefCount() != 0 {
				d.testDirty(p)
				if !p.Dirty() && !d.tryRemoveAll(p) {
					p.XUnbusy()
					continue
				}
			}

			switch {
			case !p.Dirty():
				if d.freeEnqueued(p, kind) {
					d.stats.freed.Add(1)
				} else {
					p.XUnbusy()
				}
			case obj.Dead():
				p.XUnbusy()
			case obj.Type().anonymous() && t.DisableSwapPageouts:
				d.changeQueue(p, func(s PageState) bool {
					return s.Queue == kind
				}, kind, false, nil)
				p.XUnbusy()
			default:
				// The object lock is dropped by pageoutClean.
				pindex := p.pindex
				written, err := d.pageoutClean(ctx, p, obj)
				obj = nil
				switch {
				case err == nil:
					n -= written
					c.AddScanned(written)
				case errors.Is(err, ErrBusy):
					skipped++
					d.stats.vnodeSkips.Add(1)
				default:
					rlog.Warn("domain %d: page %d not laundered: %v", d.id, pindex, err)
				}
			}
		}
		if obj != nil {
			obj.Unlock()
		}
		c.End()
	}

	if skipped > 0 && n > 0 {
		rlog.Warn("domain %d: %d vnodes skipped, kicking the syncer", d.id, skipped)
		d.r.syncer()
	}

	span.AddAttributes(
		trace.Int64Attribute("domain", int64(d.id)),
		trace.Int64Attribute("laundered", int64(initial-n)),
		trace.BoolAttribute("shortfall", inShortfall),
	)
	return initial - n
}

// laundryReferenced handles a reference to a laundry page. Pages of mapped
// objects are reactivated, those of unmapped live objects requeued. It
// returns whether the page was moved and whether it was reactivated.
func (d *Domain) laundryReferenced(p *Page, obj *Object, kind QueueType, refs int) (bool, bool) {
	for {
		old := p.State()
		if old.Queue != kind || old.Pending() {
			return true, false
		}
		delta := refs
		if old.Flags&FlagReferenced != 0 {
			delta++
		}
		if delta == 0 {
			return false, false
		}
		switch {
		case obj.RefCount() != 0:
			if d.commitMove(p, old, QueueActive, false, func(s *PageState) {
				s.Flags &^= FlagReferenced
				s.ActCount = uint8(min(int(old.ActCount)+ActAdvance+delta, ActMax))
			}) {
				return true, true
			}
		case !obj.Dead():
			if d.commitMove(p, old, kind, false, func(s *PageState) {
				s.Flags &^= FlagReferenced
			}) {
				return true, false
			}
		default:
			return false, false
		}
	}
}

// pageoutClean writes out a dirty laundry page along with its dirty
// neighbours. The object must be locked and p exclusively busy. For vnode
// objects the vnode lock is taken first, with a bounded wait, after which
// the page is revalidated. The object is unlocked on return.
func (d *Domain) pageoutClean(ctx context.Context, p *Page, obj *Object) (int, error) {
	if obj.Type() == ObjectVnode {
		vp := obj.Vnode()
		pindex := p.pindex

		p.XUnbusy()
		if vp == nil || vp.Suspended() {
			obj.Unlock()
			return 0, ErrBusy
		}

		obj.Ref()
		obj.Unlock()
		defer obj.Deref()

		unlock, err := vp.TryLockTimeout(ctx, time.Duration(d.r.Tunables().VnodeLockTimeout))
		if err != nil {
			return 0, err
		}
		defer unlock()

		obj.Lock()
		if vp.Object() != obj {
			obj.Unlock()
			return 0, ErrStaleObject
		}
		if !p.State().InLaundry() || p.Object() != obj || p.pindex != pindex || !p.Dirty() {
			obj.Unlock()
			return 0, ErrNotInLaundry
		}
		if !p.TryXBusy() {
			obj.Unlock()
			return 0, ErrPageBusy
		}
	}

	if !d.tryRemoveWrite(p) {
		p.XUnbusy()
		obj.Unlock()
		return 0, ErrPageBusy
	}

	n := d.cluster(ctx, p)
	if n == 0 {
		return 0, ErrIO
	}
	return n, nil
}
