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
	"sync/atomic"
	"time"
)

// Thresholds are the free page levels steering reclamation in a domain.
type Thresholds struct {
	// InterruptFreeMin is the reserve only interrupt allocations may use.
	InterruptFreeMin int `json:"interruptFreeMin"`
	// PageoutFreeMin is the reserve needed by the pageout path itself.
	PageoutFreeMin int `json:"pageoutFreeMin"`
	// FreeReserved is the reserve unavailable to normal allocations.
	FreeReserved int `json:"freeReserved"`
	// FreeMin is the level below which allocations sleep.
	FreeMin int `json:"freeMin"`
	// FreeSevere is the level of severe shortage.
	FreeSevere int `json:"freeSevere"`
	// FreeTarget is the level the worker aims for.
	FreeTarget int `json:"freeTarget"`
	// InactiveTarget is the desired length of the inactive queue.
	InactiveTarget int `json:"inactiveTarget"`
	// WakeupThresh is the level which wakes up the worker.
	WakeupThresh int `json:"wakeupThresh"`
	// BackgroundLaunderTarget is the background laundering goal.
	BackgroundLaunderTarget int `json:"backgroundLaunderTarget"`
}

// ComputeThresholds derives the thresholds of a domain from its page
// count, the number of initially free pages, the cluster size and the
// page size.
func ComputeThresholds(pages, free, clusterPages, pageSize int) Thresholds {
	th := Thresholds{InterruptFreeMin: 2}
	th.PageoutFreeMin = 2*maxIOSize/pageSize + th.InterruptFreeMin
	th.FreeReserved = clusterPages + th.PageoutFreeMin + pages/768
	th.FreeMin = pages / 200
	th.FreeSevere = th.FreeMin / 2
	th.FreeTarget = 4*th.FreeMin + th.FreeReserved
	th.FreeMin += th.FreeReserved
	th.FreeSevere += th.FreeReserved
	th.InactiveTarget = min(3*th.FreeTarget/2, free/3)
	th.WakeupThresh = th.FreeTarget / 10 * 9
	th.BackgroundLaunderTarget = (th.FreeTarget - th.FreeMin) / 10
	return th
}

// AllocClass selects the free page reserve an allocation may dip into.
type AllocClass int

const (
	// AllocNormal allocations leave the full reserve untouched.
	AllocNormal AllocClass = iota
	// AllocSystem allocations may use all but the interrupt reserve.
	AllocSystem
	// AllocInterrupt allocations may take the last free page.
	AllocInterrupt
)

// LaundryRequest is the kind of work requested from the laundry worker.
type LaundryRequest int

const (
	// LaundryIdle means no work is requested.
	LaundryIdle LaundryRequest = iota
	// LaundryBackground asks for background laundering.
	LaundryBackground
	// LaundryShortfall asks for laundering to cover an unmet shortage.
	LaundryShortfall
)

// String returns the name of the request.
func (r LaundryRequest) String() string {
	switch r {
	case LaundryIdle:
		return "idle"
	case LaundryBackground:
		return "background"
	case LaundryShortfall:
		return "shortfall"
	}
	return "unknown"
}

// counters are the cumulative event counts of a domain.
type counters struct {
	wakeups       atomic.Uint64
	passes        atomic.Uint64
	freed         atomic.Uint64
	reactivated   atomic.Uint64
	deactivated   atomic.Uint64
	laundered     atomic.Uint64
	laundryRuns   atomic.Uint64
	vnodeSkips    atomic.Uint64
	shortfalls    atomic.Uint64
	allocFailures atomic.Uint64
	dispatches    atomic.Uint64
}

// Domain is a set of page frames reclaimed together.
type Domain struct {
	id       int
	r        *Reclaimer
	pageSize int
	frames   []Page
	queues   [queueCount]*PageQueue
	pmap     Pmap
	th       Thresholds

	activeMarker *Marker
	clock        [2]*Marker

	freeMu    sync.Mutex
	free      []*Page
	freeCount atomic.Int64
	freeWait  chan struct{}

	deficit      atomic.Int64
	addlShortage atomic.Int64
	pid          *PIDController
	wanted       atomic.Bool
	wakeup       chan struct{}

	// active scan state, owned by the worker
	lastActiveScan time.Time

	// inactive scan rate estimate
	pps           atomic.Int64
	inactiveFreed atomic.Int64
	inactiveTime  atomic.Int64

	laundryMu       sync.Mutex
	laundryReq      LaundryRequest
	cleanPagesFreed int
	laundryWake     chan struct{}

	// OOM detection state, owned by the worker
	oomSeq   int
	oomVoted bool

	stats counters
}

func newDomain(r *Reclaimer, id, pages int, th *Thresholds) *Domain {
	t := r.Tunables()
	d := &Domain{
		id:          id,
		r:           r,
		pageSize:    r.pageSize,
		frames:      make([]Page, pages),
		pmap:        r.pmap,
		free:        make([]*Page, 0, pages),
		freeWait:    make(chan struct{}),
		wakeup:      make(chan struct{}, 1),
		laundryWake: make(chan struct{}, 1),
		clock:       [2]*Marker{NewMarker("clock0"), NewMarker("clock1")},
	}
	for kind := QueueInactive; kind < queueCount; kind++ {
		d.queues[kind] = newPageQueue(kind)
	}
	for i := len(d.frames) - 1; i >= 0; i-- {
		p := &d.frames[i]
		p.domain = d
		p.node.page = p
		d.free = append(d.free, p)
	}
	d.freeCount.Store(int64(len(d.free)))

	if th != nil {
		d.th = *th
	} else {
		d.th = ComputeThresholds(pages, len(d.free), t.ClusterPages, d.pageSize)
	}

	d.activeMarker = NewMarker("active")
	d.queues[QueueActive].InsertMarker(d.clock[0], false)
	d.queues[QueueActive].InsertMarker(d.clock[1], true)

	d.pid = NewPIDController(time.Second/inactiveScanRate, d.th.FreeTarget, d.th.FreeTarget, t.PID)

	return d
}

// ID returns the index of the domain.
func (d *Domain) ID() int {
	return d.id
}

// Thresholds returns the free page thresholds of the domain.
func (d *Domain) Thresholds() Thresholds {
	return d.th
}

// Queue returns the page queue of the given type.
func (d *Domain) Queue(kind QueueType) *PageQueue {
	if kind == QueueNone || kind >= queueCount {
		return nil
	}
	return d.queues[kind]
}

// FreeCount returns the number of free pages.
func (d *Domain) FreeCount() int {
	return int(d.freeCount.Load())
}

// PagingTarget returns the number of pages needed to reach the free target.
func (d *Domain) PagingTarget() int {
	return d.th.FreeTarget - d.FreeCount()
}

// PagingNeeded returns true if the free count is below the wakeup level.
func (d *Domain) PagingNeeded() bool {
	return d.FreeCount() < d.th.WakeupThresh
}

// PageCount returns the number of page frames in the domain.
func (d *Domain) PageCount() int {
	return len(d.frames)
}

// Wakeup kicks the worker of the domain unless it is already running.
func (d *Domain) Wakeup() {
	if d.wanted.CompareAndSwap(false, true) {
		select {
		case d.wakeup <- struct{}{}:
		default:
		}
	}
}

// AllocPage takes a free page and inserts it at pindex into obj, which must
// be locked. The page is valid, clean and placed on the inactive queue.
// If the free count is at or below the reserve of class the allocation
// fails with ErrNoFreePages, the shortfall is recorded and the worker is
// woken up.
func (d *Domain) AllocPage(obj *Object, pindex uint64, class AllocClass) (*Page, error) {
	var reserve int
	switch class {
	case AllocNormal:
		reserve = d.th.FreeReserved
	case AllocSystem:
		reserve = d.th.InterruptFreeMin
	}

	d.freeMu.Lock()
	if len(d.free) <= reserve {
		d.freeMu.Unlock()
		d.deficit.Add(1)
		d.stats.allocFailures.Add(1)
		d.Wakeup()
		return nil, ErrNoFreePages
	}
	p := d.free[len(d.free)-1]
	d.free = d.free[:len(d.free)-1]
	free := d.freeCount.Add(-1)
	d.freeMu.Unlock()

	if int(free) < d.th.WakeupThresh {
		d.Wakeup()
	}

	obj.insert(p, pindex)
	p.valid.Store(true)

	q := d.queues[QueueInactive]
	q.Lock()
	q.insertTail(&p.node)
	p.state.Store(PageState{Queue: QueueInactive, Flags: FlagEnqueued}.pack())
	q.Unlock()

	return p, nil
}

// WaitFree blocks until pages are freed or ctx is done.
func (d *Domain) WaitFree(ctx context.Context) error {
	d.freeMu.Lock()
	if len(d.free) > d.th.FreeMin {
		d.freeMu.Unlock()
		return nil
	}
	ch := d.freeWait
	d.freeMu.Unlock()

	d.Wakeup()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// freePage returns a page to the free list. The page must be off every
// queue and its object, if any, locked.
func (d *Domain) freePage(p *Page) {
	if obj := p.Object(); obj != nil {
		obj.remove(p)
	}
	p.reset()

	d.freeMu.Lock()
	d.free = append(d.free, p)
	d.freeCount.Add(1)
	ch := d.freeWait
	d.freeWait = make(chan struct{})
	d.freeMu.Unlock()

	close(ch)
}

// place links a page whose queue state is claimed by the caller on queue
// to, unlinking it first from queue from. The claim is then released.
func (d *Domain) place(p *Page, from, to QueueType, head bool, mutate func(*PageState)) {
	if from != QueueNone {
		q := d.queues[from]
		q.Lock()
		q.remove(&p.node)
		q.Unlock()
	}
	if to != QueueNone {
		q := d.queues[to]
		q.Lock()
		if head {
			q.insertHead(&p.node)
		} else {
			q.insertTail(&p.node)
		}
		q.Unlock()
	}
	p.update(func(s *PageState) bool {
		s.Queue = to
		s.Flags &^= FlagQueueOpPending
		if to != QueueNone {
			s.Flags |= FlagEnqueued
		} else {
			s.Flags &^= FlagEnqueued
		}
		if mutate != nil {
			mutate(s)
		}
		return true
	})
}

// changeQueue moves a page to queue to if check accepts its current state.
// It fails if another thread is moving the page.
func (d *Domain) changeQueue(p *Page, check func(PageState) bool, to QueueType, head bool, mutate func(*PageState)) bool {
	old, ok := p.update(func(s *PageState) bool {
		if s.Pending() || !check(*s) {
			return false
		}
		s.Flags |= FlagQueueOpPending
		return true
	})
	if !ok {
		return false
	}
	from := QueueNone
	if old.Flags&FlagEnqueued != 0 {
		from = old.Queue
	}
	d.place(p, from, to, head, mutate)
	return true
}

// commitMove atomically replaces the state old with a claimed state and
// moves the page to queue to. It fails if the state changed since old was
// read.
func (d *Domain) commitMove(p *Page, old PageState, to QueueType, head bool, mutate func(*PageState)) bool {
	nw := old
	nw.Flags |= FlagQueueOpPending
	if !p.TryCommit(old, nw) {
		return false
	}
	from := QueueNone
	if old.Flags&FlagEnqueued != 0 {
		from = old.Queue
	}
	d.place(p, from, to, head, mutate)
	return true
}

// Activate moves a page to the tail of the active queue. If a scanner owns
// the page the reference is recorded instead.
func (d *Domain) Activate(p *Page) {
	if p.Wired() || p.Object() == nil {
		return
	}
	for {
		old := p.State()
		nw := old
		switch {
		case old.Pending():
			nw.Flags |= FlagReferenced
			if p.TryCommit(old, nw) {
				return
			}
			continue
		case old.Queue == QueueActive:
			if old.ActCount >= ActInit {
				return
			}
			nw.ActCount = ActInit
			if p.TryCommit(old, nw) {
				return
			}
			continue
		}
		if d.commitMove(p, old, QueueActive, false, func(s *PageState) {
			s.ActCount = max(s.ActCount, ActInit)
			s.Flags &^= FlagReferenced
		}) {
			return
		}
	}
}

func (d *Domain) deactivate(p *Page, head bool) bool {
	if p.Wired() || p.Object() == nil {
		return false
	}
	return d.changeQueue(p, func(s PageState) bool {
		return head || s.Queue != QueueInactive
	}, QueueInactive, head, func(s *PageState) {
		s.Flags &^= FlagReferenced
	})
}

// Deactivate moves a page to the tail of the inactive queue.
func (d *Domain) Deactivate(p *Page) bool {
	return d.deactivate(p, false)
}

// DeactivateNoreuse moves a page to the head of the inactive queue, making
// it the next reclamation candidate.
func (d *Domain) DeactivateNoreuse(p *Page) bool {
	return d.deactivate(p, true)
}

// Launder moves a page to the tail of the laundry queue.
func (d *Domain) Launder(p *Page) bool {
	if p.Wired() || p.Object() == nil {
		return false
	}
	return d.changeQueue(p, func(PageState) bool { return true }, QueueLaundry, false, nil)
}

// Unswappable moves a page to the unswappable queue.
func (d *Domain) Unswappable(p *Page) bool {
	if p.Wired() || p.Object() == nil {
		return false
	}
	return d.changeQueue(p, func(s PageState) bool {
		return s.Queue != QueueUnswappable
	}, QueueUnswappable, false, nil)
}

// Dequeue takes a page off its queue.
func (d *Domain) Dequeue(p *Page) bool {
	return d.changeQueue(p, func(s PageState) bool {
		return s.Queue != QueueNone || s.Flags&FlagEnqueued != 0
	}, QueueNone, false, nil)
}

// Wire pins a page in memory. Wired pages are removed from their queue
// lazily by the scanners.
func (d *Domain) Wire(p *Page) {
	p.wired.Add(1)
}

// Unwire drops a wiring. When the last one goes a dequeued page is put on
// queue to.
func (d *Domain) Unwire(p *Page, to QueueType) {
	if p.wired.Add(-1) > 0 || p.Object() == nil {
		return
	}
	d.changeQueue(p, func(s PageState) bool {
		return s.Queue == QueueNone
	}, to, false, nil)
}

// freeEnqueued frees a page found on queue kind. It fails if the page was
// moved or referenced meanwhile. The page must be exclusively busy and its
// object locked.
func (d *Domain) freeEnqueued(p *Page, kind QueueType) bool {
	_, ok := p.update(func(s *PageState) bool {
		if s.Queue != kind || s.Pending() || s.Flags&FlagReferenced != 0 {
			return false
		}
		s.Flags |= FlagQueueOpPending
		return true
	})
	if !ok {
		return false
	}
	if p.State().Flags&FlagEnqueued != 0 {
		q := d.queues[kind]
		q.Lock()
		q.remove(&p.node)
		q.Unlock()
	}
	d.freePage(p)
	return true
}

// DestroyObject frees the resident pages of a dying object. Pages which are
// busy or owned by a scanner are marked clean and left for the scanners.
func (d *Domain) DestroyObject(obj *Object) {
	obj.Lock()
	defer obj.Unlock()

	obj.SetDead()
	for _, p := range obj.pages {
		if p.domain != d {
			continue
		}
		p.Undirty()
		if p.Wired() || !p.TryXBusy() {
			continue
		}
		if !d.freeEnqueued(p, p.Queue()) {
			p.XUnbusy()
		}
	}
}

// CompleteWrite finishes a write which the pager reported as pending.
func (d *Domain) CompleteWrite(p *Page, status PagerStatus) {
	defer p.SUnbusy()

	switch status {
	case PagerOK:
		p.Undirty()
		if p.State().InLaundry() {
			d.DeactivateNoreuse(p)
		}
	case PagerBad:
		p.Undirty()
		if p.State().InLaundry() {
			d.DeactivateNoreuse(p)
		}
	case PagerFail:
		if obj := p.Object(); obj != nil && obj.Type().anonymous() {
			d.Unswappable(p)
			return
		}
		d.Activate(p)
	case PagerError:
		d.Activate(p)
	}
}
