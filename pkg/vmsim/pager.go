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
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
)

// Pager writes anonymous pages to swap slots and file pages to their
// vnodes. Writes may be made asynchronous and fail at random.
type Pager struct {
	sync.Mutex
	slots    map[*pageout.Object]map[uint64]struct{}
	used     int
	capacity int
	rnd      *rand.Rand

	errorRate float64
	latency   time.Duration
	status    func(obj *pageout.Object, pindex uint64) pageout.PagerStatus

	swapFull  func()
	fullLimit *rate.Limiter

	swapWrites  atomic.Uint64
	vnodeWrites atomic.Uint64
	failures    atomic.Uint64
	pending     sync.WaitGroup
}

var _ pageout.Pager = &Pager{}

// NewPager creates a pager with the given swap capacity in pages.
func NewPager(swapPages int, latency time.Duration, errorRate float64) *Pager {
	return &Pager{
		slots:     make(map[*pageout.Object]map[uint64]struct{}),
		capacity:  swapPages,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		errorRate: errorRate,
		latency:   latency,
		fullLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SetStatus overrides the outcome of writes. Returning PagerOK lets the
// write proceed normally.
func (p *Pager) SetStatus(fn func(obj *pageout.Object, pindex uint64) pageout.PagerStatus) {
	p.Lock()
	defer p.Unlock()
	p.status = fn
}

// OnSwapFull sets the function called when a write fails for lack of swap.
// Calls are limited to one per second.
func (p *Pager) OnSwapFull(fn func()) {
	p.Lock()
	defer p.Unlock()
	p.swapFull = fn
}

// SwapConfigured implements pageout.Pager.
func (p *Pager) SwapConfigured() bool {
	return p.capacity > 0
}

// PutPages implements pageout.Pager.
func (p *Pager) PutPages(_ context.Context, obj *pageout.Object, pages []*pageout.Page, flags pageout.PutFlags) []pageout.PagerStatus {
	status := make([]pageout.PagerStatus, len(pages))
	full := false

	p.Lock()
	for i, pg := range pages {
		status[i] = p.write(obj, pg.PIndex())
		if status[i] == pageout.PagerFail && obj.Type() != pageout.ObjectVnode {
			full = true
		}
	}
	swapFull := p.swapFull
	p.Unlock()

	if full && swapFull != nil && p.fullLimit.Allow() {
		log.Warn("swap space exhausted (%d pages)", p.capacity)
		swapFull()
	}

	if p.latency == 0 || flags&pageout.PutSync != 0 {
		return status
	}

	for i, pg := range pages {
		if status[i] != pageout.PagerOK {
			continue
		}
		status[i] = pageout.PagerPend
		p.pending.Add(1)
		go func(pg *pageout.Page) {
			defer p.pending.Done()
			// The write is in flight and completes regardless of ctx.
			time.Sleep(p.latency)
			pg.Domain().CompleteWrite(pg, pageout.PagerOK)
		}(pg)
	}
	return status
}

// write stores a page. The pager must be locked.
func (p *Pager) write(obj *pageout.Object, pindex uint64) pageout.PagerStatus {
	if p.status != nil {
		if st := p.status(obj, pindex); st != pageout.PagerOK {
			p.failures.Add(1)
			return st
		}
	}
	if p.errorRate > 0 && p.rnd.Float64() < p.errorRate {
		p.failures.Add(1)
		return pageout.PagerError
	}

	switch obj.Type() {
	case pageout.ObjectVnode:
		p.vnodeWrites.Add(1)
		return pageout.PagerOK
	case pageout.ObjectDefault, pageout.ObjectSwap:
		slots, ok := p.slots[obj]
		if !ok {
			slots = make(map[uint64]struct{})
			p.slots[obj] = slots
		}
		if _, ok := slots[pindex]; !ok {
			if p.used >= p.capacity {
				p.failures.Add(1)
				return pageout.PagerFail
			}
			slots[pindex] = struct{}{}
			p.used++
			obj.AddSwap(1)
			if obj.Type() == pageout.ObjectDefault {
				obj.SetType(pageout.ObjectSwap)
			}
		}
		p.swapWrites.Add(1)
		return pageout.PagerOK
	}

	p.failures.Add(1)
	return pageout.PagerBad
}

// HasSwap returns true if the page at pindex of obj has a swap copy.
func (p *Pager) HasSwap(obj *pageout.Object, pindex uint64) bool {
	p.Lock()
	defer p.Unlock()
	_, ok := p.slots[obj][pindex]
	return ok
}

// Release frees the swap slots of an object.
func (p *Pager) Release(obj *pageout.Object) {
	p.Lock()
	defer p.Unlock()
	n := len(p.slots[obj])
	delete(p.slots, obj)
	p.used -= n
	obj.AddSwap(-n)
}

// Wait waits for asynchronous writes to complete.
func (p *Pager) Wait() {
	p.pending.Wait()
}

// PagerStats are the counters of a pager.
type PagerStats struct {
	SwapUsed     int    `json:"swapUsed"`
	SwapCapacity int    `json:"swapCapacity"`
	SwapWrites   uint64 `json:"swapWrites"`
	VnodeWrites  uint64 `json:"vnodeWrites"`
	Failures     uint64 `json:"failures"`
}

// Stats returns the pager counters.
func (p *Pager) Stats() PagerStats {
	p.Lock()
	used := p.used
	p.Unlock()
	return PagerStats{
		SwapUsed:     used,
		SwapCapacity: p.capacity,
		SwapWrites:   p.swapWrites.Load(),
		VnodeWrites:  p.vnodeWrites.Load(),
		Failures:     p.failures.Load(),
	}
}
