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
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
)

// WorkloadStats are the counters of a workload.
type WorkloadStats struct {
	Faults     uint64 `json:"faults"`
	Hits       uint64 `json:"hits"`
	SoftFaults uint64 `json:"softFaults"`
	Allocs     uint64 `json:"allocs"`
	SwapIns    uint64 `json:"swapIns"`
	Waits      uint64 `json:"waits"`
	Timeouts   uint64 `json:"timeouts"`
	OOMKills   uint64 `json:"oomKills"`
}

// Workload faults pages of the processes of a machine. Accesses go mostly
// to a hot set at the start of each mapping.
type Workload struct {
	m *Machine

	faults     atomic.Uint64
	hits       atomic.Uint64
	softFaults atomic.Uint64
	allocs     atomic.Uint64
	swapIns    atomic.Uint64
	waits      atomic.Uint64
	timeouts   atomic.Uint64
	oomKills   atomic.Uint64
}

// NewWorkload creates a workload for the machine.
func NewWorkload(m *Machine) *Workload {
	return &Workload{m: m}
}

// Run performs n faults spread over the configured number of threads.
func (w *Workload) Run(ctx context.Context, n int) error {
	threads := w.m.opts.Threads
	g, ctx := errgroup.WithContext(ctx)
	seed := time.Now().UnixNano()
	for i := 0; i < threads; i++ {
		count := n / threads
		if i == 0 {
			count += n % threads
		}
		rnd := rand.New(rand.NewSource(seed + int64(i)))
		g.Go(func() error {
			return w.thread(ctx, rnd, count)
		})
	}
	return g.Wait()
}

func (w *Workload) thread(ctx context.Context, rnd *rand.Rand, n int) error {
	o := w.m.opts
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, obj := w.target(rnd)
		if obj == nil {
			return nil
		}
		pindex := w.pick(rnd, obj.Size())
		write := rnd.Float64() < o.WriteRatio
		if err := w.Fault(ctx, p, obj, pindex, write); err != nil {
			return err
		}
		n--
	}
	return nil
}

// target picks a random mapped object of a random process. It returns a
// nil object if no process maps anything.
func (w *Workload) target(rnd *rand.Rand) (*Proc, *pageout.Object) {
	type mapped struct {
		p    *Proc
		objs []*pageout.Object
	}
	var candidates []mapped
	for _, p := range w.m.procs.List() {
		var objs []*pageout.Object
		for _, mp := range p.Mappings() {
			if mp.Object != nil && mp.Object.Size() > 0 {
				objs = append(objs, mp.Object)
			}
		}
		if len(objs) > 0 {
			candidates = append(candidates, mapped{p, objs})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	c := candidates[rnd.Intn(len(candidates))]
	return c.p, c.objs[rnd.Intn(len(c.objs))]
}

// pick returns a page index within size, favoring the hot set.
func (w *Workload) pick(rnd *rand.Rand, size uint64) uint64 {
	o := w.m.opts
	hot := max(uint64(float64(size)*o.HotRatio), 1)
	if rnd.Float64() < o.HotAccess {
		return uint64(rnd.Int63n(int64(hot)))
	}
	return uint64(rnd.Int63n(int64(size)))
}

// Fault accesses the page at pindex of obj on behalf of p, allocating it
// in the home domain of p if it is not resident. A fault which cannot get
// a page within FaultTimeout asks for an OOM kill and gives up.
func (w *Workload) Fault(ctx context.Context, p *Proc, obj *pageout.Object, pindex uint64, write bool) error {
	w.faults.Add(1)
	domains := w.m.r.Domains()
	d := domains[p.PID()%len(domains)]

	for {
		done, err := w.tryFault(d, p, obj, pindex, write)
		if done || err != nil {
			return err
		}

		w.waits.Add(1)
		wctx, cancel := context.WithTimeout(ctx, time.Duration(w.m.opts.FaultTimeout))
		err = d.WaitFree(wctx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.timeouts.Add(1)
		if victim := w.m.r.OOM(pageout.OOMPageFault); victim != nil {
			w.oomKills.Add(1)
		}
		return nil
	}
}

// tryFault returns true once the fault is resolved, false if no page
// could be allocated.
func (w *Workload) tryFault(d *pageout.Domain, p *Proc, obj *pageout.Object, pindex uint64, write bool) (bool, error) {
	p.mapLock.Lock()
	defer p.mapLock.Unlock()
	obj.Lock()
	defer obj.Unlock()

	if obj.Dead() {
		return true, nil
	}

	if pg := obj.Lookup(pindex); pg != nil {
		if pg.Mapped() {
			w.hits.Add(1)
		} else {
			w.softFaults.Add(1)
			pg.Domain().Activate(pg)
		}
		if !pg.Mapped() || write {
			pg.Map(write)
		}
		pg.Touch(write)
		return true, nil
	}

	pg, err := d.AllocPage(obj, pindex, pageout.AllocNormal)
	switch {
	case errors.Is(err, pageout.ErrNoFreePages):
		return false, nil
	case err != nil:
		return false, vmsimError("fault at %s:%d: %w", obj.Name(), pindex, err)
	}

	w.allocs.Add(1)
	if w.m.pager.HasSwap(obj, pindex) {
		w.swapIns.Add(1)
	}
	pg.Map(write)
	pg.Touch(write)
	return true, nil
}

// Stats returns the workload counters.
func (w *Workload) Stats() WorkloadStats {
	return WorkloadStats{
		Faults:     w.faults.Load(),
		Hits:       w.hits.Load(),
		SoftFaults: w.softFaults.Load(),
		Allocs:     w.allocs.Load(),
		SwapIns:    w.swapIns.Load(),
		Waits:      w.waits.Load(),
		Timeouts:   w.timeouts.Load(),
		OOMKills:   w.oomKills.Load(),
	}
}
