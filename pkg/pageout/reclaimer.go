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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DomainConfig describes a memory domain.
type DomainConfig struct {
	// Pages is the number of page frames in the domain.
	Pages int
	// Thresholds overrides the computed free page thresholds.
	Thresholds *Thresholds
}

// Option is an option for a Reclaimer.
type Option func(*Reclaimer) error

// WithPager sets the pager used to write back dirty pages.
func WithPager(p Pager) Option {
	return func(r *Reclaimer) error {
		if p == nil {
			return pageoutError("nil pager")
		}
		r.pager = p
		return nil
	}
}

// WithProcesses sets the process table searched by the OOM killer.
func WithProcesses(t ProcessTable) Option {
	return func(r *Reclaimer) error {
		r.procs = t
		return nil
	}
}

// WithPmap sets the interface to page mapping state.
func WithPmap(pm Pmap) Option {
	return func(r *Reclaimer) error {
		r.pmap = pm
		return nil
	}
}

// WithTunables overrides the configured tunables.
func WithTunables(t Tunables) Option {
	return func(r *Reclaimer) error {
		if err := t.Validate(); err != nil {
			return err
		}
		r.tun.Store(&t)
		return nil
	}
}

// WithPageSize sets the page size in bytes.
func WithPageSize(size int) Option {
	return func(r *Reclaimer) error {
		if size <= 0 || size&(size-1) != 0 {
			return pageoutError("invalid page size %d", size)
		}
		r.pageSize = size
		return nil
	}
}

// WithSyncer sets the function to call to speed up the filesystem syncer
// when vnodes could not be laundered.
func WithSyncer(fn func()) Option {
	return func(r *Reclaimer) error {
		r.syncer = fn
		return nil
	}
}

// WithClock sets the time source of the reclaimer.
func WithClock(now func() time.Time) Option {
	return func(r *Reclaimer) error {
		r.now = now
		return nil
	}
}

// Reclaimer reclaims pages in a set of domains.
type Reclaimer struct {
	sync.Mutex
	tun      atomic.Pointer[Tunables]
	domains  []*Domain
	pager    Pager
	procs    ProcessTable
	pmap     Pmap
	pageSize int
	now      func() time.Time
	syncer   func()

	oomVote    atomic.Int32
	oomKills   atomic.Uint64
	panicOnOOM atomic.Int64
	pfLimit    *rate.Limiter

	lowmemMu    sync.Mutex
	lowmem      map[int]*lowmemHandler
	lowmemNext  int
	lowmemLimit *rate.Limiter
	lowmemCount atomic.Uint64

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a reclaimer for the given domains. Unless overridden with
// WithTunables the currently configured tunables are used.
func New(domains []DomainConfig, options ...Option) (*Reclaimer, error) {
	if len(domains) == 0 {
		return nil, pageoutError("no domains given")
	}

	r := &Reclaimer{
		pager:    nullPager{},
		procs:    emptyProcessTable{},
		pmap:     SoftPmap{},
		pageSize: defaultPageSize,
		now:      time.Now,
		syncer:   func() {},
		lowmem:   make(map[int]*lowmemHandler),
	}
	t := *opt
	r.tun.Store(&t)

	for _, o := range options {
		if err := o(r); err != nil {
			return nil, pageoutError("failed to create reclaimer: %w", err)
		}
	}

	t = *r.tun.Load()
	r.panicOnOOM.Store(int64(t.PanicOnOOM))
	r.pfLimit = rate.NewLimiter(rate.Every(time.Duration(t.OOMPFInterval)), 1)
	r.lowmemLimit = rate.NewLimiter(rate.Every(time.Duration(t.LowmemPeriod)), 1)

	for id, dc := range domains {
		if dc.Pages <= 0 {
			return nil, pageoutError("domain %d: invalid page count %d", id, dc.Pages)
		}
		r.domains = append(r.domains, newDomain(r, id, dc.Pages, dc.Thresholds))
	}

	return r, nil
}

// Tunables returns the tunables in effect.
func (r *Reclaimer) Tunables() Tunables {
	return *r.tun.Load()
}

// SetTunables changes the tunables. Changes take effect with the next pass
// of each worker.
func (r *Reclaimer) SetTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	old := r.tun.Swap(&t)
	if old.PanicOnOOM != t.PanicOnOOM {
		r.panicOnOOM.Store(int64(t.PanicOnOOM))
	}
	r.pfLimit.SetLimit(rate.Every(time.Duration(t.OOMPFInterval)))
	r.lowmemLimit.SetLimit(rate.Every(time.Duration(t.LowmemPeriod)))
	return nil
}

// Domains returns the domains of the reclaimer.
func (r *Reclaimer) Domains() []*Domain {
	return r.domains
}

// Domain returns the domain with the given id.
func (r *Reclaimer) Domain(id int) *Domain {
	if id < 0 || id >= len(r.domains) {
		return nil
	}
	return r.domains[id]
}

// PageSize returns the page size in bytes.
func (r *Reclaimer) PageSize() int {
	return r.pageSize
}

// OOMKills returns the number of processes killed for lack of memory.
func (r *Reclaimer) OOMKills() uint64 {
	return r.oomKills.Load()
}

// Start starts the page and laundry workers of every domain.
func (r *Reclaimer) Start(ctx context.Context) error {
	r.Lock()
	defer r.Unlock()

	if r.cancel != nil {
		return pageoutError("reclaimer already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range r.domains {
		d := d
		g.Go(func() error { return d.worker(gctx) })
		g.Go(func() error { return d.laundryWorker(gctx) })
	}
	r.cancel = cancel
	r.group = g

	addRunning(r)
	log.Info("started reclaiming %d domain(s)", len(r.domains))

	return nil
}

// Stop stops the workers and waits for them to finish.
func (r *Reclaimer) Stop() error {
	r.Lock()
	defer r.Unlock()

	if r.cancel == nil {
		return nil
	}
	removeRunning(r)
	r.cancel()
	err := r.group.Wait()
	r.cancel = nil
	r.group = nil

	log.Info("stopped")
	return err
}

var (
	runningMu sync.Mutex
	running   = make(map[*Reclaimer]struct{})
)

func addRunning(r *Reclaimer) {
	runningMu.Lock()
	defer runningMu.Unlock()
	running[r] = struct{}{}
}

func removeRunning(r *Reclaimer) {
	runningMu.Lock()
	defer runningMu.Unlock()
	delete(running, r)
}

func runningReclaimers() []*Reclaimer {
	runningMu.Lock()
	defer runningMu.Unlock()
	list := make([]*Reclaimer, 0, len(running))
	for r := range running {
		list = append(list, r)
	}
	return list
}
