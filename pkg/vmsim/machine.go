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
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
)

// Machine is a simulated machine with a page reclaimer.
type Machine struct {
	opts  Options
	r     *pageout.Reclaimer
	pager *Pager
	procs *Table
	files []*pageout.Vnode
	syncs atomic.Uint64
}

// New creates a machine. Reclaimer options override the simulated
// collaborators.
func New(o Options, options ...pageout.Option) (*Machine, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	pageSize := unix.Getpagesize()
	sizes, err := hostDomains(o.Domains, o.DomainPages, pageSize)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		opts:  o,
		pager: NewPager(o.SwapPages, time.Duration(o.WriteLatency), o.ErrorRate),
	}
	m.procs = NewTable(m.release)

	domains := make([]pageout.DomainConfig, len(sizes))
	for i, pages := range sizes {
		domains[i].Pages = pages
	}
	options = append([]pageout.Option{
		pageout.WithPager(m.pager),
		pageout.WithProcesses(m.procs),
		pageout.WithPageSize(pageSize),
		pageout.WithSyncer(m.sync),
	}, options...)

	r, err := pageout.New(domains, options...)
	if err != nil {
		return nil, vmsimError("failed to create reclaimer: %w", err)
	}
	m.r = r
	m.pager.OnSwapFull(func() { r.OOM(pageout.OOMSwapZero) })

	for i := 0; i < o.Files; i++ {
		m.files = append(m.files, pageout.NewVnode(fmt.Sprintf("file%d", i), uint64(o.FilePages)))
	}

	initProc := m.procs.Spawn("init", 1)
	initProc.SetFlags(pageout.ProcSystem)
	for i := 0; i < o.Processes; i++ {
		m.Spawn(fmt.Sprintf("proc%d", i))
	}

	log.Info("created machine: domains of %v %dK pages, %d swap pages",
		sizes, pageSize/1024, o.SwapPages)

	return m, nil
}

// Spawn creates a process mapping anonymous memory and every file.
func (m *Machine) Spawn(name string) *Proc {
	maps := []pageout.Mapping{
		{Object: pageout.NewObject(name+"-anon", pageout.ObjectDefault, uint64(m.opts.ProcessPages))},
	}
	for _, vp := range m.files {
		obj := vp.Object()
		obj.Ref()
		maps = append(maps, pageout.Mapping{Object: obj})
	}
	return m.procs.Spawn(name, m.opts.Threads, maps...)
}

// release drops an anonymous object nobody maps any more.
func (m *Machine) release(obj *pageout.Object) {
	m.pager.Release(obj)
	for _, d := range m.r.Domains() {
		d.DestroyObject(obj)
	}
}

// sync stands in for the filesystem syncer, which would clean vnode pages
// the laundry could not get to.
func (m *Machine) sync() {
	m.syncs.Add(1)
	log.Debug("syncer kicked")
}

// Reclaimer returns the page reclaimer of the machine.
func (m *Machine) Reclaimer() *pageout.Reclaimer {
	return m.r
}

// Pager returns the pager of the machine.
func (m *Machine) Pager() *Pager {
	return m.pager
}

// Processes returns the process table of the machine.
func (m *Machine) Processes() *Table {
	return m.procs
}

// Files returns the files of the machine.
func (m *Machine) Files() []*pageout.Vnode {
	return m.files
}

// Start starts reclaiming pages.
func (m *Machine) Start(ctx context.Context) error {
	return m.r.Start(ctx)
}

// Stop stops reclaiming pages and waits for pending writes.
func (m *Machine) Stop() error {
	err := m.r.Stop()
	m.pager.Wait()
	return err
}

// Dump returns a human readable summary of the machine.
func (m *Machine) Dump() string {
	var b strings.Builder
	b.WriteString(m.r.Dump())

	ps := m.pager.Stats()
	fmt.Fprintf(&b, "swap %d/%d pages, %d swap writes, %d vnode writes, %d failures, %d syncs\n",
		ps.SwapUsed, ps.SwapCapacity, ps.SwapWrites, ps.VnodeWrites, ps.Failures, m.syncs.Load())

	for _, p := range m.procs.List() {
		resident, swapped := 0, 0
		for _, mp := range p.Mappings() {
			resident += mp.Object.ResidentCount()
			swapped += mp.Object.SwapCount()
		}
		fmt.Fprintf(&b, "pid %d %s: %d resident, %d swapped\n", p.PID(), p.Name(), resident, swapped)
	}
	return b.String()
}
