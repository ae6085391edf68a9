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
	"sort"
	"sync"

	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
)

// Proc is a simulated process.
type Proc struct {
	mapLock sync.Mutex
	mu      sync.Mutex
	pid     int
	name    string
	state   pageout.ProcState
	flags   pageout.ProcFlags
	threads []pageout.ThreadState
	maps    []pageout.Mapping
	table   *Table
	reason  string
}

var _ pageout.Process = &Proc{}

// PID implements pageout.Process.
func (p *Proc) PID() int {
	return p.pid
}

// Name implements pageout.Process.
func (p *Proc) Name() string {
	return p.name
}

// State implements pageout.Process.
func (p *Proc) State() pageout.ProcState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Flags implements pageout.Process.
func (p *Proc) Flags() pageout.ProcFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// SetFlags replaces the process flags.
func (p *Proc) SetFlags(flags pageout.ProcFlags) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags = flags
}

// Threads implements pageout.Process.
func (p *Proc) Threads() []pageout.ThreadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pageout.ThreadState{}, p.threads...)
}

// SetThread sets the state of thread i.
func (p *Proc) SetThread(i int, state pageout.ThreadState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= 0 && i < len(p.threads) {
		p.threads[i] = state
	}
}

// TryLockMap implements pageout.Process.
func (p *Proc) TryLockMap() bool {
	return p.mapLock.TryLock()
}

// UnlockMap implements pageout.Process.
func (p *Proc) UnlockMap() {
	p.mapLock.Unlock()
}

// Mappings implements pageout.Process.
func (p *Proc) Mappings() []pageout.Mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pageout.Mapping{}, p.maps...)
}

// Killed returns the reason the process was killed for, if it was.
func (p *Proc) Killed() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason, p.flags&pageout.ProcKilled != 0
}

// Kill implements pageout.Process. The process exits right away, dropping
// its mappings.
func (p *Proc) Kill(reason string) {
	p.mu.Lock()
	if p.flags&pageout.ProcKilled != 0 {
		p.mu.Unlock()
		return
	}
	p.flags |= pageout.ProcKilled
	p.state = pageout.ProcZombie
	p.reason = reason
	maps := p.maps
	p.maps = nil
	p.mu.Unlock()

	log.Warn("pid %d (%s) killed: %s", p.pid, p.name, reason)
	p.table.exit(p, maps)
}

// Table is the simulated process table.
type Table struct {
	sync.Mutex
	procs   map[int]*Proc
	nextPID int
	release func(obj *pageout.Object)
}

var _ pageout.ProcessTable = &Table{}

// NewTable creates a process table. The release function is called for
// anonymous objects which lose their last mapping.
func NewTable(release func(obj *pageout.Object)) *Table {
	return &Table{
		procs:   make(map[int]*Proc),
		nextPID: 1,
		release: release,
	}
}

// Spawn creates a process with the given threads and mappings. The process
// takes over one reference to each mapped object, dropped when it exits.
func (t *Table) Spawn(name string, threads int, maps ...pageout.Mapping) *Proc {
	t.Lock()
	defer t.Unlock()

	p := &Proc{
		pid:     t.nextPID,
		name:    name,
		state:   pageout.ProcNormal,
		threads: make([]pageout.ThreadState, max(threads, 1)),
		maps:    maps,
		table:   t,
	}
	for i := range p.threads {
		p.threads[i] = pageout.ThreadSleeping
	}
	t.procs[p.pid] = p
	t.nextPID++

	log.Debug("spawned pid %d (%s) with %d mappings", p.pid, name, len(maps))
	return p
}

// Lookup returns the live process with the given pid.
func (t *Table) Lookup(pid int) *Proc {
	t.Lock()
	defer t.Unlock()
	return t.procs[pid]
}

// Processes implements pageout.ProcessTable.
func (t *Table) Processes() []pageout.Process {
	procs := t.List()
	list := make([]pageout.Process, 0, len(procs))
	for _, p := range procs {
		list = append(list, p)
	}
	return list
}

// List returns the live processes in pid order.
func (t *Table) List() []*Proc {
	t.Lock()
	defer t.Unlock()
	procs := make([]*Proc, 0, len(t.procs))
	for _, p := range t.procs {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].pid < procs[j].pid })
	return procs
}

func (t *Table) exit(p *Proc, maps []pageout.Mapping) {
	t.Lock()
	delete(t.procs, p.pid)
	t.Unlock()

	for _, m := range maps {
		obj := m.Object
		if obj == nil {
			continue
		}
		obj.Deref()
		if obj.RefCount() == 0 && obj.Type() != pageout.ObjectVnode && t.release != nil {
			t.release(obj)
		}
	}
}
