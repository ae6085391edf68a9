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

// ProcState is the lifecycle state of a process.
type ProcState int

const (
	// ProcNew is a process being created.
	ProcNew ProcState = iota
	// ProcNormal is a running process.
	ProcNormal
	// ProcZombie is an exited process.
	ProcZombie
)

// ProcFlags describe special process properties.
type ProcFlags uint32

const (
	// ProcSystem marks kernel processes.
	ProcSystem ProcFlags = 1 << iota
	// ProcProtected marks processes exempt from the OOM killer.
	ProcProtected
	// ProcExiting marks processes on their way out.
	ProcExiting
	// ProcInExec marks processes replacing their image.
	ProcInExec
	// ProcKilled marks processes already sent a kill.
	ProcKilled
)

const procIneligible = ProcSystem | ProcProtected | ProcExiting | ProcInExec | ProcKilled

// ThreadState is the scheduling state of a thread.
type ThreadState int

const (
	// ThreadRunning is a thread on a CPU.
	ThreadRunning ThreadState = iota
	// ThreadRunnable is a thread waiting for a CPU.
	ThreadRunnable
	// ThreadSleeping is a thread waiting for an event.
	ThreadSleeping
	// ThreadSuspended is a stopped thread.
	ThreadSuspended
	// ThreadSwapped is a thread whose kernel stack is swapped out.
	ThreadSwapped
	// ThreadInhibited is a thread in a transitional state.
	ThreadInhibited
)

// settled returns true for states in which the thread may be killed.
func (s ThreadState) settled() bool {
	switch s {
	case ThreadRunning, ThreadRunnable, ThreadSleeping, ThreadSuspended, ThreadSwapped:
		return true
	}
	return false
}

// Mapping is a range of a process address space backed by an object.
type Mapping struct {
	Object *Object
	// NeedsCopy is set for copy-on-write mappings not yet copied.
	NeedsCopy bool
	// SubMap is set for nested maps which are not accounted for.
	SubMap bool
}

// Process is a candidate for the OOM killer.
type Process interface {
	PID() int
	Name() string
	State() ProcState
	Flags() ProcFlags
	Threads() []ThreadState
	// TryLockMap tries to lock the address space for inspection.
	TryLockMap() bool
	UnlockMap()
	Mappings() []Mapping
	// Kill terminates the process, giving the reason.
	Kill(reason string)
}

// ProcessTable enumerates the processes of the system.
type ProcessTable interface {
	Processes() []Process
}

type emptyProcessTable struct{}

func (emptyProcessTable) Processes() []Process {
	return nil
}

// oomEligible returns true if the OOM killer may select p.
func oomEligible(p Process) bool {
	if p.PID() == 1 || p.State() != ProcNormal || p.Flags()&procIneligible != 0 {
		return false
	}
	for _, t := range p.Threads() {
		if !t.settled() {
			return false
		}
	}
	return true
}

// swapCount returns the number of swapped out pages in the address space
// of p. The map must be locked.
func swapCount(p Process) int {
	count := 0
	for _, m := range p.Mappings() {
		if m.SubMap || m.Object == nil {
			continue
		}
		if m.Object.Type().anonymous() {
			count += m.Object.SwapCount()
		}
	}
	return count
}

// residentCount returns the number of resident pages attributable to p.
// Copy-on-write mappings of shared objects are skipped. The map must be
// locked.
func residentCount(p Process) int {
	count := 0
	for _, m := range p.Mappings() {
		if m.SubMap || m.Object == nil {
			continue
		}
		if m.NeedsCopy && m.Object.RefCount() != 1 {
			continue
		}
		switch m.Object.Type() {
		case ObjectDefault, ObjectSwap, ObjectPhys, ObjectVnode:
			count += m.Object.ResidentCount()
		}
	}
	return count
}
