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
	"sort"
	"strings"
	"sync/atomic"
)

// QueueType identifies the page queue a page logically belongs to.
type QueueType uint8

const (
	// QueueNone means the page is on no queue.
	QueueNone QueueType = iota
	// QueueInactive holds candidates for reclamation.
	QueueInactive
	// QueueActive holds recently used pages.
	QueueActive
	// QueueLaundry holds dirty pages waiting to be written back.
	QueueLaundry
	// QueueUnswappable holds dirty anonymous pages which failed to
	// page out to swap.
	QueueUnswappable

	queueCount
)

var queueNames = [queueCount]string{
	QueueNone:        "none",
	QueueInactive:    "inactive",
	QueueActive:      "active",
	QueueLaundry:     "laundry",
	QueueUnswappable: "unswappable",
}

// String returns the name of the queue.
func (q QueueType) String() string {
	if q < queueCount {
		return queueNames[q]
	}
	return "unknown"
}

// PageFlags are the atomically updated page queue flags.
type PageFlags uint8

const (
	// FlagEnqueued is set while the page is physically linked on the
	// queue named by its QueueType.
	FlagEnqueued PageFlags = 1 << iota
	// FlagReferenced records a reference noticed while the page was owned
	// by a scanner.
	FlagReferenced
	// FlagQueueOpPending marks a queue transition in progress. Only the
	// thread which set it may relink the page.
	FlagQueueOpPending
	// FlagSwapFreePending asks for the swap space of the page to be
	// released once it is next dirtied.
	FlagSwapFreePending
)

// String returns the flags in a human readable form.
func (f PageFlags) String() string {
	names := []string{}
	for bit, name := range map[PageFlags]string{
		FlagEnqueued:        "enqueued",
		FlagReferenced:      "referenced",
		FlagQueueOpPending:  "pending",
		FlagSwapFreePending: "swapfree",
	} {
		if f&bit != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// PageState is the queue state of a page. It is read and updated as a
// single word.
type PageState struct {
	Queue    QueueType
	Flags    PageFlags
	ActCount uint8
}

func (s PageState) pack() uint32 {
	return uint32(s.Queue) | uint32(s.Flags)<<8 | uint32(s.ActCount)<<16
}

func unpackState(v uint32) PageState {
	return PageState{
		Queue:    QueueType(v & 0xff),
		Flags:    PageFlags((v >> 8) & 0xff),
		ActCount: uint8((v >> 16) & 0xff),
	}
}

// Pending returns true if a queue transition is in progress.
func (s PageState) Pending() bool {
	return s.Flags&FlagQueueOpPending != 0
}

// InLaundry returns true if the state places the page in the laundry.
func (s PageState) InLaundry() bool {
	return s.Queue == QueueLaundry || s.Queue == QueueUnswappable
}

const (
	busyNone      = 0
	busyExclusive = -1
)

// Page is a physical page frame.
type Page struct {
	state  atomic.Uint32
	object atomic.Pointer[Object]
	domain *Domain
	node   qnode

	// pindex is protected by the object lock.
	pindex uint64

	busy  atomic.Int32
	wired atomic.Int32
	dirty atomic.Bool
	valid atomic.Bool

	// software MMU state
	mapped    atomic.Int32
	writeable atomic.Bool
	accessed  atomic.Bool
	modified  atomic.Bool
}

// State returns the current queue state of the page.
func (p *Page) State() PageState {
	return unpackState(p.state.Load())
}

// TryCommit atomically replaces the state old with new. It fails if the
// state has changed since old was read.
func (p *Page) TryCommit(old, new PageState) bool {
	return p.state.CompareAndSwap(old.pack(), new.pack())
}

// update applies fn to the state until the change commits. fn may veto the
// change by returning false.
func (p *Page) update(fn func(*PageState) bool) (PageState, bool) {
	for {
		old := p.State()
		nw := old
		if !fn(&nw) {
			return old, false
		}
		if p.TryCommit(old, nw) {
			return old, true
		}
	}
}

// Queue returns the queue the page logically belongs to.
func (p *Page) Queue() QueueType {
	return p.State().Queue
}

// Object returns the object the page belongs to. The read is not
// synchronized with the object lock: callers must revalidate it once the
// object is locked.
func (p *Page) Object() *Object {
	return p.object.Load()
}

// PIndex returns the offset of the page within its object. The object
// must be locked.
func (p *Page) PIndex() uint64 {
	return p.pindex
}

// Domain returns the domain the page frame belongs to.
func (p *Page) Domain() *Domain {
	return p.domain
}

// Reference records a reference to the page. It is picked up by the next
// scan of the page's queue.
func (p *Page) Reference() {
	p.update(func(s *PageState) bool {
		if s.Flags&FlagReferenced != 0 {
			return false
		}
		s.Flags |= FlagReferenced
		return true
	})
}

// TryXBusy tries to busy the page exclusively.
func (p *Page) TryXBusy() bool {
	return p.busy.CompareAndSwap(busyNone, busyExclusive)
}

// XUnbusy releases an exclusive busy.
func (p *Page) XUnbusy() {
	p.busy.Store(busyNone)
}

// TrySBusy tries to busy the page shared.
func (p *Page) TrySBusy() bool {
	for {
		b := p.busy.Load()
		if b == busyExclusive {
			return false
		}
		if p.busy.CompareAndSwap(b, b+1) {
			return true
		}
	}
}

// SUnbusy releases a shared busy.
func (p *Page) SUnbusy() {
	p.busy.Add(-1)
}

// downgrade converts an exclusive busy to a shared one.
func (p *Page) downgrade() {
	p.busy.CompareAndSwap(busyExclusive, 1)
}

// Busy returns true if the page is busied.
func (p *Page) Busy() bool {
	return p.busy.Load() != busyNone
}

// Wired returns true if the page is wired.
func (p *Page) Wired() bool {
	return p.wired.Load() > 0
}

// Dirty returns true if the page contents differ from its backing store.
func (p *Page) Dirty() bool {
	return p.dirty.Load()
}

// SetDirty marks the page dirty.
func (p *Page) SetDirty() {
	p.dirty.Store(true)
	p.update(func(s *PageState) bool {
		if s.Flags&FlagSwapFreePending == 0 {
			return false
		}
		s.Flags &^= FlagSwapFreePending
		return true
	})
}

// Undirty marks the page clean.
func (p *Page) Undirty() {
	p.dirty.Store(false)
}

// Valid returns true if the page holds valid data.
func (p *Page) Valid() bool {
	return p.valid.Load()
}

// SetValid marks the page contents valid.
func (p *Page) SetValid() {
	p.valid.Store(true)
}

// Map records a new mapping of the page.
func (p *Page) Map(write bool) {
	p.mapped.Add(1)
	if write {
		p.writeable.Store(true)
	}
}

// Mapped returns true if the page has mappings.
func (p *Page) Mapped() bool {
	return p.mapped.Load() > 0
}

// Touch simulates an access through a mapping of the page.
func (p *Page) Touch(write bool) {
	p.accessed.Store(true)
	if write && p.writeable.Load() {
		p.modified.Store(true)
	}
}

// reset returns a freed frame to its initial state.
func (p *Page) reset() {
	p.state.Store(PageState{}.pack())
	p.object.Store(nil)
	p.pindex = 0
	p.dirty.Store(false)
	p.valid.Store(false)
	p.mapped.Store(0)
	p.writeable.Store(false)
	p.accessed.Store(false)
	p.modified.Store(false)
	p.busy.Store(busyNone)
}
