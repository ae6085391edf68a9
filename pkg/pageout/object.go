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

	"golang.org/x/sync/semaphore"
)

// ObjectType is the kind of backing store of an Object.
type ObjectType int

const (
	// ObjectDefault is anonymous memory without swap space assigned yet.
	ObjectDefault ObjectType = iota
	// ObjectSwap is anonymous memory backed by swap.
	ObjectSwap
	// ObjectVnode is memory backed by a file.
	ObjectVnode
	// ObjectPhys is wired physical memory.
	ObjectPhys
	// ObjectDevice is device memory.
	ObjectDevice
)

var objectTypeNames = map[ObjectType]string{
	ObjectDefault: "default",
	ObjectSwap:    "swap",
	ObjectVnode:   "vnode",
	ObjectPhys:    "phys",
	ObjectDevice:  "device",
}

// String returns the name of the object type.
func (t ObjectType) String() string {
	if name, ok := objectTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// anonymous returns true for types whose pages are paged out to swap.
func (t ObjectType) anonymous() bool {
	return t == ObjectDefault || t == ObjectSwap
}

// Object is a collection of pages with a common backing store.
type Object struct {
	mu       sync.Mutex
	name     string
	typ      atomic.Int32
	size     uint64
	refs     atomic.Int32
	dead     atomic.Bool
	pages    map[uint64]*Page
	resident atomic.Int64
	swapped  atomic.Int64
	vnode    *Vnode
}

// NewObject creates an object of the given type and size in pages with a
// single reference.
func NewObject(name string, typ ObjectType, size uint64) *Object {
	o := &Object{
		name:  name,
		size:  size,
		pages: make(map[uint64]*Page),
	}
	o.typ.Store(int32(typ))
	o.refs.Store(1)
	return o
}

// Name returns the name of the object.
func (o *Object) Name() string {
	return o.name
}

// Type returns the type of the object.
func (o *Object) Type() ObjectType {
	return ObjectType(o.typ.Load())
}

// SetType changes the type of the object, for instance once swap space
// is first assigned to a default object.
func (o *Object) SetType(typ ObjectType) {
	o.typ.Store(int32(typ))
}

// Size returns the size of the object in pages.
func (o *Object) Size() uint64 {
	return o.size
}

// Lock locks the object.
func (o *Object) Lock() {
	o.mu.Lock()
}

// TryLock tries to lock the object without blocking.
func (o *Object) TryLock() bool {
	return o.mu.TryLock()
}

// Unlock unlocks the object.
func (o *Object) Unlock() {
	o.mu.Unlock()
}

// Ref adds a reference to the object.
func (o *Object) Ref() {
	o.refs.Add(1)
}

// Deref drops a reference to the object.
func (o *Object) Deref() {
	o.refs.Add(-1)
}

// RefCount returns the number of references to the object. Pages of an
// object without references cannot be mapped.
func (o *Object) RefCount() int {
	return int(o.refs.Load())
}

// SetDead marks the object as being destroyed.
func (o *Object) SetDead() {
	o.dead.Store(true)
}

// Dead returns true if the object is being destroyed.
func (o *Object) Dead() bool {
	return o.dead.Load()
}

// ResidentCount returns the number of pages of the object in memory.
func (o *Object) ResidentCount() int {
	return int(o.resident.Load())
}

// SwapCount returns the number of pages of the object held in swap.
func (o *Object) SwapCount() int {
	return int(o.swapped.Load())
}

// AddSwap adjusts the number of pages of the object held in swap.
func (o *Object) AddSwap(delta int) {
	o.swapped.Add(int64(delta))
}

// Vnode returns the vnode backing the object, if any.
func (o *Object) Vnode() *Vnode {
	return o.vnode
}

// Lookup returns the resident page at pindex. The object must be locked.
func (o *Object) Lookup(pindex uint64) *Page {
	return o.pages[pindex]
}

// insert adds a page to the object. The object must be locked.
func (o *Object) insert(p *Page, pindex uint64) {
	p.pindex = pindex
	p.object.Store(o)
	o.pages[pindex] = p
	o.resident.Add(1)
}

// remove takes a page out of the object. The object must be locked.
func (o *Object) remove(p *Page) {
	if o.pages[p.pindex] == p {
		delete(o.pages, p.pindex)
		o.resident.Add(-1)
	}
	p.object.Store(nil)
}

// prev returns the resident page preceding p. The object must be locked.
func (o *Object) prev(p *Page) *Page {
	if p.pindex == 0 {
		return nil
	}
	return o.pages[p.pindex-1]
}

// next returns the resident page following p. The object must be locked.
func (o *Object) next(p *Page) *Page {
	return o.pages[p.pindex+1]
}

// Vnode is a file whose pages are cached in a vnode object. Writing its
// pages back requires the vnode lock.
type Vnode struct {
	name      string
	lock      *semaphore.Weighted
	object    atomic.Pointer[Object]
	suspended atomic.Bool
}

// NewVnode creates a vnode with a vnode object of the given size.
func NewVnode(name string, size uint64) *Vnode {
	v := &Vnode{
		name: name,
		lock: semaphore.NewWeighted(1),
	}
	o := NewObject(name, ObjectVnode, size)
	o.vnode = v
	v.object.Store(o)
	return v
}

// Name returns the name of the vnode.
func (v *Vnode) Name() string {
	return v.name
}

// Object returns the current object of the vnode.
func (v *Vnode) Object() *Object {
	return v.object.Load()
}

// Recycle gives the vnode a fresh object, marking the old one dead.
func (v *Vnode) Recycle() *Object {
	old := v.object.Load()
	o := NewObject(v.name, ObjectVnode, old.size)
	o.vnode = v
	v.object.Store(o)
	old.SetDead()
	return o
}

// Lock acquires the vnode lock, blocking until it is available.
func (v *Vnode) Lock(ctx context.Context) (func(), error) {
	if err := v.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { v.lock.Release(1) }, nil
}

// TryLockTimeout acquires the vnode lock, giving up with ErrBusy after the
// given timeout.
func (v *Vnode) TryLockTimeout(ctx context.Context, timeout time.Duration) (func(), error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := v.lock.Acquire(tctx, 1); err != nil {
		return nil, ErrBusy
	}
	return func() { v.lock.Release(1) }, nil
}

// Suspend blocks new writes to the vnode's filesystem.
func (v *Vnode) Suspend(state bool) {
	v.suspended.Store(state)
}

// Suspended returns true if writes to the vnode are blocked.
func (v *Vnode) Suspended() bool {
	return v.suspended.Load()
}
