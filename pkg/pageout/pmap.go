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

// Pmap is the interface to the hardware mapping state of pages.
type Pmap interface {
	// TSReferenced returns and clears the number of references to the
	// page since the last call.
	TSReferenced(p *Page) int
	// IsModified returns true if the page was written through a mapping.
	IsModified(p *Page) bool
	// RemoveWrite revokes write access to the page.
	RemoveWrite(p *Page)
	// RemoveAll removes every mapping of the page.
	RemoveAll(p *Page)
}

// SoftPmap tracks page mappings in the page itself.
type SoftPmap struct{}

var _ Pmap = SoftPmap{}

// TSReferenced implements Pmap.
func (SoftPmap) TSReferenced(p *Page) int {
	if p.accessed.Swap(false) {
		return 1
	}
	return 0
}

// IsModified implements Pmap.
func (SoftPmap) IsModified(p *Page) bool {
	return p.modified.Load()
}

// RemoveWrite implements Pmap.
func (SoftPmap) RemoveWrite(p *Page) {
	p.writeable.Store(false)
	if p.modified.Swap(false) {
		p.SetDirty()
	}
}

// RemoveAll implements Pmap.
func (pm SoftPmap) RemoveAll(p *Page) {
	pm.RemoveWrite(p)
	p.accessed.Store(false)
	p.mapped.Store(0)
}

// testDirty transfers the hardware modified state to the page.
func (d *Domain) testDirty(p *Page) {
	if !p.Dirty() && d.pmap.IsModified(p) {
		p.SetDirty()
	}
}

// tryRemoveWrite write-protects an unwired page.
func (d *Domain) tryRemoveWrite(p *Page) bool {
	if p.Wired() {
		return false
	}
	d.pmap.RemoveWrite(p)
	return true
}

// tryRemoveAll unmaps an unwired page.
func (d *Domain) tryRemoveAll(p *Page) bool {
	if p.Wired() {
		return false
	}
	d.pmap.RemoveAll(p)
	return true
}
