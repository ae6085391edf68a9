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

import "context"

// clusterable busies and write-protects a neighbour of a page being
// laundered if it can be written out along with it.
func (d *Domain) clusterable(p *Page) bool {
	if p == nil || !p.TryXBusy() {
		return false
	}
	if p.Wired() {
		p.XUnbusy()
		return false
	}
	d.testDirty(p)
	if !p.Dirty() || !p.State().InLaundry() || !d.tryRemoveWrite(p) {
		p.XUnbusy()
		return false
	}
	return true
}

// cluster gathers the dirty laundry pages adjacent to m into a single write
// of at most ClusterPages pages. It scans backwards first, stopping at a
// cluster aligned page index, then forwards, then backwards again if room is
// left. The object must be locked and m exclusively busy and write
// protected. The object is unlocked on return.
func (d *Domain) cluster(ctx context.Context, m *Page) int {
	obj := m.Object()
	k := max(d.r.Tunables().ClusterPages, 1)
	pindex := m.pindex

	mc := make([]*Page, 2*k-1)
	base := k - 1
	mc[base] = m
	count := 1
	pb, ps := m, m
	ib, is := uint64(1), uint64(1)

	for {
		for ib != 0 && count < k {
			if ib > pindex {
				ib = 0
				break
			}
			p := obj.prev(pb)
			if !d.clusterable(p) {
				ib = 0
				break
			}
			base--
			mc[base] = p
			pb = p
			count++
			ib++
			// Stop at an alignment boundary and switch directions.
			if (pindex-(ib-1))%uint64(k) == 0 {
				break
			}
		}
		for count < k && pindex+is < obj.Size() {
			p := obj.next(ps)
			if !d.clusterable(p) {
				break
			}
			mc[base+count] = p
			ps = p
			count++
			is++
		}
		if ib == 0 || count >= k {
			break
		}
	}

	n, _, _ := d.flush(ctx, obj, mc[base:base+count], 0, PutNoreuse)
	return n
}

// flush writes a run of exclusively busy, write protected pages of obj to
// the pager and handles the outcome for each page. mreq is the index of the
// page which triggered the write. The object must be locked and is unlocked
// on return. It returns the number of pages written or queued for writing,
// the length of the written run starting at mreq, and whether an I/O error
// occurred within that run.
func (d *Domain) flush(ctx context.Context, obj *Object, mc []*Page, mreq int, flags PutFlags) (int, int, bool) {
	for _, p := range mc {
		p.downgrade()
	}
	obj.Unlock()

	status := d.r.pager.PutPages(ctx, obj, mc, flags)

	count := 0
	runlen := len(mc) - mreq
	eio := false
	for i, p := range mc {
		st := PagerAgain
		if i < len(status) {
			st = status[i]
		}

		switch st {
		case PagerOK:
			p.Undirty()
			if p.State().InLaundry() {
				d.DeactivateNoreuse(p)
			}
			count++
		case PagerPend:
			count++
		case PagerBad:
			p.Undirty()
			if p.State().InLaundry() {
				d.DeactivateNoreuse(p)
			}
		case PagerError, PagerFail:
			if st == PagerFail && obj.Type().anonymous() {
				d.Unswappable(p)
				count++
			} else {
				d.Activate(p)
			}
			if i >= mreq && i-mreq < runlen {
				eio = true
			}
		case PagerAgain:
			if i >= mreq && i-mreq < runlen {
				runlen = i - mreq
			}
		}

		if st != PagerPend {
			p.SUnbusy()
		}
	}

	d.stats.laundered.Add(uint64(count))
	return count, runlen, eio
}
