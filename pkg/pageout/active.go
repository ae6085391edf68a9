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

import "time"

// scanActive ages the active queue with a two-handed clock. The first hand
// marks where the previous scan stopped, the second one the tail at the time
// the hands were last reset. At least the share of the queue due for this
// period by UpdatePeriod is scanned; with a positive shortage the whole queue
// may be scanned. Idle pages are moved to the inactive queue, or straight to
// the laundry if dirty during a shortage, until the shortage is covered.
func (d *Domain) scanActive(now time.Time, shortage int) {
	t := d.r.Tunables()
	q := d.queues[QueueActive]

	q.Lock()
	cnt := q.cnt
	minScan := 0
	if period := time.Duration(t.UpdatePeriod); period > 0 && !d.lastActiveScan.IsZero() {
		elapsed := now.Sub(d.lastActiveScan)
		if elapsed >= period {
			minScan = cnt
		} else {
			minScan = int(int64(cnt) * int64(elapsed) / int64(period))
		}
	}
	if minScan > 0 || d.lastActiveScan.IsZero() || (shortage > 0 && cnt > 0) {
		d.lastActiveScan = now
	}
	q.Unlock()

	maxScan := minScan
	if shortage > 0 {
		maxScan = cnt
	}
	if maxScan <= 0 {
		return
	}

	weight := max(t.ActScanLaundryWeight, 1)
	deactivated := 0

	c := q.BeginScan(d.activeMarker, d.clock[0], d.clock[1], maxScan)
	restarted := false
	for {
		p := c.Next(false)
		if p == nil {
			if !c.AtStop() || restarted && c.Scanned() == 0 {
				break
			}
			maxScan -= c.Scanned()
			if maxScan <= 0 {
				break
			}
			// The hands have met: restart from the head of the queue.
			c.End()
			q.Lock()
			q.remove(&d.clock[0].node)
			q.remove(&d.clock[1].node)
			q.insertHead(&d.clock[0].node)
			q.insertTail(&d.clock[1].node)
			q.Unlock()
			c = q.BeginScan(d.activeMarker, d.clock[0], d.clock[1], maxScan)
			restarted = true
			continue
		}

		obj := p.Object()
		if obj == nil {
			continue
		}
		if p.Wired() {
			d.changeQueue(p, func(s PageState) bool {
				return s.Queue == QueueActive
			}, QueueNone, false, nil)
			continue
		}

		refs := 0
		if obj.RefCount() != 0 {
			refs = d.pmap.TSReferenced(p)
		}

		for {
			old := p.State()
			if old.Queue != QueueActive || old.Pending() {
				break
			}
			nw := old
			delta := refs
			if nw.Flags&FlagReferenced != 0 {
				nw.Flags &^= FlagReferenced
				delta++
			}
			if delta != 0 {
				nw.ActCount = uint8(min(int(nw.ActCount)+ActAdvance+delta, ActMax))
			} else {
				nw.ActCount -= min(nw.ActCount, ActDecline)
			}
			if nw.ActCount > 0 {
				if nw == old || p.TryCommit(old, nw) {
					break
				}
				continue
			}

			to, credit := QueueInactive, 0
			if shortage > 0 {
				if p.Dirty() {
					to, credit = QueueLaundry, 1
				} else {
					credit = weight
				}
			}
			if d.commitMove(p, old, to, false, func(s *PageState) {
				s.ActCount = 0
				s.Flags &^= FlagReferenced
			}) {
				shortage -= credit
				deactivated++
				break
			}
		}
	}

	q.Lock()
	q.remove(&d.clock[0].node)
	q.insertAfter(&d.clock[0].node, &d.activeMarker.node)
	q.Unlock()
	c.End()

	d.stats.deactivated.Add(uint64(deactivated))
}
