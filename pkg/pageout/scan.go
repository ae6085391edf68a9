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

// ScanCursor iterates over a PageQueue in batches. The queue lock is held
// only while a batch is collected; between batches the scan position is
// kept by a marker linked on the queue.
type ScanCursor struct {
	q       *PageQueue
	marker  *Marker
	stop    *Marker
	maxScan int
	scanned int
	batch   []*Page
	pos     int
	claimed bool
	atStop  bool
}

// BeginScan starts a scan of at most maxScan pages. The marker is linked
// right after the marker at, or at the head of the queue if at is nil. If
// stop is given the scan ends when it reaches that marker.
func (q *PageQueue) BeginScan(marker, at, stop *Marker, maxScan int) *ScanCursor {
	q.Lock()
	defer q.Unlock()

	if marker.node.linked() {
		q.remove(&marker.node)
	}
	if at != nil && at.node.linked() {
		q.insertAfter(&marker.node, &at.node)
	} else {
		q.insertHead(&marker.node)
	}

	return &ScanCursor{
		q:       q,
		marker:  marker,
		stop:    stop,
		maxScan: maxScan,
		batch:   make([]*Page, 0, scanBatchSize),
	}
}

// collect fills the batch with the pages following the marker and moves
// the marker past them. In dequeue mode the pages are unlinked and claimed
// by the cursor; pages with a transition already in progress are skipped.
func (c *ScanCursor) collect(dequeue bool) {
	q := c.q
	c.batch = c.batch[:0]
	c.pos = 0
	c.claimed = dequeue

	q.Lock()
	defer q.Unlock()

	n := c.marker.node.next
	for n != &q.head && c.scanned < c.maxScan && len(c.batch) < cap(c.batch) {
		next := n.next
		if n.page == nil {
			if c.stop != nil && n.marker == c.stop {
				c.atStop = true
				break
			}
			n = next
			continue
		}
		c.scanned++
		p := n.page
		if dequeue {
			if p.claim(q.kind) {
				q.remove(n)
				c.batch = append(c.batch, p)
			}
		} else {
			c.batch = append(c.batch, p)
		}
		n = next
	}

	q.remove(&c.marker.node)
	q.insertBefore(&c.marker.node, n)
}

// claim takes ownership of an enqueued page for a scanner.
func (p *Page) claim(kind QueueType) bool {
	_, ok := p.update(func(s *PageState) bool {
		if s.Queue != kind || s.Pending() || s.Flags&FlagEnqueued == 0 {
			return false
		}
		s.Flags |= FlagQueueOpPending
		s.Flags &^= FlagEnqueued
		return true
	})
	return ok
}

// Next returns the next page of the scan or nil once the scan is over.
func (c *ScanCursor) Next(dequeue bool) *Page {
	if c.pos == len(c.batch) {
		if c.atStop {
			return nil
		}
		c.collect(dequeue)
		if len(c.batch) == 0 {
			return nil
		}
	}
	p := c.batch[c.pos]
	c.batch[c.pos] = nil
	c.pos++
	return p
}

// BatchEmpty returns true if the next call to Next will collect a new batch.
func (c *ScanCursor) BatchEmpty() bool {
	return c.pos == len(c.batch)
}

// AtStop returns true if the scan ended at its stop marker.
func (c *ScanCursor) AtStop() bool {
	return c.atStop
}

// Scanned returns the number of pages visited so far.
func (c *ScanCursor) Scanned() int {
	return c.scanned
}

// AddScanned accounts for pages handled on behalf of the scan.
func (c *ScanCursor) AddScanned(n int) {
	c.scanned += n
}

// Reinsert links a page claimed by the scan back on the queue right before
// the marker and releases the claim.
func (c *ScanCursor) Reinsert(p *Page) {
	c.q.Lock()
	c.q.insertBefore(&p.node, &c.marker.node)
	c.q.Unlock()
	p.release(c.q.kind)
}

// End finishes the scan. Claimed pages not yet returned by Next are put back
// before the marker, then the marker is unlinked.
func (c *ScanCursor) End() {
	q := c.q
	var leftover []*Page
	if c.claimed {
		leftover = c.batch[c.pos:]
	}

	q.Lock()
	for _, p := range leftover {
		q.insertBefore(&p.node, &c.marker.node)
	}
	if c.marker.node.linked() {
		q.remove(&c.marker.node)
	}
	q.Unlock()

	for _, p := range leftover {
		p.release(q.kind)
	}
	c.batch = c.batch[:0]
	c.pos = 0
	q.scanned.Add(uint64(c.scanned))
}

// release drops the claim on a page which has been linked on queue kind.
func (p *Page) release(kind QueueType) {
	p.update(func(s *PageState) bool {
		s.Queue = kind
		s.Flags &^= FlagQueueOpPending
		if kind != QueueNone {
			s.Flags |= FlagEnqueued
		} else {
			s.Flags &^= FlagEnqueued
		}
		return true
	})
}
