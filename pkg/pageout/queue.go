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
	"sync"
	"sync/atomic"
)

// qnode links a page or a marker on a PageQueue.
type qnode struct {
	prev, next *qnode
	page       *Page
	marker     *Marker
}

func (n *qnode) linked() bool {
	return n.next != nil
}

// Marker is a placeholder on a queue which records the position of a scan.
// Markers are never counted as queue members.
type Marker struct {
	node qnode
	name string
}

// NewMarker creates a new, unlinked marker.
func NewMarker(name string) *Marker {
	m := &Marker{name: name}
	m.node.marker = m
	return m
}

// PageQueue is a lock-protected doubly linked list of pages and markers.
type PageQueue struct {
	sync.Mutex
	kind    QueueType
	head    qnode
	cnt     int
	scanned atomic.Uint64
}

func newPageQueue(kind QueueType) *PageQueue {
	q := &PageQueue{kind: kind}
	q.head.next = &q.head
	q.head.prev = &q.head
	return q
}

// Kind returns the type of the queue.
func (q *PageQueue) Kind() QueueType {
	return q.kind
}

// Len returns the number of pages on the queue.
func (q *PageQueue) Len() int {
	q.Lock()
	defer q.Unlock()
	return q.cnt
}

// Scanned returns the total number of page visits by scans of the queue.
func (q *PageQueue) Scanned() uint64 {
	return q.scanned.Load()
}

// Pages returns a snapshot of the pages on the queue, head first.
func (q *PageQueue) Pages() []*Page {
	q.Lock()
	defer q.Unlock()
	pages := make([]*Page, 0, q.cnt)
	for n := q.head.next; n != &q.head; n = n.next {
		if n.page != nil {
			pages = append(pages, n.page)
		}
	}
	return pages
}

// The list primitives below must be called with the queue locked.

func (q *PageQueue) insertAfter(n, at *qnode) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	if n.page != nil {
		q.cnt++
	}
}

func (q *PageQueue) insertBefore(n, at *qnode) {
	q.insertAfter(n, at.prev)
}

func (q *PageQueue) insertHead(n *qnode) {
	q.insertAfter(n, &q.head)
}

func (q *PageQueue) insertTail(n *qnode) {
	q.insertBefore(n, &q.head)
}

func (q *PageQueue) remove(n *qnode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	if n.page != nil {
		q.cnt--
	}
}

// InsertMarker links m at the head or the tail of the queue.
func (q *PageQueue) InsertMarker(m *Marker, tail bool) {
	q.Lock()
	defer q.Unlock()
	if m.node.linked() {
		q.remove(&m.node)
	}
	if tail {
		q.insertTail(&m.node)
	} else {
		q.insertHead(&m.node)
	}
}

// RemoveMarker unlinks m from the queue.
func (q *PageQueue) RemoveMarker(m *Marker) {
	q.Lock()
	defer q.Unlock()
	if m.node.linked() {
		q.remove(&m.node)
	}
}
