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
	"fmt"
	"strings"
)

// Stats is a snapshot of the state and event counts of a domain.
type Stats struct {
	Domain         int            `json:"domain"`
	Pages          int            `json:"pages"`
	FreeCount      int            `json:"freeCount"`
	Queues         map[string]int `json:"queues"`
	Thresholds     Thresholds     `json:"thresholds"`
	Deficit        int            `json:"deficit"`
	InactivePPS    int            `json:"inactivePPS"`
	LaundryRequest string         `json:"laundryRequest"`

	Wakeups       uint64 `json:"wakeups"`
	Passes        uint64 `json:"passes"`
	Freed         uint64 `json:"freed"`
	Reactivated   uint64 `json:"reactivated"`
	Deactivated   uint64 `json:"deactivated"`
	Laundered     uint64 `json:"laundered"`
	LaundryRuns   uint64 `json:"laundryRuns"`
	VnodeSkips    uint64 `json:"vnodeSkips"`
	Shortfalls    uint64 `json:"shortfalls"`
	AllocFailures uint64 `json:"allocFailures"`
	Dispatches    uint64 `json:"dispatches"`
}

// Stats returns a snapshot of the domain statistics.
func (d *Domain) Stats() Stats {
	s := Stats{
		Domain:         d.id,
		Pages:          len(d.frames),
		FreeCount:      d.FreeCount(),
		Queues:         make(map[string]int),
		Thresholds:     d.th,
		Deficit:        int(d.deficit.Load()),
		InactivePPS:    int(d.pps.Load()),
		LaundryRequest: d.LaundryRequest().String(),
		Wakeups:        d.stats.wakeups.Load(),
		Passes:         d.stats.passes.Load(),
		Freed:          d.stats.freed.Load(),
		Reactivated:    d.stats.reactivated.Load(),
		Deactivated:    d.stats.deactivated.Load(),
		Laundered:      d.stats.laundered.Load(),
		LaundryRuns:    d.stats.laundryRuns.Load(),
		VnodeSkips:     d.stats.vnodeSkips.Load(),
		Shortfalls:     d.stats.shortfalls.Load(),
		AllocFailures:  d.stats.allocFailures.Load(),
		Dispatches:     d.stats.dispatches.Load(),
	}
	for kind := QueueInactive; kind < queueCount; kind++ {
		s.Queues[kind.String()] = d.queues[kind].Len()
	}
	return s
}

// Stats returns a snapshot of the statistics of all domains.
func (r *Reclaimer) Stats() []Stats {
	stats := make([]Stats, 0, len(r.domains))
	for _, d := range r.domains {
		stats = append(stats, d.Stats())
	}
	return stats
}

// Dump returns a human readable summary of the reclaimer state.
func (r *Reclaimer) Dump() string {
	var b strings.Builder
	for _, s := range r.Stats() {
		fmt.Fprintf(&b, "domain %d: %d pages, %d free (min %d, target %d, wakeup %d)\n",
			s.Domain, s.Pages, s.FreeCount, s.Thresholds.FreeMin, s.Thresholds.FreeTarget,
			s.Thresholds.WakeupThresh)
		fmt.Fprintf(&b, "  queues: ")
		for kind := QueueInactive; kind < queueCount; kind++ {
			fmt.Fprintf(&b, " %s %d", kind, s.Queues[kind.String()])
		}
		fmt.Fprintf(&b, "\n")
		fmt.Fprintf(&b, "  passes %d, wakeups %d, freed %d, reactivated %d, deactivated %d\n",
			s.Passes, s.Wakeups, s.Freed, s.Reactivated, s.Deactivated)
		fmt.Fprintf(&b, "  laundry %s: runs %d, laundered %d, shortfalls %d, vnode skips %d\n",
			s.LaundryRequest, s.LaundryRuns, s.Laundered, s.Shortfalls, s.VnodeSkips)
		fmt.Fprintf(&b, "  inactive scan %d pages/s, %d dispatches, deficit %d, alloc failures %d\n",
			s.InactivePPS, s.Dispatches, s.Deficit, s.AllocFailures)
	}
	fmt.Fprintf(&b, "oom kills %d, lowmem broadcasts %d\n", r.OOMKills(), r.lowmemCount.Load())
	return b.String()
}
