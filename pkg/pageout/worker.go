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
	"time"

	"go.opencensus.io/trace"
)

// activeTarget returns the number of pages the active scan should move to
// make up for a short inactive queue. Laundry pages count toward the target
// with a reduced weight.
func (d *Domain) activeTarget() int {
	weight := max(d.r.Tunables().ActScanLaundryWeight, 1)
	shortage := d.th.InactiveTarget + d.PagingTarget() -
		(d.FreeCount() + d.queues[QueueInactive].Len() + d.queues[QueueLaundry].Len()/weight)
	return shortage * weight
}

// RunPass runs a single pass of the worker: the free page controller sets
// the shortage, low memory handlers get a chance to release memory, the
// inactive queue is scanned for the rest and finally the active queue is
// aged. It returns the active scan target and whether the inactive scan met
// its goal. RunPass must not be called while the reclaimer is started.
func (d *Domain) RunPass(ctx context.Context) (int, bool) {
	ctx, span := trace.StartSpan(ctx, "pageout.Pass")
	defer span.End()

	t := d.r.Tunables()
	now := d.r.now()
	d.pid.SetGains(t.PID)
	d.stats.passes.Add(1)

	shortage := d.pid.Daemon(now, d.FreeCount())
	span.AddAttributes(
		trace.Int64Attribute("domain", int64(d.id)),
		trace.Int64Attribute("shortage", int64(shortage)),
	)

	ok, addl := true, 0
	if shortage > 0 {
		ofree := d.FreeCount()
		if d.r.pageLowMem() && d.FreeCount() > ofree {
			shortage -= min(d.FreeCount()-ofree, shortage)
		}
		ok, addl = d.inactivePass(ctx, shortage)
	}

	target := d.activeTarget() + addl
	d.scanActive(now, target)

	return target, ok
}

// worker is the page daemon thread of the domain. It sleeps until woken up
// by an allocation or until the scan interval expires, unless free pages are
// short, then runs a pass.
func (d *Domain) worker(ctx context.Context) error {
	log.Info("domain %d: worker started", d.id)
	defer log.Info("domain %d: worker stopped", d.id)

	shortage, ok := 0, true
	for {
		// Clear wanted before checking the free count so that a waker
		// seeing the count drop after the check will kick us.
		d.wanted.Store(false)

		interval := time.Duration(d.r.Tunables().ScanInterval)
		if d.PagingNeeded() {
			if shortage > 0 && !ok {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return nil
				}
			}
		} else {
			select {
			case <-d.wakeup:
				d.stats.wakeups.Add(1)
			case <-time.After(interval):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		d.wanted.Store(true)
		shortage, ok = d.RunPass(ctx)
	}
}
