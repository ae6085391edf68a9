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

// Package pageout implements physical page reclamation for a set of memory
// domains.
//
// Each domain keeps its resident pages on four queues: active, inactive,
// laundry and unswappable. A per-domain worker derives a page shortage from
// a PID controller tracking the free page count, frees clean pages from the
// inactive queue, ages the active queue with a two-handed clock and asks the
// laundry worker to write dirty pages back to their pagers. When several
// consecutive passes make no progress in every domain, the out-of-memory
// killer terminates the largest eligible process.
//
// Queue membership is described by a per-page atomic PageState. Moving a
// page between queues claims it by setting FlagQueueOpPending, relinks it
// under the relevant queue locks and releases the claim with a final
// compare-and-swap. Locks are always taken in object, queue, free list order.
package pageout

import (
	"time"

	logger "github.com/freebsd/freebsd-src-sub468/pkg/log"
)

var (
	log logger.Logger = logger.NewLogger("pageout")
	// rlog throttles messages which could repeat on every pass.
	rlog = logger.RateLimit(log, logger.Interval(10*time.Second))
)
