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

// OOMReason is the cause of an out-of-memory kill.
type OOMReason int

const (
	// OOMMem is a sustained failure to reclaim memory.
	OOMMem OOMReason = iota
	// OOMPageFault is a page fault which waited too long for a page.
	OOMPageFault
	// OOMSwapZero is swap space exhaustion.
	OOMSwapZero
)

// String returns the reason reported to the killed process.
func (r OOMReason) String() string {
	switch r {
	case OOMMem:
		return "failed to reclaim memory"
	case OOMPageFault:
		return "a thread waited too long to allocate a page"
	case OOMSwapZero:
		return "out of swap space"
	}
	return "unknown OOM reason"
}

// lowPIDLimit protects the lowest pids while swap space is available.
const lowPIDLimit = 48

// mightBeOOM tracks the progress of the inactive scan of a domain. After
// OOMSeq consecutive passes without progress the domain votes for an OOM
// kill, and the sequence starts over. A vote stands until the next pass of
// its domain. The domain casting the last missing vote runs the OOM killer
// and withdraws its vote right away.
func (r *Reclaimer) mightBeOOM(d *Domain, remaining, initial int) {
	if initial <= 0 || initial != remaining {
		d.oomSeq = 0
	} else {
		d.oomSeq++
	}

	if d.oomSeq < r.Tunables().OOMSeq {
		if d.oomVoted {
			d.oomVoted = false
			r.oomVote.Add(-1)
		}
		return
	}

	d.oomSeq = 0
	if d.oomVoted {
		return
	}

	d.oomVoted = true
	old := r.oomVote.Add(1) - 1
	log.Warn("domain %d: no progress reclaiming memory, voting for OOM (%d/%d)",
		d.id, old+1, len(r.domains))
	if int(old) != len(r.domains)-1 {
		return
	}

	r.OOM(OOMMem)

	d.oomVoted = false
	r.oomVote.Add(-1)
}

// OOM kills the process with the largest memory footprint. For OOMSwapZero
// only swap usage is considered. Kills for OOMPageFault are rate limited.
// It returns the killed process, or nil if none was eligible or the kill was
// suppressed.
func (r *Reclaimer) OOM(reason OOMReason) Process {
	now := r.now()
	if reason == OOMPageFault {
		if !r.pfLimit.AllowN(now, 1) {
			log.Debug("page fault OOM suppressed by rate limit")
			return nil
		}
	} else {
		r.pfLimit.AllowN(now, 1)
	}

	var (
		big     Process
		bigSize int
		swap    = r.pager.SwapConfigured()
	)
	for _, p := range r.procs.Processes() {
		if !oomEligible(p) || p.PID() < lowPIDLimit && swap {
			continue
		}
		if !p.TryLockMap() {
			continue
		}
		size := swapCount(p)
		if reason != OOMSwapZero {
			size += residentCount(p)
		}
		p.UnlockMap()

		if size > bigSize {
			big = p
			bigSize = size
		}
	}

	if big == nil {
		log.Warn("OOM (%s): no eligible process found", reason)
		return nil
	}

	if r.panicOnOOM.Load() != 0 && r.panicOnOOM.Add(-1) == 0 {
		log.Panic("%s", reason)
	}

	log.Error("OOM: killing pid %d (%s), size %d pages: %s", big.PID(), big.Name(), bigSize, reason)
	big.Kill(reason.String())
	r.oomKills.Add(1)

	return big
}
