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

// PagerStatus is the per-page result of a pager write.
type PagerStatus int

const (
	// PagerOK means the page was written.
	PagerOK PagerStatus = iota
	// PagerPend means the write was queued. The pager reports the final
	// status through Domain.CompleteWrite.
	PagerPend
	// PagerBad means the page lies outside its backing store. It is
	// treated as clean.
	PagerBad
	// PagerError means the write failed.
	PagerError
	// PagerFail means no backing store could be allocated.
	PagerFail
	// PagerAgain means the page was not written and can be retried.
	PagerAgain
)

var pagerStatusNames = map[PagerStatus]string{
	PagerOK:    "ok",
	PagerPend:  "pend",
	PagerBad:   "bad",
	PagerError: "error",
	PagerFail:  "fail",
	PagerAgain: "again",
}

// String returns the name of the status.
func (s PagerStatus) String() string {
	if name, ok := pagerStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// PutFlags modify a pager write.
type PutFlags int

const (
	// PutSync asks for a synchronous write.
	PutSync PutFlags = 1 << iota
	// PutNoreuse hints that the pages are unlikely to be reused soon.
	PutNoreuse
)

// Pager writes pages back to their backing store.
//
// PutPages is called with the pages busied shared and the object unlocked.
// It returns one status per page. A missing status is taken as PagerAgain.
// Pages reported as PagerOK are marked clean by the caller. Pages reported
// as PagerPend stay busy until the pager calls Domain.CompleteWrite.
type Pager interface {
	PutPages(ctx context.Context, obj *Object, pages []*Page, flags PutFlags) []PagerStatus
	// SwapConfigured returns true if swap space is available.
	SwapConfigured() bool
}

// nullPager refuses every write.
type nullPager struct{}

func (nullPager) PutPages(_ context.Context, _ *Object, pages []*Page, _ PutFlags) []PagerStatus {
	status := make([]PagerStatus, len(pages))
	for i := range status {
		status[i] = PagerFail
	}
	return status
}

func (nullPager) SwapConfigured() bool {
	return false
}
