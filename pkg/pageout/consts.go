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
	"errors"
	"fmt"
)

const (
	// ActInit is the activity count given to a newly activated page.
	ActInit = 5
	// ActAdvance is added to the activity count of a referenced page.
	ActAdvance = 3
	// ActDecline is subtracted from the activity count of an idle page.
	ActDecline = 1
	// ActMax caps the activity count.
	ActMax = 64

	// scanBatchSize is the number of pages collected per queue lock hold.
	scanBatchSize = 7

	// inactiveScanRate is the number of inactive passes per second during
	// a sustained shortage.
	inactiveScanRate = 10
	// launderRate is the number of laundry runs per second.
	launderRate = 10

	// maxClusterPages bounds the ClusterPages tunable.
	maxClusterPages = 256

	// maxIOSize bounds the cluster size used to derive free_min.
	maxIOSize = 65536
	// defaultPageSize is used when no page size is configured.
	defaultPageSize = 4096
)

var (
	// ErrBusy is returned when a lock could not be acquired in time.
	ErrBusy = errors.New("resource busy")
	// ErrNotInLaundry is returned when a page left the laundry while
	// its vnode lock was being acquired.
	ErrNotInLaundry = errors.New("page no longer in laundry")
	// ErrPageBusy is returned when a page could not be busied.
	ErrPageBusy = errors.New("page busy")
	// ErrIO is returned when a page could not be written to its pager.
	ErrIO = errors.New("page write failed")
	// ErrNoFreePages is returned by allocation when the free pool is
	// depleted down to the caller's reserve.
	ErrNoFreePages = errors.New("no free pages")
	// ErrStaleObject is returned when a vnode was reassigned a new object.
	ErrStaleObject = errors.New("stale vnode object")
)

// pageoutError returns a package-specific formatted error.
func pageoutError(format string, args ...interface{}) error {
	return fmt.Errorf("pageout: "+format, args...)
}
