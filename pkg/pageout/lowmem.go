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

import "sort"

// LowMemLevel is the kind of memory shortage being broadcast.
type LowMemLevel int

const (
	// LowMemPages signals a shortage of free pages.
	LowMemPages LowMemLevel = iota
	// LowMemKmem signals a shortage of kernel memory.
	LowMemKmem
)

// LowMemHandler releases cached memory in response to a shortage.
type LowMemHandler func(LowMemLevel)

type lowmemHandler struct {
	name string
	fn   LowMemHandler
}

// RegisterLowMem registers a handler for low memory broadcasts. It returns
// a function to unregister it.
func (r *Reclaimer) RegisterLowMem(name string, fn LowMemHandler) func() {
	r.lowmemMu.Lock()
	defer r.lowmemMu.Unlock()

	id := r.lowmemNext
	r.lowmemNext++
	r.lowmem[id] = &lowmemHandler{name: name, fn: fn}

	return func() {
		r.lowmemMu.Lock()
		defer r.lowmemMu.Unlock()
		delete(r.lowmem, id)
	}
}

// LowMem invokes the registered low memory handlers in registration order.
func (r *Reclaimer) LowMem(level LowMemLevel) {
	r.lowmemMu.Lock()
	ids := make([]int, 0, len(r.lowmem))
	for id := range r.lowmem {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]*lowmemHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.lowmem[id])
	}
	r.lowmemMu.Unlock()

	for _, h := range handlers {
		log.Debug("invoking low memory handler %s", h.name)
		h.fn(level)
	}
	r.lowmemCount.Add(1)
}

// pageLowMem broadcasts a page shortage unless one was broadcast within the
// last LowmemPeriod. It returns true if the handlers were invoked.
func (r *Reclaimer) pageLowMem() bool {
	if !r.lowmemLimit.AllowN(r.now(), 1) {
		return false
	}
	r.LowMem(LowMemPages)
	return true
}
