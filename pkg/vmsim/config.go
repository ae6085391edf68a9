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

// Package vmsim simulates the machine around the page reclaimer: swap and
// file pagers, processes mapping anonymous memory and files, and a workload
// faulting pages in.
package vmsim

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
	logger "github.com/freebsd/freebsd-src-sub468/pkg/log"
)

var log logger.Logger = logger.NewLogger("vmsim")

// Options describes the simulated machine and its workload.
type Options struct {
	// Domains is the number of memory domains, 0 for one per host NUMA
	// node.
	Domains int `json:"domains"`
	// DomainPages is the number of page frames per domain, 0 to size
	// domains after host memory.
	DomainPages int `json:"domainPages"`
	// SwapPages is the swap capacity in pages, 0 for no swap.
	SwapPages int `json:"swapPages"`
	// Processes is the number of processes spawned at startup.
	Processes int `json:"processes"`
	// ProcessPages is the size of the anonymous memory of a process.
	ProcessPages int `json:"processPages"`
	// Files is the number of files shared by the processes.
	Files int `json:"files"`
	// FilePages is the size of each file.
	FilePages int `json:"filePages"`
	// WriteLatency makes page writes asynchronous, completing after it.
	WriteLatency config.Duration `json:"writeLatency"`
	// ErrorRate is the fraction of page writes failing with an I/O error.
	ErrorRate float64 `json:"errorRate"`
	// Threads is the number of workload threads.
	Threads int `json:"threads"`
	// WriteRatio is the fraction of faults which are writes.
	WriteRatio float64 `json:"writeRatio"`
	// HotRatio is the fraction of each mapping accessed most of the time.
	HotRatio float64 `json:"hotRatio"`
	// HotAccess is the fraction of accesses going to the hot set.
	HotAccess float64 `json:"hotAccess"`
	// FaultTimeout is how long a fault waits for a free page before
	// asking for an OOM kill.
	FaultTimeout config.Duration `json:"faultTimeout"`
}

func defaultOptions() interface{} {
	return &Options{
		Domains:      1,
		SwapPages:    4096,
		Processes:    8,
		ProcessPages: 1024,
		Files:        4,
		FilePages:    512,
		Threads:      4,
		WriteRatio:   0.3,
		HotRatio:     0.2,
		HotAccess:    0.8,
		FaultTimeout: config.Duration(time.Second),
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	var errs *multierror.Error
	if o.Domains < 0 {
		errs = multierror.Append(errs, vmsimError("invalid domain count %d", o.Domains))
	}
	if o.DomainPages < 0 || o.SwapPages < 0 || o.ProcessPages < 0 || o.FilePages < 0 {
		errs = multierror.Append(errs, vmsimError("negative page counts"))
	}
	if o.Processes < 0 || o.Files < 0 {
		errs = multierror.Append(errs, vmsimError("negative process or file count"))
	}
	if o.Threads < 1 {
		errs = multierror.Append(errs, vmsimError("invalid thread count %d", o.Threads))
	}
	for name, ratio := range map[string]float64{
		"errorRate":  o.ErrorRate,
		"writeRatio": o.WriteRatio,
		"hotRatio":   o.HotRatio,
		"hotAccess":  o.HotAccess,
	} {
		if ratio < 0 || ratio > 1 {
			errs = multierror.Append(errs, vmsimError("%s %f not in [0, 1]", name, ratio))
		}
	}
	if o.WriteLatency < 0 || o.FaultTimeout <= 0 {
		errs = multierror.Append(errs, vmsimError("invalid writeLatency or faultTimeout"))
	}
	return errs.ErrorOrNil()
}

// opt is the configured machine.
var opt = defaultOptions().(*Options)

// Configured returns a copy of the configured options.
func Configured() Options {
	return *opt
}

const configHelp = `
Simulated machine for running the page reclaimer in user space.

  domains, domainPages: memory domains and their size in pages
  swapPages: swap capacity, 0 to disable swap
  processes, processPages, files, filePages: initial address spaces
  writeLatency, errorRate: pager behavior
  threads, writeRatio, hotRatio, hotAccess, faultTimeout: workload
`

func init() {
	config.Register("vmsim", configHelp, opt, defaultOptions)
}
