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
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
)

// PIDGains are the divisors applied to the proportional, integral and
// derivative terms of the free page controller.
type PIDGains struct {
	Kpd int `json:"kpd"`
	Kid int `json:"kid"`
	Kdd int `json:"kdd"`
}

// Tunables are the adjustable parameters of page reclamation.
type Tunables struct {
	// ScanInterval is the pause between passes during a shortage which
	// made no progress, and the idle wakeup period of the worker.
	ScanInterval config.Duration `json:"scanInterval"`
	// LaunderInterval is the pause after a laundry run.
	LaunderInterval config.Duration `json:"launderInterval"`
	// UpdatePeriod is the time to cycle through the whole active queue.
	UpdatePeriod config.Duration `json:"updatePeriod"`
	// LowmemPeriod is the minimum time between low memory broadcasts.
	LowmemPeriod config.Duration `json:"lowmemPeriod"`
	// OOMSeq is the number of passes without progress before voting OOM.
	OOMSeq int `json:"oomSeq"`
	// OOMPFInterval is the minimum time between page fault OOM kills.
	OOMPFInterval config.Duration `json:"oomPageFaultInterval"`
	// PanicOnOOM panics on the given OOM kill instead of killing.
	PanicOnOOM int `json:"panicOnOOM"`
	// ActScanLaundryWeight is the shortage credit for a clean page
	// deactivated by the active scan, relative to a dirty one.
	ActScanLaundryWeight int `json:"actScanLaundryWeight"`
	// InactiveThreads is the number of threads scanning the inactive
	// queue of a domain.
	InactiveThreads int `json:"inactiveThreads"`
	// ClusterPages is the maximum number of pages written together.
	ClusterPages int `json:"clusterPages"`
	// BackgroundLaunderRate is the background laundering rate in KB/s.
	BackgroundLaunderRate int `json:"backgroundLaunderRate"`
	// BackgroundLaunderMax is the background laundering budget in KB.
	BackgroundLaunderMax int `json:"backgroundLaunderMax"`
	// VnodeLockTimeout bounds the wait for a vnode lock during pageout.
	VnodeLockTimeout config.Duration `json:"vnodeLockTimeout"`
	// DisableSwapPageouts keeps anonymous pages out of swap.
	DisableSwapPageouts bool `json:"disableSwapPageouts"`
	// PID holds the free page controller gains.
	PID PIDGains `json:"pid"`
}

// DefaultTunables returns the default tunables.
func DefaultTunables() Tunables {
	return Tunables{
		ScanInterval:          config.Duration(100 * time.Millisecond),
		LaunderInterval:       config.Duration(100 * time.Millisecond),
		UpdatePeriod:          config.Duration(600 * time.Second),
		LowmemPeriod:          config.Duration(10 * time.Second),
		OOMSeq:                12,
		OOMPFInterval:         config.Duration(10 * time.Second),
		ActScanLaundryWeight:  3,
		InactiveThreads:       1,
		ClusterPages:          16,
		BackgroundLaunderRate: 4096,
		BackgroundLaunderMax:  20 * 1024,
		VnodeLockTimeout:      config.Duration(20 * time.Millisecond),
		PID: PIDGains{
			Kpd: 3,
			Kid: 12,
			Kdd: 8,
		},
	}
}

// Validate checks the tunables for consistency.
func (t *Tunables) Validate() error {
	var errs *multierror.Error
	positive := map[string]int{
		"oomSeq":               t.OOMSeq,
		"actScanLaundryWeight": t.ActScanLaundryWeight,
		"inactiveThreads":      t.InactiveThreads,
		"clusterPages":         t.ClusterPages,
		"pid.kpd":              t.PID.Kpd,
		"pid.kid":              t.PID.Kid,
		"pid.kdd":              t.PID.Kdd,
	}
	for name, value := range positive {
		if value < 1 {
			errs = multierror.Append(errs, pageoutError("%s must be positive, got %d", name, value))
		}
	}
	if t.ClusterPages > maxClusterPages {
		errs = multierror.Append(errs, pageoutError("clusterPages %d exceeds %d", t.ClusterPages, maxClusterPages))
	}
	if t.ScanInterval <= 0 {
		errs = multierror.Append(errs, pageoutError("invalid scanInterval %v", t.ScanInterval))
	}
	if t.LaunderInterval <= 0 {
		errs = multierror.Append(errs, pageoutError("invalid launderInterval %v", t.LaunderInterval))
	}
	if minRate := launderRate * defaultPageSize / 1024; t.BackgroundLaunderRate < minRate {
		errs = multierror.Append(errs, pageoutError("backgroundLaunderRate %d below %d KB/s",
			t.BackgroundLaunderRate, minRate))
	}
	if t.BackgroundLaunderMax < 0 {
		errs = multierror.Append(errs, pageoutError("negative backgroundLaunderMax %d", t.BackgroundLaunderMax))
	}
	if t.PanicOnOOM < 0 {
		errs = multierror.Append(errs, pageoutError("negative panicOnOOM %d", t.PanicOnOOM))
	}
	return errs.ErrorOrNil()
}

func defaultOptions() interface{} {
	t := DefaultTunables()
	return &t
}

// opt holds the configured tunables.
var opt = defaultOptions().(*Tunables)

// configNotify propagates configuration changes to running reclaimers.
func configNotify(event config.Event) error {
	switch event {
	case config.UpdateEvent:
		log.Info("configuration updated")
	case config.RevertEvent:
		log.Info("configuration reverted")
	}
	t := *opt
	for _, r := range runningReclaimers() {
		if err := r.SetTunables(t); err != nil {
			return err
		}
	}
	return nil
}

const configHelp = `
Page reclamation tunables.

  scanInterval, launderInterval: worker pacing
  updatePeriod: time for a full sweep of the active queue
  oomSeq, oomPageFaultInterval, panicOnOOM: out-of-memory handling
  inactiveThreads: parallel inactive queue scanners per domain
  clusterPages: maximum pages per pager write
  backgroundLaunderRate, backgroundLaunderMax: background laundering in KB
`

func init() {
	config.Register("pageout", configHelp, opt, defaultOptions,
		config.WithNotify(configNotify))
}
