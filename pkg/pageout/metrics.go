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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/freebsd/freebsd-src-sub468/pkg/metrics"
)

var (
	freedPages = stats.Int64("pageout/freed_pages",
		"Number of pages freed by inactive queue scans.", stats.UnitDimensionless)
	domainKey = tag.MustNewKey("domain")
	freedView = &view.View{
		Name:        "pageout/freed_pages",
		Description: "Number of pages freed by inactive queue scans.",
		Measure:     freedPages,
		TagKeys:     []tag.Key{domainKey},
		Aggregation: view.Sum(),
	}
)

// recordFreed records pages freed by an inactive pass.
func recordFreed(ctx context.Context, domain, freed int) {
	if freed <= 0 {
		return
	}
	err := stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(domainKey, strconv.Itoa(domain))},
		freedPages.M(int64(freed)))
	if err != nil {
		log.Error("failed to record freed pages: %v", err)
	}
}

// Prometheus Metric descriptor indices and descriptor table
const (
	freeDesc = iota
	queueDesc
	targetDesc
	eventDesc
	ppsDesc
	oomKillsDesc
	lowmemDesc
)

var descriptors = []*prometheus.Desc{
	freeDesc: prometheus.NewDesc(
		"pageout_free_pages",
		"Number of free pages in a domain.",
		[]string{"domain"}, nil,
	),
	queueDesc: prometheus.NewDesc(
		"pageout_queue_pages",
		"Number of pages on a page queue.",
		[]string{"domain", "queue"}, nil,
	),
	targetDesc: prometheus.NewDesc(
		"pageout_free_target_pages",
		"Free page target of a domain.",
		[]string{"domain"}, nil,
	),
	eventDesc: prometheus.NewDesc(
		"pageout_events_total",
		"Page reclamation events by type.",
		[]string{"domain", "event"}, nil,
	),
	ppsDesc: prometheus.NewDesc(
		"pageout_inactive_scan_rate",
		"Estimated inactive scan rate in pages per second.",
		[]string{"domain"}, nil,
	),
	oomKillsDesc: prometheus.NewDesc(
		"pageout_oom_kills_total",
		"Number of processes killed for lack of memory.",
		nil, nil,
	),
	lowmemDesc: prometheus.NewDesc(
		"pageout_lowmem_broadcasts_total",
		"Number of low memory broadcasts.",
		nil, nil,
	),
}

type collector struct{}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	var oomKills, lowmem uint64
	for _, r := range runningReclaimers() {
		oomKills += r.OOMKills()
		lowmem += r.lowmemCount.Load()
		for _, s := range r.Stats() {
			collectDomain(ch, s)
		}
	}
	ch <- prometheus.MustNewConstMetric(descriptors[oomKillsDesc],
		prometheus.CounterValue, float64(oomKills))
	ch <- prometheus.MustNewConstMetric(descriptors[lowmemDesc],
		prometheus.CounterValue, float64(lowmem))
}

func collectDomain(ch chan<- prometheus.Metric, s Stats) {
	id := strconv.Itoa(s.Domain)
	ch <- prometheus.MustNewConstMetric(descriptors[freeDesc],
		prometheus.GaugeValue, float64(s.FreeCount), id)
	ch <- prometheus.MustNewConstMetric(descriptors[targetDesc],
		prometheus.GaugeValue, float64(s.Thresholds.FreeTarget), id)
	ch <- prometheus.MustNewConstMetric(descriptors[ppsDesc],
		prometheus.GaugeValue, float64(s.InactivePPS), id)
	for queue, cnt := range s.Queues {
		ch <- prometheus.MustNewConstMetric(descriptors[queueDesc],
			prometheus.GaugeValue, float64(cnt), id, queue)
	}
	for event, cnt := range map[string]uint64{
		"wakeup":      s.Wakeups,
		"pass":        s.Passes,
		"freed":       s.Freed,
		"reactivated": s.Reactivated,
		"deactivated": s.Deactivated,
		"laundered":   s.Laundered,
		"laundry_run": s.LaundryRuns,
		"vnode_skip":  s.VnodeSkips,
		"shortfall":   s.Shortfalls,
		"alloc_fail":  s.AllocFailures,
		"dispatch":    s.Dispatches,
	} {
		ch <- prometheus.MustNewConstMetric(descriptors[eventDesc],
			prometheus.CounterValue, float64(cnt), id, event)
	}
}

func init() {
	if err := view.Register(freedView); err != nil {
		log.Error("failed to register freed pages view: %v", err)
	}
	err := metrics.RegisterCollector("pageout", func() (prometheus.Collector, error) {
		return &collector{}, nil
	})
	if err != nil {
		log.Error("failed to register pageout collector: %v", err)
	}
}
