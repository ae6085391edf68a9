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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"

	"github.com/freebsd/freebsd-src-sub468/pkg/metrics"
)

// findMetric returns the metric of the named family with the given labels.
func findMetric(families []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if v, ok := labels[l.GetName()]; ok && v != l.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func TestCollector(t *testing.T) {
	r := newTestReclaimer(t, &testPager{}, testTunables(), 64, 128)
	fill(t, r.Domain(1), NewObject("obj", ObjectDefault, 8), 0, 8, allDirty)
	addRunning(r)
	defer removeRunning(r)

	// Per domain: free, target and rate gauges, 4 queues and 11 events.
	require.Equal(t, 2*(3+4+11)+2, testutil.CollectAndCount(&collector{}))

	g, err := metrics.NewMetricGatherer()
	require.NoError(t, err)
	families, err := g.Gather()
	require.NoError(t, err)

	free := findMetric(families, "pageout_free_pages", map[string]string{"domain": "1"})
	require.NotNil(t, free)
	require.Equal(t, 120.0, free.GetGauge().GetValue())

	inactive := findMetric(families, "pageout_queue_pages",
		map[string]string{"domain": "1", "queue": QueueInactive.String()})
	require.NotNil(t, inactive)
	require.Equal(t, 8.0, inactive.GetGauge().GetValue())

	kills := findMetric(families, "pageout_oom_kills_total", nil)
	require.NotNil(t, kills)
	require.Zero(t, kills.GetCounter().GetValue())
}

func freedTotal(t *testing.T, domain string) float64 {
	rows, err := view.RetrieveData(freedView.Name)
	require.NoError(t, err)
	for _, row := range rows {
		for _, tag := range row.Tags {
			if tag.Key == domainKey && tag.Value == domain {
				return row.Data.(*view.SumData).Value
			}
		}
	}
	return 0
}

func TestRecordFreed(t *testing.T) {
	before := freedTotal(t, "7")
	recordFreed(context.Background(), 7, 12)
	recordFreed(context.Background(), 7, 0)
	recordFreed(context.Background(), 7, 3)
	require.Equal(t, before+15, freedTotal(t, "7"))
}
