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

package instrumentation

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	pmetrics "github.com/freebsd/freebsd-src-sub468/pkg/metrics"
)

func TestSamplingIdempotency(t *testing.T) {
	for _, tc := range []Sampling{Disabled, Testing, Production, 0.2, 0.25, 0.5, 0.75, 0.8} {
		var chk Sampling
		require.NoError(t, chk.Parse(tc.String()))
		require.Equal(t, tc, chk)
	}
}

func TestSamplingJSON(t *testing.T) {
	var s Sampling
	require.NoError(t, s.UnmarshalJSON([]byte(`"production"`)))
	require.Equal(t, Production, s)
	require.NoError(t, s.UnmarshalJSON([]byte(`0.5`)))
	require.Equal(t, Sampling(0.5), s)
	require.Error(t, s.UnmarshalJSON([]byte(`true`)))
}

func TestPrometheusExport(t *testing.T) {
	opt = &effective{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: true,
		ReportPeriod:     time.Second,
	}

	s := newService()
	require.NoError(t, s.start())
	defer s.stop()

	address := s.http.Address()
	require.NotEmpty(t, address)
	require.Equal(t, http.StatusOK, get(t, address))

	opt.HTTPEndpoint = address
	opt.PrometheusExport = false
	require.NoError(t, s.reconfigure())
	require.Equal(t, http.StatusNotFound, get(t, address))

	opt.PrometheusExport = true
	require.NoError(t, s.reconfigure())
	require.Equal(t, http.StatusOK, get(t, address))
}

func TestPrometheusExportCollectors(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "instrumentation_test_pages",
		Help: "Pages seen by the test collector.",
	})
	gauge.Set(42)
	require.NoError(t, pmetrics.RegisterCollector("instrumentation-test",
		func() (prometheus.Collector, error) { return gauge, nil }))
	defer pmetrics.UnregisterCollector("instrumentation-test")

	opt = &effective{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: true,
		ReportPeriod:     time.Second,
	}

	s := newService()
	require.NoError(t, s.start())
	defer s.stop()

	status, body := fetch(t, s.http.Address())
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "instrumentation_test_pages 42")
}

func get(t *testing.T, address string) int {
	status, _ := fetch(t, address)
	return status
}

func fetch(t *testing.T, address string) (int, string) {
	rpl, err := http.Get("http://" + address + PrometheusMetricsPath)
	require.NoError(t, err)
	defer rpl.Body.Close()
	data, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)
	return rpl.StatusCode, string(data)
}
