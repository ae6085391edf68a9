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
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	pclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"

	pmetrics "github.com/freebsd/freebsd-src-sub468/pkg/metrics"
)

const (
	// PrometheusMetricsPath is the URL path for exposing metrics to Prometheus.
	PrometheusMetricsPath = "/metrics"
)

// metrics encapsulates the state of our Prometheus exporter.
type metrics struct {
	exporter *prometheus.Exporter
	period   time.Duration
}

// start creates the Prometheus exporter and serves it if exporting is enabled.
// Registered collectors and opencensus views are exported together.
func (m *metrics) start(srv *server, enabled bool, period time.Duration) error {
	if !enabled {
		log.Info("Prometheus metrics exporter is disabled")
		return nil
	}

	gatherer, err := pmetrics.NewMetricGatherer()
	if err != nil {
		return instrumentationError("failed to create metrics gatherer: %v", err)
	}
	registry := pclient.NewRegistry()

	exp, err := prometheus.NewExporter(prometheus.Options{
		Namespace: prometheusNamespace(ServiceName),
		Registry:  registry,
		Gatherer:  pclient.Gatherers{registry, gatherer},
		OnError:   func(err error) { log.Error("prometheus export error: %v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create Prometheus exporter: %v", err)
	}

	m.exporter = exp
	m.period = period
	view.RegisterExporter(m.exporter)
	view.SetReportingPeriod(period)
	srv.Handle(PrometheusMetricsPath, m.exporter)

	return nil
}

// stop unregisters our exporter and its HTTP handler.
func (m *metrics) stop(srv *server) {
	if m.exporter == nil {
		return
	}
	log.Info("stopping Prometheus metrics exporter...")
	view.UnregisterExporter(m.exporter)
	srv.Unregister(PrometheusMetricsPath)
	*m = metrics{}
}

func (m *metrics) reconfigure(srv *server, enabled bool, period time.Duration) error {
	if m.exporter != nil && enabled {
		if period != m.period {
			m.period = period
			view.SetReportingPeriod(period)
		}
		srv.Handle(PrometheusMetricsPath, m.exporter)
		return nil
	}
	m.stop(srv)
	return m.start(srv, enabled, period)
}

// prometheusNamespace mutates a service name into a valid Prometheus namespace.
func prometheusNamespace(service string) string {
	return strings.ReplaceAll(strings.ToLower(service), "-", "_")
}
