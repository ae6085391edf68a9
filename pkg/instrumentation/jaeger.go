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
	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"
)

// tracing encapsulates the state of our Jaeger exporter.
type tracing struct {
	exporter  *jaeger.Exporter
	agent     string
	collector string
	sampling  Sampling
}

// start creates and registers a Jaeger exporter if an endpoint is configured.
func (t *tracing) start(agent, collector string, sampling Sampling) error {
	trace.ApplyConfig(trace.Config{DefaultSampler: sampling.Sampler()})

	if agent == "" && collector == "" {
		log.Info("Jaeger trace exporter is disabled")
		return nil
	}

	exp, err := jaeger.NewExporter(jaeger.Options{
		ServiceName:       ServiceName,
		CollectorEndpoint: collector,
		AgentEndpoint:     agent,
		Process:           jaeger.Process{ServiceName: ServiceName},
		OnError:           func(err error) { log.Error("jaeger error: %v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create Jaeger trace exporter: %v", err)
	}

	*t = tracing{
		exporter:  exp,
		agent:     agent,
		collector: collector,
		sampling:  sampling,
	}
	trace.RegisterExporter(t.exporter)

	return nil
}

// stop unregisters and flushes our Jaeger exporter.
func (t *tracing) stop() {
	if t.exporter == nil {
		return
	}
	log.Info("stopping Jaeger trace exporter...")
	trace.UnregisterExporter(t.exporter)
	t.exporter.Flush()
	*t = tracing{}
}

// reconfigure recreates the exporter if the endpoints changed, otherwise it only updates sampling.
func (t *tracing) reconfigure(agent, collector string, sampling Sampling) error {
	if t.exporter != nil && t.agent == agent && t.collector == collector {
		t.sampling = sampling
		trace.ApplyConfig(trace.Config{DefaultSampler: sampling.Sampler()})
		return nil
	}
	t.stop()
	return t.start(agent, collector, sampling)
}
