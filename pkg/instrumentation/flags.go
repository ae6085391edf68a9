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
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opencensus.io/trace"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
)

// Sampling defines how often trace samples are taken.
type Sampling float64

const (
	// Disabled is the trace configuration for disabling tracing.
	Disabled Sampling = 0.0
	// Production is a trace configuration for production use.
	Production Sampling = 0.1
	// Testing is a trace configuration for testing.
	Testing Sampling = 1.0
)

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// Sampling is the sampling frequency for traces.
	Sampling Sampling
	// ReportPeriod is the OpenCensus view reporting period.
	ReportPeriod config.Duration
	// JaegerCollector is the URL to the Jaeger HTTP Thrift collector.
	JaegerCollector string
	// JaegerAgent, if set, defines the address of a Jaeger agent to send spans to.
	JaegerAgent string
	// HTTPEndpoint is our HTTP endpoint, used among others to export Prometheus /metrics.
	HTTPEndpoint string
	// PrometheusExport defines whether we export /metrics to/for Prometheus.
	PrometheusExport bool
}

// instrumentation options, in effect.
type effective struct {
	Sampling         Sampling
	ReportPeriod     time.Duration
	JaegerCollector  string
	JaegerAgent      string
	HTTPEndpoint     string
	PrometheusExport bool
}

// cfg is our registered configuration, opt what the services use.
var (
	cfg = defaultOptions().(*options)
	opt = cfg.effective()
)

func (o *options) effective() *effective {
	return &effective{
		Sampling:         o.Sampling,
		ReportPeriod:     time.Duration(o.ReportPeriod),
		JaegerCollector:  o.JaegerCollector,
		JaegerAgent:      o.JaegerAgent,
		HTTPEndpoint:     o.HTTPEndpoint,
		PrometheusExport: o.PrometheusExport,
	}
}

// defaultOptions returns options initialized from the environment, falling back to built-in defaults.
func defaultOptions() interface{} {
	o := &options{
		ReportPeriod: config.Duration(15 * time.Second),
	}
	if v := os.Getenv("JAEGER_COLLECTOR"); v != "" {
		o.JaegerCollector = v
	}
	if v := os.Getenv("JAEGER_AGENT"); v != "" {
		o.JaegerAgent = v
	}
	if v := os.Getenv("HTTP_ENDPOINT"); v != "" {
		o.HTTPEndpoint = v
	}
	if v := os.Getenv("PROMETHEUS_EXPORT"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			o.PrometheusExport = enabled
		}
	}
	if v := os.Getenv("SAMPLING_FREQUENCY"); v != "" {
		if err := o.Sampling.Parse(v); err != nil {
			o.Sampling = Disabled
		}
	}
	return o
}

// MarshalJSON is the JSON marshaller for Sampling values.
func (s Sampling) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the JSON unmarshaller for Sampling values.
func (s *Sampling) UnmarshalJSON(raw []byte) error {
	var obj interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return instrumentationError("failed to unmarshal Sampling value: %v", err)
	}
	switch v := obj.(type) {
	case string:
		return s.Parse(v)
	case float64:
		*s = Sampling(v)
	default:
		return instrumentationError("invalid Sampling value of type %T: %v", obj, obj)
	}
	return nil
}

// Parse parses the given string to a Sampling value.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(value) {
	case "disabled":
		*s = Disabled
	case "testing":
		*s = Testing
	case "production":
		*s = Production
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid Sampling value '%s': %v", value, err)
		}
		*s = Sampling(f)
	}
	return nil
}

// Set implements flag.Value.
func (s *Sampling) Set(value string) error {
	return s.Parse(value)
}

// String returns the Sampling value as a string.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Sampler returns a trace.Sampler corresponding to the Sampling value.
func (s Sampling) Sampler() trace.Sampler {
	if s == Disabled {
		return trace.NeverSample()
	}
	return trace.ProbabilitySampler(float64(s))
}

// Validate checks the instrumentation options.
func (o *options) Validate() error {
	if o.Sampling < 0 || o.Sampling > 1 {
		return instrumentationError("sampling %v out of range [0, 1]", o.Sampling)
	}
	if o.ReportPeriod <= 0 {
		return instrumentationError("invalid report period %v", o.ReportPeriod)
	}
	return nil
}

// configNotify is our configuration update notification handler.
func configNotify(event config.Event) error {
	opt = cfg.effective()
	if event == config.RevertEvent {
		log.Info("instrumentation configuration reverted")
	}
	return svc.reconfigure()
}

func init() {
	flag.StringVar(&cfg.HTTPEndpoint, "http-endpoint", cfg.HTTPEndpoint,
		"HTTP endpoint for /metrics, empty disables it")
	flag.BoolVar(&cfg.PrometheusExport, "prometheus-export", cfg.PrometheusExport,
		"export metrics for Prometheus at /metrics")
	flag.StringVar(&cfg.JaegerAgent, "jaeger-agent", cfg.JaegerAgent,
		"Jaeger agent address to send spans to")
	flag.StringVar(&cfg.JaegerCollector, "jaeger-collector", cfg.JaegerCollector,
		"Jaeger collector URL to send spans to")
	flag.Var(&cfg.Sampling, "trace-sampling", "trace sampling: disabled, production, testing, or a probability")

	config.Register("instrumentation", "Tracing and metrics exporting.", cfg, defaultOptions,
		config.WithNotify(configNotify))
}
