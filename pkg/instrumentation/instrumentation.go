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
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"

	logger "github.com/freebsd/freebsd-src-sub468/pkg/log"
)

const (
	// ServiceName is our service name in external tracing and metrics services.
	ServiceName = "pageoutd"
)

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// Our instrumentation service instance.
var svc = newService()

// service is the state of our instrumentation services: HTTP endpoint, trace/metrics exporters.
type service struct {
	sync.Mutex
	started bool
	http    *server
	tracing *tracing
	metrics *metrics
}

func newService() *service {
	return &service{
		http:    newServer(),
		tracing: &tracing{},
		metrics: &metrics{},
	}
}

// Start starts our instrumentation services.
func Start() error {
	opt = cfg.effective()
	return svc.start()
}

// Stop stops our instrumentation services.
func Stop() {
	svc.stop()
}

// Restart restarts our instrumentation services.
func Restart() error {
	svc.stop()
	opt = cfg.effective()
	return svc.start()
}

// HandleHTTP registers an extra HTTP handler on our instrumentation endpoint.
func HandleHTTP(pattern string, handler http.Handler) {
	svc.http.Handle(pattern, handler)
}

// HTTPAddress returns the address our HTTP endpoint is bound to, if any.
func HTTPAddress() string {
	return svc.http.Address()
}

// TracingEnabled returns true if trace sampling is not disabled.
func TracingEnabled() bool {
	return opt.Sampling != Disabled
}

func (s *service) start() error {
	log.Info("starting instrumentation services...")

	s.Lock()
	defer s.Unlock()

	if err := s.http.Start(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to start HTTP server: %v", err)
	}

	var errs *multierror.Error
	if err := s.tracing.start(opt.JaegerAgent, opt.JaegerCollector, opt.Sampling); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.metrics.start(s.http, opt.PrometheusExport, opt.ReportPeriod); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs != nil {
		s.metrics.stop(s.http)
		s.tracing.stop()
		s.http.Stop()
		return instrumentationError("failed to start: %v", errs)
	}
	s.started = true

	return nil
}

func (s *service) stop() {
	s.Lock()
	defer s.Unlock()

	s.metrics.stop(s.http)
	s.tracing.stop()
	s.http.Stop()
	s.started = false
}

// reconfigure takes the current options into use.
func (s *service) reconfigure() error {
	s.Lock()
	defer s.Unlock()

	if !s.started {
		return nil
	}
	log.Info("reconfiguring instrumentation services...")
	if s.http.Address() != "" || opt.HTTPEndpoint != "" {
		if err := s.http.Reconfigure(opt.HTTPEndpoint); err != nil {
			return instrumentationError("failed to reconfigure HTTP server: %v", err)
		}
	}
	if err := s.tracing.reconfigure(opt.JaegerAgent, opt.JaegerCollector, opt.Sampling); err != nil {
		return instrumentationError("failed to reconfigure tracing: %v", err)
	}
	if err := s.metrics.reconfigure(s.http, opt.PrometheusExport, opt.ReportPeriod); err != nil {
		return instrumentationError("failed to reconfigure metrics: %v", err)
	}
	return nil
}

// instrumentationError produces a formatted instrumentation-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
