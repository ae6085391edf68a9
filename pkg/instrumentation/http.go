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
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

// server is our HTTP server with a mux that supports unregistering handlers.
type server struct {
	sync.RWMutex
	srv      *http.Server
	handlers map[string]http.Handler
	mux      *http.ServeMux
}

func newServer() *server {
	return &server{
		handlers: make(map[string]http.Handler),
		mux:      http.NewServeMux(),
	}
}

// Handle registers a handler for the given pattern, replacing any old one.
func (s *server) Handle(pattern string, handler http.Handler) {
	s.Lock()
	defer s.Unlock()

	log.Debug("registering HTTP handler for %q...", pattern)
	if _, ok := s.handlers[pattern]; ok {
		s.unregister(pattern)
	}
	s.handlers[pattern] = handler
	s.mux.Handle(pattern, handler)
}

// Unregister removes any handler for the given pattern.
func (s *server) Unregister(pattern string) {
	s.Lock()
	defer s.Unlock()
	s.unregister(pattern)
}

// unregister rebuilds the mux without pattern. http.ServeMux can't remove.
func (s *server) unregister(pattern string) {
	if _, ok := s.handlers[pattern]; !ok {
		return
	}
	log.Debug("unregistering HTTP handler for %q...", pattern)
	delete(s.handlers, pattern)
	s.mux = http.NewServeMux()
	for p, h := range s.handlers {
		s.mux.Handle(p, h)
	}
}

// ServeHTTP serves a HTTP request with the current mux.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.RLock()
	mux := s.mux
	s.RUnlock()
	mux.ServeHTTP(w, r)
}

// Address returns the current server address, with any autobound port resolved.
func (s *server) Address() string {
	s.RLock()
	defer s.RUnlock()
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr
}

// Start listens and serves on the given address. An empty address disables the server.
func (s *server) Start(addr string) error {
	if addr == "" {
		log.Info("HTTP server is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return instrumentationError("can't listen on HTTP address %q: %v", addr, err)
	}

	s.Lock()
	s.srv = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.Unlock()

	log.Info("HTTP server listening on %s", srv.Addr)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting briefly for active requests.
func (s *server) Stop() {
	s.Lock()
	srv := s.srv
	s.srv = nil
	s.Unlock()

	if srv == nil {
		return
	}

	log.Info("stopping HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
}

// Reconfigure restarts the server if its address has changed.
func (s *server) Reconfigure(addr string) error {
	if cur := s.Address(); cur != "" && (cur == addr || addr == ":0") {
		return nil
	}
	s.Stop()
	return s.Start(addr)
}
