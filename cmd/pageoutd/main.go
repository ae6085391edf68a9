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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
	"github.com/freebsd/freebsd-src-sub468/pkg/instrumentation"
	logger "github.com/freebsd/freebsd-src-sub468/pkg/log"
	"github.com/freebsd/freebsd-src-sub468/pkg/pidfile"
	"github.com/freebsd/freebsd-src-sub468/pkg/vmsim"
)

var log = logger.Default()

func main() {
	optConfig := flag.String("config", "", "-config=FILE read configuration from YAML FILE")
	optPidFile := flag.String("pidfile", pidfile.DefaultPath(), "-pidfile=PATH PID file, empty to disable")
	optPrompt := flag.Bool("prompt", false, "-prompt run interactive prompt on stdin")
	optFaults := flag.Int("workload", 0, "-workload=COUNT generate COUNT page faults at startup")

	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	if *optConfig != "" {
		if err := config.SetConfigFromFile(*optConfig); err != nil {
			log.Fatal("%v", err)
		}
	}

	if *optPidFile != "" {
		pf, err := pidfile.Acquire(*optPidFile)
		if err != nil {
			log.Fatal("%v", err)
		}
		defer pf.Release()
	}

	if err := instrumentation.Start(); err != nil {
		log.Fatal("failed to set up instrumentation: %v", err)
	}
	defer instrumentation.Stop()

	m, err := vmsim.New(vmsim.Configured())
	if err != nil {
		log.Fatal("failed to create simulated machine: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		log.Fatal("failed to start page reclaimer: %v", err)
	}
	defer func() {
		if err := m.Stop(); err != nil {
			log.Error("failed to stop page reclaimer: %v", err)
		}
	}()

	instrumentation.HandleHTTP("/pageout", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Reclaimer().Stats()); err != nil {
			log.Error("failed to encode stats: %v", err)
		}
	}))

	w := vmsim.NewWorkload(m)
	if *optFaults > 0 {
		go func() {
			if err := w.Run(ctx, *optFaults); err != nil && ctx.Err() == nil {
				log.Error("workload failed: %v", err)
			}
			log.Info("workload done: %+v", w.Stats())
		}()
	}

	if *optPrompt {
		p := NewPrompt("pageoutd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), m, w)
		p.interact(ctx)
		return
	}

	<-ctx.Done()
	log.Info("shutting down")
}
