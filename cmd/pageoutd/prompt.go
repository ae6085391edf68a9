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

// This file implements an interactive prompt for poking the reclaimer.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
	"github.com/freebsd/freebsd-src-sub468/pkg/pageout"
	"github.com/freebsd/freebsd-src-sub468/pkg/vmsim"
)

type Prompt struct {
	r   *bufio.Reader
	w   *bufio.Writer
	f   *flag.FlagSet
	m   *vmsim.Machine
	wl  *vmsim.Workload
	ps1 string
}

type promptAction int

const (
	paCommandOk promptAction = iota
	paQuit
)

func NewPrompt(ps1 string, reader *bufio.Reader, writer *bufio.Writer, m *vmsim.Machine, wl *vmsim.Workload) *Prompt {
	return &Prompt{
		r:   reader,
		w:   writer,
		ps1: ps1,
		m:   m,
		wl:  wl,
	}
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) interact(ctx context.Context) {
	pa := paCommandOk
	for pa != paQuit && ctx.Err() == nil {
		p.output(p.ps1)
		cmd, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quitting prompt: %s\n", err)
			break
		}
		cmdSlice := strings.Fields(cmd)
		if len(cmdSlice) == 0 {
			continue
		}
		p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
		p.f.SetOutput(p.w)
		switch cmdSlice[0] {
		case "q", "quit":
			pa = p.cmdQuit(cmdSlice[1:])
		case "stats":
			pa = p.cmdStats(cmdSlice[1:])
		case "lowmem":
			pa = p.cmdLowMem(cmdSlice[1:])
		case "oom":
			pa = p.cmdOOM(cmdSlice[1:])
		case "workload":
			pa = p.cmdWorkload(ctx, cmdSlice[1:])
		case "config":
			pa = p.cmdConfig(cmdSlice[1:])
		case "help":
			p.output("commands: stats, lowmem, oom, workload, config, quit\n")
		default:
			p.output("unknown command\n")
			pa = paCommandOk
		}
	}
	p.output("quitting prompt.\n")
}

func (p *Prompt) cmdStats(args []string) promptAction {
	asJSON := p.f.Bool("json", false, "dump statistics as JSON")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	if *asJSON {
		data, err := json.MarshalIndent(struct {
			Domains  []pageout.Stats     `json:"domains"`
			Pager    vmsim.PagerStats    `json:"pager"`
			Workload vmsim.WorkloadStats `json:"workload"`
		}{
			Domains:  p.m.Reclaimer().Stats(),
			Pager:    p.m.Pager().Stats(),
			Workload: p.wl.Stats(),
		}, "", "  ")
		if err != nil {
			p.output("failed to marshal statistics: %v\n", err)
			return paCommandOk
		}
		p.output("%s\n", data)
		return paCommandOk
	}
	p.output("%s", p.m.Dump())
	p.output("workload: %+v\n", p.wl.Stats())
	return paCommandOk
}

func (p *Prompt) cmdLowMem(args []string) promptAction {
	kmem := p.f.Bool("kmem", false, "signal a kernel memory shortage instead of a page shortage")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	level := pageout.LowMemPages
	if *kmem {
		level = pageout.LowMemKmem
	}
	p.m.Reclaimer().LowMem(level)
	p.output("low memory broadcast sent\n")
	return paCommandOk
}

func (p *Prompt) cmdOOM(args []string) promptAction {
	reason := p.f.String("reason", "mem", "OOM reason: mem, pagefault or swap")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	var r pageout.OOMReason
	switch *reason {
	case "mem":
		r = pageout.OOMMem
	case "pagefault":
		r = pageout.OOMPageFault
	case "swap":
		r = pageout.OOMSwapZero
	default:
		p.output("invalid -reason %q\n", *reason)
		return paCommandOk
	}
	victim := p.m.Reclaimer().OOM(r)
	if victim == nil {
		p.output("no process killed\n")
		return paCommandOk
	}
	p.output("killed pid %d (%s)\n", victim.PID(), victim.Name())
	return paCommandOk
}

func (p *Prompt) cmdWorkload(ctx context.Context, args []string) promptAction {
	faults := p.f.Int("faults", 1000, "number of page faults to generate")
	spawn := p.f.String("spawn", "", "spawn a new process with NAME before running")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	if *spawn != "" {
		proc := p.m.Spawn(*spawn)
		p.output("spawned pid %d\n", proc.PID())
	}
	if *faults <= 0 {
		return paCommandOk
	}
	before := p.wl.Stats()
	if err := p.wl.Run(ctx, *faults); err != nil {
		p.output("workload failed: %v\n", err)
		return paCommandOk
	}
	after := p.wl.Stats()
	p.output("%d faults, %d allocations, %d waits, %d timeouts\n",
		after.Faults-before.Faults, after.Allocs-before.Allocs,
		after.Waits-before.Waits, after.Timeouts-before.Timeouts)
	return paCommandOk
}

func (p *Prompt) cmdConfig(args []string) promptAction {
	file := p.f.String("load", "", "load configuration from FILE")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	if *file != "" {
		if err := config.SetConfigFromFile(*file); err != nil {
			p.output("%v\n", err)
			return paCommandOk
		}
	}
	data, err := config.GetConfig()
	if err != nil {
		p.output("%v\n", err)
		return paCommandOk
	}
	p.output("%s", data)
	return paCommandOk
}

func (p *Prompt) cmdQuit(args []string) promptAction {
	help := p.f.Bool("h", false, "print help")
	p.f.Parse(args)
	if *help {
		p.output("quit interactive prompt\n")
		return paCommandOk
	}
	return paQuit
}
