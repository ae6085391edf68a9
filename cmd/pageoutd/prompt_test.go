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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/freebsd-src-sub468/pkg/vmsim"
)

func TestPrompt(t *testing.T) {
	o := vmsim.Configured()
	o.DomainPages = 256
	o.Processes = 2
	o.ProcessPages = 64
	o.Files = 1
	o.FilePages = 16
	m, err := vmsim.New(o)
	require.NoError(t, err)

	commands := strings.Join([]string{
		"stats",
		"lowmem -kmem",
		"oom -reason bogus",
		"workload -faults 10 -spawn extra",
		"stats -json",
		"frobnicate",
		"quit",
		"stats",
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := NewPrompt("> ", bufio.NewReader(strings.NewReader(commands)), bufio.NewWriter(out), m, vmsim.NewWorkload(m))
	p.interact(context.Background())

	output := out.String()
	for _, expected := range []string{
		"domain 0: 256 pages",
		"low memory broadcast sent",
		"invalid -reason \"bogus\"",
		"spawned pid 4",
		"10 faults",
		"\"domains\": [",
		"unknown command",
		"quitting prompt.",
	} {
		require.Contains(t, output, expected)
	}
	require.Equal(t, 1, strings.Count(output, "domain 0: 256 pages"), "commands after quit must not run")
}
