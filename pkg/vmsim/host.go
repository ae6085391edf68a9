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

package vmsim

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// sysfs NUMA node directory, relative to sysRoot
	sysfsNumaNodePath = "devices/system/node"

	// hostShare is the fraction of host memory simulated, as a divisor.
	hostShare      = 64
	minDomainPages = 1024
	maxDomainPages = 65536
)

// sysRoot is the sysfs mount point.
var sysRoot = "/sys"

// unit name to multiplier mapping
var units = map[string]int64{
	"kB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
}

// hostNode is a NUMA node of the host.
type hostNode struct {
	id     int
	memory int64
}

// discoverNodes returns the NUMA nodes of the host with their memory size,
// sorted by id. It returns no nodes if NUMA information is unavailable.
func discoverNodes() ([]hostNode, error) {
	entries, _ := filepath.Glob(filepath.Join(sysRoot, sysfsNumaNodePath, "node[0-9]*"))

	nodes := []hostNode{}
	for _, entry := range entries {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(entry), "node"))
		if err != nil {
			continue
		}
		node := hostNode{id: id}
		err = parseFileEntries(filepath.Join(entry, "meminfo"),
			map[string]*int64{"MemTotal": &node.memory}, pickNodeMeminfo)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })

	return nodes, nil
}

// pickNodeMeminfo picks a node meminfo line ("Node 0 MemTotal: 1024 kB")
// apart into key and value.
func pickNodeMeminfo(line string) (string, string) {
	split := strings.SplitN(line, ":", 2)
	if len(split) != 2 {
		return "", ""
	}
	key := strings.Fields(split[0])
	if len(key) == 0 {
		return "", ""
	}
	return key[len(key)-1], strings.TrimSpace(split[1])
}

// parseFileEntries parses the given numeric entries of a file.
func parseFileEntries(path string, values map[string]*int64, pickFn func(string) (string, string)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return vmsimError("failed to read %s: %w", path, err)
	}

	left := len(values)
	for _, line := range strings.Split(string(data), "\n") {
		if left == 0 {
			break
		}
		key, value := pickFn(line)
		ptr, ok := values[key]
		if !ok {
			continue
		}
		if *ptr, err = parseNumeric(value); err != nil {
			return vmsimError("%s: %s: %w", path, key, err)
		}
		left--
	}

	return nil
}

// parseNumeric parses a number with an optional unit.
func parseNumeric(value string) (int64, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, vmsimError("invalid numeric value %q", value)
	}
	num, err := strconv.ParseInt(fields[0], 0, 64)
	if err != nil {
		return 0, err
	}
	if len(fields) == 2 {
		unit, ok := units[fields[1]]
		if !ok {
			return 0, vmsimError("invalid unit %q in %q", fields[1], value)
		}
		num *= unit
	}
	return num, nil
}

// hostDomains returns the size of each simulated domain in pages. With a
// zero count there is one domain per NUMA node, sized after a share of the
// node. Otherwise a share of all host memory is split evenly. A non-zero
// size overrides the share.
func hostDomains(count, size, pageSize int) ([]int, error) {
	if count > 0 && size > 0 {
		return fixedDomains(count, size), nil
	}

	nodes, err := discoverNodes()
	if err != nil {
		return nil, err
	}

	clamp := func(bytes int64, n int) int {
		pages := int(bytes / int64(pageSize) / hostShare / int64(n))
		return min(max(pages, minDomainPages), maxDomainPages)
	}

	if count == 0 {
		if len(nodes) == 0 {
			count = 1
		} else {
			domains := make([]int, 0, len(nodes))
			for _, node := range nodes {
				pages := size
				if pages == 0 {
					pages = clamp(node.memory, 1)
				}
				domains = append(domains, pages)
			}
			return domains, nil
		}
	}

	pages := size
	if pages == 0 {
		var total int64
		for _, node := range nodes {
			total += node.memory
		}
		if total == 0 {
			var si unix.Sysinfo_t
			if err := unix.Sysinfo(&si); err != nil {
				return nil, vmsimError("failed to query host memory: %w", err)
			}
			total = int64(si.Totalram) * int64(si.Unit)
		}
		pages = clamp(total, count)
	}

	return fixedDomains(count, pages), nil
}

func fixedDomains(count, pages int) []int {
	domains := make([]int, count)
	for i := range domains {
		domains[i] = pages
	}
	return domains
}
