// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hwinfo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// probeNumaID attempts to read the NUMA node serving the calling
// thread's current CPU from the Linux sysfs topology tree. It
// returns ok=false on any platform or permission error, in which
// case Finalize's fallback (NUMA node 0) applies.
func probeNumaID() (id int32, ok bool) {
	cpu, ok := probeCPUID()
	if !ok {
		return 0, false
	}
	// A NUMA-aware kernel links each cpuN directory to its memory node
	// as a "nodeM" entry.
	entries, err := os.ReadDir(filepath.Join("/sys/devices/system/cpu", "cpu"+strconv.Itoa(int(cpu))))
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(name, "node")); err == nil && n >= 0 {
			return int32(n), true
		}
	}
	return 0, false
}

// probeCPUID is a best-effort reading of the CPU the caller is
// currently scheduled on. It is not pinned: the value may be stale
// the instant it is read, which is acceptable since it only seeds a
// one-shot NUMA lookup at probe time.
func probeCPUID() (id int32, ok bool) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	const procStatCPUField = 39 // man proc(5): field 39 is "processor"
	if len(fields) < procStatCPUField {
		return 0, false
	}
	n, err := strconv.Atoi(fields[procStatCPUField-1])
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// probeClockMhz reads the advertised min/max scaling frequency for
// cpu0 from cpufreq, in MHz. It returns ok=false when the platform
// does not expose cpufreq (e.g. inside most containers and VMs), in
// which case consumers keep the Unknown sentinel.
func probeClockMhz() (minMhz, maxMhz int32, ok bool) {
	minKhz, ok1 := readKhz("/sys/devices/system/cpu/cpu0/cpufreq/scaling_min_freq")
	maxKhz, ok2 := readKhz("/sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq")
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return minKhz / 1000, maxKhz / 1000, true
}

func readKhz(path string) (int32, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return int32(n), true
}
