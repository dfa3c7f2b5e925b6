// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hwinfo probes per-unit hardware characteristics: NUMA
// placement, core counts, and clock and thread ranges. It is the
// leaf-level input to the locality tree built by package locality.
package hwinfo

import "runtime"

// Unknown is the sentinel value for a hardware attribute that could
// not be determined at probe time. After Finalize runs, NumaID,
// NumCores, MinThreads and MaxThreads are guaranteed to no longer be
// Unknown; clock fields may remain Unknown indefinitely.
const Unknown = -1

// Info describes the hardware surrounding a single unit.
type Info struct {
	NumaID     int32
	CPUID      int32
	NumCores   int32
	NumModules int32
	NumNuma    int32
	MinThreads int32
	MaxThreads int32
	MinCPUMhz  int32
	MaxCPUMhz  int32
}

// ThreadPolicy computes a unit's thread range from its probed Info.
// It is a pluggable hook: a Many Integrated Core architecture's fixed
// override (min=max=4*num_cores) is one such policy, provided below
// as MICThreadPolicy, but it is never applied unless a caller opts in.
type ThreadPolicy func(Info) (min, max int32)

// BalancedThreadPolicy is the default fallback used when the platform
// does not expose a thread-per-core topology: both min and max are
// set to the number of cores.
func BalancedThreadPolicy(info Info) (min, max int32) {
	return info.NumCores, info.NumCores
}

// MICThreadPolicy reproduces the Xeon Phi ("MIC") override from the
// original runtime: four hardware threads per core, fixed min and
// max. It must be selected explicitly by a caller that knows it is
// running on such hardware; Probe never selects it automatically.
func MICThreadPolicy(info Info) (min, max int32) {
	n := info.NumCores * 4
	return n, n
}

// Probe returns the hardware characteristics of the calling process.
// It is a pure function of the current environment: it does not
// mutate any global state and may be called repeatedly and
// concurrently.
//
// Probe never blocks on unavailable hardware counters; any value it
// cannot determine is reported as Unknown and resolved by Finalize.
func Probe() Info {
	info := Info{
		NumaID:     Unknown,
		CPUID:      Unknown,
		NumCores:   int32(runtime.NumCPU()),
		NumModules: 1,
		NumNuma:    1,
		MinThreads: Unknown,
		MaxThreads: Unknown,
		MinCPUMhz:  Unknown,
		MaxCPUMhz:  Unknown,
	}
	if numaID, ok := probeNumaID(); ok {
		info.NumaID = numaID
	}
	if min, max, ok := probeClockMhz(); ok {
		info.MinCPUMhz, info.MaxCPUMhz = min, max
	}
	return Finalize(info, nil)
}

// Finalize applies the documented fallbacks to a (possibly partially
// probed) Info, using policy to resolve the thread range. A nil
// policy defaults to BalancedThreadPolicy. Finalize is idempotent.
func Finalize(info Info, policy ThreadPolicy) Info {
	if policy == nil {
		policy = BalancedThreadPolicy
	}
	if info.NumaID < 0 {
		info.NumaID = 0
	}
	if info.NumCores < 1 {
		info.NumCores = 1
	}
	if info.NumModules < 1 {
		info.NumModules = 1
	}
	if info.NumNuma < 1 {
		info.NumNuma = 1
	}
	if info.MinThreads <= 0 || info.MaxThreads <= 0 {
		info.MinThreads, info.MaxThreads = policy(info)
	}
	if info.MinThreads <= 0 {
		info.MinThreads = 1
	}
	if info.MaxThreads <= 0 {
		info.MaxThreads = 1
	}
	return info
}
