// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schedmetrics provides lightweight, atomic-counter-based
// instrumentation for the scheduler and dependency graph: named int64
// counters collected into a snapshot map, safe for concurrent
// increment from many worker goroutines without a lock.
package schedmetrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically adjustable named metric. Its zero value
// is usable.
type Counter struct {
	name  string
	value int64
}

// Name returns the counter's name.
func (c *Counter) Name() string { return c.name }

// Add adds delta to the counter's value and returns the new total.
func (c *Counter) Add(delta int64) int64 {
	return atomic.AddInt64(&c.value, delta)
}

// Incr increments the counter by one.
func (c *Counter) Incr() int64 { return c.Add(1) }

// Value returns the counter's current value.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Values is a point-in-time snapshot of every counter in a Map,
// keyed by name.
type Values map[string]int64

// Copy returns an independent copy of v.
func (v Values) Copy() Values {
	w := make(Values, len(v))
	for k, val := range v {
		w[k] = val
	}
	return w
}

// String renders v as a sorted, human-readable "name=value" list.
func (v Values) String() string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, v[name])
	}
	return strings.Join(parts, " ")
}

// Map is a registry of named counters for one unit's scheduler and
// dependency graph. The zero value is not usable; construct with
// NewMap.
type Map struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{counters: make(map[string]*Counter)}
}

// Counter returns the named counter, creating it (initialized to
// zero) on first use.
func (m *Map) Counter(name string) *Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &Counter{name: name}
		m.counters[name] = c
	}
	return c
}

// Snapshot returns the current value of every counter registered so
// far.
func (m *Map) Snapshot() Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make(Values, len(m.counters))
	for name, c := range m.counters {
		v[name] = c.Value()
	}
	return v
}

// Standard counter names used by package sched, collected here so
// every producer and consumer agrees on spelling.
const (
	TasksCreated      = "tasks.created"
	TasksFinished     = "tasks.finished"
	TasksCancelled    = "tasks.cancelled"
	TasksFailed       = "tasks.failed"
	DepEntriesLive    = "dephash.entries.live"
	DepEntriesFreed   = "dephash.entries.freed"
	RemoteReleasesOut = "remote.releases.sent"
	RemoteReleasesIn  = "remote.releases.received"
	UnhandledParked   = "dephash.unhandled.parked"
	StealsSucceeded   = "scheduler.steals.succeeded"
)
