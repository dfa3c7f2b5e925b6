// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package schedmetrics

import (
	"sync"
	"testing"
)

func TestCounterConcurrentIncr(t *testing.T) {
	m := NewMap()
	c := m.Counter(TasksCreated)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Incr()
		}()
	}
	wg.Wait()
	if got := c.Value(); got != 100 {
		t.Fatalf("c.Value() = %d, want 100", got)
	}
}

func TestSnapshotIndependentOfLiveCounters(t *testing.T) {
	m := NewMap()
	m.Counter(TasksFinished).Add(3)
	snap := m.Snapshot()
	m.Counter(TasksFinished).Add(5)

	if got := snap[TasksFinished]; got != 3 {
		t.Fatalf("snapshot value = %d, want 3 (unaffected by later Add)", got)
	}
	if got := m.Counter(TasksFinished).Value(); got != 8 {
		t.Fatalf("live value = %d, want 8", got)
	}
}

func TestValuesString(t *testing.T) {
	v := Values{"b": 2, "a": 1}
	if got, want := v.String(), "a=1 b=2"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestValuesCopyIsIndependent(t *testing.T) {
	v := Values{"x": 1}
	w := v.Copy()
	w["x"] = 2
	if v["x"] != 1 {
		t.Fatalf("original mutated via copy: v[x] = %d, want 1", v["x"])
	}
}
