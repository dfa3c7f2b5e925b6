// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

// DepEntry is a node of the dependency hash table: it records one
// declared dependency and a reference to the task (local or remote)
// that declared it. Entries for a given slot are chained newest-first.
type DepEntry struct {
	next  *DepEntry
	Ref   TaskRef
	Dep   Dependency
	Phase uint64
}

// depFreeList is an intrusive singly-linked stack of recycled
// DepEntry nodes, guarded by the caller's mutex (always graph.mu). It
// exists because entries are allocated and freed in the hot
// dependency-registration path of every task.
type depFreeList struct {
	head *DepEntry
}

// pop removes and returns the top of the free list, or nil if empty.
// The caller must hold the owning Graph's mutex.
func (f *depFreeList) pop() *DepEntry {
	e := f.head
	if e == nil {
		return nil
	}
	f.head = e.next
	e.next = nil
	return e
}

// push recycles e onto the free list after zeroing its fields so
// that a reused entry never leaks a stale task reference. The caller
// must hold the owning Graph's mutex.
func (f *depFreeList) push(e *DepEntry) {
	*e = DepEntry{next: f.head}
	f.head = e
}
