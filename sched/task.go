// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sched implements the distributed task scheduler: the
// per-unit data dependency hash and task graph, and the worker-thread
// scheduler core that runs tasks as their dependencies resolve.
package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"

	"github.com/dash-project/dartgo/hosttopology"
)

// UnitID names a process in the team.
type UnitID = hosttopology.UnitID

// State is the lifecycle state of a Task. State values are ordered so
// that their magnitudes correspond with task progression; once a Task
// reaches Running it may only advance to a larger-valued state.
type State int

const (
	Created State = iota
	Ready
	Running
	Finished
	Cancelled
)

var stateNames = [...]string{
	Created:   "CREATED",
	Ready:     "READY",
	Running:   "RUNNING",
	Finished:  "FINISHED",
	Cancelled: "CANCELLED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DependencyKind classifies a Dependency's effect on its address.
// OUT and INOUT are writes; IN is a read; DIRECT is a raw
// happens-before edge carrying no address, used only to serialize
// across units.
type DependencyKind int

const (
	In DependencyKind = iota
	Out
	InOut
	Direct
)

func (k DependencyKind) String() string {
	switch k {
	case In:
		return "IN"
	case Out:
		return "OUT"
	case InOut:
		return "INOUT"
	case Direct:
		return "DIRECT"
	default:
		return "UNKNOWN"
	}
}

// IsWrite reports whether k designates a write dependency (OUT or
// INOUT), as opposed to a read (IN) or a DIRECT edge.
func (k DependencyKind) IsWrite() bool {
	return k == Out || k == InOut
}

// Dependency is one declared data dependency of a task.
type Dependency struct {
	Kind DependencyKind
	Addr GlobalAddress
}

// RemoteTaskHandle is an opaque reference to a task owned by another
// unit. The scheduler never dereferences it; it is only round-tripped
// back to the transport when releasing or requesting on behalf of a
// remote task.
type RemoteTaskHandle struct {
	Origin UnitID
	Handle uint64
}

// TaskRef is a tagged reference to a task: the graph sets exactly one
// of Local or Remote, never both. Keeping them in separate fields
// instead of an untagged union means a local pointer is never
// reinterpreted as an opaque remote handle; the type itself does not
// stop a caller from setting both.
type TaskRef struct {
	Local  *Task
	Remote RemoteTaskHandle
}

// IsLocal reports whether the reference names a local task.
func (r TaskRef) IsLocal() bool { return r.Local != nil }

// Fn is the user computation a Task runs once its dependencies
// resolve. It is invoked at most once.
type Fn func(ctx context.Context) error

// Task is a unit of work submitted to the scheduler, carrying typed
// dependencies on global addresses.
type Task struct {
	ID    uint64
	Phase uint64
	Fn    Fn

	// UnresolvedDeps is decremented as predecessors finish; the task
	// becomes Ready when it reaches zero. It is manipulated with
	// atomic add so that readers may observe "already running/done"
	// without holding mu.
	unresolvedDeps int32

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state State
	err   error

	// LocalSuccessors are local tasks that must be notified (their
	// UnresolvedDeps decremented) when this task finishes.
	LocalSuccessors []*Task
	// RemoteSuccessors are remote readers/direct-dependents that must
	// be notified (via the transport) when this task finishes.
	RemoteSuccessors []*DepEntry
}

// NewTask creates a task in state Created. The caller must register
// its dependencies with a Graph before submitting it to a scheduler;
// the scheduler promotes the task to Ready when it submits it, which
// by then has UnresolvedDeps == 0 by construction.
func NewTask(id uint64, phase uint64, fn Fn) *Task {
	t := &Task{ID: id, Phase: phase, Fn: fn, state: Created}
	t.cond = ctxsync.NewCond(&t.mu)
	return t
}

// UnresolvedDeps returns the current unresolved dependency count.
func (t *Task) UnresolvedDeps() int32 {
	return atomicLoad32(&t.unresolvedDeps)
}

// AddUnresolvedDep increments the unresolved dependency count and
// returns the new value. Called while registering a predecessor.
func (t *Task) AddUnresolvedDep() int32 {
	return atomicAdd32(&t.unresolvedDeps, 1)
}

// ReleaseDep decrements the unresolved dependency count and returns
// the new value. A negative result is a programming error (a double
// release) and is reported by the caller, not panicked here, so that
// a release storm cannot bring down the process mid-sweep.
func (t *Task) ReleaseDep() int32 {
	return atomicAdd32(&t.unresolvedDeps, -1)
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the task to state and wakes any waiters.
func (t *Task) SetState(state State) {
	t.mu.Lock()
	t.state = state
	t.cond.Broadcast()
	t.mu.Unlock()
}

// markReady promotes the task from Created to Ready, used by
// Scheduler.Submit. It leaves any other state (in particular
// Cancelled, set concurrently by Scheduler.Cancel) untouched.
func (t *Task) markReady() {
	t.mu.Lock()
	if t.state == Created {
		t.state = Ready
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// Fail transitions the task to Finished with an associated error: the
// scheduler still runs the release protocol for a failed task so that
// its successors see progress, the same as for a cancelled task.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	t.state = Finished
	t.err = err
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Err returns the error recorded by Fail, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// WaitState blocks until the task's state is at least state, or ctx
// is done.
func (t *Task) WaitState(ctx context.Context, state State) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for t.state < state && err == nil {
		err = t.cond.Wait(ctx)
	}
	return t.state, err
}

// String returns a short diagnostic representation of the task.
func (t *Task) String() string {
	return fmt.Sprintf("task#%d[phase=%d] %s (unresolved=%d)", t.ID, t.Phase, t.State(), t.UnresolvedDeps())
}
