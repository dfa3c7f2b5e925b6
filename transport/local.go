// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package transport provides implementations of sched.Transport: an
// in-memory one for single-process tests and multi-unit simulations,
// and an adapter onto github.com/grailbio/bigmachine for real
// multi-process deployments.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/dash-project/dartgo/sched"
	"github.com/dash-project/dartgo/schedmetrics"
)

// taskIndex maps a unit's own task IDs back to the *sched.Task values
// they name. sched addresses remote tasks by their owning unit's
// native Task.ID (RemoteTaskHandle.Handle), so resolving an incoming
// request only requires tracking locally created tasks, never minting
// new identifiers.
type taskIndex struct {
	mu   sync.Mutex
	byID map[uint64]*sched.Task
}

func newTaskIndex() *taskIndex {
	return &taskIndex{byID: make(map[uint64]*sched.Task)}
}

func (ti *taskIndex) track(t *sched.Task) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.byID[t.ID] = t
}

func (ti *taskIndex) lookup(handle uint64) (*sched.Task, bool) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	t, ok := ti.byID[handle]
	return t, ok
}

// Local is an in-process Transport connecting a fixed set of units,
// each backed by its own *sched.Graph. It delivers every call
// synchronously rather than simulating network asynchrony:
// deterministic ordering is more valuable for tests than realism.
type Local struct {
	mu     sync.Mutex
	units  map[sched.UnitID]*unitEndpoint
	wakeup chan struct{}
}

type unitEndpoint struct {
	unit    sched.UnitID
	graph   *sched.Graph
	tasks   *taskIndex
	onReady func(*sched.Task)
	inbox   []func(ctx context.Context) error
}

// NewLocal creates an empty Local transport. Call Register for every
// unit that will participate before using the transport.
func NewLocal() *Local {
	return &Local{
		units:  make(map[sched.UnitID]*unitEndpoint),
		wakeup: make(chan struct{}, 1),
	}
}

// Register associates unit with graph, so incoming requests addressed
// to unit are dispatched into graph. onReady is invoked (from the
// goroutine that calls Progress) whenever a remote release brings a
// task's unresolved dependency count to zero; a typical onReady
// resubmits the task to that unit's Scheduler.
func (l *Local) Register(unit sched.UnitID, graph *sched.Graph, onReady func(*sched.Task)) *TaskHandles {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep := &unitEndpoint{unit: unit, graph: graph, tasks: newTaskIndex(), onReady: onReady}
	l.units[unit] = ep
	return &TaskHandles{ep: ep}
}

// TaskHandles tracks tasks created on one unit and mints the
// RemoteTaskHandle values sent to other units to name them.
type TaskHandles struct{ ep *unitEndpoint }

// Handle records task as belonging to this unit and returns the
// RemoteTaskHandle other units use to refer to it.
func (h *TaskHandles) Handle(task *sched.Task) sched.RemoteTaskHandle {
	h.ep.tasks.track(task)
	return sched.RemoteTaskHandle{Origin: h.ep.unit, Handle: task.ID}
}

func (l *Local) endpoint(unit sched.UnitID) (*unitEndpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep, ok := l.units[unit]
	if !ok {
		return nil, fmt.Errorf("transport: unit %d is not registered", unit)
	}
	return ep, nil
}

// RemoteDataDep implements sched.Transport: it delivers dep, declared
// in phase by task, to the unit that owns dep.Addr (every Local
// deployment uses the identity resolver, so address ownership is
// literal).
func (l *Local) RemoteDataDep(ctx context.Context, dep sched.Dependency, phase uint64, task sched.RemoteTaskHandle) error {
	ep, err := l.endpoint(dep.Addr.Unit)
	if err != nil {
		return err
	}
	return ep.graph.HandleRemoteTask(ctx, dep, phase, task, task.Origin)
}

// RemoteDirectTaskDep implements sched.Transport. remoteTask is
// always owned by origin (the unit the call is routed to); it is
// resolved against origin's own task index and gains localTask
// (owned by the caller) as a remote successor.
func (l *Local) RemoteDirectTaskDep(ctx context.Context, origin sched.UnitID, localTask, remoteTask sched.RemoteTaskHandle) error {
	ep, err := l.endpoint(origin)
	if err != nil {
		return err
	}
	target, ok := ep.tasks.lookup(remoteTask.Handle)
	if !ok {
		return fmt.Errorf("transport: unit %d has no task with handle %d", origin, remoteTask.Handle)
	}
	ep.graph.HandleRemoteDirect(target, localTask, localTask.Origin)
	return nil
}

// RemoteRelease implements sched.Transport: remoteTask is owned by
// origin; decrementing its unresolved dependency count to zero queues
// ep.onReady to run on the next Progress call.
func (l *Local) RemoteRelease(ctx context.Context, origin sched.UnitID, remoteTask sched.RemoteTaskHandle, dep sched.Dependency) error {
	ep, err := l.endpoint(origin)
	if err != nil {
		return err
	}
	target, ok := ep.tasks.lookup(remoteTask.Handle)
	if !ok {
		return fmt.Errorf("transport: unit %d has no task with handle %d", origin, remoteTask.Handle)
	}
	if ep.graph.Metrics != nil {
		ep.graph.Metrics.Counter(schedmetrics.RemoteReleasesIn).Incr()
	}
	remaining := target.ReleaseDep()
	if remaining == 0 && ep.onReady != nil {
		l.mu.Lock()
		ep.inbox = append(ep.inbox, func(ctx context.Context) error {
			ep.onReady(target)
			return nil
		})
		l.mu.Unlock()
		l.signal()
	}
	return nil
}

// Progress implements sched.Transport: it drains and runs the
// callbacks queued by RemoteRelease across every registered unit.
// Local has no separate wire format, so "progress" reduces to
// flushing these deferred local callbacks.
func (l *Local) Progress(ctx context.Context) error {
	l.mu.Lock()
	var pending []func(ctx context.Context) error
	for _, ep := range l.units {
		pending = append(pending, ep.inbox...)
		ep.inbox = nil
	}
	l.mu.Unlock()
	for _, fn := range pending {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Wakeup implements sched.Transport.
func (l *Local) Wakeup() <-chan struct{} { return l.wakeup }

func (l *Local) signal() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}
