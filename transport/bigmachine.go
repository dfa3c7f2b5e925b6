// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"

	"github.com/dash-project/dartgo/sched"
	"github.com/dash-project/dartgo/schedmetrics"
)

func init() {
	gob.Register(&worker{})
}

// dataDepRequest, directDepRequest and releaseRequest are the wire
// types for the three Transport RPCs, registered as bigmachine
// service methods below.
type dataDepRequest struct {
	Dep   sched.Dependency
	Phase uint64
	Task  sched.RemoteTaskHandle
}

type directDepRequest struct {
	LocalTask  sched.RemoteTaskHandle
	RemoteTask sched.RemoteTaskHandle
}

type releaseRequest struct {
	RemoteTask sched.RemoteTaskHandle
	Dep        sched.Dependency
}

// worker is the bigmachine service registered on every machine in the
// team. Exported exists only so gob has at least one exported field
// to encode.
type worker struct {
	Exported struct{}

	mu      sync.Mutex
	graph   *sched.Graph
	tasks   *taskIndex
	onReady func(*sched.Task)
	wakeup  chan struct{}
	inbox   []func(ctx context.Context) error
}

// Init satisfies bigmachine's service initialization hook.
func (w *worker) Init(b *bigmachine.B) error {
	w.wakeup = make(chan struct{}, 1)
	return nil
}

func (w *worker) bind(myUnit sched.UnitID, graph *sched.Graph, onReady func(*sched.Task)) *TaskHandles {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.graph = graph
	w.onReady = onReady
	w.tasks = newTaskIndex()
	return &TaskHandles{ep: &unitEndpoint{unit: myUnit, graph: graph, tasks: w.tasks}}
}

// DataDep is the RPC entry point for RemoteDataDep.
func (w *worker) DataDep(ctx context.Context, req dataDepRequest, _ *struct{}) error {
	if w.graph == nil {
		return errors.E(errors.Fatal, "dart: worker not bound to a graph")
	}
	return w.graph.HandleRemoteTask(ctx, req.Dep, req.Phase, req.Task, req.Task.Origin)
}

// DirectTaskDep is the RPC entry point for RemoteDirectTaskDep.
// req.RemoteTask is owned by this worker; it is resolved against this
// worker's own task index.
func (w *worker) DirectTaskDep(ctx context.Context, req directDepRequest, _ *struct{}) error {
	target, ok := w.tasks.lookup(req.RemoteTask.Handle)
	if !ok {
		return fmt.Errorf("transport: no task with handle %d", req.RemoteTask.Handle)
	}
	w.graph.HandleRemoteDirect(target, req.LocalTask, req.LocalTask.Origin)
	return nil
}

// Release is the RPC entry point for RemoteRelease. req.RemoteTask is
// owned by this worker.
func (w *worker) Release(ctx context.Context, req releaseRequest, _ *struct{}) error {
	target, ok := w.tasks.lookup(req.RemoteTask.Handle)
	if !ok {
		return fmt.Errorf("transport: no task with handle %d", req.RemoteTask.Handle)
	}
	if w.graph.Metrics != nil {
		w.graph.Metrics.Counter(schedmetrics.RemoteReleasesIn).Incr()
	}
	remaining := target.ReleaseDep()
	if remaining == 0 && w.onReady != nil {
		w.mu.Lock()
		w.inbox = append(w.inbox, func(ctx context.Context) error {
			w.onReady(target)
			return nil
		})
		w.mu.Unlock()
		select {
		case w.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Bigmachine is a Transport backed by github.com/grailbio/bigmachine
// RPC: a local *worker instance services requests from peers, while
// outgoing calls are dispatched with (*bigmachine.Machine).Call.
type Bigmachine struct {
	b        *bigmachine.B
	machines map[sched.UnitID]*bigmachine.Machine
	self     *worker
}

// NewBigmachine binds self to graph and returns a Transport that
// dispatches to the given units' already-started machines, plus
// the TaskHandles this process should use to mint handles for the
// tasks it creates. myUnit is this process's own unit id; graph is
// the Graph for the local unit; onReady is invoked when a remote
// release brings a local task's dependency count to zero.
func NewBigmachine(b *bigmachine.B, machines map[sched.UnitID]*bigmachine.Machine, self *worker, myUnit sched.UnitID, graph *sched.Graph, onReady func(*sched.Task)) (*Bigmachine, *TaskHandles) {
	handles := self.bind(myUnit, graph, onReady)
	return &Bigmachine{b: b, machines: machines, self: self}, handles
}

func (t *Bigmachine) machine(unit sched.UnitID) (*bigmachine.Machine, error) {
	m, ok := t.machines[unit]
	if !ok {
		return nil, fmt.Errorf("transport: no machine registered for unit %d", unit)
	}
	return m, nil
}

// RemoteDataDep implements sched.Transport.
func (t *Bigmachine) RemoteDataDep(ctx context.Context, dep sched.Dependency, phase uint64, task sched.RemoteTaskHandle) error {
	m, err := t.machine(dep.Addr.Unit)
	if err != nil {
		return err
	}
	req := dataDepRequest{Dep: dep, Phase: phase, Task: task}
	return m.Call(ctx, "Worker.DataDep", req, &struct{}{})
}

// RemoteDirectTaskDep implements sched.Transport.
func (t *Bigmachine) RemoteDirectTaskDep(ctx context.Context, origin sched.UnitID, localTask, remoteTask sched.RemoteTaskHandle) error {
	m, err := t.machine(origin)
	if err != nil {
		return err
	}
	req := directDepRequest{LocalTask: localTask, RemoteTask: remoteTask}
	return m.Call(ctx, "Worker.DirectTaskDep", req, &struct{}{})
}

// RemoteRelease implements sched.Transport.
func (t *Bigmachine) RemoteRelease(ctx context.Context, origin sched.UnitID, remoteTask sched.RemoteTaskHandle, dep sched.Dependency) error {
	m, err := t.machine(origin)
	if err != nil {
		return err
	}
	req := releaseRequest{RemoteTask: remoteTask, Dep: dep}
	return m.Call(ctx, "Worker.Release", req, &struct{}{})
}

// Progress implements sched.Transport: it drains callbacks queued by
// incoming Release RPCs against this process's own worker.
func (t *Bigmachine) Progress(ctx context.Context) error {
	t.self.mu.Lock()
	pending := t.self.inbox
	t.self.inbox = nil
	t.self.mu.Unlock()
	for _, fn := range pending {
		if err := fn(ctx); err != nil {
			log.Error.Printf("dart: transport progress callback failed: %v", err)
			return err
		}
	}
	return nil
}

// Wakeup implements sched.Transport.
func (t *Bigmachine) Wakeup() <-chan struct{} { return t.self.wakeup }
