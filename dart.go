// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dart is the thin public façade over the locality tree, the
// host topology builder, and the dependency-tracking task scheduler:
// a lazily-initialized, per-process Context that callers drive with
// explicit init/fini pairs, the single entry point into an otherwise
// internal set of packages.
package dart

import (
	"context"
	"fmt"
	"sync"

	"github.com/dash-project/dartgo/hosttopology"
	"github.com/dash-project/dartgo/hwinfo"
	"github.com/dash-project/dartgo/locality"
	"github.com/dash-project/dartgo/sched"
)

// UnitID names a process in the team.
type UnitID = hosttopology.UnitID

// Context is the process-wide, lazily-initialized state: the locality
// tree, host topology, and dependency graph, behind explicit Init/Fini
// pairs that support idempotent re-init after Reset. The zero value is
// ready to use.
type Context struct {
	MyUnit UnitID

	mu         sync.Mutex
	domainRoot *locality.Domain

	graph     *sched.Graph
	scheduler *sched.Scheduler
}

// NewContext returns a Context for the given unit. It performs no
// I/O; call LocalityInit and DataDepsInit before using the rest of
// the API.
func NewContext(myUnit UnitID) *Context {
	return &Context{MyUnit: myUnit}
}

// LocalityInit builds the locality tree for a team described by
// hostNames and infos, both indexed by unit id (hwinfo.Probe run on
// each unit and gathered to every other one). Calling LocalityInit
// again after LocalityFinalize rebuilds the tree from scratch.
func (c *Context) LocalityInit(hostNames []string, infos []hwinfo.Info) error {
	root, err := locality.Build(hostNames, infos)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.domainRoot = root
	c.mu.Unlock()
	return nil
}

// LocalityFinalize releases the locality tree.
func (c *Context) LocalityFinalize() {
	c.mu.Lock()
	locality.Delete(c.domainRoot)
	c.domainRoot = nil
	c.mu.Unlock()
}

// Domain resolves a dotted tag against the locality tree built by
// LocalityInit.
func (c *Context) Domain(tag string) (*locality.Domain, error) {
	c.mu.Lock()
	root := c.domainRoot
	c.mu.Unlock()
	if root == nil {
		return nil, sched.ErrNotInitialized
	}
	return locality.Lookup(root, tag)
}

// UnitLocality returns the CORE leaf domain that unit occupies.
func (c *Context) UnitLocality(unit UnitID) (*locality.Domain, error) {
	c.mu.Lock()
	root := c.domainRoot
	c.mu.Unlock()
	if root == nil {
		return nil, sched.ErrNotInitialized
	}
	return locality.FindUnit(root, unit)
}

// DataDepsInit constructs the dependency graph and worker-pool
// scheduler for this unit. A nil resolver defaults to
// sched.IdentityResolver; transport may be nil for a single-unit
// deployment with no remote traffic.
func (c *Context) DataDepsInit(resolver sched.Resolver, transport sched.Transport, numWorkers int) {
	graph := sched.NewGraph(c.MyUnit, resolver, transport)
	c.mu.Lock()
	c.graph = graph
	c.scheduler = sched.NewScheduler(graph, numWorkers)
	c.mu.Unlock()
}

// DataDepsFini tears down the dependency graph. It does not stop an
// in-flight Run call; cancel the context passed to Run for that.
func (c *Context) DataDepsFini() {
	c.mu.Lock()
	c.graph = nil
	c.scheduler = nil
	c.mu.Unlock()
}

// DataDepsReset empties the dependency hash table without discarding
// the graph and scheduler, ready for a fresh round of task
// registration.
func (c *Context) DataDepsReset() error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	g.Reset()
	return nil
}

func (c *Context) requireGraph() (*sched.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return nil, sched.ErrNotInitialized
	}
	return c.graph, nil
}

func (c *Context) requireScheduler() (*sched.Scheduler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return nil, sched.ErrNotInitialized
	}
	return c.scheduler, nil
}

// HandleTask registers task's declared dependencies and, if it is
// immediately Ready, submits it to the scheduler.
func (c *Context) HandleTask(ctx context.Context, task *sched.Task, deps []sched.Dependency) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	if err := g.HandleTask(ctx, task, deps); err != nil {
		return err
	}
	if task.UnresolvedDeps() == 0 {
		s, err := c.requireScheduler()
		if err != nil {
			return err
		}
		s.Submit(task, int(task.ID))
	}
	return nil
}

// HandleRemoteTask dispatches an incoming remote IN dependency
// request to the graph.
func (c *Context) HandleRemoteTask(ctx context.Context, dep sched.Dependency, phase uint64, remoteTask sched.RemoteTaskHandle, origin UnitID) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	return g.HandleRemoteTask(ctx, dep, phase, remoteTask, origin)
}

// HandleRemoteDirect dispatches an incoming direct-dependency request
// to the graph.
func (c *Context) HandleRemoteDirect(localTask *sched.Task, remoteTask sched.RemoteTaskHandle, origin UnitID) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	g.HandleRemoteDirect(localTask, remoteTask, origin)
	return nil
}

// ReleaseLocalTask runs the release protocol for a finished task and
// submits any local successors that became Ready to the scheduler.
func (c *Context) ReleaseLocalTask(ctx context.Context, task *sched.Task) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	ready, err := g.ReleaseLocalTask(ctx, task)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}
	s, err := c.requireScheduler()
	if err != nil {
		return err
	}
	for _, succ := range ready {
		s.Submit(succ, int(succ.ID))
	}
	return nil
}

// ReleaseUnhandledRemote flushes every entry still parked in the
// graph's unhandled-remote-deps list.
func (c *Context) ReleaseUnhandledRemote(ctx context.Context) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	return g.ReleaseUnhandledRemote(ctx)
}

// EndPhase flushes this unit's unhandled remote requests (see
// sched.Graph.EndPhase).
func (c *Context) EndPhase(ctx context.Context, phase uint64) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	return g.EndPhase(ctx, phase)
}

// Progress drains pending transport traffic once. Run calls this in a
// loop on a dedicated goroutine; most callers should prefer Run.
func (c *Context) Progress(ctx context.Context) error {
	g, err := c.requireGraph()
	if err != nil {
		return err
	}
	if g.Transport == nil {
		return nil
	}
	return g.Transport.Progress(ctx)
}

// Run starts the scheduler's worker pool and (if a transport is
// configured) its progress loop, blocking until ctx is cancelled or a
// worker returns an error.
func (c *Context) Run(ctx context.Context) error {
	s, err := c.requireScheduler()
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// String returns a short diagnostic summary of the context.
func (c *Context) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	initialized := c.graph != nil
	return fmt.Sprintf("dart.Context{unit=%d, localityInit=%v, dataDepsInit=%v}", c.MyUnit, c.domainRoot != nil, initialized)
}
