// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync"

	"github.com/grailbio/base/log"

	"github.com/dash-project/dartgo/schedmetrics"
)

// Graph is the dependency hash and task graph: a fixed-size,
// open-addressed-by-chaining table mapping a global address to the
// list of tasks that have declared a dependency on it, plus the
// bookkeeping needed to match remote readers against local writers
// across units.
//
// A single mutex mu guards the slot heads, the DepEntry free list,
// and unhandledRemote. Per-task state is guarded by each Task's own
// mutex; mu is always acquired before a task mutex, and no two task
// mutexes are ever held simultaneously.
type Graph struct {
	MyUnit    UnitID
	Resolver  Resolver
	Transport Transport
	Metrics   *schedmetrics.Map

	mu            sync.Mutex
	slots         [slotCount]*DepEntry
	free          depFreeList
	unhandledHead *DepEntry
}

// NewGraph constructs an empty dependency graph for the given unit.
// A nil resolver defaults to IdentityResolver.
func NewGraph(myUnit UnitID, resolver Resolver, transport Transport) *Graph {
	if resolver == nil {
		resolver = IdentityResolver{}
	}
	return &Graph{MyUnit: myUnit, Resolver: resolver, Transport: transport, Metrics: schedmetrics.NewMap()}
}

// Reset frees every DepEntry in every slot back to the free list and
// empties all slot heads. It does not touch unhandledHead: orphaned
// remote requests survive a reset, since they describe remote state
// this unit has not yet observed, not local graph state.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.slots {
		e := g.slots[i]
		for e != nil {
			next := e.next
			g.free.push(e)
			e = next
		}
		g.slots[i] = nil
	}
}

// allocEntry pops a recycled DepEntry from the free list, or
// allocates a fresh one. The caller must hold mu.
func (g *Graph) allocEntry(dep Dependency, ref TaskRef, phase uint64) *DepEntry {
	e := g.free.pop()
	if e == nil {
		e = &DepEntry{}
	}
	e.Dep = dep
	e.Ref = ref
	e.Phase = phase
	return e
}

// HandleTask registers task's dependencies by inserting a DepEntry
// per address into the hash table and chaining task behind any
// conflicting predecessor already present on that address. For each
// dependency owned by a remote unit, it delegates to the transport
// instead of registering locally.
func (g *Graph) HandleTask(ctx context.Context, task *Task, deps []Dependency) error {
	if task == nil {
		return invalidArg("dart: HandleTask called with nil task")
	}
	for _, dep := range deps {
		abs := g.Resolver.Resolve(dep.Addr)
		if abs.Unit != g.MyUnit {
			if g.Transport == nil {
				return ErrNotInitialized
			}
			handle := RemoteTaskHandle{Origin: g.MyUnit, Handle: task.ID}
			if err := g.Transport.RemoteDataDep(ctx, dep, task.Phase, handle); err != nil {
				return err
			}
			continue
		}
		slot := hashAddr(abs)

		g.mu.Lock()
		for e := g.slots[slot]; e != nil; e = e.next {
			if e.Ref.Local == task {
				assertf(false, "task %v already present in dependency hashmap", task)
			}
			if e.Dep.Addr != dep.Addr {
				continue
			}
			pred := e.Ref.Local
			if pred == nil {
				continue // entries for remote predecessors are never chained locally
			}
			pred.mu.Lock()
			predFinished := pred.state == Finished
			conflicts := dep.Kind.IsWrite() || (dep.Kind == In && e.Dep.Kind.IsWrite())
			if !predFinished && conflicts {
				task.AddUnresolvedDep()
				pred.LocalSuccessors = append(pred.LocalSuccessors, task)
			}
			pred.mu.Unlock()
			if e.Dep.Kind.IsWrite() {
				// Earlier writes (and the reads that precede them) are
				// shadowed by the latest write on this address.
				break
			}
		}

		ref := TaskRef{Local: task}
		entry := g.allocEntry(dep, ref, task.Phase)
		entry.next = g.slots[slot]
		g.slots[slot] = entry
		g.mu.Unlock()
		g.Metrics.Counter(schedmetrics.DepEntriesLive).Incr()

		if err := g.sweepUnhandledRemote(ctx, task, dep); err != nil {
			return err
		}
	}
	return nil
}

// sweepUnhandledRemote runs after registering a write dependency: it
// looks for parked remote IN requests on the same address and either
// attaches them to task (same phase) or arranges a direct dependency
// (earlier phase).
func (g *Graph) sweepUnhandledRemote(ctx context.Context, task *Task, dep Dependency) error {
	if !dep.Kind.IsWrite() {
		return nil
	}
	g.mu.Lock()
	var (
		prev    *DepEntry
		claimed []*DepEntry
	)
	e := g.unhandledHead
	for e != nil {
		next := e.next
		if e.Dep.Addr != dep.Addr {
			prev = e
			e = next
			continue
		}
		switch {
		case e.Phase == task.Phase:
			if prev == nil {
				g.unhandledHead = next
			} else {
				prev.next = next
			}
			e.next = nil
			claimed = append(claimed, e)
			// prev stays; e is removed from the list.
		case e.Phase < task.Phase:
			task.AddUnresolvedDep()
			prev = e
		default:
			// e.Phase > task.Phase: a later-phase task may still claim it.
			prev = e
		}
		e = next
	}
	g.mu.Unlock()

	for _, e := range claimed {
		task.mu.Lock()
		task.RemoteSuccessors = append(task.RemoteSuccessors, e)
		task.mu.Unlock()
	}
	// Entries left at phase < task.Phase get a direct dependency request,
	// not a claim: the remote reader may still be satisfied by another,
	// later local writer in this phase.
	g.mu.Lock()
	var toRequest []*DepEntry
	for e := g.unhandledHead; e != nil; e = e.next {
		if e.Dep.Addr == dep.Addr && e.Phase < task.Phase {
			toRequest = append(toRequest, e)
		}
	}
	g.mu.Unlock()
	for _, e := range toRequest {
		if g.Transport == nil {
			return ErrNotInitialized
		}
		local := RemoteTaskHandle{Origin: g.MyUnit, Handle: task.ID}
		if err := g.Transport.RemoteDirectTaskDep(ctx, e.Ref.Remote.Origin, local, e.Ref.Remote); err != nil {
			return err
		}
	}
	return nil
}

// HandleRemoteTask handles an incoming remote task request: dep must
// be an IN dependency originating on origin. It finds the latest
// local writer on dep.Addr and parks remoteTask as one of its remote
// successors, or, if the writer has already finished, releases
// immediately. If no local writer exists yet, the request is parked
// in unhandledHead for a future writer or end-of-phase flush to
// resolve.
func (g *Graph) HandleRemoteTask(ctx context.Context, dep Dependency, phase uint64, remoteTask RemoteTaskHandle, origin UnitID) error {
	if dep.Kind != In {
		return invalidArg("dart: remote dependencies of kind %s are not supported (only IN)", dep.Kind)
	}
	abs := g.Resolver.Resolve(dep.Addr)
	slot := hashAddr(abs)

	g.mu.Lock()
	var writer *Task
	for e := g.slots[slot]; e != nil; e = e.next {
		if e.Dep.Addr == dep.Addr && e.Dep.Kind.IsWrite() && e.Ref.Local != nil {
			writer = e.Ref.Local
			break
		}
	}
	if writer == nil {
		entry := g.allocEntry(dep, TaskRef{Remote: remoteTask}, phase)
		entry.Ref.Remote.Origin = origin
		entry.next = g.unhandledHead
		g.unhandledHead = entry
		g.mu.Unlock()
		g.Metrics.Counter(schedmetrics.UnhandledParked).Incr()
		log.Debug.Printf("dart: no local writer for remote IN on %+v from unit %d; parked", dep.Addr, origin)
		return nil
	}
	entry := g.allocEntry(dep, TaskRef{Remote: remoteTask}, phase)
	entry.Ref.Remote.Origin = origin
	g.mu.Unlock()

	writer.mu.Lock()
	finished := writer.state == Finished
	if !finished {
		writer.RemoteSuccessors = append(writer.RemoteSuccessors, entry)
	}
	writer.mu.Unlock()

	if finished {
		g.mu.Lock()
		g.free.push(entry)
		g.mu.Unlock()
		g.Metrics.Counter(schedmetrics.DepEntriesFreed).Incr()
		if g.Transport == nil {
			return ErrNotInitialized
		}
		g.Metrics.Counter(schedmetrics.RemoteReleasesOut).Incr()
		return g.Transport.RemoteRelease(ctx, origin, remoteTask, dep)
	}
	return nil
}

// HandleRemoteDirect gives localTask a DIRECT remote successor
// pointing at remoteTask, to be released (with no associated
// address) when localTask finishes.
func (g *Graph) HandleRemoteDirect(localTask *Task, remoteTask RemoteTaskHandle, origin UnitID) {
	g.mu.Lock()
	entry := g.allocEntry(Dependency{Kind: Direct}, TaskRef{Remote: remoteTask}, localTask.Phase)
	entry.Ref.Remote.Origin = origin
	g.mu.Unlock()

	localTask.mu.Lock()
	localTask.RemoteSuccessors = append(localTask.RemoteSuccessors, entry)
	localTask.mu.Unlock()
}

// ReleaseUnhandledRemote is the end-of-phase flush: every entry still
// parked in unhandledHead is released unconditionally (no local
// writer appeared before the phase closed, so the remote reader may
// proceed), then the list is emptied.
func (g *Graph) ReleaseUnhandledRemote(ctx context.Context) error {
	g.mu.Lock()
	e := g.unhandledHead
	g.unhandledHead = nil
	g.mu.Unlock()

	for e != nil {
		next := e.next
		if g.Transport != nil {
			g.Metrics.Counter(schedmetrics.RemoteReleasesOut).Incr()
			if err := g.Transport.RemoteRelease(ctx, e.Ref.Remote.Origin, e.Ref.Remote, e.Dep); err != nil {
				return err
			}
		}
		g.mu.Lock()
		g.free.push(e)
		g.mu.Unlock()
		g.Metrics.Counter(schedmetrics.DepEntriesFreed).Incr()
		e = next
	}
	return nil
}

// EndPhase is the per-unit end-of-phase operation: it flushes every
// unhandled remote request parked on this unit, whatever its phase;
// phase is not consulted. No coordination across units happens here
// or in Scheduler, so a remote request that arrives after this call
// stays parked until the next flush.
func (g *Graph) EndPhase(ctx context.Context, phase uint64) error {
	return g.ReleaseUnhandledRemote(ctx)
}

// sendDirectDependencies handles a released remote dependency:
// every local task still waiting on the same address through a write
// dependency must now also wait for remoteDep's remote task, since
// that remote read has to observe the value before the local write
// overwrites it.
func (g *Graph) sendDirectDependencies(ctx context.Context, remoteDep *DepEntry) error {
	if remoteDep.Dep.Kind == Direct {
		return nil
	}
	abs := g.Resolver.Resolve(remoteDep.Dep.Addr)
	slot := hashAddr(abs)

	g.mu.Lock()
	var targets []*Task
	for e := g.slots[slot]; e != nil; e = e.next {
		if e.Ref.Local == nil {
			continue
		}
		if e.Ref.Local.UnresolvedDeps() == 0 {
			// Already running or done; so are all earlier entries.
			break
		}
		if e.Dep.Addr == remoteDep.Dep.Addr && e.Dep.Kind.IsWrite() {
			targets = append(targets, e.Ref.Local)
		}
	}
	g.mu.Unlock()

	for _, local := range targets {
		if g.Transport == nil {
			return ErrNotInitialized
		}
		localHandle := RemoteTaskHandle{Origin: g.MyUnit, Handle: local.ID}
		if err := g.Transport.RemoteDirectTaskDep(ctx, remoteDep.Ref.Remote.Origin, localHandle, remoteDep.Ref.Remote); err != nil {
			return err
		}
		local.AddUnresolvedDep()
	}
	return nil
}

// ReleaseLocalTask runs the release protocol for a finished task: it
// notifies every remote successor (sending direct dependencies first,
// then the release itself, recycling entries as it goes) and
// decrements every local successor's unresolved count, returning the
// successors that became Ready so the caller (the scheduler) can push
// them onto a ready queue.
func (g *Graph) ReleaseLocalTask(ctx context.Context, task *Task) ([]*Task, error) {
	task.mu.Lock()
	remoteSuccessors := task.RemoteSuccessors
	task.RemoteSuccessors = nil
	localSuccessors := task.LocalSuccessors
	task.LocalSuccessors = nil
	task.mu.Unlock()

	g.Metrics.Counter(schedmetrics.TasksFinished).Incr()
	for _, rs := range remoteSuccessors {
		if err := g.sendDirectDependencies(ctx, rs); err != nil {
			return nil, err
		}
		if g.Transport != nil {
			g.Metrics.Counter(schedmetrics.RemoteReleasesOut).Incr()
			if err := g.Transport.RemoteRelease(ctx, rs.Ref.Remote.Origin, rs.Ref.Remote, rs.Dep); err != nil {
				return nil, err
			}
		}
		g.mu.Lock()
		g.free.push(rs)
		g.mu.Unlock()
		g.Metrics.Counter(schedmetrics.DepEntriesFreed).Incr()
	}

	var ready []*Task
	for _, succ := range localSuccessors {
		remaining := succ.ReleaseDep()
		assertf(remaining >= 0, "task %v has negative unresolved_deps (%d)", succ, remaining)
		if remaining == 0 {
			ready = append(ready, succ)
		}
	}
	return ready, nil
}
