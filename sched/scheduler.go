// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"

	"github.com/dash-project/dartgo/schedmetrics"
)

// queue is a per-worker FIFO of ready tasks, also steal-able by other
// workers. Workers pop from the front of their own queue and push new
// work to the back; a thief pops from the back of a donor's queue so
// that stealing and local execution rarely contend on the same end.
type queue struct {
	mu    sync.Mutex
	tasks []*Task
}

func (q *queue) pushBack(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

func (q *queue) popFront() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t
}

func (q *queue) stealBack() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if n == 0 {
		return nil
	}
	t := q.tasks[n-1]
	q.tasks = q.tasks[:n-1]
	return t
}

// openPhase is a btree.Item tracking the number of tasks in flight for
// one phase, so the scheduler can tell when a phase has drained.
// Phases are ordered by value, which lets Scheduler.Quiesced answer
// "is every phase <= p drained?" with a single btree walk instead of
// a full scan.
type openPhase struct {
	phase   uint64
	inFlight int
}

func (a *openPhase) Less(b btree.Item) bool {
	return a.phase < b.(*openPhase).phase
}

// Scheduler is the worker-thread core: it runs tasks to completion as
// their dependencies resolve, feeding released successors back onto
// ready queues, while a dedicated goroutine drains the transport for
// remote traffic.
//
// A fixed pool of worker goroutines is coordinated by an
// errgroup.Group, each pulling from a work queue and falling back to
// stealing from siblings when its own queue is empty.
type Scheduler struct {
	Graph *Graph

	numWorkers int
	queues     []*queue

	phaseMu sync.Mutex
	phases  *btree.BTree

	wake chan struct{}
}

// NewScheduler creates a scheduler with numWorkers worker goroutines
// driving graph's release protocol. numWorkers must be at least 1.
func NewScheduler(graph *Graph, numWorkers int) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s := &Scheduler{
		Graph:      graph,
		numWorkers: numWorkers,
		queues:     make([]*queue, numWorkers),
		phases:     btree.New(8),
		wake:       make(chan struct{}, 1),
	}
	for i := range s.queues {
		s.queues[i] = &queue{}
	}
	return s
}

// Submit enqueues task on worker hint (hint is reduced modulo
// numWorkers), marking its phase in-flight and promoting the task
// from Created to Ready. task's UnresolvedDeps() must already be 0;
// callers typically obtain it either fresh from NewTask with no
// dependencies, or as a value returned by Graph.ReleaseLocalTask.
func (s *Scheduler) Submit(task *Task, hint int) {
	task.markReady()
	s.beginPhase(task.Phase)
	s.Graph.Metrics.Counter(schedmetrics.TasksCreated).Incr()
	q := s.queues[hint%len(s.queues)]
	q.pushBack(task)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) beginPhase(phase uint64) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	item := s.phases.Get(&openPhase{phase: phase})
	if item == nil {
		s.phases.ReplaceOrInsert(&openPhase{phase: phase, inFlight: 1})
		return
	}
	item.(*openPhase).inFlight++
}

func (s *Scheduler) endPhase(phase uint64) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	item := s.phases.Get(&openPhase{phase: phase})
	if item == nil {
		assertf(false, "endPhase called on phase %d with no in-flight tasks", phase)
		return
	}
	p := item.(*openPhase)
	p.inFlight--
	if p.inFlight == 0 {
		s.phases.Delete(p)
	}
}

// Quiesced reports whether no task of phase phase (or any earlier
// phase) is currently running or queued.
func (s *Scheduler) Quiesced(phase uint64) bool {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	quiesced := true
	s.phases.Ascend(func(item btree.Item) bool {
		if item.(*openPhase).phase <= phase {
			quiesced = false
			return false
		}
		return true
	})
	return quiesced
}

// Run starts numWorkers worker goroutines and a progress goroutine,
// blocking until ctx is cancelled or a worker returns an error. An
// errgroup.Group carries the first error out of whichever goroutine
// fails first and cancels the rest via ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.numWorkers; i++ {
		i := i
		g.Go(func() error { return s.runWorker(ctx, i) })
	}
	if s.Graph.Transport != nil {
		g.Go(func() error { return s.runProgress(ctx) })
	}
	return g.Wait()
}

// runWorker is one worker goroutine's main loop: pop from its own
// queue, or steal from a sibling, or park until woken, until ctx is
// done.
func (s *Scheduler) runWorker(ctx context.Context, id int) error {
	own := s.queues[id]
	for {
		task := own.popFront()
		if task == nil {
			task = s.steal(id)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}
		if err := s.execute(ctx, task, id); err != nil {
			return err
		}
	}
}

// steal looks for ready work on every other worker's queue, stealing
// from the back so the donor's own popFront calls rarely race it.
func (s *Scheduler) steal(id int) *Task {
	for i := range s.queues {
		if i == id {
			continue
		}
		if t := s.queues[i].stealBack(); t != nil {
			s.Graph.Metrics.Counter(schedmetrics.StealsSucceeded).Incr()
			return t
		}
	}
	return nil
}

// execute runs one task to completion and feeds the release protocol.
// A cancelled task never has its Fn invoked, but still runs the
// release path so its successors make progress.
func (s *Scheduler) execute(ctx context.Context, task *Task, workerID int) error {
	defer s.endPhase(task.Phase)

	if task.State() != Cancelled {
		task.SetState(Running)
		if err := task.Fn(ctx); err != nil {
			task.Fail(err)
			s.Graph.Metrics.Counter(schedmetrics.TasksFailed).Incr()
			log.Error.Printf("dart: task %v failed: %v", task, err)
		} else {
			task.SetState(Finished)
		}
	}

	ready, err := s.Graph.ReleaseLocalTask(ctx, task)
	if err != nil {
		return err
	}
	for _, succ := range ready {
		s.Submit(succ, workerID)
	}
	return nil
}

// Cancel transitions task to Cancelled if it has not yet started
// running. A task already Running or Finished is unaffected.
func (s *Scheduler) Cancel(task *Task) {
	task.mu.Lock()
	if task.state == Created || task.state == Ready {
		task.state = Cancelled
		task.cond.Broadcast()
		s.Graph.Metrics.Counter(schedmetrics.TasksCancelled).Incr()
	}
	task.mu.Unlock()
}

// runProgress repeatedly drains the transport, blocking on its wakeup
// channel between drains so this goroutine does not spin when there
// is no remote traffic.
func (s *Scheduler) runProgress(ctx context.Context) error {
	t := s.Graph.Transport
	for {
		if err := t.Progress(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Wakeup():
		}
	}
}
