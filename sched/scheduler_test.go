// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSchedulerRunsChainInOrder submits a chain of OUT-dependent tasks
// and checks that the scheduler runs them all to completion in
// registration order.
func TestSchedulerRunsChainInOrder(t *testing.T) {
	g := NewGraph(0, IdentityResolver{}, nil)
	sched := NewScheduler(g, 4)

	const n = 50
	var order []int32
	var mu sync.Mutex
	tasks := make([]*Task, n)
	a := addr(0, 0x1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < n; i++ {
		i := i
		tasks[i] = NewTask(uint64(i), 0, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, int32(i))
			mu.Unlock()
			return nil
		})
		if err := g.HandleTask(ctx, tasks[i], []Dependency{{Kind: Out, Addr: a}}); err != nil {
			t.Fatal(err)
		}
	}

	runCtx, runCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer runCancel()

	var done int32
	go func() {
		sched.Run(runCtx)
	}()

	// Only the first task is initially Ready; submit it and let the
	// release protocol cascade the rest onto the queues.
	sched.Submit(tasks[0], 0)

	for {
		mu.Lock()
		got := len(order)
		mu.Unlock()
		if got == n {
			atomic.StoreInt32(&done, 1)
			break
		}
		select {
		case <-runCtx.Done():
			t.Fatalf("timed out with %d/%d tasks run", got, n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range order {
		if id != int32(i) {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

// TestSchedulerQuiescence checks that Quiesced reports false while a
// phase has in-flight tasks and true once every task of that phase
// has finished its release protocol.
func TestSchedulerQuiescence(t *testing.T) {
	g := NewGraph(0, IdentityResolver{}, nil)
	sched := NewScheduler(g, 1)
	ctx := context.Background()

	release := make(chan struct{})
	task := NewTask(1, 3, func(ctx context.Context) error {
		<-release
		return nil
	})
	if err := g.HandleTask(ctx, task, nil); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(runCtx)

	sched.Submit(task, 0)
	for i := 0; i < 100 && sched.Quiesced(3); i++ {
		time.Sleep(time.Millisecond)
	}
	if sched.Quiesced(3) {
		t.Fatal("expected phase 3 to be in flight, not quiesced")
	}

	close(release)
	for i := 0; i < 200; i++ {
		if sched.Quiesced(3) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("phase 3 never quiesced after its only task finished")
}

// TestQueueStealing checks that a worker with an empty queue can
// steal from a sibling's.
func TestQueueStealing(t *testing.T) {
	donor := &queue{}
	thief := &queue{}
	t1 := NewTask(1, 0, noop)
	donor.pushBack(t1)

	if got := thief.popFront(); got != nil {
		t.Fatal("thief queue should start empty")
	}
	stolen := donor.stealBack()
	if stolen != t1 {
		t.Fatalf("stealBack() = %v, want %v", stolen, t1)
	}
	if donor.popFront() != nil {
		t.Fatal("donor queue should be empty after the steal")
	}
}
