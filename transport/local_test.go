// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/dash-project/dartgo/sched"
)

// TestLocalRoundTrip wires two units together and checks that a
// remote IN from unit 1, parked on unit 0 and matched against a local
// OUT there, is released back to unit 1 and unblocks the waiting task
// there.
func TestLocalRoundTrip(t *testing.T) {
	lt := NewLocal()
	ctx := context.Background()

	graph0 := sched.NewGraph(0, sched.IdentityResolver{}, lt)
	graph1 := sched.NewGraph(1, sched.IdentityResolver{}, lt)

	var readyTasks []*sched.Task
	handles0 := lt.Register(0, graph0, nil)
	handles1 := lt.Register(1, graph1, func(task *sched.Task) {
		readyTasks = append(readyTasks, task)
	})
	_ = handles0

	reader := sched.NewTask(1, 5, func(ctx context.Context) error { return nil })
	reader.AddUnresolvedDep() // blocked on the remote write until released
	remoteHandle := handles1.Handle(reader)

	addr := sched.GlobalAddress{Unit: 0, Offset: 0x4000}
	if err := lt.RemoteDataDep(ctx, sched.Dependency{Kind: sched.In, Addr: addr}, 5, remoteHandle); err != nil {
		t.Fatal(err)
	}

	writer := sched.NewTask(10, 5, func(ctx context.Context) error { return nil })
	if err := graph0.HandleTask(ctx, writer, []sched.Dependency{{Kind: sched.Out, Addr: addr}}); err != nil {
		t.Fatal(err)
	}

	writer.SetState(sched.Finished)
	if _, err := graph0.ReleaseLocalTask(ctx, writer); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := lt.Progress(ctx); err != nil {
			t.Fatal(err)
		}
		if len(readyTasks) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(readyTasks) != 1 || readyTasks[0] != reader {
		t.Fatalf("onReady callbacks = %v, want [reader]", readyTasks)
	}
	if got := reader.UnresolvedDeps(); got != 0 {
		t.Fatalf("reader.UnresolvedDeps() = %d, want 0", got)
	}
}
