// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dart

import (
	"context"
	"testing"
	"time"

	"github.com/dash-project/dartgo/hwinfo"
	"github.com/dash-project/dartgo/sched"
)

func TestLocalityLifecycle(t *testing.T) {
	c := NewContext(0)
	if _, err := c.Domain("."); err == nil {
		t.Fatal("expected an error before LocalityInit")
	}

	hosts := []string{"h1", "h1", "h2", "h2"}
	infos := []hwinfo.Info{
		{NumaID: 0, NumModules: 1, NumNuma: 1, NumCores: 1},
		{NumaID: 0, NumModules: 1, NumNuma: 1, NumCores: 1},
		{NumaID: 0, NumModules: 1, NumNuma: 1, NumCores: 1},
		{NumaID: 0, NumModules: 1, NumNuma: 1, NumCores: 1},
	}
	if err := c.LocalityInit(hosts, infos); err != nil {
		t.Fatal(err)
	}
	root, err := c.Domain(".")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(root.Children); got != 2 {
		t.Fatalf("len(root.Children) = %d, want 2 nodes", got)
	}

	leaf, err := c.UnitLocality(sched.UnitID(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(leaf.UnitIDs) != 1 || leaf.UnitIDs[0] != 2 {
		t.Fatalf("UnitLocality(2) = %+v, want a CORE leaf containing only unit 2", leaf)
	}

	c.LocalityFinalize()
	if _, err := c.Domain("."); err == nil {
		t.Fatal("expected an error after LocalityFinalize")
	}
}

func TestDataDepsLifecycleAndRun(t *testing.T) {
	c := NewContext(0)
	c.DataDepsInit(nil, nil, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	addr := sched.GlobalAddress{Unit: 0, Offset: 0x100}
	result := make(chan struct{}, 1)
	task := sched.NewTask(1, 0, func(ctx context.Context) error {
		result <- struct{}{}
		return nil
	})
	if err := c.HandleTask(ctx, task, []sched.Dependency{{Kind: sched.Out, Addr: addr}}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-result:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	cancel()
	<-done

	c.DataDepsFini()
	if err := c.DataDepsReset(); err == nil {
		t.Fatal("expected an error after DataDepsFini")
	}
}
