// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hosttopology

import (
	"reflect"
	"testing"
)

func TestBuildEmpty(t *testing.T) {
	topo := Build(nil)
	if got := topo.NumNodes(); got != 0 {
		t.Fatalf("NumNodes() = %d, want 0", got)
	}
	if got := topo.NumModules(); got != 0 {
		t.Fatalf("NumModules() = %d, want 0", got)
	}
}

func TestBuildOrderingByFirstAppearance(t *testing.T) {
	hosts := []string{"h2", "h1", "h2", "h1", "h1"}
	topo := Build(hosts)
	if got := topo.NumNodes(); got != 2 {
		t.Fatalf("NumNodes() = %d, want 2", got)
	}
	name0, err := topo.HostName(0)
	if err != nil || name0 != "h2" {
		t.Fatalf("HostName(0) = %q, %v, want %q", name0, err, "h2")
	}
	name1, err := topo.HostName(1)
	if err != nil || name1 != "h1" {
		t.Fatalf("HostName(1) = %q, %v, want %q", name1, err, "h1")
	}
}

func TestNodeAndModuleUnits(t *testing.T) {
	hosts := []string{"h1", "h1", "h1", "h1", "h2", "h2", "h2", "h2"}
	topo := Build(hosts)
	units, n := topo.NodeUnits("h1")
	if n != 4 {
		t.Fatalf("NodeUnits(h1) count = %d, want 4", n)
	}
	want := []UnitID{0, 1, 2, 3}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("NodeUnits(h1) = %v, want %v", units, want)
	}
	modUnits, modN := topo.ModuleUnits("h2")
	if modN != 4 || !reflect.DeepEqual(modUnits, []UnitID{4, 5, 6, 7}) {
		t.Fatalf("ModuleUnits(h2) = %v, %d", modUnits, modN)
	}
}

func TestBuildWithParentsAggregatesModuleIntoNode(t *testing.T) {
	// unit 0,1 on node "host-a"; unit 2,3 on attached coprocessor "host-a-mic0".
	hosts := []string{"host-a", "host-a", "host-a-mic0", "host-a-mic0"}
	topo := BuildWithParents(hosts, map[string]string{"host-a-mic0": "host-a"})
	if got := topo.NumNodes(); got != 1 {
		t.Fatalf("NumNodes() = %d, want 1", got)
	}
	if got := topo.NumModules(); got != 2 {
		t.Fatalf("NumModules() = %d, want 2", got)
	}
	nodeUnits, n := topo.NodeUnits("host-a")
	if n != 4 {
		t.Fatalf("NodeUnits(host-a) count = %d, want 4 (includes module units), got units %v", n, nodeUnits)
	}
	modUnits, modN := topo.ModuleUnits("host-a-mic0")
	if modN != 2 || !reflect.DeepEqual(modUnits, []UnitID{2, 3}) {
		t.Fatalf("ModuleUnits(host-a-mic0) = %v, %d", modUnits, modN)
	}
}
