// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hosttopology groups the units of a PGAS team by the
// hostname they report, classifying each distinct hostname as either
// a node (a physical host) or a module (a coprocessor or accelerator
// that reports its own hostname but is attached to a node). It is the
// component B input consumed by package locality when building the
// GLOBAL->NODE->MODULE locality levels.
package hosttopology

import "fmt"

// UnitID names a process participating in the team.
type UnitID int32

// Host describes one distinct hostname seen across the gathered
// hostname list.
type Host struct {
	Name     string
	Level    int // 0 for a node, 1 for a module attached to a node
	Parent   string
	Units    []UnitID
	relIndex int // order of first appearance among all distinct hostnames
}

// Topology is the result of grouping units by hostname.
//
// Ordering is by first appearance in the input hostname list: the
// first distinct hostname encountered becomes node/module 0, the
// second distinct hostname becomes node/module 1, and so on. This
// ordering is what locality.Build uses as relative_index.
type Topology struct {
	hosts      []*Host
	byName     map[string]*Host
	moduleSets map[string][]UnitID
}

// Build groups hosts by hostname. hosts is indexed by unit id; an
// empty input produces an empty topology (NumNodes() == 0) rather
// than an error.
//
// Build treats every distinct hostname as both a node and its own
// sole module: this runtime does not attempt to infer node/module
// parentage from naming conventions, since no reliable convention is
// universal across clusters. A caller that knows its coprocessor
// hostnames can instead call BuildWithParents to declare node/module
// relationships explicitly.
func Build(hosts []string) *Topology {
	return BuildWithParents(hosts, nil)
}

// BuildWithParents is like Build, but parentOf optionally maps a
// module's hostname to the hostname of the node it is attached to.
// Hostnames absent from parentOf (or when parentOf is nil) are
// treated as nodes in their own right.
func BuildWithParents(hosts []string, parentOf map[string]string) *Topology {
	t := &Topology{
		byName:     make(map[string]*Host),
		moduleSets: make(map[string][]UnitID),
	}
	for u, name := range hosts {
		h, ok := t.byName[name]
		if !ok {
			h = &Host{Name: name, relIndex: len(t.hosts)}
			if parent, ok := parentOf[name]; ok && parent != name {
				h.Level = 1
				h.Parent = parent
			}
			t.byName[name] = h
			t.hosts = append(t.hosts, h)
		}
		h.Units = append(h.Units, UnitID(u))
		t.moduleSets[name] = append(t.moduleSets[name], UnitID(u))
	}
	return t
}

// NumNodes returns the number of distinct node-level hostnames.
func (t *Topology) NumNodes() int {
	n := 0
	for _, h := range t.hosts {
		if h.Level == 0 {
			n++
		}
	}
	return n
}

// NumModules returns the number of distinct hostnames at any level,
// i.e. the total count of modules across all nodes (a node with no
// dedicated coprocessor hostname counts as one module, itself).
func (t *Topology) NumModules() int {
	return len(t.hosts)
}

// HostName returns the hostname of the node at the given relative
// index (order of first appearance among Level==0 hosts).
func (t *Topology) HostName(nodeIndex int) (string, error) {
	i := 0
	for _, h := range t.hosts {
		if h.Level != 0 {
			continue
		}
		if i == nodeIndex {
			return h.Name, nil
		}
		i++
	}
	return "", fmt.Errorf("hosttopology: node index %d out of range (have %d nodes)", nodeIndex, t.NumNodes())
}

// NodeUnits returns the units located on the node with the given
// hostname, including units on any modules attached to it.
func (t *Topology) NodeUnits(host string) ([]UnitID, int) {
	units := append([]UnitID{}, t.moduleSets[host]...)
	for _, h := range t.hosts {
		if h.Parent == host {
			units = append(units, t.moduleSets[h.Name]...)
		}
	}
	return units, len(units)
}

// ModuleUnits returns the units that reported the given hostname
// directly, without descending into attached modules.
func (t *Topology) ModuleUnits(host string) ([]UnitID, int) {
	units := t.moduleSets[host]
	return units, len(units)
}

// Hosts returns the distinct hosts discovered, in order of first
// appearance.
func (t *Topology) Hosts() []*Host {
	return t.hosts
}
