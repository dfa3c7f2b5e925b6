// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package locality builds the hierarchical locality tree
// (GLOBAL -> NODE -> MODULE -> NUMA -> CORE) that the scheduler and
// affinity-aware placement consult, and maps every unit in the team
// to the CORE leaf it occupies.
package locality

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/dash-project/dartgo/hosttopology"
	"github.com/dash-project/dartgo/hwinfo"
)

// Scope is the ordered level of a Domain in the locality tree.
type Scope int

const (
	Global Scope = iota
	Node
	Module
	Numa
	Core
)

func (s Scope) String() string {
	switch s {
	case Global:
		return "GLOBAL"
	case Node:
		return "NODE"
	case Module:
		return "MODULE"
	case Numa:
		return "NUMA"
	case Core:
		return "CORE"
	default:
		return "UNDEFINED"
	}
}

// UnitID names a process in the team.
type UnitID = hosttopology.UnitID

// Domain is a node of the locality tree.
type Domain struct {
	Tag           string
	Scope         Scope
	Level         int
	RelativeIndex int
	NodeID        int
	Host          string
	HwInfo        hwinfo.Info
	UnitIDs       []UnitID
	Parent        *Domain
	Children      []*Domain
}

// NumUnits is the number of units contained in this subtree.
func (d *Domain) NumUnits() int { return len(d.UnitIDs) }

// root builds the root (GLOBAL) domain, containing every unit, without
// any subdomains; Build fills those in with createSubdomains.
// hostNames and infos are both indexed by unit id.
func root(hostNames []string, infos []hwinfo.Info) *Domain {
	numUnits := len(hostNames)
	unitIDs := make([]UnitID, numUnits)
	for u := range unitIDs {
		unitIDs[u] = UnitID(u)
	}
	var hw hwinfo.Info
	if numUnits > 0 {
		hw = infos[0]
	}
	host := ""
	if numUnits > 0 {
		host = hostNames[0]
	}
	return &Domain{
		Tag:     ".",
		Scope:   Global,
		Level:   0,
		Host:    host,
		HwInfo:  hw,
		UnitIDs: unitIDs,
	}
}

// Build constructs the full locality tree for a team described by
// hostNames (the gathered hostname list, indexed by unit id) and
// infos (the per-unit probed hardware information, indexed by unit
// id, as produced by hwinfo.Probe on each unit and gathered to every
// other unit).
//
// Build proceeds top-down: GLOBAL splits into one NODE per distinct
// host; NODE splits into its hwinfo-reported modules; MODULE splits
// into NUMA domains by the NUMA id observed among its units; NUMA
// splits into num_cores equal, consecutive CORE leaves.
func Build(hostNames []string, infos []hwinfo.Info) (*Domain, error) {
	if len(hostNames) != len(infos) {
		return nil, fmt.Errorf("locality: hostNames has %d entries but infos has %d", len(hostNames), len(infos))
	}
	topo := hosttopology.Build(hostNames)
	g := root(hostNames, infos)
	if err := createSubdomains(g, topo, infos); err != nil {
		return nil, err
	}
	return g, nil
}

// createSubdomains recursively splits domain into its children,
// following the per-level splitting rules for each Scope.
func createSubdomains(domain *Domain, topo *hosttopology.Topology, infos []hwinfo.Info) error {
	switch domain.Scope {
	case Global:
		for i := 0; i < topo.NumNodes(); i++ {
			host, err := topo.HostName(i)
			if err != nil {
				return err
			}
			units, _ := topo.NodeUnits(host)
			sub := newChild(domain, Node, i)
			sub.Host = host
			sub.NodeID = i
			sub.UnitIDs = toUnitIDs(units)
			domain.Children = append(domain.Children, sub)
			if err := createSubdomains(sub, topo, infos); err != nil {
				return err
			}
		}
	case Node:
		numModules := int(domain.HwInfo.NumModules)
		if numModules < 1 {
			numModules = 1
		}
		for i := 0; i < numModules; i++ {
			// In the common case of one module per node this is a
			// pass-through: the sole module is the node's own host.
			moduleHost := domain.Host
			units, _ := topo.ModuleUnits(moduleHost)
			if numModules > 1 {
				// Heterogeneous node: module i's units come from the
				// topology's i-th module hostname attached to this node.
				if mh, ok := moduleHostAt(topo, domain.Host, i); ok {
					moduleHost = mh
					units, _ = topo.ModuleUnits(moduleHost)
				}
			}
			sub := newChild(domain, Module, i)
			sub.Host = moduleHost
			sub.UnitIDs = toUnitIDs(units)
			domain.Children = append(domain.Children, sub)
			if err := createSubdomains(sub, topo, infos); err != nil {
				return err
			}
		}
	case Module:
		numaIDs := distinctNumaIDs(domain.UnitIDs, infos)
		for childIdx, numaID := range numaIDs {
			var members []UnitID
			for _, u := range domain.UnitIDs {
				if infos[u].NumaID == numaID {
					members = append(members, u)
				}
			}
			sub := newChild(domain, Numa, childIdx)
			sub.Host = domain.Host
			sub.UnitIDs = members
			sub.HwInfo.NumModules = 1
			sub.HwInfo.NumNuma = 1
			sub.HwInfo.NumCores = int32(len(members))
			domain.Children = append(domain.Children, sub)
			if err := createSubdomains(sub, topo, infos); err != nil {
				return err
			}
		}
	case Numa:
		// One CORE leaf per unit: num_children == num_units, so the
		// "num_units / num_children consecutive units" slice size is
		// always exactly 1. This is what gives every CORE leaf its
		// num_units == 1 invariant.
		numChildren := len(domain.UnitIDs)
		for k := 0; k < numChildren; k++ {
			sub := newChild(domain, Core, k)
			sub.Host = domain.Host
			sub.UnitIDs = []UnitID{domain.UnitIDs[k]}
			sub.HwInfo.NumModules = 1
			sub.HwInfo.NumNuma = 1
			sub.HwInfo.NumCores = 1
			domain.Children = append(domain.Children, sub)
		}
	case Core:
		// leaf; nothing further to split.
	}
	return nil
}

// distinctNumaIDs builds an explicit numaID -> childIndex map from
// the NUMA ids actually observed among a module's units, sorted for
// determinism, rather than assuming NUMA ids are dense and zero-based
// and using a raw NUMA id directly as the child index. This keeps the
// split correct even when NUMA ids are sparse or do not start at 0.
func distinctNumaIDs(units []UnitID, infos []hwinfo.Info) []int32 {
	seen := make(map[int32]bool)
	var ids []int32
	for _, u := range units {
		id := infos[u].NumaID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newChild(parent *Domain, scope Scope, relIdx int) *Domain {
	base := ""
	if parent.Level > 0 {
		base = parent.Tag
	}
	return &Domain{
		Tag:           base + "." + strconv.Itoa(relIdx),
		Scope:         scope,
		Level:         parent.Level + 1,
		RelativeIndex: relIdx,
		NodeID:        parent.NodeID,
		HwInfo:        parent.HwInfo,
		Parent:        parent,
	}
}

func toUnitIDs(units []UnitID) []UnitID {
	return append([]UnitID{}, units...)
}

// moduleHostAt returns the i-th distinct hostname attached to node,
// in order of first appearance, used only for heterogeneous nodes
// that expose more than one module hostname.
func moduleHostAt(topo *hosttopology.Topology, nodeHost string, i int) (string, bool) {
	idx := 0
	for _, h := range topo.Hosts() {
		if h.Name != nodeHost && h.Parent != nodeHost {
			continue
		}
		if idx == i {
			return h.Name, true
		}
		idx++
	}
	return "", false
}

// Lookup parses a dotted tag ("." or ".1.0.2") and descends the tree
// from root accordingly, returning an error if any path component is
// malformed, out of range or missing.
func Lookup(root *Domain, tag string) (*Domain, error) {
	if tag == "." || tag == "" {
		return root, nil
	}
	if !strings.HasPrefix(tag, ".") {
		return nil, fmt.Errorf("locality: malformed tag %q: must start with '.'", tag)
	}
	parts := strings.Split(strings.TrimPrefix(tag, "."), ".")
	domain := root
	for level, part := range parts {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("locality: malformed tag %q at level %d: %w", tag, level, err)
		}
		if domain == nil || idx < 0 || idx >= len(domain.Children) {
			return nil, fmt.Errorf("locality: tag %q: subdomain index %d at level %d is out of range", tag, idx, level)
		}
		domain = domain.Children[idx]
	}
	return domain, nil
}

// FindUnit returns the CORE leaf containing unit, searching the
// subtree rooted at domain depth-first. Every unit appears in exactly
// one CORE leaf, so the first match found is the only one.
func FindUnit(domain *Domain, unit UnitID) (*Domain, error) {
	if domain == nil {
		return nil, fmt.Errorf("locality: FindUnit called on a nil domain")
	}
	if domain.Scope == Core {
		for _, u := range domain.UnitIDs {
			if u == unit {
				return domain, nil
			}
		}
		return nil, fmt.Errorf("locality: unit %d not found", unit)
	}
	for _, c := range domain.Children {
		if found, err := FindUnit(c, unit); err == nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("locality: unit %d not found", unit)
}

// Delete walks domain depth-first, detaching every child slice and
// unit-id slice so that a large topology is released deterministically
// instead of waiting on the next GC cycle, even though Go does not
// require manual deallocation.
func Delete(domain *Domain) {
	if domain == nil {
		return
	}
	for _, c := range domain.Children {
		Delete(c)
	}
	domain.Children = nil
	domain.UnitIDs = nil
	domain.Parent = nil
}

// Dump renders the subtree rooted at domain as an indented tree,
// using treeprint, for operator-facing diagnostics. It is sugar: no
// invariant depends on its output.
func Dump(domain *Domain) string {
	tree := treeprint.New()
	dumpInto(tree, domain)
	return tree.String()
}

func dumpInto(tree treeprint.Tree, d *Domain) {
	label := fmt.Sprintf("%s %s host=%s units=%d", d.Tag, d.Scope, d.Host, d.NumUnits())
	if len(d.Children) == 0 {
		tree.AddNode(label)
		return
	}
	branch := tree.AddBranch(label)
	for _, c := range d.Children {
		dumpInto(branch, c)
	}
}
