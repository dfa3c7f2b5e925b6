// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

// GlobalAddress identifies a byte location in the partitioned global
// address space as a (unit, segment, offset) triple. Equality is by
// the triple.
type GlobalAddress struct {
	Unit    UnitID
	Segment int32
	Offset  uint64
}

// AbsoluteAddress is a GlobalAddress resolved to an absolute
// (unit, offset) form, with the segment folded into the offset. Only
// AbsoluteAddress values are hashed into the dependency table;
// resolving ahead of hashing keeps the hash function blind to
// segment numbering schemes.
type AbsoluteAddress struct {
	Unit   UnitID
	Offset uint64
}

// Resolver converts a GlobalAddress to its AbsoluteAddress form. The
// scheduler consumes a Resolver rather than performing the
// segment-to-offset translation itself, since that translation is a
// property of the underlying one-sided transport's segment allocator,
// an external collaborator the scheduler does not own.
type Resolver interface {
	Resolve(GlobalAddress) AbsoluteAddress
}

// IdentityResolver treats the segment as already folded into Offset;
// it is sufficient for transports that hand out globally unique
// offsets per segment, and is what the in-memory test transport uses.
type IdentityResolver struct{}

// Resolve implements Resolver.
func (IdentityResolver) Resolve(addr GlobalAddress) AbsoluteAddress {
	return AbsoluteAddress{Unit: addr.Unit, Offset: addr.Offset}
}
