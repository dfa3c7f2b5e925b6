// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// slotCount is the fixed dependency hash table size.
const slotCount = 1024

// hashAddr maps an AbsoluteAddress to a slot in [0, slotCount).
//
// The exact mixing function is not load-bearing, only its
// distribution: it must spread addresses uniformly across the table.
// murmur3.Sum64 on the address (right-shifted by 3 to exploit the
// assumed 8-byte alignment) gives a well-tested avalanche, better
// distributed than a small fixed set of XOR'd shifts would be.
func hashAddr(addr AbsoluteAddress) int {
	aligned := addr.Offset >> 3
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], aligned)
	sum := murmur3.Sum64(buf[:])
	// Unit participates in the hash too: two addresses at the same
	// offset on different units (after resolution collapses segments
	// into Offset) must not collide by construction.
	sum ^= uint64(addr.Unit) * 0x9E3779B97F4A7C15
	return int(sum % uint64(slotCount))
}
