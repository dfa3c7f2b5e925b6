// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import "sync/atomic"

func atomicLoad32(p *int32) int32 {
	return atomic.LoadInt32(p)
}

func atomicAdd32(p *int32, delta int32) int32 {
	return atomic.AddInt32(p, delta)
}
