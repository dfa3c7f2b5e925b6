// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import "context"

// Transport is the one-sided communication layer's dependency and
// release messaging surface, consumed by this package but not
// implemented by it. All operations are assumed best-effort-reliable
// and delivered in order per origin/destination pair. Package
// transport provides two implementations: an in-memory one for
// single-process tests, and an adapter onto
// github.com/grailbio/bigmachine's RPC for multi-process deployments.
type Transport interface {
	// RemoteDataDep sends dep, declared by task in phase, to the unit
	// that owns dep.Addr. Only dep.Kind == In is ever sent remotely
	// (writes resolve locally at their owning unit by construction,
	// since every write dependency is declared by the unit that issues
	// it).
	RemoteDataDep(ctx context.Context, dep Dependency, phase uint64, task RemoteTaskHandle) error

	// RemoteDirectTaskDep asks origin to make remoteTask (owned by
	// origin) a predecessor of localTask (owned by this unit): origin
	// records localTask as a DIRECT remote successor of remoteTask and
	// releases it when remoteTask finishes.
	RemoteDirectTaskDep(ctx context.Context, origin UnitID, localTask RemoteTaskHandle, remoteTask RemoteTaskHandle) error

	// RemoteRelease notifies origin that remoteTask's dependency dep
	// has been satisfied and origin's task may proceed.
	RemoteRelease(ctx context.Context, origin UnitID, remoteTask RemoteTaskHandle, dep Dependency) error

	// Progress drains any pending incoming dep/release/direct messages,
	// dispatching each to the local Graph. It must not block
	// indefinitely; Wakeup is used for that instead.
	Progress(ctx context.Context) error

	// Wakeup returns a channel that becomes readable when the
	// transport has pending work, letting the scheduler block instead
	// of busy-polling Progress.
	Wakeup() <-chan struct{}
}
