// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// ErrNotInitialized is returned by operations invoked before a
// Context's init or after its fini. There is no stock errors.Kind for
// it in grailbio/base/errors, so it is defined as a sentinel.
var ErrNotInitialized = errors.E(errors.Fatal, "dart: not initialized")

// invalidArg builds an INVALID_ARGUMENT error.
func invalidArg(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf(format, args...))
}

// assertf panics with a formatted message. It guards assertion-class
// programming errors (double register of the same task, negative
// unresolved_deps): these must abort loudly in debug builds rather
// than silently corrupt the graph. Release builds should run with
// debugAssertions disabled, in which case assertf only logs.
func assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if debugAssertions {
		panic("dart: assertion failed: " + msg)
	}
	log.Error.Printf("dart: assertion failed (continuing): %s", msg)
}

// debugAssertions controls whether assertf panics or only logs. It
// defaults to true; release builds that want to tolerate assertion
// failures rather than abort the process can set it to false during
// initialization with SetDebugAssertions.
var debugAssertions = true

// SetDebugAssertions sets whether assertf panics (true) or only logs
// (false). Call it during initialization, before any Graph is used.
func SetDebugAssertions(enabled bool) { debugAssertions = enabled }
