// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package runtimeconfig registers the command-line flags that
// configure a dartgo process: a plain stdlib flag.FlagSet, a prefix so
// multiple subsystems can share one process's flag namespace, and a
// Defaults struct so callers can override what RegisterFlags bakes
// in.
package runtimeconfig

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/dash-project/dartgo/hwinfo"
)

// NumaPolicyFlag selects a hwinfo.ThreadPolicy by name on the command
// line via flag.Value's Var-based registration.
type NumaPolicyFlag struct {
	name   string
	policy hwinfo.ThreadPolicy
}

// String implements flag.Value.
func (f *NumaPolicyFlag) String() string {
	if f.name == "" {
		return "balanced"
	}
	return f.name
}

// Set implements flag.Value.
func (f *NumaPolicyFlag) Set(v string) error {
	switch v {
	case "", "balanced":
		f.name, f.policy = "balanced", hwinfo.BalancedThreadPolicy
	case "mic":
		f.name, f.policy = "mic", hwinfo.MICThreadPolicy
	default:
		return fmt.Errorf("unsupported numa policy %q (want \"balanced\" or \"mic\")", v)
	}
	return nil
}

// Policy returns the selected hwinfo.ThreadPolicy, defaulting to
// BalancedThreadPolicy if Set was never called.
func (f *NumaPolicyFlag) Policy() hwinfo.ThreadPolicy {
	if f.policy == nil {
		return hwinfo.BalancedThreadPolicy
	}
	return f.policy
}

// Config holds the flags that configure one unit's scheduler and
// dependency graph.
type Config struct {
	NumWorkers  int
	DepHashSize int
	NumaPolicy  NumaPolicyFlag
	Debug       bool

	fs *flag.FlagSet
}

// Output returns an appropriate io.Writer for usage/help messages, as
// per the underlying flag.FlagSet.
func (c *Config) Output() io.Writer {
	if c.fs == nil {
		return os.Stderr
	}
	if w := c.fs.Output(); w != nil {
		return w
	}
	return os.Stderr
}

// Defaults holds the default flag values, overridable per caller.
type Defaults struct {
	NumWorkers  int
	DepHashSize int
	NumaPolicy  string
	Debug       bool
}

// RegisterFlags registers dartgo's flags on fs with the given prefix,
// using sensible process defaults (one worker per CPU, a 1024-slot
// dependency hash table, assertions enabled).
func RegisterFlags(fs *flag.FlagSet, c *Config, prefix string) {
	RegisterFlagsWithDefaults(fs, c, prefix, Defaults{
		NumWorkers:  runtime.GOMAXPROCS(0),
		DepHashSize: 1024,
		NumaPolicy:  "balanced",
		Debug:       true,
	})
}

// RegisterFlagsWithDefaults registers dartgo's flags on fs with the
// given prefix and defaults.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, c *Config, prefix string, defaults Defaults) {
	fs.IntVar(&c.NumWorkers, prefix+"workers", defaults.NumWorkers, "number of scheduler worker goroutines per unit")
	fs.IntVar(&c.DepHashSize, prefix+"dephash-size", defaults.DepHashSize, "dependency hash table slot count (informational; the table is compiled with a fixed size)")
	fs.Var(&c.NumaPolicy, prefix+"numa-policy", `thread-count policy to derive from probed hardware info: "balanced" or "mic"`)
	c.NumaPolicy.Set(defaults.NumaPolicy)
	fs.BoolVar(&c.Debug, prefix+"debug-assertions", defaults.Debug, "panic (rather than only log) on internal consistency assertion failures")
	c.fs = fs
}

// FlagSet registers "-dart.workers", "-dart.dephash-size",
// "-dart.numa-policy", and "-dart.debug-assertions" on fs and returns
// the Config they populate. It
// is the package's top-level convenience entry point; callers who
// need a custom prefix or defaults should use RegisterFlagsWithDefaults
// directly.
func FlagSet(fs *flag.FlagSet) *Config {
	c := &Config{}
	RegisterFlags(fs, c, "dart.")
	return c
}
