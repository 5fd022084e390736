package base

import "sync/atomic"

// ShutdownFlag is the cheap, cancellable signal jobs poll at well-defined
// safe points (per key in the rewrite loop, per file boundary elsewhere).
// It is never awaited, only read.
type ShutdownFlag struct {
	v atomic.Bool
}

// Set raises the flag. Idempotent.
func (f *ShutdownFlag) Set() { f.v.Store(true) }

// IsSet reports whether the flag has been raised.
func (f *ShutdownFlag) IsSet() bool { return f.v.Load() }
