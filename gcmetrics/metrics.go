// Package gcmetrics aggregates the best-effort accounting a GC cycle
// produces (§4.8, §4.9): bytes moved, keys overwritten or relocated, and
// files created or retired. Metrics are never allowed to fail a GC
// cycle — counters are plain atomics, not transactional state.
package gcmetrics

import "sync/atomic"

// Metrics is a GC job's per-run counters. The zero value is usable.
type Metrics struct {
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	KeysOverwritten  atomic.Uint64
	BytesOverwritten atomic.Uint64

	KeysRelocated  atomic.Uint64
	BytesRelocated atomic.Uint64

	NewFiles      atomic.Uint64
	ObsoleteFiles atomic.Uint64

	HolePunchedBytes atomic.Uint64
}

// Snapshot is a point-in-time copy of Metrics, safe to log or export
// without holding a reference to the live counters.
type Snapshot struct {
	BytesRead        uint64
	BytesWritten     uint64
	KeysOverwritten  uint64
	BytesOverwritten uint64
	KeysRelocated    uint64
	BytesRelocated   uint64
	NewFiles         uint64
	ObsoleteFiles    uint64
	HolePunchedBytes uint64
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesRead:        m.BytesRead.Load(),
		BytesWritten:     m.BytesWritten.Load(),
		KeysOverwritten:  m.KeysOverwritten.Load(),
		BytesOverwritten: m.BytesOverwritten.Load(),
		KeysRelocated:    m.KeysRelocated.Load(),
		BytesRelocated:   m.BytesRelocated.Load(),
		NewFiles:         m.NewFiles.Load(),
		ObsoleteFiles:    m.ObsoleteFiles.Load(),
		HolePunchedBytes: m.HolePunchedBytes.Load(),
	}
}
