package harness

import "github.com/cockroachdb/pebble-blob/internal/base"

// ColumnFamilyHandle identifies the LSM column family a blob storage
// instance belongs to (§4.6 "BlobStorage is scoped per column family").
type ColumnFamilyHandle interface {
	ID() uint32
	Name() string
	IsDropped() bool
}

// Snapshot is an opaque, LSM-owned read view used to keep a GC input
// file's sampled key range from being collected before its rewrite
// completes (§4.8 phase 1).
type Snapshot interface {
	SequenceNumber() uint64
}

// WriteCallback is invoked by the LSM, while still holding its internal
// write lock, immediately before a GC relocation write is applied. It must
// re-read the current value for key and report whether it still points at
// the blob index being relocated; if not, the write must be rejected with
// ErrBusy rather than silently applied (§4.8 phase 4, "optimistic
// concurrency").
type WriteCallback interface {
	// Callback receives the LSM's current value for the key the pending
	// write targets (nil if deleted or absent) and decides whether to
	// allow the write to proceed.
	Callback(currentValue []byte) error
	// AllowWriteBatching reports whether this callback may be folded into
	// a larger batch with unrelated writes. GC rewrites always return
	// false: each relocation must be validated independently.
	AllowWriteBatching() bool
}

// WriteOptions augments a GC rewrite write with the two knobs the
// supplemented low-priority-write feature names (SPEC_FULL "supplemented
// features" #3): LowPri marks the write as low priority, and
// IgnoreMissingColumnFamilies turns a write to a dropped column family
// into a no-op instead of ErrColumnFamilyDropped. gc.Job sets LowPri
// only, so a dropped column family aborts its Phase 4 loop.
type WriteOptions struct {
	LowPri                      bool
	IgnoreMissingColumnFamilies bool
}

// LSM is the narrow slice of the host log-structured merge-tree the blob
// core drives: it needs to read the current index for a key, apply
// optimistically-guarded relocation writes, and learn the latest sequence
// number for GC's snapshot bookkeeping. Everything else about the LSM
// (compaction, flush scheduling, iteration) is out of scope per §1.
type LSM interface {
	// Get returns the current raw value stored for key in cf, or
	// base.ErrNotFound if it is absent or has been deleted.
	Get(cf ColumnFamilyHandle, key []byte) ([]byte, error)

	// WriteWithCallback applies a single key/value write after cb.Callback
	// has approved it against the LSM's current state for key, atomically
	// with that check. It returns base.ErrBusy if cb rejected the write.
	WriteWithCallback(cf ColumnFamilyHandle, key, value []byte, cb WriteCallback, opts WriteOptions) error

	// LatestSequenceNumber returns the LSM's current sequence number; the
	// GC job records it as the obsolete sequence of the inputs it retires
	// (§4.8 phase 5).
	LatestSequenceNumber() uint64

	// NewSnapshot pins the LSM's current state so a long-running GC
	// sampling pass observes a consistent view of which keys still point
	// at the input files.
	NewSnapshot() Snapshot

	// ReleaseSnapshot releases a snapshot obtained from NewSnapshot.
	ReleaseSnapshot(Snapshot)

	// FlushWAL flushes the write-ahead log, optionally waiting for it to
	// sync, so a GC job's relocation writes are durable before it retires
	// their input files (§4.8 phase 4).
	FlushWAL(sync bool) error
}

// ErrColumnFamilyDropped is returned by LSM methods when cf.IsDropped()
// and the caller did not set WriteOptions.IgnoreMissingColumnFamilies.
var ErrColumnFamilyDropped = base.ErrAborted
