// Package blobstorage holds the per-column-family inventory of blob
// files: their state machine, live/obsolete bookkeeping, and GC scoring
// (§4.5–§4.6).
package blobstorage

import (
	"sync/atomic"
)

// FileState is a node in the blob file lifecycle state machine (§4.5).
type FileState int

const (
	// StateInit is the state of a file immediately after its manifest
	// edit is staged, before it becomes visible to readers or GC.
	StateInit FileState = iota
	StateNormal
	StateBeingGC
	StateObsolete
)

func (s FileState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNormal:
		return "normal"
	case StateBeingGC:
		return "being-gc"
	case StateObsolete:
		return "obsolete"
	default:
		return "unknown"
	}
}

// Event drives a FileMeta's state transition.
type Event int

const (
	EventFlushOrCompactionOutput Event = iota
	EventDbRestart
	EventGCBegin
	EventGCOutput
	EventGCCompleted
	EventDelete
)

// transitions encodes the table in §4.5. A missing entry is a programmer
// error: FileStateTransit panics rather than silently ignoring it, the
// same way an invalid transition in the source would trip an assertion.
var transitions = map[FileState]map[Event]FileState{
	StateInit: {
		EventFlushOrCompactionOutput: StateNormal,
		EventDbRestart:                StateNormal,
		EventGCOutput:                 StateBeingGC,
		EventDelete:                   StateObsolete,
	},
	StateNormal: {
		EventDbRestart: StateNormal,
		EventGCBegin:   StateBeingGC,
		EventDelete:    StateObsolete,
	},
	StateBeingGC: {
		EventDbRestart:   StateBeingGC,
		EventGCCompleted: StateNormal,
		EventDelete:      StateObsolete,
	},
	StateObsolete: {},
}

// FileMeta tracks one blob file's lifecycle state and the accounting GC
// scoring reads. State changes go through FileStateTransit or TryBeginGC,
// both compare-and-swap on an atomic, and the accounting fields are
// atomics. Apart from Storage.MarkFileObsolete, callers make these
// changes without holding the Storage mutex.
type FileMeta struct {
	FileNumber uint64
	FileSize   uint64

	// realFileSize is the file's physical allocation size, e.g. its exact
	// length rounded up to the next 4 KiB block by the writer that
	// produced it. Mutable, unlike FileSize: it starts out equal to
	// FileSize and is updated via SetRealFileSize once the writer's
	// rounded footer size is known (§3 "mutable: real_file_size").
	realFileSize atomic.Uint64

	state atomic.Int32

	// GCMark is set by MarkAllFilesForGC to force a sampling pass on
	// restart or configuration change.
	GCMark atomic.Bool

	// DiscardableSize is the approximate count of bytes in the file whose
	// records are known overwritten or deleted, maintained by sampling
	// and by hole-punch accounting.
	DiscardableSize atomic.Uint64

	// obsoleteSeq is the LSM sequence at which MarkFileObsolete was
	// called; physical deletion must wait until no live snapshot
	// predates it.
	obsoleteSeq atomic.Uint64
}

// NewFileMeta returns a FileMeta in StateInit for a freshly allocated
// file.
func NewFileMeta(fileNumber, fileSize uint64) *FileMeta {
	m := &FileMeta{FileNumber: fileNumber, FileSize: fileSize}
	m.state.Store(int32(StateInit))
	m.realFileSize.Store(fileSize)
	return m
}

// State returns the file's current lifecycle state.
func (m *FileMeta) State() FileState { return FileState(m.state.Load()) }

// RealFileSize returns the file's recorded physical allocation size.
func (m *FileMeta) RealFileSize() uint64 { return m.realFileSize.Load() }

// SetRealFileSize updates the file's physical allocation size, called once
// a writer's rounded footer size is known.
func (m *FileMeta) SetRealFileSize(size uint64) { m.realFileSize.Store(size) }

// ObsoleteSeq returns the sequence number recorded when the file was
// marked obsolete, or 0 if it hasn't been.
func (m *FileMeta) ObsoleteSeq() uint64 { return m.obsoleteSeq.Load() }

// FileStateTransit advances m's state according to event, per the table
// in §4.5. kDbRestart is idempotent — applying it from StateNormal or
// StateBeingGC repeatedly leaves the state unchanged (invariant 5).
func (m *FileMeta) FileStateTransit(event Event) {
	for {
		cur := m.State()
		next, ok := transitions[cur][event]
		if !ok {
			panic("blobstorage: invalid file state transition: " + cur.String())
		}
		if m.state.CompareAndSwap(int32(cur), int32(next)) {
			return
		}
	}
}

// TryBeginGC attempts to atomically claim m for a GC cycle, transitioning
// StateNormal -> StateBeingGC. It reports false, without side effects, if
// m is not currently StateNormal — in particular if a concurrent picker
// invocation already claimed it. Used instead of FileStateTransit so
// concurrent Pick calls race for files via CAS rather than a shared lock,
// guaranteeing disjoint selections (§4.7, invariant 3).
func (m *FileMeta) TryBeginGC() bool {
	return m.state.CompareAndSwap(int32(StateNormal), int32(StateBeingGC))
}

// GetValidSize returns the file's live byte count: its total size minus
// whatever has been determined discardable. It never goes negative even
// if DiscardableSize momentarily overshoots FileSize due to
// double-counted sampling across overlapping GC cycles.
func (m *FileMeta) GetValidSize() uint64 {
	d := m.DiscardableSize.Load()
	if d >= m.FileSize {
		return 0
	}
	return m.FileSize - d
}

// GCScore ranks m's desirability for rewrite: files with more discardable
// bytes relative to their size are more worth rewriting.
func (m *FileMeta) GCScore() float64 {
	if m.FileSize == 0 {
		return 0
	}
	return float64(m.DiscardableSize.Load()) / float64(m.FileSize)
}

// FSScore ranks m's desirability for in-place hole-punching. It is the
// same ratio as GCScore; a file can be in both gc_inputs and fs_inputs of
// one batch, since the picker folds unconditional gc_inputs into
// fs_inputs.
func (m *FileMeta) FSScore() float64 { return m.GCScore() }
