// Package config holds the immutable configuration record passed by
// value to the picker, the GC and dig-hole jobs, and the table builder
// shim (§9 "Configuration bag"), replacing an ad-hoc options carrier the way
// sstable.WriterOptions is a plain struct in the teacher.
package config

import "github.com/cockroachdb/pebble-blob/blobformat"

// RunMode is the per-column-family blob mode named in §6.
type RunMode int

const (
	RunModeNormal RunMode = iota
	RunModeReadOnly
	RunModeFallback
)

func (m RunMode) String() string {
	switch m {
	case RunModeNormal:
		return "normal"
	case RunModeReadOnly:
		return "read-only"
	case RunModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Options is the enumerated configuration surface from §6, carried as a
// single immutable value rather than a setter-based options bag.
type Options struct {
	// MinBlobSize is the minimum inline value length the table builder
	// shim externalizes.
	MinBlobSize uint64

	// BlobFileTargetSize is the target byte size of a GC output file;
	// crossing it rolls to a new output.
	BlobFileTargetSize uint64

	// MaxGCBatchSize and MinGCBatchSize bound a GC cycle's rewrite work,
	// in total input file size.
	MaxGCBatchSize uint64
	MinGCBatchSize uint64

	// MaxFSBatchSize and MinFSBatchSize bound a GC cycle's hole-punch
	// work, in total discardable size.
	MaxFSBatchSize uint64
	MinFSBatchSize uint64

	// MergeSmallFileThreshold: files with valid_size at or below this are
	// admitted to gc_inputs unconditionally.
	MergeSmallFileThreshold uint64

	// FreeSpaceThreshold: files with discardable_size at or above this
	// are admitted to fs_inputs unconditionally.
	FreeSpaceThreshold uint64

	// BlobFileDiscardableRatio is the sampling acceptance ratio in [0,1]:
	// a sampled file is confirmed for GC iff discardable_size is at
	// least this fraction of iterated_size.
	BlobFileDiscardableRatio float64

	// FastReclaimSpaceBySample enables the sampling admission path for
	// fs_inputs (rather than requiring FreeSpaceThreshold to already be
	// met).
	FastReclaimSpaceBySample bool

	// BlobFileCompression is the codec new blob files are written with.
	BlobFileCompression blobformat.Compression

	// BlobRunMode is the column family's current mode.
	BlobRunMode RunMode

	// GCRewriteBytesPerSec caps the rewrite phase's sustained output
	// throughput. Zero means unlimited.
	GCRewriteBytesPerSec float64
}

// DefaultOptions returns reasonable defaults, in the spirit of the
// teacher's own zero-value-friendly option structs.
func DefaultOptions() Options {
	return Options{
		MinBlobSize:              256,
		BlobFileTargetSize:       256 << 20,
		MaxGCBatchSize:           1 << 30,
		MinGCBatchSize:           512 << 20,
		MaxFSBatchSize:           1 << 30,
		MinFSBatchSize:           512 << 20,
		MergeSmallFileThreshold:  8 << 20,
		FreeSpaceThreshold:       1 << 30,
		BlobFileDiscardableRatio: 0.5,
		FastReclaimSpaceBySample: false,
		BlobFileCompression:      blobformat.SnappyCompression,
		BlobRunMode:              RunModeNormal,
	}
}
