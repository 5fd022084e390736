// Package gc implements the blob GC picker, rewrite job, and dig-hole job
// (§4.7–§4.9): selecting candidate files, relocating live records out of
// them, and reclaiming space in place for files that don't need a full
// rewrite.
package gc

import "github.com/cockroachdb/pebble-blob/blobstorage"

// Input identifies one file admitted into a BlobGC batch and whether it
// still needs Phase 1 sampling to confirm it's worth acting on, or was
// admitted unconditionally.
type Input struct {
	Meta          *blobstorage.FileMeta
	NeedsSampling bool
}

// BlobGC is the picker's output: a GC cycle descriptor naming which files
// to rewrite, which to hole-punch, and whether another cycle should start
// immediately after this one commits (§4.7).
type BlobGC struct {
	GCInputs    []Input
	FSInputs    []Input
	TriggerNext bool
}

// GCFileNumbers returns the file numbers in gc_inputs, for logging and
// metrics.
func (g *BlobGC) GCFileNumbers() []uint64 {
	out := make([]uint64, len(g.GCInputs))
	for i, in := range g.GCInputs {
		out[i] = in.Meta.FileNumber
	}
	return out
}

// FSFileNumbers returns the file numbers in fs_inputs.
func (g *BlobGC) FSFileNumbers() []uint64 {
	out := make([]uint64, len(g.FSInputs))
	for i, in := range g.FSInputs {
		out[i] = in.Meta.FileNumber
	}
	return out
}

// ReleaseGCFiles reverts every still-kBeingGC file in inputs back to
// kNormal, the arrow GC completion uses (§4.5). Files already driven to
// kGCCompleted by a rewrite or hole-punch are left alone.
//
// Claiming a candidate is a per-file FileMeta.TryBeginGC compare-and-swap
// made during picker selection (picker.go), not a bulk transition here:
// the picker interleaves claiming with its batch-size cap, so a candidate
// the cap cuts off must stay kNormal for the next Pick call or for FS
// admission, which a single construction-time transition over the whole
// BlobGC can't express. ReleaseGCFiles is the inverse, shared by every
// path that gives up on a claimed file short of completion: the picker's
// too-small-batch abort, the rewrite job's per-phase partial releases,
// and the dig-hole job's per-file completion.
func ReleaseGCFiles(inputs []Input) {
	for _, in := range inputs {
		if in.Meta.State() == blobstorage.StateBeingGC {
			in.Meta.FileStateTransit(blobstorage.EventGCCompleted)
		}
	}
}
