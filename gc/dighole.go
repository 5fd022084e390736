package gc

import (
	stderrors "errors"

	"github.com/cockroachdb/crlib/crtime"

	"github.com/cockroachdb/pebble-blob/blobfile"
	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/blobstorage"
	"github.com/cockroachdb/pebble-blob/config"
	"github.com/cockroachdb/pebble-blob/gcmetrics"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// DigHoleJob reclaims space in place for a BlobGC's fs_inputs (§4.9): it
// never rewrites a record, only punches the file-system holes backing
// records it has confirmed discardable. It owns the lifecycle of the
// files the picker claimed into fs_inputs independently of Job, which
// owns gc_inputs — a file appearing in both (§4.7's union case) is
// released back to kNormal by whichever of the two finishes last to
// observe it still kBeingGC.
type DigHoleJob struct {
	Dirname  string
	Storage  *blobstorage.Storage
	LSM      harness.LSM
	FS       harness.FS
	CF       harness.ColumnFamilyHandle
	Opts     config.Options
	Metrics  *gcmetrics.Metrics
	Hist     *gcmetrics.LatencyHistograms
	Shutdown *base.ShutdownFlag
	// Logger receives diagnostic lines. A nil Logger is treated as
	// base.NoopLogger.
	Logger base.Logger
}

func (j *DigHoleJob) logger() base.Logger {
	if j.Logger == nil {
		return base.NoopLogger
	}
	return j.Logger
}

// run holds one file's contiguous, 4 KiB-aligned span of discardable
// records awaiting a single hole-punch, so adjacent discardable records
// coalesce into one fallocate call.
type run struct {
	start uint64
	end   uint64
}

// Run punches holes for every confirmed file in fsInputs, then releases
// each file's kBeingGC claim back to kNormal.
func (j *DigHoleJob) Run(fsInputs []Input) error {
	for i, in := range fsInputs {
		if j.Shutdown.IsSet() {
			j.releaseFrom(fsInputs[i:])
			return base.ErrShutdownInProgress
		}
		if err := j.punchFile(in); err != nil {
			j.logger().Errorf("dighole: punching file %d failed: %v", in.Meta.FileNumber, err)
			j.release(in.Meta)
			j.releaseFrom(fsInputs[i+1:])
			return err
		}
		j.release(in.Meta)
	}
	return nil
}

func (j *DigHoleJob) releaseFrom(inputs []Input) {
	for _, in := range inputs {
		j.release(in.Meta)
	}
}

func (j *DigHoleJob) release(m *blobstorage.FileMeta) {
	ReleaseGCFiles([]Input{{Meta: m}})
}

// punchFile scans in's file once, grouping contiguous discardable records
// into 4 KiB-aligned runs and punching each run as it closes. Only ranges
// fully inside discardable records and aligned to the block size are ever
// punched (§4.9): a run's start is rounded up to the next block boundary
// and its end rounded down, so a partial block at either edge is left
// alone rather than punched speculatively.
func (j *DigHoleJob) punchFile(in Input) error {
	fileName := blobfile.FileName(j.Dirname, in.Meta.FileNumber)
	f, err := j.FS.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := blobfile.Open(f, int64(in.Meta.FileSize))
	if err != nil {
		return err
	}
	defer r.Close()

	it := blobfile.NewIterator(r, in.Meta.FileNumber, r.MetaIndexOffset())
	it.SeekToFirst()

	var cur *run
	var reclaimed uint64

	flush := func() error {
		if cur == nil || cur.end <= cur.start {
			cur = nil
			return nil
		}
		length := cur.end - cur.start
		start := crtime.NowMono()
		perr := j.FS.PunchHole(fileName, int64(cur.start), int64(length))
		j.Hist.RecordHolePunch(start.Elapsed())
		cur = nil
		if stderrors.Is(perr, stderrors.ErrUnsupported) {
			return nil // feature-detected skip: leave discardable_size as-is
		}
		if perr != nil {
			return perr
		}
		reclaimed += length
		return nil
	}

	for it.Valid() {
		if j.Shutdown.IsSet() {
			return base.ErrShutdownInProgress
		}

		idx := it.GetBlobIndex()
		discard, derr := DiscardEntry(j.LSM, j.CF, it.Key(), idx)
		if derr != nil {
			return derr
		}

		if !discard {
			if err := flush(); err != nil {
				return err
			}
			it.Next()
			continue
		}

		recStart := idx.Handle.Offset
		recEnd := idx.Handle.Offset + idx.Handle.Size
		blockStart := blobformat.AlignUp(recStart)
		blockEnd := (recEnd / blobformat.BlockSize) * blobformat.BlockSize

		if cur != nil && blockStart > cur.end {
			if err := flush(); err != nil {
				return err
			}
		}
		if blockEnd > blockStart {
			if cur == nil {
				cur = &run{start: blockStart, end: blockEnd}
			} else {
				cur.end = blockEnd
			}
		}

		it.Next()
	}
	if it.Error() != nil {
		return it.Error()
	}
	if err := flush(); err != nil {
		return err
	}

	if reclaimed > 0 {
		dec := reclaimed
		if d := in.Meta.DiscardableSize.Load(); dec > d {
			dec = d
		}
		in.Meta.DiscardableSize.Add(uint64(-int64(dec)))
		j.Metrics.HolePunchedBytes.Add(reclaimed)
	}
	return nil
}
