package gc

import (
	"bytes"
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/cockroachdb/crlib/crbytes"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/tokenbucket"

	"github.com/cockroachdb/pebble-blob/blobfile"
	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/blobstorage"
	"github.com/cockroachdb/pebble-blob/config"
	"github.com/cockroachdb/pebble-blob/gcmetrics"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Job drives one GC cycle's rewrite side (§4.8) over a BlobGC's
// gc_inputs: sample, rewrite, install outputs, rewrite to the LSM, retire
// inputs. It holds no state across Run calls; every collaborator is
// injected so a Job is cheap to construct per cycle.
type Job struct {
	Dirname     string
	Storage     *blobstorage.Storage
	LSM         harness.LSM
	FileManager harness.FileManager
	FS          harness.FS
	CF          harness.ColumnFamilyHandle
	Opts        config.Options
	Metrics     *gcmetrics.Metrics
	Histograms  *gcmetrics.LatencyHistograms
	Shutdown    *base.ShutdownFlag
	// Logger receives diagnostic lines. A nil Logger is treated as
	// base.NoopLogger.
	Logger base.Logger
}

func (j *Job) logger() base.Logger {
	if j.Logger == nil {
		return base.NoopLogger
	}
	return j.Logger
}

// sampleResult is one input file's Phase 1 verdict.
type sampleResult struct {
	in        Input
	confirmed bool
}

// Run executes all five phases over gcInputs. It returns
// base.ErrShutdownInProgress if the shutdown flag was observed, or any
// corruption/IO error encountered; on any error, every input still
// claimed (kBeingGC) is released back to kNormal, and half-built outputs
// from Phase 2 or 3 are deleted.
func (j *Job) Run(gcInputs []Input) error {
	if len(gcInputs) == 0 {
		return nil
	}
	j.logger().Infof("gc: starting cycle over %d input files", len(gcInputs))

	confirmed, unconfirmed, err := j.sample(gcInputs)
	if err != nil {
		j.logger().Errorf("gc: sampling failed: %v", err)
		j.release(gcInputs)
		return err
	}
	j.release(unconfirmed)

	if len(confirmed) == 0 {
		j.logger().Infof("gc: no files confirmed after sampling")
		return nil
	}

	outputs, pending, err := j.rewrite(confirmed)
	if err != nil {
		j.logger().Errorf("gc: rewrite failed: %v", err)
		j.abortOutputs(outputs)
		j.release(confirmed)
		return err
	}

	if err := j.installOutputs(outputs); err != nil {
		j.logger().Errorf("gc: installing outputs failed: %v", err)
		j.abortOutputs(outputs)
		j.release(confirmed)
		return err
	}

	if err := j.rewriteToLSM(pending); err != nil {
		// The relocation writes that already landed remain correct
		// (Phase 4 is per-key and idempotent from the reader's
		// perspective); only retirement is skipped so the next cycle
		// can reconsider these inputs.
		j.logger().Errorf("gc: rewrite to LSM failed: %v", err)
		j.release(confirmed)
		return err
	}

	j.retire(confirmed, outputs)
	j.logger().Infof("gc: cycle complete: %d files obsoleted, %d new files", len(confirmed), len(outputs))
	return nil
}

// sample runs Phase 1 over every sampling-candidate input, confirming
// those whose discardable fraction meets BlobFileDiscardableRatio.
// Unconditionally-admitted inputs skip sampling and are always confirmed.
// Sampling across files runs concurrently, mirroring the teacher's use of
// errgroup for independent, fallible fan-out work.
func (j *Job) sample(gcInputs []Input) (confirmed, unconfirmed []Input, err error) {
	results := make([]sampleResult, len(gcInputs))
	var g errgroup.Group
	for i, in := range gcInputs {
		i, in := i, in
		if !in.NeedsSampling {
			results[i] = sampleResult{in: in, confirmed: true}
			continue
		}
		g.Go(func() error {
			ok, serr := j.sampleOne(in)
			results[i] = sampleResult{in: in, confirmed: ok}
			return serr
		})
	}
	if gerr := g.Wait(); gerr != nil {
		return nil, nil, gerr
	}
	for _, r := range results {
		if r.confirmed {
			confirmed = append(confirmed, r.in)
		} else {
			unconfirmed = append(unconfirmed, r.in)
		}
	}
	return confirmed, unconfirmed, nil
}

// sampleOne scans in's file once, tallying discardable vs. iterated bytes
// via DiscardEntry, and reports whether the file is confirmed for GC.
func (j *Job) sampleOne(in Input) (bool, error) {
	if j.Shutdown.IsSet() {
		return false, base.ErrShutdownInProgress
	}
	start := crtime.NowMono()
	defer func() { j.Histograms.RecordSample(start.Elapsed()) }()

	r, closer, err := j.openReader(in.Meta.FileNumber, int64(in.Meta.FileSize))
	if err != nil {
		return false, err
	}
	defer closer()

	it := blobfile.NewIterator(r, in.Meta.FileNumber, r.MetaIndexOffset())
	it.SeekToFirst()

	var iteratedSize, discardableSize uint64
	for it.Valid() {
		idx := it.GetBlobIndex()
		iteratedSize += idx.Handle.Size
		discard, derr := DiscardEntry(j.LSM, j.CF, it.Key(), idx)
		if derr != nil {
			return false, derr
		}
		if discard {
			discardableSize += idx.Handle.Size
		}
		it.Next()
	}
	if it.Error() != nil {
		return false, it.Error()
	}

	in.Meta.DiscardableSize.Store(discardableSize)
	threshold := uint64(math.Ceil(float64(iteratedSize) * j.Opts.BlobFileDiscardableRatio))
	return discardableSize >= threshold, nil
}

// DiscardEntry reports whether the LSM entry for key is no longer the
// record addressed by expected: missing, inlined, or pointing at a
// different blob (§4.8, "DiscardEntry"). False negatives are acceptable;
// false positives are not, so an ambiguous decode error propagates rather
// than being treated as discardable.
func DiscardEntry(lsm harness.LSM, cf harness.ColumnFamilyHandle, key []byte, expected blobformat.Index) (bool, error) {
	value, err := lsm.Get(cf, key)
	if base.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !blobformat.IsBlobIndex(value) {
		return true, nil
	}
	current, err := blobformat.DecodeIndex(value)
	if err != nil {
		return false, err
	}
	return !current.Equal(expected), nil
}

// output is one blob file produced by the rewrite loop, still open for
// Phase 3 to Finish.
type output struct {
	fileNumber uint64
	file       harness.File
	builder    *blobfile.Builder
}

// pendingWrite is one relocated record awaiting its Phase 4 optimistic
// write.
type pendingWrite struct {
	key      []byte
	oldIndex blobformat.Index
	newIndex blobformat.Index
	size     int
}

// rewrite runs Phase 2: a merge-ordered walk over confirmed's files,
// writing survivors into rolling output files and staging their LSM
// writes.
func (j *Job) rewrite(confirmed []Input) ([]*output, []pendingWrite, error) {
	its := make([]*blobfile.Iterator, 0, len(confirmed))
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for _, in := range confirmed {
		r, closer, err := j.openReader(in.Meta.FileNumber, int64(in.Meta.FileSize))
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, closer)
		it := blobfile.NewIterator(r, in.Meta.FileNumber, r.MetaIndexOffset())
		it.SeekToFirst()
		its = append(its, it)
	}

	mi := blobfile.NewMergeIterator(its)
	limiter := newRewriteLimiter(j.Opts.GCRewriteBytesPerSec)

	var outputs []*output
	var cur *output
	var pending []pendingWrite
	var lastKey []byte
	var lastKept bool
	haveLast := false

	for mi.Valid() {
		if j.Shutdown.IsSet() {
			return nil, nil, base.ErrShutdownInProgress
		}

		key := crbytes.Clone(mi.Key())
		value := crbytes.Clone(mi.Value())
		oldIndex := mi.GetBlobIndex()

		if haveLast && lastKept && bytes.Equal(key, lastKey) {
			mi.Next()
			continue
		}

		discard, err := DiscardEntry(j.LSM, j.CF, key, oldIndex)
		if err != nil {
			return nil, nil, err
		}
		if discard {
			j.Metrics.KeysOverwritten.Add(1)
			j.Metrics.BytesOverwritten.Add(uint64(len(value)))
			lastKey, lastKept, haveLast = key, false, true
			mi.Next()
			continue
		}

		if cur == nil || cur.builder.Size() >= j.Opts.BlobFileTargetSize {
			o, err := j.newOutput()
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, o)
			cur = o
		}

		handle, err := cur.builder.Add(blobformat.Record{Key: key, Value: value})
		if err != nil {
			return nil, nil, err
		}
		newIndex := blobformat.Index{FileNumber: cur.fileNumber, Handle: handle}
		pending = append(pending, pendingWrite{key: key, oldIndex: oldIndex, newIndex: newIndex, size: len(value)})
		j.Metrics.BytesRead.Add(uint64(len(value)))

		if limiter != nil {
			if err := limiter.Wait(context.Background(), tokenbucket.Tokens(len(value))); err != nil {
				return nil, nil, err
			}
		}

		lastKey, lastKept, haveLast = key, true, true
		mi.Next()
	}

	return outputs, pending, nil
}

// newRewriteLimiter returns a token bucket throttling rewrite output to
// bytesPerSec, or nil if pacing is disabled (the zero value).
func newRewriteLimiter(bytesPerSec float64) *tokenbucket.TokenBucket {
	if bytesPerSec <= 0 {
		return nil
	}
	var tb tokenbucket.TokenBucket
	tb.Init(tokenbucket.Rate(bytesPerSec), tokenbucket.Tokens(bytesPerSec))
	return &tb
}

func (j *Job) newOutput() (*output, error) {
	fn, err := j.FileManager.NewFile(j.CF)
	if err != nil {
		return nil, err
	}
	f, err := j.FS.Create(blobfile.FileName(j.Dirname, fn))
	if err != nil {
		return nil, err
	}
	b, err := blobfile.NewBuilder(f, fn, j.Opts.BlobFileCompression)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &output{fileNumber: fn, file: f, builder: b}, nil
}

// installOutputs runs Phase 3: finish every output builder, durably
// register the batch, then make it visible to the inventory.
func (j *Job) installOutputs(outputs []*output) error {
	if len(outputs) == 0 {
		return nil
	}

	results := make([]blobfile.FinishResult, len(outputs))
	for i, o := range outputs {
		res, err := o.builder.Finish()
		if err != nil {
			return err
		}
		if err := o.file.Close(); err != nil {
			return base.IOErrorf("gc: close output file %d: %v", o.fileNumber, err)
		}
		results[i] = res
	}

	fileNumbers := make([]uint64, len(outputs))
	for i, o := range outputs {
		fileNumbers[i] = o.fileNumber
	}
	if err := j.FileManager.BatchFinishFiles(j.CF, fileNumbers); err != nil {
		return err
	}

	for i, o := range outputs {
		meta := blobstorage.NewFileMeta(o.fileNumber, results[i].FileSize)
		meta.SetRealFileSize(blobformat.AlignUp(results[i].FileSize))
		meta.FileStateTransit(blobstorage.EventGCOutput)
		j.Storage.AddBlobFile(meta)
		j.Metrics.NewFiles.Add(1)
		j.Metrics.BytesWritten.Add(results[i].FileSize)
	}
	return nil
}

// rewriteToLSM runs Phase 4: apply every staged relocation under an
// optimistic callback, then flush and sync the WAL.
func (j *Job) rewriteToLSM(pending []pendingWrite) error {
	for _, pw := range pending {
		if j.Shutdown.IsSet() {
			return base.ErrShutdownInProgress
		}

		cb := &relocationCallback{expected: pw.oldIndex}
		value := pw.newIndex.EncodeTo(nil)
		opts := harness.WriteOptions{LowPri: true}
		start := crtime.NowMono()
		err := j.LSM.WriteWithCallback(j.CF, pw.key, value, cb, opts)
		j.Histograms.RecordRewrite(start.Elapsed())
		switch {
		case err == nil:
			j.Metrics.KeysRelocated.Add(1)
			j.Metrics.BytesRelocated.Add(uint64(pw.size))
		case base.IsBusy(err):
			j.Metrics.KeysOverwritten.Add(1)
		case base.IsAborted(err):
			return err
		default:
			return err
		}
	}
	return j.LSM.FlushWAL(true)
}

// relocationCallback implements harness.WriteCallback for a single
// relocated record: it approves the write iff the LSM's current entry for
// the key still matches the index captured when the record was read
// (§4.8 phase 4, §8 S6).
type relocationCallback struct {
	expected blobformat.Index
}

func (c *relocationCallback) Callback(currentValue []byte) error {
	if !blobformat.IsBlobIndex(currentValue) {
		return base.ErrBusy
	}
	current, err := blobformat.DecodeIndex(currentValue)
	if err != nil {
		return base.ErrBusy
	}
	if !current.Equal(c.expected) {
		return base.ErrBusy
	}
	return nil
}

func (c *relocationCallback) AllowWriteBatching() bool { return false }

// retire runs Phase 5: persist the manifest edit obsoleting every
// rewritten input, mark each input obsolete at the LSM's latest sequence,
// and move each output file through kGCCompleted back to kNormal. It
// changes nothing if the column family was dropped, the storage was
// destroyed, or the manifest edit fails.
func (j *Job) retire(confirmed []Input, outputs []*output) {
	if j.Storage.Destroyed() || j.CF.IsDropped() {
		return
	}

	fileNumbers := make([]uint64, len(confirmed))
	for i, in := range confirmed {
		fileNumbers[i] = in.Meta.FileNumber
	}
	if err := j.FileManager.BatchDeleteFiles(j.CF, fileNumbers); err != nil {
		return
	}

	seq := j.LSM.LatestSequenceNumber()
	for _, in := range confirmed {
		j.Storage.MarkFileObsolete(in.Meta, seq)
		j.Metrics.ObsoleteFiles.Add(1)
	}
	for _, o := range outputs {
		meta, err := j.Storage.FindFile(o.fileNumber)
		if err == nil {
			meta.FileStateTransit(blobstorage.EventGCCompleted)
		}
	}
}

// release reverts metas still claimed (kBeingGC) back to kNormal, the
// path taken for sampling candidates that weren't confirmed and for any
// input abandoned by a failed phase.
func (j *Job) release(inputs []Input) {
	ReleaseGCFiles(inputs)
}

// abortOutputs deletes the backing files for half-built outputs and marks
// their builders abandoned.
func (j *Job) abortOutputs(outputs []*output) {
	for _, o := range outputs {
		o.builder.Abandon()
		_ = o.file.Close()
		_ = j.FS.Remove(blobfile.FileName(j.Dirname, o.fileNumber))
	}
}

// openReader opens a fresh, single-use reader over fileNumber for a
// sequential scan; the returned closer releases it. The rewrite and
// sample passes intentionally bypass the shared blobfile.Cache: that
// cache is sized and evicted for the hot read path (point Gets), not for
// a GC job's one-shot, full-file sequential scans.
func (j *Job) openReader(fileNumber uint64, fileSize int64) (*blobfile.Reader, func(), error) {
	f, err := j.FS.Open(blobfile.FileName(j.Dirname, fileNumber))
	if err != nil {
		return nil, nil, err
	}
	r, err := blobfile.Open(f, fileSize)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}
