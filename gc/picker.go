package gc

import (
	"sort"

	"github.com/cockroachdb/pebble-blob/blobstorage"
	"github.com/cockroachdb/pebble-blob/config"
)

// Picker selects the next GC batch from a Storage's current inventory
// (§4.7). It holds no state of its own; Pick is safe to call
// concurrently from multiple goroutines, including concurrently against
// the same Storage, because file admission is claimed via atomic
// compare-and-swap on each FileMeta rather than a picker-held lock.
type Picker struct{}

// Pick runs the four selection rules in §4.7 against storage's current
// scoring and returns a BlobGC descriptor, or nil if there is no
// sufficient work. Callers must have called storage.ComputeGCScore()
// recently enough that ScoredFiles reflects the current inventory.
func (Picker) Pick(storage *blobstorage.Storage, opts config.Options) *BlobGC {
	scored := storage.ScoredFiles()

	gcInputs, gcSize, gcHitCap := pickGCInputs(scored, opts)
	fsInputs, fsDiscardable, fsHitCap := pickFSInputs(scored, opts, gcInputs)

	if len(gcInputs) == 0 && len(fsInputs) == 0 {
		return nil
	}
	if gcSize < opts.MinGCBatchSize && fsDiscardable < opts.MinFSBatchSize {
		releaseAll(gcInputs)
		releaseAll(fsInputs)
		return nil
	}

	return &BlobGC{
		GCInputs:    gcInputs,
		FSInputs:    fsInputs,
		TriggerNext: gcHitCap || fsHitCap,
	}
}

func pickGCInputs(scored []*blobstorage.FileMeta, opts config.Options) (inputs []Input, totalSize uint64, hitCap bool) {
	byGCScore := append([]*blobstorage.FileMeta(nil), scored...)
	sort.SliceStable(byGCScore, func(i, j int) bool { return byGCScore[i].GCScore() > byGCScore[j].GCScore() })

	var eligible []*blobstorage.FileMeta
	var needsSampling []bool
	for _, m := range byGCScore {
		if m.State() != blobstorage.StateNormal {
			continue
		}
		unconditional := m.GetValidSize() <= opts.MergeSmallFileThreshold
		sampling := m.GCMark.Load()
		if !unconditional && !sampling {
			continue
		}
		eligible = append(eligible, m)
		needsSampling = append(needsSampling, !unconditional)
	}

	for i, m := range eligible {
		if !m.TryBeginGC() {
			continue // lost the race to a concurrent Pick
		}
		inputs = append(inputs, Input{Meta: m, NeedsSampling: needsSampling[i]})
		totalSize += m.FileSize
		if totalSize >= opts.MaxGCBatchSize {
			// trigger_next only if capacity-bounded work remains beyond
			// this batch, not merely because the last file happened to
			// land exactly on the cap (§4.7 rule 4).
			hitCap = i < len(eligible)-1
			break
		}
	}
	return inputs, totalSize, hitCap
}

// pickFSInputs selects hole-punch candidates. Unconditionally-admitted
// gc_inputs (small, whole-file merge candidates, not sampling-only ones)
// are folded in directly: a file worth merging away is also worth
// punching in place while it waits for its rewrite, even if it happens
// to carry no discardable bytes of its own yet (§8 S3, S4).
func pickFSInputs(scored []*blobstorage.FileMeta, opts config.Options, gcInputs []Input) (inputs []Input, totalDiscardable uint64, hitCap bool) {
	included := make(map[uint64]bool)
	var candidates []Input

	for _, in := range gcInputs {
		if in.NeedsSampling {
			continue // sampling hasn't confirmed it yet; don't also punch it
		}
		candidates = append(candidates, in)
		included[in.Meta.FileNumber] = true
	}

	// Eligibility is determined up front, before any new claims, so the
	// final cap-bounded pass below can process the gc-union and the
	// fresh fs candidates in one true fsscore-descending order without
	// ever claiming (and then discarding) a file that the cap cuts off.
	byFSScore := append([]*blobstorage.FileMeta(nil), scored...)
	sort.SliceStable(byFSScore, func(i, j int) bool { return byFSScore[i].FSScore() > byFSScore[j].FSScore() })

	for _, m := range byFSScore {
		if included[m.FileNumber] || m.GCMark.Load() {
			continue
		}
		if m.State() != blobstorage.StateNormal {
			continue
		}
		unconditional := m.DiscardableSize.Load() >= opts.FreeSpaceThreshold
		sampling := opts.FastReclaimSpaceBySample
		if !unconditional && !sampling {
			continue
		}
		candidates = append(candidates, Input{Meta: m, NeedsSampling: !unconditional})
		included[m.FileNumber] = true
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Meta.FSScore() > candidates[j].Meta.FSScore() })

	for i, in := range candidates {
		// gc-union entries are already claimed; fs-only entries are
		// claimed here, exactly once, only if the cap admits them.
		if in.Meta.State() == blobstorage.StateNormal && !in.Meta.TryBeginGC() {
			continue // lost the race to a concurrent Pick
		}
		inputs = append(inputs, in)
		totalDiscardable += in.Meta.DiscardableSize.Load()
		if totalDiscardable >= opts.MaxFSBatchSize {
			// Candidates past the cap that are already claimed belong to
			// this batch's gc_inputs; only unclaimed ones are work left
			// for the next cycle.
			for _, rest := range candidates[i+1:] {
				if rest.Meta.State() == blobstorage.StateNormal {
					hitCap = true
					break
				}
			}
			break
		}
	}
	return inputs, totalDiscardable, hitCap
}

// releaseAll reverts claimed files back to StateNormal when a batch turns
// out too small to run.
func releaseAll(inputs []Input) {
	ReleaseGCFiles(inputs)
}
