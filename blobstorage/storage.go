package blobstorage

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/internal/base"
)

// obsoleteEntry is a file waiting for its obsolete sequence to age out of
// every live snapshot before physical deletion. markedAt is a monotonic
// timestamp, not part of deletion eligibility (that's obsoleteSeq alone),
// kept so an operator can log how long a file has been sitting in the
// obsolete queue.
type obsoleteEntry struct {
	meta        *FileMeta
	obsoleteSeq uint64
	markedAt    crtime.Mono
}

// Age reports how long ago e was marked obsolete.
func (e obsoleteEntry) Age() time.Duration { return e.markedAt.Elapsed() }

// Storage is the thread-safe, per-column-family inventory of blob files
// (§4.6). A single mutex guards the inventory map, the obsolete queue,
// destroyed, and the scored list — held only for bounded, in-memory work,
// never across file I/O or LSM calls (§5).
type Storage struct {
	mu sync.Mutex

	cfID uint32

	files     map[uint64]*FileMeta
	obsolete  []obsoleteEntry
	destroyed bool

	scored []*FileMeta // sorted by GCScore descending, rebuilt by ComputeGCScore
}

// New returns an empty Storage for the column family identified by cfID.
func New(cfID uint32) *Storage {
	return &Storage{cfID: cfID, files: make(map[uint64]*FileMeta)}
}

// ColumnFamilyID returns the column family this inventory belongs to.
func (s *Storage) ColumnFamilyID() uint32 { return s.cfID }

// AddBlobFile inserts meta into the inventory. The next ComputeGCScore
// call picks it up.
func (s *Storage) AddBlobFile(meta *FileMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[meta.FileNumber] = meta
}

// FindFile returns the FileMeta for fileNumber. A miss is corruption in
// the normal lookup path (§4.6): by the time a BlobIndex is visible to a
// reader, its file's manifest edit has committed and the entry must
// exist.
func (s *Storage) FindFile(fileNumber uint64) (*FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[fileNumber]
	if !ok {
		return nil, base.CorruptionErrorf("blobstorage: file %d not found in inventory", errors.Safe(fileNumber))
	}
	return m, nil
}

// MarkFileObsolete transitions meta to StateObsolete, removes it from the
// live inventory, and appends it to the obsolete queue tagged with seq,
// the LSM sequence number at the time of obsolescence.
func (s *Storage) MarkFileObsolete(meta *FileMeta, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta.FileStateTransit(EventDelete)
	meta.obsoleteSeq.Store(seq)
	delete(s.files, meta.FileNumber)
	s.obsolete = append(s.obsolete, obsoleteEntry{meta: meta, obsoleteSeq: seq, markedAt: crtime.NowMono()})
}

// GetObsoleteFiles drains and returns the file numbers whose obsolete
// sequence is ≤ oldestLiveSeq — no live snapshot can still resolve a
// BlobIndex into them, so their backing files may be physically deleted
// (invariant 6).
func (s *Storage) GetObsoleteFiles(oldestLiveSeq uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []uint64
	remaining := s.obsolete[:0]
	for _, e := range s.obsolete {
		if e.obsoleteSeq <= oldestLiveSeq {
			ready = append(ready, e.meta.FileNumber)
		} else {
			remaining = append(remaining, e)
		}
	}
	s.obsolete = remaining
	return ready
}

// ComputeGCScore rebuilds the scored list from every file currently in
// the live inventory, sorted by GCScore descending.
func (s *Storage) ComputeGCScore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	scored := make([]*FileMeta, 0, len(s.files))
	for _, m := range s.files {
		scored = append(scored, m)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].GCScore() > scored[j].GCScore() })
	s.scored = scored
}

// ScoredFiles returns the list built by the most recent ComputeGCScore
// call.
func (s *Storage) ScoredFiles() []*FileMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FileMeta, len(s.scored))
	copy(out, s.scored)
	return out
}

// MarkAllFilesForGC sets GCMark on every file currently in the live
// inventory, forcing a sample pass on the next GC cycle — called on DB
// restart or when GC-affecting configuration changes (§4.6).
func (s *Storage) MarkAllFilesForGC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.files {
		m.GCMark.Store(true)
	}
}

// Destroy marks the storage destroyed; subsequent GC cycles for this
// column family must not attempt further manifest edits (§4.8 phase 5).
func (s *Storage) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (s *Storage) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
