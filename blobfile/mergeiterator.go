package blobfile

import (
	"bytes"
	"container/heap"

	"github.com/cockroachdb/pebble-blob/blobformat"
)

// MergeIterator performs a k-way merge over several file iterators,
// ordered by user key ascending and, for equal keys, by file number
// descending (the newer file wins). It is used exclusively by GC scans
// (§4.3); it does not deduplicate equal keys across files, even across
// the newest-first ordering — the caller is responsible for skipping the
// shadowed entries it doesn't want.
type MergeIterator struct {
	h     mergeHeap
	valid bool
}

type mergeHeapItem struct {
	it *Iterator
}

type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].it.Key(), h[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].it.fileNumber > h[j].it.fileNumber
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a MergeIterator over its, each already
// positioned by a prior SeekToFirst call. Iterators already exhausted
// (Valid() == false) are dropped.
func NewMergeIterator(its []*Iterator) *MergeIterator {
	m := &MergeIterator{}
	for _, it := range its {
		if it.Valid() {
			m.h = append(m.h, mergeHeapItem{it: it})
		}
	}
	heap.Init(&m.h)
	m.valid = len(m.h) > 0
	return m
}

// Valid reports whether the iterator is positioned at an entry.
func (m *MergeIterator) Valid() bool { return m.valid }

// Key returns the current entry's key.
func (m *MergeIterator) Key() []byte { return m.h[0].it.Key() }

// Value returns the current entry's value.
func (m *MergeIterator) Value() []byte { return m.h[0].it.Value() }

// FileNumber returns the file number the current entry came from.
func (m *MergeIterator) FileNumber() uint64 { return m.h[0].it.fileNumber }

// GetBlobIndex synthesizes the Index a caller would store in the LSM to
// point back at the current entry's backing file, i.e. the index a GC
// rewrite treats as the record's "old" address.
func (m *MergeIterator) GetBlobIndex() blobformat.Index { return m.h[0].it.GetBlobIndex() }

// Next advances to the next entry in merged order.
func (m *MergeIterator) Next() {
	top := m.h[0].it
	top.Next()
	if top.Valid() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	m.valid = len(m.h) > 0
}
