package harness

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble-blob/internal/base"
)

// FakeCF is a ColumnFamilyHandle test double.
type FakeCF struct {
	id      uint32
	name    string
	dropped atomic.Bool
}

// NewFakeCF returns a column family handle with the given id and name.
func NewFakeCF(id uint32, name string) *FakeCF { return &FakeCF{id: id, name: name} }

func (c *FakeCF) ID() uint32      { return c.id }
func (c *FakeCF) Name() string    { return c.name }
func (c *FakeCF) IsDropped() bool { return c.dropped.Load() }

// Drop marks the column family dropped, exercising the
// IgnoreMissingColumnFamilies write path in tests.
func (c *FakeCF) Drop() { c.dropped.Store(true) }

type fakeSnapshot struct{ seq uint64 }

func (s fakeSnapshot) SequenceNumber() uint64 { return s.seq }

// FakeLSM is an in-memory LSM + FileManager test double. GC relocation
// writes go through WriteWithCallback, so tests exercise the same
// optimistic concurrency path the GC job relies on in production; Put and
// Delete change keys directly for test setup.
type FakeLSM struct {
	mu         sync.Mutex
	data       map[uint32]map[string][]byte // cf id -> key -> value
	nextFile   uint64
	nextSeq    uint64
	finished   map[uint64]bool
	deleted    map[uint64]bool
}

// NewFakeLSM returns an empty FakeLSM with file numbers starting at 1.
func NewFakeLSM() *FakeLSM {
	return &FakeLSM{
		data:     make(map[uint32]map[string][]byte),
		nextFile: 1,
		finished: make(map[uint64]bool),
		deleted:  make(map[uint64]bool),
	}
}

// Put installs a key/value pair directly, bypassing WriteWithCallback; it's
// for test setup, not for simulating GC rewrites.
func (l *FakeLSM) Put(cf ColumnFamilyHandle, key, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfLocked(cf)[string(key)] = append([]byte(nil), value...)
}

// Delete removes key directly, bypassing WriteWithCallback.
func (l *FakeLSM) Delete(cf ColumnFamilyHandle, key []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cfLocked(cf), string(key))
}

func (l *FakeLSM) cfLocked(cf ColumnFamilyHandle) map[string][]byte {
	m, ok := l.data[cf.ID()]
	if !ok {
		m = make(map[string][]byte)
		l.data[cf.ID()] = m
	}
	return m
}

func (l *FakeLSM) Get(cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cfLocked(cf)[string(key)]
	if !ok {
		return nil, base.ErrNotFound
	}
	return v, nil
}

func (l *FakeLSM) WriteWithCallback(cf ColumnFamilyHandle, key, value []byte, cb WriteCallback, opts WriteOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cf.IsDropped() {
		if opts.IgnoreMissingColumnFamilies {
			return nil
		}
		return ErrColumnFamilyDropped
	}

	m := l.cfLocked(cf)
	current := m[string(key)] // nil if absent, matching LSM.Get's "absent" shape for the callback

	if cb != nil {
		if err := cb.Callback(current); err != nil {
			return err
		}
	}

	m[string(key)] = append([]byte(nil), value...)
	l.nextSeq++
	return nil
}

func (l *FakeLSM) LatestSequenceNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

func (l *FakeLSM) NewSnapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fakeSnapshot{seq: l.nextSeq}
}

func (l *FakeLSM) ReleaseSnapshot(Snapshot) {}

// FlushWAL is a no-op: the fake has no log to flush.
func (l *FakeLSM) FlushWAL(sync bool) error { return nil }

func (l *FakeLSM) NewFile(cf ColumnFamilyHandle) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.nextFile
	l.nextFile++
	return n, nil
}

func (l *FakeLSM) BatchFinishFiles(cf ColumnFamilyHandle, fileNumbers []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range fileNumbers {
		l.finished[n] = true
	}
	return nil
}

func (l *FakeLSM) BatchDeleteFiles(cf ColumnFamilyHandle, fileNumbers []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range fileNumbers {
		l.deleted[n] = true
	}
	return nil
}

// IsFinished reports whether BatchFinishFiles has recorded fileNumber.
func (l *FakeLSM) IsFinished(fileNumber uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished[fileNumber]
}

// IsDeleted reports whether BatchDeleteFiles has recorded fileNumber.
func (l *FakeLSM) IsDeleted(fileNumber uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleted[fileNumber]
}
