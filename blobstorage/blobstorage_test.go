package blobstorage

import (
	"testing"

	"github.com/cockroachdb/pebble-blob/internal/base"
	"github.com/stretchr/testify/require"
)

func TestFileStateTransitTable(t *testing.T) {
	m := NewFileMeta(1, 100)
	require.Equal(t, StateInit, m.State())

	m.FileStateTransit(EventFlushOrCompactionOutput)
	require.Equal(t, StateNormal, m.State())

	m.FileStateTransit(EventGCBegin)
	require.Equal(t, StateBeingGC, m.State())

	m.FileStateTransit(EventGCCompleted)
	require.Equal(t, StateNormal, m.State())

	m.FileStateTransit(EventDelete)
	require.Equal(t, StateObsolete, m.State())
}

func TestFileStateTransitRejectsInvalidEvent(t *testing.T) {
	m := NewFileMeta(1, 100)
	m.FileStateTransit(EventDelete) // Init -> Obsolete
	require.Panics(t, func() { m.FileStateTransit(EventGCBegin) })
}

func TestDbRestartIsIdempotent(t *testing.T) {
	m := NewFileMeta(1, 100)
	m.FileStateTransit(EventFlushOrCompactionOutput)
	for i := 0; i < 5; i++ {
		m.FileStateTransit(EventDbRestart)
		require.Equal(t, StateNormal, m.State())
	}

	m2 := NewFileMeta(2, 100)
	m2.FileStateTransit(EventFlushOrCompactionOutput)
	m2.FileStateTransit(EventGCBegin)
	for i := 0; i < 5; i++ {
		m2.FileStateTransit(EventDbRestart)
		require.Equal(t, StateBeingGC, m2.State())
	}
}

func TestFindFileNotFoundIsCorruption(t *testing.T) {
	s := New(0)
	_, err := s.FindFile(42)
	require.True(t, base.IsCorruption(err))
}

func TestMarkFileObsoleteAndDrain(t *testing.T) {
	s := New(0)
	m := NewFileMeta(1, 100)
	m.FileStateTransit(EventFlushOrCompactionOutput)
	s.AddBlobFile(m)

	s.MarkFileObsolete(m, 50)
	require.Equal(t, StateObsolete, m.State())

	_, err := s.FindFile(1)
	require.Error(t, err)

	require.Empty(t, s.GetObsoleteFiles(10))
	ready := s.GetObsoleteFiles(50)
	require.Equal(t, []uint64{1}, ready)
	require.Empty(t, s.GetObsoleteFiles(100))
}

func TestComputeGCScoreOrdersDescending(t *testing.T) {
	s := New(0)
	low := NewFileMeta(1, 100)
	low.DiscardableSize.Store(10)
	high := NewFileMeta(2, 100)
	high.DiscardableSize.Store(90)
	s.AddBlobFile(low)
	s.AddBlobFile(high)

	s.ComputeGCScore()
	scored := s.ScoredFiles()
	require.Len(t, scored, 2)
	require.Equal(t, uint64(2), scored[0].FileNumber)
	require.Equal(t, uint64(1), scored[1].FileNumber)
}

func TestMarkAllFilesForGC(t *testing.T) {
	s := New(0)
	m := NewFileMeta(1, 100)
	s.AddBlobFile(m)
	require.False(t, m.GCMark.Load())
	s.MarkAllFilesForGC()
	require.True(t, m.GCMark.Load())
}

func TestGetValidSizeNeverNegative(t *testing.T) {
	m := NewFileMeta(1, 100)
	m.DiscardableSize.Store(150)
	require.EqualValues(t, 0, m.GetValidSize())
	m.DiscardableSize.Store(40)
	require.EqualValues(t, 60, m.GetValidSize())
}
