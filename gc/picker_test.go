package gc

import (
	"testing"

	"github.com/cockroachdb/pebble-blob/blobstorage"
	"github.com/cockroachdb/pebble-blob/config"
	"github.com/stretchr/testify/require"
)

func addFile(s *blobstorage.Storage, number, size, discardable uint64, beingGC bool) *blobstorage.FileMeta {
	m := blobstorage.NewFileMeta(number, size)
	m.DiscardableSize.Store(discardable)
	m.FileStateTransit(blobstorage.EventDbRestart)
	if beingGC {
		m.FileStateTransit(blobstorage.EventGCBegin)
	}
	s.AddBlobFile(m)
	return m
}

func TestPickerBasic(t *testing.T) {
	s := blobstorage.New(0)
	addFile(s, 1, 10, 0, false)
	addFile(s, 2, 100, 10, false)
	s.ComputeGCScore()

	opts := config.DefaultOptions()
	opts.MergeSmallFileThreshold = 10
	opts.FreeSpaceThreshold = 10
	opts.MinGCBatchSize = 0

	blobGC := Picker{}.Pick(s, opts)
	require.NotNil(t, blobGC)
	require.Equal(t, []uint64{1}, blobGC.GCFileNumbers())
	require.Equal(t, []uint64{2, 1}, blobGC.FSFileNumbers())
}

func TestPickerRespectsBeingGC(t *testing.T) {
	s := blobstorage.New(0)
	addFile(s, 1, 1, 0, true)
	s.ComputeGCScore()

	opts := config.DefaultOptions()
	opts.MinGCBatchSize = 0
	require.Nil(t, Picker{}.Pick(s, opts))

	addFile(s, 2, 1, 0, false)
	s.ComputeGCScore()
	blobGC := Picker{}.Pick(s, opts)
	require.NotNil(t, blobGC)
	require.Equal(t, []uint64{2}, blobGC.GCFileNumbers())
	require.Equal(t, []uint64{2}, blobGC.FSFileNumbers())
}

func TestPickerTriggerNextByGCJob(t *testing.T) {
	s := blobstorage.New(0)
	opts := config.DefaultOptions()
	opts.MaxGCBatchSize = 1 << 30
	opts.MinGCBatchSize = 512 << 20
	opts.MaxFSBatchSize = 0
	opts.MergeSmallFileThreshold = 10 << 20
	opts.FreeSpaceThreshold = 1 << 30
	const targetSize = uint64(256 << 20)
	for i := uint64(1); i < 41; i++ {
		addFile(s, i, targetSize, 246<<20, false)
	}
	s.ComputeGCScore()

	gcTimes := 0
	blobGC := Picker{}.Pick(s, opts)
	require.NotNil(t, blobGC)
	for blobGC != nil && blobGC.TriggerNext {
		gcTimes++
		require.Len(t, blobGC.GCInputs, 4)
		for _, fn := range blobGC.GCFileNumbers() {
			removeFile(s, fn)
		}
		s.ComputeGCScore()
		blobGC = Picker{}.Pick(s, opts)
	}
	require.Equal(t, 9, gcTimes)
	require.NotNil(t, blobGC)
	require.Len(t, blobGC.GCInputs, 4)
}

func TestPickerParallelPicksAreDisjoint(t *testing.T) {
	s := blobstorage.New(0)
	opts := config.DefaultOptions()
	opts.MaxGCBatchSize = 1 << 30
	opts.MinGCBatchSize = 512 << 20
	opts.MaxFSBatchSize = 0
	opts.MergeSmallFileThreshold = 10 << 20
	opts.FreeSpaceThreshold = 1 << 30
	const targetSize = uint64(256 << 20)
	for i := uint64(1); i < 9; i++ {
		addFile(s, i, targetSize, 246<<20, false)
	}
	s.ComputeGCScore()

	gc1 := Picker{}.Pick(s, opts)
	require.NotNil(t, gc1)
	require.True(t, gc1.TriggerNext)
	require.Len(t, gc1.GCInputs, 4)

	gc2 := Picker{}.Pick(s, opts)
	require.NotNil(t, gc2)
	require.False(t, gc2.TriggerNext)
	require.Len(t, gc2.GCInputs, 4)

	seen := make(map[uint64]bool)
	for _, fn := range gc1.GCFileNumbers() {
		seen[fn] = true
	}
	for _, fn := range gc2.GCFileNumbers() {
		require.False(t, seen[fn], "file %d picked twice", fn)
	}
}

func removeFile(s *blobstorage.Storage, fileNumber uint64) {
	m, err := s.FindFile(fileNumber)
	if err != nil {
		return
	}
	s.MarkFileObsolete(m, 0)
	s.GetObsoleteFiles(0)
}
