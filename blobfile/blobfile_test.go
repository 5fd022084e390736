package blobfile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/stretchr/testify/require"
)

func buildFile(t *testing.T, fs harness.FS, name string, fileNumber uint64, c blobformat.Compression, records []blobformat.Record) ([]blobformat.Handle, FinishResult) {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	b, err := NewBuilder(f, fileNumber, c)
	require.NoError(t, err)

	handles := make([]blobformat.Handle, len(records))
	for i, rec := range records {
		h, err := b.Add(rec)
		require.NoError(t, err)
		handles[i] = h
	}
	res, err := b.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return handles, res
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	fs := harness.NewMemFS()
	records := []blobformat.Record{
		{Key: []byte("alpha"), Value: []byte("1")},
		{Key: []byte("beta"), Value: make([]byte, 8192)},
		{Key: []byte("gamma"), Value: []byte("some medium length value here")},
	}
	for i := range records[1].Value {
		records[1].Value[i] = byte(i)
	}

	handles, res := buildFile(t, fs, "000001.blob", 1, blobformat.SnappyCompression, records)
	require.EqualValues(t, len(records), res.NumRecords)

	f, err := fs.Open("000001.blob")
	require.NoError(t, err)
	r, err := Open(f, int64(res.FileSize))
	require.NoError(t, err)
	defer r.Close()

	for i, h := range handles {
		rec, err := r.Get(h)
		require.NoError(t, err)
		require.Equal(t, records[i].Key, rec.Key)
		require.Equal(t, records[i].Value, rec.Value)
	}
}

func TestBuilderCachePrefetcherRoundTrip(t *testing.T) {
	fs := harness.NewMemFS()
	records := make([]blobformat.Record, 50)
	for i := range records {
		records[i] = blobformat.Record{
			Key:   []byte(fmt.Sprintf("key-%04d", i)),
			Value: make([]byte, 100+i*7),
		}
	}
	handles, res := buildFile(t, fs, "000002.blob", 2, blobformat.NoCompression, records)

	cache, err := NewCache(fs, 4)
	require.NoError(t, err)

	pf, err := cache.NewPrefetcher("000002.blob", 2, int64(res.FileSize))
	require.NoError(t, err)
	defer pf.Close()
	for i, h := range handles {
		rec, err := pf.Get(h)
		require.NoError(t, err)
		require.Equal(t, records[i].Key, rec.Key)
		require.Equal(t, records[i].Value, rec.Value)
	}

	// Random-order reads through the cache also succeed.
	perm := rand.New(rand.NewSource(1)).Perm(len(handles))
	for _, i := range perm {
		rec, err := cache.Get("000002.blob", 2, int64(res.FileSize), handles[i])
		require.NoError(t, err)
		require.Equal(t, records[i].Value, rec.Value)
	}
}

func TestRecordsNeverStraddleBlockUnlessOversized(t *testing.T) {
	fs := harness.NewMemFS()
	rnd := rand.New(rand.NewSource(42))
	records := make([]blobformat.Record, 200)
	for i := range records {
		sz := rnd.Intn(500)
		records[i] = blobformat.Record{Key: []byte(fmt.Sprintf("k%d", i)), Value: make([]byte, sz)}
	}
	handles, _ := buildFile(t, fs, "000003.blob", 3, blobformat.NoCompression, records)

	for _, h := range handles {
		if h.Size+1+blobformat.BodyLenSize+blobformat.CRCSize > blobformat.BlockSize {
			continue // oversized records may legitimately straddle
		}
		frameStart := h.Offset - 1 - blobformat.BodyLenSize
		frameEnd := h.Offset + h.Size + blobformat.CRCSize
		startBlock := frameStart / blobformat.BlockSize
		endBlock := (frameEnd - 1) / blobformat.BlockSize
		require.Equal(t, startBlock, endBlock, "record at offset %d crosses a block boundary", h.Offset)
	}
}

func TestFileIteratorScansInOrder(t *testing.T) {
	fs := harness.NewMemFS()
	records := []blobformat.Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: make([]byte, 5000)},
		{Key: []byte("c"), Value: []byte("3")},
	}
	_, res := buildFile(t, fs, "000004.blob", 4, blobformat.LZ4Compression, records)

	f, err := fs.Open("000004.blob")
	require.NoError(t, err)
	r, err := Open(f, int64(res.FileSize))
	require.NoError(t, err)
	defer r.Close()

	it := NewIterator(r, 4, r.MetaIndexOffset())
	it.SeekToFirst()
	var got []blobformat.Record
	for it.Valid() {
		got = append(got, blobformat.Record{Key: append([]byte(nil), it.Key()...), Value: append([]byte(nil), it.Value()...)})
		it.Next()
	}
	require.NoError(t, it.Error())
	require.Equal(t, records, got)
}

func TestMergeIteratorOrdersByKeyThenNewestFile(t *testing.T) {
	fs := harness.NewMemFS()
	_, res1 := buildFile(t, fs, "f1.blob", 1, blobformat.NoCompression, []blobformat.Record{
		{Key: []byte("a"), Value: []byte("old-a")},
		{Key: []byte("c"), Value: []byte("old-c")},
	})
	_, res2 := buildFile(t, fs, "f2.blob", 2, blobformat.NoCompression, []blobformat.Record{
		{Key: []byte("a"), Value: []byte("new-a")},
		{Key: []byte("b"), Value: []byte("new-b")},
	})

	f1, err := fs.Open("f1.blob")
	require.NoError(t, err)
	r1, err := Open(f1, int64(res1.FileSize))
	require.NoError(t, err)
	it1 := NewIterator(r1, 1, r1.MetaIndexOffset())
	it1.SeekToFirst()

	f2, err := fs.Open("f2.blob")
	require.NoError(t, err)
	r2, err := Open(f2, int64(res2.FileSize))
	require.NoError(t, err)
	it2 := NewIterator(r2, 2, r2.MetaIndexOffset())
	it2.SeekToFirst()

	m := NewMergeIterator([]*Iterator{it1, it2})
	var gotKeys []string
	var gotFiles []uint64
	for m.Valid() {
		gotKeys = append(gotKeys, string(m.Key()))
		gotFiles = append(gotFiles, m.FileNumber())
		m.Next()
	}
	require.Equal(t, []string{"a", "a", "b", "c"}, gotKeys)
	require.Equal(t, []uint64{2, 1, 2, 1}, gotFiles)
}
