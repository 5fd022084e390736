package tablebuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/pebble-blob/blobfile"
	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/blobstorage"
	"github.com/cockroachdb/pebble-blob/config"
	"github.com/cockroachdb/pebble-blob/harness"
)

type fixture struct {
	fs      *harness.MemFS
	lsm     *harness.FakeLSM
	cf      *harness.FakeCF
	storage *blobstorage.Storage
	cache   *blobfile.Cache
	opts    config.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := harness.NewMemFS()
	cache, err := blobfile.NewCache(fs, 8)
	require.NoError(t, err)
	return &fixture{
		fs:      fs,
		lsm:     harness.NewFakeLSM(),
		cf:      harness.NewFakeCF(0, "default"),
		storage: blobstorage.New(0),
		cache:   cache,
		opts:    config.DefaultOptions(),
	}
}

func (f *fixture) newShim() *Shim {
	return &Shim{
		Dirname:     "",
		Storage:     f.storage,
		Cache:       f.cache,
		FileManager: f.lsm,
		FS:          f.fs,
		CF:          f.cf,
		Opts:        f.opts,
	}
}

func TestShimExternalizesLargeInlineValues(t *testing.T) {
	f := newFixture(t)
	f.opts.MinBlobSize = 8
	s := f.newShim()

	out, err := s.Add([]byte("k1"), []byte("short"))
	require.NoError(t, err)
	require.Equal(t, []byte("short"), out) // below MinBlobSize: unchanged

	out, err = s.Add([]byte("k2"), []byte("a value long enough to externalize"))
	require.NoError(t, err)
	require.True(t, blobformat.IsBlobIndex(out))

	res, err := s.Finish()
	require.NoError(t, err)
	require.True(t, res.HasFile)
	require.EqualValues(t, 1, res.NumRecords)
	require.True(t, f.lsm.IsFinished(res.FileNumber))

	meta, err := f.storage.FindFile(res.FileNumber)
	require.NoError(t, err)
	require.Equal(t, blobstorage.StateNormal, meta.State())

	idx, err := blobformat.DecodeIndex(out)
	require.NoError(t, err)
	rec, err := f.cache.Get(blobfile.FileName(s.Dirname, idx.FileNumber), idx.FileNumber, int64(meta.FileSize), idx.Handle)
	require.NoError(t, err)
	require.Equal(t, []byte("a value long enough to externalize"), rec.Value)
}

func TestShimPassesThroughInNormalModeBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.opts.MinBlobSize = 1 << 20
	s := f.newShim()

	out, err := s.Add([]byte("k"), []byte("small"))
	require.NoError(t, err)
	require.Equal(t, []byte("small"), out)

	res, err := s.Finish()
	require.NoError(t, err)
	require.False(t, res.HasFile)
}

func TestShimFallbackModeInlinesBlobIndex(t *testing.T) {
	f := newFixture(t)
	f.opts.MinBlobSize = 1
	producer := f.newShim()

	out, err := producer.Add([]byte("k"), []byte("externalized value"))
	require.NoError(t, err)
	res, err := producer.Finish()
	require.NoError(t, err)
	require.True(t, res.HasFile)

	f.opts.BlobRunMode = config.RunModeFallback
	s := f.newShim()
	inlined, err := s.Add([]byte("k"), out)
	require.NoError(t, err)
	require.False(t, blobformat.IsBlobIndex(inlined))

	value, isIdx := stripInlineMarker(t, inlined)
	require.False(t, isIdx)
	require.Equal(t, []byte("externalized value"), value)
}

func TestShimFallbackDowngradesReadFailureToPassThrough(t *testing.T) {
	f := newFixture(t)
	f.opts.BlobRunMode = config.RunModeFallback
	s := f.newShim()

	idx := blobformat.Index{FileNumber: 999, Handle: blobformat.Handle{Offset: 0, Size: 4}}
	value := idx.EncodeTo(nil)

	out, err := s.Add([]byte("k"), value)
	require.NoError(t, err)
	require.Equal(t, value, out)
}

func TestShimAbandonRemovesTentativeFile(t *testing.T) {
	f := newFixture(t)
	f.opts.MinBlobSize = 1
	s := f.newShim()

	_, err := s.Add([]byte("k"), []byte("a value worth externalizing"))
	require.NoError(t, err)
	require.NotZero(t, s.fileNumber)

	s.Abandon()
	_, err = f.fs.Open(blobfile.FileName(s.Dirname, s.fileNumber))
	require.Error(t, err)
}

// stripInlineMarker decodes the self-delimiting inline-value encoding
// EncodeInlineMarker produces, returning the underlying bytes.
func stripInlineMarker(t *testing.T, b []byte) (value []byte, isIndex bool) {
	t.Helper()
	require.False(t, blobformat.IsBlobIndex(b))
	require.NotEmpty(t, b)
	return b[1:], false
}
