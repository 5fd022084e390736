package harness

import (
	"io"
	"testing"

	"github.com/cockroachdb/pebble-blob/internal/base"
	"github.com/stretchr/testify/require"
)

func TestMemFSWriteReadRoundTrip(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("000001.blob")
	require.NoError(t, err)

	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 11, size)

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	r, err := fs.Open("000001.blob")
	require.NoError(t, err)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(all))
}

func TestMemFSPunchHoleZeroesRange(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("x")
	require.NoError(t, err)
	_, err = f.Write([]byte("aaaaaaaaaa"))
	require.NoError(t, err)

	require.NoError(t, fs.PunchHole("x", 2, 4))

	buf := make([]byte, 10)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("aa\x00\x00\x00\x00aaaa"), buf)
}

func TestFakeLSMWriteWithCallbackBusyOnMismatch(t *testing.T) {
	l := NewFakeLSM()
	cf := NewFakeCF(0, "default")
	l.Put(cf, []byte("k"), []byte("old-index"))

	cb := &checkingCallback{expect: []byte("stale-index")}
	err := l.WriteWithCallback(cf, []byte("k"), []byte("new-index"), cb, WriteOptions{LowPri: true})
	require.True(t, base.IsBusy(err))

	v, err := l.Get(cf, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "old-index", string(v))
}

func TestFakeLSMWriteWithCallbackSucceedsOnMatch(t *testing.T) {
	l := NewFakeLSM()
	cf := NewFakeCF(0, "default")
	l.Put(cf, []byte("k"), []byte("old-index"))

	cb := &checkingCallback{expect: []byte("old-index")}
	err := l.WriteWithCallback(cf, []byte("k"), []byte("new-index"), cb, WriteOptions{})
	require.NoError(t, err)

	v, err := l.Get(cf, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "new-index", string(v))
}

func TestFakeLSMDroppedColumnFamily(t *testing.T) {
	l := NewFakeLSM()
	cf := NewFakeCF(0, "default")
	cf.Drop()

	err := l.WriteWithCallback(cf, []byte("k"), []byte("v"), nil, WriteOptions{})
	require.True(t, base.IsAborted(err))

	err = l.WriteWithCallback(cf, []byte("k"), []byte("v"), nil, WriteOptions{IgnoreMissingColumnFamilies: true})
	require.NoError(t, err)
}

type checkingCallback struct{ expect []byte }

func (c *checkingCallback) Callback(current []byte) error {
	if string(current) != string(c.expect) {
		return base.ErrBusy
	}
	return nil
}

func (c *checkingCallback) AllowWriteBatching() bool { return false }
