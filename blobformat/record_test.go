package blobformat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{Offset: 123456789, Size: 42}
	buf := h.EncodeTo(nil)
	got, n, err := DecodeHandle(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, h, got)
}

func TestIndexRoundTrip(t *testing.T) {
	idx := Index{FileNumber: 7, Handle: Handle{Offset: 4096, Size: 128}}
	buf := idx.EncodeTo(nil)
	require.True(t, IsBlobIndex(buf))
	got, err := DecodeIndex(buf)
	require.NoError(t, err)
	require.True(t, idx.Equal(got))
}

func TestIsBlobIndexRejectsInline(t *testing.T) {
	inline := EncodeInlineMarker(nil, []byte("hello"))
	require.False(t, IsBlobIndex(inline))
}

func TestRecordRoundTrip(t *testing.T) {
	for _, c := range []Compression{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression} {
		t.Run(c.String(), func(t *testing.T) {
			rec := Record{Key: []byte("hello"), Value: make([]byte, 1024)}
			for i := range rec.Value {
				rec.Value[i] = byte(i)
			}
			buf, bodyOffset, bodyLen, err := EncodeRecord(nil, rec, c)
			require.NoError(t, err)
			body := buf[bodyOffset : bodyOffset+bodyLen]
			checksum := binary.LittleEndian.Uint32(buf[bodyOffset+bodyLen:])
			got, err := DecodeRecordBody(body, c, &checksum)
			require.NoError(t, err)
			require.Equal(t, rec, got)
		})
	}
}

func TestDecodeRecordBodyRejectsCorruption(t *testing.T) {
	rec := Record{Key: []byte("k"), Value: []byte("v")}
	buf, bodyOffset, bodyLen, err := EncodeRecord(nil, rec, NoCompression)
	require.NoError(t, err)
	body := buf[bodyOffset : bodyOffset+bodyLen]
	bad := make([]byte, len(body))
	copy(bad, body)
	bad[0] ^= 0xff
	checksum := binary.LittleEndian.Uint32(buf[bodyOffset+bodyLen:])
	_, err = DecodeRecordBody(bad, NoCompression, &checksum)
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader(ZstdCompression)
	got, err := DecodeHeader(h.EncodeTo())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{MetaIndexOffset: 4096, MetaIndexSize: 64}
	got, err := DecodeFooter(f.EncodeTo())
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(0), AlignUp(0))
	require.Equal(t, uint64(BlockSize), AlignUp(1))
	require.Equal(t, uint64(BlockSize), AlignUp(BlockSize))
	require.Equal(t, uint64(2*BlockSize), AlignUp(BlockSize+1))
}
