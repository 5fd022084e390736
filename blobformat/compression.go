package blobformat

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/internal/base"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec a blob file's header declares for all of
// its records (§6 "blob_file_compression").
type Compression uint8

const (
	NoCompression Compression = iota
	SnappyCompression
	LZ4Compression
	ZstdCompression
)

// String renders the codec the way options parsing and log lines expect.
func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case LZ4Compression:
		return "lz4"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// compress appends the compressed form of src to dst using c, returning the
// result. Every record is compressed with the file's codec; no size
// threshold skips compression for small records.
func compress(c Compression, dst, src []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return append(dst, src...), nil
	case SnappyCompression:
		return append(dst, snappy.Encode(nil, src)...), nil
	case LZ4Compression:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, base.IOErrorf("blobformat: lz4 compress: %v", err)
		}
		if err := w.Close(); err != nil {
			return nil, base.IOErrorf("blobformat: lz4 compress: %v", err)
		}
		return append(dst, buf.Bytes()...), nil
	case ZstdCompression:
		return zstdEncoder.EncodeAll(src, dst), nil
	default:
		return nil, base.CorruptionErrorf("blobformat: unknown compression codec %d", errors.Safe(c))
	}
}

// decompress returns the decompressed form of src, which was compressed
// with c. Decompression failure is reported as corruption, per §4.1.
func decompress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case SnappyCompression:
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, base.MarkCorruption(err)
		}
		return out, nil
	case LZ4Compression:
		r := lz4.NewReader(bytes.NewReader(src))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, base.MarkCorruption(err)
		}
		return out, nil
	case ZstdCompression:
		out, err := zstdDecoder.DecodeAll(src, nil)
		if err != nil {
			return nil, base.MarkCorruption(err)
		}
		return out, nil
	default:
		return nil, base.CorruptionErrorf("blobformat: unknown compression codec %d", errors.Safe(c))
	}
}
