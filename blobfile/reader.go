package blobfile

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Reader provides random access to the records in a single blob file. It
// validates the header and footer once, at Open, and every subsequent Get
// is a direct ReadAt plus checksum verification.
type Reader struct {
	f      harness.File
	header blobformat.Header
	footer blobformat.Footer
	size   int64
}

// Open validates f's header and footer and returns a Reader serving
// Get calls against it. size must be the file's exact current length.
func Open(f harness.File, size int64) (*Reader, error) {
	if size < blobformat.HeaderLen+blobformat.FooterLen {
		return nil, base.CorruptionErrorf("blobfile: file too small (%d bytes)", errors.Safe(size))
	}

	hbuf := make([]byte, blobformat.HeaderLen)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		return nil, base.IOErrorf("blobfile: read header: %v", err)
	}
	header, err := blobformat.DecodeHeader(hbuf)
	if err != nil {
		return nil, err
	}

	fbuf := make([]byte, blobformat.FooterLen)
	if _, err := f.ReadAt(fbuf, size-blobformat.FooterLen); err != nil {
		return nil, base.IOErrorf("blobfile: read footer: %v", err)
	}
	footer, err := blobformat.DecodeFooter(fbuf)
	if err != nil {
		return nil, err
	}

	return &Reader{f: f, header: header, footer: footer, size: size}, nil
}

// Compression reports the codec every record in this file is stored with.
func (r *Reader) Compression() blobformat.Compression { return r.header.Compression }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// Get reads and decodes the record addressed by handle.
func (r *Reader) Get(handle blobformat.Handle) (blobformat.Record, error) {
	body := make([]byte, handle.Size+blobformat.CRCSize)
	if _, err := r.f.ReadAt(body, int64(handle.Offset)); err != nil {
		return blobformat.Record{}, base.IOErrorf("blobfile: read record at %d: %v", handle.Offset, err)
	}
	checksum := binary.LittleEndian.Uint32(body[handle.Size:])
	return blobformat.DecodeRecordBody(body[:handle.Size], r.header.Compression, &checksum)
}

// ReadAt exposes the underlying file to the prefetcher's read-ahead
// buffer and the iterator's sequential scan, which read raw bytes and
// decode and checksum each record themselves.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }

// Size returns the file's total length, including header and footer.
func (r *Reader) Size() int64 { return r.size }

// MetaIndexOffset returns the offset at which the record region ends and
// the meta index block (and then the footer) begins — the bound an
// Iterator scans up to.
func (r *Reader) MetaIndexOffset() uint64 { return r.footer.MetaIndexOffset }
