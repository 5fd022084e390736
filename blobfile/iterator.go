package blobfile

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Iterator is a forward-only scan over one blob file's records, reading
// the tag/bodyLen/body/crc frames Builder wrote and transparently skipping
// the zero-filler padding frames. It is not restartable: once Next
// reports done, the iterator must be discarded.
type Iterator struct {
	r           *Reader
	fileNumber  uint64
	end         uint64 // the footer's offset: scanning stops here
	offset      uint64
	valid       bool
	key         []byte
	value       []byte
	bodyOffset  uint64
	bodyLen     uint64
	err         error
}

// NewIterator returns an iterator over r, identified as fileNumber for
// GetBlobIndex.
func NewIterator(r *Reader, fileNumber uint64, metaIndexOffset uint64) *Iterator {
	return &Iterator{r: r, fileNumber: fileNumber, end: metaIndexOffset}
}

// SeekToFirst positions the iterator at the first record, if any.
func (it *Iterator) SeekToFirst() {
	it.offset = blobformat.HeaderLen
	it.err = nil
	it.advance()
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool { return it.valid }

// Error reports the first decoding or I/O error encountered, if any.
func (it *Iterator) Error() error { return it.err }

// Key returns the current record's key. Valid must be true.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current record's value. Valid must be true.
func (it *Iterator) Value() []byte { return it.value }

// GetBlobIndex synthesizes the Index a caller would store in the LSM to
// point back at the current record.
func (it *Iterator) GetBlobIndex() blobformat.Index {
	return blobformat.Index{
		FileNumber: it.fileNumber,
		Handle:     blobformat.Handle{Offset: it.bodyOffset, Size: it.bodyLen},
	}
}

// Next advances to the next record.
func (it *Iterator) Next() { it.advance() }

func (it *Iterator) advance() {
	it.valid = false
	for it.offset < it.end {
		tagBuf := [1]byte{}
		if _, err := it.r.ReadAt(tagBuf[:], int64(it.offset)); err != nil {
			it.err = base.IOErrorf("blobfile: read tag at %d: %v", it.offset, err)
			return
		}

		if tagBuf[0] == tagPadding {
			it.offset = blobformat.AlignUp(it.offset)
			continue
		}
		if tagBuf[0] != tagRecord {
			it.err = base.CorruptionErrorf("blobfile: unknown frame tag %d at offset %d", errors.Safe(tagBuf[0]), errors.Safe(it.offset))
			return
		}

		lenBuf := make([]byte, blobformat.BodyLenSize)
		if _, err := it.r.ReadAt(lenBuf, int64(it.offset+1)); err != nil {
			it.err = base.IOErrorf("blobfile: read body length at %d: %v", it.offset+1, err)
			return
		}
		bodyLen := uint64(binary.LittleEndian.Uint32(lenBuf))
		bodyOffset := it.offset + 1 + blobformat.BodyLenSize

		trailer := make([]byte, bodyLen+blobformat.CRCSize)
		if _, err := it.r.ReadAt(trailer, int64(bodyOffset)); err != nil {
			it.err = base.IOErrorf("blobfile: read record body at %d: %v", bodyOffset, err)
			return
		}
		checksum := binary.LittleEndian.Uint32(trailer[bodyLen:])
		rec, err := blobformat.DecodeRecordBody(trailer[:bodyLen], it.r.Compression(), &checksum)
		if err != nil {
			it.err = err
			return
		}

		it.key = rec.Key
		it.value = rec.Value
		it.bodyOffset = bodyOffset
		it.bodyLen = bodyLen
		it.offset = bodyOffset + bodyLen + blobformat.CRCSize
		it.valid = true
		return
	}
}
