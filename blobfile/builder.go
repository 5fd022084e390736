// Package blobfile implements the on-disk blob file: an append-only
// writer, a random-access reader, a forward file iterator, a k-way merge
// iterator over several files, and a bounded cache of open readers.
package blobfile

import (
	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Every physical frame in a blob file opens with a one-byte tag so a
// forward scan can tell a real record from the zero filler the 4 KiB
// alignment policy leaves behind without first having to parse it as a
// record.
const (
	tagPadding byte = 0x00
	tagRecord  byte = 0x01
)

// Builder appends records to a single blob file. Errors are sticky: once
// an Add or Finish call fails, every subsequent Add is a no-op that
// returns the original error, and Finish returns it too.
type Builder struct {
	w           harness.File
	fileNumber  uint64
	compression blobformat.Compression
	offset      uint64 // bytes written so far, including the header
	err         error
	numRecords  int
}

// NewBuilder creates a Builder that writes to w, a freshly created file,
// tagging every record with compression c. The header is written
// immediately.
func NewBuilder(w harness.File, fileNumber uint64, c blobformat.Compression) (*Builder, error) {
	b := &Builder{w: w, fileNumber: fileNumber, compression: c}
	header := blobformat.NewHeader(c).EncodeTo()
	if _, err := w.Write(header); err != nil {
		b.err = base.IOErrorf("blobfile: write header: %v", err)
		return b, b.err
	}
	b.offset = uint64(len(header))
	return b, nil
}

// Error reports the first error encountered, if any.
func (b *Builder) Error() error { return b.err }

// Add encodes rec, applies the 4 KiB alignment policy (§4.2), writes the
// resulting frame, and returns the Handle addressing its body.
func (b *Builder) Add(rec blobformat.Record) (blobformat.Handle, error) {
	if b.err != nil {
		return blobformat.Handle{}, b.err
	}

	buf, bodyOffset, bodyLen, err := blobformat.EncodeRecord(nil, rec, b.compression)
	if err != nil {
		b.err = err
		return blobformat.Handle{}, b.err
	}
	frameLen := uint64(1 + len(buf)) // tag byte + bodyLen/body/crc

	recordStart := b.offset
	if frameLen <= blobformat.BlockSize {
		startBlock := recordStart / blobformat.BlockSize
		endBlock := (recordStart + frameLen - 1) / blobformat.BlockSize
		if startBlock != endBlock {
			aligned := blobformat.AlignUp(recordStart)
			if pad := aligned - recordStart; pad > 0 {
				filler := make([]byte, pad)
				filler[0] = tagPadding
				if _, err := b.w.Write(filler); err != nil {
					b.err = base.IOErrorf("blobfile: pad: %v", err)
					return blobformat.Handle{}, b.err
				}
				recordStart = aligned
			}
		}
	}

	if _, err := b.w.Write([]byte{tagRecord}); err != nil {
		b.err = base.IOErrorf("blobfile: write tag: %v", err)
		return blobformat.Handle{}, b.err
	}
	if _, err := b.w.Write(buf); err != nil {
		b.err = base.IOErrorf("blobfile: write record: %v", err)
		return blobformat.Handle{}, b.err
	}

	handle := blobformat.Handle{
		Offset: recordStart + 1 + uint64(bodyOffset),
		Size:   uint64(bodyLen),
	}
	b.offset = recordStart + 1 + uint64(len(buf))
	b.numRecords++
	return handle, nil
}

// NumRecords reports how many records have been successfully added.
func (b *Builder) NumRecords() int { return b.numRecords }

// Size reports the number of bytes written so far, including the header
// and any alignment padding. A rewrite loop rolls to a new output once
// this crosses the configured target size (§4.8 phase 2).
func (b *Builder) Size() uint64 { return b.offset }

// FinishResult summarizes a completed file.
type FinishResult struct {
	FileSize   uint64
	NumRecords int
}

// Finish writes an empty meta index block and the footer, syncs, and
// reports the file's exact final length — the precise byte count a
// Reader must be opened with. Callers that need the 4 KiB-rounded
// physical allocation size (the table builder shim's real_file_size,
// §4.10) round FileSize themselves; Finish can't do that rounding
// without padding past the footer, which would break footer location.
func (b *Builder) Finish() (FinishResult, error) {
	if b.err != nil {
		return FinishResult{}, b.err
	}

	metaIndexOffset := b.offset
	footer := blobformat.Footer{MetaIndexOffset: metaIndexOffset, MetaIndexSize: 0}
	if _, err := b.w.Write(footer.EncodeTo()); err != nil {
		b.err = base.IOErrorf("blobfile: write footer: %v", err)
		return FinishResult{}, b.err
	}
	b.offset += blobformat.FooterLen

	if err := b.w.Sync(); err != nil {
		b.err = base.IOErrorf("blobfile: sync: %v", err)
		return FinishResult{}, b.err
	}

	return FinishResult{
		FileSize:   b.offset,
		NumRecords: b.numRecords,
	}, nil
}

// Abandon marks the builder failed without writing a footer. The
// table-builder shim's Abandon and the GC job's cleanup of half-built
// outputs call it before removing the file.
func (b *Builder) Abandon() {
	if b.err == nil {
		b.err = base.IOErrorf("blobfile: abandoned")
	}
}
