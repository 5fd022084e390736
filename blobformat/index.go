package blobformat

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// valueKind is the leading byte of every value the LSM carries for a key
// externalized (or eligible for externalization) by this module. It makes
// the encoding self-delimiting: a reader can tell an index from an inline
// value without consulting the internal key's kind, which is required
// because the table builder shim (§4.10) must make that call itself.
type valueKind byte

const (
	kindInlineValue valueKind = 0
	kindBlobIndex   valueKind = 1
)

// Index is the value the LSM stores in place of an externalized record: a
// pointer to where the real (key, value) pair lives (§3 "BlobIndex").
type Index struct {
	FileNumber uint64
	Handle     Handle
}

// EncodeTo appends the self-delimiting encoding of idx to dst.
func (idx Index) EncodeTo(dst []byte) []byte {
	dst = append(dst, byte(kindBlobIndex))
	dst = binary.AppendUvarint(dst, idx.FileNumber)
	dst = idx.Handle.EncodeTo(dst)
	return dst
}

// Equal reports whether idx and other address the same file and handle.
func (idx Index) Equal(other Index) bool {
	return idx.FileNumber == other.FileNumber && idx.Handle == other.Handle
}

// DecodeIndex decodes an Index previously produced by EncodeTo. It returns
// an error if b does not carry the blob-index kind byte.
func DecodeIndex(b []byte) (Index, error) {
	if len(b) == 0 {
		return Index{}, base.CorruptionErrorf("blobformat: empty blob index")
	}
	if valueKind(b[0]) != kindBlobIndex {
		return Index{}, errors.Mark(
			base.CorruptionErrorf("blobformat: value is not a blob index (got %s)", base.RedactBytes(b)),
			base.ErrCorruption)
	}
	b = b[1:]
	fileNumber, n := binary.Uvarint(b)
	if n <= 0 {
		return Index{}, base.CorruptionErrorf("blobformat: truncated blob index file number")
	}
	b = b[n:]
	handle, _, err := DecodeHandle(b)
	if err != nil {
		return Index{}, err
	}
	return Index{FileNumber: fileNumber, Handle: handle}, nil
}

// IsBlobIndex reports whether b was produced by Index.EncodeTo, as opposed
// to an ordinary inline value. It never panics on arbitrary bytes.
func IsBlobIndex(b []byte) bool {
	return len(b) > 0 && valueKind(b[0]) == kindBlobIndex
}

// EncodeInlineMarker prefixes an inline value with the kindInlineValue tag.
// The table builder shim (§4.10) uses this in fallback mode to emit a
// value it read back from a blob file; a failed fallback read passes the
// blob index through unchanged instead.
func EncodeInlineMarker(dst, value []byte) []byte {
	dst = append(dst, byte(kindInlineValue))
	return append(dst, value...)
}
