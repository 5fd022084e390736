// Package blobformat implements the on-disk encoding of blob records,
// handles, indices, and the blob file header/footer (§4.1).
package blobformat

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Handle is the byte location of a record's body within its file: the span
// written by the builder between the fixed record header and the trailing
// CRC (§3 "BlobHandle").
type Handle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint encoding of h to dst and returns the result.
func (h Handle) EncodeTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	dst = binary.AppendUvarint(dst, h.Size)
	return dst
}

// DecodeHandle decodes a Handle from the front of src, returning the handle
// and the number of bytes consumed.
func DecodeHandle(src []byte) (Handle, int, error) {
	offset, n1 := binary.Uvarint(src)
	if n1 <= 0 {
		return Handle{}, 0, base.CorruptionErrorf("blobformat: truncated handle offset")
	}
	size, n2 := binary.Uvarint(src[n1:])
	if n2 <= 0 {
		return Handle{}, 0, base.CorruptionErrorf("blobformat: truncated handle size")
	}
	return Handle{Offset: offset, Size: size}, n1 + n2, nil
}
