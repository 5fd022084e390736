package blobformat

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble-blob/internal/base"
	"github.com/cockroachdb/pebble-blob/internal/crc32c"
)

// Record is a (key, value) pair as stored in a blob file (§3 "BlobRecord").
type Record struct {
	Key   []byte
	Value []byte
}

// recordType is a constant tag folded into the record checksum, reserved
// for a future second record kind (e.g. tombstones written during
// dig-hole). Today every record is recordTypeValue.
const recordTypeValue = 1

// BodyLenSize is the fixed prefix preceding every record's body: a 4-byte
// length of the body as physically stored (i.e. post-compression).
const BodyLenSize = 4

// CRCSize is the fixed trailer following every record's body.
const CRCSize = 4

// EncodeRecord appends the on-disk frame for rec to dst, compressing the
// body with c (the file's declared codec). It returns the extended buffer,
// the offset within it where the body begins, and the body's stored
// length — the caller (the builder) derives the record's Handle from
// these two values.
func EncodeRecord(dst []byte, rec Record, c Compression) (buf []byte, bodyOffset int, bodyLen int, err error) {
	raw := make([]byte, 0, binary.MaxVarintLen64*2+len(rec.Key)+len(rec.Value))
	raw = binary.AppendUvarint(raw, uint64(len(rec.Key)))
	raw = append(raw, rec.Key...)
	raw = binary.AppendUvarint(raw, uint64(len(rec.Value)))
	raw = append(raw, rec.Value...)

	body, err := compress(c, nil, raw)
	if err != nil {
		return nil, 0, 0, err
	}

	checksum := crc32c.Checksum([]byte{recordTypeValue})
	checksum = crc32c.Update(checksum, raw)

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	bodyOffset = len(dst)
	dst = append(dst, body...)
	dst = binary.LittleEndian.AppendUint32(dst, checksum)
	return dst, bodyOffset, len(body), nil
}

// DecodeRecordBody reconstructs a Record from a body slice previously
// identified by a Handle (or sequential scanning), decompressing it with c
// and, if checksum is non-nil, validating it against the decompressed
// bytes before parsing.
func DecodeRecordBody(body []byte, c Compression, checksum *uint32) (Record, error) {
	raw, err := decompress(c, body)
	if err != nil {
		return Record{}, err
	}
	if checksum != nil && !verifyChecksum(raw, *checksum) {
		return Record{}, base.CorruptionErrorf("blobformat: record checksum mismatch")
	}
	klen, n := binary.Uvarint(raw)
	if n <= 0 || uint64(n)+klen > uint64(len(raw)) {
		return Record{}, base.CorruptionErrorf("blobformat: truncated record key length")
	}
	raw = raw[n:]
	key := raw[:klen]
	raw = raw[klen:]
	vlen, n := binary.Uvarint(raw)
	if n <= 0 || uint64(n)+vlen != uint64(len(raw)) {
		return Record{}, base.CorruptionErrorf("blobformat: truncated record value length")
	}
	value := raw[n:]
	return Record{Key: key, Value: value}, nil
}

// verifyChecksum reports whether checksum matches the record whose
// decompressed body is raw.
func verifyChecksum(raw []byte, checksum uint32) bool {
	want := crc32c.Checksum([]byte{recordTypeValue})
	want = crc32c.Update(want, raw)
	return want == checksum
}
