package blobformat

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/internal/base"
	"github.com/cockroachdb/pebble-blob/internal/crc32c"
)

// headerMagic and footerMagic are distinct, per §4.1: "Header and footer
// magics differ". Both are 4 bytes so the fixed-size framing in Header and
// Footer lines up on word boundaries.
var (
	headerMagic = [4]byte{0xb1, 0x09, 0xb1, 0x0b} // "blob" leetspeak, arbitrary
	footerMagic = [4]byte{0xf0, 0x07, 0xe2, 0x1d}
)

const headerVersion1 = 1

// HeaderLen is the fixed size of the file header written once at offset 0.
const HeaderLen = 4 /* magic */ + 4 /* version */ + 1 /* compression */ + 3 /* reserved */

// Header is the fixed preamble of a blob file: magic, version, and the
// compression codec that governs every record's body (§4.1).
type Header struct {
	Version     uint32
	Compression Compression
}

// EncodeTo writes the header into a HeaderLen-byte buffer.
func (h Header) EncodeTo() []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:4], headerMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Compression)
	return buf
}

// DecodeHeader parses a HeaderLen-byte buffer produced by EncodeTo.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, base.CorruptionErrorf("blobformat: truncated file header")
	}
	if [4]byte(buf[0:4]) != headerMagic {
		return Header{}, base.CorruptionErrorf("blobformat: bad file header magic")
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != headerVersion1 {
		return Header{}, base.CorruptionErrorf("blobformat: unsupported file version %d", errors.Safe(version))
	}
	compression := Compression(buf[8])
	if compression > ZstdCompression {
		return Header{}, base.CorruptionErrorf("blobformat: unsupported compression id %d", errors.Safe(compression))
	}
	return Header{Version: version, Compression: compression}, nil
}

// NewHeader builds the header written at the start of every newly built
// blob file.
func NewHeader(c Compression) Header {
	return Header{Version: headerVersion1, Compression: c}
}

// FooterLen is the fixed length of the trailing footer: the meta index
// block's location, its checksum, and the footer's own magic. Per §4.1,
// the footer is located by seeking to file_size - FooterLen; the meta
// index block itself is variable-length and lives immediately before the
// footer, addressed by metaIndexOffset/metaIndexSize.
const FooterLen = 8 /* meta index offset */ + 8 /* meta index size */ + 4 /* checksum */ + 4 /* magic */

// Footer locates the meta index block appended just before it.
type Footer struct {
	MetaIndexOffset uint64
	MetaIndexSize   uint64
}

// EncodeTo writes the footer into a FooterLen-byte buffer.
func (f Footer) EncodeTo() []byte {
	buf := make([]byte, FooterLen)
	binary.LittleEndian.PutUint64(buf[0:8], f.MetaIndexOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.MetaIndexSize)
	checksum := crc32c.Checksum(buf[0:16])
	binary.LittleEndian.PutUint32(buf[16:20], checksum)
	copy(buf[20:24], footerMagic[:])
	return buf
}

// DecodeFooter parses a FooterLen-byte buffer produced by EncodeTo.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterLen {
		return Footer{}, base.CorruptionErrorf("blobformat: truncated footer")
	}
	if [4]byte(buf[20:24]) != footerMagic {
		return Footer{}, base.CorruptionErrorf("blobformat: bad footer magic")
	}
	checksum := binary.LittleEndian.Uint32(buf[16:20])
	if crc32c.Checksum(buf[0:16]) != checksum {
		return Footer{}, base.CorruptionErrorf("blobformat: footer checksum mismatch")
	}
	return Footer{
		MetaIndexOffset: binary.LittleEndian.Uint64(buf[0:8]),
		MetaIndexSize:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// BlockSize is the alignment unit for the 4 KiB record-placement policy
// (§4.2) and the unit the dig-hole job punches in (§4.9).
const BlockSize = 4096

// AlignUp rounds n up to the next multiple of BlockSize.
func AlignUp(n uint64) uint64 {
	return (n + BlockSize - 1) / BlockSize * BlockSize
}
