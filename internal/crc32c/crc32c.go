// Package crc32c computes the Castagnoli variant of CRC-32 used to checksum
// blob records and footers.
//
// No library in the dependency pack provides a CRC-32C implementation (the
// pack's checksum library, cespare/xxhash, computes xxHash, not CRC-32); the
// standard library's hash/crc32 already exposes the Castagnoli polynomial
// via crc32.MakeTable, which is what Pebble's own internal/crc package is
// built on, so reaching for a third-party package here would just wrap the
// same stdlib table in an extra layer.
package crc32c

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C of b.
func Checksum(b []byte) uint32 { return crc32.Checksum(b, table) }

// Update extends a running checksum with more data, mirroring
// hash/crc32.Update.
func Update(crc uint32, b []byte) uint32 { return crc32.Update(crc, table, b) }
