package base

import "bytes"

// Compare orders user keys. The merge iterator (§4.3) and the GC inventory
// both need a single, stable notion of key order; this module does not
// support custom comparers because the blob area never interprets key
// bytes beyond ordering them, unlike the surrounding LSM.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// Equal reports whether a and b are the same user key.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
