// Copyright 2025 The Pebble-Blob Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package base holds small types shared across the blob storage packages:
// error kinds, the logger interface, a comparer, and the process-wide
// shutdown flag.
package base

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Sentinel error kinds from the error handling design. Every error the core
// returns is marked with exactly one of these via errors.Mark, so callers
// can classify a failure with errors.Is without depending on message text.
var (
	// ErrCorruption marks bad magic, CRC, footer, or decoded index errors.
	ErrCorruption = errors.New("pebble-blob: corruption")
	// ErrIOError marks read/write/punch failures from the file system.
	ErrIOError = errors.New("pebble-blob: io error")
	// ErrNotFound marks LSM absence. It is a normal signal in DiscardEntry
	// but corruption in FindFile.
	ErrNotFound = errors.New("pebble-blob: not found")
	// ErrBusy marks an optimistic write callback rejection. Not an error in
	// the usual sense: GC job Phase 4 treats it as "drop this rewrite".
	ErrBusy = errors.New("pebble-blob: busy")
	// ErrAborted marks a column-family-dropped abort.
	ErrAborted = errors.New("pebble-blob: aborted")
	// ErrShutdownInProgress marks a job aborted by the shutdown signal.
	ErrShutdownInProgress = errors.New("pebble-blob: shutdown in progress")
)

// CorruptionErrorf formats and marks an ErrCorruption.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IOErrorf formats and marks an ErrIOError.
func IOErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrIOError)
}

// MarkCorruption wraps err, marking it as an ErrCorruption, unless err is
// nil.
func MarkCorruption(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrCorruption)
}

// previewLen bounds how much of a raw key or value a corruption message
// ever echoes, hex-encoded, so a huge value doesn't blow up log lines.
const previewLen = 16

// RedactBytes renders a short hex preview of b for embedding in a
// corruption message. The preview itself carries no redact.Safe marker, so
// it is redacted by default wherever the resulting error is logged or
// reported with redaction on; only the byte count is ever safe to surface
// unconditionally.
func RedactBytes(b []byte) redact.RedactableString {
	preview := b
	if len(preview) > previewLen {
		preview = preview[:previewLen]
		return redact.Sprintf("%x...(%d bytes)", preview, errors.Safe(len(b)))
	}
	return redact.Sprintf("%x(%d bytes)", preview, errors.Safe(len(b)))
}

// IsCorruption reports whether err is (or wraps) ErrCorruption.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBusy reports whether err is (or wraps) ErrBusy.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsAborted reports whether err is (or wraps) ErrAborted.
func IsAborted(err error) bool { return errors.Is(err, ErrAborted) }

// IsShutdownInProgress reports whether err is (or wraps) ErrShutdownInProgress.
func IsShutdownInProgress(err error) bool { return errors.Is(err, ErrShutdownInProgress) }
