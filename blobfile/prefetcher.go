package blobfile

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// prefetchWindow is the size of the read-ahead buffer, one alignment
// block larger than the minimum so a record sitting right at the buffer's
// edge still has its body pulled in by the next refill.
const prefetchWindow = 4 * blobformat.BlockSize

// recentWindow bounds how many distinct handles the prefetcher remembers
// for cyclic-access detection (§8 S1's repeated queries): a caller
// revisiting the same small set of handles out of offset order still
// benefits from the buffer instead of bypassing it every time.
const recentWindow = 8

// Prefetcher serves Get calls for a single blob file under the assumption
// that callers mostly ask for records in ascending offset order. It keeps
// a private read-ahead buffer; a Get that falls inside the buffer is
// served from memory, one that falls outside triggers a refill starting
// at the requested offset, and unrelated random Gets bypass the buffer entirely by
// falling through to the reader (§4.3).
type Prefetcher struct {
	r          *Reader
	bufStart   int64
	buf        []byte
	lastOffset int64

	recent     [recentWindow]uint64
	recentLen  int
	recentNext int

	// release, if set, drops the cache reference acquired on this
	// Prefetcher's behalf. Close calls it at most once.
	release func()
}

// NewPrefetcher returns a Prefetcher sharing r, the cache's already-open
// reader for this file.
func NewPrefetcher(r *Reader) *Prefetcher {
	return &Prefetcher{r: r, bufStart: -1}
}

// Close releases the cache reference this Prefetcher holds on its
// underlying reader, if it was constructed via Cache.NewPrefetcher. Safe
// to call on a Prefetcher with no cache backing, and safe to call more
// than once.
func (p *Prefetcher) Close() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// seenRecently reports whether handle was one of the last recentWindow
// handles requested, fingerprinting it with xxhash rather than keeping the
// handles themselves around.
func (p *Prefetcher) seenRecently(handle blobformat.Handle) bool {
	var enc [16]byte
	binary.LittleEndian.PutUint64(enc[0:8], handle.Offset)
	binary.LittleEndian.PutUint64(enc[8:16], handle.Size)
	sum := xxhash.Sum64(enc[:])

	for i := 0; i < p.recentLen; i++ {
		if p.recent[i] == sum {
			return true
		}
	}
	p.recent[p.recentNext] = sum
	p.recentNext = (p.recentNext + 1) % recentWindow
	if p.recentLen < recentWindow {
		p.recentLen++
	}
	return false
}

// Get reads and decodes the record at handle, using the read-ahead buffer
// when the request continues a sequential or recently-revisited pattern.
func (p *Prefetcher) Get(handle blobformat.Handle) (blobformat.Record, error) {
	need := int64(handle.Size) + blobformat.CRCSize
	start := int64(handle.Offset)
	end := start + need

	sequential := p.bufStart >= 0 && start >= p.lastOffset && start-p.lastOffset < blobformat.BlockSize
	repeat := p.seenRecently(handle)
	if !p.inBuffer(start, end) {
		if sequential || repeat || p.bufStart < 0 {
			if err := p.refill(start); err != nil {
				return blobformat.Record{}, err
			}
		} else {
			// Random access outside the window: bypass the buffer rather
			// than evict it for a one-off read.
			p.lastOffset = end
			return p.r.Get(handle)
		}
	}

	if !p.inBuffer(start, end) {
		// The record is larger than the window; fall back directly.
		p.lastOffset = end
		return p.r.Get(handle)
	}

	body := p.buf[start-p.bufStart : end-p.bufStart]
	checksum := binary.LittleEndian.Uint32(body[handle.Size:])
	p.lastOffset = end
	return blobformat.DecodeRecordBody(body[:handle.Size], p.r.Compression(), &checksum)
}

func (p *Prefetcher) inBuffer(start, end int64) bool {
	return p.bufStart >= 0 && start >= p.bufStart && end <= p.bufStart+int64(len(p.buf))
}

func (p *Prefetcher) refill(from int64) error {
	window := int64(prefetchWindow)
	if from+window > p.r.Size() {
		window = p.r.Size() - from
	}
	if window <= 0 {
		return base.CorruptionErrorf("blobfile: prefetch offset %d beyond file size %d", errors.Safe(from), errors.Safe(p.r.Size()))
	}
	buf := make([]byte, window)
	if _, err := p.r.ReadAt(buf, from); err != nil {
		return base.IOErrorf("blobfile: prefetch read at %d: %v", from, err)
	}
	p.bufStart = from
	p.buf = buf
	return nil
}
