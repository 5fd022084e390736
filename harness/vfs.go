// Package harness stands in for the LSM engine and its environment: the
// external collaborators §1 places out of scope. It defines only the
// narrow interfaces the blob core consumes (§6) plus a default
// implementation and, for tests, an in-memory one — it is not a general
// purpose storage engine.
package harness

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cockroachdb/pebble-blob/internal/base"
)

// File is the handle the blob builder and reader operate on. Its shape
// mirrors pebble's vfs.File: a writer appends and syncs, a reader seeks
// and reads at arbitrary offsets.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	Sync() error
	Size() (int64, error)
}

// FS creates and opens blob files and the blob manifest. §1 places the
// file-system abstraction out of scope as an external collaborator; this
// interface is the narrow boundary the blob core actually calls through.
type FS interface {
	Create(name string) (File, error)
	Open(name string) (File, error)
	OpenForAppend(name string) (File, error)
	Remove(name string) error
	// PunchHole reclaims [offset, offset+length) inside name without
	// altering the file's logical size (§4.9). It returns
	// errors.ErrUnsupported if the underlying file system doesn't support
	// hole punching; callers must treat that as "skip, don't fail".
	PunchHole(name string, offset, length int64) error
}

// DefaultFS implements FS on top of the local file system using os.
var DefaultFS FS = osFS{}

type osFS struct{}

func (osFS) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, base.IOErrorf("harness: create %s: %v", name, err)
	}
	return osFile{f}, nil
}

func (osFS) Open(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, base.IOErrorf("harness: open %s: %v", name, err)
	}
	return osFile{f}, nil
}

func (osFS) OpenForAppend(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		return nil, base.IOErrorf("harness: open %s: %v", name, err)
	}
	return osFile{f}, nil
}

func (osFS) Remove(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return base.IOErrorf("harness: remove %s: %v", name, err)
	}
	return nil
}

// PunchHole deallocates [offset, offset+length) via fallocate(2) while
// preserving the file's apparent size (FALLOC_FL_KEEP_SIZE), the same
// Linux-specific call other storage engines in the ecosystem reach for to
// reclaim space in place. A file system that rejects the mode (ENOSYS,
// tmpfs, non-Linux) reports errors.ErrUnsupported so the dig-hole job can
// skip the file rather than fail the cycle.
func (osFS) PunchHole(name string, offset, length int64) error {
	f, err := os.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		return base.IOErrorf("harness: punch hole open %s: %v", name, err)
	}
	defer f.Close()

	err = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP) {
		return errors.ErrUnsupported
	}
	if err != nil {
		return base.IOErrorf("harness: punch hole %s [%d,%d): %v", name, offset, offset+length, err)
	}
	return nil
}

type osFile struct{ *os.File }

func (f osFile) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, base.IOErrorf("harness: stat: %v", err)
	}
	return fi.Size(), nil
}

// MemFS is an in-memory FS used by tests; it never touches the real
// filesystem. PunchHole zeroes the requested range so tests can assert on
// its effect directly, unlike the real fallocate-backed DefaultFS.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
}

// NewMemFS returns an empty in-memory FS.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFileData)}
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

func (fs *MemFS) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := &memFileData{}
	fs.files[name] = d
	return &memFile{data: d}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[name]
	if !ok {
		return nil, base.IOErrorf("harness: memfs: %s not found", name)
	}
	return &memFile{data: d}, nil
}

func (fs *MemFS) OpenForAppend(name string) (File, error) { return fs.Open(name) }

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, name)
	return nil
}

// PunchHole zeroes the requested range to simulate hole-punching for tests
// that want to observe the effect without relying on Linux fallocate.
func (fs *MemFS) PunchHole(name string, offset, length int64) error {
	fs.mu.Lock()
	d, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return base.IOErrorf("harness: memfs: %s not found", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + length
	if end > int64(len(d.data)) {
		end = int64(len(d.data))
	}
	for i := offset; i < end; i++ {
		d.data[i] = 0
	}
	return nil
}

// NoPunchFS wraps another FS and reports every PunchHole call as
// unsupported, exercising the dig-hole job's feature-detection skip path
// without needing a real filesystem that lacks fallocate support.
type NoPunchFS struct{ FS }

func (NoPunchFS) PunchHole(name string, offset, length int64) error {
	return errors.ErrUnsupported
}

type memFile struct {
	data   *memFileData
	offset int64
}

func (f *memFile) Read(p []byte) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if f.offset >= int64(len(f.data.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if off >= int64(len(f.data.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if f.offset < int64(len(f.data.data)) {
		n := copy(f.data.data[f.offset:], p)
		if n < len(p) {
			f.data.data = append(f.data.data, p[n:]...)
		}
	} else {
		if gap := f.offset - int64(len(f.data.data)); gap > 0 {
			f.data.data = append(f.data.data, make([]byte, gap)...)
		}
		f.data.data = append(f.data.data, p...)
	}
	f.offset += int64(len(p))
	return len(p), nil
}

func (f *memFile) Sync() error { return nil }
func (f *memFile) Close() error { return nil }
func (f *memFile) Size() (int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	return int64(len(f.data.data)), nil
}
