// Package sys abstracts the handful of file operations the subsystem
// performs durably. The default implementation is swappable so tests can
// inject failing handles into the metadata-flush path.
package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// FileHandle is the subset of *os.File the superblock store needs.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Name() string
}

// File opens file handles. Implementations other than the OS-backed
// default exist for fault injection in tests.
type File interface {
	Create(name string) (FileHandle, error)
	OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error)
}

// fileWrapper is a stable concrete type for atomic.Value, which requires
// every stored value to have the same concrete type.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper

type osFile struct{}

func (osFile) Create(name string) (FileHandle, error) {
	return os.Create(name)
}

func (osFile) OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

func init() {
	defaultFile.Store(fileWrapper{f: osFile{}})
}

// SetDefaultFile swaps the File implementation used by the package-level
// helpers. Intended for tests; not safe to swap while files are in use.
func SetDefaultFile(f File) {
	defaultFile.Store(fileWrapper{f: f})
}

// Create opens a new file through the current default implementation.
func Create(name string) (FileHandle, error) {
	return defaultFile.Load().(fileWrapper).f.Create(name)
}

// OpenFile opens a file through the current default implementation.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return defaultFile.Load().(fileWrapper).f.OpenFile(name, flag, perm)
}
