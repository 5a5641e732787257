//go:build linux

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// Datasync flushes file data and the metadata needed to read it back,
// skipping the timestamp updates a full fsync would also write.
func Datasync(h FileHandle) error {
	if f, ok := h.(*os.File); ok {
		return unix.Fdatasync(int(f.Fd()))
	}
	return h.Sync()
}
