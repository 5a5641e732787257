//go:build !linux

package sys

// Datasync flushes file data durably. Platforms without fdatasync fall
// back to a full sync.
func Datasync(h FileHandle) error {
	return h.Sync()
}
