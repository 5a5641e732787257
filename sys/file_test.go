package sys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failFile returns an error for every open, simulating a dead device.
type failFile struct{}

func (failFile) Create(string) (FileHandle, error) { return nil, os.ErrPermission }
func (failFile) OpenFile(string, int, os.FileMode) (FileHandle, error) {
	return nil, os.ErrPermission
}

func TestDefaultFileSwap(t *testing.T) {
	t.Cleanup(func() { SetDefaultFile(osFile{}) })

	path := filepath.Join(t.TempDir(), "data")
	h, err := Create(path)
	require.NoError(t, err)
	_, err = h.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, Datasync(h))
	require.NoError(t, h.Close())

	SetDefaultFile(failFile{})
	_, err = Create(path)
	assert.ErrorIs(t, err, os.ErrPermission)
	_, err = OpenFile(path, os.O_RDONLY, 0)
	assert.ErrorIs(t, err, os.ErrPermission)

	SetDefaultFile(osFile{})
	h, err = OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = h.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
	require.NoError(t, h.Close())
}
