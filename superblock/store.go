package superblock

import (
	"fmt"
	"os"

	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/sys"
)

// Store is the durable home of the feature bitset, reachable under the
// filesystem-wide configuration lock. Implementations are not internally
// synchronized: all mutation happens with that lock held.
type Store interface {
	// Geometry returns the durably recorded block size and maximum
	// encoded extent size, in sectors.
	Geometry() (blockSizeSectors, maxEncodedExtentSectors int)
	// Features returns the current bitset image.
	Features() core.FeatureFlag
	// SetFeatures replaces the bitset image. Not durable until Flush.
	SetFeatures(f core.FeatureFlag)
	// Flush synchronously persists the current image.
	Flush() error
}

// FileStore keeps the superblock in a dedicated file, rewritten in place
// and fdatasync'd on every flush.
type FileStore struct {
	sb *Superblock
	h  sys.FileHandle
}

var _ Store = (*FileStore)(nil)

// CreateFile formats a new superblock file.
func CreateFile(path string, sb *Superblock) (*FileStore, error) {
	h, err := sys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("superblock: create %s: %w", path, err)
	}
	s := &FileStore{sb: sb, h: h}
	if err := s.Flush(); err != nil {
		h.Close()
		return nil, err
	}
	return s, nil
}

// OpenFile opens and validates an existing superblock file.
func OpenFile(path string) (*FileStore, error) {
	h, err := sys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("superblock: open %s: %w", path, err)
	}
	var buf [Size]byte
	if _, err := h.ReadAt(buf[:], 0); err != nil {
		h.Close()
		return nil, fmt.Errorf("superblock: read %s: %w", path, err)
	}
	sb, err := Decode(buf[:])
	if err != nil {
		h.Close()
		return nil, err
	}
	return &FileStore{sb: sb, h: h}, nil
}

// Superblock returns the in-memory image.
func (s *FileStore) Superblock() *Superblock { return s.sb }

func (s *FileStore) Geometry() (int, int) {
	return int(s.sb.BlockSizeSectors), int(s.sb.MaxEncodedExtentSectors)
}

func (s *FileStore) Features() core.FeatureFlag { return s.sb.Features }

func (s *FileStore) SetFeatures(f core.FeatureFlag) { s.sb.Features = f }

func (s *FileStore) Flush() error {
	enc := s.sb.Encode()
	if _, err := s.h.WriteAt(enc[:], 0); err != nil {
		return fmt.Errorf("superblock: write: %w", err)
	}
	if err := sys.Datasync(s.h); err != nil {
		return fmt.Errorf("superblock: sync: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (s *FileStore) Close() error { return s.h.Close() }

// MemStore is an in-memory Store for embedding the subsystem without a
// backing device, and for tests exercising the activation protocol.
type MemStore struct {
	BlockSizeSectors        int
	MaxEncodedExtentSectors int
	Bits                    core.FeatureFlag
	FlushErr                error // returned by Flush when set
	Flushes                 int
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Geometry() (int, int) {
	return m.BlockSizeSectors, m.MaxEncodedExtentSectors
}

func (m *MemStore) Features() core.FeatureFlag { return m.Bits }

func (m *MemStore) SetFeatures(f core.FeatureFlag) { m.Bits = f }

func (m *MemStore) Flush() error {
	if m.FlushErr != nil {
		return m.FlushErr
	}
	m.Flushes++
	return nil
}
