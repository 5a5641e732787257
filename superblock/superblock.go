// Package superblock persists the filesystem-wide feature bitset and the
// geometry the compression subsystem derives its pool sizes from. Only the
// fields this subsystem owns are modeled; the full superblock belongs to
// the format layer.
package superblock

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/INLOpen/nexusfs/core"
)

const (
	// Magic identifies a superblock region ("NXFS").
	Magic uint32 = 0x4E584653
	// Version is the current layout version.
	Version uint16 = 1
	// Size is the fixed encoded size in bytes.
	Size = 64
)

// Superblock is the in-memory image of the durable region.
type Superblock struct {
	Version                 uint16
	BlockSizeSectors        uint32
	MaxEncodedExtentSectors uint32
	Features                core.FeatureFlag
	CreatedAt               int64 // UnixNano
}

// New builds a superblock for a fresh filesystem with the given geometry.
func New(blockSizeSectors, maxEncodedExtentSectors int) *Superblock {
	return &Superblock{
		Version:                 Version,
		BlockSizeSectors:        uint32(blockSizeSectors),
		MaxEncodedExtentSectors: uint32(maxEncodedExtentSectors),
		CreatedAt:               time.Now().UnixNano(),
	}
}

// Encode serializes the superblock into its fixed little-endian layout.
func (sb *Superblock) Encode() [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint32(b[0:], Magic)
	binary.LittleEndian.PutUint16(b[4:], sb.Version)
	binary.LittleEndian.PutUint32(b[8:], sb.BlockSizeSectors)
	binary.LittleEndian.PutUint32(b[12:], sb.MaxEncodedExtentSectors)
	binary.LittleEndian.PutUint64(b[16:], uint64(sb.Features))
	binary.LittleEndian.PutUint64(b[24:], uint64(sb.CreatedAt))
	return b
}

// Decode parses and validates an encoded superblock.
func Decode(b []byte) (*Superblock, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("superblock: %d bytes, need %d", len(b), Size)
	}
	if m := binary.LittleEndian.Uint32(b[0:]); m != Magic {
		return nil, fmt.Errorf("superblock: bad magic 0x%08x", m)
	}
	sb := &Superblock{
		Version:                 binary.LittleEndian.Uint16(b[4:]),
		BlockSizeSectors:        binary.LittleEndian.Uint32(b[8:]),
		MaxEncodedExtentSectors: binary.LittleEndian.Uint32(b[12:]),
		Features:                core.FeatureFlag(binary.LittleEndian.Uint64(b[16:])),
		CreatedAt:               int64(binary.LittleEndian.Uint64(b[24:])),
	}
	if sb.Version != Version {
		return nil, fmt.Errorf("superblock: unsupported version %d", sb.Version)
	}
	if !core.IsPowerOfTwo(int(sb.BlockSizeSectors)) ||
		!core.IsPowerOfTwo(int(sb.MaxEncodedExtentSectors)) ||
		sb.MaxEncodedExtentSectors < sb.BlockSizeSectors {
		return nil, fmt.Errorf("superblock: invalid geometry block=%d max_extent=%d",
			sb.BlockSizeSectors, sb.MaxEncodedExtentSectors)
	}
	return sb, nil
}
