package compressors

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/nexusfs/core"
)

// zstdCodec implements the zstd family. The stored payload is a 4-byte
// little-endian length of the compressed frame followed by the frame
// itself; the prefix is written by this subsystem, not by the codec, and
// is what lets decode stop before the zero padding.
type zstdCodec struct{}

// zstdPrefixLen is the length prefix preceding every zstd frame on disk.
const zstdPrefixLen = 4

func (zstdCodec) Type() core.CompressionType { return core.CompressionZstd }

func (zstdCodec) Compress(ws *Workspace, dst, src []byte) (int, int) {
	out := ws.zstd.EncodeAll(src, ws.staging[:0])
	ws.staging = out[:0]
	if len(out)+zstdPrefixLen > len(dst) {
		return 0, 0
	}
	binary.LittleEndian.PutUint32(dst, uint32(len(out)))
	copy(dst[zstdPrefixLen:], out)
	return len(out) + zstdPrefixLen, 0
}

func (zstdCodec) Decompress(scratch *DecompressScratch, dst, src []byte) error {
	if len(src) < zstdPrefixLen {
		return fmt.Errorf("%w: zstd payload of %d bytes has no length prefix", core.ErrDecompress, len(src))
	}
	frameLen := int(binary.LittleEndian.Uint32(src))
	if frameLen > len(src)-zstdPrefixLen {
		return fmt.Errorf("%w: zstd frame length %d exceeds %d remaining bytes",
			core.ErrDecompress, frameLen, len(src)-zstdPrefixLen)
	}
	out, err := scratch.zstd.DecodeAll(src[zstdPrefixLen:zstdPrefixLen+frameLen], dst[:0])
	if err != nil {
		return fmt.Errorf("%w: zstd: %v", core.ErrDecompress, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: zstd produced %d of %d bytes", core.ErrDecompress, len(out), len(dst))
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}
