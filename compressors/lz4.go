package compressors

import (
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/INLOpen/nexusfs/core"
)

// lz4Codec implements the LZ4 block format. The legacy on-disk id is
// normalized away before dispatch; the payload format never changed.
type lz4Codec struct{}

func (lz4Codec) Type() core.CompressionType { return core.CompressionLZ4 }

func (lz4Codec) Compress(ws *Workspace, dst, src []byte) (int, int) {
	// Compress into the bound-sized staging area first: the block encoder
	// has no budget-limited entry point, and measuring the full encoding
	// lets an over-budget result become a source-prefix fit hint.
	n, err := ws.lz4.CompressBlock(src, ws.staging)
	if err != nil || n == 0 {
		return 0, 0
	}
	if n > len(dst) {
		return 0, len(src) * len(dst) / n
	}
	copy(dst, ws.staging[:n])
	return n, 0
}

func (lz4Codec) Decompress(_ *DecompressScratch, dst, src []byte) error {
	// The payload is zero-padded to the block size and the byte-accurate
	// compressed length is not recorded. The block decoder rejects
	// trailing bytes, so locate the true stream end: strip the zero tail,
	// then re-extend one byte at a time. A truncated stream always fails
	// with a short-buffer error, so the first decode producing the target
	// length is the real one.
	trimmed := len(src)
	for trimmed > 0 && src[trimmed-1] == 0 {
		trimmed--
	}
	if trimmed == 0 {
		return fmt.Errorf("%w: lz4 payload is all zeroes", core.ErrDecompress)
	}
	for n := trimmed; n <= len(src); n++ {
		m, err := lz4.UncompressBlock(src[:n], dst)
		if err == nil && m == len(dst) {
			return nil
		}
	}
	return fmt.Errorf("%w: lz4 block did not produce %d bytes", core.ErrDecompress, len(dst))
}
