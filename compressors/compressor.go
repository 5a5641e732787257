// Package compressors implements the per-codec one-shot compress and
// decompress calls of the data path. Codecs are stateless; all scratch
// state lives in workspaces sized for the filesystem's maximum encoded
// extent and borrowed from pools for the duration of one call.
package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/INLOpen/nexusfs/core"
)

// Codec is one compression algorithm.
//
// Compress tries to fit src into dst, treating len(dst) as the budget.
// n > 0 means success: dst[:n] holds the encoding of all of src.
// n == 0 with hint > 0 means src did not fit but a prefix of roughly hint
// bytes would. n == 0 with hint == 0 means no fit and no hint.
//
// Decompress fills dst with exactly len(dst) bytes decoded from src, or
// fails as one unit with an error wrapping core.ErrDecompress; the
// destination contents are then undefined. src may carry zero padding
// beyond the encoded payload up to the next block boundary.
type Codec interface {
	Type() core.CompressionType
	Compress(ws *Workspace, dst, src []byte) (n, hint int)
	Decompress(scratch *DecompressScratch, dst, src []byte) error
}

// ForType returns the codec for a normalized compression type. Unknown ids
// yield core.ErrUnknownCompression so callers validating metadata of
// foreign origin can reject it as an I/O error.
func ForType(t core.CompressionType) (Codec, error) {
	switch t.Normalize() {
	case core.CompressionLZ4:
		return lz4Codec{}, nil
	case core.CompressionGzip:
		return deflateCodec{}, nil
	case core.CompressionZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownCompression, byte(t))
	}
}

// Workspace holds one codec's worst-case scratch state for compressing
// extents up to the configured maximum encoded extent size. A workspace
// serves one call at a time.
type Workspace struct {
	lz4     *lz4.Compressor
	flate   *flate.Writer
	zstd    *zstd.Encoder
	staging []byte
}

// NewWorkspace builds the scratch state for one codec. zstdLevel follows
// the config scale (0 default, 1 fastest .. 4 best).
func NewWorkspace(t core.CompressionType, maxExtentBytes, zstdLevel int) (*Workspace, error) {
	switch t.Normalize() {
	case core.CompressionLZ4:
		return &Workspace{
			lz4:     &lz4.Compressor{},
			staging: make([]byte, lz4.CompressBlockBound(maxExtentBytes)),
		}, nil
	case core.CompressionGzip:
		fw, err := flate.NewWriter(io.Discard, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("flate workspace: %w", err)
		}
		return &Workspace{flate: fw}, nil
	case core.CompressionZstd:
		level := zstd.SpeedDefault
		if zstdLevel != 0 {
			level = zstd.EncoderLevel(zstdLevel)
		}
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(level),
			zstd.WithEncoderConcurrency(1),
			zstd.WithLowerEncoderMem(true),
			zstd.WithWindowSize(windowSize(maxExtentBytes)),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd workspace: %w", err)
		}
		return &Workspace{
			zstd: enc,
			// EncodeAll appends; reserve the worst case up front so the
			// staging buffer is stable across calls.
			staging: make([]byte, 0, maxExtentBytes+maxExtentBytes>>8+64),
		}, nil
	default:
		return nil, fmt.Errorf("%w: no workspace for type %d", core.ErrUnknownCompression, byte(t))
	}
}

// Close releases encoder-internal resources. The workspace must not be
// used afterwards.
func (ws *Workspace) Close() {
	if ws.zstd != nil {
		_ = ws.zstd.Close()
	}
}

// windowSize clamps the zstd window to the extent size; a window larger
// than any input wastes encoder memory.
func windowSize(maxExtentBytes int) int {
	const minWindow = 1 << 10
	w := minWindow
	for w < maxExtentBytes && w < zstd.MaxWindowSize {
		w <<= 1
	}
	return w
}

// DecompressScratch is the read-side workspace, shared across codec
// families: a single buffer never runs two codecs concurrently, so one
// pool sized for the largest requirement serves them all.
type DecompressScratch struct {
	src   *bytes.Reader
	flate io.ReadCloser
	zstd  *zstd.Decoder
}

// NewDecompressScratch builds the shared read-side scratch state.
func NewDecompressScratch(maxExtentBytes int) (*DecompressScratch, error) {
	src := bytes.NewReader(nil)
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(uint64(maxExtentBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd scratch: %w", err)
	}
	return &DecompressScratch{
		src:   src,
		flate: flate.NewReader(src),
		zstd:  dec,
	}, nil
}

// Close releases decoder-internal resources.
func (s *DecompressScratch) Close() {
	s.zstd.Close()
	_ = s.flate.Close()
}
