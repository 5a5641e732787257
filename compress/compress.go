package compress

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/nexusfs/compressors"
	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/iobuf"
)

// Compress compresses a prefix of src into dst with the requested codec.
// It returns the codec actually recorded, the number of destination bytes
// produced (block-aligned, trailing padding zeroed) and the number of
// source bytes consumed. A return of (CompressionNone, 0, 0) means the data
// did not compress usefully and the caller should store it as-is.
//
// src larger than the maximum encoded extent is clamped; dst larger than
// src likewise. Both buffers' logical sizes are restored before returning,
// so callers observe their original windows regardless of clamping.
//
// The codec must have completed activation via EnsureCodec; requesting a
// dormant codec is a caller defect.
func (e *Engine) Compress(ctx context.Context, dst, src *iobuf.Buffer, t core.CompressionType) (core.CompressionType, int, int) {
	_, span := e.tracer.Start(ctx, "Engine.Compress", trace.WithAttributes(
		attribute.String("codec", t.String()),
		attribute.Int("src_bytes", src.Size()),
	))
	defer span.End()

	origDst, origSrc := dst.Size(), src.Size()
	defer func() {
		dst.SetSize(origDst)
		src.SetSize(origSrc)
	}()

	if src.Size() > e.maxExtentBytes {
		src.SetSize(e.maxExtentBytes)
	}
	if dst.Size() > src.Size() {
		dst.SetSize(src.Size())
	}

	chosen, dstLen, srcLen := e.compress(dst, src, t.Normalize())
	span.SetAttributes(
		attribute.String("chosen", chosen.String()),
		attribute.Int("dst_bytes", dstLen),
		attribute.Int("consumed_bytes", srcLen),
	)
	return chosen, dstLen, srcLen
}

// compress is the adaptive fitting loop: try to encode the current source
// window into the destination budget, and on failure shrink the window,
// guided by the codec's hint when it gives one and halving the overage
// otherwise, always rounding down to a block boundary. One block or less
// can never get smaller on disk, so that is the floor.
func (e *Engine) compress(dst, src *iobuf.Buffer, t core.CompressionType) (core.CompressionType, int, int) {
	if t == core.CompressionNone {
		return core.CompressionNone, 0, 0
	}
	codec, err := compressors.ForType(t)
	if err != nil {
		panic(err) // caller requested a codec this build does not know
	}
	pool := e.workspacePool(t)
	core.Assertf(pool != nil, "compress: %s requested before activation", t)

	if src.Size() <= e.blockBytes {
		return core.CompressionNone, 0, 0
	}

	dstB := e.mapOrBounce(dst, dst.Size(), iobuf.Write)
	defer e.release(dstB)
	srcB := e.mapOrBounce(src, src.Size(), iobuf.Read)
	defer e.release(srcB)

	ws := pool.Get()
	defer pool.Put(ws)

	srcLen, dstLen := src.Size(), dst.Size()
	fitted := false
	for srcLen > e.blockBytes {
		n, hint := codec.Compress(ws, dstB.data[:dstLen], srcB.data[:srcLen])
		if n > 0 {
			dstLen = n
			fitted = true
			break
		}
		if srcLen <= dstLen {
			break
		}
		if hint > 0 {
			core.Assertf(hint < srcLen, "compress: codec hint %d not below window %d", hint, srcLen)
			srcLen = hint
		} else {
			srcLen -= (srcLen - dstLen) / 2
		}
		srcLen = core.RoundDown(srcLen, e.blockBytes)
	}
	if !fitted {
		return core.CompressionNone, 0, 0
	}

	// Compression that saves less than a block saves nothing.
	if core.RoundUp(dstLen, e.blockBytes) >= srcLen {
		return core.CompressionNone, 0, 0
	}

	// Pad the tail block with zeroes; pooled bounce memory is dirty.
	padded := core.RoundUp(dstLen, e.blockBytes)
	core.Assertf(padded <= dst.Size(), "compress: padded output %d overruns destination window %d", padded, dst.Size())
	tail := dstB.data[dstLen:padded]
	for i := range tail {
		tail[i] = 0
	}
	dstLen = padded

	if dstB.kind == bounceHeap || dstB.kind == bouncePooled {
		dst.CopyOut(dstB.data[:dstLen])
	}

	core.Assertf(dstLen > 0 && dstLen <= dst.Size(), "compress: produced %d bytes into window of %d", dstLen, dst.Size())
	core.Assertf(srcLen > 0 && srcLen <= src.Size(), "compress: consumed %d bytes of window of %d", srcLen, src.Size())
	core.Assertf(dstLen%e.blockBytes == 0, "compress: output %d not block aligned", dstLen)
	core.Assertf(srcLen%e.blockBytes == 0, "compress: consumed %d not block aligned", srcLen)
	return t, dstLen, srcLen
}
