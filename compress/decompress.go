package compress

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/nexusfs/compressors"
	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/iobuf"
)

// uncompress decodes src into dstData, which must be sized to exactly the
// extent's recorded uncompressed length. Decoding is all-or-nothing; on
// error dstData is undefined.
func (e *Engine) uncompress(src *iobuf.Buffer, dstData []byte, ext core.EncodedExtentView) error {
	t := ext.Compression.Normalize()
	codec, err := compressors.ForType(t)
	if err != nil {
		// We wrote this metadata; an unknown id here is corruption of a
		// kind validation should have caught long before the data path.
		panic(fmt.Sprintf("compress: decoding extent with %v", err))
	}

	srcB := e.mapOrBounce(src, src.Size(), iobuf.Read)
	defer e.release(srcB)

	var scratch *compressors.DecompressScratch
	if t != core.CompressionLZ4 {
		pool := e.decompressPool.Load()
		core.Assertf(pool != nil, "compress: decompress scratch pool not initialized")
		scratch = pool.Get()
		defer pool.Put(scratch)
	}
	return codec.Decompress(scratch, dstData, srcB.data)
}

// Decompress decodes an encoded extent from src into dst. dst receives the
// live window of the decoded data: when dst is sized to the full
// uncompressed length it is filled directly, otherwise the extent is
// decoded to a bounce buffer and the window starting at the extent's
// offset is copied out. Failures are I/O-class: the caller discards dst
// and recovers.
func (e *Engine) Decompress(ctx context.Context, src, dst *iobuf.Buffer, ext core.EncodedExtentView) error {
	_, span := e.tracer.Start(ctx, "Engine.Decompress", trace.WithAttributes(
		attribute.String("codec", ext.Compression.String()),
		attribute.Int("compressed_bytes", ext.CompressedBytes()),
		attribute.Int("uncompressed_bytes", ext.UncompressedBytes()),
	))
	defer span.End()

	if err := e.checkExtentSize(ext); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extent too big")
		e.sink.ReportError("decompress", err)
		return err
	}

	dstLen := ext.UncompressedBytes()
	core.Assertf(ext.OffsetBytes()+dst.Size() <= dstLen,
		"compress: window [%d,%d) outside decoded extent of %d bytes",
		ext.OffsetBytes(), ext.OffsetBytes()+dst.Size(), dstLen)

	var dstB bounceBuf
	if dst.Size() == dstLen {
		dstB = e.mapOrBounce(dst, dstLen, iobuf.Write)
	} else {
		dstB = e.bounceAlloc(dstLen, iobuf.Write)
	}
	defer e.release(dstB)

	if err := e.uncompress(src, dstB.data, ext); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		e.logger.Warn("extent decode failed", "codec", ext.Compression.String(), "error", err)
		e.sink.ReportError("decompress", err)
		return err
	}

	if dstB.kind == bounceHeap || dstB.kind == bouncePooled {
		dst.CopyOut(dstB.data[ext.OffsetBytes() : ext.OffsetBytes()+dst.Size()])
	}
	return nil
}

// DecompressInPlace decodes an extent back into the buffer that carried its
// compressed payload, for rewriting existing data during copying garbage
// collection. The buffer must own its pages and have capacity for the live
// window. On success the buffer window is the live data and ext describes
// the extent as now-uncompressed; the caller persists the rewritten
// metadata.
func (e *Engine) DecompressInPlace(ctx context.Context, buf *iobuf.Buffer, ext *core.EncodedExtentView) error {
	_, span := e.tracer.Start(ctx, "Engine.DecompressInPlace", trace.WithAttributes(
		attribute.String("codec", ext.Compression.String()),
		attribute.Int("live_bytes", ext.LiveBytes()),
	))
	defer span.End()

	core.Assertf(buf.Owned(), "compress: in-place decompress of a borrowed buffer")
	core.Assertf(buf.Capacity() >= ext.LiveBytes(),
		"compress: buffer capacity %d below live window %d", buf.Capacity(), ext.LiveBytes())

	if err := e.checkExtentSize(*ext); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extent too big")
		e.logger.Error("error rewriting existing data: extent too big", "error", err)
		e.sink.ReportError("decompress_inplace", err)
		return err
	}

	dstLen := ext.UncompressedBytes()
	b := e.bounceAlloc(dstLen, iobuf.Write)
	defer e.release(b)

	if err := e.uncompress(buf, b.data, *ext); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		e.logger.Error("error rewriting existing data", "codec", ext.Compression.String(), "error", err)
		e.sink.ReportError("decompress_inplace", err)
		return err
	}

	buf.SetSize(ext.LiveBytes())
	buf.CopyOut(b.data[ext.OffsetBytes() : ext.OffsetBytes()+ext.LiveBytes()])
	ext.SetUncompressed()
	return nil
}

// checkExtentSize rejects metadata recording sizes beyond the geometry
// bound. Foreign metadata can carry anything; this is the recoverable
// validation, not an invariant.
func (e *Engine) checkExtentSize(ext core.EncodedExtentView) error {
	maxSectors := uint32(e.maxExtentBytes / core.SectorSize)
	if ext.UncompressedSize > maxSectors || ext.CompressedSize > maxSectors {
		return fmt.Errorf("%w: uncompressed=%d compressed=%d max=%d sectors",
			core.ErrExtentTooBig, ext.UncompressedSize, ext.CompressedSize, maxSectors)
	}
	return nil
}
