package compress

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusfs/config"
	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/iobuf"
	"github.com/INLOpen/nexusfs/superblock"
)

// Test geometry: 4 KiB blocks, 64 KiB maximum encoded extent.
const (
	testBlockSectors  = 8
	testExtentSectors = 128
	testBlockBytes    = testBlockSectors * core.SectorSize
	testExtentBytes   = testExtentSectors * core.SectorSize
)

func newTestEngine(t *testing.T, defaultCodec string, store superblock.Store) *Engine {
	t.Helper()
	if store == nil {
		store = &superblock.MemStore{
			BlockSizeSectors:        testBlockSectors,
			MaxEncodedExtentSectors: testExtentSectors,
		}
	}
	cfg := config.DefaultConfig()
	cfg.Compression.Default = defaultCodec
	cfg.Logging.Output = "none"
	require.NoError(t, cfg.Validate())

	logger, err := cfg.SetupLogger()
	require.NoError(t, err)

	e, err := NewEngine(Options{Config: cfg, Superblock: store, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func fillCompressible(b *iobuf.Buffer) []byte {
	pattern := []byte("extent data repeats predictably across every block here; ")
	data := make([]byte, b.Size())
	for i := 0; i < len(data); i += len(pattern) {
		copy(data[i:], pattern)
	}
	b.CopyOut(data)
	return data
}

// extentFor describes a compress result the way the extent index would
// record it.
func extentFor(chosen core.CompressionType, dstLen, srcLen int) core.EncodedExtentView {
	return core.EncodedExtentView{
		UncompressedSize: core.BytesToSectors(srcLen),
		CompressedSize:   core.BytesToSectors(dstLen),
		LiveSize:         core.BytesToSectors(srcLen),
		Compression:      chosen,
	}
}

func TestCompressRoundTrip(t *testing.T) {
	for _, ct := range []core.CompressionType{core.CompressionLZ4, core.CompressionGzip, core.CompressionZstd} {
		t.Run(ct.String(), func(t *testing.T) {
			e := newTestEngine(t, "none", nil)
			require.NoError(t, e.EnsureCodec(ct))
			ctx := context.Background()

			src := iobuf.Alloc(32*1024, 4096)
			data := fillCompressible(src)
			dst := iobuf.Alloc(32*1024, 4096)

			chosen, dstLen, srcLen := e.Compress(ctx, dst, src, ct)
			require.Equal(t, ct, chosen)
			require.Greater(t, dstLen, 0)
			assert.Zero(t, dstLen%testBlockBytes, "output must be block aligned")
			assert.Less(t, dstLen, srcLen, "output must save at least a block")
			assert.Equal(t, 32*1024, src.Size(), "source window restored")
			assert.Equal(t, 32*1024, dst.Size(), "destination window restored")

			payload := iobuf.NewBufferBytes(dst.Bytes()[:dstLen])
			out := iobuf.Alloc(srcLen, 4096)
			require.NoError(t, e.Decompress(ctx, payload, out, extentFor(chosen, dstLen, srcLen)))
			assert.True(t, bytes.Equal(data[:srcLen], out.Bytes()))
		})
	}
}

func TestCompressRejects(t *testing.T) {
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	t.Run("One block or less stays uncompressed", func(t *testing.T) {
		src := iobuf.Alloc(testBlockBytes, 4096)
		fillCompressible(src)
		dst := iobuf.Alloc(testBlockBytes, 4096)

		chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionZstd)
		assert.Equal(t, core.CompressionNone, chosen)
		assert.Zero(t, dstLen)
		assert.Zero(t, srcLen)
	})

	t.Run("Single sector stays uncompressed", func(t *testing.T) {
		src := iobuf.Alloc(core.SectorSize, 4096)
		fillCompressible(src)
		dst := iobuf.Alloc(core.SectorSize, 4096)

		chosen, _, _ := e.Compress(ctx, dst, src, core.CompressionZstd)
		assert.Equal(t, core.CompressionNone, chosen)
	})

	t.Run("Saving less than a block is no saving", func(t *testing.T) {
		// Incompressible random data cannot shrink by a block.
		src := iobuf.Alloc(16*1024, 4096)
		noise := make([]byte, src.Size())
		rand.New(rand.NewSource(42)).Read(noise)
		src.CopyOut(noise)
		dst := iobuf.Alloc(16*1024, 4096)

		chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionZstd)
		assert.Equal(t, core.CompressionNone, chosen)
		assert.Zero(t, dstLen)
		assert.Zero(t, srcLen)
	})

	t.Run("Dormant codec is a caller defect", func(t *testing.T) {
		src := iobuf.Alloc(16*1024, 4096)
		fillCompressible(src)
		dst := iobuf.Alloc(16*1024, 4096)
		assert.Panics(t, func() { e.Compress(ctx, dst, src, core.CompressionLZ4) })
	})
}

func TestCompressClampsOversizedSource(t *testing.T) {
	e := newTestEngine(t, "lz4", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionLZ4))
	ctx := context.Background()

	// Twice the maximum encoded extent; only the first half may be consumed.
	src := iobuf.Alloc(2*testExtentBytes, 4096)
	data := fillCompressible(src)
	dst := iobuf.Alloc(2*testExtentBytes, 4096)

	chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionLZ4)
	require.Equal(t, core.CompressionLZ4, chosen)
	assert.LessOrEqual(t, srcLen, testExtentBytes)
	assert.LessOrEqual(t, dstLen, testExtentBytes)
	assert.Equal(t, 2*testExtentBytes, src.Size(), "caller's window restored after clamping")
	assert.Equal(t, 2*testExtentBytes, dst.Size())

	payload := iobuf.NewBufferBytes(dst.Bytes()[:dstLen])
	out := iobuf.Alloc(srcLen, 4096)
	require.NoError(t, e.Decompress(ctx, payload, out, extentFor(chosen, dstLen, srcLen)))
	assert.True(t, bytes.Equal(data[:srcLen], out.Bytes()))
}

func TestCompressFragmentedBuffers(t *testing.T) {
	// Fragments from separate allocations cannot merge, forcing the bounce
	// path on both sides.
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	frag := func(n int) iobuf.Fragment {
		return iobuf.Fragment{Page: make([]byte, n), Off: 0, Len: n}
	}
	src := iobuf.NewBuffer([]iobuf.Fragment{frag(16 * 1024), frag(16 * 1024)})
	data := fillCompressible(src)
	dst := iobuf.NewBuffer([]iobuf.Fragment{frag(16 * 1024), frag(16 * 1024)})

	chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionZstd)
	require.Equal(t, core.CompressionZstd, chosen)

	payload := iobuf.NewBuffer([]iobuf.Fragment{frag(dstLen / 2), frag(dstLen - dstLen/2)})
	payload.CopyOut(dst.Bytes()[:dstLen])

	out := iobuf.NewBuffer([]iobuf.Fragment{frag(srcLen / 2), frag(srcLen - srcLen/2)})
	require.NoError(t, e.Decompress(ctx, payload, out, extentFor(chosen, dstLen, srcLen)))
	assert.True(t, bytes.Equal(data[:srcLen], out.Bytes()))
}

func TestDecompressPartialWindow(t *testing.T) {
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	src := iobuf.Alloc(16*1024, 4096)
	data := fillCompressible(src)
	dst := iobuf.Alloc(16*1024, 4096)

	chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionZstd)
	require.Equal(t, core.CompressionZstd, chosen)
	require.Equal(t, 16*1024, srcLen)

	// Read 8 KiB starting 4 KiB into the decoded extent.
	ext := extentFor(chosen, dstLen, srcLen)
	ext.Offset = 8 // sectors
	payload := iobuf.NewBufferBytes(dst.Bytes()[:dstLen])
	out := iobuf.Alloc(8*1024, 4096)

	require.NoError(t, e.Decompress(ctx, payload, out, ext))
	assert.True(t, bytes.Equal(data[4096:4096+8*1024], out.Bytes()))
}

func TestDecompressRejectsOversizedExtent(t *testing.T) {
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	ext := core.EncodedExtentView{
		UncompressedSize: testExtentSectors * 2,
		CompressedSize:   testExtentSectors,
		LiveSize:         testExtentSectors * 2,
		Compression:      core.CompressionZstd,
	}
	payload := iobuf.Alloc(testExtentBytes, 4096)
	out := iobuf.Alloc(testExtentBytes, 4096)

	err := e.Decompress(ctx, payload, out, ext)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExtentTooBig)
	assert.True(t, core.IsRecoverable(err))
}

func TestDecompressCorruptPayload(t *testing.T) {
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	payload := iobuf.Alloc(testBlockBytes, 4096)
	junk := make([]byte, testBlockBytes)
	for i := range junk {
		junk[i] = byte(i)
	}
	payload.CopyOut(junk)

	out := iobuf.Alloc(2*testBlockBytes, 4096)
	ext := core.EncodedExtentView{
		UncompressedSize: 2 * testBlockSectors,
		CompressedSize:   testBlockSectors,
		LiveSize:         2 * testBlockSectors,
		Compression:      core.CompressionZstd,
	}
	err := e.Decompress(ctx, payload, out, ext)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDecompress)
}

func TestDecompressInPlace(t *testing.T) {
	e := newTestEngine(t, "lz4", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionLZ4))
	ctx := context.Background()

	orig := iobuf.Alloc(32*1024, 4096)
	data := fillCompressible(orig)
	dst := iobuf.Alloc(32*1024, 4096)

	chosen, dstLen, srcLen := e.Compress(ctx, dst, orig, core.CompressionLZ4)
	require.Equal(t, core.CompressionLZ4, chosen)

	// The rewrite path hands us the compressed payload in a buffer large
	// enough for the live window, plus the extent metadata.
	// The first 4 KiB and last 8 KiB of the decoded data are no longer
	// referenced; only the middle window stays live.
	ext := extentFor(chosen, dstLen, srcLen)
	ext.Offset = 8
	ext.LiveSize -= 2 * ext.Offset
	live := core.SectorsToBytes(ext.LiveSize)

	buf := iobuf.Alloc(srcLen, 4096)
	buf.CopyOut(dst.Bytes()[:dstLen])
	buf.SetSize(dstLen)

	require.NoError(t, e.DecompressInPlace(ctx, buf, &ext))

	assert.Equal(t, live, buf.Size(), "window is the live data")
	assert.True(t, bytes.Equal(data[4096:4096+live], buf.Bytes()))

	// Metadata now describes plain stored data.
	assert.Equal(t, core.CompressionNone, ext.Compression)
	assert.Equal(t, uint8(0), ext.Checksum)
	assert.Equal(t, ext.LiveSize, ext.UncompressedSize)
	assert.Equal(t, ext.LiveSize, ext.CompressedSize)
	assert.Zero(t, ext.Offset)
}

func TestEnsureCodec(t *testing.T) {
	t.Run("Activation flushes exactly once", func(t *testing.T) {
		store := &superblock.MemStore{
			BlockSizeSectors:        testBlockSectors,
			MaxEncodedExtentSectors: testExtentSectors,
		}
		e := newTestEngine(t, "none", store)
		require.False(t, e.CodecAvailable(core.CompressionLZ4))

		var g errgroup.Group
		for i := 0; i < 16; i++ {
			g.Go(func() error { return e.EnsureCodec(core.CompressionLZ4) })
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, 1, store.Flushes, "concurrent activation must flush once")
		assert.Equal(t, core.FeatureLZ4, store.Features())
		assert.True(t, e.CodecAvailable(core.CompressionLZ4))

		// Re-activation is a no-op.
		require.NoError(t, e.EnsureCodec(core.CompressionLZ4))
		assert.Equal(t, 1, store.Flushes)
	})

	t.Run("Flush failure keeps codec unavailable", func(t *testing.T) {
		store := &superblock.MemStore{
			BlockSizeSectors:        testBlockSectors,
			MaxEncodedExtentSectors: testExtentSectors,
			FlushErr:                assert.AnError,
		}
		e := newTestEngine(t, "none", store)

		err := e.EnsureCodec(core.CompressionZstd)
		require.Error(t, err)
		assert.False(t, e.CodecAvailable(core.CompressionZstd))
		assert.Zero(t, uint64(store.Features()), "superblock image rolled back")

		// The device recovers; activation succeeds on retry.
		store.FlushErr = nil
		require.NoError(t, e.EnsureCodec(core.CompressionZstd))
		assert.True(t, e.CodecAvailable(core.CompressionZstd))
		assert.Equal(t, core.FeatureZstd, store.Features())
	})

	t.Run("Legacy id activates the current codec", func(t *testing.T) {
		e := newTestEngine(t, "none", nil)
		require.NoError(t, e.EnsureCodec(core.CompressionLZ4Old))
		assert.True(t, e.CodecAvailable(core.CompressionLZ4))
	})

	t.Run("None needs no activation", func(t *testing.T) {
		e := newTestEngine(t, "none", nil)
		require.NoError(t, e.EnsureCodec(core.CompressionNone))
		assert.True(t, e.CodecAvailable(core.CompressionNone))
	})
}

func TestNewEngineRestoresRecordedCodecs(t *testing.T) {
	// A reopen after crash must be able to decode everything the feature
	// bitset says may exist, without any EnsureCodec call.
	store := &superblock.MemStore{
		BlockSizeSectors:        testBlockSectors,
		MaxEncodedExtentSectors: testExtentSectors,
		Bits:                    core.FeatureGzip,
	}
	e := newTestEngine(t, "none", store)
	ctx := context.Background()

	assert.True(t, e.CodecAvailable(core.CompressionGzip))

	src := iobuf.Alloc(16*1024, 4096)
	data := fillCompressible(src)
	dst := iobuf.Alloc(16*1024, 4096)

	chosen, dstLen, srcLen := e.Compress(ctx, dst, src, core.CompressionGzip)
	require.Equal(t, core.CompressionGzip, chosen)
	assert.Equal(t, 0, store.Flushes, "already-recorded codec flushes nothing")

	payload := iobuf.NewBufferBytes(dst.Bytes()[:dstLen])
	out := iobuf.Alloc(srcLen, 4096)
	require.NoError(t, e.Decompress(ctx, payload, out, extentFor(chosen, dstLen, srcLen)))
	assert.True(t, bytes.Equal(data[:srcLen], out.Bytes()))
}

func TestMetrics(t *testing.T) {
	e := newTestEngine(t, "zstd", nil)
	require.NoError(t, e.EnsureCodec(core.CompressionZstd))
	ctx := context.Background()

	src := iobuf.Alloc(16*1024, 4096)
	fillCompressible(src)
	dst := iobuf.Alloc(16*1024, 4096)
	e.Compress(ctx, dst, src, core.CompressionZstd)

	m := e.Metrics()
	ws, ok := m.Workspaces[core.CompressionZstd]
	require.True(t, ok)
	assert.Greater(t, ws.Hits, uint64(0))
}
