// Package compress is the inline compression subsystem of the data path:
// it maps I/O buffers for codec access, runs the adaptive compress loop on
// the write path, dispatches decompression on the read path, and owns the
// scratch-memory pools gated by the durable feature bitset.
package compress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusfs/compressors"
	"github.com/INLOpen/nexusfs/config"
	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/superblock"
)

const numCompressionTypes = int(core.CompressionZstd) + 1

// Options configures an Engine.
type Options struct {
	// Config supplies tuning knobs (pool counts, budgets, default codec).
	// Geometry comes from the superblock, not from here.
	Config *config.Config
	// Superblock is the durable feature bitset and geometry record.
	Superblock superblock.Store
	Logger     *slog.Logger
	Tracer     trace.Tracer
	ErrorSink  core.ErrorSink
}

// Engine is one filesystem instance's compression subsystem. Methods are
// safe for concurrent use by independent worker threads; Close is not.
type Engine struct {
	cfg            config.CompressionConfig
	blockBytes     int
	maxExtentBytes int

	sb     superblock.Store
	logger *slog.Logger
	tracer trace.Tracer
	sink   core.ErrorSink

	// sbLock is the filesystem-wide configuration lock guarding the
	// feature bitset and pool creation. features caches the durably
	// flushed bits for the lock-free fast path.
	sbLock   sync.Mutex
	features atomic.Uint64

	bounceRead  atomic.Pointer[core.BytePool]
	bounceWrite atomic.Pointer[core.BytePool]
	bounceBytes atomic.Int64

	workspacePools [numCompressionTypes]atomic.Pointer[core.Pool[*compressors.Workspace]]
	decompressPool atomic.Pointer[core.Pool[*compressors.DecompressScratch]]
}

// NewEngine opens the subsystem for a filesystem instance. Pools for every
// codec the superblock already records, plus the configured default codec,
// are created up front: workspace sizes are a deterministic function of
// the durably recorded geometry, so a reopen re-derives the sizes the
// crashed process used.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Superblock == nil {
		return nil, fmt.Errorf("compress: superblock store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("compress")
	}
	if opts.ErrorSink == nil {
		opts.ErrorSink = core.NopErrorSink{}
	}

	blockSectors, maxSectors := opts.Superblock.Geometry()
	if !core.IsPowerOfTwo(blockSectors) || !core.IsPowerOfTwo(maxSectors) || maxSectors < blockSectors {
		return nil, fmt.Errorf("compress: invalid geometry block=%d max_extent=%d sectors", blockSectors, maxSectors)
	}

	e := &Engine{
		cfg:            opts.Config.Compression,
		blockBytes:     blockSectors * core.SectorSize,
		maxExtentBytes: maxSectors * core.SectorSize,
		sb:             opts.Superblock,
		logger:         opts.Logger.With("component", "compress"),
		tracer:         opts.Tracer,
		sink:           opts.ErrorSink,
	}

	want := e.sb.Features()
	if d, err := core.ParseCompression(e.cfg.Default); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	} else if d != core.CompressionNone {
		want |= core.FeatureForCompression(d)
	}

	e.sbLock.Lock()
	err := e.compressInit(want)
	e.sbLock.Unlock()
	if err != nil {
		return nil, err
	}

	// Only durably recorded bits are visible on the fast path; the
	// configured default becomes visible once its first use flushes it.
	e.features.Store(uint64(e.sb.Features()))

	e.logger.Info("compression subsystem ready",
		"block_bytes", e.blockBytes,
		"max_extent_bytes", e.maxExtentBytes,
		"features", uint64(e.sb.Features()))
	return e, nil
}

// BlockBytes returns the filesystem block size in bytes.
func (e *Engine) BlockBytes() int { return e.blockBytes }

// MaxEncodedExtentBytes returns the maximum encoded extent size in bytes.
func (e *Engine) MaxEncodedExtentBytes() int { return e.maxExtentBytes }

// Close tears down every pool. Callers must have quiesced the data path:
// Close must not run concurrently with any other method.
func (e *Engine) Close() error {
	e.sbLock.Lock()
	defer e.sbLock.Unlock()

	for i := range e.workspacePools {
		pool := e.workspacePools[i].Load()
		if pool == nil {
			continue
		}
		for j := 0; j < pool.Cap(); j++ {
			pool.Get().Close()
		}
		e.workspacePools[i].Store(nil)
	}
	if pool := e.decompressPool.Load(); pool != nil {
		for j := 0; j < pool.Cap(); j++ {
			pool.Get().Close()
		}
		e.decompressPool.Store(nil)
	}
	e.bounceRead.Store(nil)
	e.bounceWrite.Store(nil)
	return nil
}

// PoolMetrics is one pool's borrow counters.
type PoolMetrics struct {
	Hits  uint64
	Waits uint64
}

// Metrics is a point-in-time snapshot of pool activity.
type Metrics struct {
	BounceRead  PoolMetrics
	BounceWrite PoolMetrics
	Decompress  PoolMetrics
	Workspaces  map[core.CompressionType]PoolMetrics
}

// Metrics snapshots the subsystem's pool counters.
func (e *Engine) Metrics() Metrics {
	var m Metrics
	if p := e.bounceRead.Load(); p != nil {
		m.BounceRead.Hits, m.BounceRead.Waits = p.Metrics()
	}
	if p := e.bounceWrite.Load(); p != nil {
		m.BounceWrite.Hits, m.BounceWrite.Waits = p.Metrics()
	}
	if p := e.decompressPool.Load(); p != nil {
		m.Decompress.Hits, m.Decompress.Waits = p.Metrics()
	}
	m.Workspaces = make(map[core.CompressionType]PoolMetrics)
	for i := range e.workspacePools {
		if p := e.workspacePools[i].Load(); p != nil {
			var pm PoolMetrics
			pm.Hits, pm.Waits = p.Metrics()
			m.Workspaces[core.CompressionType(i)] = pm
		}
	}
	return m
}
