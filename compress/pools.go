package compress

import (
	"fmt"

	"github.com/INLOpen/nexusfs/compressors"
	"github.com/INLOpen/nexusfs/core"
)

// codecPoolSpec ties a feature bit to the codec whose workspaces it gates.
var codecPoolSpecs = []struct {
	feature core.FeatureFlag
	ctype   core.CompressionType
}{
	{core.FeatureLZ4, core.CompressionLZ4},
	{core.FeatureGzip, core.CompressionGzip},
	{core.FeatureZstd, core.CompressionZstd},
}

// compressInit creates the pools required by the given feature set, skipping
// anything already present. Idempotent, and all-or-nothing in effect: a
// construction failure leaves already-created pools in place but reports the
// error before any feature bit is published. Callers hold sbLock.
func (e *Engine) compressInit(features core.FeatureFlag) error {
	active := false
	for _, spec := range codecPoolSpecs {
		if features&spec.feature != 0 {
			active = true
		}
	}
	if !active {
		return nil
	}

	if e.bounceRead.Load() == nil {
		p, err := core.NewBytePool(e.cfg.BouncePoolBuffers, e.maxExtentBytes)
		if err != nil {
			return fmt.Errorf("compress: read bounce pool: %w", err)
		}
		e.bounceRead.Store(p)
	}
	if e.bounceWrite.Load() == nil {
		p, err := core.NewBytePool(e.cfg.BouncePoolBuffers, e.maxExtentBytes)
		if err != nil {
			return fmt.Errorf("compress: write bounce pool: %w", err)
		}
		e.bounceWrite.Store(p)
	}

	for _, spec := range codecPoolSpecs {
		if features&spec.feature == 0 {
			continue
		}
		slot := &e.workspacePools[spec.ctype]
		if slot.Load() != nil {
			continue
		}
		ctype := spec.ctype
		pool, err := core.NewPool(e.cfg.WorkspaceCount, func() (*compressors.Workspace, error) {
			return compressors.NewWorkspace(ctype, e.maxExtentBytes, e.cfg.ZstdLevel)
		})
		if err != nil {
			return fmt.Errorf("compress: %s workspace pool: %w", ctype, err)
		}
		slot.Store(pool)
		e.logger.Info("codec workspace pool created", "codec", ctype.String(), "count", e.cfg.WorkspaceCount)
	}

	if e.decompressPool.Load() == nil {
		pool, err := core.NewPool(e.cfg.WorkspaceCount, func() (*compressors.DecompressScratch, error) {
			return compressors.NewDecompressScratch(e.maxExtentBytes)
		})
		if err != nil {
			return fmt.Errorf("compress: decompress scratch pool: %w", err)
		}
		e.decompressPool.Store(pool)
	}
	return nil
}

// workspacePool returns the pool for a normalized codec, or nil when the
// codec has never been activated.
func (e *Engine) workspacePool(t core.CompressionType) *core.Pool[*compressors.Workspace] {
	core.Assertf(int(t) < numCompressionTypes, "compress: workspace lookup for type %d", byte(t))
	return e.workspacePools[t].Load()
}
