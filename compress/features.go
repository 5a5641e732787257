package compress

import (
	"fmt"

	"github.com/INLOpen/nexusfs/core"
)

// EnsureCodec makes a codec available for use, activating it on first use:
// pools are created, the feature bit is set in the superblock and flushed,
// and only after the flush succeeds does the bit become visible to the
// lock-free fast path. A failed flush leaves the codec unavailable and the
// superblock image unchanged. Safe for concurrent use; after data has been
// written with a codec, a crash can never leave the bit unrecorded.
func (e *Engine) EnsureCodec(t core.CompressionType) error {
	t = t.Normalize()
	if t == core.CompressionNone {
		return nil
	}
	f := core.FeatureForCompression(t)
	if core.FeatureFlag(e.features.Load())&f == f {
		return nil
	}

	e.sbLock.Lock()
	defer e.sbLock.Unlock()

	// Another caller may have finished activation while we waited.
	cached := core.FeatureFlag(e.features.Load())
	if cached&f == f {
		return nil
	}

	if err := e.compressInit(e.sb.Features() | f); err != nil {
		return err
	}

	prev := e.sb.Features()
	e.sb.SetFeatures(prev | f)
	if err := e.sb.Flush(); err != nil {
		e.sb.SetFeatures(prev)
		e.logger.Error("feature flush failed, codec stays unavailable", "codec", t.String(), "error", err)
		e.sink.ReportError("ensure_codec", err)
		return fmt.Errorf("compress: enabling %s: %w", t, err)
	}

	e.features.Store(uint64(cached | f))
	e.logger.Info("codec activated", "codec", t.String())
	return nil
}

// CodecAvailable reports whether a codec has completed activation.
func (e *Engine) CodecAvailable(t core.CompressionType) bool {
	t = t.Normalize()
	if t == core.CompressionNone {
		return true
	}
	f := core.FeatureForCompression(t)
	return core.FeatureFlag(e.features.Load())&f == f
}
