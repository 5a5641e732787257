package compressors

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/INLOpen/nexusfs/core"
)

// deflateCodec implements the gzip family's on-disk format: a raw,
// headerless deflate stream.
type deflateCodec struct{}

func (deflateCodec) Type() core.CompressionType { return core.CompressionGzip }

// errBudget aborts a deflate that has outgrown its output budget.
var errBudget = errors.New("compression budget exceeded")

// cappedWriter writes into a fixed slice and fails once full.
type cappedWriter struct {
	buf []byte
	n   int
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		return 0, errBudget
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}

func (deflateCodec) Compress(ws *Workspace, dst, src []byte) (int, int) {
	cw := cappedWriter{buf: dst}
	ws.flate.Reset(&cw)
	if _, err := ws.flate.Write(src); err != nil {
		return 0, 0
	}
	if err := ws.flate.Close(); err != nil {
		return 0, 0
	}
	return cw.n, 0
}

func (deflateCodec) Decompress(scratch *DecompressScratch, dst, src []byte) error {
	scratch.src.Reset(src)
	if err := scratch.flate.(flate.Resetter).Reset(scratch.src, nil); err != nil {
		return fmt.Errorf("%w: deflate reset: %v", core.ErrDecompress, err)
	}
	if _, err := io.ReadFull(scratch.flate, dst); err != nil {
		return fmt.Errorf("%w: deflate inflate: %v", core.ErrDecompress, err)
	}
	// The stream must terminate exactly at the target length; more data
	// or a missing end-of-stream marker rejects the whole payload.
	var tail [1]byte
	if n, err := scratch.flate.Read(tail[:]); n != 0 || err != io.EOF {
		return fmt.Errorf("%w: deflate stream not terminated at %d bytes", core.ErrDecompress, len(dst))
	}
	return nil
}
