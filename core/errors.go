package core

import (
	"errors"
	"fmt"
)

// Failures on the data path fall into two classes. I/O-class errors are
// returned to the caller, which discards the affected buffer and recovers
// (bad payloads, oversize foreign metadata, exhausted allocations).
// Invariant violations are caller defects (oversize requests, a codec id we
// wrote ourselves but no longer recognize, a missing pool) and panic at the
// violation site rather than propagate.
var (
	// ErrDecompress is returned when a compressed payload cannot be decoded
	// to exactly the recorded uncompressed length. The destination contents
	// are undefined and must be discarded as a whole.
	ErrDecompress = errors.New("decompression failed")

	// ErrExtentTooBig is returned when extent metadata records a size beyond
	// the filesystem's maximum encoded extent size.
	ErrExtentTooBig = errors.New("encoded extent exceeds maximum size")

	// ErrUnknownCompression is returned for codec ids this build does not
	// recognize in metadata of foreign origin.
	ErrUnknownCompression = errors.New("unknown compression type")

	// ErrPoolExhausted is returned when a pool cannot be populated during
	// codec activation.
	ErrPoolExhausted = errors.New("pool exhausted")
)

// IsRecoverable reports whether err is an I/O-class error the caller is
// expected to handle by discarding the buffer.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrDecompress) ||
		errors.Is(err, ErrExtentTooBig) ||
		errors.Is(err, ErrUnknownCompression) ||
		errors.Is(err, ErrPoolExhausted)
}

// ErrorSink receives data-path errors for filesystem-wide accounting
// (error counters, degraded-mode decisions). It must be safe for
// concurrent use.
type ErrorSink interface {
	ReportError(op string, err error)
}

// NopErrorSink discards all reports.
type NopErrorSink struct{}

func (NopErrorSink) ReportError(string, error) {}

// Assertf panics with a formatted message when cond is false. Used for the
// programming-invariant class only; never for recoverable conditions.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
