// Package iobuf models data-path I/O buffers as sequences of page
// fragments, the shape in which the write and read paths hand extents to
// the compression subsystem. A Buffer carries a logical size window that
// callers may clamp and restore without touching the underlying pages.
package iobuf

import (
	"unsafe"

	"github.com/INLOpen/nexusfs/core"
)

// Intent describes the direction of an upcoming access to a buffer.
type Intent int

const (
	Read Intent = iota
	Write
)

func (i Intent) String() string {
	if i == Read {
		return "read"
	}
	return "write"
}

// Fragment is one contiguous piece of a buffer: a byte range inside a
// backing page. Interior fragments of a well-formed buffer span whole
// pages; only the first and last may be partial.
type Fragment struct {
	Page []byte
	Off  int
	Len  int
}

// Data returns the fragment's byte range.
func (f Fragment) Data() []byte { return f.Page[f.Off : f.Off+f.Len] }

// Buffer is a possibly discontiguous I/O buffer. The logical size window
// [0, Size) may be smaller than the fragment capacity; SetSize adjusts it
// the way the write path clamps an oversized request and restores it after.
type Buffer struct {
	frags []Fragment
	size  int
	cap   int
	owned bool
}

// NewBuffer builds a buffer over caller-owned fragments. The logical size
// starts at the full fragment capacity.
func NewBuffer(frags []Fragment) *Buffer {
	total := 0
	for _, f := range frags {
		core.Assertf(f.Off >= 0 && f.Len > 0 && f.Off+f.Len <= len(f.Page),
			"iobuf: fragment range [%d,%d) outside page of %d bytes", f.Off, f.Off+f.Len, len(f.Page))
		total += f.Len
	}
	return &Buffer{frags: frags, size: total, cap: total}
}

// NewBufferBytes wraps a single contiguous byte slice.
func NewBufferBytes(b []byte) *Buffer {
	return NewBuffer([]Fragment{{Page: b, Off: 0, Len: len(b)}})
}

// Alloc returns a buffer of n bytes backed by freshly allocated page-sized
// fragments that the buffer owns. pageSize must be a power of two.
func Alloc(n, pageSize int) *Buffer {
	core.Assertf(core.IsPowerOfTwo(pageSize), "iobuf: page size %d not a power of two", pageSize)
	backing := make([]byte, n)
	b := NewBuffer(SplitPages(backing, pageSize))
	b.owned = true
	return b
}

// SplitPages slices one allocation into page-sized fragments. Fragments
// produced this way are virtually adjacent, so Contiguous can merge them
// back into a single view without copying.
func SplitPages(b []byte, pageSize int) []Fragment {
	var frags []Fragment
	for off := 0; off < len(b); off += pageSize {
		end := off + pageSize
		if end > len(b) {
			end = len(b)
		}
		frags = append(frags, Fragment{Page: b[off:end], Off: 0, Len: end - off})
	}
	return frags
}

// Size returns the logical size window.
func (b *Buffer) Size() int { return b.size }

// Capacity returns the total fragment capacity.
func (b *Buffer) Capacity() int { return b.cap }

// Owned reports whether the buffer owns its backing pages. In-place
// decompression requires an owning buffer.
func (b *Buffer) Owned() bool { return b.owned }

// Fragments returns the fragment list.
func (b *Buffer) Fragments() []Fragment { return b.frags }

// SetSize adjusts the logical size window. The window may shrink and grow
// again but never beyond the fragment capacity.
func (b *Buffer) SetSize(n int) {
	core.Assertf(n > 0 && n <= b.cap, "iobuf: size %d outside (0,%d]", n, b.cap)
	b.size = n
}

// Contiguous attempts a zero-copy view over the first n bytes of the
// buffer. Two tiers are tried: a single fragment already covering the
// request, and a run of page-shaped fragments (interior fragments must
// span whole pages) that are virtually adjacent in memory, merged into one
// view. spanned reports which tier produced the view. When neither applies
// the caller must bounce.
func (b *Buffer) Contiguous(n int) (data []byte, spanned, ok bool) {
	core.Assertf(n > 0 && n <= b.size, "iobuf: contiguous request %d outside buffer window %d", n, b.size)

	if b.frags[0].Len >= n {
		return b.frags[0].Data()[:n], false, true
	}

	remaining := n
	for i, f := range b.frags {
		if remaining <= 0 {
			break
		}
		if i > 0 {
			prev := b.frags[i-1]
			// Interior fragments must tile whole pages, and successive
			// fragments must be adjacent in memory for a merged view to
			// reference valid bytes.
			if f.Off != 0 || prev.Off+prev.Len != len(prev.Page) || !adjacent(prev, f) {
				return nil, false, false
			}
		}
		remaining -= f.Len
	}

	first := b.frags[0]
	base := unsafe.Add(unsafe.Pointer(unsafe.SliceData(first.Page)), first.Off)
	return unsafe.Slice((*byte)(base), n), true, true
}

// adjacent reports whether g's data starts exactly where f's data ends.
// Only fragments carved from one backing allocation can satisfy this.
func adjacent(f, g Fragment) bool {
	fEnd := uintptr(unsafe.Pointer(unsafe.SliceData(f.Page))) + uintptr(f.Off+f.Len)
	gStart := uintptr(unsafe.Pointer(unsafe.SliceData(g.Page))) + uintptr(g.Off)
	return fEnd == gStart
}

// CopyIn copies the first len(dst) bytes of the buffer window into dst.
func (b *Buffer) CopyIn(dst []byte) {
	core.Assertf(len(dst) <= b.size, "iobuf: copy-in of %d bytes from window of %d", len(dst), b.size)
	off := 0
	for _, f := range b.frags {
		if off >= len(dst) {
			break
		}
		off += copy(dst[off:], f.Data())
	}
	core.Assertf(off == len(dst), "iobuf: copy-in short by %d bytes", len(dst)-off)
}

// CopyOut copies src into the start of the buffer window.
func (b *Buffer) CopyOut(src []byte) {
	core.Assertf(len(src) <= b.size, "iobuf: copy-out of %d bytes into window of %d", len(src), b.size)
	off := 0
	for _, f := range b.frags {
		if off >= len(src) {
			break
		}
		off += copy(f.Data(), src[off:])
	}
	core.Assertf(off == len(src), "iobuf: copy-out short by %d bytes", len(src)-off)
}

// Bytes materializes the buffer window as a fresh slice. Test helper and
// slow path; the data path uses Contiguous or a bounce buffer.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.size)
	b.CopyIn(out)
	return out
}
