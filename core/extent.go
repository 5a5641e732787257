package core

// EncodedExtentView is the compression-relevant slice of an extent's
// metadata. Sizes and the offset are recorded in sectors on disk; the data
// path works in bytes through the accessors below. The extent index owns the
// full metadata; this subsystem only reads it and, for in-place
// decompression, rewrites it.
type EncodedExtentView struct {
	UncompressedSize uint32 // sectors of data once decoded
	CompressedSize   uint32 // sectors occupied on disk (block-rounded)
	LiveSize         uint32 // sectors of the decoded data still referenced
	Offset           uint32 // sectors into the decoded data where live data starts
	Compression      CompressionType
	Checksum         uint8 // checksum type id, opaque to this subsystem
}

func (e EncodedExtentView) UncompressedBytes() int { return SectorsToBytes(e.UncompressedSize) }
func (e EncodedExtentView) CompressedBytes() int   { return SectorsToBytes(e.CompressedSize) }
func (e EncodedExtentView) LiveBytes() int         { return SectorsToBytes(e.LiveSize) }
func (e EncodedExtentView) OffsetBytes() int       { return SectorsToBytes(e.Offset) }

// Compressed reports whether the extent payload needs decoding before use.
func (e EncodedExtentView) Compressed() bool {
	return e.Compression != CompressionNone
}

// SetUncompressed rewrites the view to describe the extent after in-place
// decompression: only the live range remains, stored verbatim, with no
// checksum coverage.
func (e *EncodedExtentView) SetUncompressed() {
	e.Checksum = 0
	e.Compression = CompressionNone
	e.CompressedSize = e.LiveSize
	e.UncompressedSize = e.LiveSize
	e.Offset = 0
}
