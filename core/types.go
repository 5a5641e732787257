package core

import "fmt"

// CompressionType identifies the compression algorithm used for an encoded
// extent. The numeric values are part of the on-disk format and must never
// be renumbered.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4Old CompressionType = 1
	CompressionGzip   CompressionType = 2
	CompressionLZ4    CompressionType = 3
	CompressionZstd   CompressionType = 4
)

// Normalize folds legacy ids onto their current equivalents. Extents written
// by old filesystems carry CompressionLZ4Old; the payload format is identical
// to CompressionLZ4.
func (ct CompressionType) Normalize() CompressionType {
	if ct == CompressionLZ4Old {
		return CompressionLZ4
	}
	return ct
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionLZ4Old:
		return "lz4_old"
	case CompressionGzip:
		return "gzip"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", byte(ct))
	}
}

// ParseCompression parses a config-file compression name.
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// FeatureFlag is one bit in the filesystem's durable feature bitset. A codec
// bit durably set means extents compressed with that codec may exist on disk.
type FeatureFlag uint64

const (
	FeatureLZ4  FeatureFlag = 1 << 0
	FeatureGzip FeatureFlag = 1 << 1
	FeatureZstd FeatureFlag = 1 << 2
)

// FeatureForCompression maps a codec id to its feature bit. CompressionNone
// has no bit; writing uncompressed data needs no durable record.
func FeatureForCompression(ct CompressionType) FeatureFlag {
	switch ct.Normalize() {
	case CompressionNone:
		return 0
	case CompressionLZ4:
		return FeatureLZ4
	case CompressionGzip:
		return FeatureGzip
	case CompressionZstd:
		return FeatureZstd
	default:
		panic(fmt.Sprintf("core: no feature bit for compression type %d", byte(ct)))
	}
}

// CompressionTypes lists every codec id that can appear in extent metadata,
// in on-disk id order.
func CompressionTypes() []CompressionType {
	return []CompressionType{
		CompressionNone,
		CompressionLZ4Old,
		CompressionGzip,
		CompressionLZ4,
		CompressionZstd,
	}
}

const (
	// SectorSize is the on-disk addressing granularity. Extent metadata
	// records sizes in sectors; everything internal works in bytes.
	SectorSize = 512
)

// SectorsToBytes converts a sector count from extent metadata to bytes.
func SectorsToBytes(sectors uint32) int {
	return int(sectors) * SectorSize
}

// BytesToSectors converts a byte length to whole sectors, rounding up.
func BytesToSectors(n int) uint32 {
	return uint32((n + SectorSize - 1) / SectorSize)
}

// RoundUp rounds n up to the next multiple of align. align must be a power
// of two.
func RoundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// RoundDown rounds n down to a multiple of align. align must be a power of
// two.
func RoundDown(n, align int) int {
	return n &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
