package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/nexusfs/core"
)

// FilesystemConfig holds the on-disk geometry. Both values are recorded in
// the superblock at format time; changing them on an existing filesystem is
// not supported.
type FilesystemConfig struct {
	// BlockSizeSectors is the smallest I/O granularity. All compressed and
	// uncompressed extent lengths round to this unit on disk.
	BlockSizeSectors int `yaml:"block_size_sectors"`
	// MaxEncodedExtentSectors bounds both sizes of any encoded extent.
	MaxEncodedExtentSectors int `yaml:"max_encoded_extent_sectors"`
}

// CompressionConfig holds data-path compression settings.
type CompressionConfig struct {
	// Default is the codec applied to foreground writes: "none", "lz4",
	// "gzip" or "zstd".
	Default string `yaml:"default"`
	// ZstdLevel maps onto the zstd encoder speed levels (1 fastest,
	// 4 best). 0 selects the encoder default.
	ZstdLevel int `yaml:"zstd_level"`
	// WorkspaceCount is the number of scratch workspaces per active codec,
	// and so the number of extents one codec can process concurrently
	// without blocking.
	WorkspaceCount int `yaml:"workspace_count"`
	// BouncePoolBuffers is the number of max-extent-sized buffers in each
	// of the read and write bounce pools.
	BouncePoolBuffers int `yaml:"bounce_pool_buffers"`
	// BounceSoftBudgetBytes bounds transient heap-allocated bounce memory
	// before allocation falls back to the pools.
	BounceSoftBudgetBytes int64 `yaml:"bounce_soft_budget_bytes"`
	// BounceHardBudgetBytes bounds transient heap-allocated bounce memory
	// absolutely; past it, allocation blocks on the pools.
	BounceHardBudgetBytes int64 `yaml:"bounce_hard_budget_bytes"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // log file path when output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	Filesystem  FilesystemConfig  `yaml:"filesystem"`
	Compression CompressionConfig `yaml:"compression"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Filesystem: FilesystemConfig{
			BlockSizeSectors:        8,   // 4 KiB
			MaxEncodedExtentSectors: 128, // 64 KiB
		},
		Compression: CompressionConfig{
			Default:               "zstd",
			ZstdLevel:             0,
			WorkspaceCount:        4,
			BouncePoolBuffers:     2,
			BounceSoftBudgetBytes: 8 * 1024 * 1024,
			BounceHardBudgetBytes: 32 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexusfs.log",
		},
	}
}

// Load reads configuration from an io.Reader, overlaying the defaults.
// Separated from LoadConfig for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate checks the numeric invariants the data path depends on.
func (c *Config) Validate() error {
	fs := c.Filesystem
	if !core.IsPowerOfTwo(fs.BlockSizeSectors) {
		return fmt.Errorf("filesystem.block_size_sectors must be a power of two, got %d", fs.BlockSizeSectors)
	}
	if !core.IsPowerOfTwo(fs.MaxEncodedExtentSectors) {
		return fmt.Errorf("filesystem.max_encoded_extent_sectors must be a power of two, got %d", fs.MaxEncodedExtentSectors)
	}
	if fs.MaxEncodedExtentSectors < fs.BlockSizeSectors {
		return fmt.Errorf("filesystem.max_encoded_extent_sectors (%d) smaller than block size (%d)",
			fs.MaxEncodedExtentSectors, fs.BlockSizeSectors)
	}

	cmp := c.Compression
	if _, err := core.ParseCompression(cmp.Default); err != nil {
		return fmt.Errorf("compression.default: %w", err)
	}
	if cmp.ZstdLevel < 0 || cmp.ZstdLevel > 4 {
		return fmt.Errorf("compression.zstd_level must be 0..4, got %d", cmp.ZstdLevel)
	}
	if cmp.WorkspaceCount < 1 {
		return fmt.Errorf("compression.workspace_count must be at least 1, got %d", cmp.WorkspaceCount)
	}
	if cmp.BouncePoolBuffers < 1 {
		return fmt.Errorf("compression.bounce_pool_buffers must be at least 1, got %d", cmp.BouncePoolBuffers)
	}
	if cmp.BounceSoftBudgetBytes < 0 || cmp.BounceHardBudgetBytes < cmp.BounceSoftBudgetBytes {
		return fmt.Errorf("compression bounce budgets invalid: soft=%d hard=%d",
			cmp.BounceSoftBudgetBytes, cmp.BounceHardBudgetBytes)
	}
	return nil
}

// BlockBytes returns the block size in bytes.
func (c *Config) BlockBytes() int {
	return c.Filesystem.BlockSizeSectors * core.SectorSize
}

// MaxEncodedExtentBytes returns the maximum encoded extent size in bytes.
func (c *Config) MaxEncodedExtentBytes() int {
	return c.Filesystem.MaxEncodedExtentSectors * core.SectorSize
}

// SetupLogger builds a slog.Logger from the logging section.
func (c *Config) SetupLogger() (*slog.Logger, error) {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch c.Logging.Output {
	case "", "stdout":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "stderr":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "none":
		return slog.New(slog.NewTextHandler(io.Discard, opts)), nil
	case "file":
		f, err := os.OpenFile(c.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", c.Logging.File, err)
		}
		return slog.New(slog.NewJSONHandler(f, opts)), nil
	default:
		return nil, fmt.Errorf("unknown logging.output %q", c.Logging.Output)
	}
}
