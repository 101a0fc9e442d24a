// Package config reads the segstats command settings from SEGSTATS_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the settings of one segstats run. Command-line flags override
// the extraction and output fields.
type Config struct {
	// Extraction
	Chunks  int
	Repeat  int
	Workers int

	// Output bucket URL; empty skips saving.
	Output string
	// HDF5 directory; empty skips HDF5 records.
	HDF5Dir string
	// Compressor for binary arrays: "none" or "zstd".
	Compressor string
	ZstdLevel  int

	// Logging
	LogFormat string
	LogLevel  string
}

// Load reads Config from the environment, falling back to defaults for
// unset or non-positive values.
func Load() Config {
	cfg := Config{
		Chunks:  envInt("SEGSTATS_CHUNKS", 3),
		Repeat:  envInt("SEGSTATS_REPEAT", 1),
		Workers: envInt("SEGSTATS_WORKERS", 0),

		Output:     os.Getenv("SEGSTATS_OUTPUT"),
		HDF5Dir:    os.Getenv("SEGSTATS_HDF5_DIR"),
		Compressor: envOr("SEGSTATS_COMPRESSOR", "zstd"),
		ZstdLevel:  envInt("SEGSTATS_ZSTD_LEVEL", 3),

		LogFormat: envOr("SEGSTATS_LOG_FORMAT", "text"),
		LogLevel:  envOr("SEGSTATS_LOG_LEVEL", "info"),
	}

	if cfg.Chunks <= 0 {
		cfg.Chunks = 3
	}
	if cfg.Repeat <= 0 {
		cfg.Repeat = 1
	}
	if cfg.ZstdLevel <= 0 {
		cfg.ZstdLevel = 3
	}

	return cfg
}

// Validate rejects unknown compressors, log formats and log levels.
func (c Config) Validate() error {
	switch c.Compressor {
	case "none", "zstd":
	default:
		return fmt.Errorf("SEGSTATS_COMPRESSOR must be none or zstd, got %q", c.Compressor)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("SEGSTATS_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Chunks < 1 {
		return fmt.Errorf("chunks must be positive, got %d", c.Chunks)
	}
	if c.Repeat < 1 {
		return fmt.Errorf("repeat must be positive, got %d", c.Repeat)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("SEGSTATS_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// Logger builds the process logger on stderr.
func (c Config) Logger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
