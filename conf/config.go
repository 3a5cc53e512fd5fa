// Copyright 2024-2026 The Velt Authors
// This file is part of the Velt embedded datastore.
//
// Velt is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Velt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Velt. If not, see <http://www.gnu.org/licenses/>.

// Package conf holds the engine's configuration structs. Parsing these
// from flags, environment variables, or a config file is the concern of
// the CLI wrapper (out of scope here, per spec §6); this package only
// defines the struct the engine accepts and sane defaults for it.
package conf

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// FsyncPolicy controls how often the commitlog writer calls fsync.
type FsyncPolicy string

const (
	// FsyncAlways fsyncs after every append.
	FsyncAlways FsyncPolicy = "always"
	// FsyncPerNCommits fsyncs once every N appends (see Config.FsyncEveryN).
	FsyncPerNCommits FsyncPolicy = "per_n_commits"
	// FsyncNever never fsyncs explicitly, relying on OS writeback. Only
	// suitable for throwaway/test databases.
	FsyncNever FsyncPolicy = "never"
)

// LoggerConfig controls the engine's log output. Mirrors the shape the
// teacher repo uses for its rotation policy.
type LoggerConfig struct {
	// LogFile is the log file name; empty means console-only.
	LogFile string `json:"log_file" yaml:"log_file"`
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// MaxSize is the size at which a log file rotates.
	MaxSize datasize.ByteSize `json:"max_size" yaml:"max_size"`
	// MaxBackups is the number of rotated files retained.
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	// MaxAge is how long rotated files are retained.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
	// Compress gzips rotated files.
	Compress bool `json:"compress" yaml:"compress"`
	// JSONFormat selects JSON output for the file sink.
	JSONFormat bool `json:"json_format" yaml:"json_format"`
	// Console additionally mirrors output to stderr.
	Console bool `json:"console" yaml:"console"`
}

// DefaultLoggerConfig returns the engine's default logging configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		MaxSize:    100 * datasize.MB,
		MaxBackups: 10,
		MaxAge:     30 * 24 * time.Hour,
		Compress:   true,
		JSONFormat: true,
		Console:    true,
	}
}

// Validate clamps invalid fields to defaults rather than failing, matching
// the teacher's LoggerConfig.Validate behavior.
func (c *LoggerConfig) Validate() error {
	if c.MaxSize <= 0 {
		c.MaxSize = 100 * datasize.MB
	}
	if c.MaxBackups < 0 {
		c.MaxBackups = 10
	}
	if c.MaxAge < 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}
	if c.Level == "" {
		c.Level = "info"
	}
	return nil
}

// Config is the single struct the engine accepts at construction time.
// Flags/env/file parsing into this struct is the CLI wrapper's job.
type Config struct {
	// DataDir is the directory holding this engine's database files: the
	// bbolt store and the "log" commitlog directory sit directly in it,
	// with no per-identity subdirectory.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// ListenAddr is the address the WebSocket server binds to.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// MaxSegmentSize bounds a single commitlog segment file.
	MaxSegmentSize datasize.ByteSize `json:"max_segment_size" yaml:"max_segment_size"`
	// FsyncPolicy controls commitlog durability vs throughput.
	FsyncPolicy FsyncPolicy `json:"fsync_policy" yaml:"fsync_policy"`
	// FsyncEveryN is the commit interval used by FsyncPerNCommits.
	FsyncEveryN int `json:"fsync_every_n" yaml:"fsync_every_n"`
	// DefaultBudget is the energy budget allocated to a reducer dispatch
	// when the caller's balance is sufficient to fund it in full.
	DefaultBudget int64 `json:"default_budget" yaml:"default_budget"`
	// MinBudget is the floor budget granted to a reducer even when the
	// caller's balance is non-positive, if AllowNegativeBalanceDispatch.
	MinBudget int64 `json:"min_budget" yaml:"min_budget"`
	// AllowNegativeBalanceDispatch permits dispatch with MinBudget when
	// balance <= 0, instead of failing with OutOfEnergy up front.
	AllowNegativeBalanceDispatch bool `json:"allow_negative_balance_dispatch" yaml:"allow_negative_balance_dispatch"`
	// MaxBlobInlineSize is the inclusive size (bytes) below which a
	// column value is inlined in row encoding instead of blob-addressed.
	MaxBlobInlineSize int `json:"max_blob_inline_size" yaml:"max_blob_inline_size"`
	// MaxBlobSize rejects values larger than this with BlobQuotaExceeded.
	MaxBlobSize datasize.ByteSize `json:"max_blob_size" yaml:"max_blob_size"`
	// ReducerWallClockLimit traps a reducer that runs longer than this.
	ReducerWallClockLimit time.Duration `json:"reducer_wall_clock_limit" yaml:"reducer_wall_clock_limit"`
	Logger                LoggerConfig  `json:"logger" yaml:"logger"`
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:                      "./data",
		ListenAddr:                   "127.0.0.1:3000",
		MaxSegmentSize:               1 * datasize.GB,
		FsyncPolicy:                  FsyncPerNCommits,
		FsyncEveryN:                  1,
		DefaultBudget:                1_000_000,
		MinBudget:                    1_000,
		AllowNegativeBalanceDispatch: false,
		MaxBlobInlineSize:            32,
		MaxBlobSize:                  64 * datasize.MB,
		ReducerWallClockLimit:        5 * time.Second,
		Logger:                       DefaultLoggerConfig(),
	}
}

// Validate clamps invalid fields to defaults and validates nested configs.
func (c *Config) Validate() error {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = 1 * datasize.GB
	}
	if c.FsyncEveryN <= 0 {
		c.FsyncEveryN = 1
	}
	if c.MaxBlobInlineSize <= 0 {
		c.MaxBlobInlineSize = 32
	}
	if c.MaxBlobSize <= 0 {
		c.MaxBlobSize = 64 * datasize.MB
	}
	switch c.FsyncPolicy {
	case FsyncAlways, FsyncPerNCommits, FsyncNever:
	default:
		c.FsyncPolicy = FsyncPerNCommits
	}
	return c.Logger.Validate()
}

// Exit codes for the engine binary, per spec §6.
const (
	ExitClean       = 0
	ExitFatalIO     = 1
	ExitConfig      = 2
	ExitCorruption  = 3
	ExitAlreadyRun  = 4
)
