// Package engine implements the orchestrator: it owns the WAL, the
// per-series MemTables, the chunk store and the catalogue, and exposes
// write/write_batch/scan/flush_now/retain/stats as the single surface
// consumed by higher layers. MemTable, WAL and Catalogue are coordinated
// here rather than referencing each other directly: cross-references use
// series keys, not pointers, so there is no cyclic ownership to untangle.
package engine

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/memtable"
	"github.com/CasperHK/SkyPulseDB/wal"
)

// ColumnDef declares one observation column by name, mirroring
// memtable.ColumnDef (the engine is the layer that maps external column
// names to the internal uint16 ids memtable/wal/chunkfile operate on).
type ColumnDef = memtable.ColumnDef

// Config holds every engine tunable. Use DefaultConfig and the With*
// options to build one, following mebo's functional-options construction
// pattern.
type Config struct {
	DataDir string
	Columns []ColumnDef

	WalFsyncPolicy  wal.FsyncPolicy
	WalIntervalMs   int
	WalSegmentBytes int64

	MemTableMaxRows  int
	MemTableMaxBytes int64

	// MemTableMaxAge seals a live MemTable once it has been open this long,
	// even if it is still under the row/byte thresholds — bounds how stale a
	// low-traffic station's data can get in a catalogued chunk. Zero
	// disables age-triggered sealing.
	MemTableMaxAge time.Duration

	// TotalMemTableByteCeiling is the back-pressure ceiling across every
	// live MemTable (default 1 GiB).
	TotalMemTableByteCeiling int64

	FlushQueueDepth  int
	MaxFlushFailures int
	FlushBackoffMin  time.Duration
	FlushBackoffMax  time.Duration

	ChunkBlockRows         int
	EnableBlockCompression bool

	RetentionDefaultDays int

	EnableRowNotes bool

	Logger log.Logger
}

// Option mutates a Config, following mebo's functional-option pattern
// (NumericEncoderConfig's WithXxx constructors).
type Option func(*Config)

// WithLogger overrides the base logger; components get a child logger via
// log.With(logger, "component", name).
func WithLogger(logger log.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithWalFsyncPolicy overrides the default per-write durability policy.
func WithWalFsyncPolicy(p wal.FsyncPolicy) Option {
	return func(c *Config) { c.WalFsyncPolicy = p }
}

// WithMemTableLimits overrides the default seal thresholds.
func WithMemTableLimits(maxRows int, maxBytes int64) Option {
	return func(c *Config) { c.MemTableMaxRows = maxRows; c.MemTableMaxBytes = maxBytes }
}

// WithMemTableMaxAge overrides the default age-triggered seal threshold (0
// disables it).
func WithMemTableMaxAge(age time.Duration) Option {
	return func(c *Config) { c.MemTableMaxAge = age }
}

// WithRetentionDays overrides the default retention window (0 = forever).
func WithRetentionDays(days int) Option {
	return func(c *Config) { c.RetentionDefaultDays = days }
}

// WithRowNotes enables the optional per-row free-form annotation column.
func WithRowNotes(enabled bool) Option {
	return func(c *Config) { c.EnableRowNotes = enabled }
}

// DefaultConfig returns the stock defaults for a given data directory and
// column schema.
func DefaultConfig(dataDir string, columns []ColumnDef, opts ...Option) Config {
	cfg := Config{
		DataDir:                dataDir,
		Columns:                columns,
		WalFsyncPolicy:         wal.FsyncEveryWrite,
		WalIntervalMs:          10,
		WalSegmentBytes:        128 << 20,
		MemTableMaxRows:          64 * 1024,
		MemTableMaxBytes:         64 << 20,
		MemTableMaxAge:           0,
		TotalMemTableByteCeiling: 1 << 30,
		FlushQueueDepth:        16,
		MaxFlushFailures:       10,
		FlushBackoffMin:        10 * time.Millisecond,
		FlushBackoffMax:        5 * time.Second,
		ChunkBlockRows:         format.BlockRows,
		EnableBlockCompression: true,
		RetentionDefaultDays:   0,
		Logger:                 log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	return cfg
}

// Validate rejects configuration that would make the engine unsafe to
// start, returning a Fatal-kind error.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errs.NewFatal("engine: data_dir must not be empty", nil)
	}
	if len(c.Columns) == 0 {
		return errs.NewFatal("engine: at least one column must be configured", nil)
	}
	if c.MemTableMaxRows <= 0 || c.MemTableMaxBytes <= 0 {
		return errs.NewFatal("engine: memtable thresholds must be positive", nil)
	}
	if c.FlushQueueDepth <= 0 {
		return errs.NewFatal("engine: flush.queue_depth must be positive", nil)
	}
	if c.WalSegmentBytes <= 0 {
		return errs.NewFatal("engine: wal.segment_bytes must be positive", nil)
	}

	seen := make(map[uint16]bool, len(c.Columns))
	for _, col := range c.Columns {
		if seen[col.ID] {
			return errs.NewFatal("engine: duplicate column id in schema", nil)
		}
		seen[col.ID] = true
	}

	return nil
}

func componentLogger(base log.Logger, name string) log.Logger {
	return log.With(base, "component", name)
}

func logErr(logger log.Logger, msg string, err error) {
	level.Error(logger).Log("msg", msg, "err", err)
}
