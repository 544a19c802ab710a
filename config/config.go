// Package config loads an engine.Config from a YAML file on disk, applying
// engine.DefaultConfig's defaults for anything the file leaves unset and
// rejecting unusable values before the engine ever opens.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CasperHK/SkyPulseDB/engine"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/wal"
)

// columnFile is one entry of the YAML `columns` list.
type columnFile struct {
	ID   uint16 `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// file mirrors the on-disk YAML layout; fields are pointers where "unset"
// must be distinguishable from "explicitly zero" so defaults apply cleanly.
type file struct {
	DataDir string       `yaml:"data_dir"`
	Columns []columnFile `yaml:"columns"`

	Wal struct {
		FsyncPolicy   string `yaml:"fsync_policy"`
		IntervalMs    int    `yaml:"interval_ms"`
		SegmentBytes  int64  `yaml:"segment_bytes"`
	} `yaml:"wal"`

	Memtable struct {
		MaxRows        int   `yaml:"max_rows"`
		MaxBytes       int64 `yaml:"max_bytes"`
		TotalByteLimit int64 `yaml:"total_byte_limit"`
		MaxAgeMs       int   `yaml:"max_age_ms"`
	} `yaml:"memtable"`

	Flush struct {
		QueueDepth    int    `yaml:"queue_depth"`
		MaxFailures   int    `yaml:"max_failures"`
		BackoffMinMs  int    `yaml:"backoff_min_ms"`
		BackoffMaxMs  int    `yaml:"backoff_max_ms"`
	} `yaml:"flush"`

	Chunk struct {
		BlockRows   int   `yaml:"block_rows"`
		Compression *bool `yaml:"compression"`
	} `yaml:"chunk"`

	RetentionDays int  `yaml:"retention_days"`
	RowNotes      bool `yaml:"row_notes"`
}

var fsyncPolicies = map[string]wal.FsyncPolicy{
	"every_write":    wal.FsyncEveryWrite,
	"every_interval": wal.FsyncEveryInterval,
	"off":            wal.FsyncOff,
}

var columnTypes = map[string]format.ValueType{
	"f64":     format.ValueF64,
	"i64":     format.ValueI64,
	"angle":   format.ValueU16Angle,
	"percent": format.ValueU8Percent,
}

// Load reads path as YAML, applies DefaultConfig's defaults for anything left
// unset, and validates the result (errs.FatalError on bad data_dir,
// negative thresholds, or an unknown column type/fsync policy).
func Load(path string) (engine.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Config{}, errs.NewFatal("config: reading config file", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return engine.Config{}, errs.NewFatal("config: parsing config file", err)
	}

	for _, v := range []int64{
		int64(f.Wal.IntervalMs), f.Wal.SegmentBytes,
		int64(f.Memtable.MaxRows), f.Memtable.MaxBytes, f.Memtable.TotalByteLimit, int64(f.Memtable.MaxAgeMs),
		int64(f.Flush.QueueDepth), int64(f.Flush.MaxFailures), int64(f.Flush.BackoffMinMs), int64(f.Flush.BackoffMaxMs),
		int64(f.Chunk.BlockRows), int64(f.RetentionDays),
	} {
		if v < 0 {
			return engine.Config{}, errs.NewFatal("config: negative threshold", nil)
		}
	}

	columns, err := parseColumns(f.Columns)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.DefaultConfig(f.DataDir, columns)

	if f.Wal.FsyncPolicy != "" {
		policy, ok := fsyncPolicies[f.Wal.FsyncPolicy]
		if !ok {
			return engine.Config{}, errs.NewFatal("config: unknown wal.fsync_policy "+f.Wal.FsyncPolicy, nil)
		}
		cfg.WalFsyncPolicy = policy
	}
	if f.Wal.IntervalMs > 0 {
		cfg.WalIntervalMs = f.Wal.IntervalMs
	}
	if f.Wal.SegmentBytes > 0 {
		cfg.WalSegmentBytes = f.Wal.SegmentBytes
	}

	if f.Memtable.MaxRows > 0 {
		cfg.MemTableMaxRows = f.Memtable.MaxRows
	}
	if f.Memtable.MaxBytes > 0 {
		cfg.MemTableMaxBytes = f.Memtable.MaxBytes
	}
	if f.Memtable.TotalByteLimit > 0 {
		cfg.TotalMemTableByteCeiling = f.Memtable.TotalByteLimit
	}
	if f.Memtable.MaxAgeMs > 0 {
		cfg.MemTableMaxAge = time.Duration(f.Memtable.MaxAgeMs) * time.Millisecond
	}

	if f.Flush.QueueDepth > 0 {
		cfg.FlushQueueDepth = f.Flush.QueueDepth
	}
	if f.Flush.MaxFailures > 0 {
		cfg.MaxFlushFailures = f.Flush.MaxFailures
	}
	if f.Flush.BackoffMinMs > 0 {
		cfg.FlushBackoffMin = time.Duration(f.Flush.BackoffMinMs) * time.Millisecond
	}
	if f.Flush.BackoffMaxMs > 0 {
		cfg.FlushBackoffMax = time.Duration(f.Flush.BackoffMaxMs) * time.Millisecond
	}

	if f.Chunk.BlockRows > 0 {
		cfg.ChunkBlockRows = f.Chunk.BlockRows
	}
	if f.Chunk.Compression != nil {
		cfg.EnableBlockCompression = *f.Chunk.Compression
	}

	if f.RetentionDays > 0 {
		cfg.RetentionDefaultDays = f.RetentionDays
	}
	cfg.EnableRowNotes = f.RowNotes

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}

	return cfg, nil
}

func parseColumns(in []columnFile) ([]engine.ColumnDef, error) {
	if len(in) == 0 {
		return nil, errs.NewFatal("config: at least one column must be configured", nil)
	}

	out := make([]engine.ColumnDef, 0, len(in))
	for _, c := range in {
		t, ok := columnTypes[c.Type]
		if !ok {
			return nil, errs.NewFatal("config: unknown column type "+c.Type+" for column "+c.Name, nil)
		}
		out = append(out, engine.ColumnDef{ID: c.ID, Name: c.Name, Type: t})
	}

	return out, nil
}
