package engine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/catalogue"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/memtable"
	"github.com/CasperHK/SkyPulseDB/wal"
)

// SeriesKey identifies one MemTable/chunk-file identity: a station and the
// UTC day its rows partition into.
type SeriesKey = memtable.SeriesKey

// microsPerDay is used to derive a partition day (the UTC day a microsecond
// timestamp falls in) from a raw timestamp.
const microsPerDay = int64(24 * 60 * 60 * 1_000_000)

func partitionDay(tsMicros int64) int32 {
	day := tsMicros / microsPerDay
	if tsMicros < 0 && tsMicros%microsPerDay != 0 {
		day--
	}

	return int32(day)
}

// Engine is the single owned orchestrator per data_dir: one instance holds
// the exclusive lock on its data directory for as long as it is open.
type Engine struct {
	cfg Config

	lockFile *os.File
	wal      *wal.Manager
	walDir   string
	cat      *catalogue.Catalogue

	columnsByID   map[uint16]ColumnDef
	columnsByName map[string]ColumnDef

	series *seriesShards

	persistedMu sync.Mutex
	persisted   map[SeriesKey]int64 // highest ts durably in a catalogued chunk

	flushQueue chan flushJob
	flushWg    sync.WaitGroup
	stopFlush  chan struct{}

	degradedMu         sync.Mutex
	degraded           bool
	consecutiveFailure int

	retentionStop chan struct{}
	retentionWg   sync.WaitGroup

	ageSweepStop chan struct{}
	ageSweepWg   sync.WaitGroup

	closeOnce sync.Once
}

// Open starts the engine against data_dir: acquires engine.lock, opens (or
// creates) the WAL and catalogue, replays the WAL into fresh MemTables, and
// starts the background flusher and retention loop.
func Open(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.NewFatal("engine: creating data directory", err)
	}

	lockFile, err := acquireLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	walDir := filepath.Join(cfg.DataDir, "wal")
	walCfg := wal.Config{
		Dir:           walDir,
		FsyncPolicy:   cfg.WalFsyncPolicy,
		GroupCommitMs: cfg.WalIntervalMs,
		SegmentBytes:  cfg.WalSegmentBytes,
		SegmentMaxAge: time.Hour,
		Logger:        componentLogger(cfg.Logger, "wal"),
	}
	walMgr, err := wal.Open(walCfg)
	if err != nil {
		releaseLock(lockFile)

		return nil, err
	}

	cat, err := catalogue.Open(cfg.DataDir)
	if err != nil {
		releaseLock(lockFile)

		return nil, err
	}

	columnsByID := make(map[uint16]ColumnDef, len(cfg.Columns))
	columnsByName := make(map[string]ColumnDef, len(cfg.Columns))
	for _, c := range cfg.Columns {
		columnsByID[c.ID] = c
		columnsByName[c.Name] = c
	}

	e := &Engine{
		cfg:           cfg,
		lockFile:      lockFile,
		wal:           walMgr,
		walDir:        walDir,
		cat:           cat,
		columnsByID:   columnsByID,
		columnsByName: columnsByName,
		series:        newSeriesShards(),
		persisted:     make(map[SeriesKey]int64),
		flushQueue:    make(chan flushJob, cfg.FlushQueueDepth),
		stopFlush:     make(chan struct{}),
		retentionStop: make(chan struct{}),
		ageSweepStop:  make(chan struct{}),
	}

	e.loadPersistedWatermarks()

	if err := e.recoverFromWAL(walDir); err != nil {
		releaseLock(lockFile)

		return nil, err
	}

	e.flushWg.Add(1)
	go e.runFlusher()

	e.retentionWg.Add(1)
	go e.runRetention()

	e.ageSweepWg.Add(1)
	go e.runAgeSweep()

	return e, nil
}

// loadPersistedWatermarks derives, per series key, the highest ts already
// durable in a catalogued chunk (used both for WAL reclamation and to skip
// re-ingesting rows already covered by a FLUSH_COMMIT during recovery).
func (e *Engine) loadPersistedWatermarks() {
	e.cat.Enumerate(func(key catalogue.SeriesKey, entry catalogue.ChunkEntry) {
		sk := SeriesKey{StationID: key.StationID, PartitionDay: key.PartitionDay}
		if cur, ok := e.persisted[sk]; !ok || entry.LastTs > cur {
			e.persisted[sk] = entry.LastTs
		}
	})
}

// recoverFromWAL replays every WAL record into fresh MemTables, skipping
// WRITE rows already covered by a known-persisted watermark.
func (e *Engine) recoverFromWAL(walDir string) error {
	records, err := wal.Recover(walDir)
	if err != nil {
		return err
	}

	logger := componentLogger(e.cfg.Logger, "recovery")
	applied := 0
	for _, rec := range records {
		if rec.Write == nil {
			continue
		}

		sk := SeriesKey{StationID: rec.Write.StationID, PartitionDay: partitionDay(rec.Write.Ts)}
		if watermark, ok := e.persisted[sk]; ok && rec.Write.Ts <= watermark {
			continue
		}

		mt := e.memtableFor(sk)
		values := make(map[uint16]memtable.Value, len(rec.Write.Values))
		for id, v := range rec.Write.Values {
			values[id] = memtable.Value{
				Type: format.ValueType(v.Type), F64: v.F64, I64: v.I64,
				Angle: v.U16, Percent: v.U8, Present: !v.IsNull,
			}
		}
		if _, err := mt.Insert(memtable.Row{Ts: rec.Write.Ts, Values: values}); err != nil {
			logErr(logger, "replaying wal record", err)

			continue
		}
		applied++
	}
	level.Info(logger).Log("msg", "wal recovery complete", "records_applied", applied)

	return nil
}

func (e *Engine) memtableFor(key SeriesKey) *memtable.MemTable {
	return e.series.getOrCreate(key, func() *memtable.MemTable {
		return memtable.New(key, e.cfg.Columns, memtable.Limits{MaxRows: e.cfg.MemTableMaxRows, MaxBytes: e.cfg.MemTableMaxBytes}, e.cfg.EnableRowNotes)
	})
}

func (e *Engine) setDegraded(v bool) {
	e.degradedMu.Lock()
	e.degraded = v
	e.degradedMu.Unlock()
}

// IsDegraded reports whether repeated consecutive flush failures have
// tripped degraded mode.
func (e *Engine) IsDegraded() bool {
	e.degradedMu.Lock()
	defer e.degradedMu.Unlock()

	return e.degraded
}

// Close stops the background workers, releases engine.lock, and closes the
// WAL and catalogue. A clean shutdown drains the flush queue first.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.retentionStop)
		e.retentionWg.Wait()

		close(e.ageSweepStop)
		e.ageSweepWg.Wait()

		close(e.stopFlush)
		e.flushWg.Wait()

		if cerr := e.cat.Close(); cerr != nil {
			err = cerr
		}
		if werr := e.wal.Close(); werr != nil {
			err = werr
		}
		if lerr := releaseLock(e.lockFile); lerr != nil {
			err = lerr
		}
	})

	return err
}
