package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/catalogue"
	"github.com/CasperHK/SkyPulseDB/chunkfile"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/memtable"
)

// flushJob carries one sealed generation waiting for the flusher.
type flushJob struct {
	key      SeriesKey
	snapshot *memtable.Snapshot
	attempt  int
}

// enqueueSeal seals the given live MemTable, replaces it with a fresh
// generation for the same series key, and queues the snapshot for the
// flusher. Subsequent writes to the same series go to the fresh MemTable.
func (e *Engine) enqueueSeal(key SeriesKey, mt *memtable.MemTable) {
	snap := mt.Seal()

	fresh := memtable.New(key, e.cfg.Columns,
		memtable.Limits{MaxRows: e.cfg.MemTableMaxRows, MaxBytes: e.cfg.MemTableMaxBytes},
		e.cfg.EnableRowNotes)
	e.series.replaceIfCurrent(key, mt, fresh)

	if snap.RowCount() == 0 {
		return // an empty MemTable flush creates no chunk
	}

	select {
	case e.flushQueue <- flushJob{key: key, snapshot: snap}:
	default:
		// Queue depth was already checked by admitWrite; a race here still
		// falls back to a blocking send so no sealed generation is lost.
		e.flushQueue <- flushJob{key: key, snapshot: snap}
	}
}

// FlushNow forces an immediate seal+enqueue for a series key's current live
// MemTable.
func (e *Engine) FlushNow(key SeriesKey) {
	mt, ok := e.series.get(key)
	if !ok {
		return
	}

	e.enqueueSeal(key, mt)
}

func (e *Engine) runFlusher() {
	defer e.flushWg.Done()

	logger := componentLogger(e.cfg.Logger, "flusher")

	for {
		select {
		case <-e.stopFlush:
			e.drainFlushQueue(logger)

			return
		case job := <-e.flushQueue:
			e.processFlushJob(logger, job)
		}
	}
}

// drainFlushQueue empties the queue on a clean shutdown.
func (e *Engine) drainFlushQueue(logger log.Logger) {
	for {
		select {
		case job := <-e.flushQueue:
			e.processFlushJob(logger, job)
		default:
			return
		}
	}
}

func (e *Engine) processFlushJob(logger log.Logger, job flushJob) {
	if err := e.flushOne(job); err != nil {
		level.Error(logger).Log("msg", "flush failed", "station", job.key.StationID, "partition_day", job.key.PartitionDay, "err", err)
		e.handleFlushFailure(job)

		return
	}

	e.degradedMu.Lock()
	e.consecutiveFailure = 0
	e.degradedMu.Unlock()
	e.setDegraded(false)

	e.reclaimWAL()
}

func (e *Engine) handleFlushFailure(job flushJob) {
	e.degradedMu.Lock()
	e.consecutiveFailure++
	failures := e.consecutiveFailure
	if failures >= e.cfg.MaxFlushFailures {
		e.degraded = true
	}
	e.degradedMu.Unlock()

	backoff := e.cfg.FlushBackoffMin << uint(job.attempt)
	if backoff > e.cfg.FlushBackoffMax || backoff <= 0 {
		backoff = e.cfg.FlushBackoffMax
	}
	job.attempt++

	time.AfterFunc(backoff, func() {
		select {
		case e.flushQueue <- job:
		case <-e.stopFlush:
		}
	})
}

// flushOne runs the flush pipeline: encode columns into a chunk file,
// publish it to the catalogue, and advance the series' persisted watermark
// so WAL reclamation can consider its segments free.
func (e *Engine) flushOne(job flushJob) error {
	timestamps, columns, notes := job.snapshot.Flatten()
	if len(timestamps) == 0 {
		return nil
	}

	chunkDir := filepath.Join(e.cfg.DataDir, "chunks", job.key.StationID, fmt.Sprint(job.key.PartitionDay))
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return errs.NewPersistence("engine: creating chunk directory", err)
	}

	chunkName := fmt.Sprintf("%d.chunk", time.Now().UnixNano())
	path := filepath.Join(chunkDir, chunkName)

	inputs := make([]chunkfile.ColumnInput, len(columns))
	for i, c := range columns {
		inputs[i] = chunkfile.ColumnInput{
			ID: c.ID, Name: c.Name, Type: c.Type,
			F64: c.F64, I64: c.I64, Angle: c.Angle, Percent: c.Percent, Present: c.Present,
		}
	}

	opts := chunkfile.DefaultWriteOptions()
	opts.EnableBlockCompression = e.cfg.EnableBlockCompression
	opts.EnableRowNotes = e.cfg.EnableRowNotes

	result, err := chunkfile.WriteChunk(path, job.key.StationID, job.key.PartitionDay, timestamps, inputs, notes, opts)
	if err != nil {
		_ = os.Remove(path)

		return errs.NewPersistence("engine: writing chunk", err)
	}

	entry := catalogue.ChunkEntry{
		ChunkName: chunkName,
		FirstTs:   result.FirstTs,
		LastTs:    result.LastTs,
		RowCount:  result.RowCount,
		ByteSize:  result.ByteSize,
		CreatedAt: time.Now().UTC(),
	}
	ck := catalogue.SeriesKey{StationID: job.key.StationID, PartitionDay: job.key.PartitionDay}
	if err := e.cat.Publish(ck, entry); err != nil {
		_ = os.Remove(path)

		return errs.NewPersistence("engine: publishing chunk to catalogue", err)
	}

	e.persistedMu.Lock()
	if cur, ok := e.persisted[job.key]; !ok || result.LastTs > cur {
		e.persisted[job.key] = result.LastTs
	}
	e.persistedMu.Unlock()

	return nil
}
