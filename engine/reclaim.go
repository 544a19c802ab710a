package engine

import (
	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/wal"
)

// reclaimWAL deletes sealed WAL segments whose every WRITE record is already
// covered by a catalogued chunk's persisted watermark. It never touches the
// segment currently open for append, and refuses to delete a segment it
// could not fully account for (a corrupt or unexpectedly short tail) rather
// than risk discarding an unflushed row.
func (e *Engine) reclaimWAL() {
	logger := componentLogger(e.cfg.Logger, "wal-reclaim")

	active := e.wal.ActiveSegmentSeq()

	seqs, err := wal.ListSegments(e.walDir)
	if err != nil {
		logErr(logger, "listing wal segments", err)

		return
	}

	e.persistedMu.Lock()
	watermarks := make(map[SeriesKey]int64, len(e.persisted))
	for k, v := range e.persisted {
		watermarks[k] = v
	}
	e.persistedMu.Unlock()

	reclaimed := 0
	for _, seq := range seqs {
		if seq == active {
			continue
		}

		if e.segmentFullyPersisted(seq, watermarks) {
			if err := wal.DeleteSegment(e.walDir, seq); err != nil {
				logErr(logger, "deleting reclaimed wal segment", err)

				continue
			}
			reclaimed++
		}
	}

	if reclaimed > 0 {
		level.Info(logger).Log("msg", "wal segments reclaimed", "count", reclaimed)
	}
}

func (e *Engine) segmentFullyPersisted(seq uint64, watermarks map[SeriesKey]int64) bool {
	writes, clean, err := wal.SealedSegmentWrites(e.walDir, seq)
	if err != nil || !clean {
		return false
	}

	for _, wr := range writes {
		sk := SeriesKey{StationID: wr.StationID, PartitionDay: partitionDay(wr.Ts)}
		watermark, ok := watermarks[sk]
		if !ok || wr.Ts > watermark {
			return false
		}
	}

	return true
}
