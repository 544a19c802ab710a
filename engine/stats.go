package engine

import (
	"os"
	"path/filepath"

	"github.com/CasperHK/SkyPulseDB/catalogue"
	"github.com/CasperHK/SkyPulseDB/memtable"
)

// Stats is a point-in-time snapshot of engine health: live row counts and
// MemTable bytes, the active WAL segment's size, flush queue depth, catalogue
// and quarantine chunk counts, and the degraded-mode flag. The on-disk size
// of chunk files is not reported.
type Stats struct {
	LiveSeries         int
	LiveRows           int
	LiveBytes          int64
	FlushQueueDepth    int
	FlushQueueCapacity int
	Degraded           bool
	ConsecutiveFailure int
	WalActiveBytes     int64
	CatalogueChunks    int
	QuarantinedChunks  int
}

// Stats reports the engine's current health for monitoring and operational
// tooling.
func (e *Engine) Stats() Stats {
	s := Stats{
		FlushQueueDepth:    len(e.flushQueue),
		FlushQueueCapacity: cap(e.flushQueue),
		WalActiveBytes:     e.wal.ActiveSegmentBytes(),
	}

	s.LiveSeries = e.series.count()
	e.series.forEach(func(mt *memtable.MemTable) {
		s.LiveRows += mt.RowCount()
		s.LiveBytes += mt.ApproxBytes()
	})

	e.degradedMu.Lock()
	s.Degraded = e.degraded
	s.ConsecutiveFailure = e.consecutiveFailure
	e.degradedMu.Unlock()

	e.cat.Enumerate(func(catalogue.SeriesKey, catalogue.ChunkEntry) {
		s.CatalogueChunks++
	})

	s.QuarantinedChunks = countQuarantinedChunks(e.cfg.DataDir)

	return s
}

// countQuarantinedChunks lists <data_dir>/quarantine/: chunkfile.Quarantine
// is the only writer of that directory, so a plain directory listing is
// enough to track how many chunks have failed their footer checksum without
// a separate counter to keep in sync.
func countQuarantinedChunks(dataDir string) int {
	entries, err := os.ReadDir(filepath.Join(dataDir, "quarantine"))
	if err != nil {
		return 0
	}

	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}

	return n
}
