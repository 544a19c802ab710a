package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
	"github.com/CasperHK/SkyPulseDB/wal"
)

// TestScenario_FlushSealsChunkAndReclaimsWAL drives enough rows through a
// small MemTable ceiling and a small WAL segment size that both repeated
// auto-seal flushes and repeated WAL segment rotation happen along the way.
// Once a chunk covering a segment's rows is catalogued, that segment must be
// deleted; the segment still being appended to must never be.
func TestScenario_FlushSealsChunkAndReclaimsWAL(t *testing.T) {
	const stationID = "KDEN"
	const rowCount = 70_000

	e, dataDir := openEngineWithConfig(t,
		func(c *engine.Config) { c.WalSegmentBytes = 16 << 10 },
		engine.WithMemTableLimits(2_000, 8<<20),
		engine.WithWalFsyncPolicy(wal.FsyncOff),
	)

	for i := 0; i < rowCount; i++ {
		_, err := e.Write(engine.Observation{
			StationID: stationID,
			TsMicros:  int64(i) * 1000,
			Values:    map[string]float64{"temp_c": float64(i % 40)},
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks >= 30
	}, 5*time.Second, 20*time.Millisecond, "every 2000-row generation should seal into its own chunk")

	rows, err := e.Scan(context.Background(), stationID, 0, int64(rowCount)*1000, nil)
	require.NoError(t, err)
	require.Len(t, rows, rowCount)

	require.Eventually(t, func() bool {
		segments := walSegmentFiles(t, dataDir)
		// Only the handful of segments still covering unflushed or
		// in-flight rows (plus the one open for append) should remain;
		// with 70,000 rows and a tiny segment size, leaving every segment
		// in place would mean dozens still on disk.
		return len(segments) > 0 && len(segments) <= 5
	}, 5*time.Second, 20*time.Millisecond, "flushed WAL segments must be reclaimed, not retained forever")
}
