package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
)

// TestScenario_RetentionDropsChunksPastWindow writes an old, already-flushed
// chunk and a fresh one, then runs a single retention sweep and checks that
// only the chunk entirely past the retention window is gone.
func TestScenario_RetentionDropsChunksPastWindow(t *testing.T) {
	e, _ := openEngine(t, engine.WithRetentionDays(7))

	const stationID = "KMIA"
	oldDay := int32(0)
	oldTs := int64(oldDay) * 24 * 60 * 60 * 1_000_000

	_, err := e.Write(engine.Observation{StationID: stationID, TsMicros: oldTs, Values: map[string]float64{"temp_c": 30}})
	require.NoError(t, err)
	e.FlushNow(engine.SeriesKey{StationID: stationID, PartitionDay: oldDay})
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond)

	freshTs := time.Now().UTC().UnixMicro()
	freshDay := freshTs / (24 * 60 * 60 * 1_000_000)
	_, err = e.Write(engine.Observation{StationID: stationID, TsMicros: freshTs, Values: map[string]float64{"temp_c": 31}})
	require.NoError(t, err)
	e.FlushNow(engine.SeriesKey{StationID: stationID, PartitionDay: int32(freshDay)})
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 2
	}, time.Second, 10*time.Millisecond)

	e.RunRetentionOnce()

	rows, err := e.Scan(context.Background(), stationID, 0, freshTs+1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the fresh row should survive the sweep")
	require.InDelta(t, 31, rows[0].Values["temp_c"], 1e-9)
	require.Equal(t, 1, e.Stats().CatalogueChunks)
}
