package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
)

// TestScenario_DuplicateTimestampCollapses writes two observations at the
// same station and timestamp, once while the row is still live in the
// MemTable and once again after it has been flushed into a catalogued
// chunk. Both times, the later write must win and the earlier value must
// never reappear.
func TestScenario_DuplicateTimestampCollapses(t *testing.T) {
	e, _ := openEngine(t)

	const stationID = "KORD"
	const ts = int64(5_000_000)

	_, err := e.Write(engine.Observation{StationID: stationID, TsMicros: ts, Values: map[string]float64{"temp_c": 1}})
	require.NoError(t, err)
	_, err = e.Write(engine.Observation{StationID: stationID, TsMicros: ts, Values: map[string]float64{"temp_c": 2}})
	require.NoError(t, err)

	rows, err := e.Scan(context.Background(), stationID, ts, ts, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 2, rows[0].Values["temp_c"], 1e-9)

	sk := engine.SeriesKey{StationID: stationID, PartitionDay: 0}
	e.FlushNow(sk)
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond)

	_, err = e.Write(engine.Observation{StationID: stationID, TsMicros: ts, Values: map[string]float64{"temp_c": 3}})
	require.NoError(t, err)

	rows, err = e.Scan(context.Background(), stationID, ts, ts, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "the live row must replace the catalogued one at the same timestamp")
	require.InDelta(t, 3, rows[0].Values["temp_c"], 1e-9)
}

// TestScenario_ChunkVsChunkDuplicateCollapses covers the backfill case where
// two separately-flushed chunks both contain a row at the same timestamp:
// an older chunk, then a second generation that includes a late-arriving
// backfill at a timestamp the first chunk already covers. The chunk flushed
// later must win regardless of which one has the lower FirstTs.
func TestScenario_ChunkVsChunkDuplicateCollapses(t *testing.T) {
	e, _ := openEngine(t)

	const stationID = "KPIT"
	const ts = int64(100_000_000)

	_, err := e.Write(engine.Observation{StationID: stationID, TsMicros: ts, Values: map[string]float64{"temp_c": 10}})
	require.NoError(t, err)
	sk := engine.SeriesKey{StationID: stationID, PartitionDay: 0}
	e.FlushNow(sk)
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(5 * time.Millisecond) // guarantee a distinct, later CreatedAt on the second chunk

	_, err = e.Write(engine.Observation{StationID: stationID, TsMicros: ts, Values: map[string]float64{"temp_c": 99}})
	require.NoError(t, err)
	e.FlushNow(sk)
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 2
	}, time.Second, 10*time.Millisecond)

	rows, err := e.Scan(context.Background(), stationID, ts, ts, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 99, rows[0].Values["temp_c"], 1e-9, "the more recently flushed chunk must win on a shared timestamp")
}
